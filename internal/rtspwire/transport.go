package rtspwire

import (
	"fmt"
	"strconv"
	"strings"
)

// Transport is a parsed Transport header, covering both the UDP
// (RTP/AVP;unicast;client_port=...) and TCP-interleaved
// (RTP/AVP/TCP;unicast;interleaved=...) forms SETUP may request (§2).
type Transport struct {
	Protocol       string // "RTP/AVP" or "RTP/AVP/TCP"
	Unicast        bool
	ClientPortLo   int
	ClientPortHi   int
	ServerPortLo   int
	ServerPortHi   int
	InterleavedLo  int
	InterleavedHi  int
	SSRC           string
	hasClientPort  bool
	hasServerPort  bool
	hasInterleaved bool
}

// IsTCP reports whether the transport requests TCP-interleaved delivery.
func (t Transport) IsTCP() bool {
	return strings.HasSuffix(t.Protocol, "/TCP")
}

// HasClientPort reports whether client_port was present.
func (t Transport) HasClientPort() bool { return t.hasClientPort }

// HasInterleaved reports whether interleaved was present.
func (t Transport) HasInterleaved() bool { return t.hasInterleaved }

// ParseTransport parses the value of a Transport header. RTSP allows a
// comma-separated list of alternatives; we take the first one, as does
// every other RTSP implementation in practice.
func ParseTransport(value string) (Transport, error) {
	first := strings.Split(value, ",")[0]
	fields := strings.Split(first, ";")
	if len(fields) == 0 {
		return Transport{}, fmt.Errorf("rtspwire: empty Transport header")
	}

	t := Transport{Protocol: fields[0]}

	for _, f := range fields[1:] {
		f = strings.TrimSpace(f)
		switch {
		case f == "unicast":
			t.Unicast = true
		case f == "multicast":
			// not supported; leave Unicast false so caller can reject with 461
		case strings.HasPrefix(f, "client_port="):
			lo, hi, err := parsePortRange(strings.TrimPrefix(f, "client_port="))
			if err != nil {
				return Transport{}, err
			}
			t.ClientPortLo, t.ClientPortHi = lo, hi
			t.hasClientPort = true
		case strings.HasPrefix(f, "server_port="):
			lo, hi, err := parsePortRange(strings.TrimPrefix(f, "server_port="))
			if err != nil {
				return Transport{}, err
			}
			t.ServerPortLo, t.ServerPortHi = lo, hi
			t.hasServerPort = true
		case strings.HasPrefix(f, "interleaved="):
			lo, hi, err := parsePortRange(strings.TrimPrefix(f, "interleaved="))
			if err != nil {
				return Transport{}, err
			}
			t.InterleavedLo, t.InterleavedHi = lo, hi
			t.hasInterleaved = true
		case strings.HasPrefix(f, "ssrc="):
			t.SSRC = strings.TrimPrefix(f, "ssrc=")
		}
	}

	return t, nil
}

func parsePortRange(s string) (int, int, error) {
	parts := strings.SplitN(s, "-", 2)
	lo, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("rtspwire: invalid port range %q: %w", s, err)
	}
	if len(parts) == 1 {
		return lo, lo, nil
	}
	hi, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("rtspwire: invalid port range %q: %w", s, err)
	}
	return lo, hi, nil
}

// ServerResponseUDP renders the Transport header value the server replies
// with for a UDP SETUP, once it has bound its own send ports.
func ServerResponseUDP(clientLo, clientHi, serverLo, serverHi int, ssrc string) string {
	v := fmt.Sprintf("RTP/AVP;unicast;client_port=%d-%d;server_port=%d-%d",
		clientLo, clientHi, serverLo, serverHi)
	if ssrc != "" {
		v += ";ssrc=" + ssrc
	}
	return v
}

// ServerResponseTCP renders the Transport header value the server replies
// with for a TCP-interleaved SETUP.
func ServerResponseTCP(channelLo, channelHi int, ssrc string) string {
	v := fmt.Sprintf("RTP/AVP/TCP;unicast;interleaved=%d-%d", channelLo, channelHi)
	if ssrc != "" {
		v += ";ssrc=" + ssrc
	}
	return v
}
