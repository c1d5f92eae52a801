package rtspserver

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"

	"github.com/bluenviron/rtspcamd/internal/auth"
	"github.com/bluenviron/rtspcamd/internal/h264"
	"github.com/bluenviron/rtspcamd/internal/logger"
	"github.com/bluenviron/rtspcamd/internal/registry"
	"github.com/bluenviron/rtspcamd/internal/rtspwire"
	"github.com/bluenviron/rtspcamd/internal/sessionmgr"
)

type nilWriter struct{}

func (nilWriter) Log(_ logger.Level, _ string, _ ...interface{}) {}

var (
	testSPS = []byte{0x67, 0x42, 0x00, 0x1F, 0xAA, 0x10}
	testPPS = []byte{0x68, 0xCE, 0x3C, 0x80}
)

func startServer(t *testing.T, authCfg auth.Config) (*Server, *registry.Stream, *sessionmgr.Manager) {
	t.Helper()

	reg := registry.New()
	stream, err := reg.Register("cam2", []string{"cam2", "stream"}, false)
	require.NoError(t, err)

	mgr := sessionmgr.New(nilWriter{})
	t.Cleanup(mgr.Close)

	srv, err := New(Config{
		ListenAddr:     "127.0.0.1",
		Port:           0,
		Auth:           authCfg,
		SessionTimeout: 60 * time.Second,
		Registry:       reg,
		Sessions:       mgr,
		Log:            nilWriter{},
	})
	require.NoError(t, err)
	go srv.Serve() //nolint:errcheck
	t.Cleanup(func() { srv.Close() }) //nolint:errcheck

	return srv, stream, mgr
}

func dialServer(t *testing.T, srv *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() }) //nolint:errcheck
	return conn, bufio.NewReader(conn)
}

func doRequest(t *testing.T, conn net.Conn, br *bufio.Reader, lines ...string) (int, map[string]string, []byte) {
	t.Helper()
	_, err := conn.Write([]byte(strings.Join(lines, "\r\n") + "\r\n\r\n"))
	require.NoError(t, err)
	return readResponse(t, br)
}

func readResponse(t *testing.T, br *bufio.Reader) (int, map[string]string, []byte) {
	t.Helper()

	line, err := br.ReadString('\n')
	require.NoError(t, err)
	parts := strings.SplitN(strings.TrimRight(line, "\r\n"), " ", 3)
	require.Len(t, parts, 3)
	require.Equal(t, "RTSP/1.0", parts[0])
	code, err := strconv.Atoi(parts[1])
	require.NoError(t, err)

	headers := map[string]string{}
	for {
		l, err := br.ReadString('\n')
		require.NoError(t, err)
		l = strings.TrimRight(l, "\r\n")
		if l == "" {
			break
		}
		idx := strings.IndexByte(l, ':')
		require.Greater(t, idx, 0)
		headers[strings.TrimSpace(l[:idx])] = strings.TrimSpace(l[idx+1:])
	}

	var body []byte
	if cl := headers["Content-Length"]; cl != "" {
		n, err := strconv.Atoi(cl)
		require.NoError(t, err)
		body = make([]byte, n)
		_, err = io.ReadFull(br, body)
		require.NoError(t, err)
	}
	return code, headers, body
}

func TestOptions(t *testing.T) {
	srv, _, _ := startServer(t, auth.Config{})
	conn, br := dialServer(t, srv)

	code, headers, _ := doRequest(t, conn, br,
		"OPTIONS * RTSP/1.0",
		"CSeq: 1")
	require.Equal(t, 200, code)
	require.Equal(t, "1", headers["CSeq"])
	require.Equal(t, "OPTIONS, DESCRIBE, SETUP, PLAY, PAUSE, TEARDOWN, GET_PARAMETER", headers["Public"])
}

func TestDescribeUnknownMount(t *testing.T) {
	srv, _, _ := startServer(t, auth.Config{})
	conn, br := dialServer(t, srv)

	code, headers, _ := doRequest(t, conn, br,
		"DESCRIBE rtsp://127.0.0.1:8554/nope RTSP/1.0",
		"CSeq: 2")
	require.Equal(t, 404, code)
	require.Equal(t, "2", headers["CSeq"])
}

func TestDescribeBeforeParameterSets(t *testing.T) {
	srv, _, _ := startServer(t, auth.Config{})
	conn, br := dialServer(t, srv)

	code, headers, _ := doRequest(t, conn, br,
		"DESCRIBE rtsp://127.0.0.1:8554/cam2 RTSP/1.0",
		"CSeq: 2")
	require.Equal(t, 503, code)
	require.Equal(t, "2", headers["Retry-After"])
}

func TestDescribeReturnsSDP(t *testing.T) {
	srv, stream, _ := startServer(t, auth.Config{})
	stream.Params.Observe(h264.AccessUnit{NALs: [][]byte{testSPS, testPPS}})
	conn, br := dialServer(t, srv)

	code, headers, body := doRequest(t, conn, br,
		"DESCRIBE rtsp://127.0.0.1:8554/cam2 RTSP/1.0",
		"CSeq: 2")
	require.Equal(t, 200, code)
	require.Equal(t, "application/sdp", headers["Content-Type"])
	require.Contains(t, string(body), "m=video")
	require.Contains(t, string(body), "H264/90000")
	require.Contains(t, string(body), "sprop-parameter-sets=")
}

func TestSetupUDP(t *testing.T) {
	srv, _, mgr := startServer(t, auth.Config{})
	conn, br := dialServer(t, srv)

	rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer rtpConn.Close() //nolint:errcheck
	rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer rtcpConn.Close() //nolint:errcheck

	clientLo := rtpConn.LocalAddr().(*net.UDPAddr).Port
	clientHi := rtcpConn.LocalAddr().(*net.UDPAddr).Port

	code, headers, _ := doRequest(t, conn, br,
		"SETUP rtsp://127.0.0.1:8554/cam2 RTSP/1.0",
		"CSeq: 3",
		fmt.Sprintf("Transport: RTP/AVP;unicast;client_port=%d-%d", clientLo, clientHi))
	require.Equal(t, 200, code)
	require.Regexp(t, "^[0-9a-f]{16};timeout=60$", headers["Session"])

	transport := headers["Transport"]
	require.Contains(t, transport, fmt.Sprintf("client_port=%d-%d", clientLo, clientHi))
	require.Contains(t, transport, "server_port=")
	require.Contains(t, transport, "ssrc=")

	require.Equal(t, 1, mgr.Count())
}

func TestSetupRejectsUnsupportedTransport(t *testing.T) {
	srv, _, _ := startServer(t, auth.Config{})
	conn, br := dialServer(t, srv)

	code, _, _ := doRequest(t, conn, br,
		"SETUP rtsp://127.0.0.1:8554/cam2 RTSP/1.0",
		"CSeq: 3",
		"Transport: RTP/AVP;multicast")
	require.Equal(t, 461, code)
}

// TestAliasSetupPlayDelivery runs the full UDP flow: SETUP on an alias
// mount must bind the session to the canonical stream ID, and a broadcast
// on that stream must reach the client's RTP socket.
func TestAliasSetupPlayDelivery(t *testing.T) {
	srv, stream, mgr := startServer(t, auth.Config{})
	stream.Params.Observe(h264.AccessUnit{NALs: [][]byte{testSPS, testPPS}})
	conn, br := dialServer(t, srv)

	rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer rtpConn.Close() //nolint:errcheck
	rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer rtcpConn.Close() //nolint:errcheck

	code, headers, _ := doRequest(t, conn, br,
		"SETUP rtsp://127.0.0.1:8554/stream/trackID=0 RTSP/1.0",
		"CSeq: 3",
		fmt.Sprintf("Transport: RTP/AVP;unicast;client_port=%d-%d",
			rtpConn.LocalAddr().(*net.UDPAddr).Port,
			rtcpConn.LocalAddr().(*net.UDPAddr).Port))
	require.Equal(t, 200, code)

	sessionID := strings.Split(headers["Session"], ";")[0]
	sess, ok := mgr.Lookup(sessionID)
	require.True(t, ok)
	require.Equal(t, "cam2", sess.StreamID(), "session must hold the resolved stream ID, not the alias")

	code, headers, _ = doRequest(t, conn, br,
		"PLAY rtsp://127.0.0.1:8554/stream RTSP/1.0",
		"CSeq: 4",
		"Session: "+sessionID)
	require.Equal(t, 200, code)
	require.Equal(t, "npt=0.000-", headers["Range"])

	rtpInfo := headers["RTP-Info"]
	require.Contains(t, rtpInfo, "trackID=0")
	wantSeq := extractParam(t, rtpInfo, "seq")
	wantRTPTime := extractParam(t, rtpInfo, "rtptime")

	// the late-join preamble was sent at PLAY: its first packet carries the
	// advertised starting sequence number, one tick behind rtptime.
	require.NoError(t, rtpConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 2048)
	n, _, err := rtpConn.ReadFromUDP(buf)
	require.NoError(t, err)

	var pkt rtp.Packet
	require.NoError(t, pkt.Unmarshal(buf[:n]))
	require.EqualValues(t, wantSeq, pkt.SequenceNumber)
	require.EqualValues(t, uint32(wantRTPTime)-1, pkt.Timestamp)
	require.Equal(t, testSPS, pkt.Payload)

	// broadcasting an access unit on the canonical stream must reach the
	// session SETUP through the alias.
	idr := []byte{0x65, 0x88, 0x84, 0x00}
	stream.Fanout(h264.AccessUnit{NALs: [][]byte{idr}, IsIDR: true, CapturedAt: time.Now()})

	sawMarker := false
	for !sawMarker {
		require.NoError(t, rtpConn.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, _, err := rtpConn.ReadFromUDP(buf)
		require.NoError(t, err)
		require.NoError(t, pkt.Unmarshal(buf[:n]))
		if pkt.Marker {
			sawMarker = true
			require.EqualValues(t, uint32(wantRTPTime), pkt.Timestamp)
			require.Equal(t, idr, pkt.Payload)
		}
	}
}

func extractParam(t *testing.T, rtpInfo, key string) uint64 {
	t.Helper()
	for _, part := range strings.Split(rtpInfo, ";") {
		if strings.HasPrefix(part, key+"=") {
			v, err := strconv.ParseUint(strings.TrimPrefix(part, key+"="), 10, 64)
			require.NoError(t, err)
			return v
		}
	}
	t.Fatalf("RTP-Info %q missing %s", rtpInfo, key)
	return 0
}

func TestTCPInterleavedDelivery(t *testing.T) {
	srv, stream, _ := startServer(t, auth.Config{})
	stream.Params.Observe(h264.AccessUnit{NALs: [][]byte{testSPS, testPPS}})
	conn, br := dialServer(t, srv)

	code, headers, _ := doRequest(t, conn, br,
		"SETUP rtsp://127.0.0.1:8554/cam2/trackID=0 RTSP/1.0",
		"CSeq: 2",
		"Transport: RTP/AVP/TCP;unicast;interleaved=0-1")
	require.Equal(t, 200, code)
	require.Contains(t, headers["Transport"], "RTP/AVP/TCP")
	require.Contains(t, headers["Transport"], "interleaved=0-1")

	sessionID := strings.Split(headers["Session"], ";")[0]

	// the late-join preamble is written before the PLAY response on the
	// same connection, so skim interleaved frames until the status line.
	_, err := conn.Write([]byte("PLAY rtsp://127.0.0.1:8554/cam2 RTSP/1.0\r\nCSeq: 3\r\nSession: " + sessionID + "\r\n\r\n"))
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	preamble := 0
	for {
		isFrame, err := rtspwire.PeekIsInterleaved(br)
		require.NoError(t, err)
		if !isFrame {
			break
		}
		frame, err := rtspwire.ReadInterleavedFrame(br)
		require.NoError(t, err)
		if frame.Channel == 0 {
			preamble++
		}
	}
	require.Equal(t, 2, preamble, "SPS and PPS preamble packets expected before the PLAY response")

	code, _, _ = readResponse(t, br)
	require.Equal(t, 200, code)

	idr := []byte{0x65, 0x88, 0x84, 0x00}
	stream.Fanout(h264.AccessUnit{NALs: [][]byte{idr}, IsIDR: true, CapturedAt: time.Now()})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var pkt rtp.Packet
	sawMarker := false
	for !sawMarker {
		frame, err := rtspwire.ReadInterleavedFrame(br)
		require.NoError(t, err)
		if frame.Channel != 0 {
			continue
		}
		require.NoError(t, pkt.Unmarshal(frame.Payload))
		if pkt.Marker {
			sawMarker = true
			require.Equal(t, idr, pkt.Payload)
		}
	}
}

func TestTeardownEndsSession(t *testing.T) {
	srv, _, mgr := startServer(t, auth.Config{})
	conn, br := dialServer(t, srv)

	code, headers, _ := doRequest(t, conn, br,
		"SETUP rtsp://127.0.0.1:8554/cam2 RTSP/1.0",
		"CSeq: 2",
		"Transport: RTP/AVP/TCP;unicast;interleaved=0-1")
	require.Equal(t, 200, code)
	sessionID := strings.Split(headers["Session"], ";")[0]

	code, _, _ = doRequest(t, conn, br,
		"TEARDOWN rtsp://127.0.0.1:8554/cam2 RTSP/1.0",
		"CSeq: 3",
		"Session: "+sessionID)
	require.Equal(t, 200, code)
	require.Equal(t, 0, mgr.Count())

	code, _, _ = doRequest(t, conn, br,
		"PLAY rtsp://127.0.0.1:8554/cam2 RTSP/1.0",
		"CSeq: 4",
		"Session: "+sessionID)
	require.Equal(t, 454, code)
}

func TestGetParameterKeepAlive(t *testing.T) {
	srv, _, _ := startServer(t, auth.Config{})
	conn, br := dialServer(t, srv)

	code, headers, _ := doRequest(t, conn, br,
		"SETUP rtsp://127.0.0.1:8554/cam2 RTSP/1.0",
		"CSeq: 2",
		"Transport: RTP/AVP/TCP;unicast;interleaved=0-1")
	require.Equal(t, 200, code)
	sessionID := strings.Split(headers["Session"], ";")[0]

	code, headers, _ = doRequest(t, conn, br,
		"GET_PARAMETER rtsp://127.0.0.1:8554/cam2 RTSP/1.0",
		"CSeq: 3",
		"Session: "+sessionID)
	require.Equal(t, 200, code)
	require.Equal(t, sessionID, headers["Session"])
}

func TestUnknownMethodNotImplemented(t *testing.T) {
	srv, _, _ := startServer(t, auth.Config{})
	conn, br := dialServer(t, srv)

	code, _, _ := doRequest(t, conn, br,
		"RECORD rtsp://127.0.0.1:8554/cam2 RTSP/1.0",
		"CSeq: 9")
	require.Equal(t, 501, code)
}

func TestBasicAuth(t *testing.T) {
	srv, _, _ := startServer(t, auth.Config{Username: "admin", Password: "secret"})
	conn, br := dialServer(t, srv)

	// OPTIONS is exempt from authentication.
	code, _, _ := doRequest(t, conn, br,
		"OPTIONS * RTSP/1.0",
		"CSeq: 1")
	require.Equal(t, 200, code)

	code, headers, _ := doRequest(t, conn, br,
		"DESCRIBE rtsp://127.0.0.1:8554/cam2 RTSP/1.0",
		"CSeq: 2")
	require.Equal(t, 401, code)
	require.Contains(t, headers["WWW-Authenticate"], "Basic")

	creds := base64.StdEncoding.EncodeToString([]byte("admin:secret"))
	code, _, _ = doRequest(t, conn, br,
		"DESCRIBE rtsp://127.0.0.1:8554/cam2 RTSP/1.0",
		"CSeq: 3",
		"Authorization: Basic "+creds)
	// credentials accepted; 503 because no parameter sets are cached yet.
	require.Equal(t, 503, code)
}
