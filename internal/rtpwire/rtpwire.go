// Package rtpwire packetizes H.264 access units into RTP packets per RFC
// 6184 and unpacks them back into NAL units. Header encode/decode is
// delegated to github.com/pion/rtp; the FU-A fragmentation logic itself has
// no library analog in the examples pack and is written by hand against the
// RFC.
package rtpwire

import (
	"fmt"

	"github.com/pion/rtp"
)

// DefaultMTUPayload is the maximum size of the RTP payload (header excluded)
// a single packet may carry before a NAL must be fragmented (§4.1).
const DefaultMTUPayload = 1400

const (
	fuIndicatorType = 28 // FU-A
	stapAType       = 24
)

// Packetizer turns H.264 NAL units into a sequence of RTP packets carrying
// a single access unit, fragmenting any NAL larger than MTUPayload with
// FU-A (§4.1, §8 property 3).
type Packetizer struct {
	MTUPayload  int
	PayloadType uint8
	SSRC        uint32

	seq uint16
}

// NewPacketizer constructs a Packetizer with the given payload type and
// SSRC, and DefaultMTUPayload.
func NewPacketizer(payloadType uint8, ssrc uint32) *Packetizer {
	return &Packetizer{
		MTUPayload:  DefaultMTUPayload,
		PayloadType: payloadType,
		SSRC:        ssrc,
	}
}

// SetSeq sets the sequence number the next packet will carry, used to seed
// a session's random initial seq (§3 RTPChannel, §4.4 SETUP).
func (p *Packetizer) SetSeq(seq uint16) {
	p.seq = seq
}

// Packetize returns the RTP packets for one access unit. ts is the RTP
// timestamp (90kHz clock) shared by every packet of the access unit; the
// marker bit is set only on the final packet of the final NAL (§4.1).
func (p *Packetizer) Packetize(nals [][]byte, ts uint32) ([]*rtp.Packet, error) {
	mtu := p.MTUPayload
	if mtu <= 0 {
		mtu = DefaultMTUPayload
	}

	var pkts []*rtp.Packet
	for i, nal := range nals {
		if len(nal) == 0 {
			continue
		}
		last := i == len(nals)-1

		if len(nal) <= mtu {
			pkts = append(pkts, p.newPacket(nal, ts, last))
			continue
		}

		frag, err := p.fragment(nal, ts, last, mtu)
		if err != nil {
			return nil, err
		}
		pkts = append(pkts, frag...)
	}
	return pkts, nil
}

func (p *Packetizer) fragment(nal []byte, ts uint32, markLast bool, mtu int) ([]*rtp.Packet, error) {
	if len(nal) < 1 {
		return nil, fmt.Errorf("rtpwire: empty NAL")
	}

	indicator := (nal[0] & 0xE0) | fuIndicatorType
	naluType := nal[0] & 0x1F
	payload := nal[1:]

	var pkts []*rtp.Packet
	for first := true; len(payload) > 0; first = false {
		chunkSize := mtu - 2
		if chunkSize <= 0 {
			return nil, fmt.Errorf("rtpwire: MTU too small for FU-A fragmentation")
		}
		if chunkSize > len(payload) {
			chunkSize = len(payload)
		}
		chunk := payload[:chunkSize]
		payload = payload[chunkSize:]

		fuHeader := naluType
		if first {
			fuHeader |= 0x80
		}
		if len(payload) == 0 {
			fuHeader |= 0x40
		}

		buf := make([]byte, 2+len(chunk))
		buf[0] = indicator
		buf[1] = fuHeader
		copy(buf[2:], chunk)

		marker := markLast && len(payload) == 0
		pkts = append(pkts, p.newPacket(buf, ts, marker))
	}
	return pkts, nil
}

func (p *Packetizer) newPacket(payload []byte, ts uint32, marker bool) *rtp.Packet {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    p.PayloadType,
			SequenceNumber: p.seq,
			Timestamp:      ts,
			SSRC:           p.SSRC,
		},
		Payload: append([]byte(nil), payload...),
	}
	p.seq++
	return pkt
}

// Depacketizer reassembles NAL units from a sequence of RTP packets,
// including FU-A fragments. It returns NAL units only; it does not look at
// the marker bit and does not report access-unit boundaries.
type Depacketizer struct {
	fuBuf    []byte
	fuActive bool
}

// Push feeds one RTP packet into the depacketizer. It returns the decoded
// NAL unit, if the packet completed one (a single-NAL packet, or the final
// fragment of a FU-A sequence).
func (d *Depacketizer) Push(pkt *rtp.Packet) ([]byte, error) {
	if len(pkt.Payload) < 1 {
		return nil, fmt.Errorf("rtpwire: empty RTP payload")
	}

	naluType := pkt.Payload[0] & 0x1F

	switch {
	case naluType == fuIndicatorType:
		return d.pushFU(pkt.Payload)
	case naluType == stapAType:
		return nil, fmt.Errorf("rtpwire: STAP-A aggregation not supported")
	case naluType >= 1 && naluType <= 23:
		return append([]byte(nil), pkt.Payload...), nil
	default:
		return nil, fmt.Errorf("rtpwire: unsupported NAL type %d", naluType)
	}
}

func (d *Depacketizer) pushFU(payload []byte) ([]byte, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("rtpwire: truncated FU-A payload")
	}
	indicator := payload[0]
	fuHeader := payload[1]
	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	naluType := fuHeader & 0x1F

	if start {
		reconstructedHeader := (indicator & 0xE0) | naluType
		d.fuBuf = append([]byte{reconstructedHeader}, payload[2:]...)
		d.fuActive = true
	} else {
		if !d.fuActive {
			return nil, fmt.Errorf("rtpwire: FU-A continuation without start")
		}
		d.fuBuf = append(d.fuBuf, payload[2:]...)
	}

	if end {
		nal := d.fuBuf
		d.fuBuf = nil
		d.fuActive = false
		return nal, nil
	}
	return nil, nil
}
