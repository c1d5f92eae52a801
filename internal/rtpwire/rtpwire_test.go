package rtpwire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestPacketizeSmallNALSinglePacket covers a NAL under the MTU: it must be
// carried verbatim in a single packet with the marker bit set (§4.1).
func TestPacketizeSmallNALSinglePacket(t *testing.T) {
	p := NewPacketizer(96, 0x1234)
	nal := []byte{0x67, 0x01, 0x02, 0x03}

	pkts, err := p.Packetize([][]byte{nal}, 1000)
	require.NoError(t, err)
	require.Len(t, pkts, 1)
	require.True(t, pkts[0].Marker)
	require.Equal(t, nal, pkts[0].Payload)
	require.Equal(t, uint32(1000), pkts[0].Timestamp)
	require.EqualValues(t, 96, pkts[0].PayloadType)
}

// TestPacketizeFUA5000ByteNAL mirrors the spec's scenario E6: a 5000-byte
// NAL with header 0x65 and MTU_payload=1400 must split into 4 FU-A packets
// with FU indicator 0x7C and FU headers 0x85/0x05/0x05/0x45.
func TestPacketizeFUA5000ByteNAL(t *testing.T) {
	nal := make([]byte, 5000)
	nal[0] = 0x65
	for i := 1; i < len(nal); i++ {
		nal[i] = byte(i)
	}

	p := NewPacketizer(96, 1)
	p.MTUPayload = 1400

	pkts, err := p.Packetize([][]byte{nal}, 5000)
	require.NoError(t, err)
	require.Len(t, pkts, 4)

	wantHeaders := []byte{0x85, 0x05, 0x05, 0x45}
	for i, pkt := range pkts {
		require.Equal(t, byte(0x7C), pkt.Payload[0], "packet %d FU indicator", i)
		require.Equal(t, wantHeaders[i], pkt.Payload[1], "packet %d FU header", i)
		require.LessOrEqual(t, len(pkt.Payload), 1400)
	}
	require.True(t, pkts[3].Marker)
	require.False(t, pkts[0].Marker)
	require.False(t, pkts[1].Marker)
	require.False(t, pkts[2].Marker)

	for i, pkt := range pkts {
		require.Equal(t, uint16(i), pkt.SequenceNumber)
	}
}

// TestPacketizeDepacketizeRoundTrip verifies a multi-NAL access unit survives
// packetize -> depacketize, including FU-A fragmentation (§8 property 3).
func TestPacketizeDepacketizeRoundTrip(t *testing.T) {
	sps := []byte{0x67, 0x01, 0x02}
	pps := []byte{0x68, 0x03}
	idr := make([]byte, 3000)
	idr[0] = 0x65
	for i := 1; i < len(idr); i++ {
		idr[i] = byte(i * 7)
	}

	p := NewPacketizer(96, 42)
	pkts, err := p.Packetize([][]byte{sps, pps, idr}, 42)
	require.NoError(t, err)

	var d Depacketizer
	var got [][]byte
	for _, pkt := range pkts {
		nal, err := d.Push(pkt)
		require.NoError(t, err)
		if nal != nil {
			got = append(got, nal)
		}
	}

	require.Len(t, got, 3)
	require.True(t, bytes.Equal(sps, got[0]))
	require.True(t, bytes.Equal(pps, got[1]))
	require.True(t, bytes.Equal(idr, got[2]))
}

// TestPacketizeOnlyLastNALMarked asserts marker bit policy: only the final
// packet of the final NAL in the access unit carries M=1 (§4.1).
func TestPacketizeOnlyLastNALMarked(t *testing.T) {
	p := NewPacketizer(96, 7)
	nals := [][]byte{{0x67, 0x01}, {0x68, 0x02}, {0x65, 0x03}}

	pkts, err := p.Packetize(nals, 9000)
	require.NoError(t, err)
	require.Len(t, pkts, 3)

	for i := 0; i < 2; i++ {
		require.False(t, pkts[i].Marker)
	}
	require.True(t, pkts[2].Marker)
}
