package h264

import "bytes"

var startCode3 = []byte{0x00, 0x00, 0x01}

// findStartCode returns the offset and length (3 or 4) of the first Annex-B
// start code at or after from, or -1 if none is present.
func findStartCode(data []byte, from int) (int, int) {
	i := bytes.Index(data[from:], startCode3)
	if i < 0 {
		return -1, 0
	}
	i += from

	if i > 0 && data[i-1] == 0x00 {
		return i - 1, 4
	}
	return i, 3
}

// SplitAnnexB is a bufio.SplitFunc that tokenizes an Annex-B byte stream
// into individual NAL units with the start code stripped. It is used to
// scan the stdout of the transcoder process (§4.2), which delivers NALs
// as an unbounded stream rather than one complete buffer.
func SplitAnnexB(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start, startLen := findStartCode(data, 0)
	if start < 0 {
		if atEOF && len(data) > 0 {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}

	nalStart := start + startLen

	next, _ := findStartCode(data, nalStart)
	if next < 0 {
		if !atEOF {
			// the next start code (or EOF) might still be in the next read.
			return 0, nil, nil
		}
		if nalStart >= len(data) {
			return len(data), nil, nil
		}
		return len(data), data[nalStart:], nil
	}

	return next, data[nalStart:next], nil
}

// DecodeAnnexB splits a complete Annex-B buffer into NAL units. It is a
// convenience wrapper around SplitAnnexB for callers that already hold the
// whole byte stream in memory (tests, fixtures).
func DecodeAnnexB(byts []byte) ([][]byte, error) {
	var nalus [][]byte
	for {
		advance, token, _ := SplitAnnexB(byts, true)
		if advance == 0 {
			break
		}
		if token != nil {
			nalus = append(nalus, token)
		}
		byts = byts[advance:]
		if len(byts) == 0 {
			break
		}
	}
	return nalus, nil
}

// EncodeAnnexB joins NAL units into an Annex-B byte stream using 4-byte
// start codes.
func EncodeAnnexB(nalus [][]byte) []byte {
	var ret []byte
	for _, nalu := range nalus {
		ret = append(ret, 0x00, 0x00, 0x00, 0x01)
		ret = append(ret, nalu...)
	}
	return ret
}
