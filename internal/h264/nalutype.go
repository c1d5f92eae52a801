package h264

import "fmt"

// NALUType is the type carried in the low 5 bits of a NAL header byte.
type NALUType uint8

// NAL unit types referenced by the framing and packetization logic (§2, §4.2).
const (
	NALUTypeNonIDR              NALUType = 1
	NALUTypeIDR                 NALUType = 5
	NALUTypeSEI                 NALUType = 6
	NALUTypeSPS                 NALUType = 7
	NALUTypePPS                 NALUType = 8
	NALUTypeAccessUnitDelimiter NALUType = 9
)

// String implements fmt.Stringer.
func (nt NALUType) String() string {
	switch nt {
	case NALUTypeNonIDR:
		return "NonIDR"
	case NALUTypeIDR:
		return "IDR"
	case NALUTypeSEI:
		return "SEI"
	case NALUTypeSPS:
		return "SPS"
	case NALUTypePPS:
		return "PPS"
	case NALUTypeAccessUnitDelimiter:
		return "AccessUnitDelimiter"
	}
	return fmt.Sprintf("unknown (%d)", uint8(nt))
}

// NALType returns the type of a NAL unit given its first (header) byte.
func NALType(header byte) NALUType {
	return NALUType(header & 0x1F)
}

// IsVCL reports whether t is a coded-slice (VCL) NAL type. Only NonIDR and
// IDR are considered: the other slice-related types (data partitions,
// auxiliary/extension slices) never appear in the baseline/main-profile
// Annex-B stream a zerolatency x264/hardware encoder produces.
func IsVCL(t NALUType) bool {
	return t == NALUTypeNonIDR || t == NALUTypeIDR
}
