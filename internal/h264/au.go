package h264

import "time"

// AccessUnit is the set of NAL units that compose a single decoded picture
// plus any associated non-VCL NALs (§3). CapturedAt is the wall-clock
// instant the AU was fully assembled; it substitutes for an embedded PTS,
// since a raw Annex-B pipe carries no timestamp of its own (§4.3) — the
// transcoder only hands us bytes.
type AccessUnit struct {
	NALs       [][]byte
	IsIDR      bool
	CapturedAt time.Time
}

// Assembler groups a stream of individual Annex-B NAL units into access
// units (§4.2). An access unit ends either when an Access Unit Delimiter
// starts a new one, or when a VCL NAL is followed by another VCL NAL or by
// a non-VCL NAL with AU-boundary semantics (AUD, SPS, PPS, SEI).
type Assembler struct {
	pending      [][]byte
	firstArrival time.Time
}

// Feed appends one NAL unit to the assembler. It returns a completed
// AccessUnit if appending nal closed out the one being built.
func (a *Assembler) Feed(nal []byte, arrivedAt time.Time) *AccessUnit {
	if len(nal) == 0 {
		return nil
	}

	t := NALType(nal[0])

	var completed *AccessUnit
	if a.isBoundary(t) {
		au := a.flush()
		completed = &au
	}

	if len(a.pending) == 0 {
		a.firstArrival = arrivedAt
	}
	a.pending = append(a.pending, nal)

	return completed
}

// Flush forces emission of whatever NALs are currently buffered, e.g. when
// the transcoder restarts or stops. It returns nil if nothing is pending.
func (a *Assembler) Flush() *AccessUnit {
	if len(a.pending) == 0 {
		return nil
	}
	au := a.flush()
	return &au
}

func (a *Assembler) isBoundary(t NALUType) bool {
	if len(a.pending) == 0 {
		return false
	}
	if t == NALUTypeAccessUnitDelimiter {
		return true
	}
	if !a.hasVCL() {
		return false
	}
	switch t {
	case NALUTypeSPS, NALUTypePPS, NALUTypeSEI:
		return true
	}
	return IsVCL(t)
}

func (a *Assembler) hasVCL() bool {
	for _, n := range a.pending {
		if IsVCL(NALType(n[0])) {
			return true
		}
	}
	return false
}

func (a *Assembler) flush() AccessUnit {
	au := AccessUnit{
		NALs:       a.pending,
		CapturedAt: a.firstArrival,
	}
	for _, n := range a.pending {
		if NALType(n[0]) == NALUTypeIDR {
			au.IsIDR = true
			break
		}
	}
	a.pending = nil
	return au
}
