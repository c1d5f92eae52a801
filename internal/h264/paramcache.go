package h264

import (
	"bytes"
	"sync"
)

// ParamCache holds the most recently observed SPS/PPS pair for a stream and
// injects them ahead of every keyframe so that a decoder which joins
// mid-stream can always resync at the next IDR (§4.2, §9).
type ParamCache struct {
	mu      sync.RWMutex
	sps     []byte
	pps     []byte
	invalid bool
}

// Observe scans an access unit for SPS/PPS NALs and, if either differs from
// what's cached, replaces it and marks the cached SDP as invalid.
func (c *ParamCache) Observe(au AccessUnit) {
	var sps, pps []byte

	for _, nal := range au.NALs {
		switch NALType(nal[0]) {
		case NALUTypeSPS:
			sps = nal
		case NALUTypePPS:
			pps = nal
		}
	}

	if sps == nil && pps == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if sps != nil && !bytes.Equal(sps, c.sps) {
		c.sps = append([]byte(nil), sps...)
		c.invalid = true
	}
	if pps != nil && !bytes.Equal(pps, c.pps) {
		c.pps = append([]byte(nil), pps...)
		c.invalid = true
	}
}

// Get returns the cached SPS/PPS. ok is false until both have been observed
// at least once.
func (c *ParamCache) Get() (sps, pps []byte, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sps == nil || c.pps == nil {
		return nil, nil, false
	}
	return c.sps, c.pps, true
}

// TakeInvalid reports whether the parameter sets changed since the last
// call, clearing the flag (the sdp_cache_invalid flag of §3).
func (c *ParamCache) TakeInvalid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.invalid
	c.invalid = false
	return v
}

// InjectPreamble prepends a copy of the cached SPS/PPS to au if au is a
// keyframe and they are not already its first two NALs (§4.2). It returns
// au unmodified if no parameter sets are cached yet, or if au isn't a
// keyframe.
func (c *ParamCache) InjectPreamble(au AccessUnit) AccessUnit {
	if !au.IsIDR {
		return au
	}

	sps, pps, ok := c.Get()
	if !ok {
		return au
	}

	if len(au.NALs) >= 2 &&
		NALType(au.NALs[0][0]) == NALUTypeSPS && bytes.Equal(au.NALs[0], sps) &&
		NALType(au.NALs[1][0]) == NALUTypePPS && bytes.Equal(au.NALs[1], pps) {
		return au
	}

	nals := make([][]byte, 0, len(au.NALs)+2)
	nals = append(nals, append([]byte(nil), sps...), append([]byte(nil), pps...))
	nals = append(nals, au.NALs...)
	au.NALs = nals
	return au
}
