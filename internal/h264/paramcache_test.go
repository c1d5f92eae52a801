package h264

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParamCacheObserveAndGet(t *testing.T) {
	var c ParamCache

	_, _, ok := c.Get()
	require.False(t, ok)

	c.Observe(AccessUnit{NALs: [][]byte{{0x67, 0x01}, {0x68, 0x02}, {0x65, 0x03}}})

	sps, pps, ok := c.Get()
	require.True(t, ok)
	require.Equal(t, []byte{0x67, 0x01}, sps)
	require.Equal(t, []byte{0x68, 0x02}, pps)
	require.True(t, c.TakeInvalid())
	require.False(t, c.TakeInvalid())
}

func TestParamCacheInjectPreamble(t *testing.T) {
	var c ParamCache
	c.Observe(AccessUnit{NALs: [][]byte{{0x67, 0x01}, {0x68, 0x02}}})

	au := AccessUnit{IsIDR: true, NALs: [][]byte{{0x65, 0x09}}}
	out := c.InjectPreamble(au)

	require.Len(t, out.NALs, 3)
	require.Equal(t, NALUTypeSPS, NALType(out.NALs[0][0]))
	require.Equal(t, NALUTypePPS, NALType(out.NALs[1][0]))
	require.Equal(t, []byte{0x65, 0x09}, out.NALs[2])
}

func TestParamCacheInjectPreambleSkipsIfAlreadyPresent(t *testing.T) {
	var c ParamCache
	c.Observe(AccessUnit{NALs: [][]byte{{0x67, 0x01}, {0x68, 0x02}}})

	au := AccessUnit{IsIDR: true, NALs: [][]byte{{0x67, 0x01}, {0x68, 0x02}, {0x65, 0x09}}}
	out := c.InjectPreamble(au)

	require.Len(t, out.NALs, 3)
}

func TestParamCacheInjectPreambleNoopWithoutParams(t *testing.T) {
	var c ParamCache
	au := AccessUnit{IsIDR: true, NALs: [][]byte{{0x65, 0x09}}}
	out := c.InjectPreamble(au)
	require.Len(t, out.NALs, 1)
}

func TestParamCacheInjectPreambleNoopOnNonIDR(t *testing.T) {
	var c ParamCache
	c.Observe(AccessUnit{NALs: [][]byte{{0x67, 0x01}, {0x68, 0x02}}})
	au := AccessUnit{IsIDR: false, NALs: [][]byte{{0x61, 0x09}}}
	out := c.InjectPreamble(au)
	require.Len(t, out.NALs, 1)
}
