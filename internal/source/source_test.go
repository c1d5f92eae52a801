package source

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProbeEncoderPrefersHardware(t *testing.T) {
	for _, ca := range []struct {
		name   string
		output string
		err    error
		want   string
	}{
		{
			"nvenc available",
			" V....D h264_nvenc           NVIDIA NVENC H.264 encoder\n V..... libx264              libx264 H.264\n",
			nil,
			"h264_nvenc",
		},
		{
			"v4l2m2m wins over nvenc",
			" V..... h264_nvenc\n V..... h264_v4l2m2m\n",
			nil,
			"h264_v4l2m2m",
		},
		{
			"software only",
			" V..... libx264              libx264 H.264\n",
			nil,
			"libx264",
		},
		{
			"probe failure falls back",
			"",
			fmt.Errorf("exec: not found"),
			"libx264",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			got := ProbeEncoder("ffmpeg", func(string) (string, error) {
				return ca.output, ca.err
			})
			require.Equal(t, ca.want, got)
		})
	}
}

func TestBuildArgs(t *testing.T) {
	s := &Source{params: Params{
		InputURL:     "rtsp://192.0.2.1/stream",
		VideoEncoder: "libx264",
		VideoBitrate: 2_000_000,
		VideoPreset:  "veryfast",
		GOPSize:      25,
		MinFramerate: 15,
	}}

	args := strings.Join(s.buildArgs(), " ")
	require.Contains(t, args, "-i rtsp://192.0.2.1/stream")
	require.Contains(t, args, "-c:v libx264")
	require.Contains(t, args, "-preset veryfast")
	require.Contains(t, args, "-tune zerolatency")
	require.Contains(t, args, "-g 25")
	require.Contains(t, args, "-r 15")
	require.Contains(t, args, "-b:v 2000000")
	require.Contains(t, args, "-x264-params aud=1:repeat-headers=1")
	require.Contains(t, args, "-bsf:v h264_mp4toannexb")
	require.True(t, strings.HasSuffix(args, "pipe:1"))
}

func TestBuildArgsClampsFramerate(t *testing.T) {
	s := &Source{params: Params{InputURL: "http://cam/snapshot", MinFramerate: 2}}
	args := strings.Join(s.buildArgs(), " ")
	require.Contains(t, args, "-r 10")
}

func TestBuildArgsOmitsBitrateWhenUnset(t *testing.T) {
	s := &Source{params: Params{InputURL: "http://cam/snapshot"}}
	args := strings.Join(s.buildArgs(), " ")
	require.NotContains(t, args, "-b:v")
	require.Contains(t, args, "-preset ultrafast")
	require.Contains(t, args, "-c:v libx264")
}

const arecordOutput = `**** List of CAPTURE Hardware Devices ****
card 0: PCH [HDA Intel PCH], device 0: ALC256 Analog [ALC256 Analog]
  Subdevices: 1/1
  Subdevice #0: subdevice #0
card 1: Camera [USB Camera], device 0: USB Audio [USB Audio]
  Subdevices: 1/1
  Subdevice #0: subdevice #0
`

func TestParseCaptureDevices(t *testing.T) {
	devices := parseCaptureDevices(arecordOutput)
	require.Len(t, devices, 2)
	require.Equal(t, "hw:0,0", devices[0].hw())
	require.Equal(t, "PCH", devices[0].cardID)
	require.Equal(t, "HDA Intel PCH", devices[0].cardName)
	require.Equal(t, "hw:1,0", devices[1].hw())
	require.Equal(t, "Camera", devices[1].cardID)
}

func TestResolveAudioDeviceWithoutArecord(t *testing.T) {
	// arecord missing entirely: an explicit device is trusted verbatim,
	// auto-detect falls back to the hardcoded default. Neither case may
	// ever yield the empty string.
	require.Equal(t, "hw:2,0", ResolveAudioDevice("/nonexistent/arecord", "hw:2,0"))
	require.Equal(t, "plughw:0,0", ResolveAudioDevice("/nonexistent/arecord", ""))
}
