package sdp

import (
	"strings"
	"testing"

	psdp "github.com/pion/sdp/v3"
	"github.com/stretchr/testify/require"
)

func TestGenerateRequiresParameterSets(t *testing.T) {
	_, err := Generate(Params{ServerAddress: "192.0.2.1"})
	require.Error(t, err)
}

func TestGenerateVideoOnly(t *testing.T) {
	out, err := Generate(Params{
		ServerAddress: "192.0.2.1",
		SPS:           []byte{0x67, 0x64, 0x00, 0x1f, 0xaa},
		PPS:           []byte{0x68, 0xce, 0x3c, 0x80},
	})
	require.NoError(t, err)

	var sd psdp.SessionDescription
	require.NoError(t, sd.Unmarshal(out))
	require.Len(t, sd.MediaDescriptions, 1)
	require.Equal(t, "video", sd.MediaDescriptions[0].MediaName.Media)
	require.Equal(t, []string{"96"}, sd.MediaDescriptions[0].MediaName.Formats)

	var fmtp string
	for _, a := range sd.MediaDescriptions[0].Attributes {
		if a.Key == "fmtp" {
			fmtp = a.Value
		}
	}
	require.Contains(t, fmtp, "profile-level-id=64001F")
	require.Contains(t, fmtp, "sprop-parameter-sets=")
}

func TestGenerateWithAudio(t *testing.T) {
	out, err := Generate(Params{
		ServerAddress: "192.0.2.1",
		SPS:           []byte{0x67, 0x42, 0x00, 0x1e},
		PPS:           []byte{0x68, 0xce},
		AudioEnabled:  true,
	})
	require.NoError(t, err)

	var sd psdp.SessionDescription
	require.NoError(t, sd.Unmarshal(out))
	require.Len(t, sd.MediaDescriptions, 2)
	require.Equal(t, "audio", sd.MediaDescriptions[1].MediaName.Media)
	require.True(t, strings.Contains(string(out), "PCMU/8000"))
}

func TestProfileLevelIDHex(t *testing.T) {
	sps := []byte{0x67, 0x4d, 0x00, 0x28, 0xaa}
	id, err := profileLevelIDHex(sps)
	require.NoError(t, err)
	require.Equal(t, "4D0028", id)
}
