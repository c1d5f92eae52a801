// Package sdp generates the session description offered in response to an
// RTSP DESCRIBE request, using github.com/pion/sdp/v3 to assemble the
// message (§6).
package sdp

import (
	"encoding/base64"
	"fmt"

	psdp "github.com/pion/sdp/v3"
)

// VideoPayloadType is the dynamic RTP payload type used for the H.264
// track (§6).
const VideoPayloadType = 96

// AudioPayloadType is the static RTP payload type used for the optional
// audio track. §9's open question on multiple audio encodings is resolved
// the same way the source material resolves it: PCMU unconditionally.
const AudioPayloadType = 0

// AudioClockRate is the RTP clock rate of the PCMU audio track.
const AudioClockRate = 8000

// Params carries what's needed to render the session description for one
// camera mount.
type Params struct {
	// ServerAddress is the address clients should use in the "c=" line,
	// normally the RTSP connection's local address.
	ServerAddress string
	SPS           []byte
	PPS           []byte
	// AudioEnabled adds a second media section advertising the PCMU audio
	// track alongside video (§C, §9).
	AudioEnabled bool
}

// Generate builds the SDP message describing the available tracks. It
// returns an error if SPS/PPS haven't been observed yet; the caller maps
// that into a 503 Service Unavailable with Retry-After (§9, SPEC_FULL.md §C).
func Generate(p Params) ([]byte, error) {
	if len(p.SPS) == 0 || len(p.PPS) == 0 {
		return nil, fmt.Errorf("sdp: parameter sets not yet available")
	}

	profileLevelID, err := profileLevelIDHex(p.SPS)
	if err != nil {
		return nil, err
	}

	spropParameterSets := base64.StdEncoding.EncodeToString(p.SPS) + "," +
		base64.StdEncoding.EncodeToString(p.PPS)

	sd := &psdp.SessionDescription{
		Version: 0,
		Origin: psdp.Origin{
			Username:       "-",
			SessionID:      1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: p.ServerAddress,
		},
		SessionName: "camera stream",
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &psdp.Address{Address: p.ServerAddress},
		},
		TimeDescriptions: []psdp.TimeDescription{
			{Timing: psdp.Timing{StartTime: 0, StopTime: 0}},
		},
		Attributes: []psdp.Attribute{
			{Key: "control", Value: "*"},
		},
	}

	videoMD := &psdp.MediaDescription{
		MediaName: psdp.MediaName{
			Media:   "video",
			Port:    psdp.RangedPort{Value: 0},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{fmt.Sprintf("%d", VideoPayloadType)},
		},
		Attributes: []psdp.Attribute{
			{Key: "control", Value: "trackID=0"},
			{Key: "rtpmap", Value: fmt.Sprintf("%d H264/90000", VideoPayloadType)},
			{Key: "fmtp", Value: fmt.Sprintf(
				"%d packetization-mode=1;profile-level-id=%s;sprop-parameter-sets=%s",
				VideoPayloadType, profileLevelID, spropParameterSets)},
		},
	}
	sd.MediaDescriptions = append(sd.MediaDescriptions, videoMD)

	if p.AudioEnabled {
		audioMD := &psdp.MediaDescription{
			MediaName: psdp.MediaName{
				Media:   "audio",
				Port:    psdp.RangedPort{Value: 0},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{fmt.Sprintf("%d", AudioPayloadType)},
			},
			Attributes: []psdp.Attribute{
				{Key: "control", Value: "trackID=1"},
				{Key: "rtpmap", Value: fmt.Sprintf("%d PCMU/%d", AudioPayloadType, AudioClockRate)},
			},
		}
		sd.MediaDescriptions = append(sd.MediaDescriptions, audioMD)
	}

	return sd.Marshal()
}

// profileLevelIDHex reads the three profile/constraint/level bytes
// following the NAL header of an SPS and renders them as six hex digits
// per RFC 6184 §8.1. These are the first three bytes of the SPS payload
// (profile_idc, constraint flags, level_idc), which by construction can
// never contain a 00 00 03 emulation-prevention sequence, so no unescaping
// is needed here.
func profileLevelIDHex(sps []byte) (string, error) {
	if len(sps) < 4 {
		return "", fmt.Errorf("sdp: SPS too short to read profile-level-id")
	}
	return fmt.Sprintf("%02X%02X%02X", sps[1], sps[2], sps[3]), nil
}
