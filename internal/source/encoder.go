package source

import (
	"os/exec"
	"strings"
)

// hwEncoders is the probing order for hardware H.264 encoders, falling
// back to libx264 if none are available (§4.3).
var hwEncoders = []string{"h264_v4l2m2m", "h264_nvenc", "h264_qsv", "h264_nvmpi"}

// ProbeEncoder returns the first hardware encoder ffmpeg reports support
// for, or "libx264" if none are usable. Probing is done by asking ffmpeg
// for its list of encoders rather than guessing from installed hardware,
// since that's the only thing that actually determines whether `-c:v
// h264_something` will work.
func ProbeEncoder(ffmpegPath string, listEncoders func(ffmpegPath string) (string, error)) string {
	out, err := listEncoders(ffmpegPath)
	if err != nil {
		return "libx264"
	}
	for _, enc := range hwEncoders {
		if strings.Contains(out, enc) {
			return enc
		}
	}
	return "libx264"
}

// ListEncoders runs `ffmpeg -hide_banner -encoders` and returns its
// combined output for ProbeEncoder to scan.
func ListEncoders(ffmpegPath string) (string, error) {
	out, err := exec.Command(ffmpegPath, "-hide_banner", "-encoders").CombinedOutput()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
