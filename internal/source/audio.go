package source

import (
	"bufio"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/bluenviron/rtspcamd/internal/logger"
)

// cardLine matches a line of `arecord -l` output such as:
//
//	card 0: PCH [HDA Intel PCH], device 0: ALC256 Analog [ALC256 Analog]
var cardLine = regexp.MustCompile(`^card (\d+): (\S+) \[([^\]]*)\], device (\d+):`)

// alsaDevice is one hardware capture device discovered from `arecord -l`.
type alsaDevice struct {
	cardIndex   string
	cardID      string
	cardName    string
	deviceIndex string
}

func (d alsaDevice) hw() string {
	return fmt.Sprintf("hw:%s,%s", d.cardIndex, d.deviceIndex)
}

// listCaptureDevices runs `arecord -l` and parses the card/device table.
func listCaptureDevices(arecordPath string) ([]alsaDevice, error) {
	out, err := exec.Command(arecordPath, "-l").CombinedOutput()
	if err != nil {
		return nil, err
	}
	return parseCaptureDevices(string(out)), nil
}

func parseCaptureDevices(out string) []alsaDevice {
	var devices []alsaDevice
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		m := cardLine.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		devices = append(devices, alsaDevice{
			cardIndex:   m[1],
			cardID:      m[2],
			cardName:    m[3],
			deviceIndex: m[4],
		})
	}
	return devices
}

// ResolveAudioDevice implements the device selection order of §4.3: an
// explicit configured name matched against the card list, else the first
// hardware capture device found, else a hardcoded fallback. It never
// returns the empty string, since an empty device value must never be
// persisted back to config (§4.3) and callers should not need to special
// -case "auto" themselves.
func ResolveAudioDevice(arecordPath, configured string) string {
	devices, err := listCaptureDevices(arecordPath)
	if err != nil || len(devices) == 0 {
		if configured != "" {
			return configured
		}
		return "plughw:0,0"
	}

	if configured != "" {
		for _, d := range devices {
			if d.cardID == configured || d.cardName == configured || d.hw() == configured {
				return d.hw()
			}
		}
		// configured device not present in the card list; trust the
		// caller's literal ALSA device string rather than silently
		// substituting another card.
		return configured
	}

	return devices[0].hw()
}

// AudioParams configures the optional ALSA capture side-channel for one
// camera (§4.3 audio capture, §6 rtsp_audio_device). The capture is done
// with ffmpeg rather than arecord so its output can be encoded straight to
// mu-law, matching the RTP PCMU payload this server advertises (§9: "the
// original picks PCMU unconditionally").
type AudioParams struct {
	Device     string
	SampleRate int
	FFmpegPath string
	Log        logger.Writer
}

// AudioSource runs the watchdog loop for one camera's ALSA capture,
// restarting ffmpeg with the same exponential backoff as the video Source
// whenever it exits.
type AudioSource struct {
	params     AudioParams
	onChunk    func([]byte)
	restartLog logger.Writer

	stop func()
	done chan struct{}
}

// StartAudio launches the ALSA capture supervisor goroutine, delivering raw
// G.711 mu-law (PCMU) byte chunks to onChunk, one byte per sample, at
// SampleRate (default 8000 Hz, mono). Restart warnings go through the same
// logger.NewLimitedLogger wrapper as the video Source, so a capture device
// stuck in a tight exit/restart cycle doesn't flood the log.
func StartAudio(params AudioParams, onChunk func([]byte)) *AudioSource {
	rate := params.SampleRate
	if rate <= 0 {
		rate = 8000
	}

	a := &AudioSource{
		params:     params,
		onChunk:    onChunk,
		restartLog: logger.NewLimitedLogger(params.Log),
		done:       make(chan struct{}),
	}
	stopCh := make(chan struct{})
	a.stop = func() { close(stopCh) }
	go a.run(stopCh, rate)
	return a
}

// Stop terminates the current ffmpeg process and waits for the supervisor
// to exit.
func (a *AudioSource) Stop() {
	a.stop()
	<-a.done
}

func (a *AudioSource) run(stopCh chan struct{}, rate int) {
	defer close(a.done)

	backoff := initialBackoff
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		err := a.runOnce(stopCh, rate)
		select {
		case <-stopCh:
			return
		default:
		}

		a.restartLog.Log(logger.Warn, "audio source exited (%v), restarting in %s", err, backoff)

		select {
		case <-time.After(backoff):
		case <-stopCh:
			return
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (a *AudioSource) runOnce(stopCh chan struct{}, rate int) error {
	cmd := exec.Command(a.params.FFmpegPath,
		"-f", "alsa", "-i", a.params.Device,
		"-ar", fmt.Sprintf("%d", rate), "-ac", "1",
		"-acodec", "pcm_mulaw", "-f", "mulaw", "pipe:1",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	go func() {
		<-stopCh
		_ = cmd.Process.Kill()
	}()

	buf := make([]byte, 4096)
	for {
		n, readErr := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			a.onChunk(chunk)
		}
		if readErr != nil {
			break
		}
	}

	return cmd.Wait()
}
