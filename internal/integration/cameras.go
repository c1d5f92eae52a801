package integration

import (
	"fmt"
	"time"

	"github.com/bluenviron/rtspcamd/internal/h264"
	"github.com/bluenviron/rtspcamd/internal/logger"
	"github.com/bluenviron/rtspcamd/internal/registry"
	"github.com/bluenviron/rtspcamd/internal/source"
)

const (
	defaultFFmpegPath  = "ffmpeg"
	defaultArecordPath = "arecord"
)

// startCameras registers every configured camera in the registry and spawns
// its source(s). A camera whose RTSPEnabled is false is skipped entirely
// (§6).
func (p *Integration) startCameras() error {
	encoder := source.ProbeEncoder(defaultFFmpegPath, source.ListEncoders)
	p.Log(logger.Info, "video encoder: %s", encoder)

	for _, camConf := range p.conf.Cameras {
		if !camConf.RTSPEnabled {
			continue
		}

		stream, err := p.registry.Register(camConf.StreamID, camConf.MountPaths(), camConf.RTSPAudioEnabled)
		if err != nil {
			return fmt.Errorf("integration: registering camera %q: %w", camConf.StreamID, err)
		}

		cam := &camera{conf: camConf, stream: stream}

		videoLog := taggedWriter(p.log, fmt.Sprintf("source %s", camConf.StreamID))
		cam.video = source.Start(source.Params{
			StreamID:     camConf.StreamID,
			InputURL:     camConf.InputURL,
			VideoEncoder: encoder,
			VideoBitrate: camConf.RTSPVideoBitrate,
			VideoPreset:  camConf.RTSPVideoPreset,
			GOPSize:      camConf.GOPSize,
			MinFramerate: camConf.MinFramerate,
			FFmpegPath:   defaultFFmpegPath,
			Log:          videoLog,
		}, newVideoChunkHandler(stream, videoLog))

		if camConf.RTSPAudioEnabled {
			device := source.ResolveAudioDevice(defaultArecordPath, camConf.RTSPAudioDevice)
			audioLog := taggedWriter(p.log, fmt.Sprintf("audio %s", camConf.StreamID))
			cam.audio = source.StartAudio(source.AudioParams{
				Device:     device,
				SampleRate: 8000,
				FFmpegPath: defaultFFmpegPath,
				Log:        audioLog,
			}, func(pcmu []byte) {
				stream.FanoutAudio(pcmu)
			})
		}

		p.cameras = append(p.cameras, cam)
		p.Log(logger.Info, "camera %q registered at %v", camConf.StreamID, camConf.MountPaths())
	}

	return nil
}

// newVideoChunkHandler returns the onChunk callback fed to source.Start: it
// re-assembles the ffmpeg stdout byte stream into NAL units with
// h264.SplitAnnexB, groups them into access units with an h264.Assembler,
// updates the stream's parameter cache, and fans each completed access unit
// out to PLAYING sessions (§4.2, §4.3). The Assembler and the accumulation
// buffer are not safe for concurrent use, but source.Source only ever calls
// onChunk from its single reader goroutine, so no locking is needed here.
func newVideoChunkHandler(stream *registry.Stream, log logger.Writer) func([]byte) {
	var assembler h264.Assembler
	var buf []byte

	return func(chunk []byte) {
		buf = append(buf, chunk...)

		for {
			advance, token, err := h264.SplitAnnexB(buf, false)
			if err != nil {
				log.Log(logger.Warn, "annex-b scan: %v", err)
				buf = nil
				return
			}
			if advance == 0 {
				break
			}
			if len(token) > 0 {
				if au := assembler.Feed(token, time.Now()); au != nil {
					stream.Params.Observe(*au)
					stream.Fanout(*au)
				}
			}
			buf = buf[advance:]
		}
	}
}
