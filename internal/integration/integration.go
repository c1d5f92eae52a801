// Package integration is the startup wiring (C8): it reads a loaded
// conf.Conf, builds the logger, the stream registry, the session manager
// and the RTSP server, spawns one source.Source (plus optional
// source.AudioSource) per configured camera, and threads the resulting
// access units into the registry's fanout. It is the counterpart of the
// teacher's internal/core.Core, scaled down to this server's single
// protocol surface.
package integration

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bluenviron/rtspcamd/internal/auth"
	"github.com/bluenviron/rtspcamd/internal/conf"
	"github.com/bluenviron/rtspcamd/internal/confwatcher"
	"github.com/bluenviron/rtspcamd/internal/logger"
	"github.com/bluenviron/rtspcamd/internal/registry"
	"github.com/bluenviron/rtspcamd/internal/rtcpsr"
	"github.com/bluenviron/rtspcamd/internal/rtspserver"
	"github.com/bluenviron/rtspcamd/internal/session"
	"github.com/bluenviron/rtspcamd/internal/sessionmgr"
	"github.com/bluenviron/rtspcamd/internal/source"
)

// shutdownGrace is the SIGTERM grace period of a camera's ffmpeg
// subprocess (§4.7); shutdown waits shutdownGrace plus 2s for all camera
// sources together to stop before moving on.
const shutdownGrace = 3 * time.Second

// camera is the running state of one configured camera: its ffmpeg-backed
// video source, optional ALSA audio source, and the stream it feeds.
type camera struct {
	conf   conf.Camera
	stream *registry.Stream
	video  *source.Source
	audio  *source.AudioSource
}

// Integration owns every long-lived component and runs the top-level
// signal/reload loop.
type Integration struct {
	confPath string
	conf     *conf.Conf
	log      *logger.Logger

	confWatcher *confwatcher.Watcher

	registry *registry.Registry
	sessions *sessionmgr.Manager
	rtspSrv  *rtspserver.Server

	cameras []*camera

	rtcpScheduler *rtcpsr.Scheduler

	shutdownOnce sync.Once
	done         chan struct{}
}

// New loads confPath, builds every component and starts serving. It
// returns once the RTSP listener is up; shutdown happens via Wait/Close.
func New(confPath string) (*Integration, error) {
	cf, err := conf.Load(confPath)
	if err != nil {
		return nil, err
	}

	destinations, err := cf.LogDestinations.Destinations()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cf.LogLevel.Level(), destinations, cf.LogFile)
	if err != nil {
		return nil, err
	}

	p := &Integration{
		confPath: confPath,
		conf:     cf,
		log:      log,
		registry: registry.New(),
		done:     make(chan struct{}),
	}

	p.Log(logger.Info, "rtspcamd starting, %d camera(s) configured", len(cf.Cameras))

	p.sessions = sessionmgr.New(taggedWriter(log, "sessionmgr"))
	p.sessions.OnExpire = func(sess *session.Session) {
		p.teardownSession(sess)
	}

	if err := p.startCameras(); err != nil {
		p.Close()
		return nil, err
	}

	if cf.RTSPEnabled {
		srv, err := rtspserver.New(rtspserver.Config{
			ListenAddr:     cf.RTSPListen,
			Port:           cf.RTSPPort,
			Auth:           auth.Config{Username: cf.RTSPUsername, Password: cf.RTSPPassword},
			SessionTimeout: time.Duration(cf.SessionTimeout),
			Registry:       p.registry,
			Sessions:       p.sessions,
			Log:            taggedWriter(log, "RTSP"),
		})
		if err != nil {
			p.Close()
			return nil, err
		}
		p.rtspSrv = srv
		p.Log(logger.Info, "RTSP server listening on %s", srv.Addr())

		go func() {
			if err := srv.Serve(); err != nil {
				p.Log(logger.Debug, "rtsp server stopped: %v", err)
			}
		}()
	}

	if cw, err := confwatcher.New(confPath); err == nil {
		p.confWatcher = cw
	} else {
		p.Log(logger.Debug, "configuration watcher not started: %v", err)
	}

	p.rtcpScheduler = rtcpsr.NewScheduler(func(now time.Time) {
		for _, sess := range p.sessions.All() {
			sess.SendRTCPReports(now)
		}
	})
	go p.run()

	return p, nil
}

// Log implements logger.Writer.
func (p *Integration) Log(level logger.Level, format string, args ...interface{}) {
	p.log.Log(level, format, args...)
}

// Wait blocks until the integration has shut down.
func (p *Integration) Wait() {
	<-p.done
}

// Close requests shutdown and waits for it to complete.
func (p *Integration) Close() {
	p.shutdown()
}

func (p *Integration) run() {
	defer close(p.done)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	var confChanged <-chan struct{}
	if p.confWatcher != nil {
		confChanged = p.confWatcher.Changed()
	}

	select {
	case <-sig:
		p.Log(logger.Info, "shutting down gracefully")
	case _, ok := <-confChanged:
		if ok {
			p.Log(logger.Info, "configuration file changed; reload requires a restart in this build")
		}
	}

	p.shutdown()
}

// shutdown tears down every component: the RTCP scheduler, the config
// watcher and the RTSP listener, then every session and the session
// manager, then the camera sources, giving ffmpeg subprocesses
// shutdownGrace to exit cleanly (§4.7), and finally the logger. It is
// idempotent: run()'s epilogue and an explicit Close() may both reach it.
func (p *Integration) shutdown() {
	p.shutdownOnce.Do(p.shutdownOnceBody)
}

func (p *Integration) shutdownOnceBody() {
	if p.rtcpScheduler != nil {
		p.rtcpScheduler.Close()
	}
	if p.confWatcher != nil {
		p.confWatcher.Close()
	}
	if p.rtspSrv != nil {
		p.rtspSrv.Close() //nolint:errcheck
	}
	for _, sess := range p.sessions.All() {
		p.teardownSession(sess)
	}
	p.sessions.Close()

	stopped := make(chan struct{})
	go func() {
		for _, c := range p.cameras {
			if c.audio != nil {
				c.audio.Stop()
			}
			if c.video != nil {
				c.video.Stop()
			}
		}
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownGrace + 2*time.Second):
		p.Log(logger.Warn, "camera sources did not stop within grace period")
	}

	p.log.Close()
}

func (p *Integration) teardownSession(sess *session.Session) {
	stream, _ := p.registry.Resolve(sess.StreamID())
	sess.Teardown(func() {
		if stream != nil {
			stream.Unsubscribe(sess.ID())
		}
	})
	p.sessions.Remove(sess.ID())
}

func taggedWriter(log *logger.Logger, tag string) logger.Writer {
	return &prefixWriter{inner: log, tag: tag}
}

// prefixWriter prepends a bracketed component tag to every log line, the
// same convention the teacher's Server.Log/session.Log use.
type prefixWriter struct {
	inner logger.Writer
	tag   string
}

func (w *prefixWriter) Log(level logger.Level, format string, args ...interface{}) {
	w.inner.Log(level, "[%s] "+format, append([]interface{}{w.tag}, args...)...)
}
