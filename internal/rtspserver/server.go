// Package rtspserver implements the RTSP/1.0 TCP listener and per
// -connection request loop (§4.6 C6): one goroutine per accepted
// connection, parsing one request at a time with internal/rtspwire and
// dispatching it to a method handler.
package rtspserver

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bluenviron/rtspcamd/internal/auth"
	"github.com/bluenviron/rtspcamd/internal/logger"
	"github.com/bluenviron/rtspcamd/internal/registry"
	"github.com/bluenviron/rtspcamd/internal/rtspwire"
	"github.com/bluenviron/rtspcamd/internal/session"
	"github.com/bluenviron/rtspcamd/internal/sessionmgr"
)

// MaxRequestSize is the size of each connection's read buffer (§5 resource
// caps). Request size is not checked against it: a request line, header or
// body larger than this is still read in full.
const MaxRequestSize = 64 * 1024

// Config configures a Server.
type Config struct {
	ListenAddr     string // e.g. "0.0.0.0"
	Port           int    // default 8554
	Auth           auth.Config
	SessionTimeout time.Duration
	Registry       *registry.Registry
	Sessions       *sessionmgr.Manager
	Log            logger.Writer
}

// Server is the RTSP TCP listener.
type Server struct {
	cfg Config

	listener net.Listener

	wg sync.WaitGroup
}

// New allocates a Server. Call Serve to start accepting (§7 Fatal: bind
// failure surfaces to the caller, which is integration.start). Port 0
// selects an ephemeral port; the configuration layer supplies the RTSP
// default of 8554.
func New(cfg Config) (*Server, error) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "0.0.0.0"
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = sessionmgr.DefaultTimeout
	}

	addr := fmt.Sprintf("%s:%d", cfg.ListenAddr, cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rtspserver: listen %s: %w", addr, err)
	}

	return &Server{cfg: cfg, listener: ln}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve runs the accept loop until the listener is closed. It always
// returns a non-nil error (net.ErrClosed on a clean Close).
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.wg.Wait()
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting new connections. In-flight connections are left
// to finish their current request; integration is responsible for
// tearing down sessions (§4.7).
func (s *Server) Close() error {
	return s.listener.Close()
}

// connState tracks per-connection bookkeeping: the sessions this
// connection has SETUP with TCP-interleaved transport (so they can be torn
// down when the connection drops) and the shared serialized writer used
// for every interleaved frame on it.
type connState struct {
	conn        net.Conn
	tcpw        *session.TCPWriter
	localAddr   string
	tcpSessions map[string]*session.Session
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close() //nolint:errcheck

	cs := &connState{
		conn:        conn,
		tcpw:        session.NewTCPWriter(conn),
		localAddr:   localIP(conn),
		tcpSessions: make(map[string]*session.Session),
	}

	br := bufio.NewReaderSize(conn, MaxRequestSize)

	for {
		isFrame, err := rtspwire.PeekIsInterleaved(br)
		if err != nil {
			break
		}
		if isFrame {
			// client-to-server RTCP on the interleaved channel; this
			// server doesn't consume receiver reports, so just drain it.
			if _, err := rtspwire.ReadInterleavedFrame(br); err != nil {
				break
			}
			continue
		}

		req, err := rtspwire.ReadRequest(br)
		if err != nil {
			break
		}

		resp := s.handleRequest(req, cs)

		// serialize the whole response first, then write it through the
		// connection's shared writer, so it can never interleave with a
		// $-framed data packet emitted by a session's dispatch goroutine.
		var out bytes.Buffer
		if err := rtspwire.WriteResponse(&out, resp); err != nil {
			break
		}
		if _, err := cs.tcpw.Write(out.Bytes()); err != nil {
			break
		}
	}

	// read or write failed: the client disconnected, possibly hard
	// (RST/broken pipe). Expected during normal operation, so only log at
	// debug and release whatever interleaved sessions this connection owned.
	s.cfg.Log.Log(logger.Debug, "connection %s closed", conn.RemoteAddr())
	for _, sess := range cs.tcpSessions {
		s.teardownSession(sess)
	}
}

func localIP(conn net.Conn) string {
	if tcp, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	return "0.0.0.0"
}

func remoteIP(conn net.Conn) net.IP {
	if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return tcp.IP
	}
	return nil
}

// teardownSession removes sess from its stream's subscriber set and the
// session manager, and releases its transport.
func (s *Server) teardownSession(sess *session.Session) {
	stream, _ := s.cfg.Registry.Resolve(sess.StreamID())
	sess.Teardown(func() {
		if stream != nil {
			stream.Unsubscribe(sess.ID())
		}
	})
	s.cfg.Sessions.Remove(sess.ID())
}

// dialUDPPair picks a free even/odd local UDP port pair and connects each
// half to the matching client port, per §4.4's "random initial seq/ts,
// allocate RTPChannel" step. A connected socket lets session.Session use
// plain Write instead of re-specifying the destination on every packet.
func dialUDPPair(localIP string, clientIP net.IP, clientLo, clientHi int) (rtpConn, rtcpConn *net.UDPConn, serverLo, serverHi int, err error) {
	for attempt := 0; attempt < 50; attempt++ {
		lo := 20000 + 2*attempt
		hi := lo + 1

		rtpConn, dErr := net.DialUDP("udp", &net.UDPAddr{IP: net.ParseIP(localIP), Port: lo},
			&net.UDPAddr{IP: clientIP, Port: clientLo})
		if dErr != nil {
			continue
		}
		rtcpC, dErr := net.DialUDP("udp", &net.UDPAddr{IP: net.ParseIP(localIP), Port: hi},
			&net.UDPAddr{IP: clientIP, Port: clientHi})
		if dErr != nil {
			rtpConn.Close() //nolint:errcheck
			continue
		}
		return rtpConn, rtcpC, lo, hi, nil
	}
	return nil, nil, 0, 0, fmt.Errorf("rtspserver: could not bind a free UDP port pair")
}
