package rtspserver

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/bluenviron/rtspcamd/internal/h264"
	"github.com/bluenviron/rtspcamd/internal/logger"
	"github.com/bluenviron/rtspcamd/internal/rtspwire"
	"github.com/bluenviron/rtspcamd/internal/sdp"
	"github.com/bluenviron/rtspcamd/internal/session"
)

// publicMethods is the value of the OPTIONS response's Public header
// (§4.6).
const publicMethods = "OPTIONS, DESCRIBE, SETUP, PLAY, PAUSE, TEARDOWN, GET_PARAMETER"

func (s *Server) handleRequest(req *rtspwire.Request, cs *connState) *rtspwire.Response {
	cseq := req.Header["CSeq"]

	if req.Method != "OPTIONS" && s.cfg.Auth.Enabled() {
		if !s.cfg.Auth.Verify(req.Header["Authorization"], req.Method, req.URL) {
			return s.authChallenge(cseq)
		}
	}

	var resp *rtspwire.Response
	switch req.Method {
	case "OPTIONS":
		resp = rtspwire.NewResponse(200)
		resp.Header["Public"] = publicMethods

	case "DESCRIBE":
		resp = s.handleDescribe(req, cs)

	case "SETUP":
		resp = s.handleSetup(req, cs)

	case "PLAY":
		resp = s.handlePlay(req, cs)

	case "PAUSE":
		resp = s.handlePause(req)

	case "TEARDOWN":
		resp = s.handleTeardown(req, cs)

	case "GET_PARAMETER":
		resp = s.handleGetParameter(req)

	default:
		resp = rtspwire.NewResponse(501)
	}

	if cseq != "" {
		resp.Header["CSeq"] = cseq
	}
	return resp
}

func (s *Server) authChallenge(cseq string) *rtspwire.Response {
	resp := rtspwire.NewResponse(401)
	challenge, err := s.cfg.Auth.Challenge()
	if err != nil {
		resp = rtspwire.NewResponse(500)
	} else {
		resp.Header["WWW-Authenticate"] = challenge
	}
	if cseq != "" {
		resp.Header["CSeq"] = cseq
	}
	return resp
}

// mountPath extracts the mount path (and, if present, the trackID suffix)
// from a request URL, which may be the stream root ("rtsp://h/cam2") or a
// track suffix ("rtsp://h/cam2/trackID=0") (§4.6 SETUP).
func mountPath(rawURL string) (mount string, trackID int, hasTrack bool) {
	u, err := url.Parse(rawURL)
	path := rawURL
	if err == nil && u.Path != "" {
		path = u.Path
	}
	path = strings.Trim(path, "/")

	if idx := strings.LastIndex(path, "/trackID="); idx >= 0 {
		if n, convErr := strconv.Atoi(path[idx+len("/trackID="):]); convErr == nil {
			return path[:idx], n, true
		}
	}
	return path, 0, false
}

func (s *Server) handleDescribe(req *rtspwire.Request, cs *connState) *rtspwire.Response {
	mount, _, _ := mountPath(req.URL)

	stream, ok := s.cfg.Registry.Resolve(mount)
	if !ok {
		return rtspwire.NewResponse(404)
	}

	sps, pps, ok := stream.Params.Get()
	if !ok {
		// §9 open question, resolved: 503 + Retry-After rather than a
		// DESCRIBE response a client might cache without parameter sets.
		resp := rtspwire.NewResponse(503)
		resp.Header["Retry-After"] = "2"
		return resp
	}

	body, err := sdp.Generate(sdp.Params{
		ServerAddress: cs.localAddr,
		SPS:           sps,
		PPS:           pps,
		AudioEnabled:  stream.AudioEnabled,
	})
	if err != nil {
		resp := rtspwire.NewResponse(503)
		resp.Header["Retry-After"] = "2"
		return resp
	}

	resp := rtspwire.NewResponse(200)
	resp.Header["Content-Type"] = "application/sdp"
	resp.Header["Content-Base"] = req.URL + "/"
	resp.Body = body
	return resp
}

func (s *Server) handleSetup(req *rtspwire.Request, cs *connState) *rtspwire.Response {
	mount, trackID, _ := mountPath(req.URL)

	stream, ok := s.cfg.Registry.Resolve(mount)
	if !ok {
		return rtspwire.NewResponse(404)
	}

	transport, err := rtspwire.ParseTransport(req.Header["Transport"])
	if err != nil {
		return rtspwire.NewResponse(400)
	}
	if !transport.Unicast || (!transport.IsTCP() && !transport.HasClientPort()) {
		return rtspwire.NewResponse(461)
	}

	sess, isNew, err := s.resolveSetupSession(req, stream.StreamID, &stream.Params)
	if err != nil {
		s.cfg.Log.Log(logger.Warn, "setup: %v", err)
		return rtspwire.NewResponse(500)
	}

	trackName := "video"
	if trackID == 1 {
		trackName = "audio"
	}

	var track *session.Track
	var addErr error
	if trackName == "audio" {
		track, addErr = sess.AddAudioTrack()
	} else {
		track, addErr = sess.AddVideoTrack()
	}
	if addErr != nil {
		return rtspwire.NewResponse(455)
	}

	resp := rtspwire.NewResponse(200)

	if transport.IsTCP() {
		lo, hi := transport.InterleavedLo, transport.InterleavedHi
		if !transport.HasInterleaved() {
			lo, hi = 0, 1
		}
		track.IsTCP = true
		track.TCPW = cs.tcpw
		track.RTPChan = byte(lo)
		track.RTCPChan = byte(hi)
		cs.tcpSessions[sess.ID()] = sess

		resp.Header["Transport"] = rtspwire.ServerResponseTCP(lo, hi, fmt.Sprintf("%08X", track.SSRC))
	} else {
		clientIP := remoteIP(cs.conn)
		rtpConn, rtcpConn, serverLo, serverHi, dialErr := dialUDPPair(
			cs.localAddr, clientIP, transport.ClientPortLo, transport.ClientPortHi)
		if dialErr != nil {
			s.cfg.Log.Log(logger.Warn, "setup: %v", dialErr)
			return rtspwire.NewResponse(500)
		}
		track.RTPConn = rtpConn
		track.RTCPConn = rtcpConn
		sess.SetClientAddr(cs.conn.RemoteAddr())

		resp.Header["Transport"] = rtspwire.ServerResponseUDP(
			transport.ClientPortLo, transport.ClientPortHi, serverLo, serverHi,
			fmt.Sprintf("%08X", track.SSRC))
	}

	resp.Header["Session"] = fmt.Sprintf("%s;timeout=%d", sess.ID(), int(sessionTimeoutSeconds(sess)))

	if isNew {
		s.cfg.Log.Log(logger.Info, "session %s created for stream %s", sess.ID(), stream.StreamID)
	}

	return resp
}

func sessionTimeoutSeconds(sess *session.Session) float64 {
	return sess.Timeout().Seconds()
}

// resolveSetupSession finds the Session named by this request's Session
// header, or creates a new one bound to streamID — never to the literal
// mount text the client used to reach it (§9, §8 property 8).
func (s *Server) resolveSetupSession(req *rtspwire.Request, streamID string, params *h264.ParamCache) (*session.Session, bool, error) {
	if id := req.Header["Session"]; id != "" {
		if sess, ok := s.cfg.Sessions.Lookup(id); ok {
			sess.Touch()
			return sess, false, nil
		}
	}

	sess, err := s.cfg.Sessions.Create(streamID, s.cfg.SessionTimeout, func(id string) *session.Session {
		return session.New(session.Params{
			ID:         id,
			StreamID:   streamID,
			Timeout:    s.cfg.SessionTimeout,
			ParamCache: params,
			Log:        s.cfg.Log,
		})
	})
	if err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

func (s *Server) handlePlay(req *rtspwire.Request, cs *connState) *rtspwire.Response {
	id := req.Header["Session"]
	sess, ok := s.cfg.Sessions.Lookup(id)
	if !ok {
		return rtspwire.NewResponse(454)
	}
	sess.Touch()

	stream, ok := s.cfg.Registry.Resolve(sess.StreamID())
	if !ok {
		return rtspwire.NewResponse(404)
	}

	result, err := sess.Play(func() { stream.Subscribe(sess) })
	if err != nil {
		return rtspwire.NewResponse(455)
	}

	resp := rtspwire.NewResponse(200)
	resp.Header["Session"] = id
	resp.Header["Range"] = "npt=0.000-"
	resp.Header["RTP-Info"] = buildRTPInfo(req.URL, result)
	return resp
}

func buildRTPInfo(baseURL string, result *session.PlayResult) string {
	trackIDs := map[string]int{"video": 0, "audio": 1}
	var parts []string
	for _, name := range result.TrackOrder {
		tid := trackIDs[name]
		parts = append(parts, fmt.Sprintf("url=%s/trackID=%d;seq=%d;rtptime=%d",
			baseURL, tid, result.StartSeq[name], result.StartTS[name]))
	}
	return strings.Join(parts, ",")
}

func (s *Server) handlePause(req *rtspwire.Request) *rtspwire.Response {
	id := req.Header["Session"]
	sess, ok := s.cfg.Sessions.Lookup(id)
	if !ok {
		return rtspwire.NewResponse(454)
	}
	sess.Touch()

	stream, _ := s.cfg.Registry.Resolve(sess.StreamID())
	if err := sess.Pause(func() {
		if stream != nil {
			stream.Unsubscribe(sess.ID())
		}
	}); err != nil {
		return rtspwire.NewResponse(455)
	}

	resp := rtspwire.NewResponse(200)
	resp.Header["Session"] = id
	return resp
}

func (s *Server) handleTeardown(req *rtspwire.Request, cs *connState) *rtspwire.Response {
	id := req.Header["Session"]
	sess, ok := s.cfg.Sessions.Lookup(id)
	if !ok {
		return rtspwire.NewResponse(454)
	}

	s.teardownSession(sess)
	delete(cs.tcpSessions, id)

	resp := rtspwire.NewResponse(200)
	resp.Header["Session"] = id
	return resp
}

func (s *Server) handleGetParameter(req *rtspwire.Request) *rtspwire.Response {
	id := req.Header["Session"]
	if id != "" {
		if sess, ok := s.cfg.Sessions.Lookup(id); ok {
			sess.Touch()
		}
	}
	resp := rtspwire.NewResponse(200)
	if id != "" {
		resp.Header["Session"] = id
	}
	return resp
}
