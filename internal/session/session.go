// Package session implements one client's RTSP session: its state machine
// (§4.4), its RTP/RTCP transport per track, and the access-unit fanout
// sink that turns AccessUnits into RTP packets on the wire.
package session

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/bluenviron/rtspcamd/internal/h264"
	"github.com/bluenviron/rtspcamd/internal/logger"
	"github.com/bluenviron/rtspcamd/internal/ratelog"
	"github.com/bluenviron/rtspcamd/internal/rtcpsr"
	"github.com/bluenviron/rtspcamd/internal/rtpwire"
	"github.com/bluenviron/rtspcamd/internal/rtspwire"
)

// State is one of the three states a Session moves through (§4.4).
type State int

// Session states.
const (
	StateInit State = iota
	StateReady
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateReady:
		return "READY"
	case StatePlaying:
		return "PLAYING"
	default:
		return "UNKNOWN"
	}
}

// mailboxSize is the bounded per-session AU queue depth before whole AUs
// start getting dropped (§4.4, §5 resource caps).
const mailboxSize = 128

// VideoClockRate is the RTP clock rate of the H.264 track (§3).
const VideoClockRate = 90000

// TCPWriter is a connection a TCP-interleaved Session writes $-framed RTP
// and RTCP packets to. It serializes every write to the underlying
// connection under its own mutex (§4.4 step 3); internal/rtspserver gives
// every Session on the same TCP connection a shared instance.
type TCPWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTCPWriter wraps w with the mutex interleaved frames must be
// serialized through.
func NewTCPWriter(w io.Writer) *TCPWriter {
	return &TCPWriter{w: w}
}

// WriteFrame writes one interleaved RTP/RTCP frame.
func (t *TCPWriter) WriteFrame(channel byte, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return rtspwire.WriteInterleavedFrame(t.w, channel, payload)
}

// Write writes raw bytes (an already-serialized RTSP response) under the
// same lock that serializes interleaved frames, so a response can never
// land in the middle of a data frame or vice versa. Callers must pass one
// complete message per call.
func (t *TCPWriter) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.w.Write(p)
}

// Track is one RTPChannel (§3): the transport for one media type of one
// session, plus the packetizer/counters needed to emit its packets.
type Track struct {
	Name        string // "video" or "audio"
	PayloadType uint8
	ClockRate   uint32

	// UDP transport.
	RTPConn  *net.UDPConn
	RTCPConn *net.UDPConn

	// TCP-interleaved transport.
	TCPW      *TCPWriter
	RTPChan   byte
	RTCPChan  byte

	IsTCP bool

	SSRC      uint32
	StartSeq  uint16
	StartTS   uint32

	packetizer *rtpwire.Packetizer
	sender     *rtcpsr.Sender

	firstTS      uint32
	haveFirstPTS bool
	firstPTS     time.Time
	ptsRate      uint32 // clock ticks per second of wall-clock PTS (== ClockRate)
}

func newTrack(name string, payloadType uint8, clockRate uint32) (*Track, error) {
	ssrc, err := randUint32()
	if err != nil {
		return nil, err
	}
	seq, err := randUint16()
	if err != nil {
		return nil, err
	}
	ts, err := randUint32()
	if err != nil {
		return nil, err
	}

	t := &Track{
		Name:        name,
		PayloadType: payloadType,
		ClockRate:   clockRate,
		SSRC:        ssrc,
		StartSeq:    seq,
		StartTS:     ts,
		ptsRate:     clockRate,
	}
	t.packetizer = rtpwire.NewPacketizer(payloadType, ssrc)
	t.packetizer.SetSeq(seq)
	t.sender = rtcpsr.NewSender(ssrc, clockRate)
	return t, nil
}

// rtpTimestampFor computes the RTP timestamp for an access unit arriving
// at pts, per §4.4 step 1: the first AU uses the session's starting
// timestamp; every later one adds elapsed wall-clock time scaled into the
// track's clock rate, using integer arithmetic so there is no drift.
func (t *Track) rtpTimestampFor(pts time.Time) uint32 {
	if !t.haveFirstPTS {
		t.haveFirstPTS = true
		t.firstPTS = pts
		t.firstTS = t.StartTS
		return t.StartTS
	}
	elapsed := pts.Sub(t.firstPTS)
	delta := uint32(elapsed.Nanoseconds() * int64(t.ptsRate) / int64(time.Second))
	return t.firstTS + delta
}

func randUint32() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func randUint16() (uint16, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

// Session is one client's SETUP'd RTSP session (§3).
type Session struct {
	id       string
	streamID string

	mu            sync.Mutex
	state         State
	tracks        map[string]*Track
	clientAddr    net.Addr
	createdAt     time.Time
	lastActivity  time.Time
	timeout       time.Duration
	paramCache    *h264.ParamCache

	mailbox      chan h264.AccessUnit
	audioMailbox chan []byte
	dropped      *ratelog.Counter

	unsubscribe func()

	log logger.Writer

	closeOnce sync.Once
	done      chan struct{}
}

// Params constructs a new Session for a resolved stream.
type Params struct {
	ID         string
	StreamID   string
	Timeout    time.Duration
	ParamCache *h264.ParamCache
	Log        logger.Writer
}

// New allocates a Session in the INIT state.
func New(p Params) *Session {
	s := &Session{
		id:           p.ID,
		streamID:     p.StreamID,
		state:        StateInit,
		tracks:       make(map[string]*Track),
		createdAt:    time.Now(),
		lastActivity: time.Now(),
		timeout:      p.Timeout,
		paramCache:   p.ParamCache,
		mailbox:      make(chan h264.AccessUnit, mailboxSize),
		audioMailbox: make(chan []byte, mailboxSize),
		log:          p.Log,
		done:         make(chan struct{}),
	}
	s.dropped = ratelog.NewCounter(time.Second, func(n uint64) {
		s.log.Log(logger.Debug, "dropped %d queued unit(s) (send queue full)", n)
	})
	go s.dispatch()
	return s
}

// ID implements registry.Subscriber.
func (s *Session) ID() string { return s.id }

// StreamID returns the resolved stream identifier this session is bound
// to, never the literal URL text a client used to reach it (§9).
func (s *Session) StreamID() string { return s.streamID }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Touch refreshes last-activity, e.g. on GET_PARAMETER (§4.6).
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// IdleFor reports how long it's been since the last activity.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// Timeout returns the configured idle timeout.
func (s *Session) Timeout() time.Duration {
	return s.timeout
}

// AddVideoTrack allocates the video RTPChannel on SETUP, promoting INIT to
// READY (§4.4). It is also valid to call while already READY, to add a
// second (audio) track to the same session.
func (s *Session) AddVideoTrack() (*Track, error) {
	return s.addTrack("video", 96, VideoClockRate)
}

// AddAudioTrack allocates the audio RTPChannel (PCMU, §9).
func (s *Session) AddAudioTrack() (*Track, error) {
	return s.addTrack("audio", 0, 8000)
}

func (s *Session) addTrack(name string, payloadType uint8, clockRate uint32) (*Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StatePlaying {
		return nil, fmt.Errorf("session: cannot SETUP while PLAYING")
	}

	t, err := newTrack(name, payloadType, clockRate)
	if err != nil {
		return nil, err
	}
	s.tracks[name] = t
	if s.state == StateInit {
		s.state = StateReady
	}
	return t, nil
}

// Track returns the named track, if SETUP for it has happened.
func (s *Session) Track(name string) (*Track, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tracks[name]
	return t, ok
}

// SetClientAddr records the client's UDP peer address, used for UDP
// transport sends.
func (s *Session) SetClientAddr(addr net.Addr) {
	s.mu.Lock()
	s.clientAddr = addr
	s.mu.Unlock()
}

// PlayResult is what the PLAY handler needs to build its RTP-Info header
// (§4.6).
type PlayResult struct {
	TrackOrder []string
	StartSeq   map[string]uint16
	StartTS    map[string]uint32
}

// Play transitions READY to PLAYING, subscribing to the stream's fanout
// and sending the late-join parameter-set preamble if SPS/PPS are already
// known (§4.2 late-join, §4.4, §4.6).
func (s *Session) Play(subscribe func()) (*PlayResult, error) {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return nil, fmt.Errorf("session: PLAY requires READY, have %s", s.state)
	}
	if len(s.tracks) == 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("session: PLAY requires at least one SETUP track")
	}
	s.state = StatePlaying

	res := &PlayResult{StartSeq: map[string]uint16{}, StartTS: map[string]uint32{}}
	for name, t := range s.tracks {
		res.TrackOrder = append(res.TrackOrder, name)
		res.StartSeq[name] = t.StartSeq
		res.StartTS[name] = t.StartTS
	}
	s.mu.Unlock()

	subscribe()

	s.sendLateJoinPreamble()

	return res, nil
}

// sendLateJoinPreamble implements §4.2's late-join invariant: before any
// VCL NAL reaches this session, it must have already seen SPS and PPS at
// the same or earlier RTP timestamp. If the parameter sets are already
// known when PLAY happens, two single-NAL packets are sent immediately,
// timestamped one tick behind the track's starting timestamp and with the
// marker bit clear.
func (s *Session) sendLateJoinPreamble() {
	video, ok := s.Track("video")
	if !ok {
		return
	}
	sps, pps, ok := s.paramCache.Get()
	if !ok {
		return
	}

	ts := video.StartTS - 1
	for _, nal := range [][]byte{sps, pps} {
		pkts, err := video.packetizer.Packetize([][]byte{nal}, ts)
		if err != nil {
			s.log.Log(logger.Warn, "late-join preamble: %v", err)
			return
		}
		for _, pkt := range pkts {
			// the preamble never ends an access unit.
			pkt.Marker = false
			if err := s.sendRTP(video, pkt); err != nil {
				s.log.Log(logger.Debug, "late-join preamble send: %v", err)
			}
		}
	}
}

// Pause transitions PLAYING back to READY, unsubscribing from fanout but
// preserving counters (§4.4).
func (s *Session) Pause(unsubscribe func()) error {
	s.mu.Lock()
	if s.state != StatePlaying {
		s.mu.Unlock()
		return fmt.Errorf("session: PAUSE requires PLAYING, have %s", s.state)
	}
	s.state = StateReady
	s.mu.Unlock()

	unsubscribe()
	return nil
}

// Teardown moves the session to its terminal state, closes its transport
// sockets, and stops its dispatch goroutine. It is idempotent.
func (s *Session) Teardown(unsubscribe func()) {
	s.closeOnce.Do(func() {
		unsubscribe()
		close(s.done)
		s.dropped.Close()

		s.mu.Lock()
		defer s.mu.Unlock()
		for _, t := range s.tracks {
			if t.RTPConn != nil {
				t.RTPConn.Close() //nolint:errcheck
			}
			if t.RTCPConn != nil {
				t.RTCPConn.Close() //nolint:errcheck
			}
		}
	})
}

// Deliver implements registry.Subscriber: it is called by the stream's
// fanout for every access unit while this session is PLAYING. Delivery is
// best-effort: if the mailbox is full, the whole (oldest) AU is dropped
// rather than blocking the producer (§4.4, §5).
func (s *Session) Deliver(au h264.AccessUnit) {
	select {
	case s.mailbox <- au:
		return
	default:
	}

	// drop the oldest queued AU to make room, never a partial one.
	select {
	case <-s.mailbox:
		s.dropped.Hit()
	default:
	}
	select {
	case s.mailbox <- au:
	default:
		s.dropped.Hit()
	}
}

func (s *Session) dispatch() {
	for {
		select {
		case au := <-s.mailbox:
			s.sendVideoAU(au)
		case pcmu := <-s.audioMailbox:
			s.sendAudioChunks(pcmu)
		case <-s.done:
			return
		}
	}
}

func (s *Session) sendVideoAU(au h264.AccessUnit) {
	video, ok := s.Track("video")
	if !ok {
		return
	}

	au = s.paramCache.InjectPreamble(au)

	ts := video.rtpTimestampFor(au.CapturedAt)
	pkts, err := video.packetizer.Packetize(au.NALs, ts)
	if err != nil {
		s.log.Log(logger.Warn, "packetize: %v", err)
		return
	}
	for _, pkt := range pkts {
		if err := s.sendRTP(video, pkt); err != nil {
			s.log.Log(logger.Debug, "rtp send: %v", err)
			return
		}
	}
}

// audioChunkBytes is one RTP audio payload's worth of PCMU samples: 20ms at
// 8kHz, 1 byte/sample (§9 PCMU).
const audioChunkBytes = 160

// DeliverAudio implements registry.Subscriber's audio half. Like Deliver,
// it only enqueues: the chunk is packetized and written by the dispatch
// goroutine, so one stalled client can never block the capture reader or
// starve its sibling sessions. When the queue is full, the oldest chunk
// is dropped whole. A session with no audio track silently drops the
// chunk.
func (s *Session) DeliverAudio(pcmu []byte) {
	if len(pcmu) == 0 {
		return
	}
	if _, ok := s.Track("audio"); !ok {
		return
	}

	select {
	case s.audioMailbox <- pcmu:
		return
	default:
	}

	select {
	case <-s.audioMailbox:
		s.dropped.Hit()
	default:
	}
	select {
	case s.audioMailbox <- pcmu:
	default:
		s.dropped.Hit()
	}
}

// sendAudioChunks splits raw PCMU bytes into fixed-size RTP payloads and
// sends them on the audio track.
func (s *Session) sendAudioChunks(pcmu []byte) {
	audio, ok := s.Track("audio")
	if !ok {
		return
	}
	chunkBytes := audioChunkBytes

	for len(pcmu) > 0 {
		n := chunkBytes
		if n > len(pcmu) {
			n = len(pcmu)
		}
		chunk := pcmu[:n]
		pcmu = pcmu[n:]

		ts := audio.rtpTimestampFor(time.Now())
		pkts, err := audio.packetizer.Packetize([][]byte{chunk}, ts)
		if err != nil {
			s.log.Log(logger.Warn, "audio packetize: %v", err)
			return
		}
		for _, pkt := range pkts {
			if err := s.sendRTP(audio, pkt); err != nil {
				s.log.Log(logger.Debug, "audio rtp send: %v", err)
				return
			}
		}
	}
}

// sendRTP writes one packet on t's transport. For UDP, t.RTPConn is a
// connected socket (dialed to the client's rtp port at SETUP time), so a
// plain Write suffices; for TCP it is framed and serialized through the
// shared per-connection writer (§4.4 step 3).
func (s *Session) sendRTP(t *Track, pkt *rtp.Packet) error {
	byts, err := pkt.Marshal()
	if err != nil {
		return err
	}

	t.sender.ProcessPacket(pkt, time.Now())

	if t.IsTCP {
		return t.TCPW.WriteFrame(t.RTPChan, byts)
	}

	if t.RTPConn == nil {
		return fmt.Errorf("session: no UDP transport for track %s", t.Name)
	}
	_, err = t.RTPConn.Write(byts)
	return err
}

// SendRTCPReports asks every track's sender for a Sender Report and writes
// whichever ones have outstanding traffic (§4.1, §5 5s period). Intended to
// be invoked by a shared scheduler across all sessions.
func (s *Session) SendRTCPReports(now time.Time) {
	s.mu.Lock()
	tracks := make([]*Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		tracks = append(tracks, t)
	}
	s.mu.Unlock()

	for _, t := range tracks {
		report := t.sender.Report(now)
		if report == nil {
			continue
		}
		s.sendRTCP(t, report)
	}
}

func (s *Session) sendRTCP(t *Track, pkt rtcp.Packet) {
	byts, err := pkt.Marshal()
	if err != nil {
		s.log.Log(logger.Debug, "rtcp marshal: %v", err)
		return
	}

	if t.IsTCP {
		if err := t.TCPW.WriteFrame(t.RTCPChan, byts); err != nil {
			s.log.Log(logger.Debug, "rtcp send: %v", err)
		}
		return
	}

	if t.RTCPConn == nil {
		return
	}
	if _, err := t.RTCPConn.Write(byts); err != nil {
		s.log.Log(logger.Debug, "rtcp send: %v", err)
	}
}
