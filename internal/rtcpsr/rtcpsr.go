// Package rtcpsr builds and schedules RTCP Sender Reports for an RTP
// stream, adapted from the teacher's rtcpsenderset package (which wraps
// gortsplib's rtcpsender). Since we don't carry gortsplib, the sender-side
// NTP/RTP mapping and the packet/octet counters are hand-rolled directly
// against github.com/pion/rtcp and github.com/pion/rtp.
package rtcpsr

import (
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// Period is how often a Sender Report is emitted per track (§5).
const Period = 5 * time.Second

// ntpEpochOffset is the number of seconds between the NTP epoch
// (1900-01-01) and the Unix epoch (1970-01-01).
const ntpEpochOffset = 2208988800

// Sender accumulates RTP send statistics for one track and produces RTCP
// Sender Reports on demand.
type Sender struct {
	ssrc      uint32
	clockRate uint32

	mu          sync.Mutex
	packetCount uint32
	octetCount  uint32
	lastRTPTime uint32
	lastArrival time.Time
	haveRTP     bool
}

// NewSender constructs a Sender for the given SSRC and RTP clock rate
// (90000 for H.264 video, 8000 for the PCMU audio track).
func NewSender(ssrc uint32, clockRate uint32) *Sender {
	return &Sender{ssrc: ssrc, clockRate: clockRate}
}

// ProcessPacket records one outgoing RTP packet's size and timestamp so the
// next Report can extrapolate an RTP timestamp for the report's NTP instant.
func (s *Sender) ProcessPacket(pkt *rtp.Packet, sentAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.packetCount++
	s.octetCount += uint32(len(pkt.Payload))
	s.lastRTPTime = pkt.Timestamp
	s.lastArrival = sentAt
	s.haveRTP = true
}

// Report builds a Sender Report for now, or nil if no packets have been
// sent yet (§5).
func (s *Sender) Report(now time.Time) *rtcp.SenderReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.haveRTP {
		return nil
	}

	elapsed := now.Sub(s.lastArrival)
	rtpTime := s.lastRTPTime + uint32(elapsed.Seconds()*float64(s.clockRate))

	return &rtcp.SenderReport{
		SSRC:        s.ssrc,
		NTPTime:     toNTP(now),
		RTPTime:     rtpTime,
		PacketCount: s.packetCount,
		OctetCount:  s.octetCount,
	}
}

func toNTP(t time.Time) uint64 {
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := uint64(float64(t.Nanosecond()) * (1 << 32) / 1e9)
	return secs<<32 | frac
}

// Scheduler drives one process-wide ticker and invokes onTick every Period
// (§5). Integration uses a single Scheduler over every live session instead
// of one per session or per track: the per-track Sender.Report/ProcessPacket
// bookkeeping above already tracks each track independently, so the
// Scheduler only needs to supply the cadence, not per-track fanout.
type Scheduler struct {
	onTick func(now time.Time)

	terminate chan struct{}
	done      chan struct{}
}

// NewScheduler starts a Scheduler that calls onTick every Period.
func NewScheduler(onTick func(now time.Time)) *Scheduler {
	s := &Scheduler{
		onTick:    onTick,
		terminate: make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.run()
	return s
}

// Close stops the scheduler and waits for its goroutine to exit.
func (s *Scheduler) Close() {
	close(s.terminate)
	<-s.done
}

func (s *Scheduler) run() {
	defer close(s.done)

	t := time.NewTicker(Period)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			s.onTick(time.Now())
		case <-s.terminate:
			return
		}
	}
}
