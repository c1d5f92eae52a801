// Package registry holds the process-wide map from mount path to camera
// stream, fanning out every access unit produced by a stream's source to
// whichever sessions are currently PLAYING it (§3 StreamConfig, §4.2, §4.7).
package registry

import (
	"fmt"
	"sync"

	"github.com/bluenviron/rtspcamd/internal/h264"
)

// Subscriber is implemented by a Session: the fanout contract of §4.4 only
// needs to hand each PLAYING session an access unit and let it decide how
// (or whether) to deliver it.
type Subscriber interface {
	ID() string
	Deliver(au h264.AccessUnit)
	DeliverAudio(pcmu []byte)
}

// Stream is one camera's registry entry: its identity, its cached
// parameter sets, and the set of sessions currently subscribed (§3).
type Stream struct {
	// StreamID is the stable identifier; never the literal URL text a
	// client used to reach it (§9 late-bound identifiers).
	StreamID string
	// MountPaths is every URL path that resolves to this stream.
	MountPaths []string

	AudioEnabled bool

	Params h264.ParamCache

	mu          sync.RWMutex
	subscribers map[string]Subscriber
}

// newStream allocates a Stream with its subscriber set initialized.
func newStream(streamID string, mountPaths []string, audioEnabled bool) *Stream {
	return &Stream{
		StreamID:     streamID,
		MountPaths:   append([]string(nil), mountPaths...),
		AudioEnabled: audioEnabled,
		subscribers:  make(map[string]Subscriber),
	}
}

// Subscribe adds sub to the stream's subscriber set (called on PLAY).
func (s *Stream) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[sub.ID()] = sub
}

// Unsubscribe removes a session from the subscriber set (called on PAUSE
// or TEARDOWN).
func (s *Stream) Unsubscribe(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, sessionID)
}

// Fanout delivers au to every current subscriber. The subscriber set is
// copied out under the lock and the lock released before any Deliver call,
// so a slow or blocked session can never hold up the producer or its
// siblings (§5 "never hold that lock across a send").
func (s *Stream) Fanout(au h264.AccessUnit) {
	s.mu.RLock()
	subs := make([]Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.Deliver(au)
	}
}

// FanoutAudio delivers a chunk of raw PCMU samples to every current
// subscriber, under the same copy-then-release-lock discipline as Fanout.
func (s *Stream) FanoutAudio(pcmu []byte) {
	s.mu.RLock()
	subs := make([]Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.DeliverAudio(pcmu)
	}
}

// Registry maps mount paths to Streams (§3, §4.7).
type Registry struct {
	mu       sync.RWMutex
	byStream map[string]*Stream
	byMount  map[string]*Stream
}

// New allocates an empty Registry.
func New() *Registry {
	return &Registry{
		byStream: make(map[string]*Stream),
		byMount:  make(map[string]*Stream),
	}
}

// Register creates a Stream for streamID with the given mount paths
// (stream ID plus aliases). It returns an error if any mount path is
// already claimed by another stream.
func (r *Registry) Register(streamID string, mountPaths []string, audioEnabled bool) (*Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byStream[streamID]; exists {
		return nil, fmt.Errorf("registry: stream %q already registered", streamID)
	}
	for _, mp := range mountPaths {
		if _, taken := r.byMount[mp]; taken {
			return nil, fmt.Errorf("registry: mount path %q already claimed", mp)
		}
	}

	st := newStream(streamID, mountPaths, audioEnabled)
	r.byStream[streamID] = st
	for _, mp := range mountPaths {
		r.byMount[mp] = st
	}
	return st, nil
}

// Unregister removes a stream and every mount path pointing to it, used on
// camera removal or shutdown (§4.7).
func (r *Registry) Unregister(streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.byStream[streamID]
	if !ok {
		return
	}
	delete(r.byStream, streamID)
	for _, mp := range st.MountPaths {
		delete(r.byMount, mp)
	}
}

// Resolve looks up a Stream by the URL path text a client sent (§4.6
// SETUP, §8 property 8). The returned Stream's StreamID is the canonical
// identifier the caller must store, never the mountPath argument.
func (r *Registry) Resolve(mountPath string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.byMount[mountPath]
	return st, ok
}

// Streams returns a snapshot of every registered stream, for shutdown
// sweeps and diagnostics.
func (r *Registry) Streams() []*Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Stream, 0, len(r.byStream))
	for _, st := range r.byStream {
		out = append(out, st)
	}
	return out
}
