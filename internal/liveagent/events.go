package liveagent

import (
	"sync"

	"github.com/lexiqai/live-concierge/internal/briefing"
	"github.com/lexiqai/live-concierge/internal/transcript"
)

type (
	StatusListener     func(Status)
	TranscriptListener func(transcript.Update)
	NavigationListener func(briefing.Page)
)

// subscribers is a set of callbacks that may change while being notified.
// Notification runs on a snapshot, outside the lock.
type subscribers[T any] struct {
	mu   sync.Mutex
	next uint64
	fns  map[uint64]func(T)
}

func (s *subscribers[T]) add(fn func(T)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fns == nil {
		s.fns = make(map[uint64]func(T))
	}
	id := s.next
	s.next++
	s.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.fns, id)
			s.mu.Unlock()
		})
	}
}

func (s *subscribers[T]) emit(v T) {
	s.mu.Lock()
	snapshot := make([]func(T), 0, len(s.fns))
	for _, fn := range s.fns {
		snapshot = append(snapshot, fn)
	}
	s.mu.Unlock()

	for _, fn := range snapshot {
		fn(v)
	}
}

func (s *subscribers[T]) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fns)
}

func (s *subscribers[T]) clear() {
	s.mu.Lock()
	clear(s.fns)
	s.mu.Unlock()
}

// OnStatus registers a status listener and returns its unsubscribe func
func (a *Agent) OnStatus(fn StatusListener) func() {
	return a.statusSubs.add(fn)
}

// OnTranscript registers a transcript listener and returns its unsubscribe func
func (a *Agent) OnTranscript(fn TranscriptListener) func() {
	return a.transcriptSubs.add(fn)
}

// OnNavigation registers a navigation listener and returns its unsubscribe func
func (a *Agent) OnNavigation(fn NavigationListener) func() {
	return a.navigationSubs.add(fn)
}

// ClearSubscribers drops every registered listener
func (a *Agent) ClearSubscribers() {
	a.statusSubs.clear()
	a.transcriptSubs.clear()
	a.navigationSubs.clear()
}

func (a *Agent) emitStatus(s Status) {
	a.statusSubs.emit(s)
}

func (a *Agent) emitTranscript(u transcript.Update) {
	a.transcriptSubs.emit(u)
}

func (a *Agent) emitNavigation(p briefing.Page) {
	a.navigationSubs.emit(p)
}
