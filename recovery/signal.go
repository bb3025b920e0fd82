package recovery

import (
	"context"
	"sync"

	"github.com/tagpartitioned/tlogsystem/failuremonitor"
	"github.com/tagpartitioned/tlogsystem/loghandle"
)

// signal coalesces many independent "something changed" sources (lock
// replies, handle changes, failure-monitor flips) into the single select
// the recovery loop waits on (§4.8 "Recovery loop": "On every change").
type signal struct {
	mu sync.Mutex
	ch chan struct{}
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

func (s *signal) Wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

func (s *signal) Notify() {
	s.mu.Lock()
	ch := s.ch
	s.ch = make(chan struct{})
	s.mu.Unlock()
	close(ch)
}

func watchHandle(ctx context.Context, h *loghandle.Handle, sig *signal) {
	for {
		changed := h.OnChange()
		select {
		case <-ctx.Done():
			return
		case <-changed:
			sig.Notify()
		}
	}
}

func watchMonitor(ctx context.Context, m *failuremonitor.Monitor, sig *signal) {
	for {
		changed := m.OnChange()
		select {
		case <-ctx.Done():
			return
		case <-changed:
			sig.Notify()
		}
	}
}
