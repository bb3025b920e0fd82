// Package failuremonitor implements the Failure Monitor (C3): a per-log
// task that feeds a boolean observable from the handle's wait_failure
// stream, resubscribing whenever the handle's contents change (§4.3).
package failuremonitor

import (
	"context"
	"sync"

	logs "github.com/danmuck/smplog"

	"github.com/tagpartitioned/tlogsystem/loghandle"
)

// Monitor tracks whether the TLog behind one Handle should be considered
// failed. Failure is sticky per subscription but re-evaluated whenever the
// handle's interface is replaced.
type Monitor struct {
	handle *loghandle.Handle

	mu     sync.Mutex
	failed bool
	notify chan struct{}
}

// New creates a Monitor for handle. Run must be called to drive it; New
// only allocates the observable.
func New(handle *loghandle.Handle) *Monitor {
	return &Monitor{handle: handle, notify: make(chan struct{})}
}

// Failed reports the monitor's current view. True means the TLog is
// considered gone.
func (m *Monitor) Failed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failed
}

// OnChange is closed the next time Failed's value is set (including being
// re-affirmed to the same value after a resubscription), so callers can
// select on it alongside other recovery-loop inputs (§4.8).
func (m *Monitor) OnChange() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notify
}

func (m *Monitor) setFailed(v bool) {
	m.mu.Lock()
	m.failed = v
	ch := m.notify
	m.notify = make(chan struct{})
	m.mu.Unlock()
	close(ch)
}

// Run loops for the monitor's lifetime: if the handle is populated, it
// subscribes to wait_failure; if empty, it marks the TLog failed
// immediately. Any handle change restarts the subscription. Run returns
// only when ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	for {
		iface := m.handle.Get()
		changed := m.handle.OnChange()

		if iface == nil {
			m.setFailed(true)
			select {
			case <-ctx.Done():
				return
			case <-changed:
				continue
			}
		}

		failCh, err := iface.WaitFailure(ctx)
		if err != nil {
			logs.Debugf("failuremonitor %s: wait_failure subscribe error: %v", m.handle.UID(), err)
			m.setFailed(true)
			select {
			case <-ctx.Done():
				return
			case <-changed:
				continue
			}
		}

		m.setFailed(false)
		select {
		case <-ctx.Done():
			return
		case <-changed:
			continue
		case <-failCh:
			logs.Infof("failuremonitor %s: tlog reported failure", m.handle.UID())
			m.setFailed(true)
			select {
			case <-ctx.Done():
				return
			case <-changed:
				continue
			}
		}
	}
}
