// Package loghandle implements the Log Server Handle (C2): a shared,
// observable slot holding an optional TLog interface. The slot is never
// replaced, only its contents updated, so every holder — the facade, the
// failure monitor, the rejoin tracker, the recovery loop's lock tasks —
// shares exactly one underlying cell per TLog (§4.2).
package loghandle

import "github.com/tagpartitioned/tlogsystem/tlog"

// Handle is a shared observable slot. It is created once per TLog per
// epoch and never recycled: a new epoch allocates fresh handles (§4.2).
type Handle struct {
	uid tlog.UID

	mu      chan struct{} // binary semaphore; see lock/unlock below
	current tlog.Interface
	notify  chan struct{}
}

// New creates an empty handle for the given TLog UID. The UID is fixed for
// the handle's lifetime even while its interface is unset or replaced.
func New(uid tlog.UID) *Handle {
	h := &Handle{
		uid:    uid,
		mu:     make(chan struct{}, 1),
		notify: make(chan struct{}),
	}
	h.mu <- struct{}{}
	return h
}

func (h *Handle) lock()   { <-h.mu }
func (h *Handle) unlock() { h.mu <- struct{}{} }

// UID is the stable identifier this handle is bound to.
func (h *Handle) UID() tlog.UID { return h.uid }

// Get returns a snapshot of the handle's current contents; nil means no
// TLog interface is currently installed.
func (h *Handle) Get() tlog.Interface {
	h.lock()
	defer h.unlock()
	return h.current
}

// Set installs value and notifies every on-change waiter, unconditionally
// — even if value equals the previous contents. Callers that only want to
// notify on an actual change (§4.7's "either empty or endpoint changed")
// compare via Get before calling Set.
func (h *Handle) Set(value tlog.Interface) {
	h.lock()
	h.current = value
	ch := h.notify
	h.notify = make(chan struct{})
	h.unlock()
	close(ch)
}

// OnChange returns a channel that is closed the next time Set is called.
// Each call returns a fresh channel bound to the handle's current
// generation; it is finite only once the handle owner stops calling Set
// (§4.2 "finite only on drop").
func (h *Handle) OnChange() <-chan struct{} {
	h.lock()
	defer h.unlock()
	return h.notify
}
