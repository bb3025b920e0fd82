// Package rejoin implements the Rejoin Tracker (C7): it consumes a stream
// of rejoin announcements from TLogs and binds each one into the matching
// Log Handle, so a TLog that restarts mid-recovery is picked back up
// instead of orphaned (§4.7).
package rejoin

import (
	"context"
	"sync"

	logs "github.com/danmuck/smplog"

	"github.com/tagpartitioned/tlogsystem/loghandle"
	"github.com/tagpartitioned/tlogsystem/tlog"
)

// Request is one TLog's rejoin announcement: its current interface and a
// reply slot. The tracker replies true ("you are not part of any known
// epoch, stop") to an unknown UID and to every pending request when it
// exits, and false to a request superseded by a later one for the same UID.
type Request struct {
	Interface tlog.Interface
	Reply     chan<- bool
}

// Tracker binds incoming rejoin requests to the Handle whose UID matches.
type Tracker struct {
	handles map[tlog.UID]*loghandle.Handle

	mu      sync.Mutex
	pending map[tlog.UID]chan<- bool
}

// New indexes handles by UID so Run can look up the matching slot for
// every incoming rejoin in O(1).
func New(handles []*loghandle.Handle) *Tracker {
	byUID := make(map[tlog.UID]*loghandle.Handle, len(handles))
	for _, h := range handles {
		byUID[h.UID()] = h
	}
	return &Tracker{handles: byUID, pending: make(map[tlog.UID]chan<- bool)}
}

// Run processes requests until the channel closes or ctx is done. On exit
// for any reason it replies true to every remembered pending promise, so
// every rejoining TLog eventually receives a decision (§4.7).
func (t *Tracker) Run(ctx context.Context, requests <-chan Request) {
	defer t.drain()
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-requests:
			if !ok {
				return
			}
			t.handle(req)
		}
	}
}

func (t *Tracker) handle(req Request) {
	uid := req.Interface.UID()
	h, ok := t.handles[uid]
	if !ok {
		logs.Debugf("rejoin: %s is not part of any known epoch, telling it to stop", uid)
		req.Reply <- true
		return
	}

	t.mu.Lock()
	if prev, exists := t.pending[uid]; exists {
		prev <- false
	}
	t.pending[uid] = req.Reply
	t.mu.Unlock()

	current := h.Get()
	if current == nil || current != req.Interface {
		logs.Infof("rejoin: binding %s into its handle", uid)
		h.Set(req.Interface)
	}
}

func (t *Tracker) drain() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for uid, reply := range t.pending {
		logs.Debugf("rejoin: tracker exiting, releasing pending reply for %s", uid)
		reply <- true
		delete(t.pending, uid)
	}
}
