// Package simulated provides an in-memory tlog.Interface, the same role
// the teacher's sharedlog/memorylog plays next to the SharedLog interface:
// a hand-rolled fake good enough to drive the rest of the module without a
// real TLog process or network transport (both out of scope per the spec).
package simulated

import (
	"context"
	"sort"
	"sync"

	logs "github.com/danmuck/smplog"

	"github.com/tagpartitioned/tlogsystem/tlog"
)

// TLog is a single in-process, in-memory TLog. It is safe for concurrent
// use by multiple callers, mirroring the concurrency expectations §5 places
// on a real TLog endpoint.
type TLog struct {
	uid tlog.UID

	mu       sync.Mutex
	notify   chan struct{}
	messages map[tlog.Tag][]tlog.Message
	popped   map[tlog.Tag]tlog.Version
	lastVer  tlog.Version
	tagsSeen map[tlog.Tag]struct{}

	failureCh chan struct{}
	stopped   bool
	dead      bool
}

func New(uid tlog.UID) *TLog {
	return &TLog{
		uid:       uid,
		notify:    make(chan struct{}),
		messages:  make(map[tlog.Tag][]tlog.Message),
		popped:    make(map[tlog.Tag]tlog.Version),
		tagsSeen:  make(map[tlog.Tag]struct{}),
		failureCh: make(chan struct{}),
	}
}

var _ tlog.Interface = (*TLog)(nil)

func (t *TLog) UID() tlog.UID { return t.uid }

// wake must be called with t.mu held; it releases every Advance currently
// blocked in the wait loop so it can re-check its predicate.
func (t *TLog) wake() {
	close(t.notify)
	t.notify = make(chan struct{})
}

// Kill simulates a crashed or partitioned TLog: WaitFailure resolves and
// every subsequent RPC fails with tlog.ErrBrokenPromise.
func (t *TLog) Kill() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dead {
		return
	}
	t.dead = true
	close(t.failureCh)
	t.wake()
}

// Stop simulates an orderly shutdown: queued RPCs see tlog.ErrStopped
// instead of ErrBrokenPromise.
func (t *TLog) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.wake()
}

func (t *TLog) checkAlive() error {
	if t.dead {
		return tlog.ErrBrokenPromise
	}
	if t.stopped {
		return tlog.ErrStopped
	}
	return nil
}

func (t *TLog) Commit(ctx context.Context, req tlog.CommitRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkAlive(); err != nil {
		return err
	}
	for _, tag := range req.TagsForMe {
		t.messages[tag] = append(t.messages[tag], tlog.Message{
			Version: req.Version,
			Tag:     tag,
			Data:    req.MessagesForMe,
		})
		t.tagsSeen[tag] = struct{}{}
	}
	if req.Version > t.lastVer {
		t.lastVer = req.Version
	}
	t.wake()
	logs.Debugf("simulated tlog %s committed version=%d tags=%v", t.uid, req.Version, req.TagsForMe)
	return nil
}

func (t *TLog) Pop(ctx context.Context, upTo tlog.Version, tag tlog.Tag) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkAlive(); err != nil {
		return err
	}
	if cur, ok := t.popped[tag]; ok && upTo <= cur {
		return nil
	}
	t.popped[tag] = upTo
	kept := t.messages[tag][:0]
	for _, m := range t.messages[tag] {
		if m.Version >= upTo {
			kept = append(kept, m)
		}
	}
	t.messages[tag] = kept
	return nil
}

func (t *TLog) Lock(ctx context.Context) (tlog.LockResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkAlive(); err != nil {
		return tlog.LockResult{}, err
	}
	tags := make([]tlog.Tag, 0, len(t.tagsSeen))
	for tg := range t.tagsSeen {
		tags = append(tags, tg)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tlog.LockResult{
		End:                   t.lastVer + 1,
		KnownCommittedVersion: t.lastVer,
		TagsSeen:              tags,
	}, nil
}

func (t *TLog) ConfirmRunning(ctx context.Context, debugID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checkAlive()
}

func (t *TLog) RecoveryFinished(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checkAlive()
}

func (t *TLog) WaitFailure(ctx context.Context) (<-chan struct{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkAlive(); err != nil {
		return nil, err
	}
	return t.failureCh, nil
}

func (t *TLog) Peek(ctx context.Context, begin tlog.Version, end tlog.Version, tag tlog.Tag) (tlog.Cursor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkAlive(); err != nil {
		return nil, err
	}
	return &cursor{t: t, tag: tag, next: begin, end: end}, nil
}

// cursor walks a single TLog's buffer for one tag in ascending version
// order, blocking until a message at or past next is committed. Once next
// reaches end it reports ErrExhausted itself rather than waiting on commits
// that will never arrive for a bounded (e.g. frozen-epoch) range.
type cursor struct {
	t    *TLog
	tag  tlog.Tag
	next tlog.Version
	end  tlog.Version
}

func (c *cursor) Advance(ctx context.Context) (tlog.Message, error) {
	for {
		if c.end != tlog.Unbounded && c.next >= c.end {
			return tlog.Message{}, tlog.ErrExhausted
		}

		c.t.mu.Lock()
		if err := c.t.checkAlive(); err != nil {
			c.t.mu.Unlock()
			return tlog.Message{}, err
		}
		if msg, ok := c.findNext(); ok {
			c.t.mu.Unlock()
			if c.end != tlog.Unbounded && msg.Version >= c.end {
				c.next = msg.Version
				return tlog.Message{}, tlog.ErrExhausted
			}
			c.next = msg.Version + 1
			return msg, nil
		}
		wait := c.t.notify
		c.t.mu.Unlock()

		select {
		case <-ctx.Done():
			return tlog.Message{}, ctx.Err()
		case <-wait:
		}
	}
}

func (c *cursor) findNext() (tlog.Message, bool) {
	msgs := c.t.messages[c.tag]
	idx := sort.Search(len(msgs), func(i int) bool { return msgs[i].Version >= c.next })
	if idx >= len(msgs) {
		return tlog.Message{}, false
	}
	return msgs[idx], true
}

func (c *cursor) Close() {}
