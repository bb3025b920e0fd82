// Package popcoalescer implements the Pop Coalescer (C4): it coalesces
// monotonically increasing pop(up_to, tag) requests per (log, tag) into at
// most one outstanding RPC, the way the teacher's mapservice.ApplyCommit
// coalesces concurrent updates to a key under one lock — generalized here
// from "keep the larger commit GSN" into "keep the larger pop target, and
// drive a background task toward it".
package popcoalescer

import (
	"context"
	"errors"
	"sync"
	"time"

	logs "github.com/danmuck/smplog"

	"github.com/tagpartitioned/tlogsystem/clockenv"
	"github.com/tagpartitioned/tlogsystem/tlog"
)

// DefaultInterval is the pop task's poll interval (§4.4 step 1).
const DefaultInterval = time.Second

type key struct {
	log int
	tag tlog.Tag
}

// Coalescer owns the Outstanding Pops map (§3) for one TLog Set. It
// spawns at most one task per (log, tag), and — per this core's reading of
// the §9 open question on pop's broken-promise scope — latches each log
// index as dead the first time any of its pop tasks sees a broken promise,
// so no further pop task is spawned for that log regardless of tag.
type Coalescer struct {
	logs     []tlog.Interface
	env      clockenv.Environment
	interval time.Duration

	mu          sync.Mutex
	outstanding map[key]tlog.Version
	lastSent    map[key]tlog.Version
	deadLog     map[int]bool
	running     map[key]bool
	wg          sync.WaitGroup
}

// New creates a Coalescer over the given current-epoch TLogs, indexed the
// same way the push fan-out and locality set index them.
func New(logs []tlog.Interface, env clockenv.Environment) *Coalescer {
	return &Coalescer{
		logs:        logs,
		env:         env,
		interval:    DefaultInterval,
		outstanding: make(map[key]tlog.Version),
		lastSent:    make(map[key]tlog.Version),
		deadLog:     make(map[int]bool),
		running:     make(map[key]bool),
	}
}

// SetInterval overrides the default poll interval; tests use this to run
// fast.
func (c *Coalescer) SetInterval(d time.Duration) { c.interval = d }

// Pop advances the target for every log's (log, tag) key to max(prev,
// upTo) and spawns a pop task for any key that was previously absent
// (§4.4).
func (c *Coalescer) Pop(ctx context.Context, upTo tlog.Version, tag tlog.Tag) {
	for i := range c.logs {
		c.mu.Lock()
		k := key{log: i, tag: tag}
		prev, existed := c.outstanding[k]
		if !existed || upTo > prev {
			c.outstanding[k] = upTo
		}
		spawn := !existed && !c.deadLog[i]
		if spawn {
			c.running[k] = true
		}
		c.mu.Unlock()

		if spawn {
			c.wg.Add(1)
			go c.runTask(ctx, i, tag)
		}
	}
}

// Wait blocks until every spawned pop task has exited. Used by tests and
// graceful shutdown.
func (c *Coalescer) Wait() { c.wg.Wait() }

func (c *Coalescer) runTask(ctx context.Context, logIdx int, tag tlog.Tag) {
	defer c.wg.Done()
	k := key{log: logIdx, tag: tag}
	for {
		if err := c.env.Sleep(ctx, c.interval); err != nil {
			logs.Debugf("popcoalescer log=%d tag=%d: cancelled", logIdx, tag)
			return
		}

		c.mu.Lock()
		to := c.outstanding[k]
		sent := c.lastSent[k]
		c.mu.Unlock()

		if to <= sent {
			c.mu.Lock()
			delete(c.outstanding, k)
			delete(c.running, k)
			c.mu.Unlock()
			return
		}

		err := c.logs[logIdx].Pop(ctx, to, tag)
		if err == nil {
			c.mu.Lock()
			c.lastSent[k] = to
			c.mu.Unlock()
			continue
		}

		if errors.Is(err, context.Canceled) {
			return
		}
		if errors.Is(err, tlog.ErrBrokenPromise) {
			logs.Infof("popcoalescer log=%d: broken promise on pop, marking log dead", logIdx)
			c.mu.Lock()
			c.deadLog[logIdx] = true
			delete(c.running, k)
			c.mu.Unlock()
			return
		}
		logs.Debugf("popcoalescer log=%d tag=%d: pop rpc error, retrying: %v", logIdx, tag, err)
	}
}
