// Package pushfanout implements the Push Fan-Out (C5): replicate one
// commit to every current-epoch TLog and return once N-antiQuorum have
// succeeded, letting the remainder finish in the background (§4.5). The
// per-entry dispatch loop is grounded on storageserver.MultiPut's
// per-key dispatch to the shared log, generalized from a single backing
// log to a quorum across many.
package pushfanout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	logs "github.com/danmuck/smplog"
	"golang.org/x/sync/errgroup"

	"github.com/tagpartitioned/tlogsystem/tlog"
)

// ErrTLogFailed is raised when a current-epoch TLog's commit RPC sees a
// broken promise (§7 "master-tlog-failed").
var ErrTLogFailed = errors.New("pushfanout: master_tlog_failed")

// Fanout drives one push across a fixed current-epoch TLog set.
type Fanout struct {
	logsys     []tlog.Interface
	antiQuorum int

	bgErr chan error
}

func New(tlogs []tlog.Interface, antiQuorum int) *Fanout {
	return &Fanout{logsys: tlogs, antiQuorum: antiQuorum, bgErr: make(chan error, len(tlogs))}
}

// BackgroundErrors surfaces failures from RPCs that finished after Push
// already returned its quorum; the facade (C10) forwards these into
// on_error.
func (f *Fanout) BackgroundErrors() <-chan error { return f.bgErr }

// Location carries one TLog's slice of a commit: only the messages and
// tags routed to it (§4.5).
type Location struct {
	Index    int
	Messages []byte
	Tags     []tlog.Tag
}

// Push dispatches req to every location, returning once N-antiQuorum RPCs
// have succeeded. Remaining in-flight RPCs continue in the background;
// their terminal errors are pushed to BackgroundErrors.
func (f *Fanout) Push(ctx context.Context, prevVersion, version, knownCommitted tlog.Version, locs []Location, debugID string) error {
	n := len(f.logsys)
	need := n - f.antiQuorum
	if need <= 0 {
		return nil
	}

	type result struct {
		err error
	}
	results := make(chan result, len(locs))

	for _, loc := range locs {
		loc := loc
		go func() {
			err := f.commitOne(ctx, loc, prevVersion, version, knownCommitted, debugID)
			results <- result{err: err}
		}()
	}

	successes := 0
	var firstErr error
	remaining := len(locs)
	for successes < need && remaining > 0 {
		r := <-results
		remaining--
		if r.err == nil {
			successes++
			continue
		}
		if errors.Is(r.err, context.Canceled) {
			return r.err
		}
		if firstErr == nil {
			firstErr = r.err
		}
		f.deliverBackground(r.err)
	}

	if successes < need {
		if firstErr == nil {
			firstErr = fmt.Errorf("pushfanout: quorum unreachable")
		}
		return firstErr
	}

	// Drain the rest in the background so their errors still surface.
	go func() {
		for remaining > 0 {
			r := <-results
			remaining--
			if r.err != nil && !errors.Is(r.err, context.Canceled) {
				f.deliverBackground(r.err)
			}
		}
	}()

	return nil
}

func (f *Fanout) deliverBackground(err error) {
	select {
	case f.bgErr <- err:
	default:
		logs.Debugf("pushfanout: background error channel full, dropping: %v", err)
	}
}

func (f *Fanout) commitOne(ctx context.Context, loc Location, prevVersion, version, knownCommitted tlog.Version, debugID string) error {
	err := f.logsys[loc.Index].Commit(ctx, tlog.CommitRequest{
		PrevVersion:           prevVersion,
		Version:                version,
		KnownCommittedVersion: knownCommitted,
		MessagesForMe:         loc.Messages,
		TagsForMe:             loc.Tags,
		DebugID:               debugID,
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, tlog.ErrStopped) {
		// Re-thrown silently per §7: the caller's quorum accounting still
		// sees this as a non-success, but it is not escalated to
		// ErrTLogFailed.
		logs.Debugf("pushfanout: tlog %s stopped during commit", f.logsys[loc.Index].UID())
		return err
	}
	if errors.Is(err, tlog.ErrBrokenPromise) {
		logs.Warnf("pushfanout: tlog %s broken promise, escalating to master_tlog_failed", f.logsys[loc.Index].UID())
		return fmt.Errorf("%w: tlog %s: %v", ErrTLogFailed, f.logsys[loc.Index].UID(), err)
	}
	return err
}

// ConfirmEpochLive broadcasts confirm_running to every TLog and requires
// N-antiQuorum acknowledgements, using the same quorum combinator shape as
// Push (§4.10).
func ConfirmEpochLive(ctx context.Context, tlogs []tlog.Interface, antiQuorum int, debugID string) error {
	need := len(tlogs) - antiQuorum
	if need <= 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	successes := 0
	for _, t := range tlogs {
		t := t
		g.Go(func() error {
			if err := t.ConfirmRunning(gctx, debugID); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				logs.Debugf("pushfanout: confirm_running failed for %s: %v", t.UID(), err)
				return nil
			}
			mu.Lock()
			successes++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if successes < need {
		return fmt.Errorf("pushfanout: confirm_epoch_live quorum not reached (%d/%d)", successes, need)
	}
	return nil
}
