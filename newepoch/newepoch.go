// Package newepoch implements the New Epoch Builder (C9): recruit a fresh
// TLog set, seed it with the prior epoch's recovery metadata, and install
// the result as the running Log System. Unlike push (C5), initialization
// requires every recruit to answer, not just a quorum: one recruit refusing
// to come up means recovery has to pick a different worker set (§4.9).
package newepoch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logs "github.com/danmuck/smplog"
	"golang.org/x/sync/errgroup"

	"github.com/tagpartitioned/tlogsystem/clockenv"
	"github.com/tagpartitioned/tlogsystem/config"
	"github.com/tagpartitioned/tlogsystem/loghandle"
	"github.com/tagpartitioned/tlogsystem/locality"
	"github.com/tagpartitioned/tlogsystem/policy"
	"github.com/tagpartitioned/tlogsystem/recovery"
	"github.com/tagpartitioned/tlogsystem/tlog"
)

// ErrRecoveryFailed wraps any recruit's initialization failure; §7's
// master_recovery_failed is the normalized form every caller sees
// regardless of which worker, or which reason, actually failed.
var ErrRecoveryFailed = errors.New("newepoch: master_recovery_failed")

// Worker is one candidate recruit: an address plus the fixture-supplied
// locality the locality.Set needs to route tags to it (§4.9 step 3).
type Worker struct {
	UID      tlog.UID
	Locality tlog.LocalityData
	Recruit  Recruiter
}

// Recruiter is the recruitment-time collaborator a worker exposes before it
// has been handed a tlog.Interface: send it the tags it must carry and get
// back a running TLog, or an error if it declines or times out. Production
// wires this to an InitializeTLogRequest RPC; tests use a stub that just
// spins up a tlog/simulated.TLog (§4.9 step 4-5).
type Recruiter interface {
	Initialize(ctx context.Context, recoverTags []tlog.Tag) (tlog.Interface, error)
}

// Result is the freshly built epoch's Log System config, ready to hand to
// the facade (C10) as its new current state.
type Result struct {
	Handles  []*loghandle.Handle
	Locality *locality.Set
	Config   config.DBCoreState
}

// Build recruits workers, seeds old_log_data from cand, and waits for every
// recruit to answer before returning (§4.9). ctx cancellation during the
// recruitment wait is reported as ErrRecoveryFailed, matching how a single
// recruit's RPC failure is normalized.
func Build(ctx context.Context, cand recovery.Candidate, workers []Worker, replicationFactor, antiQuorum int, pol policy.Policy, env clockenv.Environment, rpcTimeout time.Duration) (Result, error) {
	if len(workers) == 0 {
		return Result{}, fmt.Errorf("newepoch: no workers to recruit")
	}
	if replicationFactor < 1 || replicationFactor > len(workers) {
		return Result{}, fmt.Errorf("newepoch: replication_factor %d invalid for %d workers", replicationFactor, len(workers))
	}

	localities := make([]tlog.LocalityData, len(workers))
	for i, w := range workers {
		localities[i] = w.Locality
	}
	loc := locality.New(localities, pol)

	recoverTags := make([][]tlog.Tag, len(workers))
	for _, tag := range cand.EpochEndTags {
		locs, err := loc.PushLocations([]tlog.Tag{tag})
		if err != nil {
			return Result{}, fmt.Errorf("newepoch: routing tag %d for recovery: %w", tag, err)
		}
		for _, idx := range locs {
			recoverTags[idx] = append(recoverTags[idx], tag)
		}
	}

	// A cold-start candidate (§4.8 "cold start") carries no current handles;
	// there is no prior epoch to freeze into old_log_data.
	oldLogData := cand.OldLogData
	if len(cand.CurrentHandles) > 0 {
		oldEntry := config.OldTLogData{
			TLogs:             uidsOf(cand.CurrentHandles),
			TLogLocalities:    cand.Localities,
			ReplicationFactor: cand.ReplicationFactor,
			AntiQuorum:        cand.AntiQuorum,
			Policy:            cand.Policy,
			EpochEnd:          cand.KnownCommittedVersion + 1,
		}
		oldLogData = append([]config.OldTLogData{oldEntry}, cand.OldLogData...)
	}

	interfaces := make([]tlog.Interface, len(workers))
	if err := recruitAll(ctx, workers, recoverTags, env, rpcTimeout, interfaces); err != nil {
		return Result{}, err
	}

	handles := make([]*loghandle.Handle, len(workers))
	uids := make([]tlog.UID, len(workers))
	for i, w := range workers {
		h := loghandle.New(w.UID)
		h.Set(interfaces[i])
		handles[i] = h
		uids[i] = w.UID
	}

	cfg := config.DBCoreState{
		LogSystemType:         config.LogSystemTagPartitioned,
		TLogs:                 uids,
		TLogLocalities:        localities,
		TLogReplicationFactor: replicationFactor,
		TLogWriteAntiQuorum:   antiQuorum,
		TLogPolicy:            pol,
		OldTLogData:           oldLogData,
	}

	return Result{Handles: handles, Locality: loc, Config: cfg}, nil
}

// recruitAll requires every worker to answer (unanimous, not a quorum),
// normalizing any single failure — timeout, RPC error, explicit refusal —
// to ErrRecoveryFailed so the caller always retries the same way (§4.9
// step 4, §7).
func recruitAll(ctx context.Context, workers []Worker, recoverTags [][]tlog.Tag, env clockenv.Environment, rpcTimeout time.Duration, out []tlog.Interface) error {
	start := env.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i, w := range workers {
		i, w := i, w
		g.Go(func() error {
			if env.ShouldInjectRecoveryFault(env.Now().Sub(start)) {
				return fmt.Errorf("%w: recruit %s: injected fault", ErrRecoveryFailed, w.UID)
			}
			rctx, cancel := tlog.WithTimeout(gctx, scaledTimeout(env, rpcTimeout))
			defer cancel()
			iface, err := w.Recruit.Initialize(rctx, recoverTags[i])
			if err != nil {
				logs.Warnf("newepoch: recruit %s failed to initialize: %v", w.UID, err)
				return fmt.Errorf("%w: recruit %s: %v", ErrRecoveryFailed, w.UID, err)
			}
			out[i] = iface
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return err
	}
	return nil
}

func scaledTimeout(env clockenv.Environment, d time.Duration) time.Duration {
	if env == nil || !env.IsSimulated() || env.SpeedUp() <= 0 {
		return d
	}
	return time.Duration(float64(d) / env.SpeedUp())
}

func uidsOf(handles []*loghandle.Handle) []tlog.UID {
	out := make([]tlog.UID, len(handles))
	for i, h := range handles {
		out[i] = h.UID()
	}
	return out
}

// AwaitRecoveryComplete broadcasts recovery_finished to every TLog in
// handles and returns once all have acknowledged, the same unanimous-reply
// shape recruitment itself uses (§4.9 step 8, §4.10 "recovery_complete").
func AwaitRecoveryComplete(ctx context.Context, handles []*loghandle.Handle) error {
	var wg sync.WaitGroup
	errs := make([]error, len(handles))
	for i, h := range handles {
		wg.Add(1)
		go func(i int, h *loghandle.Handle) {
			defer wg.Done()
			iface := h.Get()
			if iface == nil {
				errs[i] = fmt.Errorf("newepoch: handle %s has no interface", h.UID())
				return
			}
			if err := iface.RecoveryFinished(ctx); err != nil {
				errs[i] = fmt.Errorf("newepoch: recovery_finished on %s: %w", h.UID(), err)
			}
		}(i, h)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
