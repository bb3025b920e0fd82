// Package recovery implements Epoch End Recovery (C8): it locks the
// previous epoch's TLogs, continually refines a recoverable end-version
// candidate under the replication policy, and publishes each better
// candidate as a frozen Log System. The task never returns normally; its
// owner cancels it once a new epoch has been recruited (§4.8).
package recovery

import (
	"context"
	"errors"
	"sort"
	"sync"

	logs "github.com/danmuck/smplog"

	"github.com/tagpartitioned/tlogsystem/clockenv"
	"github.com/tagpartitioned/tlogsystem/config"
	"github.com/tagpartitioned/tlogsystem/failuremonitor"
	"github.com/tagpartitioned/tlogsystem/loghandle"
	"github.com/tagpartitioned/tlogsystem/policy"
	"github.com/tagpartitioned/tlogsystem/rejoin"
	"github.com/tagpartitioned/tlogsystem/tlog"
)

// Candidate is a published Log System snapshot: the recoverable state as
// best understood so far. Recovery re-publishes a new Candidate each time
// it finds a better one (§4.8 step 5-6).
type Candidate struct {
	CurrentHandles []*loghandle.Handle // index-aligned with the prior epoch's TLogs
	OldHandles     []*loghandle.Handle
	OldLogData     []config.OldTLogData

	ReplicationFactor int
	AntiQuorum        int
	Policy            policy.Policy
	Localities        []tlog.LocalityData

	EpochEndVersion      tlog.Version
	KnownCommittedVersion tlog.Version
	EpochEndTags         []tlog.Tag
}

// Recovery drives the loop described in §4.8.
type Recovery struct {
	prev   config.DBCoreState
	env    clockenv.Environment
	knobs  clockKnobs
	policy policy.Policy

	currentHandles []*loghandle.Handle
	oldHandles     []*loghandle.Handle
	monitors       []*failuremonitor.Monitor
	tracker        *rejoin.Tracker

	publish func(Candidate)

	mu             sync.Mutex
	lockResults    []lockState
	lastPublished  tlog.Version
	havePublished  bool
}

type clockKnobs struct {
	tlogTimeout            func() int64 // nanoseconds, read lazily to avoid importing time here
	maxReadTxnLifeVersions int64
}

type lockState struct {
	ready  bool
	err    error
	result tlog.LockResult
}

// New constructs a Recovery over prevState; Run must be called to drive it.
// publish is called, possibly many times, with each better candidate
// (§4.8 step 5-6); the caller is responsible for turning that into its own
// observable.
func New(prevState config.DBCoreState, env clockenv.Environment, maxReadTxnLifeVersions int64, publish func(Candidate)) *Recovery {
	r := &Recovery{
		prev:    prevState,
		env:     env,
		policy:  prevState.TLogPolicy,
		publish: publish,
	}
	r.knobs.maxReadTxnLifeVersions = maxReadTxnLifeVersions

	r.currentHandles = make([]*loghandle.Handle, len(prevState.TLogs))
	for i, uid := range prevState.TLogs {
		r.currentHandles[i] = loghandle.New(uid)
	}
	r.lockResults = make([]lockState, len(r.currentHandles))

	for _, old := range prevState.OldTLogData {
		for _, uid := range old.TLogs {
			r.oldHandles = append(r.oldHandles, loghandle.New(uid))
		}
	}

	allHandles := append(append([]*loghandle.Handle(nil), r.currentHandles...), r.oldHandles...)
	r.tracker = rejoin.New(allHandles)
	return r
}

// Handles exposes the prior epoch's current and old handles so a caller can feed rejoin
// announcements addressed to TLogs this recovery already knows about
// without reaching into Recovery's internals.
func (r *Recovery) Handles() (current, old []*loghandle.Handle) {
	return r.currentHandles, r.oldHandles
}

// Run executes the recovery state machine until ctx is cancelled (§4.8).
func (r *Recovery) Run(ctx context.Context, rejoinRequests <-chan rejoin.Request) {
	if len(r.prev.TLogs) == 0 {
		logs.Infof("recovery: cold start, publishing empty log system")
		r.publish(Candidate{
			ReplicationFactor:     1,
			AntiQuorum:            0,
			Policy:                r.policy,
			EpochEndVersion:       0,
			KnownCommittedVersion: 0,
		})
		<-ctx.Done()
		return
	}

	if err := r.checkPreconditions(); err != nil {
		logs.Errorf(err, "recovery: invariant violation on prevState")
		<-ctx.Done()
		return
	}

	for _, h := range r.currentHandles {
		m := failuremonitor.New(h)
		r.monitors = append(r.monitors, m)
		go m.Run(ctx)
	}

	sig := newSignal()
	go r.tracker.Run(ctx, rejoinRequests)
	for _, h := range r.currentHandles {
		go watchHandle(ctx, h, sig)
	}
	for _, m := range r.monitors {
		go watchMonitor(ctx, m, sig)
	}
	for i, h := range r.currentHandles {
		go r.lockTask(ctx, i, h, sig)
	}

	for {
		r.evaluate()
		select {
		case <-ctx.Done():
			return
		case <-sig.Wait():
		}
	}
}

func (r *Recovery) checkPreconditions() error {
	n := len(r.prev.TLogs)
	rf := r.prev.TLogReplicationFactor
	aq := r.prev.TLogWriteAntiQuorum
	if rf < 1 || rf > n {
		return errInvariant("replication_factor out of range")
	}
	if aq < 0 || aq >= n {
		return errInvariant("anti_quorum out of range")
	}
	required := n + 1 - rf + aq
	if required <= 0 {
		return errInvariant("required read count must be > 0")
	}
	return nil
}

func errInvariant(msg string) error {
	return errors.New("recovery: internal_error: " + msg)
}

func (r *Recovery) lockTask(ctx context.Context, idx int, h *loghandle.Handle, sig *signal) {
	for {
		iface := h.Get()
		changed := h.OnChange()
		if iface == nil {
			select {
			case <-ctx.Done():
				return
			case <-changed:
				continue
			}
		}

		result, err := iface.Lock(ctx)

		r.mu.Lock()
		r.lockResults[idx] = lockState{ready: err == nil, err: err, result: result}
		r.mu.Unlock()
		sig.Notify()

		if err != nil && errors.Is(err, context.Canceled) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-changed:
			continue
		}
	}
}

// responsive/unresponsive classification (§4.8 step 1).
func (r *Recovery) partition() (responsiveIdx []int, results []tlog.LockResult, unresponsiveIdx []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, ls := range r.lockResults {
		failed := i < len(r.monitors) && r.monitors[i].Failed()
		if ls.ready && ls.err == nil && !failed {
			responsiveIdx = append(responsiveIdx, i)
			results = append(results, ls.result)
		} else {
			unresponsiveIdx = append(unresponsiveIdx, i)
		}
	}
	return
}

func (r *Recovery) tooManyFailures(responsiveIdx, unresponsiveIdx []int) bool {
	n := len(r.currentHandles)
	aq := r.prev.TLogWriteAntiQuorum
	rf := r.prev.TLogReplicationFactor
	localities := r.prev.TLogLocalities

	if len(responsiveIdx) <= aq {
		return true
	}
	// Fewer live TLogs than the write quorum (replication_factor - anti_quorum)
	// can guarantee: even a full replica set's survivor isn't enough to trust
	// without the peers that would otherwise corroborate it.
	if len(responsiveIdx) < rf-aq {
		return true
	}
	if len(unresponsiveIdx) >= rf && r.policy.Validate(localities, unresponsiveIdx) {
		return true
	}
	if aq > 0 && !r.policy.ValidateAllCombinations(localities, unresponsiveIdx, responsiveIdx, aq, true) {
		return true
	}
	_ = n
	return false
}

func (r *Recovery) evaluate() {
	responsiveIdx, results, unresponsiveIdx := r.partition()

	if r.tooManyFailures(responsiveIdx, unresponsiveIdx) {
		logs.Infof("recovery: too many failures (responsive=%d unresponsive=%d), waiting", len(responsiveIdx), len(unresponsiveIdx))
		return
	}

	type scored struct {
		idx int
		res tlog.LockResult
	}
	scoredResults := make([]scored, len(results))
	for i, res := range results {
		scoredResults[i] = scored{idx: responsiveIdx[i], res: res}
	}
	sort.Slice(scoredResults, func(i, j int) bool { return scoredResults[i].res.End < scoredResults[j].res.End })

	aq := r.prev.TLogWriteAntiQuorum
	rf := r.prev.TLogReplicationFactor
	n := len(r.currentHandles)

	responsiveCount := len(scoredResults)
	newSafeBegin := aq
	if responsiveCount-1 < newSafeBegin {
		newSafeBegin = responsiveCount - 1
	}
	absent := n - responsiveCount
	safeEnd := rf - absent
	if safeEnd < 1 {
		safeEnd = 1
	}
	if safeEnd > responsiveCount {
		safeEnd = responsiveCount
	}

	end := scoredResults[newSafeBegin].res.End
	knownCommitted := end - tlog.Version(r.knobs.maxReadTxnLifeVersions)
	for _, s := range scoredResults {
		if s.res.KnownCommittedVersion > knownCommitted {
			knownCommitted = s.res.KnownCommittedVersion
		}
	}

	r.mu.Lock()
	publishedBefore := r.havePublished
	lastPublished := r.lastPublished
	r.mu.Unlock()

	boundaryEnd := scoredResults[safeEnd-1].res.End
	if publishedBefore && boundaryEnd >= lastPublished {
		logs.Debugf("recovery: candidate unchanged (end=%d last=%d)", boundaryEnd, lastPublished)
		return
	}

	tagSet := make(map[tlog.Tag]struct{})
	for _, s := range scoredResults {
		for _, t := range s.res.TagsSeen {
			tagSet[t] = struct{}{}
		}
	}
	tags := make([]tlog.Tag, 0, len(tagSet))
	for t := range tagSet {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })

	r.mu.Lock()
	r.havePublished = true
	r.lastPublished = end
	r.mu.Unlock()

	logs.Infof("recovery: publishing candidate end=%d known_committed=%d responsive=%d/%d", end, knownCommitted, responsiveCount, n)

	r.publish(Candidate{
		CurrentHandles:        r.currentHandles,
		OldHandles:            r.oldHandles,
		OldLogData:            r.prev.OldTLogData,
		ReplicationFactor:     rf,
		AntiQuorum:            aq,
		Policy:                r.policy,
		Localities:            r.prev.TLogLocalities,
		EpochEndVersion:       end,
		KnownCommittedVersion: knownCommitted,
		EpochEndTags:          tags,
	})
}
