// Package logsystem implements the Log System Facade (C10): it binds C1-C9
// into the single object the master actually calls push/peek/pop/on_error
// against, and owns the DBCoreState round-trip the master persists (§4.10).
package logsystem

import (
	"context"
	"errors"
	"fmt"
	"sync"

	logs "github.com/danmuck/smplog"

	"github.com/tagpartitioned/tlogsystem/clockenv"
	"github.com/tagpartitioned/tlogsystem/config"
	"github.com/tagpartitioned/tlogsystem/failuremonitor"
	"github.com/tagpartitioned/tlogsystem/loghandle"
	"github.com/tagpartitioned/tlogsystem/locality"
	"github.com/tagpartitioned/tlogsystem/peek"
	"github.com/tagpartitioned/tlogsystem/policy"
	"github.com/tagpartitioned/tlogsystem/popcoalescer"
	"github.com/tagpartitioned/tlogsystem/pushfanout"
	"github.com/tagpartitioned/tlogsystem/tlog"
)

// ErrTLogFailed mirrors pushfanout.ErrTLogFailed at the facade boundary so
// on_error's "single present current-TLog's failure client fires" case and
// background RPC failures surface through the same sentinel (§4.10, §7).
var ErrTLogFailed = pushfanout.ErrTLogFailed

// epoch is one TLog Set bound into the facade: its handles and the metadata
// peek/push/pop need. interfaces() reads each handle's contents at call
// time; the push fan-out and pop coalescer receive that snapshot once, when
// the facade is constructed.
type epoch struct {
	handles           []*loghandle.Handle
	replicationFactor int
	antiQuorum        int
	policy            policy.Policy
	localities        []tlog.LocalityData
	epochEnd          tlog.Version // zero means current/unbounded
	uidToAddr         map[tlog.UID]tlog.NetworkAddress
}

func (e epoch) interfaces() []tlog.Interface {
	out := make([]tlog.Interface, len(e.handles))
	for i, h := range e.handles {
		out[i] = h.Get()
	}
	return out
}

// Facade is one Log System instance: either a fresh, pushable epoch (built
// by newepoch.Build and installed via NewCurrent) or a frozen, peek-only
// reconstruction (built via FromConfig/FromOldConfig) (§3 "Lifecycle").
type Facade struct {
	env clockenv.Environment

	mu      sync.Mutex
	current epoch
	old     []epoch // most recent first

	loc    *locality.Set
	fanout *pushfanout.Fanout
	pop    *popcoalescer.Coalescer

	monitors []*failuremonitor.Monitor
	monCtx   context.Context
	monStop  context.CancelFunc

	bgErr            chan error
	recoveryComplete bool
}

// NewCurrent builds a pushable Facade over a freshly recruited epoch,
// exactly as newepoch.Build's Result feeds into the master's running state.
func NewCurrent(cfg config.DBCoreState, handles []*loghandle.Handle, addrs map[tlog.UID]tlog.NetworkAddress, env clockenv.Environment) (*Facade, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.TLogs) != len(handles) {
		return nil, fmt.Errorf("logsystem: %d TLogs in config but %d handles given", len(cfg.TLogs), len(handles))
	}

	cur := epoch{
		handles:           handles,
		replicationFactor: cfg.TLogReplicationFactor,
		antiQuorum:        cfg.TLogWriteAntiQuorum,
		policy:            cfg.TLogPolicy,
		localities:        cfg.TLogLocalities,
		uidToAddr:         addrs,
	}

	oldEpochs := make([]epoch, len(cfg.OldTLogData))
	for i, o := range cfg.OldTLogData {
		oldEpochs[i] = epoch{
			handles:           handlesFor(o.TLogs),
			replicationFactor: o.ReplicationFactor,
			antiQuorum:        o.AntiQuorum,
			policy:            o.Policy,
			localities:        o.TLogLocalities,
			epochEnd:          o.EpochEnd,
		}
	}

	f := &Facade{
		env:     env,
		current: cur,
		old:     oldEpochs,
		loc:     locality.New(cfg.TLogLocalities, cfg.TLogPolicy),
		fanout:  pushfanout.New(cur.interfaces(), cfg.TLogWriteAntiQuorum),
		pop:     popcoalescer.New(cur.interfaces(), env),
		bgErr:   make(chan error, len(handles)+1),
	}
	f.recoveryComplete = len(cfg.OldTLogData) == 0
	f.startMonitors()
	return f, nil
}

// handlesFor builds fresh, empty handles for a historical epoch's TLog
// UIDs. A frozen epoch is peek-only: its handles are never Set by this
// facade, so FromConfig's caller must install the historical interfaces
// itself if old-epoch peeks are to resolve anything (mirrors §3's "by
// from_config (read-only reconstruction for consumers)").
func handlesFor(uids []tlog.UID) []*loghandle.Handle {
	out := make([]*loghandle.Handle, len(uids))
	for i, u := range uids {
		out[i] = loghandle.New(u)
	}
	return out
}

func (f *Facade) startMonitors() {
	f.monCtx, f.monStop = context.WithCancel(context.Background())
	for _, h := range f.current.handles {
		m := failuremonitor.New(h)
		f.monitors = append(f.monitors, m)
		go m.Run(f.monCtx)
		go f.watchMonitor(m)
	}
}

// watchMonitor forwards a single current-TLog's failure — quorum of 1 — as
// an on_error event (§4.10).
func (f *Facade) watchMonitor(m *failuremonitor.Monitor) {
	for {
		changed := m.OnChange()
		if m.Failed() {
			f.deliverBackground(fmt.Errorf("%w: current tlog reported failure", ErrTLogFailed))
		}
		select {
		case <-f.monCtx.Done():
			return
		case <-changed:
		}
	}
}

func (f *Facade) deliverBackground(err error) {
	select {
	case f.bgErr <- err:
	default:
		logs.Debugf("logsystem: on_error channel full, dropping: %v", err)
	}
}

// Push replicates one commit to the current epoch: every current TLog
// receives a commit RPC, and the locality set's push locations carry the
// messages and their routed tags (§4.5, §4.10).
func (f *Facade) Push(ctx context.Context, prevVersion, version, knownCommitted tlog.Version, messages []byte, tags []tlog.Tag, debugID string) error {
	locs, err := f.loc.PushLocations(tags)
	if err != nil {
		return fmt.Errorf("logsystem: push: %w", err)
	}

	byLoc := make(map[int][]tlog.Tag, len(locs))
	for _, loc := range locs {
		byLoc[loc] = nil
	}
	for _, tag := range tags {
		best, err := f.loc.BestLocation(tag)
		if err != nil {
			return fmt.Errorf("logsystem: push: %w", err)
		}
		if _, ok := byLoc[best]; ok {
			byLoc[best] = append(byLoc[best], tag)
		}
	}
	for _, loc := range locs {
		if len(byLoc[loc]) == 0 {
			byLoc[loc] = tags
		}
	}

	pushLocs := make([]pushfanout.Location, 0, len(f.current.handles))
	for i := range f.current.handles {
		loc := pushfanout.Location{Index: i}
		if locTags, ok := byLoc[i]; ok {
			loc.Messages = messages
			loc.Tags = locTags
		}
		pushLocs = append(pushLocs, loc)
	}

	if err := f.fanout.Push(ctx, prevVersion, version, knownCommitted, pushLocs, debugID); err != nil {
		if errors.Is(err, pushfanout.ErrTLogFailed) {
			f.deliverBackground(err)
		}
		return err
	}
	return nil
}

// Peek returns a cursor over tag starting at begin, spanning whatever mix
// of the current epoch and frozen old epochs the range requires (§4.6).
func (f *Facade) Peek(begin tlog.Version, tag tlog.Tag) (tlog.Cursor, error) {
	return f.composer().Peek(begin, tag)
}

// PeekSingle is Peek's single-server variant for the current epoch (§4.6).
func (f *Facade) PeekSingle(begin tlog.Version, tag tlog.Tag) (tlog.Cursor, error) {
	return f.composer().PeekSingle(begin, tag)
}

func (f *Facade) composer() *peek.Composer {
	cur := peek.Epoch{TLogs: f.current.interfaces(), ReplicationFactor: f.current.replicationFactor, EpochEnd: f.current.epochEnd}
	old := make([]peek.Epoch, len(f.old))
	for i, o := range f.old {
		old[i] = peek.Epoch{TLogs: o.interfaces(), ReplicationFactor: o.replicationFactor, EpochEnd: o.epochEnd}
	}
	return peek.New(cur, old, f.loc.BestLocation)
}

// Pop coalesces a pop(up_to, tag) request against the current epoch (§4.4).
func (f *Facade) Pop(ctx context.Context, upTo tlog.Version, tag tlog.Tag) {
	f.pop.Pop(ctx, upTo, tag)
}

// ConfirmEpochLive broadcasts confirm_running and requires N-anti_quorum
// acknowledgements (§4.10).
func (f *Facade) ConfirmEpochLive(ctx context.Context, debugID string) error {
	return pushfanout.ConfirmEpochLive(ctx, f.current.interfaces(), f.current.antiQuorum, debugID)
}

// OnError surfaces on_error events: single-current-TLog failures (quorum of
// 1) and background push/pop RPC errors from earlier calls (§4.10).
func (f *Facade) OnError() <-chan error {
	out := make(chan error)
	go func() {
		for {
			select {
			case err, ok := <-f.bgErr:
				if !ok {
					close(out)
					return
				}
				out <- err
			case err := <-f.fanout.BackgroundErrors():
				out <- err
			}
		}
	}()
	return out
}

// OnLogSystemConfigChange completes on the first change of any current or
// historical handle (§4.10). A caller typically races this against
// whatever work is already in flight to decide whether to re-derive state.
func (f *Facade) OnLogSystemConfigChange(ctx context.Context) <-chan struct{} {
	out := make(chan struct{})
	var once sync.Once
	fire := func() { once.Do(func() { close(out) }) }

	handles := append(append([]*loghandle.Handle(nil), f.current.handles...), flattenOld(f.old)...)
	for _, h := range handles {
		changed := h.OnChange()
		go func() {
			select {
			case <-ctx.Done():
			case <-changed:
				fire()
			}
		}()
	}
	return out
}

func flattenOld(old []epoch) []*loghandle.Handle {
	var out []*loghandle.Handle
	for _, o := range old {
		out = append(out, o.handles...)
	}
	return out
}

// ToCoreState serializes the facade's current view back into the
// persistable DBCoreState shape, the inverse of NewCurrent/FromConfig
// (§4.10, §6).
func (f *Facade) ToCoreState() config.DBCoreState {
	f.mu.Lock()
	defer f.mu.Unlock()

	uids := make([]tlog.UID, len(f.current.handles))
	for i, h := range f.current.handles {
		uids[i] = h.UID()
	}
	oldData := make([]config.OldTLogData, len(f.old))
	for i, o := range f.old {
		oldUIDs := make([]tlog.UID, len(o.handles))
		for j, h := range o.handles {
			oldUIDs[j] = h.UID()
		}
		oldData[i] = config.OldTLogData{
			TLogs:             oldUIDs,
			TLogLocalities:    o.localities,
			ReplicationFactor: o.replicationFactor,
			AntiQuorum:        o.antiQuorum,
			Policy:            o.policy,
			EpochEnd:          o.epochEnd,
		}
	}

	return config.DBCoreState{
		LogSystemType:         config.LogSystemTagPartitioned,
		TLogs:                 uids,
		TLogLocalities:        f.current.localities,
		TLogReplicationFactor: f.current.replicationFactor,
		TLogWriteAntiQuorum:   f.current.antiQuorum,
		TLogPolicy:            f.current.policy,
		OldTLogData:           oldData,
	}
}

// FromConfig reconstructs a read-only consumer view from a persisted
// LogSystemConfig: peek works, push/pop/confirm_epoch_live are not wired
// because a read-only consumer never drives an epoch (§3 "Lifecycle",
// §4.10).
func FromConfig(cfg config.LogSystemConfig) (*Facade, error) {
	full := config.DBCoreState{
		LogSystemType:         config.LogSystemTagPartitioned,
		TLogs:                 cfg.TLogs,
		TLogLocalities:        cfg.TLogLocalities,
		TLogReplicationFactor: cfg.TLogReplicationFactor,
		TLogWriteAntiQuorum:   cfg.TLogWriteAntiQuorum,
		TLogPolicy:            cfg.TLogPolicy,
		OldTLogData:           cfg.OldTLogData,
	}
	if len(full.TLogs) == 0 {
		full.LogSystemType = config.LogSystemEmpty
	}
	return NewCurrent(full, handlesFor(full.TLogs), nil, clockenv.System{})
}

// FromOldConfig reconstructs a frozen, peek-only view of a single old
// epoch, used when a consumer needs to read a historical range without the
// rest of the Log System State around it (§3 "Lifecycle").
func FromOldConfig(o config.OldTLogData) *Facade {
	return &Facade{
		env: clockenv.System{},
		current: epoch{
			handles:           handlesFor(o.TLogs),
			replicationFactor: o.ReplicationFactor,
			antiQuorum:        o.AntiQuorum,
			policy:            o.Policy,
			localities:        o.TLogLocalities,
			epochEnd:          o.EpochEnd,
		},
		loc:     locality.New(o.TLogLocalities, o.Policy),
		fanout:  pushfanout.New(nil, o.AntiQuorum),
		bgErr:   make(chan error),
	}
}

// CoreStateWritten marks the persisted state durable. If it carries no old
// log data, recovery is complete: there is nothing left for a future
// recovery to recover from (§4.10).
func (f *Facade) CoreStateWritten(newState config.DBCoreState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(newState.OldTLogData) == 0 {
		f.recoveryComplete = true
	}
}

// RecoveryComplete reports the value core_state_written last computed.
func (f *Facade) RecoveryComplete() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recoveryComplete
}

// GetLogsValue exports a compact (UID, NetworkAddress) list for current
// TLogs, plus old-epoch TLogs whose epochs have not yet been written out of
// DBCoreState (§4.10).
func (f *Facade) GetLogsValue() []LogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []LogEntry
	for _, h := range f.current.handles {
		out = append(out, LogEntry{UID: h.UID(), Address: f.current.uidToAddr[h.UID()]})
	}
	if !f.recoveryComplete {
		for _, o := range f.old {
			for _, h := range o.handles {
				out = append(out, LogEntry{UID: h.UID(), Address: o.uidToAddr[h.UID()]})
			}
		}
	}
	return out
}

// LogEntry is one exported (UID, NetworkAddress) pair (§4.10).
type LogEntry struct {
	UID     tlog.UID
	Address tlog.NetworkAddress
}

// Close stops the failure monitors and waits for pop coalescer tasks still
// in flight to exit. It does not stop the TLogs themselves.
func (f *Facade) Close() {
	if f.monStop != nil {
		f.monStop()
	}
	if f.pop != nil {
		f.pop.Wait()
	}
}
