package logsystem

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tagpartitioned/tlogsystem/clockenv"
	"github.com/tagpartitioned/tlogsystem/config"
	"github.com/tagpartitioned/tlogsystem/loghandle"
	"github.com/tagpartitioned/tlogsystem/newepoch"
	"github.com/tagpartitioned/tlogsystem/policy"
	"github.com/tagpartitioned/tlogsystem/recovery"
	"github.com/tagpartitioned/tlogsystem/tlog"
)

func uid(b byte) tlog.UID {
	var u tlog.UID
	u[0] = b
	return u
}

func buildFacade(t *testing.T, n, rf, aq int) *Facade {
	t.Helper()
	workers := make([]newepoch.Worker, n)
	for i := range workers {
		u := uid(byte(i + 1))
		workers[i] = newepoch.Worker{UID: u, Locality: tlog.LocalityData{Zone: string(rune('a' + i))}, Recruit: newepoch.LocalRecruiter{UID: u}}
	}
	res, err := newepoch.Build(context.Background(), recovery.Candidate{}, workers, rf, aq, policy.Simple{MinZones: 1}, clockenv.System{}, time.Second)
	if err != nil {
		t.Fatalf("newepoch.Build: %v", err)
	}
	f, err := NewCurrent(res.Config, res.Handles, nil, clockenv.System{})
	if err != nil {
		t.Fatalf("NewCurrent: %v", err)
	}
	t.Cleanup(f.Close)
	return f
}

func TestPushThenPeekReturnsCommittedMessage(t *testing.T) {
	f := buildFacade(t, 3, 2, 0)

	if err := f.Push(context.Background(), 0, 1, 0, []byte("hello"), []tlog.Tag{0}, "t1"); err != nil {
		t.Fatalf("push: %v", err)
	}

	cur, err := f.Peek(1, 0)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	defer cur.Close()

	msg, err := cur.Advance(context.Background())
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if msg.Version != 1 {
		t.Fatalf("got version %d, want 1", msg.Version)
	}
}

func TestConfirmEpochLiveSucceedsWithFullQuorum(t *testing.T) {
	f := buildFacade(t, 3, 2, 0)
	if err := f.ConfirmEpochLive(context.Background(), "confirm"); err != nil {
		t.Fatalf("confirm_epoch_live: %v", err)
	}
}

func TestGetLogsValueListsCurrentTLogs(t *testing.T) {
	f := buildFacade(t, 3, 2, 0)
	entries := f.GetLogsValue()
	if len(entries) != 3 {
		t.Fatalf("got %d log entries, want 3", len(entries))
	}
}

func TestToCoreStateFromConfigRoundTrip(t *testing.T) {
	f := buildFacade(t, 2, 2, 0)
	state := f.ToCoreState()

	if state.LogSystemType != config.LogSystemTagPartitioned {
		t.Fatalf("to_core_state logSystemType = %d, want tag-partitioned", state.LogSystemType)
	}
	if len(state.TLogs) != 2 || state.TLogReplicationFactor != 2 {
		t.Fatalf("to_core_state = %+v", state)
	}

	reconstructed, err := FromConfig(state.ToLogSystemConfig())
	if err != nil {
		t.Fatalf("from_config: %v", err)
	}
	t.Cleanup(reconstructed.Close)

	got := reconstructed.ToCoreState()
	if len(got.TLogs) != len(state.TLogs) {
		t.Fatalf("round trip lost tlogs: got %d, want %d", len(got.TLogs), len(state.TLogs))
	}
	for i := range got.TLogs {
		if got.TLogs[i] != state.TLogs[i] {
			t.Fatalf("round trip tlogs[%d] = %v, want %v", i, got.TLogs[i], state.TLogs[i])
		}
	}
}

func TestCoreStateWrittenMarksRecoveryCompleteOnlyWithoutOldData(t *testing.T) {
	f := buildFacade(t, 1, 1, 0)
	if !f.RecoveryComplete() {
		t.Fatal("a facade built with no old_log_data should already report recovery_complete")
	}

	f.recoveryComplete = false
	f.CoreStateWritten(config.DBCoreState{OldTLogData: []config.OldTLogData{{}}})
	if f.RecoveryComplete() {
		t.Fatal("core_state_written with non-empty old_log_data must not mark recovery complete")
	}

	f.CoreStateWritten(config.DBCoreState{})
	if !f.RecoveryComplete() {
		t.Fatal("core_state_written with empty old_log_data must mark recovery complete")
	}
}

func TestGetLogsValueOmitsOldTLogsOnceRecoveryComplete(t *testing.T) {
	cfg := config.DBCoreState{
		LogSystemType:         config.LogSystemTagPartitioned,
		TLogs:                 []tlog.UID{uid(1)},
		TLogReplicationFactor: 1,
		TLogPolicy:            policy.Simple{MinZones: 1},
		OldTLogData: []config.OldTLogData{{
			TLogs:             []tlog.UID{uid(9)},
			ReplicationFactor: 1,
			Policy:            policy.Simple{MinZones: 1},
			EpochEnd:          10,
		}},
	}
	f, err := NewCurrent(cfg, []*loghandle.Handle{loghandle.New(uid(1))}, nil, clockenv.System{})
	if err != nil {
		t.Fatalf("NewCurrent: %v", err)
	}
	t.Cleanup(f.Close)

	entries := f.GetLogsValue()
	if len(entries) != 2 {
		t.Fatalf("get_logs_value with recovery incomplete returned %d entries, want 2 (current + old)", len(entries))
	}

	f.CoreStateWritten(config.DBCoreState{})
	entries = f.GetLogsValue()
	if len(entries) != 1 {
		t.Fatalf("get_logs_value after core_state_written with no old data returned %d entries, want 1 (current only)", len(entries))
	}
}

func TestOnErrorSurfacesCurrentTLogFailure(t *testing.T) {
	f := buildFacade(t, 2, 2, 0)
	errs := f.OnError()

	tl := f.current.handles[0].Get()
	killer, ok := tl.(interface{ Kill() })
	if !ok {
		t.Fatal("current tlog interface does not support Kill for this test")
	}
	killer.Kill()

	select {
	case err := <-errs:
		if !errors.Is(err, ErrTLogFailed) {
			t.Fatalf("on_error delivered %v, want it to wrap ErrTLogFailed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("on_error never reported the killed current tlog")
	}
}

func TestOnLogSystemConfigChangeFiresOnHandleUpdate(t *testing.T) {
	f := buildFacade(t, 1, 1, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := f.OnLogSystemConfigChange(ctx)
	f.current.handles[0].Set(f.current.handles[0].Get())

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("on_log_system_config_change never fired after a handle update")
	}
}

func TestFromConfigRejectsUnknownLogSystemType(t *testing.T) {
	bad := config.DBCoreState{LogSystemType: config.LogSystemType(99)}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected validate to reject an unrecognized logSystemType")
	}
}

func TestPopIsANoOpForUnknownTag(t *testing.T) {
	f := buildFacade(t, 1, 1, 0)
	// pop on a tag nothing was ever pushed for must not panic or block.
	f.Pop(context.Background(), 5, 3)
}
