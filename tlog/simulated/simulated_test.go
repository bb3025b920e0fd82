package simulated

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tagpartitioned/tlogsystem/tlog"
)

func testUID(b byte) tlog.UID {
	var u tlog.UID
	u[0] = b
	return u
}

func TestCommitThenPeekOrdering(t *testing.T) {
	tl := New(testUID(1))
	ctx := context.Background()

	for v := tlog.Version(1); v <= 3; v++ {
		if err := tl.Commit(ctx, tlog.CommitRequest{Version: v, TagsForMe: []tlog.Tag{0}, MessagesForMe: []byte("m")}); err != nil {
			t.Fatalf("commit %d: %v", v, err)
		}
	}

	cur, err := tl.Peek(ctx, 1, tlog.Unbounded, 0)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	defer cur.Close()

	for want := tlog.Version(1); want <= 3; want++ {
		msg, err := cur.Advance(ctx)
		if err != nil {
			t.Fatalf("advance at version %d: %v", want, err)
		}
		if msg.Version != want {
			t.Fatalf("got version %d, want %d", msg.Version, want)
		}
	}
}

func TestPeekBlocksUntilCommit(t *testing.T) {
	tl := New(testUID(2))
	ctx := context.Background()

	cur, err := tl.Peek(ctx, 0, tlog.Unbounded, 0)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	defer cur.Close()

	done := make(chan struct{})
	go func() {
		if _, err := cur.Advance(ctx); err != nil {
			t.Errorf("advance: %v", err)
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("advance returned before any commit")
	case <-time.After(50 * time.Millisecond):
	}

	if err := tl.Commit(ctx, tlog.CommitRequest{Version: 1, TagsForMe: []tlog.Tag{0}}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("advance never returned after commit")
	}
}

func TestKillCausesBrokenPromise(t *testing.T) {
	tl := New(testUID(3))
	ctx := context.Background()

	failCh, err := tl.WaitFailure(ctx)
	if err != nil {
		t.Fatalf("wait_failure: %v", err)
	}

	tl.Kill()

	select {
	case <-failCh:
	case <-time.After(time.Second):
		t.Fatal("wait_failure channel never closed")
	}

	if err := tl.Commit(ctx, tlog.CommitRequest{Version: 1}); !errors.Is(err, tlog.ErrBrokenPromise) {
		t.Fatalf("commit after kill: got %v, want ErrBrokenPromise", err)
	}
	if _, err := tl.Lock(ctx); !errors.Is(err, tlog.ErrBrokenPromise) {
		t.Fatalf("lock after kill: got %v, want ErrBrokenPromise", err)
	}
}

func TestStopCausesErrStopped(t *testing.T) {
	tl := New(testUID(4))
	ctx := context.Background()
	tl.Stop()

	if err := tl.Commit(ctx, tlog.CommitRequest{Version: 1}); !errors.Is(err, tlog.ErrStopped) {
		t.Fatalf("commit after stop: got %v, want ErrStopped", err)
	}
}

func TestPopCompactsUnderlyingMessages(t *testing.T) {
	tl := New(testUID(5))
	ctx := context.Background()
	for v := tlog.Version(1); v <= 5; v++ {
		if err := tl.Commit(ctx, tlog.CommitRequest{Version: v, TagsForMe: []tlog.Tag{0}}); err != nil {
			t.Fatalf("commit %d: %v", v, err)
		}
	}

	if err := tl.Pop(ctx, 3, 0); err != nil {
		t.Fatalf("pop: %v", err)
	}

	cur, err := tl.Peek(ctx, 1, tlog.Unbounded, 0)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	defer cur.Close()

	msg, err := cur.Advance(ctx)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if msg.Version != 3 {
		t.Fatalf("first surviving message has version %d, want 3 (popped up to 3)", msg.Version)
	}
}

func TestLockReportsTagsSeenSorted(t *testing.T) {
	tl := New(testUID(6))
	ctx := context.Background()
	for _, tag := range []tlog.Tag{5, 1, 3} {
		if err := tl.Commit(ctx, tlog.CommitRequest{Version: 1, TagsForMe: []tlog.Tag{tag}}); err != nil {
			t.Fatalf("commit tag %d: %v", tag, err)
		}
	}

	res, err := tl.Lock(ctx)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	want := []tlog.Tag{1, 3, 5}
	if len(res.TagsSeen) != len(want) {
		t.Fatalf("tags_seen = %v, want %v", res.TagsSeen, want)
	}
	for i, tag := range want {
		if res.TagsSeen[i] != tag {
			t.Fatalf("tags_seen[%d] = %d, want %d", i, res.TagsSeen[i], tag)
		}
	}
}
