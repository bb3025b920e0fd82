package rejoin

import (
	"context"
	"testing"
	"time"

	"github.com/tagpartitioned/tlogsystem/loghandle"
	"github.com/tagpartitioned/tlogsystem/tlog"
	"github.com/tagpartitioned/tlogsystem/tlog/simulated"
)

func TestUnknownUIDIsToldToStop(t *testing.T) {
	tr := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	requests := make(chan Request)
	go tr.Run(ctx, requests)

	reply := make(chan bool, 1)
	requests <- Request{Interface: simulated.New(tlog.UID{9}), Reply: reply}

	select {
	case got := <-reply:
		if !got {
			t.Fatal("unknown UID should be told to stop (reply=true)")
		}
	case <-time.After(time.Second):
		t.Fatal("tracker never replied to an unknown UID")
	}
}

func TestKnownUIDBindsHandle(t *testing.T) {
	uid := tlog.UID{1}
	h := loghandle.New(uid)
	tr := New([]*loghandle.Handle{h})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	requests := make(chan Request)
	go tr.Run(ctx, requests)

	tl := simulated.New(uid)
	reply := make(chan bool, 1)
	requests <- Request{Interface: tl, Reply: reply}

	deadline := time.After(time.Second)
	for h.Get() == nil {
		select {
		case <-deadline:
			t.Fatal("handle was never bound")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	if h.Get() != tl {
		t.Fatal("handle bound to the wrong interface")
	}

	select {
	case <-reply:
		t.Fatal("a still-current rejoin should not be replied to until superseded or the tracker exits")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSupersededRejoinGetsFalseReply(t *testing.T) {
	uid := tlog.UID{2}
	h := loghandle.New(uid)
	tr := New([]*loghandle.Handle{h})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	requests := make(chan Request)
	go tr.Run(ctx, requests)

	first := simulated.New(uid)
	firstReply := make(chan bool, 1)
	requests <- Request{Interface: first, Reply: firstReply}

	second := simulated.New(uid)
	secondReply := make(chan bool, 1)
	requests <- Request{Interface: second, Reply: secondReply}

	select {
	case got := <-firstReply:
		if got {
			t.Fatal("superseded rejoin should receive false, not true")
		}
	case <-time.After(time.Second):
		t.Fatal("superseded rejoin was never replied to")
	}
}

func TestDrainOnExitRepliesTrueToPending(t *testing.T) {
	uid := tlog.UID{3}
	h := loghandle.New(uid)
	tr := New([]*loghandle.Handle{h})

	ctx, cancel := context.WithCancel(context.Background())
	requests := make(chan Request)
	go tr.Run(ctx, requests)

	reply := make(chan bool, 1)
	requests <- Request{Interface: simulated.New(uid), Reply: reply}

	cancel()

	select {
	case got := <-reply:
		if !got {
			t.Fatal("a pending rejoin should be told to stop (true) when the tracker exits")
		}
	case <-time.After(time.Second):
		t.Fatal("tracker never drained its pending replies on exit")
	}
}
