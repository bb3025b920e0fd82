package tlog

import (
	"context"
	"testing"
	"time"
)

func TestUIDStringIsHex(t *testing.T) {
	var u UID
	u[0] = 0xab
	u[1] = 0xcd

	got := u.String()
	if len(got) != 32 {
		t.Fatalf("uid.String() = %q (len %d), want 32 hex chars", got, len(got))
	}
	if got[:4] != "abcd" {
		t.Fatalf("uid.String() = %q, want to start with abcd", got)
	}
}

func TestNetworkAddressString(t *testing.T) {
	a := NetworkAddress{IP: "10.0.0.1", Port: 4500}
	if got, want := a.String(), "10.0.0.1:4500"; got != want {
		t.Fatalf("address.String() = %q, want %q", got, want)
	}
}

func TestWithTimeoutBoundsContext(t *testing.T) {
	ctx, cancel := WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("with_timeout context never expired")
	}
}
