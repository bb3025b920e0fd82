// Package clockenv provides the injected time source and simulation knobs
// design note §9 asks for (an Environment trait with is_simulated and
// speed_up), so the pop coalescer, recovery loop, and new-epoch builder
// never call the time package directly. Production wraps
// go.chromium.org/luci/common/clock; tests wrap a fake with the same
// interface, the way the teacher's memorylog hand-rolls a fake SharedLog.
package clockenv

import (
	"context"
	"time"

	"go.chromium.org/luci/common/clock"
)

// Environment is the time source and simulation knobs every delay-bearing
// component is built against.
type Environment interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
	After(ctx context.Context, d time.Duration) <-chan time.Time

	// IsSimulated reports whether VERSIONS_PER_SECOND-derived shortcuts
	// apply to wall-clock waits (never to the known_committed version
	// horizon — see SPEC_FULL.md §4.8).
	IsSimulated() bool

	// SpeedUp scales wall-clock waits down when IsSimulated is true.
	SpeedUp() float64

	// ShouldInjectRecoveryFault is the §4.9 step 7 fault-injection hook:
	// always false outside simulation.
	ShouldInjectRecoveryFault(elapsed time.Duration) bool
}

// System is the production Environment, backed by luci/common/clock so
// that context cancellation interrupts a wait the same way it interrupts
// every other suspension point in this module (§5).
type System struct{}

var _ Environment = System{}

func (System) Now() time.Time { return clock.Now(context.Background()) }

func (System) Sleep(ctx context.Context, d time.Duration) error {
	res := clock.Sleep(ctx, d)
	return res.Err
}

func (System) After(ctx context.Context, d time.Duration) <-chan time.Time {
	out := make(chan time.Time, 1)
	go func() {
		res := clock.Sleep(ctx, d)
		if res.Err == nil {
			out <- res.Time
		}
		close(out)
	}()
	return out
}

func (System) IsSimulated() bool { return false }

func (System) SpeedUp() float64 { return 1 }

func (System) ShouldInjectRecoveryFault(time.Duration) bool { return false }

// Simulated is a deterministic test Environment: Now is a monotonic
// counter advanced by Advance, Sleep/After wait d/speedUp of real time and
// then advance Now by d, and fault injection is controlled explicitly.
type Simulated struct {
	speedUp     float64
	injectFault func(time.Duration) bool

	mu  chan struct{}
	now time.Time
}

func NewSimulated(start time.Time, speedUp float64) *Simulated {
	s := &Simulated{speedUp: speedUp, now: start, mu: make(chan struct{}, 1)}
	s.mu <- struct{}{}
	return s
}

var _ Environment = (*Simulated)(nil)

func (s *Simulated) Now() time.Time {
	<-s.mu
	defer func() { s.mu <- struct{}{} }()
	return s.now
}

func (s *Simulated) Advance(d time.Duration) {
	<-s.mu
	s.now = s.now.Add(d)
	s.mu <- struct{}{}
}

func (s *Simulated) Sleep(ctx context.Context, d time.Duration) error {
	scaled := time.Duration(float64(d) / s.speedUp)
	t := time.NewTimer(scaled)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		s.Advance(d)
		return nil
	}
}

func (s *Simulated) After(ctx context.Context, d time.Duration) <-chan time.Time {
	out := make(chan time.Time, 1)
	go func() {
		if err := s.Sleep(ctx, d); err == nil {
			out <- s.Now()
		}
		close(out)
	}()
	return out
}

func (s *Simulated) IsSimulated() bool { return true }

func (s *Simulated) SpeedUp() float64 { return s.speedUp }

func (s *Simulated) SetFaultInjector(f func(time.Duration) bool) { s.injectFault = f }

func (s *Simulated) ShouldInjectRecoveryFault(elapsed time.Duration) bool {
	if s.injectFault == nil {
		return false
	}
	return s.injectFault(elapsed)
}
