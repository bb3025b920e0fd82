package tlog

import "errors"

// Error kinds (§7). These are sentinels, not types: callers classify with
// errors.Is. tlog/simulated returns them for a killed or stopped TLog;
// cursors additionally return ErrExhausted or the context's error.
var (
	// ErrStopped is an expected TLog shutdown. Silent in push.
	ErrStopped = errors.New("tlog: stopped")

	// ErrBrokenPromise means the endpoint is gone: the push fan-out turns
	// this into ErrTLogFailed, the pop coalescer logs and exits leaving its
	// key present, and the rejoin tracker treats a lookup miss as normal.
	ErrBrokenPromise = errors.New("tlog: broken promise")
)
