package newepoch

import (
	"context"

	"github.com/tagpartitioned/tlogsystem/tlog"
	"github.com/tagpartitioned/tlogsystem/tlog/simulated"
)

// LocalRecruiter initializes an in-process simulated.TLog in place of a real
// InitializeTLogRequest RPC. Used by cmd/demo and cmd/loadgen to exercise
// the builder end to end without a transport (out of scope per §1).
type LocalRecruiter struct {
	UID tlog.UID
}

var _ Recruiter = LocalRecruiter{}

func (r LocalRecruiter) Initialize(ctx context.Context, recoverTags []tlog.Tag) (tlog.Interface, error) {
	return simulated.New(r.UID), nil
}
