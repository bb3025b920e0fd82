// Package peek implements the Peek Composer (C6): a cursor over a tag that
// merges the current epoch's TLogs and, when the request predates the
// current epoch, stitches in one merged cursor per prior epoch (§4.6).
// Cursor construction itself is this core's own — the spec treats the
// merged/multi-cursor machinery as something this component "owns only
// which servers/ranges are passed to", so this package provides a
// straightforward implementation rather than delegating to an external
// library (none of the example repos' deps model cursor stitching).
package peek

import (
	"context"
	"fmt"

	"github.com/tagpartitioned/tlogsystem/tlog"
)

// Epoch describes one TLog Set's view for peek purposes: its member TLogs,
// replication factor (used to size the read quorum), and — for old
// epochs — the first version not included.
type Epoch struct {
	TLogs             []tlog.Interface
	ReplicationFactor int
	EpochEnd          tlog.Version // zero value means "current, unbounded"
}

// Composer builds cursors over the current epoch plus however many old
// epochs a request needs to span.
type Composer struct {
	current Epoch
	old     []Epoch // most recent first, matching Log System State (§3)
	best    func(tlog.Tag) (int, error)
}

func New(current Epoch, old []Epoch, bestLocation func(tlog.Tag) (int, error)) *Composer {
	return &Composer{current: current, old: old, best: bestLocation}
}

// GetPeekEnd returns epoch_end_version+1 for a frozen current epoch, or
// an unbounded sentinel (tlog.Version(-1)) otherwise (§4.6).
func (c *Composer) GetPeekEnd() tlog.Version {
	if c.current.EpochEnd == 0 {
		return -1
	}
	return c.current.EpochEnd + 1
}

// Peek builds a merged cursor over the current epoch and, if begin
// precedes the oldest old epoch's epoch_end, stitches on one merged cursor
// per prior epoch it spans (§4.6).
func (c *Composer) Peek(begin tlog.Version, tag tlog.Tag) (tlog.Cursor, error) {
	if len(c.old) == 0 || begin >= c.old[0].EpochEnd {
		return c.mergedCursor(c.current, begin, tag)
	}

	var segments []tlog.Cursor
	cur, err := c.mergedCursor(c.current, c.old[0].EpochEnd, tag)
	if err != nil {
		return nil, err
	}
	segments = append(segments, cur)

	for i, epoch := range c.old {
		if begin >= epoch.EpochEnd {
			break
		}
		lower := begin
		if i+1 < len(c.old) && c.old[i+1].EpochEnd > lower {
			lower = c.old[i+1].EpochEnd
		}
		seg, err := c.mergedCursor(epoch, lower, tag)
		if err != nil {
			closeAll(segments)
			return nil, err
		}
		segments = append(segments, seg)
	}

	// segments were appended current-first, oldest-last; a multiCursor
	// must read oldest-first to produce ascending versions.
	reversed := make([]tlog.Cursor, len(segments))
	for i, s := range segments {
		reversed[len(segments)-1-i] = s
	}
	return &multiCursor{segments: reversed}, nil
}

// PeekSingle behaves like Peek except the current-epoch segment is a
// single-server cursor pinned to BestLocation(tag) rather than merged
// (§4.6, used when a non-copying recovery permits reading one server).
func (c *Composer) PeekSingle(begin tlog.Version, tag tlog.Tag) (tlog.Cursor, error) {
	loc, err := c.best(tag)
	if err != nil {
		return nil, err
	}
	if loc >= len(c.current.TLogs) {
		return nil, fmt.Errorf("peek: best location %d out of range for %d current tlogs", loc, len(c.current.TLogs))
	}

	curEnd := tlog.Unbounded
	if c.current.EpochEnd != 0 {
		curEnd = c.current.EpochEnd
	}

	if len(c.old) == 0 || begin >= c.old[0].EpochEnd {
		return c.current.TLogs[loc].Peek(context.Background(), begin, curEnd, tag)
	}

	single, err := c.current.TLogs[loc].Peek(context.Background(), c.old[0].EpochEnd, curEnd, tag)
	if err != nil {
		return nil, err
	}
	segments := []tlog.Cursor{single}
	for i, epoch := range c.old {
		if begin >= epoch.EpochEnd {
			break
		}
		lower := begin
		if i+1 < len(c.old) && c.old[i+1].EpochEnd > lower {
			lower = c.old[i+1].EpochEnd
		}
		seg, err := c.mergedCursor(epoch, lower, tag)
		if err != nil {
			closeAll(segments)
			return nil, err
		}
		segments = append(segments, seg)
	}
	reversed := make([]tlog.Cursor, len(segments))
	for i, s := range segments {
		reversed[len(segments)-1-i] = s
	}
	return &multiCursor{segments: reversed}, nil
}

// mergedCursor opens one cursor against every TLog in epoch and merges
// them into ascending-version order, requiring N+1-R of them to have
// replied before yielding each message (§4.6's required count).
func (c *Composer) mergedCursor(epoch Epoch, begin tlog.Version, tag tlog.Tag) (tlog.Cursor, error) {
	required := len(epoch.TLogs) + 1 - epoch.ReplicationFactor
	if required < 1 {
		required = 1
	}
	end := tlog.Unbounded
	if epoch.EpochEnd != 0 {
		end = epoch.EpochEnd
	}
	sources := make([]tlog.Cursor, 0, len(epoch.TLogs))
	for _, t := range epoch.TLogs {
		cur, err := t.Peek(context.Background(), begin, end, tag)
		if err != nil {
			closeAll(sources)
			return nil, err
		}
		sources = append(sources, cur)
	}
	return newMergedCursor(sources, required, end), nil
}

func closeAll(cursors []tlog.Cursor) {
	for _, c := range cursors {
		c.Close()
	}
}
