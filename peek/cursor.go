package peek

import (
	"context"

	"github.com/tagpartitioned/tlogsystem/tlog"
)

// mergedCursor k-way merges a fixed set of per-TLog cursors for one tag
// into strictly ascending Version order, de-duplicating replicas of the
// same version. It requires at least `required` sources to still be
// reachable; once fewer remain it is exhausted, even if some were merely
// slow rather than permanently gone — the facade's failure monitor is
// responsible for evicting a TLog from the set entirely on the next
// recovery.
type mergedCursor struct {
	sources  []tlog.Cursor
	required int
	end      tlog.Version // exclusive upper bound; tlog.Unbounded means unbounded

	peeked []*tlog.Message // nil entry = needs a fresh Advance from that source
	live   []bool
	lastV  tlog.Version
	first  bool
}

func newMergedCursor(sources []tlog.Cursor, required int, end tlog.Version) *mergedCursor {
	live := make([]bool, len(sources))
	for i := range live {
		live[i] = true
	}
	return &mergedCursor{
		sources:  sources,
		required: required,
		end:      end,
		peeked:   make([]*tlog.Message, len(sources)),
		live:     live,
		first:    true,
	}
}

func (m *mergedCursor) liveCount() int {
	n := 0
	for _, l := range m.live {
		if l {
			n++
		}
	}
	return n
}

func (m *mergedCursor) fill(ctx context.Context) error {
	for i, src := range m.sources {
		if !m.live[i] || m.peeked[i] != nil {
			continue
		}
		msg, err := src.Advance(ctx)
		if err != nil {
			if err == tlog.ErrExhausted {
				m.live[i] = false
				continue
			}
			return err
		}
		m.peeked[i] = &msg
	}
	return nil
}

func (m *mergedCursor) Advance(ctx context.Context) (tlog.Message, error) {
	for {
		if m.liveCount() < m.required {
			return tlog.Message{}, tlog.ErrExhausted
		}
		if err := m.fill(ctx); err != nil {
			return tlog.Message{}, err
		}

		bestIdx := -1
		for i, msg := range m.peeked {
			if msg == nil {
				continue
			}
			if bestIdx == -1 || msg.Version < m.peeked[bestIdx].Version {
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			return tlog.Message{}, tlog.ErrExhausted
		}

		if m.end != tlog.Unbounded && m.peeked[bestIdx].Version >= m.end {
			return tlog.Message{}, tlog.ErrExhausted
		}

		msg := *m.peeked[bestIdx]
		m.peeked[bestIdx] = nil

		// De-duplicate identical versions surfacing from other replicas.
		if !m.first && msg.Version <= m.lastV {
			continue
		}
		m.first = false
		m.lastV = msg.Version
		return msg, nil
	}
}

func (m *mergedCursor) Close() {
	for _, s := range m.sources {
		s.Close()
	}
}

// multiCursor reads its segments in order, advancing from one to the next
// only once the current segment is exhausted. Segments must already be in
// oldest-first order and must not overlap, so the concatenation yields
// strictly ascending versions with no gaps (§4.6, §8).
type multiCursor struct {
	segments []tlog.Cursor
	idx      int
}

func (m *multiCursor) Advance(ctx context.Context) (tlog.Message, error) {
	for m.idx < len(m.segments) {
		msg, err := m.segments[m.idx].Advance(ctx)
		if err == tlog.ErrExhausted {
			m.segments[m.idx].Close()
			m.idx++
			continue
		}
		return msg, err
	}
	return tlog.Message{}, tlog.ErrExhausted
}

func (m *multiCursor) Close() {
	for i := m.idx; i < len(m.segments); i++ {
		m.segments[i].Close()
	}
}
