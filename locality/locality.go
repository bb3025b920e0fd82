// Package locality implements the Locality Set (C1): given a tag, compute
// the set of log indices that must receive a copy, combining the
// deterministic primary location with the replication policy's
// augmentation (§4.1).
package locality

import (
	"fmt"
	"sort"

	"github.com/tagpartitioned/tlogsystem/policy"
	"github.com/tagpartitioned/tlogsystem/tlog"
)

// Set is built once per TLog Set and is immutable thereafter; a new epoch
// builds a fresh Set over its own worker list (§4.1, §4.9 step 3).
type Set struct {
	localities []tlog.LocalityData
	policy     policy.Policy
}

func New(localities []tlog.LocalityData, p policy.Policy) *Set {
	return &Set{
		localities: append([]tlog.LocalityData(nil), localities...),
		policy:     p,
	}
}

func (s *Set) Len() int { return len(s.localities) }

// BestLocation is the deterministic primary for tag: tag mod N.
func (s *Set) BestLocation(tag tlog.Tag) (int, error) {
	n := len(s.localities)
	if n == 0 {
		return 0, fmt.Errorf("locality: empty set")
	}
	if tag < 0 {
		return 0, fmt.Errorf("locality: tag %d has no location", tag)
	}
	return int(tag) % n, nil
}

// PushLocations computes the deduplicated union of BestLocation(t) for
// every tag, augmented by the replication policy to satisfy it. Ties are
// broken by sorting ascending (uniquify) before augmentation so results
// are stable (§4.1 "Ties"). A policy that cannot be satisfied is an
// invariant violation and panics.
func (s *Set) PushLocations(tags []tlog.Tag) ([]int, error) {
	seen := make(map[int]struct{})
	var locs []int
	for _, t := range tags {
		loc, err := s.BestLocation(t)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[loc]; !ok {
			seen[loc] = struct{}{}
			locs = append(locs, loc)
		}
	}
	locs = uniquify(locs)

	augmented, err := s.policy.SelectReplicas(s.localities, locs)
	if err != nil {
		panic(fmt.Sprintf("locality: internal_error: policy cannot be satisfied for push set %v: %v", locs, err))
	}
	return augmented, nil
}

// uniquify sorts locations ascending before policy augmentation so
// repeated calls with the same tag set produce identical results.
func uniquify(locs []int) []int {
	sort.Ints(locs)
	out := locs[:0]
	var last int
	first := true
	for _, v := range locs {
		if first || v != last {
			out = append(out, v)
			last = v
			first = false
		}
	}
	return out
}
