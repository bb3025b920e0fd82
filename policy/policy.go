// Package policy defines the replication policy contract this core treats
// as an opaque, injected collaborator (§6): select_replicas, validate, and
// validate_all_combinations. Deciding whether a subset of TLogs satisfies
// zone/data-hall constraints is explicitly out of scope for this core; this
// package only pins down the interface and ships one reference
// implementation so the rest of the module is self-testing.
package policy

import (
	"sort"

	"github.com/tagpartitioned/tlogsystem/tlog"
)

// Policy decides whether a set of locations (indices into a TLog Set)
// satisfies a locality constraint, and picks additional locations to
// satisfy it when asked.
type Policy interface {
	// SelectReplicas augments already (a stable-sorted, de-duplicated list
	// of chosen locations) with additional locations from localities so the
	// combined set satisfies the policy, returning the full augmented set.
	// It must error if no augmentation can satisfy the policy — callers
	// treat that as an invariant violation (§4.1).
	SelectReplicas(localities []tlog.LocalityData, already []int) ([]int, error)

	// Validate reports whether group (a set of locations) alone satisfies
	// the policy.
	Validate(localities []tlog.LocalityData, group []int) bool

	// ValidateAllCombinations reports whether every size-antiQuorum subset
	// of unresponsive, combined with available, can still satisfy the
	// policy. With strict set, fewer than antiQuorum unresponsive locations
	// means there is no such subset and the check passes (§4.8 step 2,
	// third bullet).
	ValidateAllCombinations(localities []tlog.LocalityData, unresponsive, available []int, antiQuorum int, strict bool) bool
}

// Simple is a reference Policy: it requires a minimum number of distinct
// zones among the selected locations, the way a small deployment without a
// data-hall dimension would be configured. It is intentionally the
// simplest policy that exercises every method's contract; production
// deployments inject their own.
type Simple struct {
	MinZones int
}

var _ Policy = Simple{}

func zonesOf(localities []tlog.LocalityData, locs []int) map[string]struct{} {
	zones := make(map[string]struct{}, len(locs))
	for _, i := range locs {
		if i >= 0 && i < len(localities) {
			zones[localities[i].Zone] = struct{}{}
		}
	}
	return zones
}

func (p Simple) Validate(localities []tlog.LocalityData, group []int) bool {
	if p.MinZones <= 1 {
		return len(group) > 0
	}
	return len(zonesOf(localities, group)) >= p.MinZones
}

func (p Simple) SelectReplicas(localities []tlog.LocalityData, already []int) ([]int, error) {
	chosen := append([]int(nil), already...)
	sort.Ints(chosen)
	chosen = dedup(chosen)
	if p.Validate(localities, chosen) {
		return chosen, nil
	}

	present := make(map[int]bool, len(chosen))
	for _, i := range chosen {
		present[i] = true
	}
	haveZones := zonesOf(localities, chosen)

	for i := range localities {
		if present[i] {
			continue
		}
		if _, ok := haveZones[localities[i].Zone]; ok {
			continue
		}
		chosen = append(chosen, i)
		present[i] = true
		haveZones[localities[i].Zone] = struct{}{}
		sort.Ints(chosen)
		if p.Validate(localities, chosen) {
			return chosen, nil
		}
	}
	return nil, errUnsatisfiable
}

// ValidateAllCombinations reports whether, for every size-antiQuorum subset
// S of unresponsive, available ∪ S still satisfies the policy. When fewer
// than antiQuorum locations are unresponsive, strict returns true without
// checking anything; without strict, the whole unresponsive set is checked
// as the single subset.
func (p Simple) ValidateAllCombinations(localities []tlog.LocalityData, unresponsive, available []int, antiQuorum int, strict bool) bool {
	if antiQuorum <= 0 {
		return true
	}
	if strict && len(unresponsive) < antiQuorum {
		return true
	}
	combos := combinationsUpTo(unresponsive, antiQuorum)
	for _, combo := range combos {
		group := union(available, combo)
		if !p.Validate(localities, group) {
			return false
		}
	}
	return true
}

func dedup(sorted []int) []int {
	out := sorted[:0]
	var last int
	first := true
	for _, v := range sorted {
		if first || v != last {
			out = append(out, v)
			last = v
			first = false
		}
	}
	return out
}

func union(a, b []int) []int {
	seen := make(map[int]bool, len(a)+len(b))
	out := make([]int, 0, len(a)+len(b))
	for _, v := range a {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range b {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// combinationsUpTo returns every subset of items with size exactly k, or
// the single subset holding all of items when len(items) < k.
func combinationsUpTo(items []int, k int) [][]int {
	if k > len(items) {
		k = len(items)
	}
	if k == 0 {
		return [][]int{{}}
	}
	var out [][]int
	var rec func(start int, cur []int)
	rec = func(start int, cur []int) {
		if len(cur) == k {
			out = append(out, append([]int(nil), cur...))
			return
		}
		for i := start; i < len(items); i++ {
			rec(i+1, append(cur, items[i]))
		}
	}
	rec(0, nil)
	return out
}
