package locality

import (
	"testing"

	"github.com/tagpartitioned/tlogsystem/policy"
	"github.com/tagpartitioned/tlogsystem/tlog"
)

func TestBestLocationIsTagModN(t *testing.T) {
	localities := make([]tlog.LocalityData, 4)
	s := New(localities, policy.Simple{MinZones: 1})

	cases := map[tlog.Tag]int{0: 0, 1: 1, 3: 3, 4: 0, 7: 3}
	for tag, want := range cases {
		got, err := s.BestLocation(tag)
		if err != nil {
			t.Fatalf("best_location(%d): %v", tag, err)
		}
		if got != want {
			t.Fatalf("best_location(%d) = %d, want %d", tag, got, want)
		}
	}
}

func TestBestLocationRejectsNegativeTag(t *testing.T) {
	s := New(make([]tlog.LocalityData, 2), policy.Simple{MinZones: 1})
	if _, err := s.BestLocation(tlog.TagInvalid); err == nil {
		t.Fatal("expected an error for a negative tag")
	}
}

func TestPushLocationsDeduplicatesAndSortsTies(t *testing.T) {
	localities := make([]tlog.LocalityData, 4)
	s := New(localities, policy.Simple{MinZones: 1})

	// Tags 0 and 4 share best_location 0 under N=4; tag 2 maps to 2.
	got, err := s.PushLocations([]tlog.Tag{4, 2, 0})
	if err != nil {
		t.Fatalf("push_locations: %v", err)
	}
	want := []int{0, 2}
	if len(got) != len(want) {
		t.Fatalf("push_locations = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("push_locations = %v, want %v", got, want)
		}
	}
}

func TestPushLocationsAugmentsForPolicy(t *testing.T) {
	localities := []tlog.LocalityData{{Zone: "a"}, {Zone: "a"}, {Zone: "b"}, {Zone: "c"}}
	s := New(localities, policy.Simple{MinZones: 2})

	got, err := s.PushLocations([]tlog.Tag{0})
	if err != nil {
		t.Fatalf("push_locations: %v", err)
	}
	if len(got) < 2 {
		t.Fatalf("push_locations = %v, expected augmentation to satisfy MinZones=2", got)
	}
}

func TestBestLocationEmptySet(t *testing.T) {
	s := New(nil, policy.Simple{MinZones: 1})
	if _, err := s.BestLocation(0); err == nil {
		t.Fatal("expected an error for an empty locality set")
	}
}
