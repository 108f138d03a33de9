package availability

import (
	"testing"
	"time"
)

func at(h, m int) time.Time {
	return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC)
}

func TestMerge_OverlappingAndTouching(t *testing.T) {
	in := []Interval{
		{Start: at(13, 0), End: at(14, 0)},
		{Start: at(9, 0), End: at(10, 0)},
		{Start: at(9, 30), End: at(11, 0)},
		{Start: at(11, 0), End: at(12, 0)}, // touches previous, merges
	}
	got := Merge(in)
	want := []Interval{
		{Start: at(9, 0), End: at(12, 0)},
		{Start: at(13, 0), End: at(14, 0)},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d intervals, got %d", len(want), len(got))
	}
	for i := range want {
		if !got[i].Start.Equal(want[i].Start) || !got[i].End.Equal(want[i].End) {
			t.Fatalf("interval %d: got [%s, %s), want [%s, %s)",
				i, got[i].Start, got[i].End, want[i].Start, want[i].End)
		}
	}
}

func TestMerge_Idempotent(t *testing.T) {
	in := []Interval{
		{Start: at(10, 0), End: at(10, 30)},
		{Start: at(10, 15), End: at(11, 0)},
		{Start: at(15, 0), End: at(16, 0)},
	}
	once := Merge(in)
	twice := Merge(once)
	if len(once) != len(twice) {
		t.Fatalf("merge not idempotent: %d vs %d intervals", len(once), len(twice))
	}
	for i := range once {
		if !once[i].Start.Equal(twice[i].Start) || !once[i].End.Equal(twice[i].End) {
			t.Fatalf("merge not idempotent at %d", i)
		}
	}
}

func TestMerge_NoResultingOverlap(t *testing.T) {
	in := []Interval{
		{Start: at(9, 0), End: at(9, 45)},
		{Start: at(9, 30), End: at(10, 15)},
		{Start: at(10, 30), End: at(11, 0)},
		{Start: at(10, 45), End: at(12, 0)},
	}
	got := Merge(in)
	for i := 1; i < len(got); i++ {
		if got[i].Start.Before(got[i-1].End) {
			t.Fatalf("merged intervals overlap: [%s,%s) and [%s,%s)",
				got[i-1].Start, got[i-1].End, got[i].Start, got[i].End)
		}
	}
	// Union must be preserved: every input instant stays covered.
	for _, iv := range in {
		if !covered(got, iv.Start) || !covered(got, iv.End.Add(-time.Minute)) {
			t.Fatalf("input interval [%s,%s) no longer covered", iv.Start, iv.End)
		}
	}
}

func TestMerge_Empty(t *testing.T) {
	if got := Merge(nil); len(got) != 0 {
		t.Fatalf("expected empty result, got %d intervals", len(got))
	}
	if got := Merge([]Interval{{Start: at(10, 0), End: at(10, 0)}}); len(got) != 0 {
		t.Fatalf("expected zero-length interval to be dropped, got %d", len(got))
	}
}

func covered(merged []Interval, instant time.Time) bool {
	for _, iv := range merged {
		if !instant.Before(iv.Start) && instant.Before(iv.End) {
			return true
		}
	}
	return false
}
