package availability

import (
	"sort"
	"time"
)

// Interval is a half-open busy interval [Start, End) in absolute time.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Merge normalizes an arbitrary interval list into a sorted, non-overlapping
// list covering the same union of time. Merging an already-merged list returns
// an equal list. Intervals with End <= Start are dropped.
func Merge(in []Interval) []Interval {
	valid := make([]Interval, 0, len(in))
	for _, iv := range in {
		if iv.End.After(iv.Start) {
			valid = append(valid, iv)
		}
	}
	if len(valid) == 0 {
		return nil
	}

	sort.Slice(valid, func(i, j int) bool { return valid[i].Start.Before(valid[j].Start) })

	out := make([]Interval, 0, len(valid))
	cur := valid[0]
	for _, iv := range valid[1:] {
		if !iv.Start.After(cur.End) {
			if iv.End.After(cur.End) {
				cur.End = iv.End
			}
			continue
		}
		out = append(out, cur)
		cur = iv
	}
	return append(out, cur)
}
