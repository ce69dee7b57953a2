package retention

import (
	"sort"
	"time"
)

// Evaluate partitions snapshots (given as their timestamps, ascending) into
// a keep/drop mask under expr as observed at now. The returned slice has
// the same length and order as timestamps; mask[i] is true iff
// timestamps[i] should be kept.
//
// Evaluate is a pure function of its three inputs: same (expr, timestamps,
// now) always yields the same mask.
func Evaluate(expr Expression, timestamps []time.Time, now time.Time) []bool {
	keep := make([]bool, len(timestamps))
	if len(timestamps) == 0 {
		return keep
	}

	tierOf := make([]int, len(timestamps))
	for i, ts := range timestamps {
		tierOf[i] = tierIndex(expr, now.Sub(ts))
	}

	byTier := map[int][]int{}
	for i, t := range tierOf {
		byTier[t] = append(byTier[t], i)
	}

	for tier, indices := range byTier {
		rule := expr.Rules[tier]
		switch rule.Keep.Mode {
		case All:
			for _, i := range indices {
				keep[i] = true
			}
		case None:
			// nothing kept
		case Recent:
			keepMostRecent(timestamps, indices, int(rule.Keep.N), keep)
		case Interval:
			keepPerBucket(timestamps, indices, rule.Keep, keep)
		}
	}

	// Global floor: the single most recent snapshot overall is always kept.
	latest := 0
	for i := range timestamps {
		if timestamps[i].After(timestamps[latest]) {
			latest = i
		}
	}
	keep[latest] = true

	return keep
}

// tierIndex returns the index into expr.Rules of the tier with the
// greatest Age <= age. A snapshot younger than every declared age falls
// back to the first (finest-grained) rule: the youngest tier is the
// natural home for "not yet old enough to be covered by anything coarser".
func tierIndex(expr Expression, age time.Duration) int {
	best := -1
	for i, r := range expr.Rules {
		if r.Age <= age {
			best = i
		} else {
			break
		}
	}
	if best == -1 {
		return 0
	}
	return best
}

func keepMostRecent(timestamps []time.Time, indices []int, n int, keep []bool) {
	sorted := make([]int, len(indices))
	copy(sorted, indices)
	sort.Slice(sorted, func(a, b int) bool { return timestamps[sorted[a]].After(timestamps[sorted[b]]) })
	for i := 0; i < len(sorted) && i < n; i++ {
		keep[sorted[i]] = true
	}
}

func keepPerBucket(timestamps []time.Time, indices []int, k Keep, keep []bool) {
	byBucket := map[int64][]int{}
	for _, i := range indices {
		b := bucketKey(timestamps[i], k.Unit, k.Multiplier)
		byBucket[b] = append(byBucket[b], i)
	}
	for _, bucketIndices := range byBucket {
		keepMostRecent(timestamps, bucketIndices, int(k.N), keep)
	}
}

// bucketKey returns the calendar-bucket identifier for t under unit,
// grouping raw unit buckets into runs of multiplier (e.g. multiplier=4 with
// unit=Month groups calendar months into consecutive runs of 4).
func bucketKey(t time.Time, unit Unit, multiplier uint32) int64 {
	u := t.UTC()
	var raw int64
	switch unit {
	case Hour:
		raw = u.Unix() / 3600
	case Day:
		raw = u.Unix() / 86400
	case Week:
		// ISO weeks start Monday. 1970-01-01 was a Thursday; the nearest
		// Monday on or before the epoch is 1969-12-29, i.e. -3 days.
		day := u.Unix() / 86400
		raw = floorDiv(day+3, 7)
	case Month:
		raw = int64(u.Year())*12 + int64(u.Month()) - 1
	case Year:
		raw = int64(u.Year())
	}
	if multiplier <= 1 {
		return raw
	}
	return floorDiv(raw, int64(multiplier))
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
