// Package timeseries downsamples time-ordered points to a bounded count.
package timeseries

import "sort"

// Point timestamped value in unix seconds.
type Point[T any] struct {
	Time  int64
	Value T
}

// Dedup sorts points by time and keeps the last value of every distinct second.
func Dedup[T any](points []Point[T]) []Point[T] {
	if len(points) == 0 {
		return nil
	}
	sorted := make([]Point[T], len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	out := sorted[:0]
	for _, p := range sorted {
		if n := len(out); n > 0 && out[n-1].Time == p.Time {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	return out
}

// Resample reduces points to at most limit entries.
//
// Points are deduplicated by second first. When more than limit remain, limit evenly spaced
// targets are laid over [first, last] and the closest point to every target is kept, the
// earlier point winning ties. The first and last points always survive. A zero time span
// returns the deduplicated points unchanged.
func Resample[T any](points []Point[T], limit int) []Point[T] {
	points = Dedup(points)
	if limit <= 0 || len(points) <= limit {
		return points
	}

	first, last := points[0].Time, points[len(points)-1].Time
	span := last - first
	if span <= 0 {
		return points
	}

	if limit == 1 {
		return points[len(points)-1:]
	}

	out := make([]Point[T], 0, limit)
	steps := int64(limit - 1)
	for i := int64(0); i <= steps; i++ {
		target := first + i*span/steps
		p := points[closest(points, target)]
		if n := len(out); n > 0 && out[n-1].Time == p.Time {
			continue
		}
		out = append(out, p)
	}
	return out
}

// closest returns the index of the point nearest to target in a strictly ascending slice.
func closest[T any](points []Point[T], target int64) int {
	idx := sort.Search(len(points), func(i int) bool { return points[i].Time >= target })
	switch {
	case idx == 0:
		return 0
	case idx == len(points):
		return len(points) - 1
	}
	before, after := target-points[idx-1].Time, points[idx].Time-target
	if before <= after {
		return idx - 1
	}
	return idx
}
