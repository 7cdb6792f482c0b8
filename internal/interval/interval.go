// Package interval implements closed-closed integer interval algebra over
// synced block ranges: union, many-way intersection, and difference.
package interval

import "sort"

// Interval is a closed-closed [Start, End] range over block numbers.
type Interval struct {
	Start uint64
	End   uint64
}

// Union returns the minimal sorted list of disjoint intervals covering xs.
// Idempotent and commutative: Union(Union(xs)) == Union(xs) for any
// ordering of xs.
func Union(xs []Interval) []Interval {
	if len(xs) == 0 {
		return nil
	}

	sorted := make([]Interval, len(xs))
	copy(sorted, xs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	out := make([]Interval, 0, len(sorted))
	cur := sorted[0]
	for _, iv := range sorted[1:] {
		if iv.Start > cur.End+1 {
			// gap: cur ends before iv begins (allowing adjacency to merge)
			out = append(out, cur)
			cur = iv
			continue
		}
		if iv.End > cur.End {
			cur.End = iv.End
		}
	}
	out = append(out, cur)
	return out
}

// IntersectionMany returns the pointwise intersection of a set of
// already-disjoint, sorted interval lists.
func IntersectionMany(xss [][]Interval) []Interval {
	if len(xss) == 0 {
		return nil
	}
	result := Union(xss[0])
	for _, xs := range xss[1:] {
		result = intersectTwo(result, Union(xs))
		if len(result) == 0 {
			return nil
		}
	}
	return result
}

func intersectTwo(a, b []Interval) []Interval {
	var out []Interval
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		start := max64(a[i].Start, b[j].Start)
		end := min64(a[i].End, b[j].End)
		if start <= end {
			out = append(out, Interval{Start: start, End: end})
		}
		if a[i].End < b[j].End {
			i++
		} else {
			j++
		}
	}
	return out
}

// Difference returns a minus b: the parts of a's coverage not covered by b.
// Both inputs are first unioned.
func Difference(a, b []Interval) []Interval {
	ua := Union(a)
	ub := Union(b)
	if len(ub) == 0 {
		return ua
	}

	var out []Interval
	for _, iv := range ua {
		cur := iv
		for _, sub := range ub {
			if sub.End < cur.Start || sub.Start > cur.End {
				continue
			}
			if sub.Start > cur.Start {
				out = append(out, Interval{Start: cur.Start, End: sub.Start - 1})
			}
			if sub.End >= cur.End {
				cur.End = sub.End
				cur.Start = cur.End + 1 // marks the remainder as empty
				break
			}
			cur.Start = sub.End + 1
		}
		if cur.Start <= cur.End {
			out = append(out, cur)
		}
	}
	return out
}

// Truncate clamps every interval whose End exceeds fromBlock down to
// fromBlock, and drops every interval whose Start exceeds fromBlock
// entirely. Used to roll back interval bookkeeping on a reorg/delete.
func Truncate(xs []Interval, fromBlock uint64) []Interval {
	out := make([]Interval, 0, len(xs))
	for _, iv := range xs {
		if iv.Start > fromBlock {
			continue
		}
		if iv.End > fromBlock {
			iv.End = fromBlock
		}
		out = append(out, iv)
	}
	return out
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
