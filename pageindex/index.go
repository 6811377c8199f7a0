// Package pageindex implements the growing, append-only vector of
// first-short-hash-per-page used to locate pages inside an on-disk vault.
// It is segmented to avoid large reallocations and searches with an
// interpolation probe that falls back to binary search, following
// original_source/include/u64vec.h.
package pageindex

// segmentSize matches u64vec.h's SEGMENT_SIZE = 128*1024/8.
const segmentSize = 128 * 1024 / 8

// binSearchThreshold matches u64vec.h's BINSEARCH_THRES.
const binSearchThreshold = 100

// Index is an append-only vector of uint64, stored as fixed-size segments.
type Index struct {
	segments [][]uint64
	pos      int
}

// New returns an empty index.
func New() *Index {
	return &Index{}
}

// Len returns the number of entries appended.
func (ix *Index) Len() int {
	if len(ix.segments) == 0 {
		return 0
	}
	return (len(ix.segments)-1)*segmentSize + ix.pos
}

// Append adds v as the next entry. Callers must append in non-decreasing
// order to preserve the page-index invariant.
func (ix *Index) Append(v uint64) {
	if len(ix.segments) == 0 || ix.pos == segmentSize {
		ix.segments = append(ix.segments, make([]uint64, segmentSize))
		ix.pos = 0
	}
	ix.segments[len(ix.segments)-1][ix.pos] = v
	ix.pos++
}

// Get returns the i-th entry.
func (ix *Index) Get(i int) uint64 {
	return ix.segments[i/segmentSize][i%segmentSize]
}

// Search returns the largest i with Get(i) <= target, or -1 if no such i
// exists. It begins with a two-point interpolation narrowing and falls back
// to binary search once the bracket shrinks below binSearchThreshold
// entries, per u64vec.h's tenary_search.
func (ix *Index) Search(target uint64) int {
	n := ix.Len()
	if n == 0 || ix.Get(0) > target {
		return -1
	}
	return ix.interpolationSearch(target, ix.Get(0), ix.Get(n-1), 0, n)
}

func (ix *Index) interpolationSearch(target, startValue, endValue uint64, start, end int) int {
	for end-start > binSearchThreshold {
		diffValue := float64(endValue - startValue)
		diffIdx := float64(end - start)
		ratio := float64(target-startValue) / diffValue

		off1 := int(ratio * 0.85 * diffIdx)
		off2 := int(ratio * 1.15 * diffIdx)
		mid1 := start + off1
		mid2 := start + off2

		if start+binSearchThreshold > mid1 ||
			mid1+binSearchThreshold > mid2 ||
			mid2+binSearchThreshold > end {
			break
		}

		mid1Value := ix.Get(mid1)
		mid2Value := ix.Get(mid2)

		switch {
		case target < mid1Value:
			endValue, end = mid2Value, mid2
		case target == mid1Value:
			return mid1
		case target < mid2Value:
			startValue, start = mid1Value, mid1
			endValue, end = mid2Value, mid2
		case target == mid2Value:
			return mid2
		default:
			startValue, start = mid2Value, mid2
		}
	}
	return ix.binarySearch(target, start, end-start)
}

// binarySearch finds the upper-bound index (the first position whose value
// exceeds target) over [low, low+size) and steps back one to return the
// floor index, or low-1 if every entry in range already exceeds target.
func (ix *Index) binarySearch(target uint64, low, size int) int {
	for size > 0 {
		half := size / 2
		probe := low + half
		if ix.Get(probe) <= target {
			low = probe + 1
			size -= half + 1
		} else {
			size = half
		}
	}
	return low - 1
}
