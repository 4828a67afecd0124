// Package partition splits a requested page range into contiguous, disjoint
// sub-ranges, one per worker. Ranges are pre-partitioned so no distributed
// lock is needed; an accidental overlap degrades to redundant-but-safe work.
package partition

import "fmt"

// Range is an inclusive page range.
type Range struct {
	First int
	Last  int
}

// Pages returns the number of pages in the range.
func (r Range) Pages() int {
	return r.Last - r.First + 1
}

// Contains reports whether the page lies within the range.
func (r Range) Contains(page int) bool {
	return page >= r.First && page <= r.Last
}

// Overlaps reports whether two ranges share any page.
func (r Range) Overlaps(other Range) bool {
	return r.First <= other.Last && other.First <= r.Last
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d]", r.First, r.Last)
}

// Split divides [first,last] into workers contiguous sub-ranges sized to
// balance work evenly, remainder pages going to the first workers. Workers
// beyond the page count get no range.
func Split(first, last, workers int) ([]Range, error) {
	if first < 1 || last < first {
		return nil, fmt.Errorf("invalid page range [%d,%d]", first, last)
	}
	if workers <= 0 {
		return nil, fmt.Errorf("worker count must be positive (got %d)", workers)
	}

	total := last - first + 1
	if workers > total {
		workers = total
	}

	base := total / workers
	remainder := total % workers

	ranges := make([]Range, 0, workers)
	start := first
	for i := 0; i < workers; i++ {
		size := base
		if i < remainder {
			size++
		}
		ranges = append(ranges, Range{First: start, Last: start + size - 1})
		start += size
	}
	return ranges, nil
}
