// Package ds holds generic data structures shared by the merge pipeline.
package ds

// Heap is a binary min-heap ordered by a compare function.
//
// Started from https://github.com/zyedidia/generic/blob/master/heap/heap.go at 98022f9
type Heap[T any] struct {
	data    []T
	compare func(a, b T) int
}

// CompareFn is a function that returns:
//   - negative value if a < b
//   - zero if a == b
//   - positive value if a > b
type CompareFn[T any] func(a, b T) int

// NewHeap returns a new heap with the given compare function. The heap is not
// stable: callers that need a deterministic order for equal items must break
// ties inside compare.
func NewHeap[T any](compare CompareFn[T], cap int) *Heap[T] {
	return &Heap[T]{
		data:    make([]T, 0, cap),
		compare: compare,
	}
}

// Push pushes the given element onto the heap.
func (h *Heap[T]) Push(x T) {
	h.data = append(h.data, x)
	h.up(len(h.data) - 1)
}

// Pop removes and returns the minimum element from the heap.
func (h *Heap[T]) Pop() (T, bool) {
	var x T
	if h.IsEmpty() {
		return x, false
	}

	x = h.data[0]
	n := len(h.data) - 1
	h.data[0] = h.data[n]
	var zero T
	h.data[n] = zero
	h.data = h.data[:n]
	if n > 0 {
		h.down(0)
	}
	return x, true
}

// Peek returns the minimum element from the heap without removing it. if the
// heap is empty, it returns zero value and false.
func (h *Heap[T]) Peek() (T, bool) {
	if h.IsEmpty() {
		var x T
		return x, false
	}

	return h.data[0], true
}

// ReplaceTop swaps the minimum element for x and restores heap order. It is
// cheaper than a Pop followed by a Push when advancing one of several merged
// cursors. Panics on an empty heap.
func (h *Heap[T]) ReplaceTop(x T) {
	if h.IsEmpty() {
		panic("ds.Heap: ReplaceTop on empty heap")
	}
	h.data[0] = x
	h.down(0)
}

// Size returns the number of elements in the heap.
func (h *Heap[T]) Size() int {
	return len(h.data)
}

func (h *Heap[T]) IsEmpty() bool {
	return h.Size() == 0
}

func (h *Heap[T]) down(i int) {
	for {
		left, right := 2*i+1, 2*i+2
		if left >= len(h.data) || left < 0 { // `left < 0` in case of overflow
			return
		}

		// find the smallest child
		j := left
		if right < len(h.data) && h.compare(h.data[right], h.data[left]) < 0 {
			j = right
		}

		if h.compare(h.data[j], h.data[i]) >= 0 {
			return
		}

		h.data[i], h.data[j] = h.data[j], h.data[i]
		i = j
	}
}

func (h *Heap[T]) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if h.compare(h.data[i], h.data[parent]) >= 0 {
			return
		}

		h.data[i], h.data[parent] = h.data[parent], h.data[i]
		i = parent
	}
}
