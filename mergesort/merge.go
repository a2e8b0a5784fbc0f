// Package mergesort merges sorted sequences into one sorted sequence.
package mergesort

import (
	"fmt"
	"iter"

	"reduction.dev/rangemerge/util/ds"
)

// SourceError reports which input sequence failed.
type SourceError struct {
	Index int
	Err   error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("merge source %d: %v", e.Index, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// Merge combines sorted sequences into a single sequence ordered by cmp.
//
// Only the current head of each sequence is held, so memory grows with the
// number of sequences and not with their length. When cmp reports two heads as
// equal the head from the earlier sequence in seqs is yielded first, which
// makes the output order deterministic for a deterministic cmp.
//
// Every sequence is started when iteration begins and is stopped exactly once:
// when it runs out, when the consumer stops early, or when any sequence fails.
// On failure all sequences are stopped before the *SourceError is yielded.
func Merge[T any](seqs []iter.Seq2[T, error], cmp func(a, b T) int) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		// Track each sequence's head along with the index of its sequence.
		type head struct {
			index int
			item  T
		}
		h := ds.NewHeap(func(a, b head) int {
			if c := cmp(a.item, b.item); c != 0 {
				return c
			}
			return a.index - b.index
		}, len(seqs))

		cursors := newCursorList[T](len(seqs))
		defer cursors.stopAll()

		fail := func(index int, err error) {
			cursors.stopAll()
			var zero T
			yield(zero, &SourceError{Index: index, Err: err})
		}

		// Pull the first item from every sequence.
		for i, seq := range seqs {
			c := cursors.start(i, seq)
			item, err, ok := c.next()
			if err != nil {
				fail(i, err)
				return
			}
			if ok {
				h.Push(head{i, item})
			}
		}

		for {
			top, ok := h.Peek()
			if !ok {
				return
			}

			if !yield(top.item, nil) {
				return
			}

			// Advance only the sequence that was just used.
			item, err, ok := cursors.get(top.index).next()
			if err != nil {
				fail(top.index, err)
				return
			}
			if ok {
				h.ReplaceTop(head{top.index, item})
			} else {
				h.Pop()
			}
		}
	}
}
