package mergesort

import "iter"

// cursor is a pull iterator over one input sequence.
type cursor[T any] struct {
	next func() (T, error, bool)
	stop func()
}

// cursorList owns the pull iterators of a merge and stops each of them at most
// once.
type cursorList[T any] struct {
	cursors []*cursor[T]
}

func newCursorList[T any](n int) *cursorList[T] {
	return &cursorList[T]{cursors: make([]*cursor[T], n)}
}

func (l *cursorList[T]) start(i int, seq iter.Seq2[T, error]) *cursor[T] {
	next, stop := iter.Pull2(seq)
	l.cursors[i] = &cursor[T]{next: next, stop: stop}
	return l.cursors[i]
}

func (l *cursorList[T]) get(i int) *cursor[T] {
	return l.cursors[i]
}

func (l *cursorList[T]) stopAll() {
	for i, c := range l.cursors {
		if c == nil {
			continue
		}
		c.stop()
		l.cursors[i] = nil
	}
}
