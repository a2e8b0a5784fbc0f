// Package iteru has helpers for fallible sequences, iter.Seq2[T, error], where
// a non-nil error is the last item of the sequence.
package iteru

import (
	"iter"
)

// Values yields each item of the slice without error.
func Values[T any](items []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}

// Collect gathers all items, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var items []T
	for item, err := range seq {
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Map applies f to every item and passes errors through.
func Map[T, U any](seq iter.Seq2[T, error], f func(T) U) iter.Seq2[U, error] {
	return func(yield func(U, error) bool) {
		for item, err := range seq {
			if err != nil {
				var zero U
				yield(zero, err)
				return
			}
			if !yield(f(item), nil) {
				return
			}
		}
	}
}

// Skip discards the first n items.
func Skip[T any](seq iter.Seq2[T, error], n int) iter.Seq2[T, error] {
	if n <= 0 {
		return seq
	}
	return func(yield func(T, error) bool) {
		skipped := 0
		for item, err := range seq {
			if err == nil && skipped < n {
				skipped++
				continue
			}
			if !yield(item, err) || err != nil {
				return
			}
		}
	}
}

// Take yields at most n items and then stops the upstream sequence without
// pulling another item from it. Take with n <= 0 never starts seq.
func Take[T any](seq iter.Seq2[T, error], n int) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		if n <= 0 {
			return
		}
		taken := 0
		for item, err := range seq {
			if !yield(item, err) || err != nil {
				return
			}
			taken++
			if taken == n {
				return
			}
		}
	}
}

// Unique drops every item that cmp reports equal to the item retained before
// it, so each run of adjacent equal items collapses to its first item.
func Unique[T any](seq iter.Seq2[T, error], cmp func(a, b T) int) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var prev T
		retained := false
		for item, err := range seq {
			if err != nil {
				yield(item, err)
				return
			}
			if retained && cmp(prev, item) == 0 {
				continue
			}
			prev, retained = item, true
			if !yield(item, nil) {
				return
			}
		}
	}
}
