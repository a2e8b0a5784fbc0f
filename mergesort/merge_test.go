package mergesort_test

import (
	"cmp"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"reduction.dev/rangemerge/mergesort"
)

// tracker counts how many sequences were started and how many finished or were
// stopped.
type tracker struct {
	started  int
	released int
}

func (tr *tracker) seq(items []int, failAfter int) iter.Seq2[int, error] {
	return func(yield func(int, error) bool) {
		tr.started++
		defer func() { tr.released++ }()

		for i, item := range items {
			if failAfter >= 0 && i == failAfter {
				yield(0, errors.New("disk failure"))
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

func (tr *tracker) seqs(inputs ...[]int) []iter.Seq2[int, error] {
	seqs := make([]iter.Seq2[int, error], len(inputs))
	for i, input := range inputs {
		seqs[i] = tr.seq(input, -1)
	}
	return seqs
}

func collect[T any](t *testing.T, seq iter.Seq2[T, error]) []T {
	t.Helper()
	var out []T
	for item, err := range seq {
		require.NoError(t, err)
		out = append(out, item)
	}
	return out
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name     string
		inputs   [][]int
		expected []int
	}{
		{
			name:     "empty input",
			inputs:   nil,
			expected: nil,
		},
		{
			name:     "single sequence",
			inputs:   [][]int{{1, 2, 3}},
			expected: []int{1, 2, 3},
		},
		{
			name:     "multiple sequences",
			inputs:   [][]int{{1, 4}, {2, 3}, {5}},
			expected: []int{1, 2, 3, 4, 5},
		},
		{
			name:     "uneven sequences",
			inputs:   [][]int{{1}, {2, 4, 6, 8}, {3, 5, 7}},
			expected: []int{1, 2, 3, 4, 5, 6, 7, 8},
		},
		{
			name:     "with duplicates",
			inputs:   [][]int{{1, 2}, {1, 3, 3}, {2}},
			expected: []int{1, 1, 2, 2, 3, 3},
		},
		{
			name:     "with empty sequences",
			inputs:   [][]int{{}, {9, 10}, {}},
			expected: []int{9, 10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &tracker{}
			result := collect(t, mergesort.Merge(tr.seqs(tt.inputs...), cmp.Compare[int]))
			assert.Equal(t, tt.expected, result)
			assert.Equal(t, len(tt.inputs), tr.started)
			assert.Equal(t, tr.started, tr.released)
		})
	}
}

func TestMerge_TiesFavorEarlierSequences(t *testing.T) {
	type item struct {
		key    int
		source string
	}
	seqOf := func(items ...item) iter.Seq2[item, error] {
		return func(yield func(item, error) bool) {
			for _, it := range items {
				if !yield(it, nil) {
					return
				}
			}
		}
	}

	merged := mergesort.Merge([]iter.Seq2[item, error]{
		seqOf(item{1, "a"}, item{2, "a"}),
		seqOf(item{0, "b"}, item{1, "b"}, item{2, "b"}),
		seqOf(item{1, "c"}),
	}, func(a, b item) int { return cmp.Compare(a.key, b.key) })

	assert.Equal(t, []item{
		{0, "b"}, {1, "a"}, {1, "b"}, {1, "c"}, {2, "a"}, {2, "b"},
	}, collect(t, merged))
}

func TestMerge_CustomOrder(t *testing.T) {
	// Each sequence is sorted descending, so merging with a descending compare
	// keeps the output sorted.
	tr := &tracker{}
	merged := mergesort.Merge(tr.seqs([]int{9, 5, 1}, []int{8, 2}), func(a, b int) int {
		return cmp.Compare(b, a)
	})
	assert.Equal(t, []int{9, 8, 5, 2, 1}, collect(t, merged))
}

func TestMerge_EarlyStopReleasesAll(t *testing.T) {
	tr := &tracker{}
	merged := mergesort.Merge(tr.seqs([]int{1, 4, 7}, []int{2, 5, 8}, []int{3, 6, 9}), cmp.Compare[int])

	var got []int
	for item, err := range merged {
		require.NoError(t, err)
		got = append(got, item)
		if len(got) == 4 {
			break
		}
	}

	assert.Equal(t, []int{1, 2, 3, 4}, got)
	assert.Equal(t, 3, tr.started)
	assert.Equal(t, 3, tr.released)
}

func TestMerge_SourceErrorReleasesAllBeforeYielding(t *testing.T) {
	tr := &tracker{}
	seqs := []iter.Seq2[int, error]{
		tr.seq([]int{1, 3, 5}, -1),
		tr.seq([]int{2, 4, 6}, 2),
		tr.seq([]int{7}, -1),
	}

	var got []int
	var gotErr error
	var releasedAtError int
	for item, err := range mergesort.Merge(seqs, cmp.Compare[int]) {
		if err != nil {
			gotErr = err
			releasedAtError = tr.released
			continue
		}
		got = append(got, item)
	}

	assert.Equal(t, []int{1, 2, 3, 4}, got)
	var srcErr *mergesort.SourceError
	require.ErrorAs(t, gotErr, &srcErr)
	assert.Equal(t, 1, srcErr.Index)
	assert.EqualError(t, gotErr, "merge source 1: disk failure")
	assert.Equal(t, 3, releasedAtError, "all sources released before the error is delivered")
	assert.Equal(t, 3, tr.released)
}

func TestMerge_ErrorOnFirstPull(t *testing.T) {
	tr := &tracker{}
	seqs := []iter.Seq2[int, error]{
		tr.seq([]int{1}, -1),
		tr.seq([]int{2}, 0),
		tr.seq([]int{3}, -1),
	}

	var errs []error
	for _, err := range mergesort.Merge(seqs, cmp.Compare[int]) {
		errs = append(errs, err)
	}

	require.Len(t, errs, 1)
	assert.Error(t, errs[0])
	assert.Equal(t, 2, tr.started, "sources after the failing one are never opened")
	assert.Equal(t, tr.started, tr.released)
}

func TestMerge_IsLazy(t *testing.T) {
	tr := &tracker{}
	_ = mergesort.Merge(tr.seqs([]int{1}, []int{2}), cmp.Compare[int])
	assert.Equal(t, 0, tr.started)
}
