package iteru_test

import (
	"cmp"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"reduction.dev/rangemerge/util/iteru"
)

// failing yields items and then an error.
func failing(items ...int) iter.Seq2[int, error] {
	return func(yield func(int, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
		yield(0, errors.New("boom"))
	}
}

func TestCollect(t *testing.T) {
	items, err := iteru.Collect(iteru.Values([]int{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, items)

	items, err = iteru.Collect(failing(1, 2))
	assert.EqualError(t, err, "boom")
	assert.Equal(t, []int{1, 2}, items)
}

func TestMap(t *testing.T) {
	items, err := iteru.Collect(iteru.Map(iteru.Values([]int{1, 2}), func(i int) int { return i * 10 }))
	require.NoError(t, err)
	assert.Equal(t, []int{10, 20}, items)

	_, err = iteru.Collect(iteru.Map(failing(1), func(i int) int { return i }))
	assert.Error(t, err)
}

func TestSkipAndTake(t *testing.T) {
	values := []int{0, 1, 2, 3, 4, 5, 6}

	tests := []struct {
		name     string
		skip     int
		take     int
		expected []int
	}{
		{"skip only", 3, len(values), []int{3, 4, 5, 6}},
		{"take only", 0, 2, []int{0, 1}},
		{"window", 3, 3, []int{3, 4, 5}},
		{"window past the end", 5, 10, []int{5, 6}},
		{"skip everything", 10, 1, nil},
		{"take nothing", 0, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := iteru.Collect(iteru.Take(iteru.Skip(iteru.Values(values), tt.skip), tt.take))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, items)
		})
	}
}

func TestTake_DoesNotPullPastLimit(t *testing.T) {
	pulled := 0
	seq := func(yield func(int, error) bool) {
		for i := range 10 {
			pulled++
			if !yield(i, nil) {
				return
			}
		}
	}

	items, err := iteru.Collect(iteru.Take(seq, 3))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, items)
	assert.Equal(t, 3, pulled)
}

func TestSkip_PassesErrors(t *testing.T) {
	items, err := iteru.Collect(iteru.Skip(failing(1, 2), 5))
	assert.EqualError(t, err, "boom")
	assert.Empty(t, items)
}

func TestUnique(t *testing.T) {
	byTens := func(a, b int) int { return cmp.Compare(a/10, b/10) }

	items, err := iteru.Collect(iteru.Unique(iteru.Values([]int{1, 1, 2, 2, 2, 3, 1}), cmp.Compare[int]))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 1}, items, "only adjacent duplicates are removed")

	items, err = iteru.Collect(iteru.Unique(iteru.Values([]int{10, 15, 19, 21, 30}), byTens))
	require.NoError(t, err)
	assert.Equal(t, []int{10, 21, 30}, items, "keeps the first item of each run")
}

func TestUnique_Idempotent(t *testing.T) {
	input := []int{1, 1, 2, 3, 3, 3, 4, 5, 5}
	once, err := iteru.Collect(iteru.Unique(iteru.Values(input), cmp.Compare[int]))
	require.NoError(t, err)
	twice, err := iteru.Collect(iteru.Unique(iteru.Unique(iteru.Values(input), cmp.Compare[int]), cmp.Compare[int]))
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}
