package mergedread_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"reduction.dev/rangemerge/codec"
	"reduction.dev/rangemerge/kv"
	"reduction.dev/rangemerge/memstore"
	"reduction.dev/rangemerge/mergedread"
	"reduction.dev/rangemerge/util/iteru"
)

// trackingStore records every scan it opens and releases. failAfter makes the
// scan of the range with the matching start fail after that many entries.
type trackingStore struct {
	kv.Store

	mu        sync.Mutex
	opened    int
	released  int
	scanOpts  []kv.ScanOptions
	failStart string
	failAfter int
}

func (s *trackingStore) Scan(ctx context.Context, r kv.Range, opts kv.ScanOptions) iter.Seq2[kv.Entry, error] {
	inner := s.Store.Scan(ctx, r, opts)
	return func(yield func(kv.Entry, error) bool) {
		s.mu.Lock()
		s.opened++
		s.scanOpts = append(s.scanOpts, opts)
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			s.released++
			s.mu.Unlock()
		}()

		n := 0
		for e, err := range inner {
			if s.failStart != "" && string(r.Start) == s.failStart && n == s.failAfter {
				yield(kv.Entry{}, errors.New("disk failure"))
				return
			}
			if !yield(e, err) {
				return
			}
			n++
		}
	}
}

func (s *trackingStore) assertBalanced(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, s.opened, s.released, "every opened scan is released exactly once")
}

// newFixture loads a0:0 c1:1 b2:2 b3:3 a4:4 a5:5 c6:6.
func newFixture(t *testing.T, extra ...string) *trackingStore {
	t.Helper()
	s := memstore.New()
	for i, k := range []string{"a0", "c1", "b2", "b3", "a4", "a5", "c6"} {
		require.NoError(t, s.Put([]byte(k), []byte(fmt.Sprint(i))))
	}
	for i := 0; i+1 < len(extra); i += 2 {
		require.NoError(t, s.Put([]byte(extra[i]), []byte(extra[i+1])))
	}
	return &trackingStore{Store: s}
}

func r(start, end string) kv.Range {
	var rng kv.Range
	if start != "" {
		rng.Start = []byte(start)
	}
	if end != "" {
		rng.End = []byte(end)
	}
	return rng
}

// The four fixture ranges: [b,c) [c,inf) (-inf,b) and the empty [d,e).
var fixtureRanges = []kv.Range{r("b", "c"), r("c", ""), r("", "b"), r("d", "e")}

// subkey ignores the first character of each key.
var subkey = mergedread.DropPrefix(1)

func collect(t *testing.T, seq iter.Seq2[kv.Entry, error], field func(kv.Entry) []byte) []string {
	t.Helper()
	out := []string{}
	for e, err := range seq {
		require.NoError(t, err)
		out = append(out, string(field(e)))
	}
	return out
}

func key(e kv.Entry) []byte   { return e.Key }
func value(e kv.Entry) []byte { return e.Value }

func read(t *testing.T, store kv.Store, opts mergedread.Options) iter.Seq2[kv.Entry, error] {
	t.Helper()
	seq, err := mergedread.New(store).Read(context.Background(), opts)
	require.NoError(t, err)
	return seq
}

func TestRead_Fixture(t *testing.T) {
	tests := []struct {
		name     string
		opts     mergedread.Options
		field    func(kv.Entry) []byte
		expected []string
	}{
		{
			name:     "merge one range",
			opts:     mergedread.Options{Ranges: []kv.Range{r("c", "d")}, Projection: subkey},
			field:    value,
			expected: []string{"1", "6"},
		},
		{
			name:     "merge two ranges",
			opts:     mergedread.Options{Ranges: []kv.Range{r("a", "b"), r("c", "d")}, Projection: subkey},
			field:    value,
			expected: []string{"0", "1", "4", "5", "6"},
		},
		{
			name:     "merge all ranges",
			opts:     mergedread.Options{Ranges: fixtureRanges, Projection: subkey},
			field:    value,
			expected: []string{"0", "1", "2", "3", "4", "5", "6"},
		},
		{
			name:     "limit",
			opts:     mergedread.Options{Ranges: fixtureRanges, Projection: subkey, Limit: 4},
			field:    value,
			expected: []string{"0", "1", "2", "3"},
		},
		{
			name:     "skip and limit",
			opts:     mergedread.Options{Ranges: fixtureRanges, Projection: subkey, Skip: 3, Limit: 3},
			field:    value,
			expected: []string{"3", "4", "5"},
		},
		{
			name:     "skip only",
			opts:     mergedread.Options{Ranges: fixtureRanges, Projection: subkey, Skip: 5},
			field:    value,
			expected: []string{"5", "6"},
		},
		{
			name:     "skip past the end",
			opts:     mergedread.Options{Ranges: fixtureRanges, Skip: 10, Limit: 2},
			field:    value,
			expected: []string{},
		},
		{
			name:     "order by key by default",
			opts:     mergedread.Options{Ranges: fixtureRanges},
			field:    key,
			expected: []string{"a0", "a4", "a5", "b2", "b3", "c1", "c6"},
		},
		{
			name:     "custom comparator",
			opts:     mergedread.Options{Ranges: fixtureRanges, Comparator: mergedread.Descending, Projection: subkey},
			field:    key,
			expected: []string{"b2", "b3", "c1", "c6", "a0", "a4", "a5"},
		},
		{
			name:     "fallback without ranges honors skip and limit",
			opts:     mergedread.Options{Skip: 2, Limit: 3},
			field:    key,
			expected: []string{"a5", "b2", "b3"},
		},
		{
			name:     "fallback without ranges",
			opts:     mergedread.Options{},
			field:    value,
			expected: []string{"0", "4", "5", "2", "3", "1", "6"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFixture(t)
			assert.Equal(t, tt.expected, collect(t, read(t, store, tt.opts), tt.field))
			store.assertBalanced(t)
		})
	}
}

func TestRead_DescendingComparatorMergesHeadsOnly(t *testing.T) {
	// Each scan is ascending, so a descending comparator can't produce a
	// globally descending order. The merge still only compares current heads and
	// emits every entry exactly once.
	store := newFixture(t)
	got := collect(t, read(t, store, mergedread.Options{Ranges: fixtureRanges, Comparator: mergedread.Descending}), key)
	assert.ElementsMatch(t, []string{"a0", "a4", "a5", "b2", "b3", "c1", "c6"}, got)
	store.assertBalanced(t)
}

func TestRead_EarlyStop(t *testing.T) {
	store := newFixture(t)

	var got []string
	for e, err := range read(t, store, mergedread.Options{Ranges: fixtureRanges, Projection: subkey}) {
		require.NoError(t, err)
		got = append(got, string(e.Value))
		if len(got) == 3 {
			break
		}
	}

	assert.Equal(t, []string{"0", "1", "2"}, got)
	assert.Equal(t, 4, store.opened)
	store.assertBalanced(t)
}

func TestRead_SkipLimitDoesNotStarveScans(t *testing.T) {
	store := newFixture(t)

	got := collect(t, read(t, store, mergedread.Options{
		Ranges:     fixtureRanges,
		Projection: subkey,
		Skip:       3,
		Limit:      1,
	}), value)

	// "3" comes from the [b,c) scan after it has already produced "2". A scan
	// capped at the limit alone would close before reaching it.
	assert.Equal(t, []string{"3"}, got)
	for _, opts := range store.scanOpts {
		assert.Equal(t, 4, opts.Limit)
	}
	store.assertBalanced(t)
}

func TestRead_ScanLimits(t *testing.T) {
	tests := []struct {
		name      string
		opts      mergedread.Options
		scanLimit int
	}{
		{"no limit", mergedread.Options{Ranges: fixtureRanges, Skip: 3}, 0},
		{"limit only", mergedread.Options{Ranges: fixtureRanges, Limit: 2}, 2},
		{"skip and limit", mergedread.Options{Ranges: fixtureRanges, Skip: 3, Limit: 2}, 5},
		{"dedupe is never capped", mergedread.Options{Ranges: fixtureRanges, Skip: 3, Limit: 2, Dedupe: true}, 0},
		{"fallback", mergedread.Options{Skip: 2, Limit: 3}, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFixture(t)
			collect(t, read(t, store, tt.opts), key)
			require.NotEmpty(t, store.scanOpts)
			for _, opts := range store.scanOpts {
				assert.Equal(t, tt.scanLimit, opts.Limit)
			}
		})
	}
}

func TestRead_TiesFavorEarlierRanges(t *testing.T) {
	// b0 and a0 have the same subkey. b0 comes from [b,c), which is listed
	// before (-inf,b), so it is emitted first.
	store := newFixture(t, "b0", "9")

	got := collect(t, read(t, store, mergedread.Options{
		Ranges:     fixtureRanges,
		Projection: subkey,
		Limit:      4,
	}), key)

	assert.Equal(t, []string{"b0", "a0", "c1", "b2"}, got)
	store.assertBalanced(t)
}

func TestRead_OverlappingRanges(t *testing.T) {
	overlapping := []kv.Range{r("a", "b"), r("a", "b")}

	t.Run("keeps duplicates", func(t *testing.T) {
		store := newFixture(t, "b0", "9")
		got := collect(t, read(t, store, mergedread.Options{Ranges: overlapping}), key)
		assert.Equal(t, []string{"a0", "a0", "a4", "a4", "a5", "a5"}, got)
		store.assertBalanced(t)
	})

	t.Run("dedupe", func(t *testing.T) {
		store := newFixture(t, "b0", "9")
		got := collect(t, read(t, store, mergedread.Options{Ranges: overlapping, Dedupe: true}), key)
		assert.Equal(t, []string{"a0", "a4", "a5"}, got)
		store.assertBalanced(t)
	})

	t.Run("dedupe before window", func(t *testing.T) {
		store := newFixture(t)
		got := collect(t, read(t, store, mergedread.Options{Ranges: overlapping, Dedupe: true, Skip: 1, Limit: 1}), key)
		assert.Equal(t, []string{"a4"}, got)
		store.assertBalanced(t)
	})
}

func TestRead_DedupeByProjection(t *testing.T) {
	store := newFixture(t, "b0", "9")
	got := collect(t, read(t, store, mergedread.Options{
		Ranges:     fixtureRanges,
		Projection: subkey,
		Dedupe:     true,
	}), key)
	assert.Equal(t, []string{"b0", "c1", "b2", "b3", "a4", "a5", "c6"}, got)
	store.assertBalanced(t)
}

func TestRead_Shapes(t *testing.T) {
	ctx := context.Background()

	t.Run("keys", func(t *testing.T) {
		store := newFixture(t)
		seq, err := mergedread.New(store).Keys(ctx, mergedread.Options{Ranges: fixtureRanges[:2]})
		require.NoError(t, err)
		keys, err := iteru.Collect(seq)
		require.NoError(t, err)
		assert.Equal(t, [][]byte{[]byte("b2"), []byte("b3"), []byte("c1"), []byte("c6")}, keys)
		for _, opts := range store.scanOpts {
			assert.True(t, opts.Keys)
			assert.False(t, opts.Values, "values are not fetched for a key read")
		}
		store.assertBalanced(t)
	})

	t.Run("values force keys for merging", func(t *testing.T) {
		store := newFixture(t)
		seq, err := mergedread.New(store).Values(ctx, mergedread.Options{Ranges: fixtureRanges, Projection: subkey})
		require.NoError(t, err)
		values, err := iteru.Collect(seq)
		require.NoError(t, err)
		assert.Len(t, values, 7)
		assert.Equal(t, []byte("0"), values[0])
		for _, opts := range store.scanOpts {
			assert.True(t, opts.Keys)
			assert.True(t, opts.Values)
		}
		store.assertBalanced(t)
	})

	t.Run("values read strips keys", func(t *testing.T) {
		store := newFixture(t)
		seq, err := mergedread.New(store).Read(ctx, mergedread.Options{Ranges: fixtureRanges, Shape: mergedread.ShapeValues, Limit: 1})
		require.NoError(t, err)
		entries, err := iteru.Collect(seq)
		require.NoError(t, err)
		assert.Equal(t, []kv.Entry{{Value: []byte("0")}}, entries)
	})

	t.Run("fallback values don't need keys", func(t *testing.T) {
		store := newFixture(t)
		seq, err := mergedread.New(store).Values(ctx, mergedread.Options{Limit: 2})
		require.NoError(t, err)
		values, err := iteru.Collect(seq)
		require.NoError(t, err)
		assert.Equal(t, [][]byte{[]byte("0"), []byte("4")}, values)
		require.Len(t, store.scanOpts, 1)
		assert.False(t, store.scanOpts[0].Keys)
	})

	t.Run("entries", func(t *testing.T) {
		store := newFixture(t)
		seq, err := mergedread.New(store).Entries(ctx, mergedread.Options{Ranges: []kv.Range{r("c", "")}, Shape: mergedread.ShapeKeys})
		require.NoError(t, err)
		entries, err := iteru.Collect(seq)
		require.NoError(t, err)
		assert.Equal(t, []kv.Entry{{Key: []byte("c1"), Value: []byte("1")}, {Key: []byte("c6"), Value: []byte("6")}}, entries)
	})
}

func TestRead_Encodings(t *testing.T) {
	// Callers address keys and values in hex while the store holds raw bytes.
	store := newFixture(t)
	got := collect(t, read(t, store, mergedread.Options{
		Ranges: []kv.Range{
			{Start: []byte("61"), End: []byte("6134"), EndInclusive: true},
			{Start: []byte("63")},
		},
		Projection:    mergedread.DropPrefix(2),
		Skip:          1,
		Limit:         3,
		KeyEncoding:   codec.Hex,
		ValueEncoding: codec.Hex,
	}), value)

	// c1 a4 c6
	assert.Equal(t, []string{"31", "34", "36"}, got)
	store.assertBalanced(t)
}

func TestRead_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts mergedread.Options
	}{
		{"negative skip", mergedread.Options{Skip: -1}},
		{"negative limit", mergedread.Options{Limit: -1}},
		{"unknown shape", mergedread.Options{Shape: mergedread.Shape(9)}},
		{"inverted range", mergedread.Options{Ranges: []kv.Range{r("c", "b")}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFixture(t)
			_, err := mergedread.New(store).Read(context.Background(), tt.opts)
			assert.ErrorIs(t, err, mergedread.ErrInvalidOptions)
			assert.Equal(t, 0, store.opened, "nothing is scanned for invalid options")
		})
	}
}

func TestRead_ScanError(t *testing.T) {
	store := newFixture(t)
	store.failStart = "c"
	store.failAfter = 1

	var got []string
	var gotErr error
	var releasedAtError int
	for e, err := range read(t, store, mergedread.Options{Ranges: fixtureRanges, Projection: subkey}) {
		if err != nil {
			gotErr = err
			releasedAtError = store.released
			continue
		}
		got = append(got, string(e.Value))
	}

	// [c,inf) fails when asked for the entry after c1.
	assert.Equal(t, []string{"0", "1"}, got)
	require.Error(t, gotErr)
	assert.Contains(t, gotErr.Error(), "scan [c,+inf): disk failure")
	assert.Equal(t, 4, releasedAtError, "all scans released before the error is delivered")
	store.assertBalanced(t)
}

func TestRead_ContextCanceled(t *testing.T) {
	store := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seq, err := mergedread.New(store).Read(ctx, mergedread.Options{Ranges: fixtureRanges, Projection: subkey})
	require.NoError(t, err)

	var got []string
	var gotErr error
	for e, err := range seq {
		if err != nil {
			gotErr = err
			continue
		}
		got = append(got, string(e.Value))
		if len(got) == 2 {
			cancel()
		}
	}

	assert.Equal(t, []string{"0", "1"}, got)
	assert.ErrorIs(t, gotErr, context.Canceled)
	store.assertBalanced(t)
}

func TestRead_CanceledBeforeStart(t *testing.T) {
	store := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	seq, err := mergedread.New(store).Read(ctx, mergedread.Options{Ranges: fixtureRanges})
	require.NoError(t, err)
	_, err = iteru.Collect(seq)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, store.opened)
}

func TestRead_IsLazyAndReusable(t *testing.T) {
	store := newFixture(t)
	seq := read(t, store, mergedread.Options{Ranges: fixtureRanges, Limit: 2})
	assert.Equal(t, 0, store.opened, "nothing is scanned until iteration")

	first := collect(t, seq, key)
	second := collect(t, seq, key)
	assert.Equal(t, first, second)
	assert.Equal(t, 8, store.opened)
	store.assertBalanced(t)
}

func TestRead_ConcurrentReads(t *testing.T) {
	store := newFixture(t)
	reader := mergedread.New(store)

	var wg sync.WaitGroup
	results := make([][]string, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := reader.Keys(context.Background(), mergedread.Options{Ranges: fixtureRanges})
			if err != nil {
				return
			}
			keys, err := iteru.Collect(seq)
			if err != nil {
				return
			}
			for _, k := range keys {
				results[i] = append(results[i], string(k))
			}
		}()
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, []string{"a0", "a4", "a5", "b2", "b3", "c1", "c6"}, got)
	}
	store.assertBalanced(t)
}

func TestRead_RandomRanges(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	store := memstore.New()
	for i := range 200 {
		k := fmt.Sprintf("%c%03d", 'a'+rune(rng.IntN(6)), rng.IntN(100))
		require.NoError(t, store.Put([]byte(k), []byte(fmt.Sprint(i))))
	}
	randomKey := func() string {
		return fmt.Sprintf("%c%03d", 'a'+rune(rng.IntN(6)), rng.IntN(100))
	}
	cmp := func(a, b kv.Entry) int { return bytes.Compare(a.Key, b.Key) }

	for trial := range 50 {
		ranges := make([]kv.Range, 1+rng.IntN(5))
		for i := range ranges {
			a, b := randomKey(), randomKey()
			if a > b {
				a, b = b, a
			}
			ranges[i] = r(a, b)
		}
		opts := mergedread.Options{Ranges: ranges}

		// Merging is a stable sort of the scans concatenated in range order.
		var expected []kv.Entry
		for _, rg := range ranges {
			scanned, err := iteru.Collect(store.Scan(context.Background(), rg, kv.ScanOptions{Keys: true, Values: true}))
			require.NoError(t, err)
			expected = append(expected, scanned...)
		}
		slices.SortStableFunc(expected, cmp)

		full, err := iteru.Collect(read(t, store, opts))
		require.NoError(t, err)
		assert.Equal(t, keysOf(expected), keysOf(full), "trial %d", trial)

		skip, limit := rng.IntN(len(full)+2), 1+rng.IntN(10)
		opts.Skip, opts.Limit = skip, limit
		windowed, err := iteru.Collect(read(t, store, opts))
		require.NoError(t, err)
		lo, hi := min(skip, len(full)), min(skip+limit, len(full))
		assert.Equal(t, keysOf(full[lo:hi]), keysOf(windowed), "trial %d skip %d limit %d", trial, skip, limit)

		opts.Skip, opts.Limit, opts.Dedupe = 0, 0, true
		deduped, err := iteru.Collect(read(t, store, opts))
		require.NoError(t, err)
		assert.Equal(t, slices.Compact(keysOf(full)), keysOf(deduped), "trial %d", trial)
	}
}

func keysOf(entries []kv.Entry) []string {
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = string(e.Key) + ":" + string(e.Value)
	}
	return keys
}
