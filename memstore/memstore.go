// Package memstore is an in-memory ordered key-value store backed by a B-tree.
package memstore

import (
	"bytes"
	"context"
	"iter"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/btree"
	"reduction.dev/rangemerge/kv"
)

var (
	scansTotal   = metrics.NewCounter(`kv_scans_total{backend="memory"}`)
	scannedTotal = metrics.NewCounter(`kv_scanned_entries_total{backend="memory"}`)
)

type item struct {
	key   []byte
	value []byte
}

func itemLess(a, b item) bool {
	return bytes.Compare(a.key, b.key) < 0
}

type Store struct {
	mu     sync.RWMutex
	tree   *btree.BTreeG[item]
	closed bool
}

func New() *Store {
	return &Store{
		tree: btree.NewG(32, itemLess),
	}
}

// Put stores value under key. Both are kept as given, in stored form.
func (s *Store) Put(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kv.ErrClosed
	}
	s.tree.ReplaceOrInsert(item{bytes.Clone(key), bytes.Clone(value)})
	return nil
}

func (s *Store) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kv.ErrClosed
	}
	s.tree.Delete(item{key: key})
	return nil
}

func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, kv.ErrClosed
	}
	it, ok := s.tree.Get(item{key: key})
	if !ok {
		return nil, kv.ErrNotFound
	}
	return bytes.Clone(it.value), nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Scan iterates over a copy-on-write snapshot taken when iteration starts, so
// writes made while a scan is open are not visible to it.
func (s *Store) Scan(ctx context.Context, r kv.Range, opts kv.ScanOptions) iter.Seq2[kv.Entry, error] {
	return func(yield func(kv.Entry, error) bool) {
		lower, upper, err := opts.StoredBounds(r)
		if err != nil {
			yield(kv.Entry{}, err)
			return
		}

		// Clone marks the shared nodes copy-on-write, which mutates the tree.
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			yield(kv.Entry{}, kv.ErrClosed)
			return
		}
		snapshot := s.tree.Clone()
		s.mu.Unlock()
		scansTotal.Inc()

		var stopErr error
		emitted := 0
		visit := func(it item) bool {
			if err := ctx.Err(); err != nil {
				stopErr = err
				return false
			}
			e, err := opts.DecodeEntry(it.key, func() ([]byte, error) { return it.value, nil })
			if err != nil {
				stopErr = err
				return false
			}
			scannedTotal.Inc()
			if !yield(e, nil) {
				return false
			}
			emitted++
			return opts.Limit <= 0 || emitted < opts.Limit
		}

		switch {
		case lower != nil && upper != nil:
			if bytes.Compare(lower, upper) < 0 {
				snapshot.AscendRange(item{key: lower}, item{key: upper}, visit)
			}
		case lower != nil:
			snapshot.AscendGreaterOrEqual(item{key: lower}, visit)
		case upper != nil:
			snapshot.AscendLessThan(item{key: upper}, visit)
		default:
			snapshot.Ascend(visit)
		}

		if stopErr != nil {
			yield(kv.Entry{}, stopErr)
		}
	}
}

var _ kv.Store = (*Store)(nil)
