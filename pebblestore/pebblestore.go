// Package pebblestore serves range scans from a Pebble database.
package pebblestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"reduction.dev/rangemerge/kv"
)

var (
	scansTotal   = metrics.NewCounter(`kv_scans_total{backend="pebble"}`)
	scannedTotal = metrics.NewCounter(`kv_scanned_entries_total{backend="pebble"}`)
)

type Params struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir      string
	InMemory bool
	// CacheSize in bytes for the block cache. Defaults to 64MB.
	CacheSize int64
	// Sync makes every write durable before returning.
	Sync bool
}

type Store struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions

	mu     sync.RWMutex
	closed bool
	// scans counts open iterators. Close waits for them.
	scans sync.WaitGroup
}

func Open(params Params) (*Store, error) {
	cacheSize := params.CacheSize
	if cacheSize == 0 {
		cacheSize = 64 << 20
	}
	cache := pebble.NewCache(cacheSize)
	defer cache.Unref()

	opts := &pebble.Options{Cache: cache}
	dir := params.Dir
	if params.InMemory {
		opts.FS = vfs.NewMem()
		dir = ""
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble at %q: %w", dir, err)
	}

	writeOpts := pebble.NoSync
	if params.Sync {
		writeOpts = pebble.Sync
	}
	return &Store{db: db, writeOpts: writeOpts}, nil
}

func (s *Store) Put(key, value []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return kv.ErrClosed
	}
	return s.db.Set(key, value, s.writeOpts)
}

// PutAll writes all entries in one batch.
func (s *Store) PutAll(entries []kv.Entry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return kv.ErrClosed
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, e := range entries {
		if err := batch.Set(e.Key, e.Value, nil); err != nil {
			return err
		}
	}
	return batch.Commit(s.writeOpts)
}

func (s *Store) Delete(key []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return kv.ErrClosed
	}
	return s.db.Delete(key, s.writeOpts)
}

func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, kv.ErrClosed
	}
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return bytes.Clone(value), nil
}

// Close rejects new scans and waits for open ones to finish before closing the
// database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.scans.Wait()
	return s.db.Close()
}

// Scan reads from a Pebble iterator bounded to the range. The iterator sees a
// consistent view of the database as of when iteration starts and is closed
// when the sequence ends.
func (s *Store) Scan(ctx context.Context, r kv.Range, opts kv.ScanOptions) iter.Seq2[kv.Entry, error] {
	return func(yield func(kv.Entry, error) bool) {
		lower, upper, err := opts.StoredBounds(r)
		if err != nil {
			yield(kv.Entry{}, err)
			return
		}
		if lower != nil && upper != nil && bytes.Compare(lower, upper) >= 0 {
			return
		}

		it, err := s.openIter(lower, upper)
		if err != nil {
			yield(kv.Entry{}, err)
			return
		}
		var closeErr error
		release := sync.OnceFunc(func() {
			closeErr = it.Close()
			s.scans.Done()
		})
		defer release()
		scansTotal.Inc()

		var scanErr error
		stopped := false
		emitted := 0
		for valid := it.First(); valid; valid = it.Next() {
			if scanErr = ctx.Err(); scanErr != nil {
				break
			}
			var e kv.Entry
			if e, scanErr = opts.DecodeEntry(it.Key(), it.ValueAndErr); scanErr != nil {
				break
			}
			scannedTotal.Inc()
			if !yield(e, nil) {
				stopped = true
				break
			}
			emitted++
			if opts.Limit > 0 && emitted >= opts.Limit {
				break
			}
		}

		// Release before reporting so a caller can Close on error.
		release()
		if stopped {
			return
		}
		if scanErr == nil {
			scanErr = closeErr
		}
		if scanErr != nil {
			yield(kv.Entry{}, scanErr)
		}
	}
}

// openIter registers a scan and opens its iterator. The caller calls
// s.scans.Done after closing it.
func (s *Store) openIter(lower, upper []byte) (*pebble.Iterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, kv.ErrClosed
	}
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("pebble iterator: %w", err)
	}
	s.scans.Add(1)
	return it, nil
}

var _ kv.Store = (*Store)(nil)
