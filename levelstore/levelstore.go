// Package levelstore serves range scans from a LevelDB database.
package levelstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"reduction.dev/rangemerge/kv"
)

var (
	scansTotal   = metrics.NewCounter(`kv_scans_total{backend="leveldb"}`)
	scannedTotal = metrics.NewCounter(`kv_scanned_entries_total{backend="leveldb"}`)
)

type Params struct {
	Dir      string
	InMemory bool
	Sync     bool
}

type Store struct {
	db        *leveldb.DB
	writeOpts *opt.WriteOptions

	mu     sync.RWMutex
	closed bool
	// scans counts open iterators. Close waits for them.
	scans sync.WaitGroup
}

func Open(params Params) (*Store, error) {
	var db *leveldb.DB
	var err error
	if params.InMemory {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(params.Dir, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %q: %w", params.Dir, err)
	}
	return &Store{db: db, writeOpts: &opt.WriteOptions{Sync: params.Sync}}, nil
}

func (s *Store) Put(key, value []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return kv.ErrClosed
	}
	return s.db.Put(key, value, s.writeOpts)
}

// PutAll writes all entries in one batch.
func (s *Store) PutAll(entries []kv.Entry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return kv.ErrClosed
	}
	batch := new(leveldb.Batch)
	for _, e := range entries {
		batch.Put(e.Key, e.Value)
	}
	return s.db.Write(batch, s.writeOpts)
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
	value, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, kv.ErrNotFound
	}
	return value, err
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

// Scan iterates over the implicit snapshot LevelDB takes when the iterator is
// created. The iterator is released when the sequence ends.
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
		release := sync.OnceFunc(func() {
			it.Release()
			s.scans.Done()
		})
		defer release()
		scansTotal.Inc()

		var scanErr error
		stopped := false
		emitted := 0
		for it.Next() {
			if scanErr = ctx.Err(); scanErr != nil {
				break
			}
			var e kv.Entry
			if e, scanErr = opts.DecodeEntry(it.Key(), func() ([]byte, error) { return it.Value(), nil }); scanErr != nil {
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
		if scanErr == nil {
			scanErr = it.Error()
		}

		// Release before reporting so a caller can Close on error.
		release()
		if !stopped && scanErr != nil {
			yield(kv.Entry{}, scanErr)
		}
	}
}

// openIter registers a scan and opens its iterator. The caller calls
// s.scans.Done after releasing it.
func (s *Store) openIter(lower, upper []byte) (iterator.Iterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, kv.ErrClosed
	}
	s.scans.Add(1)
	return s.db.NewIterator(&util.Range{Start: lower, Limit: upper}, nil), nil
}

var _ kv.Store = (*Store)(nil)
