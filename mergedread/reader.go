// Package mergedread reads several key ranges of an ordered store as one
// ordered sequence.
//
// A read scans every requested range, merges the scans with a comparator and
// then applies, in order, an optional dedupe of adjacent equal keys, the
// skip/limit window, and the requested shape. Every scan a read opens is
// released exactly once, whether the read runs to the end, the caller stops
// ranging early, the context is canceled, or a scan fails.
package mergedread

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/segmentio/ksuid"
	"reduction.dev/rangemerge/kv"
	"reduction.dev/rangemerge/mergesort"
	"reduction.dev/rangemerge/telemetry"
	"reduction.dev/rangemerge/util/iteru"
)

type Reader struct {
	store  kv.Store
	logger *slog.Logger
}

type ReaderOption func(*Reader)

func WithLogger(logger *slog.Logger) ReaderOption {
	return func(r *Reader) {
		r.logger = logger
	}
}

func New(store kv.Store, opts ...ReaderOption) *Reader {
	r := &Reader{
		store:  store,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.With("component", "mergedread")
	return r
}

// Read validates opts and returns the merged sequence. Nothing is scanned
// until the sequence is ranged over. Fields excluded by opts.Shape are nil in
// the emitted entries. A non-nil error in the sequence is always its last item.
func (r *Reader) Read(ctx context.Context, opts Options) (iter.Seq2[kv.Entry, error], error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	cmp := opts.comparator()
	mode := "merge"
	var seq iter.Seq2[kv.Entry, error]
	if len(opts.Ranges) == 0 {
		// A single scan is already ordered. Keys are only needed to dedupe.
		mode = "fallback"
		seq = r.scan(ctx, kv.Full, opts.scanOptions(opts.Dedupe))
	} else {
		scanOpts := opts.scanOptions(true)
		scans := make([]iter.Seq2[kv.Entry, error], len(opts.Ranges))
		for i, rng := range opts.Ranges {
			scans[i] = r.scan(ctx, rng, scanOpts)
		}
		seq = mergesort.Merge(scans, cmp)
	}

	seq = dedupe(seq, opts.Dedupe, cmp)
	seq = window(seq, opts.Skip, opts.Limit)
	seq = shape(seq, opts.Shape)
	return r.observe(ctx, mode, opts, seq), nil
}

// Entries reads keys and values.
func (r *Reader) Entries(ctx context.Context, opts Options) (iter.Seq2[kv.Entry, error], error) {
	opts.Shape = ShapeEntries
	return r.Read(ctx, opts)
}

// Keys reads only keys.
func (r *Reader) Keys(ctx context.Context, opts Options) (iter.Seq2[[]byte, error], error) {
	opts.Shape = ShapeKeys
	seq, err := r.Read(ctx, opts)
	if err != nil {
		return nil, err
	}
	return iteru.Map(seq, func(e kv.Entry) []byte { return e.Key }), nil
}

// Values reads only values, still ordered by key.
func (r *Reader) Values(ctx context.Context, opts Options) (iter.Seq2[[]byte, error], error) {
	opts.Shape = ShapeValues
	seq, err := r.Read(ctx, opts)
	if err != nil {
		return nil, err
	}
	return iteru.Map(seq, func(e kv.Entry) []byte { return e.Value }), nil
}

// scan opens one range of the store and tracks it as an open source until it
// is released.
func (r *Reader) scan(ctx context.Context, rng kv.Range, opts kv.ScanOptions) iter.Seq2[kv.Entry, error] {
	return func(yield func(kv.Entry, error) bool) {
		telemetry.SourceOpened()
		defer telemetry.SourceReleased()

		for e, err := range r.store.Scan(ctx, rng, opts) {
			if err != nil {
				yield(kv.Entry{}, fmt.Errorf("scan %s: %w", rng, err))
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// observe is the outermost stage. It stops the pipeline on context
// cancellation and delivers a terminal error only after the upstream stages
// have unwound and released their scans.
func (r *Reader) observe(ctx context.Context, mode string, opts Options, seq iter.Seq2[kv.Entry, error]) iter.Seq2[kv.Entry, error] {
	return func(yield func(kv.Entry, error) bool) {
		logger := r.logger.With("readID", ksuid.New().String())
		logger.Debug("merged read started",
			"mode", mode,
			"ranges", len(opts.Ranges),
			"skip", opts.Skip,
			"limit", opts.Limit,
			"dedupe", opts.Dedupe,
			"shape", opts.Shape)

		read := telemetry.StartRead(mode)
		var readErr error
		emitted := 0
		defer func() {
			read.Done(readErr)
			logger.Debug("merged read done", "emitted", emitted, "err", readErr)
		}()

		if err := ctx.Err(); err != nil {
			readErr = err
			yield(kv.Entry{}, err)
			return
		}

		for e, err := range seq {
			if err != nil {
				readErr = err
				break
			}
			if err := ctx.Err(); err != nil {
				readErr = err
				break
			}
			if !yield(e, nil) {
				return
			}
			emitted++
			read.Emitted()
		}

		if readErr != nil {
			logger.Warn("merged read failed", "err", readErr)
			yield(kv.Entry{}, readErr)
		}
	}
}
