package kv

import (
	"bytes"
	"context"
	"errors"
	"iter"

	"reduction.dev/rangemerge/codec"
)

// Entry is a key and value read from a store. Either field may be nil when the
// scan did not ask for it.
type Entry struct {
	Key   []byte
	Value []byte
}

func (e Entry) String() string {
	return string(e.Key) + ":" + string(e.Value)
}

// Store is an ordered key-value store that can scan a key range.
//
// Scan opens a scan lazily when iteration starts and yields entries in
// ascending byte order of their stored keys. Stopping the iteration releases
// the scan. An error ends the sequence.
type Store interface {
	Scan(ctx context.Context, r Range, opts ScanOptions) iter.Seq2[Entry, error]
}

// ScanOptions select what a single range scan produces.
type ScanOptions struct {
	Keys   bool
	Values bool
	// Limit caps the number of entries the scan produces. Zero is unlimited.
	Limit int

	KeyEncoding   codec.Codec
	ValueEncoding codec.Codec
}

var (
	ErrNotFound = errors.New("NotFound")
	ErrClosed   = errors.New("store closed")
)

// StoredBounds encodes the range bounds with the key encoding and returns the
// inclusive lower and exclusive upper bound in stored form.
func (o ScanOptions) StoredBounds(r Range) (lower, upper []byte, err error) {
	keyCodec := codec.OrBinary(o.KeyEncoding)
	encoded := r
	if r.Start != nil {
		if encoded.Start, err = keyCodec.Encode(r.Start); err != nil {
			return nil, nil, err
		}
	}
	if r.End != nil {
		if encoded.End, err = keyCodec.Encode(r.End); err != nil {
			return nil, nil, err
		}
	}
	lower, upper = encoded.Bounds()
	return lower, upper, nil
}

// DecodeEntry builds the entry a scan yields from a stored key and value. The
// value is only read when requested so backends can skip fetching it.
func (o ScanOptions) DecodeEntry(storedKey []byte, storedValue func() ([]byte, error)) (Entry, error) {
	var e Entry
	if o.Keys {
		k, err := codec.OrBinary(o.KeyEncoding).Decode(bytes.Clone(storedKey))
		if err != nil {
			return Entry{}, err
		}
		e.Key = k
	}
	if o.Values {
		raw, err := storedValue()
		if err != nil {
			return Entry{}, err
		}
		v, err := codec.OrBinary(o.ValueEncoding).Decode(bytes.Clone(raw))
		if err != nil {
			return Entry{}, err
		}
		e.Value = v
	}
	return e, nil
}
