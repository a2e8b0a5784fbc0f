package mergedread

import (
	"errors"
	"fmt"

	"reduction.dev/rangemerge/codec"
	"reduction.dev/rangemerge/kv"
)

// Shape selects which fields of an entry a read emits.
type Shape int

const (
	ShapeEntries Shape = iota // keys and values
	ShapeKeys
	ShapeValues
)

func (s Shape) String() string {
	switch s {
	case ShapeEntries:
		return "entries"
	case ShapeKeys:
		return "keys"
	case ShapeValues:
		return "values"
	default:
		return fmt.Sprintf("Shape(%d)", int(s))
	}
}

// Options describe one merged read. The zero value reads the whole store in
// key order.
type Options struct {
	// Ranges to merge. Each range is scanned separately and the scans are merged
	// into one ordered sequence. With no ranges the whole store is read with a
	// single scan and nothing is merged.
	Ranges []kv.Range

	// Comparator orders keys in the merged output. Defaults to byte order. It
	// must be a total order for which equal keys end up adjacent.
	Comparator func(a, b []byte) int
	// Projection maps a key before it is compared. Defaults to the identity.
	Projection func(key []byte) []byte

	Shape Shape
	// Skip drops this many entries from the front of the merged output.
	Skip int
	// Limit caps the number of entries emitted after skipping. Zero means no
	// limit.
	Limit int
	// Dedupe collapses runs of adjacent entries whose keys the comparator
	// reports as equal into the first entry of the run.
	Dedupe bool

	// Encodings are handed to the store untouched.
	KeyEncoding   codec.Codec
	ValueEncoding codec.Codec
}

var ErrInvalidOptions = errors.New("invalid merged read options")

// Validate checks the options before any range is scanned.
func (o Options) Validate() error {
	var errs []error
	if o.Skip < 0 {
		errs = append(errs, fmt.Errorf("skip must not be negative, got %d", o.Skip))
	}
	if o.Limit < 0 {
		errs = append(errs, fmt.Errorf("limit must not be negative, got %d", o.Limit))
	}
	if o.Shape < ShapeEntries || o.Shape > ShapeValues {
		errs = append(errs, fmt.Errorf("unknown shape %s", o.Shape))
	}
	// Bounds can only be compared before encoding when the store keeps keys as
	// given.
	if codec.OrBinary(o.KeyEncoding) == codec.Binary {
		for i, r := range o.Ranges {
			if err := r.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("range %d: %w", i, err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, errors.Join(errs...))
	}
	return nil
}

// sourceLimit is the most entries any single scan must produce for the read to
// fill its window. Each scan is closed once it reaches the cap, so the cap
// covers the skipped entries as well as the limited ones. Dedupe can discard
// any number of entries, so deduped reads are not capped.
func (o Options) sourceLimit() int {
	if o.Limit == 0 || o.Dedupe {
		return 0
	}
	return o.Skip + o.Limit
}

// scanOptions builds the options for each range scan. Keys are forced on when
// the read has to compare entries.
func (o Options) scanOptions(forceKeys bool) kv.ScanOptions {
	return kv.ScanOptions{
		Keys:          forceKeys || o.Shape != ShapeValues,
		Values:        o.Shape != ShapeKeys,
		Limit:         o.sourceLimit(),
		KeyEncoding:   o.KeyEncoding,
		ValueEncoding: o.ValueEncoding,
	}
}
