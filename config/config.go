// Package config loads merged read requests from JSON documents.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"reduction.dev/rangemerge/codec"
	"reduction.dev/rangemerge/kv"
	"reduction.dev/rangemerge/mergedread"
)

// Request is the JSON form of a merged read. Range bounds are written in the
// caller's key encoding. A missing bound leaves the range open on that side.
type Request struct {
	Ranges        []RangeConfig `json:"ranges"`
	Comparator    string        `json:"comparator"`
	Projection    string        `json:"projection"`
	Shape         string        `json:"shape"`
	Skip          int           `json:"skip"`
	Limit         int           `json:"limit"`
	Dedupe        bool          `json:"dedupe"`
	KeyEncoding   string        `json:"keyEncoding"`
	ValueEncoding string        `json:"valueEncoding"`
}

type RangeConfig struct {
	Start          *string `json:"start,omitempty"`
	End            *string `json:"end,omitempty"`
	StartExclusive bool    `json:"startExclusive,omitempty"`
	EndInclusive   bool    `json:"endInclusive,omitempty"`
}

func (r *Request) Validate() error {
	var errs []error
	if _, err := ParseComparator(r.Comparator); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseProjection(r.Projection); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseShape(r.Shape); err != nil {
		errs = append(errs, err)
	}
	if _, err := codec.Lookup(r.KeyEncoding); err != nil {
		errs = append(errs, fmt.Errorf("keyEncoding: %w", err))
	}
	if _, err := codec.Lookup(r.ValueEncoding); err != nil {
		errs = append(errs, fmt.Errorf("valueEncoding: %w", err))
	}
	return errors.Join(errs...)
}

// Options converts the request into merged read options and validates them.
func (r *Request) Options() (mergedread.Options, error) {
	if err := r.Validate(); err != nil {
		return mergedread.Options{}, err
	}

	comparator, _ := ParseComparator(r.Comparator)
	projection, _ := ParseProjection(r.Projection)
	shape, _ := ParseShape(r.Shape)
	keyEncoding, _ := codec.Lookup(r.KeyEncoding)
	valueEncoding, _ := codec.Lookup(r.ValueEncoding)

	opts := mergedread.Options{
		Comparator:    comparator,
		Projection:    projection,
		Shape:         shape,
		Skip:          r.Skip,
		Limit:         r.Limit,
		Dedupe:        r.Dedupe,
		KeyEncoding:   keyEncoding,
		ValueEncoding: valueEncoding,
	}
	for _, rc := range r.Ranges {
		opts.Ranges = append(opts.Ranges, rc.Range())
	}
	return opts, opts.Validate()
}

func (rc RangeConfig) Range() kv.Range {
	r := kv.Range{
		StartExclusive: rc.StartExclusive,
		EndInclusive:   rc.EndInclusive,
	}
	if rc.Start != nil {
		r.Start = []byte(*rc.Start)
	}
	if rc.End != nil {
		r.End = []byte(*rc.End)
	}
	return r
}

// ParseComparator resolves a comparator name: "bytes" (the default) or
// "reverse".
func ParseComparator(name string) (func(a, b []byte) int, error) {
	switch strings.ToLower(name) {
	case "", "bytes":
		return mergedread.Ascending, nil
	case "reverse":
		return mergedread.Descending, nil
	default:
		return nil, fmt.Errorf("unknown comparator %q", name)
	}
}

// ParseProjection resolves a projection: "identity" (the default), "drop:N"
// to drop the first N bytes, or "after:SEP" to keep what follows the first SEP.
func ParseProjection(spec string) (func(key []byte) []byte, error) {
	kind, arg, _ := strings.Cut(spec, ":")
	switch kind {
	case "", "identity":
		return mergedread.Identity, nil
	case "drop":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("projection %q needs a non-negative byte count", spec)
		}
		return mergedread.DropPrefix(n), nil
	case "after":
		if arg == "" {
			return nil, fmt.Errorf("projection %q needs a separator", spec)
		}
		return mergedread.AfterSeparator([]byte(arg)), nil
	default:
		return nil, fmt.Errorf("unknown projection %q", spec)
	}
}

func ParseShape(name string) (mergedread.Shape, error) {
	switch strings.ToLower(name) {
	case "", "entries":
		return mergedread.ShapeEntries, nil
	case "keys":
		return mergedread.ShapeKeys, nil
	case "values":
		return mergedread.ShapeValues, nil
	default:
		return 0, fmt.Errorf("unknown shape %q", name)
	}
}
