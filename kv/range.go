package kv

import (
	"bytes"
	"fmt"
)

// Range is a contiguous interval of keys. A nil Start or End leaves the range
// unbounded on that side. Start is inclusive and End exclusive unless the
// flags say otherwise.
type Range struct {
	Start          []byte
	End            []byte
	StartExclusive bool
	EndInclusive   bool
}

// Full is the range covering every key.
var Full = Range{}

// Bounds returns an inclusive lower bound and an exclusive upper bound
// equivalent to the range under byte ordering. Nil means unbounded.
func (r Range) Bounds() (lower, upper []byte) {
	lower = r.Start
	if lower != nil && r.StartExclusive {
		lower = Successor(lower)
	}
	upper = r.End
	if upper != nil && r.EndInclusive {
		upper = Successor(upper)
	}
	return lower, upper
}

// Contains reports whether key falls inside the range.
func (r Range) Contains(key []byte) bool {
	lower, upper := r.Bounds()
	if lower != nil && bytes.Compare(key, lower) < 0 {
		return false
	}
	if upper != nil && bytes.Compare(key, upper) >= 0 {
		return false
	}
	return true
}

// Empty reports whether no key can fall inside the range.
func (r Range) Empty() bool {
	lower, upper := r.Bounds()
	return lower != nil && upper != nil && bytes.Compare(lower, upper) >= 0
}

// Validate rejects ranges whose start sorts after their end.
func (r Range) Validate() error {
	if r.Start != nil && r.End != nil && bytes.Compare(r.Start, r.End) > 0 {
		return fmt.Errorf("range start %q is after end %q", r.Start, r.End)
	}
	return nil
}

func (r Range) String() string {
	lb, rb := "[", ")"
	if r.StartExclusive {
		lb = "("
	}
	if r.EndInclusive {
		rb = "]"
	}
	start, end := "-inf", "+inf"
	if r.Start != nil {
		start = string(r.Start)
	}
	if r.End != nil {
		end = string(r.End)
	}
	return lb + start + "," + end + rb
}

// Successor returns the smallest key that sorts after key.
func Successor(key []byte) []byte {
	next := make([]byte, len(key)+1)
	copy(next, key)
	return next
}
