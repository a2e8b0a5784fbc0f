package mergedread

import (
	"bytes"

	"reduction.dev/rangemerge/kv"
)

// Ascending orders keys by their bytes.
func Ascending(a, b []byte) int {
	return bytes.Compare(a, b)
}

// Descending reverses byte order.
func Descending(a, b []byte) int {
	return bytes.Compare(b, a)
}

// Identity compares keys as stored.
func Identity(key []byte) []byte {
	return key
}

// DropPrefix projects a key to everything after its first n bytes.
func DropPrefix(n int) func(key []byte) []byte {
	return func(key []byte) []byte {
		if len(key) <= n {
			return nil
		}
		return key[n:]
	}
}

// AfterSeparator projects a key to everything after the first occurrence of
// sep. Keys without sep project to themselves.
func AfterSeparator(sep []byte) func(key []byte) []byte {
	return func(key []byte) []byte {
		if _, after, found := bytes.Cut(key, sep); found {
			return after
		}
		return key
	}
}

// comparator builds the entry order used for merging and dedupe. Entries are
// always compared by key, whatever shape the read emits, because scans only
// guarantee key order.
func (o Options) comparator() func(a, b kv.Entry) int {
	compare := o.Comparator
	if compare == nil {
		compare = Ascending
	}
	project := o.Projection
	if project == nil {
		return func(a, b kv.Entry) int {
			return compare(a.Key, b.Key)
		}
	}
	return func(a, b kv.Entry) int {
		return compare(project(a.Key), project(b.Key))
	}
}
