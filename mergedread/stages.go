package mergedread

import (
	"iter"

	"reduction.dev/rangemerge/kv"
	"reduction.dev/rangemerge/util/iteru"
)

// The stages run in a fixed order after the merge: dedupe, window, shape.

func dedupe(seq iter.Seq2[kv.Entry, error], enabled bool, cmp func(a, b kv.Entry) int) iter.Seq2[kv.Entry, error] {
	if !enabled {
		return seq
	}
	return iteru.Unique(seq, cmp)
}

// window skips then limits. Reaching the limit stops the upstream merge, which
// releases every scan.
func window(seq iter.Seq2[kv.Entry, error], skip, limit int) iter.Seq2[kv.Entry, error] {
	seq = iteru.Skip(seq, skip)
	if limit > 0 {
		seq = iteru.Take(seq, limit)
	}
	return seq
}

// shape strips the fields the caller did not ask for. Keys may have been
// fetched only so entries could be compared.
func shape(seq iter.Seq2[kv.Entry, error], s Shape) iter.Seq2[kv.Entry, error] {
	switch s {
	case ShapeKeys:
		return iteru.Map(seq, func(e kv.Entry) kv.Entry { return kv.Entry{Key: e.Key} })
	case ShapeValues:
		return iteru.Map(seq, func(e kv.Entry) kv.Entry { return kv.Entry{Value: e.Value} })
	default:
		return seq
	}
}
