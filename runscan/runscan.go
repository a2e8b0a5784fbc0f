// Package runscan runs merged reads for the command line: it opens a backend,
// optionally seeds it and writes the result of a request as text lines.
package runscan

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"

	"reduction.dev/rangemerge/kv"
	"reduction.dev/rangemerge/mergedread"
)

type RunParams struct {
	Store   kv.Store
	Options mergedread.Options
	Output  io.Writer
	Logger  *slog.Logger
}

// Run performs the read and writes one line per entry: "key=value" for
// entries, the key or the value alone for the other shapes. It returns the
// number of lines written.
func Run(ctx context.Context, params RunParams) (int, error) {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reader := mergedread.New(params.Store, mergedread.WithLogger(logger))
	seq, err := reader.Read(ctx, params.Options)
	if err != nil {
		return 0, err
	}

	w := bufio.NewWriter(params.Output)
	written := 0
	for e, err := range seq {
		if err != nil {
			w.Flush()
			return written, err
		}
		if err := writeEntry(w, e, params.Options.Shape); err != nil {
			return written, fmt.Errorf("write output: %w", err)
		}
		written++
	}
	if err := w.Flush(); err != nil {
		return written, fmt.Errorf("write output: %w", err)
	}
	logger.Info("scan finished", "entries", written, "ranges", len(params.Options.Ranges))
	return written, nil
}

// writeEntry returns the writer's first error. bufio.Writer keeps it sticky, so
// the unchecked Write calls are reported by the final WriteByte.
func writeEntry(w *bufio.Writer, e kv.Entry, shape mergedread.Shape) error {
	switch shape {
	case mergedread.ShapeKeys:
		w.Write(e.Key)
	case mergedread.ShapeValues:
		w.Write(e.Value)
	default:
		w.Write(e.Key)
		w.WriteByte('=')
		w.Write(e.Value)
	}
	return w.WriteByte('\n')
}
