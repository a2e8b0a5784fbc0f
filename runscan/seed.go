package runscan

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"reduction.dev/rangemerge/codec"
)

// Seed writes one entry per "key=value" line of input. Keys and values are
// read in the caller's encodings and stored encoded. Blank lines and lines
// starting with # are skipped.
func Seed(store Backend, input io.Reader, keyEncoding, valueEncoding codec.Codec) (int, error) {
	keyCodec, valueCodec := codec.OrBinary(keyEncoding), codec.OrBinary(valueEncoding)
	scanner := bufio.NewScanner(input)
	written, line := 0, 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "#") {
			continue
		}
		k, v, ok := strings.Cut(text, "=")
		if !ok {
			return written, fmt.Errorf("line %d: expected key=value", line)
		}
		key, err := keyCodec.Encode([]byte(k))
		if err != nil {
			return written, fmt.Errorf("line %d key: %w", line, err)
		}
		value, err := valueCodec.Encode([]byte(v))
		if err != nil {
			return written, fmt.Errorf("line %d value: %w", line, err)
		}
		if err := store.Put(key, value); err != nil {
			return written, fmt.Errorf("line %d: %w", line, err)
		}
		written++
	}
	return written, scanner.Err()
}
