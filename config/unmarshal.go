package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"reduction.dev/rangemerge/config/jsontemplate"
)

// Unmarshal parses a request document, resolving `{"$param": "NAME"}`
// placeholders from params before decoding.
func Unmarshal(data []byte, params *jsontemplate.Params) (*Request, error) {
	resolved, err := jsontemplate.Resolve(data, &Request{}, params)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve variables: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(resolved))
	dec.DisallowUnknownFields()
	var req Request
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid request document format: %w", err)
	}

	slog.Debug("resolved request", "request", string(resolved))
	return &req, nil
}
