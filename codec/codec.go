// Package codec converts keys and values between the form callers work with
// and the form a store keeps on disk. Stores apply codecs; the merge engine only
// passes them through.
package codec

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Codec translates between caller bytes and stored bytes.
type Codec interface {
	Name() string
	// Encode converts caller bytes into the stored representation.
	Encode(b []byte) ([]byte, error)
	// Decode converts stored bytes back into the caller representation.
	Decode(b []byte) ([]byte, error)
}

var ErrUnknownCodec = errors.New("unknown codec")

// Binary passes bytes through unchanged.
var Binary Codec = binaryCodec{}

var (
	Hex     Codec = hexCodec{}
	Base64  Codec = base64Codec{}
	UTF16LE Codec = textCodec{"utf16le", unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)}
	UTF16BE Codec = textCodec{"utf16be", unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)}
	Latin1  Codec = textCodec{"latin1", charmap.ISO8859_1}
)

var registry = map[string]Codec{
	"":        Binary,
	"binary":  Binary,
	"utf8":    Binary,
	"hex":     Hex,
	"base64":  Base64,
	"utf16le": UTF16LE,
	"utf16be": UTF16BE,
	"latin1":  Latin1,
}

// Lookup returns the codec registered under name. Names are case-insensitive
// and the empty name is Binary.
func Lookup(name string) (Codec, error) {
	c, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownCodec, name)
	}
	return c, nil
}

// OrBinary returns c, or Binary when c is nil.
func OrBinary(c Codec) Codec {
	if c == nil {
		return Binary
	}
	return c
}

type binaryCodec struct{}

func (binaryCodec) Name() string                    { return "binary" }
func (binaryCodec) Encode(b []byte) ([]byte, error) { return b, nil }
func (binaryCodec) Decode(b []byte) ([]byte, error) { return b, nil }

// Callers see hex text while the store keeps the raw bytes.
type hexCodec struct{}

func (hexCodec) Name() string { return "hex" }

func (hexCodec) Encode(b []byte) ([]byte, error) {
	out := make([]byte, hex.DecodedLen(len(b)))
	n, err := hex.Decode(out, b)
	if err != nil {
		return nil, fmt.Errorf("hex encode: %w", err)
	}
	return out[:n], nil
}

func (hexCodec) Decode(b []byte) ([]byte, error) {
	out := make([]byte, hex.EncodedLen(len(b)))
	hex.Encode(out, b)
	return out, nil
}

type base64Codec struct{}

func (base64Codec) Name() string { return "base64" }

func (base64Codec) Encode(b []byte) ([]byte, error) {
	out := make([]byte, base64.StdEncoding.DecodedLen(len(b)))
	n, err := base64.StdEncoding.Decode(out, b)
	if err != nil {
		return nil, fmt.Errorf("base64 encode: %w", err)
	}
	return out[:n], nil
}

func (base64Codec) Decode(b []byte) ([]byte, error) {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(b)))
	base64.StdEncoding.Encode(out, b)
	return out, nil
}

// textCodec stores text in a character encoding other than UTF-8. Callers
// always see UTF-8.
type textCodec struct {
	name string
	enc  encoding.Encoding
}

func (c textCodec) Name() string { return c.name }

func (c textCodec) Encode(b []byte) ([]byte, error) {
	out, err := c.enc.NewEncoder().Bytes(b)
	if err != nil {
		return nil, fmt.Errorf("%s encode: %w", c.name, err)
	}
	return out, nil
}

func (c textCodec) Decode(b []byte) ([]byte, error) {
	out, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		return nil, fmt.Errorf("%s decode: %w", c.name, err)
	}
	return out, nil
}
