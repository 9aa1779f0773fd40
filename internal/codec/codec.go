// Package codec converts item payloads to and from their stored form.
//
// Payloads are opaque JSON-compatible Go values. They are persisted as
// compact JSON with object keys sorted and HTML escaping disabled, so equal
// values always produce equal bytes. Decoding always yields a fresh value,
// which gives every reader its own structural copy of the stored payload.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPayload is returned when stored bytes are not valid JSON.
var ErrInvalidPayload = errors.New("invalid payload")

// Encode produces the stored form of v.
func Encode(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	// json.Encoder adds a trailing newline
	out := buf.Bytes()
	if n := len(out); n > 0 && out[n-1] == '\n' {
		out = out[:n-1]
	}
	return json.RawMessage(out), nil
}

// Decode turns stored bytes back into a Go value. Objects decode to
// map[string]any and arrays to []any. Numbers decode to float64 when that
// is exact; integers beyond float64 precision decode to int64, or to
// json.Number outside the int64 range.
func Decode(data []byte) (any, error) {
	if !json.Valid(data) {
		return nil, ErrInvalidPayload
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return convertNumbers(v), nil
}

// maxExactInt is the largest magnitude float64 holds without rounding.
const maxExactInt = 1 << 53

func convertNumbers(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = convertNumbers(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = convertNumbers(e)
		}
		return x
	case json.Number:
		return number(x)
	default:
		return v
	}
}

func number(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		if i >= -maxExactInt && i <= maxExactInt {
			return float64(i)
		}
		return i
	}
	if !strings.ContainsAny(n.String(), ".eE") {
		return n
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n
}
