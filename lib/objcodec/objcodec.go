// Package objcodec encodes and decodes the self-describing object payloads
// carried in object parts and stored as region values. The encoding is msgpack.
//
// Decoded values are normalized so callers only ever see a small set of types:
// nil, bool, int64, float64, string, []byte, []any and map[string]any.
package objcodec

import (
	"fmt"
	"reflect"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

var handle = newHandle()

func newHandle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.WriteExt = true
	h.RawToString = true
	h.MapType = reflect.TypeOf(map[string]any(nil))
	return h
}

// Encode serializes v. A nil v encodes to an empty payload (the null object).
func Encode(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf []byte
	if err := codec.NewEncoderBytes(&buf, handle).Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode object of type %T: %w", v, err)
	}
	return buf, nil
}

// MustEncode is like Encode but panics on error. Only meant for tests and constants.
func MustEncode(v any) []byte {
	b, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode deserializes data into a normalized dynamic value. An empty payload decodes to nil.
func Decode(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v any
	if err := codec.NewDecoderBytes(data, handle).Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode object: %w", err)
	}
	return Normalize(v), nil
}

// DecodeInto deserializes data into the value pointed to by target.
func DecodeInto(data []byte, target any) error {
	if len(data) == 0 {
		return fmt.Errorf("failed to decode object into %T: empty payload", target)
	}
	if err := codec.NewDecoderBytes(data, handle).Decode(target); err != nil {
		return fmt.Errorf("failed to decode object into %T: %w", target, err)
	}
	return nil
}

// Normalize maps the numeric and container types produced by the decoder (or
// handed in by callers) onto the canonical set listed in the package docs.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil, bool, string, []byte, int64, float64:
		return t
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return normalizeUnsigned(uint64(t))
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return normalizeUnsigned(t)
	case float32:
		return float64(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Normalize(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(Normalize(k))] = Normalize(e)
		}
		return out
	default:
		return t
	}
}

// values above MaxInt64 stay unsigned
func normalizeUnsigned(u uint64) any {
	if u > 1<<63-1 {
		return u
	}
	return int64(u)
}

// IsInteger reports whether a normalized value is an integer
func IsInteger(v any) bool {
	switch v.(type) {
	case int64, uint64:
		return true
	default:
		return false
	}
}
