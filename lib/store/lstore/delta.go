package lstore

import (
	"maps"

	"github.com/ValentinKolb/dGrid/lib/objcodec"
	"github.com/ValentinKolb/dGrid/lib/store"
)

// DeltaFunc merges a decoded delta into the decoded current value and returns
// the new value. Both arguments are normalized (see objcodec.Normalize).
type DeltaFunc func(current, delta any) (any, error)

// DefaultDelta merges deltas by type of the current value:
//   - map: the delta's entries are set, a nil entry removes the key
//   - string: the delta is appended
//   - integer/float: the delta is added
//   - list: the delta's elements are appended
//   - bytes: the delta is appended
func DefaultDelta(current, delta any) (any, error) {
	switch cur := current.(type) {
	case map[string]any:
		d, ok := delta.(map[string]any)
		if !ok {
			return nil, deltaMismatch(current, delta)
		}
		merged := maps.Clone(cur)
		for k, v := range d {
			if v == nil {
				delete(merged, k)
				continue
			}
			merged[k] = v
		}
		return merged, nil

	case string:
		d, ok := delta.(string)
		if !ok {
			return nil, deltaMismatch(current, delta)
		}
		return cur + d, nil

	case int64:
		switch d := delta.(type) {
		case int64:
			return cur + d, nil
		case float64:
			return float64(cur) + d, nil
		}
		return nil, deltaMismatch(current, delta)

	case float64:
		switch d := delta.(type) {
		case int64:
			return cur + float64(d), nil
		case float64:
			return cur + d, nil
		}
		return nil, deltaMismatch(current, delta)

	case []any:
		d, ok := delta.([]any)
		if !ok {
			return nil, deltaMismatch(current, delta)
		}
		return append(append(make([]any, 0, len(cur)+len(d)), cur...), d...), nil

	case []byte:
		d, ok := delta.([]byte)
		if !ok {
			return nil, deltaMismatch(current, delta)
		}
		return append(append(make([]byte, 0, len(cur)+len(d)), cur...), d...), nil
	}
	return nil, store.NewError(store.RetCDeltaFailed, "values of type %T do not support deltas", current)
}

func deltaMismatch(current, delta any) error {
	return store.NewError(store.RetCDeltaFailed, "cannot apply delta of type %T to value of type %T", delta, current)
}

// applyDelta decodes both payloads, merges them and encodes the result
func applyDelta(fn DeltaFunc, current, delta []byte) ([]byte, error) {
	cur, err := objcodec.Decode(current)
	if err != nil {
		return nil, store.NewError(store.RetCDeltaFailed, "current value: %v", err)
	}
	d, err := objcodec.Decode(delta)
	if err != nil {
		return nil, store.NewError(store.RetCDeltaFailed, "delta: %v", err)
	}
	merged, err := fn(cur, d)
	if err != nil {
		if store.CodeOf(err) == store.RetCDeltaFailed {
			return nil, err
		}
		return nil, store.NewError(store.RetCDeltaFailed, "%v", err)
	}
	out, err := objcodec.Encode(merged)
	if err != nil {
		return nil, store.NewError(store.RetCDeltaFailed, "%v", err)
	}
	if out == nil {
		return nil, store.NewError(store.RetCDeltaFailed, "delta produced a null value for %T", cur)
	}
	return out, nil
}
