// Package changes computes per-attribute differences between two record
// snapshots.
package changes

import (
	"math"
	"reflect"
)

// Change is the previous and new value of one attribute.
type Change struct {
	Previous any `json:"previousValue"`
	New      any `json:"newValue"`
}

// Values maps attribute names to their changes. Only attributes whose
// values differ are present.
type Values map[string]Change

// Has reports whether any of names changed.
func (v Values) Has(names ...string) bool {
	for _, name := range names {
		if _, ok := v[name]; ok {
			return true
		}
	}
	return false
}

// Keys returns the changed attribute names in no particular order.
func (v Values) Keys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	return keys
}

// Diff compares every key of next against previous and returns the keys
// whose values differ. Keys present only in previous are ignored. A nil
// previous is treated as empty.
//
// The comparison is shallow: maps and slices are equal only when they are
// the same reference, so a deep-equal copy of a JSON value is reported as
// changed.
func Diff(previous, next map[string]any) Values {
	out := make(Values)
	for key, newValue := range next {
		prevValue := previous[key]
		if !Same(prevValue, newValue) {
			out[key] = Change{Previous: prevValue, New: newValue}
		}
	}
	return out
}

// Same reports whether a and b are the same value. Numbers compare by
// value regardless of their Go type; maps, slices and funcs compare by
// reference.
func Same(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if x, ok := bigUint(a); ok {
		return sameBigUint(x, b)
	}
	if y, ok := bigUint(b); ok {
		return sameBigUint(y, a)
	}

	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			if xi, ok := toInt(a); ok {
				if yi, ok := toInt(b); ok {
					return xi == yi
				}
			}
			return x == y
		}
		return false
	}

	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}

	switch va.Kind() {
	case reflect.Map, reflect.Func, reflect.Chan, reflect.Pointer, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	}

	if va.Type().Comparable() {
		// struct or array holding an incomparable value panics on ==
		defer func() { _ = recover() }()
		return a == b
	}

	return false
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}

// bigUint returns unsigned values that do not fit in an int64.
func bigUint(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint:
		return uint64(n), uint64(n) > math.MaxInt64
	case uint64:
		return n, n > math.MaxInt64
	}
	return 0, false
}

func sameBigUint(x uint64, v any) bool {
	switch n := v.(type) {
	case uint:
		return uint64(n) == x
	case uint64:
		return n == x
	case float32:
		return float64(n) == float64(x)
	case float64:
		return n == float64(x)
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	if i, ok := toInt(v); ok {
		return float64(i), true
	}
	return 0, false
}
