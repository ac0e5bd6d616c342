// Package merge evaluates user-supplied configuration fragments and merges them
// with computed configuration.
//
// A fragment is empty when it carries nothing besides the merge marker, explicit when it
// carries data without the marker (it replaces the computed value), and merge-requested
// when the "_merge" key is truthy (it is laid over the computed value).
package merge

import (
	"strconv"
	"strings"
)

// Key is the marker that requests merging with computed configuration.
const Key = "_merge"

// IsEmpty reports whether the fragment carries no user data.
func IsEmpty(fragment map[string]any) bool {
	for k := range fragment {
		if k != Key {
			return false
		}
	}
	return true
}

// IsMergeRequired reports whether the fragment asks to be merged with computed defaults.
func IsMergeRequired(fragment map[string]any) bool {
	v, ok := fragment[Key]
	if !ok {
		return false
	}
	return truthy(v)
}

// IsExplicit reports whether the fragment fully replaces the computed configuration.
func IsExplicit(fragment map[string]any) bool {
	return !IsEmpty(fragment) && !IsMergeRequired(fragment)
}

// Clear returns a copy of the fragment without the merge marker.
func Clear(fragment map[string]any) map[string]any {
	out := make(map[string]any, len(fragment))
	for k, v := range fragment {
		if k == Key {
			continue
		}
		out[k] = Copy(v)
	}
	return out
}

// Merge lays override over computed. Nested maps are merged recursively, any other
// value in override replaces the computed one, and keys only in computed are kept.
// Neither argument is modified.
func Merge(computed, override map[string]any) map[string]any {
	base := CopyMap(computed)
	if IsEmpty(override) {
		return base
	}
	return replaceRecursive(base, Clear(override))
}

func replaceRecursive(dst, src map[string]any) map[string]any {
	for k, sv := range src {
		srcMap, srcIsMap := AsMap(sv)
		dstMap, dstIsMap := AsMap(dst[k])
		if srcIsMap && dstIsMap {
			dst[k] = replaceRecursive(dstMap, srcMap)
			continue
		}
		dst[k] = sv
	}
	return dst
}

// AsMap returns v as a string-keyed map if it is one.
func AsMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}

// Lookup walks nested maps along path and returns the value found there.
func Lookup(m map[string]any, path ...string) (any, bool) {
	var cur any = m
	for _, p := range path {
		cm, ok := AsMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = cm[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// LookupString returns the string found at path, if any.
func LookupString(m map[string]any, path ...string) (string, bool) {
	v, ok := Lookup(m, path...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Has reports whether a non-nil value exists at path.
func Has(m map[string]any, path ...string) bool {
	v, ok := Lookup(m, path...)
	return ok && v != nil
}

// CopyMap deep-copies a map so that later merges do not alias the input.
func CopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Copy(v)
	}
	return out
}

// Copy deep-copies maps and slices inside v.
func Copy(v any) any {
	if m, ok := AsMap(v); ok {
		return CopyMap(m)
	}
	if s, ok := v.([]any); ok {
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = Copy(e)
		}
		return out
	}
	return v
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return err == nil && parsed
	case int:
		return b != 0
	case int64:
		return b != 0
	case float64:
		return b != 0
	default:
		return false
	}
}
