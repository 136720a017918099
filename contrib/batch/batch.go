// Package batch provides keyed ordering and grouping helpers for batched
// lookups: one persistence call fetches rows for many keys, and these
// helpers fan the results back out per key. The read executor uses them
// for eager loading; they also fit DataLoader-style batch functions in a
// GraphQL transport.
package batch

import "errors"

// ErrNotFound is reported for a key with no row in the batch result.
var ErrNotFound = errors.New("batch: entity not found")

// KeyFunc extracts the key of one value.
type KeyFunc[K comparable, V any] func(V) K

// Index maps a batch result by key. Later duplicates win.
func Index[K comparable, V any](values []V, keyFn KeyFunc[K, V]) map[K]V {
	out := make(map[K]V, len(values))
	for _, v := range values {
		out[keyFn(v)] = v
	}
	return out
}

// OrderByKeys reorders a batch result to match the requested key order,
// as DataLoader batch functions require: same length as keys, same order,
// a zero value and ErrNotFound for each missing key.
func OrderByKeys[K comparable, V any](keys []K, values []V, keyFn KeyFunc[K, V]) ([]V, []error) {
	lookup := Index(values, keyFn)
	result := make([]V, len(keys))
	errs := make([]error, len(keys))
	for i, key := range keys {
		if v, ok := lookup[key]; ok {
			result[i] = v
		} else {
			errs[i] = ErrNotFound
		}
	}
	return result, errs
}

// GroupByKey groups a batch result by key; collection loads use it to
// hand each owner its members.
func GroupByKey[K comparable, V any](values []V, keyFn KeyFunc[K, V]) map[K][]V {
	out := make(map[K][]V)
	for _, v := range values {
		out[keyFn(v)] = append(out[keyFn(v)], v)
	}
	return out
}

// OrderGroupsByKeys reorders grouped values to match the requested key
// order. A key with no group yields a nil slice.
func OrderGroupsByKeys[K comparable, V any](keys []K, groups map[K][]V) [][]V {
	out := make([][]V, len(keys))
	for i, key := range keys {
		out[i] = groups[key]
	}
	return out
}
