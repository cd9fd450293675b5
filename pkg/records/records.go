// Package records defines the semi-structured record type flowing through the
// pipeline and the nested-path addressing shared by the transform and
// enrichment stages.
//
// A Record is an arbitrarily nested map decoded from JSON-ish sources
// (search hits, parsed CSV rows). Addressing distinguishes two failure
// shapes on purpose:
//
//   - a missing or non-map segment along the path is a structural problem
//     (errs.NestedKeyError) and always fatal for the batch;
//   - a missing final key is a field-level problem (errs.MissingFieldError)
//     and only fatal when the field is declared not-null.
package records

import (
	"fmt"

	"github.com/Zaur86/etl-mini/internal/errs"
)

// Record is one semi-structured row as pulled from a source.
type Record = map[string]any

// Batch is one pull's worth of records. Order is significant: the transform
// engine must reproduce it in its output.
type Batch = []Record

// Descend walks path segment by segment and returns the map at the end of
// the path. An empty path returns r unchanged. Any missing segment, or a
// segment whose value is not a map, yields a NestedKeyError naming the path
// and the level where descent stopped.
func Descend(r Record, path []string) (Record, error) {
	cur := r
	for _, key := range path {
		next, ok := cur[key]
		if !ok {
			return nil, errs.NestedKey(path, cur)
		}
		m, ok := next.(map[string]any)
		if !ok {
			return nil, errs.NestedKey(path, next)
		}
		cur = m
	}
	return cur, nil
}

// Require returns the value of key inside the map reached by path.
// It fails with NestedKeyError when the path cannot be walked and with
// MissingFieldError when the final key is absent.
func Require(r Record, path []string, key string) (any, error) {
	level, err := Descend(r, path)
	if err != nil {
		return nil, err
	}
	v, ok := level[key]
	if !ok {
		return nil, errs.MissingField(key, level)
	}
	return v, nil
}

// Lookup is the lenient counterpart of Require: the path must still walk
// (structural errors stay fatal), but a missing final key reports ok=false
// instead of an error so the caller can substitute a placeholder.
func Lookup(r Record, path []string, key string) (v any, ok bool, err error) {
	level, err := Descend(r, path)
	if err != nil {
		return nil, false, err
	}
	v, ok = level[key]
	return v, ok, nil
}

// CanonicalString renders a scalar for hashing/dedup purposes. It is not the
// TSV sanitizer; it only needs to be stable for equal values.
func CanonicalString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
