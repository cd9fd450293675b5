// Package errs defines the error taxonomy shared across the pipeline.
//
// Three families exist and callers are expected to treat them differently:
// configuration errors are raised before any I/O and always abort;
// data-shape errors (NestedKeyError, MissingFieldError) abort the run and
// carry the offending path/key plus a snippet of the record for upstream
// diagnosis; source errors wrap connectivity failures of a concrete
// extractor or loader. Cleanup failures are not represented here at all —
// they are logged as warnings at the call site and never returned.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigError reports an invalid pipeline, stage, or run-spec configuration.
// It is always produced before the first statement or request executes.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config: " + e.Msg }

// Config builds a ConfigError with fmt-style formatting.
func Config(format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// MethodNotSetError is returned when Loader.LoadData runs without a
// preceding PrepareLoading. It is a ConfigError so callers matching on
// configuration failures catch it too.
var ErrMethodNotSet = &ConfigError{Msg: "no loading method set: call PrepareLoading first"}

// NestedKeyError reports a nested path that could not be walked: a segment
// was absent or its value was not a map.
type NestedKeyError struct {
	Path  []string
	Level any
}

func (e *NestedKeyError) Error() string {
	return fmt.Sprintf("nested key path %q not reachable (stopped at %s)",
		strings.Join(e.Path, "."), snippet(e.Level))
}

// NestedKey builds a NestedKeyError for path, recording the level where the
// descent stopped.
func NestedKey(path []string, level any) error {
	return &NestedKeyError{Path: path, Level: level}
}

// MissingFieldError reports a required field absent from a record.
type MissingFieldError struct {
	Field  string
	Record any
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("required field %q missing in record %s", e.Field, snippet(e.Record))
}

// MissingField builds a MissingFieldError for field inside record.
func MissingField(field string, record any) error {
	return &MissingFieldError{Field: field, Record: record}
}

// SourceError wraps a connectivity or protocol failure of a named external
// collaborator (search index, object store, warehouse).
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string { return e.Source + ": " + e.Err.Error() }
func (e *SourceError) Unwrap() error { return e.Err }

// Source wraps err as a SourceError for the named collaborator. A nil err
// returns nil.
func Source(source string, err error) error {
	if err == nil {
		return nil
	}
	return &SourceError{Source: source, Err: err}
}

// IsConfig reports whether err is (or wraps) a configuration error.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsDataShape reports whether err is a NestedKeyError or MissingFieldError.
func IsDataShape(err error) bool {
	var nk *NestedKeyError
	var mf *MissingFieldError
	return errors.As(err, &nk) || errors.As(err, &mf)
}

// snippet renders a short, bounded description of a record or level for
// error messages. Full records can be huge; 160 bytes is enough to find the
// row upstream.
func snippet(v any) string {
	s := fmt.Sprintf("%v", v)
	if len(s) > 160 {
		s = s[:160] + "..."
	}
	return s
}
