package stage

import (
	"encoding/json"
	"fmt"

	"github.com/Zaur86/etl-mini/internal/errs"
)

// Args is a loosely typed kwargs map for one stage section. Values usually
// come from a JSON run spec, so numeric values may arrive as float64; the
// typed getters normalize that. Lenient getters return a default; the
// Require* variants produce configuration errors, which is the right
// severity because section args are assembled before any I/O happens.
type Args map[string]any

// String returns the string at key or def.
func (a Args) String(key, def string) string {
	if v, ok := a[key].(string); ok {
		return v
	}
	return def
}

// Bool returns the bool at key or def.
func (a Args) Bool(key string, def bool) bool {
	if v, ok := a[key].(bool); ok {
		return v
	}
	return def
}

// Int returns the int at key or def, accepting JSON float64 and int forms.
func (a Args) Int(key string, def int) int {
	switch v := a[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// Strings returns the []string at key or nil, accepting []any of strings.
func (a Args) Strings(key string) []string {
	switch v := a[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil
			}
			out = append(out, s)
		}
		return out
	}
	return nil
}

// RequireString returns the string at key or a configuration error.
func (a Args) RequireString(key string) (string, error) {
	v, ok := a[key]
	if !ok {
		return "", errs.Config("missing required parameter %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", errs.Config("parameter %q must be a string, got %T", key, v)
	}
	return s, nil
}

// RequireAny returns the raw value at key or a configuration error.
func (a Args) RequireAny(key string) (any, error) {
	v, ok := a[key]
	if !ok {
		return nil, errs.Config("missing required parameter %q", key)
	}
	return v, nil
}

// Clone returns a shallow copy, so the orchestrator can inject per-batch
// values (the shared buffer) without mutating the caller's config.
func (a Args) Clone() Args {
	out := make(Args, len(a)+1)
	for k, v := range a {
		out[k] = v
	}
	return out
}

// UnmarshalJSON keeps Args a plain map but guards against non-object JSON.
func (a *Args) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("stage args must be a JSON object: %w", err)
	}
	*a = m
	return nil
}
