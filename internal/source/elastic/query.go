// Package elastic implements the scroll-style cursor extractor over a
// minimal Elasticsearch HTTP surface: search-with-scroll, scroll
// continuation, scroll clearing, and index existence checks.
//
// The concrete wire client is an interface seam (SearchAPI) so the
// extractor's cursor semantics are testable hermetically; the bundled
// implementation speaks plain JSON over net/http.
package elastic

import (
	"sort"
	"time"

	"github.com/Zaur86/etl-mini/internal/errs"
)

// QueryModel describes one extraction query: a time range on one field, an
// optional field projection, and a flat filter tree (field → exact value,
// or field → list of accepted values).
type QueryModel struct {
	TimeField    string         `json:"time_field"`
	StartTime    string         `json:"start_time"`
	EndTime      string         `json:"end_time"`
	TimeFormat   string         `json:"time_format,omitempty"`
	SourceFields []string       `json:"source_fields,omitempty"`
	Filters      map[string]any `json:"filters,omitempty"`
}

// DefaultTimeFormat is the layout start/end times are validated against
// when the model does not set one.
const DefaultTimeFormat = "2006-01-02 15:04:05"

// Validate checks the model eagerly so a bad range fails configuration,
// not the first scroll.
func (q *QueryModel) Validate() error {
	if q.TimeField == "" {
		return errs.Config("query model needs a time field")
	}
	layout := q.TimeFormat
	if layout == "" {
		layout = DefaultTimeFormat
	}
	for _, ts := range []string{q.StartTime, q.EndTime} {
		if _, err := time.Parse(layout, ts); err != nil {
			return errs.Config("time %q does not match layout %q", ts, layout)
		}
	}
	return nil
}

// Build assembles the search body: a bool query whose filter clause holds
// the time range plus one term/terms entry per filter.
func (q *QueryModel) Build() map[string]any {
	rangeBody := map[string]any{
		"gte": q.StartTime,
		"lte": q.EndTime,
	}
	if q.TimeFormat != "" {
		rangeBody["format"] = q.TimeFormat
	}
	filter := []any{
		map[string]any{"range": map[string]any{q.TimeField: rangeBody}},
	}
	fields := make([]string, 0, len(q.Filters))
	for f := range q.Filters {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, field := range fields {
		switch v := q.Filters[field].(type) {
		case []any:
			filter = append(filter, map[string]any{"terms": map[string]any{field: v}})
		default:
			filter = append(filter, map[string]any{"term": map[string]any{field: v}})
		}
	}

	body := map[string]any{
		"query": map[string]any{"bool": map[string]any{"filter": filter}},
	}
	if len(q.SourceFields) > 0 {
		body["_source"] = q.SourceFields
	}
	return body
}
