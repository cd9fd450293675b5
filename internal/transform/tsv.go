package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Zaur86/etl-mini/internal/enrich"
	"github.com/Zaur86/etl-mini/internal/errs"
	"github.com/Zaur86/etl-mini/internal/stage"
	"github.com/Zaur86/etl-mini/pkg/records"
)

// DefaultPlaceholder is rendered for optional fields absent from a record.
const DefaultPlaceholder = "NULL"

// DefaultMaxJSONLen is the serialized-value size above which a warning is
// logged. Oversized values are never truncated: framing stays intact
// because tabs and newlines are stripped regardless of length.
const DefaultMaxJSONLen = 100_000

// Column maps one output column to its source location inside a record:
// walk NestedPath from the (re-rooted) record, then read Key.
type Column struct {
	Name       string   `json:"name"`
	Key        string   `json:"key"`
	NestedPath []string `json:"nested_path,omitempty"`
}

// TSVConverter renders batches of nested records as tab-separated text.
//
// Output schema and order are fixed for the whole run: mapped columns in
// declaration order, then each additional field's outputs in declaration
// order. The same order produces the header line, so every batch of a run
// carries an identical header.
//
// Rendering of one chunk is a pure function of that chunk, which is what
// makes the worker fan-out safe: chunk outputs concatenated in chunk order
// reproduce the input batch order exactly.
type TSVConverter struct {
	Mapping     []Column
	NotNull     []string
	Placeholder string
	Workers     int
	MaxJSONLen  int
	// NestedKey re-roots every record before any field is read. A missing
	// segment is fatal for the whole batch.
	NestedKey []string
	// Debug forces strictly sequential chunk rendering so log interleaving
	// stays deterministic. Output is identical in both modes.
	Debug bool
	// Pre runs record-level reshaping (projection, dedup, constants)
	// before rendering.
	Pre Chain

	Log zerolog.Logger

	additional []enrich.Field
	notNull    map[string]bool
	header     string
	sanitizer  *strings.Replacer
}

var _ stage.Transformer = (*TSVConverter)(nil)

// NewTSVConverter validates the mapping and applies defaults.
func NewTSVConverter(c TSVConverter) (*TSVConverter, error) {
	if len(c.Mapping) == 0 {
		return nil, errs.Config("tsv converter needs a non-empty field mapping")
	}
	seen := map[string]bool{}
	for _, col := range c.Mapping {
		if col.Name == "" || col.Key == "" {
			return nil, errs.Config("tsv mapping entries need both name and key, got %+v", col)
		}
		if seen[col.Name] {
			return nil, errs.Config("duplicate output column %q in field mapping", col.Name)
		}
		seen[col.Name] = true
	}
	if c.Placeholder == "" {
		c.Placeholder = DefaultPlaceholder
	}
	if c.MaxJSONLen <= 0 {
		c.MaxJSONLen = DefaultMaxJSONLen
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if n := runtime.NumCPU(); c.Workers > n {
		c.Log.Warn().Int("workers", c.Workers).Int("cpus", n).
			Msg("transform workers exceed available CPUs")
	}
	c.notNull = make(map[string]bool, len(c.NotNull))
	for _, name := range c.NotNull {
		if !seen[name] {
			return nil, errs.Config("not_null column %q is not in the field mapping", name)
		}
		c.notNull[name] = true
	}
	c.sanitizer = strings.NewReplacer("\t", " ", "\n", " ")
	return &c, nil
}

// PrepareTransformation appends the additional-field descriptors from the
// preparation section. Appending is a plain union: descriptors are not
// deduplicated by name, and calling twice extends the set.
func (c *TSVConverter) PrepareTransformation(args stage.Args) error {
	v, ok := args["additional_fields"]
	if !ok {
		return nil
	}
	fields, ok := v.([]enrich.Field)
	if !ok {
		return errs.Config("additional_fields must be []enrich.Field, got %T", v)
	}
	c.additional = append(c.additional, fields...)
	c.header = "" // schema changed, recompute lazily
	return nil
}

// Header returns the header line (without trailing newline), computed once
// from the mapping plus the enrichment schema.
func (c *TSVConverter) Header() string {
	if c.header != "" {
		return c.header
	}
	cols := make([]string, 0, len(c.Mapping)+len(c.additional))
	for _, col := range c.Mapping {
		cols = append(cols, col.Name)
	}
	for i := range c.additional {
		cols = append(cols, c.additional[i].Columns()...)
	}
	c.header = strings.Join(cols, "\t")
	return c.header
}

// Transform renders batch and appends header plus rows to buf. Any
// NestedKeyError or MissingFieldError aborts the whole batch: no partial
// rows from a failed batch ever reach the buffer.
func (c *TSVConverter) Transform(ctx context.Context, batch records.Batch, buf *stage.Buffer, _ stage.Args) error {
	if c.Pre != nil {
		var err error
		batch, err = c.Pre.Apply(batch)
		if err != nil {
			return err
		}
	}

	chunks := splitChunks(batch, c.Workers)
	results := make([]string, len(chunks))

	if c.Debug || c.Workers == 1 {
		for i, chunk := range chunks {
			out, err := c.renderChunk(chunk)
			if err != nil {
				return err
			}
			results[i] = out
		}
	} else {
		g, _ := errgroup.WithContext(ctx)
		for i, chunk := range chunks {
			g.Go(func() error {
				out, err := c.renderChunk(chunk)
				if err != nil {
					return err
				}
				results[i] = out
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	buf.WriteString(c.Header())
	buf.WriteString("\n")
	for _, out := range results {
		buf.WriteString(out)
	}
	c.Log.Debug().Int("records", len(batch)).Int("chunks", len(chunks)).
		Int("buffer_bytes", buf.Len()).Msg("batch rendered")
	return nil
}

// renderChunk renders one contiguous chunk to TSV lines.
func (c *TSVConverter) renderChunk(chunk records.Batch) (string, error) {
	var b strings.Builder
	line := make([]string, 0, len(c.Mapping)+4)

	for _, row := range chunk {
		row, err := c.processRow(row)
		if err != nil {
			return "", err
		}
		line = line[:0]

		for _, col := range c.Mapping {
			v, ok, err := records.Lookup(row, col.NestedPath, col.Key)
			if err != nil {
				return "", err
			}
			if !ok {
				if c.notNull[col.Name] {
					return "", errs.MissingField(col.Key, row)
				}
				line = append(line, c.Placeholder)
				continue
			}
			line = append(line, c.sanitize(v))
		}

		for i := range c.additional {
			f := &c.additional[i]
			if !f.IsComputed() {
				for _, out := range f.OutputFields {
					v, ok := row[out]
					if !ok {
						line = append(line, c.Placeholder)
						continue
					}
					line = append(line, c.sanitize(v))
				}
				continue
			}
			for _, key := range f.OutputOrder {
				out := f.OutputMapping[key]
				v, ok := row[out]
				if !ok {
					return "", errs.MissingField(out, row)
				}
				line = append(line, c.sanitize(v))
			}
		}

		b.WriteString(strings.Join(line, "\t"))
		b.WriteString("\n")
	}
	return b.String(), nil
}

// processRow re-roots the record at the configured nested key and applies
// the additional fields in declaration order. The record is mutated in
// place; chunks are disjoint, so no two workers ever touch the same row.
func (c *TSVConverter) processRow(row records.Record) (records.Record, error) {
	if len(c.NestedKey) > 0 {
		var err error
		row, err = records.Descend(row, c.NestedKey)
		if err != nil {
			return nil, err
		}
	}
	for i := range c.additional {
		if err := c.additional[i].Apply(row); err != nil {
			return nil, err
		}
	}
	return row, nil
}

// sanitize renders a value as a single TSV cell. Nested structures are
// JSON-serialized; embedded tabs and newlines become single spaces to
// preserve row/column framing. Nil renders as the missing-value
// placeholder, matching how absent fields load as SQL NULL.
func (c *TSVConverter) sanitize(v any) string {
	if v == nil {
		return c.Placeholder
	}
	var s string
	switch v.(type) {
	case map[string]any, []any:
		raw, err := json.Marshal(v)
		if err != nil {
			s = fmt.Sprintf("%v", v)
		} else {
			s = string(raw)
		}
		if len(s) > c.MaxJSONLen {
			c.Log.Warn().Int("len", len(s)).Int("max", c.MaxJSONLen).
				Msg("serialized value exceeds size limit")
		}
	default:
		s = fmt.Sprintf("%v", v)
	}
	return c.sanitizer.Replace(s)
}

// splitChunks partitions batch into n contiguous near-equal chunks, the
// remainder going to the first chunks. Empty tail chunks are kept so chunk
// count stays deterministic for a given worker setting.
func splitChunks(batch records.Batch, n int) []records.Batch {
	if n < 1 {
		n = 1
	}
	base := len(batch) / n
	rem := len(batch) % n
	chunks := make([]records.Batch, 0, n)
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < rem {
			size++
		}
		chunks = append(chunks, batch[start:start+size])
		start += size
	}
	return chunks
}
