// Package config holds the two configuration surfaces of the engine: the
// JSON run spec describing one pipeline run (which stages, which sections,
// which output schema), and the process environment (connection settings,
// log level) sourced from flags with env fallbacks.
//
// The run spec model is deliberately plain and stdlib-decoded; field names
// in Go mirror the JSON structure of run files under configs/runs/*.json.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/Zaur86/etl-mini/internal/enrich"
	"github.com/Zaur86/etl-mini/internal/stage"
	"github.com/Zaur86/etl-mini/internal/transform"
)

// Pipeline flavors.
const (
	FlavorETL = "etl"
	FlavorEL  = "el"
)

// RunSpec is the top-level object decoded from a run file. One RunSpec
// describes one pipeline run end to end.
type RunSpec struct {
	// Job names the run for logs and metadata rows.
	Job string `json:"job"`

	// Flavor selects the pipeline shape: "etl" (extract, transform, load,
	// optional metadata) or "el" (raw extract straight to load). Empty
	// means "etl".
	Flavor string `json:"flavor"`

	// FailOnMissing aborts the run when the source entity does not exist
	// instead of skipping gracefully.
	FailOnMissing bool `json:"fail_on_missing"`

	// LoadMetadata enables the checkpoint write after all batches succeed.
	// ETL flavor only.
	LoadMetadata bool `json:"load_metadata"`

	Extractor   StageSpec       `json:"extractor"`
	Transformer TransformerSpec `json:"transformer"`
	Loader      StageSpec       `json:"loader"`
}

// StageSpec selects one registered stage implementation and carries its
// per-section argument maps.
type StageSpec struct {
	// Kind selects the implementation from the stage registries
	// (e.g. "elasticsearch", "objstore", "postgres").
	Kind string `json:"kind"`

	// Sections maps section name ("init", "check_exists", "preparation",
	// "extract", "load", ...) to that section's argument map.
	Sections map[string]stage.Args `json:"sections"`
}

// Section returns one section's args, never nil.
func (s StageSpec) Section(name stage.Section) stage.Args {
	return s.StageSections().Get(name)
}

// StageSections converts the decoded map to the stage package's type.
func (s StageSpec) StageSections() stage.Sections {
	out := make(stage.Sections, len(s.Sections))
	for name, args := range s.Sections {
		out[stage.Section(name)] = args
	}
	return out
}

// TransformerSpec configures the TSV converter: the fixed output schema,
// an optional record-level reshaping step, and the additional enrichment
// fields appended after the mapped columns.
type TransformerSpec struct {
	Mapping     []transform.Column `json:"mapping"`
	NotNull     []string           `json:"not_null,omitempty"`
	Placeholder string             `json:"placeholder,omitempty"`
	Workers     int                `json:"workers,omitempty"`
	MaxJSONLen  int                `json:"max_json_len,omitempty"`
	NestedKey   []string           `json:"nested_key,omitempty"`
	Debug       bool               `json:"debug,omitempty"`

	Select           *SelectSpec `json:"select,omitempty"`
	AdditionalFields []FieldSpec `json:"additional_fields,omitempty"`
}

// SelectSpec configures the pre-rendering reshaping step.
type SelectSpec struct {
	Constants         []ConstantSpec `json:"constants,omitempty"`
	Columns           []string       `json:"columns,omitempty"`
	RequireAllColumns bool           `json:"require_all_columns,omitempty"`
	DedupBy           []string       `json:"dedup_by,omitempty"`
	OrderBy           []string       `json:"order_by,omitempty"`
}

// ConstantSpec is one literal column added by the select step.
type ConstantSpec struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// FieldSpec declares one additional output field. A constant field sets
// value and output_fields; a computed field sets func plus its mappings.
// The output mapping is an ordered list so column order follows the run
// file, not map iteration.
type FieldSpec struct {
	// Constant variant.
	Value        any      `json:"value,omitempty"`
	OutputFields []string `json:"output_fields,omitempty"`

	// Computed variant.
	Func          string                      `json:"func,omitempty"`
	InputMapping  map[string]enrich.ArgSource `json:"input_mapping,omitempty"`
	StaticArgs    map[string]any              `json:"static_args,omitempty"`
	OutputMapping []OutputSpec                `json:"output_mapping,omitempty"`
}

// OutputSpec routes one function result key to one output column.
type OutputSpec struct {
	Key    string `json:"key"`
	Column string `json:"column"`
}

// Build converts the declaration to a validated enrich.Field.
func (f FieldSpec) Build() (enrich.Field, error) {
	if f.Func == "" {
		return enrich.NewConstant(f.Value, f.OutputFields)
	}
	mapping := make(map[string]string, len(f.OutputMapping))
	order := make([]string, 0, len(f.OutputMapping))
	for _, o := range f.OutputMapping {
		if _, dup := mapping[o.Key]; dup {
			return enrich.Field{}, fmt.Errorf("computed field %q: duplicate output mapping key %q", f.Func, o.Key)
		}
		mapping[o.Key] = o.Column
		order = append(order, o.Key)
	}
	return enrich.NewComputed(f.Func, f.InputMapping, f.StaticArgs, mapping, order)
}

// BuildFields converts every additional-field declaration.
func (t TransformerSpec) BuildFields() ([]enrich.Field, error) {
	fields := make([]enrich.Field, 0, len(t.AdditionalFields))
	for i, fs := range t.AdditionalFields {
		f, err := fs.Build()
		if err != nil {
			return nil, fmt.Errorf("additional field %d: %w", i, err)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// BuildConverter assembles the TSV converter, including the optional
// select step as its pre-chain. Additional fields are NOT baked in here;
// they travel through the preparation section so the converter's lifecycle
// matches every other stage.
func (t TransformerSpec) BuildConverter(log zerolog.Logger) (*transform.TSVConverter, error) {
	c := transform.TSVConverter{
		Mapping:     t.Mapping,
		NotNull:     t.NotNull,
		Placeholder: t.Placeholder,
		Workers:     t.Workers,
		MaxJSONLen:  t.MaxJSONLen,
		NestedKey:   t.NestedKey,
		Debug:       t.Debug,
		Log:         log,
	}
	if t.Select != nil {
		sel := &transform.SelectEnrich{
			Columns:           t.Select.Columns,
			RequireAllColumns: t.Select.RequireAllColumns,
			DedupBy:           t.Select.DedupBy,
			OrderBy:           t.Select.OrderBy,
			Log:               log,
		}
		for _, c := range t.Select.Constants {
			sel.Constants = append(sel.Constants, transform.Constant{Name: c.Name, Value: c.Value})
		}
		c.Pre = transform.Chain{sel}
	}
	return transform.NewTSVConverter(c)
}

// ReadRunSpec decodes a run file.
func ReadRunSpec(path string) (RunSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return RunSpec{}, fmt.Errorf("open run spec: %w", err)
	}
	defer f.Close()
	return DecodeRunSpec(f)
}

// DecodeRunSpec decodes a run spec from r, rejecting unknown fields so a
// typo in a run file fails loudly instead of silently configuring nothing.
func DecodeRunSpec(r io.Reader) (RunSpec, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var spec RunSpec
	if err := dec.Decode(&spec); err != nil {
		return RunSpec{}, fmt.Errorf("decode run spec: %w", err)
	}
	if spec.Flavor == "" {
		spec.Flavor = FlavorETL
	}
	return spec, nil
}
