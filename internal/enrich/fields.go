package enrich

import (
	"github.com/Zaur86/etl-mini/internal/errs"
	"github.com/Zaur86/etl-mini/pkg/records"
)

// ArgSource locates one function argument inside a record: walk NestedPath,
// then read Key at that level.
type ArgSource struct {
	NestedPath []string `json:"nested_path,omitempty"`
	Key        string   `json:"key"`
}

// Field is one additional output field descriptor. Exactly one of the two
// variants is active:
//
//   - constant: Value is copied verbatim into every column named in
//     OutputFields;
//   - computed: FuncName (resolved against the registry at configuration
//     time) is invoked with arguments resolved via InputMapping merged with
//     StaticArgs, and its result is scattered into columns through
//     OutputMapping (result key → output column).
//
// Use NewConstant / NewComputed; a hand-built Field must satisfy Validate.
type Field struct {
	// Constant variant.
	Value        any
	OutputFields []string

	// Computed variant.
	FuncName      string
	fn            Func
	InputMapping  map[string]ArgSource
	StaticArgs    map[string]any
	OutputMapping map[string]string

	// OutputOrder fixes the column order of computed outputs; populated by
	// NewComputed from the declaration order of the run spec. Map iteration
	// order would break the "same header across every batch" guarantee.
	OutputOrder []string
}

// NewConstant builds a constant field writing value into each named column.
func NewConstant(value any, outputFields []string) (Field, error) {
	if len(outputFields) == 0 {
		return Field{}, errs.Config("constant field needs at least one output field")
	}
	return Field{Value: value, OutputFields: outputFields}, nil
}

// NewComputed builds a computed field, resolving funcName eagerly.
// outputOrder lists OutputMapping keys in declaration order; every key must
// appear exactly once.
func NewComputed(
	funcName string,
	inputMapping map[string]ArgSource,
	staticArgs map[string]any,
	outputMapping map[string]string,
	outputOrder []string,
) (Field, error) {
	fn, err := Resolve(funcName)
	if err != nil {
		return Field{}, err
	}
	if len(outputMapping) == 0 {
		return Field{}, errs.Config("computed field %q needs a non-empty output mapping", funcName)
	}
	if len(outputOrder) != len(outputMapping) {
		return Field{}, errs.Config("computed field %q: output order does not cover output mapping", funcName)
	}
	for _, k := range outputOrder {
		if _, ok := outputMapping[k]; !ok {
			return Field{}, errs.Config("computed field %q: output order key %q not in output mapping", funcName, k)
		}
	}
	return Field{
		FuncName:      funcName,
		fn:            fn,
		InputMapping:  inputMapping,
		StaticArgs:    staticArgs,
		OutputMapping: outputMapping,
		OutputOrder:   outputOrder,
	}, nil
}

// IsComputed reports which variant is active.
func (f *Field) IsComputed() bool { return f.fn != nil || f.FuncName != "" }

// Columns returns the output column names this field contributes, in the
// fixed declaration order used for both header and row rendering.
func (f *Field) Columns() []string {
	if !f.IsComputed() {
		return f.OutputFields
	}
	cols := make([]string, 0, len(f.OutputOrder))
	for _, k := range f.OutputOrder {
		cols = append(cols, f.OutputMapping[k])
	}
	return cols
}

// Apply evaluates the field against row and writes its outputs back into
// row. For computed fields every output-mapping key must be present in the
// function result; extra result keys are stored under their own name, which
// keeps them addressable by later fields without widening the row schema.
func (f *Field) Apply(row records.Record) error {
	if !f.IsComputed() {
		for _, out := range f.OutputFields {
			row[out] = f.Value
		}
		return nil
	}

	args := make(map[string]any, len(f.InputMapping)+len(f.StaticArgs))
	for argName, src := range f.InputMapping {
		v, err := records.Require(row, src.NestedPath, src.Key)
		if err != nil {
			return err
		}
		args[argName] = v
	}
	for k, v := range f.StaticArgs {
		args[k] = v
	}

	result, err := f.fn(args)
	if err != nil {
		return err
	}
	for resultKey, column := range f.OutputMapping {
		v, ok := result[resultKey]
		if !ok {
			return errs.MissingField(resultKey, result)
		}
		row[column] = v
	}
	for resultKey, v := range result {
		if _, mapped := f.OutputMapping[resultKey]; !mapped {
			row[resultKey] = v
		}
	}
	return nil
}
