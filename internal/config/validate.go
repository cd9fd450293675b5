// This file adds a lightweight linter/validator for RunSpec values. It
// performs static checks over a decoded spec and returns a list of issues
// (errors and warnings) that callers can surface in a CLI or tests.
package config

import (
	"fmt"
	"strings"

	"github.com/Zaur86/etl-mini/internal/enrich"
	"github.com/Zaur86/etl-mini/internal/stage"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be surfaced
	// to users but may not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding for a RunSpec.
//
// Path is a dotted path into the spec (e.g. "loader.kind",
// "transformer.additional_fields[1]"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a
// single error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// ValidateRunSpec performs static validation of a RunSpec. It does not
// mutate the spec; callers decide whether warnings are fatal.
func ValidateRunSpec(s RunSpec) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it identifies the run in logs and metadata",
		})
	}

	switch s.Flavor {
	case "", FlavorETL:
		issues = append(issues, validateTransformer(s.Transformer)...)
	case FlavorEL:
		if s.LoadMetadata {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "load_metadata",
				Message:  "load_metadata has no effect in the el flavor",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "flavor",
			Message:  fmt.Sprintf("unknown flavor %q (want %q or %q)", s.Flavor, FlavorETL, FlavorEL),
		})
	}

	issues = append(issues, validateStage("extractor", s.Extractor,
		[]string{"elasticsearch", "objstore", "httpapi"})...)
	issues = append(issues, validateStage("loader", s.Loader,
		[]string{"postgres", "objstore"})...)

	if s.LoadMetadata && s.Flavor != FlavorEL {
		for _, sec := range []stage.Section{stage.SectionPreparationMeta, stage.SectionLoadMeta} {
			if len(s.Loader.Section(sec)) == 0 {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     fmt.Sprintf("loader.sections.%s", sec),
					Message:  "load_metadata is enabled but the metadata section is empty",
				})
			}
		}
	}

	return issues
}

// validateStage checks one stage selector. Unknown kinds are warnings for
// forward compatibility; a registered implementation may exist outside the
// built-in set.
func validateStage(path string, s StageSpec, known []string) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Kind) == "" {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     path + ".kind",
			Message:  path + ".kind must not be empty",
		})
	}
	found := false
	for _, k := range known {
		if s.Kind == k {
			found = true
			break
		}
	}
	if !found {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     path + ".kind",
			Message:  fmt.Sprintf("unknown %s kind %q; ensure a matching implementation is registered", path, s.Kind),
		})
	}
	return issues
}

// validateTransformer checks the output schema declaration.
func validateTransformer(t TransformerSpec) []Issue {
	var issues []Issue

	if len(t.Mapping) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "transformer.mapping",
			Message:  "field mapping must not be empty",
		})
	}
	seen := map[string]bool{}
	for i, col := range t.Mapping {
		if col.Name == "" || col.Key == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("transformer.mapping[%d]", i),
				Message:  "mapping entries need both name and key",
			})
			continue
		}
		if seen[col.Name] {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("transformer.mapping[%d].name", i),
				Message:  fmt.Sprintf("duplicate output column %q", col.Name),
			})
		}
		seen[col.Name] = true
	}
	for _, nn := range t.NotNull {
		if !seen[nn] {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "transformer.not_null",
				Message:  fmt.Sprintf("not_null column %q is not in the field mapping", nn),
			})
		}
	}

	for i, f := range t.AdditionalFields {
		path := fmt.Sprintf("transformer.additional_fields[%d]", i)
		constant := f.Value != nil || len(f.OutputFields) > 0
		computed := f.Func != ""
		switch {
		case constant && computed:
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  "field declares both a constant value and a func; pick one variant",
			})
		case computed:
			if len(f.OutputMapping) == 0 {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     path + ".output_mapping",
					Message:  "computed field needs a non-empty output mapping",
				})
			}
			if _, err := enrich.Resolve(f.Func); err != nil {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     path + ".func",
					Message:  err.Error(),
				})
			}
		case constant:
			if len(f.OutputFields) == 0 {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     path + ".output_fields",
					Message:  "constant field needs at least one output field",
				})
			}
		default:
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  "field declares neither a constant value nor a func",
			})
		}
	}

	if t.Workers < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "transformer.workers",
			Message:  "workers must not be negative",
		})
	}

	return issues
}
