package postgres

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/Zaur86/etl-mini/internal/errs"
	"github.com/Zaur86/etl-mini/internal/stage"
)

// Conflict actions accepted by the value-list insert.
const (
	ConflictNone    = ""
	ConflictNothing = "nothing"
	ConflictUpdate  = "update"
)

// ConflictPolicy describes what happens on a unique-constraint collision:
// nothing at all (no clause), skip the row, or update UpdateColumns from
// the incoming row.
type ConflictPolicy struct {
	Action          string
	ConflictColumns []string
	UpdateColumns   []string
}

// Validate enforces the pairing rules before any statement is built.
func (p ConflictPolicy) Validate() error {
	switch p.Action {
	case ConflictNone:
		return nil
	case ConflictNothing, ConflictUpdate:
		if len(p.ConflictColumns) == 0 {
			return errs.Config("conflict_columns must be provided when conflict_action is %q", p.Action)
		}
		if p.Action == ConflictUpdate && len(p.UpdateColumns) == 0 {
			return errs.Config("update_columns must be provided when conflict_action is %q", ConflictUpdate)
		}
		return nil
	default:
		return errs.Config("invalid conflict_action %q (want %q, %q, or unset)",
			p.Action, ConflictUpdate, ConflictNothing)
	}
}

func conflictPolicyFrom(args stage.Args) (ConflictPolicy, error) {
	p := ConflictPolicy{
		Action:          args.String("conflict_action", ConflictNone),
		ConflictColumns: args.Strings("conflict_columns"),
		UpdateColumns:   args.Strings("update_columns"),
	}
	return p, p.Validate()
}

// DynamicValue is resolved at statement-build time, so checkpoint rows can
// carry the time of the write rather than the time of configuration.
type DynamicValue func() any

// valueRows normalizes the values argument to a non-empty row list. Rows
// arrive typed from code or as []any of objects from a decoded run spec.
func valueRows(v any) ([]map[string]any, error) {
	switch rows := v.(type) {
	case []map[string]any:
		if len(rows) == 0 {
			return nil, errs.Config("values list is empty")
		}
		return rows, nil
	case []any:
		if len(rows) == 0 {
			return nil, errs.Config("values list is empty")
		}
		out := make([]map[string]any, 0, len(rows))
		for i, e := range rows {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, errs.Config("values[%d] must be an object, got %T", i, e)
			}
			out = append(out, m)
		}
		return out, nil
	case nil:
		return nil, errs.Config("missing required parameter %q", "values")
	default:
		return nil, errs.Config("values must be []map[string]any, got %T", v)
	}
}

// buildInsert renders one parameterized multi-row INSERT plus its flat
// parameter list. The column set comes from the first row (sorted for a
// deterministic statement) and every row must match it exactly.
func buildInsert(table string, rows []map[string]any, policy ConflictPolicy) (string, []any, error) {
	columns := make([]string, 0, len(rows[0]))
	for c := range rows[0] {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, errs.Config("row %d has %d columns, want %d", i, len(row), len(columns))
		}
		for _, c := range columns {
			if _, ok := row[c]; !ok {
				return "", nil, errs.Config("row %d is missing column %q", i, c)
			}
		}
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}

	var (
		sb     strings.Builder
		params = make([]any, 0, len(rows)*len(columns))
		argn   = 1
	)
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ",
		pgx.Identifier{table}.Sanitize(), strings.Join(quoted, ", "))
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, c := range columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", argn)
			argn++
			v := row[c]
			if dyn, ok := v.(DynamicValue); ok {
				v = dyn()
			}
			params = append(params, v)
		}
		sb.WriteString(")")
	}

	switch policy.Action {
	case ConflictNothing:
		fmt.Fprintf(&sb, " ON CONFLICT (%s) DO NOTHING", joinIdents(policy.ConflictColumns))
	case ConflictUpdate:
		sets := make([]string, len(policy.UpdateColumns))
		for i, c := range policy.UpdateColumns {
			q := pgx.Identifier{c}.Sanitize()
			sets[i] = fmt.Sprintf("%s = excluded.%s", q, q)
		}
		fmt.Fprintf(&sb, " ON CONFLICT (%s) DO UPDATE SET %s",
			joinIdents(policy.ConflictColumns), strings.Join(sets, ", "))
	}

	return sb.String(), params, nil
}

func joinIdents(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
