package postgres

import (
	"strings"
	"testing"

	"github.com/Zaur86/etl-mini/internal/errs"
	"github.com/Zaur86/etl-mini/internal/stage"
)

func TestConflictPolicy_Validate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		p    ConflictPolicy
		ok   bool
	}{
		{"no action", ConflictPolicy{}, true},
		{"nothing", ConflictPolicy{Action: ConflictNothing, ConflictColumns: []string{"id"}}, true},
		{"update", ConflictPolicy{
			Action: ConflictUpdate, ConflictColumns: []string{"id"}, UpdateColumns: []string{"v"},
		}, true},
		{"nothing without columns", ConflictPolicy{Action: ConflictNothing}, false},
		{"update without update columns", ConflictPolicy{
			Action: ConflictUpdate, ConflictColumns: []string{"id"},
		}, false},
		{"invalid action", ConflictPolicy{Action: "merge"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.p.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tc.ok && !errs.IsConfig(err) {
				t.Fatalf("error = %v, want config error", err)
			}
		})
	}
}

func TestConflictPolicyFrom(t *testing.T) {
	t.Parallel()

	p, err := conflictPolicyFrom(stage.Args{
		"conflict_action":  "nothing",
		"conflict_columns": []any{"job"},
	})
	if err != nil {
		t.Fatalf("conflictPolicyFrom: %v", err)
	}
	if p.Action != ConflictNothing || len(p.ConflictColumns) != 1 {
		t.Fatalf("policy = %+v", p)
	}
}

/* TestBuildInsert verifies statement assembly: columns sorted for a
deterministic statement, parameters numbered row-major, and every row
checked against the first row's column set. */
func TestBuildInsert(t *testing.T) {
	t.Parallel()

	rows := []map[string]any{
		{"b": 2, "a": 1},
		{"a": 3, "b": 4},
	}
	sql, params, err := buildInsert("t", rows, ConflictPolicy{})
	if err != nil {
		t.Fatalf("buildInsert: %v", err)
	}
	want := `INSERT INTO "t" ("a", "b") VALUES ($1, $2), ($3, $4)`
	if sql != want {
		t.Fatalf("sql = %q, want %q", sql, want)
	}
	if len(params) != 4 || params[0] != 1 || params[1] != 2 || params[2] != 3 || params[3] != 4 {
		t.Fatalf("params = %v, want [1 2 3 4]", params)
	}
}

func TestBuildInsert_RowMismatch(t *testing.T) {
	t.Parallel()

	_, _, err := buildInsert("t", []map[string]any{
		{"a": 1},
		{"a": 1, "b": 2},
	}, ConflictPolicy{})
	if !errs.IsConfig(err) {
		t.Fatalf("extra column: error = %v, want config error", err)
	}

	_, _, err = buildInsert("t", []map[string]any{
		{"a": 1, "b": 2},
		{"a": 1, "c": 3},
	}, ConflictPolicy{})
	if !errs.IsConfig(err) {
		t.Fatalf("renamed column: error = %v, want config error", err)
	}
}

func TestBuildInsert_ConflictClauses(t *testing.T) {
	t.Parallel()

	rows := []map[string]any{{"id": 1, "v": "x"}}

	sql, _, err := buildInsert("t", rows, ConflictPolicy{
		Action: ConflictNothing, ConflictColumns: []string{"id"},
	})
	if err != nil {
		t.Fatalf("buildInsert: %v", err)
	}
	if !strings.HasSuffix(sql, `ON CONFLICT ("id") DO NOTHING`) {
		t.Fatalf("sql = %q", sql)
	}

	sql, _, err = buildInsert("t", rows, ConflictPolicy{
		Action:          ConflictUpdate,
		ConflictColumns: []string{"id"},
		UpdateColumns:   []string{"v"},
	})
	if err != nil {
		t.Fatalf("buildInsert: %v", err)
	}
	if !strings.HasSuffix(sql, `ON CONFLICT ("id") DO UPDATE SET "v" = excluded."v"`) {
		t.Fatalf("sql = %q", sql)
	}
}

// TestBuildInsert_DynamicValue verifies deferred values resolve when the
// statement is built, not when the row map was configured.
func TestBuildInsert_DynamicValue(t *testing.T) {
	t.Parallel()

	calls := 0
	rows := []map[string]any{{
		"job": "events",
		"loaded_at": DynamicValue(func() any {
			calls++
			return "2026-08-25 12:00:00"
		}),
	}}
	_, params, err := buildInsert("t", rows, ConflictPolicy{})
	if err != nil {
		t.Fatalf("buildInsert: %v", err)
	}
	if calls != 1 {
		t.Fatalf("provider calls = %d, want 1", calls)
	}
	// Columns sort as [job, loaded_at].
	if params[1] != "2026-08-25 12:00:00" {
		t.Fatalf("params = %v, want resolved timestamp", params)
	}
}

func TestValueRows(t *testing.T) {
	t.Parallel()

	if _, err := valueRows(nil); !errs.IsConfig(err) {
		t.Fatalf("nil: error = %v, want config error", err)
	}
	if _, err := valueRows([]map[string]any{}); !errs.IsConfig(err) {
		t.Fatalf("empty: error = %v, want config error", err)
	}
	if _, err := valueRows([]any{"scalar"}); !errs.IsConfig(err) {
		t.Fatalf("scalar element: error = %v, want config error", err)
	}

	// Decoded run specs hand over []any of objects.
	rows, err := valueRows([]any{map[string]any{"a": 1}})
	if err != nil || len(rows) != 1 || rows[0]["a"] != 1 {
		t.Fatalf("valueRows = (%v, %v)", rows, err)
	}
}
