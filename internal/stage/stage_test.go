package stage

import (
	"context"
	"encoding/json"
	"iter"
	"reflect"
	"testing"

	"github.com/Zaur86/etl-mini/internal/errs"
	"github.com/Zaur86/etl-mini/pkg/records"
)

// -----------------------------------------------------------------------------
// Args
// -----------------------------------------------------------------------------

func TestArgs_TypedGetters(t *testing.T) {
	t.Parallel()

	a := Args{
		"s":     "text",
		"b":     true,
		"i":     float64(42), // JSON numbers decode as float64
		"list":  []any{"a", "b"},
		"typed": []string{"x"},
	}

	if got := a.String("s", "d"); got != "text" {
		t.Fatalf("String = %q, want text", got)
	}
	if got := a.String("missing", "d"); got != "d" {
		t.Fatalf("String default = %q, want d", got)
	}
	if got := a.Bool("b", false); !got {
		t.Fatal("Bool = false, want true")
	}
	if got := a.Int("i", 0); got != 42 {
		t.Fatalf("Int = %d, want 42", got)
	}
	if got := a.Strings("list"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("Strings = %v, want [a b]", got)
	}
	if got := a.Strings("typed"); !reflect.DeepEqual(got, []string{"x"}) {
		t.Fatalf("Strings(typed) = %v, want [x]", got)
	}
}

func TestArgs_Require(t *testing.T) {
	t.Parallel()

	a := Args{"s": "v", "n": 1}

	if _, err := a.RequireString("missing"); !errs.IsConfig(err) {
		t.Fatalf("missing key: error = %v, want config error", err)
	}
	if _, err := a.RequireString("n"); !errs.IsConfig(err) {
		t.Fatalf("wrong type: error = %v, want config error", err)
	}
	v, err := a.RequireAny("n")
	if err != nil || v != 1 {
		t.Fatalf("RequireAny = (%v, %v), want (1, nil)", v, err)
	}
}

// TestArgs_CloneIsolation verifies that mutating a clone leaves the
// original untouched, which the orchestrator relies on when injecting the
// shared buffer into load args.
func TestArgs_CloneIsolation(t *testing.T) {
	t.Parallel()

	orig := Args{"table": "events"}
	c := orig.Clone()
	c["source"] = "injected"
	if _, ok := orig["source"]; ok {
		t.Fatal("clone mutation leaked into the original")
	}
}

func TestArgs_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	var a Args
	if err := json.Unmarshal([]byte(`{"k": "v"}`), &a); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if a["k"] != "v" {
		t.Fatalf("a = %v", a)
	}
	if err := json.Unmarshal([]byte(`[1,2]`), &a); err == nil {
		t.Fatal("non-object JSON should fail")
	}
}

func TestSections_Get(t *testing.T) {
	t.Parallel()

	s := Sections{SectionLoad: Args{"table": "t"}}
	if got := s.Get(SectionLoad).String("table", ""); got != "t" {
		t.Fatalf("table = %q, want t", got)
	}
	// Unset sections resolve to a usable empty map, never nil.
	if got := s.Get(SectionExtract); got == nil {
		t.Fatal("unset section returned nil")
	}
}

// -----------------------------------------------------------------------------
// Buffer
// -----------------------------------------------------------------------------

func TestBuffer_Lifecycle(t *testing.T) {
	t.Parallel()

	b := NewBuffer()
	b.WriteString("header\n")
	b.WriteString("row1\n")
	if b.String() != "header\nrow1\n" {
		t.Fatalf("String = %q", b.String())
	}
	if b.Len() != len("header\nrow1\n") {
		t.Fatalf("Len = %d", b.Len())
	}
	b.Truncate()
	if b.Len() != 0 || b.String() != "" {
		t.Fatal("Truncate should discard all content")
	}
}

// -----------------------------------------------------------------------------
// Factory registries
// -----------------------------------------------------------------------------

type nopExtractor struct{}

func (nopExtractor) Connect(context.Context) error { return nil }
func (nopExtractor) CheckSourceExists(context.Context, Args) (bool, error) {
	return true, nil
}
func (nopExtractor) PrepareExtraction(context.Context, Args) error { return nil }
func (nopExtractor) ExtractBatches(context.Context, Args) iter.Seq2[records.Batch, error] {
	return func(func(records.Batch, error) bool) {}
}
func (nopExtractor) Teardown(context.Context) {}

func TestRegistries(t *testing.T) {
	RegisterExtractor("test-nop", func(_ context.Context, a Args) (Extractor, error) {
		if _, err := a.RequireString("base_url"); err != nil {
			return nil, err
		}
		return nopExtractor{}, nil
	})

	if _, err := NewExtractor(context.Background(), "unknown-kind", nil); !errs.IsConfig(err) {
		t.Fatalf("unknown kind: error = %v, want config error", err)
	}
	if _, err := NewExtractor(context.Background(), "test-nop", Args{}); !errs.IsConfig(err) {
		t.Fatalf("factory validation: error = %v, want config error", err)
	}
	e, err := NewExtractor(context.Background(), "test-nop", Args{"base_url": "http://x"})
	if err != nil || e == nil {
		t.Fatalf("NewExtractor = (%v, %v), want extractor", e, err)
	}

	if _, err := NewLoader(context.Background(), "unknown-kind", nil); !errs.IsConfig(err) {
		t.Fatalf("unknown loader kind: error = %v, want config error", err)
	}
}
