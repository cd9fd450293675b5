package elastic

import (
	"context"
	"fmt"
	"testing"

	"github.com/Zaur86/etl-mini/internal/stage"
	"github.com/Zaur86/etl-mini/pkg/records"
)

// fakeAPI scripts the scroll protocol: an initial page plus a sequence of
// continuation pages, recording every call for assertions.
type fakeAPI struct {
	pages   []*Page
	next    int
	pingErr error
	exists  bool

	searches int
	scrolls  []string
	cleared  []string
	closed   bool
}

func (f *fakeAPI) Ping(context.Context) error { return f.pingErr }

func (f *fakeAPI) IndexExists(context.Context, string) (bool, error) {
	return f.exists, nil
}

func (f *fakeAPI) Search(_ context.Context, _ string, _ []byte, _ string, _ int) (*Page, error) {
	f.searches++
	return f.pop()
}

func (f *fakeAPI) Scroll(_ context.Context, scrollID, _ string) (*Page, error) {
	f.scrolls = append(f.scrolls, scrollID)
	return f.pop()
}

func (f *fakeAPI) ClearScroll(_ context.Context, scrollID string) error {
	f.cleared = append(f.cleared, scrollID)
	return nil
}

func (f *fakeAPI) Close() error {
	f.closed = true
	return nil
}

func (f *fakeAPI) pop() (*Page, error) {
	if f.next >= len(f.pages) {
		return &Page{}, nil
	}
	p := f.pages[f.next]
	f.next++
	return p, nil
}

func hit(id string) records.Record { return records.Record{"_id": id} }

func newTestExtractor(t *testing.T, api *fakeAPI) *Extractor {
	t.Helper()
	orig := newAPI
	t.Cleanup(func() { newAPI = orig })
	newAPI = func(Config) (SearchAPI, error) { return api, nil }

	e, err := New(Config{BaseURL: "http://search:9200"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func prepare(t *testing.T, e *Extractor) {
	t.Helper()
	ctx := context.Background()
	if err := e.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	err := e.PrepareExtraction(ctx, stage.Args{
		"index": "events",
		"query": map[string]any{
			"time_field": "created_at",
			"start_time": "2026-08-01 00:00:00",
			"end_time":   "2026-08-02 00:00:00",
		},
	})
	if err != nil {
		t.Fatalf("PrepareExtraction: %v", err)
	}
}

/* TestExtractBatches_CursorRefresh verifies the scroll lifecycle: the
initial search opens the cursor, every continuation uses the most recent
token, and the sequence ends on the first empty page. */
func TestExtractBatches_CursorRefresh(t *testing.T) {
	api := &fakeAPI{
		exists: true,
		pages: []*Page{
			{ScrollID: "s1", Hits: records.Batch{hit("1"), hit("2")}},
			{ScrollID: "s2", Hits: records.Batch{hit("3")}},
			{ScrollID: "s3"}, // empty page terminates
		},
	}
	e := newTestExtractor(t, api)
	prepare(t, e)

	var total int
	for batch, err := range e.ExtractBatches(context.Background(), nil) {
		if err != nil {
			t.Fatalf("batch error: %v", err)
		}
		total += len(batch)
	}
	if total != 3 {
		t.Fatalf("extracted %d hits, want 3", total)
	}
	if api.searches != 1 {
		t.Fatalf("searches = %d, want 1", api.searches)
	}
	// Continuations must carry the refreshed token from the previous page.
	if fmt.Sprintf("%v", api.scrolls) != "[s1 s2]" {
		t.Fatalf("scroll tokens = %v, want [s1 s2]", api.scrolls)
	}
}

// TestTeardown_ClearsScroll verifies the last cursor token is cleared and
// the session closed, and that teardown is safe to repeat.
func TestTeardown_ClearsScroll(t *testing.T) {
	api := &fakeAPI{
		exists: true,
		pages: []*Page{
			{ScrollID: "s1", Hits: records.Batch{hit("1")}},
			{ScrollID: "s2"},
		},
	}
	e := newTestExtractor(t, api)
	prepare(t, e)

	for _, err := range e.ExtractBatches(context.Background(), nil) {
		if err != nil {
			t.Fatalf("batch error: %v", err)
		}
	}
	e.Teardown(context.Background())
	if fmt.Sprintf("%v", api.cleared) != "[s2]" {
		t.Fatalf("cleared = %v, want [s2]", api.cleared)
	}
	if !api.closed {
		t.Fatal("session not closed")
	}

	e.Teardown(context.Background())
	if len(api.cleared) != 1 {
		t.Fatalf("second teardown cleared again: %v", api.cleared)
	}
}

func TestCheckSourceExists(t *testing.T) {
	api := &fakeAPI{exists: false}
	e := newTestExtractor(t, api)
	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ok, err := e.CheckSourceExists(context.Background(), stage.Args{"index": "missing"})
	if err != nil {
		t.Fatalf("CheckSourceExists: %v", err)
	}
	if ok {
		t.Fatal("missing index reported as existing")
	}
	if _, err := e.CheckSourceExists(context.Background(), stage.Args{}); err == nil {
		t.Fatal("missing index arg should fail")
	}
}

// TestExtractBatches_RequiresLifecycle verifies the guard rails: no
// extraction without Connect and PrepareExtraction.
func TestExtractBatches_RequiresLifecycle(t *testing.T) {
	e := newTestExtractor(t, &fakeAPI{})

	for _, err := range e.ExtractBatches(context.Background(), nil) {
		if err == nil {
			t.Fatal("unconnected extractor should yield an error")
		}
	}

	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	for _, err := range e.ExtractBatches(context.Background(), nil) {
		if err == nil {
			t.Fatal("unprepared extractor should yield an error")
		}
	}
}
