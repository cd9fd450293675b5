package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Zaur86/etl-mini/internal/stage"
)

type rawHarness struct {
	calls []string

	exists     bool
	payload    any
	extractErr error
	loadErr    error

	loadedData any
}

type fakeRawExtractor struct{ h *rawHarness }

func (e *fakeRawExtractor) CheckSourceExists(context.Context, stage.Args) (bool, error) {
	e.h.calls = append(e.h.calls, "check")
	return e.h.exists, nil
}

func (e *fakeRawExtractor) Extract(context.Context, stage.Args) (any, error) {
	e.h.calls = append(e.h.calls, "extract")
	return e.h.payload, e.h.extractErr
}

func (e *fakeRawExtractor) Teardown(context.Context) {
	e.h.calls = append(e.h.calls, "extractor.teardown")
}

type fakeRawLoader struct{ h *rawHarness }

func (l *fakeRawLoader) Load(_ context.Context, data any, _ stage.Args) error {
	l.h.calls = append(l.h.calls, "load")
	l.h.loadedData = data
	return l.h.loadErr
}

func (l *fakeRawLoader) Teardown(context.Context) {
	l.h.calls = append(l.h.calls, "loader.teardown")
}

func newRawPipeline(h *rawHarness) *EL {
	return &EL{
		NewExtractor: func(context.Context) (stage.RawExtractor, error) {
			return &fakeRawExtractor{h: h}, nil
		},
		NewLoader: func(context.Context) (stage.RawLoader, error) {
			return &fakeRawLoader{h: h}, nil
		},
		Log: zerolog.Nop(),
	}
}

// TestELRun_PayloadPassthrough verifies the one-shot flow: the extracted
// payload reaches the loader untouched and both stages tear down.
func TestELRun_PayloadPassthrough(t *testing.T) {
	h := &rawHarness{exists: true, payload: []byte("id,name\n1,a\n")}
	p := newRawPipeline(h)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got, ok := h.loadedData.([]byte); !ok || string(got) != "id,name\n1,a\n" {
		t.Fatalf("loaded data = %v, want original payload", h.loadedData)
	}
	for _, call := range []string{"check", "extract", "load", "extractor.teardown", "loader.teardown"} {
		if count(h.calls, call) != 1 {
			t.Fatalf("%q calls = %d, want 1; calls: %v", call, count(h.calls, call), h.calls)
		}
	}
}

func TestELRun_MissingSource(t *testing.T) {
	t.Run("skip", func(t *testing.T) {
		h := &rawHarness{exists: false}
		p := newRawPipeline(h)
		if err := p.Run(context.Background()); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if count(h.calls, "extract") != 0 || count(h.calls, "load") != 0 {
			t.Fatalf("skipped run still extracted/loaded: %v", h.calls)
		}
	})

	t.Run("abort", func(t *testing.T) {
		h := &rawHarness{exists: false}
		p := newRawPipeline(h)
		p.FailOnMissing = true
		err := p.Run(context.Background())
		if err == nil || !strings.Contains(err.Error(), "does not exist") {
			t.Fatalf("error = %v, want missing-source failure", err)
		}
	})
}

func TestELRun_StageFailures(t *testing.T) {
	t.Run("extract", func(t *testing.T) {
		h := &rawHarness{exists: true, extractErr: errors.New("timeout")}
		p := newRawPipeline(h)
		err := p.Run(context.Background())
		if err == nil || !strings.Contains(err.Error(), "extract") {
			t.Fatalf("error = %v, want extract failure", err)
		}
		if count(h.calls, "load") != 0 {
			t.Fatal("load ran after extract failure")
		}
	})

	t.Run("load", func(t *testing.T) {
		h := &rawHarness{exists: true, payload: []byte("x"), loadErr: errors.New("denied")}
		p := newRawPipeline(h)
		err := p.Run(context.Background())
		if err == nil || !strings.Contains(err.Error(), "load") {
			t.Fatalf("error = %v, want load failure", err)
		}
		// Teardowns still run on the failure path.
		if count(h.calls, "extractor.teardown") != 1 || count(h.calls, "loader.teardown") != 1 {
			t.Fatalf("teardowns missing: %v", h.calls)
		}
	})
}
