// Package stage holds the storage-agnostic stage contracts of the pipeline:
// extractor, transformer, and loader interfaces, the per-section argument
// maps they consume, and the factory registries concrete implementations
// hook into at init time.
//
// The registries keep wiring in one place: cmd and run specs select
// implementations by kind ("elasticsearch", "objstore", "postgres") without
// importing concrete packages, mirroring how storage backends register in
// the original loader codebase.
package stage

import (
	"context"
	"iter"

	"github.com/Zaur86/etl-mini/internal/errs"
	"github.com/Zaur86/etl-mini/pkg/records"
)

// Section names the lifecycle phase a kwarg map belongs to. A section's
// args are fully assembled before the orchestrator reaches that phase;
// unset sections resolve to an empty map.
type Section string

const (
	SectionInit            Section = "init"
	SectionCheckExists     Section = "check_exists"
	SectionPreparation     Section = "preparation"
	SectionExtract         Section = "extract"
	SectionTransform       Section = "transform"
	SectionLoad            Section = "load"
	SectionPreparationMeta Section = "preparation_meta"
	SectionLoadMeta        Section = "load_meta"
)

// Sections maps section name to its argument map.
type Sections map[Section]Args

// Get returns the args for sec, never nil.
func (s Sections) Get(sec Section) Args {
	if a, ok := s[sec]; ok && a != nil {
		return a
	}
	return Args{}
}

// Extractor is the pull-based, resumable batch source boundary.
//
// ExtractBatches returns a finite lazy sequence that is NOT restartable:
// each call opens a new cursor on the source. The sequence terminates when
// the source reports zero remaining hits. Teardown must clear any
// server-side cursor and close the session; its failures are logged as
// warnings by the implementation and never propagated.
type Extractor interface {
	Connect(ctx context.Context) error
	// CheckSourceExists is side-effect-free and must not fail on "not
	// found" — only on connectivity or auth problems.
	CheckSourceExists(ctx context.Context, args Args) (bool, error)
	PrepareExtraction(ctx context.Context, args Args) error
	ExtractBatches(ctx context.Context, args Args) iter.Seq2[records.Batch, error]
	Teardown(ctx context.Context)
}

// Transformer converts one batch into rows of the run's fixed output
// schema, appending the rendered text (header first, once per batch) to
// the shared buffer owned by the orchestrator.
type Transformer interface {
	PrepareTransformation(args Args) error
	Transform(ctx context.Context, batch records.Batch, buf *Buffer, args Args) error
}

// Loader is the transactional sink boundary. PrepareLoading selects one of
// the implementation's declared strategies; LoadData executes it exactly
// once and clears the selection. Close must commit on success, roll back
// on failure, and release the connection on every exit path; a commit
// failure is the one cleanup error that does propagate, because it means
// the run's data never became durable.
type Loader interface {
	Connect(ctx context.Context) error
	PrepareLoading(args Args) error
	LoadData(ctx context.Context, args Args) error
	Close(ctx context.Context, commit bool) error
}

// RawExtractor is the Extract→Load-only source boundary used by the EL
// pipeline flavor: one shot, no batching, no transform.
type RawExtractor interface {
	CheckSourceExists(ctx context.Context, args Args) (bool, error)
	Extract(ctx context.Context, args Args) (any, error)
	Teardown(ctx context.Context)
}

// RawLoader is the Extract→Load-only sink boundary.
type RawLoader interface {
	Load(ctx context.Context, data any, args Args) error
	Teardown(ctx context.Context)
}

// ExtractorFactory builds an Extractor from its init-section args.
type ExtractorFactory func(ctx context.Context, init Args) (Extractor, error)

// LoaderFactory builds a Loader from its init-section args.
type LoaderFactory func(ctx context.Context, init Args) (Loader, error)

var (
	extractors = map[string]ExtractorFactory{}
	loaders    = map[string]LoaderFactory{}
)

// RegisterExtractor registers an extractor kind. Called from init().
func RegisterExtractor(kind string, f ExtractorFactory) { extractors[kind] = f }

// RegisterLoader registers a loader kind. Called from init().
func RegisterLoader(kind string, f LoaderFactory) { loaders[kind] = f }

// NewExtractor builds the registered extractor of the given kind.
func NewExtractor(ctx context.Context, kind string, init Args) (Extractor, error) {
	f, ok := extractors[kind]
	if !ok {
		return nil, errs.Config("unknown extractor kind %q", kind)
	}
	return f(ctx, init)
}

// NewLoader builds the registered loader of the given kind.
func NewLoader(ctx context.Context, kind string, init Args) (Loader, error) {
	f, ok := loaders[kind]
	if !ok {
		return nil, errs.Config("unknown loader kind %q", kind)
	}
	return f(ctx, init)
}
