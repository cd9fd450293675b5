// Package pipeline drives one run of the staged ETL engine: source check,
// batch loop (extract → transform → load), optional checkpoint metadata,
// and teardown with commit/rollback discipline.
//
// The orchestrator is deliberately sequential: a batch's load completes
// before the next batch is pulled, so the shared buffer is written, read,
// and truncated strictly in turn and needs no locking. All concurrency
// lives inside the transformer and is joined before a batch proceeds.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Zaur86/etl-mini/internal/stage"
)

// ETL is the full Extract→Transform→Load pipeline flavor.
//
// The three New* factories realize the init section of each stage; the
// Sections maps hold the remaining per-phase kwargs and must be fully
// assembled before Run (use the Set*Args helpers). Zero-value sections
// resolve to empty args.
type ETL struct {
	NewExtractor   func(ctx context.Context) (stage.Extractor, error)
	NewTransformer func() (stage.Transformer, error)
	NewLoader      func(ctx context.Context) (stage.Loader, error)

	ExtractorArgs   stage.Sections
	TransformerArgs stage.Sections
	LoaderArgs      stage.Sections

	// LoadMetadata enables the checkpoint write after all batches succeed.
	LoadMetadata bool
	// FailOnMissing selects the abort-vs-skip behavior when the source
	// entity does not exist. Skipping still writes NO metadata: a
	// checkpoint must never advance over a source that was not there.
	FailOnMissing bool

	Log zerolog.Logger
}

// SetExtractorArgs assigns one section of extractor kwargs.
func (p *ETL) SetExtractorArgs(sec stage.Section, args stage.Args) {
	if p.ExtractorArgs == nil {
		p.ExtractorArgs = stage.Sections{}
	}
	p.ExtractorArgs[sec] = args
}

// SetTransformerArgs assigns one section of transformer kwargs.
func (p *ETL) SetTransformerArgs(sec stage.Section, args stage.Args) {
	if p.TransformerArgs == nil {
		p.TransformerArgs = stage.Sections{}
	}
	p.TransformerArgs[sec] = args
}

// SetLoaderArgs assigns one section of loader kwargs.
func (p *ETL) SetLoaderArgs(sec stage.Section, args stage.Args) {
	if p.LoaderArgs == nil {
		p.LoaderArgs = stage.Sections{}
	}
	p.LoaderArgs[sec] = args
}

// Run executes the pipeline to completion or first failure and returns
// the number of source rows loaded. Failures are wrapped with the failing
// stage; per-batch failures are never swallowed or retried here.
func (p *ETL) Run(ctx context.Context) (rows int64, err error) {
	log := p.Log.With().Str("run_id", uuid.NewString()).Logger()
	log.Info().Msg("starting pipeline run")

	buf := stage.NewBuffer()
	defer buf.Truncate()

	extractor, err := p.NewExtractor(ctx)
	if err != nil {
		return 0, stageErr(log, "init extractor", err)
	}
	transformer, err := p.NewTransformer()
	if err != nil {
		return 0, stageErr(log, "init transformer", err)
	}
	loader, err := p.NewLoader(ctx)
	if err != nil {
		return 0, stageErr(log, "init loader", err)
	}

	if err := extractor.Connect(ctx); err != nil {
		return 0, stageErr(log, "extractor connect", err)
	}
	defer extractor.Teardown(ctx)

	exists, err := extractor.CheckSourceExists(ctx, p.ExtractorArgs.Get(stage.SectionCheckExists))
	if err != nil {
		return 0, stageErr(log, "source check", err)
	}
	if !exists {
		if p.FailOnMissing {
			err := fmt.Errorf("pipeline source check: source entity does not exist")
			log.Error().Msg("source entity does not exist, run aborted")
			return 0, err
		}
		log.Warn().Msg("source entity does not exist, run halted gracefully")
		return 0, nil
	}

	if err := loader.Connect(ctx); err != nil {
		return 0, stageErr(log, "loader connect", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = loader.Close(ctx, false)
		}
	}()

	if err := extractor.PrepareExtraction(ctx, p.ExtractorArgs.Get(stage.SectionPreparation)); err != nil {
		return 0, stageErr(log, "extraction preparation", err)
	}
	if err := transformer.PrepareTransformation(p.TransformerArgs.Get(stage.SectionPreparation)); err != nil {
		return 0, stageErr(log, "transformation preparation", err)
	}

	for batch, exErr := range extractor.ExtractBatches(ctx, p.ExtractorArgs.Get(stage.SectionExtract)) {
		if exErr != nil {
			return rows, stageErr(log, "extract", exErr)
		}
		if err := transformer.Transform(ctx, batch, buf, p.TransformerArgs.Get(stage.SectionTransform)); err != nil {
			return rows, stageErr(log, "transform", err)
		}
		if err := loader.PrepareLoading(p.LoaderArgs.Get(stage.SectionPreparation)); err != nil {
			return rows, stageErr(log, "load preparation", err)
		}
		loadArgs := p.LoaderArgs.Get(stage.SectionLoad).Clone()
		loadArgs["source"] = buf
		if _, ok := loadArgs["source_type"]; !ok {
			loadArgs["source_type"] = "buffer"
		}
		if err := loader.LoadData(ctx, loadArgs); err != nil {
			return rows, stageErr(log, "load", err)
		}
		rows += int64(len(batch))
		log.Debug().Int64("rows_total", rows).Msg("batch loaded")
	}
	log.Info().Int64("rows", rows).Msg("all batches loaded")

	if p.LoadMetadata {
		if err := loader.PrepareLoading(p.LoaderArgs.Get(stage.SectionPreparationMeta)); err != nil {
			return rows, stageErr(log, "metadata preparation", err)
		}
		if err := loader.LoadData(ctx, p.LoaderArgs.Get(stage.SectionLoadMeta)); err != nil {
			return rows, stageErr(log, "metadata load", err)
		}
		log.Info().Msg("metadata loaded")
	}

	if err := loader.Close(ctx, true); err != nil {
		return rows, stageErr(log, "commit", err)
	}
	committed = true
	log.Info().Int64("rows", rows).Msg("pipeline run finished")
	return rows, nil
}

// stageErr logs and wraps err with the failing stage name.
func stageErr(log zerolog.Logger, stageName string, err error) error {
	log.Error().Err(err).Str("stage", stageName).Msg("pipeline failed")
	return fmt.Errorf("pipeline %s: %w", stageName, err)
}
