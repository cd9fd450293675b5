package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Zaur86/etl-mini/internal/stage"
)

// EL is the Extract→Load pipeline flavor: one payload moved verbatim from
// an external source into raw storage. No transform, no batching, no
// checkpoint metadata.
type EL struct {
	NewExtractor func(ctx context.Context) (stage.RawExtractor, error)
	NewLoader    func(ctx context.Context) (stage.RawLoader, error)

	ExtractorArgs stage.Sections
	LoaderArgs    stage.Sections

	// FailOnMissing mirrors the ETL flavor: abort on a missing source
	// entity instead of skipping.
	FailOnMissing bool

	Log zerolog.Logger
}

// Run moves one payload and reports the first failure, wrapped with the
// failing stage.
func (p *EL) Run(ctx context.Context) error {
	log := p.Log.With().Str("run_id", uuid.NewString()).Logger()
	log.Info().Msg("starting raw pipeline run")

	extractor, err := p.NewExtractor(ctx)
	if err != nil {
		return stageErr(log, "init extractor", err)
	}
	defer extractor.Teardown(ctx)
	loader, err := p.NewLoader(ctx)
	if err != nil {
		return stageErr(log, "init loader", err)
	}
	defer loader.Teardown(ctx)

	exists, err := extractor.CheckSourceExists(ctx, p.ExtractorArgs.Get(stage.SectionCheckExists))
	if err != nil {
		return stageErr(log, "source check", err)
	}
	if !exists {
		if p.FailOnMissing {
			err := fmt.Errorf("pipeline source check: source entity does not exist")
			log.Error().Msg("source entity does not exist, run aborted")
			return err
		}
		log.Warn().Msg("source entity does not exist, run halted gracefully")
		return nil
	}

	data, err := extractor.Extract(ctx, p.ExtractorArgs.Get(stage.SectionExtract))
	if err != nil {
		return stageErr(log, "extract", err)
	}
	if err := loader.Load(ctx, data, p.LoaderArgs.Get(stage.SectionLoad)); err != nil {
		return stageErr(log, "load", err)
	}
	log.Info().Msg("raw pipeline run finished")
	return nil
}
