package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Zaur86/etl-mini/internal/config"
	"github.com/Zaur86/etl-mini/internal/pipeline"
	"github.com/Zaur86/etl-mini/internal/source/httpapi"
	"github.com/Zaur86/etl-mini/internal/source/objstore"
	"github.com/Zaur86/etl-mini/internal/stage"
	"github.com/Zaur86/etl-mini/internal/storage/postgres"
)

// dynamicNow is the marker a run spec uses inside metadata values to mean
// "the time of the write", resolved when the insert statement is built.
const dynamicNow = "{{now}}"

// buildETL assembles the full pipeline from a run spec. Connection
// settings absent from the spec's init sections are seeded from the
// process environment, so run files stay free of credentials.
func buildETL(spec config.RunSpec, env *config.Env, log zerolog.Logger) (*pipeline.ETL, error) {
	fields, err := spec.Transformer.BuildFields()
	if err != nil {
		return nil, err
	}

	extractorInit := seedExtractorInit(spec.Extractor, env, log)
	loaderInit := seedLoaderInit(spec.Loader, env, log)

	transformerSections := stage.Sections{
		stage.SectionPreparation: stage.Args{"additional_fields": fields},
	}

	loaderSections := spec.Loader.StageSections()
	for _, sec := range []stage.Section{stage.SectionLoad, stage.SectionLoadMeta} {
		if args, ok := loaderSections[sec]; ok {
			loaderSections[sec] = resolveDynamics(args)
		}
	}

	return &pipeline.ETL{
		NewExtractor: func(ctx context.Context) (stage.Extractor, error) {
			return stage.NewExtractor(ctx, spec.Extractor.Kind, extractorInit)
		},
		NewTransformer: func() (stage.Transformer, error) {
			return spec.Transformer.BuildConverter(log)
		},
		NewLoader: func(ctx context.Context) (stage.Loader, error) {
			return stage.NewLoader(ctx, spec.Loader.Kind, loaderInit)
		},
		ExtractorArgs:   spec.Extractor.StageSections(),
		TransformerArgs: transformerSections,
		LoaderArgs:      loaderSections,
		LoadMetadata:    spec.LoadMetadata,
		FailOnMissing:   spec.FailOnMissing,
		Log:             log.With().Str("job", spec.Job).Logger(),
	}, nil
}

// buildEL assembles the raw extract-to-storage pipeline. The extractor is
// the templated API client; the loader writes into the object store.
func buildEL(spec config.RunSpec, env *config.Env, log zerolog.Logger) (*pipeline.EL, error) {
	if spec.Extractor.Kind != "httpapi" {
		return nil, fmt.Errorf("el flavor supports the httpapi extractor, got %q", spec.Extractor.Kind)
	}
	if spec.Loader.Kind != "objstore" {
		return nil, fmt.Errorf("el flavor supports the objstore loader, got %q", spec.Loader.Kind)
	}

	init := spec.Extractor.Section(stage.SectionInit)
	var tpl httpapi.Template
	if err := reencode(init["template"], &tpl); err != nil {
		return nil, fmt.Errorf("extractor template: %w", err)
	}
	params := map[string]string{}
	if err := reencode(init["params"], &params); err != nil {
		return nil, fmt.Errorf("extractor params: %w", err)
	}
	timeout := time.Duration(env.HTTPTimeoutSec) * time.Second

	loaderInit := spec.Loader.Section(stage.SectionInit)
	baseURL := loaderInit.String("base_url", env.ObjstoreURL)

	return &pipeline.EL{
		NewExtractor: func(context.Context) (stage.RawExtractor, error) {
			return httpapi.New(tpl, params, timeout, log)
		},
		NewLoader: func(context.Context) (stage.RawLoader, error) {
			store, err := objstore.NewStore(baseURL, timeout)
			if err != nil {
				return nil, err
			}
			return objstore.NewRawLoader(store, log), nil
		},
		ExtractorArgs: spec.Extractor.StageSections(),
		LoaderArgs:    spec.Loader.StageSections(),
		FailOnMissing: spec.FailOnMissing,
		Log:           log.With().Str("job", spec.Job).Logger(),
	}, nil
}

// seedExtractorInit fills environment-sourced connection settings into the
// extractor init section when the spec leaves them out.
func seedExtractorInit(s config.StageSpec, env *config.Env, log zerolog.Logger) stage.Args {
	args := s.Section(stage.SectionInit).Clone()
	switch s.Kind {
	case "elasticsearch":
		setDefault(args, "base_url", env.SearchURL)
		setDefault(args, "username", env.SearchUser)
		setDefault(args, "password", env.SearchPassword)
	case "objstore":
		setDefault(args, "base_url", env.ObjstoreURL)
	}
	if _, ok := args["timeout_seconds"]; !ok && env.HTTPTimeoutSec > 0 {
		args["timeout_seconds"] = env.HTTPTimeoutSec
	}
	args["logger"] = log
	return args
}

// seedLoaderInit fills the warehouse DSN into the loader init section.
func seedLoaderInit(s config.StageSpec, env *config.Env, log zerolog.Logger) stage.Args {
	args := s.Section(stage.SectionInit).Clone()
	if s.Kind == "postgres" {
		setDefault(args, "dsn", env.DSN)
	}
	args["logger"] = log
	return args
}

func setDefault(args stage.Args, key, value string) {
	if _, ok := args[key]; !ok && value != "" {
		args[key] = value
	}
}

// resolveDynamics rewrites the dynamicNow marker inside metadata value rows
// into a deferred timestamp provider.
func resolveDynamics(args stage.Args) stage.Args {
	rows, ok := args["values"].([]any)
	if !ok {
		return args
	}
	out := args.Clone()
	resolved := make([]any, len(rows))
	for i, e := range rows {
		row, ok := e.(map[string]any)
		if !ok {
			resolved[i] = e
			continue
		}
		r := make(map[string]any, len(row))
		for k, v := range row {
			if s, isStr := v.(string); isStr && s == dynamicNow {
				r[k] = postgres.DynamicValue(func() any {
					return time.Now().UTC().Format("2006-01-02 15:04:05")
				})
				continue
			}
			r[k] = v
		}
		resolved[i] = r
	}
	out["values"] = resolved
	return out
}

// reencode converts a decoded JSON subtree into a typed value.
func reencode(v any, dst any) error {
	if v == nil {
		return fmt.Errorf("missing required object")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
