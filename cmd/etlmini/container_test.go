package main

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Zaur86/etl-mini/internal/config"
	"github.com/Zaur86/etl-mini/internal/stage"
	"github.com/Zaur86/etl-mini/internal/storage/postgres"
)

func testEnv() *config.Env {
	return &config.Env{
		DSN:            "postgresql://env-dsn",
		SearchURL:      "http://search:9200",
		ObjstoreURL:    "http://store:9000",
		HTTPTimeoutSec: 5,
		LogLevel:       "info",
	}
}

func etlSpec(t *testing.T) config.RunSpec {
	t.Helper()
	spec, err := config.DecodeRunSpec(strings.NewReader(`{
	  "job": "j",
	  "extractor": { "kind": "elasticsearch" },
	  "transformer": { "mapping": [{ "name": "id", "key": "id" }] },
	  "loader": {
	    "kind": "postgres",
	    "sections": {
	      "preparation": { "method": "copy_tsv" },
	      "load": { "table": "t" }
	    }
	  }
	}`))
	if err != nil {
		t.Fatalf("DecodeRunSpec: %v", err)
	}
	return spec
}

/* TestBuildETL verifies container wiring: stage factories construct the
registered implementations with environment-seeded connection settings,
and the transformer factory yields a working converter. */
func TestBuildETL(t *testing.T) {
	t.Parallel()

	p, err := buildETL(etlSpec(t), testEnv(), zerolog.Nop())
	if err != nil {
		t.Fatalf("buildETL: %v", err)
	}

	ctx := context.Background()
	if _, err := p.NewExtractor(ctx); err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	if _, err := p.NewLoader(ctx); err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	tr, err := p.NewTransformer()
	if err != nil {
		t.Fatalf("NewTransformer: %v", err)
	}
	if err := tr.PrepareTransformation(p.TransformerArgs.Get(stage.SectionPreparation)); err != nil {
		t.Fatalf("PrepareTransformation with built fields: %v", err)
	}
	if got := p.LoaderArgs.Get(stage.SectionLoad).String("table", ""); got != "t" {
		t.Fatalf("load table = %q, want t", got)
	}
}

func TestSeedInit(t *testing.T) {
	t.Parallel()

	env := testEnv()

	args := seedExtractorInit(config.StageSpec{Kind: "elasticsearch"}, env, zerolog.Nop())
	if args.String("base_url", "") != "http://search:9200" {
		t.Fatalf("base_url = %q, want env seed", args.String("base_url", ""))
	}
	if args.Int("timeout_seconds", 0) != 5 {
		t.Fatalf("timeout_seconds = %d, want 5", args.Int("timeout_seconds", 0))
	}

	// Spec-provided values win over the environment.
	args = seedExtractorInit(config.StageSpec{
		Kind:     "elasticsearch",
		Sections: map[string]stage.Args{"init": {"base_url": "http://spec:9200"}},
	}, env, zerolog.Nop())
	if args.String("base_url", "") != "http://spec:9200" {
		t.Fatalf("base_url = %q, want spec value", args.String("base_url", ""))
	}

	args = seedLoaderInit(config.StageSpec{Kind: "postgres"}, env, zerolog.Nop())
	if args.String("dsn", "") != "postgresql://env-dsn" {
		t.Fatalf("dsn = %q, want env seed", args.String("dsn", ""))
	}
}

// TestResolveDynamics verifies the {{now}} marker becomes a deferred
// timestamp provider while everything else passes through untouched.
func TestResolveDynamics(t *testing.T) {
	t.Parallel()

	args := stage.Args{
		"table": "cp",
		"values": []any{
			map[string]any{"job": "j", "loaded_at": "{{now}}"},
		},
	}
	out := resolveDynamics(args)

	rows := out["values"].([]any)
	row := rows[0].(map[string]any)
	dyn, ok := row["loaded_at"].(postgres.DynamicValue)
	if !ok {
		t.Fatalf("loaded_at = %T, want DynamicValue", row["loaded_at"])
	}
	ts, ok := dyn().(string)
	if !ok || len(ts) != len("2006-01-02 15:04:05") {
		t.Fatalf("resolved value = %v, want formatted timestamp", dyn())
	}
	if row["job"] != "j" {
		t.Fatalf("job = %v, want passthrough", row["job"])
	}

	// The configured args stay untouched.
	origRow := args["values"].([]any)[0].(map[string]any)
	if origRow["loaded_at"] != "{{now}}" {
		t.Fatal("resolveDynamics mutated the input args")
	}
}

func TestBuildEL_KindValidation(t *testing.T) {
	t.Parallel()

	spec := config.RunSpec{
		Job:       "raw",
		Flavor:    config.FlavorEL,
		Extractor: config.StageSpec{Kind: "elasticsearch"},
		Loader:    config.StageSpec{Kind: "objstore"},
	}
	if _, err := buildEL(spec, testEnv(), zerolog.Nop()); err == nil {
		t.Fatal("unsupported el extractor kind should fail")
	}

	spec.Extractor = config.StageSpec{
		Kind: "httpapi",
		Sections: map[string]stage.Args{
			"init": {
				"template": map[string]any{"url": "https://api/{ID}"},
				"params":   map[string]any{"ID": "1"},
			},
		},
	}
	p, err := buildEL(spec, testEnv(), zerolog.Nop())
	if err != nil {
		t.Fatalf("buildEL: %v", err)
	}
	if _, err := p.NewExtractor(context.Background()); err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	if _, err := p.NewLoader(context.Background()); err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
}
