// Command etlmini executes one pipeline run described by a JSON run spec:
// either the full extract-transform-load shape against the warehouse or
// the raw extract-to-storage shape.
//
// Connection settings come from flags with environment fallbacks (a local
// .env file is honored when present); run files carry everything else.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/Zaur86/etl-mini/internal/config"

	// register all stage backends with the factories; run specs select
	// which to use but support for all of them is built in.
	_ "github.com/Zaur86/etl-mini/internal/source/all"
)

func main() {
	// Optional .env for local runs; absence is not an error.
	_ = godotenv.Load()

	var (
		specPath string
		validate bool
	)
	flag.StringVar(&specPath, "spec", "configs/runs/sample.json", "run spec JSON path")
	flag.BoolVar(&validate, "validate", false, "validate the run spec and exit")

	// LoadEnv defines the connection flags and parses the full command line.
	env := config.LoadEnv()

	level, _ := zerolog.ParseLevel(config.NormalizeLevel(env.LogLevel))
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	spec, err := config.ReadRunSpec(specPath)
	if err != nil {
		fatalf("%v", err)
	}

	issues := config.ValidateRunSpec(spec)
	hasError := false
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		fatalf("run spec is invalid: %s", specPath)
	}
	if validate {
		fmt.Fprintf(os.Stderr, "run spec is valid: %s\n", specPath)
		return
	}

	ctx := context.Background()
	start := time.Now()

	switch spec.Flavor {
	case config.FlavorEL:
		p, err := buildEL(spec, env, log)
		if err != nil {
			fatalf("%v", err)
		}
		if err := p.Run(ctx); err != nil {
			log.Fatal().Err(err).Msg("run failed")
		}
	default:
		p, err := buildETL(spec, env, log)
		if err != nil {
			fatalf("%v", err)
		}
		rows, err := p.Run(ctx)
		if err != nil {
			log.Fatal().Err(err).Int64("rows_loaded", rows).Msg("run failed")
		}
		log.Info().Int64("rows_loaded", rows).Msg("run succeeded")
	}

	log.Info().Dur("elapsed", time.Since(start).Truncate(time.Millisecond)).Msg("done")
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
