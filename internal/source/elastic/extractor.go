package elastic

import (
	"context"
	"encoding/json"
	"iter"
	"time"

	"github.com/rs/zerolog"

	"github.com/Zaur86/etl-mini/internal/errs"
	"github.com/Zaur86/etl-mini/internal/stage"
	"github.com/Zaur86/etl-mini/pkg/records"
)

// DefaultBatchSize and DefaultKeepAlive apply when the extract section
// leaves them unset.
const (
	DefaultBatchSize = 1000
	DefaultKeepAlive = "5m"
)

// Config holds the init-section parameters of the scroll extractor.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
	Log      zerolog.Logger
}

// Extractor pulls batches from a search index through the scroll API.
//
// Cursor lifecycle: every ExtractBatches call opens a fresh scroll context
// (the sequence is not restartable); each pull refreshes the token; the
// last token is cleared on Teardown so server resources are freed. A
// failed clear is logged as a warning and never propagated.
type Extractor struct {
	api  SearchAPI
	log  zerolog.Logger
	conn bool

	index     string
	queryBody []byte
	scrollID  string
}

var _ stage.Extractor = (*Extractor)(nil)

// newAPI is a test hook replacing the wire client constructor.
var newAPI = func(cfg Config) (SearchAPI, error) {
	return newHTTPAPI(cfg.BaseURL, cfg.Username, cfg.Password, cfg.Timeout)
}

func init() {
	stage.RegisterExtractor("elasticsearch", func(_ context.Context, a stage.Args) (stage.Extractor, error) {
		base, err := a.RequireString("base_url")
		if err != nil {
			return nil, err
		}
		return New(Config{
			BaseURL:  base,
			Username: a.String("username", ""),
			Password: a.String("password", ""),
			Timeout:  time.Duration(a.Int("timeout_seconds", 0)) * time.Second,
			Log:      loggerFrom(a),
		})
	})
}

// loggerFrom reads the optional logger injected into init args; registry
// construction stays silent without one.
func loggerFrom(a stage.Args) zerolog.Logger {
	if l, ok := a["logger"].(zerolog.Logger); ok {
		return l
	}
	return zerolog.Nop()
}

// New builds an Extractor from cfg without touching the network; Connect
// establishes and verifies the session.
func New(cfg Config) (*Extractor, error) {
	api, err := newAPI(cfg)
	if err != nil {
		return nil, err
	}
	return &Extractor{api: api, log: cfg.Log}, nil
}

// Connect verifies the cluster answers before any extraction begins.
func (e *Extractor) Connect(ctx context.Context) error {
	if err := e.api.Ping(ctx); err != nil {
		return err
	}
	e.conn = true
	e.log.Info().Msg("search connection established")
	return nil
}

// CheckSourceExists reports whether the index named in args exists. A
// missing index is a clean false; only connectivity and auth problems
// surface as errors.
func (e *Extractor) CheckSourceExists(ctx context.Context, args stage.Args) (bool, error) {
	index, err := args.RequireString("index")
	if err != nil {
		return false, err
	}
	return e.api.IndexExists(ctx, index)
}

// PrepareExtraction binds the index and builds the query body from the
// query model in args. The model may arrive typed (*QueryModel) or as the
// decoded JSON object of a run spec. Existence checking is the caller's
// phase, not an implicit part of preparation.
func (e *Extractor) PrepareExtraction(_ context.Context, args stage.Args) error {
	index, err := args.RequireString("index")
	if err != nil {
		return err
	}
	qm, err := queryModelFrom(args)
	if err != nil {
		return err
	}
	if err := qm.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(qm.Build())
	if err != nil {
		return errs.Config("cannot encode query body: %v", err)
	}
	e.index = index
	e.queryBody = body
	return nil
}

// ExtractBatches opens a new scroll cursor and yields hit batches until
// the index reports zero remaining hits. The sequence is finite and must
// not be iterated twice: a second iteration opens a second cursor.
func (e *Extractor) ExtractBatches(ctx context.Context, args stage.Args) iter.Seq2[records.Batch, error] {
	size := args.Int("batch_size", DefaultBatchSize)
	keepAlive := args.String("scroll", DefaultKeepAlive)

	return func(yield func(records.Batch, error) bool) {
		if !e.conn {
			yield(nil, errs.Source("elasticsearch", errs.Config("not connected: call Connect first")))
			return
		}
		if e.index == "" {
			yield(nil, errs.Config("extraction not prepared: call PrepareExtraction first"))
			return
		}

		page, err := e.api.Search(ctx, e.index, e.queryBody, keepAlive, size)
		if err != nil {
			yield(nil, err)
			return
		}
		e.scrollID = page.ScrollID

		for len(page.Hits) > 0 {
			e.log.Debug().Int("hits", len(page.Hits)).Str("index", e.index).Msg("batch extracted")
			if !yield(page.Hits, nil) {
				return
			}
			page, err = e.api.Scroll(ctx, e.scrollID, keepAlive)
			if err != nil {
				yield(nil, err)
				return
			}
			e.scrollID = page.ScrollID
		}
	}
}

// Teardown clears the scroll context and closes the session. Both steps
// are best-effort: failures are warnings, never errors.
func (e *Extractor) Teardown(ctx context.Context) {
	if e.scrollID != "" {
		if err := e.api.ClearScroll(ctx, e.scrollID); err != nil {
			e.log.Warn().Err(err).Str("scroll_id", e.scrollID).Msg("failed to clear scroll")
		}
		e.scrollID = ""
	}
	if e.conn {
		if err := e.api.Close(); err != nil {
			e.log.Warn().Err(err).Msg("failed to close search connection")
		}
		e.conn = false
	}
}

// queryModelFrom accepts the two encodings of the preparation section's
// query model.
func queryModelFrom(args stage.Args) (*QueryModel, error) {
	v, err := args.RequireAny("query")
	if err != nil {
		return nil, err
	}
	switch q := v.(type) {
	case *QueryModel:
		return q, nil
	case QueryModel:
		return &q, nil
	case map[string]any:
		raw, err := json.Marshal(q)
		if err != nil {
			return nil, errs.Config("invalid query model: %v", err)
		}
		var qm QueryModel
		if err := json.Unmarshal(raw, &qm); err != nil {
			return nil, errs.Config("invalid query model: %v", err)
		}
		return &qm, nil
	default:
		return nil, errs.Config("query must be a QueryModel or object, got %T", v)
	}
}
