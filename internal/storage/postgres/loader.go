package postgres

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/Zaur86/etl-mini/internal/errs"
	"github.com/Zaur86/etl-mini/internal/stage"
)

// Loading method names accepted by PrepareLoading.
const (
	MethodCopyTSV      = "copy_tsv"
	MethodInsertValues = "insert_values"
)

// Loader is the staged warehouse sink. Lifecycle per pipeline run:
// Connect opens the connection and the single transaction; PrepareLoading
// selects a method; LoadData executes it once; Close commits or rolls back
// and always releases the connection.
type Loader struct {
	dsn string
	log zerolog.Logger

	conn   connector
	sess   session
	method string
}

var _ stage.Loader = (*Loader)(nil)

func init() {
	stage.RegisterLoader("postgres", func(_ context.Context, a stage.Args) (stage.Loader, error) {
		dsn, err := a.RequireString("dsn")
		if err != nil {
			return nil, err
		}
		log := zerolog.Nop()
		if l, ok := a["logger"].(zerolog.Logger); ok {
			log = l
		}
		return New(dsn, log), nil
	})
}

// New builds a Loader; Connect performs the actual dial.
func New(dsn string, log zerolog.Logger) *Loader {
	return &Loader{dsn: dsn, log: log}
}

// Connect dials the warehouse and opens the run's transaction.
func (l *Loader) Connect(ctx context.Context) error {
	conn, err := connect(ctx, l.dsn)
	if err != nil {
		return errs.Source("postgres", err)
	}
	sess, err := conn.Begin(ctx)
	if err != nil {
		_ = conn.Close(ctx)
		return errs.Source("postgres", err)
	}
	l.conn = conn
	l.sess = sess
	l.log.Info().Msg("warehouse session started")
	return nil
}

// PrepareLoading selects the loading method for the next LoadData call.
func (l *Loader) PrepareLoading(args stage.Args) error {
	method, err := args.RequireString("method")
	if err != nil {
		return err
	}
	switch method {
	case MethodCopyTSV, MethodInsertValues:
		l.method = method
		return nil
	default:
		return errs.Config("unknown loading method %q (want %s or %s)",
			method, MethodCopyTSV, MethodInsertValues)
	}
}

// LoadData executes the prepared method exactly once; the selection is
// cleared on every outcome so a stale method can never run twice.
func (l *Loader) LoadData(ctx context.Context, args stage.Args) error {
	if l.sess == nil {
		return errs.Source("postgres", errs.Config("no active session: call Connect first"))
	}
	method := l.method
	l.method = ""
	switch method {
	case MethodCopyTSV:
		return l.loadFromTSV(ctx, args)
	case MethodInsertValues:
		return l.loadWithValues(ctx, args)
	default:
		return errs.ErrMethodNotSet
	}
}

// Close finishes the run's transaction and releases the connection. The
// rollback path is best-effort; the commit path reports failure because an
// unacknowledged commit means nothing was persisted.
func (l *Loader) Close(ctx context.Context, commit bool) error {
	if l.conn == nil {
		return nil
	}
	var err error
	if l.sess != nil {
		if commit {
			err = l.sess.Commit(ctx)
			if err == nil {
				l.log.Info().Msg("warehouse session committed")
			}
		} else {
			if rbErr := l.sess.Rollback(ctx); rbErr != nil {
				l.log.Warn().Err(rbErr).Msg("rollback failed")
			} else {
				l.log.Info().Msg("warehouse session rolled back")
			}
		}
		l.sess = nil
	}
	if closeErr := l.conn.Close(ctx); closeErr != nil {
		l.log.Warn().Err(closeErr).Msg("failed to close warehouse connection")
	}
	l.conn = nil
	if err != nil {
		return errs.Source("postgres", fmt.Errorf("commit: %w", err))
	}
	return nil
}

// loadFromTSV streams a header-bearing TSV payload into the target
// relation through COPY. The payload arrives as one of three encodings:
// a file path, an in-memory string, or the run's shared buffer. When the
// source is the shared buffer it is truncated afterwards (unless
// truncate_buffer=false) so the next batch starts clean.
func (l *Loader) loadFromTSV(ctx context.Context, args stage.Args) error {
	table, err := args.RequireString("table")
	if err != nil {
		return err
	}
	sourceType, err := args.RequireString("source_type")
	if err != nil {
		return err
	}
	nullMarker := args.String("null_marker", "NULL")
	wantCols := args.Strings("columns")

	var (
		header string
		data   io.Reader
		buf    *stage.Buffer
	)
	switch sourceType {
	case "file":
		path, err := args.RequireString("source")
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return errs.Source("postgres", fmt.Errorf("open tsv source: %w", err))
		}
		defer f.Close()
		r := bufio.NewReader(f)
		line, err := r.ReadString('\n')
		if err != nil && err != io.EOF {
			return errs.Source("postgres", fmt.Errorf("read tsv header: %w", err))
		}
		header = strings.TrimRight(line, "\n")
		data = r
	case "str":
		raw, err := args.RequireString("source")
		if err != nil {
			return err
		}
		header, data = splitHeader(raw)
	case "buffer":
		v, err := args.RequireAny("source")
		if err != nil {
			return err
		}
		b, ok := v.(*stage.Buffer)
		if !ok {
			return errs.Config("buffer source must be *stage.Buffer, got %T", v)
		}
		buf = b
		header, data = splitHeader(b.String())
	default:
		return errs.Config("invalid source_type %q (want file, str, or buffer)", sourceType)
	}

	headerCols := strings.Split(header, "\t")
	if len(wantCols) == 0 {
		wantCols = headerCols
	} else if missing := missingColumns(wantCols, headerCols); len(missing) > 0 {
		return errs.Config("columns %v missing from payload header %v", missing, headerCols)
	}

	sql := copyStatement(table, wantCols, nullMarker)
	start := time.Now()
	n, err := l.sess.CopyFrom(ctx, data, sql)
	if err != nil {
		return errs.Source("postgres", fmt.Errorf("copy into %s: %w", table, err))
	}
	if buf != nil && args.Bool("truncate_buffer", true) {
		buf.Truncate()
	}
	elapsed := time.Since(start).Truncate(time.Millisecond)
	rps := float64(0)
	if secs := elapsed.Seconds(); secs > 0 {
		rps = float64(n) / secs
	}
	l.log.Info().Str("table", table).Int64("rows", n).Dur("elapsed", elapsed).
		Float64("rows_per_sec", rps).Msg("copy finished")
	return nil
}

// loadWithValues inserts an explicit ordered list of row maps with one
// parameterized statement, used for metadata/checkpoint rows. All
// validation happens before anything executes.
func (l *Loader) loadWithValues(ctx context.Context, args stage.Args) error {
	table, err := args.RequireString("table")
	if err != nil {
		return err
	}
	rows, err := valueRows(args["values"])
	if err != nil {
		return err
	}
	policy, err := conflictPolicyFrom(args)
	if err != nil {
		return err
	}

	sql, params, err := buildInsert(table, rows, policy)
	if err != nil {
		return err
	}
	if _, err := l.sess.Exec(ctx, sql, params...); err != nil {
		return errs.Source("postgres", fmt.Errorf("insert into %s: %w", table, err))
	}
	l.log.Info().Str("table", table).Int("rows", len(rows)).Msg("values inserted")
	return nil
}

// splitHeader cuts the first line off a rendered payload.
func splitHeader(raw string) (string, io.Reader) {
	if i := strings.IndexByte(raw, '\n'); i >= 0 {
		return raw[:i], strings.NewReader(raw[i+1:])
	}
	return raw, strings.NewReader("")
}

func missingColumns(want, have []string) []string {
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[h] = true
	}
	var missing []string
	for _, w := range want {
		if !set[w] {
			missing = append(missing, w)
		}
	}
	return missing
}

// copyStatement renders the COPY command. The NULL marker matches the
// transformer's missing-value placeholder so placeholders land as SQL
// NULL rather than literal text.
func copyStatement(table string, columns []string, nullMarker string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return fmt.Sprintf(
		"COPY %s (%s) FROM STDIN WITH (FORMAT text, DELIMITER E'\\t', NULL '%s')",
		pgx.Identifier{table}.Sanitize(), strings.Join(quoted, ", "), nullMarker,
	)
}
