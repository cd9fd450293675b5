// Package postgres implements the staged warehouse loader on pgx: one
// connection and one transaction per pipeline run, a COPY FROM STDIN fast
// path for tabular payloads, and a parameterized multi-row insert with
// upsert conflict handling for metadata rows.
package postgres

import (
	"context"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// session is the transaction-scoped surface the loader uses. The seam
// allows hermetic tests to observe SQL and COPY payloads without a
// database.
type session interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	// CopyFrom streams r through the given COPY ... FROM STDIN statement
	// and returns the number of rows written.
	CopyFrom(ctx context.Context, r io.Reader, sql string) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// connector owns the underlying connection.
type connector interface {
	Begin(ctx context.Context) (session, error)
	Close(ctx context.Context) error
}

// connect is a test hook pointing at the real pgx dialer by default.
var connect = func(ctx context.Context, dsn string) (connector, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &pgxConnector{conn: conn}, nil
}

type pgxConnector struct{ conn *pgx.Conn }

func (c *pgxConnector) Begin(ctx context.Context) (session, error) {
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxSession{tx: tx}, nil
}

func (c *pgxConnector) Close(ctx context.Context) error { return c.conn.Close(ctx) }

// pgxSession adapts pgx.Tx to the session seam.
type pgxSession struct{ tx pgx.Tx }

func (s *pgxSession) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return s.tx.Exec(ctx, sql, args...)
}

// CopyFrom uses the wire-level COPY protocol so the rendered TSV streams
// straight from the shared buffer into the relation.
func (s *pgxSession) CopyFrom(ctx context.Context, r io.Reader, sql string) (int64, error) {
	tag, err := s.tx.Conn().PgConn().CopyFrom(ctx, r, sql)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *pgxSession) Commit(ctx context.Context) error   { return s.tx.Commit(ctx) }
func (s *pgxSession) Rollback(ctx context.Context) error { return s.tx.Rollback(ctx) }
