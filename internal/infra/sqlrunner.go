package infra

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// SQLExecutor is the query surface shared by the pool runner and transactions.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

// TxRunner runs a function inside one database transaction.
type TxRunner interface {
	SQLExecutor
	InTx(ctx context.Context, fn func(tx SQLExecutor) error) error
}

var markerRegexp = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// SQLRunner executes marker-tagged inline queries and logs them by marker.
type SQLRunner struct {
	Pool   *pgxpool.Pool
	Logger zerolog.Logger
}

func NewSQLRunner(pool *pgxpool.Pool, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{Pool: pool, Logger: logger}
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	return markedExecutor{q: r.Pool, logger: r.Logger}.Exec(ctx, query, args...)
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return markedExecutor{q: r.Pool, logger: r.Logger}.QueryRow(ctx, query, args...)
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return markedExecutor{q: r.Pool, logger: r.Logger}.Query(ctx, query, args...)
}

// InTx commits when fn returns nil and rolls back otherwise.
func (r *SQLRunner) InTx(ctx context.Context, fn func(tx SQLExecutor) error) error {
	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(markedExecutor{q: tx, logger: r.Logger}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type markedExecutor struct {
	q      querier
	logger zerolog.Logger
}

func (m markedExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	m.logger.Debug().Msgf("sql[%s] exec", marker)
	tag, err := m.q.Exec(ctx, trimmed, args...)
	if err != nil {
		m.logger.Error().Err(err).Msgf("sql[%s] error", marker)
		return tag, err
	}
	return tag, nil
}

func (m markedExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	m.logger.Debug().Msgf("sql[%s] query_row", marker)
	return loggingRow{row: m.q.QueryRow(ctx, trimmed, args...), logger: m.logger, marker: marker}
}

func (m markedExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		return nil, err
	}
	m.logger.Debug().Msgf("sql[%s] query", marker)
	rows, err := m.q.Query(ctx, trimmed, args...)
	if err != nil {
		m.logger.Error().Err(err).Msgf("sql[%s] error", marker)
		return nil, err
	}
	return rows, nil
}

type loggingRow struct {
	row    pgx.Row
	logger zerolog.Logger
	marker string
}

func (l loggingRow) Scan(dest ...any) error {
	err := l.row.Scan(dest...)
	if err != nil && !IsNoRows(err) {
		l.logger.Error().Err(err).Msgf("sql[%s] scan error", l.marker)
	}
	return err
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(dest ...any) error {
	return e.err
}

func extractMarker(query string) (string, string, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return "", "", errors.New("empty query")
	}
	lines := strings.Split(trimmed, "\n")
	markerLine := strings.TrimSpace(lines[0])
	if !markerRegexp.MatchString(markerLine) {
		return "", "", errors.New("sql marker missing or invalid")
	}
	return strings.TrimPrefix(markerLine, "--sql "), strings.Join(lines[1:], "\n"), nil
}

var (
	_ TxRunner    = (*SQLRunner)(nil)
	_ SQLExecutor = markedExecutor{}
)
