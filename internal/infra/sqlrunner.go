package infra

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var sqlTracer = otel.Tracer("cardgen.sql")

// SQLExecutor is what repositories need to run statements. Both the pooled
// runner and a transaction-bound runner satisfy it.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

// ErrMarkerMissing is returned for statements whose first line is not a
// "--sql <uuid>" marker.
var ErrMarkerMissing = errors.New("sql: marker missing or invalid")

var markerPattern = regexp.MustCompile(`^--sql ([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)

// Statements slower than this are logged at warn level.
const slowQuery = 500 * time.Millisecond

// Postgres codes that make a whole transaction safe to replay.
var retryableTxCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
}

// SQLRunner runs marker-tagged statements against the pool or, inside
// WithTx, against one transaction. Every statement gets a span named after
// its marker.
type SQLRunner struct {
	pool   *pgxpool.Pool
	q      SQLExecutor
	logger *Logger
	inTx   bool

	// TxAttempts bounds how often WithTx replays a transaction that hit a
	// deadlock or serialization failure.
	TxAttempts uint64
}

func NewSQLRunner(pool *pgxpool.Pool, logger *Logger) *SQLRunner {
	if logger == nil {
		logger = DiscardLogger()
	}
	r := &SQLRunner{pool: pool, logger: logger, TxAttempts: 3}
	if pool != nil {
		r.q = pool
	}
	return r
}

// WithTx runs fn inside a read-committed transaction that commits when fn
// returns nil. Deadlocks and serialization failures replay fn from the
// start, so fn must not have effects outside the transaction. Nested calls
// join the outer transaction.
func (r *SQLRunner) WithTx(ctx context.Context, fn func(exec SQLExecutor) error) error {
	if r.inTx {
		return fn(r)
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	bo := backoff.WithContext(backoff.WithMaxRetries(policy, r.TxAttempts), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := r.runTx(ctx, fn)
		if err == nil || !retryableTx(err) {
			return backoff.Permanent(err)
		}
		r.logger.Warn().Err(err).Int("attempt", attempt).Msg("sql: replaying transaction")
		return err
	}, bo)
}

func (r *SQLRunner) runTx(ctx context.Context, fn func(exec SQLExecutor) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("sql: begin tx: %w", err)
	}
	if err := fn(&SQLRunner{pool: r.pool, q: tx, logger: r.logger, inTx: true}); err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			r.logger.Error().Err(rbErr).Msg("sql: rollback failed")
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("sql: commit tx: %w", err)
	}
	return nil
}

func retryableTx(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	_, ok := retryableTxCodes[pgErr.Code]
	return ok
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker, body, err := extractMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	ctx, done := r.begin(ctx, marker, "exec")
	tag, err := r.q.Exec(ctx, body, args...)
	done(err, tag.RowsAffected())
	return tag, err
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker, body, err := extractMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	ctx, done := r.begin(ctx, marker, "query_row")
	return &tracedRow{row: r.q.QueryRow(ctx, body, args...), done: done}
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	marker, body, err := extractMarker(query)
	if err != nil {
		return nil, err
	}
	ctx, done := r.begin(ctx, marker, "query")
	rows, err := r.q.Query(ctx, body, args...)
	if err != nil {
		done(err, -1)
		return nil, err
	}
	return &tracedRows{Rows: rows, done: done}, nil
}

// begin opens a span for one statement. The returned func ends it and writes
// the log line; rows < 0 means the count is unknown.
func (r *SQLRunner) begin(ctx context.Context, marker, op string) (context.Context, func(err error, rows int64)) {
	start := time.Now()
	ctx, span := sqlTracer.Start(ctx, "sql."+op, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.statement.marker", marker),
		attribute.Bool("db.in_tx", r.inTx),
	))
	return ctx, func(err error, rows int64) {
		defer span.End()
		elapsed := time.Since(start)
		if err != nil && !IsNoRows(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.logger.Error().Err(err).Str("marker", marker).Str("op", op).Dur("took", elapsed).Msg("sql: statement failed")
			return
		}
		ev := r.logger.Debug()
		if elapsed > slowQuery {
			ev = r.logger.Warn()
		}
		if rows >= 0 {
			ev = ev.Int64("rows", rows)
		}
		ev.Str("marker", marker).Str("op", op).Bool("tx", r.inTx).Dur("took", elapsed).Msg("sql: statement")
	}
}

// IsNoRows reports whether err means the query matched nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

type tracedRow struct {
	row  pgx.Row
	done func(error, int64)
}

func (t *tracedRow) Scan(dest ...any) error {
	err := t.row.Scan(dest...)
	rows := int64(1)
	if err != nil {
		rows = 0
	}
	t.done(err, rows)
	return err
}

type tracedRows struct {
	pgx.Rows
	done   func(error, int64)
	closed bool
}

func (t *tracedRows) Close() {
	t.Rows.Close()
	if !t.closed {
		t.closed = true
		t.done(t.Rows.Err(), t.Rows.CommandTag().RowsAffected())
	}
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(...any) error {
	return e.err
}

// extractMarker splits a statement into its marker id and the SQL after the
// marker line.
func extractMarker(query string) (string, string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", "", fmt.Errorf("sql: empty statement: %w", ErrMarkerMissing)
	}
	first, body, _ := strings.Cut(query, "\n")
	m := markerPattern.FindStringSubmatch(strings.TrimSpace(first))
	if m == nil {
		return "", "", ErrMarkerMissing
	}
	return m[1], strings.TrimSpace(body), nil
}

var _ SQLExecutor = (*SQLRunner)(nil)
