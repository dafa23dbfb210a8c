// Package postgres provides the Postgres-backed Recorder.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CMoncur/proto-scrape/internal/record"
)

// Postgres caps bind parameters per statement at 65535.
const maxBindParams = 65535

// DefaultChunkSize is the number of rows per INSERT statement.
const DefaultChunkSize = 500

// Config controls the connection pool and write behavior.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	ChunkSize       int
	// AdvisoryLock serializes writers to the same table for the duration of a batch.
	AdvisoryLock bool
}

// Clock supplies the creation timestamp for inserted rows.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type txBeginner interface {
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Recorder upserts sanitized records into Postgres. The natural key must be
// backed by a unique constraint on the destination table.
type Recorder struct {
	pool         txBeginner
	clock        Clock
	chunkSize    int
	advisoryLock bool
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the clock used for the created column.
func WithClock(c Clock) Option {
	return func(r *Recorder) {
		if c != nil {
			r.clock = c
		}
	}
}

// NewRecorder connects a pool described by cfg.
func NewRecorder(ctx context.Context, cfg Config, opts ...Option) (*Recorder, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewRecorderWithPool(pool, cfg, opts...)
}

// NewRecorderWithPool constructs a Recorder from an existing pool (primarily for testing).
func NewRecorderWithPool(pool txBeginner, cfg Config, opts ...Option) (*Recorder, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	r := &Recorder{
		pool:         pool,
		clock:        systemClock{},
		chunkSize:    cfg.ChunkSize,
		advisoryLock: cfg.AdvisoryLock,
	}
	if r.chunkSize <= 0 {
		r.chunkSize = DefaultChunkSize
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Close releases the underlying pool resources.
func (r *Recorder) Close() error {
	if r == nil || r.pool == nil {
		return nil
	}
	r.pool.Close()
	return nil
}

// Upsert writes records in a single transaction. Rows matching the natural key
// have every non-key column overwritten; new rows get created set to now.
func (r *Recorder) Upsert(
	ctx context.Context,
	table record.Table,
	key record.NaturalKey,
	records []record.Record,
) (record.Outcome, error) {
	out := record.Outcome{Table: table.Name}
	if len(records) == 0 {
		return out, nil
	}
	fail := func(err error) (record.Outcome, error) {
		return record.Outcome{Table: table.Name}, &record.PersistenceError{Table: table.Name, Records: len(records), Err: err}
	}
	if r == nil || r.pool == nil {
		return fail(errors.New("recorder is not configured"))
	}

	batch, collapsed, err := record.Prepare(table, key, records)
	if err != nil {
		return fail(err)
	}
	out.Collapsed = collapsed
	now := r.clock.Now().UTC()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fail(fmt.Errorf("begin transaction: %w", err))
	}
	rollback := func(cause error) (record.Outcome, error) {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			cause = errors.Join(cause, fmt.Errorf("rollback: %w", rbErr))
		}
		return fail(cause)
	}

	if r.advisoryLock {
		if _, err := tx.Exec(ctx, advisoryLockSQL, table.Name); err != nil {
			return rollback(fmt.Errorf("acquire advisory lock: %w", err))
		}
	}

	size := r.rowsPerStatement(len(table.Columns) + 1)
	for start := 0; start < len(batch); start += size {
		end := min(start+size, len(batch))
		query, args := buildUpsert(table, key, batch[start:end], now)
		inserted, updated, err := execUpsert(ctx, tx, query, args)
		if err != nil {
			return rollback(fmt.Errorf("upsert rows %d-%d: %w", start, end-1, err))
		}
		out.Inserted += inserted
		out.Updated += updated
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(fmt.Errorf("commit: %w", err))
	}
	return out, nil
}

func (r *Recorder) rowsPerStatement(columns int) int {
	limit := maxBindParams / columns
	if r.chunkSize < limit {
		return r.chunkSize
	}
	return limit
}

const advisoryLockSQL = `SELECT pg_advisory_xact_lock(hashtext($1))`

func execUpsert(ctx context.Context, tx pgx.Tx, query string, args []any) (int, int, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	var inserted, updated int
	for rows.Next() {
		var wasInsert bool
		if err := rows.Scan(&wasInsert); err != nil {
			return 0, 0, fmt.Errorf("scan upsert result: %w", err)
		}
		if wasInsert {
			inserted++
		} else {
			updated++
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}
	return inserted, updated, nil
}

// buildUpsert renders a multi-row INSERT ... ON CONFLICT for rows.
func buildUpsert(table record.Table, key record.NaturalKey, rows []record.Record, now time.Time) (string, []any) {
	columns := append(table.ColumnNames(), record.CreatedColumn)
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", quoteIdent(table.Name), strings.Join(quoted, ", "))

	args := make([]any, 0, len(rows)*len(columns))
	for i, rec := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j, c := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			if c == record.CreatedColumn {
				args = append(args, now)
			} else {
				args = append(args, rec.Get(c))
			}
			fmt.Fprintf(&b, "$%d", len(args))
		}
		b.WriteByte(')')
	}

	conflict := make([]string, len(key))
	for i, k := range key {
		conflict[i] = quoteIdent(k)
	}
	updates := table.NonKeyColumns(key)
	if len(updates) == 0 {
		updates = []string(key)
	}
	set := make([]string, len(updates))
	for i, c := range updates {
		set[i] = fmt.Sprintf("%s = EXCLUDED.%s", quoteIdent(c), quoteIdent(c))
	}
	fmt.Fprintf(&b, " ON CONFLICT (%s) DO UPDATE SET %s RETURNING (xmax = 0) AS inserted",
		strings.Join(conflict, ", "), strings.Join(set, ", "))
	return b.String(), args
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
