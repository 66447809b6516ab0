package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"
)

// Executor is the statement surface shared by *sql.DB and *sql.Tx
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// loggingExecutor logs statements according to LoggingConfig and translates
// driver errors into the package's sentinel errors
type loggingExecutor struct {
	inner   Executor
	dialect Dialect
	cfg     LoggingConfig
	logger  zerolog.Logger
}

func (e *loggingExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := e.inner.ExecContext(ctx, query, args...)
	e.trace(query, args, time.Since(start), err)
	if err != nil {
		return nil, e.dialect.TranslateError(err)
	}
	return res, nil
}

func (e *loggingExecutor) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := e.inner.QueryContext(ctx, query, args...)
	e.trace(query, args, time.Since(start), err)
	if err != nil {
		return nil, e.dialect.TranslateError(err)
	}
	return rows, nil
}

func (e *loggingExecutor) trace(query string, args []any, elapsed time.Duration, err error) {
	if err != nil {
		ev := e.logger.Debug().Err(err).Str("sql", query)
		if e.cfg.LogQueryParameters {
			ev = ev.Interface("args", args)
		}
		ev.Msg("Statement failed")
		return
	}

	if e.cfg.LogSlowQueries && e.cfg.SlowQueryThreshold > 0 && elapsed >= e.cfg.SlowQueryThreshold {
		ev := e.logger.Warn().Str("sql", query).Dur("elapsed", elapsed)
		if e.cfg.LogQueryParameters {
			ev = ev.Interface("args", args)
		}
		ev.Msg("Slow statement")
		return
	}

	if e.cfg.LogQueries {
		ev := e.logger.Debug().Str("sql", query).Dur("elapsed", elapsed)
		if e.cfg.LogQueryParameters {
			ev = ev.Interface("args", args)
		}
		ev.Msg("Statement")
	}
}

// QueryAll runs a query and reads every row into memory before returning,
// so the connection is free for follow-up statements.
func QueryAll(ctx context.Context, exec Executor, query string, args ...any) ([][]any, error) {
	_, rows, err := QueryAllColumns(ctx, exec, query, args...)
	return rows, err
}

// QueryAllColumns is QueryAll that also returns the result column names
func QueryAllColumns(ctx context.Context, exec Executor, query string, args ...any) ([]string, [][]any, error) {
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out [][]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return cols, out, nil
}
