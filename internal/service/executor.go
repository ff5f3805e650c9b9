package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"querydeck/internal/core"
)

// SQLExecutor runs statements through database/sql. Each call opens its own
// handle and closes it before returning.
type SQLExecutor struct {
	log         logrus.FieldLogger
	pingTimeout time.Duration
}

func NewSQLExecutor(log logrus.FieldLogger) *SQLExecutor {
	return &SQLExecutor{log: log, pingTimeout: 15 * time.Second}
}

// Execute runs text on conn. Row-returning statements are fully materialized;
// anything else reports the number of affected rows.
func (e *SQLExecutor) Execute(ctx context.Context, conn core.ConnectionDescriptor, text string) (*core.Result, error) {
	driver, dsn, err := BuildDSN(conn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection (%s): %w", driver, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, e.pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", conn.Name, err)
	}

	logger := e.log.WithFields(logrus.Fields{"connection": conn.ID, "driver": driver})
	start := time.Now()
	defer func() {
		logger.WithField("duration", time.Since(start)).Debug("statement finished")
	}()

	if !core.IsSelect(text) {
		res, err := db.ExecContext(ctx, text)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			// Some drivers cannot report it
			affected = 0
		}
		return &core.Result{RowCount: int(affected)}, nil
	}

	rows, err := db.QueryContext(ctx, text)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &core.Result{Columns: columns, Rows: [][]any{}, IsSelect: true}
	for rows.Next() {
		// Generic row scanning
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range columns {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	result.RowCount = len(result.Rows)
	return result, nil
}
