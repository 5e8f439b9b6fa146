// Package db reads full tables from MySQL-compatible servers.
package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"time"

	"aqpeval/internal/frame"
	"aqpeval/internal/util"

	"github.com/go-sql-driver/mysql"
	pkgerrors "github.com/pkg/errors"
	"github.com/sethvargo/go-retry"
)

const (
	connectTimeout = 10 * time.Second
	queryAttempts  = 3
)

// transientErrors lists MySQL error codes worth retrying.
// 1040 is too many connections, 1205 a lock wait timeout, 1213 a deadlock.
var transientErrors = map[uint16]struct{}{
	1040: {},
	1205: {},
	1213: {},
}

// Open validates the DSN and opens a pooled connection.
func Open(dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "parse dsn")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = connectTimeout
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "mysql connector")
	}
	return sql.OpenDB(connector), nil
}

// IsTransient reports whether err is a connection or contention error.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		_, ok := transientErrors[mysqlErr.Number]
		return ok
	}
	return false
}

// LoadFrame runs query and returns its rows as a frame. Column types are
// inferred the same way as for CSV files; NULL becomes an empty cell.
// Transient failures are retried with exponential backoff.
func LoadFrame(ctx context.Context, log *util.Logger, dsn, query string) (*frame.Frame, error) {
	conn, err := Open(dsn)
	if err != nil {
		return nil, err
	}
	defer log.Close(conn, "mysql")

	var out *frame.Frame
	backoff := retry.WithMaxRetries(queryAttempts-1, retry.NewExponential(200*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		f, err := queryFrame(ctx, conn, query)
		if err != nil {
			if IsTransient(err) {
				log.Warnf("mysql query failed, retrying: %v", err)
				return retry.RetryableError(err)
			}
			return err
		}
		out = f
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "mysql load")
	}
	return out, nil
}

func queryFrame(ctx context.Context, conn *sql.DB, query string) (*frame.Frame, error) {
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	header, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var records [][]string
	cells := make([]sql.NullString, len(header))
	dest := make([]any, len(header))
	for i := range cells {
		dest[i] = &cells[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		rec := make([]string, len(header))
		for i, cell := range cells {
			if cell.Valid {
				rec[i] = cell.String
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return frame.FromRecords(header, records)
}
