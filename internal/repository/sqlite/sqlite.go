// Package sqlite implements the repositories on SQLite for local development
// and single-node deployments. Timestamps are stored as unix milliseconds.
package sqlite

import (
	"database/sql"
	"time"
)

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}
