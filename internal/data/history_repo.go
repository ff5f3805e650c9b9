package data

import (
	"database/sql"
	"time"

	"querydeck/internal/core"
)

// Fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// HistoryRepo persists one row per finished query.
type HistoryRepo struct {
	db *sql.DB
}

func NewHistoryRepo(db *sql.DB) *HistoryRepo {
	return &HistoryRepo{db: db}
}

func (r *HistoryRepo) Append(e *core.HistoryEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return RetryOnDBLock(func() error {
		res, err := r.db.Exec(`INSERT INTO query_history (connection_id, query, status, row_count, elapsed_ms, executed_at) VALUES (?, ?, ?, ?, ?, ?)`,
			e.ConnectionID, e.Query, string(e.Status), e.RowCount, e.Elapsed.Milliseconds(), e.Timestamp.UTC().Format(timeLayout))
		if err != nil {
			return err
		}
		id, _ := res.LastInsertId()
		e.ID = id
		return nil
	})
}

// List returns the history of a connection, newest first.
func (r *HistoryRepo) List(connectionID int64) ([]core.HistoryEntry, error) {
	rows, err := r.db.Query(`SELECT id, connection_id, query, status, row_count, elapsed_ms, executed_at
		FROM query_history WHERE connection_id = ? ORDER BY executed_at DESC, id DESC`, connectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []core.HistoryEntry
	for rows.Next() {
		var e core.HistoryEntry
		var status, ts string
		var elapsedMs int64
		if err := rows.Scan(&e.ID, &e.ConnectionID, &e.Query, &status, &e.RowCount, &elapsedMs, &ts); err != nil {
			return nil, err
		}
		e.Status = core.HistoryStatus(status)
		e.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		// Stored as UTC, shown in local time
		if t, err := time.Parse(timeLayout, ts); err == nil {
			e.Timestamp = t.Local()
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *HistoryRepo) Remove(id int64) error {
	return RetryOnDBLock(func() error {
		_, err := r.db.Exec(`DELETE FROM query_history WHERE id = ?`, id)
		return err
	})
}

func (r *HistoryRepo) RemoveAll(connectionID int64) error {
	return RetryOnDBLock(func() error {
		_, err := r.db.Exec(`DELETE FROM query_history WHERE connection_id = ?`, connectionID)
		return err
	})
}

// PruneBefore deletes entries older than t and reports how many went away.
func (r *HistoryRepo) PruneBefore(t time.Time) (int64, error) {
	var n int64
	err := RetryOnDBLock(func() error {
		res, err := r.db.Exec(`DELETE FROM query_history WHERE executed_at < ?`, t.UTC().Format(timeLayout))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}
