package events

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"specline/internal/domain"
)

type Reader struct {
	DB *sql.DB
}

// Query filters List. Zero fields do not filter; Limit <= 0 means 100.
type Query struct {
	SpecID   string
	Type     string
	AfterSeq int64
	Limit    int
}

const defaultLimit = 100

// List returns matching events in journal order.
func (r Reader) List(ctx context.Context, q Query) ([]domain.Event, error) {
	var where []string
	var args []any
	where = append(where, "seq > ?")
	args = append(args, q.AfterSeq)
	if q.SpecID != "" {
		where = append(where, "spec_id = ?")
		args = append(args, q.SpecID)
	}
	if q.Type != "" {
		where = append(where, "type = ?")
		args = append(args, q.Type)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, `SELECT seq,id,ts,type,COALESCE(spec_id,''),actor,payload_json FROM events WHERE `+
		strings.Join(where, " AND ")+` ORDER BY seq ASC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Tail returns the last n events, oldest first.
func (r Reader) Tail(ctx context.Context, n int) ([]domain.Event, error) {
	if n <= 0 {
		n = defaultLimit
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT seq,id,ts,type,COALESCE(spec_id,''),actor,payload_json FROM
		(SELECT * FROM events ORDER BY seq DESC LIMIT ?) ORDER BY seq ASC`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Latest returns the highest sequence number, or 0 for an empty journal.
func (r Reader) Latest(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(seq) FROM events`).Scan(&seq); err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.Seq, &e.ID, &e.TS, &e.Type, &e.SpecID, &e.Actor, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cursors persists per-consumer positions in the journal.
type Cursors struct {
	DB  *sql.DB
	Now func() time.Time
}

// Get returns the stored position for name; ok is false if none is stored.
func (c Cursors) Get(ctx context.Context, name string) (int64, bool, error) {
	var seq int64
	err := c.DB.QueryRowContext(ctx, `SELECT last_seq FROM webhook_cursors WHERE name=?`, name).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return seq, true, nil
}

func (c Cursors) Set(ctx context.Context, name string, seq int64) error {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	_, err := c.DB.ExecContext(ctx, `INSERT INTO webhook_cursors(name,last_seq,updated_at) VALUES (?,?,?)
		ON CONFLICT(name) DO UPDATE SET last_seq=excluded.last_seq, updated_at=excluded.updated_at`,
		name, seq, now().UTC().Format(time.RFC3339))
	return err
}
