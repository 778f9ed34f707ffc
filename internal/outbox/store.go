package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Record struct {
	ID         int64
	EventID    string
	Exchange   string
	RoutingKey string
	Payload    json.RawMessage
	Attempts   int
	CreatedAt  time.Time
}

type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Insert adds a pending record. exec is normally the transaction that
// performs the business change the record announces.
func Insert(ctx context.Context, exec Execer, rec Record) error {
	_, err := exec.ExecContext(ctx,
		`INSERT INTO outbox (event_id, exchange, routing_key, payload) VALUES ($1, $2, $3, $4)`,
		rec.EventID, rec.Exchange, rec.RoutingKey, string(rec.Payload),
	)
	if err != nil {
		return fmt.Errorf("insert outbox %s: %w", rec.EventID, err)
	}
	return nil
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Drain locks up to limit unpublished records, hands them to publish in id
// order and records each outcome. It stops at the first failure so a later
// event never overtakes an earlier one.
func (s *Store) Drain(ctx context.Context, limit int, publish func(context.Context, Record) error) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, event_id, exchange, routing_key, payload, attempts, created_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return 0, fmt.Errorf("select pending: %w", err)
	}

	var pending []Record
	for rows.Next() {
		var rec Record
		var payload []byte
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Exchange, &rec.RoutingKey, &payload, &rec.Attempts, &rec.CreatedAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan outbox: %w", err)
		}
		rec.Payload = payload
		pending = append(pending, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("rows: %w", err)
	}

	published := 0
	var publishErr error
	for _, rec := range pending {
		if err := publish(ctx, rec); err != nil {
			publishErr = fmt.Errorf("publish %s: %w", rec.EventID, err)
			if _, err := tx.ExecContext(ctx,
				`UPDATE outbox SET attempts = attempts + 1, last_error = $2 WHERE id = $1`,
				rec.ID, truncate(err.Error(), 512),
			); err != nil {
				return published, fmt.Errorf("record failure: %w", err)
			}
			break
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE outbox SET published_at = now() WHERE id = $1`, rec.ID,
		); err != nil {
			return published, fmt.Errorf("mark published: %w", err)
		}
		published++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return published, publishErr
}

func (s *Store) Pending(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM outbox WHERE published_at IS NULL`,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
