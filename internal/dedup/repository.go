// Package dedup keeps the per-consumer ledger of applied events and the
// highest sequence seen for each partition.
package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Entry identifies one delivery: the consumer applying it, the event and the
// partition (order) the event belongs to.
type Entry struct {
	Consumer  string
	EventID   string
	Partition string
}

// Claim is the outcome of recording an Entry.
type Claim struct {
	// Fresh is false when the event was applied before.
	Fresh bool
	// LastSequence is the partition checkpoint before this event, zero if
	// none was recorded.
	LastSequence int64
}

type Ledger struct {
	q Querier
}

func NewLedger(q Querier) *Ledger {
	return &Ledger{q: q}
}

// In returns a ledger bound to q, typically the caller's transaction.
func (l *Ledger) In(q Querier) *Ledger {
	return &Ledger{q: q}
}

// Claim records e as applied. When the event is new it also loads the
// partition checkpoint, locking it until the surrounding transaction ends.
func (l *Ledger) Claim(ctx context.Context, e Entry) (Claim, error) {
	tag, err := l.q.Exec(ctx, `
		INSERT INTO processed_adjustments (consumer_name, event_id, order_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (consumer_name, event_id) DO NOTHING
	`, e.Consumer, e.EventID, e.Partition)
	if err != nil {
		return Claim{}, fmt.Errorf("record event %s: %w", e.EventID, err)
	}
	if tag.RowsAffected() == 0 {
		return Claim{}, nil
	}

	c := Claim{Fresh: true}
	err = l.q.QueryRow(ctx, `
		SELECT last_sequence
		FROM event_dedup_checkpoint
		WHERE consumer_name = $1 AND partition_key = $2
		FOR UPDATE
	`, e.Consumer, e.Partition).Scan(&c.LastSequence)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Claim{}, fmt.Errorf("load checkpoint %s: %w", e.Partition, err)
	}
	return c, nil
}

// Advance moves the partition checkpoint to seq. Late deliveries never lower it.
func (l *Ledger) Advance(ctx context.Context, e Entry, seq int64) error {
	_, err := l.q.Exec(ctx, `
		INSERT INTO event_dedup_checkpoint (consumer_name, partition_key, last_sequence)
		VALUES ($1, $2, $3)
		ON CONFLICT (consumer_name, partition_key) DO UPDATE
		SET last_sequence = GREATEST(event_dedup_checkpoint.last_sequence, EXCLUDED.last_sequence),
		    updated_at = now()
	`, e.Consumer, e.Partition, seq)
	if err != nil {
		return fmt.Errorf("advance checkpoint %s: %w", e.Partition, err)
	}
	return nil
}
