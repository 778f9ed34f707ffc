package sequence

import (
	"context"
	"database/sql"
	"fmt"
)

// Store is satisfied by *sql.DB and *sql.Tx, so sequences can be drawn inside
// the transaction that writes the event.
type Store interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repository struct {
	store Store
}

func NewRepository(store Store) *Repository {
	return &Repository{store: store}
}

// WithStore returns a copy bound to store, typically the caller's transaction.
func (r *Repository) WithStore(store Store) *Repository {
	return &Repository{store: store}
}

// NextSequence atomically increments and returns the next sequence for a partition.
func (r *Repository) NextSequence(ctx context.Context, partitionKey string) (int64, error) {
	var seq int64
	err := r.store.QueryRowContext(ctx, `
		INSERT INTO event_sequence (partition_key, last_sequence)
		VALUES ($1, 1)
		ON CONFLICT (partition_key)
		DO UPDATE SET last_sequence = event_sequence.last_sequence + 1, updated_at = now()
		RETURNING last_sequence
	`, partitionKey).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return seq, nil
}
