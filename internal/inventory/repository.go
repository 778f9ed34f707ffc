package inventory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/andreasstove999/storefront/internal/dedup"
)

var ErrNotFound = errors.New("not found")

// DBPool matches the methods from *pgxpool.Pool that we use.
// This allows us to mock the database in tests.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type Repository interface {
	Get(ctx context.Context, productID string) (Product, error)
	SetStock(ctx context.Context, u StockUpdate) (Product, error)
	CriticalStock(ctx context.Context, threshold int) ([]Product, error)
	ApplyAdjustment(ctx context.Context, adj Adjustment) (ApplyResult, error)
}

type PostgresRepository struct {
	pool   DBPool
	ledger *dedup.Ledger
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool, ledger: dedup.NewLedger(pool)}
}

func (r *PostgresRepository) Get(ctx context.Context, productID string) (Product, error) {
	var p Product
	row := r.pool.QueryRow(ctx, `SELECT id, name, price, stock FROM products WHERE id=$1`, productID)
	if err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Stock); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) SetStock(ctx context.Context, u StockUpdate) (Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx, `
		INSERT INTO products (id, name, price, stock)
		VALUES ($1, COALESCE($2, ''), COALESCE($3, 0), $4)
		ON CONFLICT (id) DO UPDATE SET
			stock = EXCLUDED.stock,
			name = COALESCE($2, products.name),
			price = COALESCE($3, products.price),
			updated_at = now()
		RETURNING id, name, price, stock
	`, u.ProductID, u.Name, u.Price, u.Stock).Scan(&p.ID, &p.Name, &p.Price, &p.Stock)
	if err != nil {
		return Product{}, fmt.Errorf("upsert product: %w", err)
	}
	return p, nil
}

// CriticalStock lists products that are low but not sold out, lowest first.
func (r *PostgresRepository) CriticalStock(ctx context.Context, threshold int) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, price, stock
		FROM products
		WHERE stock > 0 AND stock <= $1
		ORDER BY stock ASC, id
	`, threshold)
	if err != nil {
		return nil, fmt.Errorf("select critical stock: %w", err)
	}
	products, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Product])
	if err != nil {
		return nil, fmt.Errorf("collect critical stock: %w", err)
	}
	return products, nil
}

// ApplyAdjustment applies every delta of the batch and records the event for
// adj.Consumer in one transaction. A batch already recorded is not applied
// again. Unknown products are skipped and stock may go below zero.
func (r *PostgresRepository) ApplyAdjustment(ctx context.Context, adj Adjustment) (ApplyResult, error) {
	var res ApplyResult

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return res, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ledger := r.ledger.In(tx)
	entry := dedup.Entry{Consumer: adj.Consumer, EventID: adj.EventID, Partition: adj.OrderID}
	claim, err := ledger.Claim(ctx, entry)
	if err != nil {
		return res, err
	}
	if !claim.Fresh {
		return ApplyResult{Duplicate: true}, nil
	}
	res.PreviousSequence = claim.LastSequence

	// Row locks are taken in product order so concurrent batches cannot deadlock.
	deltas := slices.Clone(adj.Deltas)
	slices.SortStableFunc(deltas, func(a, b Delta) int { return cmp.Compare(a.ProductID, b.ProductID) })

	for _, d := range deltas {
		var stock int
		err := tx.QueryRow(ctx, `
			UPDATE products
			SET stock = stock + $2, updated_at = now()
			WHERE id = $1
			RETURNING stock
		`, d.ProductID, d.Change).Scan(&stock)
		if errors.Is(err, pgx.ErrNoRows) {
			res.Missing = append(res.Missing, d.ProductID)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("adjust stock %s: %w", d.ProductID, err)
		}
		res.Levels = append(res.Levels, StockLevel{ProductID: d.ProductID, Stock: stock})
	}

	if err := ledger.Advance(ctx, entry, adj.Sequence); err != nil {
		return res, err
	}

	if err := tx.Commit(ctx); err != nil {
		return res, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}
