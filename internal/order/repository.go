package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Execer is the part of *sql.DB and *sql.Tx that collaborators writing inside
// an order transaction need.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// AdjustmentWriter persists a stock adjustment inside the caller's transaction.
type AdjustmentWriter interface {
	WriteAdjustment(ctx context.Context, exec Execer, adj StockAdjustment) error
}

// Mutation inspects the locked order and returns the change to apply.
type Mutation func(o *Order) (Change, error)

type Repository interface {
	Create(ctx context.Context, o *Order, adj StockAdjustment) error
	Mutate(ctx context.Context, orderID string, fn Mutation) (*Order, error)
	MarkPaid(ctx context.Context, orderID string) (bool, error)
	GetByID(ctx context.Context, orderID string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	ListAll(ctx context.Context) ([]Order, error)
}

type repo struct {
	db          *sql.DB
	adjustments AdjustmentWriter
	now         func() time.Time
}

func NewRepository(db *sql.DB, adjustments AdjustmentWriter) Repository {
	return &repo{db: db, adjustments: adjustments, now: func() time.Time { return time.Now().UTC() }}
}

const orderColumns = `id, user_id, status, total_amount, cancel_reason, requested_from, full_name, phone, city, address, created_at, updated_at`

func (r *repo) Create(ctx context.Context, o *Order, adj StockAdjustment) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, status, total_amount, full_name, phone, city, address, created_at, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		o.ID, o.UserID, string(o.Status), o.TotalAmount,
		nullString(o.FullName), nullString(o.Phone), nullString(o.City), nullString(o.Address),
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, it := range o.Items {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO order_items (id, order_id, line_no, product_id, quantity, price)
             VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.NewString(), o.ID, i, it.ProductID, it.Quantity, it.Price,
		)
		if err != nil {
			return fmt.Errorf("insert order_item: %w", err)
		}
	}

	if err := r.adjustments.WriteAdjustment(ctx, tx, adj); err != nil {
		return fmt.Errorf("write stock adjustment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *repo) Mutate(ctx context.Context, orderID string, fn Mutation) (*Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	o, err := scanOrder(tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}
	if o.Items, err = loadItems(ctx, tx, o.ID); err != nil {
		return nil, err
	}

	change, err := fn(o)
	if err != nil {
		return nil, err
	}

	now := r.now()
	_, err = tx.ExecContext(ctx,
		`UPDATE orders SET status = $2, cancel_reason = $3, requested_from = $4, updated_at = $5 WHERE id = $1`,
		o.ID, string(change.Status), nullString(change.CancelReason), nullString(string(change.RequestedFrom)), now,
	)
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	if change.Adjustment != nil {
		if err := r.adjustments.WriteAdjustment(ctx, tx, *change.Adjustment); err != nil {
			return nil, fmt.Errorf("write stock adjustment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	o.apply(change, now)
	return o, nil
}

// markPaidQuery moves a PENDING order to PROCESSING. A payment landing on a
// cancel request filed from PENDING keeps the request open but rewrites its
// origin, so a rejection returns the order to PROCESSING.
const markPaidQuery = `UPDATE orders SET
	status = CASE WHEN status = $4 THEN $2 ELSE status END,
	requested_from = CASE WHEN status = $5 THEN $2 ELSE requested_from END,
	updated_at = $3
WHERE id = $1 AND (status = $4 OR (status = $5 AND requested_from = $4))`

// MarkPaid records a payment against a PENDING order, or against a cancel
// request filed from PENDING. It reports false without error when the order is
// past that point, so redelivered notifications are no-ops.
func (r *repo) MarkPaid(ctx context.Context, orderID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, markPaidQuery,
		orderID, string(StatusProcessing), r.now(), string(StatusPending), string(StatusCancelRequested),
	)
	if err != nil {
		return false, fmt.Errorf("mark paid: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check order: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (r *repo) GetByID(ctx context.Context, orderID string) (*Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select order: %w", err)
	}

	if o.Items, err = loadItems(ctx, r.db, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *repo) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	return r.list(ctx, `WHERE o.user_id = $1`, userID)
}

func (r *repo) ListAll(ctx context.Context) ([]Order, error) {
	return r.list(ctx, ``)
}

func (r *repo) list(ctx context.Context, where string, args ...any) ([]Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			o.id, o.user_id, o.status, o.total_amount, o.cancel_reason,
			o.full_name, o.phone, o.city, o.address, o.created_at, o.updated_at,
			oi.product_id, oi.quantity, oi.price
		FROM orders o
		LEFT JOIN order_items oi ON oi.order_id = o.id
		`+where+`
		ORDER BY o.created_at DESC, o.id, oi.line_no
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var (
			o                                        Order
			status                                   string
			cancelReason, fullName, phone, city, adr sql.NullString
			productID                                sql.NullString
			quantity                                 sql.NullInt64
			price                                    sql.NullFloat64
		)
		if err := rows.Scan(
			&o.ID, &o.UserID, &status, &o.TotalAmount, &cancelReason,
			&fullName, &phone, &city, &adr, &o.CreatedAt, &o.UpdatedAt,
			&productID, &quantity, &price,
		); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}

		if n := len(orders); n == 0 || orders[n-1].ID != o.ID {
			o.Status = Status(status)
			o.CancelReason = cancelReason.String
			o.Shipping = Shipping{FullName: fullName.String, Phone: phone.String, City: city.String, Address: adr.String}
			o.Items = []Item{}
			orders = append(orders, o)
		}
		if productID.Valid {
			last := &orders[len(orders)-1]
			last.Items = append(last.Items, Item{
				ProductID: productID.String,
				Quantity:  int(quantity.Int64),
				Price:     price.Float64,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return orders, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadItems(ctx context.Context, q queryer, orderID string) ([]Item, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT product_id, quantity, price FROM order_items WHERE order_id = $1 ORDER BY line_no`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order_items: %w", err)
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.Price); err != nil {
			return nil, fmt.Errorf("scan order_item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return items, nil
}

func scanOrder(row *sql.Row) (*Order, error) {
	var (
		o                                                       Order
		status                                                  string
		cancelReason, requestedFrom, fullName, phone, city, adr sql.NullString
	)
	if err := row.Scan(
		&o.ID, &o.UserID, &status, &o.TotalAmount, &cancelReason, &requestedFrom,
		&fullName, &phone, &city, &adr, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	o.Status = Status(status)
	o.CancelReason = cancelReason.String
	o.RequestedFrom = Status(requestedFrom.String)
	o.Shipping = Shipping{FullName: fullName.String, Phone: phone.String, City: city.String, Address: adr.String}
	return &o, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
