package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/averix/go-order-api/internal/model"
)

// OrderRepository persists orders and their item snapshots. Status-changing
// methods are compare-and-swap updates guarded by the current status; they
// return false when no row matched, so the caller can distinguish a lost
// race from an invalid transition after re-reading.
type OrderRepository interface {
	InTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	CreateWithItems(ctx context.Context, tx pgx.Tx, order *model.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error)
	GetByNumber(ctx context.Context, number string) (*model.Order, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.Order, error)
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]model.Order, error)
	SetInvoice(ctx context.Context, id uuid.UUID, invoiceID, invoiceURL string, expiresAt time.Time) (bool, error)
	ConfirmPayment(ctx context.Context, tx pgx.Tx, id uuid.UUID, txnID string) (bool, error)
	MarkShipped(ctx context.Context, tx pgx.Tx, id uuid.UUID, trackingNumber string) (bool, error)
	MarkCompleted(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error)
	RequestCancellation(ctx context.Context, tx pgx.Tx, id uuid.UUID, reason string) (bool, error)
	Cancel(ctx context.Context, tx pgx.Tx, id uuid.UUID, from model.OrderStatus, reason string) (bool, error)
	ClearCancellationRequest(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error)
}

type pgOrderRepo struct{ pool *pgxpool.Pool }

func NewOrderRepository(pool *pgxpool.Pool) OrderRepository {
	return &pgOrderRepo{pool: pool}
}

func (r *pgOrderRepo) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *pgOrderRepo) CreateWithItems(ctx context.Context, tx pgx.Tx, order *model.Order) error {
	order.ID = uuid.New()
	err := tx.QueryRow(ctx,
		`INSERT INTO orders (id, number, user_id, status, subtotal, discount, shipping_cost, fees, total_amount,
		                     shipping_method, shipping_address, payment_method, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		 RETURNING created_at, updated_at`,
		order.ID, order.Number, order.UserID, order.Status,
		order.Subtotal, order.Discount, order.ShippingCost, order.Fees, order.TotalAmount,
		order.ShippingMethod, order.ShippingAddress, order.PaymentMethod,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.ID = uuid.New()
		item.OrderID = order.ID
		_, err = tx.Exec(ctx,
			`INSERT INTO order_items (id, order_id, product_id, name, price, quantity, subtotal, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
			item.ID, item.OrderID, item.ProductID, item.Name, item.Price, item.Quantity, item.Subtotal,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

const orderColumns = `id, number, user_id, status, subtotal, discount, shipping_cost, fees, total_amount,
	shipping_method, shipping_address, tracking_number, payment_method,
	invoice_id, invoice_url, invoice_expires_at, payment_txn_id,
	cancel_requested, cancel_reason, created_at, updated_at`

func scanOrder(row pgx.Row, o *model.Order) error {
	return row.Scan(
		&o.ID, &o.Number, &o.UserID, &o.Status,
		&o.Subtotal, &o.Discount, &o.ShippingCost, &o.Fees, &o.TotalAmount,
		&o.ShippingMethod, &o.ShippingAddress, &o.TrackingNumber, &o.PaymentMethod,
		&o.InvoiceID, &o.InvoiceURL, &o.InvoiceExpiresAt, &o.PaymentTxnID,
		&o.CancelRequested, &o.CancelReason, &o.CreatedAt, &o.UpdatedAt,
	)
}

func (r *pgOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	o := &model.Order{}
	err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id), o)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if err := r.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *pgOrderRepo) GetByNumber(ctx context.Context, number string) (*model.Order, error) {
	o := &model.Order{}
	err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE number = $1`, number), o)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order by number: %w", err)
	}
	if err := r.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// GetForUpdate locks the order row for the remainder of the transaction,
// serializing concurrent transitions on the same order.
func (r *pgOrderRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.Order, error) {
	o := &model.Order{}
	err := scanOrder(tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id), o)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order for update: %w", err)
	}

	rows, err := tx.Query(ctx,
		`SELECT id, order_id, product_id, name, price, quantity, subtotal, created_at
		 FROM order_items WHERE order_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item model.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Name,
			&item.Price, &item.Quantity, &item.Subtotal, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		o.Items = append(o.Items, item)
	}
	return o, nil
}

func (r *pgOrderRepo) loadItems(ctx context.Context, o *model.Order) error {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, product_id, name, price, quantity, subtotal, created_at
		 FROM order_items WHERE order_id = $1`, o.ID)
	if err != nil {
		return fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item model.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Name,
			&item.Price, &item.Quantity, &item.Subtotal, &item.CreatedAt); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		o.Items = append(o.Items, item)
	}
	return nil
}

func (r *pgOrderRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		if err := scanOrder(rows, &o); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (r *pgOrderRepo) SetInvoice(ctx context.Context, id uuid.UUID, invoiceID, invoiceURL string, expiresAt time.Time) (bool, error) {
	ct, err := r.pool.Exec(ctx,
		`UPDATE orders SET invoice_id = $2, invoice_url = $3, invoice_expires_at = $4, updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'`,
		id, invoiceID, invoiceURL, expiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("set invoice: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (r *pgOrderRepo) ConfirmPayment(ctx context.Context, tx pgx.Tx, id uuid.UUID, txnID string) (bool, error) {
	ct, err := tx.Exec(ctx,
		`UPDATE orders SET status = 'processing', payment_txn_id = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'`,
		id, txnID,
	)
	if err != nil {
		return false, fmt.Errorf("confirm payment: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (r *pgOrderRepo) MarkShipped(ctx context.Context, tx pgx.Tx, id uuid.UUID, trackingNumber string) (bool, error) {
	ct, err := tx.Exec(ctx,
		`UPDATE orders SET status = 'shipped', tracking_number = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`,
		id, trackingNumber,
	)
	if err != nil {
		return false, fmt.Errorf("mark shipped: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (r *pgOrderRepo) MarkCompleted(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	ct, err := tx.Exec(ctx,
		`UPDATE orders SET status = 'completed', updated_at = NOW()
		 WHERE id = $1 AND status = 'shipped'`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("mark completed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (r *pgOrderRepo) RequestCancellation(ctx context.Context, tx pgx.Tx, id uuid.UUID, reason string) (bool, error) {
	ct, err := tx.Exec(ctx,
		`UPDATE orders SET cancel_requested = TRUE, cancel_reason = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'processing' AND cancel_requested = FALSE`,
		id, reason,
	)
	if err != nil {
		return false, fmt.Errorf("request cancellation: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (r *pgOrderRepo) Cancel(ctx context.Context, tx pgx.Tx, id uuid.UUID, from model.OrderStatus, reason string) (bool, error) {
	ct, err := tx.Exec(ctx,
		`UPDATE orders SET status = 'cancelled', cancel_requested = FALSE, cancel_reason = $3, updated_at = NOW()
		 WHERE id = $1 AND status = $2`,
		id, from, reason,
	)
	if err != nil {
		return false, fmt.Errorf("cancel order: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (r *pgOrderRepo) ClearCancellationRequest(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	ct, err := tx.Exec(ctx,
		`UPDATE orders SET cancel_requested = FALSE, updated_at = NOW()
		 WHERE id = $1 AND status = 'processing' AND cancel_requested = TRUE`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("clear cancellation request: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
