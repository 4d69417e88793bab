package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/tienda-labs/checkout-core/internal/domain/order"
	"github.com/tienda-labs/checkout-core/internal/domain/payment"
	"github.com/tienda-labs/checkout-core/internal/observability"
)

// OrderLedger persists orders in Postgres. Appends are transactional and
// idempotent on order id; failed commits surface as errors so the caller
// never mistakes a lost write for a durable one.
type OrderLedger struct {
	pool *pgxpool.Pool
	log  observability.Logger
}

func NewOrderLedger(pool *pgxpool.Pool, logger observability.Logger) *OrderLedger {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &OrderLedger{
		pool: pool,
		log:  logger.With(observability.F("component", "order_ledger")),
	}
}

func (l *OrderLedger) Append(ctx context.Context, o *domain.Order) (string, error) {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var existingID, existingAttempt string
	err = tx.QueryRow(ctx, `SELECT id, attempt_id FROM orders WHERE id=$1`, o.ID).
		Scan(&existingID, &existingAttempt)
	switch {
	case err == nil:
		if existingAttempt == o.AttemptID {
			return existingID, tx.Commit(ctx)
		}
		return "", domain.ErrConflict
	case errors.Is(err, pgx.ErrNoRows):
		// fall through to insert
	default:
		return "", err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO orders (id, buyer_id, attempt_id, status, transaction_id, amount_cents, gateway_reference, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, o.ID, o.BuyerID, o.AttemptID, o.Status, o.Payment.TransactionID, o.Payment.AmountCents, o.Payment.GatewayReference, o.CreatedAt, o.UpdatedAt); err != nil {
		return "", err
	}

	for _, line := range o.Lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_lines (order_id, product_id, quantity, unit_price_cents)
			VALUES ($1,$2,$3,$4)
		`, o.ID, line.ProductID, line.Quantity, line.UnitPriceCents); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return o.ID, nil
}

func (l *OrderLedger) UpdateStatus(ctx context.Context, id string, to domain.Status) error {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current domain.Status
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}

	if !domain.CanTransition(current, to) {
		return domain.ErrInvalidTransition
	}

	if _, err := tx.Exec(ctx,
		`UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`,
		id, to,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (l *OrderLedger) Get(ctx context.Context, id string) (*domain.Order, error) {
	var o domain.Order
	var out payment.Outcome
	err := l.pool.QueryRow(ctx, `
		SELECT id, buyer_id, attempt_id, status, transaction_id, amount_cents, gateway_reference, created_at, updated_at
		FROM orders WHERE id=$1
	`, id).Scan(&o.ID, &o.BuyerID, &o.AttemptID, &o.Status, &out.TransactionID, &out.AmountCents, &out.GatewayReference, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out.Settled = true
	o.Payment = out

	rows, err := l.pool.Query(ctx,
		`SELECT product_id, quantity, unit_price_cents FROM order_lines WHERE order_id=$1`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var line domain.Line
		if err := rows.Scan(&line.ProductID, &line.Quantity, &line.UnitPriceCents); err != nil {
			return nil, err
		}
		o.Lines = append(o.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &o, nil
}
