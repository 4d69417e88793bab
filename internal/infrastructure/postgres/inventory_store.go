package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/tienda-labs/checkout-core/internal/domain/inventory"
	"github.com/tienda-labs/checkout-core/internal/observability"
)

// InventoryStore backs the Store contract with Postgres. Cart-wide atomicity
// comes from a single transaction: every product row is locked with
// SELECT ... FOR UPDATE in cart order, and any shortage rolls the whole
// transaction back, so either all decrements land or none do.
type InventoryStore struct {
	pool       *pgxpool.Pool
	holdWindow time.Duration
	log        observability.Logger
}

func NewInventoryStore(pool *pgxpool.Pool, holdWindow time.Duration, logger observability.Logger) *InventoryStore {
	if holdWindow <= 0 {
		holdWindow = 15 * time.Minute
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &InventoryStore{
		pool:       pool,
		holdWindow: holdWindow,
		log:        logger.With(observability.F("component", "inventory_store")),
	}
}

func (s *InventoryStore) CheckAndReserve(ctx context.Context, attemptID string, lines []domain.CartLine) (*domain.Reservation, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Idempotency short-circuit for a retried attempt that already holds.
	if res, found, err := s.activeReservation(ctx, tx, attemptID); err != nil {
		return nil, err
	} else if found {
		return res, tx.Commit(ctx)
	}

	if len(lines) == 0 {
		return nil, domain.ErrInvalidQuantity
	}

	now := time.Now().UTC()
	res := &domain.Reservation{
		ID:        uuid.NewString(),
		AttemptID: attemptID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.holdWindow),
	}

	for _, l := range lines {
		if err := l.Validate(); err != nil {
			return nil, err
		}

		var available int
		var unitPrice int64
		err := tx.QueryRow(ctx,
			`SELECT available, unit_price_cents FROM products WHERE id=$1 FOR UPDATE`,
			l.ProductID,
		).Scan(&available, &unitPrice)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.UnknownProductError{ProductID: l.ProductID}
		}
		if err != nil {
			return nil, err
		}
		if available < l.Quantity {
			// Rollback via defer: earlier lines in this cart stay untouched.
			return nil, &domain.InsufficientStockError{
				ProductID: l.ProductID,
				Requested: l.Quantity,
				Available: available,
			}
		}

		if _, err := tx.Exec(ctx,
			`UPDATE products SET available = available - $2, updated_at = $3 WHERE id=$1`,
			l.ProductID, l.Quantity, now,
		); err != nil {
			return nil, err
		}

		res.Lines = append(res.Lines, domain.ReservedLine{
			ProductID:      l.ProductID,
			Quantity:       l.Quantity,
			UnitPriceCents: unitPrice,
		})
		res.TotalCents += int64(l.Quantity) * unitPrice
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO reservations (id, attempt_id, total_cents, state, created_at, expires_at)
		 VALUES ($1,$2,$3,'held',$4,$5)`,
		res.ID, res.AttemptID, res.TotalCents, res.CreatedAt, res.ExpiresAt,
	); err != nil {
		return nil, err
	}
	for _, l := range res.Lines {
		if _, err := tx.Exec(ctx,
			`INSERT INTO reservation_lines (reservation_id, product_id, quantity, unit_price_cents)
			 VALUES ($1,$2,$3,$4)`,
			res.ID, l.ProductID, l.Quantity, l.UnitPriceCents,
		); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *InventoryStore) Release(ctx context.Context, reservationID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := releaseHeld(ctx, tx, reservationID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// releaseHeld flips one held reservation to released and restores its
// quantities. Unknown, released, or committed reservations are a no-op.
func releaseHeld(ctx context.Context, tx pgx.Tx, reservationID string) error {
	ct, err := tx.Exec(ctx,
		`UPDATE reservations SET state='released' WHERE id=$1 AND state='held'`,
		reservationID,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE products p
		SET available = available + rl.quantity, updated_at = now()
		FROM reservation_lines rl
		WHERE rl.reservation_id = $1 AND rl.product_id = p.id
	`, reservationID)
	return err
}

func (s *InventoryStore) Commit(ctx context.Context, reservationID string) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE reservations SET state='committed' WHERE id=$1 AND state IN ('held','committed')`,
		reservationID,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrUnknownReservation
	}
	return nil
}

func (s *InventoryStore) ReleaseExpired(ctx context.Context, now time.Time) ([]domain.Reservation, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, attempt_id, total_cents, created_at, expires_at
		FROM reservations
		WHERE state='held' AND expires_at < $1
		FOR UPDATE SKIP LOCKED
	`, now)
	if err != nil {
		return nil, err
	}

	var expired []domain.Reservation
	for rows.Next() {
		var r domain.Reservation
		if err := rows.Scan(&r.ID, &r.AttemptID, &r.TotalCents, &r.CreatedAt, &r.ExpiresAt); err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range expired {
		if err := releaseHeld(ctx, tx, expired[i].ID); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return expired, nil
}

// activeReservation loads the held reservation for an attempt, if any.
func (s *InventoryStore) activeReservation(ctx context.Context, tx pgx.Tx, attemptID string) (*domain.Reservation, bool, error) {
	var r domain.Reservation
	err := tx.QueryRow(ctx, `
		SELECT id, attempt_id, total_cents, created_at, expires_at
		FROM reservations WHERE attempt_id=$1 AND state='held'
	`, attemptID).Scan(&r.ID, &r.AttemptID, &r.TotalCents, &r.CreatedAt, &r.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	rows, err := tx.Query(ctx,
		`SELECT product_id, quantity, unit_price_cents FROM reservation_lines WHERE reservation_id=$1`,
		r.ID,
	)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var l domain.ReservedLine
		if err := rows.Scan(&l.ProductID, &l.Quantity, &l.UnitPriceCents); err != nil {
			return nil, false, err
		}
		r.Lines = append(r.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return &r, true, nil
}
