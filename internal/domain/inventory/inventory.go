package inventory

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidQuantity   = errors.New("inventory: quantity must be greater than zero")
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	ErrUnknownProduct    = errors.New("inventory: product not found")
	// ErrUnknownReservation is returned by Commit for reservations that do
	// not exist or were already released; Release treats the same case as a
	// no-op instead.
	ErrUnknownReservation = errors.New("inventory: reservation not found")
)

// InsufficientStockError names the first cart line (in cart order) that could
// not be covered by available stock.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for product %s (requested %d, available %d)",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// UnknownProductError is returned when a cart line references a product the
// store has never seen, including products deleted after the cart was built.
type UnknownProductError struct {
	ProductID string
}

func (e *UnknownProductError) Error() string {
	return fmt.Sprintf("inventory: product %s not found", e.ProductID)
}

func (e *UnknownProductError) Unwrap() error { return ErrUnknownProduct }

// Product is the store's authoritative view of one sellable item. Available
// only ever changes through the Store's reserve/release/commit operations,
// never by assignment from a stale read.
type Product struct {
	ID             string
	Name           string
	UnitPriceCents int64
	Available      int
	UpdatedAt      time.Time
}

// CartLine is client-supplied and untrusted. It carries no price on purpose:
// only the store's unit price enters a checkout total.
type CartLine struct {
	ProductID string
	Quantity  int
}

// Validate rejects lines that must never reach the store.
func (l CartLine) Validate() error {
	if l.ProductID == "" {
		return &UnknownProductError{ProductID: l.ProductID}
	}
	if l.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	return nil
}
