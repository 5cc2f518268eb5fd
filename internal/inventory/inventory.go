// Package inventory owns product stock. All stock mutations in the system go
// through a Store implementation; reservations are all-or-nothing per order.
package inventory

import (
	"context"
	"fmt"
)

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

// ReservedLine reports the post-decrement state of one product, so callers
// can raise low-stock alerts without re-reading.
type ReservedLine struct {
	ProductID string
	Name      string
	Remaining int
	Threshold int
}

// InsufficientStockError is the only business error a reservation can return.
// When it is returned, no stock was mutated.
type InsufficientStockError struct {
	ProductID string
	Needed    int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: need %d, have %d",
		e.ProductID, e.Needed, e.Available)
}

// Store is the persistence contract. ReserveAll must be atomic across all
// items: either every decrement applies or none do, and two concurrent
// reservations can never both take the last unit.
type Store interface {
	ReserveAll(ctx context.Context, orderID string, items []ItemQty) ([]ReservedLine, error)
	ReleaseAll(ctx context.Context, orderID string) ([]ItemQty, error)
}
