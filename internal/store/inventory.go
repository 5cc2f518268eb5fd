package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/agromarket/fulfillment/internal/inventory"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Inventory implements inventory.Store on Postgres.
type Inventory struct{ DB *pgxpool.Pool }

var _ inventory.Store = (*Inventory)(nil)

func (s *Inventory) ReserveAll(ctx context.Context, orderID string, items []inventory.ItemQty) ([]inventory.ReservedLine, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	lines, err := reserveInTx(ctx, tx, orderID, items)
	if err != nil {
		return nil, err // rollback via defer, nothing mutated
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return lines, nil
}

// reserveInTx locks each product row, checks stock and applies a guarded
// decrement. The first shortfall aborts the whole transaction. Shared with
// the order repo so checkout's order insert rides the same transaction.
func reserveInTx(ctx context.Context, tx pgx.Tx, orderID string, items []inventory.ItemQty) ([]inventory.ReservedLine, error) {
	lines := make([]inventory.ReservedLine, 0, len(items))
	for _, it := range items {
		if it.Qty <= 0 {
			return nil, fmt.Errorf("invalid qty %d for product %s", it.Qty, it.ProductID)
		}

		var name string
		var stock, threshold int
		err := tx.QueryRow(ctx, `
			SELECT name, stock, low_stock_threshold FROM products WHERE id=$1 FOR UPDATE`,
			it.ProductID).Scan(&name, &stock, &threshold)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("product not found: %s", it.ProductID)
		}
		if err != nil {
			return nil, err
		}

		if stock < it.Qty {
			return nil, &inventory.InsufficientStockError{
				ProductID: it.ProductID, Needed: it.Qty, Available: stock,
			}
		}

		// The row is locked, but the decrement stays guarded so the stock
		// invariant survives even outside this lock discipline.
		ct, err := tx.Exec(ctx, `
			UPDATE products SET stock = stock - $2, updated_at = now()
			WHERE id=$1 AND stock >= $2`, it.ProductID, it.Qty)
		if err != nil {
			return nil, err
		}
		if ct.RowsAffected() != 1 {
			return nil, &inventory.InsufficientStockError{
				ProductID: it.ProductID, Needed: it.Qty, Available: stock,
			}
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO reservations(order_id, product_id, qty, status)
			VALUES ($1,$2,$3,'RESERVED')
			ON CONFLICT (order_id, product_id) DO NOTHING`,
			orderID, it.ProductID, it.Qty); err != nil {
			return nil, err
		}

		lines = append(lines, inventory.ReservedLine{
			ProductID: it.ProductID,
			Name:      name,
			Remaining: stock - it.Qty,
			Threshold: threshold,
		})
	}
	return lines, nil
}

func (s *Inventory) ReleaseAll(ctx context.Context, orderID string) ([]inventory.ItemQty, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT product_id, qty FROM reservations
		WHERE order_id=$1 AND status='RESERVED'`, orderID)
	if err != nil {
		return nil, err
	}
	var recs []inventory.ItemQty
	for rows.Next() {
		var r inventory.ItemQty
		if err := rows.Scan(&r.ProductID, &r.Qty); err != nil {
			rows.Close()
			return nil, err
		}
		recs = append(recs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, r := range recs {
		if _, err := tx.Exec(ctx, `
			UPDATE products SET stock = stock + $2, updated_at = now() WHERE id=$1`,
			r.ProductID, r.Qty); err != nil {
			return nil, err
		}
	}
	if _, err := tx.Exec(ctx, `
		UPDATE reservations SET status='RELEASED'
		WHERE order_id=$1 AND status='RESERVED'`, orderID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return recs, nil
}
