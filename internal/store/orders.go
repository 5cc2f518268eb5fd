package store

import (
	"context"
	"errors"

	"github.com/agromarket/fulfillment/internal/inventory"
	"github.com/agromarket/fulfillment/internal/pricing"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Orders struct{ DB *pgxpool.Pool }

// CreateWithReservation persists the order, its item snapshots and the stock
// decrements as one transaction. On an insufficient-stock abort nothing is
// written, including the order row.
func (s *Orders) CreateWithReservation(ctx context.Context, o *Order) ([]inventory.ReservedLine, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	items := make([]inventory.ItemQty, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, inventory.ItemQty{ProductID: it.ProductID, Qty: it.Qty})
	}
	lines, err := reserveInTx(ctx, tx, o.ID, items)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO orders(id, external_id, buyer_email, buyer_phone, postal_code,
		                   shipping_method, status, subtotal, shipping_cost, cod_fee, tax, total)
		VALUES ($1, NULLIF($2,''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		o.ID, o.ExternalID, o.BuyerEmail, o.BuyerPhone, o.PostalCode,
		string(o.ShippingMethod), string(o.Status),
		o.Subtotal, o.ShippingCost, o.CODFee, o.Tax, o.Total); err != nil {
		return nil, err
	}

	for _, it := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, qty, unit_price, total_price)
			VALUES ($1,$2,$3,$4,$5)`,
			o.ID, it.ProductID, it.Qty, it.UnitPrice, it.TotalPrice); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return lines, nil
}

// FindByExternalID returns (nil, nil) when no order carries the external id.
func (s *Orders) FindByExternalID(ctx context.Context, externalID string) (*Order, error) {
	if externalID == "" {
		return nil, nil
	}
	o, err := s.scanOrder(s.DB.QueryRow(ctx, `
		SELECT id, COALESCE(external_id,''), buyer_email, COALESCE(buyer_phone,''),
		       COALESCE(postal_code,''), shipping_method, status,
		       subtotal, shipping_cost, cod_fee, tax, total, created_at
		FROM orders WHERE external_id=$1`, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

func (s *Orders) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.scanOrder(s.DB.QueryRow(ctx, `
		SELECT id, COALESCE(external_id,''), buyer_email, COALESCE(buyer_phone,''),
		       COALESCE(postal_code,''), shipping_method, status,
		       subtotal, shipping_cost, cod_fee, tax, total, created_at
		FROM orders WHERE id=$1`, id))
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.Query(ctx, `
		SELECT product_id, qty, unit_price, total_price
		FROM order_items WHERE order_id=$1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ProductID, &it.Qty, &it.UnitPrice, &it.TotalPrice); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

func (s *Orders) SetStatus(ctx context.Context, id string, status OrderStatus) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, id, string(status))
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return errors.New("order not found: " + id)
	}
	return nil
}

func (s *Orders) scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var method, status string
	err := row.Scan(&o.ID, &o.ExternalID, &o.BuyerEmail, &o.BuyerPhone, &o.PostalCode,
		&method, &status, &o.Subtotal, &o.ShippingCost, &o.CODFee, &o.Tax, &o.Total, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	o.ShippingMethod = pricing.Method(method)
	o.Status = OrderStatus(status)
	return &o, nil
}
