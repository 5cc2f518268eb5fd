// Package store holds the Postgres repositories. Reservation and order
// persistence share one transaction; everything stock-related goes through
// the guarded decrement so oversell is impossible regardless of interleaving.
package store

import (
	"time"

	"github.com/agromarket/fulfillment/internal/pricing"
)

type Product struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Price             float64   `json:"price"`
	WeightKg          float64   `json:"weight_kg"`
	Stock             int       `json:"stock"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderCancelled OrderStatus = "CANCELLED"
)

type Order struct {
	ID             string         `json:"id"`
	ExternalID     string         `json:"external_id,omitempty"`
	BuyerEmail     string         `json:"buyer_email"`
	BuyerPhone     string         `json:"buyer_phone,omitempty"`
	PostalCode     string         `json:"postal_code,omitempty"`
	ShippingMethod pricing.Method `json:"shipping_method"`
	Status         OrderStatus    `json:"status"`
	Subtotal       float64        `json:"subtotal"`
	ShippingCost   float64        `json:"shipping_cost"`
	CODFee         float64        `json:"cod_fee"`
	Tax            float64        `json:"tax"`
	Total          float64        `json:"total"`
	Items          []OrderItem    `json:"items,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// OrderItem is an immutable price/qty snapshot taken at order time.
type OrderItem struct {
	ProductID  string  `json:"product_id"`
	Qty        int     `json:"qty"`
	UnitPrice  float64 `json:"unit_price"`
	TotalPrice float64 `json:"total_price"`
}
