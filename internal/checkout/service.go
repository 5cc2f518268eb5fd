// Package checkout ties the order flow together: rate limit, idempotency,
// price snapshot, shipping quote, the reservation transaction, and the
// post-commit fanout (notifications and events).
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agromarket/fulfillment/internal/events"
	"github.com/agromarket/fulfillment/internal/inventory"
	"github.com/agromarket/fulfillment/internal/notify"
	"github.com/agromarket/fulfillment/internal/pricing"
	"github.com/agromarket/fulfillment/internal/ratelimit"
	"github.com/agromarket/fulfillment/internal/redisx"
	"github.com/agromarket/fulfillment/internal/shipping"
	"github.com/agromarket/fulfillment/internal/store"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type Catalog interface {
	GetMany(ctx context.Context, ids []string) (map[string]store.Product, error)
}

type OrderStore interface {
	CreateWithReservation(ctx context.Context, o *store.Order) ([]inventory.ReservedLine, error)
	FindByExternalID(ctx context.Context, externalID string) (*store.Order, error)
	Get(ctx context.Context, id string) (*store.Order, error)
	SetStatus(ctx context.Context, id string, status store.OrderStatus) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, channel notify.Channel, to, template string, payload any) (*notify.Notification, error)
}

// IdemCache is the slice of the Redis client the fast-path needs. Optional:
// the database unique index on external_id stays the source of truth.
type IdemCache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd
}

type RateLimitedError struct {
	ResetAt time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited until %s", e.ResetAt.Format(time.RFC3339))
}

// ValidationError marks a request the caller can fix; transports map it to 400.
type ValidationError string

func (e ValidationError) Error() string { return string(e) }

type ItemRequest struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type Request struct {
	ExternalID string         `json:"external_id,omitempty"`
	BuyerEmail string         `json:"buyer_email"`
	BuyerPhone string         `json:"buyer_phone,omitempty"`
	PostalCode string         `json:"postal_code,omitempty"`
	Method     pricing.Method `json:"shipping_method"`
	Items      []ItemRequest  `json:"items"`

	// ClientKey feeds the rate limiter; transports set it (IP or account).
	ClientKey string `json:"-"`
}

type Confirmation struct {
	Order    *store.Order    `json:"order"`
	Quote    *shipping.Quote `json:"shipping_quote,omitempty"`
	Replayed bool            `json:"replayed,omitempty"`
}

type Service struct {
	Orders    OrderStore
	Products  Catalog
	Inventory *inventory.Service
	Queue     Enqueuer
	Shipping  *shipping.Engine
	Limiter   *ratelimit.Limiter // optional
	Idem      IdemCache          // optional

	Placed    *events.Emitter
	Rejected  *events.Emitter
	Cancelled *events.Emitter

	Pricing    pricing.Options
	AdminEmail string
}

// Checkout places an order. Stock decrements, the order row and its item
// snapshots commit in one transaction; on insufficient stock nothing is
// written and the shortfall is returned. A repeated ExternalID replays the
// original confirmation instead of placing a second order.
func (s *Service) Checkout(ctx context.Context, req Request) (*Confirmation, error) {
	if s.Limiter != nil {
		key := req.ClientKey
		if key == "" {
			key = req.BuyerEmail
		}
		if res := s.Limiter.Allow(ctx, "checkout", key); !res.OK {
			return nil, &RateLimitedError{ResetAt: res.ResetAt}
		}
	}

	if err := validate(req); err != nil {
		return nil, err
	}

	if prior, err := s.findReplay(ctx, req.ExternalID); err != nil {
		return nil, err
	} else if prior != nil {
		return &Confirmation{Order: prior, Replayed: true}, nil
	}

	ids := make([]string, 0, len(req.Items))
	for _, it := range req.Items {
		ids = append(ids, it.ProductID)
	}
	products, err := s.Products.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}

	priceItems := make([]pricing.Item, 0, len(req.Items))
	shipItems := make([]shipping.Item, 0, len(req.Items))
	orderItems := make([]store.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		p, ok := products[it.ProductID]
		if !ok {
			return nil, ValidationError("unknown product: " + it.ProductID)
		}
		priceItems = append(priceItems, pricing.Item{Price: p.Price, Qty: it.Qty})
		shipItems = append(shipItems, shipping.Item{Qty: it.Qty, WeightKg: p.WeightKg})
		orderItems = append(orderItems, store.OrderItem{
			ProductID:  it.ProductID,
			Qty:        it.Qty,
			UnitPrice:  p.Price,
			TotalPrice: pricing.Round2(p.Price * float64(it.Qty)),
		})
	}

	opts := s.Pricing
	var quote *shipping.Quote

	if s.Shipping != nil && req.Method != pricing.MethodPickup {
		// Quote the courier base only; the COD surcharge is a pricing line,
		// not a shipping cost, so it must not be counted twice.
		var subtotal float64
		for _, it := range priceItems {
			subtotal += it.Price * float64(it.Qty)
		}
		q := s.Shipping.Quote(shipping.Request{
			Method:     pricing.MethodCourier,
			PostalCode: req.PostalCode,
			Items:      shipItems,
			Subtotal:   pricing.Round2(subtotal),
		})
		quote = &q
		opts.BaseShipping = &q.Cost
	}

	totals := pricing.Calc(priceItems, req.Method, opts)

	order := &store.Order{
		ID:             uuid.NewString(),
		ExternalID:     req.ExternalID,
		BuyerEmail:     req.BuyerEmail,
		BuyerPhone:     req.BuyerPhone,
		PostalCode:     req.PostalCode,
		ShippingMethod: req.Method,
		Status:         store.OrderPending,
		Subtotal:       totals.Subtotal,
		ShippingCost:   totals.Shipping,
		CODFee:         totals.CODFee,
		Tax:            totals.Tax,
		Total:          totals.GrandTotal,
		Items:          orderItems,
	}

	lines, err := s.Orders.CreateWithReservation(ctx, order)
	if err != nil {
		var stockErr *inventory.InsufficientStockError
		if errors.As(err, &stockErr) {
			s.Rejected.Emit(events.EventStockRejected, order.ID, events.StockRejectedPayload{
				OrderID: order.ID,
				Reason:  "insufficient_stock",
				Details: []events.StockRejectedDetail{{
					ProductID: stockErr.ProductID,
					Required:  stockErr.Needed,
					Available: stockErr.Available,
				}},
			})
		}
		return nil, err
	}

	s.afterCommit(ctx, order, lines, req)
	return &Confirmation{Order: order, Quote: quote}, nil
}

// Cancel releases an order's stock and marks it cancelled. Safe to repeat:
// reservation rows flip to RELEASED on the first call, so a retry restocks
// nothing.
func (s *Service) Cancel(ctx context.Context, orderID string) (*store.Order, error) {
	order, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == store.OrderCancelled {
		return order, nil
	}

	restocks, err := s.Inventory.Release(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("release stock: %w", err)
	}
	if err := s.Orders.SetStatus(ctx, orderID, store.OrderCancelled); err != nil {
		return nil, err
	}
	order.Status = store.OrderCancelled

	if s.Queue != nil {
		if _, err := s.Queue.Enqueue(ctx, notify.ChannelEmail, order.BuyerEmail,
			notify.TemplateOrderCancelled, map[string]any{"order_id": order.ID}); err != nil {
			logrus.WithError(err).WithField("order_id", order.ID).Warn("cancel notification enqueue failed")
		}
	}

	s.Cancelled.Emit(events.EventOrderCancelled, order.ID, events.OrderCancelledPayload{
		OrderID:  order.ID,
		Restocks: toEventItems(restocks),
	})
	return order, nil
}

func (s *Service) findReplay(ctx context.Context, externalID string) (*store.Order, error) {
	if externalID == "" {
		return nil, nil
	}
	if s.Idem != nil {
		if id, err := s.Idem.Get(ctx, fmt.Sprintf(redisx.KeyIdemCheckout, externalID)).Result(); err == nil && id != "" {
			if o, err := s.Orders.Get(ctx, id); err == nil {
				return o, nil
			}
			// cache points at a missing order, fall through to the database
		}
	}
	return s.Orders.FindByExternalID(ctx, externalID)
}

// afterCommit runs the fanout that must not fail the placed order: low-stock
// alerts, the idempotency cache, buyer/admin notifications and the event feed.
func (s *Service) afterCommit(ctx context.Context, order *store.Order, lines []inventory.ReservedLine, req Request) {
	if s.Inventory != nil {
		s.Inventory.AlertLowStock(ctx, lines)
	}

	if s.Idem != nil && order.ExternalID != "" {
		key := fmt.Sprintf(redisx.KeyIdemCheckout, order.ExternalID)
		if err := s.Idem.Set(ctx, key, order.ID, redisx.TTLIdempotency).Err(); err != nil {
			logrus.WithError(err).Warn("idempotency cache set failed")
		}
	}

	if s.Queue != nil {
		payload := map[string]any{
			"order_id":    order.ID,
			"buyer_email": order.BuyerEmail,
			"total":       order.Total,
		}
		s.enqueue(ctx, notify.ChannelEmail, order.BuyerEmail, notify.TemplateOrderPlacedBuyer, payload)
		if s.AdminEmail != "" {
			s.enqueue(ctx, notify.ChannelEmail, s.AdminEmail, notify.TemplateOrderPlacedAdmin, payload)
		}
		if order.BuyerPhone != "" {
			s.enqueue(ctx, notify.ChannelSMS, order.BuyerPhone, notify.TemplateOrderPlacedSMS, payload)
		}
	}

	items := make([]events.ItemQty, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, events.ItemQty{ProductID: it.ProductID, Qty: it.Qty})
	}
	s.Placed.Emit(events.EventOrderPlaced, order.ID, events.OrderPlacedPayload{
		OrderID:    order.ID,
		ExternalID: order.ExternalID,
		BuyerEmail: order.BuyerEmail,
		Total:      order.Total,
		Items:      items,
	})
}

func (s *Service) enqueue(ctx context.Context, ch notify.Channel, to, template string, payload any) {
	if _, err := s.Queue.Enqueue(ctx, ch, to, template, payload); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"template": template, "channel": ch,
		}).Warn("notification enqueue failed")
	}
}

func validate(req Request) error {
	if req.BuyerEmail == "" {
		return ValidationError("buyer_email is required")
	}
	if len(req.Items) == 0 {
		return ValidationError("order has no items")
	}
	for _, it := range req.Items {
		if it.ProductID == "" {
			return ValidationError("item without product_id")
		}
		if it.Qty <= 0 {
			return ValidationError(fmt.Sprintf("invalid qty %d for product %s", it.Qty, it.ProductID))
		}
	}
	switch req.Method {
	case pricing.MethodCourier, pricing.MethodCourierCOD, pricing.MethodPickup:
	default:
		return ValidationError("unknown shipping_method: " + string(req.Method))
	}
	return nil
}

func toEventItems(items []inventory.ItemQty) []events.ItemQty {
	out := make([]events.ItemQty, 0, len(items))
	for _, it := range items {
		out = append(out, events.ItemQty{ProductID: it.ProductID, Qty: it.Qty})
	}
	return out
}
