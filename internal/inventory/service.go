package inventory

import (
	"context"

	"github.com/agromarket/fulfillment/internal/events"
	"github.com/agromarket/fulfillment/internal/notify"
	"github.com/sirupsen/logrus"
)

// Enqueuer is the slice of the notification queue this service needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, channel notify.Channel, to, template string, payload any) (*notify.Notification, error)
}

type Service struct {
	Store      Store
	Queue      Enqueuer        // optional
	Events     *events.Emitter // stock.low feed, optional
	AdminEmail string
}

// Reserve decrements stock for every item or none. On success it raises
// low-stock alerts for products that dropped under their threshold;
// alerting never fails the reservation.
func (s *Service) Reserve(ctx context.Context, orderID string, items []ItemQty) error {
	lines, err := s.Store.ReserveAll(ctx, orderID, items)
	if err != nil {
		return err
	}
	s.AlertLowStock(ctx, lines)
	return nil
}

// Release restocks a previously reserved order. The recorded reservation rows
// are flipped so a repeated call restocks nothing.
func (s *Service) Release(ctx context.Context, orderID string) ([]ItemQty, error) {
	return s.Store.ReleaseAll(ctx, orderID)
}

// AlertLowStock enqueues an admin notification and emits a stock.low event
// for every line whose remaining stock fell below its threshold.
func (s *Service) AlertLowStock(ctx context.Context, lines []ReservedLine) {
	for _, ln := range lines {
		if ln.Remaining >= ln.Threshold {
			continue
		}
		if s.Queue != nil {
			payload := map[string]any{
				"product_id": ln.ProductID,
				"name":       ln.Name,
				"remaining":  ln.Remaining,
				"threshold":  ln.Threshold,
			}
			if _, err := s.Queue.Enqueue(ctx, notify.ChannelEmail, s.AdminEmail, notify.TemplateLowStock, payload); err != nil {
				logrus.WithError(err).WithField("product_id", ln.ProductID).Warn("low-stock enqueue failed")
			}
		}
		s.Events.Emit(events.EventStockLow, ln.ProductID, events.StockLowPayload{
			ProductID: ln.ProductID,
			Name:      ln.Name,
			Remaining: ln.Remaining,
			Threshold: ln.Threshold,
		})
	}
}
