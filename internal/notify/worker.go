package notify

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/agromarket/fulfillment/internal/events"
	"github.com/sirupsen/logrus"
)

// Worker drains the queue. Several instances may poll the same store; the
// conditional claim keeps every record single-flight.
type Worker struct {
	Store     Store
	Adapters  map[Channel]Adapter
	Templates *TemplateSet

	// Events receives dead-letter notices; optional.
	Events *events.Emitter

	BatchLimit      int
	DeliveryTimeout time.Duration
	ClaimLease      time.Duration

	// Now and Jitter exist so tests can pin time; zero values mean real
	// time and a bounded random offset.
	Now         func() time.Time
	Jitter      func() time.Duration
	JitterBound time.Duration
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *Worker) jitter() time.Duration {
	if w.Jitter != nil {
		return w.Jitter()
	}
	bound := w.JitterBound
	if bound <= 0 {
		bound = 90 * time.Second
	}
	return time.Duration(rand.Int63n(int64(bound)))
}

func (w *Worker) lease() time.Duration {
	if w.ClaimLease > 0 {
		return w.ClaimLease
	}
	return 2 * time.Minute
}

func (w *Worker) timeout() time.Duration {
	if w.DeliveryTimeout > 0 {
		return w.DeliveryTimeout
	}
	return 10 * time.Second
}

func (w *Worker) limit() int {
	if w.BatchLimit > 0 {
		return w.BatchLimit
	}
	return 25
}

func (w *Worker) templates() *TemplateSet {
	if w.Templates != nil {
		return w.Templates
	}
	return DefaultTemplates()
}

// Run polls until ctx is cancelled. In-flight deliveries finish; anything
// left claimed is swept back to QUEUED by the next run's stale release.
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := w.DeliverDue(ctx, w.limit()); err != nil {
				logrus.WithError(err).Warn("notification drain failed")
			}
		}
	}
}

// DeliverDue claims and delivers up to limit due notifications. Returns how
// many were delivered successfully.
func (w *Worker) DeliverDue(ctx context.Context, limit int) (int, error) {
	now := w.now().UTC()

	if n, err := w.Store.ReleaseStale(ctx, now.Add(-w.lease())); err != nil {
		logrus.WithError(err).Warn("stale claim sweep failed")
	} else if n > 0 {
		logrus.WithField("count", n).Info("requeued stale in-flight notifications")
	}

	due, err := w.Store.SelectDue(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, n := range due {
		claimed, err := w.Store.Claim(ctx, n.ID, now)
		if err != nil {
			return sent, err
		}
		if !claimed {
			continue // another worker won the record
		}
		if w.deliver(ctx, n) {
			sent++
		}
	}
	return sent, nil
}

func (w *Worker) deliver(ctx context.Context, n *Notification) bool {
	log := logrus.WithFields(logrus.Fields{
		"notification_id": n.ID,
		"channel":         n.Channel,
		"template":        n.Template,
		"attempt":         n.Attempts + 1,
	})

	adapter, ok := w.Adapters[n.Channel]
	if !ok {
		w.fail(ctx, n, fmt.Errorf("no adapter for channel %s", n.Channel), log)
		return false
	}

	subject, body := w.templates().Render(n.Template, n.Payload)

	sendCtx, cancel := context.WithTimeout(ctx, w.timeout())
	ref, err := adapter.Send(sendCtx, n.To, subject, body)
	cancel()
	if err != nil {
		w.fail(ctx, n, err, log)
		return false
	}

	if err := w.Store.MarkSent(ctx, n.ID, w.now().UTC(), ref); err != nil {
		log.WithError(err).Error("mark sent failed")
		return false
	}
	log.WithField("provider_ref", ref).Info("notification delivered")
	return true
}

func (w *Worker) fail(ctx context.Context, n *Notification, cause error, log *logrus.Entry) {
	attempts := n.Attempts + 1

	if attempts >= MaxAttempts {
		if err := w.Store.MarkFailed(ctx, n.ID, attempts, cause.Error()); err != nil {
			log.WithError(err).Error("mark failed failed")
			return
		}
		log.WithError(cause).Error("notification dead-lettered")
		w.Events.Emit(events.EventNotifyDeadLetter, n.ID, events.NotifyDeadLetterPayload{
			NotificationID: n.ID,
			Channel:        string(n.Channel),
			Recipient:      n.To,
			Template:       n.Template,
			Attempts:       attempts,
			LastError:      cause.Error(),
		})
		return
	}

	next := w.now().UTC().Add(Backoff(attempts) + w.jitter())
	if err := w.Store.MarkRetry(ctx, n.ID, attempts, next, cause.Error()); err != nil {
		log.WithError(err).Error("mark retry failed")
		return
	}
	log.WithError(cause).WithField("next_attempt_at", next).Warn("delivery failed, will retry")
}
