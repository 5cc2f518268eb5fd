// opslog tails every fulfillment topic and writes the envelopes to the
// structured log, which is how operators watch the order flow in dev and
// staging without a Kafka UI.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/agromarket/fulfillment/internal/config"
	"github.com/agromarket/fulfillment/internal/events"
	"github.com/agromarket/fulfillment/internal/kafkax"
	"github.com/joho/godotenv"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topics := []string{
		events.TopicOrderPlaced,
		events.TopicStockRejected,
		events.TopicStockLow,
		events.TopicOrderCancelled,
		events.TopicNotifyDeadLetter,
	}
	group := getenv("OPSLOG_GROUP", "fulfillment-opslog")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, topics, 4)

	go func() {
		logrus.WithFields(logrus.Fields{"group": group, "topics": topics}).Info("opslog consumer started")
		if err := cons.Start(ctx, logEnvelope); err != nil {
			logrus.WithError(err).Error("consumer exit")
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logrus.Info("shutting down opslog...")
	cancel()
}

func logEnvelope(_ context.Context, m kafkago.Message) error {
	var env events.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		logrus.WithError(err).WithField("topic", m.Topic).Warn("undecodable message")
		return nil // commit anyway, a poison message must not wedge the tail
	}
	fields := logrus.Fields{
		"topic":          m.Topic,
		"event_type":     env.EventType,
		"event_id":       env.EventID,
		"producer":       env.Producer,
		"correlation_id": env.CorrelationID,
		"occurred_at":    env.OccurredAt,
		"payload":        string(env.Payload),
	}
	if env.EventType == events.EventOrderPlaced {
		if p, err := kafkax.UnwrapPayload[events.OrderPlacedPayload](env.Payload); err == nil {
			fields["buyer_email"] = p.BuyerEmail
			fields["total"] = p.Total
		}
	}
	logrus.WithFields(fields).Info("event")
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
