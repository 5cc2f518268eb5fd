package events

import (
	"time"

	"github.com/agromarket/fulfillment/internal/kafkax"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

// Sink is what Emitter needs from a producer; satisfied by kafkax.Producer.
type Sink interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Emitter wraps one topic's producer with the envelope conventions.
type Emitter struct {
	Sink    Sink
	Service string
}

func (e *Emitter) Emit(eventType, correlationID string, payload any) {
	if e == nil || e.Sink == nil {
		return
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      e.Service,
		CorrelationID: correlationID,
		Payload:       kafkax.MustMarshal(payload),
	}
	e.Sink.Publish(PartitionKey(correlationID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
