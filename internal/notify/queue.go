package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Queue struct {
	store Store
	now   func() time.Time
}

func NewQueue(store Store) *Queue {
	return &Queue{store: store, now: time.Now}
}

// Enqueue records a message for delivery. Calling it again with the same
// channel, recipient, template and payload inside the dedup window returns
// the already-queued record instead of creating a second one.
//
// Enqueue never depends on delivery: as long as the store is reachable it
// succeeds, and the worker takes it from there.
func (q *Queue) Enqueue(ctx context.Context, channel Channel, to, template string, payload any) (*Notification, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	now := q.now().UTC()
	key := DedupKey(channel, to, template, raw)

	existing, err := q.store.FindQueuedByDedup(ctx, key, now.Add(-DedupWindow))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	n := &Notification{
		ID:        uuid.NewString(),
		Channel:   channel,
		To:        to,
		Template:  template,
		Payload:   raw,
		Status:    StatusQueued,
		Attempts:  0,
		DedupKey:  key,
		CreatedAt: now,
	}
	if err := q.store.Insert(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(payload)
	}
}
