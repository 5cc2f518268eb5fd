package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueDedupsWithinWindow(t *testing.T) {
	store := newMemStore()
	q := NewQueue(store)

	first, err := q.Enqueue(context.Background(), ChannelEmail, "a@b.gr", TemplateOrderPlacedBuyer,
		map[string]any{"order_id": "o-1", "total": 12.5})
	require.NoError(t, err)

	second, err := q.Enqueue(context.Background(), ChannelEmail, "a@b.gr", TemplateOrderPlacedBuyer,
		map[string]any{"order_id": "o-1", "total": 12.5})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 0, second.Attempts)
}

func TestEnqueueDifferentPayloadIsNewRecord(t *testing.T) {
	store := newMemStore()
	q := NewQueue(store)

	first, err := q.Enqueue(context.Background(), ChannelEmail, "a@b.gr", TemplateOrderPlacedBuyer,
		map[string]any{"order_id": "o-1"})
	require.NoError(t, err)

	second, err := q.Enqueue(context.Background(), ChannelEmail, "a@b.gr", TemplateOrderPlacedBuyer,
		map[string]any{"order_id": "o-2"})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
}

func TestEnqueueAfterWindowIsNewRecord(t *testing.T) {
	store := newMemStore()
	q := NewQueue(store)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return base }

	first, err := q.Enqueue(context.Background(), ChannelSMS, "+3069", TemplateOrderPlacedSMS, nil)
	require.NoError(t, err)

	q.now = func() time.Time { return base.Add(DedupWindow + time.Second) }
	second, err := q.Enqueue(context.Background(), ChannelSMS, "+3069", TemplateOrderPlacedSMS, nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
}

func TestEnqueueDoesNotDedupAgainstSent(t *testing.T) {
	store := newMemStore()
	q := NewQueue(store)

	first, err := q.Enqueue(context.Background(), ChannelEmail, "a@b.gr", TemplateLowStock,
		map[string]any{"product_id": "p-1"})
	require.NoError(t, err)
	require.NoError(t, store.MarkSent(context.Background(), first.ID, time.Now(), "ref"))

	second, err := q.Enqueue(context.Background(), ChannelEmail, "a@b.gr", TemplateLowStock,
		map[string]any{"product_id": "p-1"})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
}

func TestDedupKeyStable(t *testing.T) {
	a := DedupKey(ChannelEmail, "x@y.gr", "tpl", []byte(`{"a":1}`))
	b := DedupKey(ChannelEmail, "x@y.gr", "tpl", []byte(`{"a":1}`))
	c := DedupKey(ChannelSMS, "x@y.gr", "tpl", []byte(`{"a":1}`))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestBackoffScheduleClamped(t *testing.T) {
	assert.Equal(t, time.Minute, Backoff(1))
	assert.Equal(t, 5*time.Minute, Backoff(2))
	assert.Equal(t, 720*time.Minute, Backoff(6))
	assert.Equal(t, 720*time.Minute, Backoff(99))
	assert.Equal(t, time.Minute, Backoff(0))
}

func TestTemplateRender(t *testing.T) {
	subject, body := DefaultTemplates().Render(TemplateLowStock,
		[]byte(`{"product_id":"p-7","name":"Olive Oil 1L","remaining":3,"threshold":5}`))
	assert.Equal(t, "Low stock: Olive Oil 1L", subject)
	assert.Contains(t, body, "down to 3 units")
	assert.Contains(t, body, "threshold 5")
}
