// Package notify is the outbound notification queue: idempotent enqueue with
// a dedup window, and a polling worker that delivers through channel adapters
// with bounded, backed-off retries.
package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

type Channel string

const (
	ChannelSMS   Channel = "SMS"
	ChannelEmail Channel = "EMAIL"
)

type Status string

const (
	StatusQueued  Status = "QUEUED"
	StatusSending Status = "SENDING" // in-flight claim, internal
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

const (
	// MaxAttempts failures turn a record FAILED for good.
	MaxAttempts = 6

	// DedupWindow collapses identical enqueues into one QUEUED record.
	DedupWindow = 10 * time.Minute
)

type Notification struct {
	ID            string          `json:"id"`
	Channel       Channel         `json:"channel"`
	To            string          `json:"to"`
	Template      string          `json:"template"`
	Payload       json.RawMessage `json:"payload"`
	Status        Status          `json:"status"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt *time.Time      `json:"next_attempt_at,omitempty"`
	ClaimedAt     *time.Time      `json:"claimed_at,omitempty"`
	SentAt        *time.Time      `json:"sent_at,omitempty"`
	ProviderRef   string          `json:"provider_ref,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	DedupKey      string          `json:"dedup_key"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Store is the persistence contract for the queue and the worker. Claim must
// be a single conditional state flip so that, with several workers polling,
// at most one wins a given record.
type Store interface {
	Insert(ctx context.Context, n *Notification) error
	// FindQueuedByDedup returns the newest QUEUED record with this dedup key
	// created at or after since, or nil.
	FindQueuedByDedup(ctx context.Context, key string, since time.Time) (*Notification, error)
	// SelectDue returns up to limit QUEUED records that are due at now,
	// oldest first. Due means attempts=0 or next_attempt_at <= now.
	SelectDue(ctx context.Context, now time.Time, limit int) ([]*Notification, error)
	// Claim flips QUEUED->SENDING; false when another worker got there first.
	Claim(ctx context.Context, id string, at time.Time) (bool, error)
	// ReleaseStale returns SENDING records claimed before cutoff to QUEUED.
	ReleaseStale(ctx context.Context, cutoff time.Time) (int, error)
	MarkSent(ctx context.Context, id string, at time.Time, providerRef string) error
	MarkRetry(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id string, attempts int, lastErr string) error
}

// Adapter delivers one rendered message over one channel.
type Adapter interface {
	Send(ctx context.Context, to, subject, body string) (providerRef string, err error)
}

// DedupKey fingerprints an enqueue request.
func DedupKey(channel Channel, to, template string, payload []byte) string {
	h := sha256.New()
	for _, part := range [][]byte{[]byte(channel), []byte(to), []byte(template), payload} {
		h.Write(part)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
