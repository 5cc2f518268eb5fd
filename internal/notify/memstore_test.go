package notify

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore is the in-memory Store used by the queue and worker tests. It
// mirrors the conditional-update semantics of the SQL implementation.
type memStore struct {
	mu   sync.Mutex
	rows map[string]*Notification
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]*Notification{}}
}

func (s *memStore) get(id string) *Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.rows[id]
	return &cp
}

func (s *memStore) Insert(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.rows[n.ID] = &cp
	return nil
}

func (s *memStore) FindQueuedByDedup(_ context.Context, key string, since time.Time) (*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var newest *Notification
	for _, n := range s.rows {
		if n.DedupKey != key || n.Status != StatusQueued || n.CreatedAt.Before(since) {
			continue
		}
		if newest == nil || n.CreatedAt.After(newest.CreatedAt) {
			newest = n
		}
	}
	if newest == nil {
		return nil, nil
	}
	cp := *newest
	return &cp, nil
}

func (s *memStore) SelectDue(_ context.Context, now time.Time, limit int) ([]*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*Notification
	for _, n := range s.rows {
		if n.Status != StatusQueued {
			continue
		}
		if n.Attempts != 0 && (n.NextAttemptAt == nil || n.NextAttemptAt.After(now)) {
			continue
		}
		cp := *n
		due = append(due, &cp)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *memStore) Claim(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[id]
	if !ok || n.Status != StatusQueued {
		return false, nil
	}
	n.Status = StatusSending
	t := at
	n.ClaimedAt = &t
	return true, nil
}

func (s *memStore) ReleaseStale(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.rows {
		if n.Status == StatusSending && n.ClaimedAt != nil && n.ClaimedAt.Before(cutoff) {
			n.Status = StatusQueued
			n.ClaimedAt = nil
			count++
		}
	}
	return count, nil
}

func (s *memStore) MarkSent(_ context.Context, id string, at time.Time, providerRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.rows[id]
	n.Status = StatusSent
	t := at
	n.SentAt = &t
	n.ProviderRef = providerRef
	n.NextAttemptAt = nil
	n.ClaimedAt = nil
	return nil
}

func (s *memStore) MarkRetry(_ context.Context, id string, attempts int, next time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.rows[id]
	n.Status = StatusQueued
	n.Attempts = attempts
	t := next
	n.NextAttemptAt = &t
	n.LastError = lastErr
	n.ClaimedAt = nil
	return nil
}

func (s *memStore) MarkFailed(_ context.Context, id string, attempts int, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.rows[id]
	n.Status = StatusFailed
	n.Attempts = attempts
	n.LastError = lastErr
	n.NextAttemptAt = nil
	n.ClaimedAt = nil
	return nil
}
