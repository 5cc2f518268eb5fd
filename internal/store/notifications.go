package store

import (
	"context"
	"errors"
	"time"

	"github.com/agromarket/fulfillment/internal/notify"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Notifications implements notify.Store on Postgres. Claim and the marks are
// single conditional updates, so concurrent workers cannot double-deliver.
type Notifications struct{ DB *pgxpool.Pool }

const notificationColumns = `id, channel, recipient, template, payload, status, attempts,
	next_attempt_at, claimed_at, sent_at, COALESCE(provider_ref,''), COALESCE(last_error,''),
	dedup_key, created_at`

func (s *Notifications) Insert(ctx context.Context, n *notify.Notification) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO notifications(id, channel, recipient, template, payload, status,
		                          attempts, dedup_key, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		n.ID, string(n.Channel), n.To, n.Template, []byte(n.Payload), string(n.Status),
		n.Attempts, n.DedupKey, n.CreatedAt)
	return err
}

func (s *Notifications) FindQueuedByDedup(ctx context.Context, key string, since time.Time) (*notify.Notification, error) {
	n, err := s.scan(s.DB.QueryRow(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE dedup_key=$1 AND status='QUEUED' AND created_at >= $2
		ORDER BY created_at DESC LIMIT 1`, key, since))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return n, err
}

func (s *Notifications) SelectDue(ctx context.Context, now time.Time, limit int) ([]*notify.Notification, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE status='QUEUED' AND (attempts = 0 OR next_attempt_at <= $1)
		ORDER BY created_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*notify.Notification
	for rows.Next() {
		n, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Notifications) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE notifications SET status='SENDING', claimed_at=$2
		WHERE id=$1 AND status='QUEUED'`, id, at)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (s *Notifications) ReleaseStale(ctx context.Context, cutoff time.Time) (int, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE notifications SET status='QUEUED', claimed_at=NULL
		WHERE status='SENDING' AND claimed_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

func (s *Notifications) MarkSent(ctx context.Context, id string, at time.Time, providerRef string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE notifications
		SET status='SENT', sent_at=$2, provider_ref=NULLIF($3,''),
		    next_attempt_at=NULL, claimed_at=NULL
		WHERE id=$1`, id, at, providerRef)
	return err
}

func (s *Notifications) MarkRetry(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE notifications
		SET status='QUEUED', attempts=$2, next_attempt_at=$3, last_error=$4, claimed_at=NULL
		WHERE id=$1`, id, attempts, next, lastErr)
	return err
}

func (s *Notifications) MarkFailed(ctx context.Context, id string, attempts int, lastErr string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE notifications
		SET status='FAILED', attempts=$2, last_error=$3, next_attempt_at=NULL, claimed_at=NULL
		WHERE id=$1`, id, attempts, lastErr)
	return err
}

func (s *Notifications) scan(row pgx.Row) (*notify.Notification, error) {
	var n notify.Notification
	var channel, status string
	var payload []byte
	err := row.Scan(&n.ID, &channel, &n.To, &n.Template, &payload, &status, &n.Attempts,
		&n.NextAttemptAt, &n.ClaimedAt, &n.SentAt, &n.ProviderRef, &n.LastError,
		&n.DedupKey, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	n.Channel = notify.Channel(channel)
	n.Status = notify.Status(status)
	n.Payload = payload
	return &n, nil
}

var _ notify.Store = (*Notifications)(nil)
