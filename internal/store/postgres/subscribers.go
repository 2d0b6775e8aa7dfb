package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/eagleharbor/monitor/internal/pipeline"
)

const subscriberColumns = `id, email, verified, verification_token,
	unsubscribe_token, subscribed_at, is_active`

// SubscriberStore implements pipeline.SubscriberStore on Postgres.
type SubscriberStore struct {
	pool querier
}

// NewSubscriberStore wraps a pool.
func NewSubscriberStore(pool querier) *SubscriberStore {
	return &SubscriberStore{pool: pool}
}

// Create inserts an unverified subscriber. The unique index on email turns
// a duplicate signup into ErrDuplicateEmail without a read-then-write race.
func (s *SubscriberStore) Create(ctx context.Context, email, verificationToken, unsubscribeToken string) (pipeline.Subscriber, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO subscribers (email, verification_token, unsubscribe_token)
VALUES ($1, $2, $3)
ON CONFLICT (email) DO NOTHING
RETURNING `+subscriberColumns,
		email, verificationToken, unsubscribeToken)

	sub, err := scanSubscriber(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Subscriber{}, pipeline.ErrDuplicateEmail
	}
	if err != nil {
		return pipeline.Subscriber{}, fmt.Errorf("create subscriber: %w", err)
	}
	return sub, nil
}

// GetByEmail loads one subscriber.
func (s *SubscriberStore) GetByEmail(ctx context.Context, email string) (pipeline.Subscriber, error) {
	row := s.pool.QueryRow(ctx, `
SELECT `+subscriberColumns+` FROM subscribers WHERE email = $1`, email)
	sub, err := scanSubscriber(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Subscriber{}, pipeline.ErrNotFound
	}
	if err != nil {
		return pipeline.Subscriber{}, fmt.Errorf("get subscriber: %w", err)
	}
	return sub, nil
}

// ConsumeVerificationToken flips verified and nulls the live token in one
// statement. The consumed token is retained in its own column purely so a
// replay can be told apart from a token that never existed.
func (s *SubscriberStore) ConsumeVerificationToken(ctx context.Context, token string) (pipeline.Subscriber, error) {
	row := s.pool.QueryRow(ctx, `
UPDATE subscribers
SET verified = TRUE,
    verification_token = NULL,
    consumed_verification_token = $1
WHERE verification_token = $1
RETURNING `+subscriberColumns, token)

	sub, err := scanSubscriber(row)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Subscriber{}, fmt.Errorf("consume verification token: %w", err)
	}

	var replay bool
	if err := s.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM subscribers WHERE consumed_verification_token = $1)`,
		token).Scan(&replay); err != nil {
		return pipeline.Subscriber{}, fmt.Errorf("check consumed token: %w", err)
	}
	if replay {
		return pipeline.Subscriber{}, pipeline.ErrAlreadyVerified
	}
	return pipeline.Subscriber{}, pipeline.ErrNotFound
}

// Deactivate flips is_active off via the permanent unsubscribe token. Rows
// are never deleted; the delivery history keys on them.
func (s *SubscriberStore) Deactivate(ctx context.Context, unsubscribeToken string) (pipeline.Subscriber, error) {
	row := s.pool.QueryRow(ctx, `
UPDATE subscribers
SET is_active = FALSE
WHERE unsubscribe_token = $1
RETURNING `+subscriberColumns, unsubscribeToken)

	sub, err := scanSubscriber(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Subscriber{}, pipeline.ErrNotFound
	}
	if err != nil {
		return pipeline.Subscriber{}, fmt.Errorf("deactivate subscriber: %w", err)
	}
	return sub, nil
}

// ListEligible returns every verified, active subscriber. This is the only
// recipient selection rule in the system.
func (s *SubscriberStore) ListEligible(ctx context.Context) ([]pipeline.Subscriber, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+subscriberColumns+`
FROM subscribers
WHERE verified AND is_active
ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list eligible subscribers: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}
	return out, nil
}

func scanSubscriber(row pgx.Row) (pipeline.Subscriber, error) {
	var sub pipeline.Subscriber
	err := row.Scan(&sub.ID, &sub.Email, &sub.Verified, &sub.VerificationToken,
		&sub.UnsubscribeToken, &sub.SubscribedAt, &sub.IsActive)
	return sub, err
}
