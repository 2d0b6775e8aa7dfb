package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/eagleharbor/monitor/internal/pipeline"
)

// EventStore implements pipeline.EventStore on Postgres.
type EventStore struct {
	pool querier
}

// NewEventStore wraps a pool.
func NewEventStore(pool querier) *EventStore {
	return &EventStore{pool: pool}
}

// HasEvents reports whether articleID already owns events.
func (s *EventStore) HasEvents(ctx context.Context, articleID int64) (bool, error) {
	var has bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM events WHERE article_id = $1)`, articleID).Scan(&has)
	if err != nil {
		return false, fmt.Errorf("check events: %w", err)
	}
	return has, nil
}

// InsertEvents stores a batch for one article inside a transaction so a
// partial extraction never half-commits.
func (s *EventStore) InsertEvents(ctx context.Context, events []pipeline.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert events: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, ev := range events {
		if _, err := tx.Exec(ctx, `
INSERT INTO events (article_id, title, event_type, starts_at, ends_at, location, description, region_tag)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			ev.ArticleID, ev.Title, ev.EventType, ev.StartsAt, ev.EndsAt,
			ev.Location, ev.Description, ev.RegionTag,
		); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit insert events: %w", err)
	}
	return nil
}

// ListUpcoming returns non-cancelled events starting at or after from.
func (s *EventStore) ListUpcoming(ctx context.Context, from time.Time, limit int) ([]pipeline.Event, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, article_id, title, event_type, starts_at, ends_at, location, description, region_tag, is_cancelled
FROM events
WHERE NOT is_cancelled AND starts_at >= $1
ORDER BY starts_at
LIMIT $2`, from, limit)
	if err != nil {
		return nil, fmt.Errorf("list upcoming events: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Event
	for rows.Next() {
		var (
			ev        pipeline.Event
			eventType string
			region    *string
		)
		if err := rows.Scan(&ev.ID, &ev.ArticleID, &ev.Title, &eventType,
			&ev.StartsAt, &ev.EndsAt, &ev.Location, &ev.Description,
			&region, &ev.IsCancelled); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.EventType = pipeline.EventType(eventType)
		if region != nil {
			ev.RegionTag = pipeline.RegionTag(*region)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}
