package postgres

import (
	"context"
	"fmt"

	"github.com/eagleharbor/monitor/internal/pipeline"
)

// AlertLog implements pipeline.AlertLog on Postgres. The alert_deliveries
// primary key (alert_class, article_id, email) is the at-most-once
// guarantee; alert_records is the human-readable audit trail on top.
type AlertLog struct {
	pool querier
}

// NewAlertLog wraps a pool.
func NewAlertLog(pool querier) *AlertLog {
	return &AlertLog{pool: pool}
}

// FilterUnsent returns the emails with no recorded delivery of articleID
// under class.
func (l *AlertLog) FilterUnsent(ctx context.Context, class pipeline.AlertClass, articleID int64, emails []string) ([]string, error) {
	if len(emails) == 0 {
		return nil, nil
	}
	rows, err := l.pool.Query(ctx, `
SELECT email FROM alert_deliveries
WHERE alert_class = $1 AND article_id = $2 AND email = ANY($3)`,
		class, articleID, emails)
	if err != nil {
		return nil, fmt.Errorf("load deliveries: %w", err)
	}
	defer rows.Close()

	sent := map[string]bool{}
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		sent[email] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}

	var unsent []string
	for _, e := range emails {
		if !sent[e] {
			unsent = append(unsent, e)
		}
	}
	return unsent, nil
}

// RecordSent appends an audit record and marks each covered triple
// delivered. Conflicting triples are ignored so re-recording is a no-op.
func (l *AlertLog) RecordSent(ctx context.Context, rec pipeline.AlertRecord) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin record sent: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
INSERT INTO alert_records (id, alert_class, subject, recipients, article_ids, sent_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.AlertClass, rec.Subject, rec.Recipients, rec.ArticleIDs, rec.SentAt,
	); err != nil {
		return fmt.Errorf("insert alert record: %w", err)
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO alert_deliveries (alert_class, article_id, email)
SELECT $1, a.article_id, e.email
FROM unnest($2::bigint[]) AS a(article_id)
CROSS JOIN unnest($3::text[]) AS e(email)
ON CONFLICT DO NOTHING`,
		rec.AlertClass, rec.ArticleIDs, rec.Recipients,
	); err != nil {
		return fmt.Errorf("insert deliveries: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit record sent: %w", err)
	}
	return nil
}
