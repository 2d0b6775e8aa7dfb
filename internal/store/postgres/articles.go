package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/eagleharbor/monitor/internal/pipeline"
)

const articleColumns = `id, title, canonical_url, summary, body, source_name,
	published_at, discovered_at, state, priority_score, relevance_score,
	category, region_tag, event_at, is_active`

// ArticleStore implements pipeline.ArticleStore on Postgres.
type ArticleStore struct {
	pool querier
}

// NewArticleStore wraps a pool.
func NewArticleStore(pool querier) *ArticleStore {
	return &ArticleStore{pool: pool}
}

// InsertCandidate inserts a new unclassified article. The unique index on
// canonical_url makes the dedup check atomic with the insert; conflicting
// rows report inserted=false with no error.
func (s *ArticleStore) InsertCandidate(ctx context.Context, canonicalURL string, c pipeline.CandidateRecord) (int64, bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO articles (title, canonical_url, body, source_name, published_at, discovered_at, state)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (canonical_url) DO NOTHING
RETURNING id`,
		c.Title, canonicalURL, c.Body, c.SourceName, c.PublishedAt,
		c.DiscoveredAt, pipeline.StateUnclassified,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("insert article: %w", err)
	}
	return id, true, nil
}

// ClaimUnclassified selects the classification backlog: unclassified rows,
// plus fallback-scored rows whose last attempt is older than
// retryFailedBefore.
func (s *ArticleStore) ClaimUnclassified(ctx context.Context, limit int, retryFailedBefore time.Time) ([]pipeline.Article, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+articleColumns+`
FROM articles
WHERE state = $1
   OR (state = $2 AND classified_at < $3)
ORDER BY discovered_at
LIMIT $4`,
		pipeline.StateUnclassified, pipeline.StateClassificationFailed,
		retryFailedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("claim unclassified: %w", err)
	}
	return scanArticles(rows)
}

// ApplyClassification persists the classifier result. Rows already in the
// classified state are guarded by the WHERE clause and silently skipped, so
// a delayed fallback sweep can never clobber a real model result.
func (s *ArticleStore) ApplyClassification(ctx context.Context, articleID int64, c pipeline.Classification, state pipeline.ClassificationState) error {
	_, err := s.pool.Exec(ctx, `
UPDATE articles
SET state = $2,
    priority_score = $3,
    relevance_score = $4,
    category = $5,
    region_tag = $6,
    summary = $7,
    classified_at = now()
WHERE id = $1 AND state <> $8`,
		articleID, state, c.PriorityScore, c.RelevanceScore, c.Category,
		c.RegionTag, c.Summary, pipeline.StateClassified)
	if err != nil {
		return fmt.Errorf("apply classification: %w", err)
	}
	return nil
}

// SetEventAt back-fills the first extracted event date. Later extractions
// never move it.
func (s *ArticleStore) SetEventAt(ctx context.Context, articleID int64, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
UPDATE articles SET event_at = $2 WHERE id = $1 AND event_at IS NULL`,
		articleID, at)
	if err != nil {
		return fmt.Errorf("set event date: %w", err)
	}
	return nil
}

// ListClassifiedSince returns scored articles discovered after since with
// priority at or above minPriority, newest first. Fallback-scored rows
// count; a degraded classifier still produces alertable priorities.
func (s *ArticleStore) ListClassifiedSince(ctx context.Context, since time.Time, minPriority, limit int) ([]pipeline.Article, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+articleColumns+`
FROM articles
WHERE state IN ($1, $2)
  AND is_active
  AND discovered_at >= $3
  AND priority_score >= $4
ORDER BY discovered_at DESC
LIMIT $5`,
		pipeline.StateClassified, pipeline.StateClassificationFailed,
		since, minPriority, limit)
	if err != nil {
		return nil, fmt.Errorf("list classified: %w", err)
	}
	return scanArticles(rows)
}

// ListForEventExtraction returns classified articles in schedule-bearing
// categories, oldest first so the backlog drains in arrival order.
func (s *ArticleStore) ListForEventExtraction(ctx context.Context, categories []pipeline.Category, limit int) ([]pipeline.Article, error) {
	cats := make([]string, 0, len(categories))
	for _, c := range categories {
		cats = append(cats, string(c))
	}
	rows, err := s.pool.Query(ctx, `
SELECT `+articleColumns+`
FROM articles
WHERE state = $1
  AND is_active
  AND category = ANY($2)
ORDER BY discovered_at
LIMIT $3`,
		pipeline.StateClassified, cats, limit)
	if err != nil {
		return nil, fmt.Errorf("list for extraction: %w", err)
	}
	return scanArticles(rows)
}

// ListRecent pages active articles for the read API. An empty category
// matches everything.
func (s *ArticleStore) ListRecent(ctx context.Context, category pipeline.Category, limit, offset int) ([]pipeline.Article, int, error) {
	var total int
	err := s.pool.QueryRow(ctx, `
SELECT count(*) FROM articles
WHERE is_active AND ($1 = '' OR category = $1)`,
		string(category)).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count articles: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
SELECT `+articleColumns+`
FROM articles
WHERE is_active AND ($1 = '' OR category = $1)
ORDER BY discovered_at DESC
LIMIT $2 OFFSET $3`,
		string(category), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list recent: %w", err)
	}
	arts, err := scanArticles(rows)
	if err != nil {
		return nil, 0, err
	}
	return arts, total, nil
}

func scanArticles(rows pgx.Rows) ([]pipeline.Article, error) {
	defer rows.Close()
	var out []pipeline.Article
	for rows.Next() {
		var (
			a        pipeline.Article
			state    string
			category *string
			region   *string
		)
		if err := rows.Scan(
			&a.ID, &a.Title, &a.CanonicalURL, &a.Summary, &a.Body,
			&a.SourceName, &a.PublishedAt, &a.DiscoveredAt, &state,
			&a.PriorityScore, &a.RelevanceScore, &category, &region,
			&a.EventAt, &a.IsActive,
		); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		a.State = pipeline.ClassificationState(state)
		if category != nil {
			a.Category = pipeline.Category(*category)
		}
		if region != nil {
			a.RegionTag = pipeline.RegionTag(*region)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}
	return out, nil
}
