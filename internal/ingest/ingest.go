// Package ingest turns source candidates into stored articles, deduplicating
// on canonical URL.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/eagleharbor/monitor/internal/metrics"
	"github.com/eagleharbor/monitor/internal/pipeline"
)

// Ingester validates and stores candidate records. The store's conflict
// handling is the dedup authority; the seen-set only short-circuits repeats
// within a single run (listing pages frequently link the same post twice).
type Ingester struct {
	store  pipeline.ArticleStore
	logger *zap.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// New constructs an Ingester.
func New(store pipeline.ArticleStore, logger *zap.Logger) *Ingester {
	return &Ingester{
		store:  store,
		logger: logger,
		seen:   make(map[string]struct{}),
	}
}

// ResetRun clears the per-run seen-set. Call it at the start of each
// scheduled source pass.
func (i *Ingester) ResetRun() {
	i.mu.Lock()
	i.seen = make(map[string]struct{})
	i.mu.Unlock()
}

// Ingest stores one candidate. Dedup hits report AlreadyExists with no
// error; malformed candidates report Rejected with no error. Safe for
// concurrent use by multiple source adapters.
func (i *Ingester) Ingest(ctx context.Context, c pipeline.CandidateRecord) (pipeline.InsertResult, error) {
	if reason := validate(c); reason != "" {
		metrics.ObserveIngest(c.SourceName, string(pipeline.OutcomeRejected))
		return pipeline.InsertResult{Outcome: pipeline.OutcomeRejected, Reason: reason}, nil
	}

	canonical, err := pipeline.CanonicalURL(c.URL)
	if err != nil {
		metrics.ObserveIngest(c.SourceName, string(pipeline.OutcomeRejected))
		return pipeline.InsertResult{
			Outcome: pipeline.OutcomeRejected,
			Reason:  fmt.Sprintf("unparseable url: %v", err),
		}, nil
	}

	if i.markSeen(canonical) {
		metrics.ObserveIngest(c.SourceName, string(pipeline.OutcomeAlreadyExists))
		return pipeline.InsertResult{Outcome: pipeline.OutcomeAlreadyExists}, nil
	}

	id, inserted, err := i.store.InsertCandidate(ctx, canonical, c)
	if err != nil {
		// Leave the URL retryable within this run.
		i.unmarkSeen(canonical)
		return pipeline.InsertResult{}, fmt.Errorf("insert candidate: %w", err)
	}
	if !inserted {
		metrics.ObserveIngest(c.SourceName, string(pipeline.OutcomeAlreadyExists))
		return pipeline.InsertResult{Outcome: pipeline.OutcomeAlreadyExists}, nil
	}

	metrics.ObserveIngest(c.SourceName, string(pipeline.OutcomeInserted))
	i.logger.Info("article ingested",
		zap.Int64("article_id", id),
		zap.String("source", c.SourceName),
		zap.String("title", c.Title))
	return pipeline.InsertResult{Outcome: pipeline.OutcomeInserted, ArticleID: id}, nil
}

// IngestAll runs Ingest over a batch, counting outcomes. Store errors abort
// the batch; rejections do not.
func (i *Ingester) IngestAll(ctx context.Context, batch []pipeline.CandidateRecord) (inserted, skipped int, err error) {
	for _, c := range batch {
		res, err := i.Ingest(ctx, c)
		if err != nil {
			return inserted, skipped, err
		}
		if res.Outcome == pipeline.OutcomeInserted {
			inserted++
		} else {
			skipped++
		}
	}
	return inserted, skipped, nil
}

// markSeen records canonical in the run's seen-set, reporting whether it was
// already present.
func (i *Ingester) markSeen(canonical string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.seen[canonical]; ok {
		return true
	}
	i.seen[canonical] = struct{}{}
	return false
}

func (i *Ingester) unmarkSeen(canonical string) {
	i.mu.Lock()
	delete(i.seen, canonical)
	i.mu.Unlock()
}

func validate(c pipeline.CandidateRecord) string {
	if strings.TrimSpace(c.Title) == "" {
		return "empty title"
	}
	if strings.TrimSpace(c.URL) == "" {
		return "empty url"
	}
	return ""
}
