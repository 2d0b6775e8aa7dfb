package classify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eagleharbor/monitor/internal/metrics"
	"github.com/eagleharbor/monitor/internal/pipeline"
)

const (
	defaultBatchSize        = 50
	defaultRetryFailedAfter = 6 * time.Hour
)

// Sweeper periodically drains the classification backlog: unclassified
// articles plus fallback-scored ones old enough to retry against the model.
type Sweeper struct {
	store            pipeline.ArticleStore
	classifier       pipeline.Classifier
	clock            pipeline.Clock
	logger           *zap.Logger
	batchSize        int
	retryFailedAfter time.Duration
}

// NewSweeper constructs a Sweeper. batchSize and retryFailedAfter fall back
// to defaults when zero.
func NewSweeper(
	store pipeline.ArticleStore,
	classifier pipeline.Classifier,
	clock pipeline.Clock,
	batchSize int,
	retryFailedAfter time.Duration,
	logger *zap.Logger,
) *Sweeper {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if retryFailedAfter <= 0 {
		retryFailedAfter = defaultRetryFailedAfter
	}
	return &Sweeper{
		store:            store,
		classifier:       classifier,
		clock:            clock,
		logger:           logger,
		batchSize:        batchSize,
		retryFailedAfter: retryFailedAfter,
	}
}

// Run classifies one batch. Per-article store failures are logged and
// skipped so one bad row cannot wedge the backlog; the sweep stops early
// only when ctx is done.
func (s *Sweeper) Run(ctx context.Context) (classified int, err error) {
	cutoff := s.clock.Now().Add(-s.retryFailedAfter)
	articles, err := s.store.ClaimUnclassified(ctx, s.batchSize, cutoff)
	if err != nil {
		return 0, fmt.Errorf("claim unclassified: %w", err)
	}

	for _, art := range articles {
		c, err := s.classifier.Classify(ctx, art.Title, art.Body)
		if err != nil {
			// Classify only errors when ctx is done.
			return classified, err
		}

		state := pipeline.StateClassified
		if c.Fallback {
			state = pipeline.StateClassificationFailed
		}
		if err := s.store.ApplyClassification(ctx, art.ID, c, state); err != nil {
			s.logger.Error("apply classification failed",
				zap.Int64("article_id", art.ID), zap.Error(err))
			continue
		}

		metrics.ObserveClassification(c.Fallback)
		classified++
		s.logger.Info("article classified",
			zap.Int64("article_id", art.ID),
			zap.String("state", string(state)),
			zap.Int("priority", c.PriorityScore),
			zap.String("category", string(c.Category)))
	}
	return classified, nil
}
