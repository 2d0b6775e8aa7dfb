// Package rss implements the news-feed source adapter.
package rss

import (
	"context"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/eagleharbor/monitor/internal/config"
	"github.com/eagleharbor/monitor/internal/pipeline"
	"github.com/eagleharbor/monitor/internal/source/fulltext"
)

const sourceName = "rss"

// Adapter walks a configured list of feeds. Each entry's link is
// dereferenced for full body text best-effort; when that fails the
// feed-provided summary is stored instead.
type Adapter struct {
	feeds     []config.RSSFeed
	parser    *gofeed.Parser
	keywords  *pipeline.KeywordMatcher
	extractor *fulltext.Extractor
	clock     pipeline.Clock
	logger    *zap.Logger
	cfg       config.RSSConfig
}

// New constructs the adapter. extractor may be nil to disable full-text
// dereferencing.
func New(
	keywords *pipeline.KeywordMatcher,
	extractor *fulltext.Extractor,
	clock pipeline.Clock,
	cfg config.RSSConfig,
	logger *zap.Logger,
) *Adapter {
	return &Adapter{
		feeds:     cfg.Feeds,
		parser:    gofeed.NewParser(),
		keywords:  keywords,
		extractor: extractor,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
	}
}

// Name identifies the adapter in logs, metrics, and stored articles.
func (a *Adapter) Name() string { return sourceName }

// Fetch parses every configured feed. A single feed failing is logged and
// skipped; the pass fails as a whole only when every feed fails.
func (a *Adapter) Fetch(ctx context.Context) ([]pipeline.CandidateRecord, error) {
	var records []pipeline.CandidateRecord
	failed := 0

	for _, feedCfg := range a.feeds {
		recs, err := a.fetchFeed(ctx, feedCfg)
		if err != nil {
			failed++
			a.logger.Warn("feed fetch failed",
				zap.String("feed", feedCfg.Name), zap.Error(err))
			continue
		}
		records = append(records, recs...)
	}

	if len(a.feeds) > 0 && failed == len(a.feeds) {
		return nil, fmt.Errorf("all %d feeds failed", failed)
	}
	return records, nil
}

func (a *Adapter) fetchFeed(ctx context.Context, feedCfg config.RSSFeed) ([]pipeline.CandidateRecord, error) {
	feedCtx := ctx
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		feedCtx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	feed, err := a.parser.ParseURLWithContext(feedCfg.URL, feedCtx)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	limit := a.cfg.MaxPerFeed
	if limit <= 0 || limit > len(feed.Items) {
		limit = len(feed.Items)
	}

	var records []pipeline.CandidateRecord
	for _, item := range feed.Items[:limit] {
		rec, ok := a.entryRecord(ctx, feedCfg.Name, item)
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (a *Adapter) entryRecord(ctx context.Context, feedName string, item *gofeed.Item) (pipeline.CandidateRecord, bool) {
	if item.Link == "" || item.Title == "" {
		return pipeline.CandidateRecord{}, false
	}

	summary := item.Description
	if summary == "" {
		summary = item.Content
	}
	if !a.keywords.Match(item.Title + " " + summary) {
		return pipeline.CandidateRecord{}, false
	}

	body := a.fullText(ctx, item.Link)
	if body == "" {
		body = fulltext.Clean(summary)
	}
	if body == "" {
		body = item.Title
	}

	return pipeline.CandidateRecord{
		SourceName:   feedName,
		URL:          item.Link,
		Title:        item.Title,
		Body:         body,
		PublishedAt:  publishedAt(item),
		DiscoveredAt: a.clock.Now(),
	}, true
}

func (a *Adapter) fullText(ctx context.Context, link string) string {
	if a.extractor == nil || !a.cfg.FetchFullText {
		return ""
	}
	text, err := a.extractor.Extract(ctx, link)
	if err != nil {
		a.logger.Debug("full-text fetch failed", zap.String("url", link), zap.Error(err))
		return ""
	}
	return text
}

// publishedAt prefers the parsed publish timestamp and falls back to the
// updated timestamp; feeds with unparseable dates yield nil.
func publishedAt(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed
	}
	return item.UpdatedParsed
}
