// Package notify decides who hears about what, and exactly once. Delivery
// dedup is scoped per (subscriber, article, alert class): an article alerted
// instantly can still appear in a digest, but never twice in either.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eagleharbor/monitor/internal/config"
	"github.com/eagleharbor/monitor/internal/metrics"
	"github.com/eagleharbor/monitor/internal/pipeline"
)

const (
	defaultBatchSize     = 50
	instantArticleLimit  = 20
	digestArticleLimit   = 15
	digestEventLimit     = 10
	upcomingEventsWindow = 30 * 24 * time.Hour
)

// Dispatcher runs the instant and digest sweeps.
type Dispatcher struct {
	articles    pipeline.ArticleStore
	subscribers pipeline.SubscriberStore
	events      pipeline.EventStore
	alerts      pipeline.AlertLog
	mailer      pipeline.Mailer
	clock       pipeline.Clock
	logger      *zap.Logger

	appURL        string
	batchSize     int
	threshold     int
	lookback      time.Duration
	digestWeekday time.Weekday
	digestWindow  time.Duration
}

// NewDispatcher wires up a Dispatcher from configuration. The digest weekday
// must already be validated by config.Load.
func NewDispatcher(
	articles pipeline.ArticleStore,
	subscribers pipeline.SubscriberStore,
	events pipeline.EventStore,
	alerts pipeline.AlertLog,
	mailer pipeline.Mailer,
	clock pipeline.Clock,
	dcfg config.DispatchConfig,
	mcfg config.MailerConfig,
	logger *zap.Logger,
) (*Dispatcher, error) {
	weekday, err := dcfg.Weekday()
	if err != nil {
		return nil, err
	}
	batch := mcfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &Dispatcher{
		articles:      articles,
		subscribers:   subscribers,
		events:        events,
		alerts:        alerts,
		mailer:        mailer,
		clock:         clock,
		logger:        logger,
		appURL:        mcfg.AppURL,
		batchSize:     batch,
		threshold:     dcfg.InstantPriorityThreshold,
		lookback:      dcfg.Lookback,
		digestWeekday: weekday,
		digestWindow:  dcfg.DigestLookback,
	}, nil
}

// RunInstant alerts every eligible subscriber about recent high-priority
// articles they have not been alerted about yet.
func (d *Dispatcher) RunInstant(ctx context.Context) (sent int, err error) {
	now := d.clock.Now()
	arts, err := d.articles.ListClassifiedSince(ctx, now.Add(-d.lookback), d.threshold, instantArticleLimit)
	if err != nil {
		return 0, fmt.Errorf("list alertable articles: %w", err)
	}
	if len(arts) == 0 {
		return 0, nil
	}

	subs, err := d.subscribers.ListEligible(ctx)
	if err != nil {
		return 0, fmt.Errorf("list eligible subscribers: %w", err)
	}
	if len(subs) == 0 {
		return 0, nil
	}
	byEmail := make(map[string]pipeline.Subscriber, len(subs))
	emails := make([]string, 0, len(subs))
	for _, s := range subs {
		byEmail[s.Email] = s
		emails = append(emails, s.Email)
	}

	for _, art := range arts {
		unsent, err := d.alerts.FilterUnsent(ctx, pipeline.AlertInstant, art.ID, emails)
		if err != nil {
			return sent, fmt.Errorf("filter unsent for article %d: %w", art.ID, err)
		}
		if len(unsent) == 0 {
			continue
		}

		n, err := d.sendArticle(ctx, art, unsent, byEmail)
		sent += n
		if err != nil {
			return sent, err
		}
	}
	return sent, nil
}

func (d *Dispatcher) sendArticle(
	ctx context.Context,
	art pipeline.Article,
	recipients []string,
	byEmail map[string]pipeline.Subscriber,
) (int, error) {
	sent := 0
	subject := instantSubject(art)

	for start := 0; start < len(recipients); start += d.batchSize {
		end := start + d.batchSize
		if end > len(recipients) {
			end = len(recipients)
		}

		var msgs []pipeline.Message
		for _, email := range recipients[start:end] {
			sub := byEmail[email]
			body, err := d.buildInstant(art, sub)
			if err != nil {
				d.logger.Error("instant message build failed",
					zap.String("recipient", email), zap.Error(err))
				continue
			}
			msgs = append(msgs, pipeline.Message{Recipient: email, Subject: subject, HTMLBody: body})
		}
		if len(msgs) == 0 {
			continue
		}

		delivered := successfulRecipients(d.mailer.SendBatch(ctx, msgs), pipeline.AlertInstant)
		if len(delivered) == 0 {
			continue
		}
		rec := pipeline.AlertRecord{
			ID:         uuid.New(),
			AlertClass: pipeline.AlertInstant,
			Subject:    subject,
			Recipients: delivered,
			ArticleIDs: []int64{art.ID},
			SentAt:     d.clock.Now(),
		}
		if err := d.alerts.RecordSent(ctx, rec); err != nil {
			return sent, fmt.Errorf("record instant alert: %w", err)
		}
		sent += len(delivered)
	}

	if sent > 0 {
		d.logger.Info("instant alert dispatched",
			zap.Int64("article_id", art.ID),
			zap.Int("recipients", sent))
	}
	return sent, nil
}

// RunDigest sends the weekly roundup. Outside the configured weekday it is
// a no-op, so the scheduler can call it hourly without special casing.
func (d *Dispatcher) RunDigest(ctx context.Context) (sent int, err error) {
	now := d.clock.Now()
	if now.Weekday() != d.digestWeekday {
		return 0, nil
	}

	arts, err := d.articles.ListClassifiedSince(ctx, now.Add(-d.digestWindow), 0, digestArticleLimit)
	if err != nil {
		return 0, fmt.Errorf("list digest articles: %w", err)
	}
	if len(arts) == 0 {
		return 0, nil
	}

	evs, err := d.events.ListUpcoming(ctx, now, digestEventLimit)
	if err != nil {
		// A broken calendar should not block the digest.
		d.logger.Warn("upcoming events unavailable for digest", zap.Error(err))
		evs = nil
	}

	subs, err := d.subscribers.ListEligible(ctx)
	if err != nil {
		return 0, fmt.Errorf("list eligible subscribers: %w", err)
	}

	// Each subscriber gets only the articles not yet delivered to them
	// under the digest class. Subscribers with identical unsent sets share
	// one rendered digest and one alert record, so recording stays exact.
	groups, err := d.digestGroups(ctx, arts, subs)
	if err != nil {
		return 0, err
	}

	subject := digestSubject(now)
	for _, group := range groups {
		articleIDs := make([]int64, 0, len(group.articles))
		for _, art := range group.articles {
			articleIDs = append(articleIDs, art.ID)
		}

		for start := 0; start < len(group.subs); start += d.batchSize {
			end := start + d.batchSize
			if end > len(group.subs) {
				end = len(group.subs)
			}

			var msgs []pipeline.Message
			for _, sub := range group.subs[start:end] {
				body, err := d.buildDigest(group.articles, evs, sub)
				if err != nil {
					d.logger.Error("digest build failed",
						zap.String("recipient", sub.Email), zap.Error(err))
					continue
				}
				msgs = append(msgs, pipeline.Message{Recipient: sub.Email, Subject: subject, HTMLBody: body})
			}
			if len(msgs) == 0 {
				continue
			}

			delivered := successfulRecipients(d.mailer.SendBatch(ctx, msgs), pipeline.AlertDigest)
			if len(delivered) == 0 {
				continue
			}
			rec := pipeline.AlertRecord{
				ID:         uuid.New(),
				AlertClass: pipeline.AlertDigest,
				Subject:    subject,
				Recipients: delivered,
				ArticleIDs: articleIDs,
				SentAt:     d.clock.Now(),
			}
			if err := d.alerts.RecordSent(ctx, rec); err != nil {
				return sent, fmt.Errorf("record digest: %w", err)
			}
			sent += len(delivered)
		}
	}

	if sent > 0 {
		d.logger.Info("weekly digest dispatched",
			zap.Int("recipients", sent), zap.Int("articles", len(arts)))
	}
	return sent, nil
}

// digestGroup is one distinct unsent article set and the subscribers who
// should receive exactly it.
type digestGroup struct {
	articles []pipeline.Article
	subs     []pipeline.Subscriber
}

// digestGroups resolves the per-(subscriber, article) delivery check and
// buckets subscribers by their unsent set. Subscribers already covered for
// every article in the window get no group at all.
func (d *Dispatcher) digestGroups(
	ctx context.Context,
	arts []pipeline.Article,
	subs []pipeline.Subscriber,
) ([]*digestGroup, error) {
	emails := make([]string, 0, len(subs))
	for _, s := range subs {
		emails = append(emails, s.Email)
	}

	unsentByEmail := map[string][]pipeline.Article{}
	for _, art := range arts {
		unsent, err := d.alerts.FilterUnsent(ctx, pipeline.AlertDigest, art.ID, emails)
		if err != nil {
			return nil, fmt.Errorf("filter digest unsent: %w", err)
		}
		for _, email := range unsent {
			unsentByEmail[email] = append(unsentByEmail[email], art)
		}
	}

	var (
		groups []*digestGroup
		byKey  = map[string]*digestGroup{}
	)
	for _, s := range subs {
		pending := unsentByEmail[s.Email]
		if len(pending) == 0 {
			continue
		}
		key := articleSetKey(pending)
		g, ok := byKey[key]
		if !ok {
			g = &digestGroup{articles: pending}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.subs = append(g.subs, s)
	}
	return groups, nil
}

// articleSetKey identifies an unsent set. Article order within a set is
// stable because every set is built by the same pass over arts.
func articleSetKey(arts []pipeline.Article) string {
	var sb strings.Builder
	for _, art := range arts {
		fmt.Fprintf(&sb, "%d,", art.ID)
	}
	return sb.String()
}

func (d *Dispatcher) buildInstant(art pipeline.Article, sub pipeline.Subscriber) (string, error) {
	if sub.UnsubscribeToken == "" {
		return "", fmt.Errorf("subscriber %d has no unsubscribe token", sub.ID)
	}
	return renderInstant(d.appURL, sub.UnsubscribeToken, art)
}

func (d *Dispatcher) buildDigest(arts []pipeline.Article, evs []pipeline.Event, sub pipeline.Subscriber) (string, error) {
	if sub.UnsubscribeToken == "" {
		return "", fmt.Errorf("subscriber %d has no unsubscribe token", sub.ID)
	}
	return renderDigest(d.appURL, sub.UnsubscribeToken, arts, evs)
}

func successfulRecipients(results []pipeline.SendResult, class pipeline.AlertClass) []string {
	var ok []string
	for _, r := range results {
		metrics.ObserveAlertEmail(string(class), r.Err == nil)
		if r.Err == nil {
			ok = append(ok, r.Recipient)
		}
	}
	return ok
}
