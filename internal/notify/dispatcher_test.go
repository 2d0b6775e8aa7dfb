package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eagleharbor/monitor/internal/config"
	"github.com/eagleharbor/monitor/internal/pipeline"
)

// friday is a fixed Friday for digest tests.
var friday = time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

type fakeArticles struct {
	pipeline.ArticleStore

	classified []pipeline.Article
	gotMin     int
}

func (f *fakeArticles) ListClassifiedSince(_ context.Context, _ time.Time, minPriority, _ int) ([]pipeline.Article, error) {
	f.gotMin = minPriority
	return f.classified, nil
}

type fakeSubscribers struct {
	pipeline.SubscriberStore

	eligible []pipeline.Subscriber
}

func (f *fakeSubscribers) ListEligible(_ context.Context) ([]pipeline.Subscriber, error) {
	return f.eligible, nil
}

type fakeEvents struct {
	pipeline.EventStore

	upcoming []pipeline.Event
}

func (f *fakeEvents) ListUpcoming(_ context.Context, _ time.Time, _ int) ([]pipeline.Event, error) {
	return f.upcoming, nil
}

// memAlertLog mirrors the store's conflict semantics: a delivered triple
// is never considered unsent again.
type memAlertLog struct {
	mu        sync.Mutex
	delivered map[string]bool
	records   []pipeline.AlertRecord
}

func newMemAlertLog() *memAlertLog {
	return &memAlertLog{delivered: map[string]bool{}}
}

func tripleKey(class pipeline.AlertClass, articleID int64, email string) string {
	return fmt.Sprintf("%s|%d|%s", class, articleID, email)
}

func (l *memAlertLog) FilterUnsent(_ context.Context, class pipeline.AlertClass, articleID int64, emails []string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range emails {
		if !l.delivered[tripleKey(class, articleID, e)] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *memAlertLog) RecordSent(_ context.Context, rec pipeline.AlertRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	// Re-recording a delivered triple is a no-op, matching the store's
	// ON CONFLICT DO NOTHING behavior.
	var kept []string
	for _, e := range rec.Recipients {
		fresh := false
		for _, id := range rec.ArticleIDs {
			key := tripleKey(rec.AlertClass, id, e)
			if !l.delivered[key] {
				l.delivered[key] = true
				fresh = true
			}
		}
		if fresh {
			kept = append(kept, e)
		}
	}
	if len(kept) > 0 {
		rec.Recipients = kept
		l.records = append(l.records, rec)
	}
	return nil
}

type recordingMailer struct {
	mu     sync.Mutex
	sent   []pipeline.Message
	failTo map[string]bool
}

func (m *recordingMailer) SendBatch(_ context.Context, msgs []pipeline.Message) []pipeline.SendResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	results := make([]pipeline.SendResult, 0, len(msgs))
	for _, msg := range msgs {
		if m.failTo[msg.Recipient] {
			results = append(results, pipeline.SendResult{Recipient: msg.Recipient, Err: errors.New("bounced")})
			continue
		}
		m.sent = append(m.sent, msg)
		results = append(results, pipeline.SendResult{Recipient: msg.Recipient})
	}
	return results
}

func intp(n int) *int { return &n }

func highPriorityArticle(id int64) pipeline.Article {
	return pipeline.Article{
		ID:            id,
		Title:         fmt.Sprintf("Council vote %d", id),
		CanonicalURL:  fmt.Sprintf("https://example.com/story-%d", id),
		Summary:       "The council voted.",
		Category:      pipeline.CategoryLegislation,
		PriorityScore: intp(9),
	}
}

func subscriber(id int64, email string) pipeline.Subscriber {
	return pipeline.Subscriber{
		ID:               id,
		Email:            email,
		Verified:         true,
		IsActive:         true,
		UnsubscribeToken: fmt.Sprintf("unsub-%d", id),
	}
}

func newDispatcher(t *testing.T, arts *fakeArticles, subs *fakeSubscribers, evs *fakeEvents, log *memAlertLog, m *recordingMailer, at time.Time) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(arts, subs, evs, log, m, fixedClock{at: at},
		config.DispatchConfig{
			InstantPriorityThreshold: 8,
			Lookback:                 24 * time.Hour,
			DigestWeekday:            "Friday",
			DigestLookback:           7 * 24 * time.Hour,
		},
		config.MailerConfig{AppURL: "https://monitor.example.org", BatchSize: 2},
		zap.NewNop())
	require.NoError(t, err)
	return d
}

func TestRunInstantSendsOncePerTriple(t *testing.T) {
	t.Parallel()

	arts := &fakeArticles{classified: []pipeline.Article{highPriorityArticle(1)}}
	subs := &fakeSubscribers{eligible: []pipeline.Subscriber{
		subscriber(1, "a@example.com"), subscriber(2, "b@example.com"),
	}}
	log := newMemAlertLog()
	mailer := &recordingMailer{}
	d := newDispatcher(t, arts, subs, &fakeEvents{}, log, mailer, friday)

	sent, err := d.RunInstant(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, 8, arts.gotMin)

	// Each message carries the recipient's own unsubscribe link.
	require.Len(t, mailer.sent, 2)
	assert.Contains(t, mailer.sent[0].HTMLBody, "/unsubscribe/unsub-1")
	assert.Contains(t, mailer.sent[1].HTMLBody, "/unsubscribe/unsub-2")

	// A second sweep over the same article sends nothing.
	sent, err = d.RunInstant(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Len(t, mailer.sent, 2)
}

func TestRunInstantRecordsOnlySuccessfulRecipients(t *testing.T) {
	t.Parallel()

	arts := &fakeArticles{classified: []pipeline.Article{highPriorityArticle(1)}}
	subs := &fakeSubscribers{eligible: []pipeline.Subscriber{
		subscriber(1, "ok@example.com"), subscriber(2, "bounce@example.com"),
	}}
	log := newMemAlertLog()
	mailer := &recordingMailer{failTo: map[string]bool{"bounce@example.com": true}}
	d := newDispatcher(t, arts, subs, &fakeEvents{}, log, mailer, friday)

	sent, err := d.RunInstant(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	// The bounced address stays unsent and is retried next sweep.
	mailer.failTo = nil
	sent, err = d.RunInstant(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.True(t, log.delivered[tripleKey(pipeline.AlertInstant, 1, "bounce@example.com")])
}

func TestRunInstantConcurrentSweepsNoDuplicates(t *testing.T) {
	t.Parallel()

	var emails []pipeline.Subscriber
	for i := 1; i <= 7; i++ {
		emails = append(emails, subscriber(int64(i), fmt.Sprintf("s%d@example.com", i)))
	}
	arts := &fakeArticles{classified: []pipeline.Article{highPriorityArticle(1), highPriorityArticle(2)}}
	subs := &fakeSubscribers{eligible: emails}
	log := newMemAlertLog()
	mailer := &recordingMailer{}
	d := newDispatcher(t, arts, subs, &fakeEvents{}, log, mailer, friday)

	var wg sync.WaitGroup
	for range [4]struct{}{} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.RunInstant(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Every (article, recipient) pair at most once across all sweeps.
	seen := map[string]int{}
	for _, rec := range log.records {
		for _, id := range rec.ArticleIDs {
			for _, e := range rec.Recipients {
				seen[tripleKey(rec.AlertClass, id, e)]++
			}
		}
	}
	for key, n := range seen {
		assert.Equal(t, 1, n, key)
	}
	assert.Len(t, seen, 14)
}

func TestRunDigestOnlyOnConfiguredWeekday(t *testing.T) {
	t.Parallel()

	arts := &fakeArticles{classified: []pipeline.Article{highPriorityArticle(1)}}
	subs := &fakeSubscribers{eligible: []pipeline.Subscriber{subscriber(1, "a@example.com")}}
	mailer := &recordingMailer{}
	thursday := friday.Add(-24 * time.Hour)
	d := newDispatcher(t, arts, subs, &fakeEvents{}, newMemAlertLog(), mailer, thursday)

	sent, err := d.RunDigest(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, mailer.sent)
}

func TestRunDigestSendsOncePerWeek(t *testing.T) {
	t.Parallel()

	arts := &fakeArticles{classified: []pipeline.Article{highPriorityArticle(1), highPriorityArticle(2)}}
	subs := &fakeSubscribers{eligible: []pipeline.Subscriber{
		subscriber(1, "a@example.com"), subscriber(2, "b@example.com"),
	}}
	evs := &fakeEvents{upcoming: []pipeline.Event{{
		Title:    "Site plan hearing",
		StartsAt: friday.Add(72 * time.Hour),
		Location: "County Admin Building",
	}}}
	log := newMemAlertLog()
	mailer := &recordingMailer{}
	d := newDispatcher(t, arts, subs, evs, log, mailer, friday)

	sent, err := d.RunDigest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Zero(t, arts.gotMin, "digest considers all classified articles")

	require.NotEmpty(t, mailer.sent)
	assert.Contains(t, mailer.sent[0].HTMLBody, "Site plan hearing")
	assert.Contains(t, mailer.sent[0].HTMLBody, "Council vote 1")
	assert.Contains(t, mailer.sent[0].Subject, "Weekly Data Center Digest")

	// Re-running the same day sends nothing new.
	sent, err = d.RunDigest(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestRunDigestDeliversOnlyUnsentArticles(t *testing.T) {
	t.Parallel()

	arts := &fakeArticles{classified: []pipeline.Article{highPriorityArticle(1)}}
	subs := &fakeSubscribers{eligible: []pipeline.Subscriber{subscriber(1, "a@example.com")}}
	log := newMemAlertLog()
	mailer := &recordingMailer{}
	d := newDispatcher(t, arts, subs, &fakeEvents{}, log, mailer, friday)

	sent, err := d.RunDigest(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sent)

	// A new article lands later the same day. The follow-up digest covers
	// only it; the article already delivered must not be repeated.
	arts.classified = []pipeline.Article{highPriorityArticle(1), highPriorityArticle(2)}
	sent, err = d.RunDigest(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sent)

	require.Len(t, mailer.sent, 2)
	followUp := mailer.sent[1].HTMLBody
	assert.Contains(t, followUp, "Council vote 2")
	assert.NotContains(t, followUp, "Council vote 1")

	require.Len(t, log.records, 2)
	assert.Equal(t, []int64{1}, log.records[0].ArticleIDs)
	assert.Equal(t, []int64{2}, log.records[1].ArticleIDs)
}

func TestRunDigestGroupsBySubscriberBacklog(t *testing.T) {
	t.Parallel()

	arts := &fakeArticles{classified: []pipeline.Article{highPriorityArticle(1)}}
	subs := &fakeSubscribers{eligible: []pipeline.Subscriber{subscriber(1, "early@example.com")}}
	log := newMemAlertLog()
	mailer := &recordingMailer{}
	d := newDispatcher(t, arts, subs, &fakeEvents{}, log, mailer, friday)

	_, err := d.RunDigest(context.Background())
	require.NoError(t, err)

	// A subscriber verified mid-day has seen nothing; the early subscriber
	// has already received article 1. Each gets exactly their backlog.
	arts.classified = []pipeline.Article{highPriorityArticle(1), highPriorityArticle(2)}
	subs.eligible = append(subs.eligible, subscriber(2, "late@example.com"))
	sent, err := d.RunDigest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	byRecipient := map[string]string{}
	for _, msg := range mailer.sent[1:] {
		byRecipient[msg.Recipient] = msg.HTMLBody
	}
	assert.NotContains(t, byRecipient["early@example.com"], "Council vote 1")
	assert.Contains(t, byRecipient["early@example.com"], "Council vote 2")
	assert.Contains(t, byRecipient["late@example.com"], "Council vote 1")
	assert.Contains(t, byRecipient["late@example.com"], "Council vote 2")
}

func TestDigestAndInstantAreIndependentClasses(t *testing.T) {
	t.Parallel()

	arts := &fakeArticles{classified: []pipeline.Article{highPriorityArticle(1)}}
	subs := &fakeSubscribers{eligible: []pipeline.Subscriber{subscriber(1, "a@example.com")}}
	log := newMemAlertLog()
	mailer := &recordingMailer{}
	d := newDispatcher(t, arts, subs, &fakeEvents{}, log, mailer, friday)

	_, err := d.RunInstant(context.Background())
	require.NoError(t, err)

	// The same article still goes out in the weekly digest.
	sent, err := d.RunDigest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
}

func TestDispatcherRejectsBadWeekday(t *testing.T) {
	t.Parallel()
	_, err := NewDispatcher(&fakeArticles{}, &fakeSubscribers{}, &fakeEvents{},
		newMemAlertLog(), &recordingMailer{}, fixedClock{at: friday},
		config.DispatchConfig{DigestWeekday: "Fredag"},
		config.MailerConfig{}, zap.NewNop())
	require.Error(t, err)
}
