// Package memory provides in-process store implementations with the same
// conflict semantics as the Postgres layer. They back development mode and
// the pipeline's integration-style tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eagleharbor/monitor/internal/pipeline"
)

// ArticleStore implements pipeline.ArticleStore in memory.
type ArticleStore struct {
	mu           sync.Mutex
	nextID       int64
	byID         map[int64]*pipeline.Article
	byURL        map[string]int64
	classifiedAt map[int64]time.Time
}

// NewArticleStore builds an empty store.
func NewArticleStore() *ArticleStore {
	return &ArticleStore{
		byID:         map[int64]*pipeline.Article{},
		byURL:        map[string]int64{},
		classifiedAt: map[int64]time.Time{},
	}
}

// InsertCandidate mirrors INSERT ... ON CONFLICT (canonical_url) DO NOTHING.
func (s *ArticleStore) InsertCandidate(_ context.Context, canonicalURL string, c pipeline.CandidateRecord) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byURL[canonicalURL]; ok {
		return id, false, nil
	}
	s.nextID++
	art := &pipeline.Article{
		ID:           s.nextID,
		Title:        c.Title,
		CanonicalURL: canonicalURL,
		Body:         c.Body,
		SourceName:   c.SourceName,
		PublishedAt:  c.PublishedAt,
		DiscoveredAt: c.DiscoveredAt,
		State:        pipeline.StateUnclassified,
		IsActive:     true,
	}
	s.byID[art.ID] = art
	s.byURL[canonicalURL] = art.ID
	return art.ID, true, nil
}

// ClaimUnclassified returns the classification backlog oldest-first.
func (s *ArticleStore) ClaimUnclassified(_ context.Context, limit int, retryFailedBefore time.Time) ([]pipeline.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []pipeline.Article
	for _, art := range s.sortedByDiscovery(false) {
		switch art.State {
		case pipeline.StateUnclassified:
		case pipeline.StateClassificationFailed:
			if !s.classifiedAt[art.ID].Before(retryFailedBefore) {
				continue
			}
		default:
			continue
		}
		out = append(out, *art)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// ApplyClassification records the result unless the row is already
// classified.
func (s *ArticleStore) ApplyClassification(_ context.Context, articleID int64, c pipeline.Classification, state pipeline.ClassificationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	art, ok := s.byID[articleID]
	if !ok {
		return fmt.Errorf("article %d: %w", articleID, pipeline.ErrNotFound)
	}
	if art.State == pipeline.StateClassified {
		return nil
	}
	art.State = state
	art.PriorityScore = &c.PriorityScore
	art.RelevanceScore = &c.RelevanceScore
	art.Category = c.Category
	art.RegionTag = c.RegionTag
	art.Summary = c.Summary
	s.classifiedAt[articleID] = time.Now()
	return nil
}

// SetEventAt keeps only the first write.
func (s *ArticleStore) SetEventAt(_ context.Context, articleID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	art, ok := s.byID[articleID]
	if !ok {
		return fmt.Errorf("article %d: %w", articleID, pipeline.ErrNotFound)
	}
	if art.EventAt == nil {
		art.EventAt = &at
	}
	return nil
}

// ListClassifiedSince returns scored articles newest-first.
func (s *ArticleStore) ListClassifiedSince(_ context.Context, since time.Time, minPriority, limit int) ([]pipeline.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []pipeline.Article
	for _, art := range s.sortedByDiscovery(true) {
		if art.State != pipeline.StateClassified && art.State != pipeline.StateClassificationFailed {
			continue
		}
		if !art.IsActive || art.DiscoveredAt.Before(since) {
			continue
		}
		if art.PriorityScore == nil || *art.PriorityScore < minPriority {
			continue
		}
		out = append(out, *art)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// ListForEventExtraction returns classified schedule-bearing articles
// oldest-first.
func (s *ArticleStore) ListForEventExtraction(_ context.Context, categories []pipeline.Category, limit int) ([]pipeline.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[pipeline.Category]bool{}
	for _, c := range categories {
		want[c] = true
	}
	var out []pipeline.Article
	for _, art := range s.sortedByDiscovery(false) {
		if art.State != pipeline.StateClassified || !art.IsActive || !want[art.Category] {
			continue
		}
		out = append(out, *art)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// ListRecent pages active articles newest first.
func (s *ArticleStore) ListRecent(_ context.Context, category pipeline.Category, limit, offset int) ([]pipeline.Article, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []pipeline.Article
	for _, art := range s.sortedByDiscovery(true) {
		if !art.IsActive {
			continue
		}
		if category != "" && art.Category != category {
			continue
		}
		matched = append(matched, *art)
	}
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (s *ArticleStore) sortedByDiscovery(desc bool) []*pipeline.Article {
	arts := make([]*pipeline.Article, 0, len(s.byID))
	for _, a := range s.byID {
		arts = append(arts, a)
	}
	sort.Slice(arts, func(i, j int) bool {
		if desc {
			return arts[i].DiscoveredAt.After(arts[j].DiscoveredAt)
		}
		return arts[i].DiscoveredAt.Before(arts[j].DiscoveredAt)
	})
	return arts
}

// SubscriberStore implements pipeline.SubscriberStore in memory.
type SubscriberStore struct {
	mu       sync.Mutex
	nextID   int64
	byEmail  map[string]*pipeline.Subscriber
	consumed map[string]bool
}

// NewSubscriberStore builds an empty store.
func NewSubscriberStore() *SubscriberStore {
	return &SubscriberStore{
		byEmail:  map[string]*pipeline.Subscriber{},
		consumed: map[string]bool{},
	}
}

// Create mirrors the unique email constraint.
func (s *SubscriberStore) Create(_ context.Context, email, verificationToken, unsubscribeToken string) (pipeline.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return pipeline.Subscriber{}, pipeline.ErrDuplicateEmail
	}
	s.nextID++
	vt := verificationToken
	sub := &pipeline.Subscriber{
		ID:                s.nextID,
		Email:             email,
		VerificationToken: &vt,
		UnsubscribeToken:  unsubscribeToken,
		SubscribedAt:      time.Now(),
		IsActive:          true,
	}
	s.byEmail[email] = sub
	return *sub, nil
}

// GetByEmail loads one subscriber.
func (s *SubscriberStore) GetByEmail(_ context.Context, email string) (pipeline.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.byEmail[email]; ok {
		return *sub, nil
	}
	return pipeline.Subscriber{}, pipeline.ErrNotFound
}

// ConsumeVerificationToken is single-use; replays are detected via the
// consumed-token set.
func (s *SubscriberStore) ConsumeVerificationToken(_ context.Context, token string) (pipeline.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.byEmail {
		if sub.VerificationToken != nil && *sub.VerificationToken == token {
			sub.Verified = true
			sub.VerificationToken = nil
			s.consumed[token] = true
			return *sub, nil
		}
	}
	if s.consumed[token] {
		return pipeline.Subscriber{}, pipeline.ErrAlreadyVerified
	}
	return pipeline.Subscriber{}, pipeline.ErrNotFound
}

// Deactivate flips is_active off; the row stays.
func (s *SubscriberStore) Deactivate(_ context.Context, unsubscribeToken string) (pipeline.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.byEmail {
		if sub.UnsubscribeToken == unsubscribeToken {
			sub.IsActive = false
			return *sub, nil
		}
	}
	return pipeline.Subscriber{}, pipeline.ErrNotFound
}

// ListEligible returns verified, active subscribers ordered by id.
func (s *SubscriberStore) ListEligible(_ context.Context) ([]pipeline.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []pipeline.Subscriber
	for _, sub := range s.byEmail {
		if sub.Verified && sub.IsActive {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// EventStore implements pipeline.EventStore in memory.
type EventStore struct {
	mu     sync.Mutex
	nextID int64
	events []pipeline.Event
}

// NewEventStore builds it empty.
func NewEventStore() *EventStore {
	return &EventStore{}
}

// HasEvents reports whether any event references articleID.
func (s *EventStore) HasEvents(_ context.Context, articleID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.ArticleID == articleID {
			return true, nil
		}
	}
	return false, nil
}

// InsertEvents stores a batch.
func (s *EventStore) InsertEvents(_ context.Context, events []pipeline.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		s.nextID++
		ev.ID = s.nextID
		s.events = append(s.events, ev)
	}
	return nil
}

// ListUpcoming returns non-cancelled events starting at or after from.
func (s *EventStore) ListUpcoming(_ context.Context, from time.Time, limit int) ([]pipeline.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []pipeline.Event
	for _, ev := range s.events {
		if ev.IsCancelled || ev.StartsAt.Before(from) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AlertLog implements pipeline.AlertLog in memory with the same delivery
// dedup a unique constraint gives the Postgres layer.
type AlertLog struct {
	mu        sync.Mutex
	delivered map[string]bool
	records   []pipeline.AlertRecord
}

// NewAlertLog builds it empty.
func NewAlertLog() *AlertLog {
	return &AlertLog{delivered: map[string]bool{}}
}

func deliveryKey(class pipeline.AlertClass, articleID int64, email string) string {
	return strings.Join([]string{string(class), fmt.Sprint(articleID), email}, "|")
}

// FilterUnsent subtracts delivered triples.
func (l *AlertLog) FilterUnsent(_ context.Context, class pipeline.AlertClass, articleID int64, emails []string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range emails {
		if !l.delivered[deliveryKey(class, articleID, e)] {
			out = append(out, e)
		}
	}
	return out, nil
}

// RecordSent appends the audit entry and marks triples delivered.
// Re-recording a triple is a no-op.
func (l *AlertLog) RecordSent(_ context.Context, rec pipeline.AlertRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	for _, id := range rec.ArticleIDs {
		for _, e := range rec.Recipients {
			l.delivered[deliveryKey(rec.AlertClass, id, e)] = true
		}
	}
	return nil
}

// Records returns a copy of the audit trail.
func (l *AlertLog) Records() []pipeline.AlertRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]pipeline.AlertRecord, len(l.records))
	copy(out, l.records)
	return out
}
