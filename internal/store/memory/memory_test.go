package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eagleharbor/monitor/internal/pipeline"
)

var (
	_ pipeline.ArticleStore    = (*ArticleStore)(nil)
	_ pipeline.SubscriberStore = (*SubscriberStore)(nil)
	_ pipeline.EventStore      = (*EventStore)(nil)
	_ pipeline.AlertLog        = (*AlertLog)(nil)
)

func candidate(url string, at time.Time) pipeline.CandidateRecord {
	return pipeline.CandidateRecord{
		SourceName:   "rss",
		URL:          url,
		Title:        "title",
		Body:         "body",
		DiscoveredAt: at,
	}
}

func TestArticleInsertConflict(t *testing.T) {
	t.Parallel()
	s := NewArticleStore()
	ctx := context.Background()
	now := time.Now()

	id1, inserted, err := s.InsertCandidate(ctx, "https://example.com/a", candidate("u", now))
	require.NoError(t, err)
	assert.True(t, inserted)

	id2, inserted, err := s.InsertCandidate(ctx, "https://example.com/a", candidate("u", now))
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, id1, id2)
}

func TestArticleConcurrentInsertSameURL(t *testing.T) {
	t.Parallel()
	s := NewArticleStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	insertedCount := make([]bool, 16)
	for i := range insertedCount {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, inserted, err := s.InsertCandidate(ctx, "https://example.com/hot", candidate("u", time.Now()))
			assert.NoError(t, err)
			insertedCount[i] = inserted
		}(i)
	}
	wg.Wait()

	n := 0
	for _, ok := range insertedCount {
		if ok {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestClassificationLifecycle(t *testing.T) {
	t.Parallel()
	s := NewArticleStore()
	ctx := context.Background()
	now := time.Now()

	id, _, err := s.InsertCandidate(ctx, "https://example.com/a", candidate("u", now))
	require.NoError(t, err)

	backlog, err := s.ClaimUnclassified(ctx, 10, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, backlog, 1)

	// Fallback result: row stays eligible for a later sweep once stale.
	fallback := pipeline.Classification{PriorityScore: 7, RelevanceScore: 5,
		Category: pipeline.CategoryMeeting, RegionTag: pipeline.RegionUnclear, Fallback: true}
	require.NoError(t, s.ApplyClassification(ctx, id, fallback, pipeline.StateClassificationFailed))

	backlog, err = s.ClaimUnclassified(ctx, 10, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, backlog, 1, "stale fallback rows re-enter the backlog")

	// Model result: terminal.
	model := pipeline.Classification{PriorityScore: 9, RelevanceScore: 9,
		Category: pipeline.CategoryPolicy, RegionTag: pipeline.RegionCharles}
	require.NoError(t, s.ApplyClassification(ctx, id, model, pipeline.StateClassified))

	// A late fallback write is a silent no-op.
	require.NoError(t, s.ApplyClassification(ctx, id, fallback, pipeline.StateClassificationFailed))
	arts, err := s.ListClassifiedSince(ctx, now.Add(-time.Hour), 0, 10)
	require.NoError(t, err)
	require.Len(t, arts, 1)
	assert.Equal(t, pipeline.StateClassified, arts[0].State)
	assert.Equal(t, 9, *arts[0].PriorityScore)
}

func TestSetEventAtFirstWriteWins(t *testing.T) {
	t.Parallel()
	s := NewArticleStore()
	ctx := context.Background()

	id, _, err := s.InsertCandidate(ctx, "https://example.com/a", candidate("u", time.Now()))
	require.NoError(t, err)

	first := time.Date(2026, 9, 4, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetEventAt(ctx, id, first))
	require.NoError(t, s.SetEventAt(ctx, id, first.Add(time.Hour)))

	arts, _, err := s.ListRecent(ctx, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, arts, 1)
	assert.Equal(t, first, *arts[0].EventAt)
}

func TestListRecentPaging(t *testing.T) {
	t.Parallel()
	s := NewArticleStore()
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		_, _, err := s.InsertCandidate(ctx,
			fmt.Sprintf("https://example.com/%d", i),
			candidate("u", base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	page, total, err := s.ListRecent(ctx, "", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	// Newest first: offset 2 lands on the third-newest.
	assert.Equal(t, "https://example.com/2", page[0].CanonicalURL)
}

func TestSubscriberLifecycle(t *testing.T) {
	t.Parallel()
	s := NewSubscriberStore()
	ctx := context.Background()

	sub, err := s.Create(ctx, "a@example.com", "vtok", "utok")
	require.NoError(t, err)

	_, err = s.Create(ctx, "a@example.com", "v2", "u2")
	require.ErrorIs(t, err, pipeline.ErrDuplicateEmail)

	// Unverified subscribers are not eligible.
	eligible, err := s.ListEligible(ctx)
	require.NoError(t, err)
	assert.Empty(t, eligible)

	verified, err := s.ConsumeVerificationToken(ctx, "vtok")
	require.NoError(t, err)
	assert.True(t, verified.Verified)
	assert.Nil(t, verified.VerificationToken)

	_, err = s.ConsumeVerificationToken(ctx, "vtok")
	require.ErrorIs(t, err, pipeline.ErrAlreadyVerified)
	_, err = s.ConsumeVerificationToken(ctx, "nope")
	require.ErrorIs(t, err, pipeline.ErrNotFound)

	eligible, err = s.ListEligible(ctx)
	require.NoError(t, err)
	require.Len(t, eligible, 1)

	deactivated, err := s.Deactivate(ctx, "utok")
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive)

	eligible, err = s.ListEligible(ctx)
	require.NoError(t, err)
	assert.Empty(t, eligible)

	// The row survives deactivation.
	_, err = s.GetByEmail(ctx, sub.Email)
	require.NoError(t, err)
}

func TestEventStoreRoundTrip(t *testing.T) {
	t.Parallel()
	s := NewEventStore()
	ctx := context.Background()
	starts := time.Date(2026, 9, 4, 10, 0, 0, 0, time.UTC)

	has, err := s.HasEvents(ctx, 1)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.InsertEvents(ctx, []pipeline.Event{
		{ArticleID: 1, Title: "Hearing", StartsAt: starts},
		{ArticleID: 1, Title: "Past vote", StartsAt: starts.Add(-30 * 24 * time.Hour)},
		{ArticleID: 2, Title: "Cancelled", StartsAt: starts, IsCancelled: true},
	}))

	has, err = s.HasEvents(ctx, 1)
	require.NoError(t, err)
	assert.True(t, has)

	upcoming, err := s.ListUpcoming(ctx, starts.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	assert.Equal(t, "Hearing", upcoming[0].Title)
}

func TestAlertLogAtMostOnce(t *testing.T) {
	t.Parallel()
	l := NewAlertLog()
	ctx := context.Background()
	emails := []string{"a@example.com", "b@example.com"}

	unsent, err := l.FilterUnsent(ctx, pipeline.AlertInstant, 1, emails)
	require.NoError(t, err)
	assert.Equal(t, emails, unsent)

	require.NoError(t, l.RecordSent(ctx, pipeline.AlertRecord{
		ID:         uuid.New(),
		AlertClass: pipeline.AlertInstant,
		Recipients: []string{"a@example.com"},
		ArticleIDs: []int64{1},
	}))

	unsent, err = l.FilterUnsent(ctx, pipeline.AlertInstant, 1, emails)
	require.NoError(t, err)
	assert.Equal(t, []string{"b@example.com"}, unsent)

	// The digest class is tracked independently.
	unsent, err = l.FilterUnsent(ctx, pipeline.AlertDigest, 1, emails)
	require.NoError(t, err)
	assert.Equal(t, emails, unsent)
}
