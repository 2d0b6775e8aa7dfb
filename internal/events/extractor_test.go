package events

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eagleharbor/monitor/internal/pipeline"
)

type fakeArticles struct {
	pipeline.ArticleStore

	listed  []pipeline.Article
	listErr error
	eventAt map[int64]time.Time
}

func (f *fakeArticles) ListForEventExtraction(_ context.Context, _ []pipeline.Category, _ int) ([]pipeline.Article, error) {
	return f.listed, f.listErr
}

func (f *fakeArticles) SetEventAt(_ context.Context, id int64, at time.Time) error {
	if f.eventAt == nil {
		f.eventAt = map[int64]time.Time{}
	}
	if _, ok := f.eventAt[id]; !ok {
		f.eventAt[id] = at
	}
	return nil
}

type fakeEvents struct {
	pipeline.EventStore

	existing map[int64]bool
	inserted []pipeline.Event
}

func (f *fakeEvents) HasEvents(_ context.Context, articleID int64) (bool, error) {
	return f.existing[articleID], nil
}

func (f *fakeEvents) InsertEvents(_ context.Context, evs []pipeline.Event) error {
	f.inserted = append(f.inserted, evs...)
	return nil
}

type scriptedChat struct {
	byTitle map[string]string
	err     error
	calls   int
}

func (s *scriptedChat) CompleteJSON(_ context.Context, _, user string) ([]byte, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	for title, raw := range s.byTitle {
		if strings.Contains(user, title) {
			return []byte(raw), nil
		}
	}
	return []byte(`{"events": []}`), nil
}

func article(id int64, title string) pipeline.Article {
	return pipeline.Article{
		ID:        id,
		Title:     title,
		Body:      "body",
		Category:  pipeline.CategoryMeeting,
		RegionTag: pipeline.RegionPrinceGeorges,
	}
}

func TestRunExtractsAndBackfills(t *testing.T) {
	t.Parallel()

	articles := &fakeArticles{listed: []pipeline.Article{article(1, "Hearing notice")}}
	store := &fakeEvents{}
	chat := &scriptedChat{byTitle: map[string]string{
		"Hearing notice": `{"events": [
			{"title": "Site plan hearing", "event_type": "hearing",
			 "event_date": "2026-09-04T10:00:00Z", "location": "County Admin Building",
			 "description": "Detailed site plan review.", "region_tag": "prince_georges"},
			{"title": "Comment deadline", "event_type": "deadline",
			 "event_date": "2026-09-18", "region_tag": "bogus"}
		]}`,
	}}

	e := New(articles, store, chat, 25, zap.NewNop())
	n, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, store.inserted, 2)

	first := store.inserted[0]
	assert.Equal(t, int64(1), first.ArticleID)
	assert.Equal(t, pipeline.EventHearing, first.EventType)
	assert.Equal(t, time.Date(2026, 9, 4, 10, 0, 0, 0, time.UTC), first.StartsAt)

	// Unknown region falls back to the article's tag; date-only values parse.
	second := store.inserted[1]
	assert.Equal(t, pipeline.RegionPrinceGeorges, second.RegionTag)
	assert.Equal(t, 18, second.StartsAt.Day())

	// Article event date takes the first event's start.
	assert.Equal(t, first.StartsAt, articles.eventAt[1])
}

func TestRunSkipsArticlesWithEvents(t *testing.T) {
	t.Parallel()

	articles := &fakeArticles{listed: []pipeline.Article{article(1, "Old notice")}}
	store := &fakeEvents{existing: map[int64]bool{1: true}}
	chat := &scriptedChat{}

	e := New(articles, store, chat, 25, zap.NewNop())
	n, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, chat.calls, "already-processed articles must not be re-prompted")
}

func TestRunDropsUndatedAndUnparseableEvents(t *testing.T) {
	t.Parallel()

	articles := &fakeArticles{listed: []pipeline.Article{article(1, "Vague notice")}}
	store := &fakeEvents{}
	chat := &scriptedChat{byTitle: map[string]string{
		"Vague notice": `{"events": [
			{"title": "Sometime soon", "event_type": "meeting", "event_date": null},
			{"title": "Next Thursday-ish", "event_type": "meeting", "event_date": "next thursday"}
		]}`,
	}}

	e := New(articles, store, chat, 25, zap.NewNop())
	n, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, store.inserted)
}

func TestRunSurvivesModelFailurePerArticle(t *testing.T) {
	t.Parallel()

	articles := &fakeArticles{listed: []pipeline.Article{article(1, "a"), article(2, "b")}}
	store := &fakeEvents{}
	chat := &scriptedChat{err: errors.New("upstream 500")}

	e := New(articles, store, chat, 25, zap.NewNop())
	n, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, chat.calls)
}

func TestRunNilChatIsNoOp(t *testing.T) {
	t.Parallel()

	e := New(&fakeArticles{}, &fakeEvents{}, nil, 25, zap.NewNop())
	n, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestParseWhenLayouts(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{
		"2026-09-04T10:00:00Z",
		"2026-09-04T10:00:00",
		"2026-09-04 10:00",
		"2026-09-04",
	} {
		_, err := parseWhen(ok)
		assert.NoError(t, err, ok)
	}
	_, err := parseWhen("September 4th")
	assert.Error(t, err)
}
