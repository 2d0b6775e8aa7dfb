// Package events pulls calendar entries out of classified articles. Meeting
// notices and legislative items routinely carry dates, locations, and agenda
// references; the extractor asks the model for them in a fixed JSON shape.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eagleharbor/monitor/internal/metrics"
	"github.com/eagleharbor/monitor/internal/pipeline"
)

const systemPrompt = "You extract scheduled civic events from Maryland local " +
	"news and government records. Return JSON only."

const userPromptFmt = `Extract any scheduled events (meetings, hearings, comment
deadlines, votes) from this article. Return JSON: {"events": [...]} where each
event has these exact keys:
1. title: short event name
2. event_type: One of [meeting, hearing, deadline, vote, other]
3. event_date: ISO 8601 date-time, or null if no concrete date is given
4. end_date: ISO 8601 date-time or null
5. location: venue or empty string
6. description: one sentence
7. region_tag: One of [prince_georges, charles, both, unclear]

Return {"events": []} if the article announces nothing with a date.

Title: %s
Content: %s`

const promptBodyChars = 2000

// Schedule-bearing categories worth an extraction pass.
var ScheduleCategories = []pipeline.Category{
	pipeline.CategoryMeeting,
	pipeline.CategoryLegislation,
	pipeline.CategoryPolicy,
}

// Extractor runs the extraction sweep.
type Extractor struct {
	articles  pipeline.ArticleStore
	events    pipeline.EventStore
	chat      pipeline.ChatCompleter
	logger    *zap.Logger
	batchSize int
}

// New constructs an Extractor. chat may be nil, which turns the sweep into
// a no-op (model disabled in config).
func New(
	articles pipeline.ArticleStore,
	events pipeline.EventStore,
	chat pipeline.ChatCompleter,
	batchSize int,
	logger *zap.Logger,
) *Extractor {
	if batchSize <= 0 {
		batchSize = 25
	}
	return &Extractor{
		articles:  articles,
		events:    events,
		chat:      chat,
		logger:    logger,
		batchSize: batchSize,
	}
}

// Run extracts events for one batch of schedule-bearing articles. Articles
// that already have events are skipped, so re-runs are no-ops. Per-article
// failures are logged and skipped.
func (e *Extractor) Run(ctx context.Context) (extracted int, err error) {
	if e.chat == nil {
		return 0, nil
	}

	articles, err := e.articles.ListForEventExtraction(ctx, ScheduleCategories, e.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list articles for extraction: %w", err)
	}

	for _, art := range articles {
		if ctx.Err() != nil {
			return extracted, ctx.Err()
		}

		has, err := e.events.HasEvents(ctx, art.ID)
		if err != nil {
			e.logger.Error("event lookup failed",
				zap.Int64("article_id", art.ID), zap.Error(err))
			continue
		}
		if has {
			continue
		}

		evs, err := e.extractOne(ctx, art)
		if err != nil {
			e.logger.Warn("event extraction failed",
				zap.Int64("article_id", art.ID), zap.Error(err))
			continue
		}
		if len(evs) == 0 {
			continue
		}

		if err := e.events.InsertEvents(ctx, evs); err != nil {
			e.logger.Error("insert events failed",
				zap.Int64("article_id", art.ID), zap.Error(err))
			continue
		}
		// First event date back-fills the article; only the first write
		// takes effect at the store.
		if err := e.articles.SetEventAt(ctx, art.ID, evs[0].StartsAt); err != nil {
			e.logger.Error("set event date failed",
				zap.Int64("article_id", art.ID), zap.Error(err))
		}

		metrics.ObserveEventsExtracted(len(evs))
		extracted += len(evs)
		e.logger.Info("events extracted",
			zap.Int64("article_id", art.ID), zap.Int("count", len(evs)))
	}
	return extracted, nil
}

// wireEvent is the per-event schema the model is prompted to return.
type wireEvent struct {
	Title       string  `json:"title"`
	EventType   string  `json:"event_type"`
	EventDate   *string `json:"event_date"`
	EndDate     *string `json:"end_date"`
	Location    string  `json:"location"`
	Description string  `json:"description"`
	RegionTag   string  `json:"region_tag"`
}

func (e *Extractor) extractOne(ctx context.Context, art pipeline.Article) ([]pipeline.Event, error) {
	body := art.Body
	if len(body) > promptBodyChars {
		body = body[:promptBodyChars]
	}

	raw, err := e.chat.CompleteJSON(ctx, systemPrompt, fmt.Sprintf(userPromptFmt, art.Title, body))
	if err != nil {
		return nil, err
	}

	var payload struct {
		Events []wireEvent `json:"events"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode extraction output: %w", err)
	}

	var out []pipeline.Event
	for _, w := range payload.Events {
		ev, ok := e.convert(art, w)
		if !ok {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// convert maps one wire event to the domain. Events without a parseable
// start date are dropped rather than treated as errors; a notice with no
// date is simply not a calendar entry.
func (e *Extractor) convert(art pipeline.Article, w wireEvent) (pipeline.Event, bool) {
	if w.EventDate == nil || w.Title == "" {
		return pipeline.Event{}, false
	}
	starts, err := parseWhen(*w.EventDate)
	if err != nil {
		e.logger.Debug("unparseable event date",
			zap.Int64("article_id", art.ID), zap.String("raw", *w.EventDate))
		return pipeline.Event{}, false
	}

	var ends *time.Time
	if w.EndDate != nil {
		if t, err := parseWhen(*w.EndDate); err == nil {
			ends = &t
		}
	}

	typ := pipeline.EventType(w.EventType)
	if !pipeline.ValidEventType(typ) {
		typ = pipeline.EventOther
	}
	region := pipeline.RegionTag(w.RegionTag)
	if !pipeline.ValidRegion(region) {
		region = art.RegionTag
	}

	return pipeline.Event{
		ArticleID:   art.ID,
		Title:       w.Title,
		EventType:   typ,
		StartsAt:    starts,
		EndsAt:      ends,
		Location:    w.Location,
		Description: w.Description,
		RegionTag:   region,
	}, true
}

// parseWhen accepts the date shapes models actually emit.
func parseWhen(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
