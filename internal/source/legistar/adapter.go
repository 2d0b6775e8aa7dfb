package legistar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eagleharbor/monitor/internal/config"
	"github.com/eagleharbor/monitor/internal/pipeline"
	"github.com/eagleharbor/monitor/internal/source/fulltext"
)

const sourceName = "legistar"

// Adapter turns civic API records into candidate records. One Fetch is one
// finite pass over recent meetings, their agenda items, and legislation.
type Adapter struct {
	client        *Client
	keywords      *pipeline.KeywordMatcher
	watchedBodies []string
	extractor     *fulltext.Extractor
	clock         pipeline.Clock
	logger        *zap.Logger
	cfg           config.LegistarConfig
}

// New constructs the adapter. extractor may be nil to skip detail-page
// dereferencing (used in tests).
func New(
	client *Client,
	keywords *pipeline.KeywordMatcher,
	extractor *fulltext.Extractor,
	clock pipeline.Clock,
	cfg config.LegistarConfig,
	logger *zap.Logger,
) *Adapter {
	watched := make([]string, len(cfg.WatchedBodies))
	for i, b := range cfg.WatchedBodies {
		watched[i] = strings.ToLower(b)
	}
	return &Adapter{
		client:        client,
		keywords:      keywords,
		watchedBodies: watched,
		extractor:     extractor,
		clock:         clock,
		logger:        logger,
		cfg:           cfg,
	}
}

// Name identifies the adapter in logs, metrics, and stored articles.
func (a *Adapter) Name() string { return sourceName }

// Fetch walks recent meetings and legislation. Individual record failures
// are logged and skipped; the pass only fails as a whole when both listing
// calls fail.
func (a *Adapter) Fetch(ctx context.Context) ([]pipeline.CandidateRecord, error) {
	now := a.clock.Now()
	var records []pipeline.CandidateRecord

	meetings, meetErr := a.client.Meetings(ctx, now.Add(-a.cfg.EventsLookback))
	if meetErr != nil {
		a.logger.Error("meetings listing failed", zap.Error(meetErr))
	}
	for _, meeting := range meetings {
		records = append(records, a.meetingRecords(ctx, meeting)...)
	}

	matters, matterErr := a.client.Matters(ctx, now.Add(-a.cfg.MattersLookback))
	if matterErr != nil {
		a.logger.Error("matters listing failed", zap.Error(matterErr))
	}
	for _, matter := range matters {
		if rec, ok := a.matterRecord(ctx, matter); ok {
			records = append(records, rec)
		}
	}

	if meetErr != nil && matterErr != nil {
		return records, fmt.Errorf("legistar listings unavailable: %w", meetErr)
	}
	return records, nil
}

// meetingRecords produces candidates for one parent meeting: its matching
// agenda items, plus the meeting itself when the meeting text matches.
// Relevant items are frequently nested under generically-titled parents, so
// agenda items are checked whenever the parent body is on the watched-body
// allowlist even if the parent text itself matches nothing.
func (a *Adapter) meetingRecords(ctx context.Context, meeting MeetingRecord) []pipeline.CandidateRecord {
	meetingText := meeting.EventBodyName + " " + meeting.EventComment
	meetingHit := a.keywords.Match(meetingText)

	var records []pipeline.CandidateRecord
	if meetingHit || a.bodyWatched(meeting.EventBodyName) {
		items, err := a.client.AgendaItems(ctx, meeting.EventID)
		if err != nil {
			a.logger.Warn("agenda items fetch failed",
				zap.Int("event_id", meeting.EventID), zap.Error(err))
		}
		for _, item := range items {
			if rec, ok := a.agendaItemRecord(ctx, meeting, item); ok {
				records = append(records, rec)
			}
		}
	}

	if meetingHit && meeting.EventInSiteURL != "" {
		records = append(records, a.meetingRecord(meeting))
	}
	return records
}

func (a *Adapter) bodyWatched(bodyName string) bool {
	lowered := strings.ToLower(bodyName)
	for _, term := range a.watchedBodies {
		if strings.Contains(lowered, term) {
			return true
		}
	}
	return false
}

func (a *Adapter) agendaItemRecord(
	ctx context.Context,
	meeting MeetingRecord,
	item AgendaItem,
) (pipeline.CandidateRecord, bool) {
	if !a.keywords.Match(item.EventItemTitle + " " + item.EventItemMatterName) {
		return pipeline.CandidateRecord{}, false
	}

	itemURL := a.agendaItemURL(meeting, item)
	date := eventDateOnly(meeting.EventDate)

	heading := item.EventItemTitle
	if heading == "" {
		heading = item.EventItemMatterName
	}
	title := fmt.Sprintf("[%s - %s] %s", meeting.EventBodyName, date, heading)

	body := fmt.Sprintf("Meeting: %s\nDate: %s\nAgenda Item: %s\nMatter: %s",
		meeting.EventBodyName, date, item.EventItemTitle, item.EventItemMatterName)
	if item.EventItemMatterID != nil {
		if detail := a.fetchDetail(ctx, itemURL); detail != "" {
			body = body + "\n\n" + detail
		}
	}

	return pipeline.CandidateRecord{
		SourceName:   sourceName,
		URL:          itemURL,
		Title:        title,
		Body:         body,
		PublishedAt:  parseEventDate(meeting.EventDate),
		DiscoveredAt: a.clock.Now(),
	}, true
}

// agendaItemURL prefers the stable legislation detail page; items without a
// matter fall back to a fragment on the meeting page so each agenda item
// keeps a distinct dedup key.
func (a *Adapter) agendaItemURL(meeting MeetingRecord, item AgendaItem) string {
	if item.EventItemMatterID != nil {
		return fmt.Sprintf("%s?ID=%d", a.cfg.DetailURL, *item.EventItemMatterID)
	}
	if meeting.EventInSiteURL != "" {
		return fmt.Sprintf("%s#item-%d", meeting.EventInSiteURL, item.EventItemID)
	}
	return fmt.Sprintf("%s/events/%d#item-%d", a.cfg.BaseURL, meeting.EventID, item.EventItemID)
}

func (a *Adapter) meetingRecord(meeting MeetingRecord) pipeline.CandidateRecord {
	date := eventDateOnly(meeting.EventDate)
	title := fmt.Sprintf("[Meeting] %s - %s", meeting.EventBodyName, date)
	if meeting.EventComment != "" {
		comment := meeting.EventComment
		if len(comment) > 200 {
			comment = comment[:200]
		}
		title = title + ": " + comment
	}

	body := fmt.Sprintf("Meeting: %s\nDate: %s\nComment: %s",
		meeting.EventBodyName, date, meeting.EventComment)
	if meeting.EventAgendaFile != "" {
		body += "\nAgenda: " + meeting.EventAgendaFile
	}

	return pipeline.CandidateRecord{
		SourceName:   sourceName,
		URL:          meeting.EventInSiteURL,
		Title:        title,
		Body:         body,
		PublishedAt:  parseEventDate(meeting.EventDate),
		DiscoveredAt: a.clock.Now(),
	}
}

func (a *Adapter) matterRecord(ctx context.Context, matter Matter) (pipeline.CandidateRecord, bool) {
	if !a.keywords.Match(matter.MatterTitle + " " + matter.MatterName + " " + matter.MatterFile) {
		return pipeline.CandidateRecord{}, false
	}

	matterURL := fmt.Sprintf("%s?ID=%d", a.cfg.DetailURL, matter.MatterID)

	name := matter.MatterName
	if name == "" {
		name = matter.MatterTitle
		if len(name) > 200 {
			name = name[:200]
		}
	}
	title := fmt.Sprintf("[%s] %s: %s", matter.MatterTypeName, matter.MatterFile, name)

	body := fmt.Sprintf("Type: %s\nFile: %s\nBody: %s\nStatus: %s\nTitle: %s",
		matter.MatterTypeName, matter.MatterFile, matter.MatterBodyName,
		matter.MatterStatusName, matter.MatterTitle)
	if detail := a.fetchDetail(ctx, matterURL); detail != "" {
		body = body + "\n\n" + detail
	}

	return pipeline.CandidateRecord{
		SourceName:   sourceName,
		URL:          matterURL,
		Title:        title,
		Body:         body,
		DiscoveredAt: a.clock.Now(),
	}, true
}

func (a *Adapter) fetchDetail(ctx context.Context, pageURL string) string {
	if a.extractor == nil {
		return ""
	}
	text, err := a.extractor.Extract(ctx, pageURL)
	if err != nil {
		a.logger.Debug("detail fetch failed", zap.String("url", pageURL), zap.Error(err))
		return ""
	}
	return text
}

// eventDateOnly keeps the date part of the API timestamp for display.
func eventDateOnly(raw string) string {
	if len(raw) >= 10 {
		return raw[:10]
	}
	return raw
}

// parseEventDate parses the API timestamp; malformed dates yield nil rather
// than an error because a missing published date is not worth dropping a
// record over.
func parseEventDate(raw string) *time.Time {
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}
