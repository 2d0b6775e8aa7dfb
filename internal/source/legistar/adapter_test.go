package legistar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eagleharbor/monitor/internal/clock/system"
	"github.com/eagleharbor/monitor/internal/config"
	"github.com/eagleharbor/monitor/internal/pipeline"
)

func matterID(n int) *int { return &n }

// fakeAPI serves a minimal civic-records API: two meetings (one generically
// titled but on a watched body), agenda items for both, and one matter.
func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Query().Get("$filter"), "EventDate ge datetime")
		writeJSON(t, w, []MeetingRecord{
			{
				EventID:        10,
				EventBodyName:  "County Council",
				EventDate:      "2026-08-20T00:00:00",
				EventComment:   "Regular session",
				EventInSiteURL: "https://civic.example.com/MeetingDetail.aspx?ID=10",
			},
			{
				EventID:        11,
				EventBodyName:  "Planning Board",
				EventDate:      "2026-08-21T00:00:00",
				EventInSiteURL: "https://civic.example.com/MeetingDetail.aspx?ID=11",
			},
			{
				EventID:       12,
				EventBodyName: "Library Committee",
				EventDate:     "2026-08-22T00:00:00",
			},
		})
	})
	mux.HandleFunc("/events/10/eventitems", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, []AgendaItem{
			{
				EventItemID:       101,
				EventItemTitle:    "CR-98-2025 data center task force report",
				EventItemMatterID: matterID(555),
			},
			{EventItemID: 102, EventItemTitle: "Street renaming ceremony"},
		})
	})
	mux.HandleFunc("/events/11/eventitems", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, []AgendaItem{
			{EventItemID: 111, EventItemMatterName: "Zoning text amendment for AR zone"},
		})
	})
	mux.HandleFunc("/matters", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, []Matter{
			{
				MatterID:       900,
				MatterTypeName: "Resolution",
				MatterFile:     "CR-98-2025",
				MatterName:     "Data Center Task Force",
				MatterTitle:    "A resolution establishing the data center task force",
			},
			{
				MatterID:       901,
				MatterTypeName: "Ordinance",
				MatterFile:     "O-12-2026",
				MatterName:     "Dog park hours",
				MatterTitle:    "An ordinance concerning dog park hours",
			},
		})
	})
	return httptest.NewServer(mux)
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func newTestAdapter(t *testing.T, baseURL string) *Adapter {
	t.Helper()

	cfg := config.LegistarConfig{
		BaseURL:         baseURL,
		DetailURL:       "https://civic.example.com/LegislationDetail.aspx",
		EventsLookback:  30 * 24 * time.Hour,
		MattersLookback: 60 * 24 * time.Hour,
		WatchedBodies:   []string{"council", "planning", "zoning", "environment", "economic"},
	}
	client := NewClient(baseURL, 200, 5*time.Second)
	return New(client, pipeline.NewKeywordMatcher(nil), nil, system.New(), cfg, zap.NewNop())
}

func TestFetchCollectsAgendaItemsMeetingsAndMatters(t *testing.T) {
	t.Parallel()

	srv := fakeAPI(t)
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	records, err := a.Fetch(context.Background())
	require.NoError(t, err)

	byURL := map[string]pipeline.CandidateRecord{}
	for _, rec := range records {
		byURL[rec.URL] = rec
	}

	// Agenda item under the keyword-matching council meeting, addressed by
	// its legislation detail page.
	item, ok := byURL["https://civic.example.com/LegislationDetail.aspx?ID=555"]
	require.True(t, ok, "expected matter-backed agenda item, got %v", byURL)
	assert.Contains(t, item.Title, "County Council")
	assert.Contains(t, item.Title, "CR-98-2025")
	assert.Equal(t, "legistar", item.SourceName)

	// Agenda item nested under a generically-titled Planning Board meeting:
	// found only because the body is on the watched allowlist.
	nested, ok := byURL["https://civic.example.com/MeetingDetail.aspx?ID=11#item-111"]
	require.True(t, ok, "expected watched-body agenda item")
	assert.Contains(t, nested.Body, "Zoning text amendment")

	// The council meeting itself matches keywords via its body name.
	_, ok = byURL["https://civic.example.com/MeetingDetail.aspx?ID=10"]
	assert.True(t, ok, "expected meeting record")

	// Matching matter, but not the dog-park ordinance.
	_, ok = byURL["https://civic.example.com/LegislationDetail.aspx?ID=900"]
	assert.True(t, ok, "expected task force matter")
	_, ok = byURL["https://civic.example.com/LegislationDetail.aspx?ID=901"]
	assert.False(t, ok, "unrelated matter must be filtered out")

	// Non-matching items and unwatched bodies produce nothing.
	for u := range byURL {
		assert.NotContains(t, u, "item-102")
		assert.NotContains(t, u, "events/12")
	}
}

func TestFetchSurvivesAgendaItemFailure(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, []MeetingRecord{
			{
				EventID:        20,
				EventBodyName:  "Planning Board",
				EventDate:      "2026-08-21T00:00:00",
				EventComment:   "data center moratorium",
				EventInSiteURL: "https://civic.example.com/MeetingDetail.aspx?ID=20",
			},
		})
	})
	mux.HandleFunc("/events/20/eventitems", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream broke", http.StatusBadGateway)
	})
	mux.HandleFunc("/matters", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, []Matter{})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	records, err := a.Fetch(context.Background())
	require.NoError(t, err)

	// The meeting record itself still comes through.
	require.Len(t, records, 1)
	assert.True(t, strings.HasPrefix(records[0].Title, "[Meeting] Planning Board"))
}

func TestFetchFailsOnlyWhenBothListingsFail(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	_, err := a.Fetch(context.Background())
	require.Error(t, err)
}

func TestParseEventDate(t *testing.T) {
	t.Parallel()

	got := parseEventDate("2026-08-20T00:00:00")
	require.NotNil(t, got)
	assert.Equal(t, 2026, got.Year())

	assert.Nil(t, parseEventDate("not a date"))
	assert.Nil(t, parseEventDate(""))
}
