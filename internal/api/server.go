// Package api exposes the HTTP interface for the monitor service:
// subscription management plus a small read API over articles and events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/eagleharbor/monitor/internal/metrics"
	"github.com/eagleharbor/monitor/internal/notify"
	"github.com/eagleharbor/monitor/internal/pipeline"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	upcomingWindow  = 50
)

// Pinger reports whether a downstream dependency is reachable. The postgres
// pool satisfies it; the in-memory store passes nil.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the subscription service and stores.
type Server struct {
	router      chi.Router
	subscribers *notify.Service
	articles    pipeline.ArticleStore
	events      pipeline.EventStore
	clock       pipeline.Clock
	db          Pinger
	logger      *zap.Logger
}

// NewServer constructs a Server with middleware and routes. db may be nil.
func NewServer(
	subscribers *notify.Service,
	articles pipeline.ArticleStore,
	events pipeline.EventStore,
	clock pipeline.Clock,
	db Pinger,
	logger *zap.Logger,
) *Server {
	s := &Server{
		subscribers: subscribers,
		articles:    articles,
		events:      events,
		clock:       clock,
		db:          db,
		logger:      logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/subscribe", s.subscribe)
		r.Get("/verify/{token}", s.verify)
		r.Get("/unsubscribe/{token}", s.unsubscribe)
		r.Get("/articles", s.listArticles)
		r.Get("/events/upcoming", s.listUpcomingEvents)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type subscribeRequest struct {
	Email string `json:"email"`
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, "missing email")
		return
	}
	if err := s.subscribers.Subscribe(r.Context(), req.Email); err != nil {
		if errors.Is(err, pipeline.ErrInvalidEmail) {
			writeError(w, http.StatusBadRequest, "invalid email address")
			return
		}
		s.logger.Error("subscribe failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "subscription failed")
		return
	}
	// Same response whether the address is new or already known, so the
	// endpoint cannot be used to probe the subscriber list.
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "pending verification, check your email",
	})
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	sub, err := s.subscribers.Verify(r.Context(), token)
	switch {
	case errors.Is(err, pipeline.ErrAlreadyVerified):
		writeJSON(w, http.StatusOK, map[string]string{"status": "already verified"})
	case errors.Is(err, pipeline.ErrNotFound):
		writeError(w, http.StatusNotFound, "verification token not found")
	case err != nil:
		s.logger.Error("verify failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "verification failed")
	default:
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "verified",
			"email":  sub.Email,
		})
	}
}

func (s *Server) unsubscribe(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	sub, err := s.subscribers.Unsubscribe(r.Context(), token)
	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		writeError(w, http.StatusNotFound, "unsubscribe token not found")
	case err != nil:
		s.logger.Error("unsubscribe failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unsubscribe failed")
	default:
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "unsubscribed",
			"email":  sub.Email,
		})
	}
}

type articleView struct {
	ID             int64      `json:"id"`
	SourceName     string     `json:"source"`
	URL            string     `json:"url"`
	Title          string     `json:"title"`
	Summary        string     `json:"summary,omitempty"`
	PublishedAt    *time.Time `json:"published_at,omitempty"`
	DiscoveredAt   time.Time  `json:"discovered_at"`
	PriorityScore  *int       `json:"priority_score,omitempty"`
	RelevanceScore *int       `json:"relevance_score,omitempty"`
	Category       string     `json:"category,omitempty"`
	RegionTag      string     `json:"region,omitempty"`
	EventAt        *time.Time `json:"event_at,omitempty"`
}

func (s *Server) listArticles(w http.ResponseWriter, r *http.Request) {
	category := pipeline.Category(r.URL.Query().Get("category"))
	if category != "" && !pipeline.ValidCategory(category) {
		writeError(w, http.StatusBadRequest, "unknown category")
		return
	}
	limit := queryInt(r, "limit", defaultPageSize, maxPageSize)
	offset := queryInt(r, "offset", 0, 1<<20)

	articles, total, err := s.articles.ListRecent(r.Context(), category, limit, offset)
	if err != nil {
		s.logger.Error("list articles failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list articles")
		return
	}

	views := make([]articleView, 0, len(articles))
	for _, a := range articles {
		views = append(views, articleView{
			ID:             a.ID,
			SourceName:     a.SourceName,
			URL:            a.CanonicalURL,
			Title:          a.Title,
			Summary:        a.Summary,
			PublishedAt:    a.PublishedAt,
			DiscoveredAt:   a.DiscoveredAt,
			PriorityScore:  a.PriorityScore,
			RelevanceScore: a.RelevanceScore,
			Category:       string(a.Category),
			RegionTag:      string(a.RegionTag),
			EventAt:        a.EventAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"articles": views,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

type eventView struct {
	ID          int64      `json:"id"`
	ArticleID   int64      `json:"article_id"`
	Title       string     `json:"title"`
	EventType   string     `json:"event_type"`
	StartsAt    time.Time  `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	Location    string     `json:"location,omitempty"`
	Description string     `json:"description,omitempty"`
	RegionTag   string     `json:"region,omitempty"`
}

func (s *Server) listUpcomingEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", upcomingWindow, maxPageSize)
	events, err := s.events.ListUpcoming(r.Context(), s.clock.Now(), limit)
	if err != nil {
		s.logger.Error("list events failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	views := make([]eventView, 0, len(events))
	for _, ev := range events {
		views = append(views, eventView{
			ID:          ev.ID,
			ArticleID:   ev.ArticleID,
			Title:       ev.Title,
			EventType:   string(ev.EventType),
			StartsAt:    ev.StartsAt,
			EndsAt:      ev.EndsAt,
			Location:    ev.Location,
			Description: ev.Description,
			RegionTag:   string(ev.RegionTag),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": views})
}

func queryInt(r *http.Request, key string, def, ceil int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	if n > ceil {
		return ceil
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
