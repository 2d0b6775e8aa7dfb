// Package pipeline defines core types shared across subsystems.
package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// ClassificationState represents the lifecycle state of an Article.
type ClassificationState string

// Article classification states persisted in the article store.
const (
	StateUnclassified         ClassificationState = "unclassified"
	StateClassified           ClassificationState = "classified"
	StateClassificationFailed ClassificationState = "classification_failed"
)

// Category buckets an article by the kind of activity it reports.
type Category string

// Known article categories.
const (
	CategoryPolicy        Category = "policy"
	CategoryMeeting       Category = "meeting"
	CategoryLegislation   Category = "legislation"
	CategoryEnvironmental Category = "environmental"
	CategoryCommunity     Category = "community"
	CategoryDevelopment   Category = "development"
)

// RegionTag identifies which monitored county an article concerns.
type RegionTag string

// Known region tags.
const (
	RegionPrinceGeorges RegionTag = "prince_georges"
	RegionCharles       RegionTag = "charles"
	RegionBoth          RegionTag = "both"
	RegionUnclear       RegionTag = "unclear"
)

// EventType buckets extracted calendar events.
type EventType string

// Known event types.
const (
	EventMeeting  EventType = "meeting"
	EventHearing  EventType = "hearing"
	EventDeadline EventType = "deadline"
	EventVote     EventType = "vote"
	EventOther    EventType = "other"
)

// AlertClass names a category of notification; the at-most-once delivery
// guarantee is scoped per (subscriber, article, class) triple.
type AlertClass string

// Alert classes dispatched by the notifier.
const (
	AlertInstant AlertClass = "instant"
	AlertDigest  AlertClass = "digest"
)

// CandidateRecord is the ephemeral output of a source adapter. It is consumed
// immediately by ingest and never persisted as-is.
type CandidateRecord struct {
	SourceName   string
	URL          string
	Title        string
	Body         string
	PublishedAt  *time.Time
	DiscoveredAt time.Time
}

// Article is the durable unit of the pipeline. CanonicalURL is globally
// unique and serves as the dedup key; re-ingesting the same URL is a no-op.
type Article struct {
	ID             int64
	Title          string
	CanonicalURL   string
	Summary        string
	Body           string
	SourceName     string
	PublishedAt    *time.Time
	DiscoveredAt   time.Time
	State          ClassificationState
	PriorityScore  *int
	RelevanceScore *int
	Category       Category
	RegionTag      RegionTag
	EventAt        *time.Time
	IsActive       bool
}

// Classification is the validated output of the classifier gateway.
// Fallback marks results produced by the deterministic keyword heuristic so
// they can be distinguished from real collaborator output and re-classified
// once the collaborator recovers.
type Classification struct {
	RelevanceScore int       `json:"relevance_score"`
	PriorityScore  int       `json:"priority_score"`
	Category       Category  `json:"category"`
	RegionTag      RegionTag `json:"region_tag"`
	Summary        string    `json:"summary"`
	KeyPoints      []string  `json:"key_points"`
	Fallback       bool      `json:"-"`
}

// Event is a calendar entry extracted from a classified article. An article
// exclusively owns zero or more events; events are flagged cancelled rather
// than deleted.
type Event struct {
	ID          int64
	ArticleID   int64
	Title       string
	EventType   EventType
	StartsAt    time.Time
	EndsAt      *time.Time
	Location    string
	Description string
	RegionTag   RegionTag
	IsCancelled bool
}

// Subscriber is a notification recipient. VerificationToken is single-use
// and nulled on consumption; UnsubscribeToken is permanent.
type Subscriber struct {
	ID                int64
	Email             string
	Verified          bool
	VerificationToken *string
	UnsubscribeToken  string
	SubscribedAt      time.Time
	IsActive          bool
}

// AlertRecord is an append-only audit entry covering one dispatched send.
// Only recipients whose send actually succeeded appear in Recipients.
type AlertRecord struct {
	ID         uuid.UUID
	AlertClass AlertClass
	Subject    string
	Recipients []string
	ArticleIDs []int64
	SentAt     time.Time
}

// InsertOutcome is the result kind of an ingest attempt.
type InsertOutcome string

// Ingest outcomes. AlreadyExists is the expected steady state as sources
// re-list old items, not an error.
const (
	OutcomeInserted      InsertOutcome = "inserted"
	OutcomeAlreadyExists InsertOutcome = "already_exists"
	OutcomeRejected      InsertOutcome = "rejected"
)

// InsertResult reports what ingest did with a candidate.
type InsertResult struct {
	Outcome   InsertOutcome
	ArticleID int64
	Reason    string
}

// Message is one outbound email handed to the mail collaborator.
type Message struct {
	Recipient string
	Subject   string
	HTMLBody  string
}

// SendResult is the per-recipient outcome of a batch send. The mail
// collaborator never returns an all-or-nothing batch result.
type SendResult struct {
	Recipient string
	Err       error
}

// ValidCategory reports whether c is one of the known categories.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryPolicy, CategoryMeeting, CategoryLegislation,
		CategoryEnvironmental, CategoryCommunity, CategoryDevelopment:
		return true
	}
	return false
}

// ValidRegion reports whether r is one of the known region tags.
func ValidRegion(r RegionTag) bool {
	switch r {
	case RegionPrinceGeorges, RegionCharles, RegionBoth, RegionUnclear:
		return true
	}
	return false
}

// ValidEventType reports whether t is one of the known event types.
func ValidEventType(t EventType) bool {
	switch t {
	case EventMeeting, EventHearing, EventDeadline, EventVote, EventOther:
		return true
	}
	return false
}
