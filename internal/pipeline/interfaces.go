package pipeline

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by store implementations.
var (
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyVerified is returned when a verification token has already
	// been consumed. Callers report it as "already verified", not a failure.
	ErrAlreadyVerified = errors.New("subscriber already verified")
	// ErrDuplicateEmail signals a subscribe attempt for a known address.
	ErrDuplicateEmail = errors.New("email already subscribed")
	// ErrInvalidEmail signals a subscribe attempt with an unparseable address.
	ErrInvalidEmail = errors.New("invalid email address")
)

// SourceAdapter produces one finite pass over the currently-available items
// from a single upstream source. Adapters fail independently; an error from
// one adapter must never abort another adapter's run.
type SourceAdapter interface {
	Name() string
	Fetch(ctx context.Context) ([]CandidateRecord, error)
}

// ArticleStore persists articles and their classification lifecycle.
type ArticleStore interface {
	// InsertCandidate inserts a new article in the unclassified state, keyed
	// by canonical URL. The insert is atomic with the dedup check: when the
	// URL already exists the call reports inserted=false and no error.
	InsertCandidate(ctx context.Context, canonicalURL string, c CandidateRecord) (id int64, inserted bool, err error)

	// ClaimUnclassified returns up to limit articles awaiting classification:
	// unclassified rows plus fallback-classified rows older than retryFailedBefore.
	ClaimUnclassified(ctx context.Context, limit int, retryFailedBefore time.Time) ([]Article, error)

	// ApplyClassification records the classifier result and transitions the
	// article to state. A row already in the classified state is never
	// overwritten; such calls are silent no-ops.
	ApplyClassification(ctx context.Context, articleID int64, c Classification, state ClassificationState) error

	// SetEventAt back-fills the article's first extracted event date. Only
	// the first write takes effect.
	SetEventAt(ctx context.Context, articleID int64, at time.Time) error

	// ListClassifiedSince returns classified articles discovered after since
	// with priority at or above minPriority, newest first.
	ListClassifiedSince(ctx context.Context, since time.Time, minPriority int, limit int) ([]Article, error)

	// ListForEventExtraction returns classified articles in schedule-bearing
	// categories, oldest first.
	ListForEventExtraction(ctx context.Context, categories []Category, limit int) ([]Article, error)

	// ListRecent pages through active articles for the read API.
	ListRecent(ctx context.Context, category Category, limit, offset int) ([]Article, int, error)
}

// SubscriberStore persists subscribers and their token lifecycle.
type SubscriberStore interface {
	// Create inserts an unverified subscriber with fresh tokens, or returns
	// ErrDuplicateEmail when the address is already present.
	Create(ctx context.Context, email, verificationToken, unsubscribeToken string) (Subscriber, error)

	// GetByEmail loads a subscriber or returns ErrNotFound.
	GetByEmail(ctx context.Context, email string) (Subscriber, error)

	// ConsumeVerificationToken atomically flips verified=true and nulls the
	// token so it cannot be replayed. A second consumption attempt returns
	// ErrAlreadyVerified; an unknown token returns ErrNotFound.
	ConsumeVerificationToken(ctx context.Context, token string) (Subscriber, error)

	// Deactivate flips is_active=false via the permanent unsubscribe token.
	// The row is never deleted.
	Deactivate(ctx context.Context, unsubscribeToken string) (Subscriber, error)

	// ListEligible returns subscribers with verified=true and is_active=true.
	// The selection rule is never relaxed.
	ListEligible(ctx context.Context) ([]Subscriber, error)
}

// EventStore persists calendar events extracted from articles.
type EventStore interface {
	// HasEvents reports whether the article already has linked events,
	// which makes re-extraction a no-op.
	HasEvents(ctx context.Context, articleID int64) (bool, error)

	// InsertEvents stores a batch of events for one article.
	InsertEvents(ctx context.Context, events []Event) error

	// ListUpcoming returns non-cancelled events starting at or after from.
	ListUpcoming(ctx context.Context, from time.Time, limit int) ([]Event, error)
}

// AlertLog is the append-only record of what was sent to whom, used to
// guarantee at-most-once delivery per (subscriber, article, alert class).
type AlertLog interface {
	// FilterUnsent returns the subset of emails with no prior delivery of
	// articleID under class.
	FilterUnsent(ctx context.Context, class AlertClass, articleID int64, emails []string) ([]string, error)

	// RecordSent appends an audit record and marks each covered
	// (class, article, recipient) triple as delivered. Re-recording a triple
	// is a no-op, so concurrent dispatch sweeps never produce duplicates.
	RecordSent(ctx context.Context, rec AlertRecord) error
}

// Classifier produces a classification for article text. Implementations
// must always return a usable Classification: when the external collaborator
// fails, the deterministic fallback path applies and the result carries the
// Fallback marker.
type Classifier interface {
	Classify(ctx context.Context, title, body string) (Classification, error)
}

// ChatCompleter is the external LLM collaborator: a function from prompt
// text to a raw JSON document. Any schema deviation in the returned payload
// is treated by callers as a hard failure.
type ChatCompleter interface {
	CompleteJSON(ctx context.Context, system, user string) ([]byte, error)
}

// Mailer delivers a batch of messages and reports per-recipient results.
type Mailer interface {
	SendBatch(ctx context.Context, msgs []Message) []SendResult
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
