// Package classify scores stored articles for relevance and priority. The
// model path goes through an OpenAI-compatible endpoint; every failure path
// lands on a deterministic keyword fallback so the pipeline keeps moving
// when the model is down.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eagleharbor/monitor/internal/metrics"
	"github.com/eagleharbor/monitor/internal/pipeline"
)

const systemPrompt = "You are an expert analyst for Maryland data center " +
	"policy and development. Analyze articles and return JSON only."

const userPromptFmt = `Analyze this article about Prince George's or Charles County, Maryland:

Title: %s
Content: %s

Analyze for data center relevance and provide JSON with these exact keys:
1. relevance_score (0-10): How relevant is this to data center development?
2. priority_score (1-10): How urgent/important is this?
3. category: One of [policy, meeting, legislation, environmental, community, development]
4. region_tag: One of [prince_georges, charles, both, unclear]
5. summary: 2-3 sentence summary
6. key_points: List of 3-5 key takeaways

Focus on zoning changes (AR zone, RE zone), legislative amendments, Planning
Board actions, environmental impacts, community meetings, and Task Force
activities (CR-98-2025, EO 42-2025).`

// Article bodies are truncated before prompting to bound token spend.
const promptBodyChars = 2000

// Gateway is the retrying front door to the model. Classify never returns
// a failed classification without a usable result: when the model path is
// exhausted the keyword fallback fills in, marked so callers can persist
// the degraded state.
type Gateway struct {
	chat   pipeline.ChatCompleter
	retry  *pipeline.ExponentialRetryPolicy
	logger *zap.Logger
}

// NewGateway constructs a Gateway. chat may be nil to force fallback-only
// operation (classifier disabled in config).
func NewGateway(chat pipeline.ChatCompleter, retry *pipeline.ExponentialRetryPolicy, logger *zap.Logger) *Gateway {
	if retry == nil {
		retry = pipeline.NewExponentialRetryPolicy()
	}
	return &Gateway{chat: chat, retry: retry, logger: logger}
}

// Classify scores one article. The returned error is non-nil only when ctx
// is done; every other failure degrades to the fallback result.
func (g *Gateway) Classify(ctx context.Context, title, body string) (pipeline.Classification, error) {
	if g.chat == nil {
		return FallbackClassify(title, body), nil
	}

	if len(body) > promptBodyChars {
		body = body[:promptBodyChars]
	}
	user := fmt.Sprintf(userPromptFmt, title, body)

	var lastErr error
	for attempt := 1; attempt <= g.retry.MaxAttempts(); attempt++ {
		start := time.Now()
		raw, err := g.chat.CompleteJSON(ctx, systemPrompt, user)
		metrics.ObserveClassifierCall(time.Since(start))
		if err == nil {
			c, parseErr := parseClassification(raw)
			if parseErr == nil {
				return c, nil
			}
			// Malformed model output is not retried.
			lastErr = parseErr
			break
		}
		lastErr = err
		if !g.retry.ShouldRetry(err, attempt) {
			break
		}
		select {
		case <-ctx.Done():
			return pipeline.Classification{}, ctx.Err()
		case <-time.After(g.retry.Backoff(attempt)):
		}
	}

	if ctx.Err() != nil {
		return pipeline.Classification{}, ctx.Err()
	}

	g.logger.Warn("model classification failed, using keyword fallback",
		zap.String("title", title), zap.Error(lastErr))
	return FallbackClassify(title, body), nil
}

// modelResult is the wire schema the model is prompted to return.
type modelResult struct {
	RelevanceScore *int     `json:"relevance_score"`
	PriorityScore  *int     `json:"priority_score"`
	Category       string   `json:"category"`
	RegionTag      string   `json:"region_tag"`
	Summary        string   `json:"summary"`
	KeyPoints      []string `json:"key_points"`
}

// parseClassification validates the model payload at the trust boundary.
// Missing or out-of-range scores are hard failures; unknown enum values are
// coerced to the catch-all buckets.
func parseClassification(raw []byte) (pipeline.Classification, error) {
	var r modelResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return pipeline.Classification{}, fmt.Errorf("decode model output: %w", err)
	}
	if r.RelevanceScore == nil || r.PriorityScore == nil {
		return pipeline.Classification{}, fmt.Errorf("model output missing scores")
	}
	if *r.RelevanceScore < 0 || *r.RelevanceScore > 10 {
		return pipeline.Classification{}, fmt.Errorf("relevance_score %d out of range", *r.RelevanceScore)
	}
	if *r.PriorityScore < 1 || *r.PriorityScore > 10 {
		return pipeline.Classification{}, fmt.Errorf("priority_score %d out of range", *r.PriorityScore)
	}

	category := pipeline.Category(r.Category)
	if !pipeline.ValidCategory(category) {
		category = pipeline.CategoryDevelopment
	}
	region := pipeline.RegionTag(r.RegionTag)
	if !pipeline.ValidRegion(region) {
		region = pipeline.RegionUnclear
	}

	return pipeline.Classification{
		RelevanceScore: *r.RelevanceScore,
		PriorityScore:  *r.PriorityScore,
		Category:       category,
		RegionTag:      region,
		Summary:        r.Summary,
		KeyPoints:      r.KeyPoints,
	}, nil
}
