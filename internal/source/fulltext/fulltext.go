// Package fulltext fetches and extracts the readable body of an article page.
// Extraction is best-effort: every failure mode yields an empty string so
// adapters can fall back to whatever summary the source provided.
package fulltext

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// maxBodyChars caps stored article text; anything past this adds LLM cost
// without adding classification signal.
const maxBodyChars = 5000

// maxFetchBytes bounds how much of a page we are willing to read.
const maxFetchBytes = 5 << 20

// Extractor dereferences article URLs and pulls out readable text.
type Extractor struct {
	client    *http.Client
	userAgent string
}

// New builds an Extractor with the given per-fetch timeout.
func New(timeout time.Duration, userAgent string) *Extractor {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Extractor{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Extract fetches pageURL and returns its readable text, capped at 5000
// characters. Any failure returns an empty string and the error for logging;
// callers treat both as "no full text available".
func (e *Extractor) Extract(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	article, err := readability.FromReader(strings.NewReader(string(body)), parsed)
	if err != nil {
		return "", fmt.Errorf("readability parse: %w", err)
	}

	return Clean(article.TextContent), nil
}

// Clean collapses whitespace and caps the text length.
func Clean(text string) string {
	fields := strings.Fields(text)
	joined := strings.Join(fields, " ")
	if len(joined) > maxBodyChars {
		joined = joined[:maxBodyChars]
	}
	return joined
}
