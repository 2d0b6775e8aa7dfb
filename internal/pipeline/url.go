package pipeline

import (
	"fmt"
	"net/url"
	"strings"
)

// Tracking query parameters stripped during canonicalization.
var trackingParams = map[string]bool{
	"utm":          true,
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"fbclid":       true,
	"gclid":        true,
	"mc_cid":       true,
	"mc_eid":       true,
	"ref":          true,
	"source":       true,
}

// CanonicalURL normalizes raw into the stable dedup key: scheme and host are
// lowercased, tracking query parameters are dropped, and the trailing slash
// is trimmed from non-root paths. Fragments survive because civic sources
// address individual agenda items with them. Two listings of the same
// article that differ only in tracking noise canonicalize identically.
func CanonicalURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q missing scheme or host", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.RawQuery != "" {
		q := u.Query()
		for param := range q {
			if trackingParams[strings.ToLower(param)] {
				q.Del(param)
			}
		}
		u.RawQuery = q.Encode()
	}

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), nil
}
