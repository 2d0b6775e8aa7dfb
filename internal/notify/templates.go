package notify

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/eagleharbor/monitor/internal/pipeline"
)

// Email bodies stay deliberately simple: inline styles only, no external
// assets, so they render the same in every client.

var verificationTmpl = template.Must(template.New("verification").Parse(`<html><body style="font-family: sans-serif; color: #111827;">
<h2 style="color: #1e40af;">Confirm your subscription</h2>
<p>You asked to receive data center development alerts for Prince George's
and Charles County, Maryland. Click below to confirm.</p>
<p style="text-align: center; margin: 30px 0;">
  <a href="{{.VerifyURL}}" style="background: #1e40af; color: white; padding: 12px 30px; text-decoration: none; border-radius: 5px; display: inline-block;">Verify Email</a>
</p>
<p style="color: #6b7280; font-size: 13px;">Or open this link:
  <a href="{{.VerifyURL}}">{{.VerifyURL}}</a></p>
<p style="color: #6b7280; font-size: 13px;">If you did not subscribe, ignore this message.</p>
</body></html>`))

var welcomeTmpl = template.Must(template.New("welcome").Parse(`<html><body style="font-family: sans-serif; color: #111827;">
<h2 style="color: #1e40af;">You're subscribed</h2>
<p>You will now receive instant alerts for high-priority items and a weekly
digest of data center development activity in Prince George's and Charles
County.</p>
<p style="text-align: center; margin: 30px 0;">
  <a href="{{.AppURL}}" style="background: #1e40af; color: white; padding: 12px 30px; text-decoration: none; border-radius: 5px; display: inline-block;">Visit the site</a>
</p>
<p style="color: #6b7280; font-size: 13px;">
  <a href="{{.UnsubscribeURL}}" style="color: #6b7280;">Unsubscribe</a></p>
</body></html>`))

var instantTmpl = template.Must(template.New("instant").Parse(`<html><body style="font-family: sans-serif; color: #111827;">
<h2 style="color: #b91c1c;">High-priority alert</h2>
<h3>{{.Title}}</h3>
<p>{{.Summary}}</p>
<p style="text-align: center; margin: 30px 0;">
  <a href="{{.ArticleURL}}" style="background: #1e40af; color: white; padding: 12px 30px; text-decoration: none; border-radius: 5px; display: inline-block;">Read the source</a>
</p>
<p style="color: #6b7280; font-size: 13px;">Priority {{.Priority}} &middot; {{.Category}}</p>
<p style="color: #6b7280; font-size: 13px;">
  <a href="{{.UnsubscribeURL}}" style="color: #6b7280;">Unsubscribe</a></p>
</body></html>`))

var digestTmpl = template.Must(template.New("digest").Parse(`<html><body style="font-family: sans-serif; color: #111827;">
<h2 style="color: #1e40af;">Weekly data center digest</h2>
<p>Top items from the past week in Prince George's and Charles County.</p>
{{range .Articles}}
<div style="margin: 16px 0; padding: 12px; border-left: 3px solid #1e40af;">
  <a href="{{.URL}}" style="color: #1e40af; font-weight: bold;">{{.Title}}</a>
  <p style="margin: 6px 0;">{{.Summary}}</p>
  <span style="color: #6b7280; font-size: 13px;">Priority {{.Priority}} &middot; {{.Category}}</span>
</div>
{{end}}
{{if .Events}}
<h3 style="color: #1e40af;">Upcoming events</h3>
<ul>
{{range .Events}}<li><strong>{{.When}}</strong> &mdash; {{.Title}}{{if .Location}} ({{.Location}}){{end}}</li>
{{end}}</ul>
{{end}}
<p style="color: #6b7280; font-size: 13px;">
  <a href="{{.UnsubscribeURL}}" style="color: #6b7280;">Unsubscribe</a> |
  <a href="{{.AppURL}}" style="color: #6b7280;">Website</a></p>
</body></html>`))

type digestArticle struct {
	Title    string
	URL      string
	Summary  string
	Priority int
	Category string
}

type digestEvent struct {
	When     string
	Title    string
	Location string
}

func renderVerification(appURL, token string) (string, error) {
	return render(verificationTmpl, map[string]string{
		"VerifyURL": appURL + "/verify/" + token,
	})
}

func renderWelcome(appURL, unsubscribeToken string) (string, error) {
	return render(welcomeTmpl, map[string]string{
		"AppURL":         appURL,
		"UnsubscribeURL": appURL + "/unsubscribe/" + unsubscribeToken,
	})
}

func renderInstant(appURL, unsubscribeToken string, art pipeline.Article) (string, error) {
	priority := 0
	if art.PriorityScore != nil {
		priority = *art.PriorityScore
	}
	return render(instantTmpl, map[string]any{
		"Title":          art.Title,
		"Summary":        art.Summary,
		"ArticleURL":     art.CanonicalURL,
		"Priority":       priority,
		"Category":       string(art.Category),
		"UnsubscribeURL": appURL + "/unsubscribe/" + unsubscribeToken,
	})
}

func renderDigest(appURL, unsubscribeToken string, arts []pipeline.Article, evs []pipeline.Event) (string, error) {
	das := make([]digestArticle, 0, len(arts))
	for _, a := range arts {
		priority := 0
		if a.PriorityScore != nil {
			priority = *a.PriorityScore
		}
		das = append(das, digestArticle{
			Title:    a.Title,
			URL:      a.CanonicalURL,
			Summary:  a.Summary,
			Priority: priority,
			Category: string(a.Category),
		})
	}
	des := make([]digestEvent, 0, len(evs))
	for _, e := range evs {
		des = append(des, digestEvent{
			When:     e.StartsAt.Format("Mon Jan 2, 3:04 PM"),
			Title:    e.Title,
			Location: e.Location,
		})
	}
	return render(digestTmpl, map[string]any{
		"Articles":       das,
		"Events":         des,
		"AppURL":         appURL,
		"UnsubscribeURL": appURL + "/unsubscribe/" + unsubscribeToken,
	})
}

func render(t *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return sb.String(), nil
}

func digestSubject(now time.Time) string {
	return "Weekly Data Center Digest - " + now.Format("Jan 2, 2006")
}

func instantSubject(art pipeline.Article) string {
	return "Alert: " + art.Title
}
