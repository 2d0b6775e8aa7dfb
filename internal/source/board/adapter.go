// Package board scrapes the county planning-board website, which exposes
// neither an API nor a feed. Two passes per run: the news and press-release
// listing pages for posts, and the meetings page for agenda and minutes links.
package board

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/eagleharbor/monitor/internal/config"
	"github.com/eagleharbor/monitor/internal/pipeline"
	"github.com/eagleharbor/monitor/internal/source/fulltext"
)

const sourceName = "planning_board"

const defaultMaxPerPage = 25

// Agenda and minutes links on the meetings page carry this title prefix so
// they are distinguishable from ordinary posts downstream.
const agendaTitlePrefix = "[PB Agenda] "

// Adapter implements pipeline.SourceAdapter over the board's WordPress-style
// site. The site serves static HTML, so a plain collector is enough.
type Adapter struct {
	cfg       config.BoardConfig
	userAgent string
	keywords  *pipeline.KeywordMatcher
	extractor *fulltext.Extractor
	clock     pipeline.Clock
	logger    *zap.Logger
}

// New constructs the adapter. extractor may be nil to skip body fetches.
func New(
	keywords *pipeline.KeywordMatcher,
	extractor *fulltext.Extractor,
	clock pipeline.Clock,
	cfg config.BoardConfig,
	userAgent string,
	logger *zap.Logger,
) *Adapter {
	return &Adapter{
		cfg:       cfg,
		userAgent: userAgent,
		keywords:  keywords,
		extractor: extractor,
		clock:     clock,
		logger:    logger,
	}
}

// Name identifies the adapter in logs, metrics, and stored articles.
func (a *Adapter) Name() string { return sourceName }

// Fetch runs the listing and meetings passes. Individual page failures are
// logged and skipped; the pass fails as a whole only when every page fails.
func (a *Adapter) Fetch(ctx context.Context) ([]pipeline.CandidateRecord, error) {
	var records []pipeline.CandidateRecord
	pages := 0
	failed := 0

	for _, path := range a.cfg.ListingPaths {
		pages++
		recs, err := a.scrapeListing(ctx, a.cfg.BaseURL+path)
		if err != nil {
			failed++
			a.logger.Warn("listing page failed",
				zap.String("path", path), zap.Error(err))
			continue
		}
		records = append(records, recs...)
	}

	if a.cfg.MeetingsPath != "" {
		pages++
		recs, err := a.scrapeMeetings(ctx, a.cfg.BaseURL+a.cfg.MeetingsPath)
		if err != nil {
			failed++
			a.logger.Warn("meetings page failed", zap.Error(err))
		} else {
			records = append(records, recs...)
		}
	}

	if pages > 0 && failed == pages {
		return nil, fmt.Errorf("all %d board pages failed", pages)
	}
	return records, nil
}

// post is one candidate extracted from a listing page before filtering.
type post struct {
	url     string
	title   string
	excerpt string
}

func (a *Adapter) scrapeListing(ctx context.Context, pageURL string) ([]pipeline.CandidateRecord, error) {
	var (
		posts    []post
		pageErr  error
		maxPosts = a.maxPerPage()
	)

	c := a.newCollector()

	c.OnHTML("html", func(e *colly.HTMLElement) {
		sel := e.DOM.Find("article, div.post, div.entry, div.news-item")
		if sel.Length() == 0 {
			// Fallback for themes without post containers: bare site-local
			// links, skipping taxonomy and pagination URLs.
			seen := map[string]bool{}
			e.DOM.Find("a[href]").EachWithBreak(func(_ int, link *goquery.Selection) bool {
				href, _ := link.Attr("href")
				if !strings.HasPrefix(href, a.cfg.BaseURL) || href == pageURL || seen[href] {
					return true
				}
				if strings.Contains(href, "/category/") || strings.Contains(href, "/page/") ||
					strings.Contains(href, "/tag/") || strings.Contains(href, "/meetings/") {
					return true
				}
				seen[href] = true
				posts = append(posts, post{
					url:   href,
					title: strings.TrimSpace(link.Text()),
				})
				return len(posts) < maxPosts
			})
			return
		}

		sel.EachWithBreak(func(_ int, elem *goquery.Selection) bool {
			link := elem.Find("a[href]").First()
			href, ok := link.Attr("href")
			if !ok || !strings.HasPrefix(href, "http") {
				return true
			}
			title := strings.TrimSpace(elem.Find("h1, h2, h3, h4").First().Text())
			if title == "" {
				title = strings.TrimSpace(link.Text())
			}
			posts = append(posts, post{
				url:     href,
				title:   title,
				excerpt: strings.TrimSpace(elem.Find("p").First().Text()),
			})
			return len(posts) < maxPosts
		})
	})
	c.OnError(func(_ *colly.Response, err error) { pageErr = err })

	if err := c.Request("GET", pageURL, nil, colly.NewContext(), nil); err != nil {
		return nil, err
	}
	c.Wait()
	if pageErr != nil {
		return nil, pageErr
	}

	var records []pipeline.CandidateRecord
	for _, p := range posts {
		// Very short titles are navigation chrome, not posts.
		if len(p.title) < 10 {
			continue
		}
		if !a.keywords.Match(p.title + " " + p.excerpt) {
			continue
		}
		records = append(records, pipeline.CandidateRecord{
			SourceName:   sourceName,
			URL:          p.url,
			Title:        p.title,
			Body:         a.fetchBody(ctx, p.url, p.excerpt),
			DiscoveredAt: a.clock.Now(),
		})
	}
	return records, nil
}

func (a *Adapter) scrapeMeetings(ctx context.Context, pageURL string) ([]pipeline.CandidateRecord, error) {
	type meetingLink struct {
		url   string
		text  string
		title string
	}
	var (
		links   []meetingLink
		pageErr error
	)

	c := a.newCollector()
	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		links = append(links, meetingLink{
			url:   e.Attr("href"),
			text:  strings.TrimSpace(e.Text),
			title: e.Attr("title"),
		})
	})
	c.OnError(func(_ *colly.Response, err error) { pageErr = err })

	if err := c.Request("GET", pageURL, nil, colly.NewContext(), nil); err != nil {
		return nil, err
	}
	c.Wait()
	if pageErr != nil {
		return nil, pageErr
	}

	var records []pipeline.CandidateRecord
	for _, l := range links {
		if !isMeetingDoc(l.url, l.text) {
			continue
		}
		if !a.keywords.Match(l.text + " " + l.title) {
			continue
		}
		href := l.url
		if !strings.HasPrefix(href, "http") {
			href = a.cfg.BaseURL + href
		}

		// PDFs are linked as-is; only HTML documents get a body fetch.
		body := l.text
		if !strings.HasSuffix(href, ".pdf") {
			body = a.fetchBody(ctx, href, l.text)
		}

		records = append(records, pipeline.CandidateRecord{
			SourceName:   sourceName,
			URL:          href,
			Title:        agendaTitlePrefix + l.text,
			Body:         body,
			DiscoveredAt: a.clock.Now(),
		})
	}
	return records, nil
}

// isMeetingDoc accepts links whose text names a meeting document, plus any
// PDF regardless of its text.
func isMeetingDoc(href, text string) bool {
	lower := strings.ToLower(text)
	for _, t := range []string{"agenda", "minutes", "meeting"} {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return strings.HasSuffix(href, ".pdf")
}

func (a *Adapter) fetchBody(ctx context.Context, pageURL, fallback string) string {
	if a.extractor == nil {
		return fulltext.Clean(fallback)
	}
	body, err := a.extractor.Extract(ctx, pageURL)
	if err != nil || body == "" {
		a.logger.Debug("post body fetch failed",
			zap.String("url", pageURL), zap.Error(err))
		return fulltext.Clean(fallback)
	}
	return body
}

func (a *Adapter) newCollector() *colly.Collector {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	if a.userAgent != "" {
		c.UserAgent = a.userAgent
	}
	timeout := a.cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	c.SetRequestTimeout(timeout)
	return c
}

func (a *Adapter) maxPerPage() int {
	if a.cfg.MaxPerPage > 0 {
		return a.cfg.MaxPerPage
	}
	return defaultMaxPerPage
}
