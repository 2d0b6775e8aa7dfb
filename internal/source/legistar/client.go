// Package legistar implements the civic-records source adapter. It walks a
// Legistar-style JSON API: parent meeting records, their nested agenda-item
// sub-resources, and recently modified legislation.
package legistar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is a minimal OData-flavored JSON API client.
type Client struct {
	baseURL  string
	pageSize int
	http     *http.Client
}

// NewClient builds a Client against baseURL, e.g.
// "https://webapi.legistar.com/v1/princegeorgescountymd".
func NewClient(baseURL string, pageSize int, timeout time.Duration) *Client {
	if pageSize <= 0 {
		pageSize = 200
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  baseURL,
		pageSize: pageSize,
		http:     &http.Client{Timeout: timeout},
	}
}

// MeetingRecord mirrors the API's event resource.
type MeetingRecord struct {
	EventID         int    `json:"EventId"`
	EventBodyName   string `json:"EventBodyName"`
	EventDate       string `json:"EventDate"`
	EventComment    string `json:"EventComment"`
	EventInSiteURL  string `json:"EventInSiteURL"`
	EventAgendaFile string `json:"EventAgendaFile"`
}

// AgendaItem mirrors the API's event-item sub-resource.
type AgendaItem struct {
	EventItemID         int    `json:"EventItemId"`
	EventItemTitle      string `json:"EventItemTitle"`
	EventItemMatterName string `json:"EventItemMatterName"`
	EventItemMatterID   *int   `json:"EventItemMatterId"`
}

// Matter mirrors the API's legislation resource.
type Matter struct {
	MatterID         int    `json:"MatterId"`
	MatterTitle      string `json:"MatterTitle"`
	MatterName       string `json:"MatterName"`
	MatterTypeName   string `json:"MatterTypeName"`
	MatterBodyName   string `json:"MatterBodyName"`
	MatterStatusName string `json:"MatterStatusName"`
	MatterFile       string `json:"MatterFile"`
}

// Meetings lists events on or after since, newest first.
func (c *Client) Meetings(ctx context.Context, since time.Time) ([]MeetingRecord, error) {
	q := url.Values{}
	q.Set("$top", fmt.Sprintf("%d", c.pageSize))
	q.Set("$orderby", "EventDate desc")
	q.Set("$filter", fmt.Sprintf("EventDate ge datetime'%s'", since.Format("2006-01-02")))

	var meetings []MeetingRecord
	if err := c.getJSON(ctx, "/events", q, &meetings); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return meetings, nil
}

// AgendaItems lists the nested agenda items of one meeting.
func (c *Client) AgendaItems(ctx context.Context, eventID int) ([]AgendaItem, error) {
	var items []AgendaItem
	path := fmt.Sprintf("/events/%d/eventitems", eventID)
	if err := c.getJSON(ctx, path, nil, &items); err != nil {
		return nil, fmt.Errorf("list event items for %d: %w", eventID, err)
	}
	return items, nil
}

// Matters lists legislation modified on or after since, newest first.
func (c *Client) Matters(ctx context.Context, since time.Time) ([]Matter, error) {
	q := url.Values{}
	q.Set("$top", fmt.Sprintf("%d", c.pageSize))
	q.Set("$orderby", "MatterLastModifiedUtc desc")
	q.Set("$filter", fmt.Sprintf(
		"MatterLastModifiedUtc ge datetime'%s'", since.Format("2006-01-02")+"T00:00:00"))

	var matters []Matter
	if err := c.getJSON(ctx, "/matters", q, &matters); err != nil {
		return nil, fmt.Errorf("list matters: %w", err)
	}
	return matters, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("get %s: status %d: %s", path, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
