package speclinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal specline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no bearer token is set.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Spec represents the API spec model (partial).
type Spec struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Type          string   `json:"type"`
	Status        string   `json:"status"`
	DisplayStatus string   `json:"display_status"`
	DependsOn     []string `json:"depends_on"`
	CompletedAt   string   `json:"completed_at"`
	Archived      bool     `json:"archived"`
	Body          string   `json:"body"`
}

// Blocker is one unmet readiness condition.
type Blocker struct {
	Kind   string `json:"kind"`
	ID     string `json:"id"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// Blockers explains why a spec cannot start.
type Blockers struct {
	ID       string    `json:"id"`
	Ready    bool      `json:"ready"`
	Blockers []Blocker `json:"blockers"`
}

// ID is a parsed spec id.
type ID struct {
	ID       string `json:"id"`
	Repo     string `json:"repo"`
	Project  string `json:"project"`
	Base     string `json:"base"`
	Date     string `json:"date"`
	Sequence string `json:"sequence"`
	Suffix   string `json:"suffix"`
	Members  []int  `json:"members"`
	DriverID string `json:"driver_id"`
}

// Event represents a journal entry.
type Event struct {
	Seq     int64  `json:"seq"`
	ID      string `json:"id"`
	TS      string `json:"ts"`
	Type    string `json:"type"`
	SpecID  string `json:"spec_id"`
	Actor   string `json:"actor"`
	Payload string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// ListSpecs returns active specs; status filters by display status.
func (c *Client) ListSpecs(ctx context.Context, status string) ([]Spec, error) {
	endpoint := "specs"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Spec
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetSpec fetches one spec, local, archived or repo:id.
func (c *Client) GetSpec(ctx context.Context, id string) (Spec, error) {
	var resp Spec
	err := c.do(ctx, http.MethodGet, "specs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Ready returns specs that can start now.
func (c *Client) Ready(ctx context.Context) ([]Spec, error) {
	var resp []Spec
	err := c.do(ctx, http.MethodGet, "ready", nil, &resp)
	return resp, err
}

// Blockers explains why id cannot start.
func (c *Client) Blockers(ctx context.Context, id string) (Blockers, error) {
	var resp Blockers
	err := c.do(ctx, http.MethodGet, "specs/"+url.PathEscape(id)+"/blockers", nil, &resp)
	return resp, err
}

// Transition changes the status of a work item. force needs the spec.force permission.
func (c *Client) Transition(ctx context.Context, id, status string, force bool, reason string) (Spec, error) {
	body := map[string]any{
		"status": status,
		"force":  force,
	}
	if reason != "" {
		body["reason"] = reason
	}
	var resp Spec
	err := c.do(ctx, http.MethodPost, "specs/"+url.PathEscape(id)+"/transition", body, &resp)
	return resp, err
}

// Order returns active specs in dependency order.
func (c *Client) Order(ctx context.Context) ([]string, error) {
	var resp struct {
		Order []string `json:"order"`
	}
	err := c.do(ctx, http.MethodGet, "graph/order", nil, &resp)
	return resp.Order, err
}

// Cycles returns every dependency cycle.
func (c *Client) Cycles(ctx context.Context) ([][]string, error) {
	var resp struct {
		Cycles [][]string `json:"cycles"`
	}
	err := c.do(ctx, http.MethodGet, "graph/cycles", nil, &resp)
	return resp.Cycles, err
}

// ParseID asks the server to parse id.
func (c *Client) ParseID(ctx context.Context, id string) (ID, error) {
	var resp ID
	err := c.do(ctx, http.MethodGet, "ids/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// NextID returns the next id without creating a spec.
func (c *Client) NextID(ctx context.Context) (ID, error) {
	var resp ID
	err := c.do(ctx, http.MethodPost, "ids", nil, &resp)
	return resp, err
}

// Events returns journal events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
