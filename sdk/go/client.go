package stallplansdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Stallplan HTTP API client.
type Client struct {
	BaseURL string
	// BasePath is the API prefix; empty means /v0.
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
	}
}

// TierInput is the requested count and editor-unit size of one tier.
type TierInput struct {
	Count  int     `json:"count"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Fulfillment reports placed versus required stalls for one tier.
type Fulfillment struct {
	CategoryID int    `json:"category_id"`
	Label      string `json:"label"`
	Required   int    `json:"required"`
	Placed     int    `json:"placed"`
}

// Layout is the result of a placement request. Layout holds the merged
// floor plan verbatim so unknown shape fields survive a round trip.
type Layout struct {
	RunID       string          `json:"run_id"`
	Seed        string          `json:"seed"`
	Layout      json.RawMessage `json:"layout"`
	Fulfillment []Fulfillment   `json:"fulfillment"`
	Placed      int             `json:"placed"`
	Required    int             `json:"required"`
	Complete    bool            `json:"complete"`
	OracleError string          `json:"oracle_error,omitempty"`
}

type Run struct {
	ID          string        `json:"id"`
	Source      string        `json:"source"`
	ActorID     string        `json:"actor_id,omitempty"`
	Seed        string        `json:"seed"`
	Oracle      string        `json:"oracle"`
	OracleError string        `json:"oracle_error,omitempty"`
	Required    int           `json:"required"`
	Placed      int           `json:"placed"`
	Complete    bool          `json:"complete"`
	Fulfillment []Fulfillment `json:"fulfillment"`
	DurationMS  int64         `json:"duration_ms"`
	CreatedAt   string        `json:"created_at"`
}

// Stall is one placed stall in hall units.
type Stall struct {
	Seq        int     `json:"seq"`
	ShapeID    string  `json:"shape_id"`
	CategoryID int     `json:"category_id"`
	Tier       string  `json:"tier"`
	Stage      string  `json:"stage"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
}

type RunDetail struct {
	Run    Run             `json:"run"`
	Stalls []Stall         `json:"stalls"`
	Layout json.RawMessage `json:"layout"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses. Code is set when the body is the
// standard error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

type PaginatedRuns struct {
	Items      []Run  `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// LayoutOptions are optional knobs for CreateLayout.
type LayoutOptions struct {
	Seed     *uint64
	NoOracle bool
}

// Health returns nil when the API answers its health check.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

// CreateLayout places stalls on document, an editor floor plan.
func (c *Client) CreateLayout(ctx context.Context, document json.RawMessage, inputs map[string]TierInput, opts LayoutOptions) (Layout, error) {
	body := map[string]any{
		"document": document,
		"inputs":   inputs,
	}
	if opts.Seed != nil {
		body["seed"] = *opts.Seed
	}
	if opts.NoOracle {
		body["no_oracle"] = true
	}
	var resp Layout
	err := c.do(ctx, http.MethodPost, "layouts", body, &resp)
	return resp, err
}

// Predict uses the multipart endpoint the floor-plan editor calls and
// returns the merged floor plan.
func (c *Client) Predict(ctx context.Context, document []byte, inputs map[string]TierInput) (json.RawMessage, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "floorplan.json")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(document); err != nil {
		return nil, err
	}
	rawInputs, err := json.Marshal(inputs)
	if err != nil {
		return nil, err
	}
	if err := mw.WriteField("userInputs", string(rawInputs)); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	var resp struct {
		Status int             `json:"status"`
		Layout json.RawMessage `json:"layout"`
	}
	if err := c.send(ctx, http.MethodPost, "predict", &buf, mw.FormDataContentType(), &resp); err != nil {
		return nil, err
	}
	return resp.Layout, nil
}

// GetRun fetches a stored run with its stalls and layout.
func (c *Client) GetRun(ctx context.Context, id string) (RunDetail, error) {
	var resp RunDetail
	err := c.do(ctx, http.MethodGet, "runs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// RunsPage returns one page of runs, newest first. source may be empty.
func (c *Client) RunsPage(ctx context.Context, source string, limit int, cursor string) (PaginatedRuns, error) {
	q := url.Values{}
	if source != "" {
		q.Set("source", source)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedRuns
	err := c.do(ctx, http.MethodGet, withQuery("runs", q), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	return c.send(ctx, method, endpoint, &buf, "application/json", out)
}

func (c *Client) send(ctx context.Context, method, endpoint string, body io.Reader, contentType string, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	basePath := c.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(basePath, "/")
}
