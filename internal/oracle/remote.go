package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"stallplan/internal/placement"
)

// Remote calls a prediction service over HTTP.
//
// Request:  {"features": [..]}
// Response: {"classes": [..], "coords": [[x, y, w, h], ..]}
type Remote struct {
	URL        string
	HTTPClient *http.Client
	Timeout    time.Duration
}

type remoteRequest struct {
	Features []float64 `json:"features"`
}

type remoteResponse struct {
	Classes []int       `json:"classes"`
	Coords  [][]float64 `json:"coords"`
}

func (r *Remote) Predict(ctx context.Context, features []float64) ([]placement.Candidate, error) {
	if r.URL == "" {
		return nil, fmt.Errorf("remote oracle url not configured")
	}
	client := r.HTTPClient
	if client == nil {
		timeout := r.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(remoteRequest{Features: features}); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oracle request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("oracle status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}
	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode oracle response: %w", err)
	}
	return Decode(out.Classes, out.Coords), nil
}
