package stallplansdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"stallplan/internal/config"
	"stallplan/internal/db"
	"stallplan/internal/engine"
	"stallplan/internal/migrate"
	"stallplan/internal/server"
)

const floorPlan = `{"hallArea":{"width":200,"height":120},"shapes":[{"id":"p1","type":"rectangle","x":80,"y":40,"width":20,"height":20,"points":[],"color":"#999"}]}`

func newTestAPI(t *testing.T, auth server.AuthConfig) (*httptest.Server, engine.Engine) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default(), nil, nil)
	handler, err := server.New(server.Config{Engine: e, BasePath: "/v0", Auth: auth})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, e
}

func TestClientLayoutRoundTrip(t *testing.T) {
	srv, _ := newTestAPI(t, server.AuthConfig{})
	c := New(srv.URL)
	ctx := context.Background()
	if err := c.Health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}
	seed := uint64(3)
	res, err := c.CreateLayout(ctx, json.RawMessage(floorPlan), map[string]TierInput{
		"Silver": {Count: 2, Width: 8, Height: 6},
	}, LayoutOptions{Seed: &seed})
	if err != nil {
		t.Fatalf("create layout: %v", err)
	}
	if !res.Complete || res.Placed != 2 || res.Seed != "3" {
		t.Fatalf("unexpected layout %+v", res)
	}
	var doc struct {
		Shapes []map[string]any `json:"shapes"`
	}
	if err := json.Unmarshal(res.Layout, &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.Shapes) != 3 || doc.Shapes[0]["color"] != "#999" {
		t.Fatalf("layout lost shapes: %s", res.Layout)
	}

	detail, err := c.GetRun(ctx, res.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if detail.Run.Source != "api" || len(detail.Stalls) != 2 {
		t.Fatalf("unexpected run %+v", detail)
	}

	layout, err := c.Predict(ctx, []byte(floorPlan), map[string]TierInput{"Bronze": {Count: 1, Width: 4, Height: 4}})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if err := json.Unmarshal(layout, &doc); err != nil || len(doc.Shapes) != 2 {
		t.Fatalf("predict layout: %v %s", err, layout)
	}

	runs, err := c.RunsPage(ctx, "", 1, "")
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs.Items) != 1 || runs.Items[0].Source != "predict" || runs.NextCursor == "" {
		t.Fatalf("unexpected runs page %+v", runs)
	}
	next, err := c.RunsPage(ctx, "", 1, runs.NextCursor)
	if err != nil {
		t.Fatalf("runs page 2: %v", err)
	}
	if len(next.Items) != 1 || next.Items[0].ID != res.RunID {
		t.Fatalf("unexpected second page %+v", next)
	}

	events, err := c.Events(ctx, 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 || events[0].Type != "run.created" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestClientErrors(t *testing.T) {
	srv, e := newTestAPI(t, server.AuthConfig{JWTSecret: "s3cret", Required: true})
	ctx := context.Background()

	c := New(srv.URL)
	_, err := c.Events(ctx, 1)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 401 || apiErr.Code != "unauthorized" {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	_, secret, err := e.CreateAPIKey(ctx, "ci", "sdk")
	if err != nil {
		t.Fatal(err)
	}
	c.APIKey = secret
	_, err = c.CreateLayout(ctx, json.RawMessage(floorPlan), map[string]TierInput{
		"Gold": {Count: 1, Width: -2, Height: 3},
	}, LayoutOptions{})
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 400 || apiErr.Code != "invalid_config" {
		t.Fatalf("expected invalid_config, got %v", err)
	}

	token, err := server.SignToken("s3cret", "alice", 0)
	if err != nil {
		t.Fatal(err)
	}
	c = &Client{BaseURL: srv.URL, BearerToken: token}
	_, err = c.GetRun(ctx, "nope")
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 404 {
		t.Fatalf("expected 404, got %v", err)
	}
}
