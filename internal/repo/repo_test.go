package repo_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"stallplan/internal/db"
	"stallplan/internal/domain"
	"stallplan/internal/events"
	"stallplan/internal/migrate"
	"stallplan/internal/placement"
	"stallplan/internal/repo"
)

func openRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func insertRun(t *testing.T, r repo.Repo, id string, created time.Time, source string, complete bool) {
	t.Helper()
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	run := domain.Run{
		ID:          id,
		Source:      source,
		Seed:        "18446744073709551615",
		Oracle:      "none",
		Required:    2,
		Placed:      1,
		Complete:    complete,
		Fulfillment: []placement.Fulfillment{{CategoryID: 1, Label: "Platinum", Required: 2, Placed: 1}},
		CreatedAt:   created.UTC().Format(repo.TimeLayout),
	}
	docs := repo.RunDocuments{Inputs: []byte(`{}`), Document: []byte(`{"hallArea":{"width":1,"height":1},"shapes":[]}`), Layout: []byte(`{}`)}
	stalls := []domain.Stall{{RunID: id, Seq: 0, ShapeID: "0000000000001", CategoryID: 1, Tier: "platinum", Stage: "grid", X1: 0, Y1: 0, X2: 6, Y2: 4}}
	if err := r.InsertRunTx(ctx, tx, run, docs, stalls); err != nil {
		t.Fatalf("insert run: %v", err)
	}
	if err := (events.Writer{DB: r.DB}).Append(ctx, tx, events.RunCreated, "run", id, "tester", events.EventPayload{"source": source}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestRunsRoundTripAndCursor(t *testing.T) {
	r := openRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	// Two runs share a timestamp to exercise the id tie-break.
	insertRun(t, r, "run-a", base, "api", true)
	insertRun(t, r, "run-b", base, "cli", false)
	insertRun(t, r, "run-c", base.Add(time.Second), "api", true)

	got, err := r.GetRun(ctx, "run-b")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Seed != "18446744073709551615" || got.Complete || got.ActorID != "" || len(got.Fulfillment) != 1 || got.Fulfillment[0].Label != "Platinum" {
		t.Fatalf("unexpected run %+v", got)
	}
	if _, err := r.GetRun(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := r.GetRunDocuments(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	var seen []string
	f := repo.RunFilters{Limit: 1}
	for i := 0; i < 4; i++ {
		page, err := r.ListRuns(ctx, f)
		if err != nil {
			t.Fatal(err)
		}
		if len(page) == 0 {
			break
		}
		seen = append(seen, page[0].ID)
		f.CursorCreatedAt, f.CursorID = page[0].CreatedAt, page[0].ID
	}
	if fmt.Sprint(seen) != "[run-c run-b run-a]" {
		t.Fatalf("unexpected page order %v", seen)
	}

	complete := false
	incomplete, err := r.ListRuns(ctx, repo.RunFilters{Complete: &complete})
	if err != nil || len(incomplete) != 1 || incomplete[0].ID != "run-b" {
		t.Fatalf("complete filter: %v %v", incomplete, err)
	}
	apiRuns, err := r.ListRuns(ctx, repo.RunFilters{Source: "api"})
	if err != nil || len(apiRuns) != 2 {
		t.Fatalf("source filter: %v %v", apiRuns, err)
	}

	stalls, err := r.ListStalls(ctx, "run-a")
	if err != nil || len(stalls) != 1 || stalls[0].X2 != 6 || stalls[0].Stage != "grid" {
		t.Fatalf("stalls: %+v %v", stalls, err)
	}
	empty, err := r.ListStalls(ctx, "missing")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil stalls, got %#v %v", empty, err)
	}
}

func TestStallsCascadeWithRun(t *testing.T) {
	r := openRepo(t)
	insertRun(t, r, "run-a", time.Now(), "api", true)
	if _, err := r.DB.Exec(`DELETE FROM runs WHERE id=?`, "run-a"); err != nil {
		t.Fatal(err)
	}
	var n int
	if err := r.DB.QueryRow(`SELECT COUNT(*) FROM stalls`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected stalls to cascade, %d left", n)
	}
}

func TestEventQueries(t *testing.T) {
	r := openRepo(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		insertRun(t, r, fmt.Sprintf("run-%d", i), time.Now(), "api", true)
	}
	latest, err := r.LatestEventID(ctx)
	if err != nil || latest != 3 {
		t.Fatalf("latest id: %d %v", latest, err)
	}
	page, err := r.LatestEvents(ctx, repo.EventFilters{Limit: 2})
	if err != nil || len(page) != 2 || page[0].ID != 3 {
		t.Fatalf("latest events: %+v %v", page, err)
	}
	older, err := r.LatestEvents(ctx, repo.EventFilters{Limit: 2, Cursor: page[1].ID})
	if err != nil || len(older) != 1 || older[0].ID != 1 {
		t.Fatalf("cursor page: %+v %v", older, err)
	}
	byEntity, err := r.LatestEvents(ctx, repo.EventFilters{EntityKind: "run", EntityID: "run-1"})
	if err != nil || len(byEntity) != 1 || byEntity[0].Payload != `{"source":"api"}` {
		t.Fatalf("entity filter: %+v %v", byEntity, err)
	}
	after, err := r.EventsAfter(ctx, 10, 1)
	if err != nil || len(after) != 2 || after[0].ID != 2 {
		t.Fatalf("events after: %+v %v", after, err)
	}
}

func TestAPIKeys(t *testing.T) {
	r := openRepo(t)
	ctx := context.Background()
	key := domain.APIKey{ID: "k1", ActorID: "alice", Name: "ci", KeyHash: repo.HashAPIKey("sp_secret")}
	if err := r.InsertAPIKey(ctx, nil, key); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := r.InsertAPIKey(ctx, nil, domain.APIKey{ID: "k2", ActorID: "bob", KeyHash: key.KeyHash}); err == nil {
		t.Fatalf("expected duplicate hash to fail")
	}
	if err := r.InsertAPIKey(ctx, nil, domain.APIKey{ID: "k3", KeyHash: "x"}); err == nil {
		t.Fatalf("expected missing actor to fail")
	}
	got, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(" sp_secret "))
	if err != nil || got.ActorID != "alice" || got.CreatedAt == "" {
		t.Fatalf("lookup: %+v %v", got, err)
	}
	keys, err := r.ListAPIKeys(ctx, "bob")
	if err != nil || len(keys) != 0 {
		t.Fatalf("list bob: %+v %v", keys, err)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.DeleteAPIKeyTx(ctx, tx, "k1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := r.DeleteAPIKeyTx(ctx, tx, "k1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.GetAPIKeyByHash(ctx, key.KeyHash); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected revoked key to be gone, got %v", err)
	}
}
