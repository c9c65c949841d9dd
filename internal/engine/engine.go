package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	mrand "math/rand/v2"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"stallplan/internal/config"
	"stallplan/internal/domain"
	"stallplan/internal/events"
	"stallplan/internal/floorplan"
	"stallplan/internal/oracle"
	"stallplan/internal/placement"
	"stallplan/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Oracle oracle.Oracle
	// OracleName is recorded on each run, e.g. "regressor".
	OracleName string
	Logger     *log.Logger
	Now        func() time.Time
	// NewShapeID generates ids for stall shapes; nil uses floorplan.NewShapeID.
	NewShapeID func() string
}

func New(db *sql.DB, cfg *config.Config, orc oracle.Oracle, logger *log.Logger) Engine {
	if orc == nil {
		orc = oracle.None{}
	}
	name := ""
	if cfg != nil {
		name = cfg.Oracle.Kind
	}
	if name == "" {
		name = config.OracleNone
	}
	return Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Events:     events.Writer{DB: db},
		Config:     cfg,
		Oracle:     orc,
		OracleName: name,
		Logger:     logger,
		Now:        time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.New(io.Discard)
}

const (
	SourceAPI     = "api"
	SourcePredict = "predict"
	SourceCLI     = "cli"
)

// PlanRequest is one layout request in document units.
type PlanRequest struct {
	Document floorplan.Document
	Inputs   floorplan.Inputs
	// Seed overrides placement.seed from the config.
	Seed          *uint64
	Source        string
	ActorID       string
	DisableOracle bool
}

type PlanResult struct {
	Run    domain.Run
	Stalls []domain.Stall
	Layout floorplan.Document
	Result placement.Result
}

// Plan runs the placement pipeline for one document and stores the run.
//
// Invalid documents fail with floorplan.ErrInvalidDocument and invalid tier
// sizes or oversized totals with *placement.ConfigError, both before the
// oracle is called. An oracle failure is logged and recorded on the run;
// placement continues without candidates. If ctx ends mid-run nothing is stored and the partial
// result is returned with ctx.Err().
func (e Engine) Plan(ctx context.Context, req PlanRequest) (PlanResult, error) {
	if e.Config == nil {
		return PlanResult{}, errors.New("config not loaded")
	}
	start := e.now()
	if err := req.Document.Validate(); err != nil {
		return PlanResult{}, err
	}
	categories, err := floorplan.Categories(e.Config.Tiers, req.Inputs)
	if err != nil {
		return PlanResult{}, err
	}
	hall := e.Config.Units.Hall(req.Document)
	schedulable := floorplan.Schedulable(categories)
	if err := placement.Validate(schedulable, hall.Region); err != nil {
		return PlanResult{}, err
	}
	if err := placement.CheckTotal(schedulable, e.Config.Placement.MaxStalls); err != nil {
		return PlanResult{}, err
	}

	var (
		candidates []placement.Candidate
		oracleErr  string
	)
	if !req.DisableOracle && e.Oracle != nil {
		candidates, err = e.Oracle.Predict(ctx, oracle.Features(categories))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return PlanResult{}, ctxErr
			}
			oracleErr = err.Error()
			e.logger().Warn("oracle failed, continuing without candidates", "oracle", e.OracleName, "err", err)
			candidates = nil
		}
	}

	seed := e.seed(req.Seed)
	sched := placement.New(placement.Options{
		MaxAttempts:   e.Config.Placement.MaxAttempts,
		GridStep:      e.Config.Placement.GridStep,
		GridBudget:    e.Config.Placement.GridBudget,
		MaxStalls:     e.Config.Placement.MaxStalls,
		Rand:          placement.NewRand(seed),
		DisableOracle: req.DisableOracle,
	})
	sched.Logger = e.Logger
	res, err := sched.Place(ctx, schedulable, hall.Region, hall.Obstacles, candidates)
	if err != nil {
		return PlanResult{Result: res}, err
	}

	gen := e.NewShapeID
	if gen == nil {
		gen = floorplan.NewShapeID
	}
	var shapeIDs []string
	layout := e.Config.Units.Merge(req.Document, res.Stalls, e.Config.Tiers, func() string {
		id := gen()
		shapeIDs = append(shapeIDs, id)
		return id
	})

	source := req.Source
	if source == "" {
		source = SourceAPI
	}
	run := domain.Run{
		ID:          uuid.NewString(),
		Source:      source,
		ActorID:     req.ActorID,
		Seed:        strconv.FormatUint(seed, 10),
		Oracle:      e.OracleName,
		OracleError: oracleErr,
		Placed:      len(res.Stalls),
		Complete:    res.Complete(),
		Fulfillment: res.Fulfillment,
		CreatedAt:   e.now().UTC().Format(repo.TimeLayout),
	}
	if req.DisableOracle {
		run.Oracle = config.OracleNone
	}
	for _, f := range res.Fulfillment {
		run.Required += f.Required
	}
	run.DurationMS = e.now().Sub(start).Milliseconds()

	stalls := make([]domain.Stall, len(res.Stalls))
	for i, st := range res.Stalls {
		stalls[i] = domain.Stall{
			RunID:      run.ID,
			Seq:        i,
			ShapeID:    shapeIDs[i],
			CategoryID: st.CategoryID,
			Tier:       layout.Shapes[len(req.Document.Shapes)+i].Tier,
			Stage:      string(st.Stage),
			X1:         st.Box.X1,
			Y1:         st.Box.Y1,
			X2:         st.Box.X2,
			Y2:         st.Box.Y2,
		}
	}

	if err := e.storeRun(ctx, run, req, layout, stalls); err != nil {
		return PlanResult{}, err
	}

	lg := e.logger().With("run", run.ID, "placed", run.Placed, "required", run.Required)
	if run.Complete {
		lg.Info("layout planned")
	} else {
		for _, f := range res.Fulfillment {
			if !f.Complete() {
				lg.Warn("tier not fulfilled", "tier", f.Label, "placed_in_tier", f.Placed, "required_in_tier", f.Required)
			}
		}
	}
	return PlanResult{Run: run, Stalls: stalls, Layout: layout, Result: res}, nil
}

func (e Engine) seed(override *uint64) uint64 {
	if override != nil {
		return *override
	}
	if e.Config.Placement.Seed != nil {
		return *e.Config.Placement.Seed
	}
	return mrand.Uint64()
}

func (e Engine) storeRun(ctx context.Context, run domain.Run, req PlanRequest, layout floorplan.Document, stalls []domain.Stall) error {
	var docs repo.RunDocuments
	var err error
	if docs.Inputs, err = json.Marshal(req.Inputs); err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}
	if docs.Document, err = json.Marshal(req.Document); err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if docs.Layout, err = json.Marshal(layout); err != nil {
		return fmt.Errorf("marshal layout: %w", err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRunTx(ctx, tx, run, docs, stalls); err != nil {
		return err
	}
	payload := events.EventPayload{
		"source":   run.Source,
		"placed":   run.Placed,
		"required": run.Required,
		"complete": run.Complete,
		"seed":     run.Seed,
	}
	if run.OracleError != "" {
		payload["oracle_error"] = run.OracleError
	}
	actor := run.ActorID
	if actor == "" {
		actor = "anonymous"
	}
	if err := e.Events.Append(ctx, tx, events.RunCreated, "run", run.ID, actor, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// RunDetail is a stored run with its stalls and merged layout.
type RunDetail struct {
	Run    domain.Run
	Stalls []domain.Stall
	Layout floorplan.Document
}

func (e Engine) GetRun(ctx context.Context, id string) (RunDetail, error) {
	run, err := e.Repo.GetRun(ctx, id)
	if err != nil {
		return RunDetail{}, err
	}
	stalls, err := e.Repo.ListStalls(ctx, id)
	if err != nil {
		return RunDetail{}, err
	}
	docs, err := e.Repo.GetRunDocuments(ctx, id)
	if err != nil {
		return RunDetail{}, err
	}
	var layout floorplan.Document
	if err := json.Unmarshal(docs.Layout, &layout); err != nil {
		return RunDetail{}, fmt.Errorf("run %s layout: %w", id, err)
	}
	return RunDetail{Run: run, Stalls: stalls, Layout: layout}, nil
}

// CreateAPIKey stores a new key for actorID and returns the plaintext
// secret. The secret is not recoverable afterwards.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string) (domain.APIKey, string, error) {
	if actorID == "" {
		return domain.APIKey{}, "", errors.New("actor_id required")
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	secret := "sp_" + base64.RawURLEncoding.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: e.now().UTC().Format(repo.TimeLayout),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("insert api key: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.APIKeyCreated, "api_key", key.ID, actorID, events.EventPayload{"name": name}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, secret, nil
}

func (e Engine) RevokeAPIKey(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAPIKeyTx(ctx, tx, id); err != nil {
		return err
	}
	if actorID == "" {
		actorID = "local-user"
	}
	if err := e.Events.Append(ctx, tx, events.APIKeyRevoked, "api_key", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}
