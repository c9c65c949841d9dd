package server

import (
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"stallplan/internal/engine"
	"stallplan/internal/floorplan"
	"stallplan/internal/repo"
)

func registerLayouts(api huma.API, e engine.Engine, timeout time.Duration) {
	huma.Register(api, huma.Operation{
		OperationID: "create-layout",
		Method:      http.MethodPost,
		Path:        "/layouts",
		Summary:     "Place stalls on a floor plan",
		Description: "Runs the oracle, sampler and grid stages for every requested stall and returns the merged floor plan. Unplaceable stalls are reported in fulfillment, not as errors.",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body LayoutRequest `json:"body"`
	}) (*struct {
		Body LayoutResponse `json:"body"`
	}, error) {
		raw, err := json.Marshal(input.Body.Document)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid_document", err.Error(), nil)
		}
		doc, err := floorplan.ParseDocument(raw)
		if err != nil {
			return nil, handleError(err)
		}
		ctx, cancel := withDeadline(ctx, timeout)
		defer cancel()
		res, err := e.Plan(ctx, engine.PlanRequest{
			Document:      doc,
			Inputs:        floorplan.Inputs(input.Body.Inputs),
			Seed:          input.Body.Seed,
			Source:        engine.SourceAPI,
			ActorID:       actorIDFromContext(ctx),
			DisableOracle: input.Body.NoOracle,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LayoutResponse `json:"body"`
		}{Body: layoutResponse(res)}, nil
	})
}

// registerPredict serves the editor's multipart upload: a floor-plan file
// and the userInputs form field.
func registerPredict(api huma.API, e engine.Engine, timeout time.Duration) {
	huma.Register(api, huma.Operation{
		OperationID: "predict",
		Method:      http.MethodPost,
		Path:        "/predict",
		Summary:     "Place stalls on an uploaded floor plan",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		RawBody multipart.Form
	}) (*struct {
		Body PredictResponse `json:"body"`
	}, error) {
		files := input.RawBody.File["file"]
		if len(files) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "file is required", nil)
		}
		values := input.RawBody.Value["userInputs"]
		if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "userInputs is required", nil)
		}
		f, err := files[0].Open()
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "cannot read file", nil)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "cannot read file", nil)
		}
		doc, err := floorplan.ParseDocument(data)
		if err != nil {
			return nil, handleError(err)
		}
		in, err := floorplan.ParseInputs([]byte(values[0]))
		if err != nil {
			return nil, handleError(err)
		}
		ctx, cancel := withDeadline(ctx, timeout)
		defer cancel()
		res, err := e.Plan(ctx, engine.PlanRequest{
			Document: doc,
			Inputs:   in,
			Source:   engine.SourcePredict,
			ActorID:  actorIDFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PredictResponse `json:"body"`
		}{Body: PredictResponse{Status: http.StatusOK, Layout: res.Layout}}, nil
	})
}

func registerRuns(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List layout runs",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Source   string `query:"source" enum:"api,predict,cli"`
		Complete string `query:"complete" enum:"true,false"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body paginatedRuns `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		f := repo.RunFilters{
			Source:          input.Source,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		}
		if input.Complete != "" {
			complete := input.Complete == "true"
			f.Complete = &complete
		}
		items, err := e.Repo.ListRuns(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedRuns{Items: []RunResponse{}}
		if len(items) > limit {
			items = items[:limit]
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		for _, r := range items {
			resp.Items = append(resp.Items, runResponse(r))
		}
		return &struct {
			Body paginatedRuns `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}",
		Summary:     "Get a run with its stalls and layout",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body RunDetailResponse `json:"body"`
	}, error) {
		detail, err := e.GetRun(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunDetailResponse `json:"body"`
		}{Body: runDetailResponse(detail)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"run,api_key"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Limit:      limit + 1,
			Cursor:     cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(authCfg.JWTSecret) == "" {
			return nil, newAPIError(http.StatusNotFound, "not_found", "dev login disabled: no jwt secret configured", nil)
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		ttl := time.Hour
		if input.Body.TTLSeconds > 0 {
			ttl = time.Duration(input.Body.TTLSeconds) * time.Second
		}
		token, err := SignToken(authCfg.JWTSecret, actor, ttl)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token, ExpiresIn: int(ttl.Seconds())}}, nil
	})
}
