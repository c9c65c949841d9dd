package server

import (
	"encoding/json"

	"stallplan/internal/domain"
	"stallplan/internal/engine"
	"stallplan/internal/floorplan"
	"stallplan/internal/placement"
)

// Request payloads

type LayoutRequest struct {
	// Document is the editor floor plan: hallArea plus shapes.
	Document map[string]any                 `json:"document"`
	Inputs   map[string]floorplan.TierInput `json:"inputs"`
	Seed     *uint64                        `json:"seed,omitempty"`
	NoOracle bool                           `json:"no_oracle,omitempty"`
}

type DevLoginRequest struct {
	ActorID    string `json:"actor_id"`
	TTLSeconds int    `json:"ttl_seconds,omitempty" minimum:"0"`
}

// Response payloads

type LayoutResponse struct {
	RunID       string                  `json:"run_id"`
	Seed        string                  `json:"seed"`
	Layout      floorplan.Document      `json:"layout"`
	Fulfillment []placement.Fulfillment `json:"fulfillment"`
	Placed      int                     `json:"placed"`
	Required    int                     `json:"required"`
	Complete    bool                    `json:"complete"`
	OracleError string                  `json:"oracle_error,omitempty"`
}

// PredictResponse keeps the shape the floor-plan editor already consumes.
type PredictResponse struct {
	Status int                `json:"status" example:"200"`
	Layout floorplan.Document `json:"layout"`
}

type RunResponse struct {
	ID          string                  `json:"id"`
	Source      string                  `json:"source" enum:"api,predict,cli"`
	ActorID     string                  `json:"actor_id,omitempty"`
	Seed        string                  `json:"seed"`
	Oracle      string                  `json:"oracle"`
	OracleError string                  `json:"oracle_error,omitempty"`
	Required    int                     `json:"required"`
	Placed      int                     `json:"placed"`
	Complete    bool                    `json:"complete"`
	Fulfillment []placement.Fulfillment `json:"fulfillment"`
	DurationMS  int64                   `json:"duration_ms"`
	CreatedAt   string                  `json:"created_at" format:"date-time"`
}

type StallResponse struct {
	Seq        int     `json:"seq"`
	ShapeID    string  `json:"shape_id"`
	CategoryID int     `json:"category_id"`
	Tier       string  `json:"tier"`
	Stage      string  `json:"stage" enum:"oracle,sampler,grid"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
}

type RunDetailResponse struct {
	Run    RunResponse        `json:"run"`
	Stalls []StallResponse    `json:"stalls"`
	Layout floorplan.Document `json:"layout"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type DevLoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

type paginatedRuns struct {
	Items      []RunResponse `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func runResponse(r domain.Run) RunResponse {
	out := RunResponse(r)
	if out.Fulfillment == nil {
		out.Fulfillment = []placement.Fulfillment{}
	}
	return out
}

func stallResponse(s domain.Stall) StallResponse {
	return StallResponse{
		Seq:        s.Seq,
		ShapeID:    s.ShapeID,
		CategoryID: s.CategoryID,
		Tier:       s.Tier,
		Stage:      s.Stage,
		X1:         s.X1,
		Y1:         s.Y1,
		X2:         s.X2,
		Y2:         s.Y2,
	}
}

func layoutResponse(res engine.PlanResult) LayoutResponse {
	fulfillment := res.Run.Fulfillment
	if fulfillment == nil {
		fulfillment = []placement.Fulfillment{}
	}
	return LayoutResponse{
		RunID:       res.Run.ID,
		Seed:        res.Run.Seed,
		Layout:      res.Layout,
		Fulfillment: fulfillment,
		Placed:      res.Run.Placed,
		Required:    res.Run.Required,
		Complete:    res.Run.Complete,
		OracleError: res.Run.OracleError,
	}
}

func runDetailResponse(d engine.RunDetail) RunDetailResponse {
	out := RunDetailResponse{Run: runResponse(d.Run), Stalls: []StallResponse{}, Layout: d.Layout}
	for _, s := range d.Stalls {
		out.Stalls = append(out.Stalls, stallResponse(s))
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}
