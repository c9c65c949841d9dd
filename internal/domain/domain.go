package domain

import "stallplan/internal/placement"

// Run is one planning request and its outcome. Document, inputs and the
// merged layout are stored alongside but loaded separately.
type Run struct {
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

// Stall is one placed stall in hall units.
type Stall struct {
	RunID      string  `json:"run_id"`
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

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
