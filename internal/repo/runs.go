package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"stallplan/internal/domain"
)

// RunDocuments are the JSON blobs stored with a run.
type RunDocuments struct {
	Inputs   []byte
	Document []byte
	Layout   []byte
}

const runColumns = `id,source,COALESCE(actor_id,''),seed,oracle,COALESCE(oracle_error,''),required,placed,complete,fulfillment_json,duration_ms,created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (domain.Run, error) {
	var run domain.Run
	var complete int
	var fulfillment string
	err := row.Scan(&run.ID, &run.Source, &run.ActorID, &run.Seed, &run.Oracle, &run.OracleError,
		&run.Required, &run.Placed, &complete, &fulfillment, &run.DurationMS, &run.CreatedAt)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	if err != nil {
		return run, err
	}
	run.Complete = complete != 0
	if err := json.Unmarshal([]byte(fulfillment), &run.Fulfillment); err != nil {
		return run, fmt.Errorf("run %s fulfillment: %w", run.ID, err)
	}
	return run, nil
}

// InsertRunTx stores a run, its documents and its stalls.
func (r Repo) InsertRunTx(ctx context.Context, tx *sql.Tx, run domain.Run, docs RunDocuments, stalls []domain.Stall) error {
	fulfillment, err := json.Marshal(run.Fulfillment)
	if err != nil {
		return err
	}
	complete := 0
	if run.Complete {
		complete = 1
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO runs(id,source,actor_id,seed,oracle,oracle_error,required,placed,complete,fulfillment_json,inputs_json,document_json,layout_json,duration_ms,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.Source, nullable(run.ActorID), run.Seed, run.Oracle, nullable(run.OracleError),
		run.Required, run.Placed, complete, string(fulfillment),
		string(docs.Inputs), string(docs.Document), string(docs.Layout),
		run.DurationMS, run.CreatedAt); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	for _, s := range stalls {
		if _, err := tx.ExecContext(ctx, `INSERT INTO stalls(run_id,seq,shape_id,category_id,tier,stage,x1,y1,x2,y2) VALUES (?,?,?,?,?,?,?,?,?,?)`,
			run.ID, s.Seq, s.ShapeID, s.CategoryID, s.Tier, s.Stage, s.X1, s.Y1, s.X2, s.Y2); err != nil {
			return fmt.Errorf("insert stall %d: %w", s.Seq, err)
		}
	}
	return nil
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	return scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id))
}

// GetRunDocuments loads the stored inputs, source document and layout.
func (r Repo) GetRunDocuments(ctx context.Context, id string) (RunDocuments, error) {
	var inputs, document, layout string
	err := r.DB.QueryRowContext(ctx, `SELECT inputs_json,document_json,layout_json FROM runs WHERE id=?`, id).Scan(&inputs, &document, &layout)
	if err == sql.ErrNoRows {
		return RunDocuments{}, ErrNotFound
	}
	if err != nil {
		return RunDocuments{}, err
	}
	return RunDocuments{Inputs: []byte(inputs), Document: []byte(document), Layout: []byte(layout)}, nil
}

type RunFilters struct {
	Source          string
	Complete        *bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// ListRuns returns runs newest first. The cursor is exclusive.
func (r Repo) ListRuns(ctx context.Context, f RunFilters) ([]domain.Run, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Source != "" {
		clauses = append(clauses, "source=?")
		args = append(args, f.Source)
	}
	if f.Complete != nil {
		clauses = append(clauses, "complete=?")
		if *f.Complete {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + runColumns + ` FROM runs WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

// ListStalls returns a run's stalls in placement order.
func (r Repo) ListStalls(ctx context.Context, runID string) ([]domain.Stall, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT run_id,seq,shape_id,category_id,tier,stage,x1,y1,x2,y2 FROM stalls WHERE run_id=? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Stall{}
	for rows.Next() {
		var s domain.Stall
		if err := rows.Scan(&s.RunID, &s.Seq, &s.ShapeID, &s.CategoryID, &s.Tier, &s.Stage, &s.X1, &s.Y1, &s.X2, &s.Y2); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
