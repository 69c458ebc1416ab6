// Package audit persists terminal promotion outcomes so runs can be
// reviewed after the process exits.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outcome mirrors the executor's result for storage.
type Outcome struct {
	Method    string
	Succeeded bool
	Detail    string
}

// Record is one terminal plan-item entry.
type Record struct {
	RunID         uuid.UUID
	PairIndex     int
	SourceModelID string
	TargetModelID string
	RevisionName  string
	State         string
	Reason        string
	Outcome       Outcome
}

// PGRecorder persists records into Postgres.
type PGRecorder struct {
	db *sql.DB
}

func NewPGRecorder(db *sql.DB) *PGRecorder {
	return &PGRecorder{db: db}
}

// Ping verifies connectivity to Postgres.
func (p *PGRecorder) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PGRecorder) Record(ctx context.Context, rec Record) error {
	q := `
		INSERT INTO promotion_outcomes
		  (id, run_id, pair_index, source_model_id, target_model_id, revision_name, state, reason, method, succeeded, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`
	_, err := p.db.ExecContext(ctx, q,
		uuid.New().String(),
		rec.RunID.String(),
		rec.PairIndex,
		rec.SourceModelID,
		rec.TargetModelID,
		rec.RevisionName,
		rec.State,
		rec.Reason,
		rec.Outcome.Method,
		rec.Outcome.Succeeded,
		rec.Outcome.Detail,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert promotion outcome: %w", err)
	}
	return nil
}

// NopRecorder discards records; used when no audit sink is configured.
type NopRecorder struct{}

func NewNopRecorder() *NopRecorder { return &NopRecorder{} }

func (*NopRecorder) Record(context.Context, Record) error { return nil }
