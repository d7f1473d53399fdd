package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/regnet/pkg/analysis"
	"github.com/OFFIS-RIT/regnet/pkg/common"
	"github.com/OFFIS-RIT/regnet/pkg/store"
	pgxv5 "github.com/jackc/pgx/v5"
)

const saveProgressSQL = `
INSERT INTO analysis_passes (
    id, kind, level, state, step, completed_steps, steps, percent, error,
    created_at, updated_at, started_at, finished_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO UPDATE
SET state           = EXCLUDED.state,
    step            = EXCLUDED.step,
    completed_steps = EXCLUDED.completed_steps,
    percent         = EXCLUDED.percent,
    error           = EXCLUDED.error,
    updated_at      = EXCLUDED.updated_at,
    started_at      = EXCLUDED.started_at,
    finished_at     = EXCLUDED.finished_at`

const getProgressSQL = `
SELECT id, kind, level, state, step, completed_steps, steps, percent, error,
       created_at, updated_at, started_at, finished_at
FROM analysis_passes
WHERE id = $1`

const setReportKeySQL = `
UPDATE analysis_passes SET report_key = $2 WHERE id = $1`

const getReportKeySQL = `
SELECT COALESCE(report_key, '') FROM analysis_passes WHERE id = $1`

// SaveProgress upserts the progress record of a pass.
func (s *AnalysisDBStorage) SaveProgress(ctx context.Context, p analysis.Progress) error {
	_, err := s.conn.Exec(ctx, saveProgressSQL,
		p.ID, string(p.Kind), string(p.Level), string(p.State), p.Step,
		p.Completed, p.Steps, p.Percent, p.Error,
		p.CreatedAt, p.UpdatedAt, p.StartedAt, p.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save progress of pass %s: %w", p.ID, err)
	}
	return nil
}

// GetProgress returns the last saved progress of a pass or store.ErrNotFound.
func (s *AnalysisDBStorage) GetProgress(ctx context.Context, id string) (analysis.Progress, error) {
	var (
		p                  analysis.Progress
		kind, level, state string
	)
	err := s.conn.QueryRow(ctx, getProgressSQL, id).Scan(
		&p.ID, &kind, &level, &state, &p.Step, &p.Completed, &p.Steps, &p.Percent, &p.Error,
		&p.CreatedAt, &p.UpdatedAt, &p.StartedAt, &p.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return analysis.Progress{}, fmt.Errorf("pass %s: %w", id, store.ErrNotFound)
		}
		return analysis.Progress{}, fmt.Errorf("failed to load pass %s: %w", id, err)
	}
	p.Kind = analysis.Kind(kind)
	p.Level = common.Level(level)
	p.State = analysis.State(state)
	if p.Completed == nil {
		p.Completed = []string{}
	}
	return p, nil
}

// SetReportKey records the object key of an exported pass report.
func (s *AnalysisDBStorage) SetReportKey(ctx context.Context, id, key string) error {
	tag, err := s.conn.Exec(ctx, setReportKeySQL, id, key)
	if err != nil {
		return fmt.Errorf("failed to set report key of pass %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pass %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// GetReportKey returns the report object key of a pass, empty when the pass
// has no exported report yet.
func (s *AnalysisDBStorage) GetReportKey(ctx context.Context, id string) (string, error) {
	var key string
	if err := s.conn.QueryRow(ctx, getReportKeySQL, id).Scan(&key); err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return "", fmt.Errorf("pass %s: %w", id, store.ErrNotFound)
		}
		return "", fmt.Errorf("failed to load report key of pass %s: %w", id, err)
	}
	return key, nil
}
