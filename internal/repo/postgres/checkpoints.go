package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marketscope-labs/marketscope-go/internal/domain"
	"github.com/marketscope-labs/marketscope-go/internal/repo"
)

// DB is the narrow database/sql surface the store needs.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CheckpointStore keeps one row per run in run_checkpoints. The full
// run state lives in a JSONB column; a few scalar columns are split out
// for listing and filtering without decoding the blob.
type CheckpointStore struct {
	db DB
}

func NewCheckpointStore(db DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

func (s *CheckpointStore) Save(ctx context.Context, run domain.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = time.Now().UTC()
	}

	state, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO run_checkpoints (
			run_id,
			target_name,
			stage,
			cost_usd,
			state,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (run_id) DO UPDATE SET
			stage = EXCLUDED.stage,
			cost_usd = EXCLUDED.cost_usd,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at`,
		run.ID,
		run.TargetName,
		string(run.Stage),
		run.CostUSD,
		state,
		run.CreatedAt.UTC(),
		run.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *CheckpointStore) Load(ctx context.Context, runID string) (domain.Run, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return domain.Run{}, errors.New("run_id is required")
	}

	var state []byte
	err := s.db.QueryRowContext(
		ctx,
		`SELECT state FROM run_checkpoints WHERE run_id = $1`,
		runID,
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Run{}, repo.ErrNotFound
	}
	if err != nil {
		return domain.Run{}, fmt.Errorf("load checkpoint: %w", err)
	}

	return decodeRun(state)
}

func (s *CheckpointStore) List(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT state FROM run_checkpoints ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Run, 0, limit)
	for rows.Next() {
		var state []byte
		if err := rows.Scan(&state); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		run, err := decodeRun(state)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return out, nil
}

// decodeRun tolerates fields added after a row was written: absent
// optional fields unmarshal to their zero values.
func decodeRun(state []byte) (domain.Run, error) {
	var run domain.Run
	if err := json.Unmarshal(state, &run); err != nil {
		return domain.Run{}, fmt.Errorf("decode run state: %w", err)
	}
	if err := run.Validate(); err != nil {
		return domain.Run{}, fmt.Errorf("decode run state: %w", err)
	}
	return run, nil
}
