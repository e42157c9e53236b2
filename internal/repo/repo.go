package repo

import (
	"context"
	"errors"

	"github.com/marketscope-labs/marketscope-go/internal/domain"
)

var ErrNotFound = errors.New("not found")

// CheckpointRepository persists full run state keyed by run_id. Save is
// an upsert: one row per run, overwritten after every pipeline step.
type CheckpointRepository interface {
	Save(ctx context.Context, run domain.Run) error
	Load(ctx context.Context, runID string) (domain.Run, error)
	List(ctx context.Context, limit int) ([]domain.Run, error)
}
