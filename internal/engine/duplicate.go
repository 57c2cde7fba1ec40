package engine

import (
	"context"
	"fmt"

	"github.com/dstauffer/kiln/internal/model"
)

// findEquivalent returns the earliest-created job in the experiment with the
// same model kind and equivalent parameters, or nil if none exists. Candidate
// order is ascending creation time, so repeated identical submissions always
// resolve to the same job.
func (e *Engine) findEquivalent(ctx context.Context, experimentID int64, kind string, params model.Parameters) (*model.Job, error) {
	candidates, err := e.store.ListJobsByKind(ctx, experimentID, kind)
	if err != nil {
		return nil, fmt.Errorf("list duplicate candidates: %w", err)
	}

	for _, c := range candidates {
		if params.EquivalentForKind(kind, c.Parameters) {
			return c, nil
		}
	}
	return nil, nil
}
