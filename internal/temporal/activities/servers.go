package activities

import (
	"context"
	"errors"

	"go.temporal.io/sdk/temporal"

	"github.com/renderfleet/orchestrator/pkg/models"
)

// SelectBackend refreshes fleet health and picks one online backend by
// strategy. With an empty fleet the error is retryable: backends may
// still be coming up.
func (a *Activities) SelectBackend(ctx context.Context, strategy string) (string, error) {
	address, err := a.Balancer.Pick(ctx, strategy)
	if err != nil {
		if errors.Is(err, models.ErrNoBackendAvailable) {
			return "", temporal.NewApplicationError("no backend available", "NoBackendAvailable")
		}
		return "", err
	}
	a.Log.Debug("backend selected", "strategy", strategy, "backend", address)
	return address, nil
}
