package deployapi

import (
	"context"
	"fmt"
	"log/slog"
)

// Executor carries out loop actions against an API.
type Executor struct {
	api    API
	logger *slog.Logger
}

// NewExecutor returns an Executor over api.
func NewExecutor(api API, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{api: api, logger: logger}
}

// Scale resubmits the deployment's current manifest with a new replica
// target. Producing a rewritten manifest is left to the API side.
func (e *Executor) Scale(ctx context.Context, id string, replicas int) error {
	d, err := e.api.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("scale %s: %w", id, err)
	}
	if d == nil {
		return fmt.Errorf("scale %s: deployment not found", id)
	}

	e.logger.Info("scaling deployment", "deployment_id", id, "from", d.ReplicaCount(), "to", replicas)
	if _, err := e.api.Update(ctx, id, Manifest{SDL: d.SDL, Replicas: &replicas}); err != nil {
		return fmt.Errorf("scale %s: %w", id, err)
	}
	return nil
}

// Redeploy resubmits the current manifest unchanged, which restarts the
// deployment.
func (e *Executor) Redeploy(ctx context.Context, id string) error {
	d, err := e.api.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("redeploy %s: %w", id, err)
	}
	if d == nil {
		return fmt.Errorf("redeploy %s: deployment not found", id)
	}

	e.logger.Info("redeploying deployment", "deployment_id", id)
	if _, err := e.api.Update(ctx, id, Manifest{SDL: d.SDL}); err != nil {
		return fmt.Errorf("redeploy %s: %w", id, err)
	}
	return nil
}
