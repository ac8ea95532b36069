package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ThilakShekharShriyan/akash-autopilot/internal/clock"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/plan"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/store"
)

// Store is the subset of the ledger store the guardrails read and write.
type Store interface {
	CountActionsSince(ctx context.Context, since time.Time, actionType store.ActionType) (int, error)
	IsInCooldown(ctx context.Context, actionType store.ActionType, deploymentID string) (bool, error)
	GetDeployment(ctx context.Context, id string) (*store.DeploymentSnapshot, error)
	SetCooldown(ctx context.Context, actionType store.ActionType, duration time.Duration, deploymentID string) error
}

// Decision is the guardrail verdict for one proposed action. A denial is a
// normal outcome, not an error.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// Engine evaluates actions against the current Policy. The policy may be
// replaced at any time with SetPolicy; each check reads one consistent copy.
type Engine struct {
	store  Store
	clock  clock.Clock
	logger *slog.Logger
	policy atomic.Pointer[Policy]
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for the trailing windows.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine over st enforcing p.
func NewEngine(st Store, p Policy, opts ...Option) *Engine {
	e := &Engine{store: st, clock: clock.Real(), logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	e.policy.Store(&p)
	return e
}

// Policy returns the policy currently in force.
func (e *Engine) Policy() Policy {
	return *e.policy.Load()
}

// SetPolicy atomically replaces the policy in force.
func (e *Engine) SetPolicy(p Policy) {
	e.policy.Store(&p)
}

// Summary projects the policy in force.
func (e *Engine) Summary() Summary {
	return e.Policy().Summary()
}

// ValidateAction decides whether actionType may run now. The checks run in
// order: rate limits, cooldown, type-specific constraints. An error is
// returned only when the store cannot answer.
func (e *Engine) ValidateAction(ctx context.Context, actionType store.ActionType, deploymentID string, details *plan.Details) (Decision, error) {
	p := e.Policy()
	now := e.clock.Now()

	hourly, err := e.store.CountActionsSince(ctx, now.Add(-time.Hour), actionType)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to check hourly rate limit: %w", err)
	}
	if hourly >= p.MaxActionsPerHour {
		e.logger.Warn("hourly rate limit exceeded", "action_type", actionType, "count", hourly, "limit", p.MaxActionsPerHour)
		return deny("Hourly rate limit exceeded for %s: %d/%d", actionType, hourly, p.MaxActionsPerHour), nil
	}

	daily, err := e.store.CountActionsSince(ctx, now.Add(-24*time.Hour), actionType)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to check daily rate limit: %w", err)
	}
	if daily >= p.MaxActionsPerDay {
		e.logger.Warn("daily rate limit exceeded", "action_type", actionType, "count", daily, "limit", p.MaxActionsPerDay)
		return deny("Daily rate limit exceeded for %s: %d/%d", actionType, daily, p.MaxActionsPerDay), nil
	}

	cooling, err := e.store.IsInCooldown(ctx, actionType, deploymentID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to check cooldown: %w", err)
	}
	if cooling {
		return deny("Action %s is in cooldown period", actionType), nil
	}

	switch actionType {
	case store.ActionScale:
		return checkScale(p, details), nil
	case store.ActionRedeploy:
		return e.checkRedeploy(ctx, deploymentID)
	}
	return allow(), nil
}

func checkScale(p Policy, details *plan.Details) Decision {
	if details == nil || details.NewCount == nil {
		return deny("Scale action requires new_count parameter")
	}
	n := *details.NewCount
	if n < 0 {
		return deny("Replica count cannot be negative: %d", n)
	}
	if n < p.MinReplicas {
		return deny("Replica count too low: %d (min: %d)", n, p.MinReplicas)
	}
	if n > p.MaxReplicas {
		return deny("Replica count too high: %d (max: %d)", n, p.MaxReplicas)
	}
	return allow()
}

func (e *Engine) checkRedeploy(ctx context.Context, deploymentID string) (Decision, error) {
	if deploymentID == "" {
		return deny("Redeploy action requires deployment_id"), nil
	}

	_, err := e.store.GetDeployment(ctx, deploymentID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// the snapshot cache may simply be stale
		e.logger.Warn("redeploying untracked deployment", "deployment_id", deploymentID)
	case err != nil:
		return Decision{}, fmt.Errorf("failed to look up deployment %s: %w", deploymentID, err)
	}
	return allow(), nil
}

// CooldownFor returns the configured cooldown for actionType.
func (e *Engine) CooldownFor(actionType store.ActionType) time.Duration {
	p := e.Policy()
	switch actionType {
	case store.ActionScale:
		return time.Duration(p.ScaleCooldownSeconds) * time.Second
	case store.ActionRedeploy:
		return time.Duration(p.RedeployCooldownSeconds) * time.Second
	}
	return DefaultCooldown
}

// ApplyCooldown records a cooldown for actionType (and deploymentID, when
// set) starting now.
func (e *Engine) ApplyCooldown(ctx context.Context, actionType store.ActionType, deploymentID string) error {
	d := e.CooldownFor(actionType)
	if err := e.store.SetCooldown(ctx, actionType, d, deploymentID); err != nil {
		return fmt.Errorf("failed to apply cooldown: %w", err)
	}
	e.logger.Info("cooldown applied", "action_type", actionType, "deployment_id", deploymentID, "seconds", int(d.Seconds()))
	return nil
}
