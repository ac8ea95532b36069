// Package scheduler runs the decision loop: observe deployments, ask for a
// plan, filter it through the guardrails, execute what survives and record
// every outcome in the ledger.
//
// Iterations are strictly sequential and actions within an iteration run
// one at a time, so the rate-limit counts read for action N already include
// the outcome of action N-1.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThilakShekharShriyan/akash-autopilot/internal/audit"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/clock"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/deployapi"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/plan"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/policy"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/recommender"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/store"
)

const (
	// DefaultInterval is the sleep between iterations.
	DefaultInterval = 120 * time.Second

	// DefaultPublishTimeout bounds forwarding one terminal record.
	DefaultPublishTimeout = 5 * time.Second
)

// Ledger is the store surface the loop writes through.
type Ledger interface {
	PruneExpiredCooldowns(ctx context.Context) (int64, error)
	UpsertDeploymentSnapshot(ctx context.Context, snap *store.DeploymentSnapshot) error
	ListDeployments(ctx context.Context) ([]*store.DeploymentSnapshot, error)
	RecentActions(ctx context.Context, limit int) ([]*store.ActionRecord, error)
	AppendAction(ctx context.Context, actionType store.ActionType, deploymentID string, details any, status store.ActionStatus) (int64, error)
	UpdateActionStatus(ctx context.Context, id int64, status store.ActionStatus, errMsg string) error
	GetAction(ctx context.Context, id int64) (*store.ActionRecord, error)
}

// DeploymentLister supplies the current deployments.
type DeploymentLister interface {
	List(ctx context.Context) ([]deployapi.Descriptor, error)
}

// Guardrails decides whether an action may run and cools it down after.
type Guardrails interface {
	ValidateAction(ctx context.Context, actionType store.ActionType, deploymentID string, details *plan.Details) (policy.Decision, error)
	ApplyCooldown(ctx context.Context, actionType store.ActionType, deploymentID string) error
	Summary() policy.Summary
}

// Executor performs side-effecting actions.
type Executor interface {
	Scale(ctx context.Context, deploymentID string, replicas int) error
	Redeploy(ctx context.Context, deploymentID string) error
}

// Deps are the collaborators a Scheduler is built from.
type Deps struct {
	Ledger      Ledger
	Deployments DeploymentLister
	Recommender recommender.Recommender
	Guardrails  Guardrails
	Executor    Executor
	Publisher   audit.Publisher
}

// State is the lifecycle state of a Scheduler.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Status is a point-in-time view of the loop.
type Status struct {
	State           string    `json:"state"`
	Running         bool      `json:"running"`
	LoopCount       int64     `json:"loop_count"`
	LastLoopTime    time.Time `json:"last_loop_time,omitempty"`
	LastIterationID string    `json:"last_iteration_id,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
	IntervalSeconds int       `json:"loop_interval_seconds"`
}

// Scheduler owns the decision loop.
type Scheduler struct {
	deps     Deps
	clock    clock.Clock
	logger   *slog.Logger
	interval time.Duration
	pubWait  time.Duration

	mu        sync.Mutex
	state     State
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	loopCount int64
	lastLoop  time.Time
	lastID    string
	lastErr   string
	iterMu    sync.Mutex
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock used for sleeping and snapshot timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the scheduler's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithInterval sets the sleep between iterations.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithPublishTimeout bounds how long one terminal record may spend in the
// publisher before the loop moves on.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.pubWait = d
		}
	}
}

// New validates deps and returns an idle Scheduler.
func New(deps Deps, opts ...Option) (*Scheduler, error) {
	if deps.Ledger == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if deps.Deployments == nil || deps.Recommender == nil || deps.Guardrails == nil || deps.Executor == nil {
		return nil, fmt.Errorf("deployments, recommender, guardrails and executor are required")
	}
	if deps.Publisher == nil {
		deps.Publisher = audit.Nop{}
	}

	s := &Scheduler{
		deps:     deps,
		clock:    clock.Real(),
		logger:   slog.Default(),
		interval: DefaultInterval,
		pubWait:  DefaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the loop in the background. It fails if the loop is
// already running or has been stopped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateRunning:
		return fmt.Errorf("scheduler already running")
	case StateStopped:
		return fmt.Errorf("scheduler has been stopped")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = StateRunning

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run(loopCtx)

		s.mu.Lock()
		if s.state == StateRunning {
			s.state = StateStopped
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel()
	}()

	s.logger.Info("starting decision loop", "interval", s.interval.String())
	return nil
}

// Stop cancels the loop and waits for the current iteration to finish.
// It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.state = StateStopped
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.logger.Info("decision loop stopped")
}

// IsRunning reports whether the loop is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateRunning
}

// Status returns the loop's counters.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:           s.state.String(),
		Running:         s.state == StateRunning,
		LoopCount:       s.loopCount,
		LastLoopTime:    s.lastLoop,
		LastIterationID: s.lastID,
		LastError:       s.lastErr,
		IntervalSeconds: int(s.interval.Seconds()),
	}
}

// Run iterates until ctx is done. Failed iterations are logged and the
// loop carries on after the normal sleep.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		res, err := s.RunOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("iteration failed", "iteration_id", res.ID, "error", err)
		}

		s.logger.Info("iteration complete, sleeping", "iteration", res.Number, "interval", s.interval.String())
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.interval):
		}
	}
}
