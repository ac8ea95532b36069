package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ThilakShekharShriyan/akash-autopilot/internal/plan"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/recommender"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/store"
)

// Outcome is what happened to one action.
type Outcome struct {
	RecordID     int64              `json:"record_id"`
	Type         store.ActionType   `json:"action_type"`
	DeploymentID string             `json:"deployment_id"`
	Status       store.ActionStatus `json:"status"`
	Reason       string             `json:"reason,omitempty"`
}

// Result summarizes one iteration.
type Result struct {
	ID               string    `json:"iteration_id"`
	Number           int64     `json:"iteration"`
	Deployments      int       `json:"deployments"`
	Stale            bool      `json:"stale"`
	PlanReceived     bool      `json:"plan_received"`
	ValidationFailed bool      `json:"validation_failed"`
	Outcomes         []Outcome `json:"outcomes"`
}

// RunOnce performs a single iteration. Iterations never overlap; a panic
// anywhere inside is recovered and returned as an error.
func (s *Scheduler) RunOnce(ctx context.Context) (res *Result, err error) {
	s.iterMu.Lock()
	defer s.iterMu.Unlock()

	s.mu.Lock()
	number := s.loopCount + 1
	s.mu.Unlock()

	res = &Result{ID: uuid.NewString(), Number: number}
	log := s.logger.With("iteration", number, "iteration_id", res.ID)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("iteration panicked: %v", r)
		}
		s.mu.Lock()
		s.loopCount = number
		s.lastLoop = s.clock.Now()
		s.lastID = res.ID
		s.lastErr = ""
		if err != nil {
			s.lastErr = err.Error()
		}
		s.mu.Unlock()
	}()

	log.Info("iteration started")
	err = s.iterate(ctx, log, res)
	return res, err
}

func (s *Scheduler) iterate(ctx context.Context, log *slog.Logger, res *Result) error {
	ledger := s.deps.Ledger

	if n, err := ledger.PruneExpiredCooldowns(ctx); err != nil {
		return fmt.Errorf("prune cooldowns: %w", err)
	} else if n > 0 {
		log.Debug("pruned expired cooldowns", "count", n)
	}

	snaps, err := s.observe(ctx, log, res)
	if err != nil {
		return err
	}
	res.Deployments = len(snaps)

	recent, err := ledger.RecentActions(ctx, recommender.RecentLimit)
	if err != nil {
		return fmt.Errorf("read recent actions: %w", err)
	}

	bundle := recommender.Bundle{
		Deployments:   snaps,
		Policy:        s.deps.Guardrails.Summary(),
		RecentActions: recent,
	}
	doc, err := s.deps.Recommender.Recommend(ctx, bundle)
	if err != nil {
		log.Warn("no action plan received", "error", err)
		return nil
	}
	res.PlanReceived = true

	validated, err := plan.Validate(doc)
	if err != nil {
		res.ValidationFailed = true
		log.Error("invalid action plan", "error", err)
		details := map[string]any{"error": err.Error(), "plan": doc}
		id, aerr := ledger.AppendAction(context.WithoutCancel(ctx), store.ActionValidationFailed, "", details, store.StatusFailed)
		if aerr != nil {
			return fmt.Errorf("record validation failure: %w", aerr)
		}
		s.publish(ctx, log, id)
		return nil
	}

	actions := plan.Sanitize(validated)
	log.Info("received action plan", "actions", len(actions), "reasoning", validated.Reasoning)

	for _, a := range actions {
		if ctx.Err() != nil {
			log.Info("stop requested, skipping remaining actions")
			return ctx.Err()
		}
		out, err := s.execute(ctx, log, a)
		if out != nil {
			res.Outcomes = append(res.Outcomes, *out)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// observe refreshes deployment snapshots. When the deployment API is
// unreachable the last stored snapshots are used instead.
func (s *Scheduler) observe(ctx context.Context, log *slog.Logger, res *Result) ([]*store.DeploymentSnapshot, error) {
	descs, err := s.deps.Deployments.List(ctx)
	if err != nil {
		log.Warn("deployment api unavailable, using stored snapshots", "error", err)
		res.Stale = true
		cached, cerr := s.deps.Ledger.ListDeployments(ctx)
		if cerr != nil {
			return nil, fmt.Errorf("load stored snapshots: %w", cerr)
		}
		return cached, nil
	}

	now := s.clock.Now()
	snaps := make([]*store.DeploymentSnapshot, 0, len(descs))
	for i := range descs {
		snap := descs[i].Snapshot(now)
		if err := s.deps.Ledger.UpsertDeploymentSnapshot(ctx, snap); err != nil {
			return nil, fmt.Errorf("store snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	log.Info("fetched deployments", "count", len(snaps))
	return snaps, nil
}

// execute runs one action through the ledger and guardrails. Once the
// pending record exists nothing here observes cancellation: an in-flight
// call finishes or hits its own timeout, and the record is always
// finalized. The loop checks for a stop between actions.
func (s *Scheduler) execute(ctx context.Context, log *slog.Logger, a plan.Action) (out *Outcome, err error) {
	wctx := context.WithoutCancel(ctx)
	log = log.With("action_type", a.Type, "deployment_id", a.DeploymentID)

	id, err := s.deps.Ledger.AppendAction(wctx, a.Type, a.DeploymentID, a.Details, store.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("record pending %s: %w", a.Type, err)
	}
	out = &Outcome{RecordID: id, Type: a.Type, DeploymentID: a.DeploymentID, Status: store.StatusPending}

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic during execution: %v", r)
			if ferr := s.finish(wctx, log, id, store.StatusFailed, msg); ferr == nil {
				out.Status, out.Reason = store.StatusFailed, msg
			}
			panic(r)
		}
	}()

	details := a.Details
	decision, err := s.deps.Guardrails.ValidateAction(wctx, a.Type, a.DeploymentID, &details)
	if err != nil {
		msg := "guardrail check failed: " + err.Error()
		if ferr := s.finish(wctx, log, id, store.StatusFailed, msg); ferr != nil {
			return out, ferr
		}
		out.Status, out.Reason = store.StatusFailed, msg
		return out, fmt.Errorf("validate %s: %w", a.Type, err)
	}
	if !decision.Allowed {
		log.Warn("action blocked by policy", "reason", decision.Reason)
		if err := s.finish(wctx, log, id, store.StatusBlocked, decision.Reason); err != nil {
			return out, err
		}
		out.Status, out.Reason = store.StatusBlocked, decision.Reason
		return out, nil
	}

	var execErr error
	switch a.Type {
	case store.ActionScale:
		log.Info("scaling deployment", "new_count", *a.Details.NewCount, "reason", a.Details.Reason)
		execErr = s.deps.Executor.Scale(wctx, a.DeploymentID, *a.Details.NewCount)
	case store.ActionRedeploy:
		log.Info("redeploying deployment", "reason", a.Details.Reason)
		execErr = s.deps.Executor.Redeploy(wctx, a.DeploymentID)
	default:
		execErr = fmt.Errorf("unknown action type: %s", a.Type)
	}

	if execErr != nil {
		log.Error("action execution failed", "error", execErr)
		if err := s.finish(wctx, log, id, store.StatusFailed, execErr.Error()); err != nil {
			return out, err
		}
		out.Status, out.Reason = store.StatusFailed, execErr.Error()
		return out, nil
	}

	if err := s.finish(wctx, log, id, store.StatusCompleted, ""); err != nil {
		return out, err
	}
	out.Status = store.StatusCompleted

	if err := s.deps.Guardrails.ApplyCooldown(wctx, a.Type, a.DeploymentID); err != nil {
		return out, fmt.Errorf("apply cooldown: %w", err)
	}
	log.Info("action completed")
	return out, nil
}

func (s *Scheduler) finish(ctx context.Context, log *slog.Logger, id int64, status store.ActionStatus, msg string) error {
	if err := s.deps.Ledger.UpdateActionStatus(ctx, id, status, msg); err != nil {
		return fmt.Errorf("record %s for action %d: %w", status, id, err)
	}
	s.publish(ctx, log, id)
	return nil
}

// publish forwards a terminal record within the publish timeout. Failures
// never affect the ledger.
func (s *Scheduler) publish(ctx context.Context, log *slog.Logger, id int64) {
	rec, err := s.deps.Ledger.GetAction(ctx, id)
	if err != nil {
		log.Warn("could not load record for publishing", "record_id", id, "error", err)
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.pubWait)
	defer cancel()
	if err := s.deps.Publisher.Publish(pctx, rec); err != nil {
		log.Warn("ledger event publish failed", "record_id", id, "error", err)
	}
}
