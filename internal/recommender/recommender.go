// Package recommender asks a reasoning service for an action plan given
// the current deployments, the policy in force and recent decisions.
package recommender

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ThilakShekharShriyan/akash-autopilot/internal/policy"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/store"
)

// RecentLimit is how many ledger records are included as context.
const RecentLimit = 10

// Bundle is the context handed to a Recommender.
type Bundle struct {
	Deployments   []*store.DeploymentSnapshot `json:"deployments"`
	Policy        policy.Summary              `json:"policy_summary"`
	RecentActions []*store.ActionRecord       `json:"recent_actions"`
}

// Recommender produces an undecoded plan document. Any error means "no
// plan this iteration".
type Recommender interface {
	Recommend(ctx context.Context, b Bundle) (map[string]any, error)
}

const systemPrompt = `You are an autonomous infrastructure operator for Akash Network deployments.

Your role is to analyze deployment health metrics and recommend actions to maintain optimal performance.

You must respond with ONLY valid JSON in this exact format:
{
  "reasoning": "Brief explanation of your analysis",
  "actions": [
    {
      "type": "scale|redeploy|no_action",
      "deployment_id": "deployment_id_here",
      "new_count": 2,
      "reason": "Why this action is needed"
    }
  ]
}

Guidelines:
- Only recommend actions when truly necessary
- "no_action" is a valid and often correct choice
- Scaling up: Only if metrics show resource pressure
- Scaling down: Only if utilization is very low for extended periods
- Redeploy: Only for critical issues that restart can fix
- Never recommend more than 2 actions at once
- Always provide clear reasoning

Available action types:
- "scale": Change replica count (requires: deployment_id, new_count)
- "redeploy": Restart deployment (requires: deployment_id)
- "no_action": Do nothing (no additional fields needed)

Actions have cooldown periods to prevent thrashing. The current limits are
listed under POLICY CONSTRAINTS in each request.`

// BuildPrompt renders b as the user message.
func BuildPrompt(b Bundle) string {
	var sb strings.Builder

	sb.WriteString("=== CURRENT DEPLOYMENTS ===\n")
	if len(b.Deployments) == 0 {
		sb.WriteString("No deployments currently tracked.\n")
	}
	for _, d := range b.Deployments {
		fmt.Fprintf(&sb, "\nDeployment: %s\nID: %s\nStatus: %s\nCurrent Replicas: %d\nLast Checked: %s\n",
			d.Name, d.ID, d.Status, d.ReplicaCount, d.ObservedAt.UTC().Format("2006-01-02T15:04:05Z"))
		if len(d.Metrics) == 0 {
			sb.WriteString("Metrics: No metrics available\n")
		} else {
			m, _ := json.MarshalIndent(d.Metrics, "", "  ")
			fmt.Fprintf(&sb, "Metrics: %s\n", m)
		}
	}

	sb.WriteString("\n=== POLICY CONSTRAINTS ===\n")
	p, _ := json.MarshalIndent(b.Policy, "", "  ")
	sb.Write(p)
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "\n=== RECENT ACTIONS (Last %d) ===\n", RecentLimit)
	if len(b.RecentActions) == 0 {
		sb.WriteString("No recent actions.\n")
	}
	for i, a := range b.RecentActions {
		if i == RecentLimit {
			break
		}
		reason := a.Reason()
		if reason == "" {
			reason = "N/A"
		}
		fmt.Fprintf(&sb, "- %s: %s [%s] - %s\n", a.Timestamp.UTC().Format("2006-01-02T15:04:05Z"), a.ActionType, a.Status, reason)
	}

	sb.WriteString("\n=== YOUR TASK ===\n")
	sb.WriteString("Analyze the deployment states and metrics above. " +
		"Determine if any actions are needed to maintain optimal performance. " +
		"Remember: doing nothing is often the right choice. " +
		"Only recommend actions when metrics clearly indicate a need.")

	return sb.String()
}
