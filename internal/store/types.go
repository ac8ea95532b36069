package store

import (
	"encoding/json"
	"strings"
	"time"
)

// ActionType names what the loop attempted.
type ActionType string

const (
	ActionScale            ActionType = "scale"
	ActionRedeploy         ActionType = "redeploy"
	ActionValidationFailed ActionType = "validation_failed"
)

// ActionStatus is the lifecycle state of a ledger record:
// pending -> completed | failed | blocked.
type ActionStatus string

const (
	StatusPending   ActionStatus = "pending"
	StatusCompleted ActionStatus = "completed"
	StatusFailed    ActionStatus = "failed"
	StatusBlocked   ActionStatus = "blocked"
)

// Valid reports whether s is one of the known statuses.
func (s ActionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusBlocked:
		return true
	}
	return false
}

// Terminal reports whether s is a final state.
func (s ActionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusBlocked
}

// DeploymentStatus is the normalized state of a managed deployment.
type DeploymentStatus string

const (
	DeploymentActive   DeploymentStatus = "active"
	DeploymentInactive DeploymentStatus = "inactive"
	DeploymentUnknown  DeploymentStatus = "unknown"
)

// ParseDeploymentStatus normalizes an upstream status string.
func ParseDeploymentStatus(s string) DeploymentStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return DeploymentActive
	case "inactive", "closed":
		return DeploymentInactive
	default:
		return DeploymentUnknown
	}
}

// DeploymentSnapshot is the last known state of one deployment.
type DeploymentSnapshot struct {
	ID           string           `json:"deployment_id"`
	Name         string           `json:"name"`
	Status       DeploymentStatus `json:"status"`
	ReplicaCount int              `json:"replicas"`
	Metrics      map[string]any   `json:"metrics,omitempty"`
	ObservedAt   time.Time        `json:"last_checked"`
}

// ActionRecord is one row of the audit ledger. DeploymentID is empty when
// the action is not scoped to a deployment.
type ActionRecord struct {
	ID           int64           `json:"id"`
	Timestamp    time.Time       `json:"timestamp"`
	ActionType   ActionType      `json:"action_type"`
	DeploymentID string          `json:"deployment_id,omitempty"`
	Details      json.RawMessage `json:"details,omitempty"`
	Status       ActionStatus    `json:"status"`
	Error        string          `json:"error,omitempty"`
}

// Reason extracts details.reason when present.
func (r *ActionRecord) Reason() string {
	if len(r.Details) == 0 {
		return ""
	}
	var d struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(r.Details, &d); err != nil {
		return ""
	}
	return d.Reason
}

// Cooldown suppresses an action type, optionally for a single deployment,
// until ExpiresAt.
type Cooldown struct {
	ActionType   ActionType `json:"action_type"`
	DeploymentID string     `json:"deployment_id,omitempty"`
	ExpiresAt    time.Time  `json:"expires_at"`
}

// Stats aggregates ledger counters for observability.
type Stats struct {
	TotalActions       int            `json:"total_actions"`
	ActionsByStatus    map[string]int `json:"actions_by_status"`
	ActionsLastHour    int            `json:"actions_last_hour"`
	TrackedDeployments int            `json:"tracked_deployments"`
	ActiveCooldowns    int            `json:"active_cooldowns"`
}
