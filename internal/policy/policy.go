// Package policy implements the guardrails every proposed action must pass
// before the loop executes it: trailing-window rate limits, per-type
// cooldowns and type-specific constraints.
package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultCooldown applies to action types without a configured duration.
const DefaultCooldown = time.Hour

// Policy holds the configurable limits. Durations are whole seconds so the
// same struct reads from YAML and renders into the summary unchanged.
type Policy struct {
	MaxActionsPerHour       int `yaml:"max_actions_per_hour"`
	MaxActionsPerDay        int `yaml:"max_actions_per_day"`
	ScaleCooldownSeconds    int `yaml:"scale_cooldown_seconds"`
	RedeployCooldownSeconds int `yaml:"redeploy_cooldown_seconds"`
	MaxReplicas             int `yaml:"max_replicas"`
	MinReplicas             int `yaml:"min_replicas"`
}

// Defaults returns the stock limits.
func Defaults() Policy {
	return Policy{
		MaxActionsPerHour:       10,
		MaxActionsPerDay:        50,
		ScaleCooldownSeconds:    3600,
		RedeployCooldownSeconds: 7200,
		MaxReplicas:             10,
		MinReplicas:             0,
	}
}

// Validate rejects limits that would make every decision meaningless.
func (p Policy) Validate() error {
	if p.MaxActionsPerHour < 0 || p.MaxActionsPerDay < 0 {
		return fmt.Errorf("rate limits must not be negative (hour=%d, day=%d)", p.MaxActionsPerHour, p.MaxActionsPerDay)
	}
	if p.ScaleCooldownSeconds < 0 || p.RedeployCooldownSeconds < 0 {
		return fmt.Errorf("cooldowns must not be negative (scale=%d, redeploy=%d)", p.ScaleCooldownSeconds, p.RedeployCooldownSeconds)
	}
	if p.MinReplicas < 0 {
		return fmt.Errorf("min_replicas must not be negative: %d", p.MinReplicas)
	}
	if p.MaxReplicas < p.MinReplicas {
		return fmt.Errorf("max_replicas (%d) is below min_replicas (%d)", p.MaxReplicas, p.MinReplicas)
	}
	return nil
}

// Summary is the read-only projection of a Policy handed to the
// recommender and the status surface.
type Summary struct {
	RateLimits struct {
		MaxActionsPerHour int `json:"max_actions_per_hour"`
		MaxActionsPerDay  int `json:"max_actions_per_day"`
	} `json:"rate_limits"`
	Cooldowns struct {
		ScaleCooldownSeconds    int `json:"scale_cooldown_seconds"`
		RedeployCooldownSeconds int `json:"redeploy_cooldown_seconds"`
	} `json:"cooldowns"`
	Constraints struct {
		MaxReplicas int `json:"max_replicas"`
		MinReplicas int `json:"min_replicas"`
	} `json:"constraints"`
}

// Summary projects p.
func (p Policy) Summary() Summary {
	var s Summary
	s.RateLimits.MaxActionsPerHour = p.MaxActionsPerHour
	s.RateLimits.MaxActionsPerDay = p.MaxActionsPerDay
	s.Cooldowns.ScaleCooldownSeconds = p.ScaleCooldownSeconds
	s.Cooldowns.RedeployCooldownSeconds = p.RedeployCooldownSeconds
	s.Constraints.MaxReplicas = p.MaxReplicas
	s.Constraints.MinReplicas = p.MinReplicas
	return s
}

// LoadFile overlays the YAML policy file at path onto base. Keys absent
// from the file keep base's values.
func LoadFile(path string, base Policy) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("failed to read policy file: %w", err)
	}
	return parsePolicy(data, path, base)
}

func parsePolicy(data []byte, path string, base Policy) (Policy, error) {
	p := base
	if err := yaml.Unmarshal(data, &p); err != nil {
		return base, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return base, fmt.Errorf("invalid policy file %s: %w", path, err)
	}
	return p, nil
}
