// Package output renders ledger records, deployments, policy and store
// statistics for the terminal. Colors are emitted only on a TTY and when
// NO_COLOR is unset.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/ThilakShekharShriyan/akash-autopilot/internal/policy"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/store"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// IsColorEnabled returns true if ANSI color codes should be emitted.
func IsColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

func colorize(color, text string) string {
	if IsColorEnabled() {
		return color + text + colorReset
	}
	return text
}

func statusColor(s store.ActionStatus) string {
	switch s {
	case store.StatusCompleted:
		return colorGreen
	case store.StatusBlocked:
		return colorYellow
	case store.StatusFailed:
		return colorRed
	default:
		return colorGray
	}
}

// RenderActionTable renders ledger records in the order given.
func RenderActionTable(actions []*store.ActionRecord) string {
	if len(actions) == 0 {
		return "No actions recorded.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-6s %-17s %-18s %-12s %-10s %s\n",
		"ID", "When", "Type", "Deployment", "Status", "Reason"))
	sb.WriteString(strings.Repeat("─", 90))
	sb.WriteString("\n")

	for _, a := range actions {
		dep := a.DeploymentID
		if dep == "" {
			dep = "—"
		}
		// pad before coloring so escape codes don't break alignment
		status := colorize(statusColor(a.Status), fmt.Sprintf("%-10s", a.Status))
		reason := a.Reason()
		if a.Status == store.StatusFailed && a.Error != "" {
			reason = a.Error
		}
		sb.WriteString(fmt.Sprintf("%-6d %-17s %-18s %-12s %s %s\n",
			a.ID,
			formatRelativeTime(a.Timestamp),
			a.ActionType,
			truncate(dep, 12),
			status,
			truncate(reason, 40)))
	}
	return sb.String()
}

// RenderDeploymentTable renders tracked deployments sorted by ID.
func RenderDeploymentTable(deps []*store.DeploymentSnapshot) string {
	if len(deps) == 0 {
		return "No deployments tracked.\n"
	}

	sorted := make([]*store.DeploymentSnapshot, len(deps))
	copy(sorted, deps)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-12s %-24s %-10s %-9s %s\n",
		"ID", "Name", "Status", "Replicas", "Last Checked"))
	sb.WriteString(strings.Repeat("─", 72))
	sb.WriteString("\n")

	for _, d := range sorted {
		status := fmt.Sprintf("%-10s", d.Status)
		if d.Status == store.DeploymentActive {
			status = colorize(colorGreen, status)
		} else {
			status = colorize(colorGray, status)
		}
		sb.WriteString(fmt.Sprintf("%-12s %-24s %s %-9d %s\n",
			truncate(d.ID, 12),
			truncate(d.Name, 24),
			status,
			d.ReplicaCount,
			formatRelativeTime(d.ObservedAt)))
	}
	return sb.String()
}

// RenderStats renders store statistics with per-status counts in a stable
// order.
func RenderStats(s *store.Stats) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Total actions:        %d\n", s.TotalActions))
	sb.WriteString(fmt.Sprintf("Actions (last hour):  %d\n", s.ActionsLastHour))
	sb.WriteString(fmt.Sprintf("Tracked deployments:  %d\n", s.TrackedDeployments))
	sb.WriteString(fmt.Sprintf("Active cooldowns:     %d\n", s.ActiveCooldowns))

	if len(s.ActionsByStatus) > 0 {
		sb.WriteString("\nBy status:\n")
		statuses := make([]string, 0, len(s.ActionsByStatus))
		for k := range s.ActionsByStatus {
			statuses = append(statuses, k)
		}
		sort.Strings(statuses)
		for _, k := range statuses {
			label := colorize(statusColor(store.ActionStatus(k)), fmt.Sprintf("%-10s", k))
			sb.WriteString(fmt.Sprintf("  %s %d\n", label, s.ActionsByStatus[k]))
		}
	}
	return sb.String()
}

// RenderPolicy renders the guardrail limits in force.
func RenderPolicy(p policy.Summary) string {
	var sb strings.Builder
	sb.WriteString("Rate limits:\n")
	sb.WriteString(fmt.Sprintf("  max actions per hour:  %d\n", p.RateLimits.MaxActionsPerHour))
	sb.WriteString(fmt.Sprintf("  max actions per day:   %d\n", p.RateLimits.MaxActionsPerDay))
	sb.WriteString("Cooldowns:\n")
	sb.WriteString(fmt.Sprintf("  scale:     %s\n", formatSeconds(p.Cooldowns.ScaleCooldownSeconds)))
	sb.WriteString(fmt.Sprintf("  redeploy:  %s\n", formatSeconds(p.Cooldowns.RedeployCooldownSeconds)))
	sb.WriteString("Constraints:\n")
	sb.WriteString(fmt.Sprintf("  replicas:  %d..%d\n", p.Constraints.MinReplicas, p.Constraints.MaxReplicas))
	return sb.String()
}

// RenderCooldownTable renders active cooldowns with time remaining.
func RenderCooldownTable(cooldowns []*store.Cooldown, now time.Time) string {
	if len(cooldowns) == 0 {
		return "No active cooldowns.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-18s %-12s %s\n", "Action", "Deployment", "Remaining"))
	sb.WriteString(strings.Repeat("─", 44))
	sb.WriteString("\n")
	for _, c := range cooldowns {
		dep := c.DeploymentID
		if dep == "" {
			dep = "(all)"
		}
		sb.WriteString(fmt.Sprintf("%-18s %-12s %s\n",
			c.ActionType,
			truncate(dep, 12),
			c.ExpiresAt.Sub(now).Truncate(time.Second)))
	}
	return sb.String()
}

// RenderJSON pretty-prints v for --json output.
func RenderJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode JSON: %w", err)
	}
	return string(data) + "\n", nil
}

func formatSeconds(secs int) string {
	return (time.Duration(secs) * time.Second).String()
}

// formatRelativeTime converts a timestamp to relative time (e.g., "2 hours ago").
func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour")
	case diff < 30*24*time.Hour:
		return plural(int(diff.Hours()/24), "day")
	default:
		return t.Format("2006-01-02")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit + " ago"
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

// truncate truncates a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
