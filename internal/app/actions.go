package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ThilakShekharShriyan/akash-autopilot/internal/output"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/store"
)

var (
	actionsType  string
	actionsLimit int
	actionsSince time.Duration

	actionsCmd = &cobra.Command{
		Use:   "actions",
		Short: "List recorded actions, newest first",
		Long: `List entries from the action ledger.

Every action the loop attempted is recorded, including actions the
guardrails blocked and plans that failed validation.`,
		Example: `  # Last 20 actions
  autopilot actions

  # Scale actions from the last day
  autopilot actions --type scale --since 24h`,
		RunE: runActions,
	}
)

func init() {
	actionsCmd.Flags().StringVar(&actionsType, "type", "", "filter by action type (scale, redeploy, validation_failed)")
	actionsCmd.Flags().IntVar(&actionsLimit, "limit", 20, "maximum number of actions to show")
	actionsCmd.Flags().DurationVar(&actionsSince, "since", 0, "only show actions newer than this (requires --type)")

	RootCmd.AddCommand(actionsCmd)
}

func runActions(cmd *cobra.Command, args []string) error {
	if actionsLimit < 1 {
		return fmt.Errorf("--limit must be positive")
	}
	if actionsSince > 0 && actionsType == "" {
		return fmt.Errorf("--since requires --type")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var actions []*store.ActionRecord
	if actionsType != "" {
		actionType := store.ActionType(actionsType)
		switch actionType {
		case store.ActionScale, store.ActionRedeploy, store.ActionValidationFailed:
		default:
			return fmt.Errorf("unknown action type %q", actionsType)
		}
		var since time.Time
		if actionsSince > 0 {
			since = time.Now().Add(-actionsSince)
		}
		actions, err = st.ActionsByType(cmd.Context(), actionType, since, actionsLimit)
	} else {
		actions, err = st.RecentActions(cmd.Context(), actionsLimit)
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		if actions == nil {
			actions = []*store.ActionRecord{}
		}
		return printJSON(cmd, map[string]any{"total": len(actions), "actions": actions})
	}
	fmt.Fprint(cmd.OutOrStdout(), output.RenderActionTable(actions))
	return nil
}
