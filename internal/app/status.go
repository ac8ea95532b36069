package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ThilakShekharShriyan/akash-autopilot/internal/daemon"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon state and ledger summary",
	Long: `Display whether the decision loop daemon is running, which database and
APIs it is configured against, and a summary of the action ledger.`,
	Example: `  autopilot status
  autopilot status --json`,
	RunE: runStatus,
}

func init() {
	RootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pidFile, _, err := daemonFiles()
	if err != nil {
		return err
	}

	running, pid, err := daemon.IsRunning(pidFile)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	stats, err := st.Stats(ctx)
	if err != nil {
		return err
	}
	recent, err := st.RecentActions(ctx, 1)
	if err != nil {
		return err
	}

	if jsonOutput {
		body := map[string]any{
			"daemon_running": running,
			"database": map[string]string{
				"driver": cfg.DBDriver,
				"path":   cfg.DSNForDisplay(),
			},
			"configuration":  cfg.Public(),
			"database_stats": stats,
		}
		if running {
			body["pid"] = pid
		}
		if len(recent) > 0 {
			body["last_action"] = recent[0]
		}
		return printJSON(cmd, body)
	}

	out := cmd.OutOrStdout()
	if running {
		fmt.Fprintf(out, "Daemon:         running (PID %d)\n", pid)
	} else {
		fmt.Fprintln(out, "Daemon:         stopped (start with 'autopilot run --daemon')")
	}
	fmt.Fprintf(out, "Database:       %s %s\n", cfg.DBDriver, cfg.DSNForDisplay())
	mode := "live"
	if cfg.MockDeployments() || cfg.MockRecommender() {
		mode = "mock"
	}
	fmt.Fprintf(out, "APIs:           %s\n", mode)
	fmt.Fprintf(out, "Loop interval:  %s\n", cfg.LoopInterval())
	if len(recent) > 0 {
		a := recent[0]
		fmt.Fprintf(out, "Last action:    #%d %s %s at %s\n", a.ID, a.ActionType, a.Status, a.Timestamp.Format(time.RFC3339))
	} else {
		fmt.Fprintln(out, "Last action:    none")
	}
	fmt.Fprintln(out)
	fmt.Fprint(out, output.RenderStats(stats))
	return nil
}
