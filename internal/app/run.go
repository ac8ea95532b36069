package app

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ThilakShekharShriyan/akash-autopilot/internal/daemon"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/output"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/scheduler"
)

var (
	runDaemon      bool
	runDaemonChild bool
	runStop        bool
	runOnce        bool
	runPIDFile     string
	runLogFile     string

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the decision loop",
		Long: `Run the observe, recommend, guard and act loop.

Each iteration lists deployments, asks the recommender for a plan, checks
every action against the guardrails and executes what is allowed. Outcomes
are written to the ledger. Iterations never overlap.

Run modes:
  • Foreground (default): Ctrl+C to stop after the current iteration
  • Daemon: detached background process tracked by a PID file
  • Once: a single iteration, then exit
  • Stop: stop a running daemon

The status API is served on the configured HTTP address while the loop runs.`,
		Example: `  # Run in foreground
  autopilot run

  # Run as background daemon
  autopilot run --daemon

  # Stop the daemon
  autopilot run --stop

  # Single iteration with JSON output
  autopilot run --once --json`,
		RunE: runRun,
	}
)

func init() {
	runCmd.Flags().BoolVar(&runDaemon, "daemon", false, "run as background daemon")
	runCmd.Flags().BoolVar(&runDaemonChild, "daemon-child", false, "internal flag for daemon child process")
	runCmd.Flags().BoolVar(&runStop, "stop", false, "stop running daemon")
	runCmd.Flags().BoolVar(&runOnce, "once", false, "run a single iteration and exit")
	runCmd.Flags().StringVar(&runPIDFile, "pid-file", "", "PID file path (default: ~/.autopilot/autopilot.pid)")
	runCmd.Flags().StringVar(&runLogFile, "log-file", "", "log file path (default: ~/.autopilot/autopilot.log)")

	runCmd.Flags().MarkHidden("daemon-child")
	runCmd.MarkFlagsMutuallyExclusive("daemon", "stop", "once")

	RootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	pidFile, logFile, err := daemonFiles()
	if err != nil {
		return err
	}

	if runStop {
		return stopRunDaemon(cmd, pidFile)
	}
	if runDaemon {
		return startRunDaemon(cmd, pidFile, logFile)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	rt, err := buildRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if runOnce {
		return runSingleIteration(cmd, rt)
	}
	if runDaemonChild {
		return daemon.Run(cmd.Context(), pidFile, rt.serve)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(cmd.ErrOrStderr(), "Decision loop running. Press Ctrl+C to stop.")
	return rt.serve(ctx)
}

func daemonFiles() (string, string, error) {
	pidFile, logFile := runPIDFile, runLogFile
	var err error
	if pidFile == "" {
		if pidFile, err = stateFile("autopilot.pid"); err != nil {
			return "", "", err
		}
	}
	if logFile == "" {
		if logFile, err = stateFile("autopilot.log"); err != nil {
			return "", "", err
		}
	}
	return pidFile, logFile, nil
}

func stopRunDaemon(cmd *cobra.Command, pidFile string) error {
	running, _, err := daemon.IsRunning(pidFile)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if !running {
		fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running")
		return nil
	}

	spinner := output.NewSpinner("Stopping daemon")
	spinner.SetWriter(cmd.OutOrStdout())
	spinner.Start()
	if err := daemon.Stop(pidFile, 30*time.Second); err != nil {
		spinner.Stop()
		if errors.Is(err, daemon.ErrNotRunning) {
			fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running")
			return nil
		}
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	spinner.StopWithMessage("✓ Daemon stopped")
	return nil
}

func startRunDaemon(cmd *cobra.Command, pidFile, logFile string) error {
	// validate before detaching so config errors surface here
	if _, err := loadConfig(); err != nil {
		return err
	}

	args := []string{"run", "--pid-file", pidFile, "--log-file", logFile}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if dbPath != "" {
		args = append(args, "--db", dbPath)
	}

	pid, err := daemon.Start(pidFile, logFile, args...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Decision loop started (PID %d)\n", pid)
	fmt.Fprintf(out, "  Logs: %s\n", logFile)
	fmt.Fprintln(out, "  Stop with: autopilot run --stop")
	return nil
}

func runSingleIteration(cmd *cobra.Command, rt *runtime) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var spinner *output.Spinner
	if !jsonOutput {
		spinner = output.NewSpinner("Running decision iteration")
		spinner.SetWriter(cmd.ErrOrStderr())
		spinner.Start()
	}

	res, err := rt.scheduler.RunOnce(ctx)
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		return fmt.Errorf("iteration %s failed: %w", res.ID, err)
	}

	if jsonOutput {
		return printJSON(cmd, res)
	}
	fmt.Fprint(cmd.OutOrStdout(), renderResult(res))
	return nil
}

func renderResult(res *scheduler.Result) string {
	s := fmt.Sprintf("Iteration %d (%s)\n", res.Number, res.ID)
	deps := fmt.Sprintf("%d", res.Deployments)
	if res.Stale {
		deps += " (stale snapshots)"
	}
	s += fmt.Sprintf("  Deployments: %s\n", deps)

	switch {
	case !res.PlanReceived:
		s += "  Plan:        none (recommender unavailable)\n"
	case res.ValidationFailed:
		s += "  Plan:        rejected as malformed\n"
	case len(res.Outcomes) == 0:
		s += "  Plan:        no action\n"
	default:
		s += fmt.Sprintf("  Plan:        %d action(s)\n", len(res.Outcomes))
	}

	for _, o := range res.Outcomes {
		line := fmt.Sprintf("    #%d %s %s: %s", o.RecordID, o.Type, o.DeploymentID, o.Status)
		if o.Reason != "" {
			line += " - " + o.Reason
		}
		s += line + "\n"
	}
	return s
}
