package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ThilakShekharShriyan/akash-autopilot/internal/output"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Show the guardrails in force and active cooldowns",
	Long: `Show the effective policy: built-in defaults, overridden by the config
file and environment, overridden by the policy file if one is configured.
Active cooldowns are listed below.`,
	Example: `  autopilot policy
  POLICY_FILE=./policy.yaml autopilot policy --json`,
	RunE: runPolicy,
}

func init() {
	RootCmd.AddCommand(policyCmd)
}

func runPolicy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	p := cfg.Policy
	if cfg.PolicyFile != "" {
		if p, err = policy.LoadFile(cfg.PolicyFile, cfg.Policy); err != nil {
			return err
		}
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	cooldowns, err := st.ActiveCooldowns(cmd.Context())
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd, map[string]any{
			"policy":           p.Summary(),
			"policy_file":      cfg.PolicyFile,
			"active_cooldowns": len(cooldowns),
		})
	}

	out := cmd.OutOrStdout()
	if cfg.PolicyFile != "" {
		fmt.Fprintf(out, "Policy file: %s\n\n", cfg.PolicyFile)
	}
	fmt.Fprint(out, output.RenderPolicy(p.Summary()))
	fmt.Fprintln(out)
	fmt.Fprint(out, output.RenderCooldownTable(cooldowns, time.Now()))
	return nil
}
