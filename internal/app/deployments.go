package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ThilakShekharShriyan/akash-autopilot/internal/output"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/store"
)

var deploymentsCmd = &cobra.Command{
	Use:   "deployments [id]",
	Short: "Show tracked deployment snapshots",
	Long: `Show the last observed state of each deployment the loop manages.

Snapshots are refreshed every iteration. When the deployment API is
unreachable the loop reasons over these stored snapshots instead.`,
	Example: `  autopilot deployments
  autopilot deployments 12345 --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDeployments,
}

func init() {
	RootCmd.AddCommand(deploymentsCmd)
}

func runDeployments(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if len(args) == 1 {
		dep, err := st.GetDeployment(cmd.Context(), args[0])
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("deployment %s not found", args[0])
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, dep)
		}
		fmt.Fprint(cmd.OutOrStdout(), output.RenderDeploymentTable([]*store.DeploymentSnapshot{dep}))
		return nil
	}

	deps, err := st.ListDeployments(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		if deps == nil {
			deps = []*store.DeploymentSnapshot{}
		}
		return printJSON(cmd, map[string]any{"total": len(deps), "deployments": deps})
	}
	fmt.Fprint(cmd.OutOrStdout(), output.RenderDeploymentTable(deps))
	return nil
}
