package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ThilakShekharShriyan/akash-autopilot/internal/output"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show ledger statistics",
	RunE:  runStats,
}

func init() {
	RootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, stats)
	}
	fmt.Fprint(cmd.OutOrStdout(), output.RenderStats(stats))
	return nil
}
