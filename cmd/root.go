package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jguida941/ci-hub-orchestrator-sub000/internal/logger"
)

// rootCmd is the base command for drdrill.
var rootCmd = &cobra.Command{
	Use:   "drdrill",
	Short: "Disaster-recovery drill runner",
	Long: `drdrill exercises the full recover-and-verify path for a backup
described by a drill manifest and certifies whether the declared
RTO/RPO objectives were met.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. The process exits 1 on any drill error,
// policy violations included.
func Execute() {
	log, err := logger.Init()
	if err != nil {
		os.Exit(1)
	}

	if err := rootCmd.Execute(); err != nil {
		log.Error("drill failed", "error", err.Error())
		logger.Cleanup()
		os.Exit(1)
	}
	logger.Cleanup()
}

func init() {
	rootCmd.AddCommand(runCmd)
}
