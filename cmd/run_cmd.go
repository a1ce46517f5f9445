package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jguida941/ci-hub-orchestrator-sub000/internal/drill"
	"github.com/jguida941/ci-hub-orchestrator-sub000/internal/evidence"
	"github.com/jguida941/ci-hub-orchestrator-sub000/internal/logger"
	"github.com/jguida941/ci-hub-orchestrator-sub000/internal/manifest"
)

var (
	manifestPath string
	outputPath   string
	ndjsonPath   string
	evidenceDir  string
	currentTime  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one DR drill from a manifest",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.Global()

		m, err := manifest.Load(manifestPath)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if currentTime != "" {
			now, err = manifest.ParseTime(currentTime)
			if err != nil {
				return fmt.Errorf("--current-time: %w", err)
			}
		}

		result, err := drill.NewRunner(log).Run(cmd.Context(), m, now)
		if err != nil {
			// Flush whatever partial events exist before exiting.
			var failure *drill.Failure
			if errors.As(err, &failure) && ndjsonPath != "" {
				if werr := evidence.AppendEvents(ndjsonPath, failure.Events); werr != nil {
					log.Error("flush partial events", "error", werr.Error())
				}
			}
			var violation *drill.PolicyViolationError
			if errors.As(err, &violation) {
				log.Error("recovery objectives missed",
					"rpo_minutes", violation.RPOMinutes,
					"rto_seconds", violation.RTOSeconds,
				)
			}
			return err
		}

		if err := evidence.WriteReport(outputPath, result.Report); err != nil {
			return err
		}
		if ndjsonPath != "" {
			if err := evidence.AppendEvents(ndjsonPath, result.Events); err != nil {
				return err
			}
		}

		dir := evidenceDir
		if dir == "" {
			dir = filepath.Dir(outputPath)
		}
		if err := evidence.WriteMetrics(dir, result.Report); err != nil {
			return err
		}
		if err := evidence.WriteManifestDigest(dir, m.Source); err != nil {
			return err
		}

		log.Info("drill passed",
			"run_id", result.Report.RunID,
			"report", outputPath,
			"rto_seconds", result.Report.Metrics.RTOSeconds,
			"rpo_minutes", result.Report.Metrics.RPOMinutes,
		)
		return nil
	},
}

func init() {
	runCmd.Flags().
		StringVarP(&manifestPath, "manifest", "m", "", "path to the drill manifest (required)")
	runCmd.Flags().
		StringVarP(&outputPath, "output", "o", "drill-report.json", "path for the drill report JSON")
	runCmd.Flags().
		StringVar(&ndjsonPath, "ndjson", "", "path for the NDJSON event stream (appended)")
	runCmd.Flags().
		StringVar(&evidenceDir, "evidence-dir", "", "directory for auxiliary evidence files (defaults to the report's directory)")
	runCmd.Flags().
		StringVar(&currentTime, "current-time", "", "override \"now\" for RPO computation (ISO-8601)")
	_ = runCmd.MarkFlagRequired("manifest")
}
