// Package drill runs disaster-recovery drills: the fixed verify-restore-verify
// step pipeline, the recovery metrics it measures, and the error taxonomy it
// reports through.
package drill

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jguida941/ci-hub-orchestrator-sub000/internal/logger"
	"github.com/jguida941/ci-hub-orchestrator-sub000/internal/manifest"
)

// Step names, in execution order. The sequence is fixed: each step may depend
// on artifacts produced by the one before it, so no reordering or skipping.
const (
	StepVerifyBackupDigest     = "verify_backup_digest"
	StepVerifyBackupPayload    = "verify_backup_payload"
	StepValidateSBOM           = "validate_sbom"
	StepValidateProvenance     = "validate_provenance"
	StepRestoreArtifact        = "restore_artifact"
	StepValidateRestoredBackup = "validate_restored_backup"
	StepEnforcePolicies        = "enforce_policies"
)

// Runner executes drills. Zero value is not usable; construct with NewRunner.
type Runner struct {
	log logger.Logger
}

// NewRunner returns a Runner logging through log. A nil log disables logging.
func NewRunner(log logger.Logger) *Runner {
	if log == nil {
		log = logger.Nop()
	}
	return &Runner{log: log}
}

// Run executes the full drill described by m. now is the reference time for
// the RPO computation; inject a fixed value for deterministic runs. On any
// step failure Run returns a *Failure carrying the partial event list and no
// Result.
func (r *Runner) Run(ctx context.Context, m *manifest.Manifest, now time.Time) (*Result, error) {
	runID := uuid.NewString()
	startedAt := time.Now().UTC()
	r.log.Info("drill started", "run_id", runID, "manifest", m.Source)

	var (
		events          []Event
		servicesChecked int
		outcome         *restoreOutcome
		rto             time.Duration
	)

	// runStep wraps one step: time it, always append exactly one event,
	// and propagate failure wrapped into the taxonomy. Never swallows.
	runStep := func(name string, fn func() (map[string]any, error)) error {
		start := time.Now().UTC()
		details, err := fn()
		end := time.Now().UTC()
		if name == StepRestoreArtifact {
			rto = end.Sub(start)
		}
		ev := Event{Step: name, StartedAt: start, EndedAt: end}
		if err != nil {
			err = intoTaxonomy(err)
			ev.Status = StatusFailure
			ev.Notes = failureNotes(err)
			events = append(events, ev)
			r.log.Error("drill step failed",
				"run_id", runID, "step", name, "error", err.Error())
			return &Failure{Step: name, Events: events, Err: err}
		}
		ev.Status = StatusSuccess
		ev.Notes = compactNotes(details)
		events = append(events, ev)
		r.log.Info("drill step completed",
			"run_id", runID, "step", name, "duration", end.Sub(start).String())
		return nil
	}

	if err := runStep(StepVerifyBackupDigest, func() (map[string]any, error) {
		return verifyDigest(m.Backup.Path, m.Backup.Digest)
	}); err != nil {
		return nil, err
	}

	if err := runStep(StepVerifyBackupPayload, func() (map[string]any, error) {
		count, details, err := verifyBackupPayload(m.Backup.Path)
		servicesChecked = count
		return details, err
	}); err != nil {
		return nil, err
	}

	if err := runStep(StepValidateSBOM, func() (map[string]any, error) {
		return validateSBOM(m.SBOM.Path)
	}); err != nil {
		return nil, err
	}

	if err := runStep(StepValidateProvenance, func() (map[string]any, error) {
		return validateProvenance(m.Provenance.Path, m.Backup.Digest)
	}); err != nil {
		return nil, err
	}

	if err := runStep(StepRestoreArtifact, func() (map[string]any, error) {
		var details map[string]any
		var err error
		outcome, details, err = restoreArtifact(ctx, m)
		return details, err
	}); err != nil {
		return nil, err
	}

	if err := runStep(StepValidateRestoredBackup, func() (map[string]any, error) {
		return verifyDigest(restoredPath(m, outcome), m.Backup.Digest)
	}); err != nil {
		return nil, err
	}

	metrics := computeMetrics(m.Backup.CapturedAt, now, rto)

	if err := runStep(StepEnforcePolicies, func() (map[string]any, error) {
		return enforcePolicies(metrics, m.Policy)
	}); err != nil {
		return nil, err
	}

	report := &Report{
		Schema:           ReportSchema,
		RunID:            runID,
		StartedAt:        startedAt,
		EndedAt:          time.Now().UTC(),
		BackupCapturedAt: m.Backup.CapturedAt,
		Manifest:         m.Source,
		Metrics:          metrics,
		Notes: ReportNotes{
			MaxRPOMinutes:   m.Policy.MaxRPOMinutes,
			MaxRTOSeconds:   m.Policy.MaxRTOSeconds,
			ServicesChecked: servicesChecked,
		},
	}
	r.log.Info("drill completed",
		"run_id", runID,
		"rto_seconds", metrics.RTOSeconds,
		"rpo_minutes", metrics.RPOMinutes,
	)
	return &Result{Report: report, Events: events}, nil
}

// restoredPath returns the restored artifact to re-verify: the explicit path
// reported by the restore step, or the conventional fallback of the backup's
// basename inside the output directory. The fallback is a documented
// convention the restore script is expected to satisfy, not something the
// engine verifies independently.
func restoredPath(m *manifest.Manifest, outcome *restoreOutcome) string {
	if outcome != nil && outcome.RestoredPath != "" {
		return outcome.RestoredPath
	}
	return filepath.Join(m.Restore.OutputDir, filepath.Base(m.Backup.Path))
}
