// Package evidence writes the audit-trail files a drill leaves behind: the
// report, the NDJSON event stream, and the auxiliary metrics and manifest
// digest records.
package evidence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jguida941/ci-hub-orchestrator-sub000/internal/drill"
)

const (
	MetricsFilename        = "drill-metrics.json"
	ManifestDigestFilename = "manifest.sha256"
)

// EnsureDirectoryExist creates dirPath and any missing parents.
func EnsureDirectoryExist(dirPath string) error {
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return fmt.Errorf("failed to create evidence directory %q: %w", dirPath, err)
	}
	return nil
}

// WriteReport writes the drill report as indented JSON at path, truncating
// any previous report.
func WriteReport(path string, report *drill.Report) error {
	if err := EnsureDirectoryExist(filepath.Dir(path)); err != nil {
		return err
	}
	jsonFile, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file %q: %w", path, err)
	}
	defer jsonFile.Close()

	encoder := json.NewEncoder(jsonFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return fmt.Errorf("encode report JSON: %w", err)
	}
	return nil
}

// AppendEvents appends one compact JSON object per event to the NDJSON
// stream at path. Appending, not truncating: repeated drills against the
// same stream accumulate an audit trail.
func AppendEvents(path string, events []drill.Event) error {
	if err := EnsureDirectoryExist(filepath.Dir(path)); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open event stream %q: %w", path, err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	for _, ev := range events {
		if err := encoder.Encode(ev); err != nil {
			return fmt.Errorf("encode event JSON: %w", err)
		}
	}
	return nil
}

// metricsRecord is the shape of drill-metrics.json: the identifiers and
// numbers an auditor needs, nothing else.
type metricsRecord struct {
	RunID            string        `json:"run_id"`
	BackupCapturedAt time.Time     `json:"backup_captured_at"`
	Metrics          drill.Metrics `json:"metrics"`
}

// WriteMetrics writes drill-metrics.json into dir from the report.
func WriteMetrics(dir string, report *drill.Report) error {
	if err := EnsureDirectoryExist(dir); err != nil {
		return err
	}
	record := metricsRecord{
		RunID:            report.RunID,
		BackupCapturedAt: report.BackupCapturedAt,
		Metrics:          report.Metrics,
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metrics JSON: %w", err)
	}
	path := filepath.Join(dir, MetricsFilename)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write metrics file %q: %w", path, err)
	}
	return nil
}

// WriteManifestDigest records the manifest's own digest and path as
// manifest.sha256 inside dir, checksum-file style.
func WriteManifestDigest(dir, manifestPath string) error {
	if err := EnsureDirectoryExist(dir); err != nil {
		return err
	}
	digest, err := drill.HashFile(manifestPath)
	if err != nil {
		return fmt.Errorf("hash manifest %q: %w", manifestPath, err)
	}
	path := filepath.Join(dir, ManifestDigestFilename)
	line := fmt.Sprintf("%s  %s\n", digest, manifestPath)
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		return fmt.Errorf("write manifest digest %q: %w", path, err)
	}
	return nil
}
