package drill

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jguida941/ci-hub-orchestrator-sub000/internal/manifest"
)

const capturedAt = "2025-03-01T10:00:00Z"

var capturedAtTime = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

// dsseEnvelope returns a DSSE envelope whose in-toto statement attests the
// given sha256 hex digest.
func dsseEnvelope(t *testing.T, sha256hex string) string {
	t.Helper()
	statement := fmt.Sprintf(`{
  "_type": "https://in-toto.io/Statement/v1",
  "predicateType": "https://slsa.dev/provenance/v1",
  "subject": [{"name": "backup.json", "digest": {"sha256": %q}}]
}`, sha256hex)
	return fmt.Sprintf(`{"payloadType":"application/vnd.in-toto+json","payload":%q,"signatures":[{"keyid":"test","sig":"c2ln"}]}`,
		base64.StdEncoding.EncodeToString([]byte(statement)))
}

// buildFixture lays out a verifiable drill in a temp dir: backup payload,
// SBOM, matching provenance, optional restore script, and the manifest.
// manifestTemplate must contain one %s placeholder for the backup digest.
func buildFixture(t *testing.T, manifestTemplate, scriptBody string) *manifest.Manifest {
	t.Helper()
	dir := t.TempDir()

	payload := []byte(`{"services":[{"name":"api","status":"ready"},{"name":"db","status":"ready"}]}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backup.json"), payload, 0o644))
	digest := sha256Hex(payload)

	sbom := []byte(`{"components":[{"name":"svc-api","version":"1.2.3"}]}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sbom.json"), sbom, 0o644))

	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "provenance.ndjson"),
		[]byte(dsseEnvelope(t, digest)+"\n"),
		0o644,
	))

	if scriptBody != "" {
		require.NoError(t, os.WriteFile(
			filepath.Join(dir, "restore.sh"),
			[]byte("#!/bin/sh\n"+scriptBody+"\n"),
			0o755,
		))
	}

	manifestPath := filepath.Join(dir, "manifest.json")
	require.NoError(t, os.WriteFile(manifestPath,
		[]byte(fmt.Sprintf(manifestTemplate, digest)), 0o644))

	m, err := manifest.Load(manifestPath)
	require.NoError(t, err)
	return m
}

const copyManifest = `{
  "backup": {"path": "backup.json", "sha256": "%s", "captured_at": "` + capturedAt + `"},
  "sbom": {"path": "sbom.json"},
  "provenance": {"path": "provenance.ndjson"},
  "restore": {"output_dir": "restore-out", "copy_backup": true}
}`

func stepNames(events []Event) []string {
	names := make([]string, 0, len(events))
	for _, ev := range events {
		names = append(names, ev.Step)
	}
	return names
}

func TestRunHappyPath(t *testing.T) {
	m := buildFixture(t, copyManifest, "")
	now := capturedAtTime.Add(30 * time.Minute)

	result, err := NewRunner(nil).Run(context.Background(), m, now)
	require.NoError(t, err)
	require.NotNil(t, result.Report)

	assert.Equal(t, ReportSchema, result.Report.Schema)
	assert.NotEmpty(t, result.Report.RunID)
	assert.Equal(t, m.Source, result.Report.Manifest)
	assert.True(t, result.Report.BackupCapturedAt.Equal(capturedAtTime))
	assert.Equal(t, 2, result.Report.Notes.ServicesChecked)
	assert.Nil(t, result.Report.Notes.MaxRPOMinutes)
	assert.Nil(t, result.Report.Notes.MaxRTOSeconds)

	assert.InDelta(t, 30.0, result.Report.Metrics.RPOMinutes, 0.01)
	assert.GreaterOrEqual(t, result.Report.Metrics.RTOSeconds, 0.0)

	assert.Equal(t, []string{
		StepVerifyBackupDigest,
		StepVerifyBackupPayload,
		StepValidateSBOM,
		StepValidateProvenance,
		StepRestoreArtifact,
		StepValidateRestoredBackup,
		StepEnforcePolicies,
	}, stepNames(result.Events))
	for _, ev := range result.Events {
		assert.Equal(t, StatusSuccess, ev.Status, "step %s", ev.Step)
		assert.False(t, ev.EndedAt.Before(ev.StartedAt), "step %s", ev.Step)
	}
}

func TestRunRPOExactForInjectedNow(t *testing.T) {
	m := buildFixture(t, copyManifest, "")
	now := capturedAtTime.Add(90 * time.Minute)

	result, err := NewRunner(nil).Run(context.Background(), m, now)
	require.NoError(t, err)
	assert.InDelta(t, 90.0, result.Report.Metrics.RPOMinutes, 1e-9)
}

func TestRunClampsNegativeRPO(t *testing.T) {
	m := buildFixture(t, copyManifest, "")
	now := capturedAtTime.Add(-time.Hour)

	result, err := NewRunner(nil).Run(context.Background(), m, now)
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.Report.Metrics.RPOMinutes)
}

func TestRunCorruptedBackupHaltsBeforeRestore(t *testing.T) {
	m := buildFixture(t, copyManifest, "")
	require.NoError(t, os.WriteFile(m.Backup.Path, []byte(`{"services":[],"tampered":true}`), 0o644))

	result, err := NewRunner(nil).Run(context.Background(), m, capturedAtTime.Add(time.Hour))
	require.Error(t, err)
	assert.Nil(t, result)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, StepVerifyBackupDigest, failure.Step)
	require.Len(t, failure.Events, 1)
	assert.Equal(t, StatusFailure, failure.Events[0].Status)

	var mismatch *DigestMismatchError
	assert.ErrorAs(t, err, &mismatch)

	// No restore side effects: the output directory was never created.
	_, statErr := os.Stat(m.Restore.OutputDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunPolicyViolationIsDistinct(t *testing.T) {
	template := `{
  "backup": {"path": "backup.json", "sha256": "%s", "captured_at": "` + capturedAt + `"},
  "sbom": {"path": "sbom.json"},
  "provenance": {"path": "provenance.ndjson"},
  "restore": {"output_dir": "restore-out", "copy_backup": true},
  "policies": {"max_rpo_minutes": 10080}
}`
	m := buildFixture(t, template, "")
	now := capturedAtTime.Add(8 * 24 * time.Hour) // 8 days vs a 7-day limit

	result, err := NewRunner(nil).Run(context.Background(), m, now)
	require.Error(t, err)
	assert.Nil(t, result)

	var violation *PolicyViolationError
	require.ErrorAs(t, err, &violation)
	assert.InDelta(t, 8*24*60.0, violation.RPOMinutes, 1e-9)
	require.NotNil(t, violation.MaxRPOMinutes)
	assert.Equal(t, 10080.0, *violation.MaxRPOMinutes)
	assert.Contains(t, err.Error(), "10080")

	// A breach is not a mechanical failure: every step ran.
	var failure *Failure
	require.ErrorAs(t, err, &failure)
	require.Len(t, failure.Events, 7)
	assert.Equal(t, StepEnforcePolicies, failure.Events[6].Step)
	assert.Equal(t, StatusFailure, failure.Events[6].Status)

	var note map[string]any
	require.NoError(t, json.Unmarshal([]byte(failure.Events[6].Notes), &note))
	assert.Equal(t, "PolicyViolation", note["type"])
}

func TestRunFailingScriptHaltsPipeline(t *testing.T) {
	template := `{
  "backup": {"path": "backup.json", "sha256": "%s", "captured_at": "` + capturedAt + `"},
  "sbom": {"path": "sbom.json"},
  "provenance": {"path": "provenance.ndjson"},
  "restore": {"output_dir": "restore-out", "script": "restore.sh"}
}`
	m := buildFixture(t, template, "exit 7")

	_, err := NewRunner(nil).Run(context.Background(), m, capturedAtTime.Add(time.Hour))
	require.Error(t, err)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, StepRestoreArtifact, failure.Step)
	assert.Equal(t, []string{
		StepVerifyBackupDigest,
		StepVerifyBackupPayload,
		StepValidateSBOM,
		StepValidateProvenance,
		StepRestoreArtifact,
	}, stepNames(failure.Events))

	var restoreErr *RestoreError
	require.ErrorAs(t, err, &restoreErr)
	assert.Equal(t, 7, restoreErr.ExitCode)
}

func TestRunScriptRestoreVerified(t *testing.T) {
	template := `{
  "backup": {"path": "backup.json", "sha256": "%s", "captured_at": "` + capturedAt + `"},
  "sbom": {"path": "sbom.json"},
  "provenance": {"path": "provenance.ndjson"},
  "restore": {"output_dir": "restore-out", "script": "restore.sh", "timeout_seconds": 30}
}`
	// The script restores by the conventional name: backup basename inside
	// the output directory.
	m := buildFixture(t, template, `cp "$1" "$4/"`)

	result, err := NewRunner(nil).Run(context.Background(), m, capturedAtTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Events[5].Status)
}

func TestRunDeterministicForFixedNow(t *testing.T) {
	m := buildFixture(t, copyManifest, "")
	now := capturedAtTime.Add(45 * time.Minute)

	first, err := NewRunner(nil).Run(context.Background(), m, now)
	require.NoError(t, err)
	second, err := NewRunner(nil).Run(context.Background(), m, now)
	require.NoError(t, err)

	assert.Equal(t, first.Report.Metrics.RPOMinutes, second.Report.Metrics.RPOMinutes)
	assert.NotEqual(t, first.Report.RunID, second.Report.RunID)
}
