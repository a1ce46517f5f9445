package evidence

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jguida941/ci-hub-orchestrator-sub000/internal/drill"
)

func sampleReport() *drill.Report {
	return &drill.Report{
		Schema:           drill.ReportSchema,
		RunID:            "test-run",
		StartedAt:        time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		EndedAt:          time.Date(2025, 3, 1, 12, 0, 5, 0, time.UTC),
		BackupCapturedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Manifest:         "/srv/manifest.json",
		Metrics:          drill.Metrics{RTOSeconds: 1.5, RPOMinutes: 120},
	}
}

func TestWriteReportRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "drill-report.json")
	require.NoError(t, WriteReport(path, sampleReport()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got drill.Report
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "test-run", got.RunID)
	assert.Equal(t, drill.ReportSchema, got.Schema)
	assert.Equal(t, 120.0, got.Metrics.RPOMinutes)
}

func TestAppendEventsAccumulates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	events := []drill.Event{
		{Step: "verify_backup_digest", Status: drill.StatusSuccess},
		{Step: "verify_backup_payload", Status: drill.StatusFailure, Notes: `{"type":"StructuralValidationError"}`},
	}

	require.NoError(t, AppendEvents(path, events))
	require.NoError(t, AppendEvents(path, events))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
		var ev drill.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev), "line %d", lines)
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, 4, lines)
}

func TestWriteMetrics(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteMetrics(dir, sampleReport()))

	data, err := os.ReadFile(filepath.Join(dir, MetricsFilename))
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, "test-run", record["run_id"])
	assert.Contains(t, record, "backup_captured_at")

	metrics, ok := record["metrics"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1.5, metrics["rto_seconds"])
	assert.Equal(t, 120.0, metrics["rpo_minutes"])
}

func TestWriteManifestDigest(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "manifest.json")
	content := []byte(`{"backup":{}}`)
	require.NoError(t, os.WriteFile(manifestPath, content, 0o644))

	require.NoError(t, WriteManifestDigest(dir, manifestPath))

	data, err := os.ReadFile(filepath.Join(dir, ManifestDigestFilename))
	require.NoError(t, err)

	sum := sha256.Sum256(content)
	line := strings.TrimRight(string(data), "\n")
	fields := strings.Fields(line)
	require.Len(t, fields, 2)
	assert.Equal(t, "sha256:"+hex.EncodeToString(sum[:]), fields[0])
	assert.Equal(t, manifestPath, fields[1])
}
