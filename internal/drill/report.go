package drill

import (
	"encoding/json"
	"time"
)

// ReportSchema tags every report so downstream tooling can reject shapes it
// does not understand.
const ReportSchema = "dr-drill/v1"

// Event statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Event records one orchestrator step: when it ran and how it ended. Events
// are append-only and never mutated after creation.
type Event struct {
	Step      string    `json:"step"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Status    string    `json:"status"`
	Notes     string    `json:"notes"`
}

// Metrics holds the measured recovery objectives for one drill.
type Metrics struct {
	RTOSeconds float64 `json:"rto_seconds"`
	RPOMinutes float64 `json:"rpo_minutes"`
}

// ReportNotes carries the configured thresholds and payload summary alongside
// the metrics, so a report is self-describing for audit.
type ReportNotes struct {
	MaxRPOMinutes   *float64 `json:"max_rpo_minutes"`
	MaxRTOSeconds   *float64 `json:"max_rto_seconds"`
	ServicesChecked int      `json:"services_checked"`
}

// Report is the certificate produced when every step of a drill succeeds. It
// is the single source of truth for pass/fail in downstream tooling.
type Report struct {
	Schema           string      `json:"schema"`
	RunID            string      `json:"run_id"`
	StartedAt        time.Time   `json:"started_at"`
	EndedAt          time.Time   `json:"ended_at"`
	BackupCapturedAt time.Time   `json:"backup_captured_at"`
	Manifest         string      `json:"manifest"`
	Metrics          Metrics     `json:"metrics"`
	Notes            ReportNotes `json:"notes"`
}

// Result pairs the report with the ordered event list. It is the runner's
// sole output on success; on failure only partial events exist and they ride
// on the returned Failure.
type Result struct {
	Report *Report
	Events []Event
}

// compactNotes serializes step details to the compact string form stored in
// an event. Details are small maps; a marshal failure here would be a
// programming error, so it degrades to an empty string instead of panicking.
func compactNotes(details map[string]any) string {
	if len(details) == 0 {
		return ""
	}
	data, err := json.Marshal(details)
	if err != nil {
		return ""
	}
	return string(data)
}

// failureNotes serializes a step failure to the {type, message} note form.
func failureNotes(err error) string {
	return compactNotes(map[string]any{
		"type":    kindOf(err),
		"message": err.Error(),
	})
}
