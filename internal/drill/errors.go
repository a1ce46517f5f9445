package drill

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrDrill is the root of the drill error taxonomy. Every failure the runner
// reports satisfies errors.Is(err, ErrDrill), so callers can treat the whole
// family uniformly while still matching individual kinds with errors.As.
var ErrDrill = errors.New("dr drill failed")

// ArtifactMissingError reports a backup, restored copy, or collaborator file
// that could not be read.
type ArtifactMissingError struct {
	Path string
	Err  error
}

func (e *ArtifactMissingError) Error() string {
	return fmt.Sprintf("artifact missing: %s: %v", e.Path, e.Err)
}
func (e *ArtifactMissingError) Unwrap() error        { return e.Err }
func (e *ArtifactMissingError) Is(target error) bool { return target == ErrDrill }

// DigestMismatchError reports a file whose recomputed digest differs from the
// manifest's declared digest.
type DigestMismatchError struct {
	Path string
	Want string
	Got  string
}

func (e *DigestMismatchError) Error() string {
	return fmt.Sprintf("digest mismatch for %s: want %s, got %s", e.Path, e.Want, e.Got)
}
func (e *DigestMismatchError) Is(target error) bool { return target == ErrDrill }

// StructuralError reports a backup payload or SBOM that does not satisfy the
// structural contract.
type StructuralError struct {
	Source string
	Reason string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("structural validation failed for %s: %s", e.Source, e.Reason)
}
func (e *StructuralError) Is(target error) bool { return target == ErrDrill }

// ProvenanceMismatchError reports that no DSSE statement subject matched the
// backup digest.
type ProvenanceMismatchError struct {
	Path    string
	Digest  string
	Records int
}

func (e *ProvenanceMismatchError) Error() string {
	return fmt.Sprintf("no provenance subject matches %s across %d record(s) in %s",
		e.Digest, e.Records, e.Path)
}
func (e *ProvenanceMismatchError) Is(target error) bool { return target == ErrDrill }

// RestoreError reports a restore script that was unusable or exited non-zero.
type RestoreError struct {
	Script   string
	ExitCode int
	Stderr   string
	Reason   string
}

func (e *RestoreError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("restore failed: %s", e.Reason)
	}
	msg := fmt.Sprintf("restore script %s exited with code %d", e.Script, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}
func (e *RestoreError) Is(target error) bool { return target == ErrDrill }

// RestoreTimeoutError reports a restore script that outlived its timeout.
type RestoreTimeoutError struct {
	Script  string
	Timeout time.Duration
}

func (e *RestoreTimeoutError) Error() string {
	return fmt.Sprintf("restore script %s timed out after %s", e.Script, e.Timeout)
}
func (e *RestoreTimeoutError) Is(target error) bool { return target == ErrDrill }

// PolicyViolationError means the drill mechanically succeeded but missed a
// declared recovery objective. It carries both observed metrics and the
// configured limits.
type PolicyViolationError struct {
	RPOMinutes    float64
	RTOSeconds    float64
	MaxRPOMinutes *float64
	MaxRTOSeconds *float64
}

func (e *PolicyViolationError) Error() string {
	var parts []string
	if e.MaxRPOMinutes != nil && e.RPOMinutes > *e.MaxRPOMinutes {
		parts = append(parts, fmt.Sprintf("RPO %.2f min exceeds limit %.2f min",
			e.RPOMinutes, *e.MaxRPOMinutes))
	}
	if e.MaxRTOSeconds != nil && e.RTOSeconds > *e.MaxRTOSeconds {
		parts = append(parts, fmt.Sprintf("RTO %.2f s exceeds limit %.2f s",
			e.RTOSeconds, *e.MaxRTOSeconds))
	}
	if len(parts) == 0 {
		return "recovery policy violated"
	}
	return "recovery policy violated: " + strings.Join(parts, "; ")
}
func (e *PolicyViolationError) Is(target error) bool { return target == ErrDrill }

// StepError wraps an error foreign to the taxonomy so the caller still sees a
// drill error, with the original type name and message preserved.
type StepError struct {
	TypeName string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.TypeName, e.Err)
}
func (e *StepError) Unwrap() error        { return e.Err }
func (e *StepError) Is(target error) bool { return target == ErrDrill }

// Failure is what Run returns when a step fails: the underlying taxonomy
// error plus every event recorded up to and including the failing step, so
// the CLI can still flush a partial audit trail.
type Failure struct {
	Step   string
	Events []Event
	Err    error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("step %s: %v", f.Step, f.Err)
}
func (f *Failure) Unwrap() error { return f.Err }

// intoTaxonomy returns err unchanged when it already belongs to the drill
// taxonomy, and otherwise wraps it while keeping its dynamic type name.
func intoTaxonomy(err error) error {
	if errors.Is(err, ErrDrill) {
		return err
	}
	return &StepError{TypeName: fmt.Sprintf("%T", err), Err: err}
}

// kindOf maps a taxonomy error to its short kind name for event notes.
func kindOf(err error) string {
	var (
		missing *ArtifactMissingError
		digest  *DigestMismatchError
		shape   *StructuralError
		prov    *ProvenanceMismatchError
		restore *RestoreError
		timeout *RestoreTimeoutError
		policy  *PolicyViolationError
		wrapped *StepError
	)
	switch {
	case errors.As(err, &missing):
		return "ArtifactMissing"
	case errors.As(err, &digest):
		return "DigestMismatch"
	case errors.As(err, &shape):
		return "StructuralValidationError"
	case errors.As(err, &prov):
		return "ProvenanceMismatch"
	case errors.As(err, &timeout):
		return "RestoreTimeout"
	case errors.As(err, &restore):
		return "RestoreFailure"
	case errors.As(err, &policy):
		return "PolicyViolation"
	case errors.As(err, &wrapped):
		return wrapped.TypeName
	default:
		return fmt.Sprintf("%T", err)
	}
}
