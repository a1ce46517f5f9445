package drill

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jguida941/ci-hub-orchestrator-sub000/internal/manifest"
)

// DefaultRestoreTimeout bounds the restore script when the manifest does not
// set restore.timeout_seconds.
const DefaultRestoreTimeout = time.Hour

// stderrTailBytes is how much captured stderr survives into a RestoreError.
const stderrTailBytes = 2048

// restoreOutcome is what restore_artifact hands to the following steps.
type restoreOutcome struct {
	// RestoredPath is the restored artifact when the step knows it
	// explicitly (copy_backup); empty means the conventional fallback
	// inside the output directory applies.
	RestoredPath string
}

// restoreArtifact prepares the output directory, optionally copies the backup
// into it, and runs the manifest's restore script under a timeout. The only
// executable this step will ever run is the single resolved script path; no
// other command is constructed from manifest data.
func restoreArtifact(ctx context.Context, m *manifest.Manifest) (*restoreOutcome, map[string]any, error) {
	out := &restoreOutcome{}
	spec := m.Restore

	if err := os.MkdirAll(spec.OutputDir, 0o755); err != nil {
		return nil, nil, &RestoreError{Reason: fmt.Sprintf("create output dir %s: %v", spec.OutputDir, err)}
	}

	details := map[string]any{"output_dir": spec.OutputDir}

	if spec.CopyBackup {
		dest := filepath.Join(spec.OutputDir, filepath.Base(m.Backup.Path))
		if err := copyFile(m.Backup.Path, dest); err != nil {
			return nil, nil, err
		}
		out.RestoredPath = dest
		details["copied_to"] = dest
	}

	if spec.Script == "" {
		return out, details, nil
	}

	script, err := resolveScript(spec.Script)
	if err != nil {
		return nil, nil, err
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultRestoreTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, script,
		m.Backup.Path,
		m.Provenance.Path,
		m.SBOM.Path,
		spec.OutputDir,
	)
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)
	details["script"] = script
	details["script_seconds"] = elapsed.Seconds()

	if runErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, nil, &RestoreTimeoutError{Script: script, Timeout: timeout}
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, nil, &RestoreError{
				Script:   script,
				ExitCode: exitErr.ExitCode(),
				Stderr:   tail(stderr.String(), stderrTailBytes),
			}
		}
		return nil, nil, &RestoreError{Reason: fmt.Sprintf("run %s: %v", script, runErr)}
	}

	return out, details, nil
}

// resolveScript canonicalizes the configured restore script and requires it
// to exist and be executable. This is the allow-list of size one.
func resolveScript(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", &RestoreError{Reason: fmt.Sprintf("restore script %s not found: %v", path, err)}
	}
	resolved, err = filepath.Abs(resolved)
	if err != nil {
		return "", &RestoreError{Reason: fmt.Sprintf("resolve restore script %s: %v", path, err)}
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", &RestoreError{Reason: fmt.Sprintf("restore script %s not found: %v", resolved, err)}
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return "", &RestoreError{Reason: fmt.Sprintf("restore script %s is not executable", resolved)}
	}
	return resolved, nil
}

// copyFile copies src to dest verbatim.
func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return &ArtifactMissingError{Path: src, Err: err}
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return &RestoreError{Reason: fmt.Sprintf("create %s: %v", dest, err)}
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return &RestoreError{Reason: fmt.Sprintf("copy %s to %s: %v", src, dest, err)}
	}
	return out.Close()
}

// tail returns at most n trailing bytes of s, trimmed of whitespace.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
