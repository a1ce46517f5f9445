package drill

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/jguida941/ci-hub-orchestrator-sub000/internal/manifest"
	"github.com/jguida941/ci-hub-orchestrator-sub000/internal/provenance"
)

// HashFile recomputes the sha256 digest of the file at path and returns it in
// canonical sha256:<hex> form.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &ArtifactMissingError{Path: path, Err: err}
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return fmt.Sprintf("%s%x", manifest.DigestPrefix, h.Sum(nil)), nil
}

// verifyDigest recomputes the digest of path and compares it to want.
func verifyDigest(path, want string) (map[string]any, error) {
	got, err := HashFile(path)
	if err != nil {
		return nil, err
	}
	if got != want {
		return nil, &DigestMismatchError{Path: path, Want: want, Got: got}
	}
	return map[string]any{"path": path, "sha256": got}, nil
}

// readPayload returns the backup content, decompressing transparently when
// the artifact is zstd-compressed. The digest always covers the on-disk
// bytes; only structural inspection sees the decompressed form.
func readPayload(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ArtifactMissingError{Path: path, Err: err}
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, &StructuralError{Source: path, Reason: fmt.Sprintf("zstd open: %v", err)}
		}
		defer zr.Close()
		r = zr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &StructuralError{Source: path, Reason: fmt.Sprintf("read: %v", err)}
	}
	return data, nil
}

// verifyBackupPayload checks the minimal structural contract of a backup: a
// JSON object with a non-empty services list whose entries are all ready.
// Returns the number of services checked.
func verifyBackupPayload(path string) (int, map[string]any, error) {
	data, err := readPayload(path)
	if err != nil {
		return 0, nil, err
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return 0, nil, &StructuralError{Source: path, Reason: fmt.Sprintf("not a JSON object: %v", err)}
	}

	rawServices, ok := payload["services"].([]any)
	if !ok || len(rawServices) == 0 {
		return 0, nil, &StructuralError{Source: path, Reason: "missing or empty services list"}
	}

	var notReady []string
	for i, raw := range rawServices {
		svc, ok := raw.(map[string]any)
		if !ok {
			return 0, nil, &StructuralError{
				Source: path,
				Reason: fmt.Sprintf("services[%d] is not an object", i),
			}
		}
		if status, _ := svc["status"].(string); status != "ready" {
			name, _ := svc["name"].(string)
			if name == "" {
				name = fmt.Sprintf("services[%d]", i)
			}
			notReady = append(notReady, fmt.Sprintf("%s(status=%v)", name, svc["status"]))
		}
	}
	if len(notReady) > 0 {
		return 0, nil, &StructuralError{
			Source: path,
			Reason: "services not ready: " + strings.Join(notReady, ", "),
		}
	}

	count := len(rawServices)
	return count, map[string]any{"services_checked": count}, nil
}

// validateSBOM parses the SBOM and requires a non-empty components list.
func validateSBOM(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ArtifactMissingError{Path: path, Err: err}
	}
	var sbom map[string]any
	if err := json.Unmarshal(data, &sbom); err != nil {
		return nil, &StructuralError{Source: path, Reason: fmt.Sprintf("not a JSON object: %v", err)}
	}
	components, ok := sbom["components"].([]any)
	if !ok || len(components) == 0 {
		return nil, &StructuralError{Source: path, Reason: "missing or empty components list"}
	}
	return map[string]any{"components": len(components)}, nil
}

// validateProvenance loads the DSSE envelopes and requires at least one
// statement whose subject digest matches the backup digest.
func validateProvenance(path, digest string) (map[string]any, error) {
	envs, err := provenance.LoadEnvelopes(path)
	if err != nil {
		return nil, err
	}
	st, err := provenance.MatchSubject(envs, digest)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, &ProvenanceMismatchError{Path: path, Digest: digest, Records: len(envs)}
	}
	return map[string]any{
		"records":        len(envs),
		"predicate_type": st.PredicateType,
	}, nil
}
