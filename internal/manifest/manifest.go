// Package manifest loads and validates the drill manifest: the single JSON
// file describing the backup under test, its SBOM and provenance, the restore
// procedure, and the recovery objectives to enforce.
package manifest

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrManifest indicates a missing, malformed, or invalid drill manifest.
var ErrManifest = errors.New("invalid drill manifest")

// DigestPrefix is the canonical algorithm prefix for backup digests.
const DigestPrefix = "sha256:"

// Manifest is the immutable description of one drill. Built once by Load,
// never mutated afterwards. All paths are absolute.
type Manifest struct {
	Source     string
	Backup     BackupSpec
	SBOM       SBOMSpec
	Provenance ProvenanceSpec
	Restore    RestoreSpec
	Policy     PolicySpec
}

// BackupSpec identifies the backup artifact and when it was captured.
type BackupSpec struct {
	Path       string
	Digest     string // canonical form, sha256:<lowercase hex>
	CapturedAt time.Time
}

// SBOMSpec points at the backup's software bill of materials.
type SBOMSpec struct {
	Path string
}

// ProvenanceSpec points at the DSSE provenance attestations.
type ProvenanceSpec struct {
	Path string
}

// RestoreSpec describes how to exercise the restore path. Script is empty
// when no restore script is configured; Timeout is zero when the manifest
// leaves it to the engine's default.
type RestoreSpec struct {
	OutputDir  string
	Script     string
	CopyBackup bool
	Timeout    time.Duration
}

// PolicySpec holds the declared recovery objectives. Either threshold may be
// nil, meaning not enforced.
type PolicySpec struct {
	MaxRPOMinutes *float64
	MaxRTOSeconds *float64
}

// rawManifest mirrors the on-disk JSON shape before validation.
type rawManifest struct {
	Backup struct {
		Path       string `mapstructure:"path"`
		SHA256     string `mapstructure:"sha256"`
		CapturedAt string `mapstructure:"captured_at"`
	} `mapstructure:"backup"`
	SBOM struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"sbom"`
	Provenance struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"provenance"`
	Restore struct {
		OutputDir      string   `mapstructure:"output_dir"`
		Script         string   `mapstructure:"script"`
		CopyBackup     bool     `mapstructure:"copy_backup"`
		TimeoutSeconds *float64 `mapstructure:"timeout_seconds"`
	} `mapstructure:"restore"`
	Policies struct {
		MaxRPOMinutes *float64 `mapstructure:"max_rpo_minutes"`
		MaxRTOSeconds *float64 `mapstructure:"max_rto_seconds"`
	} `mapstructure:"policies"`
}

// Load reads the drill manifest at path using Viper and validates it into an
// immutable Manifest. Relative paths inside the manifest are resolved against
// the manifest file's directory, never the working directory, so a drill
// behaves the same wherever it is invoked from.
func Load(path string) (*Manifest, error) {
	source, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", ErrManifest, path, err)
	}

	v := viper.New()
	v.SetConfigFile(source)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrManifest, source, err)
	}

	var raw rawManifest
	if err := v.UnmarshalExact(&raw); err != nil {
		return nil, fmt.Errorf("%w: unmarshal %s: %v", ErrManifest, source, err)
	}

	baseDir := filepath.Dir(source)

	digest, err := NormalizeDigest(raw.Backup.SHA256)
	if err != nil {
		return nil, fmt.Errorf("%w: backup.sha256: %v", ErrManifest, err)
	}
	capturedAt, err := ParseTime(raw.Backup.CapturedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: backup.captured_at: %v", ErrManifest, err)
	}

	m := &Manifest{
		Source: source,
		Backup: BackupSpec{
			Path:       resolve(baseDir, raw.Backup.Path),
			Digest:     digest,
			CapturedAt: capturedAt,
		},
		SBOM:       SBOMSpec{Path: resolve(baseDir, raw.SBOM.Path)},
		Provenance: ProvenanceSpec{Path: resolve(baseDir, raw.Provenance.Path)},
		Restore: RestoreSpec{
			OutputDir:  resolve(baseDir, raw.Restore.OutputDir),
			CopyBackup: raw.Restore.CopyBackup,
		},
		Policy: PolicySpec{
			MaxRPOMinutes: raw.Policies.MaxRPOMinutes,
			MaxRTOSeconds: raw.Policies.MaxRTOSeconds,
		},
	}
	if raw.Restore.Script != "" {
		m.Restore.Script = resolve(baseDir, raw.Restore.Script)
	}
	if raw.Restore.TimeoutSeconds != nil {
		secs := *raw.Restore.TimeoutSeconds
		if secs <= 0 || secs != math.Trunc(secs) {
			return nil, fmt.Errorf(
				"%w: restore.timeout_seconds must be a positive integer, got %v",
				ErrManifest, secs,
			)
		}
		m.Restore.Timeout = time.Duration(secs) * time.Second
	}

	for field, value := range map[string]string{
		"backup.path":        m.Backup.Path,
		"sbom.path":          m.SBOM.Path,
		"provenance.path":    m.Provenance.Path,
		"restore.output_dir": m.Restore.OutputDir,
	} {
		if value == "" {
			return nil, fmt.Errorf("%w: missing required field %s", ErrManifest, field)
		}
	}

	return m, nil
}

// NormalizeDigest canonicalizes a sha256 digest string: lowercase hex with a
// single "sha256:" prefix. Idempotent. An empty digest is an error, never a
// default.
func NormalizeDigest(digest string) (string, error) {
	d := strings.TrimSpace(strings.ToLower(digest))
	d = strings.TrimPrefix(d, DigestPrefix)
	if d == "" {
		return "", errors.New("digest is empty")
	}
	return DigestPrefix + d, nil
}

// timeLayouts accepted for manifest timestamps and the CLI's --current-time
// override. RFC 3339 first, then zone-less forms that are taken as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTime parses an ISO-8601 timestamp, with or without a trailing Z or an
// explicit offset. Zone-less timestamps are assumed UTC. The result is always
// normalized to UTC; invalid input is an error, never silently defaulted.
func ParseTime(value string) (time.Time, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", value)
}

// resolve makes p absolute relative to baseDir. Empty stays empty so the
// required-field check can report it by name.
func resolve(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
