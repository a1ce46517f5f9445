// Package provenance decodes DSSE envelopes into in-toto statements and
// matches statement subjects against artifact digests. Signature checking is
// out of scope: the drill trusts the envelope store and only cares whether a
// statement covers the backup under test.
package provenance

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrProvenance indicates an unreadable or malformed provenance file.
var ErrProvenance = errors.New("invalid provenance")

// Envelope is a DSSE envelope: a base64 payload plus its signatures.
type Envelope struct {
	PayloadType string      `json:"payloadType"`
	Payload     string      `json:"payload"`
	Signatures  []Signature `json:"signatures"`
}

// Signature is one DSSE signature entry.
type Signature struct {
	KeyID string `json:"keyid"`
	Sig   string `json:"sig"`
}

// Statement is the decoded in-toto statement carried by an envelope.
type Statement struct {
	Type          string    `json:"_type"`
	PredicateType string    `json:"predicateType"`
	Subject       []Subject `json:"subject"`
}

// Subject names one attested artifact and its digests.
type Subject struct {
	Name   string            `json:"name"`
	Digest map[string]string `json:"digest"`
}

// LoadEnvelopes reads DSSE envelopes from path. The file holds either a JSON
// array of envelopes or newline-delimited JSON, one envelope per line.
func LoadEnvelopes(path string) ([]Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrProvenance, path, err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrProvenance, path)
	}

	if trimmed[0] == '[' {
		var envs []Envelope
		if err := json.Unmarshal(trimmed, &envs); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", ErrProvenance, path, err)
		}
		return envs, nil
	}

	var envs []Envelope
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var env Envelope
		if err := json.Unmarshal([]byte(text), &env); err != nil {
			return nil, fmt.Errorf("%w: decode %s line %d: %v", ErrProvenance, path, line, err)
		}
		envs = append(envs, env)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan %s: %v", ErrProvenance, path, err)
	}
	return envs, nil
}

// Statement base64-decodes the envelope payload into an in-toto statement.
func (e Envelope) Statement() (*Statement, error) {
	if e.Payload == "" {
		return nil, fmt.Errorf("%w: envelope has no payload", ErrProvenance)
	}
	raw, err := base64.StdEncoding.DecodeString(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", ErrProvenance, err)
	}
	var st Statement
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("%w: decode statement: %v", ErrProvenance, err)
	}
	return &st, nil
}

// HasSHA256 reports whether any subject of the statement carries the given
// sha256 hex digest. Comparison is case-insensitive; hex may carry the
// "sha256:" prefix.
func (s *Statement) HasSHA256(hex string) bool {
	want := strings.ToLower(strings.TrimPrefix(strings.ToLower(hex), "sha256:"))
	for _, sub := range s.Subject {
		if strings.ToLower(sub.Digest["sha256"]) == want {
			return true
		}
	}
	return false
}

// MatchSubject decodes every envelope and returns the first statement whose
// subject carries the given sha256 digest, or nil when no envelope matches.
// A malformed envelope fails the whole lookup.
func MatchSubject(envs []Envelope, digest string) (*Statement, error) {
	for i, env := range envs {
		st, err := env.Statement()
		if err != nil {
			return nil, fmt.Errorf("envelope %d: %w", i, err)
		}
		if st.HasSHA256(digest) {
			return st, nil
		}
	}
	return nil, nil
}
