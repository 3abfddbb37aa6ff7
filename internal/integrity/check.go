// Package integrity verifies the toolgate binary checksum before the
// policy server starts. The expected hash is embedded at build time via
// ldflags or read from a checksum file written at install time. A server
// whose binary does not match refuses to start.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/toolgate/internal/alert"
	"github.com/ppiankov/toolgate/internal/model"
)

// ExpectedHash is set at build time via:
//
//	-ldflags "-X github.com/ppiankov/toolgate/internal/integrity.ExpectedHash=<sha256hex>"
//
// When empty, verification falls back to ChecksumPaths.
var ExpectedHash string

// ChecksumPaths are the checksum files checked in order. Each holds a
// single hex-encoded SHA-256 digest.
var ChecksumPaths = []string{
	"/etc/toolgate/binary.sha256",
	"$HOME/.toolgate/binary.sha256",
}

// ErrTampered is returned when the running binary does not match the
// expected checksum.
var ErrTampered = errors.New("integrity: binary checksum mismatch")

// Result describes one verification.
type Result struct {
	Binary   string `json:"binary"`
	Expected string `json:"expected_hash,omitempty"`
	Actual   string `json:"actual_hash,omitempty"`
	Source   string `json:"source,omitempty"` // "ldflags" or checksum file path
}

// Skipped reports whether no expected hash was available (dev builds).
func (r Result) Skipped() bool {
	return r.Expected == ""
}

// Verify checks the running binary.
func Verify() (Result, error) {
	exePath, err := os.Executable()
	if err != nil {
		return Result{}, fmt.Errorf("integrity: cannot resolve executable path: %w", err)
	}
	return VerifyFile(exePath)
}

// VerifyFile checks path against ExpectedHash or the first valid checksum
// file. It returns a nil error when no expected hash is configured.
func VerifyFile(path string) (Result, error) {
	res := Result{Binary: path}
	res.Expected, res.Source = expectedHash()
	if res.Skipped() {
		return res, nil
	}

	actual, err := hashFile(path)
	if err != nil {
		return res, fmt.Errorf("integrity: cannot hash binary: %w", err)
	}
	res.Actual = actual

	if !strings.EqualFold(actual, res.Expected) {
		return res, fmt.Errorf("%w (expected %s, got %s)", ErrTampered, short(res.Expected), short(actual))
	}
	return res, nil
}

// HashSelf returns the SHA-256 hex digest of the running binary.
func HashSelf() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("integrity: cannot resolve executable path: %w", err)
	}
	return hashFile(exePath)
}

// RecordChecksum writes the running binary's digest to path.
func RecordChecksum(path string) (string, error) {
	hash, err := HashSelf()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("integrity: create checksum dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(hash+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("integrity: write checksum: %w", err)
	}
	return hash, nil
}

// TamperEvent builds the alert sent when the binary fails verification.
func TamperEvent(res Result) alert.AlertEvent {
	return alert.AlertEvent{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Type:      alert.EventBinaryTamper,
		Tier:      model.O2,
		Verdict:   model.Deny,
		Reason: fmt.Sprintf("binary %s checksum mismatch: expected %s, got %s",
			res.Binary, short(res.Expected), short(res.Actual)),
	}
}

func expectedHash() (hash, source string) {
	if ExpectedHash != "" {
		return strings.TrimSpace(ExpectedHash), "ldflags"
	}
	for _, p := range ChecksumPaths {
		path := os.ExpandEnv(p)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		h := strings.TrimSpace(string(data))
		if len(h) == 64 && isHex(h) {
			return h, path
		}
	}
	return "", ""
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}

func short(hash string) string {
	if len(hash) <= 16 {
		return hash
	}
	return hash[:16]
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
