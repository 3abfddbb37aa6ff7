package systemd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// UnitFilePaths are the locations checked for the installed server unit.
var UnitFilePaths = []string{
	"/etc/systemd/system/" + UnitName,
	"/lib/systemd/system/" + UnitName,
}

// FindUnitFile returns the first existing path in UnitFilePaths.
func FindUnitFile() string {
	for _, p := range UnitFilePaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// CheckUnitFileIntegrity compares the installed unit file against the hash
// recorded at install time in hashPath. It returns a warning when the unit
// was modified, or "" when it matches or there is nothing to compare.
func CheckUnitFileIntegrity(hashPath string) string {
	unitPath := FindUnitFile()
	if unitPath == "" {
		return ""
	}

	stored, err := os.ReadFile(hashPath)
	if err != nil {
		return ""
	}
	expected := strings.TrimSpace(string(stored))
	if len(expected) != 64 {
		return ""
	}

	actual, err := hashUnit(unitPath)
	if err != nil {
		return fmt.Sprintf("cannot read unit file %s: %v", unitPath, err)
	}
	if actual == expected {
		return ""
	}
	return fmt.Sprintf("systemd unit file %s has been modified since installation (expected %s, got %s)",
		unitPath, expected[:16], actual[:16])
}

// Install writes content to dir/toolgate.service and records its hash in
// hashPath. An existing unit is only replaced when force is set.
func Install(dir, content, hashPath string, force bool) (string, error) {
	unitPath := filepath.Join(dir, UnitName)
	if _, err := os.Stat(unitPath); err == nil && !force {
		return "", fmt.Errorf("%s already exists (use --force to overwrite)", unitPath)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create unit dir: %w", err)
	}
	if err := os.WriteFile(unitPath, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write unit: %w", err)
	}
	if err := RecordUnitFileHash(unitPath, hashPath); err != nil {
		return "", err
	}
	return unitPath, nil
}

// RecordUnitFileHash stores the SHA-256 of unitPath in hashPath.
func RecordUnitFileHash(unitPath, hashPath string) error {
	hash, err := hashUnit(unitPath)
	if err != nil {
		return fmt.Errorf("hash unit: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(hashPath), 0o700); err != nil {
		return fmt.Errorf("create hash dir: %w", err)
	}
	return os.WriteFile(hashPath, []byte(hash+"\n"), 0o600)
}

func hashUnit(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:]), nil
}
