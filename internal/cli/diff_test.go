package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writePolicy(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDiffFailOnLooser(t *testing.T) {
	oldPath := writePolicy(t, "old.yaml", "strict: true\n")
	newPath := writePolicy(t, "new.yaml", "strict: true\ntiers:\n  exec: O1\n")

	diffFailOnLoose = true
	t.Cleanup(func() { diffFailOnLoose = false })

	var out bytes.Buffer
	diffCmd.SetOut(&out)
	defer diffCmd.SetOut(nil)

	err := runDiff(diffCmd, []string{oldPath, newPath})
	if !errors.Is(err, errLooserPolicy) {
		t.Fatalf("expected errLooserPolicy, got %v", err)
	}
	if !strings.Contains(out.String(), "exec") {
		t.Errorf("expected exec tier change in output:\n%s", out.String())
	}

	out.Reset()
	if err := runDiff(diffCmd, []string{newPath, oldPath}); err != nil {
		t.Errorf("raising a tier should pass, got %v", err)
	}
}
