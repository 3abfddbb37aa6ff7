package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/toolgate/internal/alert"
	"github.com/ppiankov/toolgate/internal/model"
)

func withHash(t *testing.T, expected string, paths ...string) {
	t.Helper()
	oldHash, oldPaths := ExpectedHash, ChecksumPaths
	ExpectedHash = expected
	ChecksumPaths = paths
	t.Cleanup(func() {
		ExpectedHash = oldHash
		ChecksumPaths = oldPaths
	})
}

func writeBinary(t *testing.T, content string) (string, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "toolgate")
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatal(err)
	}
	h := sha256.Sum256([]byte(content))
	return path, hex.EncodeToString(h[:])
}

func TestVerifySkipsWithoutExpectedHash(t *testing.T) {
	withHash(t, "", "/nonexistent/binary.sha256")
	bin, _ := writeBinary(t, "bin")

	res, err := VerifyFile(bin)
	if err != nil {
		t.Fatalf("expected nil error without expected hash, got %v", err)
	}
	if !res.Skipped() {
		t.Error("expected Skipped for dev build")
	}
}

func TestVerifyPassesWithLdflagsHash(t *testing.T) {
	bin, sum := writeBinary(t, "test binary content")
	withHash(t, sum)

	res, err := VerifyFile(bin)
	if err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
	if res.Source != "ldflags" || res.Actual != sum {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestVerifyFailsWithWrongHash(t *testing.T) {
	bin, _ := writeBinary(t, "modified binary")
	withHash(t, strings.Repeat("a", 64))

	res, err := VerifyFile(bin)
	if !errors.Is(err, ErrTampered) {
		t.Fatalf("expected ErrTampered, got %v", err)
	}
	if res.Actual == "" || res.Expected == res.Actual {
		t.Errorf("expected differing hashes, got %+v", res)
	}
}

func TestVerifyUsesFirstValidChecksumFile(t *testing.T) {
	bin, sum := writeBinary(t, "installed")
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.sha256")
	good := filepath.Join(dir, "good.sha256")
	os.WriteFile(bad, []byte("not-a-hash\n"), 0o600)
	os.WriteFile(good, []byte(sum+"\n"), 0o600)
	withHash(t, "", filepath.Join(dir, "missing"), bad, good)

	res, err := VerifyFile(bin)
	if err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
	if res.Source != good {
		t.Errorf("expected source %s, got %s", good, res.Source)
	}
}

func TestRecordChecksumMatchesHashSelf(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "binary.sha256")
	hash, err := RecordChecksum(path)
	if err != nil {
		t.Fatal(err)
	}

	self, err := HashSelf()
	if err != nil {
		t.Fatal(err)
	}
	if hash != self {
		t.Errorf("recorded %s, self %s", hash, self)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(data)) != self {
		t.Errorf("checksum file content %q", data)
	}
	info, _ := os.Stat(path)
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected 0600, got %o", perm)
	}

	withHash(t, "", path)
	if _, err := Verify(); err != nil {
		t.Errorf("expected recorded checksum to verify, got %v", err)
	}
}

func TestTamperEvent(t *testing.T) {
	ev := TamperEvent(Result{
		Binary:   "/usr/local/bin/toolgate",
		Expected: strings.Repeat("a", 64),
		Actual:   strings.Repeat("b", 64),
	})
	if ev.Type != alert.EventBinaryTamper {
		t.Errorf("expected type %s, got %s", alert.EventBinaryTamper, ev.Type)
	}
	if ev.Verdict != model.Deny || ev.Tier != model.O2 {
		t.Errorf("unexpected verdict/tier %s/%s", ev.Verdict, ev.Tier)
	}
	if !strings.Contains(ev.Reason, "/usr/local/bin/toolgate") {
		t.Errorf("reason missing binary: %s", ev.Reason)
	}
}
