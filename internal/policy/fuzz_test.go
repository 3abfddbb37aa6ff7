package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func FuzzLoadConfig(f *testing.F) {
	f.Add([]byte(DefaultConfigYAML()))
	f.Add([]byte("strict: false\ndefault_tier: O1\n"))
	f.Add([]byte("tiers:\n  exec: omega_2\n"))
	f.Add([]byte(""))

	f.Fuzz(func(t *testing.T, data []byte) {
		path := filepath.Join(t.TempDir(), "policy.yaml")
		if err := os.WriteFile(path, data, 0600); err != nil {
			t.Fatal(err)
		}
		cfg, _, err := LoadConfigWithHash(path)
		if err != nil {
			return
		}
		// Anything that loads must be enforceable.
		if err := cfg.Validate(); err != nil {
			t.Fatalf("loaded config fails validation: %v", err)
		}
		if !cfg.DefaultTier.Valid() {
			t.Fatal("loaded config has invalid default tier")
		}
	})
}
