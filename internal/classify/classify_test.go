package classify

import (
	"errors"
	"sync"
	"testing"

	"github.com/ppiankov/toolgate/internal/model"
)

func TestClassifyKnownTools(t *testing.T) {
	c := New(DefaultTiers(), true, model.O2)

	tests := []struct {
		tool string
		want model.RiskTier
	}{
		{"read_file", model.O0},
		{"web_search", model.O0},
		{"write_file", model.O1},
		{"edit_file", model.O1},
		{"exec", model.O2},
		{"spawn", model.O2},
	}
	for _, tt := range tests {
		got, err := c.Classify(tt.tool)
		if err != nil {
			t.Fatalf("Classify(%q): %v", tt.tool, err)
		}
		if got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.tool, got, tt.want)
		}
	}
}

func TestClassifyUnknownStrict(t *testing.T) {
	c := New(nil, true, model.O1)

	_, err := c.Classify("rm_rf")
	var unknown *UnknownToolError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownToolError, got %v", err)
	}
	if unknown.Tool != "rm_rf" {
		t.Errorf("expected tool rm_rf, got %q", unknown.Tool)
	}
}

func TestClassifyUnknownNonStrictUsesDefault(t *testing.T) {
	c := New(nil, false, model.O1)

	tier, err := c.Classify("mystery")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tier != model.O1 {
		t.Errorf("expected default tier O1, got %s", tier)
	}
}

func TestInvalidDefaultTierFallsBackToO2(t *testing.T) {
	c := New(nil, false, model.TierUnknown)
	if c.DefaultTier() != model.O2 {
		t.Errorf("expected O2 fallback, got %s", c.DefaultTier())
	}
}

func TestSetTierLastWriteWins(t *testing.T) {
	c := New(DefaultTiers(), true, model.O2)

	if err := c.SetTier("exec", model.O1); err != nil {
		t.Fatal(err)
	}
	if err := c.SetTier("exec", model.O0); err != nil {
		t.Fatal(err)
	}
	tier, _ := c.Classify("exec")
	if tier != model.O0 {
		t.Errorf("expected O0 after override, got %s", tier)
	}

	// Idempotent
	if err := c.SetTier("exec", model.O0); err != nil {
		t.Fatal(err)
	}
	tier, _ = c.Classify("exec")
	if tier != model.O0 {
		t.Errorf("expected O0, got %s", tier)
	}
}

func TestSetTierRejectsInvalid(t *testing.T) {
	c := New(nil, true, model.O2)
	if err := c.SetTier("x", model.RiskTier(7)); err == nil {
		t.Error("expected error for invalid tier")
	}
	if err := c.SetTier("", model.O0); err == nil {
		t.Error("expected error for empty tool")
	}
	if _, ok := c.Lookup("x"); ok {
		t.Error("rejected override must not be stored")
	}
}

func TestNewCopiesInput(t *testing.T) {
	seed := map[string]model.RiskTier{"exec": model.O2}
	c := New(seed, true, model.O2)
	seed["exec"] = model.O0

	tier, _ := c.Classify("exec")
	if tier != model.O2 {
		t.Errorf("classifier must not alias its seed map, got %s", tier)
	}
}

func TestConcurrentSetAndClassify(t *testing.T) {
	c := New(DefaultTiers(), true, model.O2)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.SetTier("write_file", model.O1)
		}()
		go func() {
			defer wg.Done()
			if _, err := c.Classify("write_file"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
}

func TestTools(t *testing.T) {
	c := New(map[string]model.RiskTier{"b": model.O0, "a": model.O1}, true, model.O2)
	got := c.Tools()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("expected sorted [a b], got %v", got)
	}
}
