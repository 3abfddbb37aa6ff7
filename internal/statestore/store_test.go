package statestore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/toolgate/internal/approval"
	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/safety"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestGrantRoundTrip(t *testing.T) {
	s := tempStore(t)

	g := approval.Grant{Tool: "exec", GrantedAt: base, ExpiresAt: base.Add(5 * time.Minute)}
	if err := s.SaveGrant(g); err != nil {
		t.Fatalf("SaveGrant: %v", err)
	}

	got, err := s.Grants(base.Add(time.Minute))
	if err != nil {
		t.Fatalf("Grants: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 grant, got %d", len(got))
	}
	if !got[0].ExpiresAt.Equal(g.ExpiresAt) || !got[0].GrantedAt.Equal(g.GrantedAt) {
		t.Fatalf("grant mismatch: %+v", got[0])
	}
}

func TestGrantReplaceAndDelete(t *testing.T) {
	s := tempStore(t)

	s.SaveGrant(approval.Grant{Tool: "exec", GrantedAt: base, ExpiresAt: base.Add(time.Minute)})
	s.SaveGrant(approval.Grant{Tool: "exec", GrantedAt: base, ExpiresAt: base.Add(time.Hour)})

	got, _ := s.Grants(base.Add(10 * time.Minute))
	if len(got) != 1 || !got[0].ExpiresAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("expected replaced grant, got %+v", got)
	}

	if err := s.DeleteGrant("exec"); err != nil {
		t.Fatalf("DeleteGrant: %v", err)
	}
	if err := s.DeleteGrant("exec"); err != nil {
		t.Fatalf("second DeleteGrant should be a no-op: %v", err)
	}
	got, _ = s.Grants(base)
	if len(got) != 0 {
		t.Fatalf("expected no grants, got %d", len(got))
	}
}

func TestExpiredGrantsPruned(t *testing.T) {
	s := tempStore(t)
	s.SaveGrant(approval.Grant{Tool: "spawn", GrantedAt: base, ExpiresAt: base.Add(time.Second)})
	s.SaveGrant(approval.Grant{Tool: "exec", GrantedAt: base, ExpiresAt: base.Add(time.Hour)})

	got, err := s.Grants(base.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Tool != "exec" {
		t.Fatalf("expected only exec, got %+v", got)
	}

	var n int
	s.db.QueryRow(`SELECT COUNT(*) FROM grants`).Scan(&n)
	if n != 1 {
		t.Fatalf("expired row not deleted, %d rows remain", n)
	}
}

func TestSafetyRoundTrip(t *testing.T) {
	s := tempStore(t)

	if _, ok, err := s.LoadSafety(); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}

	snap := safety.Snapshot{
		Emergency:       true,
		EmergencyReason: "runaway loop",
		EmergencySince:  base,
	}
	if err := s.SaveSafety(snap); err != nil {
		t.Fatalf("SaveSafety: %v", err)
	}

	got, ok, err := s.LoadSafety()
	if err != nil || !ok {
		t.Fatalf("LoadSafety: ok=%v err=%v", ok, err)
	}
	if !got.Emergency || got.EmergencyReason != "runaway loop" || !got.EmergencySince.Equal(base) {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	if got.SafetyMode || !got.SafetySince.IsZero() {
		t.Fatalf("safety mode should be off: %+v", got)
	}

	snap.Emergency = false
	snap.SafetyMode = true
	snap.SafetyReason = "review"
	s.SaveSafety(snap)
	got, _, _ = s.LoadSafety()
	if got.Emergency || !got.SafetyMode {
		t.Fatalf("update not applied: %+v", got)
	}
}

func TestTierOverrides(t *testing.T) {
	s := tempStore(t)

	if err := s.SetTier("deploy", model.O2); err != nil {
		t.Fatal(err)
	}
	if err := s.SetTier("deploy", model.O1); err != nil {
		t.Fatal(err)
	}
	if err := s.SetTier("bad", model.TierUnknown); err == nil {
		t.Fatal("expected invalid tier error")
	}

	tiers, err := s.Tiers()
	if err != nil {
		t.Fatal(err)
	}
	if len(tiers) != 1 || tiers["deploy"] != model.O1 {
		t.Fatalf("unexpected tiers %v", tiers)
	}
}

func TestReviewPackets(t *testing.T) {
	s := tempStore(t)

	for i, id := range []string{"p1", "p2", "p3"} {
		p := safety.ReviewPacket{
			ID:        id,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Reason:    "incident",
			BlockedCalls: []safety.BlockedCall{
				{DecisionID: "d-" + id, Tool: "exec", Tier: model.O2, At: base},
			},
		}
		if err := s.SaveReviewPacket(p); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ReviewPackets(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "p3" {
		t.Fatalf("expected newest first, got %+v", all)
	}
	if all[0].BlockedCalls[0].Tier != model.O2 {
		t.Fatal("blocked call tier lost")
	}

	two, _ := s.ReviewPackets(2)
	if len(two) != 2 {
		t.Fatalf("expected 2 packets, got %d", len(two))
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	s.SaveGrant(approval.Grant{Tool: "exec", GrantedAt: base, ExpiresAt: base.Add(time.Hour)})
	s.SaveSafety(safety.Snapshot{Emergency: true, EmergencyReason: "halt", EmergencySince: base})
	s.SetTier("deploy", model.O2)
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	grants, _ := s.Grants(base)
	snap, ok, _ := s.LoadSafety()
	tiers, _ := s.Tiers()
	if len(grants) != 1 || !ok || !snap.Emergency || tiers["deploy"] != model.O2 {
		t.Fatalf("state not persisted: grants=%v snap=%+v tiers=%v", grants, snap, tiers)
	}
}
