package integrity

import (
	"testing"
	"time"

	"mem-os/pkg/types"
)

func decision(id, date, status string, sigs ...types.ConstraintSignature) *types.Block {
	b := &types.Block{Kind: types.KindDecision, ID: id}
	b.Set("Date", date)
	b.Set("Status", status)
	b.Set("Statement", "stmt")
	b.Signatures = sigs
	return b
}

func task(id, status, alignsWith string) *types.Block {
	b := &types.Block{Kind: types.KindTask, ID: id}
	b.Set("Status", status)
	b.Set("Title", "task")
	if alignsWith != "" {
		b.Set("AlignsWith", alignsWith)
	}
	return b
}

func TestScanContradictionsDetectsConflictingHardSignatures(t *testing.T) {
	a := decision("D-20260101-001", "2026-01-01", "active", types.ConstraintSignature{
		AxisKey: "database.engine", Object: "postgresql", Enforcement: types.EnforcementHard, Priority: 9,
	})
	b := decision("D-20260102-001", "2026-01-02", "active", types.ConstraintSignature{
		AxisKey: "database.engine", Object: "mysql", Enforcement: types.EnforcementHard, Priority: 7,
	})
	c := NewCorpus([]*types.Block{a, b})
	result := scanContradictions(c)
	if len(result) != 1 {
		t.Fatalf("expected exactly one contradiction, got %d: %+v", len(result), result)
	}
	if result[0].ResolutionWinner != "D-20260101-001" {
		t.Fatalf("expected higher-priority decision to win tie-break, got %s", result[0].ResolutionWinner)
	}
}

func TestScanContradictionsIgnoresSoftEnforcement(t *testing.T) {
	a := decision("D-20260101-001", "2026-01-01", "active", types.ConstraintSignature{
		AxisKey: "database.engine", Object: "postgresql", Enforcement: types.EnforcementSoft,
	})
	b := decision("D-20260102-001", "2026-01-02", "active", types.ConstraintSignature{
		AxisKey: "database.engine", Object: "mysql", Enforcement: types.EnforcementHard,
	})
	c := NewCorpus([]*types.Block{a, b})
	if result := scanContradictions(c); len(result) != 0 {
		t.Fatalf("expected no contradiction when one side is soft, got %+v", result)
	}
}

func TestScanContradictionsIgnoresSuperseded(t *testing.T) {
	a := decision("D-20260101-001", "2026-01-01", "superseded", types.ConstraintSignature{
		AxisKey: "database.engine", Object: "postgresql", Enforcement: types.EnforcementHard,
	})
	b := decision("D-20260102-001", "2026-01-02", "active", types.ConstraintSignature{
		AxisKey: "database.engine", Object: "mysql", Enforcement: types.EnforcementHard,
	})
	c := NewCorpus([]*types.Block{a, b})
	if result := scanContradictions(c); len(result) != 0 {
		t.Fatalf("expected superseded decisions excluded from contradiction scan, got %+v", result)
	}
}

func TestScanDeadFlagsUnreferencedOldDecision(t *testing.T) {
	d := decision("D-20260101-001", "2026-01-01", "active")
	c := NewCorpus([]*types.Block{d})
	now, _ := time.Parse("2006-01-02", "2026-03-01")
	dead := scanDead(c, now, 30, nil)
	if len(dead) != 1 || dead[0].DecisionID != d.ID {
		t.Fatalf("expected decision flagged dead, got %+v", dead)
	}
}

func TestScanDeadExcludesReferencedDecision(t *testing.T) {
	d := decision("D-20260101-001", "2026-01-01", "active")
	tk := task("T-20260101-001", "open", d.ID)
	c := NewCorpus([]*types.Block{d, tk})
	now, _ := time.Parse("2006-01-02", "2026-03-01")
	if dead := scanDead(c, now, 30, nil); len(dead) != 0 {
		t.Fatalf("expected referenced decision excluded, got %+v", dead)
	}
}

func TestScanOrphansFlagsUnresolvedAlignsWith(t *testing.T) {
	tk := task("T-20260101-001", "open", "D-99999999-999")
	c := NewCorpus([]*types.Block{tk})
	orphans := scanOrphans(c)
	if len(orphans) != 1 || orphans[0].TaskID != tk.ID {
		t.Fatalf("expected orphan flagged, got %+v", orphans)
	}
}

func TestScanOrphansIgnoresResolvedActiveTarget(t *testing.T) {
	d := decision("D-20260101-001", "2026-01-01", "active")
	tk := task("T-20260101-001", "open", d.ID)
	c := NewCorpus([]*types.Block{d, tk})
	if orphans := scanOrphans(c); len(orphans) != 0 {
		t.Fatalf("expected no orphans when target resolves and is active, got %+v", orphans)
	}
}

func TestScanImpactBuildsAdjacency(t *testing.T) {
	d := decision("D-20260101-001", "2026-01-01", "active")
	t1 := task("T-20260101-001", "open", d.ID)
	t2 := task("T-20260101-002", "open", d.ID)
	c := NewCorpus([]*types.Block{d, t1, t2})
	graph := scanImpact(c)
	if len(graph[d.ID]) != 2 {
		t.Fatalf("expected 2 inbound edges for decision, got %+v", graph)
	}
}

func TestScanDriftFlagsUnmatchedAxis(t *testing.T) {
	d := decision("D-20260101-001", "2026-01-01", "active", types.ConstraintSignature{
		AxisKey: "database.engine", Object: "postgresql", Enforcement: types.EnforcementHard,
	})
	c := NewCorpus([]*types.Block{d})
	refs := []LogReference{{DecisionID: "D-20251201-001", AxisKey: "deployment.strategy", LogDate: "2026-01-15", LogRef: "memory/2026-01-15.md"}}
	drift := scanDrift(c, refs)
	if len(drift) != 1 || drift[0].AxisKey != "deployment.strategy" {
		t.Fatalf("expected drift signal for unmatched axis, got %+v", drift)
	}
}

func TestBudgetAdmitRespectsPerRunCap(t *testing.T) {
	b := NewBudget(2, 100, 7)
	issues := []Issue{
		{Kind: "dead", Target: "D-1", Action: "a"},
		{Kind: "dead", Target: "D-2", Action: "a"},
		{Kind: "dead", Target: "D-3", Action: "a"},
	}
	now := time.Now()
	admitted, dropped := b.Admit(issues, now)
	if len(admitted) != 2 || dropped != 1 {
		t.Fatalf("expected 2 admitted and 1 dropped, got %d/%d", len(admitted), dropped)
	}
}

func TestBudgetAdmitSuppressesCooldown(t *testing.T) {
	b := NewBudget(10, 100, 7)
	now := time.Now()
	b.Suppress("D-1", "a", now)
	admitted, _ := b.Admit([]Issue{{Kind: "dead", Target: "D-1", Action: "a"}}, now.Add(time.Hour))
	if len(admitted) != 0 {
		t.Fatalf("expected suppressed issue excluded, got %+v", admitted)
	}
	later := now.AddDate(0, 0, 8)
	admitted, _ = b.Admit([]Issue{{Kind: "dead", Target: "D-1", Action: "a"}}, later)
	if len(admitted) != 1 {
		t.Fatalf("expected issue admitted after cooldown elapses, got %+v", admitted)
	}
}

func TestBudgetAdmitResetsPerDayAcrossDays(t *testing.T) {
	b := NewBudget(10, 1, 7)
	day1, _ := time.Parse("2006-01-02", "2026-01-01")
	admitted, dropped := b.Admit([]Issue{{Target: "D-1", Action: "a"}, {Target: "D-2", Action: "a"}}, day1)
	if len(admitted) != 1 || dropped != 1 {
		t.Fatalf("expected per-day cap of 1 on day1, got %d/%d", len(admitted), dropped)
	}
	day2, _ := time.Parse("2006-01-02", "2026-01-02")
	admitted, dropped = b.Admit([]Issue{{Target: "D-3", Action: "a"}}, day2)
	if len(admitted) != 1 || dropped != 0 {
		t.Fatalf("expected per-day counter reset on day2, got %d/%d", len(admitted), dropped)
	}
}
