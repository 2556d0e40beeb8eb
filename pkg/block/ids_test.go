package block

import (
	"testing"

	"mem-os/pkg/types"
)

func mustBlock(t *testing.T, kind types.BlockKind, id string) *types.Block {
	t.Helper()
	return &types.Block{Kind: kind, ID: id}
}

func TestNextIDStartsAtOne(t *testing.T) {
	id, err := NextID(nil, types.KindDecision, "2026-02-13")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "D-20260213-001" {
		t.Fatalf("expected D-20260213-001, got %s", id)
	}
}

func TestNextIDIncrementsPastExisting(t *testing.T) {
	existing := []*types.Block{
		mustBlock(t, types.KindDecision, "D-20260213-001"),
		mustBlock(t, types.KindDecision, "D-20260213-002"),
	}
	id, err := NextID(existing, types.KindDecision, "2026-02-13")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "D-20260213-003" {
		t.Fatalf("expected D-20260213-003, got %s", id)
	}
}

func TestNextIDScopedPerDateAndKind(t *testing.T) {
	existing := []*types.Block{
		mustBlock(t, types.KindDecision, "D-20260213-005"),
		mustBlock(t, types.KindTask, "T-20260213-009"),
	}
	id, err := NextID(existing, types.KindDecision, "2026-02-14")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "D-20260214-001" {
		t.Fatalf("expected a fresh counter on a new date, got %s", id)
	}

	id, err = NextID(existing, types.KindTask, "2026-02-13")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "T-20260213-010" {
		t.Fatalf("expected T-20260213-010, got %s", id)
	}
}

func TestNextIDReportsExhaustion(t *testing.T) {
	existing := []*types.Block{mustBlock(t, types.KindDecision, "D-20260213-999")}
	if _, err := NextID(existing, types.KindDecision, "2026-02-13"); err == nil {
		t.Fatalf("expected error when counter is exhausted")
	}
}

func TestNextIDWithoutDate(t *testing.T) {
	existing := []*types.Block{mustBlock(t, types.KindProject, "PRJ-007")}
	id, err := NextID(existing, types.KindProject, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "PRJ-008" {
		t.Fatalf("expected PRJ-008, got %s", id)
	}
}
