package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"mem-os/pkg/block"
	"mem-os/pkg/types"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func writeDecision(t *testing.T, root, id, statement, status string) {
	t.Helper()
	b := &types.Block{Kind: types.KindDecision, ID: id}
	b.Set("Date", "2026-01-01")
	b.Set("Status", status)
	b.Set("Statement", statement)
	path := filepath.Join(root, decisionsFile)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed creating decisions dir: %v", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("failed opening decisions file: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString("\n" + block.Serialize(b)); err != nil {
		t.Fatalf("failed writing decision: %v", err)
	}
}

func openTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	root := t.TempDir()
	writeDecision(t, root, "D-20260101-001", "use postgres for the metadata store", "active")

	ws, err := Open(root, testLogger())
	if err != nil {
		t.Fatalf("failed opening workspace: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestOpenLoadsExistingBlocks(t *testing.T) {
	ws := openTestWorkspace(t)
	if _, ok := ws.findBlock("D-20260101-001"); !ok {
		t.Fatal("expected the pre-seeded decision to load into the corpus")
	}
}

func TestOpenDefaultsGovernanceModeToDetectOnly(t *testing.T) {
	ws := openTestWorkspace(t)
	if ws.Mode().Current() != "detect_only" {
		t.Fatalf("expected detect_only, got %s", ws.Mode().Current())
	}
}

func TestRecallFindsSeededDecision(t *testing.T) {
	ws := openTestWorkspace(t)
	hits, err := ws.Recall("postgres metadata store", types.RecallOptions{Limit: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, h := range hits {
		if h.BlockID == "D-20260101-001" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected to recall D-20260101-001, got %+v", hits)
	}
}

func TestRecallActiveOnlyExcludesArchived(t *testing.T) {
	root := t.TempDir()
	writeDecision(t, root, "D-20260101-001", "retire the legacy queue", "archived")
	ws, err := Open(root, testLogger())
	if err != nil {
		t.Fatalf("failed opening workspace: %v", err)
	}
	defer ws.Close()

	hits, err := ws.Recall("retire the legacy queue", types.RecallOptions{ActiveOnly: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, h := range hits {
		if h.BlockID == "D-20260101-001" {
			t.Fatal("active_only recall should not surface an archived decision")
		}
	}
}

func TestProposeAppendsSignal(t *testing.T) {
	ws := openTestWorkspace(t)
	id, err := ws.Propose("metrics dashboard has been flapping")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty signal ID")
	}
	data, err := os.ReadFile(filepath.Join(ws.Root(), signalsFile))
	if err != nil {
		t.Fatalf("failed reading signals file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected SIGNALS.md to contain the proposed signal")
	}
}

func TestApplyProposalDryRunDoesNotMutate(t *testing.T) {
	ws := openTestWorkspace(t)
	if err := ws.Mode().Upgrade("propose", "test setup: detect_only does not permit apply"); err != nil {
		t.Fatalf("failed upgrading governance mode: %v", err)
	}

	existing, _, _ := ws.blocksSnapshot()
	id, err := block.NextID(existing, types.KindProposal, "2026-01-02")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := types.Proposal{
		ID:     id,
		Type:   types.ProposalArchive,
		Target: "D-20260101-001",
		Action: "archived",
		Reason: "superseded by a newer decision",
		Status: types.ProposalPending,
		Date:   time.Now(),
	}
	pb := p.ToBlock()
	path := filepath.Join(ws.Root(), proposedDir, id+"_PROPOSED.md")
	if err := writeFileAtomic(path, []byte(block.Serialize(pb))); err != nil {
		t.Fatalf("failed writing proposal: %v", err)
	}
	if err := ws.reloadCorpus(); err != nil {
		t.Fatalf("failed reloading corpus: %v", err)
	}

	before, err := os.ReadFile(filepath.Join(ws.Root(), decisionsFile))
	if err != nil {
		t.Fatalf("failed reading decisions file: %v", err)
	}

	receipt, err := ws.ApplyProposal(context.Background(), id, "", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.Result != types.ResultApplied {
		t.Fatalf("expected a dry-run receipt to report %s, got %s", types.ResultApplied, receipt.Result)
	}

	after, err := os.ReadFile(filepath.Join(ws.Root(), decisionsFile))
	if err != nil {
		t.Fatalf("failed reading decisions file: %v", err)
	}
	if string(before) != string(after) {
		t.Fatal("dry_run must not mutate the target file")
	}
}

func TestApplyProposalArchivesTarget(t *testing.T) {
	ws := openTestWorkspace(t)
	if err := ws.Mode().Upgrade("propose", "test setup: detect_only does not permit apply"); err != nil {
		t.Fatalf("failed upgrading governance mode: %v", err)
	}

	existing, _, _ := ws.blocksSnapshot()
	id, err := block.NextID(existing, types.KindProposal, "2026-01-02")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := types.Proposal{
		ID:     id,
		Type:   types.ProposalArchive,
		Target: "D-20260101-001",
		Action: "archived",
		Status: types.ProposalPending,
		Date:   time.Now(),
	}
	pb := p.ToBlock()
	path := filepath.Join(ws.Root(), proposedDir, id+"_PROPOSED.md")
	if err := writeFileAtomic(path, []byte(block.Serialize(pb))); err != nil {
		t.Fatalf("failed writing proposal: %v", err)
	}
	if err := ws.reloadCorpus(); err != nil {
		t.Fatalf("failed reloading corpus: %v", err)
	}

	receipt, err := ws.ApplyProposal(context.Background(), id, "", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.Result != types.ResultApplied {
		t.Fatalf("expected %s, got %s", types.ResultApplied, receipt.Result)
	}

	target, ok := ws.findBlock("D-20260101-001")
	if !ok {
		t.Fatal("expected the target decision to still exist after archiving")
	}
	if target.Status() != "archived" {
		t.Fatalf("expected the target to be archived, got status %q", target.Status())
	}
}

func TestApplyProposalUnknownIDFails(t *testing.T) {
	ws := openTestWorkspace(t)
	if _, err := ws.ApplyProposal(context.Background(), "P-does-not-exist", "", false); err == nil {
		t.Fatal("expected an error for an unknown proposal ID")
	}
}

func TestRollbackRestoresArchivedTarget(t *testing.T) {
	ws := openTestWorkspace(t)
	if err := ws.Mode().Upgrade("propose", "test setup: detect_only does not permit apply"); err != nil {
		t.Fatalf("failed upgrading governance mode: %v", err)
	}

	existing, _, _ := ws.blocksSnapshot()
	id, err := block.NextID(existing, types.KindProposal, "2026-01-02")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := types.Proposal{
		ID:     id,
		Type:   types.ProposalArchive,
		Target: "D-20260101-001",
		Action: "archived",
		Status: types.ProposalPending,
		Date:   time.Now(),
	}
	pb := p.ToBlock()
	path := filepath.Join(ws.Root(), proposedDir, id+"_PROPOSED.md")
	if err := writeFileAtomic(path, []byte(block.Serialize(pb))); err != nil {
		t.Fatalf("failed writing proposal: %v", err)
	}
	if err := ws.reloadCorpus(); err != nil {
		t.Fatalf("failed reloading corpus: %v", err)
	}

	receipt, err := ws.ApplyProposal(context.Background(), id, "", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := ws.Rollback(receipt.SnapshotID); err != nil {
		t.Fatalf("unexpected error rolling back: %v", err)
	}

	target, ok := ws.findBlock("D-20260101-001")
	if !ok {
		t.Fatal("expected the target decision to still exist after rollback")
	}
	if target.Status() != "active" {
		t.Fatalf("expected rollback to restore status active, got %q", target.Status())
	}
}

func TestAppendDailyLogEnforcesAppendOnly(t *testing.T) {
	root := t.TempDir()
	ws, err := Open(root, testLogger())
	if err != nil {
		t.Fatalf("failed opening workspace: %v", err)
	}
	defer ws.Close()

	if err := ws.AppendDailyLog("2026-01-01", "first entry\n"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ws.AppendDailyLog("2026-01-01", "second entry\n"); err != nil {
		t.Fatalf("unexpected error appending a second entry: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, memoryDir, "2026-01-01.md"))
	if err != nil {
		t.Fatalf("failed reading daily log: %v", err)
	}
	if string(data) != "first entry\nsecond entry\n" {
		t.Fatalf("unexpected daily log contents: %q", string(data))
	}
}

func TestCheckAbstentionOnEmptyCorpus(t *testing.T) {
	root := t.TempDir()
	ws, err := Open(root, testLogger())
	if err != nil {
		t.Fatalf("failed opening workspace: %v", err)
	}
	defer ws.Close()

	result := ws.CheckAbstention("anything at all", "")
	if !result.Abstain {
		t.Fatal("expected abstention with no blocks in the corpus")
	}
}
