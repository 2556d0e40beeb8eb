package wal

import (
	"os"
	"path/filepath"
	"testing"

	"mem-os/pkg/types"
)

func newJournal(t *testing.T) (*Journal, string) {
	t.Helper()
	root := t.TempDir()
	j, err := Open(root)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return j, root
}

type fakeRestorer struct {
	restored []string
	write    map[string]string // path -> content to write on restore
}

func (f *fakeRestorer) Restore(receiptID, path string) error {
	f.restored = append(f.restored, path)
	if content, ok := f.write[path]; ok {
		return os.WriteFile(path, []byte(content), 0644)
	}
	return os.Remove(path)
}

func TestBeginCommitRoundTrip(t *testing.T) {
	j, _ := newJournal(t)
	if err := j.Begin("R1", []PathHash{
		{Path: "a.md", PreHash: "absent", PostHash: "h1"},
		{Path: "b.md", PreHash: "absent", PostHash: "h2"},
	}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := j.Commit("R1"); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	pending, err := j.Unfinalized()
	if err != nil {
		t.Fatalf("Unfinalized failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no unfinalized receipts, got %+v", pending)
	}
}

func TestBeginRollbackRoundTrip(t *testing.T) {
	j, _ := newJournal(t)
	if err := j.Begin("R2", []PathHash{{Path: "a.md", PreHash: "absent", PostHash: "h1"}}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := j.Rollback("R2"); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	pending, err := j.Unfinalized()
	if err != nil {
		t.Fatalf("Unfinalized failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no unfinalized receipts after rollback, got %+v", pending)
	}
}

func TestUnfinalizedBeginSurvivesCrash(t *testing.T) {
	j, _ := newJournal(t)
	if err := j.Begin("R3", []PathHash{{Path: "a.md", PreHash: "absent", PostHash: "h1"}}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	// Simulate a crash: no commit or rollback record follows.
	pending, err := j.Unfinalized()
	if err != nil {
		t.Fatalf("Unfinalized failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ReceiptID != "R3" {
		t.Fatalf("expected one unfinalized receipt R3, got %+v", pending)
	}
	if len(pending[0].Begins) != 1 || pending[0].Begins[0].TargetPath != "a.md" {
		t.Fatalf("expected begin record for a.md, got %+v", pending[0])
	}
}

func TestReplayNoopWhenWriteNeverHappened(t *testing.T) {
	root := t.TempDir()
	j, err := Open(root)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	target := filepath.Join(root, "a.md")
	if err := os.WriteFile(target, []byte("original"), 0644); err != nil {
		t.Fatalf("setup write failed: %v", err)
	}
	preHash, err := HashFile(target)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	if err := j.Begin("R4", []PathHash{{Path: target, PreHash: preHash, PostHash: "would-be-post-hash"}}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	restorer := &fakeRestorer{}
	outcomes, err := j.Replay(restorer)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Action != "noop" {
		t.Fatalf("expected noop outcome, got %+v", outcomes)
	}
	if len(restorer.restored) != 0 {
		t.Fatalf("expected no restore calls, got %v", restorer.restored)
	}
}

func TestReplayInfersCommitWhenPostHashObserved(t *testing.T) {
	root := t.TempDir()
	j, err := Open(root)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	target := filepath.Join(root, "a.md")
	if err := os.WriteFile(target, []byte("original"), 0644); err != nil {
		t.Fatalf("setup write failed: %v", err)
	}
	preHash, _ := HashFile(target)

	// Simulate the mutation having completed before the crash.
	if err := os.WriteFile(target, []byte("mutated"), 0644); err != nil {
		t.Fatalf("mutate failed: %v", err)
	}
	postHash, _ := HashFile(target)

	if err := j.Begin("R5", []PathHash{{Path: target, PreHash: preHash, PostHash: postHash}}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	restorer := &fakeRestorer{}
	outcomes, err := j.Replay(restorer)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Action != "committed" {
		t.Fatalf("expected committed outcome, got %+v", outcomes)
	}
	if len(restorer.restored) != 0 {
		t.Fatalf("expected no restore calls, got %v", restorer.restored)
	}
}

func TestReplayRestoresFromSnapshotWhenNeitherHashMatches(t *testing.T) {
	root := t.TempDir()
	j, err := Open(root)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	target := filepath.Join(root, "a.md")
	if err := os.WriteFile(target, []byte("original"), 0644); err != nil {
		t.Fatalf("setup write failed: %v", err)
	}
	preHash, _ := HashFile(target)

	// Torn write: file on disk matches neither pre nor the expected post.
	if err := os.WriteFile(target, []byte("garbled-partial-write"), 0644); err != nil {
		t.Fatalf("torn write failed: %v", err)
	}

	if err := j.Begin("R6", []PathHash{{Path: target, PreHash: preHash, PostHash: "some-other-hash"}}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	restorer := &fakeRestorer{write: map[string]string{target: "original"}}
	outcomes, err := j.Replay(restorer)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Action != "rolled_back" {
		t.Fatalf("expected rolled_back outcome, got %+v", outcomes)
	}
	if len(restorer.restored) != 1 || restorer.restored[0] != target {
		t.Fatalf("expected restore called for target, got %v", restorer.restored)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read after restore failed: %v", err)
	}
	if string(data) != "original" {
		t.Fatalf("expected restored content, got %q", data)
	}
}

func TestReplayTruncatesJournal(t *testing.T) {
	root := t.TempDir()
	j, err := Open(root)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	target := filepath.Join(root, "a.md")
	os.WriteFile(target, []byte("x"), 0644)
	preHash, _ := HashFile(target)
	if err := j.Begin("R7", []PathHash{{Path: target, PreHash: preHash, PostHash: "whatever"}}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := j.Replay(&fakeRestorer{write: map[string]string{target: "x"}}); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, Path))
	if err != nil {
		t.Fatalf("read journal failed: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("expected journal truncated after replay, got %d bytes", len(data))
	}
}

func TestSeqMonotonicAcrossReopen(t *testing.T) {
	root := t.TempDir()
	j1, err := Open(root)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := j1.Begin("R1", []PathHash{{Path: "a.md", PreHash: "absent", PostHash: "h1"}}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := j1.Commit("R1"); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	j2, err := Open(root)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if err := j2.Begin("R2", []PathHash{{Path: "b.md", PreHash: "absent", PostHash: "h2"}}); err != nil {
		t.Fatalf("Begin after reopen failed: %v", err)
	}
	records, err := j2.readAll()
	if err != nil {
		t.Fatalf("readAll failed: %v", err)
	}
	var seqs []uint64
	for _, r := range records {
		seqs = append(seqs, r.Seq)
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("expected strictly increasing seq across reopen, got %v", seqs)
		}
	}
}

func TestTruncateClearsJournal(t *testing.T) {
	j, root := newJournal(t)
	if err := j.Begin("R1", []PathHash{{Path: "a.md", PreHash: "absent", PostHash: "h1"}}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := j.Truncate(); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, Path))
	if err != nil {
		t.Fatalf("read journal failed: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("expected empty journal after truncate, got %d bytes", len(data))
	}
}

func TestHashFileAbsentIsStableSentinel(t *testing.T) {
	h, err := HashFile(filepath.Join(t.TempDir(), "nope.md"))
	if err != nil {
		t.Fatalf("HashFile on absent file should not error: %v", err)
	}
	if h != "absent" {
		t.Fatalf("expected sentinel %q, got %q", "absent", h)
	}
}

func TestHashFileDeterministic(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "x.md")
	if err := os.WriteFile(p, []byte("content"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	h1, err := HashFile(p)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	h2, err := HashFile(p)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected deterministic hash, got %q vs %q", h1, h2)
	}
}

func TestParseLineRejectsMalformed(t *testing.T) {
	if _, ok := parseLine("not-enough-fields"); ok {
		t.Fatal("expected malformed line to be rejected")
	}
	rec, ok := parseLine("1\tR1\tbegin\ta.md\tabsent\t")
	if !ok {
		t.Fatal("expected well-formed line to parse")
	}
	if rec.Op != types.WALBegin || rec.ReceiptID != "R1" {
		t.Fatalf("unexpected parsed record: %+v", rec)
	}
}
