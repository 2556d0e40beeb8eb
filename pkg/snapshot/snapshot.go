// Package snapshot implements the receipt-keyed snapshot store of
// spec §3.4/§4.4: a gzip-compressed, checksummed copy of every file an
// apply touches, keyed by a monotonic receipt ID, used to restore
// workspace state on rollback or WAL replay. Grounded on
// pkg/positions/checkpoint_manager.go (periodic snapshot + prune-by-count)
// and pkg/cleanup/disk_manager.go (retention-by-age directory sweep).
package snapshot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	memerrors "mem-os/pkg/errors"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/gzip"
)

// Dir is the canonical snapshot location relative to the workspace root
// (spec §6.1).
const Dir = ".snapshots"

// Manifest records what a single receipt's snapshot covers. One manifest
// file accompanies each receipt's compressed file copies.
type Manifest struct {
	ReceiptID string            `json:"receipt_id"`
	Timestamp time.Time         `json:"timestamp"`
	Files     map[string]string `json:"files"` // workspace path -> content hash at snapshot time
}

// Store manages snapshots under <workspaceRoot>/.snapshots.
type Store struct {
	root string
	mu   sync.Mutex
	seq  uint64
}

// Open prepares the snapshot directory, recovering the next receipt
// sequence number from the highest one already on disk.
func Open(workspaceRoot string) (*Store, error) {
	dir := filepath.Join(workspaceRoot, Dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, memerrors.IO("snapshot", "open", "failed creating snapshot directory").Wrap(err)
	}
	s := &Store{root: dir}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, memerrors.IO("snapshot", "open", "failed listing snapshot directory").Wrap(err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if n, ok := parseReceiptSeq(e.Name()); ok && n > s.seq {
			s.seq = n
		}
	}
	return s, nil
}

func parseReceiptSeq(name string) (uint64, bool) {
	idx := strings.LastIndex(name, "-")
	if idx < 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(name[idx+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// NextReceiptID allocates a new monotonic receipt ID (spec §3.4: "Receipt
// IDs are monotonic within a workspace").
func (s *Store) NextReceiptID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return fmt.Sprintf("R-%08d", s.seq)
}

func (s *Store) receiptDir(receiptID string) string {
	return filepath.Join(s.root, receiptID)
}

// Capture snapshots the current contents of every path in paths under
// receiptID, compressing each with gzip and recording a content hash in
// the manifest. Paths that don't yet exist are recorded with hash
// "absent" and no compressed copy (spec §4.5: "snapshot" step covers
// files about to be created as well as files about to be modified).
func (s *Store) Capture(receiptID string, paths []string) (Manifest, error) {
	dir := s.receiptDir(receiptID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Manifest{}, memerrors.IO("snapshot", "capture", "failed creating receipt directory").Wrap(err)
	}

	m := Manifest{ReceiptID: receiptID, Files: map[string]string{}}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				m.Files[path] = "absent"
				continue
			}
			return Manifest{}, memerrors.IO("snapshot", "capture", "failed reading "+path).Wrap(err)
		}
		hash := fmt.Sprintf("%016x", xxhash.Sum64(data))
		m.Files[path] = hash
		if err := writeCompressed(copyPath(dir, path), data); err != nil {
			return Manifest{}, memerrors.IO("snapshot", "capture", "failed writing snapshot copy of "+path).Wrap(err)
		}
	}
	if err := writeManifest(dir, m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Restore implements wal.Restorer: it rewrites path to its snapshotted
// content for receiptID, or removes it if the snapshot recorded it as
// having been absent at capture time.
func (s *Store) Restore(receiptID, path string) error {
	dir := s.receiptDir(receiptID)
	m, err := readManifest(dir)
	if err != nil {
		return err
	}
	hash, ok := m.Files[path]
	if !ok {
		return memerrors.WALReplayConflict("snapshot", "restore",
			fmt.Sprintf("receipt %s has no snapshot entry for %s", receiptID, path))
	}
	if hash == "absent" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return memerrors.IO("snapshot", "restore", "failed removing "+path).Wrap(err)
		}
		return nil
	}
	data, err := readCompressed(copyPath(dir, path))
	if err != nil {
		return memerrors.IO("snapshot", "restore", "failed reading snapshot copy of "+path).Wrap(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return memerrors.IO("snapshot", "restore", "failed creating parent directory of "+path).Wrap(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return memerrors.IO("snapshot", "restore", "failed rewriting "+path).Wrap(err)
	}
	return nil
}

// RestoreAll restores every file a receipt's manifest covers, used by the
// apply engine's rollback path (spec §4.5 step 8: "Rollback → restore
// every file from snapshot").
func (s *Store) RestoreAll(receiptID string) error {
	dir := s.receiptDir(receiptID)
	m, err := readManifest(dir)
	if err != nil {
		return err
	}
	paths := make([]string, 0, len(m.Files))
	for p := range m.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := s.Restore(receiptID, p); err != nil {
			return err
		}
	}
	return nil
}

// Prune removes the oldest snapshot directories beyond keepMostRecent,
// ordered by receipt sequence (spec §4.4/§6.2 compaction.snapshot_days;
// adapted here to a count-based retention mirroring
// checkpoint_manager.go's max_checkpoints pruning rather than by age;
// nothing in this package removes or compacts snapshots by age).
func (s *Store) Prune(keepMostRecent int) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return memerrors.IO("snapshot", "prune", "failed listing snapshot directory").Wrap(err)
	}
	type dirSeq struct {
		name string
		seq  uint64
	}
	var dirs []dirSeq
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if n, ok := parseReceiptSeq(e.Name()); ok {
			dirs = append(dirs, dirSeq{e.Name(), n})
		}
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].seq < dirs[j].seq })
	if len(dirs) <= keepMostRecent {
		return nil
	}
	for _, d := range dirs[:len(dirs)-keepMostRecent] {
		if err := os.RemoveAll(filepath.Join(s.root, d.name)); err != nil {
			return memerrors.IO("snapshot", "prune", "failed removing "+d.name).Wrap(err)
		}
	}
	return nil
}

func copyPath(dir, workspacePath string) string {
	safe := strings.ReplaceAll(workspacePath, string(filepath.Separator), "__")
	return filepath.Join(dir, safe+".gz")
}

func writeCompressed(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	gw := gzip.NewWriter(f)
	if _, err := gw.Write(data); err != nil {
		gw.Close()
		return err
	}
	return gw.Close()
}

func readCompressed(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gr.Close()
	return io.ReadAll(gr)
}
