// Package wal implements the write-ahead journal of spec §3.5/§4.3:
// an append-only, fsynced log of begin/commit/rollback records with
// startup replay. Buffered-append-then-flush is grounded on
// pkg/buffer/disk_buffer.go, adapted to flush (and fsync)
// after every record rather than on a timer, since WAL durability
// cannot be batched away.
package wal

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	memerrors "mem-os/pkg/errors"
	"mem-os/pkg/types"

	"github.com/cespare/xxhash/v2"
)

// Path is the canonical journal location relative to the workspace root
// (spec §6.1).
const Path = ".wal/journal.log"

// HashFile returns the xxhash of a file's contents, used as the
// pre_hash/post_hash of a WAL record (spec §3.5). xxhash is used instead
// of a cryptographic hash because the WAL only needs to detect accidental
// divergence, not resist an adversary, and xxhash is already a dependency
// of this module.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "absent", nil
		}
		return "", err
	}
	return HashBytes(data), nil
}

// HashBytes hashes an in-memory buffer with the same algorithm HashFile
// uses, letting callers compute an expected post_hash before writing it
// to disk (spec §3.5).
func HashBytes(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// Journal wraps the on-disk journal file for a single workspace.
type Journal struct {
	path string
	mu   sync.Mutex
	seq  uint64
}

// Open opens (creating if absent) the journal at <workspaceRoot>/.wal/journal.log.
func Open(workspaceRoot string) (*Journal, error) {
	full := workspaceRoot + "/" + Path
	if err := os.MkdirAll(dirOf(full), 0755); err != nil {
		return nil, memerrors.IO("wal", "open", "failed creating wal directory").Wrap(err)
	}
	j := &Journal{path: full}
	records, err := j.readAll()
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.Seq > j.seq {
			j.seq = r.Seq
		}
	}
	return j, nil
}

func dirOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "."
	}
	return path[:idx]
}

// PathHash pairs a touched path with its pre-mutation and expected
// post-mutation content hash, known to the apply engine before it writes
// the mutation to disk.
type PathHash struct {
	Path     string
	PreHash  string
	PostHash string
}

// Begin appends one begin record per touched path (spec §4.3), fsyncing
// after each. post_hash is the hash the apply engine expects the file to
// carry once the mutation completes, computed before the write happens so
// replay can tell "committed" apart from "never started" without a
// separate per-path commit record.
func (j *Journal) Begin(receiptID string, touched []PathHash) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, ph := range touched {
		j.seq++
		rec := types.WALRecord{
			Seq: j.seq, ReceiptID: receiptID, Op: types.WALBegin,
			TargetPath: ph.Path, PreHash: ph.PreHash, PostHash: ph.PostHash,
		}
		if err := j.appendLocked(rec); err != nil {
			return err
		}
	}
	return nil
}

// Commit appends a single terminator record for the receipt (spec §4.3:
// "commit(receipt) ... write one terminator").
func (j *Journal) Commit(receiptID string) error {
	return j.terminator(receiptID, types.WALCommit)
}

// Rollback appends a single terminator record for the receipt.
func (j *Journal) Rollback(receiptID string) error {
	return j.terminator(receiptID, types.WALRollback)
}

func (j *Journal) terminator(receiptID string, op types.WALOp) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.seq++
	rec := types.WALRecord{Seq: j.seq, ReceiptID: receiptID, Op: op}
	return j.appendLocked(rec)
}

func (j *Journal) appendLocked(rec types.WALRecord) error {
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return memerrors.IO("wal", "append", "failed opening journal").Wrap(err)
	}
	defer f.Close()

	line := fmt.Sprintf("%d\t%s\t%s\t%s\t%s\t%s\n",
		rec.Seq, rec.ReceiptID, rec.Op, rec.TargetPath, rec.PreHash, rec.PostHash)
	if _, err := f.WriteString(line); err != nil {
		return memerrors.IO("wal", "append", "failed writing journal record").Wrap(err)
	}
	if err := f.Sync(); err != nil {
		return memerrors.IO("wal", "append", "failed fsyncing journal").Wrap(err)
	}
	return nil
}

// Truncate clears the journal after a successful replay (spec §4.3 step 3).
func (j *Journal) Truncate() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := os.Truncate(j.path, 0); err != nil && !os.IsNotExist(err) {
		return memerrors.IO("wal", "truncate", "failed truncating journal").Wrap(err)
	}
	return nil
}

func (j *Journal) readAll() ([]types.WALRecord, error) {
	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, memerrors.IO("wal", "read", "failed opening journal").Wrap(err)
	}
	defer f.Close()

	var out []types.WALRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		rec, ok := parseLine(sc.Text())
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func parseLine(line string) (types.WALRecord, bool) {
	parts := strings.Split(line, "\t")
	if len(parts) != 6 {
		return types.WALRecord{}, false
	}
	seq, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return types.WALRecord{}, false
	}
	return types.WALRecord{
		Seq: seq, ReceiptID: parts[1], Op: types.WALOp(parts[2]),
		TargetPath: parts[3], PreHash: parts[4], PostHash: parts[5],
	}, true
}

// PendingReceipt groups a receipt's begin records for replay — every
// receipt that reached the journal with no commit/rollback terminator
// (spec §4.3 step 2).
type PendingReceipt struct {
	ReceiptID string
	Begins    []types.WALRecord
}

// Unfinalized returns, in receipt order, every receipt with begin records
// but no terminator.
func (j *Journal) Unfinalized() ([]PendingReceipt, error) {
	records, err := j.readAll()
	if err != nil {
		return nil, err
	}
	order := []string{}
	begins := map[string][]types.WALRecord{}
	terminated := map[string]bool{}
	for _, r := range records {
		switch r.Op {
		case types.WALBegin:
			if _, ok := begins[r.ReceiptID]; !ok {
				order = append(order, r.ReceiptID)
			}
			begins[r.ReceiptID] = append(begins[r.ReceiptID], r)
		case types.WALCommit, types.WALRollback:
			terminated[r.ReceiptID] = true
		}
	}

	var out []PendingReceipt
	for _, id := range order {
		if terminated[id] {
			continue
		}
		out = append(out, PendingReceipt{ReceiptID: id, Begins: begins[id]})
	}
	return out, nil
}

// ReplayOutcome reports what replay decided for one unfinalized receipt.
type ReplayOutcome struct {
	ReceiptID string
	// Action is "committed" (post_hash observed on disk, nothing to do),
	// "noop" (pre_hash still on disk, the write never happened) or
	// "rolled_back" (disk state matched neither, snapshot restored).
	Action string
}

// Restorer restores a single path from its last snapshot (spec §4.4),
// implemented by pkg/snapshot; accepted as an interface here so wal has
// no import-time dependency on the snapshot package.
type Restorer interface {
	Restore(receiptID, path string) error
}

// Replay resolves every unfinalized receipt left by a crash between WAL
// begin and commit (spec §4.3, §8 scenario S5), then truncates the
// journal. For each touched path: if the current file hash matches
// pre_hash, the write never happened and no action is needed; if it
// matches post_hash, the commit is inferred; otherwise the path is
// restored from its snapshot and the receipt is recorded as rolled back.
func (j *Journal) Replay(restorer Restorer) ([]ReplayOutcome, error) {
	pending, err := j.Unfinalized()
	if err != nil {
		return nil, err
	}

	var outcomes []ReplayOutcome
	for _, pr := range pending {
		action := "committed"
		for _, begin := range pr.Begins {
			current, err := HashFile(begin.TargetPath)
			if err != nil {
				return nil, memerrors.IO("wal", "replay", "failed hashing "+begin.TargetPath).Wrap(err)
			}
			switch current {
			case begin.PreHash:
				if action == "committed" {
					action = "noop"
				}
			case begin.PostHash:
				// commit inferred for this path; action unchanged.
			default:
				if err := restorer.Restore(pr.ReceiptID, begin.TargetPath); err != nil {
					return nil, memerrors.WALReplayConflict("wal", "replay",
						"failed restoring "+begin.TargetPath+" for receipt "+pr.ReceiptID).Wrap(err)
				}
				action = "rolled_back"
			}
		}
		if action == "committed" {
			if err := j.Commit(pr.ReceiptID); err != nil {
				return nil, err
			}
		} else {
			if err := j.Rollback(pr.ReceiptID); err != nil {
				return nil, err
			}
		}
		outcomes = append(outcomes, ReplayOutcome{ReceiptID: pr.ReceiptID, Action: action})
	}

	if err := j.Truncate(); err != nil {
		return nil, err
	}
	return outcomes, nil
}
