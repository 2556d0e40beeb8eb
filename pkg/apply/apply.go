// Package apply implements the proposal apply engine of spec §3.3/§4.5:
// an 8-step staged-mutation pipeline giving ACID-like guarantees over a
// plain-text workspace — pre-check, path resolution, receipt allocation,
// snapshot, WAL begin, execute, post-check, commit/rollback. Grounded on
// the reference internal/dispatcher/dispatcher.go staged item-processing
// loop (validate -> transform -> deliver -> record stats), generalized
// from log-delivery stages to mutation stages; path-traversal checking is
// grounded on pkg/security/input_validator.go's ValidatePath.
package apply

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	memerrors "mem-os/pkg/errors"
	"mem-os/pkg/lock"
	"mem-os/pkg/snapshot"
	"mem-os/pkg/types"
	"mem-os/pkg/wal"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Mutator computes a single proposal's change once the snapshot has been
// captured and before WAL-begin is recorded. It receives the resolved,
// traversal-checked absolute paths it is allowed to touch and returns the
// full new content for each without writing to disk; the engine hashes
// that content for the WAL's post_hash and then writes it itself.
type Mutator func(touchedPaths []string) (written map[string]string, err error)

// PreChecker validates a proposal before any mutation begins (spec §4.5
// step 1). A non-nil error here is a PreCheckError and is never retried.
type PreChecker func(p *types.Proposal) error

// PostChecker validates workspace state after the mutator has run but
// before commit (spec §4.5 step 7). A non-nil error triggers rollback.
type PostChecker func(touchedPaths []string) error

// Engine wires the lock, snapshot store, and WAL journal into the
// staged apply pipeline.
type Engine struct {
	WorkspaceRoot string
	Snapshots     *snapshot.Store
	Journal       *wal.Journal
	LockTimeout   time.Duration
	Logger        *logrus.Logger

	PreCheck  PreChecker
	PostCheck PostChecker
}

var tracer = otel.Tracer("mem-os/apply")

// Apply runs the full 8-step pipeline for one proposal (spec §4.5):
//
//  1. pre-check
//  2. resolve paths and reject traversal outside the workspace root
//  3. allocate a receipt
//  4. snapshot every touched path
//  5. WAL begin
//  6. execute the mutation
//  7. post-check
//  8. commit (on success) or rollback (on failure), always under the
//     workspace lock for the touched paths.
func (e *Engine) Apply(ctx context.Context, p *types.Proposal, touched []string, mutate Mutator) (*types.Receipt, error) {
	ctx, span := tracer.Start(ctx, "apply.Apply", trace.WithAttributes(attribute.String("proposal_id", p.ID)))
	defer span.End()

	receipt, err := e.apply(ctx, p, touched, mutate)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return receipt, err
}

func (e *Engine) apply(ctx context.Context, p *types.Proposal, touched []string, mutate Mutator) (*types.Receipt, error) {
	log := e.Logger.WithField("proposal_id", p.ID)

	// Step 1: pre-check. Never retried, surfaced directly (spec §4.5
	// failure modes).
	if e.PreCheck != nil {
		if err := e.PreCheck(p); err != nil {
			log.WithError(err).Warn("proposal failed pre-check")
			return nil, err
		}
	}

	// Step 2: resolve and validate every touched path stays within the
	// workspace root.
	resolved, err := e.resolvePaths(touched)
	if err != nil {
		return nil, err
	}

	// Step 3: allocate receipt.
	receiptID := e.Snapshots.NextReceiptID()
	log = log.WithField("receipt_id", receiptID)

	// Acquire the workspace lock for every touched path, sorted, for the
	// full duration of the apply (spec §4.2, §4.5).
	handle, err := lock.AcquireMany(resolved, e.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	// Step 4: snapshot.
	manifest, err := e.Snapshots.Capture(receiptID, resolved)
	if err != nil {
		return nil, err
	}

	// Step 5 (prep): the mutator computes the content it intends to write
	// without touching disk, so its hash can go into the WAL begin record
	// as post_hash before anything is actually written (spec §3.5).
	staged, err := mutate(resolved)
	if err != nil {
		log.WithError(err).Error("mutator failed before any WAL record was written; nothing to roll back")
		return nil, memerrors.Validation("apply", "mutate", "mutation failed").Wrap(err)
	}

	pathHashes := make([]wal.PathHash, 0, len(resolved))
	for _, path := range resolved {
		pre := manifest.Files[path]
		post := hashString(staged[path])
		pathHashes = append(pathHashes, wal.PathHash{Path: path, PreHash: pre, PostHash: post})
	}
	if err := e.Journal.Begin(receiptID, pathHashes); err != nil {
		return nil, err
	}

	// Step 6: execute — write the mutator's staged content to disk now
	// that the WAL has a durable record of what's about to happen.
	for path, content := range staged {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return e.rollback(log, receiptID, resolved, p, memerrors.IO("apply", "execute", "failed creating parent directory").Wrap(err))
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return e.rollback(log, receiptID, resolved, p, memerrors.IO("apply", "execute", "failed writing "+path).Wrap(err))
		}
	}

	// Step 7: post-check.
	if e.PostCheck != nil {
		if err := e.PostCheck(resolved); err != nil {
			return e.rollback(log, receiptID, resolved, p, memerrors.Validation("apply", "post_check", "post-check failed").Wrap(err))
		}
	}

	// Step 8: commit.
	if err := e.Journal.Commit(receiptID); err != nil {
		return nil, err
	}
	log.Info("proposal applied")
	return &types.Receipt{
		SnapshotID: receiptID,
		ProposalID: p.ID,
		Action:     p.Action,
		Result:     types.ResultApplied,
		Paths:      resolved,
		Date:       time.Now(),
	}, nil
}

func (e *Engine) rollback(log *logrus.Entry, receiptID string, paths []string, p *types.Proposal, cause error) (*types.Receipt, error) {
	log.WithError(cause).Warn("rolling back proposal")
	if err := e.Snapshots.RestoreAll(receiptID); err != nil {
		return nil, memerrors.IO("apply", "rollback", "failed restoring snapshot").Wrap(err)
	}
	if err := e.Journal.Rollback(receiptID); err != nil {
		return nil, err
	}
	return &types.Receipt{
		SnapshotID: receiptID,
		ProposalID: p.ID,
		Action:     p.Action,
		Result:     types.ResultRolledBack,
		Paths:      paths,
		Date:       time.Now(),
		Cause:      cause.Error(),
	}, cause
}

// resolvePaths cleans and validates every path, rejecting anything that
// escapes the workspace root (spec §4.5 step 2, §3.6 PathTraversal).
// Grounded on pkg/security/input_validator.go's ValidatePath: clean the
// path, reject embedded "..", require containment in a known root. The
// textual check alone would pass a symlink planted inside the workspace
// that points outside it, so every candidate is also resolved to its
// canonical real path (collapsing symlinks) and re-checked for
// containment, per spec §4.5 step 2's "canonical real-path" requirement.
func (e *Engine) resolvePaths(paths []string) ([]string, error) {
	root, err := filepath.Abs(e.WorkspaceRoot)
	if err != nil {
		return nil, memerrors.IO("apply", "resolve_paths", "failed resolving workspace root").Wrap(err)
	}
	canonicalRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, memerrors.IO("apply", "resolve_paths", "failed resolving workspace root").Wrap(err)
	}

	out := make([]string, 0, len(paths))
	for _, raw := range paths {
		candidate := raw
		if !filepath.IsAbs(candidate) {
			candidate = filepath.Join(root, candidate)
		}
		clean := filepath.Clean(candidate)
		rel, err := filepath.Rel(root, clean)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, memerrors.PathTraversal("apply", "resolve_paths",
				fmt.Sprintf("path %q escapes workspace root", raw))
		}

		real, err := realPath(clean)
		if err != nil {
			return nil, memerrors.IO("apply", "resolve_paths", fmt.Sprintf("failed resolving real path of %q", raw)).Wrap(err)
		}
		realRel, err := filepath.Rel(canonicalRoot, real)
		if err != nil || realRel == ".." || strings.HasPrefix(realRel, ".."+string(filepath.Separator)) {
			return nil, memerrors.PathTraversal("apply", "resolve_paths",
				fmt.Sprintf("path %q escapes workspace root via symlink", raw))
		}

		out = append(out, clean)
	}
	sort.Strings(out)
	return out, nil
}

// realPath collapses symlinks along path's nearest existing ancestor and
// rejoins any not-yet-created trailing components unresolved, so a
// proposal touching a file that doesn't exist yet can still be checked
// against its directory's real location.
func realPath(path string) (string, error) {
	dir := path
	var suffix []string
	for {
		if _, err := os.Lstat(dir); err == nil {
			break
		} else if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		suffix = append(suffix, filepath.Base(dir))
		dir = parent
	}
	real, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", err
	}
	for i := len(suffix) - 1; i >= 0; i-- {
		real = filepath.Join(real, suffix[i])
	}
	return real, nil
}

func hashString(s string) string {
	return wal.HashBytes([]byte(s))
}
