// Package workspace is the single facade spec §9 calls for: "global
// mutable state... modeled as a per-workspace context value threaded
// through the public API; construct at workspace open, tear down at
// close." It wires config, ACL, the governance mode machine, the block
// corpus, the snapshot store, the WAL journal, the apply engine, the
// integrity scanner, and the retrieval engine into the four external
// surfaces spec §6.3/§6.4 name: recall, check_abstention, propose, and
// apply_proposal/rollback. Grounded on internal/app/app.go
// construction style: one struct holding every subsystem, built by a
// single New/Open call that runs each subsystem's own constructor in
// sequence and fails fast on the first error.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mem-os/internal/config"
	"mem-os/internal/metrics"
	"mem-os/pkg/acl"
	"mem-os/pkg/apply"
	"mem-os/pkg/block"
	memerrors "mem-os/pkg/errors"
	"mem-os/pkg/integrity"
	"mem-os/pkg/lock"
	"mem-os/pkg/migration"
	"mem-os/pkg/mode"
	"mem-os/pkg/retrieval"
	"mem-os/pkg/snapshot"
	"mem-os/pkg/tracing"
	"mem-os/pkg/types"
	"mem-os/pkg/wal"
)

// LockTimeout bounds how long an apply waits to acquire its touched-path
// locks before surfacing LockTimeout (spec §4.2/§4.5).
const LockTimeout = 30 * time.Second

// Canonical workspace-relative paths (spec §6.1).
const (
	configFile         = "mem-os.json"
	aclFile            = "mem-os-acl.json"
	decisionsFile      = "decisions/DECISIONS.md"
	tasksFile          = "tasks/TASKS.md"
	entitiesDir        = "entities"
	memoryDir          = "memory"
	intelStateFile     = "memory/intel-state.json"
	intelligenceDir    = "intelligence"
	contradictionsFile = "intelligence/CONTRADICTIONS.md"
	driftFile          = "intelligence/DRIFT.md"
	signalsFile        = "intelligence/SIGNALS.md"
	impactFile         = "intelligence/IMPACT.md"
	auditFile          = "intelligence/AUDIT.md"
	scanLogFile        = "intelligence/SCAN_LOG.md"
	proposedDir        = "intelligence/proposed"
	agentsDir          = "agents"
)

var entityFiles = []string{
	"entities/projects.md",
	"entities/people.md",
	"entities/tools.md",
	"entities/incidents.md",
}

// cachedCorpus pairs a built retrieval corpus with the block epoch it was
// built from, so Workspace can tell a cache hit from a stale one without
// rebuilding per query (spec §8 invariant 5: retrieval is a pure function
// of corpus bytes and configuration, so rebuilding on every mutation,
// never on every read, is the correct cache-invalidation boundary).
type cachedCorpus struct {
	corpus *retrieval.Corpus
	epoch  uint64
}

// Workspace is the open, live handle on one mem-os workspace directory.
// Every external operation spec §6.3/§6.4 names is a method on this type.
type Workspace struct {
	root   string
	logger *logrus.Logger

	cfgPath string
	aclPath string

	mu      sync.RWMutex
	cfg     *types.Config
	acl     *acl.ACL
	blocks  []*types.Block
	byID    map[string]*types.Block
	logRefs []integrity.LogReference
	epoch   uint64

	corporaMu sync.Mutex
	corpora   map[string]cachedCorpus

	mode        *mode.Machine
	snapshots   *snapshot.Store
	journal     *wal.Journal
	applyEngine *apply.Engine
	budget      *integrity.Budget

	tracing *tracing.Manager
	sampler *tracing.Sampler

	metricsServer *metrics.Server
	configWatcher *migration.Watcher
	stopWatch     chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Open constructs every subsystem for the workspace rooted at root,
// replays any WAL records left by a crash between a previous apply's
// begin and commit (spec §4.3, §8 scenario S5), and restores the
// governance mode machine to the mode recorded in mem-os.json.
func Open(root string, logger *logrus.Logger) (*Workspace, error) {
	if logger == nil {
		logger = logrus.New()
	}

	cfgPath := filepath.Join(root, configFile)
	cfg, err := config.Load(cfgPath, logger)
	if err != nil {
		return nil, err
	}

	aPath := filepath.Join(root, aclFile)
	aclDoc, err := acl.Load(aPath)
	if err != nil {
		return nil, memerrors.IO("workspace", "open", "failed loading ACL").Wrap(err)
	}

	snapshots, err := snapshot.Open(root)
	if err != nil {
		return nil, err
	}
	journal, err := wal.Open(root)
	if err != nil {
		return nil, err
	}

	modeMachine := mode.New(logger)
	if err := restoreMode(modeMachine, mode.Mode(cfg.GovernanceMode)); err != nil {
		return nil, err
	}

	budget := integrity.NewBudget(cfg.ProposalBudget.PerRun, cfg.ProposalBudget.PerDay, cfg.DeferCooldownDays)

	tracingMgr, err := tracing.NewManager(tracing.DefaultConfig(), logger)
	if err != nil {
		return nil, memerrors.IO("workspace", "open", "failed initializing tracing").Wrap(err)
	}
	sampler := tracing.NewSampler(tracing.SamplingConfig{
		Enabled:          true,
		LatencyThreshold: 500 * time.Millisecond,
		SampleRate:       1.0,
		WindowSize:       time.Minute,
	}, logger)

	w := &Workspace{
		root:      root,
		logger:    logger,
		cfgPath:   cfgPath,
		aclPath:   aPath,
		cfg:       cfg,
		acl:       aclDoc,
		corpora:   map[string]cachedCorpus{},
		mode:      modeMachine,
		snapshots: snapshots,
		journal:   journal,
		budget:    budget,
		tracing:   tracingMgr,
		sampler:   sampler,
	}
	w.applyEngine = &apply.Engine{
		WorkspaceRoot: root,
		Snapshots:     snapshots,
		Journal:       journal,
		LockTimeout:   LockTimeout,
		Logger:        logger,
		PostCheck:     w.postCheckApply,
	}

	if err := w.reloadCorpus(); err != nil {
		return nil, err
	}

	if outcomes, err := journal.Replay(snapshots); err != nil {
		return nil, err
	} else if len(outcomes) > 0 {
		logger.WithField("count", len(outcomes)).Warn("replayed unfinalized WAL receipts at open")
		if err := w.reloadCorpus(); err != nil {
			return nil, err
		}
	}

	metrics.Register()
	metrics.SetGovernanceMode(string(modeMachine.Current()), []string{
		string(mode.DetectOnly), string(mode.Propose), string(mode.Enforce),
	})

	return w, nil
}

// restoreMode steps a freshly constructed (detect_only) Machine up to
// target one rank at a time, mirroring the adjacency rule Upgrade itself
// enforces (spec §4.9: "transitions are adjacent"). Workspace restarts do
// not re-run the clean-window precondition that governs a live operator
// upgrade — the workspace trusts a mode already recorded in mem-os.json.
func restoreMode(m *mode.Machine, target mode.Mode) error {
	order := []mode.Mode{mode.DetectOnly, mode.Propose, mode.Enforce}
	rank := map[mode.Mode]int{mode.DetectOnly: 0, mode.Propose: 1, mode.Enforce: 2}
	want, ok := rank[target]
	if !ok {
		return memerrors.Validation("workspace", "open", "unknown governance_mode in config: "+string(target))
	}
	for rank[m.Current()] < want {
		next := order[rank[m.Current()]+1]
		if err := m.Upgrade(next, "restored from mem-os.json at workspace open"); err != nil {
			return err
		}
	}
	return nil
}

// ServeMetrics starts the Prometheus/health HTTP server on addr. Callers
// that don't need a scrape endpoint (e.g. short-lived CLI invocations)
// can skip calling this.
func (w *Workspace) ServeMetrics(addr string) error {
	w.metricsServer = metrics.NewServer(addr, w.logger)
	return w.metricsServer.Start()
}

// StartConfigWatch watches mem-os.json for external edits and re-runs
// schema migration plus a config reload on every write event (spec
// §4.10 doesn't require hot-applying config changes, only that schema
// migration run whenever the file is touched). The watch goroutine stops
// when Close is called.
func (w *Workspace) StartConfigWatch() error {
	watcher, err := migration.WatchConfig(w.cfgPath, w.logger)
	if err != nil {
		return err
	}
	w.configWatcher = watcher
	w.stopWatch = make(chan struct{})

	go func() {
		for {
			select {
			case _, ok := <-watcher.Events():
				if !ok {
					return
				}
				cfg, err := config.Load(w.cfgPath, w.logger)
				if err != nil {
					w.logger.WithError(err).Warn("failed reloading mem-os.json after external edit")
					continue
				}
				w.mu.Lock()
				w.cfg = cfg
				w.mu.Unlock()
				w.logger.Info("reloaded mem-os.json after external edit")
			case err, ok := <-watcher.Errors():
				if !ok {
					return
				}
				w.logger.WithError(err).Warn("config watcher error")
			case <-w.stopWatch:
				return
			}
		}
	}()
	return nil
}

// Close releases every background resource the workspace holds. It does
// not flush any in-memory state to disk: every mutation path already
// writes through (atomic rewrite or WAL-guarded apply), so there is
// nothing left to persist at close time.
// Close releases every resource Open acquired. Safe to call more than
// once; only the first call does any work.
func (w *Workspace) Close() error {
	w.closeOnce.Do(func() {
		if w.configWatcher != nil {
			close(w.stopWatch)
			w.configWatcher.Close()
		}
		if w.tracing != nil {
			if err := w.tracing.Shutdown(context.Background()); err != nil {
				w.logger.WithError(err).Warn("failed shutting down tracing")
			}
		}
		if w.metricsServer != nil {
			w.closeErr = w.metricsServer.Stop()
		}
	})
	return w.closeErr
}

// Root returns the workspace's root directory, for callers that need to
// construct additional paths outside this package's API surface.
func (w *Workspace) Root() string { return w.root }

// Config returns a copy of the currently loaded configuration.
func (w *Workspace) Config() types.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return *w.cfg
}

// Mode exposes the governance mode machine for callers that drive
// explicit upgrade/downgrade operator actions.
func (w *Workspace) Mode() *mode.Machine { return w.mode }

// reloadCorpus re-parses every canonical block file under the workspace
// and the free-form daily logs, replacing the in-memory corpus and
// bumping epoch so cached per-agent retrieval corpora rebuild on next
// use. Parse diagnostics are logged, never fatal (spec §4.1: a malformed
// block is dropped, scanning continues).
func (w *Workspace) reloadCorpus() error {
	var blocks []*types.Block
	for _, rel := range w.canonicalBlockFiles() {
		abs := filepath.Join(w.root, rel)
		data, err := os.ReadFile(abs)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return memerrors.IO("workspace", "reload_corpus", "failed reading "+rel).Wrap(err)
		}
		result := block.ParseBytes(rel, data)
		for _, d := range result.Diagnostics {
			w.logger.WithFields(logrus.Fields{"file": d.File, "line": d.Line, "severity": d.Severity}).
				Warn(d.Message)
		}
		blocks = append(blocks, result.Blocks...)
	}

	logRefs, err := w.loadLogReferences()
	if err != nil {
		return err
	}

	byID := make(map[string]*types.Block, len(blocks))
	for _, b := range blocks {
		if _, dup := byID[b.ID]; dup {
			w.logger.WithField("id", b.ID).Warn("duplicate block ID, keeping first occurrence")
			continue
		}
		byID[b.ID] = b
	}

	w.mu.Lock()
	w.blocks = blocks
	w.byID = byID
	w.logRefs = logRefs
	w.epoch++
	w.mu.Unlock()
	return nil
}

// canonicalBlockFiles lists every file reloadCorpus parses as blocks:
// the shared decisions/tasks/entities files, the integrity engine's own
// contradiction/drift/signal/impact ledgers (so a resolution proposal can
// target a C- or DREF- block by ID), staged proposals, and every agent's
// private namespace.
func (w *Workspace) canonicalBlockFiles() []string {
	out := []string{decisionsFile, tasksFile, contradictionsFile, driftFile, signalsFile, impactFile}
	out = append(out, entityFiles...)
	out = append(out, w.globRelative(filepath.Join(proposedDir, "*.md"))...)
	out = append(out, w.globRelative(filepath.Join(agentsDir, "*", "*.md"))...)
	sort.Strings(out)
	return out
}

// globRelative globs pattern (relative to the workspace root) and
// returns workspace-relative matches. A glob error or zero matches both
// resolve to an empty slice — absent optional directories (e.g. no
// agents/ yet) are not a failure.
func (w *Workspace) globRelative(pattern string) []string {
	matches, err := filepath.Glob(filepath.Join(w.root, pattern))
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		rel, err := filepath.Rel(w.root, m)
		if err == nil {
			out = append(out, rel)
		}
	}
	return out
}

// dailyLogPattern matches the memory/YYYY-MM-DD.md daily log filename
// (spec §6.1), excluding memory/intel-state.json.
var dailyLogPattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})\.md$`)

// axisKeyLine and decisionLine extract the informal inline annotation
// convention loadLogReferences recognizes: "axis.key: <key>" optionally
// paired with "decision: <id>" on the same line. Daily logs are free-form
// prose, not typed blocks (spec §6.1), so the Drift pass's LogReference
// input is scraped from this convention rather than a new block grammar
// — the same Key: Value shape the rest of the system already uses,
// applied line-by-line instead of inside a [ID] block.
var axisKeyLine = regexp.MustCompile(`axis\.key:\s*(\S+)`)
var decisionLine = regexp.MustCompile(`decision:\s*(\S+)`)

// loadLogReferences scans every daily log for axis.key/decision
// annotations, the Drift and Dead passes' input (spec §4.6).
func (w *Workspace) loadLogReferences() ([]integrity.LogReference, error) {
	var out []integrity.LogReference
	for _, rel := range w.globRelative(filepath.Join(memoryDir, "*.md")) {
		name := filepath.Base(rel)
		m := dailyLogPattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		date := m[1]
		data, err := os.ReadFile(filepath.Join(w.root, rel))
		if err != nil {
			return nil, memerrors.IO("workspace", "load_log_references", "failed reading "+rel).Wrap(err)
		}
		for i, line := range strings.Split(string(data), "\n") {
			axisMatch := axisKeyLine.FindStringSubmatch(line)
			if axisMatch == nil {
				continue
			}
			ref := integrity.LogReference{
				AxisKey: axisMatch[1],
				LogDate: date,
				LogRef:  fmt.Sprintf("%s:%d", rel, i+1),
			}
			if decMatch := decisionLine.FindStringSubmatch(line); decMatch != nil {
				ref.DecisionID = decMatch[1]
			}
			out = append(out, ref)
		}
	}
	return out, nil
}

// findBlock looks up a block by ID in the current in-memory corpus.
func (w *Workspace) findBlock(id string) (*types.Block, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	b, ok := w.byID[id]
	return b, ok
}

// blocksSnapshot returns the current corpus and epoch under the read lock,
// for callers (integrity scan, retrieval corpus build) that need a
// consistent view without holding the lock for the whole operation.
func (w *Workspace) blocksSnapshot() ([]*types.Block, []integrity.LogReference, uint64) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]*types.Block(nil), w.blocks...), append([]integrity.LogReference(nil), w.logRefs...), w.epoch
}

// retrievalCorpusFor returns the ACL-filtered retrieval corpus for
// agentID, rebuilding only when the cached entry is absent or stale
// (spec §4.8: ACL is "consulted... by retrieval to filter corpus", §8
// invariant 5: retrieval depends only on corpus bytes and configuration,
// so a cache keyed by epoch is always safe to reuse).
func (w *Workspace) retrievalCorpusFor(agentID string) *retrieval.Corpus {
	blocks, _, epoch := w.blocksSnapshot()

	w.corporaMu.Lock()
	defer w.corporaMu.Unlock()
	if cached, ok := w.corpora[agentID]; ok && cached.epoch == epoch {
		return cached.corpus
	}

	corpus := retrieval.NewCorpus(blocks, w.canReadFilter(agentID))
	w.corpora[agentID] = cachedCorpus{corpus: corpus, epoch: epoch}
	return corpus
}

// canReadFilter builds the per-block ACL predicate retrieval.NewCorpus
// bakes into its index. agentID == "" means an unrestricted (e.g.
// operator tooling) view: every block is visible.
func (w *Workspace) canReadFilter(agentID string) func(blockID string) bool {
	if agentID == "" {
		return nil
	}
	w.mu.RLock()
	aclDoc := w.acl
	byID := w.byID
	w.mu.RUnlock()
	return func(blockID string) bool {
		b, ok := byID[blockID]
		if !ok {
			return false
		}
		return aclDoc.CanRead(agentID, b.SourceFile)
	}
}

func classLabel(c retrieval.Class) string {
	switch {
	case c.Adversarial:
		return "adversarial"
	case c.Temporal:
		return "temporal"
	case c.MultiHop:
		return "multi_hop"
	default:
		return "single_hop"
	}
}

// hitFields extracts a deliberately narrow subset of a block's fields for
// a Hit (spec §6.3: "fields subset"): Date, Status, and whichever
// kind-specific title-like field RequiredFields names.
func hitFields(b *types.Block) map[string]string {
	out := map[string]string{}
	for _, key := range types.RequiredFields(b.Kind) {
		if v, ok := b.Get(key); ok {
			out[key] = v
		}
	}
	return out
}

// writeFileAtomic writes data to path via temp-file-then-rename, the
// same discipline pkg/migration.WriteAtomic uses for JSON documents,
// generalized here to raw bytes since most workspace documents are
// markdown, not JSON.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return memerrors.IO("workspace", "write_atomic", "failed creating parent directory for "+path).Wrap(err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return memerrors.IO("workspace", "write_atomic", "failed creating temp file for "+path).Wrap(err)
	}
	defer os.Remove(tmp)
	if _, err := f.Write(data); err != nil {
		f.Close()
		return memerrors.IO("workspace", "write_atomic", "failed writing temp file for "+path).Wrap(err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return memerrors.IO("workspace", "write_atomic", "failed fsyncing temp file for "+path).Wrap(err)
	}
	if err := f.Close(); err != nil {
		return memerrors.IO("workspace", "write_atomic", "failed closing temp file for "+path).Wrap(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return memerrors.IO("workspace", "write_atomic", "failed renaming temp file onto "+path).Wrap(err)
	}
	return nil
}

// enforceAppendOnly reports an AppendOnlyViolation (spec §8 boundary
// case) when newContent is not an extension of oldContent — the
// invariant daily logs must hold, since they are never rewritten, only
// appended to.
func enforceAppendOnly(oldContent, newContent []byte) error {
	if len(newContent) < len(oldContent) || string(newContent[:len(oldContent)]) != string(oldContent) {
		return memerrors.Validation("workspace", "append_daily_log",
			"daily log rewrite is not a pure append (AppendOnlyViolation)")
	}
	return nil
}

// AppendDailyLog appends entry to memory/<date>.md under an exclusive
// lock, enforcing the append-only invariant spec §6.1 names for daily
// logs ("append-only; opened in append mode with an exclusive lock").
func (w *Workspace) AppendDailyLog(date, entry string) error {
	rel := filepath.Join(memoryDir, date+".md")
	abs := filepath.Join(w.root, rel)

	handle, err := lock.Acquire(abs, LockTimeout)
	if err != nil {
		return err
	}
	defer handle.Release()

	before, err := os.ReadFile(abs)
	if err != nil && !os.IsNotExist(err) {
		return memerrors.IO("workspace", "append_daily_log", "failed reading "+rel).Wrap(err)
	}
	after := append(append([]byte(nil), before...), []byte(entry)...)
	if !strings.HasSuffix(entry, "\n") {
		after = append(after, '\n')
	}
	if err := enforceAppendOnly(before, after); err != nil {
		return err
	}

	f, err := os.OpenFile(abs, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return memerrors.IO("workspace", "append_daily_log", "failed opening "+rel).Wrap(err)
	}
	defer f.Close()
	if _, err := f.WriteString(entry); err != nil {
		return memerrors.IO("workspace", "append_daily_log", "failed writing "+rel).Wrap(err)
	}
	if !strings.HasSuffix(entry, "\n") {
		if _, err := f.WriteString("\n"); err != nil {
			return memerrors.IO("workspace", "append_daily_log", "failed writing "+rel).Wrap(err)
		}
	}

	return w.reloadCorpus()
}
