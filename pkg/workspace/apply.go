package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mem-os/internal/metrics"
	"mem-os/pkg/apply"
	"mem-os/pkg/block"
	memerrors "mem-os/pkg/errors"
	"mem-os/pkg/integrity"
	"mem-os/pkg/lock"
	"mem-os/pkg/retrieval"
	"mem-os/pkg/tracing"
	"mem-os/pkg/types"
)

// Recall implements spec §6.3's recall(query, *, limit, active_only,
// agent_id, graph=auto). An empty AgentID is the unrestricted, ACL-free
// view used by operator tooling; any other value is filtered through
// that agent's visible namespaces.
func (w *Workspace) Recall(query string, opts types.RecallOptions) ([]types.Hit, error) {
	span := tracing.Start(context.Background(), w.tracing.Tracer(), "recall")
	span.SetAttribute("agent_id", opts.AgentID)
	span.SetAttribute("force_sampled", w.sampler.ShouldForceSample())
	defer span.End()

	start := time.Now()
	corpus := w.retrievalCorpusFor(opts.AgentID)

	result := corpus.Query(query, retrieval.Options{
		QuerySpeaker:       opts.AgentID,
		GraphBoostOverride: opts.Graph,
	})
	elapsed := time.Since(start)
	w.sampler.Record(elapsed)
	span.SetAttribute("class", classLabel(result.Class))
	span.SetAttribute("evidence_count", len(result.Evidence))
	metrics.RecordRetrieval(classLabel(result.Class), elapsed, len(result.Evidence))
	if result.Abstention.Abstain {
		metrics.RecordAbstention()
	}

	hits := make([]types.Hit, 0, len(result.Evidence))
	for _, scored := range result.Evidence {
		b, ok := w.findBlock(scored.Chunk.BlockID)
		if !ok {
			continue
		}
		if opts.ActiveOnly && b.Status() != "active" {
			continue
		}
		hits = append(hits, types.Hit{
			BlockID:    b.ID,
			Kind:       b.Kind,
			Score:      scored.Score,
			Fields:     hitFields(b),
			SourceFile: b.SourceFile,
			Lines:      b.Lines,
			// Origin defaults to bm25: the retrieval pipeline (pkg/retrieval)
			// does not track per-hit provenance through its rerank/graph-boost
			// stages, so a hit that was in fact surfaced or promoted by the
			// graph booster is not distinguishable from a lexical one here.
			// Documented simplification (see DESIGN.md).
			Origin: types.OriginBM25,
		})
		if opts.Limit > 0 && len(hits) >= opts.Limit {
			break
		}
	}
	return hits, nil
}

// CheckAbstention implements spec §6.3's check_abstention(query, hits).
// Since retrieval is a pure function of corpus bytes and query (spec §8
// invariant 5), re-running the same classify/retrieve/abstain pipeline
// here rather than threading the prior call's internal state through is
// cheap and keeps this method's signature aligned with the spec's named
// external interface instead of an invented combined call.
func (w *Workspace) CheckAbstention(query, agentID string) types.AbstentionResult {
	corpus := w.retrievalCorpusFor(agentID)
	result := corpus.Query(query, retrieval.Options{QuerySpeaker: agentID})
	if result.Abstention.Abstain {
		metrics.RecordAbstention()
	}
	return types.AbstentionResult{Confidence: result.Abstention.Confidence, Abstain: result.Abstention.Abstain}
}

// ScanIntegrity runs the five integrity passes (spec §3.2/§4.6) over the
// current corpus, records each pass's finding count, and persists the
// contradiction/drift findings as blocks so a later apply can target them
// by ID. It does not itself generate proposals — see GenerateProposals.
func (w *Workspace) ScanIntegrity(now time.Time) (integrity.ScanResult, error) {
	blocks, logRefs, _ := w.blocksSnapshot()
	corpus := integrity.NewCorpus(blocks)
	result := integrity.Scan(corpus, now, w.cfg.DeadThresholdDays, logRefs)

	metrics.SetIntegrityScanFindings("contradiction", len(result.Contradictions))
	metrics.SetIntegrityScanFindings("drift", len(result.Drift))
	metrics.SetIntegrityScanFindings("dead", len(result.Dead))
	metrics.SetIntegrityScanFindings("orphan", len(result.Orphans))
	metrics.SetIntegrityScanFindings("impact", len(result.Impact))

	if err := w.persistContradictions(result.Contradictions, now); err != nil {
		return result, err
	}
	if err := w.persistDrift(result.Drift, now); err != nil {
		return result, err
	}
	if err := appendPlainText(filepath.Join(w.root, scanLogFile), fmt.Sprintf(
		"%s scan: %d contradictions, %d drift, %d dead, %d orphans\n",
		now.Format(time.RFC3339), len(result.Contradictions), len(result.Drift), len(result.Dead), len(result.Orphans),
	)); err != nil {
		return result, err
	}
	return result, nil
}

func (w *Workspace) persistContradictions(cs []integrity.Contradiction, now time.Time) error {
	if len(cs) == 0 {
		return nil
	}
	existing, _, _ := w.blocksSnapshot()
	var blocks []*types.Block
	for _, c := range cs {
		id, err := block.NextID(existing, types.KindContradiction, now.Format("2006-01-02"))
		if err != nil {
			return err
		}
		b := &types.Block{Kind: types.KindContradiction, ID: id}
		b.Set("Date", now.Format("2006-01-02"))
		b.Set("DecisionA", c.DecisionA)
		b.Set("DecisionB", c.DecisionB)
		b.Set("AxisKey", c.AxisKey)
		b.Set("ResolutionWinner", c.ResolutionWinner)
		blocks = append(blocks, b)
		existing = append(existing, b)
	}
	return writeFileAtomic(filepath.Join(w.root, contradictionsFile), []byte(block.SerializeAll(blocks)))
}

func (w *Workspace) persistDrift(ds []integrity.DriftSignal, now time.Time) error {
	if len(ds) == 0 {
		return nil
	}
	existing, _, _ := w.blocksSnapshot()
	var blocks []*types.Block
	for _, d := range ds {
		id, err := block.NextID(existing, types.KindDriftRef, now.Format("2006-01-02"))
		if err != nil {
			return err
		}
		b := &types.Block{Kind: types.KindDriftRef, ID: id}
		b.Set("Date", now.Format("2006-01-02"))
		b.Set("AxisKey", d.AxisKey)
		b.Set("LogDate", d.LogDate)
		b.Set("LogRef", d.LogRef)
		blocks = append(blocks, b)
		existing = append(existing, b)
	}
	return writeFileAtomic(filepath.Join(w.root, driftFile), []byte(block.SerializeAll(blocks)))
}

// GenerateProposals runs ScanIntegrity, admits its findings under the
// configured proposal budget (spec §4.6), and stages one Proposal block
// per admitted issue under intelligence/proposed/. Requires the
// governance mode machine to currently permit proposal generation
// (detect_only never does, per spec §4.9).
func (w *Workspace) GenerateProposals(now time.Time) ([]types.Proposal, error) {
	if !w.mode.CanGenerateProposals() {
		return nil, memerrors.Validation("workspace", "generate_proposals",
			"current governance mode does not permit proposal generation")
	}

	result, err := w.ScanIntegrity(now)
	if err != nil {
		return nil, err
	}
	issues := result.Issues()
	admitted, dropped := w.budget.Admit(issues, now)
	if dropped > 0 {
		w.logger.WithField("dropped", dropped).Warn("proposal budget exhausted; some issues not staged this run")
	}

	existing, _, _ := w.blocksSnapshot()
	var proposals []types.Proposal
	for _, issue := range admitted {
		id, err := block.NextID(existing, types.KindProposal, now.Format("2006-01-02"))
		if err != nil {
			return proposals, err
		}
		p := types.Proposal{
			ID:     id,
			Type:   proposalTypeForIssue(issue),
			Target: issue.Target,
			Action: issue.Action,
			Reason: issue.Kind,
			Status: types.ProposalPending,
			Date:   now,
		}
		b := p.ToBlock()
		existing = append(existing, b)
		path := filepath.Join(w.root, proposedDir, id+"_PROPOSED.md")
		if err := writeFileAtomic(path, []byte(block.Serialize(b))); err != nil {
			return proposals, err
		}
		metrics.RecordProposalGenerated(issue.Kind)
		proposals = append(proposals, p)
	}

	if err := w.reloadCorpus(); err != nil {
		return proposals, err
	}
	return proposals, nil
}

// proposalTypeForIssue maps a normalized scan finding to the ProposalType
// whose mutation resolves it (spec §3.2/§3.3): a contradiction is staged
// as a supersede of the losing decision, drift and orphan findings as a
// status change, and dead decisions as an archive.
func proposalTypeForIssue(issue integrity.Issue) types.ProposalType {
	switch issue.Kind {
	case "contradiction":
		return types.ProposalSupersede
	case "dead":
		return types.ProposalArchive
	default: // "drift", "orphan"
		return types.ProposalStatusChange
	}
}

// Propose implements spec §6.4's propose(signal): a lightweight,
// un-staged signal append to intelligence/SIGNALS.md, distinct from the
// heavier integrity-scan-driven proposal generation above (which stages
// full Proposal blocks under intelligence/proposed/).
func (w *Workspace) Propose(summary string) (string, error) {
	now := time.Now()
	existing, _, _ := w.blocksSnapshot()
	id, err := block.NextID(existing, types.KindSignal, now.Format("2006-01-02"))
	if err != nil {
		return "", err
	}
	b := &types.Block{Kind: types.KindSignal, ID: id}
	b.Set("Date", now.Format("2006-01-02"))
	b.Set("Status", "open")
	b.Set("Summary", summary)

	if err := appendPlainText(filepath.Join(w.root, signalsFile), "\n"+block.Serialize(b)); err != nil {
		return "", err
	}
	if err := w.reloadCorpus(); err != nil {
		return "", err
	}
	return id, nil
}

// findProposal looks up a staged proposal's block by ID.
func (w *Workspace) findProposal(id string) (*types.Block, bool) {
	b, ok := w.findBlock(id)
	if !ok || b.Kind != types.KindProposal {
		return nil, false
	}
	return b, true
}

// fileForProposal resolves the workspace-relative file a proposal's
// mutation will write: new decisions and supersessions always land in
// the shared decisions ledger; new tasks in the shared task ledger;
// every other proposal type mutates its target block in place, wherever
// that block already lives.
func (w *Workspace) fileForProposal(p *types.Proposal) (string, error) {
	switch p.Type {
	case types.ProposalNewDecision, types.ProposalSupersede:
		return decisionsFile, nil
	case types.ProposalNewTask:
		return tasksFile, nil
	default:
		target, ok := w.findBlock(p.Target)
		if !ok {
			return "", memerrors.Validation("workspace", "apply_proposal",
				"proposal target "+p.Target+" not found in current corpus")
		}
		return target.SourceFile, nil
	}
}

// blocksInFile returns every currently-known block whose SourceFile
// matches rel, in no particular order.
func (w *Workspace) blocksInFile(rel string) []*types.Block {
	blocks, _, _ := w.blocksSnapshot()
	var out []*types.Block
	for _, b := range blocks {
		if b.SourceFile == rel {
			out = append(out, b)
		}
	}
	return out
}

// defaultStatusFor returns the initial Status a newly created block of
// kind should carry (spec §3.1's StatusEnum, first/active member).
func defaultStatusFor(kind types.BlockKind) string {
	switch kind {
	case types.KindTask:
		return "open"
	case types.KindSignal:
		return "open"
	default:
		return "active"
	}
}

// setTitleField writes text into whichever field RequiredFields(kind)
// treats as the kind's title-equivalent.
func setTitleField(b *types.Block, kind types.BlockKind, text string) {
	switch kind {
	case types.KindDecision:
		b.Set("Statement", text)
	case types.KindTask:
		b.Set("Title", text)
	case types.KindProject, types.KindPerson, types.KindTool, types.KindIncident:
		b.Set("Name", text)
	default:
		b.Set("Summary", text)
	}
}

// mutatorFor builds the apply.Mutator that realizes proposal p's
// intended change against targetFile's current contents. It is called by
// the apply engine after pre-check/snapshot/lock, and must return the
// full new content of every path it touches without writing to disk
// itself (spec §4.5 step 5).
func (w *Workspace) mutatorFor(p *types.Proposal, targetFile string) apply.Mutator {
	return func(touched []string) (map[string]string, error) {
		path := touched[0]
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, memerrors.IO("workspace", "mutate", "failed reading "+targetFile).Wrap(err)
		}
		blocks := block.ParseBytes(targetFile, data).Blocks
		existingForID := append([]*types.Block(nil), w.blocksInFile(targetFile)...)

		switch p.Type {
		case types.ProposalNewDecision, types.ProposalNewTask:
			kind := types.KindDecision
			if p.Type == types.ProposalNewTask {
				kind = types.KindTask
			}
			id, err := block.NextID(existingForID, kind, p.Date.Format("2006-01-02"))
			if err != nil {
				return nil, err
			}
			nb := &types.Block{Kind: kind, ID: id, SourceFile: targetFile}
			nb.Set("Date", p.Date.Format("2006-01-02"))
			nb.Set("Status", defaultStatusFor(kind))
			setTitleField(nb, kind, p.Action)
			if p.Reason != "" {
				nb.Set("Reason", p.Reason)
			}
			blocks = append(blocks, nb)

		case types.ProposalSupersede:
			if old := findInSlice(blocks, p.Target); old != nil {
				old.Set("Status", "superseded")
			}
			id, err := block.NextID(existingForID, types.KindDecision, p.Date.Format("2006-01-02"))
			if err != nil {
				return nil, err
			}
			nb := &types.Block{Kind: types.KindDecision, ID: id, SourceFile: targetFile}
			nb.Set("Date", p.Date.Format("2006-01-02"))
			nb.Set("Status", "active")
			nb.Set("Supersedes", p.Target)
			nb.Set("Statement", p.Action)
			blocks = append(blocks, nb)

		case types.ProposalStatusChange:
			target := findInSlice(blocks, p.Target)
			if target == nil {
				return nil, memerrors.Validation("workspace", "mutate", "status_change target "+p.Target+" not found in "+targetFile)
			}
			target.Set("Status", p.Action)

		case types.ProposalArchive:
			target := findInSlice(blocks, p.Target)
			if target == nil {
				return nil, memerrors.Validation("workspace", "mutate", "archive target "+p.Target+" not found in "+targetFile)
			}
			target.Set("Status", "archived")

		case types.ProposalMerge:
			target := findInSlice(blocks, p.Target)
			if target == nil {
				return nil, memerrors.Validation("workspace", "mutate", "merge target "+p.Target+" not found in "+targetFile)
			}
			// merge's exact field-level semantics are not specified beyond
			// it being one of the six proposal types; resolved here as an
			// archive that records why, same as a supersede's losing side.
			target.Set("Status", "archived")
			if p.Reason != "" {
				target.Set("Reason", p.Reason)
			}

		default:
			return nil, memerrors.Validation("workspace", "mutate", "unknown proposal type "+string(p.Type))
		}

		return map[string]string{path: block.SerializeAll(blocks)}, nil
	}
}

func findInSlice(blocks []*types.Block, id string) *types.Block {
	for _, b := range blocks {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// postCheckApply validates that every file the mutation touched still
// parses with no "fail"-severity diagnostics (spec §4.5 step 7).
func (w *Workspace) postCheckApply(touched []string) error {
	for _, path := range touched {
		data, err := os.ReadFile(path)
		if err != nil {
			return memerrors.IO("workspace", "post_check", "failed reading "+path).Wrap(err)
		}
		result := block.ParseBytes(path, data)
		for _, d := range result.Diagnostics {
			if d.Severity == "fail" {
				return memerrors.Validation("workspace", "post_check", d.Message)
			}
		}
	}
	return nil
}

// markProposalApplied rewrites a staged proposal's own block to record
// it as applied, once its mutation has committed.
func (w *Workspace) markProposalApplied(p *types.Proposal) error {
	path := filepath.Join(w.root, proposedDir, p.ID+"_PROPOSED.md")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return memerrors.IO("workspace", "mark_applied", "failed reading "+path).Wrap(err)
	}
	result := block.ParseBytes(path, data)
	if len(result.Blocks) == 0 {
		return nil
	}
	result.Blocks[0].Set("Status", string(types.ProposalApplied))
	return writeFileAtomic(path, []byte(block.SerializeAll(result.Blocks)))
}

// ApplyProposal implements spec §6.4's apply_proposal(proposal_id, *,
// agent_id, dry_run). dry_run previews the pipeline's outcome without
// mutating the workspace: since types.ReceiptResult's closed enum has no
// "previewed" value, a dry run is reported as a synthetic ResultApplied
// receipt whose Cause names it as a preview (documented in DESIGN.md).
func (w *Workspace) ApplyProposal(ctx context.Context, proposalID, agentID string, dryRun bool) (*types.Receipt, error) {
	var receipt *types.Receipt
	runErr := tracing.NewInstrumented(w.tracing.Tracer(), "apply_proposal").Run(ctx, func(span *tracing.Context) error {
		span.SetAttribute("proposal_id", proposalID)
		span.SetAttribute("agent_id", agentID)
		span.SetAttribute("dry_run", dryRun)

		var err error
		receipt, err = w.applyProposal(span.Ctx(), proposalID, agentID, dryRun)
		return err
	})
	return receipt, runErr
}

func (w *Workspace) applyProposal(ctx context.Context, proposalID, agentID string, dryRun bool) (*types.Receipt, error) {
	// spec §4.5 step 1: current mode must permit apply (§4.9). Every
	// apply_proposal call is an agent-initiated manual apply — there is
	// no separate automated low-risk path in this workspace yet, so
	// CanAutoApplyLowRisk is not consulted here; detect_only and any
	// other mode lacking ManualApply rejects before the engine runs.
	if !w.mode.CanManualApply() {
		return nil, memerrors.Validation("workspace", "apply_proposal", "mode "+string(w.mode.Current())+" does not permit apply")
	}

	pb, ok := w.findProposal(proposalID)
	if !ok {
		return nil, memerrors.Validation("workspace", "apply_proposal", "proposal "+proposalID+" not found")
	}
	p := types.ProposalFromBlock(pb)

	relTarget, err := w.fileForProposal(&p)
	if err != nil {
		return nil, err
	}
	if agentID != "" && !w.acl.CanWrite(agentID, relTarget) {
		return nil, memerrors.ACLDenied("workspace", "apply_proposal", agentID+" may not write "+relTarget)
	}

	if dryRun {
		return &types.Receipt{
			ProposalID: p.ID,
			Action:     p.Action,
			Result:     types.ResultApplied,
			Date:       time.Now(),
			Paths:      []string{relTarget},
			Cause:      "dry_run: preview only, no mutation performed",
		}, nil
	}

	absTarget := filepath.Join(w.root, relTarget)
	receipt, err := w.applyEngine.Apply(ctx, &p, []string{absTarget}, w.mutatorFor(&p, relTarget))
	if err != nil {
		outcome := "rejected"
		if receipt != nil {
			outcome = string(receipt.Result)
		}
		metrics.RecordProposalApplied(string(p.Type), outcome)
		return receipt, err
	}

	if err := w.markProposalApplied(&p); err != nil {
		return receipt, err
	}
	if err := appendAudit(filepath.Join(w.root, auditFile), receipt); err != nil {
		return receipt, err
	}
	metrics.RecordProposalApplied(string(p.Type), string(receipt.Result))

	if err := w.reloadCorpus(); err != nil {
		return receipt, err
	}
	return receipt, nil
}

// Rollback implements spec §6.4's rollback(receipt_id): restore every
// file a prior apply touched from its pre-mutation snapshot, independent
// of whether that apply itself already succeeded.
func (w *Workspace) Rollback(receiptID string) (*types.Receipt, error) {
	if err := w.snapshots.RestoreAll(receiptID); err != nil {
		return nil, err
	}
	receipt := &types.Receipt{
		SnapshotID: receiptID,
		Result:     types.ResultRolledBack,
		Date:       time.Now(),
		Cause:      "explicit rollback",
	}
	if err := appendAudit(filepath.Join(w.root, auditFile), receipt); err != nil {
		return receipt, err
	}
	metrics.RecordProposalRolledBack("manual")
	if err := w.reloadCorpus(); err != nil {
		return receipt, err
	}
	return receipt, nil
}

// appendAudit appends a one-line, human-readable record of a receipt to
// intelligence/AUDIT.md (spec §6.1).
func appendAudit(path string, r *types.Receipt) error {
	line := fmt.Sprintf("%s\treceipt=%s\tproposal=%s\tresult=%s\tpaths=%v",
		r.Date.Format(time.RFC3339), r.SnapshotID, r.ProposalID, r.Result, r.Paths)
	if r.Cause != "" {
		line += "\tcause=" + r.Cause
	}
	return appendPlainText(path, line+"\n")
}

// appendPlainText appends text to path under an exclusive lock, creating
// the file (and its parent directory) if absent.
func appendPlainText(path, text string) error {
	handle, err := lock.Acquire(path, LockTimeout)
	if err != nil {
		return err
	}
	defer handle.Release()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return memerrors.IO("workspace", "append", "failed creating parent directory for "+path).Wrap(err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return memerrors.IO("workspace", "append", "failed opening "+path).Wrap(err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		return memerrors.IO("workspace", "append", "failed writing "+path).Wrap(err)
	}
	return nil
}
