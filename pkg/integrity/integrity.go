// Package integrity implements the five deterministic audit passes of
// spec §3.2/§4.6 — contradiction, drift, dead, orphan, and impact graph —
// plus proposal generation under a per-run/per-day budget with
// defer-cooldown suppression. Grounded on
// pkg/task_manager/task_manager.go for the budget-counter shape and
// pkg/deduplication/deduplication_manager.go for the TTL-keyed
// suppression cache, both generalized from runtime-task bookkeeping to
// scan-issue bookkeeping.
package integrity

import (
	"fmt"
	"sort"
	"time"

	"mem-os/pkg/types"
)

// Corpus is the read view the integrity engine scans: every parsed block
// in the workspace, keyed by ID for O(1) lookup.
type Corpus struct {
	Blocks []*types.Block
	byID   map[string]*types.Block
}

// NewCorpus indexes blocks by ID.
func NewCorpus(blocks []*types.Block) *Corpus {
	c := &Corpus{Blocks: blocks, byID: make(map[string]*types.Block, len(blocks))}
	for _, b := range blocks {
		c.byID[b.ID] = b
	}
	return c
}

func (c *Corpus) byKind(kind types.BlockKind) []*types.Block {
	var out []*types.Block
	for _, b := range c.Blocks {
		if b.Kind == kind {
			out = append(out, b)
		}
	}
	return out
}

// Contradiction is one emitted §4.6 "Contradiction" pass finding.
type Contradiction struct {
	DecisionA, DecisionB string
	AxisKey              string
	ResolutionWinner     string // tie-break decision ID, for a resolution proposal, never auto-applied
}

// DriftSignal is a DREF signal: a decision referenced in a daily log with
// no active decision sharing its axis.key.
type DriftSignal struct {
	AxisKey string
	LogDate string
	LogRef  string
}

// DeadDecision is an active decision with no inbound references for at
// least the configured threshold.
type DeadDecision struct {
	DecisionID string
	IdleDays   int
}

// OrphanTask is a task whose AlignsWith target doesn't resolve to an
// active decision.
type OrphanTask struct {
	TaskID   string
	AlignsTo string
}

// ImpactGraph is the adjacency map from decisions to the tasks/entities
// that reference them.
type ImpactGraph map[string][]string

// ScanResult is the full output of one integrity scan.
type ScanResult struct {
	Contradictions []Contradiction
	Drift          []DriftSignal
	Dead           []DeadDecision
	Orphans        []OrphanTask
	Impact         ImpactGraph
}

// Scan runs all five passes. now and deadThresholdDays parameterize the
// Dead pass; logRefs supplies the decision IDs referenced by each daily
// log entry for the Drift and Dead passes (the caller extracts these from
// memory/YYYY-MM-DD.md, since that parsing is a retrieval/log concern,
// not this package's).
func Scan(c *Corpus, now time.Time, deadThresholdDays int, logRefs []LogReference) ScanResult {
	return ScanResult{
		Contradictions: scanContradictions(c),
		Drift:          scanDrift(c, logRefs),
		Dead:           scanDead(c, now, deadThresholdDays, logRefs),
		Orphans:        scanOrphans(c),
		Impact:         scanImpact(c),
	}
}

// LogReference is one decision-ID mention found in a daily log.
type LogReference struct {
	DecisionID string
	AxisKey    string
	LogDate    string
	LogRef     string
}

func isActive(b *types.Block) bool {
	return b.Status() == "active"
}

// scanContradictions implements spec §4.6 "Contradiction": two signatures
// contradict iff axis.key equal, object unequal, both enforcement=hard.
func scanContradictions(c *Corpus) []Contradiction {
	type sigOwner struct {
		sig   types.ConstraintSignature
		owner *types.Block
	}
	var hard []sigOwner
	for _, d := range c.byKind(types.KindDecision) {
		if !isActive(d) {
			continue
		}
		for _, s := range d.Signatures {
			if s.Enforcement == types.EnforcementHard {
				hard = append(hard, sigOwner{s, d})
			}
		}
	}

	var out []Contradiction
	seen := map[string]bool{}
	for i := 0; i < len(hard); i++ {
		for j := i + 1; j < len(hard); j++ {
			a, b := hard[i], hard[j]
			if a.owner.ID == b.owner.ID {
				continue
			}
			if !a.sig.Contradicts(b.sig) {
				continue
			}
			key := pairKey(a.owner.ID, b.owner.ID, a.sig.AxisKey)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Contradiction{
				DecisionA:        a.owner.ID,
				DecisionB:        b.owner.ID,
				AxisKey:          a.sig.AxisKey,
				ResolutionWinner: tieBreak(a.owner, a.sig, b.owner, b.sig),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DecisionA != out[j].DecisionA {
			return out[i].DecisionA < out[j].DecisionA
		}
		return out[i].DecisionB < out[j].DecisionB
	})
	return out
}

func pairKey(a, b, axis string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b + "\x00" + axis
}

// tieBreak resolves which decision wins a contradiction for resolution
// proposal purposes (spec §4.6: "higher priority wins; if tied, more
// specific scope; if tied, newer Date wins"). Never auto-applied.
func tieBreak(da *types.Block, sa types.ConstraintSignature, db *types.Block, sb types.ConstraintSignature) string {
	if sa.Priority != sb.Priority {
		if sa.Priority > sb.Priority {
			return da.ID
		}
		return db.ID
	}
	if sa.Scope != sb.Scope {
		if sa.Scope.MoreSpecificThan(sb.Scope) {
			return da.ID
		}
		return db.ID
	}
	dateA, _ := da.Get("Date")
	dateB, _ := db.Get("Date")
	if dateA > dateB {
		return da.ID
	}
	return db.ID
}

// scanDrift implements spec §4.6 "Drift": a decision referenced in a
// daily log with no active decision sharing its axis.key.
func scanDrift(c *Corpus, logRefs []LogReference) []DriftSignal {
	activeAxes := map[string]bool{}
	for _, d := range c.byKind(types.KindDecision) {
		if !isActive(d) {
			continue
		}
		for _, s := range d.Signatures {
			if s.AxisKey != "" {
				activeAxes[s.AxisKey] = true
			}
		}
	}

	var out []DriftSignal
	for _, ref := range logRefs {
		if ref.AxisKey == "" || activeAxes[ref.AxisKey] {
			continue
		}
		out = append(out, DriftSignal{AxisKey: ref.AxisKey, LogDate: ref.LogDate, LogRef: ref.LogRef})
	}
	return out
}

// scanDead implements spec §4.6 "Dead": active decision with zero inbound
// references in tasks, logs, or other decisions for >= deadThresholdDays.
func scanDead(c *Corpus, now time.Time, deadThresholdDays int, logRefs []LogReference) []DeadDecision {
	referenced := map[string]bool{}
	for _, ref := range logRefs {
		referenced[ref.DecisionID] = true
	}
	for _, t := range c.byKind(types.KindTask) {
		if v, ok := t.Get("AlignsWith"); ok {
			referenced[v] = true
		}
	}
	for _, d := range c.byKind(types.KindDecision) {
		if v, ok := d.Get("Supersedes"); ok {
			referenced[v] = true
		}
	}

	var out []DeadDecision
	for _, d := range c.byKind(types.KindDecision) {
		if !isActive(d) || referenced[d.ID] {
			continue
		}
		dateStr, _ := d.Get("Date")
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		idleDays := int(now.Sub(date).Hours() / 24)
		if idleDays >= deadThresholdDays {
			out = append(out, DeadDecision{DecisionID: d.ID, IdleDays: idleDays})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DecisionID < out[j].DecisionID })
	return out
}

// scanOrphans implements spec §4.6 "Orphan": task with AlignsWith: X
// where X does not resolve to an active decision.
func scanOrphans(c *Corpus) []OrphanTask {
	var out []OrphanTask
	for _, t := range c.byKind(types.KindTask) {
		target, ok := t.Get("AlignsWith")
		if !ok || target == "" {
			continue
		}
		decision, found := c.byID[target]
		if !found || decision.Kind != types.KindDecision || !isActive(decision) {
			out = append(out, OrphanTask{TaskID: t.ID, AlignsTo: target})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// scanImpact implements spec §4.6 "Impact graph": directed edges from
// decisions to tasks/entities referencing them.
func scanImpact(c *Corpus) ImpactGraph {
	graph := ImpactGraph{}
	add := func(decisionID, refID string) {
		graph[decisionID] = append(graph[decisionID], refID)
	}
	for _, t := range c.byKind(types.KindTask) {
		if v, ok := t.Get("AlignsWith"); ok {
			if d, found := c.byID[v]; found && d.Kind == types.KindDecision {
				add(v, t.ID)
			}
		}
	}
	entityKinds := []types.BlockKind{types.KindProject, types.KindPerson, types.KindTool, types.KindIncident}
	for _, kind := range entityKinds {
		for _, e := range c.byKind(kind) {
			if v, ok := e.Get("RelatesTo"); ok {
				if d, found := c.byID[v]; found && d.Kind == types.KindDecision {
					add(v, e.ID)
				}
			}
		}
	}
	for id := range graph {
		sort.Strings(graph[id])
	}
	return graph
}

// Issue is a normalized scan finding, independent of which pass produced
// it, used as the unit proposal generation operates on.
type Issue struct {
	Kind   string // "contradiction", "drift", "dead", "orphan"
	Target string // primary block ID the proposal would act on
	Action string
}

// Issues flattens a ScanResult into proposal-generation candidates, in a
// stable order so repeated scans over unchanged state produce identical
// proposals (spec §8 determinism invariant).
func (r ScanResult) Issues() []Issue {
	var out []Issue
	for _, c := range r.Contradictions {
		out = append(out, Issue{
			Kind: "contradiction", Target: c.DecisionA,
			Action: fmt.Sprintf("resolve contradiction with %s on axis %s (candidate winner %s)", c.DecisionB, c.AxisKey, c.ResolutionWinner),
		})
	}
	for _, d := range r.Drift {
		out = append(out, Issue{Kind: "drift", Target: d.LogRef, Action: "reconcile drifted axis " + d.AxisKey})
	}
	for _, d := range r.Dead {
		out = append(out, Issue{Kind: "dead", Target: d.DecisionID, Action: fmt.Sprintf("review dead decision idle %d days", d.IdleDays)})
	}
	for _, o := range r.Orphans {
		out = append(out, Issue{Kind: "orphan", Target: o.TaskID, Action: "realign orphaned task to an active decision"})
	}
	return out
}
