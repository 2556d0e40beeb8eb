package types

import "time"

// ProposalType is the closed set of staged mutation kinds (spec §3.3).
type ProposalType string

const (
	ProposalNewDecision ProposalType = "new_decision"
	ProposalNewTask     ProposalType = "new_task"
	ProposalSupersede   ProposalType = "supersede"
	ProposalStatusChange ProposalType = "status_change"
	ProposalMerge       ProposalType = "merge"
	ProposalArchive     ProposalType = "archive"
)

// ProposalStatus is the lifecycle state of a staged proposal.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalApproved ProposalStatus = "approved"
	ProposalApplied  ProposalStatus = "applied"
	ProposalRejected ProposalStatus = "rejected"
	ProposalDeferred ProposalStatus = "deferred"
	ProposalFailed   ProposalStatus = "failed"
)

// Proposal is a staged mutation, itself persisted as a Block with prefix
// "P" in intelligence/proposed/ (spec §3.3).
type Proposal struct {
	ID     string
	Type   ProposalType
	Target string // BlockID the proposal acts on
	Action string // free-form description of the mutation to perform
	Reason string
	Status ProposalStatus
	Date   time.Time

	// TouchedPaths are the files the proposal's mutation will write.
	// Resolved by the apply engine at pre-check time, not stored on disk.
	TouchedPaths []string `json:"-"`
}

// ToBlock serializes the proposal as a Block for persistence under
// intelligence/proposed/.
func (p Proposal) ToBlock() *Block {
	b := &Block{Kind: KindProposal, ID: p.ID}
	b.Set("Date", p.Date.Format("2006-01-02"))
	b.Set("Status", string(p.Status))
	b.Set("Type", string(p.Type))
	b.Set("Target", p.Target)
	b.Set("Action", p.Action)
	b.Set("Reason", p.Reason)
	return b
}

// ProposalFromBlock reconstructs a Proposal from its persisted Block form.
func ProposalFromBlock(b *Block) Proposal {
	p := Proposal{ID: b.ID}
	if v, ok := b.Get("Date"); ok {
		p.Date, _ = time.Parse("2006-01-02", v)
	}
	if v, ok := b.Get("Status"); ok {
		p.Status = ProposalStatus(v)
	}
	if v, ok := b.Get("Type"); ok {
		p.Type = ProposalType(v)
	}
	p.Target, _ = b.Get("Target")
	p.Action, _ = b.Get("Action")
	p.Reason, _ = b.Get("Reason")
	return p
}

// ReceiptResult is the outcome of one apply attempt (spec §3.4).
type ReceiptResult string

const (
	ResultApplied    ReceiptResult = "applied"
	ResultRolledBack ReceiptResult = "rolled_back"
	ResultRejected   ReceiptResult = "rejected"
)

// Receipt records one apply attempt, written to intelligence/AUDIT.md.
// SnapshotID doubles as the receipt ID (spec §3.4: "keyed by a monotonic
// ReceiptID"), since exactly one snapshot is captured per apply attempt.
type Receipt struct {
	Date       time.Time
	ProposalID string
	Action     string
	Result     ReceiptResult
	SnapshotID string
	Diff       string   // optional, only populated when a caller requested one
	Paths      []string // paths touched by this attempt
	Cause      string   // populated on ResultRolledBack/ResultRejected
}
