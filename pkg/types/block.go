// Package types holds the core data model shared across every mem-os
// component: blocks, constraint signatures, proposals, receipts, and the
// WAL record shape. Nothing in this package touches the filesystem.
package types

import "regexp"

// BlockKind is the closed set of prefixes the block ID grammar admits.
type BlockKind string

const (
	KindDecision    BlockKind = "D"
	KindTask        BlockKind = "T"
	KindProject     BlockKind = "PRJ"
	KindPerson      BlockKind = "PER"
	KindTool        BlockKind = "TOOL"
	KindIncident    BlockKind = "INC"
	KindContradiction BlockKind = "C"
	KindDriftRef    BlockKind = "DREF"
	KindSignal      BlockKind = "SIG"
	KindProposal    BlockKind = "P"
	KindImpact      BlockKind = "I"
	KindGeneric     BlockKind = "B"
	KindSnapshotRef BlockKind = "S"
)

// KindPrefixes lists every recognized prefix in grammar-match priority
// order: longer prefixes first so "PRJ" doesn't get shadowed by a
// hypothetical single-letter match.
var KindPrefixes = []BlockKind{
	KindProject, KindPerson, KindTool, KindIncident, KindDriftRef, KindSignal,
	KindContradiction, KindDecision, KindTask, KindProposal, KindImpact,
	KindGeneric, KindSnapshotRef,
}

// idPattern matches `Prefix[-YYYYMMDD]-NNN`.
var idPattern = regexp.MustCompile(`^(PRJ|PER|TOOL|INC|DREF|SIG|D|T|C|P|I|B|S)(-(\d{8}))?-(\d{3})$`)

// ParsedID is the decomposition of a BlockID per the grammar in spec §3.1.
type ParsedID struct {
	Raw      string
	Kind     BlockKind
	Date     string // YYYYMMDD, empty if the ID carries none
	Counter  string // NNN, zero-padded
}

// ParseBlockID decomposes a raw ID string. ok is false for any string that
// does not match the grammar; callers treat that as a malformed ID (the
// parser drops the owning block, per spec §4.1).
func ParseBlockID(raw string) (ParsedID, bool) {
	m := idPattern.FindStringSubmatch(raw)
	if m == nil {
		return ParsedID{}, false
	}
	return ParsedID{Raw: raw, Kind: BlockKind(m[1]), Date: m[3], Counter: m[4]}, true
}

// RequiredFields returns the keys that must be present for a block of the
// given kind to be structurally valid (spec §3.1: "Required fields by kind
// are fixed"). Decision and Task are named explicitly in the spec; the
// remaining kinds follow the same Date/Status/<name-field> shape, which is
// this implementation's resolution of that "etc." (see DESIGN.md).
func RequiredFields(kind BlockKind) []string {
	switch kind {
	case KindDecision:
		return []string{"Date", "Status", "Statement"}
	case KindTask:
		return []string{"Date", "Status", "Title"}
	case KindProject, KindPerson, KindTool, KindIncident:
		return []string{"Date", "Status", "Name"}
	case KindSignal:
		return []string{"Date", "Status", "Summary"}
	case KindProposal:
		return []string{"Date", "Status", "Type", "Target", "Action", "Reason"}
	case KindDriftRef, KindContradiction, KindImpact:
		return []string{"Date"}
	default:
		return []string{"Date", "Status"}
	}
}

// StatusEnum returns the closed set of valid Status values for a kind.
func StatusEnum(kind BlockKind) []string {
	switch kind {
	case KindDecision:
		return []string{"active", "superseded", "archived"}
	case KindTask:
		return []string{"open", "in_progress", "blocked", "done", "archived"}
	case KindProject, KindPerson, KindTool, KindIncident:
		return []string{"active", "archived"}
	case KindSignal:
		return []string{"open", "acknowledged", "resolved"}
	case KindProposal:
		return []string{"pending", "approved", "applied", "rejected", "deferred", "failed"}
	default:
		return nil
	}
}

// LineRange is the 1-indexed, inclusive span a block occupies in its
// source file.
type LineRange struct {
	Start int
	End   int
}

// Field is one Key: Value pair. Blocks keep an ordered slice of these
// (rather than a bare map) so re-serialization preserves insertion order,
// per spec §3.1's round-trip invariant.
type Field struct {
	Key   string
	Value string
}

// Block is a typed, IDed markdown record with an ordered field map and,
// for decisions, zero or more ConstraintSignatures.
type Block struct {
	Kind        BlockKind
	ID          string
	SourceFile  string
	Lines       LineRange
	Fields      []Field
	Signatures  []ConstraintSignature
}

// Get returns a field's value and whether it was present. Only the first
// occurrence of a duplicate key is ever stored (spec §4.1).
func (b *Block) Get(key string) (string, bool) {
	for _, f := range b.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Set inserts or overwrites a field, preserving its original position if
// it already existed, else appending.
func (b *Block) Set(key, value string) {
	for i, f := range b.Fields {
		if f.Key == key {
			b.Fields[i].Value = value
			return
		}
	}
	b.Fields = append(b.Fields, Field{Key: key, Value: value})
}

// Status is a convenience accessor over the Status field.
func (b *Block) Status() string {
	v, _ := b.Get("Status")
	return v
}

// Clone deep-copies a block so callers can mutate a working copy (e.g. the
// apply engine flipping Status on a superseded decision) without
// disturbing the parsed arena.
func (b *Block) Clone() *Block {
	out := &Block{
		Kind:       b.Kind,
		ID:         b.ID,
		SourceFile: b.SourceFile,
		Lines:      b.Lines,
		Fields:     append([]Field(nil), b.Fields...),
		Signatures: append([]ConstraintSignature(nil), b.Signatures...),
	}
	return out
}
