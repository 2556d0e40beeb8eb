package types

// QueryClass is the rule-based, mutually non-exclusive-in-evaluation but
// singly-assigned classification spec §4.7 produces for a query.
type QueryClass string

const (
	ClassTemporal    QueryClass = "temporal"
	ClassMultiHop    QueryClass = "multi_hop"
	ClassAdversarial QueryClass = "adversarial"
	ClassSingleHop   QueryClass = "single_hop"
)

// HitOrigin distinguishes lexically-scored hits from hits surfaced purely
// by graph traversal (spec §6.3).
type HitOrigin string

const (
	OriginBM25  HitOrigin = "bm25"
	OriginGraph HitOrigin = "graph"
)

// Hit is one ranked, block-aligned retrieval result (spec §6.3).
type Hit struct {
	BlockID    string
	Kind       BlockKind
	Score      float64
	Fields     map[string]string
	SourceFile string
	Lines      LineRange
	Origin     HitOrigin
}

// AbstentionResult is check_abstention's return value (spec §6.3, §4.7).
type AbstentionResult struct {
	Confidence float64
	Abstain    bool
	Features   map[string]float64
}

// RecallOptions configures a recall() call (spec §6.3).
type RecallOptions struct {
	Limit      int
	ActiveOnly bool
	AgentID    string
	// Graph is nil for "auto" (enabled only when the query classifies as
	// multi_hop), true to force it on, false to force it off.
	Graph *bool
}
