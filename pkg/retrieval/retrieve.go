package retrieval

import (
	"time"

	"mem-os/pkg/degradation"
	"mem-os/pkg/types"
)

// defaultDegradation is the tier selector used when a Query caller does
// not supply its own. It carries no logger since tier decisions here
// are reported via Result.Tier, not logged at the library layer.
var defaultDegradation = degradation.NewManager(degradation.DefaultConfig(), nil)

const WideRetrievalLimit = 200

// InsufficientEvidence is the sentinel result returned when the
// abstention gate fires (spec §4.7: "return the sentinel result
// 'insufficient evidence' and do not invoke downstream answerers").
const InsufficientEvidence = "insufficient evidence"

// Result is the outcome of one Query call.
type Result struct {
	Class      Class
	Evidence   []Scored
	Truncated  bool
	Abstention AbstentionResult
	Sentinel   string // set to InsufficientEvidence when Abstention.Abstain
	Tier       degradation.Tier
}

// Options configures a single retrieval call.
type Options struct {
	QuerySpeaker       string
	QueryDate          string
	Deadline           time.Time // zero value means no deadline
	GraphBoostOverride *bool     // nil defers to class.MultiHop auto-enable
	Theta              float64   // 0 means DefaultAbstentionThreshold
	CanRead            func(blockID string) bool // ACL corpus filter, nil means unrestricted
	// Started is the call's start time, used with Deadline to compute
	// degradation pressure. Zero means "now" (no pressure tracked).
	Started time.Time
}

// neighborFields lists the fields a block may hold cross-reference IDs
// in, for the graph booster's 1-hop/2-hop neighbor lookup (spec §4.7:
// "AlignsWith, Supersedes, Dependencies, scope projects").
var neighborFields = []string{"AlignsWith", "Supersedes", "Dependencies", "Scope", "RelatesTo"}

// Corpus is the block set a retrieval engine answers queries against.
type Corpus struct {
	Blocks []*types.Block
	byID   map[string]*types.Block
	Index  *Index
}

// NewCorpus chunks and indexes every block, applying an optional ACL
// filter at index-build time (spec §4.8: "consulted... by retrieval to
// filter corpus").
func NewCorpus(blocks []*types.Block, canRead func(blockID string) bool) *Corpus {
	c := &Corpus{byID: map[string]*types.Block{}}
	var chunks []Chunk
	for _, b := range blocks {
		if canRead != nil && !canRead(b.ID) {
			continue
		}
		c.Blocks = append(c.Blocks, b)
		c.byID[b.ID] = b
		chunks = append(chunks, ChunkBlock(b)...)
	}
	c.Index = Build(chunks)
	return c
}

func (c *Corpus) neighborsOf(blockID string) []string {
	b, ok := c.byID[blockID]
	if !ok {
		return nil
	}
	var out []string
	for _, f := range neighborFields {
		if v, ok := b.Get(f); ok && v != "" {
			out = append(out, v)
		}
	}
	return out
}

// utteranceKinds are block kinds treated as dialog/log entries for the
// dialog-adjacency packing rule.
var utteranceKinds = map[string]bool{
	string(types.KindSignal): true,
}

func isUtteranceKind(kind string) bool {
	return utteranceKinds[kind]
}

// Query runs the full spec §4.7 pipeline: classify, expand, wide
// retrieval, rerank, graph boost, context pack, abstain.
func (c *Corpus) Query(query string, opts Options) Result {
	class := Classify(query)
	stemmed := StemmedTokens(query)
	expanded := Expand(stemmed, class)

	now := opts.Deadline
	if now.IsZero() {
		now = time.Now()
	}

	truncated := false
	if !opts.Deadline.IsZero() && time.Now().After(opts.Deadline) {
		truncated = true
	}

	started := opts.Started
	if started.IsZero() {
		started = time.Now()
	}
	tier := defaultDegradation.TierFor(started, opts.Deadline)

	wide := RetrieveWide(c.Index, expanded, stemmed, class, now, WideRetrievalLimit)

	queryEntities := entitiesOf(query)

	var packed []Scored
	switch tier {
	case degradation.TierBM25Only:
		topK := wide
		if len(topK) > 20 {
			topK = topK[:20]
		}
		packed = Pack(PackContext{Idx: c.Index, IsUtterance: isUtteranceKind}, topK)
	case degradation.TierRerankOnly:
		rc := RerankContext{
			QueryEntities: queryEntities,
			QuerySpeaker:  opts.QuerySpeaker,
			QueryDate:     opts.QueryDate,
			Now:           now,
		}
		reranked := Rerank(rc, wide)
		topK := reranked
		if len(topK) > 20 {
			topK = topK[:20]
		}
		packed = Pack(PackContext{Idx: c.Index, IsUtterance: isUtteranceKind}, topK)
	default:
		rc := RerankContext{
			QueryEntities: queryEntities,
			QuerySpeaker:  opts.QuerySpeaker,
			QueryDate:     opts.QueryDate,
			Now:           now,
		}
		reranked := Rerank(rc, wide)
		topK := reranked
		if len(topK) > 20 {
			topK = topK[:20]
		}
		graphEnabled := class.MultiHop
		if opts.GraphBoostOverride != nil {
			graphEnabled = *opts.GraphBoostOverride
		}
		boosted := GraphBoost(topK, class, graphEnabled, c.neighborsOf, c.Index)
		packed = Pack(PackContext{Idx: c.Index, IsUtterance: isUtteranceKind}, boosted)
	}

	weights := DefaultAbstentionWeights
	theta := opts.Theta
	if theta == 0 {
		theta = DefaultAbstentionThreshold
	}
	abstention := Abstain(query, queryEntities, opts.QuerySpeaker, packed, weights, theta)

	res := Result{Class: class, Evidence: packed, Truncated: truncated, Abstention: abstention, Tier: tier}
	if abstention.Abstain {
		res.Sentinel = InsufficientEvidence
	}
	return res
}
