package retrieval

import (
	"testing"

	"mem-os/pkg/types"
)

func TestAbstainReturnsTrueForEmptyEvidence(t *testing.T) {
	res := Abstain("what happened", nil, "", nil, DefaultAbstentionWeights, DefaultAbstentionThreshold)
	if !res.Abstain {
		t.Fatalf("expected abstention on empty evidence set")
	}
}

func TestAbstainLowConfidenceBelowThetaAbstains(t *testing.T) {
	weak := ChunkField("D-1", types.KindDecision, "Context", "", "unrelated filler content with no bearing here")
	packed := []Scored{{ChunkIdx: 0, Chunk: weak[0], Score: 0.01}}
	res := Abstain("Did Alice approve the rollout?", map[string]bool{"alice": true}, "Alice", packed, DefaultAbstentionWeights, 0.9)
	if !res.Abstain {
		t.Fatalf("expected abstention given a high theta and weak evidence, got confidence %v", res.Confidence)
	}
}

func TestAbstainHighConfidenceAboveThetaAnswers(t *testing.T) {
	strong := ChunkField("D-1", types.KindDecision, "Statement", "", "Alice approved the production rollout after review.")
	packed := []Scored{{ChunkIdx: 0, Chunk: strong[0], Score: 5.0}}
	res := Abstain("Did Alice approve the rollout?", map[string]bool{"alice": true}, "Alice", packed, DefaultAbstentionWeights, DefaultAbstentionThreshold)
	if res.Abstain {
		t.Fatalf("expected no abstention given strong matching evidence, got confidence %v", res.Confidence)
	}
}

func TestAbstainNegationAsymmetryPenalized(t *testing.T) {
	noNegation := ChunkField("D-1", types.KindDecision, "Statement", "", "Alice approved the rollout plan fully.")
	packedNoNeg := []Scored{{ChunkIdx: 0, Chunk: noNegation[0], Score: 3.0}}
	withoutNegationQuery := Abstain("Did Alice approve the rollout?", map[string]bool{"alice": true}, "Alice", packedNoNeg, DefaultAbstentionWeights, 0)
	withNegationQuery := Abstain("Didn't Alice approve the rollout?", map[string]bool{"alice": true}, "Alice", packedNoNeg, DefaultAbstentionWeights, 0)
	if withNegationQuery.Confidence >= withoutNegationQuery.Confidence {
		t.Fatalf("expected negation asymmetry to reduce confidence: %v vs %v", withNegationQuery.Confidence, withoutNegationQuery.Confidence)
	}
}
