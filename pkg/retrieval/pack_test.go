package retrieval

import (
	"testing"

	"mem-os/pkg/types"
)

func TestPackDialogAdjacencyPullsNeighborUtterance(t *testing.T) {
	text := "Alice raised the concern. Bob responded with a counterproposal. The team moved on. " +
		"A follow-up review was scheduled for next week."
	chunks := ChunkField("SIG-20260101-001", types.KindSignal, "Summary", "", text)
	idx := Build(chunks)
	if len(idx.Chunks) < 2 {
		t.Fatalf("expected at least 2 chunks from sliding window, got %d", len(idx.Chunks))
	}
	topK := []Scored{{ChunkIdx: 1, Chunk: idx.Chunks[1], Score: 1.0}}
	pc := PackContext{Idx: idx, IsUtterance: isUtteranceKind}
	packed := Pack(pc, topK)
	if len(packed) <= len(topK) {
		t.Fatalf("expected dialog adjacency to append a neighboring chunk, got %+v", packed)
	}
}

func TestPackPronounRescueAppendsPreviousSentence(t *testing.T) {
	text := "The team picked PostgreSQL for storage. Performance was a key factor in the decision. " +
		"It was the clear winner given existing tooling. Everyone signed off quickly."
	chunks := ChunkField("D-20260101-001", types.KindDecision, "Context", "", text)
	idx := Build(chunks)
	var target int
	for i, c := range idx.Chunks {
		if len(c.Sentences) > 0 && startsWithBarePronoun(c.Sentences[0]) {
			target = i
		}
	}
	topK := []Scored{{ChunkIdx: target, Chunk: idx.Chunks[target], Score: 1.0}}
	pc := PackContext{Idx: idx}
	packed := Pack(pc, topK)
	if len(packed) <= len(topK) {
		t.Fatalf("expected pronoun rescue to append preceding sentence, got %+v", packed)
	}
}

func TestPackNeverReordersExistingTopK(t *testing.T) {
	chunks := ChunkField("D-1", types.KindDecision, "Statement", "", "Alpha decision text. Beta decision text.")
	idx := Build(chunks)
	topK := []Scored{{ChunkIdx: 0, Chunk: idx.Chunks[0], Score: 5.0}}
	pc := PackContext{Idx: idx}
	packed := Pack(pc, topK)
	if packed[0].ChunkIdx != topK[0].ChunkIdx || packed[0].Score != topK[0].Score {
		t.Fatalf("expected first packed entry to match original top entry, got %+v", packed[0])
	}
}
