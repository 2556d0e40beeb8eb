package retrieval

import (
	"strings"
)

// leadingPronouns lists the bare third-person pronouns that, opening a
// chunk, trigger the pronoun rescue of spec §4.7 step 3.
var leadingPronouns = map[string]bool{
	"he": true, "she": true, "it": true, "they": true, "him": true,
	"her": true, "them": true, "this": true, "that": true, "these": true,
	"those": true,
}

// PackContext supplies the corpus-order lookups context packing needs:
// the chunk immediately before/after a given chunk within the same
// block+field (for dialog adjacency and pronoun rescue), and each top-K
// chunk's entity set (for entity diversity).
type PackContext struct {
	Idx *Index
	// IsUtterance reports whether a block kind represents dialog/log
	// utterances, where adjacency pulls matter (e.g. daily log entries).
	IsUtterance func(kind string) bool
}

// adjacentChunkIdx finds the chunk immediately preceding (delta=-1) or
// following (delta=+1) sc within the same BlockID+Field, by source order
// in idx.Chunks (chunks are built in field order, sliding-window order,
// so adjacency in the slice mirrors corpus order).
func adjacentChunkIdx(idx *Index, chunkIdx, delta int) (int, bool) {
	c := idx.Chunks[chunkIdx]
	n := chunkIdx + delta
	if n < 0 || n >= len(idx.Chunks) {
		return 0, false
	}
	o := idx.Chunks[n]
	if o.BlockID == c.BlockID && o.Field == c.Field {
		return n, true
	}
	return 0, false
}

// Pack applies spec §4.7's three append-only context-packing rules on top
// of a reranked (and possibly graph-boosted) result set. It never
// reorders the input; it only appends.
func Pack(pc PackContext, topK []Scored) []Scored {
	out := append([]Scored(nil), topK...)
	present := map[int]bool{}
	for _, sc := range out {
		present[sc.ChunkIdx] = true
	}
	appendIfNew := func(idx int, score float64) {
		if !present[idx] {
			present[idx] = true
			out = append(out, Scored{ChunkIdx: idx, Chunk: pc.Idx.Chunks[idx], Score: score})
		}
	}

	// 1. Dialog adjacency.
	for _, sc := range topK {
		if pc.IsUtterance == nil || !pc.IsUtterance(string(sc.Chunk.Kind)) {
			continue
		}
		if prev, ok := adjacentChunkIdx(pc.Idx, sc.ChunkIdx, -1); ok {
			appendIfNew(prev, sc.Score*0.5)
		}
		if next, ok := adjacentChunkIdx(pc.Idx, sc.ChunkIdx, 1); ok {
			appendIfNew(next, sc.Score*0.5)
		}
	}

	// 2. Entity diversity: if the top-3 share a single entity, append the
	// highest-scoring chunk (anywhere in the index, scored by its field
	// weight) mentioning another of the top-3's entities.
	if len(topK) >= 1 {
		top3 := topK
		if len(top3) > 3 {
			top3 = top3[:3]
		}
		entitySets := make([]map[string]bool, len(top3))
		union := map[string]bool{}
		for i, sc := range top3 {
			entitySets[i] = entitiesOf(sc.Chunk.Text)
			for e := range entitySets[i] {
				union[e] = true
			}
		}
		if sharesSingleEntity(entitySets) {
			others := map[string]bool{}
			for e := range union {
				for _, s := range entitySets {
					if !s[e] {
						others[e] = true
						break
					}
				}
			}
			if idx, score, ok := bestChunkWithDistinctEntity(pc.Idx, others, present); ok {
				appendIfNew(idx, score)
			}
		}
	}

	// 3. Pronoun rescue.
	for _, sc := range topK {
		if startsWithBarePronoun(sc.Chunk.Text) {
			if prev, ok := adjacentChunkIdx(pc.Idx, sc.ChunkIdx, -1); ok {
				appendIfNew(prev, sc.Score*0.5)
			}
		}
	}

	return out
}

func sharesSingleEntity(entitySets []map[string]bool) bool {
	if len(entitySets) < 2 {
		return false
	}
	var common map[string]bool
	for _, s := range entitySets {
		if common == nil {
			common = map[string]bool{}
			for e := range s {
				common[e] = true
			}
			continue
		}
		for e := range common {
			if !s[e] {
				delete(common, e)
			}
		}
	}
	return len(common) == 1
}

func bestChunkWithDistinctEntity(idx *Index, want map[string]bool, present map[int]bool) (int, float64, bool) {
	bestIdx, bestScore, found := -1, -1.0, false
	for i, c := range idx.Chunks {
		if present[i] {
			continue
		}
		ents := entitiesOf(c.Text)
		distinct := false
		for e := range ents {
			if want[e] {
				distinct = true
				break
			}
		}
		if !distinct {
			continue
		}
		score := FieldWeight(c.Field)
		if score > bestScore {
			bestIdx, bestScore, found = i, score, true
		}
	}
	return bestIdx, bestScore, found
}

func startsWithBarePronoun(text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	first := strings.ToLower(strings.TrimFunc(fields[0], func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	}))
	return leadingPronouns[first]
}
