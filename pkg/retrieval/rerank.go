package retrieval

import (
	"strings"
	"time"
)

// Rerank signal weights (spec §4.7): "five signals summed with fixed
// weights (tunable, documented)".
const (
	weightSpeakerMatch    = 0.15
	weightTimeProximity   = 0.10
	weightEntityOverlap   = 0.20
	weightBigramCoherence = 0.15
	weightRecencyDecay    = 0.10
)

// RerankContext carries the query-side signals a chunk is compared
// against during reranking.
type RerankContext struct {
	QueryEntities map[string]bool
	QuerySpeaker  string // nonempty if the query names a specific speaker/person
	QueryDate     string // YYYY-MM-DD if the query is date-anchored, else empty
	Now           time.Time
}

// entitiesOf extracts the capitalized-token entity set of a chunk's text,
// the same cheap proxy Classify uses for query entities.
func entitiesOf(text string) map[string]bool {
	out := map[string]bool{}
	for _, m := range capitalizedWordRe.FindAllString(text, -1) {
		out[strings.ToLower(m)] = true
	}
	return out
}

// rerankSignal computes the five weighted signals for one scored chunk
// and returns their sum, added to the base BM25F score to produce the
// final rerank score.
func rerankSignal(rc RerankContext, sc Scored) float64 {
	var total float64

	chunkEntities := entitiesOf(sc.Chunk.Text)
	if rc.QuerySpeaker != "" {
		if chunkEntities[strings.ToLower(rc.QuerySpeaker)] {
			total += weightSpeakerMatch
		} else {
			total -= weightSpeakerMatch
		}
	}

	if rc.QueryDate != "" && sc.Chunk.Date != "" {
		if age, ok := ageDays(sc.Chunk.Date, mustParseOr(rc.QueryDate, rc.Now)); ok {
			if age <= 1 {
				total += weightTimeProximity
			} else {
				total -= weightTimeProximity * clamp01(age/30)
			}
		}
	}

	if len(rc.QueryEntities) > 0 {
		overlap := 0
		for e := range chunkEntities {
			if rc.QueryEntities[e] {
				overlap++
			}
		}
		frac := float64(overlap) / float64(len(rc.QueryEntities))
		total += weightEntityOverlap * clamp01(frac)
	}

	// bigram_coherence: reward chunks whose text itself contains an
	// internal stemmed bigram repeat (a crude coherence proxy; the
	// exact-phrase bonus already lives in Score's bigram bonus term).
	terms := StemmedTokens(sc.Chunk.Text)
	if len(terms) >= 2 {
		repeats := 0
		seen := map[string]bool{}
		for i := 0; i+1 < len(terms); i++ {
			bg := terms[i] + " " + terms[i+1]
			if seen[bg] {
				repeats++
			}
			seen[bg] = true
		}
		total += weightBigramCoherence * clamp01(float64(repeats)/3)
	}

	if sc.Chunk.Date != "" {
		if age, ok := ageDays(sc.Chunk.Date, rc.Now); ok {
			total += weightRecencyDecay * clamp01(1-age/365)
		}
	}

	return total
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func mustParseOr(dateStr string, fallback time.Time) time.Time {
	if t, err := parseDate(dateStr); err == nil {
		return t
	}
	return fallback
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

// Rerank applies the five weighted signals on top of each chunk's BM25F
// score and re-sorts descending, stable on chunk index for determinism.
func Rerank(rc RerankContext, wide []Scored) []Scored {
	out := make([]Scored, len(wide))
	for i, sc := range wide {
		out[i] = Scored{ChunkIdx: sc.ChunkIdx, Chunk: sc.Chunk, Score: sc.Score + rerankSignal(rc, sc)}
	}
	sortScoredDesc(out)
	return out
}

// GraphBoost implements spec §4.7's graph boost: for every block in the
// top-K after rerank, cross-reference neighbors (AlignsWith, Supersedes,
// Dependencies, mentioned BlockIDs) are surfaced at a fraction of the
// source chunk's score — 0.3 at 1-hop, 0.1 at 2-hop — auto-enabled for
// multi_hop queries. neighborsOf supplies a block's direct references.
func GraphBoost(topK []Scored, class Class, enabled bool, neighborsOf func(blockID string) []string, idx *Index) []Scored {
	if !enabled && !class.MultiHop {
		return topK
	}
	byBlock := map[string]float64{}
	for _, sc := range topK {
		if sc.Score > byBlock[sc.Chunk.BlockID] {
			byBlock[sc.Chunk.BlockID] = sc.Score
		}
	}

	boosted := map[string]float64{}
	for blockID, score := range byBlock {
		for _, n1 := range neighborsOf(blockID) {
			addBoost(boosted, n1, score*0.3)
			for _, n2 := range neighborsOf(n1) {
				if n2 == blockID {
					continue
				}
				addBoost(boosted, n2, score*0.1)
			}
		}
	}

	out := append([]Scored(nil), topK...)
	present := map[string]bool{}
	for _, sc := range topK {
		present[sc.Chunk.BlockID] = true
	}
	for i, c := range idx.Chunks {
		if present[c.BlockID] {
			continue
		}
		if boost, ok := boosted[c.BlockID]; ok {
			out = append(out, Scored{ChunkIdx: i, Chunk: c, Score: boost})
			present[c.BlockID] = true
		}
	}
	sortScoredDesc(out)
	return out
}

func addBoost(m map[string]float64, blockID string, amount float64) {
	if amount > m[blockID] {
		m[blockID] = amount
	}
}
