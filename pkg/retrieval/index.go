package retrieval

import (
	"sort"
	"strings"
)

// postingsList is the set of chunk indices a stemmed term (or bigram)
// appears in, with per-chunk term frequency.
type postingsList map[int]int

// Index is the in-memory inverted index over a corpus's chunks, built
// fresh on each workspace open (spec §4.7 doesn't require persistence
// across runs; re-chunking on open keeps the index trivially consistent
// with the blocks on disk, grounded on
// pkg/batching/adaptive_batcher.go's pattern of rebuilding working state
// from the latest input rather than caching across restarts).
type Index struct {
	Chunks    []Chunk
	unigrams  map[string]postingsList
	bigrams   map[string]postingsList
	fieldLen  map[int]int     // chunk index -> term count, for BM25F length normalization
	avgFieldLen map[string]float64 // field name -> average chunk length across chunks of that field
}

// Build tokenizes and stems every chunk, populating the unigram and
// bigram postings lists plus the per-field average length statistics
// BM25F's length-normalization term needs.
func Build(chunks []Chunk) *Index {
	idx := &Index{
		Chunks:   chunks,
		unigrams: map[string]postingsList{},
		bigrams:  map[string]postingsList{},
		fieldLen: map[int]int{},
	}
	fieldTotals := map[string]int{}
	fieldCounts := map[string]int{}

	for i, c := range chunks {
		terms := StemmedTokens(c.Text)
		idx.fieldLen[i] = len(terms)
		fieldTotals[c.Field] += len(terms)
		fieldCounts[c.Field]++

		for _, term := range terms {
			idx.addUnigram(term, i)
		}
		for j := 0; j+1 < len(terms); j++ {
			bg := terms[j] + " " + terms[j+1]
			idx.addBigram(bg, i)
		}
	}

	idx.avgFieldLen = map[string]float64{}
	for field, total := range fieldTotals {
		if fieldCounts[field] > 0 {
			idx.avgFieldLen[field] = float64(total) / float64(fieldCounts[field])
		}
	}
	return idx
}

func (idx *Index) addUnigram(term string, chunkIdx int) {
	pl, ok := idx.unigrams[term]
	if !ok {
		pl = postingsList{}
		idx.unigrams[term] = pl
	}
	pl[chunkIdx]++
}

func (idx *Index) addBigram(bg string, chunkIdx int) {
	pl, ok := idx.bigrams[bg]
	if !ok {
		pl = postingsList{}
		idx.bigrams[bg] = pl
	}
	pl[chunkIdx]++
}

// DocFreq returns the number of chunks a stemmed term appears in.
func (idx *Index) DocFreq(term string) int {
	return len(idx.unigrams[term])
}

// NumChunks is the index's corpus size, for IDF computation.
func (idx *Index) NumChunks() int {
	return len(idx.Chunks)
}

// candidateChunks returns the set of chunk indices containing at least
// one query term, the wide-retrieval candidate pool before scoring.
func (idx *Index) candidateChunks(terms []string) []int {
	seen := map[int]bool{}
	for _, t := range terms {
		for i := range idx.unigrams[t] {
			seen[i] = true
		}
	}
	out := make([]int, 0, len(seen))
	for i := range seen {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// hasBigram reports whether a chunk contains a specific stemmed bigram,
// for the phrase-bonus term in scoring.
func (idx *Index) hasBigram(bg string, chunkIdx int) bool {
	_, ok := idx.bigrams[bg][chunkIdx]
	return ok
}

// queryBigrams builds the adjacent stemmed-term bigrams of a query's
// terms, in the same form the index stores them.
func queryBigrams(terms []string) []string {
	var out []string
	for i := 0; i+1 < len(terms); i++ {
		out = append(out, terms[i]+" "+terms[i+1])
	}
	return out
}

// blockIDsOf returns the distinct block IDs a set of chunk indices came
// from, in stable order — used by the graph booster and context packer.
func (idx *Index) blockIDsOf(chunkIdxs []int) []string {
	seen := map[string]bool{}
	var out []string
	for _, i := range chunkIdxs {
		id := idx.Chunks[i].BlockID
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func normalizeQuery(q string) string {
	return strings.TrimSpace(strings.ToLower(q))
}
