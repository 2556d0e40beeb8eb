package retrieval

import (
	"regexp"
	"strings"

	"mem-os/pkg/types"
)

// sentenceBoundary matches terminal punctuation followed by whitespace,
// the split point between sentences. The punctuation itself is kept with
// the preceding sentence.
var sentenceBoundary = regexp.MustCompile(`[.!?]+\s+`)

// Chunk is one retrieval-indexable unit: a sliding window of sentences
// from a single field of a single block, carrying enough provenance to
// reconstruct context and to apply field weights/boosts at score time.
type Chunk struct {
	BlockID   string
	Kind      types.BlockKind
	Field     string // field origin tag, e.g. "Statement", "Body"
	Text      string
	Date      string // block's Date field, if any, for temporal boost
	Sentences []string
}

// splitSentences breaks text into trimmed, non-empty sentences, retaining
// each sentence's terminal punctuation.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	locs := sentenceBoundary.FindAllStringIndex(text, -1)
	var out []string
	start := 0
	for _, loc := range locs {
		sentence := strings.TrimSpace(text[start:loc[0]+1])
		if sentence != "" {
			out = append(out, sentence)
		}
		start = loc[1]
	}
	if start < len(text) {
		rest := strings.TrimSpace(text[start:])
		if rest != "" {
			out = append(out, rest)
		}
	}
	return out
}

// ChunkField builds 3-sentence sliding-window chunks with stride 2 from
// one field's text (spec §4.7: "chunk at 3 sentences, stride 2").
// Fields with 3 or fewer sentences produce a single chunk.
func ChunkField(blockID string, kind types.BlockKind, field, date, text string) []Chunk {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}
	const window, stride = 3, 2
	var chunks []Chunk
	for start := 0; start < len(sentences); start += stride {
		end := start + window
		if end > len(sentences) {
			end = len(sentences)
		}
		group := sentences[start:end]
		chunks = append(chunks, Chunk{
			BlockID:   blockID,
			Kind:      kind,
			Field:     field,
			Text:      strings.Join(group, " "),
			Date:      date,
			Sentences: group,
		})
		if end == len(sentences) {
			break
		}
	}
	return chunks
}

// fieldWeight is spec §4.7's field-level BM25F weight table.
var fieldWeight = map[string]float64{
	"Statement": 3.0,
	"Title":     2.5,
	"Name":      2.0,
	"Summary":   1.5,
	"Body":      1.0,
	"Tags":      0.8,
	"Context":   0.5,
}

// FieldWeight returns the configured weight for a field, defaulting to
// Body's weight for any field not in the table.
func FieldWeight(field string) float64 {
	if w, ok := fieldWeight[field]; ok {
		return w
	}
	return fieldWeight["Body"]
}

// indexableFields lists, per block kind, the fields chunked for
// retrieval, in the reference struct-of-consts enumeration style
// (grounded on pkg/types/block.go's per-kind required-field tables).
var indexableFields = map[types.BlockKind][]string{
	types.KindDecision: {"Statement", "Context", "Tags"},
	types.KindTask:     {"Title", "Summary", "Tags"},
	types.KindProject:  {"Name", "Summary", "Context"},
	types.KindPerson:   {"Name", "Summary", "Context"},
	types.KindTool:     {"Name", "Summary", "Context"},
	types.KindIncident: {"Title", "Summary", "Body", "Tags"},
}

// ChunkBlock builds all chunks for a block across its indexable fields.
func ChunkBlock(b *types.Block) []Chunk {
	fields, ok := indexableFields[b.Kind]
	if !ok {
		fields = []string{"Summary", "Body"}
	}
	date, _ := b.Get("Date")
	var out []Chunk
	for _, f := range fields {
		v, ok := b.Get(f)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		out = append(out, ChunkField(b.ID, b.Kind, f, date, v)...)
	}
	return out
}
