// Package retrieval implements the BM25F retrieval core of spec §4.7:
// chunking, stemming, query classification/expansion, scoring, graph
// boost, context packing, and the abstention gate. Grounded on
// pkg/batching/adaptive_batcher.go (chunk-sizing discipline),
// pkg/workerpool/worker_pool.go (score-then-take-top-N candidate shape;
// the scan itself runs single-threaded), and
// pkg/degradation/manager.go (deadline-driven tiered feature shedding).
package retrieval

import "strings"

// irregulars maps irregular verb forms to their lemma (spec §4.7:
// "irregular verb table").
var irregulars = map[string]string{
	"went": "go", "gone": "go", "said": "say", "saw": "see", "seen": "see",
	"did": "do", "done": "do", "had": "have", "was": "be", "were": "be",
	"been": "be", "made": "make", "took": "take", "taken": "take",
	"came": "come", "knew": "know", "known": "know", "thought": "think",
	"ran": "run", "wrote": "write", "written": "write", "chose": "choose",
	"chosen": "choose", "built": "build", "kept": "keep", "left": "leave",
	"felt": "feel", "told": "tell", "meant": "mean", "brought": "bring",
}

// months maps month names (and standard abbreviations) to their 1-12
// ordinal as a string (spec §4.7: "month-name normalization
// (January→1)").
var months = map[string]string{
	"january": "1", "february": "2", "march": "3", "april": "4", "may": "5",
	"june": "6", "july": "7", "august": "8", "september": "9",
	"october": "10", "november": "11", "december": "12",
	"jan": "1", "feb": "2", "mar": "3", "apr": "4", "jun": "6", "jul": "7",
	"aug": "8", "sep": "9", "sept": "9", "oct": "10", "nov": "11", "dec": "12",
}

// Stem normalizes one lowercase token: month names to their ordinal,
// irregular verbs to their lemma, else a simplified Porter suffix strip
// (spec §4.7: "-ies→y, -ing, -ed, -s, -ly, etc.").
func Stem(token string) string {
	t := strings.ToLower(token)
	if m, ok := months[t]; ok {
		return m
	}
	if lemma, ok := irregulars[t]; ok {
		return lemma
	}
	return stripSuffix(t)
}

func stripSuffix(t string) string {
	switch {
	case strings.HasSuffix(t, "ies") && len(t) > 4:
		return strings.TrimSuffix(t, "ies") + "y"
	case strings.HasSuffix(t, "ing") && len(t) > 5:
		stem := strings.TrimSuffix(t, "ing")
		return restoreConsonant(stem)
	case strings.HasSuffix(t, "ly") && len(t) > 4:
		return strings.TrimSuffix(t, "ly")
	case strings.HasSuffix(t, "ied") && len(t) > 4:
		return strings.TrimSuffix(t, "ied") + "y"
	case strings.HasSuffix(t, "ed") && len(t) > 4:
		stem := strings.TrimSuffix(t, "ed")
		return restoreConsonant(stem)
	case strings.HasSuffix(t, "es") && len(t) > 4:
		return strings.TrimSuffix(t, "es")
	case strings.HasSuffix(t, "s") && !strings.HasSuffix(t, "ss") && len(t) > 3:
		return strings.TrimSuffix(t, "s")
	default:
		return t
	}
}

// restoreConsonant undoes doubled-consonant elision left by -ing/-ed
// stripping (e.g. "stopp" -> "stop"), a small correction on top of the
// suffix table so common verbs don't stem to a nonexistent form.
func restoreConsonant(stem string) string {
	n := len(stem)
	if n >= 2 && stem[n-1] == stem[n-2] && isConsonant(rune(stem[n-1])) {
		return stem[:n-1]
	}
	return stem
}

func isConsonant(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u':
		return false
	default:
		return r >= 'a' && r <= 'z'
	}
}

// Tokenize splits text into lowercase word tokens, discarding
// punctuation.
func Tokenize(text string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// StemmedTokens tokenizes and stems text in one pass.
func StemmedTokens(text string) []string {
	raw := Tokenize(text)
	out := make([]string, len(raw))
	for i, t := range raw {
		out[i] = Stem(t)
	}
	return out
}
