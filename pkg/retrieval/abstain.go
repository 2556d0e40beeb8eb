package retrieval

import "strings"

// DefaultAbstentionThreshold is spec §4.7's default θ: below this
// confidence, the gate returns "insufficient evidence" rather than
// invoking a downstream answerer.
const DefaultAbstentionThreshold = 0.20

// Abstention feature weights. Spec §4.7 specifies "linear combination"
// without naming individual weights; this implementation gives
// entity_overlap and max_score 0.25 each, speaker_coverage and
// evidence_density 0.2 each, and negation balance 0.1 (see DESIGN.md
// Open Question decision), which a deployment can override via
// AbstentionWeights.
var DefaultAbstentionWeights = AbstentionWeights{
	EntityOverlap:    0.25,
	MaxScore:         0.25,
	SpeakerCoverage:  0.2,
	EvidenceDensity:  0.2,
	NegationBalance:  0.1,
}

// AbstentionWeights are the linear-combination coefficients over the
// five confidence features.
type AbstentionWeights struct {
	EntityOverlap   float64
	MaxScore        float64
	SpeakerCoverage float64
	EvidenceDensity float64
	NegationBalance float64
}

// AbstentionResult is the gate's verdict.
type AbstentionResult struct {
	Confidence float64
	Abstain    bool
}

var negationWords = map[string]bool{
	"not": true, "never": true, "no": true, "didn't": true, "isn't": true,
	"wasn't": true, "doesn't": true, "won't": true, "cannot": true, "can't": true,
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "to": true, "in": true,
	"is": true, "it": true, "and": true, "or": true, "for": true, "on": true,
	"at": true, "by": true, "with": true, "as": true, "was": true, "were": true,
}

// negationCount counts negation-bearing tokens in raw (unstemmed) text.
func negationCount(text string) int {
	n := 0
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:\"'")
		if negationWords[w] {
			n++
		}
	}
	return n
}

// evidenceDensity is the fraction of non-stopword tokens across the
// packed evidence set.
func evidenceDensity(packed []Scored) float64 {
	total, nonStop := 0, 0
	for _, sc := range packed {
		for _, t := range strings.Fields(strings.ToLower(sc.Chunk.Text)) {
			total++
			if !stopwords[strings.Trim(t, ".,!?;:\"'")] {
				nonStop++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(nonStop) / float64(total)
}

// Abstain computes the five confidence features over a packed evidence
// set and query context, combines them linearly, and gates on θ.
func Abstain(query string, queryEntities map[string]bool, querySpeaker string, packed []Scored, weights AbstentionWeights, theta float64) AbstentionResult {
	if len(packed) == 0 {
		return AbstentionResult{Confidence: 0, Abstain: true}
	}

	entityOverlap := 0.0
	if len(queryEntities) > 0 {
		hit := 0
		for e := range queryEntities {
			for _, sc := range packed {
				if entitiesOf(sc.Chunk.Text)[e] {
					hit++
					break
				}
			}
		}
		entityOverlap = float64(hit) / float64(len(queryEntities))
	} else {
		entityOverlap = 0.5 // no named entities in query: neutral, neither rewarded nor punished
	}

	maxScore := packed[0].Score
	for _, sc := range packed {
		if sc.Score > maxScore {
			maxScore = sc.Score
		}
	}
	normalizedMax := clamp01(maxScore / 5.0)

	speakerCoverage := 0.5 // no speaker named in query: neutral, neither rewarded nor punished
	if querySpeaker != "" {
		covered := false
		for _, sc := range packed {
			if entitiesOf(sc.Chunk.Text)[strings.ToLower(querySpeaker)] {
				covered = true
				break
			}
		}
		if covered {
			speakerCoverage = 1.0
		} else {
			speakerCoverage = 0
		}
	}

	density := evidenceDensity(packed)

	queryNeg := negationCount(query)
	evidenceNeg := 0
	for _, sc := range packed {
		evidenceNeg += negationCount(sc.Chunk.Text)
	}
	negationBalance := 1.0
	if (queryNeg > 0) != (evidenceNeg > 0) {
		negationBalance = 0 // query asserts/negates a polarity the evidence doesn't reflect
	}

	confidence := weights.EntityOverlap*entityOverlap +
		weights.MaxScore*normalizedMax +
		weights.SpeakerCoverage*speakerCoverage +
		weights.EvidenceDensity*density +
		weights.NegationBalance*negationBalance

	return AbstentionResult{Confidence: confidence, Abstain: confidence < theta}
}
