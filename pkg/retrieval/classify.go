package retrieval

import (
	"regexp"
	"strings"
)

// Class is one rule-based query classification (spec §4.7), a bitset
// since classes are mutually non-exclusive.
type Class struct {
	Temporal   bool
	MultiHop   bool
	Adversarial bool
	SingleHop  bool // true iff none of the above fired
}

var (
	datePattern     = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b|\b\d{1,2}/\d{1,2}\b`)
	ordinalWeekRe   = regexp.MustCompile(`\b(first|second|third|fourth|fifth|1st|2nd|3rd|4th|5th)\s+week\b`)
	temporalWordsRe = regexp.MustCompile(`\b(before|after|when|during)\b`)
	multiHopWordsRe = regexp.MustCompile(`\b(and|then|both)\b`)
	adversarialRe   = regexp.MustCompile(`\bdid\s+\w+\s+really\b|\bis it true that\b|\bdidn't\b|\bnever\b`)
	// capitalizedWordRe finds Capitalized tokens, a cheap named-entity
	// proxy (no NER model available offline; grounded on
	// internal/sinks/timestamp_learner.go's preference for regex heuristics
	// over heavyweight parsing for signals that just gate behavior).
	capitalizedWordRe = regexp.MustCompile(`\b[A-Z][a-zA-Z]+\b`)
)

// Classify applies spec §4.7's rule-based, mutually non-exclusive query
// classification.
func Classify(query string) Class {
	q := query
	lower := strings.ToLower(q)

	temporal := datePattern.MatchString(q) || containsMonth(lower) ||
		ordinalWeekRe.MatchString(lower) || temporalWordsRe.MatchString(lower)

	entities := capitalizedWordRe.FindAllString(q, -1)
	distinctEntities := map[string]bool{}
	for _, e := range entities {
		distinctEntities[strings.ToLower(e)] = true
	}
	multiHop := len(distinctEntities) >= 2 || multiHopWordsRe.MatchString(lower)

	adversarial := adversarialRe.MatchString(lower)

	c := Class{Temporal: temporal, MultiHop: multiHop, Adversarial: adversarial}
	c.SingleHop = !temporal && !multiHop && !adversarial
	return c
}

func containsMonth(lower string) bool {
	for name := range months {
		if len(name) <= 3 {
			continue // abbreviations are too ambiguous as bare substrings
		}
		if strings.Contains(lower, name) {
			return true
		}
	}
	return false
}

// domainSynonyms is spec §4.7's "domain synonym map (auth, db, api,
// deployment, testing, security, performance)", keyed by stemmed term.
var domainSynonyms = map[string][]string{
	"auth":       {"authent", "authoriz", "login", "oauth", "sso"},
	"authent":    {"auth", "login"},
	"db":         {"databas", "postgresql", "mysql", "sql", "datastor"},
	"databas":    {"db", "datastor"},
	"api":        {"endpoint", "rest", "rpc", "interfac"},
	"deploy":     {"releas", "rollout", "ship", "publish"},
	"deployment": {"releas", "rollout", "ship"},
	"test":       {"verif", "validat", "qa", "spec"},
	"secur":      {"auth", "encrypt", "vulnerabl", "cve"},
	"perform":    {"latenc", "throughput", "speed", "benchmark"},
}

// Expand returns the expansion set E(q) (spec §4.7) for a set of stemmed
// query terms: synonym expansion for ordinary queries, or lemma+month
// normalization only (morph_only) for adversarial queries, so
// verification-intent queries don't drift into an unrelated synonym's
// negation trap.
func Expand(stemmedTerms []string, class Class) []string {
	seen := map[string]bool{}
	var out []string
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range stemmedTerms {
		add(t)
	}
	if class.Adversarial {
		return out // morph_only: stems were already lemma/month-normalized by Stem
	}
	for _, t := range stemmedTerms {
		for _, syn := range domainSynonyms[t] {
			add(syn)
		}
	}
	return out
}
