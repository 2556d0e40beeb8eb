package retrieval

import "testing"

func TestClassifyTemporalOnDatePattern(t *testing.T) {
	c := Classify("What did we decide on 2026-01-15?")
	if !c.Temporal {
		t.Fatalf("expected temporal classification for ISO date query")
	}
}

func TestClassifyTemporalOnMonthName(t *testing.T) {
	c := Classify("What happened in January regarding the database?")
	if !c.Temporal {
		t.Fatalf("expected temporal classification for month name query")
	}
}

func TestClassifyTemporalOnBeforeAfter(t *testing.T) {
	c := Classify("What was decided before the migration?")
	if !c.Temporal {
		t.Fatalf("expected temporal classification for 'before'")
	}
}

func TestClassifyMultiHopOnTwoEntities(t *testing.T) {
	c := Classify("Did Alice and Bob agree on the approach?")
	if !c.MultiHop {
		t.Fatalf("expected multi_hop classification for two named entities")
	}
}

func TestClassifyMultiHopOnConjunctionWord(t *testing.T) {
	c := Classify("what happened and then what did we do")
	if !c.MultiHop {
		t.Fatalf("expected multi_hop classification for 'and then'")
	}
}

func TestClassifyAdversarialOnVerificationIntent(t *testing.T) {
	c := Classify("Is it true that we switched databases?")
	if !c.Adversarial {
		t.Fatalf("expected adversarial classification")
	}
}

func TestClassifyAdversarialOnDidntPattern(t *testing.T) {
	c := Classify("Didn't we already decide this?")
	if !c.Adversarial {
		t.Fatalf("expected adversarial classification for didn't")
	}
}

func TestClassifySingleHopWhenNoRulesFire(t *testing.T) {
	c := Classify("What is the database engine?")
	if !c.SingleHop {
		t.Fatalf("expected single_hop when no other class fires")
	}
	if c.Temporal || c.MultiHop || c.Adversarial {
		t.Fatalf("expected no other class to fire, got %+v", c)
	}
}

func TestExpandOrdinaryQueryIncludesSynonyms(t *testing.T) {
	terms := StemmedTokens("auth service")
	expanded := Expand(terms, Class{})
	hasSynonym := false
	for _, e := range expanded {
		if e == "login" || e == "oauth" {
			hasSynonym = true
		}
	}
	if !hasSynonym {
		t.Fatalf("expected domain synonym in expansion, got %v", expanded)
	}
}

func TestExpandAdversarialQueryIsMorphOnly(t *testing.T) {
	terms := StemmedTokens("auth service")
	expanded := Expand(terms, Class{Adversarial: true})
	for _, e := range expanded {
		if e == "login" || e == "oauth" {
			t.Fatalf("expected no synonym expansion for adversarial query, got %v", expanded)
		}
	}
}
