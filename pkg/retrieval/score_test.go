package retrieval

import (
	"testing"
	"time"

	"mem-os/pkg/types"
)

func TestTermScoreZeroWhenTermAbsent(t *testing.T) {
	chunks := ChunkField("D-1", types.KindDecision, "Statement", "", "Use PostgreSQL for storage.")
	idx := Build(chunks)
	if s := termScore(idx, "mysql", 0); s != 0 {
		t.Fatalf("expected zero score for absent term, got %v", s)
	}
}

func TestTermScorePositiveWhenTermPresent(t *testing.T) {
	chunks := ChunkField("D-1", types.KindDecision, "Statement", "", "Use PostgreSQL for storage.")
	idx := Build(chunks)
	if s := termScore(idx, "postgresql", 0); s <= 0 {
		t.Fatalf("expected positive score for present term, got %v", s)
	}
}

func TestFieldWeightAffectsScore(t *testing.T) {
	statement := ChunkField("D-1", types.KindDecision, "Statement", "", "We use PostgreSQL.")
	body := ChunkField("D-2", types.KindIncident, "Body", "", "We use PostgreSQL.")
	idx := Build(append(statement, body...))
	sStatement := termScore(idx, "postgresql", 0)
	sBody := termScore(idx, "postgresql", 1)
	if sStatement <= sBody {
		t.Fatalf("expected Statement-weighted score to exceed Body-weighted score: %v vs %v", sStatement, sBody)
	}
}

func TestScoreAppliesBigramBonus(t *testing.T) {
	chunks := ChunkField("D-1", types.KindDecision, "Statement", "", "Use PostgreSQL database engine.")
	idx := Build(chunks)
	terms := []string{"postgresql", "database"}
	bigram := []string{"postgresql database"}
	withBigram := Score(idx, terms, bigram, Class{}, time.Now(), 0)
	withoutBigram := Score(idx, terms, nil, Class{}, time.Now(), 0)
	if withBigram <= withoutBigram {
		t.Fatalf("expected bigram bonus to increase score: %v vs %v", withBigram, withoutBigram)
	}
}

func TestScoreAppliesTemporalDecay(t *testing.T) {
	recent := ChunkField("D-1", types.KindDecision, "Statement", "2026-07-01", "Use PostgreSQL.")
	old := ChunkField("D-2", types.KindDecision, "Statement", "2020-01-01", "Use PostgreSQL.")
	idx := Build(append(recent, old...))
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	sRecent := Score(idx, []string{"postgresql"}, nil, Class{Temporal: true}, now, 0)
	sOld := Score(idx, []string{"postgresql"}, nil, Class{Temporal: true}, now, 1)
	if sRecent <= sOld {
		t.Fatalf("expected recency decay to favor recent chunk: %v vs %v", sRecent, sOld)
	}
}

func TestRetrieveWideRespectsLimit(t *testing.T) {
	var chunks []Chunk
	for i := 0; i < 10; i++ {
		chunks = append(chunks, ChunkField("D-1", types.KindDecision, "Statement", "", "We use PostgreSQL for storage.")...)
	}
	idx := Build(chunks)
	results := RetrieveWide(idx, []string{"postgresql"}, []string{"postgresql"}, Class{}, time.Now(), 3)
	if len(results) != 3 {
		t.Fatalf("expected limit of 3, got %d", len(results))
	}
}
