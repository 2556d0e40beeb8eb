// Package degradation tiers retrieval feature cost against a query
// deadline (spec §4.7, §5). Narrowed from an arbitrary feature-name
// registry toggled by a polled backpressure level, plus grace/restore
// timers, down to three fixed, ordered retrieval tiers keyed by
// deadline pressure, since retrieval has no steady-state load signal
// to sample — only a per-call deadline.
package degradation

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Tier names the feature set a retrieval call is allowed to use.
type Tier string

const (
	// TierFull runs the complete pipeline: rerank, graph boost, context pack.
	TierFull Tier = "full"
	// TierRerankOnly skips the graph booster but still reranks and packs.
	TierRerankOnly Tier = "rerank_only"
	// TierBM25Only skips rerank and graph boost, returning the raw
	// wide-retrieval ranking.
	TierBM25Only Tier = "bm25_only"
)

// Config sets the deadline-pressure fractions at which each tier kicks in.
// Pressure is elapsed/budget; a call with no deadline never degrades.
type Config struct {
	// RerankOnlyAt is the pressure fraction above which graph boost is
	// dropped.
	RerankOnlyAt float64
	// BM25OnlyAt is the pressure fraction above which rerank is also
	// dropped.
	BM25OnlyAt float64
}

// DefaultConfig sheds graph boost first and rerank only once the
// deadline is nearly blown.
func DefaultConfig() Config {
	return Config{RerankOnlyAt: 0.7, BM25OnlyAt: 0.9}
}

// Manager picks a Tier for a retrieval call given its deadline and
// start time, and logs every time it sheds a stage.
type Manager struct {
	config Config
	logger *logrus.Logger
}

func NewManager(config Config, logger *logrus.Logger) *Manager {
	if config.RerankOnlyAt == 0 {
		config.RerankOnlyAt = DefaultConfig().RerankOnlyAt
	}
	if config.BM25OnlyAt == 0 {
		config.BM25OnlyAt = DefaultConfig().BM25OnlyAt
	}
	return &Manager{config: config, logger: logger}
}

// TierFor computes the pressure fraction of elapsed/budget and returns
// the tier it maps to. A zero deadline means no pressure: TierFull. A
// deadline at or before started leaves no budget: TierBM25Only.
func (m *Manager) TierFor(started time.Time, deadline time.Time) Tier {
	if deadline.IsZero() {
		return TierFull
	}
	budget := deadline.Sub(started)
	if budget <= 0 {
		return TierBM25Only
	}
	pressure := time.Since(started).Seconds() / budget.Seconds()

	tier := TierFull
	switch {
	case pressure >= m.config.BM25OnlyAt:
		tier = TierBM25Only
	case pressure >= m.config.RerankOnlyAt:
		tier = TierRerankOnly
	}
	if tier != TierFull && m.logger != nil {
		m.logger.WithFields(logrus.Fields{
			"tier":     string(tier),
			"pressure": pressure,
		}).Warn("retrieval degraded under deadline pressure")
	}
	return tier
}
