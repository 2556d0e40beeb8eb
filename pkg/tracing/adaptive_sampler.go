package tracing

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SamplingConfig configures latency-adaptive tracing for recall calls:
// normal recalls rely on Config.SampleRate, but a recall whose running
// P99 exceeds LatencyThreshold gets force-sampled at SampleRate so a
// degrading retrieval pipeline stays observable without tracing every
// call all the time.
type SamplingConfig struct {
	Enabled          bool
	LatencyThreshold time.Duration
	SampleRate       float64
	WindowSize       time.Duration
}

// Sampler tracks recent recall latencies and decides when to force
// sampling. Grounded on pkg/tracing/adaptive_sampler.go's
// AdaptiveSampler, narrowed to the single signal mem-os recall latency
// provides (no per-route latency breakdown, unlike a log-sink pipeline
// with many distinct stages).
type Sampler struct {
	config SamplingConfig
	logger *logrus.Logger

	mu        sync.RWMutex
	latencies []time.Duration
}

// NewSampler creates a Sampler and starts its background trim loop.
func NewSampler(config SamplingConfig, logger *logrus.Logger) *Sampler {
	s := &Sampler{config: config, logger: logger, latencies: make([]time.Duration, 0, 1000)}
	if config.Enabled && config.WindowSize > 0 {
		go s.trimLoop()
	}
	return s
}

// ShouldForceSample reports whether the current P99 recall latency
// exceeds the configured threshold, in which case the caller should
// trace this call regardless of its normal sample rate.
func (s *Sampler) ShouldForceSample() bool {
	if !s.config.Enabled {
		return false
	}
	if s.P99() <= s.config.LatencyThreshold {
		return false
	}
	return rand.Float64() < s.config.SampleRate
}

// Record adds a recall latency observation, trimming the oldest entries
// once the sample buffer exceeds 10x its initial capacity.
func (s *Sampler) Record(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies = append(s.latencies, d)
	if len(s.latencies) > 10000 {
		s.latencies = s.latencies[1000:]
	}
}

// P99 returns the approximate 99th-percentile recorded latency.
func (s *Sampler) P99() time.Duration { return s.percentile(0.99) }

// P50 returns the approximate median recorded latency.
func (s *Sampler) P50() time.Duration { return s.percentile(0.50) }

func (s *Sampler) percentile(p float64) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.latencies) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), s.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// trimLoop periodically bounds the latency buffer so a long-lived
// workspace process doesn't grow it unbounded.
func (s *Sampler) trimLoop() {
	ticker := time.NewTicker(s.config.WindowSize)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		if len(s.latencies) > 5000 {
			s.latencies = s.latencies[len(s.latencies)-5000:]
		}
		s.mu.Unlock()
	}
}
