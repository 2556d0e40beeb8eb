package tracing

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestSamplerP99EmptyIsZero(t *testing.T) {
	s := NewSampler(SamplingConfig{Enabled: true, LatencyThreshold: 100 * time.Millisecond, SampleRate: 1.0}, logrus.New())
	if got := s.P99(); got != 0 {
		t.Fatalf("expected 0 for an empty sampler, got %v", got)
	}
}

func TestSamplerTracksPercentiles(t *testing.T) {
	s := NewSampler(SamplingConfig{Enabled: true, LatencyThreshold: 100 * time.Millisecond, SampleRate: 1.0}, logrus.New())
	for i := 1; i <= 100; i++ {
		s.Record(time.Duration(i) * time.Millisecond)
	}
	if got := s.P50(); got < 40*time.Millisecond || got > 60*time.Millisecond {
		t.Fatalf("expected P50 near 50ms, got %v", got)
	}
	if got := s.P99(); got < 90*time.Millisecond {
		t.Fatalf("expected P99 near the top of the range, got %v", got)
	}
}

func TestSamplerForceSamplesOnlyAboveThreshold(t *testing.T) {
	s := NewSampler(SamplingConfig{Enabled: true, LatencyThreshold: 50 * time.Millisecond, SampleRate: 1.0}, logrus.New())
	for i := 0; i < 10; i++ {
		s.Record(10 * time.Millisecond)
	}
	if s.ShouldForceSample() {
		t.Fatal("latency below threshold should not force sampling")
	}

	for i := 0; i < 10; i++ {
		s.Record(200 * time.Millisecond)
	}
	if !s.ShouldForceSample() {
		t.Fatal("latency above threshold with sample_rate=1.0 should force sampling")
	}
}

func TestSamplerDisabledNeverForceSamples(t *testing.T) {
	s := NewSampler(SamplingConfig{Enabled: false, LatencyThreshold: 0, SampleRate: 1.0}, logrus.New())
	s.Record(5 * time.Second)
	if s.ShouldForceSample() {
		t.Fatal("a disabled sampler must never force sampling")
	}
}
