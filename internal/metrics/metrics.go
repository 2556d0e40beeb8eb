// Package metrics exposes spec §6.6's observability facade: Prometheus
// counters/gauges/histograms for the apply pipeline, WAL backlog, and
// retrieval core. Grounded on internal/metrics/metrics.go
// (global prometheus.*Vec collectors, safeRegister-once, an HTTP
// server exposing /metrics and /health, plus an EnhancedMetrics loop
// sampling Go runtime stats) — narrowed from log-pipeline counters to
// mem-os's own domain: proposals, receipts, WAL, and retrieval.
package metrics

import (
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	// ProposalsGeneratedTotal counts propose() calls by signal type
	// (spec §4.6's five scan passes: contradiction, drift, dead,
	// orphan, impact).
	ProposalsGeneratedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memos_proposals_generated_total",
			Help: "Total proposals generated, by signal type",
		},
		[]string{"signal_type"},
	)

	// ProposalsAppliedTotal counts apply_proposal outcomes by type and
	// result (committed/rolled_back).
	ProposalsAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memos_proposals_applied_total",
			Help: "Total proposal applications, by signal type and outcome",
		},
		[]string{"signal_type", "outcome"},
	)

	// ProposalsRolledBackTotal counts explicit rollback(receipt_id) calls
	// separately from apply-time automatic rollback.
	ProposalsRolledBackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memos_proposals_rolled_back_total",
			Help: "Total explicit rollbacks, by signal type",
		},
		[]string{"signal_type"},
	)

	// ApplyStageDuration times each of the apply engine's eight pipeline
	// stages (spec §4.5: pre-check, resolve paths, allocate receipt,
	// snapshot, wal begin, execute, post-check, commit/rollback).
	ApplyStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memos_apply_stage_duration_seconds",
			Help:    "Time spent in each apply-pipeline stage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// WALBacklogDepth is the count of WAL entries with a begin but no
	// matching commit/rollback yet — spec §4.3's in-flight mutation count.
	WALBacklogDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memos_wal_backlog_depth",
		Help: "Number of WAL entries awaiting commit or rollback",
	})

	// RetrievalLatency times a full recall(query) call end to end.
	RetrievalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memos_retrieval_latency_seconds",
			Help:    "Time spent serving a recall() query",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"class"}, // query classification: temporal, multi_hop, adversarial, single_hop
	)

	// RetrievalCandidateSetSize records the BM25F wide-retrieval
	// candidate count before rerank/pack/abstain (spec §4.7: wide
	// retrieval fixed at 200).
	RetrievalCandidateSetSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "memos_retrieval_candidate_set_size",
			Help:    "Number of candidate chunks scored before rerank",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 150, 200},
		},
	)

	// AbstentionsTotal counts recall() calls that returned the
	// insufficient-evidence sentinel rather than hits.
	AbstentionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memos_abstentions_total",
		Help: "Total recall() calls that abstained for insufficient evidence",
	})

	// GovernanceModeState reports the active mode as a gauge keyed on
	// mode name (1 = active, 0 = inactive), so one query shows the
	// current state without a separate metric type per mode.
	GovernanceModeState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "memos_governance_mode_state",
			Help: "Active governance mode (1=active) by mode name",
		},
		[]string{"mode"},
	)

	// ErrorsTotal counts errors by component and kind (pkg/errors.Kind),
	// the one ambient error counter every component reports through.
	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memos_errors_total",
			Help: "Total errors, by component and error kind",
		},
		[]string{"component", "kind"},
	)

	// ComponentHealth mirrors health gauge shape,
	// narrowed to mem-os's own subsystems (lock, wal, snapshot,
	// integrity, retrieval).
	ComponentHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "memos_component_health",
			Help: "Health status of mem-os components (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	// IntegrityScanFindings counts findings from the five integrity
	// passes by kind, recorded once per scan.
	IntegrityScanFindings = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "memos_integrity_scan_findings",
			Help: "Findings from the most recent integrity scan, by pass",
		},
		[]string{"pass"}, // contradiction, drift, dead, orphan, impact
	)

	// MemoryUsage and Goroutines mirror runtime-sampling
	// gauges, kept as-is since every long-running Go service benefits
	// from the same baseline process metrics.
	MemoryUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "memos_memory_usage_bytes",
			Help: "Process memory usage in bytes",
		},
		[]string{"type"},
	)
	Goroutines = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memos_goroutines",
		Help: "Number of goroutines",
	})
)

var metricsRegisteredOnce sync.Once

// safeRegister registers a collector, ignoring duplicate-registration
// panics — grounded on safeRegister, needed because
// tests and repeated workspace opens within one process would
// otherwise panic on the second MustRegister.
func safeRegister(collector prometheus.Collector) {
	defer func() {
		recover()
	}()
	prometheus.MustRegister(collector)
}

// Register installs every collector into the default Prometheus
// registry, exactly once per process.
func Register() {
	metricsRegisteredOnce.Do(func() {
		safeRegister(ProposalsGeneratedTotal)
		safeRegister(ProposalsAppliedTotal)
		safeRegister(ProposalsRolledBackTotal)
		safeRegister(ApplyStageDuration)
		safeRegister(WALBacklogDepth)
		safeRegister(RetrievalLatency)
		safeRegister(RetrievalCandidateSetSize)
		safeRegister(AbstentionsTotal)
		safeRegister(GovernanceModeState)
		safeRegister(ErrorsTotal)
		safeRegister(ComponentHealth)
		safeRegister(IntegrityScanFindings)
		safeRegister(MemoryUsage)
		safeRegister(Goroutines)
	})
}

// Server is the HTTP server exposing /metrics and /health, matching
// the reference MetricsServer shape.
type Server struct {
	server *http.Server
	logger *logrus.Logger
}

// NewServer registers every collector and builds a metrics HTTP server
// bound to addr.
func NewServer(addr string, logger *logrus.Logger) *Server {
	Register()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{Addr: addr, Handler: mux},
		logger: logger,
	}
}

// Start runs the metrics server in the background.
func (s *Server) Start() error {
	if s.logger != nil {
		s.logger.WithField("addr", s.server.Addr).Info("starting metrics server")
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.WithError(err).Error("metrics server error")
			}
		}
	}()
	return nil
}

// Stop shuts down the metrics server.
func (s *Server) Stop() error {
	if s.logger != nil {
		s.logger.Info("stopping metrics server")
	}
	return s.server.Close()
}

// RecordProposalGenerated increments the generated-proposals counter.
func RecordProposalGenerated(signalType string) {
	ProposalsGeneratedTotal.WithLabelValues(signalType).Inc()
}

// RecordProposalApplied increments the applied-proposals counter.
func RecordProposalApplied(signalType, outcome string) {
	ProposalsAppliedTotal.WithLabelValues(signalType, outcome).Inc()
}

// RecordProposalRolledBack increments the explicit-rollback counter.
func RecordProposalRolledBack(signalType string) {
	ProposalsRolledBackTotal.WithLabelValues(signalType).Inc()
}

// RecordApplyStage observes one apply-pipeline stage's duration.
func RecordApplyStage(stage string, d time.Duration) {
	ApplyStageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// SetWALBacklogDepth sets the current WAL backlog depth.
func SetWALBacklogDepth(n int) {
	WALBacklogDepth.Set(float64(n))
}

// RecordRetrieval observes a recall() call's latency and candidate-set
// size, classified by query type.
func RecordRetrieval(class string, d time.Duration, candidateCount int) {
	RetrievalLatency.WithLabelValues(class).Observe(d.Seconds())
	RetrievalCandidateSetSize.Observe(float64(candidateCount))
}

// RecordAbstention increments the abstention counter.
func RecordAbstention() {
	AbstentionsTotal.Inc()
}

// SetGovernanceMode reports the active governance mode, zeroing every
// other known mode so exactly one series reads 1 at a time.
func SetGovernanceMode(active string, allModes []string) {
	for _, m := range allModes {
		v := 0.0
		if m == active {
			v = 1.0
		}
		GovernanceModeState.WithLabelValues(m).Set(v)
	}
}

// RecordError increments the error counter for a component/kind pair.
func RecordError(component, kind string) {
	ErrorsTotal.WithLabelValues(component, kind).Inc()
}

// SetComponentHealth reports a component's health status.
func SetComponentHealth(component string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	ComponentHealth.WithLabelValues(component).Set(v)
}

// SetIntegrityScanFindings records the finding count for one pass of
// the most recent integrity scan.
func SetIntegrityScanFindings(pass string, count int) {
	IntegrityScanFindings.WithLabelValues(pass).Set(float64(count))
}

// SampleRuntimeStats updates the process-wide memory/goroutine gauges,
// grounded on EnhancedMetrics.UpdateSystemMetrics.
func SampleRuntimeStats() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("heap_alloc").Set(float64(m.HeapAlloc))
	MemoryUsage.WithLabelValues("heap_sys").Set(float64(m.HeapSys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
	Goroutines.Set(float64(runtime.NumGoroutine()))
}

// RuntimeSampler periodically calls SampleRuntimeStats until stopped,
// grounded on EnhancedMetrics.systemMetricsLoop.
type RuntimeSampler struct {
	interval time.Duration
	stop     chan struct{}
	once     sync.Once
}

// NewRuntimeSampler constructs a sampler at the given interval.
func NewRuntimeSampler(interval time.Duration) *RuntimeSampler {
	return &RuntimeSampler{interval: interval, stop: make(chan struct{})}
}

// Start begins the sampling loop in the background.
func (r *RuntimeSampler) Start() {
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				SampleRuntimeStats()
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop halts the sampling loop.
func (r *RuntimeSampler) Stop() {
	r.once.Do(func() { close(r.stop) })
}

var hostname = func() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}()

// Hostname returns the process hostname, used to label metrics that
// need to disambiguate multiple mem-os processes sharing one scrape
// target (e.g. in a multi-agent fleet sharing a workspace).
func Hostname() string { return hostname }
