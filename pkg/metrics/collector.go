package metrics

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mev-engine/solana-mev-pipeline/pkg/types"
)

// StrategyMetrics is the per-kind rollup.
type StrategyMetrics struct {
	Detected    uint64  `json:"detected"`
	Executed    uint64  `json:"executed"`
	Succeeded   uint64  `json:"succeeded"`
	Failed      uint64  `json:"failed"`
	Rejected    uint64  `json:"rejected"`
	ProfitSOL   float64 `json:"profitSol"`
	FeesPaidSOL float64 `json:"feesPaidSol"`
	TipsPaidSOL float64 `json:"tipsPaidSol"`
	SuccessRate float64 `json:"successRate"`
}

// EndpointMetrics is the per-endpoint rollup of raw call outcomes.
type EndpointMetrics struct {
	Calls       uint64        `json:"calls"`
	Failures    uint64        `json:"failures"`
	AvgLatency  time.Duration `json:"avgLatency"`
	SuccessRate float64       `json:"successRate"`
}

// SystemMetrics is the top-level snapshot.
type SystemMetrics struct {
	StartedAt         time.Time                                  `json:"startedAt"`
	BalanceSOL        float64                                    `json:"balanceSol"`
	TotalProfitSOL    float64                                    `json:"totalProfitSol"`
	TotalFeesSOL      float64                                    `json:"totalFeesSol"`
	TotalTipsSOL      float64                                    `json:"totalTipsSol"`
	Opportunities     uint64                                     `json:"opportunities"`
	Executions        uint64                                     `json:"executions"`
	Rejections        uint64                                     `json:"rejections"`
	Strategies        map[types.OpportunityType]*StrategyMetrics `json:"strategies"`
	Endpoints         map[string]*EndpointMetrics                `json:"endpoints"`
	RejectionsByStage map[string]uint64                          `json:"rejectionsByStage"`
	LastUpdated       time.Time                                  `json:"lastUpdated"`
}

// prometheusMetrics bundles the exported collectors.
type prometheusMetrics struct {
	opportunitiesDetected *prometheus.CounterVec
	executionsTotal       *prometheus.CounterVec
	rejectionsTotal       *prometheus.CounterVec
	profitTotal           prometheus.Gauge
	balance               prometheus.Gauge
	executionDuration     prometheus.Histogram
	endpointLatency       *prometheus.HistogramVec
	endpointFailures      *prometheus.CounterVec
}

// Collector aggregates pipeline outcomes. Purely observational: it never
// blocks or rejects a pipeline stage.
type Collector struct {
	mu   sync.RWMutex
	prom *prometheusMetrics

	startedAt         time.Time
	balanceSOL        float64
	totalProfitSOL    float64
	totalFeesSOL      float64
	totalTipsSOL      float64
	opportunities     uint64
	executions        uint64
	rejections        uint64
	strategies        map[types.OpportunityType]*StrategyMetrics
	endpoints         map[string]*endpointAccumulator
	rejectionsByStage map[string]uint64
}

type endpointAccumulator struct {
	calls        uint64
	failures     uint64
	totalLatency time.Duration
}

// NewCollector creates a collector registered on the default registry.
func NewCollector() *Collector {
	return NewCollectorWithRegistry(nil)
}

// NewCollectorWithRegistry creates a collector on a custom registry. Tests
// use this to avoid duplicate registration across cases.
func NewCollectorWithRegistry(registry *prometheus.Registry) *Collector {
	factory := promauto.With(prometheus.DefaultRegisterer)
	if registry != nil {
		factory = promauto.With(registry)
	}

	c := &Collector{
		startedAt:         time.Now(),
		strategies:        make(map[types.OpportunityType]*StrategyMetrics),
		endpoints:         make(map[string]*endpointAccumulator),
		rejectionsByStage: make(map[string]uint64),
	}
	for _, kind := range types.AllOpportunityTypes {
		c.strategies[kind] = &StrategyMetrics{}
	}

	c.prom = &prometheusMetrics{
		opportunitiesDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mev_opportunities_detected_total",
			Help: "Opportunities detected by strategy kind",
		}, []string{"strategy"}),
		executionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mev_executions_total",
			Help: "Execution attempts by strategy kind and outcome",
		}, []string{"strategy", "outcome"}),
		rejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mev_rejections_total",
			Help: "Pipeline rejections by strategy kind and stage",
		}, []string{"strategy", "stage"}),
		profitTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mev_total_profit_sol",
			Help: "Cumulative realized profit in SOL",
		}),
		balance: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mev_wallet_balance_sol",
			Help: "Current tracked wallet balance in SOL",
		}),
		executionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mev_execution_duration_seconds",
			Help:    "End-to-end execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		endpointLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mev_endpoint_latency_seconds",
			Help:    "RPC call latency by endpoint",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		endpointFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mev_endpoint_failures_total",
			Help: "RPC call failures by endpoint",
		}, []string{"endpoint"}),
	}
	return c
}

// RecordOpportunity counts one detected opportunity.
func (c *Collector) RecordOpportunity(kind types.OpportunityType) {
	c.mu.Lock()
	c.opportunities++
	if s, ok := c.strategies[kind]; ok {
		s.Detected++
	}
	c.mu.Unlock()

	c.prom.opportunitiesDetected.WithLabelValues(string(kind)).Inc()
}

// RecordRejection counts one pipeline rejection at a named stage.
func (c *Collector) RecordRejection(kind types.OpportunityType, stage string) {
	c.mu.Lock()
	c.rejections++
	c.rejectionsByStage[stage]++
	if s, ok := c.strategies[kind]; ok {
		s.Rejected++
	}
	c.mu.Unlock()

	c.prom.rejectionsTotal.WithLabelValues(string(kind), stage).Inc()
}

// RecordResult folds one terminal strategy result into the rollups.
func (c *Collector) RecordResult(result *types.StrategyResult) {
	if result == nil {
		return
	}

	c.mu.Lock()
	c.executions++
	c.totalProfitSOL += result.ProfitSOL
	c.totalFeesSOL += result.FeesPaidSOL
	c.totalTipsSOL += result.TipPaidSOL

	if s, ok := c.strategies[result.Strategy]; ok {
		s.Executed++
		s.ProfitSOL += result.ProfitSOL
		s.FeesPaidSOL += result.FeesPaidSOL
		s.TipsPaidSOL += result.TipPaidSOL
		if result.Success {
			s.Succeeded++
		} else {
			s.Failed++
		}
		if s.Executed > 0 {
			s.SuccessRate = float64(s.Succeeded) / float64(s.Executed)
		}
	}
	profit := c.totalProfitSOL
	c.mu.Unlock()

	outcome := "failure"
	if result.Success {
		outcome = "success"
	}
	c.prom.executionsTotal.WithLabelValues(string(result.Strategy), outcome).Inc()
	c.prom.executionDuration.Observe(result.ExecutionTime.Seconds())
	c.prom.profitTotal.Set(profit)
}

// RecordEndpointCall folds one raw RPC outcome into the per-endpoint rollup.
func (c *Collector) RecordEndpointCall(endpoint string, latency time.Duration, success bool) {
	c.mu.Lock()
	acc, ok := c.endpoints[endpoint]
	if !ok {
		acc = &endpointAccumulator{}
		c.endpoints[endpoint] = acc
	}
	acc.calls++
	acc.totalLatency += latency
	if !success {
		acc.failures++
	}
	c.mu.Unlock()

	c.prom.endpointLatency.WithLabelValues(endpoint).Observe(latency.Seconds())
	if !success {
		c.prom.endpointFailures.WithLabelValues(endpoint).Inc()
	}
}

// UpdateBalance records the latest tracked wallet balance.
func (c *Collector) UpdateBalance(balanceSOL float64) {
	c.mu.Lock()
	c.balanceSOL = balanceSOL
	c.mu.Unlock()

	c.prom.balance.Set(balanceSOL)
}

// Snapshot returns a point-in-time copy of every rollup.
func (c *Collector) Snapshot() *SystemMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := &SystemMetrics{
		StartedAt:         c.startedAt,
		BalanceSOL:        c.balanceSOL,
		TotalProfitSOL:    c.totalProfitSOL,
		TotalFeesSOL:      c.totalFeesSOL,
		TotalTipsSOL:      c.totalTipsSOL,
		Opportunities:     c.opportunities,
		Executions:        c.executions,
		Rejections:        c.rejections,
		Strategies:        make(map[types.OpportunityType]*StrategyMetrics, len(c.strategies)),
		Endpoints:         make(map[string]*EndpointMetrics, len(c.endpoints)),
		RejectionsByStage: make(map[string]uint64, len(c.rejectionsByStage)),
		LastUpdated:       time.Now(),
	}
	for kind, s := range c.strategies {
		copied := *s
		snap.Strategies[kind] = &copied
	}
	for name, acc := range c.endpoints {
		em := &EndpointMetrics{Calls: acc.calls, Failures: acc.failures}
		if acc.calls > 0 {
			em.AvgLatency = acc.totalLatency / time.Duration(acc.calls)
			em.SuccessRate = float64(acc.calls-acc.failures) / float64(acc.calls)
		}
		snap.Endpoints[name] = em
	}
	for stage, n := range c.rejectionsByStage {
		snap.RejectionsByStage[stage] = n
	}
	return snap
}

// ExportJSON serializes the snapshot as a structured document.
func (c *Collector) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(c.Snapshot(), "", "  ")
}

// SuccessRate returns the global execution success rate, 1.0 when idle.
func (c *Collector) SuccessRate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.executions == 0 {
		return 1.0
	}
	var succeeded uint64
	for _, s := range c.strategies {
		succeeded += s.Succeeded
	}
	return float64(succeeded) / float64(c.executions)
}
