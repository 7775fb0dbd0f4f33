package interfaces

import (
	"context"
	"time"

	"github.com/mev-engine/solana-mev-pipeline/pkg/types"
)

// FeeEstimate is the fee model's output for one candidate execution.
// All SOL-denominated fields are in whole SOL.
type FeeEstimate struct {
	BaseFeeSOL       float64 `json:"baseFeeSol"`
	PriorityFeeSOL   float64 `json:"priorityFeeSol"`
	ComputeUnitPrice uint64  `json:"computeUnitPrice"`
	ComputeUnits     uint64  `json:"computeUnits"`
}

// TotalSOL is the summed execution fee excluding any tip.
func (f *FeeEstimate) TotalSOL() float64 {
	return f.BaseFeeSOL + f.PriorityFeeSOL
}

// CompetitionLevel buckets how contested block space currently is,
// derived from recent prioritization fee samples.
type CompetitionLevel int

const (
	CompetitionLow CompetitionLevel = iota
	CompetitionMedium
	CompetitionHigh
	CompetitionVeryHigh
)

func (c CompetitionLevel) String() string {
	switch c {
	case CompetitionLow:
		return "low"
	case CompetitionMedium:
		return "medium"
	case CompetitionHigh:
		return "high"
	case CompetitionVeryHigh:
		return "very_high"
	}
	return "unknown"
}

// ProfitabilityResult is the fee-only profitability screen for one candidate:
// execution fees plus the safety margin against the expected profit, before
// any tip or slippage modeling.
type ProfitabilityResult struct {
	Estimate     *FeeEstimate `json:"estimate"`
	TotalCostSOL float64      `json:"totalCostSol"`
	NetProfitSOL float64      `json:"netProfitSol"`
	IsProfitable bool         `json:"isProfitable"`
}

// FeeEstimator derives fee estimates from recent network fee samples with
// conservative fallbacks. Estimation never fails the caller.
type FeeEstimator interface {
	Estimate(ctx context.Context, opportunityValue float64) *FeeEstimate
	Competition(ctx context.Context) CompetitionLevel
	AdjustFeeStrategy(success bool, executionTime time.Duration)

	// Profitability screens an expected profit against current execution
	// costs and the safety margin. Carries the underlying estimate so the
	// caller pays for one sample fetch, not two.
	Profitability(ctx context.Context, expectedProfitSOL, opportunityValue float64) *ProfitabilityResult
}

// TipResult carries one tip computation: amount, destination, how confident
// the optimizer is in the amount, and the expected inclusion probability.
// Recomputed per opportunity; never cached across opportunities.
type TipResult struct {
	TipSOL              float64 `json:"tipSol"`
	TipAccount          string  `json:"tipAccount"`
	Confidence          float64 `json:"confidence"`
	ExpectedSuccessRate float64 `json:"expectedSuccessRate"`
}

// BundleTiming is the submission pacing derived from measured endpoint
// latency. The retry budget is tip-dependent and lives with the tip, not here.
type BundleTiming struct {
	SubmitDelay     time.Duration `json:"submitDelay"`
	PropagationWait time.Duration `json:"propagationWait"`
}

// TipOptimizer computes priority tips and self-tunes from outcome history.
type TipOptimizer interface {
	OptimalTip(ctx context.Context, opportunityValue, congestion, competition float64) *TipResult
	RecordTipResult(tipSOL float64, success bool)
	AdjustFromHistory()
	ShouldFallback(result *TipResult, altExpectedProfit float64) bool
	Timing() *BundleTiming
}

// ScenarioResult is one simulation scenario's outcome.
type ScenarioResult struct {
	Scenario       string  `json:"scenario"`
	Valid          bool    `json:"valid"`
	NetProfitSOL   float64 `json:"netProfitSol"`
	FeeSOL         float64 `json:"feeSol"`
	TipSOL         float64 `json:"tipSol"`
	SlippageSOL    float64 `json:"slippageSol"`
	PriceImpactSOL float64 `json:"priceImpactSol"`
	Reason         string  `json:"reason,omitempty"`
}

// Validation is the simulation pipeline's verdict on one opportunity. Best is
// the valid scenario with maximum net profit, nil when no scenario is valid.
type Validation struct {
	IsProfitable  bool             `json:"isProfitable"`
	NetProfitSOL  float64          `json:"netProfitSol"`
	TotalCostsSOL float64          `json:"totalCostsSol"`
	Best          *ScenarioResult  `json:"best,omitempty"`
	Results       []ScenarioResult `json:"results"`
}

// Simulator runs multi-scenario validation and variance assessment.
type Simulator interface {
	Simulate(ctx context.Context, opp *types.Opportunity) (*Validation, error)

	// AssessVariance returns the relative spread of projected profit across
	// synthetic competition levels; values above the configured fraction
	// mean the opportunity only looks good under one optimistic assumption.
	AssessVariance(ctx context.Context, opp *types.Opportunity) (float64, error)
}

// ConfidenceScore is a weighted composite in [0,1] with its factor breakdown.
// Reliable is true only when at least one simulation result backed the score.
type ConfidenceScore struct {
	Score    float64            `json:"score"`
	Factors  map[string]float64 `json:"factors"`
	Reliable bool               `json:"reliable"`
}

// FilterResult is the scorer's execute/reject decision with the losing
// check's name and numbers when rejected.
type FilterResult struct {
	ShouldExecute bool             `json:"shouldExecute"`
	Score         *ConfidenceScore `json:"score"`
	Reason        string           `json:"reason,omitempty"`
}

// Scorer combines simulation quality, pool adequacy, sender history, and
// value into a confidence verdict with independent hard filters.
type Scorer interface {
	Score(opp *types.Opportunity, results []ScenarioResult) *ConfidenceScore
	Evaluate(opp *types.Opportunity, results []ScenarioResult) *FilterResult
	RecordOutcome(sender string, success bool)

	// RecordFalsePositive tightens the execution threshold after an
	// opportunity that passed every check still lost money.
	RecordFalsePositive()
}

// OpportunityVerifier re-checks a detected opportunity immediately before
// execution resources are committed. Pool data backing the original detection
// may be seconds stale by the time the pipeline reaches admission.
type OpportunityVerifier interface {
	Verify(ctx context.Context, opp *types.Opportunity) error
}

// MetricsSink receives terminal pipeline records. Purely observational:
// implementations never block or reject a pipeline stage.
type MetricsSink interface {
	RecordOpportunity(kind types.OpportunityType)
	RecordRejection(kind types.OpportunityType, stage string)
	RecordResult(result *types.StrategyResult)
	RecordEndpointCall(endpoint string, latency time.Duration, success bool)
	UpdateBalance(balanceSOL float64)
}
