package fees

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mev-engine/solana-mev-pipeline/pkg/interfaces"
)

const (
	lamportsPerSOL = 1_000_000_000.0

	baseFeeSOL           = 0.000005
	fallbackPriorityFee  = 0.001
	priorityFeeCapSOL    = 0.01
	safetyMarginSOL      = 0.005
	defaultComputeUnits  = 200_000
	defaultUnitPrice     = 1_000_000
	minComputeUnitPrice  = 100_000
	maxComputeUnitPrice  = 100_000_000
	fastExecutionWindow  = 500 * time.Millisecond
	minDynamicMultiplier = 0.1
	maxDynamicMultiplier = 5.0
	failureMultiplierCap = 3.0
)

// Competition thresholds over the average prioritization fee, in lamports.
const (
	competitionMediumLamports   = 10_000_000
	competitionHighLamports     = 50_000_000
	competitionVeryHighLamports = 100_000_000
)

// Config holds the tunable fee-model settings. All values have safe defaults.
type Config struct {
	FallbackPriorityFeeSOL float64 `mapstructure:"fallback_priority_fee_sol"`
	PriorityFeeCapSOL      float64 `mapstructure:"priority_fee_cap_sol"`
	SafetyMarginSOL        float64 `mapstructure:"safety_margin_sol"`
}

// DefaultConfig returns the documented fee defaults.
func DefaultConfig() *Config {
	return &Config{
		FallbackPriorityFeeSOL: fallbackPriorityFee,
		PriorityFeeCapSOL:      priorityFeeCapSOL,
		SafetyMarginSOL:        safetyMarginSOL,
	}
}

// Estimator derives fee estimates from recent network fee samples. Estimation
// is total-failure-tolerant: a failed sample fetch degrades to conservative
// defaults instead of failing the caller, since fees gate nothing by
// themselves.
type Estimator struct {
	config *Config
	router interfaces.EndpointRouter
	logger *zap.Logger

	mu                sync.Mutex
	dynamicMultiplier float64
}

// NewEstimator creates a fee estimator. A nil config gets DefaultConfig.
func NewEstimator(config *Config, router interfaces.EndpointRouter, logger *zap.Logger) *Estimator {
	if config == nil {
		config = DefaultConfig()
	}
	if config.FallbackPriorityFeeSOL <= 0 {
		config.FallbackPriorityFeeSOL = fallbackPriorityFee
	}
	if config.PriorityFeeCapSOL <= 0 {
		config.PriorityFeeCapSOL = priorityFeeCapSOL
	}
	if config.SafetyMarginSOL <= 0 {
		config.SafetyMarginSOL = safetyMarginSOL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Estimator{
		config:            config,
		router:            router,
		logger:            logger.Named("fees"),
		dynamicMultiplier: 1.0,
	}
}

// Estimate derives the fee estimate for an opportunity of the given value.
func (e *Estimator) Estimate(ctx context.Context, opportunityValue float64) *interfaces.FeeEstimate {
	samples, err := e.router.RecentPriorityFees(ctx)
	if err != nil || len(samples) == 0 {
		if err != nil {
			e.logger.Info("fee sample fetch failed, using fallback",
				zap.Error(err),
				zap.Float64("fallback_sol", e.config.FallbackPriorityFeeSOL))
		}
		return &interfaces.FeeEstimate{
			BaseFeeSOL:       baseFeeSOL,
			PriorityFeeSOL:   e.applyMultiplier(e.config.FallbackPriorityFeeSOL),
			ComputeUnitPrice: defaultUnitPrice,
			ComputeUnits:     defaultComputeUnits,
		}
	}

	avgLamports := meanLamports(samples)

	multiplier := 1.0
	switch {
	case opportunityValue > 1.0:
		multiplier = 1.5
	case opportunityValue > 0.1:
		multiplier = 1.2
	}

	priorityFee := (avgLamports / lamportsPerSOL) * multiplier
	if priorityFee > e.config.PriorityFeeCapSOL {
		priorityFee = e.config.PriorityFeeCapSOL
	}

	unitPrice := avgLamports
	if unitPrice < minComputeUnitPrice {
		unitPrice = minComputeUnitPrice
	}
	if unitPrice > maxComputeUnitPrice {
		unitPrice = maxComputeUnitPrice
	}

	return &interfaces.FeeEstimate{
		BaseFeeSOL:       baseFeeSOL,
		PriorityFeeSOL:   e.applyMultiplier(priorityFee),
		ComputeUnitPrice: uint64(unitPrice),
		ComputeUnits:     defaultComputeUnits,
	}
}

// Profitability screens an expected profit against current execution costs
// plus the safety margin, before any tip or slippage modeling. The underlying
// estimate rides along so callers pay for one sample fetch.
func (e *Estimator) Profitability(ctx context.Context, expectedProfitSOL, opportunityValue float64) *interfaces.ProfitabilityResult {
	estimate := e.Estimate(ctx, opportunityValue)
	total := estimate.TotalSOL() + e.config.SafetyMarginSOL
	net := expectedProfitSOL - total
	return &interfaces.ProfitabilityResult{
		Estimate:     estimate,
		TotalCostSOL: total,
		NetProfitSOL: net,
		IsProfitable: net > 0,
	}
}

// Competition buckets current block-space contention from the same samples.
// Fetch failure reads as low competition, not as an error.
func (e *Estimator) Competition(ctx context.Context) interfaces.CompetitionLevel {
	samples, err := e.router.RecentPriorityFees(ctx)
	if err != nil || len(samples) == 0 {
		return interfaces.CompetitionLow
	}

	avg := meanLamports(samples)
	switch {
	case avg > competitionVeryHighLamports:
		return interfaces.CompetitionVeryHigh
	case avg > competitionHighLamports:
		return interfaces.CompetitionHigh
	case avg > competitionMediumLamports:
		return interfaces.CompetitionMedium
	default:
		return interfaces.CompetitionLow
	}
}

// AdjustFeeStrategy tunes the dynamic multiplier from execution outcomes.
// Failures push fees up, fast successes suggest overpaying and ease them down.
func (e *Estimator) AdjustFeeStrategy(success bool, executionTime time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if success {
		if executionTime < fastExecutionWindow {
			e.dynamicMultiplier *= 0.95
			if e.dynamicMultiplier < 0.5 {
				e.dynamicMultiplier = 0.5
			}
		} else {
			e.dynamicMultiplier *= 0.99
		}
	} else {
		e.dynamicMultiplier *= 1.1
		if e.dynamicMultiplier > failureMultiplierCap {
			e.dynamicMultiplier = failureMultiplierCap
		}
	}

	if e.dynamicMultiplier < minDynamicMultiplier {
		e.dynamicMultiplier = minDynamicMultiplier
	}
	if e.dynamicMultiplier > maxDynamicMultiplier {
		e.dynamicMultiplier = maxDynamicMultiplier
	}
}

// Multiplier returns the current dynamic fee multiplier.
func (e *Estimator) Multiplier() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dynamicMultiplier
}

// SafetyMargin returns the fixed margin added to total costs before an
// opportunity counts as profitable.
func (e *Estimator) SafetyMargin() float64 {
	return e.config.SafetyMarginSOL
}

func (e *Estimator) applyMultiplier(fee float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	adjusted := fee * e.dynamicMultiplier
	if adjusted > e.config.PriorityFeeCapSOL {
		adjusted = e.config.PriorityFeeCapSOL
	}
	return adjusted
}

func meanLamports(samples []uint64) float64 {
	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	return sum / float64(len(samples))
}
