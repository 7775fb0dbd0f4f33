package simulation

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mev-engine/solana-mev-pipeline/pkg/interfaces"
	"github.com/mev-engine/solana-mev-pipeline/pkg/types"
)

const (
	safetyMarginSOL = 0.005

	// Slippage model: fraction of pool consumed, damped and capped.
	slippageDamping = 0.1
	slippageCap     = 0.05

	// Validity gates per scenario.
	maxPriceImpactOfGross = 0.03
	minPoolDepthMultiple  = 10.0
)

// scenario is one parameter variant the pipeline runs an opportunity through.
type scenario struct {
	name              string
	slippageTolerance float64
	priorityFeeSOL    float64
}

// defaultScenarios covers the base case plus a conservative and an aggressive
// variant, so a profit estimate has to survive more than one assumption.
var defaultScenarios = []scenario{
	{name: "base", slippageTolerance: 0.01, priorityFeeSOL: 0.001},
	{name: "conservative", slippageTolerance: 0.005, priorityFeeSOL: 0.0015},
	{name: "aggressive", slippageTolerance: 0.02, priorityFeeSOL: 0.0005},
}

// Config holds the simulation pipeline settings.
type Config struct {
	SafetyMarginSOL      float64 `mapstructure:"safety_margin_sol"`
	MaxVarianceFraction  float64 `mapstructure:"max_variance_fraction"`
	MinPoolDepthMultiple float64 `mapstructure:"min_pool_depth_multiple"`
}

// DefaultConfig returns the documented simulation defaults.
func DefaultConfig() *Config {
	return &Config{
		SafetyMarginSOL:      safetyMarginSOL,
		MaxVarianceFraction:  0.30,
		MinPoolDepthMultiple: minPoolDepthMultiple,
	}
}

// Pipeline validates opportunities by running them through several parameter
// scenarios and picking the best valid outcome. Scenarios are independent
// pure computations and run concurrently.
type Pipeline struct {
	config    *Config
	tips      interfaces.TipOptimizer
	logger    *zap.Logger
	scenarios []scenario
}

// NewPipeline creates a simulation pipeline. A nil config gets DefaultConfig.
func NewPipeline(config *Config, tips interfaces.TipOptimizer, logger *zap.Logger) *Pipeline {
	if config == nil {
		config = DefaultConfig()
	}
	if config.SafetyMarginSOL <= 0 {
		config.SafetyMarginSOL = safetyMarginSOL
	}
	if config.MaxVarianceFraction <= 0 {
		config.MaxVarianceFraction = 0.30
	}
	if config.MinPoolDepthMultiple <= 0 {
		config.MinPoolDepthMultiple = minPoolDepthMultiple
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		config:    config,
		tips:      tips,
		logger:    logger.Named("simulation"),
		scenarios: defaultScenarios,
	}
}

// Simulate runs the opportunity through every scenario and selects the valid
// scenario with maximum net profit. IsProfitable requires that scenario's net
// profit to be positive.
func (p *Pipeline) Simulate(ctx context.Context, opp *types.Opportunity) (*interfaces.Validation, error) {
	if opp == nil {
		return nil, fmt.Errorf("nil opportunity")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]interfaces.ScenarioResult, len(p.scenarios))
	var wg sync.WaitGroup
	for i, sc := range p.scenarios {
		wg.Add(1)
		go func(i int, sc scenario) {
			defer wg.Done()
			results[i] = p.runScenario(ctx, opp, sc)
		}(i, sc)
	}
	wg.Wait()

	validation := &interfaces.Validation{Results: results}
	for i := range results {
		r := &results[i]
		if !r.Valid {
			continue
		}
		if validation.Best == nil || r.NetProfitSOL > validation.Best.NetProfitSOL {
			validation.Best = r
		}
	}

	if validation.Best != nil {
		validation.IsProfitable = validation.Best.NetProfitSOL > 0
		validation.NetProfitSOL = validation.Best.NetProfitSOL
		validation.TotalCostsSOL = opp.GrossProfitSOL - validation.Best.NetProfitSOL
	}

	p.logger.Debug("simulation complete",
		zap.String("opportunity", opp.ID),
		zap.Bool("profitable", validation.IsProfitable),
		zap.Float64("net_profit_sol", validation.NetProfitSOL))
	return validation, nil
}

// runScenario computes one scenario's slippage, price impact, and net profit,
// and applies the validity gates.
func (p *Pipeline) runScenario(ctx context.Context, opp *types.Opportunity, sc scenario) interfaces.ScenarioResult {
	result := interfaces.ScenarioResult{
		Scenario: sc.name,
		FeeSOL:   sc.priorityFeeSOL,
	}

	tip := p.tips.OptimalTip(ctx, opp.GrossProfitSOL, 0.5, 0.5)
	result.TipSOL = tip.TipSOL

	slipFraction, impactFraction := marketImpact(opp.TradeSizeSOL, opp.PoolDepthSOL)
	result.SlippageSOL = slipFraction * opp.TradeSizeSOL
	result.PriceImpactSOL = impactFraction * opp.GrossProfitSOL

	result.NetProfitSOL = NetProfit(opp.GrossProfitSOL, result.FeeSOL, result.TipSOL,
		result.SlippageSOL, p.config.SafetyMarginSOL)

	switch {
	case result.NetProfitSOL <= 0:
		result.Reason = fmt.Sprintf("net profit %.6f SOL not positive", result.NetProfitSOL)
	case result.PriceImpactSOL > maxPriceImpactOfGross*opp.GrossProfitSOL:
		result.Reason = fmt.Sprintf("price impact %.6f exceeds %.0f%% of gross %.6f",
			result.PriceImpactSOL, maxPriceImpactOfGross*100, opp.GrossProfitSOL)
	case opp.PoolDepthSOL < p.config.MinPoolDepthMultiple*opp.TradeSizeSOL:
		result.Reason = fmt.Sprintf("pool depth %.4f below %.0fx trade size %.4f",
			opp.PoolDepthSOL, p.config.MinPoolDepthMultiple, opp.TradeSizeSOL)
	case slipFraction > sc.slippageTolerance:
		result.Reason = fmt.Sprintf("slippage %.4f exceeds tolerance %.4f",
			slipFraction, sc.slippageTolerance)
	default:
		result.Valid = true
	}
	return result
}

// NetProfit is the canonical profit accounting used everywhere in the
// pipeline: gross profit minus every cost, safety margin included.
func NetProfit(gross, fee, tip, slippage, margin float64) float64 {
	return gross - (fee + tip + slippage + margin)
}

// marketImpact models slippage and price impact from trade size relative to
// pool depth. A zero-depth pool reads as maximal impact.
func marketImpact(tradeSize, poolDepth float64) (slippage, impact float64) {
	if poolDepth <= 0 {
		return slippageCap, 1.0
	}
	consumed := tradeSize / poolDepth
	slippage = consumed * slippageDamping
	if slippage > slippageCap {
		slippage = slippageCap
	}
	return slippage, consumed
}
