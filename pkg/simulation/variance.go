package simulation

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/mev-engine/solana-mev-pipeline/pkg/types"
)

// Synthetic competition multipliers applied to gross profit when assessing
// how fragile a profit estimate is.
var competitionMultipliers = []float64{0.95, 1.05, 0.9, 1.1, 0.8}

// AssessVariance perturbs the opportunity's gross profit across synthetic
// competition levels and returns the relative standard deviation of the
// resulting net profits. High variance means the opportunity only looks good
// under one optimistic assumption.
func (p *Pipeline) AssessVariance(ctx context.Context, opp *types.Opportunity) (float64, error) {
	if opp == nil {
		return 0, fmt.Errorf("nil opportunity")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	tip := p.tips.OptimalTip(ctx, opp.GrossProfitSOL, 0.5, 0.5)
	slipFraction, _ := marketImpact(opp.TradeSizeSOL, opp.PoolDepthSOL)
	slippage := slipFraction * opp.TradeSizeSOL

	nets := make([]float64, 0, len(competitionMultipliers))
	for _, m := range competitionMultipliers {
		net := NetProfit(opp.GrossProfitSOL*m, defaultScenarios[0].priorityFeeSOL,
			tip.TipSOL, slippage, p.config.SafetyMarginSOL)
		nets = append(nets, net)
	}

	variance := relativeStdDev(nets)
	p.logger.Debug("variance assessment",
		zap.String("opportunity", opp.ID),
		zap.Float64("relative_stddev", variance))
	return variance, nil
}

// PassesVarianceCheck reports whether the opportunity's profit spread stays
// inside the configured fraction.
func (p *Pipeline) PassesVarianceCheck(ctx context.Context, opp *types.Opportunity) (bool, float64, error) {
	variance, err := p.AssessVariance(ctx, opp)
	if err != nil {
		return false, 0, err
	}
	return variance <= p.config.MaxVarianceFraction, variance, nil
}

// relativeStdDev is the standard deviation normalized by the absolute mean.
// A non-positive mean reads as maximal variance: the estimate is not even
// stably profitable.
func relativeStdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	if mean <= 0 {
		return 1.0
	}

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq/float64(len(values))) / mean
}
