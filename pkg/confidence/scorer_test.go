package confidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mev-engine/solana-mev-pipeline/pkg/interfaces"
	"github.com/mev-engine/solana-mev-pipeline/pkg/types"
)

func newTestScorer(t *testing.T) *Scorer {
	t.Helper()
	scorer, err := NewScorer(nil, zap.NewNop())
	require.NoError(t, err)
	return scorer
}

func strongOpportunity() *types.Opportunity {
	return &types.Opportunity{
		ID:             "opp-1",
		Type:           types.OpportunityArbitrage,
		TradeSizeSOL:   1,
		PoolDepthSOL:   100,
		GrossProfitSOL: 0.1,
		Sender:         "reliable-sender",
	}
}

func agreeingResults() []interfaces.ScenarioResult {
	return []interfaces.ScenarioResult{
		{Scenario: "base", Valid: true, NetProfitSOL: 0.05, SlippageSOL: 0.001, PriceImpactSOL: 0.001},
		{Scenario: "conservative", Valid: true, NetProfitSOL: 0.05, SlippageSOL: 0.001, PriceImpactSOL: 0.001},
		{Scenario: "aggressive", Valid: true, NetProfitSOL: 0.05, SlippageSOL: 0.001, PriceImpactSOL: 0.001},
	}
}

func TestNewScorer_WeightsSumToOne(t *testing.T) {
	scorer := newTestScorer(t)

	var sum float64
	for _, w := range scorer.weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.InDelta(t, 0.85, scorer.Threshold(), 1e-9)
}

func TestScore_AlwaysInUnitInterval(t *testing.T) {
	scorer := newTestScorer(t)

	cases := []*types.Opportunity{
		strongOpportunity(),
		{ID: "empty"},
		{ID: "huge", TradeSizeSOL: 1000, PoolDepthSOL: 1, GrossProfitSOL: 100},
		{ID: "negative", TradeSizeSOL: -1, PoolDepthSOL: -1, GrossProfitSOL: -1},
	}
	for _, opp := range cases {
		score := scorer.Score(opp, agreeingResults())
		assert.GreaterOrEqual(t, score.Score, 0.0, "opp %s", opp.ID)
		assert.LessOrEqual(t, score.Score, 1.0, "opp %s", opp.ID)
	}
}

func TestScore_ReliabilityRequiresSimulations(t *testing.T) {
	scorer := newTestScorer(t)

	withSims := scorer.Score(strongOpportunity(), agreeingResults())
	assert.True(t, withSims.Reliable)

	withoutSims := scorer.Score(strongOpportunity(), nil)
	assert.False(t, withoutSims.Reliable)
}

func TestEvaluate_StrongOpportunityPasses(t *testing.T) {
	scorer := newTestScorer(t)
	for i := 0; i < 10; i++ {
		scorer.RecordOutcome("reliable-sender", true)
	}

	result := scorer.Evaluate(strongOpportunity(), agreeingResults())

	assert.True(t, result.ShouldExecute, "reason: %s", result.Reason)
	assert.GreaterOrEqual(t, result.Score.Score, 0.85)
}

func TestEvaluate_ShallowPoolHardFilter(t *testing.T) {
	scorer := newTestScorer(t)

	opp := strongOpportunity()
	opp.PoolDepthSOL = 5 // below 10x trade size

	result := scorer.Evaluate(opp, agreeingResults())
	assert.False(t, result.ShouldExecute)
	assert.Contains(t, result.Reason, "pool depth")
}

func TestEvaluate_ValueFloorHardFilter(t *testing.T) {
	scorer := newTestScorer(t)

	opp := strongOpportunity()
	opp.GrossProfitSOL = 0.0005

	results := []interfaces.ScenarioResult{
		{Scenario: "base", Valid: true, NetProfitSOL: 0.0001},
	}
	result := scorer.Evaluate(opp, results)
	assert.False(t, result.ShouldExecute)
	assert.Contains(t, result.Reason, "value")
}

func TestEvaluate_SpamPattern(t *testing.T) {
	scorer := newTestScorer(t)

	opp := strongOpportunity()
	opp.GrossProfitSOL = 0.005
	opp.Sender = "never-seen-before"

	result := scorer.Evaluate(opp, agreeingResults())
	assert.False(t, result.ShouldExecute)
	assert.Contains(t, result.Reason, "spam")
}

func TestEvaluate_NoSimulationsRejected(t *testing.T) {
	scorer := newTestScorer(t)

	result := scorer.Evaluate(strongOpportunity(), nil)
	assert.False(t, result.ShouldExecute)
	assert.False(t, result.Score.Reliable)
}

func TestEvaluate_HardFilterOverridesHighScore(t *testing.T) {
	scorer := newTestScorer(t)
	for i := 0; i < 10; i++ {
		scorer.RecordOutcome("reliable-sender", true)
	}

	// Every weighted factor is strong except the slippage hard filter.
	opp := strongOpportunity()
	results := agreeingResults()
	for i := range results {
		results[i].SlippageSOL = 0.06 // 60% of gross profit
	}

	result := scorer.Evaluate(opp, results)
	assert.False(t, result.ShouldExecute)
	assert.Contains(t, result.Reason, "slippage factor")
}

func TestAdaptiveThreshold(t *testing.T) {
	scorer := newTestScorer(t)

	scorer.RecordFalsePositive()
	assert.InDelta(t, 0.85*1.05, scorer.Threshold(), 1e-9)

	for i := 0; i < 20; i++ {
		scorer.RecordFalsePositive()
	}
	assert.InDelta(t, 0.95, scorer.Threshold(), 1e-9, "capped")

	for i := 0; i < 50; i++ {
		scorer.RecordMissedOpportunity()
	}
	assert.InDelta(t, 0.70, scorer.Threshold(), 1e-9, "floored")
}

func TestSenderHistory(t *testing.T) {
	scorer := newTestScorer(t)

	assert.InDelta(t, 0.5, scorer.senderFactor("unknown"), 1e-9)

	scorer.RecordOutcome("good", true)
	scorer.RecordOutcome("good", true)
	scorer.RecordOutcome("good", false)
	assert.InDelta(t, 2.0/3.0, scorer.senderFactor("good"), 1e-9)

	scorer.RecordOutcome("bad", false)
	assert.InDelta(t, 0.0, scorer.senderFactor("bad"), 1e-9)
}
