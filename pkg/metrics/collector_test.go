package metrics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mev-engine/solana-mev-pipeline/pkg/types"
)

func newTestCollector() *Collector {
	return NewCollectorWithRegistry(prometheus.NewRegistry())
}

func TestRecordOpportunity_CountsByStrategy(t *testing.T) {
	c := newTestCollector()

	c.RecordOpportunity(types.OpportunityArbitrage)
	c.RecordOpportunity(types.OpportunityArbitrage)
	c.RecordOpportunity(types.OpportunitySandwich)

	snap := c.Snapshot()
	assert.Equal(t, uint64(3), snap.Opportunities)
	assert.Equal(t, uint64(2), snap.Strategies[types.OpportunityArbitrage].Detected)
	assert.Equal(t, uint64(1), snap.Strategies[types.OpportunitySandwich].Detected)

	assert.Equal(t, 2.0, testutil.ToFloat64(
		c.prom.opportunitiesDetected.WithLabelValues(string(types.OpportunityArbitrage))))
}

func TestRecordResult_AccumulatesProfitAndRate(t *testing.T) {
	c := newTestCollector()

	c.RecordResult(&types.StrategyResult{
		Strategy:    types.OpportunityArbitrage,
		Success:     true,
		ProfitSOL:   0.01,
		FeesPaidSOL: 0.001,
		TipPaidSOL:  0.0005,
	})
	c.RecordResult(&types.StrategyResult{
		Strategy:  types.OpportunityArbitrage,
		Success:   false,
		ProfitSOL: -0.002,
	})

	snap := c.Snapshot()
	arb := snap.Strategies[types.OpportunityArbitrage]
	assert.Equal(t, uint64(2), arb.Executed)
	assert.Equal(t, uint64(1), arb.Succeeded)
	assert.Equal(t, uint64(1), arb.Failed)
	assert.InDelta(t, 0.5, arb.SuccessRate, 1e-9)
	assert.InDelta(t, 0.008, snap.TotalProfitSOL, 1e-9)
	assert.InDelta(t, 0.001, snap.TotalFeesSOL, 1e-9)
	assert.InDelta(t, 0.0005, snap.TotalTipsSOL, 1e-9)

	assert.InDelta(t, 0.008, testutil.ToFloat64(c.prom.profitTotal), 1e-9)
	assert.InDelta(t, 0.5, c.SuccessRate(), 1e-9)
}

func TestRecordResult_NilIgnored(t *testing.T) {
	c := newTestCollector()
	c.RecordResult(nil)
	assert.Equal(t, uint64(0), c.Snapshot().Executions)
}

func TestRecordRejection_CountsByStage(t *testing.T) {
	c := newTestCollector()

	c.RecordRejection(types.OpportunityFrontrun, "simulation")
	c.RecordRejection(types.OpportunityFrontrun, "simulation")
	c.RecordRejection(types.OpportunitySandwich, "risk")

	snap := c.Snapshot()
	assert.Equal(t, uint64(3), snap.Rejections)
	assert.Equal(t, uint64(2), snap.RejectionsByStage["simulation"])
	assert.Equal(t, uint64(1), snap.RejectionsByStage["risk"])
	assert.Equal(t, uint64(2), snap.Strategies[types.OpportunityFrontrun].Rejected)
}

func TestRecordEndpointCall_TracksLatencyAndFailures(t *testing.T) {
	c := newTestCollector()

	c.RecordEndpointCall("fast-read", 100*time.Millisecond, true)
	c.RecordEndpointCall("fast-read", 300*time.Millisecond, true)
	c.RecordEndpointCall("fast-read", 200*time.Millisecond, false)

	ep := c.Snapshot().Endpoints["fast-read"]
	require.NotNil(t, ep)
	assert.Equal(t, uint64(3), ep.Calls)
	assert.Equal(t, uint64(1), ep.Failures)
	assert.Equal(t, 200*time.Millisecond, ep.AvgLatency)
	assert.InDelta(t, 2.0/3.0, ep.SuccessRate, 1e-9)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		c.prom.endpointFailures.WithLabelValues("fast-read")))
}

func TestUpdateBalance(t *testing.T) {
	c := newTestCollector()
	c.UpdateBalance(4.2)

	assert.Equal(t, 4.2, c.Snapshot().BalanceSOL)
	assert.Equal(t, 4.2, testutil.ToFloat64(c.prom.balance))
}

func TestExportJSON_RoundTrips(t *testing.T) {
	c := newTestCollector()
	c.RecordOpportunity(types.OpportunityLiquidation)
	c.UpdateBalance(1.5)

	raw, err := c.ExportJSON()
	require.NoError(t, err)

	var decoded SystemMetrics
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, uint64(1), decoded.Opportunities)
	assert.Equal(t, 1.5, decoded.BalanceSOL)
}

func TestSuccessRate_IdleIsPerfect(t *testing.T) {
	c := newTestCollector()
	assert.Equal(t, 1.0, c.SuccessRate())
}

func TestSnapshot_IsACopy(t *testing.T) {
	c := newTestCollector()
	c.RecordOpportunity(types.OpportunityArbitrage)

	snap := c.Snapshot()
	snap.Strategies[types.OpportunityArbitrage].Detected = 99

	assert.Equal(t, uint64(1), c.Snapshot().Strategies[types.OpportunityArbitrage].Detected)
}
