package risk

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mev-engine/solana-mev-pipeline/pkg/types"
)

func testLimits() *Limits {
	return &Limits{
		MaxLossPerBundleSOL:   0.01,
		DailySpendingLimit:    10.0,
		MinBalanceSOL:         0.5,
		MaxConsecutiveFails:   5,
		MaxStrategyFailures:   3,
		StrategyDisableWindow: time.Hour,
	}
}

func newTestGate(t *testing.T, balance float64) *Gate {
	t.Helper()
	gate, err := NewGate(testLimits(), balance, zap.NewNop())
	require.NoError(t, err)
	return gate
}

func TestLimits_ValidateReportsAllMissing(t *testing.T) {
	err := (&Limits{}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_loss_per_bundle_sol")
	assert.Contains(t, err.Error(), "daily_spending_limit_sol")
	assert.Contains(t, err.Error(), "min_balance_sol")
	assert.Contains(t, err.Error(), "max_consecutive_failures")
	assert.Contains(t, err.Error(), "max_strategy_failures")
}

func TestNewGate_RequiresLimits(t *testing.T) {
	_, err := NewGate(nil, 1.0, zap.NewNop())
	assert.Error(t, err)

	_, err = NewGate(&Limits{DailySpendingLimit: 10}, 1.0, zap.NewNop())
	assert.Error(t, err)
}

func TestAdmit_BalanceBelowMinimum(t *testing.T) {
	gate := newTestGate(t, 0.4) // minimum is 0.5

	_, err := gate.Admit(types.OpportunityArbitrage, 100.0, 0.001)
	require.Error(t, err)

	var balErr *BalanceTooLowError
	require.ErrorAs(t, err, &balErr)
	assert.InDelta(t, 0.4, balErr.BalanceSOL, 1e-9)
	assert.InDelta(t, 0.5, balErr.MinimumSOL, 1e-9)
}

func TestAdmit_InsufficientBalanceForCost(t *testing.T) {
	limits := testLimits()
	limits.MaxLossPerBundleSOL = 5.0
	gate, err := NewGate(limits, 1.0, zap.NewNop())
	require.NoError(t, err)

	_, err = gate.Admit(types.OpportunityArbitrage, 0.1, 2.0)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestAdmit_PerBundleLossCeiling(t *testing.T) {
	gate := newTestGate(t, 10)

	_, err := gate.Admit(types.OpportunityArbitrage, 0.001, 5.0)
	require.ErrorIs(t, err, ErrLossLimitExceeded)
	assert.InDelta(t, 10.0, gate.Balance(), 1e-9, "nothing reserved")
	assert.InDelta(t, 0.0, gate.TakeSnapshot().DailySpentSOL, 1e-9)

	// Cost exactly at the ceiling is still admissible.
	res, err := gate.Admit(types.OpportunityArbitrage, 0.02, 0.01)
	require.NoError(t, err)
	res.Release()
}

func TestAdmit_DailyCeilingNeverExceeded(t *testing.T) {
	limits := testLimits()
	limits.MaxLossPerBundleSOL = 1.0
	limits.DailySpendingLimit = 1.0
	gate, err := NewGate(limits, 100.0, zap.NewNop())
	require.NoError(t, err)

	admitted := 0.0
	for i := 0; i < 20; i++ {
		res, err := gate.Admit(types.OpportunityArbitrage, 0.01, 0.3)
		if err != nil {
			assert.ErrorIs(t, err, ErrDailyLimitExceeded)
			break
		}
		admitted += 0.3
		res.Settle(true, 0.3, 0.31)
	}
	assert.LessOrEqual(t, admitted, 1.0)
	assert.InDelta(t, 0.9, gate.TakeSnapshot().DailySpentSOL, 1e-9)
}

func TestAdmit_UnknownKindRejected(t *testing.T) {
	gate := newTestGate(t, 10)
	_, err := gate.Admit(types.OpportunityType("timebandit"), 0.1, 0.01)
	assert.Error(t, err)
}

func TestSettle_FailureTripsStrategyBreaker(t *testing.T) {
	gate := newTestGate(t, 10)

	for i := 0; i < 3; i++ {
		res, err := gate.Admit(types.OpportunitySandwich, 0.02, 0.01)
		require.NoError(t, err, "attempt %d should be admitted", i+1)
		res.Settle(false, 0.01, 0)
	}

	assert.False(t, gate.StrategyEnabled(types.OpportunitySandwich))

	_, err := gate.Admit(types.OpportunitySandwich, 0.02, 0.01)
	var disabledErr *StrategyDisabledError
	require.ErrorAs(t, err, &disabledErr)
	assert.Equal(t, types.OpportunitySandwich, disabledErr.Strategy)

	// Other kinds stay admissible.
	res, err := gate.Admit(types.OpportunityArbitrage, 0.02, 0.01)
	require.NoError(t, err)
	res.Release()
}

func TestStrategyBreaker_ReenablesAfterWindow(t *testing.T) {
	limits := testLimits()
	limits.StrategyDisableWindow = 20 * time.Millisecond
	gate, err := NewGate(limits, 10, zap.NewNop())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err := gate.Admit(types.OpportunitySandwich, 0.02, 0.01)
		require.NoError(t, err)
		res.Settle(false, 0.01, 0)
	}
	_, err = gate.Admit(types.OpportunitySandwich, 0.02, 0.01)
	require.Error(t, err)

	time.Sleep(30 * time.Millisecond)

	res, err := gate.Admit(types.OpportunitySandwich, 0.02, 0.01)
	require.NoError(t, err, "window elapsed, breaker resets")
	res.Release()
}

func TestEnableStrategy_OperatorOverride(t *testing.T) {
	gate := newTestGate(t, 10)

	for i := 0; i < 3; i++ {
		res, err := gate.Admit(types.OpportunitySandwich, 0.02, 0.01)
		require.NoError(t, err)
		res.Settle(false, 0.01, 0)
	}
	require.False(t, gate.StrategyEnabled(types.OpportunitySandwich))

	require.NoError(t, gate.EnableStrategy(types.OpportunitySandwich))
	assert.True(t, gate.StrategyEnabled(types.OpportunitySandwich))
}

func TestSettle_SuccessResetsCounters(t *testing.T) {
	gate := newTestGate(t, 10)

	res, err := gate.Admit(types.OpportunityFrontrun, 0.02, 0.01)
	require.NoError(t, err)
	res.Settle(false, 0.01, 0)

	res, err = gate.Admit(types.OpportunityFrontrun, 0.02, 0.01)
	require.NoError(t, err)
	res.Settle(true, 0.01, 0.02)

	snap := gate.TakeSnapshot()
	assert.Equal(t, 0, snap.ConsecutiveFailures)
	assert.InDelta(t, 0.02, snap.TotalEarnedSOL, 1e-9)
}

func TestConsecutiveFailureCeiling(t *testing.T) {
	gate := newTestGate(t, 10)

	// Spread failures across kinds so no single strategy breaker trips first.
	kinds := []types.OpportunityType{
		types.OpportunityArbitrage, types.OpportunityFrontrun,
		types.OpportunityLiquidation, types.OpportunityOther,
		types.OpportunitySandwich,
	}
	for i := 0; i < 5; i++ {
		res, err := gate.Admit(kinds[i], 0.02, 0.01)
		require.NoError(t, err, "attempt %d", i+1)
		res.Settle(false, 0.01, 0)
	}

	_, err := gate.Admit(types.OpportunityArbitrage, 0.02, 0.01)
	assert.ErrorIs(t, err, ErrTooManyFailures)
}

func TestResetFailures_OperatorOverride(t *testing.T) {
	gate := newTestGate(t, 10)

	kinds := []types.OpportunityType{
		types.OpportunityArbitrage, types.OpportunityFrontrun,
		types.OpportunityLiquidation, types.OpportunityOther,
		types.OpportunitySandwich,
	}
	for i := 0; i < 5; i++ {
		res, err := gate.Admit(kinds[i], 0.02, 0.01)
		require.NoError(t, err)
		res.Settle(false, 0.01, 0)
	}
	_, err := gate.Admit(types.OpportunityArbitrage, 0.02, 0.01)
	require.ErrorIs(t, err, ErrTooManyFailures)

	// Blocked admission means no settle can ever clear the counter.
	gate.ResetFailures()

	res, err := gate.Admit(types.OpportunityArbitrage, 0.02, 0.01)
	require.NoError(t, err)
	res.Release()
}

func TestRecordFailure_SignalsPauseAtCeiling(t *testing.T) {
	gate := newTestGate(t, 10)

	for i := 0; i < 4; i++ {
		assert.NoError(t, gate.RecordFailure())
	}
	assert.ErrorIs(t, gate.RecordFailure(), ErrTooManyFailures)

	gate.RecordSuccess(0.01)
	assert.NoError(t, gate.RecordFailure())
}

func TestUpdateBalance_RejectsBelowMinimum(t *testing.T) {
	gate := newTestGate(t, 2.0)

	err := gate.UpdateBalance(0.3)
	var balErr *BalanceTooLowError
	require.ErrorAs(t, err, &balErr)
	assert.InDelta(t, 2.0, gate.Balance(), 1e-9, "previous balance kept")

	require.NoError(t, gate.UpdateBalance(1.5))
	assert.InDelta(t, 1.5, gate.Balance(), 1e-9)
}

func TestReservation_ReleaseReturnsCost(t *testing.T) {
	limits := testLimits()
	limits.MaxLossPerBundleSOL = 1.0
	gate, err := NewGate(limits, 2.0, zap.NewNop())
	require.NoError(t, err)

	res, err := gate.Admit(types.OpportunityArbitrage, 0.02, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, gate.Balance(), 1e-9)

	res.Release()
	assert.InDelta(t, 2.0, gate.Balance(), 1e-9)
	assert.InDelta(t, 0.0, gate.TakeSnapshot().DailySpentSOL, 1e-9)

	// Double release is a no-op.
	res.Release()
	assert.InDelta(t, 2.0, gate.Balance(), 1e-9)
}

func TestAdmit_SessionTimeout(t *testing.T) {
	limits := testLimits()
	limits.SessionTimeout = 10 * time.Millisecond
	gate, err := NewGate(limits, 10, zap.NewNop())
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = gate.Admit(types.OpportunityArbitrage, 0.02, 0.01)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestAdmit_ConcurrentAttemptsRespectDailyCeiling(t *testing.T) {
	limits := testLimits()
	limits.MaxLossPerBundleSOL = 1.0
	limits.DailySpendingLimit = 1.0
	gate, err := NewGate(limits, 100, zap.NewNop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := gate.Admit(types.OpportunityArbitrage, 0.02, 0.1)
			if err != nil {
				assert.True(t, errors.Is(err, ErrDailyLimitExceeded))
				return
			}
			mu.Lock()
			admitted++
			mu.Unlock()
			res.Settle(true, 0.1, 0.12)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, admitted, "exactly limit/cost attempts fit")
	assert.InDelta(t, 1.0, gate.TakeSnapshot().DailySpentSOL, 1e-9)
}
