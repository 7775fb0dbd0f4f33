package tips

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mev-engine/solana-mev-pipeline/pkg/interfaces"
)

// mockRouter mocks the endpoint router collaborator.
type mockRouter struct {
	mock.Mock
}

func (m *mockRouter) BestEndpoint(role interfaces.EndpointRole) (*interfaces.EndpointInfo, error) {
	args := m.Called(role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.EndpointInfo), args.Error(1)
}

func (m *mockRouter) Call(ctx context.Context, role interfaces.EndpointRole, method string, params ...interface{}) (interface{}, error) {
	args := m.Called(ctx, role, method, params)
	return args.Get(0), args.Error(1)
}

func (m *mockRouter) Balance(ctx context.Context, account string) (float64, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockRouter) RecentPriorityFees(ctx context.Context) ([]uint64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uint64), args.Error(1)
}

func (m *mockRouter) SubmitBundle(ctx context.Context, encodedTxs []string) (string, error) {
	args := m.Called(ctx, encodedTxs)
	return args.String(0), args.Error(1)
}

func (m *mockRouter) Endpoints() []interfaces.EndpointInfo {
	args := m.Called()
	return args.Get(0).([]interfaces.EndpointInfo)
}

func healthyExecEndpoint(latency time.Duration) *interfaces.EndpointInfo {
	return &interfaces.EndpointInfo{
		Name: "priority-exec",
		Health: interfaces.EndpointHealth{
			Healthy: true,
			Latency: latency,
		},
	}
}

func TestOptimalTip_BaseTipSteps(t *testing.T) {
	router := new(mockRouter)
	optimizer := NewOptimizer(nil, router, zap.NewNop())
	ctx := context.Background()

	cases := []struct {
		value float64
		want  float64
	}{
		{2.0, 0.003},
		{0.7, 0.002},
		{0.2, 0.0015},
		{0.05, 0.001},
		{0.005, 0.0005},
	}
	for _, tc := range cases {
		result := optimizer.OptimalTip(ctx, tc.value, 0, 0)
		assert.InDelta(t, tc.want, result.TipSOL, 1e-9, "value %v", tc.value)
	}
}

func TestOptimalTip_MonotonicInCongestionAndCompetition(t *testing.T) {
	optimizer := NewOptimizer(nil, new(mockRouter), zap.NewNop())
	ctx := context.Background()

	prev := 0.0
	for _, congestion := range []float64{0, 0.25, 0.5, 0.75, 1.0} {
		tip := optimizer.OptimalTip(ctx, 0.2, congestion, 0.3).TipSOL
		assert.GreaterOrEqual(t, tip, prev)
		prev = tip
	}

	prev = 0.0
	for _, competition := range []float64{0, 0.25, 0.5, 0.75, 1.0} {
		tip := optimizer.OptimalTip(ctx, 0.2, 0.3, competition).TipSOL
		assert.GreaterOrEqual(t, tip, prev)
		prev = tip
	}
}

func TestOptimalTip_ClampedToBand(t *testing.T) {
	optimizer := NewOptimizer(nil, new(mockRouter), zap.NewNop())
	ctx := context.Background()

	high := optimizer.OptimalTip(ctx, 5.0, 1.0, 1.0)
	assert.InDelta(t, 0.01, high.TipSOL, 1e-9)

	low := optimizer.OptimalTip(ctx, 0.0, 0, 0)
	assert.GreaterOrEqual(t, low.TipSOL, 0.0001)
}

func TestOptimalTip_RoundRobinAccounts(t *testing.T) {
	optimizer := NewOptimizer(nil, new(mockRouter), zap.NewNop())
	ctx := context.Background()

	seen := make([]string, 0, len(defaultTipAccounts)+1)
	for i := 0; i <= len(defaultTipAccounts); i++ {
		seen = append(seen, optimizer.OptimalTip(ctx, 0.1, 0, 0).TipAccount)
	}

	for i := 1; i < len(defaultTipAccounts); i++ {
		assert.NotEqual(t, seen[0], seen[i], "rotation should not repeat within one cycle")
	}
	assert.Equal(t, seen[0], seen[len(defaultTipAccounts)], "rotation wraps around")
}

func TestExpectedSuccessRate_Bands(t *testing.T) {
	assert.Equal(t, 0.95, expectedSuccessRate(0.003))
	assert.Equal(t, 0.85, expectedSuccessRate(0.002))
	assert.Equal(t, 0.75, expectedSuccessRate(0.001))
	assert.Equal(t, 0.60, expectedSuccessRate(0.0005))
}

func TestRecordTipResult_BoundedHistory(t *testing.T) {
	optimizer := NewOptimizer(nil, new(mockRouter), zap.NewNop())

	for i := 0; i < 150; i++ {
		optimizer.RecordTipResult(0.001, true)
	}
	assert.Len(t, optimizer.history, 100)
}

func TestAdjustFromHistory_RaisesOnPoorSuccess(t *testing.T) {
	optimizer := NewOptimizer(nil, new(mockRouter), zap.NewNop())
	ctx := context.Background()

	before := optimizer.OptimalTip(ctx, 0.2, 0, 0).TipSOL

	for i := 0; i < 10; i++ {
		optimizer.RecordTipResult(0.001, i < 3) // 30% success
	}
	optimizer.AdjustFromHistory()

	after := optimizer.OptimalTip(ctx, 0.2, 0, 0).TipSOL
	assert.Greater(t, after, before)
}

func TestAdjustFromHistory_LowersOnHighSuccess(t *testing.T) {
	optimizer := NewOptimizer(nil, new(mockRouter), zap.NewNop())
	ctx := context.Background()

	before := optimizer.OptimalTip(ctx, 0.2, 0, 0).TipSOL

	for i := 0; i < 20; i++ {
		optimizer.RecordTipResult(0.001, true)
	}
	optimizer.AdjustFromHistory()

	after := optimizer.OptimalTip(ctx, 0.2, 0, 0).TipSOL
	assert.Less(t, after, before)
}

func TestAdjustFromHistory_NeedsEnoughSamples(t *testing.T) {
	optimizer := NewOptimizer(nil, new(mockRouter), zap.NewNop())

	for i := 0; i < 5; i++ {
		optimizer.RecordTipResult(0.001, false)
	}
	optimizer.AdjustFromHistory()
	assert.InDelta(t, 1.0, optimizer.baseTipScale, 1e-9)
}

func TestShouldFallback_ExecuteEndpointDown(t *testing.T) {
	router := new(mockRouter)
	router.On("BestEndpoint", interfaces.RoleExecute).Return(nil, errors.New("no healthy endpoint"))

	optimizer := NewOptimizer(nil, router, zap.NewNop())
	result := &interfaces.TipResult{TipSOL: 0.001, ExpectedSuccessRate: 0.9}

	assert.True(t, optimizer.ShouldFallback(result, 0.01))
}

func TestShouldFallback_ExpensiveTipWithBetterAlternative(t *testing.T) {
	router := new(mockRouter)
	router.On("BestEndpoint", interfaces.RoleExecute).Return(healthyExecEndpoint(200*time.Millisecond), nil)

	optimizer := NewOptimizer(nil, router, zap.NewNop())

	// Tip eats most of the profit and success is uncertain.
	costly := &interfaces.TipResult{TipSOL: 0.005, ExpectedSuccessRate: 0.6}
	assert.True(t, optimizer.ShouldFallback(costly, 0.008))

	// Cheap tip with high success keeps the priority path.
	cheap := &interfaces.TipResult{TipSOL: 0.001, ExpectedSuccessRate: 0.95}
	assert.False(t, optimizer.ShouldFallback(cheap, 0.008))
}

func TestTiming_LatencyBands(t *testing.T) {
	cases := []struct {
		latency     time.Duration
		delay       time.Duration
		propagation time.Duration
	}{
		{100 * time.Millisecond, 50 * time.Millisecond, 100 * time.Millisecond},
		{500 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond},
		{1200 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond},
	}

	for _, tc := range cases {
		router := new(mockRouter)
		router.On("BestEndpoint", interfaces.RoleExecute).Return(healthyExecEndpoint(tc.latency), nil)
		optimizer := NewOptimizer(nil, router, zap.NewNop())

		timing := optimizer.Timing()
		require.NotNil(t, timing)
		assert.Equal(t, tc.delay, timing.SubmitDelay, "latency %v", tc.latency)
		assert.Equal(t, tc.propagation, timing.PropagationWait, "latency %v", tc.latency)
	}
}

func TestRetriesForTip(t *testing.T) {
	assert.Equal(t, 3, RetriesForTip(0.003))
	assert.Equal(t, 2, RetriesForTip(0.001))
}
