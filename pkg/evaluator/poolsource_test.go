package evaluator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

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

func TestFetchPoolState_DecodesResult(t *testing.T) {
	router := new(mockRouter)
	router.On("Call", mock.Anything, interfaces.RoleRead, "getPoolState", mock.Anything).
		Return(map[string]interface{}{
			"pair":     "Raydium:SOL/USDC",
			"depthSol": 420.0,
			"priceSol": 150.0,
		}, nil)

	source := NewRouterPoolSource(router)
	pool, err := source.FetchPoolState(context.Background(), "Raydium:SOL/USDC")
	require.NoError(t, err)
	assert.Equal(t, "Raydium:SOL/USDC", pool.Pair)
	assert.Equal(t, 420.0, pool.DepthSOL)
	assert.Equal(t, 150.0, pool.PriceSOL)
}

func TestFetchPoolState_FillsMissingPair(t *testing.T) {
	router := new(mockRouter)
	router.On("Call", mock.Anything, interfaces.RoleRead, "getPoolState", mock.Anything).
		Return(map[string]interface{}{"depthSol": 10.0}, nil)

	pool, err := NewRouterPoolSource(router).FetchPoolState(context.Background(), "Orca:SOL/USDC")
	require.NoError(t, err)
	assert.Equal(t, "Orca:SOL/USDC", pool.Pair)
}

func TestFetchPoolState_CallFailure(t *testing.T) {
	router := new(mockRouter)
	router.On("Call", mock.Anything, interfaces.RoleRead, "getPoolState", mock.Anything).
		Return(nil, errors.New("endpoint down"))

	_, err := NewRouterPoolSource(router).FetchPoolState(context.Background(), "Raydium:SOL/USDC")
	assert.Error(t, err)
}

func TestFetchPoolState_RejectsEmptyPool(t *testing.T) {
	router := new(mockRouter)
	router.On("Call", mock.Anything, interfaces.RoleRead, "getPoolState", mock.Anything).
		Return(map[string]interface{}{"depthSol": 0.0}, nil)

	_, err := NewRouterPoolSource(router).FetchPoolState(context.Background(), "Raydium:SOL/USDC")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no liquidity")
}
