package evaluator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mev-engine/solana-mev-pipeline/pkg/interfaces"
)

// RouterPoolSource fetches pool state through the read endpoint's enhanced
// pool API.
type RouterPoolSource struct {
	router interfaces.EndpointRouter
}

// NewRouterPoolSource creates a pool source backed by the endpoint router.
func NewRouterPoolSource(router interfaces.EndpointRouter) *RouterPoolSource {
	return &RouterPoolSource{router: router}
}

// FetchPoolState queries the read endpoint for the pair's live pool state.
func (s *RouterPoolSource) FetchPoolState(ctx context.Context, pair string) (*PoolState, error) {
	result, err := s.router.Call(ctx, interfaces.RoleRead, "getPoolState", pair)
	if err != nil {
		return nil, fmt.Errorf("getPoolState %s: %w", pair, err)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("re-encode pool state: %w", err)
	}
	var pool PoolState
	if err := json.Unmarshal(raw, &pool); err != nil {
		return nil, fmt.Errorf("decode pool state for %s: %w", pair, err)
	}
	if pool.Pair == "" {
		pool.Pair = pair
	}
	if pool.DepthSOL <= 0 {
		return nil, fmt.Errorf("pool state for %s reports no liquidity", pair)
	}
	return &pool, nil
}
