package evaluator

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/mev-engine/solana-mev-pipeline/pkg/interfaces"
	"github.com/mev-engine/solana-mev-pipeline/pkg/types"
)

const (
	defaultProfitThreshold = 0.005
	profitFeeMultiple      = 10.0

	poolCacheTTL  = time.Second
	priceCacheTTL = 5 * time.Second

	// Detail fetches sit on the hot path; a slow pool read means the
	// opportunity is already gone. Timeout reads as "not an opportunity".
	detailFetchTimeout = 500 * time.Millisecond

	minPoolDepthMultiple = 10.0

	sandwichValueFloor = 1.0
	frontrunValueFloor = 0.1
)

// PoolState is a point-in-time view of one pool's liquidity and price.
type PoolState struct {
	Pair      string    `json:"pair"`
	DepthSOL  float64   `json:"depthSol"`
	PriceSOL  float64   `json:"priceSol"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// PoolSource fetches live pool state. The evaluator caches its answers.
type PoolSource interface {
	FetchPoolState(ctx context.Context, pair string) (*PoolState, error)
}

// Config holds the evaluator settings.
type Config struct {
	ProfitThresholdSOL float64 `mapstructure:"profit_threshold_sol"`
}

// DefaultConfig returns the documented evaluator defaults.
func DefaultConfig() *Config {
	return &Config{ProfitThresholdSOL: defaultProfitThreshold}
}

// Evaluator classifies observed transactions into candidate opportunities.
// Pool and price reads go through short-TTL read-through caches: staleness
// beyond the TTL triggers a refetch, never a stale read.
type Evaluator struct {
	config  *Config
	pools   PoolSource
	logger  *zap.Logger
	metrics interfaces.MetricsSink

	poolCache  *gocache.Cache
	priceCache *gocache.Cache
}

// NewEvaluator creates an evaluator. A nil config gets DefaultConfig.
func NewEvaluator(config *Config, pools PoolSource, metrics interfaces.MetricsSink, logger *zap.Logger) *Evaluator {
	if config == nil {
		config = DefaultConfig()
	}
	if config.ProfitThresholdSOL <= 0 {
		config.ProfitThresholdSOL = defaultProfitThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		config:     config,
		pools:      pools,
		logger:     logger.Named("evaluator"),
		metrics:    metrics,
		poolCache:  gocache.New(poolCacheTTL, 2*poolCacheTTL),
		priceCache: gocache.New(priceCacheTTL, 2*priceCacheTTL),
	}
}

// Evaluate classifies one observed transaction. A nil opportunity with a nil
// error means the transaction is simply not worth reacting to; errors are
// reserved for malformed input.
func (e *Evaluator) Evaluate(ctx context.Context, tx *types.ObservedTransaction) (*types.Opportunity, error) {
	if tx == nil {
		return nil, fmt.Errorf("nil transaction")
	}

	kind := classify(tx)
	if kind == "" {
		return nil, nil
	}

	gross := estimateGrossProfit(tx)
	if gross < e.config.ProfitThresholdSOL {
		e.logger.Debug("below profit threshold",
			zap.String("signature", tx.Signature),
			zap.Float64("gross_sol", gross),
			zap.Float64("threshold_sol", e.config.ProfitThresholdSOL))
		return nil, nil
	}

	pair := pairForTransaction(tx)
	pool, err := e.poolState(ctx, pair)
	if err != nil {
		// Fail safe: no fresh pool data means no opportunity.
		e.logger.Info("pool fetch failed, dropping candidate",
			zap.String("signature", tx.Signature),
			zap.String("pair", pair),
			zap.Error(err))
		return nil, nil
	}

	opp := types.NewOpportunity(kind, pair, tx.ValueSOL, gross)
	opp.PoolDepthSOL = pool.DepthSOL
	opp.DEX = tx.DEXName()
	opp.TargetTx = tx.Signature
	opp.Sender = tx.Sender

	if e.metrics != nil {
		e.metrics.RecordOpportunity(kind)
	}
	e.logger.Info("opportunity detected",
		zap.String("id", opp.ID),
		zap.String("type", string(kind)),
		zap.String("dex", opp.DEX),
		zap.Float64("gross_sol", gross))
	return opp, nil
}

// Verify re-checks a detected opportunity just before execution: the pool
// must still carry the liquidity multiple and the profit estimate must still
// clear the threshold.
func (e *Evaluator) Verify(ctx context.Context, opp *types.Opportunity) error {
	if opp == nil {
		return fmt.Errorf("nil opportunity")
	}

	pool, err := e.poolState(ctx, opp.TokenPair)
	if err != nil {
		return fmt.Errorf("verify pool state: %w", err)
	}
	if pool.DepthSOL < minPoolDepthMultiple*opp.TradeSizeSOL {
		return fmt.Errorf("pool depth %.4f below %.0fx trade size %.4f",
			pool.DepthSOL, minPoolDepthMultiple, opp.TradeSizeSOL)
	}
	if opp.GrossProfitSOL < e.config.ProfitThresholdSOL {
		return fmt.Errorf("gross profit %.6f below threshold %.6f",
			opp.GrossProfitSOL, e.config.ProfitThresholdSOL)
	}
	return nil
}

// poolState is the read-through cache around the pool source.
func (e *Evaluator) poolState(ctx context.Context, pair string) (*PoolState, error) {
	if cached, ok := e.poolCache.Get(pair); ok {
		return cached.(*PoolState), nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, detailFetchTimeout)
	defer cancel()

	pool, err := e.pools.FetchPoolState(fetchCtx, pair)
	if err != nil {
		return nil, err
	}
	pool.FetchedAt = time.Now()
	e.poolCache.Set(pair, pool, gocache.DefaultExpiration)
	e.priceCache.Set(pair, pool.PriceSOL, gocache.DefaultExpiration)
	return pool, nil
}

// Price returns the cached price for a pair when one is fresh.
func (e *Evaluator) Price(pair string) (float64, bool) {
	if cached, ok := e.priceCache.Get(pair); ok {
		return cached.(float64), true
	}
	return 0, false
}

// classify maps an observed transaction onto an opportunity kind, or ""
// when the transaction is not actionable.
func classify(tx *types.ObservedTransaction) types.OpportunityType {
	switch tx.Kind() {
	case types.InstructionSwap:
		switch {
		case tx.ValueSOL >= sandwichValueFloor:
			return types.OpportunitySandwich
		case tx.ValueSOL >= frontrunValueFloor:
			return types.OpportunityFrontrun
		default:
			return types.OpportunityArbitrage
		}
	case types.InstructionLiquidate:
		return types.OpportunityLiquidation
	case types.InstructionTransfer, types.InstructionLiquidity, types.InstructionUnknown:
		return ""
	}
	return ""
}

// estimateGrossProfit is the cheap first-pass heuristic: the fee a sender was
// willing to pay scales with the value they expect to capture.
func estimateGrossProfit(tx *types.ObservedTransaction) float64 {
	return tx.FeeSOL * profitFeeMultiple
}

// pairForTransaction derives the token-pair label from the venue.
func pairForTransaction(tx *types.ObservedTransaction) string {
	return fmt.Sprintf("%s:SOL/USDC", tx.DEXName())
}
