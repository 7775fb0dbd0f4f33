package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mev-engine/solana-mev-pipeline/pkg/interfaces"
	"github.com/mev-engine/solana-mev-pipeline/pkg/risk"
	"github.com/mev-engine/solana-mev-pipeline/pkg/rpc"
	"github.com/mev-engine/solana-mev-pipeline/pkg/simulation"
	"github.com/mev-engine/solana-mev-pipeline/pkg/tips"
	"github.com/mev-engine/solana-mev-pipeline/pkg/types"
)

// Per-kind minimum net profit floors, in SOL. Sandwich bears two
// transactions' worth of risk and gets the higher floor.
const (
	defaultProfitFloorSOL  = 0.005
	sandwichProfitFloorSOL = 0.01

	defaultMaxVariance = 0.30
	safetyMarginSOL    = 0.005
)

// Pipeline stage labels used in rejection metrics and reasons.
const (
	StageSimulation = "simulation"
	StageVariance   = "variance"
	StageConfidence = "confidence"
	StageProfit     = "profit_floor"
	StageVerify     = "verify"
	StageRisk       = "risk_gate"
	StageBuild      = "build"
	StageSubmit     = "submit"
)

// Config holds the executor settings.
type Config struct {
	MaxVarianceFraction float64 `mapstructure:"max_variance_fraction"`
	SafetyMarginSOL     float64 `mapstructure:"safety_margin_sol"`
}

// DefaultConfig returns the documented executor defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxVarianceFraction: defaultMaxVariance,
		SafetyMarginSOL:     safetyMarginSOL,
	}
}

// Executor orchestrates one opportunity through the whole pipeline:
// simulate, variance, confidence, fees and tip, profit floor, risk admission,
// bundle build, submission, and outcome recording. Every rejection carries
// the failing stage and the numbers involved.
type Executor struct {
	config    *Config
	simulator interfaces.Simulator
	scorer    interfaces.Scorer
	verifier  interfaces.OpportunityVerifier
	fees      interfaces.FeeEstimator
	tips      interfaces.TipOptimizer
	gate      *risk.Gate
	router    interfaces.EndpointRouter
	builder   interfaces.InstructionBuilder
	metrics   interfaces.MetricsSink
	logger    *zap.Logger
}

// NewExecutor wires the executor. Every collaborator is required; a missing
// one is a startup error, not a runtime branch.
func NewExecutor(
	config *Config,
	simulator interfaces.Simulator,
	scorer interfaces.Scorer,
	verifier interfaces.OpportunityVerifier,
	feeEstimator interfaces.FeeEstimator,
	tipOptimizer interfaces.TipOptimizer,
	gate *risk.Gate,
	router interfaces.EndpointRouter,
	builder interfaces.InstructionBuilder,
	metrics interfaces.MetricsSink,
	logger *zap.Logger,
) (*Executor, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxVarianceFraction <= 0 {
		config.MaxVarianceFraction = defaultMaxVariance
	}
	if config.SafetyMarginSOL <= 0 {
		config.SafetyMarginSOL = safetyMarginSOL
	}
	switch {
	case simulator == nil:
		return nil, fmt.Errorf("executor requires a simulator")
	case scorer == nil:
		return nil, fmt.Errorf("executor requires a confidence scorer")
	case verifier == nil:
		return nil, fmt.Errorf("executor requires an opportunity verifier")
	case feeEstimator == nil:
		return nil, fmt.Errorf("executor requires a fee estimator")
	case tipOptimizer == nil:
		return nil, fmt.Errorf("executor requires a tip optimizer")
	case gate == nil:
		return nil, fmt.Errorf("executor requires a risk gate")
	case router == nil:
		return nil, fmt.Errorf("executor requires an endpoint router")
	case builder == nil:
		return nil, fmt.Errorf("executor requires an instruction builder")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		config:    config,
		simulator: simulator,
		scorer:    scorer,
		verifier:  verifier,
		fees:      feeEstimator,
		tips:      tipOptimizer,
		gate:      gate,
		router:    router,
		builder:   builder,
		metrics:   metrics,
		logger:    logger.Named("executor"),
	}, nil
}

// profitFloorFor returns the minimum net profit for a kind. The switch is
// exhaustive over the closed kind set.
func profitFloorFor(kind types.OpportunityType) float64 {
	switch kind {
	case types.OpportunitySandwich:
		return sandwichProfitFloorSOL
	case types.OpportunityArbitrage, types.OpportunityFrontrun,
		types.OpportunityLiquidation, types.OpportunityOther:
		return defaultProfitFloorSOL
	}
	return defaultProfitFloorSOL
}

// Execute runs one opportunity end to end. Decision rejections return a
// failed StrategyResult with a reason and a nil error; errors are reserved
// for malformed input.
func (e *Executor) Execute(ctx context.Context, opp *types.Opportunity) (*types.StrategyResult, error) {
	if opp == nil {
		return nil, fmt.Errorf("nil opportunity")
	}
	if !opp.Type.Valid() {
		return nil, fmt.Errorf("unknown opportunity kind %q", opp.Type)
	}

	start := time.Now()

	// A disabled kind never reaches any later stage.
	if !e.gate.StrategyEnabled(opp.Type) {
		return e.reject(opp, StageRisk, start,
			fmt.Sprintf("strategy %s currently disabled", opp.Type)), nil
	}

	validation, err := e.simulator.Simulate(ctx, opp)
	if err != nil {
		return e.reject(opp, StageSimulation, start, fmt.Sprintf("simulation failed: %v", err)), nil
	}
	if !validation.IsProfitable {
		return e.reject(opp, StageSimulation, start,
			fmt.Sprintf("not profitable: best net %.6f SOL over %d scenarios",
				validation.NetProfitSOL, len(validation.Results))), nil
	}

	variance, err := e.simulator.AssessVariance(ctx, opp)
	if err != nil {
		return e.reject(opp, StageVariance, start, fmt.Sprintf("variance assessment failed: %v", err)), nil
	}
	if variance > e.config.MaxVarianceFraction {
		return e.reject(opp, StageVariance, start,
			fmt.Sprintf("profit variance %.2f exceeds %.2f", variance, e.config.MaxVarianceFraction)), nil
	}

	filter := e.scorer.Evaluate(opp, validation.Results)
	if !filter.ShouldExecute {
		return e.reject(opp, StageConfidence, start, filter.Reason), nil
	}

	// Fee-only screen before the tip computation: a gross that cannot even
	// cover fees plus the safety margin never reaches the finer accounting.
	screen := e.fees.Profitability(ctx, opp.GrossProfitSOL, opp.GrossProfitSOL)
	if !screen.IsProfitable {
		return e.reject(opp, StageProfit, start,
			fmt.Sprintf("gross %.6f cannot cover execution costs %.6f",
				opp.GrossProfitSOL, screen.TotalCostSOL)), nil
	}
	feeEstimate := screen.Estimate

	contention := e.contention(ctx)
	tipResult := e.tips.OptimalTip(ctx, opp.GrossProfitSOL, contention, contention)

	slippage := 0.0
	if validation.Best != nil {
		slippage = validation.Best.SlippageSOL
	}
	netProfit := simulation.NetProfit(opp.GrossProfitSOL, feeEstimate.TotalSOL(),
		tipResult.TipSOL, slippage, e.config.SafetyMarginSOL)

	floor := profitFloorFor(opp.Type)
	if netProfit < floor {
		return e.reject(opp, StageProfit, start,
			fmt.Sprintf("net profit %.6f below %s floor %.6f", netProfit, opp.Type, floor)), nil
	}

	// Pool data backing the detection may be stale by now.
	if err := e.verifier.Verify(ctx, opp); err != nil {
		return e.reject(opp, StageVerify, start, fmt.Sprintf("verification failed: %v", err)), nil
	}

	cost := feeEstimate.TotalSOL() + tipResult.TipSOL
	reservation, err := e.gate.Admit(opp.Type, netProfit, cost)
	if err != nil {
		return e.reject(opp, StageRisk, start, fmt.Sprintf("risk gate denied: %v", err)), nil
	}

	// Not paying the tip leaves its amount on the table as extra profit;
	// when that beats the discounted priority path, submit plain.
	if e.tips.ShouldFallback(tipResult, netProfit+tipResult.TipSOL) {
		return e.submitDirect(ctx, opp, reservation, feeEstimate, netProfit+tipResult.TipSOL, start), nil
	}

	bundle, err := e.buildBundle(ctx, opp, tipResult)
	if err != nil {
		reservation.Release()
		return e.reject(opp, StageBuild, start, fmt.Sprintf("bundle build failed: %v", err)), nil
	}

	return e.submit(ctx, opp, bundle, reservation, feeEstimate, tipResult, netProfit, start), nil
}

// contention folds the competition level into a [0,1] scalar fed to the tip
// computation.
func (e *Executor) contention(ctx context.Context) float64 {
	return float64(e.fees.Competition(ctx)) / 3.0
}

// buildBundle delegates transaction materialization to the instruction
// builder and appends the tip transfer.
func (e *Executor) buildBundle(ctx context.Context, opp *types.Opportunity, tip *interfaces.TipResult) (*types.Bundle, error) {
	txs, err := e.builder.BuildTransactions(ctx, opp)
	if err != nil {
		return nil, fmt.Errorf("build %s transactions: %w", opp.Type, err)
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("builder returned no transactions for %s", opp.Type)
	}
	tipTx, err := e.builder.BuildTipTransaction(ctx, tip.TipAccount, tip.TipSOL)
	if err != nil {
		return nil, fmt.Errorf("build tip transaction: %w", err)
	}
	return types.NewBundle(txs, tipTx, tip.TipAccount, tip.TipSOL), nil
}

// submit sends the bundle with the micro-delay/retry policy derived from
// current endpoint latency, settles the reservation with the outcome, and
// feeds every feedback loop.
func (e *Executor) submit(
	ctx context.Context,
	opp *types.Opportunity,
	bundle *types.Bundle,
	reservation *risk.Reservation,
	feeEstimate *interfaces.FeeEstimate,
	tipResult *interfaces.TipResult,
	netProfit float64,
	start time.Time,
) *types.StrategyResult {
	encoded := make([]string, 0, len(bundle.Transactions))
	for _, tx := range bundle.Transactions {
		encoded = append(encoded, tx.Encoded)
	}

	timing := e.tips.Timing()
	retries := tips.RetriesForTip(tipResult.TipSOL)

	var bundleID string
	var submitErr error
	for attempt := 0; attempt < retries; attempt++ {
		if err := sleepCtx(ctx, timing.SubmitDelay); err != nil {
			submitErr = err
			break
		}
		bundleID, submitErr = e.router.SubmitBundle(ctx, encoded)
		if submitErr == nil {
			break
		}
		if errors.Is(submitErr, rpc.ErrNoHealthyEndpoint) {
			// Nothing was submitted; return the cost and surface the
			// degraded-mode rejection instead of settling a failure.
			reservation.Release()
			return e.reject(opp, StageSubmit, start, "no healthy endpoint for bundle submission")
		}
		e.logger.Warn("bundle submission failed, retrying",
			zap.String("bundle_id", bundle.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(submitErr))
	}

	elapsed := time.Since(start)
	success := submitErr == nil

	actualSpend := feeEstimate.TotalSOL() + tipResult.TipSOL
	profit := 0.0
	if success {
		profit = netProfit
		_ = sleepCtx(ctx, timing.PropagationWait)
	}
	reservation.Settle(success, actualSpend, profit)

	e.tips.RecordTipResult(tipResult.TipSOL, success)
	e.tips.AdjustFromHistory()
	e.fees.AdjustFeeStrategy(success, elapsed)
	e.scorer.RecordOutcome(opp.Sender, success)
	if !success {
		// Every check passed and the attempt still lost money.
		e.scorer.RecordFalsePositive()
	}

	result := &types.StrategyResult{
		OpportunityID: opp.ID,
		Strategy:      opp.Type,
		Success:       success,
		ProfitSOL:     profit,
		FeesPaidSOL:   feeEstimate.TotalSOL(),
		TipPaidSOL:    tipResult.TipSOL,
		BundleID:      bundleID,
		ExecutionTime: elapsed,
		CompletedAt:   time.Now(),
	}
	if !success {
		result.Reason = fmt.Sprintf("submission failed after %d attempts: %v", retries, submitErr)
		e.recordResult(result)
		e.logger.Warn("execution failed",
			zap.String("opportunity", opp.ID),
			zap.String("reason", result.Reason))
		return result
	}
	e.recordResult(result)

	e.logger.Info("bundle executed",
		zap.String("opportunity", opp.ID),
		zap.String("bundle_id", bundleID),
		zap.Float64("net_profit_sol", profit),
		zap.Duration("elapsed", elapsed))
	return result
}

// submitDirect is the tip-free route: each leg goes through sendTransaction
// on the execute endpoint instead of riding a priority bundle. The reserved
// tip comes back at settle time since only fees are spent.
func (e *Executor) submitDirect(
	ctx context.Context,
	opp *types.Opportunity,
	reservation *risk.Reservation,
	feeEstimate *interfaces.FeeEstimate,
	netProfit float64,
	start time.Time,
) *types.StrategyResult {
	txs, err := e.builder.BuildTransactions(ctx, opp)
	if err != nil {
		reservation.Release()
		return e.reject(opp, StageBuild, start, fmt.Sprintf("transaction build failed: %v", err))
	}

	var lastSig string
	var submitErr error
	for _, tx := range txs {
		var res interface{}
		res, submitErr = e.router.Call(ctx, interfaces.RoleExecute, "sendTransaction", tx.Encoded)
		if submitErr != nil {
			break
		}
		if sig, ok := res.(string); ok {
			lastSig = sig
		}
	}

	elapsed := time.Since(start)
	success := submitErr == nil

	profit := 0.0
	if success {
		profit = netProfit
	}
	reservation.Settle(success, feeEstimate.TotalSOL(), profit)

	e.fees.AdjustFeeStrategy(success, elapsed)
	e.scorer.RecordOutcome(opp.Sender, success)
	if !success {
		e.scorer.RecordFalsePositive()
	}

	result := &types.StrategyResult{
		OpportunityID: opp.ID,
		Strategy:      opp.Type,
		Success:       success,
		ProfitSOL:     profit,
		FeesPaidSOL:   feeEstimate.TotalSOL(),
		BundleID:      lastSig,
		ExecutionTime: elapsed,
		CompletedAt:   time.Now(),
	}
	if !success {
		result.Reason = fmt.Sprintf("direct submission failed: %v", submitErr)
		e.recordResult(result)
		e.logger.Warn("execution failed",
			zap.String("opportunity", opp.ID),
			zap.String("reason", result.Reason))
		return result
	}
	e.recordResult(result)

	e.logger.Info("transactions executed without tip",
		zap.String("opportunity", opp.ID),
		zap.String("signature", lastSig),
		zap.Float64("net_profit_sol", profit),
		zap.Duration("elapsed", elapsed))
	return result
}

func (e *Executor) recordResult(result *types.StrategyResult) {
	if e.metrics != nil {
		e.metrics.RecordResult(result)
	}
}

// reject builds the terminal record for a decision rejection and counts it.
func (e *Executor) reject(opp *types.Opportunity, stage string, start time.Time, reason string) *types.StrategyResult {
	if e.metrics != nil {
		e.metrics.RecordRejection(opp.Type, stage)
	}
	e.logger.Info("opportunity rejected",
		zap.String("opportunity", opp.ID),
		zap.String("stage", stage),
		zap.String("reason", reason))
	return &types.StrategyResult{
		OpportunityID: opp.ID,
		Strategy:      opp.Type,
		Success:       false,
		Reason:        fmt.Sprintf("%s: %s", stage, reason),
		ExecutionTime: time.Since(start),
		CompletedAt:   time.Now(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
