package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mev-engine/solana-mev-pipeline/internal/api"
	"github.com/mev-engine/solana-mev-pipeline/internal/config"
	"github.com/mev-engine/solana-mev-pipeline/pkg/confidence"
	"github.com/mev-engine/solana-mev-pipeline/pkg/evaluator"
	"github.com/mev-engine/solana-mev-pipeline/pkg/fees"
	"github.com/mev-engine/solana-mev-pipeline/pkg/interfaces"
	"github.com/mev-engine/solana-mev-pipeline/pkg/mempool"
	"github.com/mev-engine/solana-mev-pipeline/pkg/metrics"
	"github.com/mev-engine/solana-mev-pipeline/pkg/risk"
	"github.com/mev-engine/solana-mev-pipeline/pkg/rpc"
	"github.com/mev-engine/solana-mev-pipeline/pkg/simulation"
	"github.com/mev-engine/solana-mev-pipeline/pkg/strategy"
	"github.com/mev-engine/solana-mev-pipeline/pkg/tips"
	"github.com/mev-engine/solana-mev-pipeline/pkg/types"
)

const balanceRefreshInterval = 30 * time.Second

// Application ties the pipeline together: every observation from the stream
// flows through the evaluator and, when it survives, the executor.
type Application struct {
	config    *config.Config
	logger    *zap.Logger
	router    *rpc.Router
	collector *metrics.Collector
	alerts    *metrics.AlertManager
	gate      *risk.Gate
	evaluator *evaluator.Evaluator
	executor  *strategy.Executor
	server    *api.Server

	stream *mempool.Stream

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewApplication wires the pipeline core. The stream is attached afterwards
// because it needs the application as its handler.
func NewApplication(
	cfg *config.Config,
	logger *zap.Logger,
	router *rpc.Router,
	collector *metrics.Collector,
	alerts *metrics.AlertManager,
	gate *risk.Gate,
	eval *evaluator.Evaluator,
	executor *strategy.Executor,
	server *api.Server,
) *Application {
	return &Application{
		config:    cfg,
		logger:    logger.Named("app"),
		router:    router,
		collector: collector,
		alerts:    alerts,
		gate:      gate,
		evaluator: eval,
		executor:  executor,
		server:    server,
		stopChan:  make(chan struct{}),
	}
}

// AttachStream hands the application its transaction source.
func (a *Application) AttachStream(stream *mempool.Stream) {
	a.stream = stream
}

// HandleTransaction is the stream entry point: evaluate, then execute.
func (a *Application) HandleTransaction(ctx context.Context, tx *types.ObservedTransaction) {
	opp, err := a.evaluator.Evaluate(ctx, tx)
	if err != nil {
		a.logger.Debug("evaluation failed", zap.Error(err))
		return
	}
	if opp == nil {
		return
	}

	result, err := a.executor.Execute(ctx, opp)
	if err != nil {
		a.logger.Error("execution error",
			zap.String("opportunity", opp.ID), zap.Error(err))
		a.alerts.ReportError("executor", err)
		return
	}
	if result.Success {
		a.logger.Info("opportunity captured",
			zap.String("opportunity", opp.ID),
			zap.Float64("net_sol", result.NetSOL()))
	}
}

// Start brings the pipeline up: router probes, balance tracking, alert loop,
// stream, and the status API.
func (a *Application) Start(ctx context.Context) error {
	a.logger.Info("starting pipeline",
		zap.String("wallet", a.config.Wallet.Account),
		zap.Int("endpoints", len(a.config.RPC.Endpoints)))

	a.router.Start(ctx)
	a.refreshBalance(ctx)
	a.wg.Add(1)
	go a.balanceLoop()

	a.alerts.Start()
	if a.stream != nil {
		a.stream.Start(ctx)
	}
	if err := a.server.Start(ctx); err != nil {
		return fmt.Errorf("start status API: %w", err)
	}

	a.logger.Info("pipeline started")
	return nil
}

// Stop tears the pipeline down in reverse order.
func (a *Application) Stop(ctx context.Context) error {
	a.logger.Info("stopping pipeline")

	a.stopOnce.Do(func() { close(a.stopChan) })
	if a.stream != nil {
		a.stream.Stop()
	}
	a.alerts.Stop()
	a.router.Stop()
	a.wg.Wait()

	if err := a.server.Stop(ctx); err != nil {
		return err
	}
	a.logger.Info("pipeline stopped")
	return nil
}

// balanceLoop keeps the risk gate and metrics in sync with the wallet.
func (a *Application) balanceLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(balanceRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			a.refreshBalance(ctx)
			cancel()
		case <-a.stopChan:
			return
		}
	}
}

func (a *Application) refreshBalance(ctx context.Context) {
	balance, err := a.router.Balance(ctx, a.config.Wallet.Account)
	if err != nil {
		a.logger.Warn("balance refresh failed", zap.Error(err))
		return
	}
	if err := a.gate.UpdateBalance(balance); err != nil {
		a.logger.Warn("balance below configured minimum", zap.Float64("balance_sol", balance))
	}
	a.collector.UpdateBalance(balance)
}

// NewLogger builds the zap logger from the logging section.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Logging.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

func newRouter(cfg *config.Config, logger *zap.Logger) (*rpc.Router, error) {
	return rpc.NewRouter(&cfg.RPC, nil, logger)
}

func newCollector(router *rpc.Router) *metrics.Collector {
	collector := metrics.NewCollector()
	router.SetMetrics(collector)
	return collector
}

func newAlertManager(cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) *metrics.AlertManager {
	return metrics.NewAlertManager(&cfg.Alerts, collector, logger)
}

// newGate seeds the balance at the configured minimum; the first refresh
// replaces it with the real wallet balance.
func newGate(cfg *config.Config, logger *zap.Logger) (*risk.Gate, error) {
	return risk.NewGate(&cfg.Risk, cfg.Risk.MinBalanceSOL, logger)
}

func newFeeEstimator(cfg *config.Config, router *rpc.Router, logger *zap.Logger) interfaces.FeeEstimator {
	return fees.NewEstimator(&cfg.Fees, router, logger)
}

func newTipOptimizer(cfg *config.Config, router *rpc.Router, logger *zap.Logger) interfaces.TipOptimizer {
	return tips.NewOptimizer(&cfg.Tips, router, logger)
}

func newSimulator(cfg *config.Config, tipOptimizer interfaces.TipOptimizer, logger *zap.Logger) interfaces.Simulator {
	return simulation.NewPipeline(&cfg.Simulation, tipOptimizer, logger)
}

func newScorer(cfg *config.Config, logger *zap.Logger) (interfaces.Scorer, error) {
	return confidence.NewScorer(&cfg.Confidence, logger)
}

func newEvaluator(cfg *config.Config, router *rpc.Router, collector *metrics.Collector, logger *zap.Logger) *evaluator.Evaluator {
	return evaluator.NewEvaluator(&cfg.Evaluator, evaluator.NewRouterPoolSource(router), collector, logger)
}

func newBuilder(cfg *config.Config, router *rpc.Router, logger *zap.Logger) (interfaces.InstructionBuilder, error) {
	return strategy.NewBuilder(cfg.Wallet.Account, router, logger)
}

func newExecutor(
	cfg *config.Config,
	simulator interfaces.Simulator,
	scorer interfaces.Scorer,
	eval *evaluator.Evaluator,
	feeEstimator interfaces.FeeEstimator,
	tipOptimizer interfaces.TipOptimizer,
	gate *risk.Gate,
	router *rpc.Router,
	builder interfaces.InstructionBuilder,
	collector *metrics.Collector,
	logger *zap.Logger,
) (*strategy.Executor, error) {
	return strategy.NewExecutor(&cfg.Executor, simulator, scorer, eval, feeEstimator,
		tipOptimizer, gate, router, builder, collector, logger)
}

func newAPIServer(
	cfg *config.Config,
	collector *metrics.Collector,
	alerts *metrics.AlertManager,
	router *rpc.Router,
	gate *risk.Gate,
	logger *zap.Logger,
) *api.Server {
	return api.NewServer(&cfg.Server, api.Deps{
		Collector: collector,
		Alerts:    alerts,
		Router:    router,
		Gate:      gate,
		Gatherer:  prometheus.DefaultGatherer,
	}, logger)
}

func newStream(cfg *config.Config, app *Application, server *api.Server, router *rpc.Router, logger *zap.Logger) (*mempool.Stream, error) {
	stream, err := mempool.NewStream(&cfg.Stream, app, router, logger)
	if err != nil {
		return nil, err
	}
	app.AttachStream(stream)
	server.SetStream(stream)
	return stream, nil
}

// Module provides the fx wiring for the whole pipeline.
var Module = fx.Options(
	fx.Provide(
		NewLogger,
		newRouter,
		newCollector,
		newAlertManager,
		newGate,
		newFeeEstimator,
		newTipOptimizer,
		newSimulator,
		newScorer,
		newEvaluator,
		newBuilder,
		newExecutor,
		newAPIServer,
		NewApplication,
		newStream,
	),
)
