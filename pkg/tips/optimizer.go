package tips

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mev-engine/solana-mev-pipeline/pkg/interfaces"
	"github.com/mev-engine/solana-mev-pipeline/pkg/types"
)

const (
	minTipSOL = 0.0001
	maxTipSOL = 0.01

	historyLimit      = 100
	minHistoryForTune = 10

	// Effective-profit discount applied to the fallback path when deciding
	// whether to abandon the priority submission route.
	fallbackProfitDiscount = 0.85
	fallbackTipFloor       = 0.0015

	maxBundleSizeBeforeWarn = 5
)

// Default rotation of valid tip destination accounts.
var defaultTipAccounts = []string{
	"96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5",
	"HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe",
	"Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY",
	"ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49",
	"DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh",
	"ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt",
	"DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL",
	"3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT",
}

// Config holds the tunable tip-optimizer settings.
type Config struct {
	MinTipSOL   float64  `mapstructure:"min_tip_sol"`
	MaxTipSOL   float64  `mapstructure:"max_tip_sol"`
	TipAccounts []string `mapstructure:"tip_accounts"`
}

// DefaultConfig returns the documented tip bounds and account rotation.
func DefaultConfig() *Config {
	return &Config{
		MinTipSOL:   minTipSOL,
		MaxTipSOL:   maxTipSOL,
		TipAccounts: defaultTipAccounts,
	}
}

// tipOutcome is one entry of the bounded tip history.
type tipOutcome struct {
	tipSOL  float64
	success bool
	at      time.Time
}

// Optimizer computes execution-priority tips, rotates tip destinations, and
// self-tunes its base tip from outcome history. A simple adaptive-control
// loop, not a learned model.
type Optimizer struct {
	config *Config
	router interfaces.EndpointRouter
	logger *zap.Logger

	mu           sync.Mutex
	history      []tipOutcome
	accountIndex int
	baseTipScale float64
}

// NewOptimizer creates a tip optimizer. A nil config gets DefaultConfig.
func NewOptimizer(config *Config, router interfaces.EndpointRouter, logger *zap.Logger) *Optimizer {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MinTipSOL <= 0 {
		config.MinTipSOL = minTipSOL
	}
	if config.MaxTipSOL <= 0 {
		config.MaxTipSOL = maxTipSOL
	}
	if len(config.TipAccounts) == 0 {
		config.TipAccounts = defaultTipAccounts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{
		config:       config,
		router:       router,
		logger:       logger.Named("tips"),
		baseTipScale: 1.0,
	}
}

// OptimalTip computes the tip for one opportunity given estimated congestion
// and competition, both in [0,1]. Monotonically non-decreasing in each.
func (o *Optimizer) OptimalTip(ctx context.Context, opportunityValue, congestion, competition float64) *interfaces.TipResult {
	base := baseTipForValue(opportunityValue)

	o.mu.Lock()
	scale := o.baseTipScale
	o.mu.Unlock()

	tip := base * scale * (1 + 0.5*congestion) * (1 + 0.8*competition)
	tip = o.clampTip(tip)

	result := &interfaces.TipResult{
		TipSOL:              tip,
		TipAccount:          o.nextTipAccount(),
		Confidence:          tipConfidence(opportunityValue, tip),
		ExpectedSuccessRate: expectedSuccessRate(tip),
	}

	o.logger.Debug("computed tip",
		zap.Float64("value_sol", opportunityValue),
		zap.Float64("tip_sol", result.TipSOL),
		zap.String("tip_account", result.TipAccount),
		zap.Float64("expected_success", result.ExpectedSuccessRate))
	return result
}

// baseTipForValue is a step function of opportunity value.
func baseTipForValue(value float64) float64 {
	switch {
	case value > 1.0:
		return 0.003
	case value > 0.5:
		return 0.002
	case value > 0.1:
		return 0.0015
	case value > 0.01:
		return 0.001
	default:
		return 0.0005
	}
}

// tipConfidence blends how confident we are in the value estimate with how
// generous the tip is relative to the competitive band.
func tipConfidence(value, tip float64) float64 {
	valueConfidence := 0.5
	if value > 0.1 {
		valueConfidence = 0.8
	}
	tipStrength := tip / 0.005
	if tipStrength > 1.0 {
		tipStrength = 1.0
	}
	return 0.6*valueConfidence + 0.4*tipStrength
}

// expectedSuccessRate maps the tip amount onto historical inclusion bands.
func expectedSuccessRate(tip float64) float64 {
	switch {
	case tip >= 0.003:
		return 0.95
	case tip >= 0.0015:
		return 0.85
	case tip >= 0.001:
		return 0.75
	default:
		return 0.60
	}
}

// nextTipAccount rotates round-robin across the configured destinations.
func (o *Optimizer) nextTipAccount() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	account := o.config.TipAccounts[o.accountIndex%len(o.config.TipAccounts)]
	o.accountIndex++
	return account
}

// RecordTipResult appends one outcome to the bounded history.
func (o *Optimizer) RecordTipResult(tipSOL float64, success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.history = append(o.history, tipOutcome{tipSOL: tipSOL, success: success, at: time.Now()})
	if len(o.history) > historyLimit {
		o.history = o.history[len(o.history)-historyLimit:]
	}
}

// AdjustFromHistory raises the base tip when the recent success rate is poor
// and lowers it when inclusion is near-certain, within the safety band.
func (o *Optimizer) AdjustFromHistory() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.history) < minHistoryForTune {
		return
	}

	successes := 0
	for _, h := range o.history {
		if h.success {
			successes++
		}
	}
	rate := float64(successes) / float64(len(o.history))

	switch {
	case rate < 0.7:
		o.baseTipScale *= 1.1
	case rate > 0.9:
		o.baseTipScale *= 0.95
	default:
		return
	}

	// Keep the scaled maximum base tip inside the clamp band.
	if o.baseTipScale*0.003 > o.config.MaxTipSOL {
		o.baseTipScale = o.config.MaxTipSOL / 0.003
	}
	if o.baseTipScale*0.0005 < o.config.MinTipSOL {
		o.baseTipScale = o.config.MinTipSOL / 0.0005
	}

	o.logger.Info("adjusted tip scale from history",
		zap.Float64("success_rate", rate),
		zap.Float64("scale", o.baseTipScale))
}

// SuccessRate returns the recent tip success rate, or 1.0 with no history.
func (o *Optimizer) SuccessRate() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.history) == 0 {
		return 1.0
	}
	successes := 0
	for _, h := range o.history {
		if h.success {
			successes++
		}
	}
	return float64(successes) / float64(len(o.history))
}

// ShouldFallback reports whether the plain submission path beats the priority
// path: either the discounted alternative profit exceeds the tip path's
// success-weighted net while the tip is expensive, or the execute endpoint is
// unhealthy outright.
func (o *Optimizer) ShouldFallback(result *interfaces.TipResult, altExpectedProfit float64) bool {
	if result == nil {
		return true
	}

	if _, err := o.router.BestEndpoint(interfaces.RoleExecute); err != nil {
		o.logger.Info("fallback: execute endpoint unavailable", zap.Error(err))
		return true
	}

	tipPathNet := (altExpectedProfit - result.TipSOL) * result.ExpectedSuccessRate
	altEffective := altExpectedProfit * fallbackProfitDiscount

	if altEffective > tipPathNet && result.TipSOL > fallbackTipFloor {
		o.logger.Info("fallback: alternative path more profitable",
			zap.Float64("alt_effective_sol", altEffective),
			zap.Float64("tip_path_net_sol", tipPathNet),
			zap.Float64("tip_sol", result.TipSOL))
		return true
	}
	return false
}

// Timing derives the submission pacing from the execute endpoint's measured
// latency: faster endpoints get tighter windows. The retry budget is
// tip-dependent and comes from RetriesForTip.
func (o *Optimizer) Timing() *interfaces.BundleTiming {
	latency := 800 * time.Millisecond
	if ep, err := o.router.BestEndpoint(interfaces.RoleExecute); err == nil && ep.Health.Latency > 0 {
		latency = ep.Health.Latency
	}

	timing := &interfaces.BundleTiming{}
	switch {
	case latency < 300*time.Millisecond:
		timing.SubmitDelay = 50 * time.Millisecond
		timing.PropagationWait = 100 * time.Millisecond
	case latency < 800*time.Millisecond:
		timing.SubmitDelay = 100 * time.Millisecond
		timing.PropagationWait = 200 * time.Millisecond
	default:
		timing.SubmitDelay = 200 * time.Millisecond
		timing.PropagationWait = 400 * time.Millisecond
	}
	return timing
}

// RetriesForTip returns the retry budget for a bundle carrying the given tip.
func RetriesForTip(tipSOL float64) int {
	if tipSOL > 0.002 {
		return 3
	}
	return 2
}

// ValidateBundle warns on oversized bundles. Large bundles propagate slowly
// and lose priority auctions.
func (o *Optimizer) ValidateBundle(bundle *types.Bundle) {
	if bundle.Size() > maxBundleSizeBeforeWarn {
		o.logger.Warn("bundle larger than recommended",
			zap.String("bundle_id", bundle.ID),
			zap.Int("size", bundle.Size()))
	}
}

func (o *Optimizer) clampTip(tip float64) float64 {
	if tip < o.config.MinTipSOL {
		return o.config.MinTipSOL
	}
	if tip > o.config.MaxTipSOL {
		return o.config.MaxTipSOL
	}
	return tip
}
