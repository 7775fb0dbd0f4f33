package risk

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mev-engine/solana-mev-pipeline/pkg/types"
)

// Limits bounds how much the pipeline may lose. All fields are required:
// startup must fail when any of them is missing (see internal/config), so a
// safety control is never disabled silently.
type Limits struct {
	MaxLossPerBundleSOL   float64       `mapstructure:"max_loss_per_bundle_sol"`
	DailySpendingLimit    float64       `mapstructure:"daily_spending_limit_sol"`
	MinBalanceSOL         float64       `mapstructure:"min_balance_sol"`
	MaxConsecutiveFails   int           `mapstructure:"max_consecutive_failures"`
	MaxStrategyFailures   int           `mapstructure:"max_strategy_failures"`
	SessionTimeout        time.Duration `mapstructure:"session_timeout"`
	StrategyDisableWindow time.Duration `mapstructure:"strategy_disable_window"`
}

// Validate reports every missing risk-bounding setting at once.
func (l *Limits) Validate() error {
	var missing []string
	if l.MaxLossPerBundleSOL <= 0 {
		missing = append(missing, "max_loss_per_bundle_sol")
	}
	if l.DailySpendingLimit <= 0 {
		missing = append(missing, "daily_spending_limit_sol")
	}
	if l.MinBalanceSOL <= 0 {
		missing = append(missing, "min_balance_sol")
	}
	if l.MaxConsecutiveFails <= 0 {
		missing = append(missing, "max_consecutive_failures")
	}
	if l.MaxStrategyFailures <= 0 {
		missing = append(missing, "max_strategy_failures")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required risk settings: %v", missing)
	}
	if l.StrategyDisableWindow <= 0 {
		l.StrategyDisableWindow = time.Hour
	}
	return nil
}

// strategyState is the per-kind circuit breaker: Enabled, or Disabled until a
// timestamp. Re-enabling, automatic or manual, resets the failure counter.
type strategyState struct {
	failures      int
	disabledUntil time.Time
}

func (s *strategyState) disabled(now time.Time) bool {
	return now.Before(s.disabledUntil)
}

// Gate enforces the global risk invariants. All admission state lives behind
// one mutex so that the check-then-reserve sequence is a single critical
// section: two concurrent attempts can never both pass a check that only one
// of them should.
type Gate struct {
	limits *Limits
	logger *zap.Logger

	mu                  sync.Mutex
	balanceSOL          float64
	initialBalanceSOL   float64
	totalSpentSOL       float64
	totalEarnedSOL      float64
	dailySpentSOL       float64
	dailyWindowStart    time.Time
	consecutiveFailures int
	sessionStart        time.Time
	strategies          map[types.OpportunityType]*strategyState
}

// Snapshot is a point-in-time copy of the gate's accounting.
type Snapshot struct {
	BalanceSOL          float64                            `json:"balanceSol"`
	TotalSpentSOL       float64                            `json:"totalSpentSol"`
	TotalEarnedSOL      float64                            `json:"totalEarnedSol"`
	DailySpentSOL       float64                            `json:"dailySpentSol"`
	ConsecutiveFailures int                                `json:"consecutiveFailures"`
	DisabledStrategies  map[types.OpportunityType]time.Time `json:"disabledStrategies"`
}

// NewGate creates a risk gate with the given limits and starting balance.
func NewGate(limits *Limits, initialBalanceSOL float64, logger *zap.Logger) (*Gate, error) {
	if limits == nil {
		return nil, fmt.Errorf("risk limits are required")
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	now := time.Now()
	strategies := make(map[types.OpportunityType]*strategyState, len(types.AllOpportunityTypes))
	for _, kind := range types.AllOpportunityTypes {
		strategies[kind] = &strategyState{}
	}
	return &Gate{
		limits:            limits,
		logger:            logger.Named("risk"),
		balanceSOL:        initialBalanceSOL,
		initialBalanceSOL: initialBalanceSOL,
		dailyWindowStart:  now,
		sessionStart:      now,
		strategies:        strategies,
	}, nil
}

// Reservation holds the cost reserved for one admitted attempt. Settle must
// be called exactly once with the real outcome.
type Reservation struct {
	gate     *Gate
	strategy types.OpportunityType
	costSOL  float64
	settled  bool
}

// Admit runs every admission check and reserves the projected cost in one
// critical section. Order: per-bundle loss ceiling, session window, daily
// ceiling, balance, global failure ceiling, strategy disablement. The first
// failing check returns its distinct error without mutating any further state.
func (g *Gate) Admit(kind types.OpportunityType, expectedProfitSOL, costSOL float64) (*Reservation, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown strategy kind %q", kind)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	g.rollDailyWindowLocked(now)

	// The whole cost is at risk on a failed bundle.
	if costSOL > g.limits.MaxLossPerBundleSOL {
		return nil, fmt.Errorf("cost %.4f exceeds per-bundle limit %.4f: %w",
			costSOL, g.limits.MaxLossPerBundleSOL, ErrLossLimitExceeded)
	}
	if g.limits.SessionTimeout > 0 && now.Sub(g.sessionStart) > g.limits.SessionTimeout {
		return nil, fmt.Errorf("session started %s ago: %w", now.Sub(g.sessionStart).Round(time.Second), ErrSessionExpired)
	}
	if g.dailySpentSOL+costSOL > g.limits.DailySpendingLimit {
		return nil, fmt.Errorf("daily spent %.4f + cost %.4f exceeds limit %.4f: %w",
			g.dailySpentSOL, costSOL, g.limits.DailySpendingLimit, ErrDailyLimitExceeded)
	}
	if g.balanceSOL < costSOL {
		return nil, fmt.Errorf("balance %.4f below cost %.4f: %w", g.balanceSOL, costSOL, ErrInsufficientBalance)
	}
	if g.balanceSOL < g.limits.MinBalanceSOL {
		return nil, &BalanceTooLowError{BalanceSOL: g.balanceSOL, MinimumSOL: g.limits.MinBalanceSOL}
	}
	if g.consecutiveFailures >= g.limits.MaxConsecutiveFails {
		return nil, fmt.Errorf("%d consecutive failures: %w", g.consecutiveFailures, ErrTooManyFailures)
	}

	state := g.strategies[kind]
	if state.disabled(now) {
		return nil, &StrategyDisabledError{Strategy: kind, Until: state.disabledUntil}
	}
	// Disablement window elapsed: re-enable and reset the counter.
	if !state.disabledUntil.IsZero() && !state.disabled(now) {
		state.disabledUntil = time.Time{}
		state.failures = 0
	}

	// Reserve the projected cost inside the same critical section.
	g.dailySpentSOL += costSOL
	g.balanceSOL -= costSOL

	return &Reservation{gate: g, strategy: kind, costSOL: costSOL}, nil
}

// Settle replaces the reservation with the real outcome: actual spend
// adjusts the daily accumulator, profit credits the balance, and the failure
// counters move. Safe to call once; later calls are no-ops.
func (r *Reservation) Settle(success bool, actualSpendSOL, profitSOL float64) {
	g := r.gate
	g.mu.Lock()
	defer g.mu.Unlock()

	if r.settled {
		return
	}
	r.settled = true

	// Swap the reserved projection for the actual spend.
	g.dailySpentSOL += actualSpendSOL - r.costSOL
	if g.dailySpentSOL < 0 {
		g.dailySpentSOL = 0
	}
	g.balanceSOL += r.costSOL - actualSpendSOL
	g.totalSpentSOL += actualSpendSOL

	if success {
		g.balanceSOL += profitSOL
		g.totalEarnedSOL += profitSOL
		g.consecutiveFailures = 0
		g.strategies[r.strategy].failures = 0
		return
	}

	g.consecutiveFailures++
	state := g.strategies[r.strategy]
	state.failures++
	if state.failures >= g.limits.MaxStrategyFailures && !state.disabled(time.Now()) {
		state.disabledUntil = time.Now().Add(g.limits.StrategyDisableWindow)
		g.logger.Warn("strategy disabled by circuit breaker",
			zap.String("strategy", string(r.strategy)),
			zap.Int("failures", state.failures),
			zap.Time("until", state.disabledUntil))
	}
}

// Release abandons a reservation whose attempt never ran, returning the
// reserved cost without touching any failure counter.
func (r *Reservation) Release() {
	g := r.gate
	g.mu.Lock()
	defer g.mu.Unlock()

	if r.settled {
		return
	}
	r.settled = true
	g.dailySpentSOL -= r.costSOL
	if g.dailySpentSOL < 0 {
		g.dailySpentSOL = 0
	}
	g.balanceSOL += r.costSOL
}

// RecordFailure registers a failure that happened outside a reservation.
// Crossing the global ceiling returns ErrTooManyFailures so the caller pauses.
func (g *Gate) RecordFailure() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.consecutiveFailures++
	if g.consecutiveFailures >= g.limits.MaxConsecutiveFails {
		return fmt.Errorf("%d consecutive failures: %w", g.consecutiveFailures, ErrTooManyFailures)
	}
	return nil
}

// RecordSuccess resets the global consecutive-failure counter.
func (g *Gate) RecordSuccess(profitSOL float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.consecutiveFailures = 0
	g.totalEarnedSOL += profitSOL
}

// UpdateBalance replaces the tracked balance from an external query. A value
// below the configured minimum is rejected with BalanceTooLowError and the
// previous balance is kept.
func (g *Gate) UpdateBalance(balanceSOL float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if balanceSOL < g.limits.MinBalanceSOL {
		return &BalanceTooLowError{BalanceSOL: balanceSOL, MinimumSOL: g.limits.MinBalanceSOL}
	}
	g.balanceSOL = balanceSOL
	return nil
}

// ResetFailures is the operator override for the global pause: once the
// consecutive-failure ceiling blocks admission, no settle can ever succeed to
// clear the counter, so resuming requires this explicit reset.
func (g *Gate) ResetFailures() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consecutiveFailures = 0
	g.logger.Info("consecutive-failure counter reset by operator")
}

// EnableStrategy is the operator override: clears a disablement and resets
// the kind's failure counter.
func (g *Gate) EnableStrategy(kind types.OpportunityType) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown strategy kind %q", kind)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	state := g.strategies[kind]
	state.disabledUntil = time.Time{}
	state.failures = 0
	g.logger.Info("strategy re-enabled by operator", zap.String("strategy", string(kind)))
	return nil
}

// StrategyEnabled reports whether a kind is currently admissible.
func (g *Gate) StrategyEnabled(kind types.OpportunityType) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.strategies[kind]
	if !ok {
		return false
	}
	return !state.disabled(time.Now())
}

// Balance returns the currently tracked balance in SOL.
func (g *Gate) Balance() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balanceSOL
}

// TakeSnapshot copies the gate's accounting for the metrics/status surfaces.
func (g *Gate) TakeSnapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	disabled := make(map[types.OpportunityType]time.Time)
	now := time.Now()
	for kind, state := range g.strategies {
		if state.disabled(now) {
			disabled[kind] = state.disabledUntil
		}
	}
	return Snapshot{
		BalanceSOL:          g.balanceSOL,
		TotalSpentSOL:       g.totalSpentSOL,
		TotalEarnedSOL:      g.totalEarnedSOL,
		DailySpentSOL:       g.dailySpentSOL,
		ConsecutiveFailures: g.consecutiveFailures,
		DisabledStrategies:  disabled,
	}
}

// rollDailyWindowLocked resets the daily accumulator every 24h.
func (g *Gate) rollDailyWindowLocked(now time.Time) {
	if now.Sub(g.dailyWindowStart) >= 24*time.Hour {
		g.dailyWindowStart = now
		g.dailySpentSOL = 0
	}
}
