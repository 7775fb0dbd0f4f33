package risk

import (
	"errors"
	"fmt"
	"time"

	"github.com/mev-engine/solana-mev-pipeline/pkg/types"
)

// Sentinel errors for the admission checks. Each failing check returns a
// distinct kind so callers and alerts can tell them apart.
var (
	ErrLossLimitExceeded   = errors.New("attempt cost exceeds per-bundle loss limit")
	ErrSessionExpired      = errors.New("session time window expired")
	ErrDailyLimitExceeded  = errors.New("daily spending limit would be exceeded")
	ErrInsufficientBalance = errors.New("balance insufficient for attempt cost")
	ErrTooManyFailures     = errors.New("consecutive failure ceiling reached, pausing all operations")
)

// StrategyDisabledError reports an attempt against a strategy kind that is
// currently disabled by its circuit breaker.
type StrategyDisabledError struct {
	Strategy types.OpportunityType
	Until    time.Time
}

func (e *StrategyDisabledError) Error() string {
	return fmt.Sprintf("strategy %s disabled until %s", e.Strategy, e.Until.Format(time.RFC3339))
}

// BalanceTooLowError reports a balance update that fell below the configured
// minimum. Requires operator attention rather than silent continuation.
type BalanceTooLowError struct {
	BalanceSOL float64
	MinimumSOL float64
}

func (e *BalanceTooLowError) Error() string {
	return fmt.Sprintf("balance %.4f SOL below configured minimum %.4f SOL", e.BalanceSOL, e.MinimumSOL)
}
