package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OpportunityType is the closed set of opportunity kinds the pipeline
// understands. Every dispatch over this type switches exhaustively so that a
// new kind cannot be added without updating the risk, metrics, and execution
// paths.
type OpportunityType string

const (
	OpportunityArbitrage   OpportunityType = "arbitrage"
	OpportunityFrontrun    OpportunityType = "frontrun"
	OpportunitySandwich    OpportunityType = "sandwich"
	OpportunityLiquidation OpportunityType = "liquidation"
	OpportunityOther       OpportunityType = "other"
)

// AllOpportunityTypes lists every valid opportunity kind, in a stable order.
var AllOpportunityTypes = []OpportunityType{
	OpportunityArbitrage,
	OpportunityFrontrun,
	OpportunitySandwich,
	OpportunityLiquidation,
	OpportunityOther,
}

// Valid reports whether t is a member of the closed kind set.
func (t OpportunityType) Valid() bool {
	switch t {
	case OpportunityArbitrage, OpportunityFrontrun, OpportunitySandwich,
		OpportunityLiquidation, OpportunityOther:
		return true
	}
	return false
}

// Opportunity is a detected, not-yet-validated chance to profit by reacting
// to an observed transaction. Immutable once handed downstream.
type Opportunity struct {
	ID             string          `json:"id"`
	Type           OpportunityType `json:"type"`
	TokenPair      string          `json:"tokenPair"`
	TradeSizeSOL   float64         `json:"tradeSizeSol"`
	GrossProfitSOL float64         `json:"grossProfitSol"`
	PoolDepthSOL   float64         `json:"poolDepthSol"`
	DEX            string          `json:"dex"`
	TargetTx       string          `json:"targetTx"`
	Sender         string          `json:"sender"`
	DetectedAt     time.Time       `json:"detectedAt"`
}

// NewOpportunity creates an opportunity with a fresh correlation ID.
func NewOpportunity(kind OpportunityType, pair string, tradeSize, grossProfit float64) *Opportunity {
	return &Opportunity{
		ID:             uuid.NewString(),
		Type:           kind,
		TokenPair:      pair,
		TradeSizeSOL:   tradeSize,
		GrossProfitSOL: grossProfit,
		DetectedAt:     time.Now(),
	}
}

// StrategyResult is the terminal record of one execution attempt, consumed by
// the metrics collector and the risk gate.
type StrategyResult struct {
	OpportunityID string          `json:"opportunityId"`
	Strategy      OpportunityType `json:"strategy"`
	Success       bool            `json:"success"`
	ProfitSOL     float64         `json:"profitSol"`
	FeesPaidSOL   float64         `json:"feesPaidSol"`
	TipPaidSOL    float64         `json:"tipPaidSol"`
	BundleID      string          `json:"bundleId,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	ExecutionTime time.Duration   `json:"executionTime"`
	CompletedAt   time.Time       `json:"completedAt"`
}

// NetSOL returns the realized profit net of fees and tip.
func (r *StrategyResult) NetSOL() float64 {
	return r.ProfitSOL - r.FeesPaidSOL - r.TipPaidSOL
}

// SignedTransaction is an opaque, already-encoded, signed transaction
// produced by the instruction-builder collaborator. The pipeline never
// inspects its payload.
type SignedTransaction struct {
	Encoded     string `json:"encoded"`
	Description string `json:"description,omitempty"`
}

// Bundle is an ordered set of transactions submitted together for atomic
// same-block inclusion. The tip transaction is always last.
type Bundle struct {
	ID           string              `json:"id"`
	Transactions []SignedTransaction `json:"transactions"`
	TipAccount   string              `json:"tipAccount"`
	TipSOL       float64             `json:"tipSol"`
	CreatedAt    time.Time           `json:"createdAt"`
}

// NewBundle assembles the payload transactions followed by the tip
// transaction under a fresh bundle ID.
func NewBundle(txs []SignedTransaction, tipTx SignedTransaction, tipAccount string, tipSOL float64) *Bundle {
	all := make([]SignedTransaction, 0, len(txs)+1)
	all = append(all, txs...)
	all = append(all, tipTx)
	return &Bundle{
		ID:           uuid.NewString(),
		Transactions: all,
		TipAccount:   tipAccount,
		TipSOL:       tipSOL,
		CreatedAt:    time.Now(),
	}
}

// Size returns the number of transactions in the bundle, tip included.
func (b *Bundle) Size() int {
	return len(b.Transactions)
}

func (b *Bundle) String() string {
	return fmt.Sprintf("bundle %s (%d txs, tip %.6f SOL to %s)", b.ID, b.Size(), b.TipSOL, b.TipAccount)
}
