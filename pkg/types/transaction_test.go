package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservedTransaction_Kind(t *testing.T) {
	swap := &ObservedTransaction{ProgramIDs: []string{ProgramTokenSPL, ProgramRaydiumAMM}}
	assert.Equal(t, InstructionSwap, swap.Kind())

	liquidate := &ObservedTransaction{ProgramIDs: []string{ProgramSolendMain}}
	assert.Equal(t, InstructionLiquidate, liquidate.Kind())

	transfer := &ObservedTransaction{ProgramIDs: []string{ProgramSystem}}
	assert.Equal(t, InstructionTransfer, transfer.Kind())

	unknown := &ObservedTransaction{ProgramIDs: []string{"SomeRandomProgram1111111111111111111111111"}}
	assert.Equal(t, InstructionUnknown, unknown.Kind())
}

func TestObservedTransaction_DEXName(t *testing.T) {
	tx := &ObservedTransaction{ProgramIDs: []string{ProgramOrcaWhirl}}
	assert.Equal(t, "Orca", tx.DEXName())

	tx = &ObservedTransaction{ProgramIDs: []string{ProgramSystem}}
	assert.Equal(t, "Unknown", tx.DEXName())
}

func TestOpportunityType_Valid(t *testing.T) {
	for _, kind := range AllOpportunityTypes {
		assert.True(t, kind.Valid(), "kind %s should be valid", kind)
	}
	assert.False(t, OpportunityType("timebandit").Valid())
	assert.False(t, OpportunityType("").Valid())
}

func TestNewOpportunity(t *testing.T) {
	opp := NewOpportunity(OpportunityArbitrage, "SOL/USDC", 1.5, 0.02)

	require.NotEmpty(t, opp.ID)
	assert.Equal(t, OpportunityArbitrage, opp.Type)
	assert.Equal(t, "SOL/USDC", opp.TokenPair)
	assert.Equal(t, 1.5, opp.TradeSizeSOL)
	assert.Equal(t, 0.02, opp.GrossProfitSOL)
	assert.False(t, opp.DetectedAt.IsZero())
}

func TestNewBundle_TipTransactionLast(t *testing.T) {
	txs := []SignedTransaction{
		{Encoded: "frontrun"},
		{Encoded: "backrun"},
	}
	tip := SignedTransaction{Encoded: "tip"}

	bundle := NewBundle(txs, tip, "TipAccount1111", 0.001)

	require.Equal(t, 3, bundle.Size())
	assert.Equal(t, "frontrun", bundle.Transactions[0].Encoded)
	assert.Equal(t, "backrun", bundle.Transactions[1].Encoded)
	assert.Equal(t, "tip", bundle.Transactions[2].Encoded)
	assert.Equal(t, 0.001, bundle.TipSOL)
	assert.NotEmpty(t, bundle.ID)
}

func TestStrategyResult_NetSOL(t *testing.T) {
	result := &StrategyResult{ProfitSOL: 0.02, FeesPaidSOL: 0.006, TipPaidSOL: 0.001}
	assert.InDelta(t, 0.013, result.NetSOL(), 1e-9)
}
