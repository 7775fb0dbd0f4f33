package types

import (
	"time"
)

// ObservedTransaction represents a transaction seen on the monitored stream
// before any opportunity classification has happened.
type ObservedTransaction struct {
	Signature  string    `json:"signature"`
	Slot       uint64    `json:"slot"`
	Sender     string    `json:"sender"`
	ProgramIDs []string  `json:"programIds"`
	Accounts   []string  `json:"accounts"`
	FeeSOL     float64   `json:"feeSol"`
	ValueSOL   float64   `json:"valueSol"`
	ObservedAt time.Time `json:"observedAt"`
}

// InstructionKind classifies the dominant instruction of an observed transaction.
type InstructionKind string

const (
	InstructionSwap      InstructionKind = "swap"
	InstructionTransfer  InstructionKind = "transfer"
	InstructionLiquidity InstructionKind = "liquidity"
	InstructionLiquidate InstructionKind = "liquidate"
	InstructionUnknown   InstructionKind = "unknown"
)

// Well-known DEX and lending program identifiers on mainnet.
const (
	ProgramRaydiumAMM  = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
	ProgramOrcaWhirl   = "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc"
	ProgramSerumDEX    = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	ProgramJupiterAgg  = "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4"
	ProgramSolendMain  = "So1endDq2YkqhipRh3WViPa8hdiSpxWy6z3Z6tMCpAo"
	ProgramSystem      = "11111111111111111111111111111111"
	ProgramTokenSPL    = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
)

// dexPrograms maps program IDs to human-readable venue names.
var dexPrograms = map[string]string{
	ProgramRaydiumAMM: "Raydium",
	ProgramOrcaWhirl:  "Orca",
	ProgramSerumDEX:   "Serum",
	ProgramJupiterAgg: "Jupiter",
}

// Kind infers the instruction kind from the programs a transaction touches.
func (t *ObservedTransaction) Kind() InstructionKind {
	for _, id := range t.ProgramIDs {
		switch id {
		case ProgramRaydiumAMM, ProgramOrcaWhirl, ProgramSerumDEX, ProgramJupiterAgg:
			return InstructionSwap
		case ProgramSolendMain:
			return InstructionLiquidate
		}
	}
	for _, id := range t.ProgramIDs {
		if id == ProgramSystem || id == ProgramTokenSPL {
			return InstructionTransfer
		}
	}
	return InstructionUnknown
}

// DEXName returns the venue name for the first recognized DEX program,
// or "Unknown" when none of the programs are recognized.
func (t *ObservedTransaction) DEXName() string {
	for _, id := range t.ProgramIDs {
		if name, ok := dexPrograms[id]; ok {
			return name
		}
	}
	return "Unknown"
}

// IsHighValue reports whether the transaction moves at least threshold SOL.
func (t *ObservedTransaction) IsHighValue(threshold float64) bool {
	return t.ValueSOL >= threshold
}
