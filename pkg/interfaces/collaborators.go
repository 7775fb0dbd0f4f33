package interfaces

import (
	"context"

	"github.com/mev-engine/solana-mev-pipeline/pkg/types"
)

// InstructionBuilder materializes the signed transaction set for an
// opportunity kind: a single swap for arbitrage, frontrun, and liquidation,
// or a frontrun+backrun pair for sandwich. The pipeline never inspects the
// encoded payloads.
type InstructionBuilder interface {
	BuildTransactions(ctx context.Context, opp *types.Opportunity) ([]types.SignedTransaction, error)

	// BuildTipTransaction builds the transfer paying tipSOL to tipAccount.
	BuildTipTransaction(ctx context.Context, tipAccount string, tipSOL float64) (types.SignedTransaction, error)
}

// TransactionHandler receives each observed transaction from the stream.
// Implementations must not block: the stream dispatches every observation in
// its own goroutine, but a handler that never returns still leaks one.
type TransactionHandler interface {
	HandleTransaction(ctx context.Context, tx *types.ObservedTransaction)
}

// TransactionHandlerFunc adapts a function to the TransactionHandler interface.
type TransactionHandlerFunc func(ctx context.Context, tx *types.ObservedTransaction)

// HandleTransaction calls f.
func (f TransactionHandlerFunc) HandleTransaction(ctx context.Context, tx *types.ObservedTransaction) {
	f(ctx, tx)
}
