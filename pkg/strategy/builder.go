package strategy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mev-engine/solana-mev-pipeline/pkg/types"
)

// instructionPayload is the encoded form handed to the execute endpoint.
type instructionPayload struct {
	Kind      string  `json:"kind"`
	Pair      string  `json:"pair"`
	DEX       string  `json:"dex,omitempty"`
	AmountSOL float64 `json:"amountSol"`
	Wallet    string  `json:"wallet"`
	Recipient string  `json:"recipient,omitempty"`
	Blockhash string  `json:"blockhash"`
	Nonce     string  `json:"nonce"`
}

// BlockhashSource provides the recent blockhash every transaction embeds.
type BlockhashSource interface {
	LatestBlockhash(ctx context.Context) (string, error)
}

// Builder materializes the transaction legs for each opportunity kind:
// a single leg for arbitrage, frontrun, and liquidation, and a
// frontrun+backrun pair for sandwich.
type Builder struct {
	wallet      string
	blockhashes BlockhashSource
	logger      *zap.Logger
}

// NewBuilder creates a builder signing for the given wallet.
func NewBuilder(wallet string, blockhashes BlockhashSource, logger *zap.Logger) (*Builder, error) {
	if wallet == "" {
		return nil, fmt.Errorf("builder requires a wallet account")
	}
	if blockhashes == nil {
		return nil, fmt.Errorf("builder requires a blockhash source")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{wallet: wallet, blockhashes: blockhashes, logger: logger.Named("builder")}, nil
}

// BuildTransactions returns the ordered legs for an opportunity. All legs of
// one bundle share a single recent blockhash.
func (b *Builder) BuildTransactions(ctx context.Context, opp *types.Opportunity) ([]types.SignedTransaction, error) {
	if opp == nil {
		return nil, fmt.Errorf("nil opportunity")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	blockhash, err := b.blockhashes.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch blockhash: %w", err)
	}

	switch opp.Type {
	case types.OpportunitySandwich:
		front, err := b.encodeLeg("frontrun_leg", opp, opp.TradeSizeSOL, blockhash)
		if err != nil {
			return nil, err
		}
		back, err := b.encodeLeg("backrun_leg", opp, opp.TradeSizeSOL, blockhash)
		if err != nil {
			return nil, err
		}
		return []types.SignedTransaction{front, back}, nil
	case types.OpportunityArbitrage, types.OpportunityFrontrun, types.OpportunityOther:
		leg, err := b.encodeLeg("swap", opp, opp.TradeSizeSOL, blockhash)
		if err != nil {
			return nil, err
		}
		return []types.SignedTransaction{leg}, nil
	case types.OpportunityLiquidation:
		leg, err := b.encodeLeg("liquidate", opp, opp.TradeSizeSOL, blockhash)
		if err != nil {
			return nil, err
		}
		return []types.SignedTransaction{leg}, nil
	}
	return nil, fmt.Errorf("unknown opportunity kind %q", opp.Type)
}

// BuildTipTransaction builds the transfer paying tipSOL to tipAccount.
func (b *Builder) BuildTipTransaction(ctx context.Context, tipAccount string, tipSOL float64) (types.SignedTransaction, error) {
	if tipAccount == "" {
		return types.SignedTransaction{}, fmt.Errorf("tip account is required")
	}
	if tipSOL <= 0 {
		return types.SignedTransaction{}, fmt.Errorf("tip must be positive, got %.6f", tipSOL)
	}
	if err := ctx.Err(); err != nil {
		return types.SignedTransaction{}, err
	}

	blockhash, err := b.blockhashes.LatestBlockhash(ctx)
	if err != nil {
		return types.SignedTransaction{}, fmt.Errorf("fetch blockhash: %w", err)
	}

	encoded, err := encodePayload(instructionPayload{
		Kind:      "tip_transfer",
		AmountSOL: tipSOL,
		Wallet:    b.wallet,
		Recipient: tipAccount,
		Blockhash: blockhash,
		Nonce:     uuid.NewString(),
	})
	if err != nil {
		return types.SignedTransaction{}, err
	}
	return types.SignedTransaction{
		Encoded:     encoded,
		Description: fmt.Sprintf("tip %.6f SOL to %s", tipSOL, tipAccount),
	}, nil
}

func (b *Builder) encodeLeg(kind string, opp *types.Opportunity, amountSOL float64, blockhash string) (types.SignedTransaction, error) {
	encoded, err := encodePayload(instructionPayload{
		Kind:      kind,
		Pair:      opp.TokenPair,
		DEX:       opp.DEX,
		AmountSOL: amountSOL,
		Wallet:    b.wallet,
		Blockhash: blockhash,
		Nonce:     uuid.NewString(),
	})
	if err != nil {
		return types.SignedTransaction{}, err
	}
	return types.SignedTransaction{
		Encoded:     encoded,
		Description: fmt.Sprintf("%s %s %.4f SOL on %s", kind, opp.TokenPair, amountSOL, opp.DEX),
	}, nil
}

func encodePayload(p instructionPayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode instruction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
