package mempool

import (
	"encoding/json"
	"math"
	"time"

	"github.com/mev-engine/solana-mev-pipeline/pkg/types"
)

const lamportsPerSOL = 1_000_000_000.0

// txNotification mirrors the transactionSubscribe push shape. Fields the
// pipeline never reads are left out.
type txNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Signature   string `json:"signature"`
			Slot        uint64 `json:"slot"`
			Transaction struct {
				Message struct {
					AccountKeys  []string `json:"accountKeys"`
					Instructions []struct {
						ProgramID string `json:"programId"`
					} `json:"instructions"`
				} `json:"message"`
			} `json:"transaction"`
			Meta struct {
				Fee          uint64   `json:"fee"`
				PreBalances  []uint64 `json:"preBalances"`
				PostBalances []uint64 `json:"postBalances"`
			} `json:"meta"`
		} `json:"result"`
	} `json:"params"`
}

// decodeNotification parses one socket frame into an observed transaction.
// Returns false for frames that are not transaction pushes (subscription
// acks, pings) or that are missing a signature.
func decodeNotification(data []byte) (*types.ObservedTransaction, bool) {
	var note txNotification
	if err := json.Unmarshal(data, &note); err != nil {
		return nil, false
	}
	if note.Method != "transactionNotification" {
		return nil, false
	}

	result := note.Params.Result
	if result.Signature == "" {
		return nil, false
	}

	programIDs := make([]string, 0, len(result.Transaction.Message.Instructions))
	for _, inst := range result.Transaction.Message.Instructions {
		if inst.ProgramID != "" {
			programIDs = append(programIDs, inst.ProgramID)
		}
	}

	var sender string
	if keys := result.Transaction.Message.AccountKeys; len(keys) > 0 {
		sender = keys[0]
	}

	tx := &types.ObservedTransaction{
		Signature:  result.Signature,
		Slot:       result.Slot,
		Sender:     sender,
		ProgramIDs: programIDs,
		Accounts:   result.Transaction.Message.AccountKeys,
		FeeSOL:     float64(result.Meta.Fee) / lamportsPerSOL,
		ValueSOL:   movedValueSOL(result.Meta.PreBalances, result.Meta.PostBalances, result.Meta.Fee),
		ObservedAt: time.Now(),
	}
	return tx, true
}

// movedValueSOL estimates the SOL the fee payer moved: the drop in its
// balance net of the fee itself.
func movedValueSOL(pre, post []uint64, fee uint64) float64 {
	if len(pre) == 0 || len(post) == 0 {
		return 0
	}
	delta := math.Abs(float64(pre[0]) - float64(post[0]))
	moved := delta - float64(fee)
	if moved < 0 {
		return 0
	}
	return moved / lamportsPerSOL
}

// decodeSignatureInfos converts a raw getSignaturesForAddress result into
// typed entries.
func decodeSignatureInfos(result interface{}) ([]signatureInfo, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var infos []signatureInfo
	if err := json.Unmarshal(raw, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}
