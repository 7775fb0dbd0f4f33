package mempool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mev-engine/solana-mev-pipeline/pkg/types"
)

func TestDecodeNotification_FullFrame(t *testing.T) {
	tx, ok := decodeNotification(notificationFrame("sig-x", 1_500_005_000))
	require.True(t, ok)

	assert.Equal(t, "sig-x", tx.Signature)
	assert.Equal(t, uint64(1234), tx.Slot)
	assert.Equal(t, "sender-wallet", tx.Sender)
	assert.Equal(t, []string{types.ProgramRaydiumAMM}, tx.ProgramIDs)
	assert.Equal(t, []string{"sender-wallet", "pool-account"}, tx.Accounts)
	assert.InDelta(t, 0.000005, tx.FeeSOL, 1e-12)
	assert.InDelta(t, 1.5, tx.ValueSOL, 1e-9)
	assert.False(t, tx.ObservedAt.IsZero())
}

func TestDecodeNotification_SkipsNonPushFrames(t *testing.T) {
	cases := []struct {
		name  string
		frame string
	}{
		{"subscription ack", `{"jsonrpc":"2.0","id":1,"result":42}`},
		{"other method", `{"jsonrpc":"2.0","method":"slotNotification","params":{}}`},
		{"missing signature", `{"jsonrpc":"2.0","method":"transactionNotification","params":{"result":{}}}`},
		{"malformed", `{not json`},
	}
	for _, tc := range cases {
		_, ok := decodeNotification([]byte(tc.frame))
		assert.False(t, ok, tc.name)
	}
}

func TestMovedValueSOL(t *testing.T) {
	// 2 SOL moved plus the 5000 lamport fee
	assert.InDelta(t, 2.0, movedValueSOL([]uint64{2_000_005_000}, []uint64{0}, 5000), 1e-9)
	// fee-only transaction moves nothing
	assert.Equal(t, 0.0, movedValueSOL([]uint64{5000}, []uint64{0}, 5000))
	// missing balance arrays
	assert.Equal(t, 0.0, movedValueSOL(nil, nil, 5000))
}

func TestDecodeSignatureInfos(t *testing.T) {
	infos, err := decodeSignatureInfos([]interface{}{
		map[string]interface{}{"signature": "sig-1", "slot": float64(10)},
		map[string]interface{}{"signature": "sig-2", "slot": float64(11)},
	})
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "sig-1", infos[0].Signature)
	assert.Equal(t, uint64(11), infos[1].Slot)
}
