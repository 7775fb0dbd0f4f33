package rpc

import (
	"context"
	"fmt"

	"github.com/ybbus/jsonrpc/v3"
)

// Caller performs a single JSON-RPC call against one endpoint. The router
// owns one caller per endpoint; tests substitute their own.
type Caller interface {
	Call(ctx context.Context, method string, params ...interface{}) (*jsonrpc.RPCResponse, error)
}

// CallerFactory builds a caller for an endpoint URL.
type CallerFactory func(url string) Caller

// defaultCallerFactory wraps the standard HTTP JSON-RPC client.
func defaultCallerFactory(url string) Caller {
	return jsonrpc.NewClient(url)
}

// balanceResult mirrors the getBalance response envelope.
type balanceResult struct {
	Value uint64 `json:"value"`
}

// blockhashResult mirrors the getLatestBlockhash response envelope.
type blockhashResult struct {
	Value struct {
		Blockhash string `json:"blockhash"`
	} `json:"value"`
}

// priorityFeeSample mirrors one entry of getRecentPrioritizationFees.
type priorityFeeSample struct {
	Slot              uint64 `json:"slot"`
	PrioritizationFee uint64 `json:"prioritizationFee"`
}

// checkResponse folds transport and protocol errors into one error value.
func checkResponse(resp *jsonrpc.RPCResponse, err error) (*jsonrpc.RPCResponse, error) {
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("empty rpc response")
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp, nil
}
