package interfaces

import (
	"context"
	"time"
)

// EndpointRole selects which kind of work an endpoint is being asked to do.
// Read and Simulate prefer the low-latency read endpoint; Execute prefers the
// priority bundle-submission endpoint.
type EndpointRole string

const (
	RoleRead     EndpointRole = "read"
	RoleSimulate EndpointRole = "simulate"
	RoleExecute  EndpointRole = "execute"
)

// EndpointHealth is a point-in-time snapshot of one endpoint's health.
type EndpointHealth struct {
	Healthy     bool          `json:"healthy"`
	Latency     time.Duration `json:"latency"`
	SuccessRate float64       `json:"successRate"`
	LastChecked time.Time     `json:"lastChecked"`
}

// EndpointInfo describes a configured endpoint and its current health.
type EndpointInfo struct {
	Name   string         `json:"name"`
	URL    string         `json:"url"`
	Weight float64        `json:"weight"`
	Health EndpointHealth `json:"health"`
}

// EndpointRouter hands callers the best currently-healthy endpoint for a role
// and performs health-tracked JSON-RPC calls through it.
type EndpointRouter interface {
	// BestEndpoint returns the highest-priority healthy endpoint for the
	// role, or ErrNoHealthyEndpoint when every candidate is unhealthy.
	BestEndpoint(role EndpointRole) (*EndpointInfo, error)

	// Call routes a JSON-RPC request through the best endpoint for the role
	// and feeds the outcome back into that endpoint's rolling health.
	Call(ctx context.Context, role EndpointRole, method string, params ...interface{}) (interface{}, error)

	// Balance returns the wallet balance in SOL via a read endpoint.
	Balance(ctx context.Context, account string) (float64, error)

	// RecentPriorityFees returns recent prioritization fee samples in
	// lamports via a read endpoint.
	RecentPriorityFees(ctx context.Context) ([]uint64, error)

	// SubmitBundle submits an ordered transaction set through the execute
	// endpoint and returns a correlation identifier.
	SubmitBundle(ctx context.Context, encodedTxs []string) (string, error)

	// Endpoints returns a snapshot of every configured endpoint.
	Endpoints() []EndpointInfo
}
