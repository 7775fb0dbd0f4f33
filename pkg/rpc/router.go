package rpc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mev-engine/solana-mev-pipeline/pkg/interfaces"
)

// ErrNoHealthyEndpoint is returned when every endpoint eligible for a role is
// unhealthy. Callers decide whether to degrade or reject.
var ErrNoHealthyEndpoint = errors.New("no healthy endpoint available")

const (
	lamportsPerSOL = 1_000_000_000.0

	defaultProbeInterval     = 30 * time.Second
	defaultMaxLatency        = 2000 * time.Millisecond
	defaultExecuteMaxLatency = 1500 * time.Millisecond
)

// EndpointConfig describes one upstream endpoint.
type EndpointConfig struct {
	Name    string  `mapstructure:"name"`
	URL     string  `mapstructure:"url"`
	Role    string  `mapstructure:"role"` // "read", "execute", or "general"
	Weight  float64 `mapstructure:"weight"`
	TipRole bool    `mapstructure:"tip_role"`
}

// RouterConfig holds the endpoint set and health thresholds.
type RouterConfig struct {
	Endpoints         []EndpointConfig `mapstructure:"endpoints"`
	ProbeInterval     time.Duration    `mapstructure:"probe_interval"`
	MaxLatency        time.Duration    `mapstructure:"max_latency"`
	ExecuteMaxLatency time.Duration    `mapstructure:"execute_max_latency"`
}

// DefaultRouterConfig returns the standard three-endpoint layout: a fast read
// endpoint, a priority execution endpoint, and a general-purpose fallback.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		Endpoints: []EndpointConfig{
			{Name: "fast-read", URL: "https://mainnet.helius-rpc.com", Role: "read", Weight: 1.0},
			{Name: "priority-exec", URL: "https://mainnet.block-engine.jito.wtf/api/v1", Role: "execute", Weight: 1.0, TipRole: true},
			{Name: "general", URL: "https://solana.drpc.org", Role: "general", Weight: 0.5},
		},
		ProbeInterval:     defaultProbeInterval,
		MaxLatency:        defaultMaxLatency,
		ExecuteMaxLatency: defaultExecuteMaxLatency,
	}
}

// endpoint is the router-private endpoint record. Health is mutated only by
// the probe loop and by post-call outcome updates, both under the router lock.
type endpoint struct {
	name       string
	url        string
	role       string
	weight     float64
	caller     Caller
	maxLatency time.Duration

	healthy     bool
	latency     time.Duration
	successRate float64
	lastChecked time.Time
}

// Router maintains the endpoint set, tracks rolling health, and routes
// JSON-RPC calls to the best endpoint for a role.
type Router struct {
	config    *RouterConfig
	endpoints []*endpoint
	mu        sync.RWMutex
	logger    *zap.Logger
	metrics   interfaces.MetricsSink

	stopProbe chan struct{}
	probeOnce sync.Once
}

// NewRouter creates a router from config, using factory to build one caller
// per endpoint. A nil config gets DefaultRouterConfig; a nil factory gets the
// standard HTTP JSON-RPC client.
func NewRouter(config *RouterConfig, factory CallerFactory, logger *zap.Logger) (*Router, error) {
	if config == nil {
		config = DefaultRouterConfig()
	}
	if factory == nil {
		factory = defaultCallerFactory
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(config.Endpoints) == 0 {
		return nil, fmt.Errorf("router requires at least one endpoint")
	}
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = defaultProbeInterval
	}
	if config.MaxLatency <= 0 {
		config.MaxLatency = defaultMaxLatency
	}
	if config.ExecuteMaxLatency <= 0 {
		config.ExecuteMaxLatency = defaultExecuteMaxLatency
	}

	r := &Router{
		config:    config,
		logger:    logger.Named("rpc"),
		stopProbe: make(chan struct{}),
	}
	for _, ec := range config.Endpoints {
		if ec.URL == "" {
			return nil, fmt.Errorf("endpoint %q has no URL", ec.Name)
		}
		maxLatency := config.MaxLatency
		if ec.Role == "execute" {
			maxLatency = config.ExecuteMaxLatency
		}
		r.endpoints = append(r.endpoints, &endpoint{
			name:       ec.Name,
			url:        ec.URL,
			role:       ec.Role,
			weight:     ec.Weight,
			caller:     factory(ec.URL),
			maxLatency: maxLatency,
			// Optimistic until the first probe or call says otherwise.
			healthy:     true,
			successRate: 1.0,
		})
	}
	return r, nil
}

// SetMetrics attaches an optional metrics sink for per-call observations.
func (r *Router) SetMetrics(sink interfaces.MetricsSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = sink
}

// Start launches the background probe loop. Safe to call once; the loop stops
// when ctx is cancelled or Stop is called.
func (r *Router) Start(ctx context.Context) {
	go r.probeLoop(ctx)
}

// Stop terminates the probe loop.
func (r *Router) Stop() {
	r.probeOnce.Do(func() { close(r.stopProbe) })
}

// BestEndpoint returns the highest-priority healthy endpoint for the role.
// Role-preferred endpoints win; otherwise any healthy endpoint, heaviest
// weight first. ErrNoHealthyEndpoint when nothing qualifies.
func (r *Router) BestEndpoint(role interfaces.EndpointRole) (*interfaces.EndpointInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ep := r.pickLocked(role)
	if ep == nil {
		return nil, fmt.Errorf("%w for role %s", ErrNoHealthyEndpoint, role)
	}
	info := ep.info()
	return &info, nil
}

// pickLocked selects an endpoint under the read lock.
func (r *Router) pickLocked(role interfaces.EndpointRole) *endpoint {
	preferred := "read"
	if role == interfaces.RoleExecute {
		preferred = "execute"
	}

	var fallbacks []*endpoint
	for _, ep := range r.endpoints {
		if !ep.healthy {
			continue
		}
		if ep.role == preferred {
			return ep
		}
		fallbacks = append(fallbacks, ep)
	}
	if len(fallbacks) == 0 {
		return nil
	}
	sort.SliceStable(fallbacks, func(i, j int) bool {
		return fallbacks[i].weight > fallbacks[j].weight
	})
	return fallbacks[0]
}

// Call routes a JSON-RPC request through the best endpoint for the role and
// folds the outcome into that endpoint's rolling health.
func (r *Router) Call(ctx context.Context, role interfaces.EndpointRole, method string, params ...interface{}) (interface{}, error) {
	r.mu.RLock()
	ep := r.pickLocked(role)
	r.mu.RUnlock()
	if ep == nil {
		return nil, fmt.Errorf("%w for role %s", ErrNoHealthyEndpoint, role)
	}

	start := time.Now()
	resp, err := checkResponse(ep.caller.Call(ctx, method, params...))
	elapsed := time.Since(start)
	r.recordOutcome(ep, elapsed, err == nil)

	if err != nil {
		return nil, fmt.Errorf("%s call via %s: %w", method, ep.name, err)
	}
	return resp.Result, nil
}

// Balance returns the wallet balance in SOL via a read endpoint.
func (r *Router) Balance(ctx context.Context, account string) (float64, error) {
	r.mu.RLock()
	ep := r.pickLocked(interfaces.RoleRead)
	r.mu.RUnlock()
	if ep == nil {
		return 0, fmt.Errorf("%w for role %s", ErrNoHealthyEndpoint, interfaces.RoleRead)
	}

	start := time.Now()
	resp, err := checkResponse(ep.caller.Call(ctx, "getBalance", account))
	r.recordOutcome(ep, time.Since(start), err == nil)
	if err != nil {
		return 0, fmt.Errorf("getBalance via %s: %w", ep.name, err)
	}

	var result balanceResult
	if err := resp.GetObject(&result); err != nil {
		return 0, fmt.Errorf("decode getBalance result: %w", err)
	}
	return float64(result.Value) / lamportsPerSOL, nil
}

// LatestBlockhash returns the most recent blockhash via a read endpoint.
// Every materialized transaction embeds one.
func (r *Router) LatestBlockhash(ctx context.Context) (string, error) {
	r.mu.RLock()
	ep := r.pickLocked(interfaces.RoleRead)
	r.mu.RUnlock()
	if ep == nil {
		return "", fmt.Errorf("%w for role %s", ErrNoHealthyEndpoint, interfaces.RoleRead)
	}

	start := time.Now()
	resp, err := checkResponse(ep.caller.Call(ctx, "getLatestBlockhash"))
	r.recordOutcome(ep, time.Since(start), err == nil)
	if err != nil {
		return "", fmt.Errorf("getLatestBlockhash via %s: %w", ep.name, err)
	}

	var result blockhashResult
	if err := resp.GetObject(&result); err != nil {
		return "", fmt.Errorf("decode getLatestBlockhash result: %w", err)
	}
	if result.Value.Blockhash == "" {
		return "", fmt.Errorf("getLatestBlockhash via %s returned no blockhash", ep.name)
	}
	return result.Value.Blockhash, nil
}

// RecentPriorityFees returns recent prioritization fee samples in lamports.
func (r *Router) RecentPriorityFees(ctx context.Context) ([]uint64, error) {
	r.mu.RLock()
	ep := r.pickLocked(interfaces.RoleRead)
	r.mu.RUnlock()
	if ep == nil {
		return nil, fmt.Errorf("%w for role %s", ErrNoHealthyEndpoint, interfaces.RoleRead)
	}

	start := time.Now()
	resp, err := checkResponse(ep.caller.Call(ctx, "getRecentPrioritizationFees"))
	r.recordOutcome(ep, time.Since(start), err == nil)
	if err != nil {
		return nil, fmt.Errorf("getRecentPrioritizationFees via %s: %w", ep.name, err)
	}

	var samples []priorityFeeSample
	if err := resp.GetObject(&samples); err != nil {
		return nil, fmt.Errorf("decode fee samples: %w", err)
	}
	fees := make([]uint64, 0, len(samples))
	for _, s := range samples {
		fees = append(fees, s.PrioritizationFee)
	}
	return fees, nil
}

// SubmitBundle submits an ordered transaction set through the execute
// endpoint and returns the correlation identifier.
func (r *Router) SubmitBundle(ctx context.Context, encodedTxs []string) (string, error) {
	r.mu.RLock()
	ep := r.pickLocked(interfaces.RoleExecute)
	r.mu.RUnlock()
	if ep == nil {
		return "", fmt.Errorf("%w for role %s", ErrNoHealthyEndpoint, interfaces.RoleExecute)
	}

	start := time.Now()
	resp, err := checkResponse(ep.caller.Call(ctx, "sendBundle", [][]string{encodedTxs}))
	r.recordOutcome(ep, time.Since(start), err == nil)
	if err != nil {
		return "", fmt.Errorf("sendBundle via %s: %w", ep.name, err)
	}

	id, err := resp.GetString()
	if err != nil {
		return "", fmt.Errorf("decode bundle id: %w", err)
	}
	return id, nil
}

// Endpoints returns a snapshot of every configured endpoint.
func (r *Router) Endpoints() []interfaces.EndpointInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]interfaces.EndpointInfo, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		infos = append(infos, ep.info())
	}
	return infos
}

// recordOutcome folds one call outcome into the endpoint's rolling health:
// success rate is exponentially weighted, latency is the running midpoint,
// and healthy requires both a passing call and latency under the ceiling.
func (r *Router) recordOutcome(ep *endpoint, latency time.Duration, success bool) {
	r.mu.Lock()
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	ep.successRate = 0.9*ep.successRate + 0.1*outcome
	if ep.latency == 0 {
		ep.latency = latency
	} else {
		ep.latency = (ep.latency + latency) / 2
	}
	ep.healthy = success && ep.latency < ep.maxLatency
	ep.lastChecked = time.Now()
	name := ep.name
	healthy := ep.healthy
	sink := r.metrics
	r.mu.Unlock()

	if sink != nil {
		sink.RecordEndpointCall(name, latency, success)
	}
	if !healthy {
		r.logger.Warn("endpoint unhealthy",
			zap.String("endpoint", name),
			zap.Duration("latency", latency),
			zap.Bool("call_ok", success))
	}
}

// probeLoop re-probes every endpoint on a fixed interval so health reflects
// reality even during idle periods.
func (r *Router) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(r.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.probeAll(ctx)
		case <-r.stopProbe:
			return
		case <-ctx.Done():
			return
		}
	}
}

// probeAll issues a getHealth to every endpoint and records the outcome.
func (r *Router) probeAll(ctx context.Context) {
	r.mu.RLock()
	endpoints := make([]*endpoint, len(r.endpoints))
	copy(endpoints, r.endpoints)
	r.mu.RUnlock()

	for _, ep := range endpoints {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		start := time.Now()
		_, err := checkResponse(ep.caller.Call(probeCtx, "getHealth"))
		cancel()
		r.recordOutcome(ep, time.Since(start), err == nil)
	}
}

func (ep *endpoint) info() interfaces.EndpointInfo {
	return interfaces.EndpointInfo{
		Name:   ep.name,
		URL:    ep.url,
		Weight: ep.weight,
		Health: interfaces.EndpointHealth{
			Healthy:     ep.healthy,
			Latency:     ep.latency,
			SuccessRate: ep.successRate,
			LastChecked: ep.lastChecked,
		},
	}
}

// MarkUnhealthy forces an endpoint unhealthy by name. Used by operators and
// tests to take an endpoint out of rotation.
func (r *Router) MarkUnhealthy(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ep := range r.endpoints {
		if ep.name == name {
			ep.healthy = false
			ep.lastChecked = time.Now()
		}
	}
}
