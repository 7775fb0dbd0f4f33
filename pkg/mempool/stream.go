package mempool

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mev-engine/solana-mev-pipeline/pkg/interfaces"
	"github.com/mev-engine/solana-mev-pipeline/pkg/types"
)

const (
	defaultMaxReconnectAttempts = 5
	defaultHandshakeTimeout     = 10 * time.Second
	defaultPollRate             = rate.Limit(2)
	defaultPollLimit            = 20

	seenSignatureLimit = 4096
)

// SocketConn is the minimal surface the stream needs from a websocket.
type SocketConn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer opens a websocket connection. Swappable for tests.
type Dialer func(ctx context.Context, url string) (SocketConn, error)

type gorillaConn struct {
	conn *websocket.Conn
}

func (g *gorillaConn) ReadMessage() ([]byte, error) {
	_, data, err := g.conn.ReadMessage()
	return data, err
}

func (g *gorillaConn) WriteJSON(v interface{}) error { return g.conn.WriteJSON(v) }
func (g *gorillaConn) Close() error                  { return g.conn.Close() }

func gorillaDialer(handshakeTimeout time.Duration) Dialer {
	return func(ctx context.Context, url string) (SocketConn, error) {
		dialer := websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   16 * 1024,
			WriteBufferSize:  16 * 1024,
		}
		conn, _, err := dialer.DialContext(ctx, url, http.Header{})
		if err != nil {
			return nil, err
		}
		return &gorillaConn{conn: conn}, nil
	}
}

// Config holds the stream settings.
type Config struct {
	WSEndpoint           string        `mapstructure:"ws_endpoint"`
	Programs             []string      `mapstructure:"programs"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout"`
	PollRate             float64       `mapstructure:"poll_rate"`
	PollLimit            int           `mapstructure:"poll_limit"`
}

// DefaultConfig returns the documented stream defaults, watching the major
// DEX and lending programs.
func DefaultConfig() *Config {
	return &Config{
		WSEndpoint: "wss://mainnet.helius-rpc.com",
		Programs: []string{
			types.ProgramRaydiumAMM,
			types.ProgramOrcaWhirl,
			types.ProgramSerumDEX,
			types.ProgramJupiterAgg,
			types.ProgramSolendMain,
		},
		MaxReconnectAttempts: defaultMaxReconnectAttempts,
		HandshakeTimeout:     defaultHandshakeTimeout,
		PollRate:             float64(defaultPollRate),
		PollLimit:            defaultPollLimit,
	}
}

// Stream consumes the live transaction feed and hands every observation to
// the handler. The websocket is the primary source; when it cannot be
// re-established it degrades to rate-limited JSON-RPC polling and keeps
// probing the socket until it comes back.
type Stream struct {
	config  *Config
	handler interfaces.TransactionHandler
	router  interfaces.EndpointRouter
	logger  *zap.Logger
	dial    Dialer
	limiter *rate.Limiter

	mu       sync.Mutex
	degraded bool
	seen     map[string]struct{}
	seenList []string

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewStream creates a stream. A nil config gets DefaultConfig.
func NewStream(config *Config, handler interfaces.TransactionHandler, router interfaces.EndpointRouter, logger *zap.Logger) (*Stream, error) {
	if handler == nil {
		return nil, fmt.Errorf("nil transaction handler")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxReconnectAttempts <= 0 {
		config.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = defaultHandshakeTimeout
	}
	if config.PollRate <= 0 {
		config.PollRate = float64(defaultPollRate)
	}
	if config.PollLimit <= 0 {
		config.PollLimit = defaultPollLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{
		config:   config,
		handler:  handler,
		router:   router,
		logger:   logger.Named("stream"),
		dial:     gorillaDialer(config.HandshakeTimeout),
		limiter:  rate.NewLimiter(rate.Limit(config.PollRate), 1),
		seen:     make(map[string]struct{}),
		stopChan: make(chan struct{}),
	}, nil
}

// SetDialer replaces the websocket dialer. Intended for tests.
func (s *Stream) SetDialer(dial Dialer) { s.dial = dial }

// Degraded reports whether the stream is currently running on the polling
// fallback instead of the socket.
func (s *Stream) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Start launches the stream loop.
func (s *Stream) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop terminates the stream and waits for in-flight work.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

func (s *Stream) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	for ctx.Err() == nil {
		conn, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.setDegraded(true)
			s.logger.Warn("socket unavailable, degrading to polling",
				zap.Int("attempts", s.config.MaxReconnectAttempts),
				zap.Error(err))
			conn = s.pollUntilReconnected(ctx)
			if conn == nil {
				return
			}
		}

		s.setDegraded(false)
		s.logger.Info("transaction stream connected", zap.String("endpoint", s.config.WSEndpoint))
		s.readLoop(ctx, conn)
	}
}

// connect dials with exponential backoff, giving up after the configured
// number of consecutive failures.
func (s *Stream) connect(ctx context.Context) (SocketConn, error) {
	var conn SocketConn
	operation := func() error {
		c, err := s.dial(ctx, s.config.WSEndpoint)
		if err != nil {
			s.logger.Debug("socket dial failed", zap.Error(err))
			return err
		}
		if err := s.subscribe(c); err != nil {
			c.Close()
			return err
		}
		conn = c
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0

	policy := backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(s.config.MaxReconnectAttempts-1)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *Stream) subscribe(conn SocketConn) error {
	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "transactionSubscribe",
		"params": []interface{}{
			map[string]interface{}{"accountInclude": s.config.Programs},
			map[string]interface{}{"commitment": "processed", "transactionDetails": "full"},
		},
	}
	return conn.WriteJSON(request)
}

// readLoop pumps the socket. Each observation is dispatched on its own
// goroutine so a slow handler never backs up the read side.
func (s *Stream) readLoop(ctx context.Context, conn SocketConn) {
	defer conn.Close()

	// ReadMessage has no context; closing the socket is the only way to
	// unblock it on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("socket read failed, reconnecting", zap.Error(err))
			}
			return
		}

		tx, ok := decodeNotification(data)
		if !ok {
			continue
		}
		if !s.markSeen(tx.Signature) {
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handler.HandleTransaction(ctx, tx)
		}()
	}
}

// pollUntilReconnected runs the degraded fallback: rate-limited signature
// polls through the router, with a socket probe on every pass. Returns the
// reopened socket, or nil when the context ends first.
func (s *Stream) pollUntilReconnected(ctx context.Context) SocketConn {
	for ctx.Err() == nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil
		}

		s.pollOnce(ctx)

		conn, err := s.dial(ctx, s.config.WSEndpoint)
		if err != nil {
			continue
		}
		if err := s.subscribe(conn); err != nil {
			conn.Close()
			continue
		}
		s.logger.Info("socket recovered, leaving degraded mode")
		return conn
	}
	return nil
}

type signatureInfo struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
}

// pollOnce fetches recent signatures per watched program. Polling carries
// less detail than the socket feed; downstream stages treat the missing
// fields as unknowns.
func (s *Stream) pollOnce(ctx context.Context) {
	if s.router == nil {
		return
	}
	for _, program := range s.config.Programs {
		result, err := s.router.Call(ctx, interfaces.RoleRead, "getSignaturesForAddress",
			program, map[string]interface{}{"limit": s.config.PollLimit})
		if err != nil {
			s.logger.Debug("poll failed", zap.String("program", program), zap.Error(err))
			continue
		}

		infos, err := decodeSignatureInfos(result)
		if err != nil {
			s.logger.Debug("poll decode failed", zap.String("program", program), zap.Error(err))
			continue
		}

		for _, info := range infos {
			if !s.markSeen(info.Signature) {
				continue
			}
			tx := &types.ObservedTransaction{
				Signature:  info.Signature,
				Slot:       info.Slot,
				ProgramIDs: []string{program},
				ObservedAt: time.Now(),
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handler.HandleTransaction(ctx, tx)
			}()
		}
	}
}

// markSeen dedupes signatures across the socket feed and the polling
// fallback. Returns false for repeats.
func (s *Stream) markSeen(signature string) bool {
	if signature == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[signature]; ok {
		return false
	}
	s.seen[signature] = struct{}{}
	s.seenList = append(s.seenList, signature)
	if len(s.seenList) > seenSignatureLimit {
		oldest := s.seenList[0]
		s.seenList = s.seenList[1:]
		delete(s.seen, oldest)
	}
	return true
}

func (s *Stream) setDegraded(degraded bool) {
	s.mu.Lock()
	s.degraded = degraded
	s.mu.Unlock()
}
