package metrics

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AlertType identifies the condition an alert reports.
type AlertType string

const (
	AlertBalanceDrop         AlertType = "balance_drop"
	AlertConsecutiveFailures AlertType = "consecutive_failures"
	AlertHighLatency         AlertType = "high_latency"
	AlertLowSuccessRate      AlertType = "low_success_rate"
	AlertUnexpectedError     AlertType = "unexpected_error"
)

// AlertSeverity orders alerts by urgency.
type AlertSeverity int

const (
	SeverityInfo AlertSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s AlertSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Alert is one fired condition.
type Alert struct {
	Type      AlertType     `json:"type"`
	Severity  AlertSeverity `json:"severity"`
	Message   string        `json:"message"`
	Value     float64       `json:"value"`
	Threshold float64       `json:"threshold"`
	FiredAt   time.Time     `json:"firedAt"`
}

// AlertConfig holds the rule thresholds.
type AlertConfig struct {
	// BalanceDropFraction fires when the balance falls by this fraction
	// of its session high.
	BalanceDropFraction float64       `mapstructure:"balance_drop_fraction"`
	MinSuccessRate      float64       `mapstructure:"min_success_rate"`
	MaxAvgLatency       time.Duration `mapstructure:"max_avg_latency"`
	CheckInterval       time.Duration `mapstructure:"check_interval"`
	HistoryLimit        int           `mapstructure:"history_limit"`
}

// DefaultAlertConfig returns the documented alerting defaults.
func DefaultAlertConfig() *AlertConfig {
	return &AlertConfig{
		BalanceDropFraction: 0.10,
		MinSuccessRate:      0.50,
		MaxAvgLatency:       2 * time.Second,
		CheckInterval:       30 * time.Second,
		HistoryLimit:        200,
	}
}

// AlertManager watches the collector and fires alerts when rule thresholds
// trip. Fired alerts go to the subscriber channel and a bounded history.
type AlertManager struct {
	config    *AlertConfig
	collector *Collector
	logger    *zap.Logger

	mu          sync.RWMutex
	history     []Alert
	balanceHigh float64
	lastFired   map[AlertType]time.Time

	alertChan chan Alert
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewAlertManager creates an alert manager. A nil config gets
// DefaultAlertConfig.
func NewAlertManager(config *AlertConfig, collector *Collector, logger *zap.Logger) *AlertManager {
	if config == nil {
		config = DefaultAlertConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertManager{
		config:    config,
		collector: collector,
		logger:    logger.Named("alerts"),
		lastFired: make(map[AlertType]time.Time),
		alertChan: make(chan Alert, 64),
		stopChan:  make(chan struct{}),
	}
}

// Start launches the periodic rule check.
func (m *AlertManager) Start() {
	go m.checkLoop()
}

// Stop terminates the rule check loop. Safe to call more than once.
func (m *AlertManager) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

// Alerts is the subscriber channel. Slow consumers drop alerts rather than
// stall the pipeline; the history keeps the record.
func (m *AlertManager) Alerts() <-chan Alert {
	return m.alertChan
}

// History returns a copy of the fired-alert history, newest last.
func (m *AlertManager) History() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Alert, len(m.history))
	copy(out, m.history)
	return out
}

// ReportError fires an immediate unexpected-error alert.
func (m *AlertManager) ReportError(component string, err error) {
	m.fire(Alert{
		Type:     AlertUnexpectedError,
		Severity: SeverityError,
		Message:  fmt.Sprintf("%s: %v", component, err),
		FiredAt:  time.Now(),
	})
}

func (m *AlertManager) checkLoop() {
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.CheckNow()
		case <-m.stopChan:
			return
		}
	}
}

// CheckNow evaluates every rule against the current collector snapshot.
func (m *AlertManager) CheckNow() {
	if m.collector == nil {
		return
	}
	snap := m.collector.Snapshot()

	m.checkBalance(snap)
	m.checkSuccessRate(snap)
	m.checkLatency(snap)
}

func (m *AlertManager) checkBalance(snap *SystemMetrics) {
	m.mu.Lock()
	if snap.BalanceSOL > m.balanceHigh {
		m.balanceHigh = snap.BalanceSOL
	}
	high := m.balanceHigh
	m.mu.Unlock()

	if high <= 0 {
		return
	}
	drop := (high - snap.BalanceSOL) / high
	if drop >= m.config.BalanceDropFraction {
		m.fire(Alert{
			Type:      AlertBalanceDrop,
			Severity:  SeverityCritical,
			Message:   fmt.Sprintf("balance %.4f SOL is down %.1f%% from session high %.4f", snap.BalanceSOL, drop*100, high),
			Value:     drop,
			Threshold: m.config.BalanceDropFraction,
			FiredAt:   time.Now(),
		})
	}
}

func (m *AlertManager) checkSuccessRate(snap *SystemMetrics) {
	if snap.Executions < 10 {
		return
	}
	rate := m.collector.SuccessRate()
	if rate < m.config.MinSuccessRate {
		m.fire(Alert{
			Type:      AlertLowSuccessRate,
			Severity:  SeverityWarning,
			Message:   fmt.Sprintf("execution success rate %.2f below %.2f", rate, m.config.MinSuccessRate),
			Value:     rate,
			Threshold: m.config.MinSuccessRate,
			FiredAt:   time.Now(),
		})
	}
}

func (m *AlertManager) checkLatency(snap *SystemMetrics) {
	for name, ep := range snap.Endpoints {
		if ep.Calls < 5 {
			continue
		}
		if ep.AvgLatency > m.config.MaxAvgLatency {
			m.fire(Alert{
				Type:      AlertHighLatency,
				Severity:  SeverityWarning,
				Message:   fmt.Sprintf("endpoint %s average latency %s exceeds %s", name, ep.AvgLatency, m.config.MaxAvgLatency),
				Value:     ep.AvgLatency.Seconds(),
				Threshold: m.config.MaxAvgLatency.Seconds(),
				FiredAt:   time.Now(),
			})
		}
	}
}

func (m *AlertManager) fire(alert Alert) {
	m.mu.Lock()
	// One alert per type per check interval keeps repeats from flooding
	// subscribers.
	if last, ok := m.lastFired[alert.Type]; ok && time.Since(last) < m.config.CheckInterval {
		m.mu.Unlock()
		return
	}
	m.lastFired[alert.Type] = alert.FiredAt
	m.history = append(m.history, alert)
	if limit := m.config.HistoryLimit; limit > 0 && len(m.history) > limit {
		m.history = m.history[len(m.history)-limit:]
	}
	m.mu.Unlock()

	m.logger.Warn("alert fired",
		zap.String("type", string(alert.Type)),
		zap.String("severity", alert.Severity.String()),
		zap.String("message", alert.Message))

	select {
	case m.alertChan <- alert:
	default:
	}
}
