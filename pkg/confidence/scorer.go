package confidence

import (
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/mev-engine/solana-mev-pipeline/pkg/interfaces"
	"github.com/mev-engine/solana-mev-pipeline/pkg/types"
)

// Factor names, used as keys in the score breakdown.
const (
	FactorPoolDepth      = "pool_depth"
	FactorSlippage       = "slippage"
	FactorPriceImpact    = "price_impact"
	FactorSimAgreement   = "simulation_agreement"
	FactorBlockStability = "block_stability"
	FactorSenderHistory  = "sender_history"
	FactorValue          = "value"
)

// defaultWeights is the fixed factor weighting. Validated to sum to exactly
// 1.0 when the scorer is constructed.
var defaultWeights = map[string]float64{
	FactorPoolDepth:      0.15,
	FactorSlippage:       0.20,
	FactorPriceImpact:    0.15,
	FactorSimAgreement:   0.20,
	FactorBlockStability: 0.10,
	FactorSenderHistory:  0.10,
	FactorValue:          0.10,
}

const (
	defaultThreshold = 0.85
	maxThreshold     = 0.95
	minThreshold     = 0.70

	// Hard-filter floors. Any failure overrides the weighted score.
	slippageFactorFloor  = 0.5
	minPoolDepthMultiple = 10.0
	minValueSOL          = 0.001

	senderHistoryLimit = 1000
)

// Config holds the scorer settings.
type Config struct {
	Threshold float64 `mapstructure:"threshold"`
}

// DefaultConfig returns the documented confidence defaults.
func DefaultConfig() *Config {
	return &Config{Threshold: defaultThreshold}
}

// senderRecord tracks one sender's outcome history.
type senderRecord struct {
	successes int
	total     int
}

// Scorer combines seven independent factors into a 0-1 confidence score and
// applies hard filters that a weighted sum would average away. A single
// scalar threshold is gameable by one dominant factor; the filters catch the
// degenerate cases.
type Scorer struct {
	config  *Config
	weights map[string]float64
	logger  *zap.Logger

	mu        sync.RWMutex
	threshold float64
	senders   map[string]*senderRecord
}

// NewScorer creates a scorer and validates that the factor weights sum to
// exactly 1.0.
func NewScorer(config *Config, logger *zap.Logger) (*Scorer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Threshold <= 0 || config.Threshold > 1 {
		config.Threshold = defaultThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var sum float64
	for _, w := range defaultWeights {
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-9 {
		return nil, fmt.Errorf("confidence factor weights sum to %.6f, want 1.0", sum)
	}

	return &Scorer{
		config:    config,
		weights:   defaultWeights,
		logger:    logger.Named("confidence"),
		threshold: config.Threshold,
		senders:   make(map[string]*senderRecord),
	}, nil
}

// Score computes the weighted composite and its factor breakdown. Reliable is
// true only when at least one simulation result backed the score.
func (s *Scorer) Score(opp *types.Opportunity, results []interfaces.ScenarioResult) *interfaces.ConfidenceScore {
	factors := map[string]float64{
		FactorPoolDepth:      s.poolDepthFactor(opp),
		FactorSlippage:       s.slippageFactor(opp, results),
		FactorPriceImpact:    s.priceImpactFactor(opp, results),
		FactorSimAgreement:   s.agreementFactor(results),
		FactorBlockStability: s.blockStabilityFactor(results),
		FactorSenderHistory:  s.senderFactor(opp.Sender),
		FactorValue:          s.valueFactor(opp),
	}

	var score float64
	for name, value := range factors {
		score += s.weights[name] * value
	}
	score = clamp01(score)

	return &interfaces.ConfidenceScore{
		Score:    score,
		Factors:  factors,
		Reliable: len(results) > 0,
	}
}

// Evaluate runs the hard filters and the threshold check, returning the
// losing check's name and numbers on rejection.
func (s *Scorer) Evaluate(opp *types.Opportunity, results []interfaces.ScenarioResult) *interfaces.FilterResult {
	score := s.Score(opp, results)
	result := &interfaces.FilterResult{Score: score}

	if reason := s.hardFilterReason(opp, score); reason != "" {
		result.Reason = reason
		s.logger.Info("opportunity filtered",
			zap.String("opportunity", opp.ID),
			zap.String("reason", reason),
			zap.Float64("score", score.Score))
		return result
	}

	threshold := s.Threshold()
	if score.Score < threshold {
		result.Reason = fmt.Sprintf("confidence %.3f below threshold %.3f", score.Score, threshold)
		return result
	}

	result.ShouldExecute = true
	return result
}

// hardFilterReason returns the first failing hard filter, or "".
func (s *Scorer) hardFilterReason(opp *types.Opportunity, score *interfaces.ConfidenceScore) string {
	if slip := score.Factors[FactorSlippage]; slip <= slippageFactorFloor {
		return fmt.Sprintf("slippage factor %.3f at or below %.2f", slip, slippageFactorFloor)
	}
	if opp.PoolDepthSOL < minPoolDepthMultiple*opp.TradeSizeSOL {
		return fmt.Sprintf("pool depth %.4f below %.0fx trade size %.4f",
			opp.PoolDepthSOL, minPoolDepthMultiple, opp.TradeSizeSOL)
	}
	if opp.GrossProfitSOL < minValueSOL {
		return fmt.Sprintf("value %.6f below floor %.6f", opp.GrossProfitSOL, minValueSOL)
	}
	if s.looksLikeSpam(opp) {
		return "matches spam pattern: near-zero value from unknown sender"
	}
	return ""
}

// looksLikeSpam flags near-zero-value opportunities from senders we have
// never seen succeed.
func (s *Scorer) looksLikeSpam(opp *types.Opportunity) bool {
	if opp.GrossProfitSOL >= 10*minValueSOL {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, known := s.senders[opp.Sender]
	return !known || rec.successes == 0
}

// RecordOutcome updates the sender history table.
func (s *Scorer) RecordOutcome(sender string, success bool) {
	if sender == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.senders[sender]
	if !ok {
		if len(s.senders) >= senderHistoryLimit {
			// Table full; drop the new entry rather than evict under load.
			return
		}
		rec = &senderRecord{}
		s.senders[sender] = rec
	}
	rec.total++
	if success {
		rec.successes++
	}
}

// RecordFalsePositive tightens the threshold after an executed opportunity
// turned out unprofitable.
func (s *Scorer) RecordFalsePositive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threshold = math.Min(s.threshold*1.05, maxThreshold)
	s.logger.Info("threshold raised after false positive", zap.Float64("threshold", s.threshold))
}

// RecordMissedOpportunity relaxes the threshold after a rejected opportunity
// would have been profitable.
func (s *Scorer) RecordMissedOpportunity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threshold = math.Max(s.threshold*0.95, minThreshold)
	s.logger.Info("threshold lowered after missed opportunity", zap.Float64("threshold", s.threshold))
}

// Threshold returns the current adaptive execution threshold.
func (s *Scorer) Threshold() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}

func (s *Scorer) poolDepthFactor(opp *types.Opportunity) float64 {
	if opp.TradeSizeSOL <= 0 || opp.PoolDepthSOL <= 0 {
		return 0
	}
	return clamp01((opp.PoolDepthSOL / opp.TradeSizeSOL) / 50.0)
}

// slippageFactor rewards scenarios whose slippage stays far below the
// opportunity's gross profit.
func (s *Scorer) slippageFactor(opp *types.Opportunity, results []interfaces.ScenarioResult) float64 {
	if len(results) == 0 || opp.GrossProfitSOL <= 0 {
		return 0
	}
	var worst float64
	for _, r := range results {
		if r.SlippageSOL > worst {
			worst = r.SlippageSOL
		}
	}
	return clamp01(1 - worst/opp.GrossProfitSOL)
}

func (s *Scorer) priceImpactFactor(opp *types.Opportunity, results []interfaces.ScenarioResult) float64 {
	if len(results) == 0 || opp.GrossProfitSOL <= 0 {
		return 0.5
	}
	var worst float64
	for _, r := range results {
		if r.PriceImpactSOL > worst {
			worst = r.PriceImpactSOL
		}
	}
	return clamp01(1 - worst/opp.GrossProfitSOL)
}

// agreementFactor is the fraction of scenarios that agreed the opportunity is
// valid.
func (s *Scorer) agreementFactor(results []interfaces.ScenarioResult) float64 {
	if len(results) == 0 {
		return 0
	}
	valid := 0
	for _, r := range results {
		if r.Valid {
			valid++
		}
	}
	return float64(valid) / float64(len(results))
}

// blockStabilityFactor penalizes wide net-profit spread across scenarios.
func (s *Scorer) blockStabilityFactor(results []interfaces.ScenarioResult) float64 {
	if len(results) < 2 {
		return 0.5
	}
	minNet, maxNet := results[0].NetProfitSOL, results[0].NetProfitSOL
	for _, r := range results[1:] {
		if r.NetProfitSOL < minNet {
			minNet = r.NetProfitSOL
		}
		if r.NetProfitSOL > maxNet {
			maxNet = r.NetProfitSOL
		}
	}
	if maxNet <= 0 {
		return 0
	}
	return clamp01(1 - (maxNet-minNet)/maxNet)
}

func (s *Scorer) senderFactor(sender string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.senders[sender]
	if !ok || rec.total == 0 {
		return 0.5 // unknown sender, neutral
	}
	return clamp01(float64(rec.successes) / float64(rec.total))
}

func (s *Scorer) valueFactor(opp *types.Opportunity) float64 {
	return clamp01(opp.GrossProfitSOL / 0.1)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
