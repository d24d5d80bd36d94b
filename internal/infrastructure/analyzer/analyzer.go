package analyzer

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"mempool-risk-engine/internal/domain/entity"
	"mempool-risk-engine/internal/domain/service"
	"mempool-risk-engine/internal/infrastructure/blockchain"
	"mempool-risk-engine/internal/infrastructure/config"
	"mempool-risk-engine/internal/infrastructure/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Risk score contributions per flag
const (
	mevBundleWeight    = 0.30
	largeTradeWeight   = 0.20
	highSlippageWeight = 0.25
	flashLoanWeight    = 0.30
)

// Confidence contributions
const (
	typeConfidence   = 0.4
	tokenConfidence  = 0.2
	amountConfidence = 0.2
	impactConfidence = 0.2
)

const defaultDecimals = 18

// impactBands is the size-bucket price impact table: trades below upToETH move the price by impactPct
var impactBands = []struct {
	upToETH   float64
	impactPct float64
}{
	{0.1, 0.1},
	{1, 0.5},
	{10, 2},
	{100, 5},
}

const maxImpactPct = 10.0

var _ service.TransactionAnalyzer = (*Analyzer)(nil)

// Analyzer implements service.TransactionAnalyzer with selector heuristics
type Analyzer struct {
	cfg      config.AnalyzerConfig
	routers  map[string]map[string]struct{}
	native   map[string]string
	decoder  service.SwapDecoder
	metadata service.TokenMetadataSource
	logger   *logger.Logger

	metaMu    sync.RWMutex
	metaCache map[string]*entity.TokenMetadata

	analyzed      atomic.Int64
	dex           atomic.Int64
	opportunities atomic.Int64
	flagsRaised   atomic.Int64
	degraded      atomic.Int64
	totalNanos    atomic.Int64

	flagMu     sync.Mutex
	flagCounts map[entity.RiskFlag]int64
}

// NewAnalyzer creates a transaction analyzer. metadata may be nil.
func NewAnalyzer(cfg *config.Config, decoder service.SwapDecoder, metadata service.TokenMetadataSource, log *logger.Logger) *Analyzer {
	routers := make(map[string]map[string]struct{}, len(cfg.Chains))
	native := make(map[string]string, len(cfg.Chains))
	for name, chain := range cfg.Chains {
		set := make(map[string]struct{}, len(chain.Routers))
		for _, r := range chain.Routers {
			set[strings.ToLower(r)] = struct{}{}
		}
		routers[name] = set
		native[name] = strings.ToLower(chain.WrappedNative)
	}

	return &Analyzer{
		cfg:        cfg.Analyzer,
		routers:    routers,
		native:     native,
		decoder:    decoder,
		metadata:   metadata,
		logger:     log.WithComponent("tx-analyzer"),
		metaCache:  make(map[string]*entity.TokenMetadata),
		flagCounts: make(map[entity.RiskFlag]int64),
	}
}

// Analyze classifies and scores tx. It never fails: any internal error or
// panic yields an UNKNOWN result with maximum risk.
func (a *Analyzer) Analyze(ctx context.Context, tx *entity.PendingTransaction) (analysis *entity.TransactionAnalysis) {
	start := time.Now()
	analysis = &entity.TransactionAnalysis{
		RiskFlags:        []entity.RiskFlag{},
		OpportunityFlags: []entity.OpportunityFlag{},
		AnalyzedAt:       start,
	}

	defer func() {
		if r := recover(); r != nil {
			degrade(analysis, fmt.Errorf("analysis panic: %v", r))
		}
		analysis.Duration = time.Since(start)
		a.record(analysis)

		if analysis.Degraded {
			a.logger.Warn("Transaction analysis degraded",
				zap.String("tx_hash", analysis.TxHash),
				zap.String("error", analysis.Error))
		} else {
			a.logger.Debug("Transaction analyzed",
				zap.String("tx_hash", analysis.TxHash),
				zap.String("type", string(analysis.TransactionType)),
				zap.Float64("risk_score", analysis.RiskScore),
				zap.Duration("duration", analysis.Duration))
		}
	}()

	if tx == nil {
		degrade(analysis, fmt.Errorf("nil transaction"))
		return analysis
	}
	analysis.TxHash = tx.Hash
	analysis.ChainID = tx.ChainID
	analysis.Chain = tx.Chain

	selector, ok := blockchain.ExtractSelector(tx.Input)
	if !ok {
		analysis.TransactionType = entity.TxTypeNonDEX
		return analysis
	}
	analysis.Selector = selector

	txType, fromTable := a.classify(tx, selector)
	analysis.TransactionType = txType

	if txType.IsDEX() {
		params, err := a.decoder.Decode(txType, tx)
		if err != nil {
			a.logger.Debug("Partial swap decode",
				zap.String("tx_hash", tx.Hash),
				zap.String("type", string(txType)),
				zap.Error(err))
		}
		analysis.Params = params
	}

	gasCost := new(big.Int).Mul(new(big.Int).SetUint64(tx.GasLimit), bigOrZero(tx.GasPrice))
	analysis.GasCostETH = blockchain.WeiToETH(gasCost).String()

	amountWei := a.amountInNative(txType, tx, analysis.Params)
	amountETH := 0.0
	impactKnown := false
	if amountWei != nil {
		amount := blockchain.WeiToETH(amountWei)
		analysis.AmountInETH = amount.String()
		amountETH = amount.InexactFloat64()
		analysis.PriceImpactPct = estimatePriceImpact(amountETH)
		impactKnown = true
	}

	a.scoreRisk(analysis, tx, amountETH)
	if txType.IsDEX() {
		a.findOpportunities(analysis, txType, amountETH)
	}

	target := analysis.Params.TargetToken()
	if target != "" && txType.IsDEX() {
		analysis.Token = a.tokenMetadata(ctx, tx.Chain, target)
	}

	confidence := 0.0
	if fromTable {
		confidence += typeConfidence
	}
	if target != "" {
		confidence += tokenConfidence
	}
	if amountWei != nil {
		confidence += amountConfidence
	}
	if impactKnown {
		confidence += impactConfidence
	}
	analysis.ConfidenceScore = clamp01(confidence)

	return analysis
}

// classify maps the selector to a transaction type; the bool reports a selector table hit
func (a *Analyzer) classify(tx *entity.PendingTransaction, selector string) (entity.TransactionType, bool) {
	if txType, ok := blockchain.ClassifySelector(selector); ok {
		return txType, true
	}
	if _, ok := a.routers[tx.Chain][strings.ToLower(tx.To)]; ok {
		return entity.TxTypeDEXGeneric, false
	}
	return entity.TxTypeNonDEX, false
}

// amountInNative estimates the trade size in the chain's native asset, or nil if unknown
func (a *Analyzer) amountInNative(txType entity.TransactionType, tx *entity.PendingTransaction, params *entity.SwapParams) *big.Int {
	switch {
	case txType.PaysNative():
		return bigOrZero(tx.Value)
	case txType == entity.TxTypeSwapExactTokensForETH && params != nil && params.AmountOutMin != nil:
		return params.AmountOutMin
	case txType == entity.TxTypeSwapTokensForExactETH && params != nil && params.AmountOut != nil:
		return params.AmountOut
	case params != nil && params.AmountIn != nil && params.TokenIn != "" && params.TokenIn == a.native[tx.Chain]:
		return params.AmountIn
	case tx.Value != nil && tx.Value.Sign() > 0:
		return tx.Value
	default:
		return nil
	}
}

// scoreRisk raises the independent risk flags and sums their contributions
func (a *Analyzer) scoreRisk(analysis *entity.TransactionAnalysis, tx *entity.PendingTransaction, amountETH float64) {
	gasGwei := blockchain.WeiToGwei(tx.GasPrice).InexactFloat64()
	score := 0.0

	if gasGwei > a.cfg.HighGasPriceGwei {
		analysis.RiskFlags = append(analysis.RiskFlags, entity.RiskFlagMEVBundle)
		score += mevBundleWeight
	}
	if amountETH > a.cfg.LargeTradeETH {
		analysis.RiskFlags = append(analysis.RiskFlags, entity.RiskFlagLargeTrade)
		score += largeTradeWeight
	}
	if analysis.PriceImpactPct > a.cfg.HighSlippagePct {
		analysis.RiskFlags = append(analysis.RiskFlags, entity.RiskFlagHighSlippage)
		score += highSlippageWeight
	}
	if gasGwei < a.cfg.FrontRunMaxGasGwei && amountETH > a.cfg.FrontRunMinAmountETH {
		analysis.RiskFlags = append(analysis.RiskFlags, entity.RiskFlagFrontRun)
	}
	if a.cfg.FlashLoanInputLen > 0 && len(tx.Input) > a.cfg.FlashLoanInputLen {
		analysis.RiskFlags = append(analysis.RiskFlags, entity.RiskFlagFlashLoan)
		score += flashLoanWeight
	}

	analysis.RiskScore = clamp01(score)
}

// findOpportunities flags copy-trade and crude arbitrage candidates
func (a *Analyzer) findOpportunities(analysis *entity.TransactionAnalysis, txType entity.TransactionType, amountETH float64) {
	if amountETH >= a.cfg.CopyTradeMinETH && analysis.RiskScore < a.cfg.CopyTradeMaxRisk {
		analysis.OpportunityFlags = append(analysis.OpportunityFlags, entity.OpportunityCopyTrade)
	}

	if txType.IsETHSwap() && analysis.PriceImpactPct > a.cfg.ArbitrageMinImpactPct {
		analysis.OpportunityFlags = append(analysis.OpportunityFlags, entity.OpportunityArbitrage)
		// A share of the displaced value; no pool math
		profit := decimal.NewFromFloat(amountETH).
			Mul(decimal.NewFromFloat(analysis.PriceImpactPct)).
			Div(decimal.NewFromInt(100)).
			Mul(decimal.NewFromFloat(a.cfg.ArbitrageProfitShare))
		analysis.ProfitEstimateETH = profit.Round(18).String()
	}
}

// tokenMetadata resolves metadata through the cache within the lookup budget
func (a *Analyzer) tokenMetadata(ctx context.Context, chain, token string) *entity.TokenMetadata {
	key := chain + ":" + token

	a.metaMu.RLock()
	cached, ok := a.metaCache[key]
	a.metaMu.RUnlock()
	if ok {
		return cached
	}

	fallback := &entity.TokenMetadata{Address: token, Decimals: defaultDecimals}
	if a.metadata == nil {
		return fallback
	}

	lookupCtx := ctx
	if a.cfg.MetadataTimeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, a.cfg.MetadataTimeout)
		defer cancel()
	}

	meta, err := a.metadata.TokenMetadata(lookupCtx, chain, token)
	if err != nil {
		// Not cached so a later transaction can retry
		a.logger.Debug("Token metadata lookup failed",
			zap.String("chain", chain),
			zap.String("token", token),
			zap.Error(err))
		return fallback
	}

	a.metaMu.Lock()
	a.metaCache[key] = meta
	a.metaMu.Unlock()
	return meta
}

func (a *Analyzer) record(analysis *entity.TransactionAnalysis) {
	a.analyzed.Add(1)
	a.totalNanos.Add(int64(analysis.Duration))
	if analysis.TransactionType.IsDEX() {
		a.dex.Add(1)
	}
	if analysis.Degraded {
		a.degraded.Add(1)
	}
	a.opportunities.Add(int64(len(analysis.OpportunityFlags)))
	if len(analysis.RiskFlags) == 0 {
		return
	}
	a.flagsRaised.Add(int64(len(analysis.RiskFlags)))
	a.flagMu.Lock()
	for _, f := range analysis.RiskFlags {
		a.flagCounts[f]++
	}
	a.flagMu.Unlock()
}

// Statistics are the analyzer's rolling counters
type Statistics struct {
	Analyzed            int64                     `json:"transactions_analyzed"`
	DEXTransactions     int64                     `json:"dex_transactions"`
	Opportunities       int64                     `json:"opportunities_identified"`
	RiskFlagsTriggered  int64                     `json:"risk_flags_triggered"`
	FlagCounts          map[entity.RiskFlag]int64 `json:"flag_counts"`
	Degraded            int64                     `json:"degraded"`
	AverageAnalysisTime time.Duration             `json:"average_analysis_time"`
	CachedTokens        int                       `json:"cached_tokens"`
}

// GetStatistics returns a snapshot of the counters
func (a *Analyzer) GetStatistics() Statistics {
	stats := Statistics{
		Analyzed:           a.analyzed.Load(),
		DEXTransactions:    a.dex.Load(),
		Opportunities:      a.opportunities.Load(),
		RiskFlagsTriggered: a.flagsRaised.Load(),
		Degraded:           a.degraded.Load(),
		FlagCounts:         make(map[entity.RiskFlag]int64),
	}
	if stats.Analyzed > 0 {
		stats.AverageAnalysisTime = time.Duration(a.totalNanos.Load() / stats.Analyzed)
	}

	a.flagMu.Lock()
	for k, v := range a.flagCounts {
		stats.FlagCounts[k] = v
	}
	a.flagMu.Unlock()

	a.metaMu.RLock()
	stats.CachedTokens = len(a.metaCache)
	a.metaMu.RUnlock()
	return stats
}

// estimatePriceImpact is the discrete size-bucket heuristic
func estimatePriceImpact(amountETH float64) float64 {
	for _, band := range impactBands {
		if amountETH < band.upToETH {
			return band.impactPct
		}
	}
	return maxImpactPct
}

func degrade(analysis *entity.TransactionAnalysis, err error) {
	analysis.TransactionType = entity.TxTypeUnknown
	analysis.RiskScore = 1.0
	analysis.ConfidenceScore = 0
	analysis.Degraded = true
	analysis.Error = err.Error()
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
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
