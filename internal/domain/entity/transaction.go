package entity

import (
	"math/big"
	"time"
)

// PendingTransaction represents a transaction observed in a node's mempool
type PendingTransaction struct {
	Hash      string    `json:"hash"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Value     *big.Int  `json:"value"`
	GasPrice  *big.Int  `json:"gas_price"`
	GasLimit  uint64    `json:"gas_limit"`
	Nonce     uint64    `json:"nonce"`
	Input     string    `json:"input"`
	Timestamp time.Time `json:"timestamp"`
	ChainID   uint64    `json:"chain_id"`
	Chain     string    `json:"chain"`

	// Set by the pipeline once the analyzer has classified the transaction
	Analysis *TransactionAnalysis `json:"analysis,omitempty"`
}

// Clone returns a deep copy safe to hand to another goroutine
func (tx *PendingTransaction) Clone() *PendingTransaction {
	if tx == nil {
		return nil
	}
	c := *tx
	if tx.Value != nil {
		c.Value = new(big.Int).Set(tx.Value)
	}
	if tx.GasPrice != nil {
		c.GasPrice = new(big.Int).Set(tx.GasPrice)
	}
	return &c
}

// Age returns how long ago the transaction was seen
func (tx *PendingTransaction) Age(now time.Time) time.Duration {
	return now.Sub(tx.Timestamp)
}

// TransactionType is the closed set of classifications produced by the analyzer
type TransactionType string

const (
	TxTypeSwapExactETHForTokens    TransactionType = "SWAP_EXACT_ETH_FOR_TOKENS"
	TxTypeSwapETHForExactTokens    TransactionType = "SWAP_ETH_FOR_EXACT_TOKENS"
	TxTypeSwapExactTokensForETH    TransactionType = "SWAP_EXACT_TOKENS_FOR_ETH"
	TxTypeSwapTokensForExactETH    TransactionType = "SWAP_TOKENS_FOR_EXACT_ETH"
	TxTypeSwapExactTokensForTokens TransactionType = "SWAP_EXACT_TOKENS_FOR_TOKENS"
	TxTypeSwapTokensForExactTokens TransactionType = "SWAP_TOKENS_FOR_EXACT_TOKENS"
	TxTypeV3ExactInputSingle       TransactionType = "V3_EXACT_INPUT_SINGLE"
	TxTypeAddLiquidity             TransactionType = "ADD_LIQUIDITY"
	TxTypeAddLiquidityETH          TransactionType = "ADD_LIQUIDITY_ETH"
	TxTypeRemoveLiquidity          TransactionType = "REMOVE_LIQUIDITY"
	TxTypeRemoveLiquidityETH       TransactionType = "REMOVE_LIQUIDITY_ETH"
	TxTypeMulticall                TransactionType = "MULTICALL"
	TxTypeDEXGeneric               TransactionType = "DEX_GENERIC"
	TxTypeNonDEX                   TransactionType = "NON_DEX"
	TxTypeUnknown                  TransactionType = "UNKNOWN"
)

// IsDEX reports whether the type is any DEX interaction
func (t TransactionType) IsDEX() bool {
	return t != TxTypeNonDEX && t != TxTypeUnknown && t != ""
}

// IsSwap reports whether the type moves one asset into another
func (t TransactionType) IsSwap() bool {
	switch t {
	case TxTypeSwapExactETHForTokens, TxTypeSwapETHForExactTokens,
		TxTypeSwapExactTokensForETH, TxTypeSwapTokensForExactETH,
		TxTypeSwapExactTokensForTokens, TxTypeSwapTokensForExactTokens,
		TxTypeV3ExactInputSingle:
		return true
	default:
		return false
	}
}

// IsETHSwap reports whether one side of the swap is the native asset
func (t TransactionType) IsETHSwap() bool {
	switch t {
	case TxTypeSwapExactETHForTokens, TxTypeSwapETHForExactTokens,
		TxTypeSwapExactTokensForETH, TxTypeSwapTokensForExactETH:
		return true
	default:
		return false
	}
}

// PaysNative reports whether the native asset is the input side (tx value carries the amount)
func (t TransactionType) PaysNative() bool {
	return t == TxTypeSwapExactETHForTokens || t == TxTypeSwapETHForExactTokens || t == TxTypeAddLiquidityETH
}

// RiskFlag is a risk signal raised for a single transaction
type RiskFlag string

const (
	RiskFlagMEVBundle    RiskFlag = "MEV_BUNDLE"
	RiskFlagLargeTrade   RiskFlag = "LARGE_TRADE"
	RiskFlagHighSlippage RiskFlag = "HIGH_SLIPPAGE"
	RiskFlagFrontRun     RiskFlag = "FRONT_RUN_OPPORTUNITY"
	RiskFlagFlashLoan    RiskFlag = "FLASH_LOAN"
)

// OpportunityFlag is a trading opportunity suggested by a transaction
type OpportunityFlag string

const (
	OpportunityCopyTrade OpportunityFlag = "COPY_TRADE"
	OpportunityArbitrage OpportunityFlag = "ARBITRAGE"
)

// SwapParams holds best-effort decoded swap arguments. Any field may be empty.
type SwapParams struct {
	AmountIn     *big.Int `json:"amount_in,omitempty"`
	AmountOutMin *big.Int `json:"amount_out_min,omitempty"`
	AmountOut    *big.Int `json:"amount_out,omitempty"`
	AmountInMax  *big.Int `json:"amount_in_max,omitempty"`
	TokenIn      string   `json:"token_in,omitempty"`
	TokenOut     string   `json:"token_out,omitempty"`
	Path         []string `json:"path,omitempty"`
	Recipient    string   `json:"recipient,omitempty"`
	Deadline     *big.Int `json:"deadline,omitempty"`
}

// TargetToken returns the token being acquired, falling back to the input token
func (p *SwapParams) TargetToken() string {
	if p == nil {
		return ""
	}
	if p.TokenOut != "" {
		return p.TokenOut
	}
	return p.TokenIn
}

// TransactionAnalysis is the immutable result of analyzing one pending transaction
type TransactionAnalysis struct {
	TxHash            string            `json:"tx_hash"`
	ChainID           uint64            `json:"chain_id"`
	Chain             string            `json:"chain"`
	TransactionType   TransactionType   `json:"transaction_type"`
	Selector          string            `json:"selector,omitempty"`
	Params            *SwapParams       `json:"params,omitempty"`
	Token             *TokenMetadata    `json:"token,omitempty"`
	GasCostETH        string            `json:"gas_cost_eth,omitempty"`
	AmountInETH       string            `json:"amount_in_eth,omitempty"`
	PriceImpactPct    float64           `json:"price_impact_pct"`
	RiskFlags         []RiskFlag        `json:"risk_flags"`
	RiskScore         float64           `json:"risk_score"` // 0.0 - 1.0
	OpportunityFlags  []OpportunityFlag `json:"opportunity_flags"`
	ProfitEstimateETH string            `json:"profit_estimate_eth,omitempty"`
	ConfidenceScore   float64           `json:"confidence_score"` // 0.0 - 1.0
	Degraded          bool              `json:"degraded,omitempty"`
	Error             string            `json:"error,omitempty"`
	AnalyzedAt        time.Time         `json:"analyzed_at"`
	Duration          time.Duration     `json:"duration"`
}

// HasRiskFlag checks whether a flag was raised
func (a *TransactionAnalysis) HasRiskFlag(flag RiskFlag) bool {
	for _, f := range a.RiskFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// HasOpportunity checks whether an opportunity was identified
func (a *TransactionAnalysis) HasOpportunity(flag OpportunityFlag) bool {
	for _, f := range a.OpportunityFlags {
		if f == flag {
			return true
		}
	}
	return false
}
