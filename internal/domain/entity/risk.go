package entity

import (
	"time"
)

// CheckType identifies an independent risk check
type CheckType string

const (
	CheckHoneypot            CheckType = "honeypot"
	CheckLiquidity           CheckType = "liquidity"
	CheckOwnership           CheckType = "ownership"
	CheckTax                 CheckType = "tax"
	CheckContractSecurity    CheckType = "contract_security"
	CheckHolderConcentration CheckType = "holder_concentration"
)

// AllCheckTypes lists every check in dispatch order
var AllCheckTypes = []CheckType{
	CheckHoneypot,
	CheckLiquidity,
	CheckOwnership,
	CheckTax,
	CheckContractSecurity,
	CheckHolderConcentration,
}

// CheckStatus is the terminal status of a single check
type CheckStatus string

const (
	CheckStatusCompleted CheckStatus = "COMPLETED"
	CheckStatusFailed    CheckStatus = "FAILED"
	CheckStatusTimeout   CheckStatus = "TIMEOUT"
)

// RiskLevel buckets an overall risk score
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// RiskLevelForScore maps a 0-100 score to its bucket
func RiskLevelForScore(score float64) RiskLevel {
	switch {
	case score < 25:
		return RiskLevelLow
	case score < 50:
		return RiskLevelMedium
	case score < 75:
		return RiskLevelHigh
	default:
		return RiskLevelCritical
	}
}

// TradingDecision is the final verdict of an assessment
type TradingDecision string

const (
	DecisionApprove TradingDecision = "APPROVE"
	DecisionSkip    TradingDecision = "SKIP"
	DecisionBlock   TradingDecision = "BLOCK"
)

// AssessmentState tracks the progression of a single assessment
type AssessmentState string

const (
	StateCreated          AssessmentState = "CREATED"
	StateChecksDispatched AssessmentState = "CHECKS_DISPATCHED"
	StateAggregation      AssessmentState = "AGGREGATION"
	StateDecided          AssessmentState = "DECIDED"
	StateBlockedByTimeout AssessmentState = "BLOCKED_BY_TIMEOUT"
)

// ExecutionMode selects how checks are dispatched
type ExecutionMode string

const (
	ModeParallel   ExecutionMode = "parallel"
	ModeSequential ExecutionMode = "sequential"
)

// CheckDetails is implemented by the per-check detail variants below
type CheckDetails interface {
	CheckType() CheckType
}

// HoneypotDetails describes a buy/sell round-trip simulation
type HoneypotDetails struct {
	IsHoneypot bool    `json:"is_honeypot"`
	CanBuy     bool    `json:"can_buy"`
	CanSell    bool    `json:"can_sell"`
	BuyTaxPct  float64 `json:"buy_tax_pct"`
	SellTaxPct float64 `json:"sell_tax_pct"`
	Reason     string  `json:"reason,omitempty"`
}

func (HoneypotDetails) CheckType() CheckType { return CheckHoneypot }

// LiquidityDetails describes the pair's pooled liquidity
type LiquidityDetails struct {
	LiquidityUSD   float64 `json:"liquidity_usd"`
	MinRequiredUSD float64 `json:"min_required_usd"`
	LockedPct      float64 `json:"locked_pct"`
	MeetsMinimum   bool    `json:"meets_minimum"`
}

func (LiquidityDetails) CheckType() CheckType { return CheckLiquidity }

// OwnershipDetails describes who controls the token contract
type OwnershipDetails struct {
	Owner            string `json:"owner,omitempty"`
	Renounced        bool   `json:"renounced"`
	RenounceRequired bool   `json:"renounce_required"`
}

func (OwnershipDetails) CheckType() CheckType { return CheckOwnership }

// TaxDetails describes transfer taxes measured on buy and sell
type TaxDetails struct {
	BuyTaxPct     float64 `json:"buy_tax_pct"`
	SellTaxPct    float64 `json:"sell_tax_pct"`
	MaxSellTaxPct float64 `json:"max_sell_tax_pct"`
	ExceedsLimit  bool    `json:"exceeds_limit"`
}

func (TaxDetails) CheckType() CheckType { return CheckTax }

// ContractSecurityDetails lists dangerous capabilities found in bytecode
type ContractSecurityDetails struct {
	IsContract bool     `json:"is_contract"`
	CodeSize   int      `json:"code_size"`
	Findings   []string `json:"findings"`
}

func (ContractSecurityDetails) CheckType() CheckType { return CheckContractSecurity }

// HolderConcentrationDetails describes how supply is distributed
type HolderConcentrationDetails struct {
	TopHolderPct   float64 `json:"top_holder_pct"`
	Top10Pct       float64 `json:"top10_pct"`
	HoldersSampled int     `json:"holders_sampled"`
}

func (HolderConcentrationDetails) CheckType() CheckType { return CheckHolderConcentration }

// RiskCheckResult is the immutable output of one check unit
type RiskCheckResult struct {
	CheckType CheckType     `json:"check_type"`
	Status    CheckStatus   `json:"status"`
	RiskScore float64       `json:"risk_score"` // 0 - 100
	Details   CheckDetails  `json:"details,omitempty"`
	Duration  time.Duration `json:"duration"`
	Required  bool          `json:"required"`
	Error     string        `json:"error,omitempty"`
}

// Completed reports whether the check produced a usable score
func (r *RiskCheckResult) Completed() bool {
	return r.Status == CheckStatusCompleted
}

// ThoughtLog is a deterministic explanation of how a decision was reached
type ThoughtLog struct {
	Timestamp      time.Time       `json:"timestamp"`
	TokenAddress   string          `json:"token_address"`
	Decision       TradingDecision `json:"decision"`
	Narrative      string          `json:"narrative"`
	Signals        []string        `json:"signals"`
	ReasoningChain []string        `json:"reasoning_chain"`
}

// AssessmentSummary condenses an assessment for operators
type AssessmentSummary struct {
	TotalChecks     int      `json:"total_checks"`
	ChecksCompleted int      `json:"checks_completed"`
	ChecksFailed    int      `json:"checks_failed"`
	SuccessRate     float64  `json:"success_rate"`
	Recommendation  string   `json:"recommendation"`
	KeyPoints       []string `json:"key_points"`
	TradeReady      bool     `json:"trade_ready"`
}

// RiskAssessment is the result of one assess call
type RiskAssessment struct {
	ID               string             `json:"id"`
	TokenAddress     string             `json:"token_address"`
	PairAddress      string             `json:"pair_address"`
	Chain            string             `json:"chain,omitempty"`
	Profile          RiskProfileName    `json:"profile"`
	Mode             ExecutionMode      `json:"mode"`
	State            AssessmentState    `json:"state"`
	OverallRiskScore float64            `json:"overall_risk_score"`
	RiskLevel        RiskLevel          `json:"risk_level"`
	Decision         TradingDecision    `json:"trading_decision"`
	IsBlocked        bool               `json:"is_blocked"`
	BlockReasons     []string           `json:"block_reasons,omitempty"`
	ConfidenceScore  float64            `json:"confidence_score"` // 0 - 100
	ChecksCompleted  int                `json:"checks_completed"`
	ChecksFailed     int                `json:"checks_failed"`
	CheckResults     []*RiskCheckResult `json:"check_results"`
	ThoughtLog       *ThoughtLog        `json:"thought_log,omitempty"`
	Summary          *AssessmentSummary `json:"summary,omitempty"`
	Error            string             `json:"error,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	Duration         time.Duration      `json:"duration"`
}

// Result returns the check result of the given type, if present
func (a *RiskAssessment) Result(checkType CheckType) *RiskCheckResult {
	for _, r := range a.CheckResults {
		if r.CheckType == checkType {
			return r
		}
	}
	return nil
}

// TokenPair is one unit of work for the coordinator
type TokenPair struct {
	TokenAddress string `json:"token_address"`
	PairAddress  string `json:"pair_address"`
	Chain        string `json:"chain,omitempty"`
}

// BulkAssessmentResult aggregates a batch of assessments
type BulkAssessmentResult struct {
	Total        int               `json:"total"`
	Approved     int               `json:"approved"`
	Skipped      int               `json:"skipped"`
	Blocked      int               `json:"blocked"`
	Failed       int               `json:"failed"`
	AverageScore float64           `json:"average_score"`
	Results      []*RiskAssessment `json:"results"`
	Duration     time.Duration     `json:"duration"`
}

// QuickHoneypotResult is the fast-path honeypot verdict
type QuickHoneypotResult struct {
	TokenAddress string        `json:"token_address"`
	PairAddress  string        `json:"pair_address"`
	Status       CheckStatus   `json:"status"`
	IsHoneypot   bool          `json:"is_honeypot"`
	RiskScore    float64       `json:"risk_score"`
	BuyTaxPct    float64       `json:"buy_tax_pct"`
	SellTaxPct   float64       `json:"sell_tax_pct"`
	Duration     time.Duration `json:"duration"`
	Error        string        `json:"error,omitempty"`
}
