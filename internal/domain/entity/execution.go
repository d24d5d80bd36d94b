package entity

import (
	"time"
)

// TradeDecision is what the engine hands to the external execution manager
type TradeDecision struct {
	AssessmentID string          `json:"assessment_id"`
	Chain        string          `json:"chain"`
	TokenAddress string          `json:"token_address"`
	PairAddress  string          `json:"pair_address"`
	Decision     TradingDecision `json:"decision"`
	RiskScore    float64         `json:"risk_score"`
	Confidence   float64         `json:"confidence"`
	SourceTxHash string          `json:"source_tx_hash,omitempty"`
	Swap         *SwapParams     `json:"swap,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ExecutionResult is returned by the execution manager boundary
type ExecutionResult struct {
	Submitted     bool      `json:"submitted"`
	Reference     string    `json:"reference,omitempty"`
	GasSavingsWei string    `json:"gas_savings_wei,omitempty"`
	Error         string    `json:"error,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// AssessmentRequest arrives from external callers over the message bus
type AssessmentRequest struct {
	TokenAddress string          `json:"token_address"`
	PairAddress  string          `json:"pair_address"`
	Chain        string          `json:"chain,omitempty"`
	Profile      RiskProfileName `json:"profile,omitempty"`
	Mode         ExecutionMode   `json:"mode,omitempty"`
	Pairs        []TokenPair     `json:"pairs,omitempty"` // non-empty means bulk
	QuickOnly    bool            `json:"quick_only,omitempty"`
}

// AssessmentResponse is the reply to an AssessmentRequest; exactly one result field is set
type AssessmentResponse struct {
	Assessment *RiskAssessment       `json:"assessment,omitempty"`
	Bulk       *BulkAssessmentResult `json:"bulk,omitempty"`
	Quick      *QuickHoneypotResult  `json:"quick,omitempty"`
	Error      string                `json:"error,omitempty"`
}
