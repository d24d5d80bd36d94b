package entity

import (
	"fmt"
	"strings"
)

// RiskProfileName identifies one of the closed set of risk profiles
type RiskProfileName string

const (
	ProfileConservative RiskProfileName = "conservative"
	ProfileModerate     RiskProfileName = "moderate"
	ProfileAggressive   RiskProfileName = "aggressive"
)

// RiskProfile is a named policy bundle controlling decision strictness
type RiskProfile struct {
	Name RiskProfileName `json:"name"`

	// Overall score above this is never traded
	MaxRiskScore float64 `json:"max_risk_score"`
	// Overall score at or below this is approved without hesitation
	SafeRiskScore float64 `json:"safe_risk_score"`

	RequireRenounced bool    `json:"require_renounced"`
	MaxSellTaxPct    float64 `json:"max_sell_tax_pct"`
	MinLiquidityUSD  float64 `json:"min_liquidity_usd"`

	RequiredChecks []CheckType `json:"required_checks"`
	OptionalChecks []CheckType `json:"optional_checks"`

	// A single completed check scoring above its threshold forces BLOCK
	BlockingThresholds map[CheckType]float64 `json:"blocking_thresholds"`
}

// IsRequired reports whether a check must complete for a trade to proceed
func (p *RiskProfile) IsRequired(checkType CheckType) bool {
	for _, c := range p.RequiredChecks {
		if c == checkType {
			return true
		}
	}
	return false
}

// Checks returns required checks followed by optional ones
func (p *RiskProfile) Checks() []CheckType {
	checks := make([]CheckType, 0, len(p.RequiredChecks)+len(p.OptionalChecks))
	checks = append(checks, p.RequiredChecks...)
	checks = append(checks, p.OptionalChecks...)
	return checks
}

// BlockingThreshold returns the per-check threshold; checks without one never block on their own
func (p *RiskProfile) BlockingThreshold(checkType CheckType) (float64, bool) {
	t, ok := p.BlockingThresholds[checkType]
	return t, ok
}

// DefaultRiskProfiles returns the built-in profile table
func DefaultRiskProfiles() map[RiskProfileName]*RiskProfile {
	return map[RiskProfileName]*RiskProfile{
		ProfileConservative: {
			Name:             ProfileConservative,
			MaxRiskScore:     40,
			SafeRiskScore:    25,
			RequireRenounced: true,
			MaxSellTaxPct:    5,
			MinLiquidityUSD:  50_000,
			RequiredChecks: []CheckType{
				CheckHoneypot, CheckLiquidity, CheckOwnership, CheckTax, CheckContractSecurity,
			},
			OptionalChecks: []CheckType{CheckHolderConcentration},
			BlockingThresholds: map[CheckType]float64{
				CheckHoneypot:            70,
				CheckLiquidity:           80,
				CheckOwnership:           80,
				CheckTax:                 70,
				CheckContractSecurity:    80,
				CheckHolderConcentration: 90,
			},
		},
		ProfileModerate: {
			Name:             ProfileModerate,
			MaxRiskScore:     60,
			SafeRiskScore:    35,
			RequireRenounced: false,
			MaxSellTaxPct:    10,
			MinLiquidityUSD:  20_000,
			RequiredChecks:   []CheckType{CheckHoneypot, CheckLiquidity, CheckTax},
			OptionalChecks:   []CheckType{CheckOwnership, CheckContractSecurity, CheckHolderConcentration},
			BlockingThresholds: map[CheckType]float64{
				CheckHoneypot:         80,
				CheckLiquidity:        90,
				CheckTax:              85,
				CheckContractSecurity: 95,
			},
		},
		ProfileAggressive: {
			Name:             ProfileAggressive,
			MaxRiskScore:     75,
			SafeRiskScore:    50,
			RequireRenounced: false,
			MaxSellTaxPct:    20,
			MinLiquidityUSD:  5_000,
			RequiredChecks:   []CheckType{CheckHoneypot},
			OptionalChecks:   []CheckType{CheckLiquidity, CheckTax, CheckOwnership, CheckContractSecurity, CheckHolderConcentration},
			BlockingThresholds: map[CheckType]float64{
				CheckHoneypot: 90,
			},
		},
	}
}

// ParseRiskProfileName normalizes a profile name from config or the wire
func ParseRiskProfileName(s string) (RiskProfileName, error) {
	switch RiskProfileName(strings.ToLower(strings.TrimSpace(s))) {
	case ProfileConservative:
		return ProfileConservative, nil
	case ProfileModerate, "":
		return ProfileModerate, nil
	case ProfileAggressive:
		return ProfileAggressive, nil
	default:
		return "", fmt.Errorf("unknown risk profile %q", s)
	}
}

// ParseExecutionMode normalizes an execution mode from config or the wire
func ParseExecutionMode(s string) (ExecutionMode, error) {
	switch ExecutionMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeParallel, "":
		return ModeParallel, nil
	case ModeSequential:
		return ModeSequential, nil
	default:
		return "", fmt.Errorf("unknown execution mode %q", s)
	}
}
