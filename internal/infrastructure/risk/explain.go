package risk

import (
	"fmt"
	"strings"
	"time"

	"mempool-risk-engine/internal/domain/entity"
)

// keyPointScore is the check score from which a signal is repeated in the summary
const keyPointScore = 50

// buildThoughtLog derives the explanation from the assessment alone; the same
// assessment always yields the same log apart from the timestamp.
func buildThoughtLog(a *entity.RiskAssessment, now time.Time) *entity.ThoughtLog {
	log := &entity.ThoughtLog{
		Timestamp:    now,
		TokenAddress: a.TokenAddress,
		Decision:     a.Decision,
		Signals:      make([]string, 0, len(a.CheckResults)),
	}
	for _, r := range a.CheckResults {
		log.Signals = append(log.Signals, signal(r))
	}

	chain := []string{}
	if len(a.CheckResults) > 0 {
		chain = append(chain, fmt.Sprintf("Ran %d checks in %s mode under the %s profile", len(a.CheckResults), a.Mode, a.Profile))
		chain = append(chain, fmt.Sprintf("%d completed, %d failed", a.ChecksCompleted, a.ChecksFailed))
	}
	if a.Error != "" {
		chain = append(chain, "Assessment could not finish: "+a.Error)
	}
	chain = append(chain, fmt.Sprintf("Overall risk score %.1f (%s)", a.OverallRiskScore, a.RiskLevel))
	for _, reason := range a.BlockReasons {
		if reason == a.Error {
			continue
		}
		chain = append(chain, "Blocking: "+reason)
	}
	chain = append(chain, fmt.Sprintf("Decision %s with confidence %.0f", a.Decision, a.ConfidenceScore))
	log.ReasoningChain = chain

	log.Narrative = narrative(a)
	return log
}

func narrative(a *entity.RiskAssessment) string {
	switch a.Decision {
	case entity.DecisionApprove:
		return fmt.Sprintf("Token %s looks tradeable: risk score %.1f is inside the safe band of the %s profile.",
			a.TokenAddress, a.OverallRiskScore, a.Profile)
	case entity.DecisionSkip:
		return fmt.Sprintf("Token %s is not blocked but risk score %.1f is above the safe band of the %s profile; skipping.",
			a.TokenAddress, a.OverallRiskScore, a.Profile)
	default:
		reason := "risk is unacceptable"
		if len(a.BlockReasons) > 0 {
			reason = a.BlockReasons[0]
		}
		return fmt.Sprintf("Token %s is blocked: %s.", a.TokenAddress, reason)
	}
}

// signal is the one-line outcome of a check
func signal(r *entity.RiskCheckResult) string {
	if !r.Completed() {
		return fmt.Sprintf("%s %s: %s", r.CheckType, strings.ToLower(string(r.Status)), r.Error)
	}

	switch d := r.Details.(type) {
	case entity.HoneypotDetails:
		if d.IsHoneypot {
			return "honeypot detected: " + d.Reason
		}
		return fmt.Sprintf("round trip succeeded (buy tax %.1f%%, sell tax %.1f%%)", d.BuyTaxPct, d.SellTaxPct)
	case entity.LiquidityDetails:
		if !d.MeetsMinimum {
			return fmt.Sprintf("liquidity $%.0f below minimum $%.0f", d.LiquidityUSD, d.MinRequiredUSD)
		}
		return fmt.Sprintf("liquidity $%.0f meets minimum $%.0f", d.LiquidityUSD, d.MinRequiredUSD)
	case entity.OwnershipDetails:
		if d.Renounced {
			return "ownership renounced"
		}
		return fmt.Sprintf("owner %s retains control", d.Owner)
	case entity.TaxDetails:
		if d.ExceedsLimit {
			return fmt.Sprintf("sell tax %.1f%% exceeds limit %.1f%%", d.SellTaxPct, d.MaxSellTaxPct)
		}
		return fmt.Sprintf("sell tax %.1f%% within limit %.1f%%", d.SellTaxPct, d.MaxSellTaxPct)
	case entity.ContractSecurityDetails:
		if !d.IsContract {
			return "no contract code at token address"
		}
		if len(d.Findings) == 0 {
			return "no dangerous owner functions found"
		}
		return "dangerous owner functions: " + strings.Join(d.Findings, ", ")
	case entity.HolderConcentrationDetails:
		return fmt.Sprintf("top holder %.1f%%, top %d hold %.1f%%", d.TopHolderPct, d.HoldersSampled, d.Top10Pct)
	default:
		return fmt.Sprintf("%s score %.1f", r.CheckType, r.RiskScore)
	}
}

func buildSummary(a *entity.RiskAssessment) *entity.AssessmentSummary {
	s := &entity.AssessmentSummary{
		TotalChecks:     len(a.CheckResults),
		ChecksCompleted: a.ChecksCompleted,
		ChecksFailed:    a.ChecksFailed,
		KeyPoints:       []string{},
		TradeReady:      a.Decision == entity.DecisionApprove,
	}
	if s.TotalChecks > 0 {
		s.SuccessRate = float64(s.ChecksCompleted) / float64(s.TotalChecks) * 100
	}

	switch a.Decision {
	case entity.DecisionApprove:
		s.Recommendation = "Proceed with trade"
	case entity.DecisionSkip:
		s.Recommendation = "Hold off; risk is above the safe band"
	default:
		s.Recommendation = "Do not trade"
	}

	s.KeyPoints = append(s.KeyPoints, a.BlockReasons...)
	for _, r := range a.CheckResults {
		if r.Completed() && r.RiskScore >= keyPointScore {
			s.KeyPoints = append(s.KeyPoints, signal(r))
		}
	}
	return s
}
