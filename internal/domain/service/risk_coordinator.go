package service

import (
	"context"

	"mempool-risk-engine/internal/domain/entity"
)

// RiskCoordinator turns a token/pair into an explainable trading decision.
// None of the methods fail; every failure degrades to a BLOCK or FAILED result.
type RiskCoordinator interface {
	AssessTokenRisk(ctx context.Context, pair entity.TokenPair, profile entity.RiskProfileName, mode entity.ExecutionMode) *entity.RiskAssessment

	BulkAssessment(ctx context.Context, pairs []entity.TokenPair, profile entity.RiskProfileName) *entity.BulkAssessmentResult

	QuickHoneypotCheck(ctx context.Context, token, pair string) *entity.QuickHoneypotResult
}
