package repository

import (
	"context"

	"mempool-risk-engine/internal/domain/entity"
)

// AssessmentRepository records assessments and the swaps that triggered them
// in an external store. The engine never reads them back on the hot path.
type AssessmentRepository interface {
	// SaveAssessment stores a token assessment and links it to the token
	SaveAssessment(ctx context.Context, assessment *entity.RiskAssessment) error

	// SaveSwap links the sender wallet to the token it is trading
	SaveSwap(ctx context.Context, tx *entity.PendingTransaction, analysis *entity.TransactionAnalysis) error

	// GetRecentAssessments returns the latest assessments for a token, newest first
	GetRecentAssessments(ctx context.Context, tokenAddress string, limit int) ([]*entity.RiskAssessment, error)
}
