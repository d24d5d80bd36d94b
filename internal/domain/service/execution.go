package service

import (
	"context"

	"mempool-risk-engine/internal/domain/entity"
)

// ExecutionManager submits approved decisions on-chain. Retry and gas
// escalation are its own concern.
type ExecutionManager interface {
	Submit(ctx context.Context, decision *entity.TradeDecision) (*entity.ExecutionResult, error)
}

// EventPublisher fans analysis and assessment records out to external consumers
type EventPublisher interface {
	PublishAnalysis(ctx context.Context, analysis *entity.TransactionAnalysis) error
	PublishAssessment(ctx context.Context, assessment *entity.RiskAssessment) error
	Close() error
}
