package messaging

import (
	"context"
	"fmt"
	"time"

	"mempool-risk-engine/internal/domain/entity"
	"mempool-risk-engine/internal/infrastructure/logger"

	"go.uber.org/zap"
)

// NATSExecutionManager hands approved decisions to the external executor by
// publishing them on <prefix>.decisions. Submission and gas strategy happen there.
type NATSExecutionManager struct {
	client JSONPublisher
	logger *logger.Logger
	now    func() time.Time
}

// NewNATSExecutionManager creates the decision publisher
func NewNATSExecutionManager(client JSONPublisher, log *logger.Logger) *NATSExecutionManager {
	return &NATSExecutionManager{
		client: client,
		logger: log.WithComponent("execution-bridge"),
		now:    time.Now,
	}
}

// Submit publishes the decision; a nil error means the executor was notified
func (e *NATSExecutionManager) Submit(ctx context.Context, decision *entity.TradeDecision) (*entity.ExecutionResult, error) {
	if decision.Decision != entity.DecisionApprove {
		return nil, fmt.Errorf("refusing to submit %s decision for %s", decision.Decision, decision.TokenAddress)
	}

	result := &entity.ExecutionResult{
		Reference:   decision.AssessmentID,
		SubmittedAt: e.now(),
	}
	if err := e.client.PublishJSON(e.client.Subject(SubjectDecisions), decision); err != nil {
		result.Error = err.Error()
		return result, err
	}
	result.Submitted = true

	e.logger.Info("Trade decision handed to executor",
		zap.String("assessment_id", decision.AssessmentID),
		zap.String("token", decision.TokenAddress),
		zap.String("chain", decision.Chain))
	return result, nil
}
