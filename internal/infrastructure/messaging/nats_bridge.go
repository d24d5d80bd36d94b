package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"mempool-risk-engine/internal/domain/entity"
	"mempool-risk-engine/internal/infrastructure/logger"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// AssessmentDispatcher schedules an external assessment request. On nil error
// it must call respond exactly once when the work is done.
type AssessmentDispatcher interface {
	DispatchAssessment(req *entity.AssessmentRequest, respond func(*entity.AssessmentResponse)) error
}

// AssessmentBridge serves assessment requests arriving on <prefix>.assess.request
// through a queue group, replying on the request's reply subject
type AssessmentBridge struct {
	client     *NATSClient
	dispatcher AssessmentDispatcher
	sub        *nats.Subscription
	logger     *logger.Logger

	received atomic.Int64
	rejected atomic.Int64
}

// NewAssessmentBridge creates the request bridge
func NewAssessmentBridge(client *NATSClient, dispatcher AssessmentDispatcher, log *logger.Logger) *AssessmentBridge {
	return &AssessmentBridge{
		client:     client,
		dispatcher: dispatcher,
		logger:     log.WithComponent("nats-bridge"),
	}
}

// Start subscribes; it does nothing when NATS is disabled
func (b *AssessmentBridge) Start(ctx context.Context) error {
	if !b.client.Enabled() {
		b.logger.Info("NATS is disabled, assessment bridge not started")
		return nil
	}

	subject := b.client.Subject(SubjectAssessRequest)
	sub, err := b.client.QueueSubscribe(subject, func(msg *nats.Msg) {
		b.handleMessage(msg.Data, msg.Reply, msg.Respond)
	})
	if err != nil {
		return err
	}
	b.sub = sub

	b.logger.Info("Assessment bridge subscribed",
		zap.String("subject", subject),
		zap.String("queue_group", b.client.config.ConsumerGroup))
	return nil
}

// handleMessage decodes one request and hands it to the dispatcher
func (b *AssessmentBridge) handleMessage(data []byte, reply string, respond func([]byte) error) {
	b.received.Add(1)

	send := func(resp *entity.AssessmentResponse) {
		if reply == "" {
			return
		}
		payload, err := json.Marshal(resp)
		if err != nil {
			b.logger.Error("Failed to marshal assessment response", zap.Error(err))
			payload = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
		}
		if err := respond(payload); err != nil {
			b.logger.Warn("Failed to send assessment response", zap.String("reply", reply), zap.Error(err))
		}
	}

	var req entity.AssessmentRequest
	if err := json.Unmarshal(data, &req); err != nil {
		b.rejected.Add(1)
		b.logger.Warn("Failed to unmarshal assessment request", zap.Error(err))
		send(&entity.AssessmentResponse{Error: fmt.Sprintf("malformed request: %v", err)})
		return
	}

	b.logger.Debug("Assessment request received",
		zap.String("token", req.TokenAddress),
		zap.Int("pairs", len(req.Pairs)),
		zap.Bool("quick_only", req.QuickOnly))

	if err := b.dispatcher.DispatchAssessment(&req, send); err != nil {
		b.rejected.Add(1)
		b.logger.Warn("Assessment request rejected", zap.String("token", req.TokenAddress), zap.Error(err))
		send(&entity.AssessmentResponse{Error: err.Error()})
	}
}

// Stop unsubscribes from the request subject
func (b *AssessmentBridge) Stop() error {
	if b.sub == nil {
		return nil
	}
	err := b.sub.Unsubscribe()
	b.sub = nil
	b.logger.Info("Assessment bridge stopped")
	return err
}

// BridgeStats counts requests seen by the bridge
type BridgeStats struct {
	Received int64 `json:"received"`
	Rejected int64 `json:"rejected"`
}

// GetStatistics returns the request counters
func (b *AssessmentBridge) GetStatistics() BridgeStats {
	return BridgeStats{Received: b.received.Load(), Rejected: b.rejected.Load()}
}
