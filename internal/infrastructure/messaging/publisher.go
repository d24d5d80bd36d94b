package messaging

import (
	"context"
	"errors"

	"mempool-risk-engine/internal/domain/entity"
	"mempool-risk-engine/internal/domain/service"
	"mempool-risk-engine/internal/infrastructure/logger"

	"go.uber.org/zap"
)

// Subject suffixes under the configured prefix
const (
	SubjectAnalysis      = "analysis"
	SubjectAssessments   = "assessments"
	SubjectDecisions     = "decisions"
	SubjectAssessRequest = "assess.request"
)

// JSONPublisher is the part of NATSClient the publishers use
type JSONPublisher interface {
	Subject(name string) string
	PublishJSON(subject string, v interface{}) error
}

// NATSPublisher publishes analysis and assessment records on NATS subjects
type NATSPublisher struct {
	client JSONPublisher
	logger *logger.Logger
}

// NewNATSPublisher creates a NATS event publisher
func NewNATSPublisher(client JSONPublisher, log *logger.Logger) *NATSPublisher {
	return &NATSPublisher{
		client: client,
		logger: log.WithComponent("nats-publisher"),
	}
}

// PublishAnalysis publishes on <prefix>.analysis
func (p *NATSPublisher) PublishAnalysis(ctx context.Context, analysis *entity.TransactionAnalysis) error {
	return p.client.PublishJSON(p.client.Subject(SubjectAnalysis), analysis)
}

// PublishAssessment publishes on <prefix>.assessments
func (p *NATSPublisher) PublishAssessment(ctx context.Context, assessment *entity.RiskAssessment) error {
	return p.client.PublishJSON(p.client.Subject(SubjectAssessments), assessment)
}

// Close is a no-op; the connection belongs to NATSClient
func (p *NATSPublisher) Close() error {
	return nil
}

// MultiPublisher fans every event out to all sinks
type MultiPublisher struct {
	sinks  []service.EventPublisher
	logger *logger.Logger
}

// NewMultiPublisher combines sinks; nil sinks are skipped
func NewMultiPublisher(log *logger.Logger, sinks ...service.EventPublisher) *MultiPublisher {
	m := &MultiPublisher{logger: log.WithComponent("event-publisher")}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// PublishAnalysis sends to every sink and joins the failures
func (m *MultiPublisher) PublishAnalysis(ctx context.Context, analysis *entity.TransactionAnalysis) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.PublishAnalysis(ctx, analysis); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishAssessment sends to every sink and joins the failures
func (m *MultiPublisher) PublishAssessment(ctx context.Context, assessment *entity.RiskAssessment) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.PublishAssessment(ctx, assessment); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink
func (m *MultiPublisher) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			m.logger.Warn("Failed to close event sink", zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len is the number of attached sinks
func (m *MultiPublisher) Len() int {
	return len(m.sinks)
}
