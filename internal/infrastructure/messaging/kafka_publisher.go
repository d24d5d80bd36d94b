package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mempool-risk-engine/internal/domain/entity"
	"mempool-risk-engine/internal/infrastructure/config"
	"mempool-risk-engine/internal/infrastructure/logger"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// KafkaPublisher writes analysis and assessment records to Kafka topics
type KafkaPublisher struct {
	producer        sarama.SyncProducer
	analysisTopic   string
	assessmentTopic string
	logger          *logger.Logger
}

// NewKafkaPublisher dials the configured brokers with a synchronous producer
func NewKafkaPublisher(cfg *config.KafkaConfig, log *logger.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = cfg.ClientID
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 5
	saramaCfg.Producer.Retry.Backoff = 200 * time.Millisecond
	// SyncProducer requires both
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Return.Errors = true
	saramaCfg.Version = sarama.V2_1_0_0

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	log.WithComponent("kafka-publisher").Info("Kafka producer ready", zap.Strings("brokers", cfg.Brokers))
	return NewKafkaPublisherWithProducer(producer, cfg, log), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, cfg *config.KafkaConfig, log *logger.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		producer:        producer,
		analysisTopic:   cfg.AnalysisTopic,
		assessmentTopic: cfg.AssessmentTopic,
		logger:          log.WithComponent("kafka-publisher"),
	}
}

// PublishAnalysis keys the record by transaction hash
func (p *KafkaPublisher) PublishAnalysis(ctx context.Context, analysis *entity.TransactionAnalysis) error {
	return p.send(ctx, p.analysisTopic, analysis.TxHash, analysis)
}

// PublishAssessment keys the record by token so one token's history stays ordered
func (p *KafkaPublisher) PublishAssessment(ctx context.Context, assessment *entity.RiskAssessment) error {
	return p.send(ctx, p.assessmentTopic, assessment.TokenAddress, assessment)
}

func (p *KafkaPublisher) send(ctx context.Context, topic, key string, v interface{}) error {
	// SyncProducer does not take a context
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", topic, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("kafka send to %s failed: %w", topic, err)
	}

	p.logger.Debug("Record written",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Close flushes and closes the producer
func (p *KafkaPublisher) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
