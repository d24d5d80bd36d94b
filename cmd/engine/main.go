package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	app_service "mempool-risk-engine/internal/application/service"
	domain_service "mempool-risk-engine/internal/domain/service"
	"mempool-risk-engine/internal/infrastructure/analyzer"
	"mempool-risk-engine/internal/infrastructure/blockchain"
	"mempool-risk-engine/internal/infrastructure/config"
	"mempool-risk-engine/internal/infrastructure/database"
	"mempool-risk-engine/internal/infrastructure/logger"
	"mempool-risk-engine/internal/infrastructure/mempool"
	"mempool-risk-engine/internal/infrastructure/messaging"
	"mempool-risk-engine/internal/infrastructure/risk"
	"mempool-risk-engine/internal/infrastructure/workerpool"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.NewLogger(cfg.App.LogLevel, cfg.App.Env)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	app := fx.New(
		fx.Supply(cfg),
		fx.Supply(log),
		fx.Supply(&cfg.NATS),
		fx.Supply(&cfg.Neo4J),

		// Infrastructure providers
		fx.Provide(
			newRegistry,
			func(r *blockchain.Registry) domain_service.TokenDataSourceProvider { return r },
			func() mempool.Dialer { return mempool.NewWebSocketDialer() },
			mempool.NewMonitor,
			newAnalyzer,
			risk.NewCoordinator,
			func(cfg *config.Config, log *logger.Logger) *workerpool.Pool {
				return workerpool.New(cfg.App.Workers, log)
			},
			messaging.NewNATSClient,
			newEventPublisher,
			database.NewNeo4JClient,
		),

		// Application providers
		fx.Provide(
			newPipeline,
			func(client *messaging.NATSClient, pipeline *app_service.PipelineService, log *logger.Logger) *messaging.AssessmentBridge {
				return messaging.NewAssessmentBridge(client, pipeline, log)
			},
		),

		// Lifecycle hooks
		fx.Invoke(startEngine),
		fx.Invoke(startHealthServer),

		fx.WithLogger(func() fxevent.Logger {
			return fxevent.NopLogger
		}),
	)

	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		log.Error("Failed to start application", zap.Error(err))
		os.Exit(1)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down application...")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.Stop(stopCtx); err != nil {
		log.Error("Failed to stop application gracefully", zap.Error(err))
		os.Exit(1)
	}

	log.Info("Application stopped successfully")
}

// newRegistry dials the RPC endpoint of every monitored chain
func newRegistry(lifecycle fx.Lifecycle, cfg *config.Config, log *logger.Logger) (*blockchain.Registry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Monitor.ConnectTimeout)
	defer cancel()

	registry, err := blockchain.NewRegistry(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			registry.Close()
			return nil
		},
	})
	return registry, nil
}

func newAnalyzer(cfg *config.Config, registry *blockchain.Registry, log *logger.Logger) *analyzer.Analyzer {
	return analyzer.NewAnalyzer(cfg, blockchain.NewFixedOffsetDecoder(), registry, log)
}

// newEventPublisher fans events out to every enabled sink
func newEventPublisher(cfg *config.Config, client *messaging.NATSClient, log *logger.Logger) (domain_service.EventPublisher, error) {
	var sinks []domain_service.EventPublisher
	if cfg.NATS.Enabled {
		sinks = append(sinks, messaging.NewNATSPublisher(client, log))
	}
	if cfg.Kafka.Enabled {
		kafka, err := messaging.NewKafkaPublisher(&cfg.Kafka, log)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, kafka)
	}
	return messaging.NewMultiPublisher(log, sinks...), nil
}

func newPipeline(
	cfg *config.Config,
	txAnalyzer *analyzer.Analyzer,
	coordinator *risk.Coordinator,
	monitor *mempool.Monitor,
	publisher domain_service.EventPublisher,
	natsClient *messaging.NATSClient,
	neo4jClient *database.Neo4JClient,
	pool *workerpool.Pool,
	log *logger.Logger,
) *app_service.PipelineService {
	deps := app_service.PipelineDeps{
		Analyzer:    txAnalyzer,
		Coordinator: coordinator,
		Tracker:     monitor,
		Publisher:   publisher,
		Pool:        pool,
	}
	if cfg.NATS.Enabled {
		deps.Executor = messaging.NewNATSExecutionManager(natsClient, log)
	}
	if neo4jClient.Enabled() {
		deps.Repo = database.NewNeo4JAssessmentRepository(neo4jClient, log)
	}
	return app_service.NewPipelineService(cfg, deps, log)
}

// startEngine connects the outer services, then starts ingestion last
func startEngine(
	lifecycle fx.Lifecycle,
	cfg *config.Config,
	monitor *mempool.Monitor,
	pipeline *app_service.PipelineService,
	pool *workerpool.Pool,
	bridge *messaging.AssessmentBridge,
	publisher domain_service.EventPublisher,
	natsClient *messaging.NATSClient,
	neo4jClient *database.Neo4JClient,
	log *logger.Logger,
) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("Starting risk engine...")

			if err := neo4jClient.Connect(ctx); err != nil {
				return fmt.Errorf("failed to connect to Neo4J: %w", err)
			}

			log.Info("NATS Configuration",
				zap.String("url", cfg.NATS.URL),
				zap.String("subject_prefix", cfg.NATS.SubjectPrefix),
				zap.Bool("enabled", cfg.NATS.Enabled),
			)
			if err := natsClient.Connect(ctx); err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}

			pool.Start()

			if err := bridge.Start(ctx); err != nil {
				return fmt.Errorf("failed to start assessment bridge: %w", err)
			}

			monitor.SetHandler(pipeline.HandleTransaction)
			if err := monitor.Start(ctx, cfg.Monitor.Chains); err != nil {
				return fmt.Errorf("failed to start mempool monitor: %w", err)
			}

			log.Info("Risk engine started successfully", zap.Strings("chains", cfg.Monitor.Chains))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Stopping risk engine...")

			monitor.Stop()
			if err := bridge.Stop(); err != nil {
				log.Warn("Failed to stop assessment bridge", zap.Error(err))
			}
			if err := pool.Stop(ctx); err != nil {
				log.Warn("Worker pool did not drain", zap.Error(err))
			}
			if err := publisher.Close(); err != nil {
				log.Warn("Failed to close event publisher", zap.Error(err))
			}
			if err := neo4jClient.Close(ctx); err != nil {
				log.Error("Failed to close Neo4J connection", zap.Error(err))
			}
			return natsClient.Close()
		},
	})
}
