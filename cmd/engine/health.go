package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	app_service "mempool-risk-engine/internal/application/service"
	"mempool-risk-engine/internal/infrastructure/analyzer"
	"mempool-risk-engine/internal/infrastructure/config"
	"mempool-risk-engine/internal/infrastructure/logger"
	"mempool-risk-engine/internal/infrastructure/mempool"
	"mempool-risk-engine/internal/infrastructure/messaging"
	"mempool-risk-engine/internal/infrastructure/risk"
	"mempool-risk-engine/internal/infrastructure/workerpool"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// statusSources are the components reported on /health and /stats
type statusSources struct {
	fx.In

	Config      *config.Config
	Monitor     *mempool.Monitor
	Analyzer    *analyzer.Analyzer
	Coordinator *risk.Coordinator
	Pool        *workerpool.Pool
	Pipeline    *app_service.PipelineService
	Bridge      *messaging.AssessmentBridge
	NATS        *messaging.NATSClient
}

type healthResponse struct {
	Status string          `json:"status"`
	Chains map[string]bool `json:"chains"`
	NATS   bool            `json:"nats_connected"`
}

type statsResponse struct {
	Monitor     mempool.Statistics               `json:"monitor"`
	Analyzer    analyzer.Statistics              `json:"analyzer"`
	Coordinator risk.Statistics                  `json:"coordinator"`
	Workers     map[string]workerpool.ClassStats `json:"workers"`
	Pipeline    app_service.PipelineStats        `json:"pipeline"`
	Bridge      messaging.BridgeStats            `json:"bridge"`
}

func newStatusMux(src statusSources) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status: "ok",
			Chains: make(map[string]bool, len(src.Config.Monitor.Chains)),
			NATS:   src.NATS.IsConnected(),
		}
		for _, chain := range src.Config.Monitor.Chains {
			resp.Chains[chain] = src.Monitor.IsConnected(chain)
		}
		writeJSON(w, resp)
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, statsResponse{
			Monitor:     src.Monitor.GetStatistics(),
			Analyzer:    src.Analyzer.GetStatistics(),
			Coordinator: src.Coordinator.GetStatistics(),
			Workers:     src.Pool.GetStatistics(),
			Pipeline:    src.Pipeline.GetStatistics(),
			Bridge:      src.Bridge.GetStatistics(),
		})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// startHealthServer starts the health check server
func startHealthServer(lifecycle fx.Lifecycle, src statusSources, logger *logger.Logger) {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", src.Config.App.HTTPPort),
		Handler:           newStatusMux(src),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting health server...", zap.Int("port", src.Config.App.HTTPPort))

			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("Health server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping health server...")
			return server.Shutdown(ctx)
		},
	})
}
