package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/clinsight-ai/platform/pkg/common/config"
	"github.com/clinsight-ai/platform/pkg/common/database"
	"github.com/clinsight-ai/platform/pkg/common/kafka"
	"github.com/clinsight-ai/platform/pkg/common/logger"
	"github.com/clinsight-ai/platform/pkg/common/models"
	"github.com/clinsight-ai/platform/pkg/evoclient"
	"github.com/clinsight-ai/platform/pkg/gateway/middleware"
	"github.com/clinsight-ai/platform/pkg/insight"
	"github.com/clinsight-ai/platform/pkg/observability/metrics"
	"github.com/clinsight-ai/platform/pkg/storage"
	"github.com/clinsight-ai/platform/pkg/terminology"
)

type InsightService struct {
	engine    *insight.Engine
	annotator insight.Annotator
	store     *storage.SnapshotStore
	evo       *evoclient.Client
}

func main() {
	logger.Init()
	cfg := config.Load()

	catalog, err := terminology.Load(cfg.TerminologyPath)
	if err != nil {
		logger.Log.WithError(err).Warn("Falling back to built-in vital catalog")
		catalog = terminology.DefaultCatalog()
	}

	service := &InsightService{
		engine: insight.NewEngine(catalog),
		store:  storage.NewSnapshotStore(cfg.SnapshotRoot, cfg.SnapshotNamespace, database.GetRedis(), cfg.SnapshotCacheTTL),
		evo: evoclient.New(cfg.EvolutionBaseURL, cfg.SnapshotNamespace,
			evoclient.WithPolling(cfg.PollInterval, cfg.PollMaxAttempts)),
	}
	if cfg.LLMAPIKey != "" {
		service.annotator = insight.NewOpenAIAnnotator(cfg.LLMAPIKey, cfg.LLMModelName)
	}

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	consumer := kafka.NewConsumer("evolution-events", "insight-service")
	go func() {
		if err := consumer.Consume(consumerCtx, service.handleEvolutionEvent); err != nil && !errors.Is(err, context.Canceled) {
			logger.Log.WithError(err).Error("evolution event consumer stopped")
		}
	}()

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	router.Use(middleware.CORS)
	router.Use(middleware.BodyLimit(cfg.MaxRequestBody))

	router.HandleFunc("/health", healthCheck).Methods("GET")
	router.HandleFunc("/metrics", metrics.Handler()).Methods("GET")
	router.HandleFunc("/api/v1/insights/{identifier}", service.handleInsights).Methods("GET")
	router.HandleFunc("/api/v1/insights/derive", service.handleDerive).Methods("POST")

	// No write timeout: a refresh request legitimately holds the connection
	// for the whole poll budget.
	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%s", cfg.ServerHost, "8082"),
		Handler:     router,
		ReadTimeout: cfg.ReadTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": "8082",
		}).Info("Insight Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Insight Service...")

	stopConsumer()
	if err := consumer.Close(); err != nil {
		logger.Log.WithError(err).Error("Failed to close event consumer")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Insight Service stopped")
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

// handleEvolutionEvent pre-warms the snapshot cache when the evolution
// service reports a completed run, so the first dashboard read after
// generation is served from Redis. Warming is best-effort; the message is
// committed either way.
func (s *InsightService) handleEvolutionEvent(ctx context.Context, event models.Event) error {
	if event.Type != "evolution.completed" {
		return nil
	}
	identifier, _ := event.Data["identifier"].(string)
	if identifier == "" {
		logger.Log.WithFields(map[string]interface{}{
			"event_id": event.ID,
		}).Warn("completed event without identifier")
		return nil
	}
	if _, err := s.store.Load(ctx, identifier); err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"identifier": identifier,
		}).Warn("failed to pre-warm snapshot cache")
	}
	return nil
}

// handleInsights loads the latest snapshot for an identifier and derives
// insights from it. With ?refresh=true a missing snapshot triggers a new
// evolution run and waits for its completion.
func (s *InsightService) handleInsights(w http.ResponseWriter, r *http.Request) {
	identifier := mux.Vars(r)["identifier"]

	output, err := s.store.Load(r.Context(), identifier)
	if err != nil {
		if !errors.Is(err, storage.ErrSnapshotNotFound) && !errors.Is(err, storage.ErrSnapshotNotReady) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if r.URL.Query().Get("refresh") != "true" {
			http.Error(w, "Snapshot not available", http.StatusNotFound)
			return
		}
		output, err = s.evo.Watch(r.Context(), identifier)
		if err != nil {
			if errors.Is(err, evoclient.ErrTimedOut) {
				http.Error(w, "Evolution generation timed out", http.StatusGatewayTimeout)
				return
			}
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
	}

	s.respond(r.Context(), w, output)
}

// handleDerive computes insights for a caller-supplied evolution document
// without touching the snapshot store.
func (s *InsightService) handleDerive(w http.ResponseWriter, r *http.Request) {
	var output models.PatientEvolutionOutput
	if err := json.NewDecoder(r.Body).Decode(&output); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	s.respond(r.Context(), w, &output)
}

func (s *InsightService) respond(ctx context.Context, w http.ResponseWriter, output *models.PatientEvolutionOutput) {
	derived := s.engine.Derive(output)
	insights := insight.Fetch(ctx, s.annotator, derived, output)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"metrics":  derived,
		"insights": insights,
	})
}
