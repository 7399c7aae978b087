package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/clinsight-ai/platform/pkg/agent"
	"github.com/clinsight-ai/platform/pkg/common/config"
	"github.com/clinsight-ai/platform/pkg/common/database"
	"github.com/clinsight-ai/platform/pkg/common/kafka"
	"github.com/clinsight-ai/platform/pkg/common/logger"
	"github.com/clinsight-ai/platform/pkg/common/models"
	"github.com/clinsight-ai/platform/pkg/evolution"
	"github.com/clinsight-ai/platform/pkg/gateway/middleware"
	"github.com/clinsight-ai/platform/pkg/observability/metrics"
	"github.com/clinsight-ai/platform/pkg/storage"
)

type EvolutionService struct {
	svc   *evolution.Service
	store *storage.SnapshotStore
}

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to connect to database")
	}

	repo := evolution.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate evolution schema")
	}

	runner := agent.NewRunner(agent.NewProcessExecutor(), cfg.AgentMaxOutput)
	orch := evolution.NewOrchestrator(agent.DefaultAgents(runner), cfg.AgentTimeout)
	store := storage.NewSnapshotStore(cfg.SnapshotRoot, cfg.SnapshotNamespace, database.GetRedis(), cfg.SnapshotCacheTTL)
	producer := kafka.NewProducer("evolution-events")
	defer producer.Close()

	baseCtx := agent.RunContext{
		DataRoot:  cfg.DataRoot,
		AgentsDir: cfg.AgentsDir,
		PythonBin: cfg.PythonBin,
	}
	service := &EvolutionService{
		svc:   evolution.NewService(orch, repo, store, producer, baseCtx, cfg.PipelineWorkers),
		store: store,
	}

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	router.Use(middleware.CORS)
	router.Use(middleware.RateLimit(50, 100))
	router.Use(middleware.BodyLimit(cfg.MaxRequestBody))

	router.HandleFunc("/health", healthCheck).Methods("GET")
	router.HandleFunc("/metrics", metrics.Handler()).Methods("GET")
	router.HandleFunc("/api/v1/evolution/generate", service.handleGenerate).Methods("POST")
	router.HandleFunc("/api/v1/evolution/runs", service.handleListRuns).Methods("GET")
	router.HandleFunc("/api/v1/evolution/runs/{id}", service.handleRunStatus).Methods("GET")
	router.HandleFunc("/"+cfg.SnapshotNamespace+"/generated/{filename}", service.handleSnapshot).Methods("GET")

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, "8081"),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": "8081",
		}).Info("Evolution Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Evolution Service...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	database.ClosePostgres()
	logger.Log.Info("Evolution Service stopped")
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

func (s *EvolutionService) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	run, err := s.svc.Enqueue(r.Context(), req.Identifier)
	if err != nil {
		if errors.Is(err, evolution.ErrIdentifierRequired) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(models.GenerateResponse{
		RunID:      run.ID,
		Identifier: run.Identifier,
		Status:     run.Status,
	})
}

func (s *EvolutionService) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	run, err := s.svc.Status(r.Context(), runID)
	if err != nil {
		if errors.Is(err, evolution.ErrRunNotFound) {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run)
}

func (s *EvolutionService) handleListRuns(w http.ResponseWriter, r *http.Request) {
	identifier := r.URL.Query().Get("identifier")
	if identifier == "" {
		http.Error(w, "identifier query parameter is required", http.StatusBadRequest)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	runs, err := s.svc.ListRuns(r.Context(), identifier, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"runs": runs})
}

// handleSnapshot serves the raw snapshot bytes at the path polled by the
// dashboard. 404 means not ready yet; the poller keeps trying.
func (s *EvolutionService) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]
	identifier := strings.TrimSuffix(filename, "_patient_evolution.json")
	if identifier == filename || identifier == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	raw, err := s.store.LoadRaw(identifier)
	if err != nil {
		if errors.Is(err, storage.ErrSnapshotNotFound) {
			metrics.ObserveSnapshotNotReady()
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	metrics.ObserveSnapshotServed()
	w.Header().Set("Content-Type", "application/json")
	w.Write(raw)
}
