package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/jotstack/jotstack/internal/backoff"
	"github.com/jotstack/jotstack/internal/config"
	"github.com/jotstack/jotstack/internal/events"
	"github.com/jotstack/jotstack/internal/llm"
	"github.com/jotstack/jotstack/internal/pipeline"
	"github.com/jotstack/jotstack/internal/platform/gemini"
	"github.com/jotstack/jotstack/internal/platform/logger"
	"github.com/jotstack/jotstack/internal/platform/postgres"
	"github.com/jotstack/jotstack/internal/platform/sqlite"
	"github.com/jotstack/jotstack/internal/platform/ws"
	"github.com/jotstack/jotstack/internal/queue"
	"github.com/jotstack/jotstack/internal/store"
)

// application holds the wired components for one server process.
type application struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *sql.DB
	manager  *queue.Manager
	executor *pipeline.Executor
	hub      *ws.Hub
	server   *http.Server
}

// runPipelinePayload is the payload of "run_pipeline" jobs, the bridge
// that lets pipeline runs ride the queue's retry and dedup machinery.
type runPipelinePayload struct {
	PipelineID uuid.UUID       `json:"pipeline_id"`
	Input      json.RawMessage `json:"input,omitempty"`
}

// errBadJobPayload marks job failures that no retry can fix.
var errBadJobPayload = errors.New("invalid job payload")

// initializeApp loads configuration and wires every component together.
func initializeApp() (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.Setup(cfg.Server)
	log.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"database_driver", cfg.Database.Driver)

	db, err := setupDatabase(cfg, log)
	if err != nil {
		return nil, err
	}

	var jobStore queue.JobStore
	var pipelineStore pipeline.Store
	var executionStore pipeline.ExecutionStore
	if cfg.Database.Driver == "sqlite" {
		jobStore = sqlite.NewJobStore(db)
		pipelineStore = sqlite.NewPipelineStore(db)
		executionStore = sqlite.NewExecutionStore(db)
	} else {
		jobStore = postgres.NewJobStore(db)
		pipelineStore = postgres.NewPipelineStore(db)
		executionStore = postgres.NewExecutionStore(db)
	}

	notifier := events.NewInMemoryBroadcaster(log)
	hub := ws.NewHub(log)
	notifier.RegisterHandler(hub)

	caller, err := gemini.NewCaller(context.Background(), log, gemini.Config{
		APIKey:     cfg.LLM.GeminiAPIKey,
		Model:      cfg.LLM.ModelName,
		MaxRetries: cfg.LLM.MaxRetries,
		RetryDelay: cfg.LLM.RetryDelay,
	})
	if err != nil {
		return nil, err
	}

	executor := pipeline.NewExecutor(pipelineStore, executionStore, notifier, log)
	executor.RegisterOperation(pipeline.OpModel, pipeline.NewModelOperation(caller))

	managerCfg := queue.DefaultManagerConfig()
	managerCfg.MaxConcurrency = cfg.Queue.MaxConcurrency
	managerCfg.MaxRetryAttempts = cfg.Queue.MaxRetryAttempts
	managerCfg.Backoff = backoff.Config{
		InitialDelay: cfg.Queue.RetryInitialDelay,
		Multiplier:   2,
		MaxDelay:     cfg.Queue.RetryMaxDelay,
		Jitter:       true,
	}
	if cfg.Queue.RetryCheckInterval > 0 {
		managerCfg.RetryCheckInterval = cfg.Queue.RetryCheckInterval
	}
	managerCfg.IsRetryable = func(err error) bool {
		switch {
		case errors.Is(err, errBadJobPayload),
			errors.Is(err, pipeline.ErrCycle),
			errors.Is(err, pipeline.ErrPipelineDisabled),
			errors.Is(err, llm.ErrContentBlocked),
			errors.Is(err, llm.ErrInvalidConfig),
			store.IsNotFoundError(err):
			return false
		}
		return true
	}
	manager := queue.NewManager(jobStore, notifier, managerCfg, log)
	manager.RegisterExecutor("run_pipeline", runPipelineExecutor(executor))

	app := &application{
		cfg:      cfg,
		logger:   log,
		db:       db,
		manager:  manager,
		executor: executor,
		hub:      hub,
	}
	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           app.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if dir := cfg.Pipeline.DefinitionsDir; dir != "" {
		ctx := context.Background()
		if cfg.Database.Driver == "sqlite" {
			err = loadPipelineDefinitions(ctx, log, pipelineStore, dir)
		} else {
			// All definitions land atomically or not at all.
			err = store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
				return loadPipelineDefinitions(ctx, log, postgres.NewPipelineStore(tx), dir)
			})
		}
		if err != nil {
			return nil, err
		}
	}

	return app, nil
}

// runPipelineExecutor bridges queued jobs to pipeline runs. The job
// completes once the run is started; the execution id in the result lets
// callers follow the run itself.
func runPipelineExecutor(executor *pipeline.Executor) queue.ExecutorFunc {
	return func(ctx context.Context, jobID uuid.UUID, payload json.RawMessage) (json.RawMessage, error) {
		var req runPipelinePayload
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", errBadJobPayload, err)
		}
		if req.PipelineID == uuid.Nil {
			return nil, fmt.Errorf("%w: missing pipeline_id", errBadJobPayload)
		}

		executionID, err := executor.Execute(ctx, req.PipelineID, req.Input)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"execution_id": executionID})
	}
}

// loadPipelineDefinitions loads every YAML pipeline definition in dir
// into the store. Load errors abort startup; a broken definition should
// be fixed, not skipped silently.
func loadPipelineDefinitions(ctx context.Context, log *slog.Logger, pipelines pipeline.Store, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read pipeline definitions directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open pipeline definition %s: %w", path, err)
		}
		p, err := pipeline.LoadDefinition(f)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("failed to load pipeline definition %s: %w", path, err)
		}

		if err := pipelines.CreatePipeline(ctx, p); err != nil {
			return fmt.Errorf("failed to store pipeline %q: %w", p.Name, err)
		}
		log.Info("pipeline definition loaded", "name", p.Name, "pipeline_id", p.ID, "file", entry.Name())
	}
	return nil
}

// Run starts the queue manager and the HTTP server, then blocks until a
// shutdown signal arrives and everything has drained.
func (a *application) Run() error {
	if err := a.manager.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start job queue: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		a.manager.Stop()
		return err
	case sig := <-stop:
		a.logger.Info("shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("http server shutdown failed", "error", err)
	}

	// In-flight jobs and pipeline runs finish before the process exits.
	a.manager.Stop()
	a.executor.Wait()
	a.hub.Close()

	if err := a.db.Close(); err != nil {
		a.logger.Error("database close failed", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}
