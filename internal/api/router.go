package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/Harshitk-cp/penny/internal/api/handlers"
	mw "github.com/Harshitk-cp/penny/internal/api/middleware"
	"github.com/Harshitk-cp/penny/internal/buildconfig"
	"github.com/Harshitk-cp/penny/internal/config"
	"github.com/Harshitk-cp/penny/internal/domain"
	"github.com/Harshitk-cp/penny/internal/metrics"
	"github.com/Harshitk-cp/penny/internal/service"
	"github.com/Harshitk-cp/penny/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Pinger reports database liveness for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// App holds the router and background services for lifecycle management.
type App struct {
	Router       *chi.Mux
	Manager      *service.LearningManager
	Maintenance  *service.MaintenanceService
	Metrics      *metrics.Manager
	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

// NewLearningManager builds the learners, the quarantine gate and the manager
// over Postgres stores, tuned from the environment.
func NewLearningManager(db *pgxpool.Pool, m *metrics.Manager, logger *zap.Logger) (*service.LearningManager, error) {
	vocabStore := store.NewVocabularyStore(db)
	dimStore := store.NewDimensionStore(db)
	seqStore := store.NewSequenceStore(db)
	quarantineStore := store.NewQuarantineStore(db)

	vocab := service.NewVocabularyAssociator(vocabStore, service.VocabularyConfig{
		LearningRate:    config.VocabLearningRate(),
		CompetitiveRate: config.VocabCompetitiveRate(),
		DecayRate:       config.VocabDecayRate(),
	}, logger)
	dims := service.NewDimensionAssociator(dimStore, service.DimensionConfig{
		LearningRate: config.DimensionLearningRate(),
		DecayRate:    config.DimensionDecayRate(),
	}, logger)
	seq := service.NewSequenceLearner(seqStore, service.SequenceConfig{
		DecayFactor:  config.SequenceDecayFactor(),
		HistoryLimit: config.SequenceHistoryLimit(),
	}, logger)
	gate := service.NewQuarantineGate(quarantineStore, service.QuarantineConfig{
		MinObservations: config.PromotionMinObservations(),
		MinAge:          config.PromotionMinAge(),
		MaxAge:          config.StagingMaxAge(),
	}, m, logger)

	manager, err := service.NewLearningManager(vocab, dims, seq, gate, m, service.ManagerConfig{
		TurnMaxWrites:        config.TurnMaxWrites(),
		TurnMaxDuration:      config.TurnMaxDuration(),
		CacheSize:            config.CacheSize(),
		CacheRefreshInterval: config.CacheRefreshInterval(),
		PredictionThreshold:  config.PredictionThreshold(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("learning manager: %w", err)
	}
	return manager, nil
}

// MaintenanceConfig reads the background maintenance tunables.
func MaintenanceConfig() service.MaintenanceConfig {
	return service.MaintenanceConfig{
		Interval:             config.MaintenanceInterval(),
		DecayDaysInactive:    config.DecayDaysInactive(),
		PruneMinStrength:     config.PruneMinStrength(),
		PruneMinObservations: config.PruneMinObservations(),
	}
}

func NewApp(db *pgxpool.Pool, logger *zap.Logger) (*App, error) {
	metricsCfg := metrics.DefaultConfig()
	metricsCfg.Enabled = config.MetricsEnabled()
	m := metrics.NewManager(metricsCfg)

	manager, err := NewLearningManager(db, m, logger)
	if err != nil {
		return nil, err
	}
	maintenance := service.NewMaintenanceService(manager, MaintenanceConfig(), logger)

	app := &App{
		Manager:     manager,
		Maintenance: maintenance,
		Metrics:     m,
		startTime:   time.Now(),
	}
	app.Router = app.routes(db, manager, logger)
	return app, nil
}

func (app *App) routes(db Pinger, engine handlers.Engine, logger *zap.Logger) *chi.Mux {
	// Handlers
	turnHandler := handlers.NewTurnHandler(engine, logger)
	vocabHandler := handlers.NewVocabularyHandler(engine, logger)
	dimHandler := handlers.NewDimensionHandler(engine, logger)
	stateHandler := handlers.NewStateHandler(engine, logger)
	maintenanceHandler := handlers.NewMaintenanceHandler(engine, MaintenanceConfig(), logger)

	r := chi.NewRouter()

	// Metrics collector for middleware
	metricsCollector := mw.NewMetricsCollector(app.Metrics, &app.requestCount, &app.errorCount)

	// Global middleware (order matters)
	r.Use(mw.RequestID)                                                 // Generate/extract request ID first
	r.Use(middleware.RealIP)                                            // Extract real IP
	r.Use(metricsCollector.Middleware)                                  // Collect metrics
	r.Use(mw.Logging(logger))                                           // Log all requests
	r.Use(middleware.Recoverer)                                         // Recover from panics
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst())) // Rate limiting

	// Health, status and Prometheus (no auth)
	r.Get("/health", healthHandler(db))
	r.Get("/status", app.statusHandler())
	r.Method(http.MethodGet, "/metrics", app.Metrics.Handler())

	if config.APIKey() == "" {
		logger.Warn("PENNY_API_KEY not set, /v1 routes are unauthenticated")
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(config.APIKey()))

		r.Post("/turns", turnHandler.Process)
		r.Get("/stats", turnHandler.Stats)
		r.Get("/export", turnHandler.Export)
		r.Get("/learning/health", turnHandler.Health)

		// Vocabulary
		r.Route("/terms/{term}", func(r chi.Router) {
			r.Get("/use", vocabHandler.ShouldUse)
			r.Get("/contexts", vocabHandler.Contexts)
		})
		r.Get("/contexts/{context}/vocabulary", vocabHandler.ForContext)
		r.Route("/overrides", func(r chi.Router) {
			r.Get("/", vocabHandler.ListOverrides)
			r.Post("/", vocabHandler.AddOverride)
			r.Delete("/", vocabHandler.RemoveOverride)
		})

		// Dimensions
		r.Route("/dimensions", func(r chi.Router) {
			r.Get("/patterns", dimHandler.Patterns)
			r.Get("/negative", dimHandler.Negative)
			r.Get("/{dimension}/predictions", dimHandler.Predictions)
		})

		// Conversation states
		r.Route("/states", func(r chi.Router) {
			r.Get("/patterns", stateHandler.Patterns)
			r.Get("/{state}/next", stateHandler.Next)
		})

		// Maintenance
		r.Route("/maintenance", func(r chi.Router) {
			r.Post("/decay", maintenanceHandler.Decay)
			r.Post("/prune", maintenanceHandler.Prune)
			r.Post("/sweep", maintenanceHandler.Sweep)
			r.Post("/reset-session", maintenanceHandler.ResetSession)
		})
	})

	return r
}

func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func (app *App) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)

		response := map[string]any{
			"version":        buildconfig.VersionInfo(),
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"request_count":  app.requestCount.Load(),
			"error_count":    app.errorCount.Load(),
			"goroutines":     runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
				"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
				"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
				"num_gc":         memStats.NumGC,
			},
			"go_version": runtime.Version(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Ensure stores satisfy interfaces at compile time.
var (
	_ domain.VocabularyStore = (*store.VocabularyStore)(nil)
	_ domain.DimensionStore  = (*store.DimensionStore)(nil)
	_ domain.SequenceStore   = (*store.SequenceStore)(nil)
	_ domain.QuarantineStore = (*store.QuarantineStore)(nil)
)
