package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"go.uber.org/zap"

	"github.com/ekaya-inc/dsr-engine/migrations"
	"github.com/ekaya-inc/dsr-engine/pkg/adapters/warehouse"
	whmssql "github.com/ekaya-inc/dsr-engine/pkg/adapters/warehouse/mssql"
	whpostgres "github.com/ekaya-inc/dsr-engine/pkg/adapters/warehouse/postgres"
	"github.com/ekaya-inc/dsr-engine/pkg/catalog"
	"github.com/ekaya-inc/dsr-engine/pkg/config"
	"github.com/ekaya-inc/dsr-engine/pkg/database"
	"github.com/ekaya-inc/dsr-engine/pkg/logging"
	"github.com/ekaya-inc/dsr-engine/pkg/repositories"
	"github.com/ekaya-inc/dsr-engine/pkg/services"
	"github.com/ekaya-inc/dsr-engine/pkg/services/workqueue"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting dsr-engine",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.String("warehouse_type", cfg.Warehouse.Type))

	if err := applyMigrations(cfg, logger); err != nil {
		logger.Fatal("failed to apply migrations", zap.Error(err))
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("failed to connect to engine store", zap.Error(err))
	}
	defer db.Close()

	connector, err := newWarehouseConnector(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect to warehouse", zap.Error(err))
	}
	defer func() { _ = connector.Close() }()

	requestRepo := repositories.NewRequestRepository(db)
	itemRepo := repositories.NewRequestItemRepository(db)
	auditRepo := repositories.NewAuditRepository(db)

	queue := workqueue.New(logger,
		workqueue.WithStrategy(workqueue.NewThrottledStrategy(cfg.Privacy.MaxConcurrentRequests)))

	discovery := services.NewDiscoveryService(
		catalog.NewPostgresReader(db),
		services.NewColumnMatcher(),
		services.NewConfidenceScorer(),
		cfg.Privacy.ConfidenceThreshold,
		logger)

	exports := services.NewExportService(requestRepo, itemRepo, auditRepo,
		discovery, connector, queue, logger)
	deletions := services.NewDeletionService(requestRepo, itemRepo, auditRepo,
		discovery,
		services.NewDeletionSequencer(logger),
		services.NewRiskAssessor(cfg.Privacy.ApprovalRowThreshold),
		connector, queue, logger)

	reconciler := services.NewReconciler(requestRepo, auditRepo, exports, deletions,
		time.Duration(cfg.Privacy.ReconcileIntervalMinutes)*time.Minute,
		time.Duration(cfg.Privacy.StaleProcessingMinutes)*time.Minute,
		logger)
	reconciler.Start(ctx)
	defer reconciler.Stop()

	server := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: healthMux(cfg, db, queue),
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown failed", zap.Error(err))
	}
	queue.Cancel()
}

// applyMigrations runs the embedded schema migrations over a short-lived
// database/sql connection; the pgx pool is opened afterwards.
func applyMigrations(cfg *config.Config, logger *zap.Logger) error {
	db, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return database.RunMigrations(db, migrations.Files, logger)
}

func newWarehouseConnector(ctx context.Context, cfg *config.Config, logger *zap.Logger) (warehouse.Connector, error) {
	switch cfg.Warehouse.Type {
	case "mssql":
		return whmssql.NewConnector(cfg.Warehouse.ConnectionString(), logger)
	default:
		return whpostgres.NewConnector(ctx, cfg.Warehouse.ConnectionString(), logger)
	}
}

func healthMux(cfg *config.Config, db *database.DB, queue *workqueue.Queue) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		health := map[string]any{
			"status":  "ok",
			"version": cfg.Version,
			"queue":   queue.Progress(),
		}
		if err := db.HealthCheck(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			health["status"] = "degraded"
			health["error"] = logging.SanitizeError(err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(health)
	})
	return mux
}
