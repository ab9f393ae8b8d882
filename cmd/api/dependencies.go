package api

import (
	"fmt"
	"log/slog"
	"time"

	ingesthandler "github.com/stocktally/stocktally/internal/domain/ingest/handler"
	ingestrepo "github.com/stocktally/stocktally/internal/domain/ingest/repository"
	ingestservice "github.com/stocktally/stocktally/internal/domain/ingest/service"

	"github.com/stocktally/stocktally/pkg/config"
	"github.com/stocktally/stocktally/pkg/db"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	IngestRepo    ingestrepo.IngestRepository
	IngestService *ingestservice.IngestService
	IngestHandler *ingesthandler.IngestHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}

	deps.IngestService = ingestservice.NewIngestService(deps.IngestRepo, logger)
	deps.IngestHandler = ingesthandler.NewIngestHandler(deps.IngestService, logger)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initStorage picks the repository implementation from DB_DRIVER. The memory
// driver keeps everything in process and needs no database.
func (d *Dependencies) initStorage() error {
	if d.Config.Database.Driver == "memory" {
		d.IngestRepo = ingestrepo.NewMemoryIngestRepository()
		d.Logger.Info("using in-memory storage")
		return nil
	}

	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}
	d.DB = database

	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.IngestRepo = ingestrepo.NewPostgresIngestRepository(d.DB.Pool)
	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
