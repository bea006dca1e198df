package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagelift/pagelift/api/schemas"
	"github.com/pagelift/pagelift/internal/config"
	"github.com/pagelift/pagelift/internal/observability"
	"github.com/pagelift/pagelift/internal/store"
)

// captureArchive is the slice of the store the commands consume. The
// abstraction lets tests inject a fake archive instead of a live database.
type captureArchive interface {
	EnsureSchema(ctx context.Context) error
	SaveCapture(ctx context.Context, result *schemas.CaptureResult, assets map[string]schemas.HarvestedAsset) error
	GetCapture(ctx context.Context, id string) (*schemas.CaptureResult, error)
	ListCaptures(ctx context.Context, limit int) ([]store.CaptureSummary, error)
	LoadAssets(ctx context.Context, captureID string) (map[string][]byte, error)
}

// storeProvider creates a captureArchive on demand, so commands that never
// touch the archive never open a database connection.
type storeProvider interface {
	// Create initializes the archive and returns it together with a cleanup
	// function that releases its resources.
	Create(ctx context.Context, cfg config.Interface) (captureArchive, func(), error)
}

// defaultStoreProvider connects to the PostgreSQL capture archive.
type defaultStoreProvider struct{}

// NewStoreProvider returns the production store provider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

// Create connects to PostgreSQL, verifies the connection and applies the
// archive schema when auto migration is enabled.
func (p *defaultStoreProvider) Create(ctx context.Context, cfg config.Interface) (captureArchive, func(), error) {
	logger := observability.GetLogger()
	if cfg.Store().URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (PAGELIFT_DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.Store().URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	archive, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize capture archive: %w", err)
	}

	if cfg.Store().AutoMigrate {
		if err := archive.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to ensure archive schema: %w", err)
		}
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed.")
	}
	return archive, cleanup, nil
}
