// Package store archives capture results and their harvested assets in
// PostgreSQL, so a page captured once can be rebuilt any number of times
// without revisiting it.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/pagelift/pagelift/api/schemas"
)

// ErrNotFound marks lookups for captures that were never stored.
var ErrNotFound = errors.New("capture not found")

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store is the PostgreSQL-backed capture archive.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, log *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{pool: pool, log: log.Named("store")}, nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS captures (
		id UUID PRIMARY KEY,
		url TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		viewport_width BIGINT NOT NULL,
		viewport_height BIGINT NOT NULL,
		captured_at TIMESTAMPTZ NOT NULL,
		root JSONB
	)`,
	`CREATE TABLE IF NOT EXISTS capture_assets (
		capture_id UUID NOT NULL REFERENCES captures(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		data BYTEA NOT NULL,
		PRIMARY KEY (capture_id, url)
	)`,
	`CREATE INDEX IF NOT EXISTS captures_captured_at_idx ON captures (captured_at DESC)`,
}

// EnsureSchema creates the archive tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	s.log.Debug("Archive schema ensured.")
	return nil
}

const insertCaptureSQL = `
	INSERT INTO captures (id, url, title, viewport_width, viewport_height, captured_at, root)
	VALUES ($1, $2, $3, $4, $5, $6, $7);
`

var assetColumns = []string{"capture_id", "url", "content_type", "data"}

// SaveCapture persists one capture result together with its harvested assets
// in a single transaction.
func (s *Store) SaveCapture(ctx context.Context, result *schemas.CaptureResult, assets map[string]schemas.HarvestedAsset) error {
	if result == nil || result.ID == "" {
		return fmt.Errorf("capture result missing an id")
	}

	rootJSON, err := schemas.EncodeIR(result.Root)
	if err != nil {
		return fmt.Errorf("encoding capture %s: %w", result.ID, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction.", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, insertCaptureSQL,
		result.ID, result.URL, result.Title,
		result.Viewport.Width, result.Viewport.Height,
		result.CapturedAt.UTC(), rootJSON,
	); err != nil {
		return fmt.Errorf("inserting capture %s: %w", result.ID, err)
	}

	if len(assets) > 0 {
		// Map order is random; sort by URL so inserts are deterministic.
		urls := make([]string, 0, len(assets))
		for url := range assets {
			urls = append(urls, url)
		}
		sort.Strings(urls)

		rows := make([][]interface{}, len(urls))
		for i, url := range urls {
			asset := assets[url]
			rows[i] = []interface{}{result.ID, asset.URL, asset.ContentType, asset.Data}
		}

		copied, err := tx.CopyFrom(ctx, pgx.Identifier{"capture_assets"}, assetColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copying assets for capture %s: %w", result.ID, err)
		}
		if int(copied) != len(rows) {
			return fmt.Errorf("asset count mismatch for capture %s: expected %d, copied %d", result.ID, len(rows), copied)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing capture %s: %w", result.ID, err)
	}

	s.log.Info("Capture archived.",
		zap.String("capture_id", result.ID),
		zap.String("url", result.URL),
		zap.Int("assets", len(assets)),
	)
	return nil
}

const getCaptureSQL = `
	SELECT id, url, title, viewport_width, viewport_height, captured_at, root
	FROM captures
	WHERE id = $1;
`

// GetCapture loads one archived capture. The returned IR tree is normalized.
func (s *Store) GetCapture(ctx context.Context, id string) (*schemas.CaptureResult, error) {
	var (
		result   schemas.CaptureResult
		rootJSON []byte
	)
	err := s.pool.QueryRow(ctx, getCaptureSQL, id).Scan(
		&result.ID, &result.URL, &result.Title,
		&result.Viewport.Width, &result.Viewport.Height,
		&result.CapturedAt, &rootJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("capture %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading capture %s: %w", id, err)
	}

	if len(rootJSON) > 0 && !bytes.Equal(rootJSON, []byte("null")) {
		root, err := schemas.DecodeIR(rootJSON)
		if err != nil {
			return nil, fmt.Errorf("decoding capture %s: %w", id, err)
		}
		result.Root = root
	}
	return &result, nil
}

// CaptureSummary is one row of the archive listing.
type CaptureSummary struct {
	ID         string
	URL        string
	Title      string
	CapturedAt time.Time
}

const listCapturesSQL = `
	SELECT id, url, title, captured_at
	FROM captures
	ORDER BY captured_at DESC
	LIMIT $1;
`

const defaultListLimit = 50

// ListCaptures returns the most recent captures, newest first.
func (s *Store) ListCaptures(ctx context.Context, limit int) ([]CaptureSummary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.pool.Query(ctx, listCapturesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing captures: %w", err)
	}
	defer rows.Close()

	var summaries []CaptureSummary
	for rows.Next() {
		var summary CaptureSummary
		if err := rows.Scan(&summary.ID, &summary.URL, &summary.Title, &summary.CapturedAt); err != nil {
			return nil, fmt.Errorf("scanning capture row: %w", err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating capture rows: %w", err)
	}
	return summaries, nil
}

const loadAssetsSQL = `
	SELECT url, data
	FROM capture_assets
	WHERE capture_id = $1;
`

// LoadAssets returns the harvested asset bytes for a capture keyed by URL,
// in the shape the asset resolver chain consumes.
func (s *Store) LoadAssets(ctx context.Context, captureID string) (map[string][]byte, error) {
	rows, err := s.pool.Query(ctx, loadAssetsSQL, captureID)
	if err != nil {
		return nil, fmt.Errorf("loading assets for capture %s: %w", captureID, err)
	}
	defer rows.Close()

	assets := make(map[string][]byte)
	for rows.Next() {
		var (
			url  string
			data []byte
		)
		if err := rows.Scan(&url, &data); err != nil {
			return nil, fmt.Errorf("scanning asset row: %w", err)
		}
		assets[url] = data
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating asset rows: %w", err)
	}
	return assets, nil
}
