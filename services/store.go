package services

import (
	"context"
	"errors"
	"io"
	"time"

	"lot_harvester/models"
	"lot_harvester/scraper"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrRunInProgress = errors.New("parsing already in progress")
	ErrInvalidQuery  = errors.New("invalid page query")
)

// CatalogStore is the persistence the reconciler and read side need.
// Lookups return nil, nil when nothing matches.
type CatalogStore interface {
	ActiveExternalIDs(ctx context.Context) ([]string, error)
	GetLotByExternalID(ctx context.Context, externalID string) (*models.CatalogEntry, error)
	GetLotByID(ctx context.Context, id int64) (*models.CatalogEntry, error)
	InsertLot(ctx context.Context, e *models.CatalogEntry) error
	UpdateLot(ctx context.Context, e *models.CatalogEntry) error
	DeactivateLot(ctx context.Context, externalID string, at time.Time) error
	ListLots(ctx context.Context, q models.PageQuery) ([]models.CatalogEntry, error)
	CountLots(ctx context.Context, active *bool) (int, error)
	Stats(ctx context.Context) (*models.Stats, error)
	AllLots(ctx context.Context) ([]models.CatalogEntry, error)
}

// RunStore records runs and their log lines. GetRun returns nil, nil for an
// unknown id.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.ScrapeRun) (int64, error)
	UpdateRun(ctx context.Context, run *models.ScrapeRun) error
	Log(ctx context.Context, runID *int64, level models.LogLevel, message string) error
	GetRun(ctx context.Context, id int64) (*models.ScrapeRun, error)
	GetRunLogs(ctx context.Context, runID int64) ([]models.ScrapeLog, error)
}

// Crawler produces the snapshot for one run
type Crawler interface {
	CrawlAll(ctx context.Context, delay time.Duration) (*scraper.CrawlOutput, error)
}

type Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
}

// Exporter publishes the catalog somewhere after a successful run
type Exporter interface {
	Export(ctx context.Context) (string, error)
}
