package services

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"lot_harvester/logging"
	"lot_harvester/models"
)

const (
	DefaultPage  = 1
	DefaultLimit = 20
)

// CatalogService is what the API and the scheduler talk to. It owns the
// single-flight guard around parsing runs.
type CatalogService struct {
	catalog    CatalogStore
	runs       RunStore
	crawler    Crawler
	reconciler *Reconciler
	exporter   Exporter
	delay      time.Duration
	running    atomic.Bool
	now        func() time.Time
}

func NewCatalogService(catalog CatalogStore, runs RunStore, crawler Crawler, delay time.Duration) *CatalogService {
	return &CatalogService{
		catalog:    catalog,
		runs:       runs,
		crawler:    crawler,
		reconciler: NewReconciler(catalog),
		delay:      delay,
		now:        time.Now,
	}
}

// SetExporter enables the post-run catalog export
func (s *CatalogService) SetExporter(e Exporter) {
	s.exporter = e
}

// IsRunning reports whether a parsing run is in flight
func (s *CatalogService) IsRunning() bool {
	return s.running.Load()
}

// RunParsing crawls the marketplace and reconciles the catalog. A call made while
// another run is in flight returns ErrRunInProgress and does nothing. Any run that
// started returns a result; failures show up as Success=false and in Errors.
func (s *CatalogService) RunParsing(ctx context.Context) (*models.ReconcileResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)

	// bookkeeping must land even when ctx is cancelled mid-run
	bgCtx := context.WithoutCancel(ctx)

	result := &models.ReconcileResult{}
	run := &models.ScrapeRun{StartedAt: s.now().UTC(), Status: models.RunStatusRunning}
	var runID *int64
	if id, err := s.runs.CreateRun(bgCtx, run); err != nil {
		log.Printf("Warning: failed to create run record: %v", err)
	} else {
		run.ID = id
		runID = &id
	}

	s.log(bgCtx, runID, models.LogLevelInfo, "Starting lot parsing")

	status := s.parse(ctx, bgCtx, runID, run, result)

	run.Finish(result, status, s.now().UTC())
	if runID != nil {
		if err := s.runs.UpdateRun(bgCtx, run); err != nil {
			log.Printf("Warning: failed to update run %d: %v", run.ID, err)
		}
	}

	if result.Success && s.exporter != nil {
		s.export(ctx, bgCtx, runID)
	}

	return result, nil
}

func (s *CatalogService) parse(ctx, bgCtx context.Context, runID *int64, run *models.ScrapeRun, result *models.ReconcileResult) models.RunStatus {
	// active set is read before the crawl starts
	active, err := s.catalog.ActiveExternalIDs(ctx)
	if err != nil {
		return s.fail(bgCtx, runID, result, fmt.Errorf("load active lots: %w", err))
	}
	s.log(bgCtx, runID, models.LogLevelDebug, fmt.Sprintf("%d lots active before the crawl", len(active)))

	out, err := s.crawler.CrawlAll(ctx, s.delay)
	if out != nil {
		run.Listed = out.Listed
		result.Skipped = out.Skipped
	}
	if err != nil {
		if out != nil {
			result.Parsed = len(out.Records)
		}
		if ctx.Err() != nil {
			msg := fmt.Sprintf("parsing cancelled: %v", ctx.Err())
			s.log(bgCtx, runID, models.LogLevelWarn, msg)
			result.AddError(msg)
			return models.RunStatusCancelled
		}
		return s.fail(bgCtx, runID, result, err)
	}

	if out.Skipped > 0 {
		s.log(bgCtx, runID, models.LogLevelWarn, fmt.Sprintf("%d of %d lots skipped after detail page failures", out.Skipped, out.Listed))
	}

	// a complete snapshot is applied in full even if ctx is cancelled now
	s.reconciler.Apply(bgCtx, active, out.Records, result)

	for _, msg := range result.Errors {
		s.log(bgCtx, runID, models.LogLevelError, msg)
	}
	s.log(bgCtx, runID, models.LogLevelInfo, fmt.Sprintf("Parsing completed: %d new, %d updated, %d deactivated, %d changed",
		result.New, result.Updated, result.Deactivated, result.Changed))
	return models.RunStatusCompleted
}

func (s *CatalogService) fail(ctx context.Context, runID *int64, result *models.ReconcileResult, err error) models.RunStatus {
	msg := fmt.Sprintf("parsing failed: %v", err)
	s.log(ctx, runID, models.LogLevelError, msg)
	result.AddError(msg)
	return models.RunStatusFailed
}

func (s *CatalogService) export(ctx, bgCtx context.Context, runID *int64) {
	key, err := s.exporter.Export(ctx)
	if err != nil {
		s.log(bgCtx, runID, models.LogLevelWarn, fmt.Sprintf("Catalog export failed: %v", err))
		return
	}
	s.log(bgCtx, runID, models.LogLevelInfo, fmt.Sprintf("Catalog exported to %s", key))
}

func (s *CatalogService) log(ctx context.Context, runID *int64, level models.LogLevel, message string) {
	if level == models.LogLevelDebug {
		logging.Debugf("%s", message)
	} else {
		log.Printf("[%s] %s", level, message)
	}
	if err := s.runs.Log(ctx, runID, level, message); err != nil {
		log.Printf("Warning: failed to persist log line: %v", err)
	}
}

// GetPage returns one page of the catalog ordered by last sighting, newest first.
// Zero Page or Limit fall back to the defaults; negative values are rejected.
func (s *CatalogService) GetPage(ctx context.Context, q models.PageQuery) (*models.Page, error) {
	if q.Page == 0 {
		q.Page = DefaultPage
	}
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if q.Page < 1 || q.Limit < 1 {
		return nil, ErrInvalidQuery
	}

	items, err := s.catalog.ListLots(ctx, q)
	if err != nil {
		return nil, err
	}
	total, err := s.catalog.CountLots(ctx, q.Active)
	if err != nil {
		return nil, err
	}

	return &models.Page{
		Items:      items,
		Total:      total,
		Page:       q.Page,
		Limit:      q.Limit,
		TotalPages: (total + q.Limit - 1) / q.Limit,
	}, nil
}

func (s *CatalogService) GetByID(ctx context.Context, id int64) (*models.CatalogEntry, error) {
	e, err := s.catalog.GetLotByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("lot %d: %w", id, ErrNotFound)
	}
	return e, nil
}

func (s *CatalogService) GetByExternalID(ctx context.Context, externalID string) (*models.CatalogEntry, error) {
	e, err := s.catalog.GetLotByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("lot %s: %w", externalID, ErrNotFound)
	}
	return e, nil
}

// GetRun returns a run record with its log lines
func (s *CatalogService) GetRun(ctx context.Context, id int64) (*models.RunReport, error) {
	run, err := s.runs.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	logs, err := s.runs.GetRunLogs(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.RunReport{ScrapeRun: *run, Logs: logs}, nil
}

func (s *CatalogService) GetStats(ctx context.Context) (*models.Stats, error) {
	return s.catalog.Stats(ctx)
}
