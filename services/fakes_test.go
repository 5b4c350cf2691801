package services

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"lot_harvester/models"
	"lot_harvester/scraper"
)

// memStore is an in-memory CatalogStore and RunStore
type memStore struct {
	mu        sync.Mutex
	lots      map[string]*models.CatalogEntry
	nextID    int64
	runs      map[int64]*models.ScrapeRun
	logs      []models.ScrapeLog
	failWrite map[string]error
	writes    int
}

func newMemStore() *memStore {
	return &memStore{
		lots:      make(map[string]*models.CatalogEntry),
		runs:      make(map[int64]*models.ScrapeRun),
		failWrite: make(map[string]error),
	}
}

func (m *memStore) ActiveExternalIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, e := range m.lots {
		if e.IsActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memStore) GetLotByExternalID(ctx context.Context, externalID string) (*models.CatalogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lots[externalID]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *memStore) GetLotByID(ctx context.Context, id int64) (*models.CatalogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.lots {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) InsertLot(ctx context.Context, e *models.CatalogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failWrite[e.ExternalID]; err != nil {
		return err
	}
	if _, ok := m.lots[e.ExternalID]; ok {
		return fmt.Errorf("duplicate external id %s", e.ExternalID)
	}
	m.writes++
	m.nextID++
	e.ID = m.nextID
	cp := *e
	m.lots[e.ExternalID] = &cp
	return nil
}

func (m *memStore) UpdateLot(ctx context.Context, e *models.CatalogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failWrite[e.ExternalID]; err != nil {
		return err
	}
	old, ok := m.lots[e.ExternalID]
	if !ok {
		return fmt.Errorf("lot %s not found", e.ExternalID)
	}
	m.writes++
	cp := *e
	cp.ID = old.ID
	cp.FirstSeenAt = old.FirstSeenAt
	cp.CreatedAt = old.CreatedAt
	cp.IsActive = true
	m.lots[e.ExternalID] = &cp
	return nil
}

func (m *memStore) DeactivateLot(ctx context.Context, externalID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failWrite[externalID]; err != nil {
		return err
	}
	e, ok := m.lots[externalID]
	if !ok {
		return fmt.Errorf("lot %s not found", externalID)
	}
	m.writes++
	e.IsActive = false
	e.UpdatedAt = at
	return nil
}

func (m *memStore) sorted(active *bool) []models.CatalogEntry {
	var out []models.CatalogEntry
	for _, e := range m.lots {
		if active != nil && e.IsActive != *active {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeenAt.Equal(out[j].LastSeenAt) {
			return out[i].LastSeenAt.After(out[j].LastSeenAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (m *memStore) ListLots(ctx context.Context, q models.PageQuery) ([]models.CatalogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted(q.Active)
	start := (q.Page - 1) * q.Limit
	if start >= len(all) {
		return []models.CatalogEntry{}, nil
	}
	end := start + q.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (m *memStore) CountLots(ctx context.Context, active *bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sorted(active)), nil
}

func (m *memStore) Stats(ctx context.Context) (*models.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st models.Stats
	var sum float64
	for _, e := range m.lots {
		st.Total++
		if e.IsActive {
			st.Active++
			sum += e.Price
		}
	}
	st.Inactive = st.Total - st.Active
	if st.Active > 0 {
		st.AvgPrice = sum / float64(st.Active)
	}
	return &st, nil
}

func (m *memStore) AllLots(ctx context.Context) ([]models.CatalogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.CatalogEntry, 0, len(m.lots))
	for _, e := range m.lots {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) CreateRun(ctx context.Context, run *models.ScrapeRun) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := int64(len(m.runs) + 1)
	cp := *run
	cp.ID = id
	m.runs[id] = &cp
	return id, nil
}

func (m *memStore) UpdateRun(ctx context.Context, run *models.ScrapeRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *memStore) Log(ctx context.Context, runID *int64, level models.LogLevel, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, models.ScrapeLog{RunID: runID, Level: level, Message: message})
	return nil
}

func (m *memStore) GetRun(ctx context.Context, id int64) (*models.ScrapeRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

func (m *memStore) GetRunLogs(ctx context.Context, runID int64) ([]models.ScrapeLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.ScrapeLog{}
	for _, l := range m.logs {
		if l.RunID != nil && *l.RunID == runID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memStore) lot(externalID string) *models.CatalogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lots[externalID]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

// stubCrawler returns a canned output, optionally blocking until released
type stubCrawler struct {
	out     *scraper.CrawlOutput
	err     error
	started chan struct{}
	release chan struct{}
	calls   int
}

func (c *stubCrawler) CrawlAll(ctx context.Context, delay time.Duration) (*scraper.CrawlOutput, error) {
	c.calls++
	if c.started != nil {
		close(c.started)
	}
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return &scraper.CrawlOutput{Listed: c.out.Listed}, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	out := *c.out
	return &out, nil
}

func snapshotOf(ids ...string) *scraper.CrawlOutput {
	out := &scraper.CrawlOutput{Listed: len(ids)}
	for _, id := range ids {
		out.Records = append(out.Records, record(id, 10))
	}
	return out
}

func record(id string, price float64) models.DetailRecord {
	return models.DetailRecord{
		ExternalID: id,
		Server:     models.DefaultServer,
		Rank:       models.DefaultRank,
		Title:      "lot " + id,
		Price:      price,
		URL:        "https://funpay.com/lots/offer?id=" + id,
	}
}

type memUploader struct {
	key         string
	body        string
	contentType string
	err         error
}

func (u *memUploader) Upload(ctx context.Context, key string, data io.Reader, contentType string) error {
	if u.err != nil {
		return u.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	u.key, u.body, u.contentType = key, string(b), contentType
	return nil
}
