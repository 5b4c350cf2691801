package storage

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"lot_harvester/models"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS lots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		external_id TEXT NOT NULL UNIQUE,
		server TEXT NOT NULL DEFAULT 'Any',
		rank TEXT NOT NULL DEFAULT 'Unknown',
		agents_count INTEGER NOT NULL DEFAULT 0,
		skins_count INTEGER NOT NULL DEFAULT 0,
		title TEXT NOT NULL DEFAULT '',
		description TEXT,
		price REAL NOT NULL DEFAULT 0,
		url TEXT NOT NULL,
		fingerprint TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		first_seen_at DATETIME NOT NULL,
		last_seen_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS scrape_runs (
		id INTEGER PRIMARY KEY,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		listed INTEGER DEFAULT 0,
		parsed INTEGER DEFAULT 0,
		new_count INTEGER DEFAULT 0,
		updated_count INTEGER DEFAULT 0,
		deactivated_count INTEGER DEFAULT 0,
		skipped_count INTEGER DEFAULT 0,
		changed_count INTEGER DEFAULT 0,
		errors_count INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS scrape_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_lots_active ON lots(is_active);
	CREATE INDEX IF NOT EXISTS idx_lots_last_seen ON lots(last_seen_at);
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_run ON scrape_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON scrape_runs(status, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

const lotColumns = `id, external_id, server, rank, agents_count, skins_count, title, description,
	price, url, fingerprint, is_active, first_seen_at, last_seen_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLot(row rowScanner) (*models.CatalogEntry, error) {
	var e models.CatalogEntry
	var desc sql.NullString
	err := row.Scan(&e.ID, &e.ExternalID, &e.Server, &e.Rank, &e.AgentsCount, &e.SkinsCount, &e.Title, &desc,
		&e.Price, &e.URL, &e.Fingerprint, &e.IsActive, &e.FirstSeenAt, &e.LastSeenAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if desc.Valid {
		e.Description = &desc.String
	}
	return &e, nil
}

const runColumns = `id, started_at, finished_at, status, listed, parsed, new_count, updated_count,
	deactivated_count, skipped_count, changed_count, errors_count`

func scanRun(row rowScanner) (*models.ScrapeRun, error) {
	var run models.ScrapeRun
	err := row.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Status, &run.Listed, &run.Parsed, &run.New,
		&run.Updated, &run.Deactivated, &run.Skipped, &run.Changed, &run.ErrorsCount)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// scanLogs drains and closes rows
func scanLogs(rows *sql.Rows) ([]models.ScrapeLog, error) {
	defer rows.Close()

	logs := []models.ScrapeLog{}
	for rows.Next() {
		var l models.ScrapeLog
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &l.Level, &l.Message); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func scanCommands(rows *sql.Rows) ([]models.Command, error) {
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		if err := rows.Scan(&cmd.ID, &cmd.Command, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

// =============================================================================
// Catalog
// =============================================================================

func (s *SQLiteStore) ActiveExternalIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT external_id FROM lots WHERE is_active = TRUE`)
	if err != nil {
		return nil, storeErr("active ids", "", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("active ids", "", err)
		}
		ids = append(ids, id)
	}
	return ids, storeErr("active ids", "", rows.Err())
}

func (s *SQLiteStore) GetLotByExternalID(ctx context.Context, externalID string) (*models.CatalogEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM lots WHERE external_id = ?`, externalID)
	e, err := scanLot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get lot", externalID, err)
	}
	return e, nil
}

func (s *SQLiteStore) GetLotByID(ctx context.Context, id int64) (*models.CatalogEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM lots WHERE id = ?`, id)
	e, err := scanLot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get lot", strconv.FormatInt(id, 10), err)
	}
	return e, nil
}

func (s *SQLiteStore) InsertLot(ctx context.Context, e *models.CatalogEntry) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO lots (external_id, server, rank, agents_count, skins_count, title, description,
			price, url, fingerprint, is_active, first_seen_at, last_seen_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ExternalID, e.Server, e.Rank, e.AgentsCount, e.SkinsCount, e.Title, e.Description,
		e.Price, e.URL, e.Fingerprint, e.IsActive, e.FirstSeenAt, e.LastSeenAt, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return storeErr("insert lot", e.ExternalID, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return storeErr("insert lot", e.ExternalID, err)
	}
	e.ID = id
	return nil
}

// UpdateLot overwrites the mutable fields and marks the entry active again.
// FirstSeenAt and CreatedAt are never touched.
func (s *SQLiteStore) UpdateLot(ctx context.Context, e *models.CatalogEntry) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE lots SET
			server = ?, rank = ?, agents_count = ?, skins_count = ?, title = ?, description = ?,
			price = ?, url = ?, fingerprint = ?, is_active = TRUE, last_seen_at = ?, updated_at = ?
		WHERE external_id = ?`,
		e.Server, e.Rank, e.AgentsCount, e.SkinsCount, e.Title, e.Description,
		e.Price, e.URL, e.Fingerprint, e.LastSeenAt, e.UpdatedAt, e.ExternalID)
	if err != nil {
		return storeErr("update lot", e.ExternalID, err)
	}
	return storeErr("update lot", e.ExternalID, expectOneRow(result))
}

func (s *SQLiteStore) DeactivateLot(ctx context.Context, externalID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE lots SET is_active = FALSE, updated_at = ? WHERE external_id = ?`, at, externalID)
	if err != nil {
		return storeErr("deactivate lot", externalID, err)
	}
	return storeErr("deactivate lot", externalID, expectOneRow(result))
}

func (s *SQLiteStore) ListLots(ctx context.Context, q models.PageQuery) ([]models.CatalogEntry, error) {
	query := `SELECT ` + lotColumns + ` FROM lots`
	var args []any
	if q.Active != nil {
		query += ` WHERE is_active = ?`
		args = append(args, *q.Active)
	}
	query += ` ORDER BY last_seen_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, q.Limit, (q.Page-1)*q.Limit)

	return s.queryLots(ctx, "list lots", query, args...)
}

// AllLots returns the whole catalog, active and inactive, in id order
func (s *SQLiteStore) AllLots(ctx context.Context) ([]models.CatalogEntry, error) {
	return s.queryLots(ctx, "all lots", `SELECT `+lotColumns+` FROM lots ORDER BY id`)
}

func (s *SQLiteStore) queryLots(ctx context.Context, op, query string, args ...any) ([]models.CatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, "", err)
	}
	defer rows.Close()

	lots := []models.CatalogEntry{}
	for rows.Next() {
		e, err := scanLot(rows)
		if err != nil {
			return nil, storeErr(op, "", err)
		}
		lots = append(lots, *e)
	}
	return lots, storeErr(op, "", rows.Err())
}

func (s *SQLiteStore) CountLots(ctx context.Context, active *bool) (int, error) {
	query := `SELECT COUNT(*) FROM lots`
	var args []any
	if active != nil {
		query += ` WHERE is_active = ?`
		args = append(args, *active)
	}

	var count int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, storeErr("count lots", "", err)
}

func (s *SQLiteStore) Stats(ctx context.Context) (*models.Stats, error) {
	var st models.Stats
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN is_active THEN 1 ELSE 0 END), 0),
			AVG(CASE WHEN is_active THEN price END)
		FROM lots`).Scan(&st.Total, &st.Active, &avg)
	if err != nil {
		return nil, storeErr("stats", "", err)
	}
	st.Inactive = st.Total - st.Active
	st.AvgPrice = avg.Float64
	return &st, nil
}

// =============================================================================
// Runs, logs and commands
// =============================================================================

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.ScrapeRun) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_runs (started_at, status) VALUES (?, ?)`,
		run.StartedAt, run.Status)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *models.ScrapeRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scrape_runs SET finished_at = ?, status = ?, listed = ?, parsed = ?, new_count = ?,
			updated_count = ?, deactivated_count = ?, skipped_count = ?, changed_count = ?, errors_count = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.Listed, run.Parsed, run.New,
		run.Updated, run.Deactivated, run.Skipped, run.Changed, run.ErrorsCount, run.ID)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id int64) (*models.ScrapeRun, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM scrape_runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (s *SQLiteStore) Log(ctx context.Context, runID *int64, level models.LogLevel, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_logs (run_id, timestamp, level, message)
		VALUES (?, ?, ?, ?)`,
		runID, time.Now().UTC(), level, message)
	return err
}

func (s *SQLiteStore) GetRunLogs(ctx context.Context, runID int64) ([]models.ScrapeLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, timestamp, level, message
		FROM scrape_logs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	return scanLogs(rows)
}

func (s *SQLiteStore) EnqueueCommand(ctx context.Context, cmd models.CommandType) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO commands (command, created_at) VALUES (?, ?)`, cmd, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) GetPendingCommands(ctx context.Context) ([]models.Command, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, command, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return scanCommands(rows)
}

func (s *SQLiteStore) MarkCommandProcessed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}
