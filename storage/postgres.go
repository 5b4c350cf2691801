package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"lot_harvester/models"
	"lot_harvester/storage/migrations"
)

// DBTX is the query surface shared by *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore keeps the catalog in Postgres. It has the same method set as
// SQLiteStore and is picked when DATABASE_URL is set. Queries go through a
// database/sql handle backed by the pgx pool.
type PostgresStore struct {
	pool  *pgxpool.Pool
	sqlDB *sql.DB
	db    DBTX
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := migratePostgres(ctx, db); err != nil {
		db.Close()
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &PostgresStore{pool: pool, sqlDB: db, db: db}, nil
}

// NewPostgresStoreWithDB wraps an already migrated handle
func NewPostgresStoreWithDB(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() error {
	var err error
	if s.sqlDB != nil {
		err = s.sqlDB.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

func migratePostgres(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

// =============================================================================
// Catalog
// =============================================================================

func (s *PostgresStore) ActiveExternalIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT external_id FROM lots WHERE is_active`)
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

func (s *PostgresStore) GetLotByExternalID(ctx context.Context, externalID string) (*models.CatalogEntry, error) {
	e, err := scanLot(s.db.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM lots WHERE external_id = $1`, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get lot", externalID, err)
	}
	return e, nil
}

func (s *PostgresStore) GetLotByID(ctx context.Context, id int64) (*models.CatalogEntry, error) {
	e, err := scanLot(s.db.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM lots WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get lot", strconv.FormatInt(id, 10), err)
	}
	return e, nil
}

func (s *PostgresStore) InsertLot(ctx context.Context, e *models.CatalogEntry) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO lots (external_id, server, rank, agents_count, skins_count, title, description,
			price, url, fingerprint, is_active, first_seen_at, last_seen_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`,
		e.ExternalID, e.Server, e.Rank, e.AgentsCount, e.SkinsCount, e.Title, e.Description,
		e.Price, e.URL, e.Fingerprint, e.IsActive, e.FirstSeenAt, e.LastSeenAt, e.CreatedAt, e.UpdatedAt,
	).Scan(&e.ID)
	return storeErr("insert lot", e.ExternalID, err)
}

func (s *PostgresStore) UpdateLot(ctx context.Context, e *models.CatalogEntry) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE lots SET
			server = $1, rank = $2, agents_count = $3, skins_count = $4, title = $5, description = $6,
			price = $7, url = $8, fingerprint = $9, is_active = TRUE, last_seen_at = $10, updated_at = $11
		WHERE external_id = $12`,
		e.Server, e.Rank, e.AgentsCount, e.SkinsCount, e.Title, e.Description,
		e.Price, e.URL, e.Fingerprint, e.LastSeenAt, e.UpdatedAt, e.ExternalID)
	if err != nil {
		return storeErr("update lot", e.ExternalID, err)
	}
	return storeErr("update lot", e.ExternalID, expectOneRow(result))
}

func (s *PostgresStore) DeactivateLot(ctx context.Context, externalID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE lots SET is_active = FALSE, updated_at = $1 WHERE external_id = $2`, at, externalID)
	if err != nil {
		return storeErr("deactivate lot", externalID, err)
	}
	return storeErr("deactivate lot", externalID, expectOneRow(result))
}

// ListLots binds limit and offset first so the optional filter can take $3
func (s *PostgresStore) ListLots(ctx context.Context, q models.PageQuery) ([]models.CatalogEntry, error) {
	query := `SELECT ` + lotColumns + ` FROM lots`
	args := []any{q.Limit, (q.Page - 1) * q.Limit}
	if q.Active != nil {
		query += ` WHERE is_active = $3`
		args = append(args, *q.Active)
	}
	query += ` ORDER BY last_seen_at DESC, id DESC LIMIT $1 OFFSET $2`

	return s.queryLots(ctx, "list lots", query, args...)
}

func (s *PostgresStore) AllLots(ctx context.Context) ([]models.CatalogEntry, error) {
	return s.queryLots(ctx, "all lots", `SELECT `+lotColumns+` FROM lots ORDER BY id`)
}

func (s *PostgresStore) queryLots(ctx context.Context, op, query string, args ...any) ([]models.CatalogEntry, error) {
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

func (s *PostgresStore) CountLots(ctx context.Context, active *bool) (int, error) {
	query := `SELECT COUNT(*) FROM lots`
	var args []any
	if active != nil {
		query += ` WHERE is_active = $1`
		args = append(args, *active)
	}

	var count int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, storeErr("count lots", "", err)
}

func (s *PostgresStore) Stats(ctx context.Context) (*models.Stats, error) {
	var st models.Stats
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE is_active),
			AVG(price) FILTER (WHERE is_active)
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

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.ScrapeRun) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO scrape_runs (started_at, status) VALUES ($1, $2) RETURNING id`,
		run.StartedAt, string(run.Status)).Scan(&id)
	return id, err
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *models.ScrapeRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scrape_runs SET finished_at = $1, status = $2, listed = $3, parsed = $4, new_count = $5,
			updated_count = $6, deactivated_count = $7, skipped_count = $8, changed_count = $9, errors_count = $10
		WHERE id = $11`,
		run.FinishedAt, string(run.Status), run.Listed, run.Parsed, run.New,
		run.Updated, run.Deactivated, run.Skipped, run.Changed, run.ErrorsCount, run.ID)
	return err
}

func (s *PostgresStore) GetRun(ctx context.Context, id int64) (*models.ScrapeRun, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM scrape_runs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

func (s *PostgresStore) Log(ctx context.Context, runID *int64, level models.LogLevel, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_logs (run_id, timestamp, level, message)
		VALUES ($1, $2, $3, $4)`,
		runID, time.Now().UTC(), string(level), message)
	return err
}

func (s *PostgresStore) GetRunLogs(ctx context.Context, runID int64) ([]models.ScrapeLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, timestamp, level, message
		FROM scrape_logs WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	return scanLogs(rows)
}

func (s *PostgresStore) EnqueueCommand(ctx context.Context, cmd models.CommandType) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO commands (command) VALUES ($1) RETURNING id`, string(cmd)).Scan(&id)
	return id, err
}

func (s *PostgresStore) GetPendingCommands(ctx context.Context) ([]models.Command, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, command, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return scanCommands(rows)
}

func (s *PostgresStore) MarkCommandProcessed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE commands SET processed_at = NOW() WHERE id = $1`, id)
	return err
}
