package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// unmarshalJSON unmarshals JSON and logs any errors without failing.
// A corrupt report column should not hide the rest of the run.
func unmarshalJSON(data string, v any, field string, runID string) {
	if err := json.Unmarshal([]byte(data), v); err != nil {
		slog.Warn("failed to unmarshal JSON field",
			"field", field,
			"runID", runID,
			"error", err.Error(),
			"dataLen", len(data))
	}
}

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_foreign_keys=ON", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// migrate runs database migrations.
func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS suite_runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		completed_at DATETIME NOT NULL,
		rpc_url TEXT NOT NULL,
		chain_id INTEGER DEFAULT 0,
		sender TEXT NOT NULL,
		status TEXT NOT NULL,
		total_tx INTEGER DEFAULT 0,
		succeeded INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_suite_runs_started ON suite_runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS scenario_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		suite_run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		report_key TEXT NOT NULL,
		scenario TEXT NOT NULL,
		state TEXT NOT NULL,
		total_tx INTEGER DEFAULT 0,
		succeeded INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		tps REAL DEFAULT 0,
		avg_confirmation_ms REAL DEFAULT 0,
		report TEXT NOT NULL,
		FOREIGN KEY (suite_run_id) REFERENCES suite_runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_scenario_results_run ON scenario_results(suite_run_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Columns added after the first release. Existing databases get them
	// here; fresh ones as well, since the base schema omits them.
	migrations := []struct {
		table  string
		column string
		ddl    string
	}{
		{"suite_runs", "client_version", "ALTER TABLE suite_runs ADD COLUMN client_version TEXT"},
		{"suite_runs", "custom_name", "ALTER TABLE suite_runs ADD COLUMN custom_name TEXT"},
		{"suite_runs", "is_favorite", "ALTER TABLE suite_runs ADD COLUMN is_favorite INTEGER DEFAULT 0"},
	}

	for _, m := range migrations {
		if !s.columnExists(m.table, m.column) {
			if _, err := s.db.Exec(m.ddl); err != nil {
				return fmt.Errorf("add %s.%s: %w", m.table, m.column, err)
			}
		}
	}

	return nil
}

// columnExists checks if a column exists in a table.
// Table and column names are validated to prevent SQL injection.
func (s *SQLiteStorage) columnExists(table, column string) bool {
	if !isValidIdentifier(table) || !isValidIdentifier(column) {
		return false
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM pragma_table_info('%s') WHERE name = '%s'", table, column)
	var count int
	if err := s.db.QueryRow(query).Scan(&count); err != nil {
		return false
	}
	return count > 0
}

// isValidIdentifier checks if a string is a valid SQLite identifier.
// Only allows alphanumeric characters and underscore.
func isValidIdentifier(s string) bool {
	if len(s) == 0 || len(s) > 128 {
		return false
	}
	for _, c := range s {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_') {
			return false
		}
	}
	return true
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// SaveSuite inserts the run and all of its scenario results in one
// transaction.
func (s *SQLiteStorage) SaveSuite(ctx context.Context, run *SuiteRun) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO suite_runs (id, started_at, completed_at, rpc_url, chain_id, sender, client_version,
			status, total_tx, succeeded, failed, custom_name, is_favorite)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt, run.CompletedAt, run.RPCURL, run.ChainID, run.Sender,
		nullString(run.ClientVersion), run.Status, run.TotalTx, run.Succeeded, run.Failed,
		nullStringPtr(run.CustomName), boolInt(run.IsFavorite))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO scenario_results (suite_run_id, position, report_key, scenario, state,
			total_tx, succeeded, failed, tps, avg_confirmation_ms, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, res := range run.Results {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		reportJSON, err := json.Marshal(res.Report)
		if err != nil {
			return fmt.Errorf("failed to marshal %s report: %w", res.Key, err)
		}
		r := res.Report
		_, err = stmt.ExecContext(ctx, run.ID, i, res.Key, string(r.Scenario), string(r.State),
			r.Stats.TotalTx, r.Stats.Succeeded, r.Stats.Failed, r.TPS, r.Stats.AvgConfirmationTime,
			string(reportJSON))
		if err != nil {
			return fmt.Errorf("insert %s result: %w", res.Key, err)
		}
	}

	return tx.Commit()
}

const runColumns = `id, started_at, completed_at, rpc_url, COALESCE(chain_id, 0), sender, client_version,
	status, COALESCE(total_tx, 0), COALESCE(succeeded, 0), COALESCE(failed, 0),
	custom_name, COALESCE(is_favorite, 0)`

// GetRun retrieves a run and its results by ID. It returns nil, nil when
// the run does not exist.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*SuiteRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM suite_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT report_key, report
		FROM scenario_results
		WHERE suite_run_id = ?
		ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var res ScenarioResult
		var reportJSON string
		if err := rows.Scan(&res.Key, &reportJSON); err != nil {
			return nil, err
		}
		unmarshalJSON(reportJSON, &res.Report, "report", id)
		run.Results = append(run.Results, res)
	}
	return run, rows.Err()
}

// ListRuns returns a paginated list of runs, favorites first, then newest
// first. Results are not loaded.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit, offset int) (*PaginatedRuns, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM suite_runs").Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+`
		FROM suite_runs
		ORDER BY is_favorite DESC, started_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []SuiteRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &PaginatedRuns{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}

// DeleteRun deletes a run and its scenario results.
func (s *SQLiteStorage) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM suite_runs WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireAffected(result, id)
}

// UpdateRunMetadata updates the custom name and/or favorite status of a run.
func (s *SQLiteStorage) UpdateRunMetadata(ctx context.Context, id string, update *RunMetadataUpdate) error {
	var updates []string
	var args []interface{}

	if update.CustomName != nil {
		updates = append(updates, "custom_name = ?")
		args = append(args, nullString(*update.CustomName))
	}
	if update.IsFavorite != nil {
		updates = append(updates, "is_favorite = ?")
		args = append(args, boolInt(*update.IsFavorite))
	}

	if len(updates) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE suite_runs SET %s WHERE id = ?", strings.Join(updates, ", "))

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return requireAffected(result, id)
}

func requireAffected(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*SuiteRun, error) {
	var run SuiteRun
	var clientVersion, customName sql.NullString
	var isFavorite int

	err := sc.Scan(&run.ID, &run.StartedAt, &run.CompletedAt, &run.RPCURL, &run.ChainID, &run.Sender,
		&clientVersion, &run.Status, &run.TotalTx, &run.Succeeded, &run.Failed,
		&customName, &isFavorite)
	if err != nil {
		return nil, err
	}

	if clientVersion.Valid {
		run.ClientVersion = clientVersion.String
	}
	if customName.Valid {
		run.CustomName = &customName.String
	}
	run.IsFavorite = isFavorite == 1
	return &run, nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func nullStringPtr(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return nullString(*v)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
