package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	_ "github.com/lib/pq"

	"github.com/tcmartin/pipelinestudio/pkg/models"
)

// PostgreSQLProvider implements Provider using PostgreSQL
type PostgreSQLProvider struct {
	db          *sql.DB
	runStore    *PostgreSQLRunStore
	presetStore *PostgreSQLPresetStore
}

// PostgreSQLProviderConfig contains configuration for the PostgreSQL provider
type PostgreSQLProviderConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// ConnString builds the lib/pq connection string, applying defaults
func (c PostgreSQLProviderConfig) ConnString() string {
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// NewPostgreSQLProvider connects to PostgreSQL and creates a provider
func NewPostgreSQLProvider(config PostgreSQLProviderConfig) (*PostgreSQLProvider, error) {
	db, err := sql.Open("postgres", config.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return NewPostgreSQLProviderWithDB(db), nil
}

// NewPostgreSQLProviderWithDB creates a provider over an open database handle
func NewPostgreSQLProviderWithDB(db *sql.DB) *PostgreSQLProvider {
	return &PostgreSQLProvider{
		db:          db,
		runStore:    &PostgreSQLRunStore{db: db},
		presetStore: &PostgreSQLPresetStore{db: db},
	}
}

// Initialize creates the tables if they don't exist
func (p *PostgreSQLProvider) Initialize() error {
	if err := p.runStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize run store: %w", err)
	}
	if err := p.presetStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize preset store: %w", err)
	}
	return nil
}

// Close cleans up resources
func (p *PostgreSQLProvider) Close() error {
	return p.db.Close()
}

// Runs returns the run store
func (p *PostgreSQLProvider) Runs() RunStore {
	return p.runStore
}

// Presets returns the preset store
func (p *PostgreSQLProvider) Presets() PresetStore {
	return p.presetStore
}

// PostgreSQLRunStore implements RunStore using PostgreSQL
type PostgreSQLRunStore struct {
	db *sql.DB
}

// Initialize creates the runs table
func (s *PostgreSQLRunStore) Initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			user_id TEXT,
			tenant_id TEXT,
			mode TEXT NOT NULL,
			status TEXT NOT NULL,
			route TEXT,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ,
			data JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS runs_start_time_idx ON runs (start_time DESC);
		CREATE INDEX IF NOT EXISTS runs_tenant_id_idx ON runs (tenant_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}
	return nil
}

// SaveRun inserts or replaces a run
func (s *PostgreSQLRunStore) SaveRun(run models.ExecutionRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	var endTime sql.NullTime
	if run.EndTime != nil {
		endTime = sql.NullTime{Time: *run.EndTime, Valid: true}
	}

	_, err = s.db.Exec(
		`INSERT INTO runs (id, user_id, tenant_id, mode, status, route, start_time, end_time, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			route = EXCLUDED.route,
			end_time = EXCLUDED.end_time,
			data = EXCLUDED.data`,
		run.ID, run.UserID, run.TenantID, string(run.Mode), string(run.Status), run.Route,
		run.StartTime, endTime, data,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRun retrieves a run
func (s *PostgreSQLRunStore) GetRun(runID string) (models.ExecutionRun, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM runs WHERE id = $1`, runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ExecutionRun{}, ErrNotFound
	}
	if err != nil {
		return models.ExecutionRun{}, fmt.Errorf("failed to get run: %w", err)
	}

	var run models.ExecutionRun
	if err := json.Unmarshal(data, &run); err != nil {
		return models.ExecutionRun{}, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first
func (s *PostgreSQLRunStore) ListRuns(limit int) ([]models.ExecutionRun, error) {
	query := `SELECT data FROM runs ORDER BY start_time DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.ExecutionRun
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		var run models.ExecutionRun
		if err := json.Unmarshal(data, &run); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// PostgreSQLPresetStore implements PresetStore using PostgreSQL
type PostgreSQLPresetStore struct {
	db *sql.DB
}

// Initialize creates the presets table
func (s *PostgreSQLPresetStore) Initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS presets (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			pipeline JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create presets table: %w", err)
	}
	return nil
}

// SavePreset inserts or replaces a preset
func (s *PostgreSQLPresetStore) SavePreset(preset models.Preset) error {
	pipeline, err := json.Marshal(preset.Pipeline)
	if err != nil {
		return fmt.Errorf("failed to marshal preset pipeline: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO presets (id, name, description, pipeline, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			pipeline = EXCLUDED.pipeline,
			updated_at = EXCLUDED.updated_at`,
		preset.ID, preset.Name, preset.Description, pipeline, preset.CreatedAt, preset.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save preset: %w", err)
	}
	return nil
}

// GetPreset retrieves a preset
func (s *PostgreSQLPresetStore) GetPreset(id string) (models.Preset, error) {
	row := s.db.QueryRow(
		`SELECT id, name, description, pipeline, created_at, updated_at FROM presets WHERE id = $1`, id)
	preset, err := scanPreset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Preset{}, ErrNotFound
	}
	return preset, err
}

// ListPresets returns all presets ordered by name
func (s *PostgreSQLPresetStore) ListPresets() ([]models.Preset, error) {
	rows, err := s.db.Query(
		`SELECT id, name, description, pipeline, created_at, updated_at FROM presets ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list presets: %w", err)
	}
	defer rows.Close()

	var presets []models.Preset
	for rows.Next() {
		preset, err := scanPreset(rows)
		if err != nil {
			return nil, err
		}
		presets = append(presets, preset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate presets: %w", err)
	}
	return presets, nil
}

// DeletePreset removes a preset
func (s *PostgreSQLPresetStore) DeletePreset(id string) error {
	result, err := s.db.Exec(`DELETE FROM presets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete preset: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPreset(row rowScanner) (models.Preset, error) {
	var preset models.Preset
	var description sql.NullString
	var pipeline []byte
	err := row.Scan(&preset.ID, &preset.Name, &description, &pipeline, &preset.CreatedAt, &preset.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Preset{}, err
		}
		return models.Preset{}, fmt.Errorf("failed to scan preset: %w", err)
	}
	preset.Description = description.String
	preset.CreatedAt = preset.CreatedAt.UTC()
	preset.UpdatedAt = preset.UpdatedAt.UTC()
	if err := json.Unmarshal(pipeline, &preset.Pipeline); err != nil {
		return models.Preset{}, fmt.Errorf("failed to unmarshal preset pipeline: %w", err)
	}
	return preset, nil
}
