package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    name TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    source TEXT,
    mime_type TEXT NOT NULL,
    image BLOB NOT NULL,
    layers_json TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS ai_calls (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id TEXT,
    provider TEXT NOT NULL,
    model TEXT NOT NULL,
    operation TEXT NOT NULL,
    success INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE SET NULL
);

CREATE INDEX IF NOT EXISTS idx_projects_updated_at ON projects(updated_at);
CREATE INDEX IF NOT EXISTS idx_ai_calls_timestamp ON ai_calls(timestamp);
CREATE INDEX IF NOT EXISTS idx_ai_calls_provider ON ai_calls(provider);
CREATE INDEX IF NOT EXISTS idx_ai_calls_operation ON ai_calls(operation);
`

type Store struct {
	db *sql.DB
}

func NewStore() (*Store, error) {
	dbPath, err := DefaultDBPath()
	if err != nil {
		return nil, err
	}
	return NewStoreWithPath(dbPath)
}

func NewStoreWithPath(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Store{db: db}, nil
}

// DefaultDBPath is ~/.memegen/projects.db.
func DefaultDBPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".memegen", "projects.db"), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateProject(ctx context.Context, p *Project) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, created_at, updated_at, source, mime_type, image, layers_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.CreatedAt, p.UpdatedAt, nullString(p.Source), p.MIMEType, p.Image, layersToJSON(p.Layers))
	return err
}

func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, updated_at, source, mime_type, image, layers_json
		 FROM projects WHERE id = ?`, id)

	p := &Project{}
	var name, source sql.NullString
	var layersJSON string
	err := row.Scan(&p.ID, &name, &p.CreatedAt, &p.UpdatedAt, &source, &p.MIMEType, &p.Image, &layersJSON)
	if err != nil {
		return nil, err
	}
	p.Name = name.String
	p.Source = source.String
	p.ImageBytes = len(p.Image)
	if p.Layers, err = parseLayers(layersJSON); err != nil {
		return nil, fmt.Errorf("failed to parse layers: %w", err)
	}
	return p, nil
}

func (s *Store) UpdateProject(ctx context.Context, p *Project) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name = ?, updated_at = ?, source = ?, mime_type = ?, image = ?, layers_json = ?
		 WHERE id = ?`,
		p.Name, p.UpdatedAt, nullString(p.Source), p.MIMEType, p.Image, layersToJSON(p.Layers), p.ID)
	return err
}

func (s *Store) RenameProject(ctx context.Context, id, name string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name = ?, updated_at = ? WHERE id = ?`, name, at, id)
	return err
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	return err
}

// ListProjects returns projects newest first, without image data.
func (s *Store) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at, updated_at, source, mime_type, length(image), layers_json
		 FROM projects ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p := &Project{}
		var name, source sql.NullString
		var layersJSON string
		if err := rows.Scan(&p.ID, &name, &p.CreatedAt, &p.UpdatedAt, &source, &p.MIMEType, &p.ImageBytes, &layersJSON); err != nil {
			return nil, err
		}
		p.Name = name.String
		p.Source = source.String
		if p.Layers, err = parseLayers(layersJSON); err != nil {
			return nil, fmt.Errorf("failed to parse layers: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func FormatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func (s *Store) LogCall(ctx context.Context, entry *CallEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_calls (project_id, provider, model, operation, success, duration_ms, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullString(entry.ProjectID), entry.Provider, entry.Model, entry.Operation,
		entry.Success, entry.Duration.Milliseconds(), entry.Timestamp)
	return err
}

// SummarizeCalls totals calls with timestamps in [start, end).
func (s *Store) SummarizeCalls(ctx context.Context, start, end time.Time) (*CallSummary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0), COALESCE(SUM(duration_ms), 0)
		 FROM ai_calls WHERE timestamp >= ? AND timestamp < ?`,
		start, end)

	var summary CallSummary
	var ms int64
	if err := row.Scan(&summary.Calls, &summary.Failures, &ms); err != nil {
		return nil, err
	}
	summary.TotalDuration = time.Duration(ms) * time.Millisecond
	return &summary, nil
}

// SummarizeCallsBy groups calls in [start, end) by "provider" or "operation".
func (s *Store) SummarizeCallsBy(ctx context.Context, column string, start, end time.Time) ([]GroupSummary, error) {
	if column != "provider" && column != "operation" {
		return nil, fmt.Errorf("unsupported grouping: %s", column)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+column+`, COUNT(*), COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0), COALESCE(SUM(duration_ms), 0)
		 FROM ai_calls WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY `+column+` ORDER BY `+column,
		start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []GroupSummary
	for rows.Next() {
		var gs GroupSummary
		var ms int64
		if err := rows.Scan(&gs.Key, &gs.Calls, &gs.Failures, &ms); err != nil {
			return nil, err
		}
		gs.TotalDuration = time.Duration(ms) * time.Millisecond
		summaries = append(summaries, gs)
	}
	return summaries, rows.Err()
}
