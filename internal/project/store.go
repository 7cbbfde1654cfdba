package project

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/manivault/mvcore/internal/database"
	"github.com/manivault/mvcore/internal/mverr"
)

// DefaultRevisions is how many previous bodies are kept per project
const DefaultRevisions = 10

// Store persists projects in SQLite and exchanges them as JSON files
type Store struct {
	db        *database.DB
	dir       string
	revisions int
	logger    *slog.Logger
}

// NewStore creates a store over a migrated database. dir is where project
// files are exported to and imported from by name.
func NewStore(db *database.DB, dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:        db,
		dir:       dir,
		revisions: DefaultRevisions,
		logger:    logger.With("component", "project-store"),
	}
}

// SetRevisions changes how many previous bodies are kept; 0 keeps none
func (s *Store) SetRevisions(n int) {
	if n < 0 {
		n = 0
	}
	s.revisions = n
}

// Save inserts or replaces the project. The previous body of an existing
// project is kept as a revision.
func (s *Store) Save(ctx context.Context, p *Project) error {
	if err := ValidateName(p.Name); err != nil {
		return err
	}
	body, err := json.Marshal(p.Body)
	if err != nil {
		return mverr.Wrap(mverr.CodeInvalidArgument, err, "failed to encode project %s", p.Name)
	}

	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	err = s.db.Transaction(ctx, func(tx *sql.Tx) error {
		var previous string
		err := tx.QueryRowContext(ctx, "SELECT body FROM projects WHERE name = ?", p.Name).Scan(&previous)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		case s.revisions > 0:
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO project_revisions (project, body, saved_at) VALUES (?, ?, ?)",
				p.Name, previous, now.Unix(),
			); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM project_revisions
				WHERE project = ? AND id NOT IN (
					SELECT id FROM project_revisions WHERE project = ? ORDER BY id DESC LIMIT ?
				)
			`, p.Name, p.Name, s.revisions); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO projects (name, title, description, body, dataset_count, plugin_count, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				title = excluded.title,
				description = excluded.description,
				body = excluded.body,
				dataset_count = excluded.dataset_count,
				plugin_count = excluded.plugin_count,
				updated_at = excluded.updated_at
		`,
			p.Name, p.Title, p.Description, string(body),
			p.DatasetCount, p.PluginCount, p.CreatedAt.Unix(), p.UpdatedAt.Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save project %s: %w", p.Name, err)
	}

	s.logger.Info("Project saved", "name", p.Name, "datasets", p.DatasetCount, "plugins", p.PluginCount)
	return nil
}

// Get loads a project by name
func (s *Store) Get(ctx context.Context, name string) (*Project, error) {
	p := &Project{}
	var body string
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, `
		SELECT name, title, description, body, dataset_count, plugin_count, created_at, updated_at
		FROM projects WHERE name = ?
	`, name).Scan(
		&p.Name, &p.Title, &p.Description, &body,
		&p.DatasetCount, &p.PluginCount, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mverr.New(mverr.CodeNotFound, "project %q not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project %s: %w", name, err)
	}

	if err := json.Unmarshal([]byte(body), &p.Body); err != nil {
		return nil, mverr.Wrap(mverr.CodeInternal, err, "project %s has a corrupt body", name)
	}
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return p, nil
}

// List returns every project, most recently updated first
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, title, description, dataset_count, plugin_count, created_at, updated_at
		FROM projects ORDER BY updated_at DESC, name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var createdAt, updatedAt int64
		if err := rows.Scan(&sum.Name, &sum.Title, &sum.Description,
			&sum.DatasetCount, &sum.PluginCount, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		sum.CreatedAt = time.Unix(createdAt, 0)
		sum.UpdatedAt = time.Unix(updatedAt, 0)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete removes a project and its revisions
func (s *Store) Delete(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM projects WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete project %s: %w", name, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return mverr.New(mverr.CodeNotFound, "project %q not found", name)
	}
	s.logger.Info("Project deleted", "name", name)
	return nil
}

// Revisions returns the saved times of the kept revisions, newest first
func (s *Store) Revisions(ctx context.Context, name string) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT saved_at FROM project_revisions WHERE project = ? ORDER BY id DESC", name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var at int64
		if err := rows.Scan(&at); err != nil {
			return nil, err
		}
		out = append(out, time.Unix(at, 0))
	}
	return out, rows.Err()
}

// Rollback replaces the project body with its newest revision
func (s *Store) Rollback(ctx context.Context, name string) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		var id int64
		var body string
		err := tx.QueryRowContext(ctx,
			"SELECT id, body FROM project_revisions WHERE project = ? ORDER BY id DESC LIMIT 1", name,
		).Scan(&id, &body)
		if errors.Is(err, sql.ErrNoRows) {
			return mverr.New(mverr.CodeNotFound, "project %q has no revisions", name)
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE projects SET body = ?, updated_at = ? WHERE name = ?",
			body, time.Now().Unix(), name,
		); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM project_revisions WHERE id = ?", id)
		return err
	})
}

// FilePath returns where the project named name is exported to
func (s *Store) FilePath(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Export writes the stored project to its file in the project directory
func (s *Store) Export(ctx context.Context, name string) (string, error) {
	p, err := s.Get(ctx, name)
	if err != nil {
		return "", err
	}
	path := s.FilePath(name)
	if err := WriteFile(path, p); err != nil {
		return "", err
	}
	s.logger.Info("Project exported", "name", name, "path", path)
	return path, nil
}

// Import reads a project file and saves it under the name it carries
func (s *Store) Import(ctx context.Context, path string) (*Project, error) {
	p, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := s.Save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// WriteFile writes p as indented JSON, atomically
func WriteFile(path string, p *Project) error {
	out, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode project: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0644); err != nil {
		return fmt.Errorf("failed to write project file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to move project file into place: %w", err)
	}
	return nil
}

// ReadFile reads a project written by WriteFile
func ReadFile(path string) (*Project, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, mverr.Wrap(mverr.CodeNotFound, err, "project file %s not found", path)
		}
		return nil, fmt.Errorf("failed to read project file: %w", err)
	}
	var p Project
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, mverr.Wrap(mverr.CodeInvalidArgument, err, "invalid project file %s", path)
	}
	if err := ValidateName(p.Name); err != nil {
		return nil, err
	}
	if p.Body == nil {
		return nil, mverr.New(mverr.CodeInvalidArgument, "project file %s has no body", path)
	}
	return &p, nil
}
