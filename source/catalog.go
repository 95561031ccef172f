package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is swapped in tests.
var openDB = sql.Open

const catalogSchema = `
CREATE TABLE IF NOT EXISTS templates (
	name        TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT '',
	content     TEXT NOT NULL,
	variables   TEXT NOT NULL DEFAULT '[]',
	updated_at  TEXT NOT NULL
)`

// Catalog is the community template store, kept in a SQLite database.
type Catalog struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// OpenCatalog opens (creating if needed) the catalog at path.
func OpenCatalog(ctx context.Context, path string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("catalog: %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, catalogSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: migrate: %w", err)
	}
	return &Catalog{db: db, path: path, logger: logger}, nil
}

func (c *Catalog) Name() string { return string(KindCommunity) }

// Produce looks name up in the catalog.
func (c *Catalog) Produce(ctx context.Context, name string) (Template, error) {
	var (
		t    Template
		vars string
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT name, description, content, variables FROM templates WHERE name = ?`, name,
	).Scan(&t.Name, &t.Description, &t.Content, &vars)
	if errors.Is(err, sql.ErrNoRows) {
		return Template{}, skip("catalog", name)
	}
	if err != nil {
		return Template{}, fmt.Errorf("catalog: get %q: %w", name, err)
	}
	if err := json.Unmarshal([]byte(vars), &t.Variables); err != nil {
		return Template{}, fmt.Errorf("catalog: %q: bad variables: %w", name, err)
	}
	t.Kind = KindCommunity
	t.Origin = c.path
	return t, nil
}

// Put inserts or replaces a template.
func (c *Catalog) Put(ctx context.Context, t Template) error {
	if t.Name == "" {
		return errors.New("catalog: template name is required")
	}
	vars, err := json.Marshal(t.Variables)
	if err != nil {
		return fmt.Errorf("catalog: %q: %w", t.Name, err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO templates (name, description, content, variables, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			content     = excluded.content,
			variables   = excluded.variables,
			updated_at  = excluded.updated_at`,
		t.Name, t.Description, t.Content, string(vars), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("catalog: put %q: %w", t.Name, err)
	}
	c.logger.Debug("catalog: template stored", slog.String("key", t.Name))
	return nil
}

// Delete removes name and reports whether it existed.
func (c *Catalog) Delete(ctx context.Context, name string) (bool, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM templates WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("catalog: delete %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("catalog: delete %q: %w", name, err)
	}
	return n > 0, nil
}

// Names lists the stored template names in order.
func (c *Catalog) Names(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT name FROM templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("catalog: list: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Close closes the database.
func (c *Catalog) Close() error { return c.db.Close() }
