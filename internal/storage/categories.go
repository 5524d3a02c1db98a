// ABOUTME: Category CRUD operations for SQLite storage.
// ABOUTME: Categories resolve by full ID, ID prefix, or slug.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/kpi/internal/models"
)

// CreateCategory stores a new category.
func (d *DB) CreateCategory(ctx context.Context, c *models.Category) error {
	var parent sql.NullString
	if c.ParentID != nil {
		parent = sql.NullString{String: c.ParentID.String(), Valid: true}
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO categories (id, slug, name, parent_id, sort_order, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.Slug, c.Name, parent, c.SortOrder, c.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("create category: %w", err)
	}
	return nil
}

// GetCategory retrieves a category by ID, ID prefix, or slug.
func (d *DB) GetCategory(ctx context.Context, idOrSlug string) (*models.Category, error) {
	const cols = `SELECT id, slug, name, parent_id, sort_order, created_at FROM categories`

	c, err := d.scanCategory(d.db.QueryRowContext(ctx, cols+` WHERE slug = ?`, idOrSlug))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	id, err := d.resolveID(ctx, "categories", idOrSlug)
	if err != nil {
		return nil, err
	}
	return d.scanCategory(d.db.QueryRowContext(ctx, cols+` WHERE id = ?`, id))
}

// ListCategories returns every category ordered by sort order then name.
func (d *DB) ListCategories(ctx context.Context) ([]*models.Category, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, slug, name, parent_id, sort_order, created_at
		FROM categories
		ORDER BY sort_order, name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []*models.Category
	for rows.Next() {
		c, err := d.scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (d *DB) scanCategory(row rowScanner) (*models.Category, error) {
	var c models.Category
	var idStr, createdAt string
	var parent sql.NullString

	if err := row.Scan(&idStr, &c.Slug, &c.Name, &parent, &c.SortOrder, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan category: %w", err)
	}
	c.ID, _ = uuid.Parse(idStr)
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if parent.Valid {
		if pid, err := uuid.Parse(parent.String); err == nil {
			c.ParentID = &pid
		}
	}
	return &c, nil
}

// resolveID finds the full ID in table from a full ID or prefix.
func (d *DB) resolveID(ctx context.Context, table, idOrPrefix string) (string, error) {
	if isFullUUID(idOrPrefix) {
		return idOrPrefix, nil
	}
	if idOrPrefix == "" {
		return "", fmt.Errorf("%w: empty reference", ErrNotFound)
	}

	rows, err := d.db.QueryContext(ctx, `SELECT id FROM `+table+` WHERE id LIKE ? || '%'`, idOrPrefix)
	if err != nil {
		return "", fmt.Errorf("resolve ID: %w", err)
	}
	defer rows.Close()

	var matches []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("scan ID: %w", err)
		}
		matches = append(matches, id)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("resolve ID: %w", err)
	}

	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, idOrPrefix)
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("%w %s: matches multiple records", ErrAmbiguousPrefix, idOrPrefix)
	}
	return matches[0], nil
}
