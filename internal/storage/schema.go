// ABOUTME: SQLite schema definition and initialization.
// ABOUTME: Defines tables for categories, metric_definitions, and metric_values.
package storage

import "context"

// initSchema creates or updates the database schema.
func (d *DB) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		parent_id TEXT,
		sort_order INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (parent_id) REFERENCES categories(id) ON DELETE SET NULL
	);

	CREATE TABLE IF NOT EXISTS metric_definitions (
		id TEXT PRIMARY KEY,
		category_id TEXT NOT NULL,
		name TEXT NOT NULL,
		source_label TEXT NOT NULL DEFAULT 'manual',
		is_calculated INTEGER NOT NULL DEFAULT 0,
		formula TEXT,
		integration_type TEXT,
		integration_field TEXT,
		visible_in TEXT NOT NULL DEFAULT '[]',
		sort_order INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (category_id) REFERENCES categories(id)
	);

	CREATE TABLE IF NOT EXISTS metric_values (
		metric_id TEXT NOT NULL,
		period_date TEXT NOT NULL,
		value REAL,
		is_manual_override INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_by TEXT,
		PRIMARY KEY (metric_id, period_date),
		FOREIGN KEY (metric_id) REFERENCES metric_definitions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_metric_definitions_category ON metric_definitions(category_id);
	CREATE INDEX IF NOT EXISTS idx_metric_values_period ON metric_values(period_date);
	`

	_, err := d.db.ExecContext(ctx, schema)
	return err
}
