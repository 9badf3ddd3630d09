package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.2.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      migrationV11Up,
		Down:    migrationV11Down,
	},
	{
		Version: "1.2.0",
		Up:      migrationV12Up,
		Down:    migrationV12Down,
	},
}

// Times are stored as Unix nanoseconds so ordering is exact and
// driver-independent.
const migrationV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Posts table
CREATE TABLE IF NOT EXISTS posts (
    id TEXT PRIMARY KEY,
    post_type TEXT NOT NULL CHECK (post_type IN ('Lost', 'Found')),
    item_name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    image_urls TEXT NOT NULL DEFAULT '[]',
    latitude REAL,
    longitude REAL,
    external_place_id TEXT,
    display_address TEXT,
    event_time INTEGER NOT NULL,
    author_id TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    content_embedding BLOB,
    content_hash TEXT,
    embedding_status TEXT NOT NULL DEFAULT 'Pending'
        CHECK (embedding_status IN ('Pending', 'Processing', 'Ready', 'Failed')),
    embedding_error TEXT NOT NULL DEFAULT '',
    deleted_at INTEGER,
    CHECK ((latitude IS NULL) = (longitude IS NULL)
       AND (latitude IS NULL) = (external_place_id IS NULL)
       AND (latitude IS NULL) = (display_address IS NULL)),
    CHECK ((content_hash IS NULL) = (content_embedding IS NULL)),
    CHECK (embedding_status <> 'Ready' OR content_embedding IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_posts_created ON posts(created_at DESC, id);
CREATE INDEX IF NOT EXISTS idx_posts_type_created ON posts(post_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_posts_author ON posts(author_id);
CREATE INDEX IF NOT EXISTS idx_posts_status ON posts(embedding_status);
CREATE INDEX IF NOT EXISTS idx_posts_location ON posts(latitude, longitude);
`

const migrationV1Down = `
DROP TABLE IF EXISTS posts;
DROP TABLE IF EXISTS schema_version;
`

// Lower-cased copies of the searchable text. SQLite's LIKE and lower() only
// fold ASCII, so folding happens in Go on write.
const migrationV11Up = `
ALTER TABLE posts ADD COLUMN item_name_folded TEXT NOT NULL DEFAULT '';
ALTER TABLE posts ADD COLUMN description_folded TEXT NOT NULL DEFAULT '';
UPDATE posts SET item_name_folded = lower(item_name), description_folded = lower(description);
`

const migrationV11Down = `
ALTER TABLE posts DROP COLUMN description_folded;
ALTER TABLE posts DROP COLUMN item_name_folded;
`

// Content and embedding versions let the sweep find Ready posts edited since
// their embedding was saved. Existing Ready posts start unconfirmed, so the
// next sweep checks their hash once; matching ones are confirmed without a
// provider call.
const migrationV12Up = `
ALTER TABLE posts ADD COLUMN content_version INTEGER NOT NULL DEFAULT 1;
ALTER TABLE posts ADD COLUMN embedded_version INTEGER NOT NULL DEFAULT 0;
ALTER TABLE posts ADD COLUMN embedding_updated_at INTEGER NOT NULL DEFAULT 0;
UPDATE posts SET embedding_updated_at = updated_at;
`

const migrationV12Down = `
ALTER TABLE posts DROP COLUMN embedding_updated_at;
ALTER TABLE posts DROP COLUMN embedded_version;
ALTER TABLE posts DROP COLUMN content_version;
`

// currentVersion returns the highest applied schema version, or 0.0.0
func currentVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	// applied_at has second resolution, so compare versions instead of timestamps
	current := semver.MustParse("0.0.0")
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid current schema version %s: %w", raw, err)
		}
		if v.GreaterThan(current) {
			current = v
		}
	}
	return current, rows.Err()
}

// ApplyMigrations runs all pending migrations
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !current.LessThan(migrationVersion) {
			continue // Already applied
		}

		if err := runMigration(ctx, db, migration.Up, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
		current = migrationVersion
	}

	return nil
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}
	if current.Equal(semver.MustParse("0.0.0")) {
		return fmt.Errorf("no migrations to rollback")
	}

	var migration *Migration
	for i := range AllMigrations {
		v, err := semver.NewVersion(AllMigrations[i].Version)
		if err == nil && v.Equal(current) {
			migration = &AllMigrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", current)
	}

	// The first migration drops schema_version itself
	record := "DELETE FROM schema_version WHERE version = ?"
	if migration == &AllMigrations[0] {
		record = ""
	}
	if err := runMigration(ctx, db, migration.Down, record, migration.Version); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
	}
	return nil
}

// runMigration executes a script and its version bookkeeping in one transaction
func runMigration(ctx context.Context, db *sql.DB, script, record, version string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if record != "" {
		if _, err := tx.ExecContext(ctx, record, version); err != nil {
			return err
		}
	}
	return tx.Commit()
}
