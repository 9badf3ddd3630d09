package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CurrentSchemaVersion tracks the database schema version
const CurrentSchemaVersion = "1.1.0"

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{Version: "1.0.0", Up: migrationV1Up, Down: migrationV1Down},
	{Version: "1.1.0", Up: migrationV11Up, Down: migrationV11Down},
}

// The vector column has no fixed dimension so a provider switch does not
// need a schema change; queries filter on vector_dims instead.
const migrationV1Up = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS posts (
    id TEXT PRIMARY KEY,
    post_type TEXT NOT NULL CHECK (post_type IN ('Lost', 'Found')),
    item_name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    image_urls TEXT[] NOT NULL DEFAULT '{}',
    latitude DOUBLE PRECISION,
    longitude DOUBLE PRECISION,
    external_place_id TEXT,
    display_address TEXT,
    event_time TIMESTAMPTZ NOT NULL,
    author_id TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    content_embedding vector,
    content_hash TEXT,
    embedding_status TEXT NOT NULL DEFAULT 'Pending'
        CHECK (embedding_status IN ('Pending', 'Processing', 'Ready', 'Failed')),
    embedding_error TEXT NOT NULL DEFAULT '',
    deleted_at TIMESTAMPTZ,
    CHECK ((latitude IS NULL) = (longitude IS NULL)),
    CHECK ((latitude IS NULL) = (external_place_id IS NULL)),
    CHECK ((latitude IS NULL) = (display_address IS NULL)),
    CHECK ((content_hash IS NULL) = (content_embedding IS NULL)),
    CHECK (embedding_status <> 'Ready' OR content_embedding IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_posts_live_created ON posts(created_at DESC, id) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_posts_type ON posts(post_type) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_posts_author ON posts(author_id);
CREATE INDEX IF NOT EXISTS idx_posts_status ON posts(embedding_status, created_at);
`

const migrationV1Down = `
DROP TABLE IF EXISTS posts;
DROP TABLE IF EXISTS schema_version;
`

// Content and embedding versions let the sweep find Ready posts edited since
// their embedding was saved. Existing Ready posts start unconfirmed and are
// checked once by the next sweep.
const migrationV11Up = `
ALTER TABLE posts ADD COLUMN IF NOT EXISTS content_version BIGINT NOT NULL DEFAULT 1;
ALTER TABLE posts ADD COLUMN IF NOT EXISTS embedded_version BIGINT NOT NULL DEFAULT 0;
ALTER TABLE posts ADD COLUMN IF NOT EXISTS embedding_updated_at TIMESTAMPTZ;
UPDATE posts SET embedding_updated_at = updated_at WHERE embedding_updated_at IS NULL;
ALTER TABLE posts ALTER COLUMN embedding_updated_at SET NOT NULL;
`

const migrationV11Down = `
ALTER TABLE posts DROP COLUMN IF EXISTS embedding_updated_at;
ALTER TABLE posts DROP COLUMN IF EXISTS embedded_version;
ALTER TABLE posts DROP COLUMN IF EXISTS content_version;
`

func currentVersion(ctx context.Context, pool *pgxpool.Pool) (*semver.Version, error) {
	var exists bool
	if err := pool.QueryRow(ctx, "SELECT to_regclass('schema_version') IS NOT NULL").Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}
	current := semver.MustParse("0.0.0")
	if !exists {
		return current, nil
	}

	rows, err := pool.Query(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	for _, raw := range versions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid current schema version %s: %w", raw, err)
		}
		if v.GreaterThan(current) {
			current = v
		}
	}
	return current, nil
}

// ApplyMigrations runs all pending migrations
func ApplyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	current, err := currentVersion(ctx, pool)
	if err != nil {
		return err
	}

	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}
		if !current.LessThan(migrationVersion) {
			continue
		}

		err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, migration.Up); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_version (version) VALUES ($1)", migration.Version)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
		current = migrationVersion
	}
	return nil
}
