package store

import "database/sql"

// ApplySchema creates the scrape engine tables if they don't exist.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Schema is the complete scrape engine schema.
const Schema = `
-- Products discovered by scrape runs. natural_key dedupes re-discoveries
-- of the same item across runs.
CREATE TABLE IF NOT EXISTS products (
    id            TEXT PRIMARY KEY,
    product_name  TEXT NOT NULL,
    manufacturer  TEXT NOT NULL,
    image_url     TEXT NOT NULL DEFAULT '',
    release_date  TEXT NOT NULL DEFAULT '',
    price         INTEGER,
    description   TEXT NOT NULL DEFAULT '',
    lineup_info   TEXT NOT NULL DEFAULT '',
    source_url    TEXT NOT NULL DEFAULT '',
    natural_key   TEXT NOT NULL UNIQUE,
    is_new        INTEGER NOT NULL DEFAULT 1,
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_products_manufacturer ON products(manufacturer);
CREATE INDEX IF NOT EXISTS idx_products_created ON products(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_products_is_new ON products(is_new, created_at);

-- Per-site scheduling configuration
CREATE TABLE IF NOT EXISTS scrape_configs (
    id              TEXT PRIMARY KEY,
    site_name       TEXT NOT NULL UNIQUE,
    site_url        TEXT NOT NULL,
    cron_expression TEXT NOT NULL,
    is_enabled      INTEGER NOT NULL DEFAULT 1,
    last_scraped_at INTEGER,
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL
);

-- Append-only run log
CREATE TABLE IF NOT EXISTS scrape_logs (
    id             TEXT PRIMARY KEY,
    target_site    TEXT NOT NULL,
    status         TEXT NOT NULL,
    products_found INTEGER NOT NULL DEFAULT 0,
    new_count      INTEGER NOT NULL DEFAULT 0,
    error_message  TEXT NOT NULL DEFAULT '',
    duration_ms    INTEGER NOT NULL DEFAULT 0,
    executed_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scrape_logs_time ON scrape_logs(executed_at DESC);
CREATE INDEX IF NOT EXISTS idx_scrape_logs_site ON scrape_logs(target_site, executed_at DESC);
`
