package scrape

import (
	"database/sql"

	"github.com/gachahub/gachahub/scrape/internal/adapter"
	"github.com/gachahub/gachahub/scrape/internal/store"
)

// Site names of the built-in adapters.
const (
	SiteBandai     = string(adapter.SiteBandai)
	SiteTakaraTomy = string(adapter.SiteTakaraTomy)
)

// Schema is the DDL for the scrape engine tables (products,
// scrape_configs, scrape_logs).
const Schema = store.Schema

// ApplySchema creates the scrape engine tables.
func ApplySchema(db *sql.DB) error {
	return store.ApplySchema(db)
}

// NewStore opens the scrape storage layer over an existing database.
func NewStore(db *sql.DB) *store.Store {
	return store.NewStore(db)
}
