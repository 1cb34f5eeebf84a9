package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gachahub/gachahub/dbopen"
)

const configColumns = `id, site_name, site_url, cron_expression, is_enabled,
	last_scraped_at, created_at, updated_at`

// InsertConfig adds a new site configuration. site_name is UNIQUE; a
// violation surfaces to the caller for mapping to a duplicate error.
func (s *Store) InsertConfig(ctx context.Context, c *SiteConfig) error {
	now := time.Now().UnixMilli()
	if c.CreatedAt == 0 {
		c.CreatedAt = now
	}
	if c.UpdatedAt == 0 {
		c.UpdatedAt = now
	}

	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO scrape_configs (id, site_name, site_url, cron_expression,
		is_enabled, last_scraped_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SiteName, c.SiteURL, c.CronExpression,
		c.IsEnabled, c.LastScrapedAt, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

// GetConfig retrieves a site configuration by ID, or nil if absent.
func (s *Store) GetConfig(ctx context.Context, id string) (*SiteConfig, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM scrape_configs WHERE id = ?`, id)
	return scanConfig(row)
}

// GetConfigBySiteName retrieves a site configuration by site name, or nil.
func (s *Store) GetConfigBySiteName(ctx context.Context, siteName string) (*SiteConfig, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM scrape_configs WHERE site_name = ?`, siteName)
	return scanConfig(row)
}

// ListConfigs returns all site configurations, oldest first.
func (s *Store) ListConfigs(ctx context.Context) ([]*SiteConfig, error) {
	return s.listConfigs(ctx,
		`SELECT `+configColumns+` FROM scrape_configs ORDER BY created_at ASC`)
}

// ListEnabledConfigs returns configurations the scheduler should run.
func (s *Store) ListEnabledConfigs(ctx context.Context) ([]*SiteConfig, error) {
	return s.listConfigs(ctx,
		`SELECT `+configColumns+` FROM scrape_configs WHERE is_enabled = 1 ORDER BY created_at ASC`)
}

func (s *Store) listConfigs(ctx context.Context, query string) ([]*SiteConfig, error) {
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*SiteConfig
	for rows.Next() {
		c, err := scanConfigRows(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// UpdateConfig updates a configuration's mutable fields.
func (s *Store) UpdateConfig(ctx context.Context, c *SiteConfig) error {
	c.UpdatedAt = time.Now().UnixMilli()
	_, err := dbopen.Exec(ctx, s.DB,
		`UPDATE scrape_configs SET site_url=?, cron_expression=?, is_enabled=?, updated_at=?
		WHERE id=?`,
		c.SiteURL, c.CronExpression, c.IsEnabled, c.UpdatedAt, c.ID,
	)
	return err
}

// DeleteConfig removes a site configuration.
func (s *Store) DeleteConfig(ctx context.Context, id string) error {
	_, err := dbopen.Exec(ctx, s.DB, `DELETE FROM scrape_configs WHERE id = ?`, id)
	return err
}

// StampLastScraped records the completion time of a run for the site.
func (s *Store) StampLastScraped(ctx context.Context, siteName string, at int64) error {
	_, err := dbopen.Exec(ctx, s.DB,
		`UPDATE scrape_configs SET last_scraped_at=?, updated_at=? WHERE site_name=?`,
		at, time.Now().UnixMilli(), siteName)
	return err
}

func scanConfig(row *sql.Row) (*SiteConfig, error) {
	var c SiteConfig
	var enabled int
	err := row.Scan(
		&c.ID, &c.SiteName, &c.SiteURL, &c.CronExpression, &enabled,
		&c.LastScrapedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan config: %w", err)
	}
	c.IsEnabled = enabled != 0
	return &c, nil
}

func scanConfigRows(rows *sql.Rows) (*SiteConfig, error) {
	var c SiteConfig
	var enabled int
	err := rows.Scan(
		&c.ID, &c.SiteName, &c.SiteURL, &c.CronExpression, &enabled,
		&c.LastScrapedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan config: %w", err)
	}
	c.IsEnabled = enabled != 0
	return &c, nil
}
