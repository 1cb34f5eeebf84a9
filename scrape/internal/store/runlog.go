package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gachahub/gachahub/dbopen"
)

const logColumns = `id, target_site, status, products_found, new_count,
	error_message, duration_ms, executed_at`

// AppendRunLog records a completed scrape run. Logs are append-only:
// there is no update or delete path.
func (s *Store) AppendRunLog(ctx context.Context, l *RunLog) error {
	if l.ExecutedAt == 0 {
		l.ExecutedAt = time.Now().UnixMilli()
	}
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO scrape_logs (id, target_site, status, products_found,
		new_count, error_message, duration_ms, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.TargetSite, l.Status, l.ProductsFound,
		l.NewCount, l.ErrorMessage, l.DurationMS, l.ExecutedAt,
	)
	return err
}

// RecentRunLogs returns the most recent runs across all sites.
func (s *Store) RecentRunLogs(ctx context.Context, limit int) ([]*RunLog, error) {
	return s.listRunLogs(ctx,
		`SELECT `+logColumns+` FROM scrape_logs ORDER BY executed_at DESC, id DESC LIMIT ?`,
		limit)
}

// RunLogsBySite returns the most recent runs for one site.
func (s *Store) RunLogsBySite(ctx context.Context, site string, limit int) ([]*RunLog, error) {
	return s.listRunLogs(ctx,
		`SELECT `+logColumns+` FROM scrape_logs WHERE target_site = ?
		ORDER BY executed_at DESC, id DESC LIMIT ?`,
		site, limit)
}

// LatestRunLog returns the most recent run for one site, or nil.
func (s *Store) LatestRunLog(ctx context.Context, site string) (*RunLog, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+logColumns+` FROM scrape_logs WHERE target_site = ?
		ORDER BY executed_at DESC, id DESC LIMIT 1`, site)
	return scanRunLog(row)
}

func (s *Store) listRunLogs(ctx context.Context, query string, args ...any) ([]*RunLog, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*RunLog
	for rows.Next() {
		l, err := scanRunLogRows(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func scanRunLog(row *sql.Row) (*RunLog, error) {
	var l RunLog
	err := row.Scan(
		&l.ID, &l.TargetSite, &l.Status, &l.ProductsFound, &l.NewCount,
		&l.ErrorMessage, &l.DurationMS, &l.ExecutedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan run log: %w", err)
	}
	return &l, nil
}

func scanRunLogRows(rows *sql.Rows) (*RunLog, error) {
	var l RunLog
	err := rows.Scan(
		&l.ID, &l.TargetSite, &l.Status, &l.ProductsFound, &l.NewCount,
		&l.ErrorMessage, &l.DurationMS, &l.ExecutedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan run log: %w", err)
	}
	return &l, nil
}
