package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/gachahub/gachahub/dbopen"
)

const productColumns = `id, product_name, manufacturer, image_url, release_date,
	price, description, lineup_info, source_url, natural_key, is_new,
	created_at, updated_at`

// sortColumns whitelists the API sort keys against real column names.
var sortColumns = map[string]string{
	"createdAt":   "created_at",
	"updatedAt":   "updated_at",
	"releaseDate": "release_date",
	"price":       "price",
	"productName": "product_name",
}

// ProductQuery describes a paged product listing request.
type ProductQuery struct {
	Page         int    // zero-based
	Size         int
	Sort         string // API sort key, see sortColumns
	Direction    string // "asc" or "desc"
	Manufacturer string // exact match filter, empty = all
	Keyword      string // substring match on product_name, empty = all
}

// ProductPage is one page of products plus paging metadata.
type ProductPage struct {
	Content       []*Product `json:"content"`
	TotalElements int        `json:"totalElements"`
	TotalPages    int        `json:"totalPages"`
	CurrentPage   int        `json:"currentPage"`
	Size          int        `json:"size"`
	HasNext       bool       `json:"hasNext"`
	HasPrevious   bool       `json:"hasPrevious"`
}

// InsertProduct adds a newly discovered product. The natural key must be
// set by the caller; a UNIQUE violation means a concurrent run already
// inserted the same item.
func (s *Store) InsertProduct(ctx context.Context, p *Product) error {
	now := time.Now().UnixMilli()
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	if p.UpdatedAt == 0 {
		p.UpdatedAt = now
	}

	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO products (id, product_name, manufacturer, image_url, release_date,
		price, description, lineup_info, source_url, natural_key, is_new,
		created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Manufacturer, p.ImageURL, p.ReleaseDate,
		p.Price, p.Description, p.LineupInfo, p.SourceURL, p.NaturalKey, p.IsNew,
		p.CreatedAt, p.UpdatedAt,
	)
	return err
}

// GetProduct retrieves a product by ID, or nil if absent.
func (s *Store) GetProduct(ctx context.Context, id string) (*Product, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	return scanProduct(row)
}

// GetProductByKey retrieves a product by natural key, or nil if absent.
func (s *Store) GetProductByKey(ctx context.Context, key string) (*Product, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE natural_key = ?`, key)
	return scanProduct(row)
}

// UpdateProductFromScrape refreshes mutable fields of an existing product
// from a re-discovery. The is_new flag is deliberately left untouched:
// a restocked or re-listed item is not news.
func (s *Store) UpdateProductFromScrape(ctx context.Context, p *Product) error {
	p.UpdatedAt = time.Now().UnixMilli()
	_, err := dbopen.Exec(ctx, s.DB,
		`UPDATE products SET product_name=?, image_url=?, release_date=?,
		price=?, description=?, lineup_info=?, source_url=?, updated_at=?
		WHERE natural_key=?`,
		p.Name, p.ImageURL, p.ReleaseDate,
		p.Price, p.Description, p.LineupInfo, p.SourceURL, p.UpdatedAt,
		p.NaturalKey,
	)
	return err
}

// ListProducts returns one page of products matching the query.
// Unknown sort keys fall back to createdAt; direction defaults to desc.
func (s *Store) ListProducts(ctx context.Context, q ProductQuery) (*ProductPage, error) {
	if q.Size <= 0 {
		q.Size = 20
	}
	if q.Page < 0 {
		q.Page = 0
	}
	col, ok := sortColumns[q.Sort]
	if !ok {
		col = "created_at"
	}
	dir := "DESC"
	if strings.EqualFold(q.Direction, "asc") {
		dir = "ASC"
	}

	where := " WHERE 1=1"
	var args []any
	if q.Manufacturer != "" {
		where += " AND manufacturer = ?"
		args = append(args, q.Manufacturer)
	}
	if q.Keyword != "" {
		where += " AND product_name LIKE ?"
		args = append(args, "%"+q.Keyword+"%")
	}

	var total int
	if err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	query := `SELECT ` + productColumns + ` FROM products` + where +
		` ORDER BY ` + col + ` ` + dir + `, id ` + dir + ` LIMIT ? OFFSET ?`
	args = append(args, q.Size, q.Page*q.Size)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]*Product, 0, q.Size)
	for rows.Next() {
		p, err := scanProductRows(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	totalPages := (total + q.Size - 1) / q.Size
	return &ProductPage{
		Content:       products,
		TotalElements: total,
		TotalPages:    totalPages,
		CurrentPage:   q.Page,
		Size:          q.Size,
		HasNext:       q.Page+1 < totalPages,
		HasPrevious:   q.Page > 0,
	}, nil
}

// ListNewProducts returns products still flagged as new, newest first.
func (s *Store) ListNewProducts(ctx context.Context, limit int) ([]*Product, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE is_new = 1
		ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		p, err := scanProductRows(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// CountProducts returns the total number of stored products.
func (s *Store) CountProducts(ctx context.Context) (int, error) {
	var count int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&count)
	return count, err
}

// ResetStaleNewFlags clears is_new on products first seen more than maxAge
// ago. Returns the number of products touched.
func (s *Store) ResetStaleNewFlags(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	res, err := dbopen.Exec(ctx, s.DB,
		`UPDATE products SET is_new = 0, updated_at = ?
		WHERE is_new = 1 AND created_at < ?`,
		time.Now().UnixMilli(), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanProduct(row *sql.Row) (*Product, error) {
	var p Product
	var isNew int
	err := row.Scan(
		&p.ID, &p.Name, &p.Manufacturer, &p.ImageURL, &p.ReleaseDate,
		&p.Price, &p.Description, &p.LineupInfo, &p.SourceURL, &p.NaturalKey, &isNew,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan product: %w", err)
	}
	p.IsNew = isNew != 0
	return &p, nil
}

func scanProductRows(rows *sql.Rows) (*Product, error) {
	var p Product
	var isNew int
	err := rows.Scan(
		&p.ID, &p.Name, &p.Manufacturer, &p.ImageURL, &p.ReleaseDate,
		&p.Price, &p.Description, &p.LineupInfo, &p.SourceURL, &p.NaturalKey, &isNew,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan product: %w", err)
	}
	p.IsNew = isNew != 0
	return &p, nil
}
