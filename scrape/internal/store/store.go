// Package store provides the data access layer for the scrape engine:
// products, site configs, and the append-only run log.
package store

import "database/sql"

// Store wraps the service database for scrape operations.
type Store struct {
	DB *sql.DB
}

// NewStore creates a Store from an already-opened database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Product is a gacha product discovered by a scrape run.
// ReleaseDate is "YYYY-MM-DD" or "" when the site did not announce one.
// Price is nil when no price could be extracted.
type Product struct {
	ID           string `json:"id"`
	Name         string `json:"productName"`
	Manufacturer string `json:"manufacturer"`
	ImageURL     string `json:"imageUrl"`
	ReleaseDate  string `json:"releaseDate,omitempty"`
	Price        *int   `json:"price,omitempty"`
	Description  string `json:"description"`
	LineupInfo   string `json:"lineupInfo,omitempty"`
	SourceURL    string `json:"sourceUrl"`
	NaturalKey   string `json:"-"`
	IsNew        bool   `json:"isNew"`
	CreatedAt    int64  `json:"createdAt"`
	UpdatedAt    int64  `json:"updatedAt"`
}

// SiteConfig is the scheduling configuration for one manufacturer site.
type SiteConfig struct {
	ID             string `json:"id"`
	SiteName       string `json:"siteName"`
	SiteURL        string `json:"siteUrl"`
	CronExpression string `json:"cronExpression"`
	IsEnabled      bool   `json:"isEnabled"`
	LastScrapedAt  *int64 `json:"lastScrapedAt,omitempty"`
	CreatedAt      int64  `json:"createdAt"`
	UpdatedAt      int64  `json:"updatedAt"`
}

// Run log statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// RunLog is one append-only record of a scrape run.
type RunLog struct {
	ID            string `json:"id"`
	TargetSite    string `json:"targetSite"`
	Status        string `json:"status"`
	ProductsFound int    `json:"productsFound"`
	NewCount      int    `json:"newCount"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
	DurationMS    int64  `json:"durationMs"`
	ExecutedAt    int64  `json:"executedAt"`
}
