package scrape

import "github.com/gachahub/gachahub/scrape/internal/store"

// Re-exported storage types forming the service's public vocabulary.
type (
	Product      = store.Product
	ProductQuery = store.ProductQuery
	ProductPage  = store.ProductPage
	SiteConfig   = store.SiteConfig
	RunLog       = store.RunLog
)

// Run log statuses.
const (
	StatusSuccess = store.StatusSuccess
	StatusFailure = store.StatusFailure
)

// TriggerResult is the immediate response to a manual scrape trigger.
type TriggerResult struct {
	Status        string `json:"status"`
	Site          string `json:"site"`
	TotalProducts int    `json:"totalProducts"`
	NewProducts   int    `json:"newProducts"`
	Message       string `json:"message"`
}

// ScrapeStatus is the engine overview served to the admin dashboard:
// whether the engine accepts triggers, which site names it can scrape,
// and when the newest run happened.
type ScrapeStatus struct {
	Available      bool          `json:"available"`
	SupportedSites []string      `json:"supportedSites"`
	LastExecution  *int64        `json:"lastExecution"`
	LastStatus     string        `json:"lastStatus,omitempty"`
	Sites          []*SiteStatus `json:"sites"`
}

// SiteStatus is one site's entry in the status overview.
type SiteStatus struct {
	SiteName  string  `json:"siteName"`
	Enabled   bool    `json:"enabled"`
	Scheduled bool    `json:"scheduled"`
	Running   bool    `json:"running"`
	LastRun   *RunLog `json:"lastRun,omitempty"`
}

// ConfigInput carries caller-supplied fields for config create/update.
type ConfigInput struct {
	SiteName       string `json:"siteName"`
	SiteURL        string `json:"siteUrl"`
	CronExpression string `json:"cronExpression"`
	IsEnabled      bool   `json:"isEnabled"`
}
