package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/gachahub/gachahub/scrape"
	"gopkg.in/yaml.v3"
)

type seedSite struct {
	SiteName       string `yaml:"siteName"`
	SiteURL        string `yaml:"siteUrl"`
	CronExpression string `yaml:"cronExpression"`
	IsEnabled      *bool  `yaml:"isEnabled"`
}

type seedDoc struct {
	Sites []seedSite `yaml:"sites"`
}

// defaultSeeds schedules the built-in sites every morning, staggered so
// the two manufacturers are never fetched at the same time.
func defaultSeeds() []seedSite {
	return []seedSite{
		{SiteName: scrape.SiteBandai, CronExpression: "0 0 9 * * *"},
		{SiteName: scrape.SiteTakaraTomy, CronExpression: "0 30 9 * * *"},
	}
}

// seedConfigs creates missing site configs. Sites that already have a
// config are left untouched, so operator edits survive restarts.
func seedConfigs(ctx context.Context, svc *scrape.Service, seedFile string) error {
	seeds := defaultSeeds()
	if seedFile != "" {
		data, err := os.ReadFile(seedFile)
		if err != nil {
			return fmt.Errorf("read seed file: %w", err)
		}
		var doc seedDoc
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse seed file: %w", err)
		}
		seeds = doc.Sites
	}

	existing, err := svc.ListConfigs(ctx)
	if err != nil {
		return err
	}
	configured := make(map[string]bool, len(existing))
	for _, cfg := range existing {
		configured[cfg.SiteName] = true
	}

	for _, s := range seeds {
		if configured[s.SiteName] {
			continue
		}
		enabled := true
		if s.IsEnabled != nil {
			enabled = *s.IsEnabled
		}
		_, err := svc.CreateConfig(ctx, &scrape.ConfigInput{
			SiteName:       s.SiteName,
			SiteURL:        s.SiteURL,
			CronExpression: s.CronExpression,
			IsEnabled:      enabled,
		})
		if errors.Is(err, scrape.ErrDuplicateConfig) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed config %s: %w", s.SiteName, err)
		}
		slog.Info("seeded site config", "site", s.SiteName, "cron", s.CronExpression)
	}
	return nil
}
