package adapter

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/gocolly/colly/v2"
)

const (
	bandaiBaseURL     = "https://gashapon.jp"
	bandaiListURL     = bandaiBaseURL + "/shop/itemlist.php"
	bandaiDescription = "バンダイガシャポン公式サイトより"
)

var (
	reBandaiPriceTaxIn = regexp.MustCompile(`(\d+)円[（(]税込[）)]`)
	reBandaiPrice      = regexp.MustCompile(`(\d+)円`)
	reBandaiLineup     = regexp.MustCompile(`全(\d+)種`)
)

// Bandai scrapes the Bandai Gashapon official shop. The list page links to
// per-item detail pages (detail.php?jan_code=...); each detail page is
// fetched separately for the full record.
type Bandai struct {
	cfg Config
}

// NewBandai creates the Bandai Gashapon adapter.
func NewBandai(cfg Config) *Bandai {
	cfg.defaults()
	return &Bandai{cfg: cfg}
}

func (b *Bandai) Site() Site { return SiteBandai }

func (b *Bandai) DefaultURL() string { return bandaiListURL }

// FetchAndParse walks the list page, then visits up to MaxProducts detail
// pages. A list page failure returns a *FetchError; detail page failures
// are counted in Extraction.Skipped.
func (b *Bandai) FetchAndParse(ctx context.Context, target Target) (*Extraction, error) {
	listURL := target.URL
	if listURL == "" {
		listURL = b.DefaultURL()
	}

	host := hostOf(listURL, "gashapon.jp")
	list := newCollector(b.cfg, host)

	var (
		mu         sync.Mutex
		detailURLs []string
		seen       = map[string]bool{}
	)
	list.OnHTML("a[href]", func(e *colly.HTMLElement) {
		href := e.Attr("href")
		if !strings.Contains(href, "detail.php?jan_code=") {
			return
		}
		abs := e.Request.AbsoluteURL(href)
		mu.Lock()
		defer mu.Unlock()
		if !seen[abs] && len(detailURLs) < b.cfg.MaxProducts {
			seen[abs] = true
			detailURLs = append(detailURLs, abs)
		}
	})

	if err := list.Visit(listURL); err != nil {
		return nil, &FetchError{URL: listURL, Cause: err}
	}
	list.Wait()

	detail := list.Clone()
	out := &Extraction{}

	var current *RawProduct
	detail.OnHTML("html", func(e *colly.HTMLElement) {
		p := b.parseDetail(e)
		current = p
	})

	for _, u := range detailURLs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		current = nil
		if err := detail.Visit(u); err != nil {
			out.Skipped++
			continue
		}
		detail.Wait()
		if current == nil {
			out.Skipped++
			continue
		}
		out.Products = append(out.Products, *current)
	}
	return out, nil
}

// parseDetail extracts one product from a detail page. Returns nil when the
// page has no recognizable product name.
func (b *Bandai) parseDetail(e *colly.HTMLElement) *RawProduct {
	name := strings.TrimSpace(e.ChildText("h1"))
	if name == "" {
		name = strings.TrimSpace(e.ChildText("h2"))
	}
	if name == "" {
		return nil
	}

	p := &RawProduct{
		Name:         name,
		Manufacturer: string(SiteBandai),
		Description:  bandaiDescription,
		SourceURL:    e.Request.URL.String(),
	}

	// Product shots live on the akamai CDN under /model/; everything else
	// on the page (banners, icons) does not.
	e.ForEachWithBreak("img", func(_ int, img *colly.HTMLElement) bool {
		src := img.Attr("src")
		if strings.Contains(src, "bandai-a.akamaihd.net") && strings.Contains(src, "/model/") {
			p.ImageURL = img.Request.AbsoluteURL(src)
			return false
		}
		return true
	})

	body := e.Text
	if m := reBandaiPriceTaxIn.FindStringSubmatch(body); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			p.Price = &v
		}
	} else if m := reBandaiPrice.FindStringSubmatch(body); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			p.Price = &v
		}
	}

	p.ReleaseDate = ParseReleaseDate(body)

	if m := reBandaiLineup.FindStringSubmatch(body); m != nil {
		p.LineupInfo = "全" + m[1] + "種"
	}

	return p
}

// hostOf returns the hostname of rawURL, or fallback when unparseable.
// Test servers run on 127.0.0.1 with a port, so the port is kept out of
// the allowed-domains check by colly itself.
func hostOf(rawURL, fallback string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return fallback
	}
	return u.Hostname()
}
