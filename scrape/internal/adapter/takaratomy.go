package adapter

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
)

const (
	takaraBaseURL     = "https://www.takaratomy-arts.co.jp"
	takaraCalendarURL = takaraBaseURL + "/items/gacha/calendar"
	takaraDescription = "タカラトミーアーツ公式サイトより"
)

var (
	reTakaraPrice = regexp.MustCompile(`■価格[：:](\d+)円`)
	reTakaraDate  = regexp.MustCompile(`■発売時期[：:]?(\d{4})年(\d{1,2})月`)
)

// TakaraTomy scrapes the Takara Tomy Arts gacha release calendar. The
// calendar is month-paged (?ym=YYYYMM); the current and next month are
// walked so upcoming releases are picked up ahead of time.
type TakaraTomy struct {
	cfg Config
	now func() time.Time // injectable for tests
}

// NewTakaraTomy creates the Takara Tomy Arts adapter.
func NewTakaraTomy(cfg Config) *TakaraTomy {
	cfg.defaults()
	return &TakaraTomy{cfg: cfg, now: time.Now}
}

func (t *TakaraTomy) Site() Site { return SiteTakaraTomy }

func (t *TakaraTomy) DefaultURL() string { return takaraCalendarURL }

// FetchAndParse walks the current and next month's calendar pages, then
// visits up to MaxProducts detail pages. Both calendar pages failing
// returns a *FetchError; detail page failures are counted in Skipped.
func (t *TakaraTomy) FetchAndParse(ctx context.Context, target Target) (*Extraction, error) {
	base := target.URL
	if base == "" {
		base = t.DefaultURL()
	}

	host := hostOf(base, "www.takaratomy-arts.co.jp")
	list := newCollector(t.cfg, host)

	var (
		mu         sync.Mutex
		detailURLs []string
		seen       = map[string]bool{}
	)
	list.OnHTML("a[href]", func(e *colly.HTMLElement) {
		href := e.Attr("href")
		if !strings.Contains(href, "item.html?n=") {
			return
		}
		abs := t.resolveItemURL(e, href)
		mu.Lock()
		defer mu.Unlock()
		if !seen[abs] && len(detailURLs) < t.cfg.MaxProducts {
			seen[abs] = true
			detailURLs = append(detailURLs, abs)
		}
	})

	now := t.now()
	months := []time.Time{now, now.AddDate(0, 1, 0)}
	var firstErr error
	visited := 0
	for _, m := range months {
		u := fmt.Sprintf("%s?ym=%04d%02d", base, m.Year(), int(m.Month()))
		if err := list.Visit(u); err != nil {
			if firstErr == nil {
				firstErr = &FetchError{URL: u, Cause: err}
			}
			continue
		}
		visited++
	}
	list.Wait()
	if visited == 0 {
		return nil, firstErr
	}

	detail := list.Clone()
	out := &Extraction{}

	var current *RawProduct
	detail.OnHTML("html", func(e *colly.HTMLElement) {
		current = t.parseDetail(e)
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

// resolveItemURL turns calendar hrefs into absolute item URLs. The calendar
// emits ../../item.html?n=... links that resolve outside the items section,
// so those are rebuilt against /items/item.html explicitly.
func (t *TakaraTomy) resolveItemURL(e *colly.HTMLElement, href string) string {
	if strings.Contains(href, "../") {
		if i := strings.Index(href, "?"); i >= 0 {
			scheme := e.Request.URL.Scheme
			host := e.Request.URL.Host
			return scheme + "://" + host + "/items/item.html" + href[i:]
		}
	}
	return e.Request.AbsoluteURL(href)
}

// parseDetail extracts one product from an item page. Returns nil when the
// page has no recognizable product name.
func (t *TakaraTomy) parseDetail(e *colly.HTMLElement) *RawProduct {
	var name string
	e.ForEachWithBreak("h2", func(_ int, h *colly.HTMLElement) bool {
		txt := strings.TrimSpace(h.Text)
		// The page header "商品情報" is a section label, not the name.
		if txt == "" || txt == "商品情報" {
			return true
		}
		name = txt
		return false
	})
	if name == "" {
		return nil
	}

	p := &RawProduct{
		Name:         name,
		Manufacturer: string(SiteTakaraTomy),
		Description:  takaraDescription,
		SourceURL:    e.Request.URL.String(),
	}

	// Product shots live under /upfiles/products/, large variant suffixed _b.
	e.ForEachWithBreak("img", func(_ int, img *colly.HTMLElement) bool {
		src := img.Attr("src")
		if strings.Contains(src, "/upfiles/products/") && strings.Contains(src, "_b.") {
			p.ImageURL = img.Request.AbsoluteURL(src)
			return false
		}
		return true
	})

	body := e.Text
	if m := reTakaraPrice.FindStringSubmatch(body); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			p.Price = &v
		}
	}
	if m := reTakaraDate.FindStringSubmatch(body); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if month >= 1 && month <= 12 {
			p.ReleaseDate = fmt.Sprintf("%04d-%02d-01", year, month)
		}
	}

	return p
}
