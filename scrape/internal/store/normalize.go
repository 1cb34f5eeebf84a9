package store

import (
	"net/url"
	"sort"
	"strings"
)

// NormalizeURL normalizes a product source URL for dedup comparison.
// Lowercases scheme and host, removes fragment, strips trailing slash
// (except root), sorts query params. Non-http(s) or unparseable input is
// returned as-is; the natural key still stays stable for identical input.
// Does NOT upgrade http to https (different servers, different resources).
func NormalizeURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return raw
	}
	if parsed.Host == "" {
		return raw
	}

	parsed.Scheme = scheme
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	parsed.Path = strings.TrimRight(parsed.Path, "/")

	// Sort query params by key for stable comparison.
	if parsed.RawQuery != "" {
		params := parsed.Query()
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf strings.Builder
		for i, k := range keys {
			vals := params[k]
			sort.Strings(vals)
			for j, v := range vals {
				if i > 0 || j > 0 {
					buf.WriteByte('&')
				}
				buf.WriteString(url.QueryEscape(k))
				buf.WriteByte('=')
				buf.WriteString(url.QueryEscape(v))
			}
		}
		parsed.RawQuery = buf.String()
	}

	return parsed.String()
}

// NaturalKey derives the dedup key for a product. Items with a usable
// source URL key on manufacturer + normalized URL; items without one fall
// back to manufacturer + normalized name. Collapsing interior whitespace
// keeps the name variant stable across markup reflows.
func NaturalKey(manufacturer, sourceURL, name string) string {
	if sourceURL != "" {
		return manufacturer + "|" + NormalizeURL(sourceURL)
	}
	return manufacturer + "|" + strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
