// Package urlutil contains pure URL helpers used by redirect resolution.
// All functions are side-effect free and safe on malformed input.
package urlutil

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	metaRefreshRe    = regexp.MustCompile(`(?i)<meta[^>]+http-equiv=["']?refresh["']?[^>]*content=["'][^"']*url=([^"'>\s]+)`)
	windowLocationRe = regexp.MustCompile(`(?i)window\.location(?:\.href)?\s*=\s*["']([^"']+)["']`)
)

// Clean strips all query parameters and fragments, keeping
// scheme://host/path. Malformed input is returned unchanged.
func Clean(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return rawURL
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// ResolveLocation computes the next URL for a redirect target found at base.
// Absolute locations are used as-is, root-relative locations are rebased onto
// base's origin, and anything else is treated as origin-relative.
func ResolveLocation(base, location string) string {
	location = strings.TrimSpace(location)
	if location == "" {
		return ""
	}
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return location
	}

	b, err := url.Parse(base)
	if err != nil || b.Scheme == "" || b.Host == "" {
		return location
	}
	origin := b.Scheme + "://" + b.Host

	if strings.HasPrefix(location, "/") {
		return origin + location
	}
	return origin + "/" + location
}

// ExtractHTMLRedirect inspects an HTML body for a meta-refresh directive and,
// failing that, a window.location assignment. Returns the raw redirect target
// or "" when the body carries no redirect signal.
func ExtractHTMLRedirect(body string) string {
	if m := metaRefreshRe.FindStringSubmatch(body); m != nil {
		return strings.Trim(m[1], `'"`)
	}
	if m := windowLocationRe.FindStringSubmatch(body); m != nil {
		return m[1]
	}
	return ""
}
