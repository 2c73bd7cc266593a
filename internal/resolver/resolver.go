// Package resolver follows obfuscated affiliate join links to their final
// destination. Join links in the wild chain HTTP redirects, meta-refresh tags
// and window.location scripts, often through tracking hosts, so resolution is
// an explicit bounded loop rather than the HTTP client's auto-follow.
package resolver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/refpilot/refpilot/internal/config"
	"github.com/refpilot/refpilot/pkg/urlutil"
)

const userAgent = "refpilot/1.0 (affiliate link resolver)"

// Resolver resolves redirect chains hop by hop. Safe for concurrent use.
type Resolver struct {
	client  *resty.Client
	maxHops int
}

// New creates a Resolver with manual redirect handling: the underlying client
// returns each redirect response as-is instead of following it.
func New(cfg config.ResolverConfig) *Resolver {
	client := resty.New().
		SetTimeout(cfg.HopTimeout).
		SetHeader("User-Agent", userAgent)
	client.GetClient().CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Resolver{client: client, maxHops: cfg.MaxHops}
}

// Resolve follows rawURL through at most maxHops redirects and returns the
// final URL reached. It never fails: a network fault or exhausted hop budget
// stops resolution at the last successfully reached URL.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) string {
	current := rawURL
	for hop := 0; hop < r.maxHops; hop++ {
		next, ok := r.step(ctx, current)
		if !ok || next == "" || next == current {
			return current
		}
		current = next
	}
	slog.Debug("redirect hop budget exhausted", "url", rawURL, "last", current)
	return current
}

// step performs one hop. The second return is false when the current URL
// carries no further redirect signal or the request itself failed.
func (r *Resolver) step(ctx context.Context, current string) (string, bool) {
	resp, err := r.client.R().SetContext(ctx).Get(current)
	if err != nil {
		// Timeout, DNS, TLS: terminate at the last good URL.
		slog.Debug("redirect hop failed", "url", current, "error", err)
		return "", false
	}

	status := resp.StatusCode()
	if status >= 300 && status < 400 {
		if loc := resp.Header().Get("Location"); loc != "" {
			return urlutil.ResolveLocation(current, loc), true
		}
	}

	if strings.Contains(resp.Header().Get("Content-Type"), "text/html") {
		if target := urlutil.ExtractHTMLRedirect(string(resp.Body())); target != "" {
			return urlutil.ResolveLocation(current, target), true
		}
	}

	return "", false
}
