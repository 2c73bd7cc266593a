package scrape

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

const browserUserAgent = "refpilot/1.0 (program directory sync)"

// listingTableSelector must be visible before the page counts as loaded; the
// directory renders its table client-side.
const listingTableSelector = "table.program-directory tbody tr"

// Browser is the automation capability the extraction worker drives. It is a
// black box from the pipeline's point of view: give it a listing URL, get
// rendered HTML back.
type Browser interface {
	ListingHTML(ctx context.Context, listingURL string) (string, error)
}

// ChromeBrowser renders pages in a headless Chrome instance. Each call owns a
// fresh browser context released on every exit path.
type ChromeBrowser struct {
	navTimeout time.Duration
}

// NewChromeBrowser creates a ChromeBrowser. navTimeout bounds both navigation
// and the listing-table wait; expiry is an error, not an empty result.
func NewChromeBrowser(navTimeout time.Duration) *ChromeBrowser {
	return &ChromeBrowser{navTimeout: navTimeout}
}

func (b *ChromeBrowser) ListingHTML(ctx context.Context, listingURL string) (string, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx,
		append(
			chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.UserAgent(browserUserAgent),
		)...,
	)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	navCtx, cancelNav := context.WithTimeout(browserCtx, b.navTimeout)
	defer cancelNav()

	var html string
	err := chromedp.Run(navCtx,
		chromedp.Navigate(listingURL),
		chromedp.WaitVisible(listingTableSelector, chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("render listing %s: %w", listingURL, err)
	}
	return html, nil
}

// Compile-time check that ChromeBrowser implements Browser.
var _ Browser = (*ChromeBrowser)(nil)
