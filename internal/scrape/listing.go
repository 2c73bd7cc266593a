package scrape

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/refpilot/refpilot/pkg/models"
)

// Directory listing row layout: name (link), software, commission, API
// support, category, logo (img), review link, join link.
const listingColumnCount = 8

// ParseListing converts the rendered directory page into typed program
// candidates. The DOM is an untrusted boundary: rows with fewer than the
// expected column count are dropped with a log line, never propagated.
func ParseListing(html string) ([]models.ScrapedProgram, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var programs []models.ScrapedProgram
	doc.Find(listingTableSelector).Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < listingColumnCount {
			slog.Warn("dropping malformed listing row", "row", i, "columns", cells.Length())
			return
		}

		nameCell := cells.Eq(0)
		name := cleanText(nameCell.Text())
		nameHref, _ := nameCell.Find("a").Attr("href")
		slug := slugFromHref(nameHref, name)
		if name == "" || slug == "" {
			slog.Warn("dropping listing row without name or slug", "row", i)
			return
		}

		p := models.ScrapedProgram{
			Slug:       slug,
			Name:       name,
			Software:   cleanText(cells.Eq(1).Text()),
			Commission: cleanText(cells.Eq(2).Text()),
			APISupport: strings.EqualFold(cleanText(cells.Eq(3).Text()), "yes"),
			Category:   cleanText(cells.Eq(4).Text()),
		}
		if src, ok := cells.Eq(5).Find("img").Attr("src"); ok {
			p.LogoURL = &src
		}
		if href, ok := cells.Eq(6).Find("a").Attr("href"); ok {
			p.ReviewURL = &href
		}
		if href, ok := cells.Eq(7).Find("a").Attr("href"); ok {
			p.JoinURL = &href
		}

		programs = append(programs, p)
	})

	return programs, nil
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

func cleanText(s string) string {
	return innerWhitespace.ReplaceAllString(strings.TrimSpace(s), " ")
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9-]+`)

// slugFromHref derives the natural key from the name link's last path
// segment, falling back to a slugified display name when the link is absent.
func slugFromHref(href, name string) string {
	href = strings.TrimSuffix(strings.TrimSpace(href), "/")
	if href != "" {
		if idx := strings.LastIndex(href, "/"); idx >= 0 {
			href = href[idx+1:]
		}
		if q := strings.IndexAny(href, "?#"); q >= 0 {
			href = href[:q]
		}
		if href != "" {
			return strings.ToLower(href)
		}
	}

	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = slugInvalid.ReplaceAllString(slug, "")
	return strings.Trim(slug, "-")
}
