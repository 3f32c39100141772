// Package sitemap turns XML sitemaps, sitemap indexes and HTML sitemap tables
// into the list of post URLs last modified inside a date window.
package sitemap

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/xmlquery"

	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
)

// ErrUnrecognized is returned when the body is neither an XML sitemap nor an
// HTML sitemap table.
var ErrUnrecognized = errors.New("unrecognized sitemap format")

// Format identifies how a sitemap body was parsed.
type Format int

// Recognized formats.
const (
	FormatURLSet Format = iota
	FormatIndex
	FormatHTMLTable
)

func (f Format) String() string {
	switch f {
	case FormatURLSet:
		return "urlset"
	case FormatIndex:
		return "sitemapindex"
	case FormatHTMLTable:
		return "html_table"
	}
	return "unknown"
}

// Item is one post URL with its last modification date.
type Item struct {
	URL     string
	LastMod time.Time
}

// Result is the outcome of parsing one sitemap document.
type Result struct {
	Format Format
	// Items are the post URLs dated inside the window, in document order.
	Items []Item
	// Children are nested sitemaps of an index that may hold in-window posts.
	Children []string
	// Total counts every entry seen before window filtering.
	Total int
}

// Parse reads body as a sitemap fetched from baseURL. Entries without a
// usable date are dropped from urlsets and HTML tables; index children
// without a date are kept.
func Parse(baseURL string, body []byte, window crawler.DateWindow) (Result, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return Result{}, fmt.Errorf("parse base url: %w", err)
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Result{}, ErrUnrecognized
	}
	if trimmed[0] == '<' {
		if res, ok := parseXML(base, trimmed, window); ok {
			return res, nil
		}
	}
	return parseHTMLTable(base, trimmed, window)
}

func parseXML(base *url.URL, body []byte, window crawler.DateWindow) (Result, bool) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return Result{}, false
	}

	if urls := xmlquery.Find(doc, "//urlset/url"); len(urls) > 0 {
		res := Result{Format: FormatURLSet, Total: len(urls)}
		for _, node := range urls {
			loc := resolve(base, childText(node, "loc"))
			date, ok := parseDate(childText(node, "lastmod"))
			if loc == "" || !ok || !window.Contains(date) {
				continue
			}
			res.Items = append(res.Items, Item{URL: loc, LastMod: date})
		}
		return res, true
	}

	if maps := xmlquery.Find(doc, "//sitemapindex/sitemap"); len(maps) > 0 {
		res := Result{Format: FormatIndex, Total: len(maps)}
		for _, node := range maps {
			loc := resolve(base, childText(node, "loc"))
			if loc == "" {
				continue
			}
			if date, ok := parseDate(childText(node, "lastmod")); ok && window.Predates(date) {
				continue
			}
			res.Children = append(res.Children, loc)
		}
		return res, true
	}
	return Result{}, false
}

func parseHTMLTable(base *url.URL, body []byte, window crawler.DateWindow) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("parse html sitemap: %w", err)
	}
	rows := doc.Find("table#sitemap tbody tr")
	if rows.Length() == 0 {
		return Result{}, ErrUnrecognized
	}
	res := Result{Format: FormatHTMLTable, Total: rows.Length()}
	rows.Each(func(_ int, row *goquery.Selection) {
		cols := row.Find("td")
		if cols.Length() == 0 {
			return
		}
		href, ok := cols.First().Find("a").First().Attr("href")
		if !ok {
			return
		}
		loc := resolve(base, href)
		date, ok := parseDate(cols.Last().Text())
		if loc == "" || !ok || !window.Contains(date) {
			return
		}
		res.Items = append(res.Items, Item{URL: loc, LastMod: date})
	})
	return res, nil
}

func childText(node *xmlquery.Node, name string) string {
	child := node.SelectElement(name)
	if child == nil {
		return ""
	}
	return strings.TrimSpace(child.InnerText())
}

// parseDate reads the calendar date prefix of a lastmod value such as
// "2024-03-01", "2024-03-01T10:00:00+05:30" or "2024-03-01 10:00".
func parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	datePart := strings.SplitN(strings.SplitN(raw, "T", 2)[0], " ", 2)[0]
	t, err := time.Parse(crawler.DateLayout, datePart)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func resolve(base *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	return abs.String()
}

// DefaultURL returns the conventional sitemap location for a site.
func DefaultURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + u.Host + "/sitemap.xml", nil
}

// LooksLikeSitemap reports whether rawURL points at a sitemap rather than a
// homepage.
func LooksLikeSitemap(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	p := strings.ToLower(u.Path)
	return strings.HasSuffix(p, ".xml") || strings.Contains(p, "sitemap")
}
