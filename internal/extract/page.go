package extract

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
)

var urlDatePattern = regexp.MustCompile(`/((?:19|20)\d\d)/(0[1-9]|1[0-2])/(0[1-9]|[12]\d|3[01])/`)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	crawler.DateLayout,
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"02/01/2006",
}

// PageTitle returns the first h1 text, falling back to the document title.
func PageTitle(doc *goquery.Document) string {
	if h1 := normalizeSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return normalizeSpace(doc.Find("title").First().Text())
}

// PostedAt finds the publication date of an article page from its URL and
// the usual metadata locations.
func PostedAt(pageURL *url.URL, doc *goquery.Document) (time.Time, bool) {
	if pageURL != nil {
		if t, ok := DateFromURL(pageURL.Path); ok {
			return t, true
		}
	}
	selectors := []struct {
		sel  string
		attr string
	}{
		{`meta[property="article:published_time"]`, "content"},
		{`[itemprop="datePublished"]`, "content"},
		{`[itemprop="datePublished"]`, "datetime"},
		{`meta[name="pubdate"]`, "content"},
		{`meta[name="date"]`, "content"},
		{`time[datetime]`, "datetime"},
	}
	for _, s := range selectors {
		var found time.Time
		doc.Find(s.sel).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			if v, ok := sel.Attr(s.attr); ok {
				if t, ok := ParseDate(v); ok {
					found = t
					return false
				}
			}
			return true
		})
		if !found.IsZero() {
			return found, true
		}
	}
	return time.Time{}, false
}

// DateFromURL reads a /YYYY/MM/DD/ permalink date.
func DateFromURL(p string) (time.Time, bool) {
	m := urlDatePattern.FindStringSubmatch(p + "/")
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(crawler.DateLayout, m[1]+"-"+m[2]+"-"+m[3])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ParseDate parses the date formats commonly found in listing and article
// markup.
func ParseDate(raw string) (time.Time, bool) {
	raw = normalizeSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	if len(raw) >= len(crawler.DateLayout) {
		if t, err := time.Parse(crawler.DateLayout, raw[:len(crawler.DateLayout)]); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// resolveLink resolves href against base and unwraps archive snapshots. It
// returns nil for non-http(s) targets.
func resolveLink(base *url.URL, href string) *url.URL {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return nil
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil
	}
	abs := base.ResolveReference(ref)
	abs, _ = Unwrap(abs)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return nil
	}
	if abs.Host == "" {
		return nil
	}
	abs.Fragment = ""
	return abs
}
