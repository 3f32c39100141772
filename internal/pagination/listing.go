package pagination

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
	"github.com/JakeFAU/jobhunt-agent/internal/extract"
)

const (
	containerSelector = `article, div[class*="post"], div[class*="entry"], div[class*="blog"], div[class*="job"]`
	dateSelector      = `[class*="date"], [class*="published"]`
	minTitleLength    = 10
)

var junkFragments = []string{"/tag/", "/category/", "/author/", "#", "wp-content", "wp-includes", "/feed", "/wp-json"}

var (
	pathPagePattern  = regexp.MustCompile(`/page/(\d+)/?$`)
	paginatedHref    = regexp.MustCompile(`(?i)(/page/\d+|[?&](paged|page)=\d+)`)
	nextTextExact    = map[string]struct{}{"next": {}, "next page": {}, "older": {}, "older posts": {}, "older entries": {}, "»": {}, "›": {}, ">": {}, "next »": {}, "next ›": {}}
	nextTextContains = []string{"next page", "older posts"}
)

// Entry is one article link found on a listing page.
type Entry struct {
	URL   string
	Title string
	// Date is zero when the listing does not show one.
	Date time.Time
}

// Dated reports whether the listing carried a date for the entry.
func (e Entry) Dated() bool { return !e.Date.IsZero() }

// Listing is the parsed content of one listing page.
type Listing struct {
	Entries []Entry
	NextURL string
}

// ParseListing extracts article entries in document order and the next page
// link of a listing page.
func ParseListing(pageURL string, body []byte) (Listing, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return Listing{}, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Listing{}, fmt.Errorf("parse listing html: %w", err)
	}
	origin, _ := extract.Unwrap(base)
	return Listing{
		Entries: entries(doc, base, origin),
		NextURL: nextPage(doc, base, origin),
	}, nil
}

func entries(doc *goquery.Document, base, origin *url.URL) []Entry {
	useContainers := doc.Find(containerSelector).Length() > 0
	seen := make(map[string]struct{})
	var out []Entry

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		var container *goquery.Selection
		if useContainers {
			container = a.Closest(containerSelector)
			if container.Length() == 0 {
				return
			}
		}
		href, _ := a.Attr("href")
		link := resolve(base, href)
		if link == nil {
			return
		}
		// Archived listings wrap every link; filter on the original target
		// but keep the wrapped URL so the article is fetched the same way.
		target, _ := extract.Unwrap(link)
		if !crawler.SameSite(target.Hostname(), origin.Hostname()) {
			return
		}
		lower := strings.ToLower(target.String())
		for _, junk := range junkFragments {
			if strings.Contains(lower, junk) {
				return
			}
		}
		if strings.TrimRight(target.String(), "/") == strings.TrimRight(origin.String(), "/") ||
			paginatedHref.MatchString(target.RequestURI()) {
			return
		}
		full := link.String()
		title := strings.Join(strings.Fields(a.Text()), " ")
		if len(title) < minTitleLength {
			return
		}
		if _, dup := seen[full]; dup {
			return
		}
		seen[full] = struct{}{}
		out = append(out, Entry{URL: full, Title: title, Date: entryDate(container, target)})
	})
	return out
}

// entryDate prefers a date shown in the entry's own container. A container
// with several dates wraps many entries, so only the permalink is trusted
// there.
func entryDate(container *goquery.Selection, target *url.URL) time.Time {
	if node, ok := singleDateNode(container); ok {
		if v, ok := node.Attr("datetime"); ok {
			if d, ok := extract.ParseDate(v); ok {
				return d
			}
		}
		if d, ok := extract.ParseDate(node.Text()); ok {
			return d
		}
	}
	if d, ok := extract.DateFromURL(target.Path); ok {
		return d
	}
	return time.Time{}
}

func singleDateNode(container *goquery.Selection) (*goquery.Selection, bool) {
	if container == nil {
		return nil, false
	}
	switch times := container.Find("time"); times.Length() {
	case 1:
		return times, true
	case 0:
		if dates := container.Find(dateSelector); dates.Length() == 1 {
			return dates, true
		}
	}
	return nil, false
}

func nextPage(doc *goquery.Document, base, origin *url.URL) string {
	if href, ok := doc.Find(`link[rel="next"]`).First().Attr("href"); ok {
		if u := resolve(base, href); u != nil {
			return u.String()
		}
	}
	if href, ok := doc.Find(`a[rel~="next"]`).First().Attr("href"); ok {
		if u := resolve(base, href); u != nil {
			return u.String()
		}
	}

	increments := incrementCandidates(origin)
	var byText string
	var byIncrement string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		u := resolve(base, href)
		if u == nil {
			return true
		}
		target, _ := extract.Unwrap(u)
		if !crawler.SameSite(target.Hostname(), origin.Hostname()) {
			return true
		}
		if _, ok := increments[incrementKey(target)]; ok {
			byIncrement = u.String()
			return false
		}
		if byText == "" && isNextText(a.Text()) && paginatedHref.MatchString(target.RequestURI()) {
			byText = u.String()
		}
		return true
	})
	if byIncrement != "" {
		return byIncrement
	}
	return byText
}

func isNextText(raw string) bool {
	text := strings.ToLower(strings.Join(strings.Fields(raw), " "))
	if _, ok := nextTextExact[text]; ok {
		return true
	}
	for _, s := range nextTextContains {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}

// incrementCandidates lists the URLs of the page after current under the
// usual WordPress-style schemes.
func incrementCandidates(current *url.URL) map[string]struct{} {
	out := make(map[string]struct{})
	add := func(u url.URL) { out[incrementKey(&u)] = struct{}{} }

	path := strings.TrimRight(current.Path, "/")
	q := current.Query()
	switch {
	case pathPagePattern.MatchString(current.Path):
		m := pathPagePattern.FindStringSubmatch(current.Path)
		n, _ := strconv.Atoi(m[1])
		u := *current
		u.Path = pathPagePattern.ReplaceAllString(current.Path, "/page/"+strconv.Itoa(n+1)+"/")
		add(u)
	case q.Get("paged") != "" || q.Get("page") != "":
		for _, key := range []string{"paged", "page"} {
			if v := q.Get(key); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					continue
				}
				u := *current
				nq := current.Query()
				nq.Set(key, strconv.Itoa(n+1))
				u.RawQuery = nq.Encode()
				add(u)
			}
		}
	default:
		u := *current
		u.Path = path + "/page/2/"
		add(u)
		for _, key := range []string{"paged", "page"} {
			v := *current
			nq := current.Query()
			nq.Set(key, "2")
			v.RawQuery = nq.Encode()
			add(v)
		}
	}
	return out
}

func incrementKey(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.Path = strings.TrimRight(c.Path, "/")
	c.Host = strings.TrimPrefix(strings.ToLower(c.Host), "www.")
	c.Scheme = ""
	return c.String()
}

func resolve(base *url.URL, href string) *url.URL {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return nil
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil
	}
	return u
}
