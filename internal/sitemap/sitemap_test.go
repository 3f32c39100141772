package sitemap

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
)

const urlsetXML = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://jobs.example.com/acme-hiring/</loc><lastmod>2024-03-02T09:00:00+05:30</lastmod></url>
  <url><loc>https://jobs.example.com/old-post/</loc><lastmod>2024-02-01</lastmod></url>
  <url><loc>https://jobs.example.com/no-date/</loc></url>
  <url><loc>/relative-post/</loc><lastmod>2024-03-03 10:00:00</lastmod></url>
</urlset>`

const indexXML = `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>https://jobs.example.com/post-sitemap2.xml</loc><lastmod>2024-03-03</lastmod></sitemap>
  <sitemap><loc>https://jobs.example.com/post-sitemap1.xml</loc><lastmod>2023-12-31</lastmod></sitemap>
  <sitemap><loc>https://jobs.example.com/page-sitemap.xml</loc></sitemap>
</sitemapindex>`

const htmlTable = `<html><body>
<table id="sitemap"><thead><tr><th>URL</th><th>Last Mod.</th></tr></thead>
<tbody>
<tr><td><a href="https://jobs.example.com/globex-drive/">Globex</a></td><td>2024-03-01 08:00</td></tr>
<tr><td><a href="https://jobs.example.com/ancient/">Ancient</a></td><td>2023-01-01 08:00</td></tr>
<tr><td>no link</td><td>2024-03-01</td></tr>
</tbody></table></body></html>`

func testWindow(t *testing.T) crawler.DateWindow {
	t.Helper()
	w, err := crawler.ParseDateWindow("2024-03-01", "2024-03-03")
	require.NoError(t, err)
	return w
}

func TestParseURLSet(t *testing.T) {
	t.Parallel()

	res, err := Parse("https://jobs.example.com/sitemap.xml", []byte(urlsetXML), testWindow(t))
	require.NoError(t, err)
	require.Equal(t, FormatURLSet, res.Format)
	require.Equal(t, 4, res.Total)
	require.Len(t, res.Items, 2)
	require.Equal(t, "https://jobs.example.com/acme-hiring/", res.Items[0].URL)
	require.Equal(t, "https://jobs.example.com/relative-post/", res.Items[1].URL)
}

func TestParseIndexKeepsRecentAndUndatedChildren(t *testing.T) {
	t.Parallel()

	res, err := Parse("https://jobs.example.com/sitemap_index.xml", []byte(indexXML), testWindow(t))
	require.NoError(t, err)
	require.Equal(t, FormatIndex, res.Format)
	require.Equal(t, []string{
		"https://jobs.example.com/post-sitemap2.xml",
		"https://jobs.example.com/page-sitemap.xml",
	}, res.Children)
}

func TestParseHTMLTable(t *testing.T) {
	t.Parallel()

	res, err := Parse("https://jobs.example.com/sitemap/", []byte(htmlTable), testWindow(t))
	require.NoError(t, err)
	require.Equal(t, FormatHTMLTable, res.Format)
	require.Len(t, res.Items, 1)
	require.Equal(t, "https://jobs.example.com/globex-drive/", res.Items[0].URL)
}

func TestParseUnrecognized(t *testing.T) {
	t.Parallel()

	_, err := Parse("https://jobs.example.com/", []byte("<html><body><p>hello</p></body></html>"), testWindow(t))
	require.ErrorIs(t, err, ErrUnrecognized)
	_, err = Parse("https://jobs.example.com/", nil, testWindow(t))
	require.ErrorIs(t, err, ErrUnrecognized)
}

func TestLooksLikeSitemapAndDefaultURL(t *testing.T) {
	t.Parallel()

	require.True(t, LooksLikeSitemap("https://example.com/post-sitemap.xml"))
	require.True(t, LooksLikeSitemap("https://example.com/sitemap/"))
	require.False(t, LooksLikeSitemap("https://example.com/"))

	u, err := DefaultURL("https://example.com/jobs/page/2")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/sitemap.xml", u)
}

func TestSourceFollowsIndex(t *testing.T) {
	t.Parallel()

	child := `<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<url><loc>https://jobs.example.com/acme-hiring/</loc><lastmod>2024-03-02</lastmod></url>
</urlset>`
	fetcher := &mapFetcher{pages: map[string]string{
		"https://jobs.example.com/sitemap_index.xml": indexXML,
		"https://jobs.example.com/post-sitemap2.xml": child,
		"https://jobs.example.com/page-sitemap.xml":  urlsetXML,
	}}
	src := NewSource(fetcher, 0, nil)

	items, err := src.ListURLs(context.Background(), "https://jobs.example.com/sitemap_index.xml", testWindow(t))
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "https://jobs.example.com/acme-hiring/", items[0].URL)
	require.Equal(t, "https://jobs.example.com/relative-post/", items[1].URL)
	require.NotContains(t, fetcher.calls, "https://jobs.example.com/post-sitemap1.xml")
}

func TestSourceRootFailure(t *testing.T) {
	t.Parallel()

	src := NewSource(&mapFetcher{}, 0, nil)
	_, err := src.ListURLs(context.Background(), "https://jobs.example.com/sitemap.xml", testWindow(t))
	require.Error(t, err)
}

type mapFetcher struct {
	pages map[string]string
	calls []string
}

func (m *mapFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	m.calls = append(m.calls, req.URL)
	body, ok := m.pages[req.URL]
	if !ok {
		if req.URL == "" {
			return crawler.FetchResponse{}, errors.New("empty url")
		}
		return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound}, nil
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

func TestDiscoverUsesRobotsDirectives(t *testing.T) {
	t.Parallel()

	fetcher := &mapFetcher{pages: map[string]string{
		"https://jobs.example.com/robots.txt": "User-agent: *\nDisallow: /wp-admin/\n" +
			"Sitemap: https://jobs.example.com/sitemap_index.xml\n" +
			"Sitemap: /news-sitemap.xml\n" +
			"Sitemap: https://jobs.example.com/sitemap_index.xml\n",
	}}
	src := NewSource(fetcher, 0, nil)

	roots, err := src.Discover(context.Background(), "https://jobs.example.com/careers")
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://jobs.example.com/sitemap_index.xml",
		"https://jobs.example.com/news-sitemap.xml",
	}, roots)
}

func TestDiscoverFallsBackToDefault(t *testing.T) {
	t.Parallel()

	src := NewSource(&mapFetcher{}, 0, nil)
	roots, err := src.Discover(context.Background(), "https://jobs.example.com/")
	require.NoError(t, err)
	require.Equal(t, []string{"https://jobs.example.com/sitemap.xml"}, roots)

	roots, err = src.Discover(context.Background(), "https://jobs.example.com/post-sitemap.xml")
	require.NoError(t, err)
	require.Equal(t, []string{"https://jobs.example.com/post-sitemap.xml"}, roots)

	_, err = src.Discover(context.Background(), "nohost")
	require.Error(t, err)
}
