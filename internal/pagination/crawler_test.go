package pagination

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
)

type post struct {
	slug string
	date string
}

func listingHTML(posts []post, next string) string {
	var b strings.Builder
	b.WriteString(`<html><head>`)
	if next != "" {
		fmt.Fprintf(&b, `<link rel="next" href="%s">`, next)
	}
	b.WriteString(`</head><body><div id="main">`)
	for _, p := range posts {
		fmt.Fprintf(&b, `<article><h2><a href="/%s/">%s hiring announcement</a></h2>`, p.slug, p.slug)
		if p.date != "" {
			fmt.Fprintf(&b, `<time datetime="%sT08:00:00+00:00">%s</time>`, p.date, p.date)
		}
		fmt.Fprintf(&b, `<a href="/%s/">Read more</a></article>`, p.slug)
	}
	b.WriteString(`<a href="/category/jobs/">Jobs category listing</a></div></body></html>`)
	return b.String()
}

func window(t *testing.T, start, end string) crawler.DateWindow {
	t.Helper()
	w, err := crawler.ParseDateWindow(start, end)
	require.NoError(t, err)
	return w
}

func TestCrawlerStopsAfterPageWithOlderEntries(t *testing.T) {
	t.Parallel()

	site := map[string]string{
		"https://jobs.example.com/": listingHTML([]post{
			{"acme", "2024-03-10"}, {"globex", "2024-03-09"},
		}, "https://jobs.example.com/page/2/"),
		"https://jobs.example.com/page/2/": listingHTML([]post{
			{"initech", "2024-03-08"}, {"umbrella", "2024-02-20"},
		}, "https://jobs.example.com/page/3/"),
		"https://jobs.example.com/page/3/": listingHTML([]post{
			{"hooli", "2024-02-10"},
		}, ""),
	}

	c, err := New("https://jobs.example.com/", window(t, "2024-03-01", "2024-03-10"), 10)
	require.NoError(t, err)

	var fetched []string
	var kept []Entry
	for {
		next, ok := c.Next()
		if !ok {
			break
		}
		fetched = append(fetched, next)
		entries, err := c.Feed(next, []byte(site[next]))
		require.NoError(t, err)
		kept = append(kept, entries...)
	}

	require.Equal(t, []string{"https://jobs.example.com/", "https://jobs.example.com/page/2/"}, fetched)
	require.Equal(t, StateDone, c.State())
	require.Equal(t, 2, c.PagesFetched())
	require.Equal(t, 2, c.LastPageEntries())
	require.Len(t, kept, 3)
	require.Equal(t, "https://jobs.example.com/acme/", kept[0].URL)
	require.Equal(t, "acme hiring announcement", kept[0].Title)
	require.Equal(t, "2024-03-08", kept[2].Date.Format(crawler.DateLayout))
}

func TestCrawlerKeepsUndatedAndDropsFutureEntries(t *testing.T) {
	t.Parallel()

	c, err := New("https://jobs.example.com/", window(t, "2024-03-01", "2024-03-05"), 10)
	require.NoError(t, err)
	entries, err := c.Feed("https://jobs.example.com/", []byte(listingHTML([]post{
		{"future", "2024-03-09"}, {"undated", ""}, {"inside", "2024-03-02"},
	}, "")))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.False(t, entries[0].Dated())
	require.Equal(t, "https://jobs.example.com/inside/", entries[1].URL)
	require.Equal(t, StateDone, c.State())
	require.Equal(t, "no next page", c.Reason())
}

func TestCrawlerPageCeilingAborts(t *testing.T) {
	t.Parallel()

	c, err := New("https://jobs.example.com/", window(t, "2024-03-01", "2024-03-05"), 1)
	require.NoError(t, err)
	_, err = c.Feed("https://jobs.example.com/", []byte(listingHTML([]post{{"a-post", "2024-03-02"}}, "/page/2/")))
	require.NoError(t, err)
	require.Equal(t, StateAborted, c.State())
	_, ok := c.Next()
	require.False(t, ok)
}

func TestCrawlerVisitedNextIsDone(t *testing.T) {
	t.Parallel()

	c, err := New("https://jobs.example.com/page/2/", window(t, "2024-03-01", "2024-03-05"), 10)
	require.NoError(t, err)
	_, err = c.Feed("https://jobs.example.com/page/2/", []byte(listingHTML(nil, "https://jobs.example.com/page/2")))
	require.NoError(t, err)
	require.Equal(t, StateDone, c.State())
	require.Equal(t, "next page already visited", c.Reason())
}

func TestCrawlerObserveArticleDate(t *testing.T) {
	t.Parallel()

	c, err := New("https://jobs.example.com/", window(t, "2024-03-01", "2024-03-05"), 10)
	require.NoError(t, err)
	_, err = c.Feed("https://jobs.example.com/", []byte(listingHTML([]post{{"undated", ""}}, "/page/2/")))
	require.NoError(t, err)
	require.Equal(t, StateFetching, c.State())

	c.ObserveArticleDate(time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC))
	require.Equal(t, StateFetching, c.State())
	c.ObserveArticleDate(time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC))
	require.Equal(t, StateDone, c.State())

	_, err = c.Feed("https://jobs.example.com/page/2/", nil)
	require.ErrorIs(t, err, ErrNotFetching)
}

func TestCrawlerFailAndStop(t *testing.T) {
	t.Parallel()

	c, err := New("https://jobs.example.com/", window(t, "2024-03-01", "2024-03-05"), 10)
	require.NoError(t, err)
	c.Fail("listing fetch failed")
	require.Equal(t, StateAborted, c.State())
	c.Stop("ignored")
	require.Equal(t, "listing fetch failed", c.Reason())

	_, err = New("/relative", window(t, "2024-03-01", "2024-03-05"), 0)
	require.Error(t, err)
}
