// Package pagination walks a site's reverse-chronological article listing
// page by page, keeping the entries dated inside a window.
//
// The crawler assumes listings are ordered newest first: once an entry older
// than the window start shows up, later pages are not fetched. This is a
// heuristic about third-party sites, not something the crawler can verify.
package pagination

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
)

// DefaultMaxPages bounds a walk when no ceiling is configured.
const DefaultMaxPages = 50

// State is the crawler's position in its lifecycle.
type State int

// Crawler states. Done and Aborted are terminal.
const (
	StateFetching State = iota
	StateFiltering
	StatePaginating
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateFiltering:
		return "filtering"
	case StatePaginating:
		return "paginating"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further pages will be requested.
func (s State) Terminal() bool { return s == StateDone || s == StateAborted }

var transitions = map[State][]State{
	StateFetching:   {StateFiltering, StateDone, StateAborted},
	StateFiltering:  {StatePaginating, StateDone, StateAborted},
	StatePaginating: {StateFetching, StateDone, StateAborted},
}

// ErrNotFetching is returned when Feed is called while no page is pending.
var ErrNotFetching = errors.New("pagination crawler is not waiting for a page")

// Crawler is the listing state machine. It does no I/O: callers fetch the
// URL returned by Next and hand the body to Feed.
type Crawler struct {
	window   crawler.DateWindow
	maxPages int

	state   State
	next    string
	visited map[string]struct{}
	pages   int
	last    int
	reason  string
}

// New creates a crawler starting at startURL. maxPages <= 0 selects
// DefaultMaxPages.
func New(startURL string, window crawler.DateWindow, maxPages int) (*Crawler, error) {
	if _, err := crawler.NormalizeURL(startURL); err != nil {
		return nil, fmt.Errorf("start url: %w", err)
	}
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &Crawler{
		window:   window,
		maxPages: maxPages,
		state:    StateFetching,
		next:     startURL,
		visited:  make(map[string]struct{}),
	}, nil
}

// Next returns the listing page to fetch, if any.
func (c *Crawler) Next() (string, bool) {
	if c.state != StateFetching || c.next == "" {
		return "", false
	}
	return c.next, true
}

// State returns the current state.
func (c *Crawler) State() State { return c.state }

// Reason explains the last terminal transition.
func (c *Crawler) Reason() string { return c.reason }

// PagesFetched counts listing pages fed so far.
func (c *Crawler) PagesFetched() int { return c.pages }

// LastPageEntries counts the entries found on the last fed page before date
// filtering.
func (c *Crawler) LastPageEntries() int { return c.last }

// Feed processes the fetched body of the pending page and returns the
// entries worth visiting: those dated inside the window plus undated ones,
// whose date is resolved from the article page later.
func (c *Crawler) Feed(pageURL string, body []byte) ([]Entry, error) {
	if c.state != StateFetching || c.next == "" {
		return nil, ErrNotFetching
	}
	c.markVisited(c.next)
	c.markVisited(pageURL)
	c.pages++
	if err := c.transition(StateFiltering, ""); err != nil {
		return nil, err
	}

	listing, err := ParseListing(pageURL, body)
	if err != nil {
		_ = c.transition(StateAborted, "listing page could not be parsed")
		return nil, err
	}
	c.last = len(listing.Entries)

	var (
		kept   []Entry
		oldest time.Time
	)
	for _, e := range listing.Entries {
		if e.Dated() {
			if oldest.IsZero() || e.Date.Before(oldest) {
				oldest = e.Date
			}
			if !c.window.Contains(e.Date) {
				continue
			}
		}
		kept = append(kept, e)
	}
	if !oldest.IsZero() && c.window.Predates(oldest) {
		_ = c.transition(StateDone, "reached entries older than the window start")
		return kept, nil
	}

	if err := c.transition(StatePaginating, ""); err != nil {
		return kept, err
	}
	c.paginate(listing.NextURL)
	return kept, nil
}

func (c *Crawler) paginate(nextURL string) {
	switch {
	case nextURL == "":
		_ = c.transition(StateDone, "no next page")
	case c.wasVisited(nextURL):
		_ = c.transition(StateDone, "next page already visited")
	case c.pages >= c.maxPages:
		_ = c.transition(StateAborted, fmt.Sprintf("page ceiling of %d reached", c.maxPages))
	default:
		c.next = nextURL
		_ = c.transition(StateFetching, "")
	}
}

// ObserveArticleDate feeds back a date resolved from an article page. A date
// before the window start ends the walk after the current page.
func (c *Crawler) ObserveArticleDate(t time.Time) {
	if t.IsZero() || !c.window.Predates(t) {
		return
	}
	if c.state == StateFetching || c.state == StatePaginating {
		_ = c.transition(StateDone, "article older than the window start")
	}
}

// Fail ends the walk after a listing page could not be fetched.
func (c *Crawler) Fail(reason string) {
	if !c.state.Terminal() {
		_ = c.transition(StateAborted, reason)
	}
}

// Stop ends the walk without error, for example when the goal is reached.
func (c *Crawler) Stop(reason string) {
	if !c.state.Terminal() {
		_ = c.transition(StateDone, reason)
	}
}

func (c *Crawler) transition(to State, reason string) error {
	for _, allowed := range transitions[c.state] {
		if allowed == to {
			c.state = to
			if to.Terminal() {
				c.next = ""
				c.reason = reason
			}
			return nil
		}
	}
	return fmt.Errorf("invalid pagination transition %s -> %s", c.state, to)
}

func (c *Crawler) markVisited(raw string) {
	c.visited[visitKey(raw)] = struct{}{}
}

func (c *Crawler) wasVisited(raw string) bool {
	_, ok := c.visited[visitKey(raw)]
	return ok
}

func visitKey(raw string) string {
	if n, err := crawler.NormalizeURL(raw); err == nil {
		return n
	}
	return raw
}
