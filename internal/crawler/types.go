package crawler

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DateLayout is the calendar-date format used for run parameters.
const DateLayout = "2006-01-02"

// DateWindow is an inclusive range of calendar dates.
type DateWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateWindow truncates both bounds to calendar dates and validates order.
func NewDateWindow(start, end time.Time) (DateWindow, error) {
	w := DateWindow{Start: calendarDate(start), End: calendarDate(end)}
	if w.End.Before(w.Start) {
		return DateWindow{}, errors.New("end date must not be before start date")
	}
	return w, nil
}

// ParseDateWindow parses two YYYY-MM-DD strings into a window.
func ParseDateWindow(start, end string) (DateWindow, error) {
	s, err := time.Parse(DateLayout, strings.TrimSpace(start))
	if err != nil {
		return DateWindow{}, errors.New("start date must be YYYY-MM-DD")
	}
	e, err := time.Parse(DateLayout, strings.TrimSpace(end))
	if err != nil {
		return DateWindow{}, errors.New("end date must be YYYY-MM-DD")
	}
	return NewDateWindow(s, e)
}

// LastNDays returns the window ending on now's date and spanning n days.
func LastNDays(now time.Time, n int) DateWindow {
	if n < 1 {
		n = 1
	}
	end := calendarDate(now)
	return DateWindow{Start: end.AddDate(0, 0, -(n - 1)), End: end}
}

// Contains reports whether t's calendar date lies inside the window.
func (w DateWindow) Contains(t time.Time) bool {
	d := calendarDate(t)
	return !d.Before(w.Start) && !d.After(w.End)
}

// Predates reports whether t's calendar date is before the window start.
func (w DateWindow) Predates(t time.Time) bool {
	return calendarDate(t).Before(w.Start)
}

// Postdates reports whether t's calendar date is after the window end.
func (w DateWindow) Postdates(t time.Time) bool {
	return calendarDate(t).After(w.End)
}

func (w DateWindow) String() string {
	return w.Start.Format(DateLayout) + ".." + w.End.Format(DateLayout)
}

// calendarDate keeps the wall-clock date of t in its own location.
func calendarDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL            string
	RotateIdentity bool
	Threat         ThreatLevel
	Headers        http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	UserAgent  string
}

// FailureSignal is the raw observation handed to the recovery engine.
type FailureSignal struct {
	Domain           string
	Strategy         StrategyType
	StatusCode       int
	Err              error
	Body             []byte
	EmptyExtraction  bool
	ExpectExtraction bool
}

// SelectorPattern remembers where the last accepted apply link of a domain
// pointed, as host plus leading path segment.
type SelectorPattern struct {
	Host       string    `json:"host,omitempty"`
	PathPrefix string    `json:"path_prefix,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitzero"`
}

// PatternFor derives a SelectorPattern from an accepted apply link.
func PatternFor(u *url.URL, now time.Time) SelectorPattern {
	if u == nil {
		return SelectorPattern{}
	}
	prefix := "/"
	if segs := strings.Split(strings.Trim(u.EscapedPath(), "/"), "/"); len(segs) > 0 && segs[0] != "" {
		prefix = "/" + segs[0]
	}
	return SelectorPattern{
		Host:       strings.TrimPrefix(strings.ToLower(u.Hostname()), "www."),
		PathPrefix: prefix,
		UpdatedAt:  now,
	}
}

// IsZero reports whether nothing has been remembered.
func (p SelectorPattern) IsZero() bool { return p.Host == "" }

// Matches reports whether u points at the remembered host and path prefix.
func (p SelectorPattern) Matches(u *url.URL) bool {
	if p.IsZero() || u == nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host != p.Host && !strings.HasSuffix(host, "."+p.Host) {
		return false
	}
	return p.PathPrefix == "/" || strings.HasPrefix(u.EscapedPath(), p.PathPrefix)
}

// CandidateFeatures are the DOM context signals extracted for one anchor.
type CandidateFeatures struct {
	KeywordText    int  `json:"keyword_text,omitempty"`
	KeywordHref    int  `json:"keyword_href,omitempty"`
	CompanyInHref  bool `json:"company_in_href,omitempty"`
	InTableRow     bool `json:"in_table_row,omitempty"`
	JobRow         bool `json:"job_row,omitempty"`
	InListItem     bool `json:"in_list_item,omitempty"`
	LabelNeighbor  bool `json:"label_neighbor,omitempty"`
	NearJobHeading bool `json:"near_job_heading,omitempty"`
	MemoryMatch    bool `json:"memory_match,omitempty"`
	Blacklisted    bool `json:"blacklisted,omitempty"`
}

// CandidateLink is one scored anchor on a page.
type CandidateLink struct {
	URL      string            `json:"url"`
	Text     string            `json:"text"`
	Order    int               `json:"order"`
	Features CandidateFeatures `json:"features"`
	Score    float64           `json:"score"`
}

// JobRecord is one accepted posting.
type JobRecord struct {
	SourceURL     string       `json:"source_url"`
	Title         string       `json:"title"`
	ApplyLink     string       `json:"apply_link"`
	Confidence    float64      `json:"confidence"`
	LowConfidence bool         `json:"low_confidence"`
	PostedAt      time.Time    `json:"posted_at,omitzero"`
	Dedup         DedupStatus  `json:"dedup_status"`
	Strategy      StrategyType `json:"strategy"`
	FoundAt       time.Time    `json:"found_at"`
}
