// Package extract scores the outbound links of an article page and picks the
// one most likely to be the official apply link.
package extract

import (
	"bytes"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
)

// Weights are the score contributions of each candidate feature.
type Weights struct {
	KeywordText   float64 `mapstructure:"keyword_text"`
	KeywordHref   float64 `mapstructure:"keyword_href"`
	CompanyInHref float64 `mapstructure:"company_in_href"`
	TableRow      float64 `mapstructure:"table_row"`
	JobRow        float64 `mapstructure:"job_row"`
	ListItem      float64 `mapstructure:"list_item"`
	Heading       float64 `mapstructure:"heading"`
	LabelNeighbor float64 `mapstructure:"label_neighbor"`
	Memory        float64 `mapstructure:"memory"`
}

// DefaultWeights favour the signals that pointed at the official link most
// often: the company name in the URL, job-labelled rows and "Apply Link:"
// style labels.
func DefaultWeights() Weights {
	return Weights{
		KeywordText:   30,
		KeywordHref:   20,
		CompanyInHref: 50,
		TableRow:      10,
		JobRow:        40,
		ListItem:      20,
		Heading:       15,
		LabelNeighbor: 40,
		Memory:        25,
	}
}

const (
	// maxKeywordHits bounds how many lexicon hits count per feature.
	maxKeywordHits = 2
	// headingReach is how many anchors after a heading still count as near it.
	headingReach = 15
	// maxLabelBlock is the longest enclosing block text searched for labels.
	maxLabelBlock = 200
)

// Config tunes the scorer.
type Config struct {
	Weights        Weights  `mapstructure:"weights"`
	Saturation     float64  `mapstructure:"saturation"`
	MinConfidence  float64  `mapstructure:"min_confidence"`
	ExtraBlacklist []string `mapstructure:"extra_blacklist"`
}

// DefaultConfig returns the scorer defaults.
func DefaultConfig() Config {
	return Config{
		Weights:       DefaultWeights(),
		Saturation:    100,
		MinConfidence: 0.30,
	}
}

// Result is the scoring outcome for one page.
type Result struct {
	PageURL    string
	Title      string
	PostedAt   time.Time
	Candidates []crawler.CandidateLink
	// Best indexes Candidates; -1 when no candidate is eligible.
	Best          int
	Confidence    float64
	LowConfidence bool
}

// Found reports whether a winning candidate exists.
func (r Result) Found() bool { return r.Best >= 0 }

// Winner returns the winning candidate.
func (r Result) Winner() (crawler.CandidateLink, bool) {
	if !r.Found() {
		return crawler.CandidateLink{}, false
	}
	return r.Candidates[r.Best], true
}

// Scorer ranks candidate links. It is stateless after construction and safe
// for concurrent use.
type Scorer struct {
	cfg       Config
	blacklist *Blocklist
}

// NewScorer builds a Scorer, filling zero config values with defaults.
func NewScorer(cfg Config) *Scorer {
	def := DefaultConfig()
	if cfg.Weights == (Weights{}) {
		cfg.Weights = def.Weights
	}
	if cfg.Saturation <= 0 {
		cfg.Saturation = def.Saturation
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = def.MinConfidence
	}
	return &Scorer{
		cfg:       cfg,
		blacklist: NewBlocklist(DefaultBlacklist, cfg.ExtraBlacklist),
	}
}

// MinConfidence is the confidence below which a record is flagged.
func (s *Scorer) MinConfidence() float64 { return s.cfg.MinConfidence }

// Score parses an article page and ranks its outbound links. memory is the
// domain's remembered apply-link pattern and may be zero.
func (s *Scorer) Score(pageURL string, body []byte, memory crawler.SelectorPattern) (Result, error) {
	fetched, err := url.Parse(pageURL)
	if err != nil {
		return Result{}, fmt.Errorf("parse page url: %w", err)
	}
	page, _ := Unwrap(fetched)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("parse page html: %w", err)
	}

	res := Result{PageURL: page.String(), Title: PageTitle(doc), Best: -1}
	if t, ok := PostedAt(page, doc); ok {
		res.PostedAt = t
	}
	res.Candidates = s.collect(fetched, page, doc, companyKeywords(res.Title), memory)
	for i := range res.Candidates {
		res.Candidates[i].Score = s.score(res.Candidates[i].Features)
	}
	s.pick(&res)
	return res, nil
}

// Rank scores pre-built candidates and picks the winner.
func (s *Scorer) Rank(candidates []crawler.CandidateLink) Result {
	res := Result{Candidates: candidates, Best: -1}
	for i := range res.Candidates {
		res.Candidates[i].Score = s.score(res.Candidates[i].Features)
	}
	s.pick(&res)
	return res
}

// pick selects the arg-max with strict comparison so the earliest candidate
// wins ties. Blacklisted candidates never win; a winner without evidence is
// kept and flagged low confidence.
func (s *Scorer) pick(res *Result) {
	best := -1
	bestScore := 0.0
	for i, c := range res.Candidates {
		if math.IsInf(c.Score, -1) {
			continue
		}
		if best < 0 || c.Score > bestScore {
			best = i
			bestScore = c.Score
		}
	}
	res.Best = best
	if best < 0 {
		return
	}
	res.Confidence = math.Min(1, bestScore/s.cfg.Saturation)
	res.LowConfidence = res.Confidence < s.cfg.MinConfidence
}

func (s *Scorer) score(f crawler.CandidateFeatures) float64 {
	if f.Blacklisted {
		return math.Inf(-1)
	}
	w := s.cfg.Weights
	score := w.KeywordText*float64(min(f.KeywordText, maxKeywordHits)) +
		w.KeywordHref*float64(min(f.KeywordHref, maxKeywordHits))
	if f.CompanyInHref {
		score += w.CompanyInHref
	}
	switch {
	case f.JobRow:
		score += w.JobRow
	case f.InTableRow:
		score += w.TableRow
	}
	if f.InListItem {
		score += w.ListItem
	}
	if f.NearJobHeading {
		score += w.Heading
	}
	if f.LabelNeighbor {
		score += w.LabelNeighbor
	}
	if f.MemoryMatch {
		score += w.Memory
	}
	return score
}

// collect walks headings and anchors in document order and builds one
// candidate per distinct outbound URL, merging the features of repeats.
func (s *Scorer) collect(
	fetched *url.URL,
	page *url.URL,
	doc *goquery.Document,
	company []string,
	memory crawler.SelectorPattern,
) []crawler.CandidateLink {
	var (
		candidates  []crawler.CandidateLink
		index       = make(map[string]int)
		lastHeading string
		sinceHead   = headingReach + 1
	)
	doc.Find("h1, h2, h3, h4, a[href]").Each(func(_ int, sel *goquery.Selection) {
		if !sel.Is("a") {
			lastHeading = normalizeSpace(sel.Text())
			sinceHead = 0
			return
		}
		sinceHead++
		href, _ := sel.Attr("href")
		link := resolveLink(fetched, href)
		if link == nil || crawler.SameSite(link.Hostname(), page.Hostname()) || IsArchiveHost(link.Hostname()) {
			return
		}
		text := normalizeSpace(sel.Text())
		features := s.features(sel, link, text, company, memory)
		features.NearJobHeading = sinceHead <= headingReach && jobHeadingPattern.MatchString(lastHeading)

		key := link.String()
		if i, dup := index[key]; dup {
			candidates[i].Features = mergeFeatures(candidates[i].Features, features)
			if candidates[i].Text == "" {
				candidates[i].Text = text
			}
			return
		}
		index[key] = len(candidates)
		candidates = append(candidates, crawler.CandidateLink{
			URL:      key,
			Text:     text,
			Order:    len(candidates),
			Features: features,
		})
	})
	return candidates
}

func (s *Scorer) features(
	sel *goquery.Selection,
	link *url.URL,
	text string,
	company []string,
	memory crawler.SelectorPattern,
) crawler.CandidateFeatures {
	href := strings.ToLower(link.String())
	f := crawler.CandidateFeatures{
		KeywordText: countTerms(text, applyTextTerms),
		KeywordHref: countTerms(href, careerHrefTerms),
		Blacklisted: s.blacklist.IsBlocked(link.Hostname()),
		MemoryMatch: memory.Matches(link),
	}
	for _, kw := range company {
		if strings.Contains(href, kw) {
			f.CompanyInHref = true
			break
		}
	}
	if row := sel.Closest("tr"); row.Length() > 0 {
		f.InTableRow = true
		f.JobRow = containsAny(normalizeSpace(row.Text()), jobRowMarkers)
	}
	if sel.Closest("li").Length() > 0 {
		f.InListItem = true
	}
	f.LabelNeighbor = hasLabelNeighbor(sel, text)
	return f
}

// hasLabelNeighbor reports whether an "Apply Link:" style label sits in the
// anchor itself, its short enclosing block, or the text right before it.
func hasLabelNeighbor(sel *goquery.Selection, text string) bool {
	if containsAny(text, labelPhrases) {
		return true
	}
	block := sel.Closest("p, li, td, th, dd, span, strong, b, div")
	if block.Length() > 0 {
		if bt := normalizeSpace(block.Text()); len(bt) <= maxLabelBlock && containsAny(bt, labelPhrases) {
			return true
		}
	}
	prev := precedingText(sel)
	if prev == "" && block.Length() > 0 {
		prev = precedingText(block)
	}
	return len(prev) <= 100 && containsAny(prev, labelPhrases)
}

// precedingText returns the nearest non-empty text before sel among its
// siblings.
func precedingText(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	for n := sel.Get(0).PrevSibling; n != nil; n = n.PrevSibling {
		var t string
		switch n.Type {
		case html.TextNode:
			t = normalizeSpace(n.Data)
		case html.ElementNode:
			t = normalizeSpace(goquery.NewDocumentFromNode(n).Text())
		default:
			continue
		}
		if t != "" {
			return t
		}
	}
	return ""
}

func mergeFeatures(a, b crawler.CandidateFeatures) crawler.CandidateFeatures {
	return crawler.CandidateFeatures{
		KeywordText:    max(a.KeywordText, b.KeywordText),
		KeywordHref:    max(a.KeywordHref, b.KeywordHref),
		CompanyInHref:  a.CompanyInHref || b.CompanyInHref,
		InTableRow:     a.InTableRow || b.InTableRow,
		JobRow:         a.JobRow || b.JobRow,
		InListItem:     a.InListItem || b.InListItem,
		LabelNeighbor:  a.LabelNeighbor || b.LabelNeighbor,
		NearJobHeading: a.NearJobHeading || b.NearJobHeading,
		MemoryMatch:    a.MemoryMatch || b.MemoryMatch,
		Blacklisted:    a.Blacklisted || b.Blacklisted,
	}
}
