// Package planner ranks the discovery strategies available for a target
// using what the world model knows about its domain.
package planner

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/JakeFAU/jobhunt-agent/internal/agent/world"
	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
	"github.com/JakeFAU/jobhunt-agent/internal/sitemap"
)

// Strategy is one immutable, parameterized discovery approach.
type Strategy struct {
	Type        crawler.StrategyType
	HomepageURL string
	// StartURL is the listing page pagination begins at.
	StartURL   string
	SitemapURL string
	APIURL     string
	Window     crawler.DateWindow
	Rank       float64
}

func (s Strategy) String() string {
	return fmt.Sprintf("%s(rank=%.2f)", s.Type, s.Rank)
}

// Plan is an ordered list of strategies consumed front to back. Plans are
// never reordered; Replan returns a new one.
type Plan struct {
	strategies []Strategy
}

// NewPlan builds a plan from strategies in the given order.
func NewPlan(strategies ...Strategy) Plan {
	return Plan{strategies: slices.Clone(strategies)}
}

// Head returns the next strategy to execute.
func (p Plan) Head() (Strategy, bool) {
	if len(p.strategies) == 0 {
		return Strategy{}, false
	}
	return p.strategies[0], true
}

// Len returns the number of strategies left.
func (p Plan) Len() int { return len(p.strategies) }

// Empty reports plan exhaustion.
func (p Plan) Empty() bool { return len(p.strategies) == 0 }

// Strategies returns a copy of the ordered strategies.
func (p Plan) Strategies() []Strategy { return slices.Clone(p.strategies) }

// Types returns the strategy types in plan order.
func (p Plan) Types() []crawler.StrategyType {
	out := make([]crawler.StrategyType, len(p.strategies))
	for i, s := range p.strategies {
		out[i] = s.Type
	}
	return out
}

// ShortBudget is the remaining run time below which archive strategies,
// which go through slow third-party mirrors, are tried last.
const ShortBudget = 5 * time.Minute

// Request describes what to plan for.
type Request struct {
	TargetURL string
	Window    crawler.DateWindow
	// Remaining is the run time left; zero means unbounded.
	Remaining time.Duration
}

// Planner produces and revises plans.
type Planner struct{}

// New creates a Planner.
func New() *Planner { return &Planner{} }

type candidate struct {
	strategy  Strategy
	promoted  bool
	deferred  bool
	confirmed bool
	history   int
	rate      float64
}

// Plan ranks every applicable strategy for req.
//
// Strategies whose required capability is confirmed absent are dropped. The
// rest are ordered by, highest first: archive promotion when the domain
// threat is High or worse, direct strategies when less than ShortBudget
// remains, confirmed capability, success history (succeeded by rate, then
// untried, then tried without success), and finally the fixed strategy
// priority.
func (p *Planner) Plan(req Request, knowledge world.DomainKnowledge) (Plan, error) {
	target, err := url.Parse(strings.TrimSpace(req.TargetURL))
	if err != nil || target.Host == "" || (target.Scheme != "http" && target.Scheme != "https") {
		return Plan{}, errors.New("target url must be an absolute http(s) url")
	}
	homepage := target.Scheme + "://" + target.Host + "/"
	start := target.String()

	caps := make(map[crawler.Capability]bool, len(knowledge.Capabilities)+1)
	for c, present := range knowledge.Capabilities {
		caps[c] = present
	}
	sitemapURL, err := sitemap.DefaultURL(homepage)
	if err != nil {
		return Plan{}, err
	}
	if sitemap.LooksLikeSitemap(target.String()) {
		caps[crawler.CapabilitySitemap] = true
		sitemapURL = target.String()
		start = homepage
	}
	highThreat := knowledge.Threat >= crawler.ThreatHigh
	hurried := req.Remaining > 0 && req.Remaining < ShortBudget

	var candidates []candidate
	for _, st := range crawler.AllStrategies() {
		c := candidate{strategy: Strategy{
			Type:        st,
			HomepageURL: homepage,
			StartURL:    start,
			Window:      req.Window,
		}}
		switch st {
		case crawler.StrategySitemap:
			c.strategy.SitemapURL = sitemapURL
		case crawler.StrategyAPI:
			c.strategy.APIURL = homepage + "wp-json/wp/v2/posts"
		case crawler.StrategyAutoDiscovery, crawler.StrategyArchiveCache, crawler.StrategyArchiveWayback:
		}
		if capability, ok := st.RequiredCapability(); ok {
			present, known := caps[capability]
			if known && !present {
				continue
			}
			c.confirmed = known && present
		}
		c.promoted = highThreat && !st.Direct()
		c.deferred = hurried && !c.promoted && !st.Direct()
		stats := knowledge.Stats[st]
		switch {
		case stats.Successes > 0:
			c.history = 2
			c.rate = stats.SuccessRate()
		case stats.Attempts == 0:
			c.history = 1
		default:
			c.history = 0
		}
		candidates = append(candidates, c)
	}

	slices.SortStableFunc(candidates, compare)

	strategies := make([]Strategy, len(candidates))
	n := len(candidates)
	for i, c := range candidates {
		c.strategy.Rank = float64(n-i) / float64(n)
		strategies[i] = c.strategy
	}
	return Plan{strategies: strategies}, nil
}

// compare orders a before b when it returns a negative number.
func compare(a, b candidate) int {
	if a.promoted != b.promoted {
		return boolOrder(a.promoted)
	}
	if a.deferred != b.deferred {
		return boolOrder(b.deferred)
	}
	if a.confirmed != b.confirmed {
		return boolOrder(a.confirmed)
	}
	if a.history != b.history {
		return b.history - a.history
	}
	if a.history == 2 && a.rate != b.rate {
		if a.rate > b.rate {
			return -1
		}
		return 1
	}
	return int(a.strategy.Type) - int(b.strategy.Type)
}

func boolOrder(first bool) int {
	if first {
		return -1
	}
	return 1
}

// Replan removes every strategy of type failed and keeps the remaining
// order.
func (p *Planner) Replan(plan Plan, failed crawler.StrategyType) Plan {
	out := make([]Strategy, 0, len(plan.strategies))
	for _, s := range plan.strategies {
		if s.Type != failed {
			out = append(out, s)
		}
	}
	return Plan{strategies: out}
}
