// Package agent runs the goal-directed crawl: it plans strategies for a
// target, executes them page by page and turns every attempt into progress
// events.
package agent

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobhunt-agent/internal/agent/goal"
	"github.com/JakeFAU/jobhunt-agent/internal/agent/planner"
	"github.com/JakeFAU/jobhunt-agent/internal/agent/recovery"
	"github.com/JakeFAU/jobhunt-agent/internal/agent/world"
	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
	"github.com/JakeFAU/jobhunt-agent/internal/extract"
	"github.com/JakeFAU/jobhunt-agent/internal/ledger"
	"github.com/JakeFAU/jobhunt-agent/internal/storage"
)

// Defaults for Config.
const (
	DefaultMaxPages        = 30
	DefaultWindowDays      = 7
	DefaultAPIPageSize     = 20
	DefaultSitemapChildren = 20
	DefaultCachePrefix     = "https://archive.ph/newest/"
	DefaultWaybackPrefix   = "https://web.archive.org/web/2/"
)

// ErrRunConsumed is returned when a run's events were already drained.
var ErrRunConsumed = errors.New("run already consumed")

// Config tunes the orchestrator.
type Config struct {
	Goal            goal.Config `mapstructure:"goal"`
	MaxPages        int         `mapstructure:"max_pages"`
	WindowDays      int         `mapstructure:"window_days"`
	APIPageSize     int         `mapstructure:"api_page_size"`
	SitemapChildren int         `mapstructure:"sitemap_children"`
	CachePrefix     string      `mapstructure:"cache_prefix"`
	WaybackPrefix   string      `mapstructure:"wayback_prefix"`
	SeenBy          string      `mapstructure:"seen_by"`
	LedgerName      string      `mapstructure:"ledger_name"`
	Topic           string      `mapstructure:"topic"`
}

func (c Config) withDefaults() Config {
	if c.Goal.TargetCount == 0 {
		c.Goal.TargetCount = goal.DefaultTargetCount
	}
	if c.MaxPages <= 0 {
		c.MaxPages = DefaultMaxPages
	}
	if c.WindowDays <= 0 {
		c.WindowDays = DefaultWindowDays
	}
	if c.APIPageSize <= 0 {
		c.APIPageSize = DefaultAPIPageSize
	}
	if c.SitemapChildren <= 0 {
		c.SitemapChildren = DefaultSitemapChildren
	}
	if c.CachePrefix == "" {
		c.CachePrefix = DefaultCachePrefix
	}
	if c.WaybackPrefix == "" {
		c.WaybackPrefix = DefaultWaybackPrefix
	}
	if c.LedgerName == "" {
		c.LedgerName = ledger.DefaultName
	}
	return c
}

// Deps are the collaborators shared by every run of an Agent. Records,
// Publisher and Output are optional.
type Deps struct {
	Fetcher   crawler.Fetcher
	World     *world.Model
	Shared    storage.Store
	Planner   *planner.Planner
	Recovery  *recovery.Engine
	Scorer    *extract.Scorer
	Clock     crawler.Clock
	Sleeper   crawler.Sleeper
	IDs       crawler.IDGenerator
	Records   crawler.RecordStore
	Publisher crawler.Publisher
	Output    crawler.OutputWriter
	Logger    *zap.Logger
}

// Agent creates runs.
type Agent struct {
	cfg    Config
	deps   Deps
	tracer trace.Tracer
	logger *zap.Logger
}

// New validates deps and returns an Agent.
func New(cfg Config, deps Deps) (*Agent, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("agent fetcher is required")
	case deps.World == nil:
		return nil, errors.New("agent world model is required")
	case deps.Shared == nil:
		return nil, errors.New("agent shared store is required")
	case deps.Clock == nil:
		return nil, errors.New("agent clock is required")
	case deps.Sleeper == nil:
		return nil, errors.New("agent sleeper is required")
	case deps.IDs == nil:
		return nil, errors.New("agent id generator is required")
	}
	if deps.Planner == nil {
		deps.Planner = planner.New()
	}
	if deps.Recovery == nil {
		deps.Recovery = recovery.New(recovery.DefaultConfig())
	}
	if deps.Scorer == nil {
		deps.Scorer = extract.NewScorer(extract.DefaultConfig())
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	if _, err := goal.New(cfg.Goal, deps.Clock); err != nil {
		return nil, fmt.Errorf("agent goal defaults: %w", err)
	}
	return &Agent{
		cfg:    cfg,
		deps:   deps,
		tracer: otel.Tracer("github.com/JakeFAU/jobhunt-agent/internal/agent"),
		logger: deps.Logger.Named("agent"),
	}, nil
}

// Config returns the effective configuration.
func (a *Agent) Config() Config { return a.cfg }

// Params are the inputs of one run. Empty dates select the last
// WindowDays days; zero overrides keep the configured goal.
type Params struct {
	TargetURL   string        `json:"target_url" validate:"required,url"`
	StartDate   string        `json:"start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate     string        `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	TargetCount int           `json:"target_count,omitempty" validate:"gte=0"`
	MaxDuration time.Duration `json:"max_duration,omitempty" validate:"gte=0"`
	MaxRequests int           `json:"max_requests,omitempty" validate:"gte=0"`
}

// Window resolves the run's date window.
func (p Params) Window(now time.Time, days int) (crawler.DateWindow, error) {
	start, end := strings.TrimSpace(p.StartDate), strings.TrimSpace(p.EndDate)
	switch {
	case start == "" && end == "":
		return crawler.LastNDays(now, days), nil
	case start == "":
		e, err := time.Parse(crawler.DateLayout, end)
		if err != nil {
			return crawler.DateWindow{}, errors.New("end date must be YYYY-MM-DD")
		}
		return crawler.LastNDays(e, days), nil
	case end == "":
		end = now.Format(crawler.DateLayout)
	}
	return crawler.ParseDateWindow(start, end)
}

// NewRun validates params and prepares a run. Nothing is fetched until the
// run's events are consumed.
func (a *Agent) NewRun(params Params) (*Run, error) {
	target, err := parseTarget(params.TargetURL)
	if err != nil {
		return nil, err
	}
	now := a.deps.Clock.Now()
	window, err := params.Window(now, a.cfg.WindowDays)
	if err != nil {
		return nil, err
	}

	goalCfg := a.cfg.Goal
	if params.TargetCount > 0 {
		goalCfg.TargetCount = params.TargetCount
	}
	if params.MaxDuration > 0 {
		goalCfg.Resources.MaxDuration = params.MaxDuration
	}
	if params.MaxRequests > 0 {
		goalCfg.Resources.MaxRequests = params.MaxRequests
	}
	g, err := goal.New(goalCfg, a.deps.Clock)
	if err != nil {
		return nil, fmt.Errorf("goal: %w", err)
	}

	id, err := a.deps.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("run id %q: %w", id, err)
	}

	seenBy := a.cfg.SeenBy
	if seenBy == "" {
		seenBy = id
	}
	l, err := ledger.New(a.deps.Shared, ledger.Options{
		Name:   a.cfg.LedgerName,
		SeenBy: seenBy,
		Clock:  a.deps.Clock,
		Logger: a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	return &Run{
		agent:  a,
		id:     id,
		runID:  [16]byte(parsed),
		target: target,
		domain: crawler.Domain(target),
		window: window,
		goal:   g,
		ledger: l,
		pages:  make(map[string]struct{}),
		logger: a.logger.With(zap.String("run_id", id), zap.String("target", target)),
	}, nil
}

// parseTarget checks that raw is an absolute http(s) URL and returns it as
// given, with a root path added to a bare host.
func parseTarget(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("target url: %w", err)
	}
	if u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("target url %q must be an absolute http(s) url", raw)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}
