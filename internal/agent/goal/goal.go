// Package goal tracks a run's numeric target, quality and resource budgets,
// and progress. It is a pure state machine; the orchestrator feeds it one
// outcome per fetch or extraction attempt.
package goal

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
)

// Defaults applied by New when a field is left zero.
const (
	DefaultTargetCount   = 10
	DefaultMinConfidence = 0.30
	DefaultMaxErrorRate  = 0.15
	DefaultMaxDuration   = time.Hour
	DefaultMaxRequests   = 500
	DefaultMinSampleSize = 10
)

// Status is the goal lifecycle state.
type Status int

// Goal statuses.
const (
	StatusPending Status = iota
	StatusInProgress
	StatusAchieved
	StatusFailed
	StatusPartialSuccess
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in_progress"
	case StatusAchieved:
		return "achieved"
	case StatusFailed:
		return "failed"
	case StatusPartialSuccess:
		return "partial_success"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Terminal reports whether the status ends the run.
func (s Status) Terminal() bool {
	switch s {
	case StatusAchieved, StatusFailed, StatusPartialSuccess:
		return true
	case StatusPending, StatusInProgress:
		return false
	}
	return false
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Outcome is the result of one attempt.
type Outcome int

// Attempt outcomes.
const (
	OutcomeSuccess Outcome = iota
	OutcomeLowConfidence
	OutcomeDuplicate
	OutcomeSkip
	OutcomeFailure
)

// Quality bounds the acceptable result quality. A nil MaxErrorRate takes
// DefaultMaxErrorRate; zero tolerates no failures.
type Quality struct {
	MinConfidence float64  `mapstructure:"min_confidence" json:"min_confidence"`
	MaxErrorRate  *float64 `mapstructure:"max_error_rate" json:"max_error_rate,omitempty"`
}

// Tolerate returns rate as a MaxErrorRate value.
func Tolerate(rate float64) *float64 { return &rate }

// ErrorBudget returns the effective maximum error rate.
func (q Quality) ErrorBudget() float64 {
	if q.MaxErrorRate == nil {
		return DefaultMaxErrorRate
	}
	return *q.MaxErrorRate
}

// Resources bounds the run's cost.
type Resources struct {
	MaxDuration time.Duration `mapstructure:"max_duration" json:"max_duration"`
	MaxRequests int           `mapstructure:"max_requests" json:"max_requests"`
}

// Config is the goal definition.
type Config struct {
	TargetCount   int       `mapstructure:"target_count" json:"target_count"`
	Quality       Quality   `mapstructure:"quality" json:"quality"`
	Resources     Resources `mapstructure:"resources" json:"resources"`
	MinSampleSize int       `mapstructure:"min_sample_size" json:"min_sample_size"`
}

// Progress counts attempts. Counters never decrease.
type Progress struct {
	ValidFound    int `json:"valid_found"`
	LowConfidence int `json:"low_confidence"`
	Duplicates    int `json:"duplicates"`
	Skipped       int `json:"skipped"`
	Errors        int `json:"errors"`
	RequestsMade  int `json:"requests_made"`
}

// ErrorRate returns errors over requests made, or 0 before any request.
func (p Progress) ErrorRate() float64 {
	if p.RequestsMade == 0 {
		return 0
	}
	return float64(p.Errors) / float64(p.RequestsMade)
}

// Snapshot is a point-in-time copy of the goal.
type Snapshot struct {
	Config   Config        `json:"config"`
	Progress Progress      `json:"progress"`
	Status   Status        `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Goal is safe for concurrent use; progress readers may run alongside the
// orchestrator.
type Goal struct {
	cfg   Config
	clock crawler.Clock

	mu       sync.Mutex
	progress Progress
	status   Status
	reason   string
	started  time.Time
}

// New validates cfg, applies defaults and returns a pending goal.
func New(cfg Config, clock crawler.Clock) (*Goal, error) {
	if clock == nil {
		return nil, errors.New("goal clock is required")
	}
	if cfg.TargetCount <= 0 {
		return nil, errors.New("target_count must be > 0")
	}
	if cfg.Quality.MinConfidence == 0 {
		cfg.Quality.MinConfidence = DefaultMinConfidence
	}
	cfg.Quality.MaxErrorRate = Tolerate(cfg.Quality.ErrorBudget())
	if cfg.Resources.MaxDuration == 0 {
		cfg.Resources.MaxDuration = DefaultMaxDuration
	}
	if cfg.Resources.MaxRequests == 0 {
		cfg.Resources.MaxRequests = DefaultMaxRequests
	}
	if cfg.MinSampleSize == 0 {
		cfg.MinSampleSize = DefaultMinSampleSize
	}
	if cfg.Quality.MinConfidence < 0 || cfg.Quality.MinConfidence > 1 {
		return nil, errors.New("quality.min_confidence must be within [0,1]")
	}
	if rate := *cfg.Quality.MaxErrorRate; rate < 0 || rate > 1 {
		return nil, errors.New("quality.max_error_rate must be within [0,1]")
	}
	if cfg.Resources.MaxDuration < 0 || cfg.Resources.MaxRequests < 0 {
		return nil, errors.New("resource budgets must not be negative")
	}
	return &Goal{cfg: cfg, clock: clock, status: StatusPending}, nil
}

// Config returns the effective configuration.
func (g *Goal) Config() Config {
	cfg := g.cfg
	cfg.Quality.MaxErrorRate = Tolerate(cfg.Quality.ErrorBudget())
	return cfg
}

// Start moves a pending goal to InProgress and starts the duration budget.
func (g *Goal) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status != StatusPending {
		return
	}
	g.status = StatusInProgress
	g.started = g.clock.Now()
}

// RecordRequest counts one fetch against the request budget.
func (g *Goal) RecordRequest() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status.Terminal() {
		return
	}
	g.progress.RequestsMade++
}

// RecordOutcome counts the terminal outcome of one attempt. Outcomes after
// the goal became terminal are ignored.
func (g *Goal) RecordOutcome(o Outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status.Terminal() {
		return
	}
	switch o {
	case OutcomeSuccess:
		g.progress.ValidFound++
	case OutcomeLowConfidence:
		g.progress.LowConfidence++
	case OutcomeDuplicate:
		g.progress.Duplicates++
	case OutcomeSkip:
		g.progress.Skipped++
	case OutcomeFailure:
		g.progress.Errors++
	}
}

// Status recomputes and returns the current status. Terminal statuses latch.
func (g *Goal) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.evaluateLocked()
}

func (g *Goal) evaluateLocked() Status {
	if g.status != StatusInProgress {
		return g.status
	}
	p := g.progress
	switch {
	case p.ValidFound >= g.cfg.TargetCount:
		g.latch(StatusAchieved, fmt.Sprintf("collected %d of %d postings", p.ValidFound, g.cfg.TargetCount))
	case p.RequestsMade >= g.cfg.MinSampleSize && p.ErrorRate() > g.cfg.Quality.ErrorBudget():
		g.latch(StatusFailed, fmt.Sprintf("error rate %.2f exceeds %.2f after %d requests",
			p.ErrorRate(), g.cfg.Quality.ErrorBudget(), p.RequestsMade))
	case g.cfg.Resources.MaxRequests > 0 && p.RequestsMade >= g.cfg.Resources.MaxRequests:
		g.latch(g.byProgress(), fmt.Sprintf("request budget of %d exhausted", g.cfg.Resources.MaxRequests))
	case g.cfg.Resources.MaxDuration > 0 && g.clock.Now().Sub(g.started) >= g.cfg.Resources.MaxDuration:
		g.latch(g.byProgress(), fmt.Sprintf("duration budget of %s exhausted", g.cfg.Resources.MaxDuration))
	}
	return g.status
}

// Finish ends an in-progress goal for a reason outside the budgets (plan
// exhausted, abort, stop). The status follows the progress rule unless the
// target was already reached.
func (g *Goal) Finish(reason string) Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status == StatusPending {
		g.status = StatusInProgress
		g.started = g.clock.Now()
	}
	if st := g.evaluateLocked(); st.Terminal() {
		return st
	}
	g.latch(g.byProgress(), reason)
	return g.status
}

func (g *Goal) byProgress() Status {
	if g.progress.ValidFound > 0 {
		return StatusPartialSuccess
	}
	return StatusFailed
}

func (g *Goal) latch(s Status, reason string) {
	g.status = s
	g.reason = reason
}

// Reason explains a terminal status.
func (g *Goal) Reason() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reason
}

// Remaining returns the duration budget left, never negative.
func (g *Goal) Remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status == StatusPending {
		return g.cfg.Resources.MaxDuration
	}
	return max(0, g.cfg.Resources.MaxDuration-g.clock.Now().Sub(g.started))
}

// Snapshot returns a copy of the goal state.
func (g *Goal) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	var elapsed time.Duration
	if !g.started.IsZero() {
		elapsed = g.clock.Now().Sub(g.started)
	}
	return Snapshot{
		Config:   g.cfg,
		Progress: g.progress,
		Status:   g.status,
		Reason:   g.reason,
		Elapsed:  elapsed,
	}
}
