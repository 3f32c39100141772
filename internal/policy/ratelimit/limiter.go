// Package ratelimit implements per-domain politeness delays whose interval
// grows with the domain's threat level.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
	"github.com/JakeFAU/jobhunt-agent/internal/metrics"
)

// DefaultDelays are the minimum intervals between two requests to the same
// domain, indexed by threat level.
var DefaultDelays = map[crawler.ThreatLevel]time.Duration{
	crawler.ThreatNone:    3 * time.Second,
	crawler.ThreatLow:     5 * time.Second,
	crawler.ThreatMedium:  10 * time.Second,
	crawler.ThreatHigh:    30 * time.Second,
	crawler.ThreatBlocked: 60 * time.Second,
}

// Config holds rate limiter configuration.
type Config struct {
	// Delays overrides DefaultDelays per threat level. Missing levels fall
	// back to the defaults; a zero delay disables pacing for that level.
	Delays map[crawler.ThreatLevel]time.Duration
}

type domainLimiter struct {
	limiter *rate.Limiter
	threat  crawler.ThreatLevel
}

// Limiter manages per-domain politeness.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*domainLimiter
	delays   map[crawler.ThreatLevel]time.Duration
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	delays := make(map[crawler.ThreatLevel]time.Duration, len(DefaultDelays))
	for level, d := range DefaultDelays {
		delays[level] = d
	}
	for level, d := range cfg.Delays {
		delays[level] = d
	}
	return &Limiter{
		limiters: make(map[string]*domainLimiter),
		delays:   delays,
	}
}

// Interval returns the pacing interval used at the given threat level.
func (l *Limiter) Interval(threat crawler.ThreatLevel) time.Duration {
	return l.delays[threat]
}

// Wait blocks until the domain of rawURL may be fetched again at the given
// threat level, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string, threat crawler.ThreatLevel) error {
	domain := crawler.Domain(rawURL)
	if domain == "" {
		domain = "unknown"
	}
	limit := l.limitFor(threat)

	l.mu.Lock()
	entry, exists := l.limiters[domain]
	if !exists {
		entry = &domainLimiter{limiter: rate.NewLimiter(limit, 1), threat: threat}
		l.limiters[domain] = entry
	} else if entry.threat != threat {
		entry.limiter.SetLimit(limit)
		entry.threat = threat
	}
	l.mu.Unlock()

	start := time.Now()
	if err := entry.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObservePolitenessDelay(domain, waited)
	}
	return nil
}

func (l *Limiter) limitFor(threat crawler.ThreatLevel) rate.Limit {
	d := l.delays[threat]
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}
