// Package recovery classifies failed attempts and decides what the
// orchestrator does next.
package recovery

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
)

// Defaults for Config.
const (
	DefaultBaseWait    = 5 * time.Second
	DefaultMaxWait     = 60 * time.Second
	DefaultJitter      = 0.30
	DefaultAbortStreak = 4
)

var blockMarkers = [][]byte{
	[]byte("access denied"),
	[]byte("request blocked"),
	[]byte("you have been blocked"),
	[]byte("sorry, you have been blocked"),
	[]byte("attention required! | cloudflare"),
	[]byte("error 1020"),
}

var captchaMarkers = [][]byte{
	[]byte("g-recaptcha"),
	[]byte("h-captcha"),
	[]byte("hcaptcha.com"),
	[]byte("cf-chl-"),
	[]byte("challenge-platform"),
	[]byte("verify you are human"),
	[]byte("are you a robot"),
}

// Decision is the recovery action for one failure. The set of variants is
// closed: RetryBackoff, RotateIdentity, SwitchStrategy, Skip and Abort.
type Decision interface {
	fmt.Stringer
	decision()
}

// RetryBackoff waits and retries the same request.
type RetryBackoff struct{ Wait time.Duration }

// RotateIdentity waits, switches User-Agent and retries.
type RotateIdentity struct{ Wait time.Duration }

// SwitchStrategy abandons the current strategy.
type SwitchStrategy struct{ Reason string }

// Skip drops the current URL and continues the strategy.
type Skip struct{ Reason string }

// Abort ends the run.
type Abort struct{ Reason string }

func (RetryBackoff) decision()   {}
func (RotateIdentity) decision() {}
func (SwitchStrategy) decision() {}
func (Skip) decision()           {}
func (Abort) decision()          {}

func (d RetryBackoff) String() string {
	return "retry after " + d.Wait.Round(time.Millisecond).String()
}
func (d RotateIdentity) String() string {
	return "rotate identity after " + d.Wait.Round(time.Millisecond).String()
}
func (d SwitchStrategy) String() string { return "switch strategy: " + d.Reason }
func (d Skip) String() string           { return "skip: " + d.Reason }
func (d Abort) String() string          { return "abort: " + d.Reason }

// Action returns the metric label of d.
func Action(d Decision) string {
	switch d.(type) {
	case RetryBackoff:
		return "retry_backoff"
	case RotateIdentity:
		return "rotate_identity"
	case SwitchStrategy:
		return "switch_strategy"
	case Skip:
		return "skip"
	case Abort:
		return "abort"
	}
	return "unknown"
}

// Config tunes the backoff ladder.
type Config struct {
	BaseWait    time.Duration `mapstructure:"base_wait"`
	MaxWait     time.Duration `mapstructure:"max_wait"`
	Jitter      float64       `mapstructure:"jitter"`
	AbortStreak int           `mapstructure:"abort_streak"`
}

// DefaultConfig returns the standard ladder.
func DefaultConfig() Config {
	return Config{
		BaseWait:    DefaultBaseWait,
		MaxWait:     DefaultMaxWait,
		Jitter:      DefaultJitter,
		AbortStreak: DefaultAbortStreak,
	}
}

// Engine classifies failures and maps them to decisions.
type Engine struct {
	cfg    Config
	jitter func() float64
}

// New creates an Engine. Zero fields of cfg take defaults.
func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.BaseWait <= 0 {
		cfg.BaseWait = def.BaseWait
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = def.MaxWait
	}
	if cfg.Jitter < 0 || cfg.Jitter > 1 {
		cfg.Jitter = def.Jitter
	}
	if cfg.AbortStreak <= 1 {
		cfg.AbortStreak = def.AbortStreak
	}
	return &Engine{cfg: cfg, jitter: randomFraction}
}

// Classify maps a raw observation to a failure kind. ok is false for a
// healthy response. Body markers are only consulted for non-2xx responses
// and for 2xx pages that yielded nothing, since many healthy pages embed
// CAPTCHA widgets in comment forms.
func (e *Engine) Classify(sig crawler.FailureSignal) (crawler.FailureKind, bool) {
	switch {
	case errors.Is(sig.Err, crawler.ErrTimeout):
		return crawler.FailureTimeout, true
	case errors.Is(sig.Err, crawler.ErrDisallowed):
		return crawler.FailureDisallowed, true
	}

	healthy := sig.Err == nil && sig.StatusCode >= 200 && sig.StatusCode < 300
	inspect := !healthy || sig.EmptyExtraction
	lower := bytes.ToLower(sig.Body)

	switch {
	case sig.StatusCode == http.StatusTooManyRequests:
		return crawler.FailureRateLimited, true
	case sig.StatusCode == http.StatusForbidden, inspect && containsAny(lower, blockMarkers):
		return crawler.FailureBlocked, true
	case inspect && containsAny(lower, captchaMarkers):
		return crawler.FailureCaptcha, true
	case sig.StatusCode >= 500:
		return crawler.FailureServerError, true
	case sig.StatusCode == http.StatusNotFound, sig.StatusCode == http.StatusGone:
		return crawler.FailureNotFound, true
	case !healthy:
		return crawler.FailureUnknown, true
	case sig.EmptyExtraction && sig.ExpectExtraction:
		return crawler.FailureLayoutChanged, true
	}
	return crawler.FailureUnknown, false
}

// Decide maps a failure kind and its consecutive streak to a decision.
func (e *Engine) Decide(kind crawler.FailureKind, streak int) Decision {
	streak = max(streak, 1)
	switch kind {
	case crawler.FailureCaptcha:
		return SwitchStrategy{Reason: "captcha detected"}
	case crawler.FailureLayoutChanged:
		return SwitchStrategy{Reason: "layout changed, no extractable entries"}
	case crawler.FailureNotFound:
		return Skip{Reason: "page not found"}
	case crawler.FailureDisallowed:
		return Skip{Reason: "disallowed by robots.txt"}
	case crawler.FailureRateLimited, crawler.FailureBlocked, crawler.FailureTimeout,
		crawler.FailureServerError, crawler.FailureUnknown:
	}

	switch {
	case streak >= e.cfg.AbortStreak:
		return Abort{Reason: fmt.Sprintf("%s %d times in a row", kind, streak)}
	case streak == e.cfg.AbortStreak-1:
		return SwitchStrategy{Reason: fmt.Sprintf("%s %d times in a row", kind, streak)}
	case streak >= 2 || kind == crawler.FailureBlocked:
		return RotateIdentity{Wait: e.Backoff(streak)}
	default:
		return RetryBackoff{Wait: e.Backoff(streak)}
	}
}

// Backoff returns base*2^(streak-1) plus up to Jitter of jitter, capped at
// MaxWait.
func (e *Engine) Backoff(streak int) time.Duration {
	streak = max(streak, 1)
	wait := e.cfg.BaseWait
	for i := 1; i < streak && wait < e.cfg.MaxWait; i++ {
		wait *= 2
	}
	wait += time.Duration(float64(wait) * e.cfg.Jitter * e.jitter())
	return min(wait, e.cfg.MaxWait)
}

func containsAny(haystack []byte, needles [][]byte) bool {
	for _, n := range needles {
		if bytes.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// randomFraction returns a value in [0, 1).
func randomFraction() float64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return float64(binary.BigEndian.Uint64(b[:])>>11) / (1 << 53)
}
