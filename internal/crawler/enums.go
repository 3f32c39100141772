package crawler

import (
	"fmt"
	"strings"
)

// ThreatLevel is how defensively a domain is reacting to the agent.
type ThreatLevel int

// Threat levels in increasing severity.
const (
	ThreatNone ThreatLevel = iota
	ThreatLow
	ThreatMedium
	ThreatHigh
	ThreatBlocked
)

var threatNames = []string{"none", "low", "medium", "high", "blocked"}

func (t ThreatLevel) String() string { return enumName(threatNames, int(t)) }

// Escalate returns the next severity step, capped at ThreatBlocked.
func (t ThreatLevel) Escalate() ThreatLevel {
	if t >= ThreatBlocked {
		return ThreatBlocked
	}
	return t + 1
}

// Decay returns the previous severity step, floored at ThreatNone.
func (t ThreatLevel) Decay() ThreatLevel {
	if t <= ThreatNone {
		return ThreatNone
	}
	return t - 1
}

// MarshalText implements encoding.TextMarshaler.
func (t ThreatLevel) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ThreatLevel) UnmarshalText(b []byte) error {
	v, err := parseEnum("threat level", threatNames, string(b))
	if err != nil {
		return err
	}
	*t = ThreatLevel(v)
	return nil
}

// MaxThreat returns the more severe of two levels.
func MaxThreat(a, b ThreatLevel) ThreatLevel {
	if a > b {
		return a
	}
	return b
}

// Capability is a per-domain feature the planner can rely on.
type Capability int

// Known capabilities.
const (
	CapabilitySitemap Capability = iota
	CapabilityAPI
	CapabilityPaginated
	CapabilityInfiniteScroll
)

var capabilityNames = []string{"has_sitemap", "has_api", "paginated", "infinite_scroll"}

func (c Capability) String() string { return enumName(capabilityNames, int(c)) }

// MarshalText implements encoding.TextMarshaler.
func (c Capability) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Capability) UnmarshalText(b []byte) error {
	v, err := parseEnum("capability", capabilityNames, string(b))
	if err != nil {
		return err
	}
	*c = Capability(v)
	return nil
}

// StrategyType names one approach to discovering postings. The declaration
// order is the fixed planner tie-break priority.
type StrategyType int

// Strategy types, highest fixed priority first.
const (
	StrategySitemap StrategyType = iota
	StrategyAutoDiscovery
	StrategyAPI
	StrategyArchiveCache
	StrategyArchiveWayback
)

var strategyNames = []string{"sitemap_crawl", "auto_discovery", "api_extraction", "archive_cache", "archive_wayback"}

// AllStrategies lists every strategy type in priority order.
func AllStrategies() []StrategyType {
	return []StrategyType{
		StrategySitemap,
		StrategyAutoDiscovery,
		StrategyAPI,
		StrategyArchiveCache,
		StrategyArchiveWayback,
	}
}

func (s StrategyType) String() string { return enumName(strategyNames, int(s)) }

// Direct reports whether the strategy fetches the target site itself.
func (s StrategyType) Direct() bool {
	switch s {
	case StrategySitemap, StrategyAutoDiscovery, StrategyAPI:
		return true
	case StrategyArchiveCache, StrategyArchiveWayback:
		return false
	}
	return false
}

// RequiredCapability returns the capability a strategy depends on, if any.
func (s StrategyType) RequiredCapability() (Capability, bool) {
	switch s {
	case StrategySitemap:
		return CapabilitySitemap, true
	case StrategyAutoDiscovery:
		return CapabilityPaginated, true
	case StrategyAPI:
		return CapabilityAPI, true
	case StrategyArchiveCache, StrategyArchiveWayback:
		return 0, false
	}
	return 0, false
}

// MarshalText implements encoding.TextMarshaler.
func (s StrategyType) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *StrategyType) UnmarshalText(b []byte) error {
	v, err := parseEnum("strategy", strategyNames, string(b))
	if err != nil {
		return err
	}
	*s = StrategyType(v)
	return nil
}

// FailureKind classifies a failed fetch or extraction attempt.
type FailureKind int

// Failure kinds. The zero value is FailureUnknown.
const (
	FailureUnknown FailureKind = iota
	FailureRateLimited
	FailureBlocked
	FailureCaptcha
	FailureLayoutChanged
	FailureTimeout
	FailureServerError
	FailureNotFound
	FailureDisallowed
)

var failureNames = []string{
	"unknown",
	"rate_limited",
	"blocked",
	"captcha_detected",
	"layout_changed",
	"network_timeout",
	"server_error",
	"not_found",
	"disallowed",
}

func (f FailureKind) String() string { return enumName(failureNames, int(f)) }

// DedupStatus is the ledger verdict for an apply link.
type DedupStatus int

// Ledger verdicts.
const (
	DedupNew DedupStatus = iota
	DedupLocal
	DedupShared
)

var dedupNames = []string{"new", "duplicate_local", "duplicate_shared"}

func (d DedupStatus) String() string { return enumName(dedupNames, int(d)) }

// Duplicate reports whether the link was already known.
func (d DedupStatus) Duplicate() bool { return d != DedupNew }

// MarshalText implements encoding.TextMarshaler.
func (d DedupStatus) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func enumName(names []string, i int) string {
	if i < 0 || i >= len(names) {
		return fmt.Sprintf("invalid(%d)", i)
	}
	return names[i]
}

func parseEnum(kind string, names []string, raw string) (int, error) {
	value := strings.TrimSpace(raw)
	for i, name := range names {
		if strings.EqualFold(name, value) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown %s %q", kind, raw)
}
