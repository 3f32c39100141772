// Package blocklist decides which target hosts the agent may run against.
// Patterns are exact hosts ("jobs.example.org") or suffix wildcards
// ("*.example.org" or ".example.org"); a wildcard also matches the bare
// suffix.
package blocklist

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// Policy matches hosts against configured patterns. A nil Policy allows
// everything.
type Policy struct {
	exact    map[string]struct{}
	suffixes []string
}

// New builds a Policy from patterns, or returns nil when none are usable.
func New(patterns []string) *Policy {
	p := &Policy{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			p.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			p.addSuffix(strings.TrimPrefix(value, "."))
		default:
			p.exact[value] = struct{}{}
		}
	}
	if len(p.exact) == 0 && len(p.suffixes) == 0 {
		return nil
	}
	return p
}

func (p *Policy) addSuffix(suffix string) {
	if suffix == "" || slices.Contains(p.suffixes, suffix) {
		return
	}
	p.suffixes = append(p.suffixes, suffix)
}

// Blocked reports whether host matches a pattern. Ports are ignored.
func (p *Policy) Blocked(host string) bool {
	if p == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	if host == "" {
		return false
	}
	if _, exact := p.exact[host]; exact {
		return true
	}
	for _, suffix := range p.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// AllowTarget returns an error when rawURL's host is blocked.
func (p *Policy) AllowTarget(rawURL string) error {
	if p == nil {
		return nil
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("parse target: %w", err)
	}
	if p.Blocked(u.Host) {
		return fmt.Errorf("host %s is blocklisted", u.Hostname())
	}
	return nil
}
