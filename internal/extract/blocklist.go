package extract

import "strings"

// DefaultBlacklist lists social, messaging, video and link-shortener hosts
// that never carry an official apply link.
var DefaultBlacklist = []string{
	"telegram", "whatsapp", "facebook", "instagram", "youtube", "linkedin",
	"twitter", "discord", "pinterest", "reddit", "tiktok", "snapchat", "openinapp",
	"t.me", "wa.me", "fb.com", "youtu.be", "x.com", "linktr.ee",
	"bit.ly", "goo.gl", "tinyurl.com", "cutt.ly",
}

// Blocklist matches hosts against exact hosts, suffix wildcards and bare
// labels. A dotted entry matches itself and its subdomains, "*.ru" matches any
// host under ru, and a bare label such as "telegram" matches any host with
// that label (telegram.me, web.telegram.org).
type Blocklist struct {
	exact    map[string]struct{}
	suffixes []string
	labels   map[string]struct{}
}

// NewBlocklist compiles patterns. It returns nil when no pattern is usable.
func NewBlocklist(patterns ...[]string) *Blocklist {
	b := &Blocklist{
		exact:  make(map[string]struct{}),
		labels: make(map[string]struct{}),
	}
	for _, group := range patterns {
		for _, raw := range group {
			b.add(raw)
		}
	}
	if len(b.exact) == 0 && len(b.suffixes) == 0 && len(b.labels) == 0 {
		return nil
	}
	return b
}

func (b *Blocklist) add(raw string) {
	value := strings.TrimSpace(strings.ToLower(raw))
	switch {
	case value == "":
	case strings.HasPrefix(value, "*."):
		b.addSuffix(strings.TrimPrefix(value, "*."))
	case strings.HasPrefix(value, "."):
		b.addSuffix(strings.TrimPrefix(value, "."))
	case !strings.Contains(value, "."):
		b.labels[value] = struct{}{}
	default:
		b.exact[value] = struct{}{}
		b.addSuffix(value)
	}
}

func (b *Blocklist) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range b.suffixes {
		if existing == suffix {
			return
		}
	}
	b.suffixes = append(b.suffixes, suffix)
}

// IsBlocked reports whether host matches any pattern.
func (b *Blocklist) IsBlocked(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	if host == "" {
		return false
	}
	if _, exact := b.exact[host]; exact {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	for _, label := range strings.Split(host, ".") {
		if _, ok := b.labels[label]; ok {
			return true
		}
	}
	return false
}
