package extract

import (
	"net/url"
	"regexp"
	"strings"
)

// archiveHosts are the snapshot services used by the archive strategies.
var archiveHosts = []string{
	"archive.ph", "archive.today", "archive.is", "archive.li", "archive.vn",
	"archive.md", "archive.org",
}

var waybackPath = regexp.MustCompile(`^/web/[0-9a-z_*]+/(.+)$`)

// IsArchiveHost reports whether host belongs to a snapshot service.
func IsArchiveHost(host string) bool {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	for _, h := range archiveHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// Unwrap returns the original URL behind an archive snapshot link such as
// https://web.archive.org/web/20240301000000/https://example.com/a or
// https://archive.ph/newest/https://example.com/a. Links that are not
// snapshot wrappers are returned unchanged with ok=false.
func Unwrap(u *url.URL) (*url.URL, bool) {
	if u == nil || !IsArchiveHost(u.Hostname()) {
		return u, false
	}
	raw := u.EscapedPath()
	if u.RawQuery != "" {
		raw += "?" + u.RawQuery
	}
	var inner string
	if m := waybackPath.FindStringSubmatch(raw); m != nil {
		inner = m[1]
	} else {
		trimmed := strings.TrimPrefix(raw, "/")
		for _, prefix := range []string{"newest/", "oldest/", "o/"} {
			trimmed = strings.TrimPrefix(trimmed, prefix)
		}
		if idx := strings.Index(trimmed, "/http"); idx >= 0 && !strings.HasPrefix(trimmed, "http") {
			trimmed = trimmed[idx+1:]
		}
		inner = trimmed
	}
	inner = fixScheme(inner)
	if !strings.HasPrefix(inner, "http://") && !strings.HasPrefix(inner, "https://") {
		return u, false
	}
	parsed, err := url.Parse(inner)
	if err != nil || parsed.Host == "" {
		return u, false
	}
	return parsed, true
}

// fixScheme restores "https://" collapsed to "https:/" by path cleaning.
func fixScheme(s string) string {
	for _, scheme := range []string{"https:", "http:"} {
		if strings.HasPrefix(s, scheme+"/") && !strings.HasPrefix(s, scheme+"//") {
			return scheme + "//" + strings.TrimPrefix(s, scheme+"/")
		}
	}
	return s
}

// Wrap builds a snapshot URL by prefixing target with an archive prefix such
// as "https://archive.ph/newest/" or "https://web.archive.org/web/2/".
func Wrap(prefix, target string) string {
	if prefix == "" {
		return target
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + target
}
