package crawler

import (
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
)

// trackingParams are query keys that never change the destination of a link.
var trackingParams = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"gclsrc":  {},
	"dclid":   {},
	"msclkid": {},
	"mc_cid":  {},
	"mc_eid":  {},
	"ref":     {},
	"ref_src": {},
	"igshid":  {},
}

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, upgrades http to https, removes default
// ports, fragments, tracking parameters and the trailing slash, and sorts the
// remaining query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme == "http" {
		u.Scheme = "https"
	}
	u.Host = strings.ToLower(u.Host)
	u.Host = strings.TrimSuffix(u.Host, ":80")
	u.Host = strings.TrimSuffix(u.Host, ":443")
	u.Fragment = ""
	u.RawFragment = ""

	if u.Path != "" {
		cleaned := path.Clean(u.Path)
		if cleaned == "." || cleaned == "/" {
			cleaned = ""
		}
		u.Path = strings.TrimSuffix(cleaned, "/")
		u.RawPath = ""
	}

	u.RawQuery = cleanQuery(u.Query())
	return u.String(), nil
}

func cleanQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for key := range q {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") {
			continue
		}
		if _, drop := trackingParams[lower]; drop {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, key := range keys {
		values := append([]string(nil), q[key]...)
		sort.Strings(values)
		for _, v := range values {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// Domain returns the lowercased host of rawURL without a leading "www.".
func Domain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// SameSite reports whether two hosts belong to the same site, ignoring "www.".
func SameSite(a, b string) bool {
	a = strings.TrimPrefix(strings.ToLower(a), "www.")
	b = strings.TrimPrefix(strings.ToLower(b), "www.")
	return a != "" && a == b
}
