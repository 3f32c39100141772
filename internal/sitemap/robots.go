package sitemap

import (
	"context"
	"fmt"
	"net/url"
	"slices"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
)

// Discover returns the sitemap roots for rawURL. A URL that already points
// at a sitemap is returned as is. Otherwise the site's robots.txt Sitemap
// directives are used, falling back to the conventional /sitemap.xml when
// robots.txt is missing, unreadable or declares none.
func (s *Source) Discover(ctx context.Context, rawURL string) ([]string, error) {
	if LooksLikeSitemap(rawURL) {
		return []string{rawURL}, nil
	}
	fallback, err := DefaultURL(rawURL)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(fallback)
	if err != nil {
		return nil, fmt.Errorf("parse sitemap url: %w", err)
	}
	robotsURL := base.ResolveReference(&url.URL{Path: "/robots.txt"}).String()

	resp, err := s.fetcher.Fetch(ctx, crawler.FetchRequest{URL: robotsURL})
	if err != nil {
		s.logger.Debug("robots.txt unavailable", zap.String("url", robotsURL), zap.Error(err))
		return []string{fallback}, nil
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, resp.Body)
	if err != nil {
		s.logger.Debug("robots.txt unparseable", zap.String("url", robotsURL), zap.Error(err))
		return []string{fallback}, nil
	}

	var roots []string
	for _, declared := range data.Sitemaps {
		abs := resolve(base, declared)
		if abs != "" && !slices.Contains(roots, abs) {
			roots = append(roots, abs)
		}
	}
	if len(roots) == 0 {
		return []string{fallback}, nil
	}
	return roots, nil
}
