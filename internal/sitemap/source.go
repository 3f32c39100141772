package sitemap

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
)

const defaultMaxChildren = 20

// Source lists in-window post URLs by fetching a sitemap and, for indexes,
// its children.
type Source struct {
	fetcher     crawler.Fetcher
	maxChildren int
	logger      *zap.Logger
}

// NewSource builds a Source. maxChildren bounds how many nested sitemaps of
// an index are followed; zero selects a default.
func NewSource(fetcher crawler.Fetcher, maxChildren int, logger *zap.Logger) *Source {
	if maxChildren <= 0 {
		maxChildren = defaultMaxChildren
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{fetcher: fetcher, maxChildren: maxChildren, logger: logger.Named("sitemap")}
}

// ListURLs returns the in-window post URLs reachable from sitemapURL,
// deduplicated, in document order.
func (s *Source) ListURLs(ctx context.Context, sitemapURL string, window crawler.DateWindow) ([]Item, error) {
	queue := []string{sitemapURL}
	visited := make(map[string]struct{})
	seen := make(map[string]struct{})
	var items []Item
	followed := 0

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return items, fmt.Errorf("list sitemap urls: %w", err)
		}
		current := queue[0]
		queue = queue[1:]
		if _, ok := visited[current]; ok {
			continue
		}
		visited[current] = struct{}{}

		res, err := s.fetchAndParse(ctx, current, window)
		if err != nil {
			if current == sitemapURL {
				return nil, err
			}
			s.logger.Warn("skipping child sitemap", zap.String("url", current), zap.Error(err))
			continue
		}
		for _, item := range res.Items {
			if _, dup := seen[item.URL]; dup {
				continue
			}
			seen[item.URL] = struct{}{}
			items = append(items, item)
		}
		for _, child := range res.Children {
			if followed >= s.maxChildren {
				s.logger.Info("child sitemap limit reached", zap.Int("limit", s.maxChildren))
				break
			}
			followed++
			queue = append(queue, child)
		}
	}
	return items, nil
}

func (s *Source) fetchAndParse(ctx context.Context, rawURL string, window crawler.DateWindow) (Result, error) {
	resp, err := s.fetcher.Fetch(ctx, crawler.FetchRequest{URL: rawURL})
	if err != nil {
		return Result{}, fmt.Errorf("fetch sitemap %s: %w", rawURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("fetch sitemap %s: status %d", rawURL, resp.StatusCode)
	}
	res, err := Parse(rawURL, resp.Body, window)
	if err != nil {
		if errors.Is(err, ErrUnrecognized) {
			return Result{}, fmt.Errorf("sitemap %s: %w", rawURL, err)
		}
		return Result{}, err
	}
	s.logger.Debug("parsed sitemap",
		zap.String("url", rawURL),
		zap.Stringer("format", res.Format),
		zap.Int("entries", res.Total),
		zap.Int("in_window", len(res.Items)))
	return res, nil
}
