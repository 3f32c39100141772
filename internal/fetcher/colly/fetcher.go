// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
	"github.com/JakeFAU/jobhunt-agent/internal/metrics"
)

const defaultTimeout = 15 * time.Second

// DefaultUserAgents is the rotation pool used when none is configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

// Config controls collector behavior.
type Config struct {
	UserAgents    []string
	RespectRobots bool
	Timeout       time.Duration
}

// Pacer delays requests to a domain according to its threat level.
type Pacer interface {
	Wait(ctx context.Context, rawURL string, threat crawler.ThreatLevel) error
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	pacer         Pacer
	logger        *zap.Logger

	mu      sync.Mutex
	uaIndex int
}

// New builds a Fetcher. pacer may be nil to fetch without politeness delays.
func New(cfg Config, pacer Pacer, logger *zap.Logger) *Fetcher {
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultUserAgents
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("fetcher")
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.SetRequestTimeout(cfg.Timeout)

	// Clones share the backend, so the transport is configured once here.
	var transport http.RoundTripper = newHTTPTransport()
	if cfg.RespectRobots {
		transport = newRobotsTransport(transport, logger)
	}
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		pacer:         pacer,
		logger:        logger,
	}
}

// Fetch waits for the domain's politeness slot, then executes a single HTTP
// GET. Once the request has been issued it runs to completion or to the
// per-fetch timeout even if ctx is canceled.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if f.pacer != nil {
		if err := f.pacer.Wait(ctx, request.URL, request.Threat); err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("politeness wait: %w", err)
		}
	}

	v := &visit{req: request, start: time.Now()}
	c := f.baseCollector.Clone()
	c.UserAgent = f.userAgent(request.RotateIdentity)
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = !f.cfg.RespectRobots
	c.OnRequest(v.onRequest)
	c.OnResponse(v.onResponse)
	c.OnError(v.onError)

	done := make(chan error, 1)
	go func() { done <- c.Visit(request.URL) }()

	// The collector enforces cfg.Timeout itself; the extra second only
	// guards against a visit that never returns.
	guard := time.NewTimer(f.cfg.Timeout + time.Second)
	defer guard.Stop()

	var err error
	select {
	case <-guard.C:
		// v is still owned by the visit goroutine and must not be read.
		metrics.ObserveFetch(request.URL, 0, 0, time.Since(v.start))
		return crawler.FetchResponse{}, fmt.Errorf("%w: colly visit abandoned", crawler.ErrTimeout)
	case err = <-done:
	}
	if err == nil {
		err = v.err
	}
	metrics.ObserveFetch(request.URL, v.resp.StatusCode, len(v.resp.Body), time.Since(v.start))
	if err != nil {
		f.logger.Debug("fetch failed", zap.String("url", request.URL), zap.Error(err))
		return crawler.FetchResponse{}, classifyError(fmt.Errorf("colly visit: %w", err))
	}

	f.logger.Debug("fetched",
		zap.String("url", request.URL),
		zap.Int("status", v.resp.StatusCode),
		zap.Int("bytes", len(v.resp.Body)),
		zap.Bool("rotated", request.RotateIdentity))
	v.resp.UserAgent = c.UserAgent
	return v.resp, nil
}

// userAgent returns the current identity, advancing the rotation first when
// rotate is set.
func (f *Fetcher) userAgent(rotate bool) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rotate {
		f.uaIndex = (f.uaIndex + 1) % len(f.cfg.UserAgents)
	}
	return f.cfg.UserAgents[f.uaIndex]
}

// visit collects the outcome of one collector run.
type visit struct {
	req   crawler.FetchRequest
	start time.Time
	resp  crawler.FetchResponse
	err   error
}

func (v *visit) onRequest(r *colly.Request) {
	r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	for key, values := range v.req.Headers {
		r.Headers.Del(key)
		for _, val := range values {
			r.Headers.Add(key, val)
		}
	}
}

func (v *visit) onResponse(r *colly.Response) {
	v.resp = crawler.FetchResponse{
		URL:        v.req.URL,
		StatusCode: r.StatusCode,
		Body:       slices.Clone(r.Body),
		Duration:   time.Since(v.start),
	}
	if r.Request != nil && r.Request.URL != nil {
		v.resp.URL = r.Request.URL.String()
	}
	if r.Headers != nil {
		v.resp.Headers = r.Headers.Clone()
	}
}

func (v *visit) onError(r *colly.Response, err error) {
	if r != nil && r.StatusCode > 0 {
		v.resp.StatusCode = r.StatusCode
	}
	v.err = err
}

// classifyError maps transport errors onto the crawler sentinels.
func classifyError(err error) error {
	if errors.Is(err, colly.ErrRobotsTxtBlocked) {
		return fmt.Errorf("%w: %w", crawler.ErrDisallowed, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", crawler.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", crawler.ErrTimeout, err)
	}
	return err
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
