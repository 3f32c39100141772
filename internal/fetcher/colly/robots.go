package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobhunt-agent/internal/metrics"
)

const (
	allowAllRobots     = "User-agent: *\nAllow: /"
	fallbackTLSTimeout = "TLS handshake timeout"
	robotsTxtPath      = "/robots.txt"
)

var defaultRobotsBackoff = []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second}

// robotsTransport sits in front of the collector's transport. Requests for
// /robots.txt that keep timing out are answered with an allow-all document
// so that a flaky probe does not make a whole job board unreachable. Every
// other request passes straight through.
type robotsTransport struct {
	next    http.RoundTripper
	backoff []time.Duration
	logger  *zap.Logger

	mu        sync.Mutex
	fallbacks map[string]string // host -> reason
}

func newRobotsTransport(next http.RoundTripper, logger *zap.Logger) *robotsTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &robotsTransport{
		next:      next,
		backoff:   defaultRobotsBackoff,
		logger:    logger,
		fallbacks: make(map[string]string),
	}
}

func (t *robotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots transport: nil request")
	}
	if !strings.EqualFold(req.URL.Path, robotsTxtPath) {
		return t.next.RoundTrip(req) //nolint:wrapcheck // transparent proxy
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := t.next.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !transientProbeError(err) {
			return nil, fmt.Errorf("robots probe %s: %w", req.URL.Host, err)
		}
		lastErr = err
		if attempt >= len(t.backoff) {
			break
		}
		select {
		case <-req.Context().Done():
			return nil, fmt.Errorf("robots probe %s: %w", req.URL.Host, req.Context().Err())
		case <-time.After(t.backoff[attempt]):
		}
	}

	t.fallBack(req.URL.Host, fallbackTLSTimeout, lastErr)
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Request:       req,
	}, nil
}

func (t *robotsTransport) fallBack(host, reason string, cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.fallbacks[host]; ok {
		return
	}
	t.fallbacks[host] = reason
	metrics.ObserveProbeTLSHandshakeTimeout()
	t.logger.Warn("robots.txt probe indeterminate, allowing all paths",
		zap.String("host", host),
		zap.String("reason", reason),
		zap.Error(cause))
}

// fallbackReason reports whether host was given the allow-all document.
func (t *robotsTransport) fallbackReason(host string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.fallbacks[host]
	return r, ok
}

func transientProbeError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
