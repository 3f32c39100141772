package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
)

func TestFetchReturnsBodyAndStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/blocked":
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte("access denied"))
		default:
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html><body>" + r.Header.Get("X-Trace") + "</body></html>"))
		}
	}))
	t.Cleanup(server.Close)

	f := New(Config{UserAgents: []string{"agent-a"}, Timeout: time.Second}, nil, nil)
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:     server.URL + "/jobs",
		Headers: http.Header{"X-Trace": {"yes"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "yes")
	require.Equal(t, "agent-a", resp.UserAgent)

	resp, err = f.Fetch(context.Background(), crawler.FetchRequest{URL: server.URL + "/blocked"})
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "access denied", string(resp.Body))

	// The same URL can be fetched again for retries.
	resp, err = f.Fetch(context.Background(), crawler.FetchRequest{URL: server.URL + "/blocked"})
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestFetchRotatesIdentity(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.UserAgent()))
	}))
	t.Cleanup(server.Close)

	f := New(Config{UserAgents: []string{"agent-a", "agent-b"}, Timeout: time.Second}, nil, nil)
	first, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: server.URL})
	require.NoError(t, err)
	require.Equal(t, "agent-a", string(first.Body))

	rotated, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: server.URL, RotateIdentity: true})
	require.NoError(t, err)
	require.Equal(t, "agent-b", string(rotated.Body))
	require.Equal(t, "agent-b", rotated.UserAgent)
}

func TestFetchTimeoutMapsToErrTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	f := New(Config{Timeout: 100 * time.Millisecond}, nil, nil)
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: server.URL})
	require.Error(t, err)
	require.ErrorIs(t, err, crawler.ErrTimeout)
}

func TestFetchRobotsDisallowed(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(server.Close)

	f := New(Config{RespectRobots: true, Timeout: time.Second}, nil, nil)
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: server.URL + "/private/jobs"})
	require.ErrorIs(t, err, crawler.ErrDisallowed)

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: server.URL + "/public"})
	require.NoError(t, err)
	require.Equal(t, "ok", string(resp.Body))
}

func TestFetchWaitsForPacer(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(server.Close)

	pacer := &stubPacer{err: context.Canceled}
	f := New(Config{Timeout: time.Second}, pacer, nil)
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: server.URL, Threat: crawler.ThreatHigh})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, crawler.ThreatHigh, pacer.threat)
}

func TestVisitCallbacks(t *testing.T) {
	t.Parallel()

	v := &visit{
		req: crawler.FetchRequest{
			URL:     "https://example.com",
			Headers: http.Header{"X-Trace": {"yes"}},
		},
		start: time.Now(),
	}

	collyReq := &colly.Request{Headers: &http.Header{}}
	v.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))
	require.NotEmpty(t, collyReq.Headers.Get("Accept-Language"))

	v.onResponse(&colly.Response{
		StatusCode: http.StatusTooManyRequests,
		Body:       []byte("slow down"),
		Headers:    &http.Header{"Retry-After": {"30"}},
		Request: &colly.Request{
			URL: mustParseURL(t, "https://example.com/jobs"),
		},
	})
	require.Equal(t, http.StatusTooManyRequests, v.resp.StatusCode)
	require.Equal(t, "slow down", string(v.resp.Body))
	require.Equal(t, "30", v.resp.Headers.Get("Retry-After"))
	require.Equal(t, "https://example.com/jobs", v.resp.URL)

	v.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("boom"))
	require.EqualError(t, v.err, "boom")
	require.Equal(t, http.StatusBadGateway, v.resp.StatusCode)
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, classifyError(colly.ErrRobotsTxtBlocked), crawler.ErrDisallowed)
	require.ErrorIs(t, classifyError(context.DeadlineExceeded), crawler.ErrTimeout)
	other := errors.New("connection refused")
	require.Equal(t, other, classifyError(other))
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubPacer struct {
	threat crawler.ThreatLevel
	err    error
}

func (s *stubPacer) Wait(_ context.Context, _ string, threat crawler.ThreatLevel) error {
	s.threat = threat
	return s.err
}
