package cmd

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobhunt-agent/internal/agent"
	"github.com/JakeFAU/jobhunt-agent/internal/agent/agenttest"
	"github.com/JakeFAU/jobhunt-agent/internal/config"
	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
	"github.com/JakeFAU/jobhunt-agent/internal/ledger"
	"github.com/JakeFAU/jobhunt-agent/internal/progress"
	"github.com/JakeFAU/jobhunt-agent/internal/storage"
	"github.com/JakeFAU/jobhunt-agent/internal/storage/memory"
)

type fakeApp struct {
	cfg     *config.Config
	agent   *agent.Agent
	hub     *progress.Hub
	fetcher crawler.Fetcher
	shared  *memory.Store
	closed  bool
	served  bool
}

func (f *fakeApp) Close(ctx context.Context) error {
	f.closed = true
	return f.hub.Close(ctx)
}
func (f *fakeApp) Config() *config.Config   { return f.cfg }
func (f *fakeApp) Logger() *zap.Logger      { return zap.NewNop() }
func (f *fakeApp) Agent() *agent.Agent      { return f.agent }
func (f *fakeApp) Hub() *progress.Hub       { return f.hub }
func (f *fakeApp) Fetcher() crawler.Fetcher { return f.fetcher }
func (f *fakeApp) Shared() storage.Store    { return f.shared }
func (f *fakeApp) Serve(context.Context) error {
	f.served = true
	return nil
}
func (f *fakeApp) RunSchedule(context.Context) error { return errors.New("not scheduled") }
func (f *fakeApp) TickSchedule(context.Context) ([]string, error) {
	return []string{"run-1"}, nil
}

type pageFetcher map[string]string

func (p pageFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	body, ok := p[req.URL]
	if !ok {
		return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound}, nil
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

func newFakeApp(t *testing.T, fetcher crawler.Fetcher) *fakeApp {
	t.Helper()
	cfg := &config.Config{}
	cfg.Agent.WindowDays = 7
	cfg.Agent.SitemapChildren = 5
	return &fakeApp{
		cfg:     cfg,
		agent:   agenttest.New(t, fetcher, agenttest.Options{}),
		hub:     progress.NewHub(progress.Config{}),
		fetcher: fetcher,
		shared:  memory.New(),
	}
}

// execute swaps the application factory, so callers must not run in
// parallel.
func execute(t *testing.T, app *fakeApp, args ...string) (string, error) {
	t.Helper()
	prev := newApp
	newApp = func(context.Context, string) (App, error) { return app, nil }
	t.Cleanup(func() { newApp = prev })

	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunCommandPrintsEventsAndFailsWithoutPostings(t *testing.T) {
	fetcher := agenttest.NewGatedFetcher()
	fetcher.Open()
	app := newFakeApp(t, fetcher)

	out, err := execute(t, app, "run", "--target", "https://jobs.example.com", "--count", "3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
	assert.Contains(t, out, "started for https://jobs.example.com/")
	assert.Contains(t, out, "0 postings")
	assert.True(t, app.closed, "post-run hook closes the app")
}

func TestRunCommandRequiresTarget(t *testing.T) {
	app := newFakeApp(t, pageFetcher{})
	_, err := execute(t, app, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target")
}

func TestRunCommandHonorsBlocklist(t *testing.T) {
	fetcher := agenttest.NewGatedFetcher()
	app := newFakeApp(t, fetcher)
	app.cfg.HTTP.BlockedDomains = []string{"*.example.com"}

	_, err := execute(t, app, "run", "--target", "https://jobs.example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocklisted")
	assert.Zero(t, fetcher.Calls())
}

func TestServeCommandDelegates(t *testing.T) {
	app := newFakeApp(t, pageFetcher{})
	_, err := execute(t, app, "serve")
	require.NoError(t, err)
	assert.True(t, app.served)
}

func TestScheduleCommand(t *testing.T) {
	app := newFakeApp(t, pageFetcher{})

	out, err := execute(t, app, "schedule", "--once")
	require.NoError(t, err)
	assert.Contains(t, out, "started runs: run-1")

	_, err = execute(t, app, "schedule")
	require.EqualError(t, err, "not scheduled")
}

func TestSitemapCommandListsInWindowURLs(t *testing.T) {
	fetcher := pageFetcher{
		"https://jobs.example.com/sitemap.xml": `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://jobs.example.com/acme-hiring/</loc><lastmod>2024-03-05</lastmod></url>
  <url><loc>https://jobs.example.com/old-post/</loc><lastmod>2024-01-05</lastmod></url>
</urlset>`,
	}
	app := newFakeApp(t, fetcher)

	out, err := execute(t, app, "sitemap", "https://jobs.example.com/", "--start", "2024-03-01", "--end", "2024-03-10")
	require.NoError(t, err)
	assert.Contains(t, out, "2024-03-05\thttps://jobs.example.com/acme-hiring/")
	assert.NotContains(t, out, "old-post")
	assert.Contains(t, out, "1 URLs dated")
}

func TestLedgerCommands(t *testing.T) {
	app := newFakeApp(t, pageFetcher{})
	require.NoError(t, app.shared.WriteAtomic(context.Background(), ledger.DefaultName, []byte(
		"https://jobs.example.com/apply/1\t2024-03-01T10:00:00Z\tworker-a\n"+
			"https://jobs.example.com/apply/2\t2024-03-02T10:00:00Z\tworker-b\n")))

	out, err := execute(t, app, "ledger", "list", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "worker-b\thttps://jobs.example.com/apply/2")
	assert.NotContains(t, out, "apply/1")
	assert.Contains(t, out, "1 of 2 entries")

	out, err = execute(t, app, "ledger", "check", "https://JOBS.example.com/apply/1")
	require.NoError(t, err)
	assert.Contains(t, out, "seen: https://jobs.example.com/apply/1")
	assert.Contains(t, out, "worker-a")

	out, err = execute(t, app, "ledger", "check", "https://jobs.example.com/apply/3")
	require.NoError(t, err)
	assert.Contains(t, out, "new: https://jobs.example.com/apply/3")
}

func TestAppInitFailure(t *testing.T) {
	prev := newApp
	newApp = func(context.Context, string) (App, error) { return nil, errors.New("boom") }
	t.Cleanup(func() { newApp = prev })

	root := newRootCmd()
	root.SetArgs([]string{"serve"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
