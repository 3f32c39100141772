package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobhunt-agent/internal/config"
	"github.com/JakeFAU/jobhunt-agent/internal/storage/redis"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.Port = 8080
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Storage.Backend = config.BackendMemory
	cfg.Output.Dir = t.TempDir()
	return cfg
}

func build(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	app, err := Build(context.Background(), cfg,
		WithLogger(zap.NewNop()),
		WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, app.Close(ctx))
	})
	return app
}

func TestBuildWiresMemoryBackend(t *testing.T) {
	t.Parallel()

	app := build(t, testConfig(t))
	require.NotNil(t, app.Agent())
	require.NotNil(t, app.Hub())
	require.NotNil(t, app.Fetcher())
	require.NotNil(t, app.Shared())
	assert.Zero(t, app.Dispatcher().Len())

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	sched, err := app.Scheduler()
	require.NoError(t, err)
	assert.Nil(t, sched, "no schedule targets configured")
}

func TestBuildWithRedisBackendAddsReadinessCheck(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Storage.Backend = config.BackendRedis
	cfg.Storage.Redis = redis.Config{Address: mr.Addr(), KeyPrefix: "test:"}

	app := build(t, cfg)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	mr.Close()
	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis")
}

func TestBuildRejectsBadThreatDelays(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.HTTP.ThreatDelays = map[string]time.Duration{"furious": time.Second}

	_, err := Build(context.Background(), cfg,
		WithLogger(zap.NewNop()),
		WithRegisterer(prometheus.NewRegistry()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter config")
}

func TestSchedulerFromConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Schedule.Spec = "0 */6 * * *"
	cfg.Schedule.Targets = []string{"https://jobs.example.com"}
	app := build(t, cfg)

	sched, err := app.Scheduler()
	require.NoError(t, err)
	require.NotNil(t, sched)
	from := time.Date(2024, 3, 10, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC), sched.Next(from))
}

func TestRunScheduleRequiresTargets(t *testing.T) {
	t.Parallel()

	app := build(t, testConfig(t))
	err := app.RunSchedule(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule.targets")
}
