package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobhunt-agent/internal/agent"
	"github.com/JakeFAU/jobhunt-agent/internal/agent/world"
	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
	"github.com/JakeFAU/jobhunt-agent/internal/ledger"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
agent:
  goal:
    target_count: 25
    quality:
      min_confidence: 0.5
    resources:
      max_duration: 20m
      max_requests: 120
  window_days: 3
  seen_by: worker-a
http:
  timeout_seconds: 45
  respect_robots: false
  user_agents: ["agent-one", "agent-two"]
  threat_delays:
    none: 1s
    blocked: 2m
  blocked_domains: ["*.example.org", "spam.example.net"]
storage:
  backend: redis
  redis:
    address: localhost:6379
output:
  dir: /tmp/out
  pubsub:
    project_id: proj
    topic: jobs
schedule:
  spec: "0 */6 * * *"
  targets: ["https://jobs.example.com"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.ConfigFileUsed() != path {
		t.Fatalf("expected config file %s, got %s", path, cfg.ConfigFileUsed())
	}

	ac := cfg.AgentConfig()
	assert.Equal(t, 25, ac.Goal.TargetCount)
	assert.InDelta(t, 0.5, ac.Goal.Quality.MinConfidence, 1e-9)
	assert.InDelta(t, 0.15, ac.Goal.Quality.ErrorBudget(), 1e-9, "unset keys keep defaults")
	assert.Equal(t, 20*time.Minute, ac.Goal.Resources.MaxDuration)
	assert.Equal(t, 120, ac.Goal.Resources.MaxRequests)
	assert.Equal(t, 3, ac.WindowDays)
	assert.Equal(t, "worker-a", ac.SeenBy)
	assert.Equal(t, "jobs", ac.Topic)
	assert.Equal(t, ledger.DefaultName, ac.LedgerName)
	assert.Equal(t, agent.DefaultCachePrefix, ac.CachePrefix)

	wc := cfg.WorldConfig()
	assert.Equal(t, world.DefaultName, wc.Name)
	assert.Equal(t, "worker-a", wc.SeenBy)

	fc := cfg.FetcherConfig()
	assert.Equal(t, []string{"agent-one", "agent-two"}, fc.UserAgents)
	assert.False(t, fc.RespectRobots)
	assert.Equal(t, 45*time.Second, fc.Timeout)

	assert.Equal(t, []string{"*.example.org", "spam.example.net"}, cfg.HTTP.BlockedDomains)

	lc, err := cfg.LimiterConfig()
	require.NoError(t, err)
	assert.Equal(t, map[crawler.ThreatLevel]time.Duration{
		crawler.ThreatNone:    time.Second,
		crawler.ThreatBlocked: 2 * time.Minute,
	}, lc.Delays)

	assert.Equal(t, BackendRedis, cfg.Storage.Backend)
	assert.Equal(t, "localhost:6379", cfg.Storage.Redis.Address)
	assert.Equal(t, "jobhunt:", cfg.Storage.Redis.KeyPrefix)
	assert.Equal(t, []string{"https://jobs.example.com"}, cfg.Schedule.Targets)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, BackendLocal, cfg.Storage.Backend)
	assert.Equal(t, "./data", cfg.Storage.Local.BaseDir)
	assert.Equal(t, 10, cfg.Agent.Goal.TargetCount)
	assert.Equal(t, 10, cfg.Agent.Goal.MinSampleSize)
	assert.Equal(t, 4, cfg.Recovery.AbortStreak)
	assert.True(t, cfg.HTTP.RespectRobots)
	assert.NotEmpty(t, cfg.HTTP.UserAgents)
	assert.Positive(t, cfg.Scoring.Weights.KeywordText)
	assert.Empty(t, cfg.PostgresConfig().DSN)
	assert.Equal(t, "job_records", cfg.PostgresConfig().RecordsTable)

	lc, err := cfg.LimiterConfig()
	require.NoError(t, err)
	assert.Nil(t, lc.Delays, "no overrides keeps the limiter defaults")
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("JOBHUNT_SERVER_PORT", "9191")
	t.Setenv("JOBHUNT_STORAGE_BACKEND", "memory")
	t.Setenv("JOBHUNT_AGENT_GOAL_TARGET_COUNT", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, 7, cfg.Agent.Goal.TargetCount)
}

func TestLoadDotEnv(t *testing.T) {
	const key = "JOBHUNT_DOTENV_PROBE"
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte(key+"=from-file\n"), 0o600))

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv(key))

	require.NoError(t, loadDotEnv(filepath.Join(dir, "missing.env")), "a missing file is ignored")
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "auth without key",
			body: "auth:\n  enabled: true\n",
			want: "auth.api_key",
		},
		{
			name: "unknown backend",
			body: "storage:\n  backend: s3\n",
			want: "storage.backend",
		},
		{
			name: "gcs without bucket",
			body: "storage:\n  backend: gcs\n",
			want: "storage.gcs.bucket",
		},
		{
			name: "bad threat name",
			body: "http:\n  threat_delays:\n    furious: 1s\n",
			want: "http.threat_delays",
		},
		{
			name: "error rate out of range",
			body: "agent:\n  goal:\n    quality:\n      max_error_rate: 1.5\n",
			want: "max_error_rate",
		},
		{
			name: "topic without project",
			body: "output:\n  pubsub:\n    topic: jobs\n",
			want: "output.pubsub.project_id",
		},
		{
			name: "targets without spec",
			body: "schedule:\n  targets: [\"https://example.com\"]\n",
			want: "schedule.spec",
		},
		{
			name: "inverted recovery waits",
			body: "recovery:\n  base_wait: 1m\n  max_wait: 1s\n",
			want: "recovery.max_wait",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}
