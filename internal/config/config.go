// Package config loads and validates agent configuration via Viper.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobhunt-agent/internal/agent"
	"github.com/JakeFAU/jobhunt-agent/internal/agent/goal"
	"github.com/JakeFAU/jobhunt-agent/internal/agent/recovery"
	"github.com/JakeFAU/jobhunt-agent/internal/agent/world"
	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
	"github.com/JakeFAU/jobhunt-agent/internal/extract"
	collyfetcher "github.com/JakeFAU/jobhunt-agent/internal/fetcher/colly"
	"github.com/JakeFAU/jobhunt-agent/internal/ledger"
	"github.com/JakeFAU/jobhunt-agent/internal/logging"
	"github.com/JakeFAU/jobhunt-agent/internal/output/postgres"
	"github.com/JakeFAU/jobhunt-agent/internal/policy/ratelimit"
	"github.com/JakeFAU/jobhunt-agent/internal/progress"
	pubsubpublisher "github.com/JakeFAU/jobhunt-agent/internal/publisher/pubsub"
	"github.com/JakeFAU/jobhunt-agent/internal/storage/gcs"
	"github.com/JakeFAU/jobhunt-agent/internal/storage/local"
	"github.com/JakeFAU/jobhunt-agent/internal/storage/redis"
	"github.com/JakeFAU/jobhunt-agent/internal/telemetry"
)

// EnvPrefix prefixes every environment override, e.g. JOBHUNT_SERVER_PORT.
const EnvPrefix = "JOBHUNT"

// Storage backends.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Agent      AgentConfig      `mapstructure:"agent"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Recovery   recovery.Config  `mapstructure:"recovery"`
	Scoring    extract.Config   `mapstructure:"scoring"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Output     OutputConfig     `mapstructure:"output"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Logging    logging.Config   `mapstructure:"logging"`
	Tracing    telemetry.Config `mapstructure:"tracing"`
	configFile string
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// AgentConfig governs goals and strategy execution.
type AgentConfig struct {
	Goal            goal.Config `mapstructure:"goal"`
	WindowDays      int         `mapstructure:"window_days"`
	MaxPages        int         `mapstructure:"max_pages"`
	APIPageSize     int         `mapstructure:"api_page_size"`
	SitemapChildren int         `mapstructure:"sitemap_children"`
	SeenBy          string      `mapstructure:"seen_by"`
	EscalateAt      int         `mapstructure:"escalate_at"`
	DecayAfter      int         `mapstructure:"decay_after"`
}

// HTTPConfig configures the page fetcher and its pacing.
type HTTPConfig struct {
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	UserAgents     []string `mapstructure:"user_agents"`
	RespectRobots  bool     `mapstructure:"respect_robots"`
	// ThreatDelays maps a threat level name (none, low, medium, high,
	// blocked) to the minimum interval between requests to one domain.
	ThreatDelays map[string]time.Duration `mapstructure:"threat_delays"`
	// BlockedDomains lists hosts no run may target; "*.example.org"
	// covers every subdomain.
	BlockedDomains []string `mapstructure:"blocked_domains"`
}

// ArchiveConfig names the cached copy services used for fallbacks.
type ArchiveConfig struct {
	CachePrefix   string `mapstructure:"cache_prefix"`
	WaybackPrefix string `mapstructure:"wayback_prefix"`
}

// StorageConfig selects where the shared world model and ledger live.
type StorageConfig struct {
	Backend    string       `mapstructure:"backend"`
	WorldName  string       `mapstructure:"world_name"`
	LedgerName string       `mapstructure:"ledger_name"`
	Local      local.Config `mapstructure:"local"`
	GCS        gcs.Config   `mapstructure:"gcs"`
	Redis      redis.Config `mapstructure:"redis"`
}

// OutputConfig controls where finished records go.
type OutputConfig struct {
	Dir      string                 `mapstructure:"dir"`
	Postgres PostgresConfig         `mapstructure:"postgres"`
	PubSub   pubsubpublisher.Config `mapstructure:"pubsub"`
}

// PostgresConfig controls access to the optional record database.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	RecordsTable    string        `mapstructure:"records_table"`
	RunsTable       string        `mapstructure:"runs_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ProgressConfig sizes the progress hub and the live stream.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
	StreamBuffer   int           `mapstructure:"stream_buffer"`
	LogEvents      bool          `mapstructure:"log_events"`
}

// ScheduleConfig drives unattended runs.
type ScheduleConfig struct {
	Spec        string   `mapstructure:"spec"`
	Targets     []string `mapstructure:"targets"`
	TargetCount int      `mapstructure:"target_count"`
}

// Load builds a Config from .env, disk and environment, in increasing
// precedence. A missing .env file is ignored.
func Load(path string) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.configFile = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")

	v.SetDefault("agent.goal.target_count", goal.DefaultTargetCount)
	v.SetDefault("agent.goal.quality.min_confidence", goal.DefaultMinConfidence)
	v.SetDefault("agent.goal.quality.max_error_rate", goal.DefaultMaxErrorRate)
	v.SetDefault("agent.goal.resources.max_duration", goal.DefaultMaxDuration)
	v.SetDefault("agent.goal.resources.max_requests", goal.DefaultMaxRequests)
	v.SetDefault("agent.goal.min_sample_size", goal.DefaultMinSampleSize)
	v.SetDefault("agent.window_days", agent.DefaultWindowDays)
	v.SetDefault("agent.max_pages", agent.DefaultMaxPages)
	v.SetDefault("agent.api_page_size", agent.DefaultAPIPageSize)
	v.SetDefault("agent.sitemap_children", agent.DefaultSitemapChildren)
	v.SetDefault("agent.seen_by", "")
	v.SetDefault("agent.escalate_at", world.DefaultEscalateAt)
	v.SetDefault("agent.decay_after", world.DefaultDecayAfter)

	v.SetDefault("http.timeout_seconds", 20)
	v.SetDefault("http.user_agents", collyfetcher.DefaultUserAgents)
	v.SetDefault("http.respect_robots", true)

	defaults := recovery.DefaultConfig()
	v.SetDefault("recovery.base_wait", defaults.BaseWait)
	v.SetDefault("recovery.max_wait", defaults.MaxWait)
	v.SetDefault("recovery.jitter", defaults.Jitter)
	v.SetDefault("recovery.abort_streak", defaults.AbortStreak)

	scoring := extract.DefaultConfig()
	w := scoring.Weights
	v.SetDefault("scoring.weights.keyword_text", w.KeywordText)
	v.SetDefault("scoring.weights.keyword_href", w.KeywordHref)
	v.SetDefault("scoring.weights.company_in_href", w.CompanyInHref)
	v.SetDefault("scoring.weights.table_row", w.TableRow)
	v.SetDefault("scoring.weights.job_row", w.JobRow)
	v.SetDefault("scoring.weights.list_item", w.ListItem)
	v.SetDefault("scoring.weights.heading", w.Heading)
	v.SetDefault("scoring.weights.label_neighbor", w.LabelNeighbor)
	v.SetDefault("scoring.weights.memory", w.Memory)
	v.SetDefault("scoring.saturation", scoring.Saturation)
	v.SetDefault("scoring.min_confidence", scoring.MinConfidence)
	v.SetDefault("scoring.extra_blacklist", []string{})

	v.SetDefault("archive.cache_prefix", agent.DefaultCachePrefix)
	v.SetDefault("archive.wayback_prefix", agent.DefaultWaybackPrefix)

	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.world_name", world.DefaultName)
	v.SetDefault("storage.ledger_name", ledger.DefaultName)
	v.SetDefault("storage.local.base_dir", "./data")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.prefix", "jobhunt")
	v.SetDefault("storage.redis.address", "")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.key_prefix", "jobhunt:")

	v.SetDefault("output.dir", "./output")
	v.SetDefault("output.postgres.dsn", "")
	v.SetDefault("output.postgres.records_table", postgres.DefaultRecordsTable)
	v.SetDefault("output.postgres.runs_table", postgres.DefaultRunsTable)
	v.SetDefault("output.postgres.max_conns", 4)
	v.SetDefault("output.postgres.min_conns", 0)
	v.SetDefault("output.postgres.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("output.pubsub.project_id", "")
	v.SetDefault("output.pubsub.topic", "")

	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait", 250*time.Millisecond)
	v.SetDefault("progress.sink_timeout", 5*time.Second)
	v.SetDefault("progress.stream_buffer", 256)
	v.SetDefault("progress.log_events", true)

	v.SetDefault("schedule.spec", "")
	v.SetDefault("schedule.targets", []string{})
	v.SetDefault("schedule.target_count", 0)

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", telemetry.DefaultServiceName)
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Agent.Goal.TargetCount <= 0 {
		return fmt.Errorf("agent.goal.target_count must be > 0")
	}
	if q := c.Agent.Goal.Quality.MinConfidence; q < 0 || q > 1 {
		return fmt.Errorf("agent.goal.quality.min_confidence must be within [0, 1]")
	}
	if q := c.Agent.Goal.Quality.ErrorBudget(); q < 0 || q > 1 {
		return fmt.Errorf("agent.goal.quality.max_error_rate must be within [0, 1]")
	}
	if c.Agent.WindowDays <= 0 {
		return fmt.Errorf("agent.window_days must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if _, err := c.threatDelays(); err != nil {
		return err
	}
	if c.Recovery.MaxWait < c.Recovery.BaseWait {
		return fmt.Errorf("recovery.max_wait must be >= recovery.base_wait")
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set for the gcs backend")
		}
	case BackendRedis:
		if c.Storage.Redis.Address == "" {
			return fmt.Errorf("storage.redis.address must be set for the redis backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend %q is not one of local, gcs, redis, memory", c.Storage.Backend)
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir must be set")
	}
	if c.Output.PubSub.Topic != "" && c.Output.PubSub.ProjectID == "" {
		return fmt.Errorf("output.pubsub.project_id must be set when a topic is configured")
	}
	if len(c.Schedule.Targets) > 0 && c.Schedule.Spec == "" {
		return fmt.Errorf("schedule.spec must be set when schedule targets are configured")
	}
	return nil
}

// ConfigFileUsed reports the file Load read, if any.
func (c Config) ConfigFileUsed() string { return c.configFile }

// AgentConfig assembles the orchestrator configuration.
func (c Config) AgentConfig() agent.Config {
	return agent.Config{
		Goal:            c.Agent.Goal,
		MaxPages:        c.Agent.MaxPages,
		WindowDays:      c.Agent.WindowDays,
		APIPageSize:     c.Agent.APIPageSize,
		SitemapChildren: c.Agent.SitemapChildren,
		CachePrefix:     c.Archive.CachePrefix,
		WaybackPrefix:   c.Archive.WaybackPrefix,
		SeenBy:          c.Agent.SeenBy,
		LedgerName:      c.Storage.LedgerName,
		Topic:           c.Output.PubSub.Topic,
	}
}

// WorldConfig assembles the world model configuration.
func (c Config) WorldConfig() world.Config {
	return world.Config{
		Name:       c.Storage.WorldName,
		EscalateAt: c.Agent.EscalateAt,
		DecayAfter: c.Agent.DecayAfter,
		SeenBy:     c.Agent.SeenBy,
	}
}

// FetcherConfig assembles the Colly fetcher configuration.
func (c Config) FetcherConfig() collyfetcher.Config {
	return collyfetcher.Config{
		UserAgents:    c.HTTP.UserAgents,
		RespectRobots: c.HTTP.RespectRobots,
		Timeout:       time.Duration(c.HTTP.TimeoutSeconds) * time.Second,
	}
}

// LimiterConfig parses the configured threat delays.
func (c Config) LimiterConfig() (ratelimit.Config, error) {
	delays, err := c.threatDelays()
	if err != nil {
		return ratelimit.Config{}, err
	}
	return ratelimit.Config{Delays: delays}, nil
}

func (c Config) threatDelays() (map[crawler.ThreatLevel]time.Duration, error) {
	if len(c.HTTP.ThreatDelays) == 0 {
		return nil, nil
	}
	delays := make(map[crawler.ThreatLevel]time.Duration, len(c.HTTP.ThreatDelays))
	for name, d := range c.HTTP.ThreatDelays {
		var level crawler.ThreatLevel
		if err := level.UnmarshalText([]byte(name)); err != nil {
			return nil, fmt.Errorf("http.threat_delays: %w", err)
		}
		if d < 0 {
			return nil, fmt.Errorf("http.threat_delays.%s must be >= 0", name)
		}
		delays[level] = d
	}
	return delays, nil
}

// PostgresConfig assembles the record database configuration.
func (c Config) PostgresConfig() postgres.Config {
	pg := c.Output.Postgres
	return postgres.Config{
		DSN:             pg.DSN,
		RecordsTable:    pg.RecordsTable,
		RunsTable:       pg.RunsTable,
		MaxConns:        pg.MaxConns,
		MinConns:        pg.MinConns,
		MaxConnLifetime: pg.MaxConnLifetime,
	}
}

// HubConfig assembles the progress hub configuration.
func (c Config) HubConfig(ctx context.Context, logger *zap.Logger) progress.Config {
	return progress.Config{
		BufferSize:     c.Progress.BufferSize,
		MaxBatchEvents: c.Progress.MaxBatchEvents,
		MaxBatchWait:   c.Progress.MaxBatchWait,
		SinkTimeout:    c.Progress.SinkTimeout,
		BaseContext:    ctx,
		Logger:         logger,
	}
}
