// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/harvester/internal/pacer"
	"github.com/JakeFAU/harvester/internal/retry"
	"github.com/JakeFAU/harvester/internal/source"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// ErrUnknownSource is returned by Source for names that are not configured.
var ErrUnknownSource = errors.New("unknown source")

// Checkpoint backends.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendGCS      = "gcs"
	BackendRedis    = "redis"
)

// Output backends.
const (
	OutputLocal  = "local"
	OutputGCS    = "gcs"
	OutputMemory = "memory"
)

// Config captures every configuration knob loaded via Viper.
type Config struct {
	Pipeline   PipelineConfig           `mapstructure:"pipeline"`
	Checkpoint CheckpointConfig         `mapstructure:"checkpoint"`
	Output     OutputConfig             `mapstructure:"output"`
	Metrics    MetricsConfig            `mapstructure:"metrics"`
	Logging    LoggingConfig            `mapstructure:"logging"`
	HTTP       HTTPConfig               `mapstructure:"http"`
	Headless   HeadlessConfig           `mapstructure:"headless"`
	Gemini     GeminiConfig             `mapstructure:"gemini"`
	PubSub     PubSubConfig             `mapstructure:"pubsub"`
	Sources    map[string]source.Config `mapstructure:"sources"`
}

// PipelineConfig tunes retries, pacing, checkpoint cadence and concurrency.
// MaxRetries and ForbiddenMaxAttempts of 0 mean unbounded.
type PipelineConfig struct {
	BaseDelay            time.Duration `mapstructure:"base_delay"`
	MaxDelay             time.Duration `mapstructure:"max_delay"`
	BackoffMultiplier    float64       `mapstructure:"backoff_multiplier"`
	JitterFraction       float64       `mapstructure:"jitter_fraction"`
	CapExponent          int           `mapstructure:"cap_exponent"`
	RequestDelay         time.Duration `mapstructure:"request_delay"`
	PauseEveryN          int           `mapstructure:"pause_every_n"`
	PauseDuration        time.Duration `mapstructure:"pause_duration"`
	SaveEveryN           int           `mapstructure:"save_every_n"`
	Concurrency          int           `mapstructure:"concurrency"`
	MaxRetries           int           `mapstructure:"max_retries"`
	ForbiddenFloor       time.Duration `mapstructure:"forbidden_floor"`
	ForbiddenMaxAttempts int           `mapstructure:"forbidden_max_attempts"`
	ProgressEveryN       int           `mapstructure:"progress_every_n"`
	AttemptTimeout       time.Duration `mapstructure:"attempt_timeout"`
	MaterializeOnPause   bool          `mapstructure:"materialize_on_pause"`
	ClearOnComplete      bool          `mapstructure:"clear_on_complete"`
}

// Retry converts the pipeline settings into a retry policy configuration.
func (p PipelineConfig) Retry() retry.Config {
	return retry.Config{
		BaseDelay:            p.BaseDelay,
		MaxDelay:             p.MaxDelay,
		Multiplier:           p.BackoffMultiplier,
		JitterFraction:       p.JitterFraction,
		CapExponent:          p.CapExponent,
		MaxRetries:           p.MaxRetries,
		ForbiddenFloor:       p.ForbiddenFloor,
		ForbiddenMaxAttempts: p.ForbiddenMaxAttempts,
	}
}

// Pacer converts the pipeline settings into a pacer configuration.
func (p PipelineConfig) Pacer() pacer.Config {
	return pacer.Config{
		MinInterval:   p.RequestDelay,
		PauseDuration: p.PauseDuration,
	}
}

// CheckpointConfig selects and configures the checkpoint backend. Every backend keys the
// snapshot by source name.
type CheckpointConfig struct {
	Backend  string             `mapstructure:"backend"`
	Dir      string             `mapstructure:"dir"`
	Postgres PostgresCheckpoint `mapstructure:"postgres"`
	Redis    RedisCheckpoint    `mapstructure:"redis"`
	GCS      GCSCheckpoint      `mapstructure:"gcs"`
}

// PostgresCheckpoint configures the postgres backend.
type PostgresCheckpoint struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// RedisCheckpoint configures the redis backend.
type RedisCheckpoint struct {
	URL       string `mapstructure:"url"`
	Password  string `mapstructure:"password"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// GCSCheckpoint configures the GCS backend.
type GCSCheckpoint struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// OutputConfig selects where rendered artifacts go.
type OutputConfig struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	// Topic receives an artifact notice after each render. Needs pubsub.project_id.
	Topic string `mapstructure:"topic"`
}

// MetricsConfig controls the status server.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features and the level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// HTTPConfig configures the Colly fetcher.
type HTTPConfig struct {
	UserAgent     string `mapstructure:"user_agent"`
	RespectRobots bool   `mapstructure:"respect_robots"`
}

// HeadlessConfig configures the chromedp fetcher.
type HeadlessConfig struct {
	MaxParallel       int           `mapstructure:"max_parallel"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
}

// GeminiConfig configures the AI/search fetcher.
type GeminiConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
	Search  bool   `mapstructure:"search"`
}

// PubSubConfig holds Pub/Sub settings. RunTopic receives run start, pause and completion notices.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	RunTopic  string `mapstructure:"run_topic"`
}

// Load builds a Config from path, or from harvest.yaml in . or $HOME/.harvester when path is
// empty, overlaid with HARVEST_* environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("gemini.api_key", "HARVEST_GEMINI_API_KEY", "GEMINI_API_KEY"); err != nil {
		return Config{}, fmt.Errorf("bind gemini api key: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("harvest")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.harvester")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.base_delay", "2s")
	v.SetDefault("pipeline.max_delay", "5m")
	v.SetDefault("pipeline.backoff_multiplier", 2.0)
	v.SetDefault("pipeline.jitter_fraction", 0.2)
	v.SetDefault("pipeline.cap_exponent", 6)
	v.SetDefault("pipeline.request_delay", "1s")
	v.SetDefault("pipeline.pause_every_n", 0)
	v.SetDefault("pipeline.pause_duration", "60s")
	v.SetDefault("pipeline.save_every_n", 10)
	v.SetDefault("pipeline.concurrency", 1)
	v.SetDefault("pipeline.max_retries", 0)
	v.SetDefault("pipeline.forbidden_floor", "60s")
	v.SetDefault("pipeline.forbidden_max_attempts", 0)
	v.SetDefault("pipeline.progress_every_n", 10)
	v.SetDefault("pipeline.attempt_timeout", "0s")
	v.SetDefault("pipeline.materialize_on_pause", false)
	v.SetDefault("pipeline.clear_on_complete", false)
	v.SetDefault("checkpoint.backend", BackendFile)
	v.SetDefault("checkpoint.dir", ".harvest")
	v.SetDefault("checkpoint.postgres.table", "harvest_checkpoints")
	v.SetDefault("checkpoint.postgres.max_conns", 4)
	v.SetDefault("checkpoint.redis.key_prefix", "harvest:checkpoint:")
	v.SetDefault("checkpoint.gcs.prefix", "checkpoints")
	v.SetDefault("output.backend", OutputLocal)
	v.SetDefault("output.dir", "output")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("http.user_agent", "harvester/1.0")
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.navigation_timeout", "45s")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.search", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := c.Pipeline.validate(); err != nil {
		return err
	}
	switch c.Checkpoint.Backend {
	case BackendFile:
		if c.Checkpoint.Dir == "" {
			return invalid("checkpoint.dir is required for the file backend")
		}
	case BackendMemory:
	case BackendPostgres:
		if c.Checkpoint.Postgres.DSN == "" {
			return invalid("checkpoint.postgres.dsn is required for the postgres backend")
		}
	case BackendRedis:
		if c.Checkpoint.Redis.URL == "" {
			return invalid("checkpoint.redis.url is required for the redis backend")
		}
	case BackendGCS:
		if c.Checkpoint.GCS.Bucket == "" {
			return invalid("checkpoint.gcs.bucket is required for the gcs backend")
		}
	default:
		return invalid("checkpoint.backend %q is not supported", c.Checkpoint.Backend)
	}
	switch c.Output.Backend {
	case OutputLocal:
		if c.Output.Dir == "" {
			return invalid("output.dir is required for the local backend")
		}
	case OutputGCS:
		if c.Output.GCSBucket == "" {
			return invalid("output.gcs_bucket is required for the gcs backend")
		}
	case OutputMemory:
	default:
		return invalid("output.backend %q is not supported", c.Output.Backend)
	}
	if (c.Output.Topic != "" || c.PubSub.RunTopic != "") && c.PubSub.ProjectID == "" {
		return invalid("pubsub.project_id must be set when a topic is configured")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return invalid("metrics.addr must be set when metrics are enabled")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return invalid("logging.level: %v", err)
	}
	if c.Headless.MaxParallel <= 0 {
		return invalid("headless.max_parallel must be > 0")
	}
	for _, name := range c.SourceNames() {
		if err := c.Sources[name].Validate(name); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	return nil
}

func (p PipelineConfig) validate() error {
	switch {
	case p.BaseDelay <= 0:
		return invalid("pipeline.base_delay must be > 0")
	case p.MaxDelay < p.BaseDelay:
		return invalid("pipeline.max_delay must be >= pipeline.base_delay")
	case p.BackoffMultiplier < 1:
		return invalid("pipeline.backoff_multiplier must be >= 1")
	case p.JitterFraction < 0 || p.JitterFraction > 1:
		return invalid("pipeline.jitter_fraction must be within [0, 1]")
	case p.CapExponent <= 0:
		return invalid("pipeline.cap_exponent must be > 0")
	case p.RequestDelay < 0:
		return invalid("pipeline.request_delay must be >= 0")
	case p.PauseEveryN < 0 || p.SaveEveryN < 0 || p.ProgressEveryN < 0:
		return invalid("pipeline.*_every_n must be >= 0")
	case p.PauseEveryN > 0 && p.PauseDuration <= 0:
		return invalid("pipeline.pause_duration must be > 0 when pause_every_n is set")
	case p.Concurrency <= 0:
		return invalid("pipeline.concurrency must be > 0")
	case p.MaxRetries < 0 || p.ForbiddenMaxAttempts < 0:
		return invalid("pipeline.max_retries and pipeline.forbidden_max_attempts must be >= 0")
	case p.ForbiddenFloor < 0 || p.AttemptTimeout < 0:
		return invalid("pipeline durations must be >= 0")
	}
	return nil
}

// Source returns the named source. Names are matched case-insensitively.
func (c Config) Source(name string) (source.Config, error) {
	src, ok := c.Sources[strings.ToLower(name)]
	if !ok {
		return source.Config{}, fmt.Errorf("%w %q (configured: %s)", ErrUnknownSource, name, strings.Join(c.SourceNames(), ", "))
	}
	return src, nil
}

// SourceNames lists the configured sources in sorted order.
func (c Config) SourceNames() []string {
	names := make([]string, 0, len(c.Sources))
	for name := range c.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
