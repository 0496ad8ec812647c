// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config captures all pipeline configuration knobs loaded via Viper.
type Config struct {
	Store      StoreConfig      `mapstructure:"store"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Limits     LimitsConfig     `mapstructure:"limits"`
	Thresholds ThresholdsConfig `mapstructure:"thresholds"`
	Video      VideoConfig      `mapstructure:"video"`
	Models     ModelsConfig     `mapstructure:"models"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Extract    ExtractConfig    `mapstructure:"extract"`
	Publish    PublishConfig    `mapstructure:"publish"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// StoreConfig selects and configures the relational store.
type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// HTTPConfig configures provider HTTP calls and their retry behavior.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
	BaseDelayMs    int    `mapstructure:"base_delay_ms"`
	MaxDelayMs     int    `mapstructure:"max_delay_ms"`
	UserAgent      string `mapstructure:"user_agent"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
}

// LimitsConfig bounds how much work each stage takes per invocation.
type LimitsConfig struct {
	ItemsPerSource int `mapstructure:"items_per_source"`
	Sources        int `mapstructure:"sources"`
	ExtractBatch   int `mapstructure:"extract_batch"`
	QueueBatch     int `mapstructure:"queue_batch"`
	ReviewBatch    int `mapstructure:"review_batch"`
	PublishBatch   int `mapstructure:"publish_batch"`
}

// ThresholdsConfig holds the confidence cut-offs used for automated decisions.
type ThresholdsConfig struct {
	Approve   float64 `mapstructure:"approve"`
	Reject    float64 `mapstructure:"reject"`
	Relevance float64 `mapstructure:"relevance"`
}

// VideoConfig governs the video extraction sub-pipeline.
type VideoConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	Only                 bool   `mapstructure:"only"`
	MaxSeconds           int    `mapstructure:"max_seconds"`
	MaxHeight            int    `mapstructure:"max_height"`
	FrameIntervalSeconds int    `mapstructure:"frame_interval_seconds"`
	MaxFrames            int    `mapstructure:"max_frames"`
	KeepArtifacts        bool   `mapstructure:"keep_artifacts"`
	ArtifactDir          string `mapstructure:"artifact_dir"`
	Archive              string `mapstructure:"archive"`
	ArchiveDir           string `mapstructure:"archive_dir"`
	GCSBucket            string `mapstructure:"gcs_bucket"`
}

// ModelsConfig names the models used for each extraction call.
type ModelsConfig struct {
	Vision     string `mapstructure:"vision"`
	Text       string `mapstructure:"text"`
	Transcribe string `mapstructure:"transcribe"`
}

// ProvidersConfig holds endpoints and credentials for external providers.
type ProvidersConfig struct {
	YouTubeAPIKey   string `mapstructure:"youtube_api_key"`
	YouTubeBaseURL  string `mapstructure:"youtube_base_url"`
	RedditBaseURL   string `mapstructure:"reddit_base_url"`
	BraveAPIKey     string `mapstructure:"brave_api_key"`
	BraveBaseURL    string `mapstructure:"brave_base_url"`
	SerpAPIKey      string `mapstructure:"serpapi_key"`
	SerpAPIBaseURL  string `mapstructure:"serpapi_base_url"`
	FeedFallbackURL string `mapstructure:"feed_fallback_url"`
	OpenAIAPIKey    string `mapstructure:"openai_api_key"`
	OpenAIBaseURL   string `mapstructure:"openai_base_url"`
	MinIntervalMs   int    `mapstructure:"min_interval_ms"`
}

// ExtractConfig tunes the text extraction path.
type ExtractConfig struct {
	SnippetMinChars     int `mapstructure:"snippet_min_chars"`
	MaxChars            int `mapstructure:"max_chars"`
	HeuristicMaxMatches int `mapstructure:"heuristic_max_matches"`
}

// PublishConfig toggles auto-publish passes and notifications.
type PublishConfig struct {
	AutoDrills    bool   `mapstructure:"auto_drills"`
	AutoRoutines  bool   `mapstructure:"auto_routines"`
	PubSubProject string `mapstructure:"pubsub_project"`
	PubSubTopic   string `mapstructure:"pubsub_topic"`
}

// MetricsConfig controls the Prometheus textfile dump.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// Options tell Load where configuration lives.
type Options struct {
	// Path is an optional YAML/JSON/TOML config file.
	Path string
	// EnvFile is an optional dotenv file; a missing file is ignored.
	EnvFile string
	// Flags are bound into viper using FlagKeys.
	Flags *pflag.FlagSet
}

// FlagKeys maps CLI flag names to configuration keys.
var FlagKeys = map[string]string{
	"store":               "store.driver",
	"dsn":                 "store.dsn",
	"dev":                 "logging.development",
	"items-per-source":    "limits.items_per_source",
	"sources":             "limits.sources",
	"extract-batch":       "limits.extract_batch",
	"queue-batch":         "limits.queue_batch",
	"review-batch":        "limits.review_batch",
	"publish-batch":       "limits.publish_batch",
	"approve-threshold":   "thresholds.approve",
	"reject-threshold":    "thresholds.reject",
	"relevance-threshold": "thresholds.relevance",
	"video":               "video.enabled",
	"video-only":          "video.only",
	"max-video-seconds":   "video.max_seconds",
	"keep-artifacts":      "video.keep_artifacts",
	"vision-model":        "models.vision",
	"text-model":          "models.text",
	"transcribe-model":    "models.transcribe",
	"auto-drills":         "publish.auto_drills",
	"auto-routines":       "publish.auto_routines",
	"metrics-textfile":    "metrics.textfile",
}

// Load builds a Config from flags, environment, an optional file, and defaults, in that precedence.
func Load(opts Options) (Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if opts.Path != "" {
		v.SetConfigFile(opts.Path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if opts.Flags != nil {
		for name, key := range FlagKeys {
			flag := opts.Flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
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
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("logging.development", true)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.base_delay_ms", 500)
	v.SetDefault("http.max_delay_ms", 8000)
	v.SetDefault("http.user_agent", "combat-training-ingest/0.1")
	v.SetDefault("http.respect_robots", true)
	v.SetDefault("limits.items_per_source", 10)
	v.SetDefault("limits.sources", 25)
	v.SetDefault("limits.extract_batch", 10)
	v.SetDefault("limits.queue_batch", 25)
	v.SetDefault("limits.review_batch", 100)
	v.SetDefault("limits.publish_batch", 100)
	v.SetDefault("thresholds.approve", 0.78)
	v.SetDefault("thresholds.reject", 0.28)
	v.SetDefault("thresholds.relevance", 0.45)
	v.SetDefault("video.enabled", true)
	v.SetDefault("video.only", false)
	v.SetDefault("video.max_seconds", 1200)
	v.SetDefault("video.max_height", 720)
	v.SetDefault("video.frame_interval_seconds", 20)
	v.SetDefault("video.max_frames", 12)
	v.SetDefault("video.keep_artifacts", false)
	v.SetDefault("video.artifact_dir", "data/video")
	v.SetDefault("video.archive", "none")
	v.SetDefault("video.archive_dir", "data/archive")
	v.SetDefault("models.vision", "gpt-4o-mini")
	v.SetDefault("models.text", "gpt-4o-mini")
	v.SetDefault("models.transcribe", "whisper-1")
	v.SetDefault("providers.youtube_base_url", "https://www.googleapis.com/youtube/v3")
	v.SetDefault("providers.reddit_base_url", "https://www.reddit.com")
	v.SetDefault("providers.brave_base_url", "https://api.search.brave.com/res/v1")
	v.SetDefault("providers.serpapi_base_url", "https://serpapi.com")
	v.SetDefault("providers.feed_fallback_url", "https://news.google.com/rss/search?q=%s&hl=en-US&gl=US&ceid=US:en")
	v.SetDefault("providers.openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("providers.min_interval_ms", 1100)
	v.SetDefault("extract.snippet_min_chars", 400)
	v.SetDefault("extract.max_chars", 12000)
	v.SetDefault("extract.heuristic_max_matches", 8)
	v.SetDefault("publish.auto_drills", true)
	v.SetDefault("publish.auto_routines", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set when store.driver is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver must be postgres or memory, got %q", c.Store.Driver)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.HTTP.BaseDelayMs < 0 || c.HTTP.MaxDelayMs < c.HTTP.BaseDelayMs {
		return fmt.Errorf("http delays must satisfy 0 <= base_delay_ms <= max_delay_ms")
	}
	limits := map[string]int{
		"limits.items_per_source": c.Limits.ItemsPerSource,
		"limits.sources":          c.Limits.Sources,
		"limits.extract_batch":    c.Limits.ExtractBatch,
		"limits.queue_batch":      c.Limits.QueueBatch,
		"limits.review_batch":     c.Limits.ReviewBatch,
		"limits.publish_batch":    c.Limits.PublishBatch,
	}
	for key, value := range limits {
		if value <= 0 {
			return fmt.Errorf("%s must be > 0", key)
		}
	}
	t := c.Thresholds
	if t.Reject < 0 || t.Reject >= t.Approve || t.Approve > 0.999 {
		return fmt.Errorf("thresholds must satisfy 0 <= reject < approve <= 0.999, got reject=%v approve=%v", t.Reject, t.Approve)
	}
	if t.Relevance < 0 || t.Relevance > 1 {
		return fmt.Errorf("thresholds.relevance must be within [0,1]")
	}
	if c.Video.Enabled {
		if c.Video.MaxSeconds <= 0 || c.Video.FrameIntervalSeconds <= 0 || c.Video.MaxFrames <= 0 {
			return fmt.Errorf("video.max_seconds, video.frame_interval_seconds and video.max_frames must be > 0")
		}
	}
	switch c.Video.Archive {
	case "", "none", "local":
	case "gcs":
		if c.Video.GCSBucket == "" {
			return fmt.Errorf("video.gcs_bucket must be set when video.archive is gcs")
		}
	default:
		return fmt.Errorf("video.archive must be none, local or gcs, got %q", c.Video.Archive)
	}
	if c.Publish.PubSubTopic != "" && c.Publish.PubSubProject == "" {
		return fmt.Errorf("publish.pubsub_project must be set when publish.pubsub_topic is set")
	}
	return nil
}

// RequestTimeout converts the HTTP timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ProviderInterval is the minimum spacing between calls to one provider.
func (c Config) ProviderInterval() time.Duration {
	return time.Duration(c.Providers.MinIntervalMs) * time.Millisecond
}
