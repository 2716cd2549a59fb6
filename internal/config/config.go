package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/ingest-cli/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Breaker    BreakerConfig    `yaml:"breaker" mapstructure:"breaker"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" mapstructure:"rate_limit"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	YouTube    YouTubeConfig    `yaml:"youtube" mapstructure:"youtube"`
	Supadata   SupadataConfig   `yaml:"supadata" mapstructure:"supadata"`
	Decodo     DecodoConfig     `yaml:"decodo" mapstructure:"decodo"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Firecrawl  FirecrawlConfig  `yaml:"firecrawl" mapstructure:"firecrawl"`
	Mistral    MistralConfig    `yaml:"mistral" mapstructure:"mistral"`
	PDF        PDFConfig        `yaml:"pdf" mapstructure:"pdf"`
	Browser    BrowserConfig    `yaml:"browser" mapstructure:"browser"`
	FTP        FTPConfig        `yaml:"ftp" mapstructure:"ftp"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the state store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres"`
	Path        string `yaml:"path" mapstructure:"path" validate:"required_if=Driver sqlite"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url" validate:"required_if=Driver postgres"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns" validate:"gte=0"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns" validate:"gte=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// CacheConfig configures result caching.
type CacheConfig struct {
	TTLSecs int `yaml:"ttl_secs" mapstructure:"ttl_secs" validate:"gte=1"`
	// SourceTTLSecs overrides the TTL per source type.
	SourceTTLSecs map[string]int `yaml:"source_ttl_secs" mapstructure:"source_ttl_secs"`
}

// BreakerConfig configures the per-provider circuit breaker.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold" validate:"gte=1"`
	CoolDownSecs     int `yaml:"cool_down_secs" mapstructure:"cool_down_secs" validate:"gte=1"`
	ProbeTimeoutSecs int `yaml:"probe_timeout_secs" mapstructure:"probe_timeout_secs" validate:"gte=0"`
}

// RetryConfig configures retries of transient provider failures.
type RetryConfig struct {
	MaxAttempts        int     `yaml:"max_attempts" mapstructure:"max_attempts" validate:"gte=1"`
	InitialBackoffMs   int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms" validate:"gte=0"`
	MaxBackoffMs       int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms" validate:"gte=0"`
	Multiplier         float64 `yaml:"multiplier" mapstructure:"multiplier" validate:"gte=1"`
	JitterFraction     float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction" validate:"gte=0,lte=1"`
	AttemptTimeoutSecs int     `yaml:"attempt_timeout_secs" mapstructure:"attempt_timeout_secs" validate:"gte=0"`
}

// RateLimitConfig configures per-provider request spacing.
type RateLimitConfig struct {
	MinSpacingMs int `yaml:"min_spacing_ms" mapstructure:"min_spacing_ms" validate:"gte=0"`
	// ProvidersMs overrides the spacing per provider name.
	ProvidersMs   map[string]int `yaml:"providers_ms" mapstructure:"providers_ms"`
	MaxWaitMs     int            `yaml:"max_wait_ms" mapstructure:"max_wait_ms" validate:"gte=0"`
	WaitProviders []string       `yaml:"wait_providers" mapstructure:"wait_providers"`
}

// FetchConfig configures direct HTTP fetching.
type FetchConfig struct {
	UserAgent          string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs        int    `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gte=1"`
	MaxBodyMB          int    `yaml:"max_body_mb" mapstructure:"max_body_mb" validate:"gte=1"`
	FailureWindowHours int    `yaml:"failure_window_hours" mapstructure:"failure_window_hours" validate:"gte=1"`
}

// SourcesConfig holds the provider order per source type. An empty list
// keeps the built-in order.
type SourcesConfig struct {
	YouTube  []string `yaml:"youtube" mapstructure:"youtube"`
	Web      []string `yaml:"web" mapstructure:"web"`
	PDF      []string `yaml:"pdf" mapstructure:"pdf"`
	Document []string `yaml:"document" mapstructure:"document"`
}

// Orders returns the configured orders keyed by source type name.
func (s SourcesConfig) Orders() map[string][]string {
	out := make(map[string][]string)
	for name, order := range map[string][]string{
		"youtube":  s.YouTube,
		"web":      s.Web,
		"pdf":      s.PDF,
		"document": s.Document,
	} {
		if len(order) > 0 {
			out[name] = order
		}
	}
	return out
}

// YouTubeConfig configures transcript providers and the quality gate.
type YouTubeConfig struct {
	APIKey           string  `yaml:"api_key" mapstructure:"api_key"`
	Lang             string  `yaml:"lang" mapstructure:"lang"`
	MinLength        int     `yaml:"min_length" mapstructure:"min_length" validate:"gte=0"`
	MinAvgWordLength float64 `yaml:"min_avg_word_length" mapstructure:"min_avg_word_length" validate:"gte=0"`
	MaxRepetition    float64 `yaml:"max_repetition" mapstructure:"max_repetition" validate:"gte=0,lte=1"`
	MinRelevance     float64 `yaml:"min_relevance" mapstructure:"min_relevance" validate:"gte=0,lte=1"`
}

// SupadataConfig holds Supadata API settings.
type SupadataConfig struct {
	APIKey          string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL         string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	PollTimeoutSecs int    `yaml:"poll_timeout_secs" mapstructure:"poll_timeout_secs" validate:"gte=0"`
}

// DecodoConfig holds Decodo scraper API settings. APIKey is the Basic auth
// token from the Decodo dashboard.
type DecodoConfig struct {
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
}

// JinaConfig holds Jina AI Reader settings. Jina works without a key at a
// lower quota.
type JinaConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
}

// FirecrawlConfig holds Firecrawl API settings.
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
}

// MistralConfig holds Mistral OCR settings.
type MistralConfig struct {
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
	Model  string `yaml:"model" mapstructure:"model"`
}

// PDFConfig configures local PDF extraction.
type PDFConfig struct {
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MaxPages      int    `yaml:"max_pages" mapstructure:"max_pages" validate:"gte=0"`
	MaxSizeMB     int    `yaml:"max_size_mb" mapstructure:"max_size_mb" validate:"gte=1"`
}

// BrowserConfig configures headless browser rendering.
type BrowserConfig struct {
	Enabled     bool `yaml:"enabled" mapstructure:"enabled"`
	TimeoutSecs int  `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gte=1"`
	SettleMs    int  `yaml:"settle_ms" mapstructure:"settle_ms" validate:"gte=0"`
}

// FTPConfig configures FTP document downloads.
type FTPConfig struct {
	User        string `yaml:"user" mapstructure:"user"`
	Password    string `yaml:"password" mapstructure:"password"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gte=1"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs" validate:"gte=0"`
	FetchTimeoutSecs    int      `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs" validate:"gte=0"`
	CORSOrigins         []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency" validate:"gte=1"`
}

// MonitoringConfig configures provider health alerts. Alerts are only
// delivered when WebhookURL is set.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs" validate:"gte=0"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours" validate:"gte=1"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold" validate:"gte=0,lte=1"`
	MinAttempts          int     `yaml:"min_attempts" mapstructure:"min_attempts" validate:"gte=0"`
}

// LoadDotEnv loads the first .env found walking up from the working
// directory, then ~/.ingest-cli/.env. Variables already set in the
// environment win.
func LoadDotEnv() []string {
	var loaded []string
	if dir, err := os.Getwd(); err == nil {
		for {
			p := filepath.Join(dir, ".env")
			if _, err := os.Stat(p); err == nil {
				if godotenv.Load(p) == nil {
					loaded = append(loaded, p)
				}
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".ingest-cli", ".env")
		if _, err := os.Stat(p); err == nil && godotenv.Load(p) == nil {
			loaded = append(loaded, p)
		}
	}
	return loaded
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	LoadDotEnv()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.ingest-cli")

	// Environment
	v.SetEnvPrefix("INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key needs one so AutomaticEnv can override it.
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", ".cache/ingest-cli.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("cache.ttl_secs", 7*24*3600)
	v.SetDefault("breaker.failure_threshold", 3)
	v.SetDefault("breaker.cool_down_secs", 2*3600)
	v.SetDefault("breaker.probe_timeout_secs", 300)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 2000)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("retry.attempt_timeout_secs", 30)
	v.SetDefault("rate_limit.min_spacing_ms", 2000)
	v.SetDefault("rate_limit.max_wait_ms", 5000)
	v.SetDefault("rate_limit.wait_providers", []string{})
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (compatible; ingest-cli/1.0)")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_body_mb", 50)
	v.SetDefault("fetch.failure_window_hours", 24)
	v.SetDefault("sources.youtube", []string{})
	v.SetDefault("sources.web", []string{})
	v.SetDefault("sources.pdf", []string{})
	v.SetDefault("sources.document", []string{})
	v.SetDefault("youtube.api_key", "")
	v.SetDefault("youtube.lang", "en")
	v.SetDefault("youtube.min_length", 100)
	v.SetDefault("youtube.min_avg_word_length", 2.5)
	v.SetDefault("youtube.max_repetition", 0.10)
	v.SetDefault("youtube.min_relevance", 0.3)
	v.SetDefault("supadata.api_key", "")
	v.SetDefault("supadata.base_url", "https://api.supadata.ai/v1")
	v.SetDefault("supadata.poll_timeout_secs", 20)
	v.SetDefault("decodo.api_key", "")
	v.SetDefault("decodo.base_url", "https://scraper-api.decodo.com/v2")
	v.SetDefault("jina.enabled", true)
	v.SetDefault("jina.key", "")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("firecrawl.key", "")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v1")
	v.SetDefault("mistral.api_key", "")
	v.SetDefault("mistral.model", "mistral-ocr-latest")
	v.SetDefault("pdf.pdftotext_path", "pdftotext")
	v.SetDefault("pdf.max_pages", 50)
	v.SetDefault("pdf.max_size_mb", 20)
	v.SetDefault("browser.enabled", false)
	v.SetDefault("browser.timeout_secs", 30)
	v.SetDefault("browser.settle_ms", 2000)
	v.SetDefault("ftp.user", "")
	v.SetDefault("ftp.password", "")
	v.SetDefault("ftp.timeout_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_secs", 15)
	v.SetDefault("server.fetch_timeout_secs", 120)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 1)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.min_attempts", 10)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	vd := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their yaml keys.
	vd.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return vd
}

// Validate checks field constraints, then the requirements of mode. Known
// modes are "serve"; any other mode only runs the field checks.
func (c *Config) Validate(mode string) error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return eris.Wrap(err, "config: validate")
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}

	if mode == "serve" && (c.Server.Port < 1 || c.Server.Port > 65535) {
		problems = append(problems, fmt.Sprintf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ValidateOrders checks that configured provider orders only name providers
// in known, which maps provider names to the source type they serve.
func (c *Config) ValidateOrders(known map[string]model.SourceType) error {
	var problems []string
	for source, order := range c.Sources.Orders() {
		for _, name := range order {
			st, ok := known[name]
			switch {
			case !ok:
				problems = append(problems, fmt.Sprintf("sources.%s: unknown provider %q", source, name))
			case string(st) != source:
				problems = append(problems, fmt.Sprintf("sources.%s: provider %q serves %s", source, name, st))
			}
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	// Namespace is "Config.store.database_url"; drop the root.
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required", "required_if":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fmt.Sprint(fe.Value()))
	case "url":
		return field + " must be a URL"
	default:
		return fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param())
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
