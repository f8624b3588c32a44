package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Completion    CompletionConfig    `mapstructure:"completion"`
	Usage         UsageConfig         `mapstructure:"usage"`
	Conversations ConversationsConfig `mapstructure:"conversations"`
	Prompts       PromptsConfig       `mapstructure:"prompts"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Monitoring    MonitoringConfig    `mapstructure:"monitoring"`
	I18n          I18nConfig          `mapstructure:"i18n"`
	Telegram      TelegramConfig      `mapstructure:"telegram"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type AuthConfig struct {
	// Mode is "firebase" or "hmac".
	Mode       string         `mapstructure:"mode"`
	HMACSecret string         `mapstructure:"hmac_secret"`
	Issuer     string         `mapstructure:"issuer"`
	Audience   string         `mapstructure:"audience"`
	Firebase   FirebaseConfig `mapstructure:"firebase"`
}

type FirebaseConfig struct {
	ProjectID string `mapstructure:"project_id"`
	CertsURL  string `mapstructure:"certs_url"`
}

type CompletionConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint, Groq by default) or "gemini".
	Provider     string        `mapstructure:"provider"`
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	Temperature  float64       `mapstructure:"temperature"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type UsageConfig struct {
	DailyLimit int            `mapstructure:"daily_limit"`
	Store      string         `mapstructure:"store"`
	Redis      RedisConfig    `mapstructure:"redis"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
	Bolt       BoltConfig     `mapstructure:"bolt"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type PostgresConfig struct {
	URL   string `mapstructure:"url"`
	Table string `mapstructure:"table"`
}

type BoltConfig struct {
	Path string `mapstructure:"path"`
}

type ConversationsConfig struct {
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type PromptsConfig struct {
	Directory string `mapstructure:"directory"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
}

type TelegramConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Token         string `mapstructure:"token"`
	UpdateTimeout int    `mapstructure:"update_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("auth.mode", "firebase")
	v.SetDefault("auth.firebase.certs_url", "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com")

	v.SetDefault("completion.provider", "openai")
	v.SetDefault("completion.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("completion.model", "llama-3.3-70b-versatile")
	v.SetDefault("completion.temperature", 0.7)
	v.SetDefault("completion.system_prompt", "You are a helpful assistant.")
	v.SetDefault("completion.timeout", 120*time.Second)

	v.SetDefault("usage.daily_limit", 5)
	v.SetDefault("usage.store", "memory")
	v.SetDefault("usage.redis.addr", "localhost:6379")
	v.SetDefault("usage.redis.key_prefix", "usage_limits:")
	v.SetDefault("usage.postgres.table", "usage_limits")
	v.SetDefault("usage.bolt.path", "data/usage.bolt")

	v.SetDefault("conversations.cleanup_interval", 10*time.Minute)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_minute", 30)
	v.SetDefault("rate_limit.burst", 5)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("monitoring.metrics.port", 9090)
	v.SetDefault("monitoring.metrics.path", "/metrics")

	v.SetDefault("i18n.default_language", "en")
	v.SetDefault("i18n.languages", []string{"en", "zh"})

	v.SetDefault("telegram.update_timeout", 60)
}

// LoadConfig loads configuration from file and environment variables.
// An empty configPath skips the file and relies on defaults plus env.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("server.port", "PORT")
	v.BindEnv("auth.hmac_secret", "AUTH_HMAC_SECRET")
	v.BindEnv("auth.firebase.project_id", "FIREBASE_PROJECT_ID")
	v.BindEnv("usage.redis.password", "REDIS_PASSWORD")
	v.BindEnv("usage.redis.db", "REDIS_DB")
	v.BindEnv("usage.postgres.url", "DATABASE_URL")
	v.BindEnv("telegram.token", "TELEGRAM_BOT_TOKEN")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Handle Redis address special case
	if redisHost := v.GetString("REDIS_HOST"); redisHost != "" {
		redisPort := v.GetString("REDIS_PORT")
		if redisPort == "" {
			redisPort = "6379"
		}
		config.Usage.Redis.Addr = fmt.Sprintf("%s:%s", redisHost, redisPort)
	}

	// Provider API keys follow the names the hosted services document.
	if config.Completion.APIKey == "" {
		switch config.Completion.Provider {
		case "gemini":
			config.Completion.APIKey = v.GetString("GEMINI_API_KEY")
		default:
			config.Completion.APIKey = v.GetString("GROQ_API_KEY")
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	switch cfg.Completion.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unsupported completion provider: %s", cfg.Completion.Provider)
	}
	if cfg.Completion.APIKey == "" {
		return fmt.Errorf("completion api key is required")
	}

	switch cfg.Auth.Mode {
	case "hmac":
		if cfg.Auth.HMACSecret == "" {
			return fmt.Errorf("auth.hmac_secret is required in hmac mode")
		}
	case "firebase":
		if cfg.Auth.Firebase.ProjectID == "" {
			return fmt.Errorf("auth.firebase.project_id is required in firebase mode")
		}
	default:
		return fmt.Errorf("unsupported auth mode: %s", cfg.Auth.Mode)
	}

	switch cfg.Usage.Store {
	case "memory", "redis", "bolt":
	case "postgres":
		if cfg.Usage.Postgres.URL == "" {
			return fmt.Errorf("usage.postgres.url is required for the postgres store")
		}
	default:
		return fmt.Errorf("unsupported usage store: %s", cfg.Usage.Store)
	}
	if cfg.Usage.DailyLimit <= 0 {
		return fmt.Errorf("usage.daily_limit must be positive")
	}

	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required when telegram is enabled")
	}
	return nil
}
