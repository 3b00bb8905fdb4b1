package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"kaboom-collab-backend/pkg/logging"
)

// Config 应用配置结构
type Config struct {
	// 环境配置
	Environment string `mapstructure:"environment"`
	Port        string `mapstructure:"port"`

	// 数据库配置
	UseLocalDB  bool   `mapstructure:"use_local_db"`
	LocalDBPath string `mapstructure:"local_db_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	SupabaseURL string `mapstructure:"supabase_url"`
	SupabaseKey string `mapstructure:"supabase_service_key"`

	// Supabase access tokens are HS256-signed with this secret
	JWTSecret string `mapstructure:"supabase_jwt_secret"`

	// Stripe配置
	StripeSecretKey     string  `mapstructure:"stripe_secret_key"`
	StripeWebhookSecret string  `mapstructure:"stripe_webhook_secret"`
	StripeCurrency      string  `mapstructure:"stripe_currency"`
	PlatformFeePercent  float64 `mapstructure:"platform_fee_percent"`

	// 邮件配置
	SendGridAPIKey  string `mapstructure:"sendgrid_api_key"`
	MailFromAddress string `mapstructure:"mail_from_address"`
	MailFromName    string `mapstructure:"mail_from_name"`

	// 缓存配置
	RedisURL        string        `mapstructure:"redis_url"`
	CatalogCacheTTL time.Duration `mapstructure:"catalog_cache_ttl"`

	// 通知配置
	NotifyQueueSize int `mapstructure:"notify_queue_size"`
	NotifyWorkers   int `mapstructure:"notify_workers"`

	// abandoned incomplete subscriptions
	SweepSchedule string        `mapstructure:"sweep_schedule"`
	SweepAfter    time.Duration `mapstructure:"sweep_after"`

	// CORS配置
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	LogLevel string `mapstructure:"log_level"`
	Debug    bool   `mapstructure:"debug"`
}

const defaultJWTSecret = "your-secret-key-change-in-production"

var defaults = map[string]interface{}{
	"environment":           "development",
	"port":                  "3000",
	"use_local_db":          true,
	"local_db_path":         "kaboom-collab.db",
	"postgres_dsn":          "",
	"supabase_url":          "",
	"supabase_service_key":  "",
	"supabase_jwt_secret":   defaultJWTSecret,
	"stripe_secret_key":     "",
	"stripe_webhook_secret": "",
	"stripe_currency":       "usd",
	"platform_fee_percent":  20.0,
	"sendgrid_api_key":      "",
	"mail_from_address":     "no-reply@kaboomcollab.com",
	"mail_from_name":        "Kaboom Collab",
	"redis_url":             "",
	"catalog_cache_ttl":     "15s",
	"notify_queue_size":     256,
	"notify_workers":        4,
	"sweep_schedule":        "@every 1h",
	"sweep_after":           "24h",
	"allowed_origins":       "*",
	"log_level":             "info",
	"debug":                 false,
}

// FlagSet exposes the settings that may be overridden on the command line.
func FlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	fs.StringP("port", "p", "", "port to listen on")
	fs.String("log-level", "", "log level (trace, debug, info, warn, error)")
	fs.String("environment", "", "development or production")
	return fs
}

// wordSepNormalizeFunc maps flag names like log-level onto config keys like log_level
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "-", "_"))
}

// LoadConfig 加载配置（支持本地和Vercel环境）
func LoadConfig() *Config {
	cfg, err := Load(nil)
	if err != nil {
		logging.AppLogger.Error("could not load config, using defaults", "error", err)
		cfg = &Config{}
		_ = newViper().Unmarshal(cfg)
	}
	return cfg
}

// Load reads .env files, the environment and, when given, command-line flags.
func Load(flags *pflag.FlagSet) (*Config, error) {
	// 根据环境加载对应的 .env 文件
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	switch env {
	case "production":
		loadEnvFile(".env.production")
	default:
		loadEnvFile(".env.local")
	}

	v := newViper()
	if flags != nil {
		flags.SetNormalizeFunc(wordSepNormalizeFunc)
		flags.VisitAll(func(f *pflag.Flag) {
			if f.Changed {
				v.Set(string(wordSepNormalizeFunc(flags, f.Name)), f.Value.String())
			}
		})
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()
	return v
}

func (c *Config) normalize() {
	// Trim whitespace to avoid trailing spaces/newlines from env sources
	c.PostgresDSN = strings.TrimSpace(c.PostgresDSN)
	c.SupabaseURL = strings.TrimSpace(c.SupabaseURL)
	c.SupabaseKey = strings.TrimSpace(c.SupabaseKey)
	c.StripeCurrency = strings.ToLower(strings.TrimSpace(c.StripeCurrency))

	origins := make([]string, 0, len(c.AllowedOrigins))
	for _, o := range c.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c.AllowedOrigins = origins

	if c.PostgresDSN != "" || (c.SupabaseURL != "" && c.SupabaseKey != "") {
		c.UseLocalDB = false
	}

	// 环境特定配置
	if c.IsProduction() {
		if c.UseLocalDB {
			logging.AppLogger.Warn("production environment using local database, configure POSTGRES_DSN or SUPABASE_URL+SUPABASE_SERVICE_KEY")
		}
		c.Debug = false
	} else if c.Debug {
		c.LogLevel = "debug"
	}
}

// Cached config (initialized once per cold start)
var (
	cachedConfig *Config
	configOnce   sync.Once
)

// GetCached returns the process-wide cached Config.
// On serverless (Vercel), it initializes once per cold start and
// reuses it across warm invocations, avoiding per-request parsing.
func GetCached() *Config {
	configOnce.Do(func() {
		cachedConfig = LoadConfig()
	})
	return cachedConfig
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.JWTSecret == "" || c.JWTSecret == defaultJWTSecret {
		if c.IsProduction() {
			return fmt.Errorf("SUPABASE_JWT_SECRET must be set in production")
		}
		logging.AppLogger.Warn("using default JWT secret (not recommended for production)")
	}

	if !c.UseLocalDB && c.PostgresDSN == "" && (c.SupabaseURL == "" || c.SupabaseKey == "") {
		return fmt.Errorf("数据库配置不完整：请配置 POSTGRES_DSN 或 SUPABASE_URL+SUPABASE_SERVICE_KEY")
	}

	if c.IsProduction() && c.StripeSecretKey != "" && c.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET must be set when STRIPE_SECRET_KEY is set in production")
	}

	if c.PlatformFeePercent < 0 || c.PlatformFeePercent > 100 {
		return fmt.Errorf("PLATFORM_FEE_PERCENT must be between 0 and 100, got %v", c.PlatformFeePercent)
	}

	if c.NotifyQueueSize <= 0 || c.NotifyWorkers <= 0 {
		return fmt.Errorf("NOTIFY_QUEUE_SIZE and NOTIFY_WORKERS must be positive")
	}

	return nil
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment 检查是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// loadEnvFile 加载 .env 文件到环境变量，已有的环境变量不会被覆盖
func loadEnvFile(filename string) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return
	}
	if err := godotenv.Load(filename); err != nil {
		logging.AppLogger.Warn("could not load env file", "file", filename, "error", err)
	}
}
