package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the API server and supporting services.
type Config struct {
	HTTPListenAddr string
	LogLevel       string
	AppBaseURL     string

	DBDriver   string
	MySQLDSN   string
	SQLitePath string

	RedisURL string

	FalAPIKey          string
	FalBaseURL         string
	RequestTimeout     time.Duration
	FalPollInterval    time.Duration
	FalMaxPollAttempts int

	StartingCredits   int
	PricingConfigPath string

	JWTSecret string
	JWTIssuer string

	StripeSecretKey     string
	StripeWebhookSecret string

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string

	TelegramBotToken  string
	TelegramOpsChatID int64

	RateLimitImage    int
	RateWindowImage   time.Duration
	RateLimitVideo    int
	RateWindowVideo   time.Duration
	RateLimitPayment  int
	RateWindowPayment time.Duration
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultFalBaseURL = "https://queue.fal.run"

	cfg := Config{
		HTTPListenAddr:     getEnv("HTTP_LISTEN_ADDR", ":8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		AppBaseURL:         strings.TrimRight(getEnv("APP_BASE_URL", ""), "/"),
		DBDriver:           strings.ToLower(getEnv("DB_DRIVER", "mysql")),
		SQLitePath:         getEnv("SQLITE_PATH", filepath.Join("data", "genstudio.db")),
		RedisURL:           os.Getenv("REDIS_URL"),
		FalBaseURL:         normalizeBaseURL(getEnv("FAL_BASE_URL", defaultFalBaseURL), defaultFalBaseURL),
		RequestTimeout:     time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 60)),
		FalPollInterval:    getDuration("FAL_POLL_INTERVAL", 2*time.Second),
		FalMaxPollAttempts: getInt("FAL_MAX_POLL_ATTEMPTS", 150),
		StartingCredits:    getInt("STARTING_CREDITS", 2),
		PricingConfigPath:  os.Getenv("PRICING_CONFIG_PATH"),
		JWTIssuer:          os.Getenv("JWT_ISSUER"),
		S3Endpoint:         getEnv("S3_ENDPOINT", ""),
		S3Region:           os.Getenv("S3_REGION"),
		S3AccessKey:        os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:        os.Getenv("S3_SECRET_KEY"),
		S3Bucket:           os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:    os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:     getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:           getEnv("S3_PREFIX", "generations"),
		TelegramBotToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramOpsChatID:  getInt64("TELEGRAM_OPS_CHAT_ID", 0),
		RateLimitImage:     getInt("RATE_LIMIT_IMAGE", 3),
		RateWindowImage:    getDuration("RATE_WINDOW_IMAGE", 10*time.Second),
		RateLimitVideo:     getInt("RATE_LIMIT_VIDEO", 2),
		RateWindowVideo:    getDuration("RATE_WINDOW_VIDEO", 30*time.Second),
		RateLimitPayment:   getInt("RATE_LIMIT_PAYMENT", 10),
		RateWindowPayment:  getDuration("RATE_WINDOW_PAYMENT", time.Minute),
	}

	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.FalAPIKey = os.Getenv("FAL_API_KEY")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.StripeSecretKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.StripeWebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every missing or inconsistent setting at once.
func (c Config) Validate() error {
	var missing []string
	switch c.DBDriver {
	case "mysql":
		if c.MySQLDSN == "" {
			missing = append(missing, "MYSQL_DSN")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			missing = append(missing, "SQLITE_PATH")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %q (want mysql or sqlite)", c.DBDriver)
	}
	if c.FalAPIKey == "" {
		missing = append(missing, "FAL_API_KEY")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.StripeSecretKey == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if c.S3Region == "" {
		missing = append(missing, "S3_REGION")
	}
	if c.S3AccessKey == "" {
		missing = append(missing, "S3_ACCESS_KEY")
	}
	if c.S3SecretKey == "" {
		missing = append(missing, "S3_SECRET_KEY")
	}
	if c.S3Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if c.S3PublicBaseURL == "" {
		missing = append(missing, "S3_PUBLIC_BASE_URL")
	}
	if c.TelegramBotToken != "" && c.TelegramOpsChatID == 0 {
		missing = append(missing, "TELEGRAM_OPS_CHAT_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}
	if c.StartingCredits < 0 {
		return fmt.Errorf("STARTING_CREDITS must not be negative")
	}
	return nil
}

// normalizeBaseURL fills in a missing scheme and strips trailing slashes.
func normalizeBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	return strings.TrimRight(parsed.String(), "/")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// loadEnvFile overlays the first env file found. Running without one is fine:
// containers usually inject the environment directly.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
