package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	TunnelListStrict  = "strict"
	TunnelListPartial = "partial"
)

type Config struct {
	ServerPort      string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration

	DBUser     string
	DBPassword string
	DBName     string
	DBHost     string
	DBPort     string

	RedisHost     string
	RedisPort     string
	RedisPassword string

	LogLevel  string
	LogFormat string

	SessionSecret string

	LipstickEndpoint string
	LipstickAPIKey   string
	LipstickTimeout  time.Duration

	StripeSecretKey string
	StripeURL       string

	TunnelListMode        string
	TunnelListConcurrency int

	AssignPlanLockTTL time.Duration

	RepairSchedule string
	RepairWindow   time.Duration

	BotToken string
}

// Load reads configuration from the environment (optionally seeded from a
// .env file) and validates it.
func Load() (*Config, error) {
	// .env is optional, the process environment wins.
	_ = godotenv.Load()

	var errs []string
	cfg := &Config{
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second, &errs),
		RequestTimeout:  getDuration("REQUEST_TIMEOUT", 60*time.Second, &errs),

		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "tunnel_billing"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		SessionSecret: getEnv("SESSION_SECRET", ""),

		LipstickEndpoint: strings.TrimSuffix(getEnv("LIPSTICK_ENDPOINT", ""), "/"),
		LipstickAPIKey:   getEnv("LIPSTICK_APIKEY", ""),
		LipstickTimeout:  getDuration("LIPSTICK_TIMEOUT", 10*time.Second, &errs),

		StripeSecretKey: getEnv("STRIPE_SECRET_KEY", ""),
		StripeURL:       getEnv("STRIPE_API_URL", ""),

		TunnelListMode:        getEnv("TUNNEL_LIST_MODE", TunnelListPartial),
		TunnelListConcurrency: getInt("TUNNEL_LIST_CONCURRENCY", 4, &errs),

		AssignPlanLockTTL: getDuration("ASSIGN_PLAN_LOCK_TTL", 30*time.Second, &errs),

		RepairSchedule: getEnv("REPAIR_SCHEDULE", "@every 1h"),
		RepairWindow:   getDuration("REPAIR_WINDOW", 6*time.Hour, &errs),

		BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing or malformed setting at once.
func (c *Config) Validate() error {
	required := []struct{ key, value string }{
		{"SESSION_SECRET", c.SessionSecret},
		{"LIPSTICK_ENDPOINT", c.LipstickEndpoint},
		{"LIPSTICK_APIKEY", c.LipstickAPIKey},
		{"STRIPE_SECRET_KEY", c.StripeSecretKey},
	}
	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.TunnelListMode != TunnelListStrict && c.TunnelListMode != TunnelListPartial {
		return fmt.Errorf("TUNNEL_LIST_MODE must be %q or %q, got %q", TunnelListStrict, TunnelListPartial, c.TunnelListMode)
	}
	if c.TunnelListConcurrency < 1 {
		return fmt.Errorf("TUNNEL_LIST_CONCURRENCY must be positive, got %d", c.TunnelListConcurrency)
	}
	return nil
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration, errs *[]string) time.Duration {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", key, err))
		return fallback
	}
	return d
}

func getInt(key string, fallback int, errs *[]string) int {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", key, err))
		return fallback
	}
	return n
}
