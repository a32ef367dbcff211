package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	Port        string

	AuthJWTSecret string
	TokenTTL      time.Duration

	AdminUsername string
	AdminPassword string

	GoogleClientID string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	SMTPReplyTo  string

	RazorpayKeyID       string
	RazorpayKeySecret   string
	RazorpayCurrency    string
	RazorpayAmountPaisa int64
	PaymentGrantSeconds float64

	ElevenAPIKey   string
	ElevenAgentID  string
	ElevenTokenURL string

	GeminiAPIKey string
	GeminiModel  string

	WelcomeBonusSeconds float64

	Metering MeteringConfig

	RateLimitEnabled bool
}

// MeteringConfig carries the talk-time billing policy knobs. Defaults match
// the production values; they are overridable mainly so the product team can
// reconcile the heartbeat cap and the flush cap later.
type MeteringConfig struct {
	MaxHeartbeatGap  time.Duration
	MinBillableDelta time.Duration
	FlushCap         time.Duration
	SlotTTL          time.Duration
	LockTTL          time.Duration
	RefillBonus      float64
	RefillInterval   time.Duration
}

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

var ErrMissingJWTSecret = errors.New("AUTH_JWT_SECRET must be set in production")

// Load loads configuration from environment variables and .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	environment := strings.ToLower(getenv("ENVIRONMENT", EnvDevelopment))

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "talktime"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: environment,
		Port:        getenv("PORT", "8080"),

		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		TokenTTL:      getenvDuration("AUTH_TOKEN_TTL", 24*time.Hour),

		AdminUsername: strings.TrimSpace(getenv("ADMIN_USERNAME", "admin")),
		AdminPassword: strings.TrimSpace(getenv("ADMIN_PASSWORD", "")),

		GoogleClientID: strings.TrimSpace(getenv("GOOGLE_CLIENT_ID", "")),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "talktime"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),

		SMTPHost:     strings.TrimSpace(getenv("SMTP_HOST", "")),
		SMTPPort:     getenvInt("SMTP_PORT", 587),
		SMTPUsername: strings.TrimSpace(getenv("SMTP_USER", "")),
		SMTPPassword: strings.TrimSpace(getenv("SMTP_PASSWORD", "")),
		SMTPFrom:     strings.TrimSpace(getenv("FROM_EMAIL", "info@example.com")),
		SMTPFromName: strings.TrimSpace(getenv("FROM_NAME", "AI Voice Coach")),
		SMTPReplyTo:  strings.TrimSpace(getenv("REPLY_TO", "")),

		RazorpayKeyID:       strings.TrimSpace(getenv("RAZORPAY_KEY_ID", "")),
		RazorpayKeySecret:   strings.TrimSpace(getenv("RAZORPAY_KEY_SECRET", "")),
		RazorpayCurrency:    strings.ToUpper(getenv("RAZORPAY_CURRENCY", "INR")),
		RazorpayAmountPaisa: getenvInt64("RAZORPAY_AMOUNT_PAISA", 49900),
		PaymentGrantSeconds: getenvFloat("PAYMENT_GRANT_SECONDS", 100),

		ElevenAPIKey:   strings.TrimSpace(getenv("ELEVEN_API_KEY", "")),
		ElevenAgentID:  strings.TrimSpace(getenv("ELEVEN_AGENT_ID", getenv("AGENT_ID", ""))),
		ElevenTokenURL: strings.TrimSpace(getenv("ELEVEN_TOKEN_URL", "")),

		GeminiAPIKey: strings.TrimSpace(getenv("GEMINI_API_KEY", "")),
		GeminiModel:  getenv("GEMINI_MODEL", "gemini-2.0-flash"),

		WelcomeBonusSeconds: getenvFloat("WELCOME_BONUS_SECONDS", 180),

		Metering: MeteringConfig{
			MaxHeartbeatGap:  getenvDuration("METERING_MAX_HEARTBEAT_GAP", 10*time.Second),
			MinBillableDelta: getenvDuration("METERING_MIN_BILLABLE_DELTA", time.Second),
			FlushCap:         getenvDuration("METERING_FLUSH_CAP", 15*time.Second),
			SlotTTL:          getenvDuration("METERING_SLOT_TTL", time.Hour),
			LockTTL:          getenvDuration("METERING_LOCK_TTL", 5*time.Second),
			RefillBonus:      getenvFloat("METERING_REFILL_BONUS_SECONDS", 900),
			RefillInterval:   getenvDuration("METERING_REFILL_INTERVAL", 30*24*time.Hour),
		},

		RateLimitEnabled: getenvBool("RATE_LIMIT_ENABLED", true),
	}

	if cfg.AuthJWTSecret == "" {
		if cfg.IsProduction() {
			return Config{}, ErrMissingJWTSecret
		}
		cfg.AuthJWTSecret = "dev-only-insecure-secret"
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
