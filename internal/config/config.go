package config

import (
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
	HTTPAddr    string

	LogLevel  string
	LogFormat string

	Partner PartnerConfig

	KeysDir string

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
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CallbackRate  float64
	CallbackBurst int
}

// PartnerConfig carries everything needed to talk to the billing gateway
// and to authenticate its callbacks.
type PartnerConfig struct {
	GatewayBaseURL string
	CPID           string
	ServiceID      string
	SubID          string
	APIUsername    string
	APIPassword    string
	ChargeTimeout  time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "billing"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "json"),

		Partner: PartnerConfig{
			GatewayBaseURL: strings.TrimSpace(getenv("PARTNER_GATEWAY_URL", "")),
			CPID:           strings.TrimSpace(getenv("PARTNER_CP_ID", "")),
			ServiceID:      strings.TrimSpace(getenv("PARTNER_SERVICE_ID", "")),
			SubID:          strings.TrimSpace(getenv("PARTNER_SUB_ID", "")),
			APIUsername:    strings.TrimSpace(getenv("PARTNER_API_USERNAME", "")),
			APIPassword:    strings.TrimSpace(getenv("PARTNER_API_PASSWORD", "")),
			ChargeTimeout:  chargeTimeout(getenvInt("PARTNER_CHARGE_TIMEOUT_SECONDS", 60)),
		},

		KeysDir: getenv("PARTNER_KEYS_DIR", "keys"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "billing"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		CallbackRate:  getenvFloat("CALLBACK_RATE", 50),
		CallbackBurst: getenvInt("CALLBACK_BURST", 100),
	}

	return cfg
}

// chargeTimeout clamps the gateway call timeout to the window the partner
// contract allows.
func chargeTimeout(seconds int) time.Duration {
	if seconds < 30 {
		seconds = 30
	}
	if seconds > 300 {
		seconds = 300
	}
	return time.Duration(seconds) * time.Second
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
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
