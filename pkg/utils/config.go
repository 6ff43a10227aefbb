package utils

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	AMQP      AMQPConfig
	JWT       JWTConfig
	Gateway   GatewayConfig
	Payment   PaymentConfig
	Reconcile ReconcileConfig
}

type AppConfig struct {
	Name    string
	Port    string
	Debug   bool
	LogPath string

	// CORSOrigins empty means any origin, without credentials.
	CORSOrigins []string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	MaxConns int32
}

// RedisConfig is optional; an empty URL disables webhook de-duplication
// and the cross-instance chat bus.
type RedisConfig struct {
	URL string
}

// AMQPConfig is optional; an empty URL falls back to the log-only notification sink.
type AMQPConfig struct {
	URL            string
	NotifyExchange string
}

type JWTConfig struct {
	Secret string
}

type GatewayConfig struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
}

type PaymentConfig struct {
	HashSecret      string
	PlatformFeeRate decimal.Decimal
	Currency        string
}

type ReconcileConfig struct {
	Interval      time.Duration
	PendingStale  time.Duration
	// PendingExpiry fails PENDING payments the gateway never resolved. Zero disables it.
	PendingExpiry time.Duration
}

func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")

	// Set defaults
	viper.SetDefault("APP_NAME", "rideshare-escrow")
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("DEBUG", false)
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_MAX_CONNS", 10)
	viper.SetDefault("LOG_PATH", "logs/")
	viper.SetDefault("NOTIFY_EXCHANGE", "rideshare.notifications")
	viper.SetDefault("GATEWAY_TIMEOUT_SECONDS", 15)
	viper.SetDefault("PLATFORM_FEE_RATE", "0.10")
	viper.SetDefault("CURRENCY", "XAF")
	viper.SetDefault("RECONCILE_INTERVAL_SECONDS", 60)
	viper.SetDefault("PENDING_STALE_MINUTES", 15)
	viper.SetDefault("PENDING_EXPIRY_HOURS", 24)

	// .env is optional in containers, env vars win anyway
	if err := viper.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	viper.AutomaticEnv()

	feeRate, err := decimal.NewFromString(viper.GetString("PLATFORM_FEE_RATE"))
	if err != nil {
		return nil, err
	}

	config := &Config{
		App: AppConfig{
			Name:    viper.GetString("APP_NAME"),
			Port:    viper.GetString("PORT"),
			Debug:   viper.GetBool("DEBUG"),
			LogPath: viper.GetString("LOG_PATH"),

			CORSOrigins: splitList(viper.GetString("CORS_ALLOWED_ORIGINS")),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetString("DB_PORT"),
			Name:     viper.GetString("DB_NAME"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASS"),
			MaxConns: viper.GetInt32("DB_MAX_CONNS"),
		},
		Redis: RedisConfig{
			URL: viper.GetString("REDIS_URL"),
		},
		AMQP: AMQPConfig{
			URL:            viper.GetString("AMQP_URL"),
			NotifyExchange: viper.GetString("NOTIFY_EXCHANGE"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("JWT_SECRET"),
		},
		Gateway: GatewayConfig{
			BaseURL:       viper.GetString("GATEWAY_BASE_URL"),
			SecretKey:     viper.GetString("GATEWAY_SECRET_KEY"),
			WebhookSecret: viper.GetString("WEBHOOK_SECRET"),
			Timeout:       time.Duration(viper.GetInt("GATEWAY_TIMEOUT_SECONDS")) * time.Second,
		},
		Payment: PaymentConfig{
			HashSecret:      viper.GetString("PAYMENT_HASH_SECRET"),
			PlatformFeeRate: feeRate,
			Currency:        viper.GetString("CURRENCY"),
		},
		Reconcile: ReconcileConfig{
			Interval:      time.Duration(viper.GetInt("RECONCILE_INTERVAL_SECONDS")) * time.Second,
			PendingStale:  time.Duration(viper.GetInt("PENDING_STALE_MINUTES")) * time.Minute,
			PendingExpiry: time.Duration(viper.GetInt("PENDING_EXPIRY_HOURS")) * time.Hour,
		},
	}

	return config, nil
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
