package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "clearpix"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "CLEARPIX_DB_DSN"
	EnvDBHost = "CLEARPIX_DB_HOST"
	EnvDBUser = "CLEARPIX_DB_USER"
	EnvDBName = "CLEARPIX_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Stripe       StripeConfig
	Billing      BillingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CLEARPIX_APP_ENV" required:"true"`
	Port         string `envconfig:"CLEARPIX_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CLEARPIX_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CLEARPIX_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"CLEARPIX_DB_DSN"`
	Driver string `envconfig:"CLEARPIX_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CLEARPIX_DB_HOST"`
	LegacyPort     int    `envconfig:"CLEARPIX_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CLEARPIX_DB_USER"`
	LegacyPassword string `envconfig:"CLEARPIX_DB_PASSWORD"`
	LegacyName     string `envconfig:"CLEARPIX_DB_NAME"`
	LegacySSLMode  string `envconfig:"CLEARPIX_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CLEARPIX_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CLEARPIX_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CLEARPIX_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CLEARPIX_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CLEARPIX_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CLEARPIX_REDIS_ADDR"`
	Password     string        `envconfig:"CLEARPIX_REDIS_PASSWORD"`
	DB           int           `envconfig:"CLEARPIX_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CLEARPIX_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CLEARPIX_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CLEARPIX_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CLEARPIX_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CLEARPIX_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type StripeConfig struct {
	APIKey        string `envconfig:"CLEARPIX_STRIPE_API_KEY"`
	WebhookSecret string `envconfig:"CLEARPIX_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"CLEARPIX_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type BillingConfig struct {
	// UpgradeBalanceFactor gates upgrade grants: the tier difference is only
	// credited when the current balance does not exceed factor × previous
	// tier cycle credits.
	UpgradeBalanceFactor        float64       `envconfig:"CLEARPIX_BILLING_UPGRADE_BALANCE_FACTOR" default:"1.5"`
	TrialTopupIncludesPurchased bool          `envconfig:"CLEARPIX_BILLING_TRIAL_TOPUP_INCLUDES_PURCHASED" default:"false"`
	WebhookSkipVerify           bool          `envconfig:"CLEARPIX_BILLING_WEBHOOK_SKIP_VERIFY" default:"false"`
	WebhookDedupTTL             time.Duration `envconfig:"CLEARPIX_BILLING_WEBHOOK_DEDUP_TTL" default:"72h"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"CLEARPIX_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	AnalyticsTopic string `envconfig:"CLEARPIX_PUBSUB_ANALYTICS_TOPIC" default:"cpx-billing-analytics"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CLEARPIX_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
