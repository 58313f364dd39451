package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "PLANSYNC"

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvAppEnv     = "PLANSYNC_APP_ENV"
	EnvPort       = "PLANSYNC_APP_PORT"
	EnvDBDSN      = "PLANSYNC_DB_DSN"
	EnvDBHost     = "PLANSYNC_DB_HOST"
	EnvDBUser     = "PLANSYNC_DB_USER"
	EnvDBName     = "PLANSYNC_DB_NAME"
	EnvRedisURL   = "PLANSYNC_REDIS_URL"
	EnvDodoAPIKey = "PLANSYNC_DODO_API_KEY"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Dodo         DodoConfig
	Cron         CronConfig
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
	Env          string `envconfig:"PLANSYNC_APP_ENV" required:"true"`
	Port         string `envconfig:"PLANSYNC_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PLANSYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PLANSYNC_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PLANSYNC_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PLANSYNC_DB_DSN"`
	Driver string `envconfig:"PLANSYNC_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PLANSYNC_DB_HOST"`
	LegacyPort     int    `envconfig:"PLANSYNC_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PLANSYNC_DB_USER"`
	LegacyPassword string `envconfig:"PLANSYNC_DB_PASSWORD"`
	LegacyName     string `envconfig:"PLANSYNC_DB_NAME"`
	LegacySSLMode  string `envconfig:"PLANSYNC_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PLANSYNC_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PLANSYNC_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PLANSYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PLANSYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PLANSYNC_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PLANSYNC_REDIS_ADDR"`
	Password     string        `envconfig:"PLANSYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"PLANSYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PLANSYNC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PLANSYNC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PLANSYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PLANSYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PLANSYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// DodoConfig carries the Dodo Payments credentials and environment selection.
type DodoConfig struct {
	APIKey         string        `envconfig:"PLANSYNC_DODO_API_KEY" required:"true"`
	Env            string        `envconfig:"PLANSYNC_DODO_ENV" default:"test"`
	Timeout        time.Duration `envconfig:"PLANSYNC_DODO_TIMEOUT" default:"15s"`
	IdempotencyTTL time.Duration `envconfig:"PLANSYNC_DODO_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

// Environment returns the normalized Dodo environment (test/live).
func (d DodoConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(d.Env))
	if env == "" {
		return "test"
	}
	return env
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"PLANSYNC_CRON_INTERVAL" default:"6h"`
	ReconcileLimit  int           `envconfig:"PLANSYNC_CRON_RECONCILE_LIMIT" default:"250"`
	ReconcileMinAge time.Duration `envconfig:"PLANSYNC_CRON_RECONCILE_MIN_AGE" default:"24h"`
	MetricsPort     string        `envconfig:"PLANSYNC_CRON_METRICS_PORT" default:"9102"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"PLANSYNC_AUTO_MIGRATE" default:"false"`
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
		Path:   "/" + db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
