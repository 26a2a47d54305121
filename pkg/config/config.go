package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	HTTP         HTTPConfig
	JWT          JWTConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	Credits      CreditsConfig
	Payments     PaymentsConfig
	GCP          GCPConfig
	BigQuery     BigQueryConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CREDITS_APP_ENV" required:"true"`
	Port         string `envconfig:"CREDITS_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"CREDITS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CREDITS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"CREDITS_SERVICE_KIND" default:"api"`
}

// JWTConfig enables bearer-token authentication when Secret is set. Without a
// secret the API trusts the gateway's caller headers.
type JWTConfig struct {
	Secret            string `envconfig:"CREDITS_JWT_SECRET"`
	Issuer            string `envconfig:"CREDITS_JWT_ISSUER" default:"credits-service"`
	ExpirationMinutes int    `envconfig:"CREDITS_JWT_EXPIRATION_MINUTES" default:"60"`
}

func (j JWTConfig) Enabled() bool {
	return strings.TrimSpace(j.Secret) != ""
}

type HTTPConfig struct {
	RateLimit       int64         `envconfig:"CREDITS_HTTP_RATE_LIMIT" default:"600"`
	RateLimitWindow time.Duration `envconfig:"CREDITS_HTTP_RATE_LIMIT_WINDOW" default:"1m"`
	ShutdownTimeout time.Duration `envconfig:"CREDITS_HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
}

type DBConfig struct {
	DSN    string `envconfig:"CREDITS_DB_DSN"`
	Driver string `envconfig:"CREDITS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CREDITS_DB_HOST"`
	LegacyPort     int    `envconfig:"CREDITS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CREDITS_DB_USER"`
	LegacyPassword string `envconfig:"CREDITS_DB_PASSWORD"`
	LegacyName     string `envconfig:"CREDITS_DB_NAME"`
	LegacySSLMode  string `envconfig:"CREDITS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CREDITS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CREDITS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CREDITS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CREDITS_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQueryThreshold logs statements at warn once they take this long.
	// Zero turns slow-query logging off.
	SlowQueryThreshold time.Duration `envconfig:"CREDITS_DB_SLOW_QUERY_THRESHOLD" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CREDITS_REDIS_URL"`
	Address      string        `envconfig:"CREDITS_REDIS_ADDR" default:"localhost:6379"`
	Password     string        `envconfig:"CREDITS_REDIS_PASSWORD"`
	DB           int           `envconfig:"CREDITS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CREDITS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CREDITS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CREDITS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CREDITS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CREDITS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"CREDITS_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"CREDITS_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL  time.Duration `envconfig:"CREDITS_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	RequestIdempotencyTTL time.Duration `envconfig:"CREDITS_REQUEST_IDEMPOTENCY_TTL" default:"24h"`
}

// CreditsConfig holds the knobs of the ledger engines.
type CreditsConfig struct {
	LowBalanceThreshold int64         `envconfig:"CREDITS_LOW_BALANCE_THRESHOLD" default:"100"`
	ExpiryWarningWindow time.Duration `envconfig:"CREDITS_EXPIRY_WARNING_WINDOW" default:"72h"`
	SweepBatchSize      int           `envconfig:"CREDITS_SWEEP_BATCH_SIZE" default:"500"`
	TenantCacheTTL      time.Duration `envconfig:"CREDITS_TENANT_CACHE_TTL" default:"5m"`
}

type PaymentsConfig struct {
	ConfirmationURL string        `envconfig:"CREDITS_PAYMENTS_CONFIRMATION_URL"`
	APIKey          string        `envconfig:"CREDITS_PAYMENTS_API_KEY"`
	Timeout         time.Duration `envconfig:"CREDITS_PAYMENTS_TIMEOUT" default:"5s"`
	BreakerMaxFails uint32        `envconfig:"CREDITS_PAYMENTS_BREAKER_MAX_FAILURES" default:"5"`
	BreakerCooldown time.Duration `envconfig:"CREDITS_PAYMENTS_BREAKER_COOLDOWN" default:"30s"`
	WebhookGuardTTL time.Duration `envconfig:"CREDITS_PAYMENTS_WEBHOOK_GUARD_TTL" default:"2m"`
}

// Enabled reports whether gateway sources must be confirmed before crediting.
func (p PaymentsConfig) Enabled() bool {
	return strings.TrimSpace(p.ConfirmationURL) != ""
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CREDITS_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"CREDITS_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CREDITS_GOOGLE_APPLICATION_CREDENTIALS"`
}

// BigQueryConfig drives the ledger export job. An empty Dataset disables it.
type BigQueryConfig struct {
	Dataset     string        `envconfig:"CREDITS_BIGQUERY_DATASET"`
	LedgerTable string        `envconfig:"CREDITS_BIGQUERY_LEDGER_TABLE" default:"credit_transactions"`
	BatchSize   int           `envconfig:"CREDITS_BIGQUERY_EXPORT_BATCH_SIZE" default:"500"`
	SettleDelay time.Duration `envconfig:"CREDITS_BIGQUERY_EXPORT_SETTLE_DELAY" default:"1m"`
}

func (b BigQueryConfig) Enabled() bool {
	return strings.TrimSpace(b.Dataset) != ""
}

type PubSubConfig struct {
	CreditsTopic      string `envconfig:"CREDITS_PUBSUB_CREDITS_TOPIC" default:"credits-events"`
	NotificationTopic string `envconfig:"CREDITS_PUBSUB_NOTIFICATION_TOPIC" default:"credits-notification-events"`
	// CreateMissingTopics is meant for the emulator; production topics are
	// provisioned outside the service.
	CreateMissingTopics bool `envconfig:"CREDITS_PUBSUB_CREATE_TOPICS" default:"false"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"CREDITS_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"CREDITS_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"CREDITS_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"CREDITS_OUTBOX_RETENTION" default:"720h"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"CREDITS_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"CREDITS_CRON_LOCK_TTL" default:"4m"`

	// Minimum spacing between runs of the heavier jobs. Zero runs the job
	// on every tick.
	ReconcileEvery time.Duration `envconfig:"CREDITS_CRON_RECONCILE_EVERY" default:"1h"`
	RetentionEvery time.Duration `envconfig:"CREDITS_CRON_RETENTION_EVERY" default:"24h"`
	ExportEvery    time.Duration `envconfig:"CREDITS_CRON_EXPORT_EVERY" default:"15m"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" {
		return nil
	}
	if useSQLite {
		db.DSN = "file:credits.db?cache=shared"
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
