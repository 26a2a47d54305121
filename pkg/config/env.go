package config

const EnvPrefix = "CREDITS"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "CREDITS_APP_ENV"
	EnvPort     = "CREDITS_APP_PORT"
	EnvLogLevel = "CREDITS_LOG_LEVEL"

	EnvDBDSN  = "CREDITS_DB_DSN"
	EnvDBHost = "CREDITS_DB_HOST"
	EnvDBUser = "CREDITS_DB_USER"
	EnvDBName = "CREDITS_DB_NAME"

	EnvUseSQLite = "CREDITS_USE_SQLITE"

	EnvLowBalanceThreshold = "CREDITS_LOW_BALANCE_THRESHOLD"
	EnvPaymentsURL         = "CREDITS_PAYMENTS_CONFIRMATION_URL"
	EnvPubSubCreditsTopic  = "CREDITS_PUBSUB_CREDITS_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
