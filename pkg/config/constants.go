package config

const (
	EnvPrefix = "WALAMARKET"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv = "WALAMARKET_APP_ENV"
	EnvPort   = "WALAMARKET_APP_PORT"

	EnvDBDSN  = "WALAMARKET_DB_DSN"
	EnvDBHost = "WALAMARKET_DB_HOST"
	EnvDBUser = "WALAMARKET_DB_USER"
	EnvDBName = "WALAMARKET_DB_NAME"

	EnvRedisURL  = "WALAMARKET_REDIS_URL"
	EnvUseSQLite = "WALAMARKET_USE_SQLITE"

	EnvReservationTTL = "WALAMARKET_RESERVATION_TTL"
	EnvSweepInterval  = "WALAMARKET_SWEEP_INTERVAL"
	EnvSweepLockTTL   = "WALAMARKET_SWEEP_LOCK_TTL"
	EnvCartTTL        = "WALAMARKET_CART_TTL"

	EnvPubSubSalesTopic = "WALAMARKET_PUBSUB_SALES_TOPIC"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	defaultSQLiteDSN = "file:walamarket.db?_busy_timeout=5000"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
