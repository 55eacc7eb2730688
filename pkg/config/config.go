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
	DB           DBConfig
	Redis        RedisConfig
	Reservation  ReservationConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Reservation.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"WALAMARKET_APP_ENV" required:"true"`
	Port         string `envconfig:"WALAMARKET_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"WALAMARKET_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"WALAMARKET_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"WALAMARKET_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"WALAMARKET_DB_DSN"`
	Driver string `envconfig:"WALAMARKET_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"WALAMARKET_DB_HOST"`
	LegacyPort     int    `envconfig:"WALAMARKET_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"WALAMARKET_DB_USER"`
	LegacyPassword string `envconfig:"WALAMARKET_DB_PASSWORD"`
	LegacyName     string `envconfig:"WALAMARKET_DB_NAME"`
	LegacySSLMode  string `envconfig:"WALAMARKET_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"WALAMARKET_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"WALAMARKET_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"WALAMARKET_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"WALAMARKET_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"WALAMARKET_REDIS_URL"`
	Address      string        `envconfig:"WALAMARKET_REDIS_ADDR"`
	Password     string        `envconfig:"WALAMARKET_REDIS_PASSWORD"`
	DB           int           `envconfig:"WALAMARKET_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"WALAMARKET_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"WALAMARKET_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"WALAMARKET_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"WALAMARKET_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"WALAMARKET_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// ReservationConfig holds the hold lifetime and the sweeper cadence.
type ReservationConfig struct {
	TTL           time.Duration `envconfig:"WALAMARKET_RESERVATION_TTL" default:"15m"`
	SweepInterval time.Duration `envconfig:"WALAMARKET_SWEEP_INTERVAL" default:"5m"`
	SweepLockTTL  time.Duration `envconfig:"WALAMARKET_SWEEP_LOCK_TTL" default:"2m"`
	CartTTL       time.Duration `envconfig:"WALAMARKET_CART_TTL" default:"24h"`
}

func (r ReservationConfig) validate() error {
	for name, value := range map[string]time.Duration{
		EnvReservationTTL: r.TTL,
		EnvSweepInterval:  r.SweepInterval,
		EnvSweepLockTTL:   r.SweepLockTTL,
		EnvCartTTL:        r.CartTTL,
	} {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, value)
		}
	}
	return nil
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"WALAMARKET_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"WALAMARKET_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"WALAMARKET_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"WALAMARKET_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"WALAMARKET_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	SalesTopic        string `envconfig:"WALAMARKET_PUBSUB_SALES_TOPIC" default:"wm-sales-events"`
	ReservationsTopic string `envconfig:"WALAMARKET_PUBSUB_RESERVATIONS_TOPIC" default:"wm-reservation-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"WALAMARKET_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"WALAMARKET_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"WALAMARKET_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"WALAMARKET_OUTBOX_RETENTION_DAYS" default:"30"`
}

// PollInterval converts the configured poll cadence into a duration.
func (o OutboxConfig) PollInterval() time.Duration {
	if o.PollIntervalMS <= 0 {
		return 0
	}
	return time.Duration(o.PollIntervalMS) * time.Millisecond
}

func (db *DBConfig) ensureDSN(sqlite bool) error {
	if db.DSN != "" {
		return nil
	}
	if sqlite {
		db.DSN = defaultSQLiteDSN
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
