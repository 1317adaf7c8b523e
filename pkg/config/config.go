package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/angelmondragon/clubpay-backend/pkg/enums"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Crypto       CryptoConfig
	Billing      BillingConfig
	Queue        QueueConfig
	Webhooks     WebhooksConfig
	FeatureFlags FeatureFlagsConfig
	Stripe       StripeConfig
	Square       SquareConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Crypto.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Billing.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CLUBPAY_APP_ENV" required:"true"`
	Port         string `envconfig:"CLUBPAY_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"CLUBPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CLUBPAY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CLUBPAY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CLUBPAY_DB_DSN"`
	Driver string `envconfig:"CLUBPAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CLUBPAY_DB_HOST"`
	LegacyPort     int    `envconfig:"CLUBPAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CLUBPAY_DB_USER"`
	LegacyPassword string `envconfig:"CLUBPAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"CLUBPAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"CLUBPAY_DB_SSLMODE" default:"disable"`

	// SQLiteDir holds the main database and one attached file per club when the sqlite driver is used.
	SQLiteDir string `envconfig:"CLUBPAY_DB_SQLITE_DIR" default:"./data"`

	MaxOpenConns    int           `envconfig:"CLUBPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CLUBPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CLUBPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CLUBPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the sqlite dialect is selected.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"CLUBPAY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CLUBPAY_REDIS_ADDR"`
	Password     string        `envconfig:"CLUBPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"CLUBPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CLUBPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CLUBPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CLUBPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CLUBPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CLUBPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// CryptoConfig holds the process-wide field encryption secret.
type CryptoConfig struct {
	FieldSecret string `envconfig:"CLUBPAY_FIELD_ENCRYPTION_KEY"`
	BlindIndex  bool   `envconfig:"CLUBPAY_FIELD_BLIND_INDEX" default:"false"`
}

// Validate refuses to start with a missing or weak encryption secret.
func (c CryptoConfig) Validate() error {
	secret := strings.TrimSpace(c.FieldSecret)
	if secret == "" {
		return fmt.Errorf("%s is required", EnvFieldEncryptionKey)
	}
	if len(secret) < MinFieldSecretLength {
		return fmt.Errorf("%s must be at least %d characters", EnvFieldEncryptionKey, MinFieldSecretLength)
	}
	return nil
}

type BillingConfig struct {
	DefaultMethod      string        `envconfig:"CLUBPAY_BILLING_DEFAULT_METHOD" default:"PIX"`
	BillingDay         int           `envconfig:"CLUBPAY_BILLING_DAY" default:"1"`
	Concurrency        int           `envconfig:"CLUBPAY_BILLING_GENERATE_CONCURRENCY" default:"5"`
	Attempts           int           `envconfig:"CLUBPAY_BILLING_GENERATE_ATTEMPTS" default:"5"`
	Backoff            time.Duration `envconfig:"CLUBPAY_BILLING_GENERATE_BACKOFF" default:"1m"`
	NoActivePlanPolicy string        `envconfig:"CLUBPAY_BILLING_NO_ACTIVE_PLAN_POLICY" default:"retry"`
	Currency           string        `envconfig:"CLUBPAY_BILLING_CURRENCY" default:"BRL"`
}

// FailOnNoActivePlan reports whether a club without active plans fails its job permanently.
func (b BillingConfig) FailOnNoActivePlan() bool {
	return strings.EqualFold(strings.TrimSpace(b.NoActivePlanPolicy), NoActivePlanFail)
}

func (b BillingConfig) validate() error {
	policy := strings.ToLower(strings.TrimSpace(b.NoActivePlanPolicy))
	if policy != NoActivePlanRetry && policy != NoActivePlanFail {
		return fmt.Errorf("no active plan policy must be %q or %q", NoActivePlanRetry, NoActivePlanFail)
	}
	if b.BillingDay < 1 || b.BillingDay > 28 {
		return fmt.Errorf("billing day must be between 1 and 28, got %d", b.BillingDay)
	}
	if _, err := enums.ParseCurrency(b.Currency); err != nil {
		return err
	}
	return nil
}

type QueueConfig struct {
	Prefix             string        `envconfig:"CLUBPAY_QUEUE_PREFIX" default:"cp"`
	CompletedRetention time.Duration `envconfig:"CLUBPAY_QUEUE_COMPLETED_RETENTION" default:"24h"`
	FailedRetention    time.Duration `envconfig:"CLUBPAY_QUEUE_FAILED_RETENTION" default:"168h"`
	StalledLease       time.Duration `envconfig:"CLUBPAY_QUEUE_STALLED_LEASE" default:"5m"`
	PollTimeout        time.Duration `envconfig:"CLUBPAY_QUEUE_POLL_TIMEOUT" default:"2s"`
	WebhookAttempts    int           `envconfig:"CLUBPAY_QUEUE_WEBHOOK_ATTEMPTS" default:"5"`
	WebhookBackoff     time.Duration `envconfig:"CLUBPAY_QUEUE_WEBHOOK_BACKOFF" default:"5s"`
	WebhookConcurrency int           `envconfig:"CLUBPAY_QUEUE_WEBHOOK_CONCURRENCY" default:"10"`
}

type WebhooksConfig struct {
	MaxBodyBytes int64 `envconfig:"CLUBPAY_WEBHOOK_MAX_BODY_BYTES" default:"1048576"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CLUBPAY_AUTO_MIGRATE" default:"false"`
}

type StripeConfig struct {
	APIKey string `envconfig:"CLUBPAY_STRIPE_API_KEY"`
	Secret string `envconfig:"CLUBPAY_STRIPE_SECRET"`
	Env    string `envconfig:"CLUBPAY_STRIPE_ENV" default:"test"`
	// APIBase points the client at stripe-mock or a recording proxy.
	APIBase string `envconfig:"CLUBPAY_STRIPE_API_BASE"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// Enabled reports whether Stripe credentials were supplied.
func (s StripeConfig) Enabled() bool {
	return strings.TrimSpace(s.APIKey) != ""
}

type SquareConfig struct {
	AccessToken     string `envconfig:"CLUBPAY_SQUARE_ACCESS_TOKEN"`
	WebhookSecret   string `envconfig:"CLUBPAY_SQUARE_WEBHOOK_SECRET"`
	NotificationURL string `envconfig:"CLUBPAY_SQUARE_NOTIFICATION_URL"`
	LocationID      string `envconfig:"CLUBPAY_SQUARE_LOCATION_ID"`
	Env             string `envconfig:"CLUBPAY_SQUARE_ENV" default:"sandbox"`
	// BaseURL overrides the environment's Connect API host.
	BaseURL string `envconfig:"CLUBPAY_SQUARE_BASE_URL"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

// Enabled reports whether Square credentials were supplied.
func (s SquareConfig) Enabled() bool {
	return strings.TrimSpace(s.AccessToken) != ""
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" || db.IsSQLite() {
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
