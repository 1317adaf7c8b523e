package config

const EnvPrefix = "CLUBPAY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	NoActivePlanRetry = "retry"
	NoActivePlanFail  = "fail"

	MinFieldSecretLength = 32
)

const (
	EnvAppEnv   = "CLUBPAY_APP_ENV"
	EnvPort     = "CLUBPAY_APP_PORT"
	EnvLogLevel = "CLUBPAY_LOG_LEVEL"

	EnvDBDSN    = "CLUBPAY_DB_DSN"
	EnvDBDriver = "CLUBPAY_DB_DRIVER"
	EnvDBHost   = "CLUBPAY_DB_HOST"
	EnvDBUser   = "CLUBPAY_DB_USER"
	EnvDBName   = "CLUBPAY_DB_NAME"

	EnvRedisURL = "CLUBPAY_REDIS_URL"

	EnvFieldEncryptionKey = "CLUBPAY_FIELD_ENCRYPTION_KEY"
	EnvFieldBlindIndex    = "CLUBPAY_FIELD_BLIND_INDEX"

	EnvBillingNoActivePlanPolicy = "CLUBPAY_BILLING_NO_ACTIVE_PLAN_POLICY"
	EnvBillingDay                = "CLUBPAY_BILLING_DAY"

	EnvStripeAPIKey        = "CLUBPAY_STRIPE_API_KEY"
	EnvStripeSecret        = "CLUBPAY_STRIPE_SECRET"
	EnvSquareAccessToken   = "CLUBPAY_SQUARE_ACCESS_TOKEN"
	EnvSquareWebhookSecret = "CLUBPAY_SQUARE_WEBHOOK_SECRET"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
