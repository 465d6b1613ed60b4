package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "hubbridge"

	AppEnvDev  = "development"
	AppEnvProd = "production"
)

type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Stripe    StripeConfig
	HubSpot   HubSpotConfig
	Numbering NumberingConfig
	GCP       GCPConfig
	PubSub    PubSubConfig
	Seller    SellerConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"HUBBRIDGE_APP_ENV" required:"true"`
	Port         string `envconfig:"HUBBRIDGE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"HUBBRIDGE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"HUBBRIDGE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"HUBBRIDGE_DB_DSN" required:"true"`

	MaxOpenConns    int           `envconfig:"HUBBRIDGE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"HUBBRIDGE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"HUBBRIDGE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"HUBBRIDGE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"HUBBRIDGE_REDIS_URL" required:"true"`
	PoolSize     int           `envconfig:"HUBBRIDGE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"HUBBRIDGE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"HUBBRIDGE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"HUBBRIDGE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"HUBBRIDGE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type StripeConfig struct {
	APIKey string `envconfig:"HUBBRIDGE_STRIPE_API_KEY" required:"true"`
	Secret string `envconfig:"HUBBRIDGE_STRIPE_WEBHOOK_SECRET" required:"true"`
	Env    string `envconfig:"HUBBRIDGE_STRIPE_ENV" default:"test"`

	// EventIdempotencyTTL bounds how long a processed webhook event id is
	// remembered before Stripe stops redelivering (Stripe retries for ~3 days).
	EventIdempotencyTTL time.Duration `envconfig:"HUBBRIDGE_STRIPE_EVENT_IDEMPOTENCY_TTL" default:"96h"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// HubSpotConfig carries the OAuth app credentials plus the portal schema
// constants (pipeline, stages, owner, association type ids, HubDB table,
// files folder) the synchronizers write against.
type HubSpotConfig struct {
	BaseURL      string `envconfig:"HUBBRIDGE_HUBSPOT_BASE_URL" default:"https://api.hubapi.com"`
	ClientID     string `envconfig:"HUBBRIDGE_HUBSPOT_CLIENT_ID" required:"true"`
	ClientSecret string `envconfig:"HUBBRIDGE_HUBSPOT_CLIENT_SECRET" required:"true"`
	RedirectURI  string `envconfig:"HUBBRIDGE_HUBSPOT_REDIRECT_URI" required:"true"`

	DealPipeline      string `envconfig:"HUBBRIDGE_HUBSPOT_DEAL_PIPELINE" default:"2428974327"`
	DealStageTrial    string `envconfig:"HUBBRIDGE_HUBSPOT_DEAL_STAGE_TRIAL" default:"3317387470"`
	DealStageActive   string `envconfig:"HUBBRIDGE_HUBSPOT_DEAL_STAGE_ACTIVE" default:"3317387472"`
	DealStagePurchase string `envconfig:"HUBBRIDGE_HUBSPOT_DEAL_STAGE_PURCHASE" default:"3317387474"`
	DealOwner         string `envconfig:"HUBBRIDGE_HUBSPOT_DEAL_OWNER" default:"44516880"`

	AssocDealToContact    int `envconfig:"HUBBRIDGE_HUBSPOT_ASSOC_DEAL_CONTACT" default:"3"`
	AssocDealToCompany    int `envconfig:"HUBBRIDGE_HUBSPOT_ASSOC_DEAL_COMPANY" default:"1"`
	AssocCompanyToContact int `envconfig:"HUBBRIDGE_HUBSPOT_ASSOC_COMPANY_CONTACT" default:"5"`
	AssocInvoiceToContact int `envconfig:"HUBBRIDGE_HUBSPOT_ASSOC_INVOICE_CONTACT" default:"7"`
	AssocInvoiceToCompany int `envconfig:"HUBBRIDGE_HUBSPOT_ASSOC_INVOICE_COMPANY" default:"9"`

	// InvoiceObjectType is the fully qualified name of the custom invoice
	// object (e.g. "2-12345678").
	InvoiceObjectType string `envconfig:"HUBBRIDGE_HUBSPOT_INVOICE_OBJECT_TYPE" required:"true"`
	LedgerTableID     string `envconfig:"HUBBRIDGE_HUBSPOT_LEDGER_TABLE_ID" required:"true"`
	FilesFolderID     string `envconfig:"HUBBRIDGE_HUBSPOT_FILES_FOLDER_ID" required:"true"`

	RequestTimeout time.Duration `envconfig:"HUBBRIDGE_HUBSPOT_REQUEST_TIMEOUT" default:"15s"`
}

type NumberingConfig struct {
	// StartSequence is used when no invoice exists yet for a year.
	StartSequence int64 `envconfig:"HUBBRIDGE_NUMBERING_START_SEQUENCE" default:"1000"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"HUBBRIDGE_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	// DeadLetterTopic receives structured sync-failure reports. Empty
	// disables publishing (failures still land in logs and metrics).
	DeadLetterTopic string `envconfig:"HUBBRIDGE_PUBSUB_DEAD_LETTER_TOPIC"`
}

// SellerConfig is the static "sold by" block printed on every invoice.
type SellerConfig struct {
	Name    string `envconfig:"HUBBRIDGE_SELLER_NAME" required:"true"`
	Email   string `envconfig:"HUBBRIDGE_SELLER_EMAIL"`
	Address string `envconfig:"HUBBRIDGE_SELLER_ADDRESS"`
	City    string `envconfig:"HUBBRIDGE_SELLER_CITY"`
	State   string `envconfig:"HUBBRIDGE_SELLER_STATE"`
	Zip     string `envconfig:"HUBBRIDGE_SELLER_ZIP"`
	Country string `envconfig:"HUBBRIDGE_SELLER_COUNTRY" default:"United States"`
}
