// Package config loads process configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted by STORE_DRIVER
const (
	DriverAuto         = ""
	DriverMemory       = "memory"
	DriverPostgres     = "postgres"
	DriverPostgREST    = "postgrest"
	DriverRedis        = "redis"
	DriverFirestore    = "firestore"
	DriverSQLite       = "sqlite"
	DriverGormPostgres = "gorm-postgres"
	DriverGormMySQL    = "gorm-mysql"
)

// Config is the full process configuration.
type Config struct {
	ListenAddr      string
	ShutdownTimeout time.Duration

	LogLevel  string
	LogFormat string

	StripeSecretKey     string
	StripeWebhookSecret string
	WebhookTolerance    time.Duration
	LookupTimeout       time.Duration
	RateLimitRequests   int
	TrustProxyHeaders   bool

	CustomerSource  string
	SuccessURL      string
	CancelURL       string
	PortalReturnURL string
	AllowOrigin     string

	StoreDriver        string
	ProfilesTable      string
	DatabaseURL        string
	SupabaseURL        string
	SupabaseServiceKey string
	RedisURL           string
	FirestoreProjectID string
	SQLitePath         string
	AutoMigrate        bool

	// MirrorDriver enables the tiered store with a hot mirror ("redis" or "memory")
	MirrorDriver string
	AsyncMirror  bool

	EnforceEventOrder bool
	StoreTimeout      time.Duration
	CircuitBreaker    bool

	MetricsNamespace string
	SentryDSN        string
	Environment      string
}

// Load reads a .env file if present and then the process environment.
// Variables already set in the environment win over .env values.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	e := &envReader{getenv: getenv}

	cfg := &Config{
		ListenAddr:      e.str("LISTEN_ADDR", ":"+e.str("PORT", "8080")),
		ShutdownTimeout: e.duration("SHUTDOWN_TIMEOUT", 15*time.Second),

		LogLevel:  e.str("LOG_LEVEL", "info"),
		LogFormat: e.str("LOG_FORMAT", "auto"),

		StripeSecretKey:     e.str("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: e.str("STRIPE_WEBHOOK_SIGNING_SECRET", ""),
		WebhookTolerance:    e.duration("STRIPE_WEBHOOK_TOLERANCE", 0),
		LookupTimeout:       e.duration("STRIPE_LOOKUP_TIMEOUT", 0),
		RateLimitRequests:   e.integer("WEBHOOK_RATE_LIMIT", 0),
		TrustProxyHeaders:   e.boolean("TRUST_PROXY_HEADERS", false),

		CustomerSource:  e.str("CUSTOMER_SOURCE", ""),
		SuccessURL:      e.str("CHECKOUT_SUCCESS_URL", ""),
		CancelURL:       e.str("CHECKOUT_CANCEL_URL", ""),
		PortalReturnURL: e.str("PORTAL_RETURN_URL", ""),
		AllowOrigin:     e.str("CORS_ALLOW_ORIGIN", "*"),

		StoreDriver:        strings.ToLower(e.str("STORE_DRIVER", DriverAuto)),
		ProfilesTable:      e.str("PROFILES_TABLE", "profiles"),
		DatabaseURL:        e.str("DATABASE_URL", ""),
		SupabaseURL:        e.str("SUPABASE_URL", ""),
		SupabaseServiceKey: e.str("SUPABASE_SERVICE_ROLE_KEY", ""),
		RedisURL:           e.str("REDIS_URL", ""),
		FirestoreProjectID: e.str("FIRESTORE_PROJECT_ID", ""),
		SQLitePath:         e.str("SQLITE_PATH", "data/subsync.db"),
		AutoMigrate:        e.boolean("AUTO_MIGRATE", false),

		MirrorDriver: strings.ToLower(e.str("MIRROR_DRIVER", "")),
		AsyncMirror:  e.boolean("MIRROR_ASYNC", false),

		EnforceEventOrder: e.boolean("ENFORCE_EVENT_ORDER", false),
		StoreTimeout:      e.duration("STORE_TIMEOUT", 0),
		CircuitBreaker:    e.boolean("STORE_CIRCUIT_BREAKER", true),

		MetricsNamespace: e.str("METRICS_NAMESPACE", "subsync"),
		SentryDSN:        e.str("SENTRY_DSN", ""),
		Environment:      e.str("APP_ENV", "production"),
	}

	if len(e.errs) > 0 {
		return nil, errors.Join(e.errs...)
	}
	if cfg.StoreDriver == DriverAuto {
		cfg.StoreDriver = cfg.detectDriver()
	}
	return cfg, nil
}

func (c *Config) detectDriver() string {
	switch {
	case c.SupabaseURL != "":
		return DriverPostgREST
	case c.DatabaseURL != "":
		return DriverPostgres
	default:
		return DriverAuto
	}
}

// Validate reports every missing or invalid variable at once.
// The webhook secret is optional: the webhook endpoint answers 503 without it.
func (c *Config) Validate() error {
	var missing []string
	if c.StripeSecretKey == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}

	switch c.StoreDriver {
	case DriverAuto:
		missing = append(missing, "SUPABASE_URL or DATABASE_URL (or STORE_DRIVER)")
	case DriverPostgREST:
		if c.SupabaseURL == "" {
			missing = append(missing, "SUPABASE_URL")
		}
		if c.SupabaseServiceKey == "" {
			missing = append(missing, "SUPABASE_SERVICE_ROLE_KEY")
		}
	case DriverPostgres, DriverGormPostgres, DriverGormMySQL:
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case DriverRedis:
		if c.RedisURL == "" {
			missing = append(missing, "REDIS_URL")
		}
	case DriverFirestore:
		if c.FirestoreProjectID == "" {
			missing = append(missing, "FIRESTORE_PROJECT_ID")
		}
	case DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.MirrorDriver {
	case "", DriverMemory:
	case DriverRedis:
		if c.RedisURL == "" {
			missing = append(missing, "REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown MIRROR_DRIVER %q", c.MirrorDriver)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

type envReader struct {
	getenv func(string) string
	errs   []error
}

func (e *envReader) str(key, def string) string {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return d
}

func (e *envReader) integer(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return n
}

func (e *envReader) boolean(key string, def bool) bool {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return b
}
