package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	pstrings "remitgate/pkg/platform/strings"
)

// Config is the full process configuration, grouped by concern.
type Config struct {
	Server     Server
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Ledger     LedgerConfig
	Audit      AuditConfig
	Risk       RiskConfig
	Compliance ComplianceConfig
	RateLimit  RateLimitConfig
	Currencies []string
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr              string
	Environment       string
	AdminToken        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// DatabaseConfig enables the postgres-backed stores when URL is set.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig enables the redis-backed cache, flag sets, and reconciliation
// queue when URL is set.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig enables audit streaming and ledger event relay when brokers are set.
type KafkaConfig struct {
	Brokers          []string
	ClientID         string
	AuditTopic       string
	LedgerEventTopic string
}

// LedgerConfig selects and tunes the escrow ledger client.
type LedgerConfig struct {
	// Driver is "memory" (in-process simulator) or "evm".
	Driver string
	RPCURL string
	// EscrowAddress is the Remittance contract; TokenAddress the stablecoin.
	EscrowAddress string
	TokenAddress  string
	// ConfirmTimeout bounds each wait for finality. Expiry is indeterminate, not failure.
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	// FinalityDelay is how long the simulator holds submissions before finalizing.
	FinalityDelay time.Duration
	// ReconcileInterval drives the reconciler over indeterminate submissions.
	ReconcileInterval time.Duration
	// EventPollInterval drives the ledger event relay.
	EventPollInterval time.Duration
	// DevBalances are "address=amount" pairs minted into the memory simulator.
	DevBalances []string
}

// AuditConfig selects the audit log backend.
type AuditConfig struct {
	// Driver is "memory", "file", or "postgres".
	Driver       string
	FilePath     string
	StreamBuffer int
}

// RiskConfig tunes the risk scorer.
type RiskConfig struct {
	RulesFile string
	// Threshold overrides the rule table threshold when positive.
	Threshold int
}

// ComplianceConfig tunes identity lookups.
type ComplianceConfig struct {
	ProfileCacheTTL time.Duration
	// FlaggedSenders and FlaggedRecipients seed the in-memory flag sets.
	FlaggedSenders    []string
	FlaggedRecipients []string
}

// RateLimitConfig sets per-client-IP budgets on the public transfer routes.
// Zero values keep the built-in defaults.
type RateLimitConfig struct {
	Disabled     bool
	WritesPerMin int
	ReadsPerMin  int
}

// DefaultCurrencies are accepted when REMIT_CURRENCIES is unset.
var DefaultCurrencies = []string{"USD", "EUR", "GBP", "NGN", "KES", "GHS", "ZAR", "INR", "PHP", "MXN"}

// FromEnv builds the Config from environment variables so main stays lean.
// A .env file in the working directory is loaded first when present.
func FromEnv() Config {
	_ = godotenv.Load()

	currencies := pstrings.DedupeAndTrimUpper(pstrings.SplitList(os.Getenv("REMIT_CURRENCIES")))
	if len(currencies) == 0 {
		currencies = DefaultCurrencies
	}

	return Config{
		Server: Server{
			Addr:              envString("REMIT_ADDR", ":8080"),
			Environment:       envString("REMIT_ENV", "development"),
			AdminToken:        os.Getenv("REMIT_ADMIN_TOKEN"),
			ReadHeaderTimeout: envDuration("REMIT_READ_HEADER_TIMEOUT", 5*time.Second),
			ShutdownTimeout:   envDuration("REMIT_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:          pstrings.SplitList(os.Getenv("KAFKA_BROKERS")),
			ClientID:         envString("KAFKA_CLIENT_ID", "remitgate"),
			AuditTopic:       envString("KAFKA_AUDIT_TOPIC", "remit.audit"),
			LedgerEventTopic: envString("KAFKA_LEDGER_EVENT_TOPIC", "remit.ledger-events"),
		},
		Ledger: LedgerConfig{
			Driver:            envString("LEDGER_DRIVER", "memory"),
			RPCURL:            envString("LEDGER_RPC_URL", "http://localhost:8545"),
			EscrowAddress:     os.Getenv("LEDGER_ESCROW_ADDRESS"),
			TokenAddress:      os.Getenv("LEDGER_TOKEN_ADDRESS"),
			ConfirmTimeout:    envDuration("LEDGER_CONFIRM_TIMEOUT", 30*time.Second),
			PollInterval:      envDuration("LEDGER_POLL_INTERVAL", time.Second),
			FinalityDelay:     envDuration("LEDGER_FINALITY_DELAY", 0),
			ReconcileInterval: envDuration("LEDGER_RECONCILE_INTERVAL", 30*time.Second),
			EventPollInterval: envDuration("LEDGER_EVENT_POLL_INTERVAL", 5*time.Second),
			DevBalances:       pstrings.SplitList(os.Getenv("LEDGER_DEV_BALANCES")),
		},
		Audit: AuditConfig{
			Driver:       envString("AUDIT_DRIVER", "file"),
			FilePath:     envString("AUDIT_FILE_PATH", "transaction_log.jsonl"),
			StreamBuffer: envInt("AUDIT_STREAM_BUFFER", 256),
		},
		Risk: RiskConfig{
			RulesFile: os.Getenv("RISK_RULES_FILE"),
			Threshold: envInt("RISK_THRESHOLD", 0),
		},
		Compliance: ComplianceConfig{
			ProfileCacheTTL:   envDuration("PROFILE_CACHE_TTL", 5*time.Minute),
			FlaggedSenders:    pstrings.DedupeAndTrimLower(pstrings.SplitList(os.Getenv("FLAGGED_SENDERS"))),
			FlaggedRecipients: pstrings.DedupeAndTrimLower(pstrings.SplitList(os.Getenv("FLAGGED_RECIPIENTS"))),
		},
		RateLimit: RateLimitConfig{
			Disabled:     envBool("RATELIMIT_DISABLED", false),
			WritesPerMin: envInt("RATELIMIT_WRITES_PER_MIN", 0),
			ReadsPerMin:  envInt("RATELIMIT_READS_PER_MIN", 0),
		},
		Currencies: currencies,
	}
}

// IsProduction reports whether the process runs with production defaults.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
