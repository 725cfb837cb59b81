// Package config defines the tradekernel configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
)

// Config is the root configuration. Fields are decoded from TOML over
// Defaults and then overridden by TRADEKERNEL_* environment variables.
type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Store     StoreConfig     `toml:"store"`
	Kernel    KernelConfig    `toml:"kernel"`
	Fraud     FraudConfig     `toml:"fraud"`
	Consensus ConsensusConfig `toml:"consensus"`
	Trust     TrustConfig     `toml:"trust"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled, velocity
// logs, locks and the signal bus run in process.
type RedisConfig struct {
	Enabled         bool     `toml:"enabled"`
	Addr            string   `toml:"addr"`
	Password        string   `toml:"password"`
	DB              int      `toml:"db"`
	PoolSize        int      `toml:"pool_size"`
	MaxRetries      int      `toml:"max_retries"`
	TLSEnabled      bool     `toml:"tls_enabled"`
	ActionRetention duration `toml:"action_retention"`
}

// S3Config holds object storage parameters for dossier export. Worker
// modes sweep settled trades for missing dossiers on ArchiveCron.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	ArchiveCron     string   `toml:"archive_cron"`
	ArchiveLookback duration `toml:"archive_lookback"`
}

// StoreConfig selects the persistence driver: "memory" or "postgres".
type StoreConfig struct {
	Driver string `toml:"driver"`
}

// KernelConfig holds the advisory risk thresholds.
type KernelConfig struct {
	TrustFloor    int     `toml:"trust_floor"`
	FraudCeiling  float64 `toml:"fraud_ceiling"`
	CorridorFloor float64 `toml:"corridor_floor"`
}

// FraudConfig holds fraud heuristics and the optional external model.
type FraudConfig struct {
	TrustedHosts      []string `toml:"trusted_hosts"`
	VelocityWindow    duration `toml:"velocity_window"`
	VelocityThreshold int      `toml:"velocity_threshold"`
	ModelURL          string   `toml:"model_url"`
	ModelKeyID        string   `toml:"model_key_id"`
	ModelSecret       string   `toml:"model_secret"`
	ModelTimeout      duration `toml:"model_timeout"`
}

// ConsensusConfig holds attestation policy. Attestors maps a party name to
// the addresses allowed to attest for it.
type ConsensusConfig struct {
	AttestationRequired   []string            `toml:"attestation_required"`
	Attestors             map[string][]string `toml:"attestors"`
	InspectionKey         string              `toml:"inspection_key"`
	InspectionKeyFile     string              `toml:"inspection_key_file"`
	InspectionKeyPassword string              `toml:"inspection_key_password"`
}

// TrustConfig holds the scheduled refresh parameters.
type TrustConfig struct {
	RefreshCron        string   `toml:"refresh_cron"`
	RefreshConcurrency int      `toml:"refresh_concurrency"`
	RefreshPageSize    int      `toml:"refresh_page_size"`
	LockTTL            duration `toml:"lock_ttl"`
}

// ServerConfig holds HTTP server parameters. An empty APIKeys list
// disables authentication.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKeys         []string `toml:"api_keys"`
	RateLimit       int      `toml:"rate_limit"` // requests per minute per client IP
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	WebhookURL        string   `toml:"webhook_url"`
	Events            []string `toml:"events"`
}

// duration decodes TOML strings such as "5m" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config that runs locally with no external services.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tradekernel",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:            "localhost:6379",
			PoolSize:        20,
			MaxRetries:      3,
			ActionRetention: duration{time.Hour},
		},
		S3: S3Config{
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "tradekernel-dossiers",
			ForcePathStyle:  true,
			ArchiveCron:     "0 15 * * * *",
			ArchiveLookback: duration{30 * 24 * time.Hour},
		},
		Store: StoreConfig{Driver: "memory"},
		Kernel: KernelConfig{
			TrustFloor:    60,
			FraudCeiling:  70,
			CorridorFloor: 60,
		},
		Fraud: FraudConfig{
			VelocityWindow:    duration{5 * time.Minute},
			VelocityThreshold: 10,
			ModelTimeout:      duration{5 * time.Second},
		},
		Consensus: ConsensusConfig{
			Attestors: map[string][]string{},
		},
		Trust: TrustConfig{
			RefreshCron:        "0 0 */6 * * *",
			RefreshConcurrency: 8,
			RefreshPageSize:    200,
			LockTTL:            duration{10 * time.Minute},
		},
		Server: ServerConfig{
			Port:            8080,
			CORSOrigins:     []string{"http://localhost:3000"},
			RateLimit:       600,
			ShutdownTimeout: duration{10 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"escrow_funded", "settled", "disputed", "high_risk_transition", "consensus_reached", "threat_logged"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server": true,
	"worker": true,
	"full":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validParties = map[string]bool{
	"automated_inspection": true,
	"logistics":            true,
	"buyer":                true,
	"seller":               true,
}

// cronParser accepts six-field expressions with a leading seconds field.
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: server, worker, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				add("database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				add("database: port must be 1-65535, got %d", c.Database.Port)
			}
			if c.Database.Database == "" {
				add("database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			add("database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 || c.Database.PoolMinConns > c.Database.PoolMaxConns {
			add("database: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		add("store: unknown driver %q (valid: memory, postgres)", c.Store.Driver)
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			add("s3: region must not be empty")
		}
	}

	if c.Kernel.TrustFloor < 0 || c.Kernel.TrustFloor > 100 {
		add("kernel: trust_floor must be 0-100, got %d", c.Kernel.TrustFloor)
	}
	if c.Kernel.FraudCeiling < 0 || c.Kernel.FraudCeiling > 100 {
		add("kernel: fraud_ceiling must be 0-100, got %g", c.Kernel.FraudCeiling)
	}
	if c.Kernel.CorridorFloor < 0 || c.Kernel.CorridorFloor > 100 {
		add("kernel: corridor_floor must be 0-100, got %g", c.Kernel.CorridorFloor)
	}

	if c.Fraud.VelocityWindow.Duration <= 0 {
		add("fraud: velocity_window must be > 0")
	}
	if c.Fraud.VelocityThreshold < 1 {
		add("fraud: velocity_threshold must be >= 1")
	}
	if c.Fraud.ModelURL != "" && c.Fraud.ModelSecret == "" {
		add("fraud: model_secret is required when model_url is set")
	}

	for _, p := range c.Consensus.AttestationRequired {
		if !validParties[p] {
			add("consensus: unknown party %q in attestation_required", p)
		}
	}
	for p, addrs := range c.Consensus.Attestors {
		if !validParties[p] {
			add("consensus: unknown party %q in attestors", p)
		}
		for _, a := range addrs {
			if !common.IsHexAddress(a) {
				add("consensus: attestor %q for %s is not a hex address", a, p)
			}
		}
	}
	if c.Consensus.InspectionKeyFile != "" && c.Consensus.InspectionKeyPassword == "" {
		add("consensus: inspection_key_password is required when inspection_key_file is set")
	}

	if c.Mode != "server" {
		if _, err := cronParser.Parse(c.Trust.RefreshCron); err != nil {
			add("trust: refresh_cron %q: %v", c.Trust.RefreshCron, err)
		}
		if c.S3.Enabled {
			if _, err := cronParser.Parse(c.S3.ArchiveCron); err != nil {
				add("s3: archive_cron %q: %v", c.S3.ArchiveCron, err)
			}
		}
	}

	if c.Mode != "worker" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit < 0 {
			add("server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
