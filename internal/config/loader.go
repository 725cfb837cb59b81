package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const envPrefix = "TRADEKERNEL_"

// Load decodes the TOML file at path over Defaults, loads .env when present
// and applies TRADEKERNEL_* overrides. An empty path skips the file. The
// result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose TRADEKERNEL_* variable is set
// and non-empty, so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// database
	setStr(&cfg.Database.DSN, "DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL")
	setStr(&cfg.Database.Host, "DATABASE_HOST")
	setInt(&cfg.Database.Port, "DATABASE_PORT")
	setStr(&cfg.Database.Database, "DATABASE_NAME")
	setStr(&cfg.Database.User, "DATABASE_USER")
	setStr(&cfg.Database.Password, "DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "DATABASE_RUN_MIGRATIONS")

	// redis
	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.ActionRetention, "REDIS_ACTION_RETENTION")

	// s3
	setBool(&cfg.S3.Enabled, "S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.ArchiveCron, "S3_ARCHIVE_CRON")
	setDuration(&cfg.S3.ArchiveLookback, "S3_ARCHIVE_LOOKBACK")

	setStr(&cfg.Store.Driver, "STORE_DRIVER")

	// kernel
	setInt(&cfg.Kernel.TrustFloor, "KERNEL_TRUST_FLOOR")
	setFloat64(&cfg.Kernel.FraudCeiling, "KERNEL_FRAUD_CEILING")
	setFloat64(&cfg.Kernel.CorridorFloor, "KERNEL_CORRIDOR_FLOOR")

	// fraud
	setStringSlice(&cfg.Fraud.TrustedHosts, "FRAUD_TRUSTED_HOSTS")
	setDuration(&cfg.Fraud.VelocityWindow, "FRAUD_VELOCITY_WINDOW")
	setInt(&cfg.Fraud.VelocityThreshold, "FRAUD_VELOCITY_THRESHOLD")
	setStr(&cfg.Fraud.ModelURL, "FRAUD_MODEL_URL")
	setStr(&cfg.Fraud.ModelKeyID, "FRAUD_MODEL_KEY_ID")
	setStr(&cfg.Fraud.ModelSecret, "FRAUD_MODEL_SECRET")
	setDuration(&cfg.Fraud.ModelTimeout, "FRAUD_MODEL_TIMEOUT")

	// consensus
	setStringSlice(&cfg.Consensus.AttestationRequired, "CONSENSUS_ATTESTATION_REQUIRED")
	setStr(&cfg.Consensus.InspectionKey, "CONSENSUS_INSPECTION_KEY")
	setStr(&cfg.Consensus.InspectionKeyFile, "CONSENSUS_INSPECTION_KEY_FILE")
	setStr(&cfg.Consensus.InspectionKeyPassword, "CONSENSUS_INSPECTION_KEY_PASSWORD")

	// trust
	setStr(&cfg.Trust.RefreshCron, "TRUST_REFRESH_CRON")
	setInt(&cfg.Trust.RefreshConcurrency, "TRUST_REFRESH_CONCURRENCY")
	setInt(&cfg.Trust.RefreshPageSize, "TRUST_REFRESH_PAGE_SIZE")
	setDuration(&cfg.Trust.LockTTL, "TRUST_LOCK_TTL")

	// server
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStringSlice(&cfg.Server.APIKeys, "SERVER_API_KEYS")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.ShutdownTimeout, "SERVER_SHUTDOWN_TIMEOUT")

	// notify
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookURL, "NOTIFY_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

func lookup(key string) (string, bool) {
	v := os.Getenv(envPrefix + key)
	return v, v != ""
}

func setStr(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v, ok := lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v, ok := lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

// setStringSlice splits a comma-separated value, dropping empty items.
func setStringSlice(dst *[]string, key string) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
