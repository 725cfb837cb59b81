package config

import (
	"maps"
	"slices"
)

const redacted = "***"

// RedactedConfig returns a copy of cfg safe to log. Secrets are replaced
// with "***" and slices and maps are cloned so the copy can be mutated.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Database.DSN)
	redact(&out.Database.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Fraud.ModelSecret)
	redact(&out.Consensus.InspectionKey)
	redact(&out.Consensus.InspectionKeyPassword)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	redact(&out.Notify.WebhookURL)

	out.Server.APIKeys = make([]string, len(cfg.Server.APIKeys))
	for i := range out.Server.APIKeys {
		out.Server.APIKeys[i] = redacted
	}

	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Fraud.TrustedHosts = slices.Clone(cfg.Fraud.TrustedHosts)
	out.Consensus.AttestationRequired = slices.Clone(cfg.Consensus.AttestationRequired)
	if cfg.Consensus.Attestors != nil {
		out.Consensus.Attestors = make(map[string][]string, len(cfg.Consensus.Attestors))
		for p, addrs := range maps.All(cfg.Consensus.Attestors) {
			out.Consensus.Attestors[p] = slices.Clone(addrs)
		}
	}
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
