package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const envPrefix = "TELEMETRY_"

// ApplyEnv overlays TELEMETRY_* variables onto cfg. Unset variables leave
// the file value in place.
func ApplyEnv(cfg *Config) error {
	envs := map[string]string{}
	for _, name := range []string{
		"SERVICE_NAME", "SERVICE_ENV", "SERVICE_VERSION",
		"STORAGE_ROOT", "STORAGE_BATCH_SIZE", "STORAGE_UPLOAD_FREQUENCY",
		"STORAGE_SYNC_WRITES", "STORAGE_MAX_DIRECTORY_SIZE", "STORAGE_CLOCK_OFFSET",
		"CONSENT",
		"ENCODING",
		"ENCRYPTION_KIND", "ENCRYPTION_KEY", "ENCRYPTION_KEY_FILE", "ENCRYPTION_RECIPIENT",
		"UPLOAD_ENABLED", "UPLOAD_ENDPOINT", "CLIENT_TOKEN", "UPLOAD_TIMEOUT",
		"UPLOAD_MAX_ATTEMPTS", "UPLOAD_COMPRESS", "UPLOAD_RATE_RPS", "UPLOAD_RATE_BURST",
		"RETENTION_ENABLED", "RETENTION_CRON",
		"LOG_FORMAT",
		"DIAGNOSTICS_ADDRESS", "DIAGNOSTICS_PORT",
		"FEATURES",
	} {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			envs[name] = strings.TrimSpace(v)
		}
	}

	var errs []string
	str := func(key string, dst *string) {
		if v, ok := envs[key]; ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := envs[key]; ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes":
				*dst = true
			default:
				*dst = false
			}
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := envs[key]; ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, envPrefix+key)
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := envs[key]; ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, envPrefix+key)
				return
			}
			*dst = f
		}
	}
	size := func(key string, dst *SizeBytes) {
		if v, ok := envs[key]; ok && v != "" {
			s, err := parseSize(v)
			if err != nil {
				errs = append(errs, envPrefix+key)
				return
			}
			*dst = s
		}
	}
	duration := func(key string, dst *Duration) {
		if v, ok := envs[key]; ok && v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, envPrefix+key)
				return
			}
			*dst = d
		}
	}

	str("SERVICE_NAME", &cfg.Service.Name)
	str("SERVICE_ENV", &cfg.Service.Env)
	str("SERVICE_VERSION", &cfg.Service.Version)

	str("STORAGE_ROOT", &cfg.Storage.Root)
	str("STORAGE_BATCH_SIZE", &cfg.Storage.BatchSize)
	str("STORAGE_UPLOAD_FREQUENCY", &cfg.Storage.UploadFrequency)
	boolean("STORAGE_SYNC_WRITES", &cfg.Storage.SyncWrites)
	size("STORAGE_MAX_DIRECTORY_SIZE", &cfg.Storage.Limits.MaxDirectorySize)
	duration("STORAGE_CLOCK_OFFSET", &cfg.Storage.ClockOffset)

	str("CONSENT", &cfg.Consent.Initial)
	str("ENCODING", &cfg.Encoding.Format)

	str("ENCRYPTION_KIND", &cfg.Encryption.Kind)
	str("ENCRYPTION_KEY", &cfg.Encryption.Key)
	str("ENCRYPTION_KEY_FILE", &cfg.Encryption.KeyFile)
	str("ENCRYPTION_RECIPIENT", &cfg.Encryption.Recipient)

	boolean("UPLOAD_ENABLED", &cfg.Upload.Enabled)
	str("UPLOAD_ENDPOINT", &cfg.Upload.Endpoint)
	str("CLIENT_TOKEN", &cfg.Upload.ClientToken)
	duration("UPLOAD_TIMEOUT", &cfg.Upload.Timeout)
	integer("UPLOAD_MAX_ATTEMPTS", &cfg.Upload.MaxAttempts)
	boolean("UPLOAD_COMPRESS", &cfg.Upload.Compress)
	float("UPLOAD_RATE_RPS", &cfg.Upload.RateLimit.RPS)
	integer("UPLOAD_RATE_BURST", &cfg.Upload.RateLimit.Burst)

	boolean("RETENTION_ENABLED", &cfg.Retention.Enabled)
	str("RETENTION_CRON", &cfg.Retention.Cron)

	// TELEMETRY_LOG_LEVEL is read by logger.Init directly.
	str("LOG_FORMAT", &cfg.Logging.Format)

	str("DIAGNOSTICS_ADDRESS", &cfg.Diagnostics.Address)
	integer("DIAGNOSTICS_PORT", &cfg.Diagnostics.Port)

	if v := envs["FEATURES"]; v != "" {
		cfg.Features = nil
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.Features = append(cfg.Features, FeatureConfig{Name: s})
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment values: %s", strings.Join(errs, ", "))
	}
	return nil
}
