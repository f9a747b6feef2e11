// Package config loads the YAML configuration of the batchctl service and
// turns it into core options.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"gopkg.in/yaml.v3"

	"telemetrycore/pkg/consent"
	"telemetrycore/pkg/encoding"
	"telemetrycore/pkg/encryption"
	"telemetrycore/pkg/logger"
	"telemetrycore/pkg/performance"
	"telemetrycore/pkg/state"
)

const (
	defaultStorageRoot     = "./.telemetry"
	defaultRetentionCron   = "*/15 * * * *"
	defaultUploadTimeout   = 10 * time.Second
	defaultUploadAttempts  = 10
	defaultUploadFormat    = "ndjson"
	defaultDiagAddress     = "127.0.0.1"
	defaultDiagPort        = 9464
	defaultHealthThreshold = 10
	defaultPollInterval    = 30 * time.Second
	defaultDiskHighPct     = 95
	defaultDiskLowPct      = 90
)

// Addr returns the diagnostics listener address as host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Diagnostics.Address, c.Diagnostics.Port)
}

// LoadConfigFile reads and parses a config file.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Load reads path, applies TELEMETRY_* overrides and validates. An empty
// path yields a config built from defaults and env only.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		var err error
		if cfg, err = LoadConfigFile(path); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolveConfigPath returns the config file path, preferring the flag, then
// TELEMETRY_CONFIG.
func ResolveConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	return os.Getenv("TELEMETRY_CONFIG")
}

// Validate applies defaults and validates values in the config. It mutates
// the receiver to fill in missing defaults.
func (c *Config) Validate() error {
	if c.Storage.Root == "" {
		c.Storage.Root = defaultStorageRoot
	}
	if _, err := c.Preset(); err != nil {
		return err
	}

	if _, err := consent.Parse(c.Consent.Initial); err != nil {
		return fmt.Errorf("consent.initial: %w", err)
	}
	if _, err := encoding.ForName(c.Encoding.Format); err != nil {
		return fmt.Errorf("encoding.format: %w", err)
	}
	switch strings.ToLower(c.Encryption.Kind) {
	case "", "none", "aesgcm", "aes-gcm", "age":
	default:
		return fmt.Errorf("encryption.kind: unsupported %q", c.Encryption.Kind)
	}

	// Upload defaults
	if c.Upload.Timeout.Duration() == 0 {
		c.Upload.Timeout = Duration(defaultUploadTimeout)
	}
	if c.Upload.MaxAttempts <= 0 {
		c.Upload.MaxAttempts = defaultUploadAttempts
	}
	if c.Upload.Format == "" {
		c.Upload.Format = defaultUploadFormat
	}
	if c.Upload.Format != "ndjson" && c.Upload.Format != "json" {
		return fmt.Errorf("upload.format: unsupported %q", c.Upload.Format)
	}
	if c.Upload.Enabled && strings.TrimSpace(c.Upload.Endpoint) == "" {
		return fmt.Errorf("upload enabled but upload.endpoint is empty")
	}

	// Retention cron (if not set, sweep every 15 minutes)
	if c.Retention.Cron == "" {
		c.Retention.Cron = defaultRetentionCron
	}
	if !gronx.New().IsValid(c.Retention.Cron) {
		return fmt.Errorf("invalid retention cron expression: %s", c.Retention.Cron)
	}

	// Diagnostics defaults
	d := &c.Diagnostics
	if d.Address == "" {
		d.Address = defaultDiagAddress
	}
	if d.Port == 0 {
		d.Port = defaultDiagPort
	}
	if d.HealthThreshold <= 0 {
		d.HealthThreshold = defaultHealthThreshold
	}
	if d.PollInterval.Duration() == 0 {
		d.PollInterval = Duration(defaultPollInterval)
	}
	if d.DiskHighPct == 0 {
		d.DiskHighPct = defaultDiskHighPct
	}
	if d.DiskLowPct == 0 {
		d.DiskLowPct = defaultDiskLowPct
	}
	if d.DiskLowPct > d.DiskHighPct {
		return fmt.Errorf("diagnostics.disk_low_pct %d above disk_high_pct %d", d.DiskLowPct, d.DiskHighPct)
	}

	seen := make(map[string]bool, len(c.Features))
	for i, f := range c.Features {
		if err := state.ValidateFeatureName(f.Name); err != nil {
			return fmt.Errorf("features[%d]: %w", i, err)
		}
		if seen[f.Name] {
			return fmt.Errorf("features[%d]: duplicate name %q", i, f.Name)
		}
		seen[f.Name] = true
		if _, err := c.FeaturePreset(f); err != nil {
			return fmt.Errorf("features[%d]: %w", i, err)
		}
		if _, err := encoding.ForName(f.Encoding); err != nil {
			return fmt.Errorf("features[%d]: %w", i, err)
		}
	}
	return nil
}

// Preset builds the core-wide preset from the storage section.
func (c *Config) Preset() (performance.Preset, error) {
	return c.presetFor(c.Storage.BatchSize, c.Storage.UploadFrequency)
}

// FeaturePreset builds the preset of one feature.
func (c *Config) FeaturePreset(f FeatureConfig) (performance.Preset, error) {
	batch, freq := f.BatchSize, f.UploadFrequency
	if batch == "" {
		batch = c.Storage.BatchSize
	}
	if freq == "" {
		freq = c.Storage.UploadFrequency
	}
	return c.presetFor(batch, freq)
}

func (c *Config) presetFor(batch, freq string) (performance.Preset, error) {
	p, err := performance.New(performance.BatchSize(batch), performance.UploadFrequency(freq))
	if err != nil {
		return p, err
	}
	l := c.Storage.Limits
	if l.MaxFileSize > 0 {
		p.MaxFileSize = l.MaxFileSize.Int64()
	}
	if l.MaxDirectorySize > 0 {
		p.MaxDirectorySize = l.MaxDirectorySize.Int64()
	}
	if l.MaxFileAgeForWrite > 0 {
		p.MaxFileAgeForWrite = l.MaxFileAgeForWrite.Duration()
	}
	if l.MinFileAgeForRead > 0 {
		p.MinFileAgeForRead = l.MinFileAgeForRead.Duration()
	}
	if l.MaxFileAgeForRead > 0 {
		p.MaxFileAgeForRead = l.MaxFileAgeForRead.Duration()
	}
	if l.MaxEventsPerFile > 0 {
		p.MaxEventsPerFile = l.MaxEventsPerFile
	}
	if l.MaxEventSize > 0 {
		p.MaxEventSize = l.MaxEventSize.Int64()
	}
	if l.InitialUploadDelay > 0 {
		p.InitialUploadDelay = l.InitialUploadDelay.Duration()
	}
	if l.MinUploadDelay > 0 {
		p.MinUploadDelay = l.MinUploadDelay.Duration()
	}
	if l.MaxUploadDelay > 0 {
		p.MaxUploadDelay = l.MaxUploadDelay.Duration()
	}
	if l.UploadDelayChangeRate > 0 {
		p.UploadDelayChangeRate = l.UploadDelayChangeRate
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("storage limits: %w", err)
	}
	if p.MaxFileAgeForWrite > 0 && p.MinFileAgeForRead > 0 && p.MinFileAgeForRead <= p.MaxFileAgeForWrite {
		logger.Warn("config_read_age_overlaps_write_age", "min_file_age_for_read", p.MinFileAgeForRead, "max_file_age_for_write", p.MaxFileAgeForWrite)
	}
	return p, nil
}

// InitialConsent returns the parsed consent.initial value.
func (c *Config) InitialConsent() consent.State {
	s, _ := consent.Parse(c.Consent.Initial)
	return s
}

// DataEncryption builds the configured capability. key_file, when set,
// takes precedence over key.
func (c *Config) DataEncryption() (encryption.DataEncryption, error) {
	key := c.Encryption.Key
	if c.Encryption.KeyFile != "" {
		b, err := os.ReadFile(c.Encryption.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read encryption key file: %w", err)
		}
		key = strings.TrimSpace(string(b))
	}
	return encryption.FromConfig(c.Encryption.Kind, key, c.Encryption.Recipient)
}

// Summary lists the effective settings for LogConfigSummary.
func (c *Config) Summary() []string {
	return []string{
		"storage.root: " + c.Storage.Root,
		"consent.initial: " + c.InitialConsent().String(),
		"encoding: " + orDefault(c.Encoding.Format, "json"),
		"encryption: " + orDefault(c.Encryption.Kind, "none"),
		fmt.Sprintf("upload: enabled=%t endpoint=%s", c.Upload.Enabled, c.Upload.Endpoint),
		fmt.Sprintf("retention: enabled=%t cron=%q", c.Retention.Enabled, c.Retention.Cron),
		"diagnostics: " + c.Addr(),
		fmt.Sprintf("features: %d", len(c.Features)),
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
