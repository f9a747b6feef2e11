package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	Storage     StorageConfig     `yaml:"storage"`
	Consent     ConsentConfig     `yaml:"consent"`
	Encryption  EncryptionConfig  `yaml:"encryption"`
	Encoding    EncodingConfig    `yaml:"encoding"`
	Upload      UploadConfig      `yaml:"upload"`
	Retention   RetentionConfig   `yaml:"retention"`
	Logging     LoggingConfig     `yaml:"logging"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Features    []FeatureConfig   `yaml:"features"`
}

// ServiceConfig identifies the host application in every context snapshot.
type ServiceConfig struct {
	Name    string `yaml:"name"`
	Env     string `yaml:"env"`
	Version string `yaml:"version"`
}

// StorageConfig holds the on-disk layout and batching thresholds.
type StorageConfig struct {
	Root            string   `yaml:"root"`
	BatchSize       string   `yaml:"batch_size"`
	UploadFrequency string   `yaml:"upload_frequency"`
	SyncWrites      bool     `yaml:"sync_writes"`
	ClockOffset     Duration `yaml:"clock_offset"`
	// Limits override single preset thresholds; zero keeps the preset value.
	Limits LimitsConfig `yaml:"limits"`
}

// LimitsConfig mirrors performance.Preset field by field.
type LimitsConfig struct {
	MaxFileSize           SizeBytes `yaml:"max_file_size"`
	MaxDirectorySize      SizeBytes `yaml:"max_directory_size"`
	MaxFileAgeForWrite    Duration  `yaml:"max_file_age_for_write"`
	MinFileAgeForRead     Duration  `yaml:"min_file_age_for_read"`
	MaxFileAgeForRead     Duration  `yaml:"max_file_age_for_read"`
	MaxEventsPerFile      int       `yaml:"max_events_per_file"`
	MaxEventSize          SizeBytes `yaml:"max_event_size"`
	InitialUploadDelay    Duration  `yaml:"initial_upload_delay"`
	MinUploadDelay        Duration  `yaml:"min_upload_delay"`
	MaxUploadDelay        Duration  `yaml:"max_upload_delay"`
	UploadDelayChangeRate float64   `yaml:"upload_delay_change_rate"`
}

// ConsentConfig holds the consent state the core starts with.
type ConsentConfig struct {
	Initial string `yaml:"initial"`
}

// EncryptionConfig selects the at-rest encryption capability.
type EncryptionConfig struct {
	Kind string `yaml:"kind"` // none | aesgcm | age
	// Key is a hex AES-256 key for aesgcm or an age identity for age.
	Key       string `yaml:"key"`
	KeyFile   string `yaml:"key_file"`
	Recipient string `yaml:"recipient"`
}

// EncodingConfig selects the on-disk serialization of events.
type EncodingConfig struct {
	Format string `yaml:"format"` // json | cbor
}

// UploadConfig controls the upload workers.
type UploadConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Endpoint    string   `yaml:"endpoint"`
	ClientToken string   `yaml:"client_token"`
	Timeout     Duration `yaml:"timeout"`
	MaxAttempts int      `yaml:"max_attempts"`
	Compress    bool     `yaml:"compress"`
	Format      string   `yaml:"format"` // ndjson | json
	RateLimit   struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// RetentionConfig holds configuration for the stale file sweeper.
type RetentionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DiagnosticsConfig holds the local HTTP listener and health knobs.
type DiagnosticsConfig struct {
	Address         string   `yaml:"address"`
	Port            int      `yaml:"port"`
	HealthThreshold int      `yaml:"health_threshold"`
	PollInterval    Duration `yaml:"poll_interval"`
	DiskHighPct     int      `yaml:"disk_high_pct"`
	DiskLowPct      int      `yaml:"disk_low_pct"`
}

// FeatureConfig registers one feature at startup. Empty fields inherit the
// storage section.
type FeatureConfig struct {
	Name            string `yaml:"name"`
	BatchSize       string `yaml:"batch_size"`
	UploadFrequency string `yaml:"upload_frequency"`
	Encoding        string `yaml:"encoding"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := parseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func parseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func parseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}
