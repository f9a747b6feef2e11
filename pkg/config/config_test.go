package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"telemetrycore/pkg/consent"
	"telemetrycore/pkg/encryption"
)

const sample = `
service:
  name: checkout
  env: staging
storage:
  root: /var/lib/telemetry
  batch_size: small
  upload_frequency: frequent
  limits:
    max_directory_size: 64MB
    max_event_size: 128KiB
    max_file_age_for_read: 6h
consent:
  initial: granted
encoding:
  format: cbor
upload:
  enabled: true
  endpoint: https://intake.example.com/v1/{feature}
  timeout: 5
  rate_limit:
    rps: 2.5
    burst: 4
retention:
  enabled: true
  cron: "0 * * * *"
features:
  - name: logs
  - name: rum
    batch_size: large
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadParsesSizesDurationsAndPresets(t *testing.T) {
	cfg, err := Load(writeFile(t, sample))
	require.NoError(t, err)

	require.Equal(t, "checkout", cfg.Service.Name)
	require.EqualValues(t, 64_000_000, cfg.Storage.Limits.MaxDirectorySize)
	require.EqualValues(t, 128*1024, cfg.Storage.Limits.MaxEventSize)
	require.Equal(t, 5*time.Second, cfg.Upload.Timeout.Duration())
	require.Equal(t, consent.Granted, cfg.InitialConsent())

	p, err := cfg.Preset()
	require.NoError(t, err)
	require.EqualValues(t, 64_000_000, p.MaxDirectorySize)
	require.Equal(t, 6*time.Hour, p.MaxFileAgeForRead)
	require.Equal(t, 500*time.Millisecond, p.MinUploadDelay)

	small, err := cfg.FeaturePreset(cfg.Features[0])
	require.NoError(t, err)
	large, err := cfg.FeaturePreset(cfg.Features[1])
	require.NoError(t, err)
	require.Less(t, small.MaxFileAgeForWrite, large.MaxFileAgeForWrite)

	// defaults filled in
	require.Equal(t, 10, cfg.Upload.MaxAttempts)
	require.Equal(t, "ndjson", cfg.Upload.Format)
	require.Equal(t, "127.0.0.1:9464", cfg.Addr())
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("TELEMETRY_STORAGE_ROOT", "/tmp/elsewhere")
	t.Setenv("TELEMETRY_CONSENT", "not_granted")
	t.Setenv("TELEMETRY_CLIENT_TOKEN", "secret")
	t.Setenv("TELEMETRY_FEATURES", "logs, traces")
	t.Setenv("TELEMETRY_UPLOAD_TIMEOUT", "250ms")

	cfg, err := Load(writeFile(t, sample))
	require.NoError(t, err)
	require.Equal(t, "/tmp/elsewhere", cfg.Storage.Root)
	require.Equal(t, consent.NotGranted, cfg.InitialConsent())
	require.Equal(t, "secret", cfg.Upload.ClientToken)
	require.Equal(t, 250*time.Millisecond, cfg.Upload.Timeout.Duration())
	require.Len(t, cfg.Features, 2)
	require.Equal(t, "traces", cfg.Features[1].Name)
}

func TestEnvRejectsMalformedNumbers(t *testing.T) {
	t.Setenv("TELEMETRY_DIAGNOSTICS_PORT", "eighty")
	_, err := Load("")
	require.ErrorContains(t, err, "TELEMETRY_DIAGNOSTICS_PORT")
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"bad cron":        "retention:\n  cron: \"every day\"\n",
		"bad consent":     "consent:\n  initial: maybe\n",
		"bad encoding":    "encoding:\n  format: xml\n",
		"bad batch size":  "storage:\n  batch_size: huge\n",
		"upload no url":   "upload:\n  enabled: true\n",
		"bad feature":     "features:\n  - name: Bad Name\n",
		"duplicate":       "features:\n  - name: logs\n  - name: logs\n",
		"bad encryption":  "encryption:\n  kind: rot13\n",
		"tiny directory":  "storage:\n  limits:\n    max_directory_size: 1KB\n",
		"disk thresholds": "diagnostics:\n  disk_high_pct: 50\n  disk_low_pct: 70\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, body))
			require.Error(t, err)
		})
	}
}

func TestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorContains(t, err, "config file not found")
}

func TestDataEncryptionFromKeyFile(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "key.hex")
	key := "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	require.NoError(t, os.WriteFile(keyPath, []byte(key+"\n"), 0o600))

	cfg, err := Load(writeFile(t, "encryption:\n  kind: aesgcm\n  key_file: "+keyPath+"\n"))
	require.NoError(t, err)
	crypt, err := cfg.DataEncryption()
	require.NoError(t, err)
	require.IsType(t, &encryption.AESGCM{}, crypt)

	ct, err := crypt.Encrypt([]byte("hello"))
	require.NoError(t, err)
	pt, err := crypt.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, "hello", string(pt))
}

func TestNoEncryptionByDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	crypt, err := cfg.DataEncryption()
	require.NoError(t, err)
	require.Nil(t, crypt)
}
