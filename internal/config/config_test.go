package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "portal.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "MEDIUM", cfg.Scoring.AutoOpenLevel)
	assert.Equal(t, 12, cfg.Lifecycle.DefaultExpectedDocuments)
	assert.InDelta(t, 0.5, cfg.Lifecycle.DraftingRatio, 0.001)
	assert.Equal(t, 3, cfg.Lifecycle.RequiredPaidMilestones)
	assert.Len(t, cfg.Lifecycle.CivilStatusChecklist, 4)
	assert.Equal(t, "1.0.0", cfg.Export.SchemaVersion)
	assert.Equal(t, 180, cfg.Export.TimelineLimitDays)
	assert.Equal(t, 3, cfg.Notify.Retry.MaxAttempts)
	assert.Equal(t, 5, cfg.Notify.Circuit.FailureThreshold)
	assert.NoError(t, cfg.Validate("serve"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/portal
log:
  level: debug
  format: console
server:
  port: 9090
lifecycle:
  required_paid_milestones: 4
  civil_status_checklist:
    - applicant_birth_certificate
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Lifecycle.RequiredPaidMilestones)
	assert.Equal(t, []string{"applicant_birth_certificate"}, cfg.Lifecycle.CivilStatusChecklist)
	// Defaults still apply for unset values
	assert.InDelta(t, 0.5, cfg.Lifecycle.DraftingRatio, 0.001)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("PORTAL_STORE_DRIVER", "postgres")
	t.Setenv("PORTAL_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("PORTAL_SERVER_PORT", "3000")
	t.Setenv("PORTAL_NOTIFY_WEBHOOK_URL", "https://hooks.example.com/case")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "https://hooks.example.com/case", cfg.Notify.WebhookURL)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Server.Port = 8080
	cfg.Scoring.AutoOpenLevel = "MEDIUM"
	cfg.Lifecycle.DefaultExpectedDocuments = 12
	cfg.Lifecycle.DraftingRatio = 0.5
	cfg.Lifecycle.RequiredPaidMilestones = 3
	return cfg
}

func TestValidateServe_ValidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 9090

	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestValidatePostgresNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"

	err := cfg.Validate("cases")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateUnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("cases")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestValidateLifecycleBounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Lifecycle.DraftingRatio = 1.5
	cfg.Lifecycle.RequiredPaidMilestones = 13
	cfg.Lifecycle.DefaultExpectedDocuments = 0

	err := cfg.Validate("cases")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drafting_ratio")
	assert.Contains(t, err.Error(), "required_paid_milestones")
	assert.Contains(t, err.Error(), "default_expected_documents")
}

func TestValidateAutoOpenLevel(t *testing.T) {
	cfg := validDefaults()
	cfg.Scoring.AutoOpenLevel = "SUPER"
	assert.Error(t, cfg.Validate("cases"))

	cfg.Scoring.AutoOpenLevel = ""
	assert.NoError(t, cfg.Validate("cases"))
}

func TestValidateNotifyNeedsWebhook(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("notify")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "notify.webhook_url is required")

	cfg.Notify.WebhookURL = "https://hooks.example.com"
	assert.NoError(t, cfg.Validate("notify"))
}

func TestValidateNotion(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("notion")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "notion.token is required")
	assert.Contains(t, err.Error(), "notion.question_db is required")
}
