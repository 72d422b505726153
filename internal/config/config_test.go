package config

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mailroom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	loader, err := Load("", quiet())
	require.NoError(t, err)

	cfg := loader.Get()
	assert.Equal(t, "mailroom", cfg.App.Name)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "filesystem", cfg.Blob.Backend)
	assert.Equal(t, "memory", cfg.Index.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Pipeline.DedupTTL)
	assert.Equal(t, "none", cfg.Forwarding.Transport)
	assert.False(t, cfg.Sweeper.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
app:
  domain: mail.example.org
server:
  port: 9090
blob:
  backend: s3
  bucket: mail-archive
  region: us-east-1
index:
  backend: dynamodb
  table: messages
  region: us-east-1
forwarding:
  transport: smtp
  smtp:
    host: relay.example.org
    port: 587
  rules:
    - pattern: support@
      forward_to: helpdesk@example.com
sweeper:
  enabled: true
  schedule: "15 4 * * *"
`)

	loader, err := Load(path, quiet())
	require.NoError(t, err)

	cfg := loader.Get()
	assert.Equal(t, "mail.example.org", cfg.App.Domain)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "s3", cfg.Blob.Backend)
	assert.Equal(t, "mail-archive", cfg.Blob.Bucket)
	assert.Equal(t, "dynamodb", cfg.Index.Backend)
	assert.Equal(t, "smtp", cfg.Forwarding.Transport)
	assert.Equal(t, "relay.example.org", cfg.Forwarding.SMTP.Host)
	require.Len(t, cfg.Forwarding.Rules, 1)
	assert.Equal(t, "helpdesk@example.com", cfg.Forwarding.Rules[0].ForwardTo)
	assert.True(t, cfg.Sweeper.Enabled)
	assert.Equal(t, "15 4 * * *", cfg.Sweeper.Schedule)

	rules, err := cfg.Forwarding.CompiledRules()
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MAILROOM_SERVER_PORT", "9191")
	t.Setenv("MAILROOM_APP_DOMAIN", "env.example.org")

	loader, err := Load("", quiet())
	require.NoError(t, err)

	cfg := loader.Get()
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "env.example.org", cfg.App.Domain)
}

func TestLoadRejectsInvalidRule(t *testing.T) {
	path := writeConfig(t, `
forwarding:
  transport: none
  rules:
    - pattern: "(unclosed"
      forward_to: x@example.com
`)

	_, err := Load(path, quiet())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid pattern")
}

func TestLoadRejectsUnknownTransport(t *testing.T) {
	path := writeConfig(t, `
forwarding:
  transport: pigeon
`)

	_, err := Load(path, quiet())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport")
}

func TestLoadRejectsBadPort(t *testing.T) {
	path := writeConfig(t, `
server:
  port: -1
`)

	_, err := Load(path, quiet())
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/mailroom.yaml", quiet())
	require.Error(t, err)
}
