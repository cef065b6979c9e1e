package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  jwt_secret: s3cret
database:
  driver: memory
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "Hackathon 2026", cfg.Events.DefaultEvent)
	assert.Equal(t, 0.4, cfg.Vision.RecognitionThreshold)
	assert.Equal(t, 10*time.Second, cfg.Verification.Timeout)
	assert.True(t, cfg.Verification.GateBiometric())
	assert.Equal(t, int64(10<<20), cfg.Biometric.MaxProbeBytes)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  jwt_secret: from-file
database:
  driver: sqlite
verification:
  biometric_suspension_gate: false
`)
	t.Setenv("PASSGATE_SERVER_PORT", "9100")
	t.Setenv("PASSGATE_JWT_SECRET", "from-env")
	t.Setenv("PASSGATE_DEFAULT_EVENT", "Main Gate")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Server.JWTSecret)
	assert.Equal(t, "Main Gate", cfg.Events.DefaultEvent)
	assert.False(t, cfg.Verification.GateBiometric())
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, `
server:
  jwt_secret: x
database:
  driver: oracle
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "unknown database driver")
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: memory
`)
	t.Setenv("PASSGATE_JWT_SECRET", "")
	_, err := Load(path)
	assert.ErrorContains(t, err, "jwt_secret")
}
