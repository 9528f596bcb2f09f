package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAndEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GARAME_JWT_SECRET", "s3cret")
	t.Setenv("GARAME_GAME_TURN_DURATION", "45s")
	t.Setenv("GARAME_STORAGE_BACKEND", "redis")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", c.JWT.Secret)
	assert.Equal(t, 45*time.Second, c.Game.TurnDuration)
	assert.Equal(t, 800*time.Millisecond, c.Game.BotDelay)
	assert.Equal(t, "redis", c.Storage.Backend)
	assert.Equal(t, "0.10", c.Ledger.CommissionRate)
	assert.Equal(t, int64(10), c.Ledger.FcfaPerKora)
	assert.Equal(t, "@every 5m", c.Cleanup.Schedule)
}

func TestLoadFileAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	yaml := "jwt:\n  secret: from-file\ngame:\n  min_stake: 50\ndatabase:\n  driver: postgres\n  dsn: postgres://x\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("GARAME_LEDGER_FCFA_PER_KORA=25\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("GARAME_LEDGER_FCFA_PER_KORA") })

	c, err := Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "from-file", c.JWT.Secret)
	assert.Equal(t, int64(50), c.Game.MinStake)
	assert.Equal(t, "postgres", c.Database.Driver)
	assert.Equal(t, int64(25), c.Ledger.FcfaPerKora)
}

func TestLoadValidates(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load("")
	assert.ErrorContains(t, err, "jwt.secret")

	t.Setenv("GARAME_JWT_SECRET", "x")
	t.Setenv("GARAME_STORAGE_BACKEND", "etcd")
	_, err = Load("")
	assert.ErrorContains(t, err, "storage.backend")
}
