package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8888", cfg.Host)
	assert.Equal(t, "./tmp/users.json", cfg.UsersFile)
	assert.False(t, cfg.StrictStart)
}

func TestFlagOverridesDefault(t *testing.T) {
	cfg, err := Parse([]string{"--host", "127.0.0.1:9999"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Host)
}

func TestEnvOverridesDefaultButNotFlag(t *testing.T) {
	t.Setenv("HOST", "env-host:1111")
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, "env-host:1111", cfg.Host)

	cfg, err = Parse([]string{"--host", "flag-host:2222"})
	require.NoError(t, err)
	assert.Equal(t, "flag-host:2222", cfg.Host)

	_ = os.Unsetenv("HOST")
}
