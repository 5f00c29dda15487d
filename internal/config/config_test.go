package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.NotEmpty(t, cfg.Media.STUNServers)
	assert.Equal(t, "data", cfg.Paths.DataDir)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"empty signaling url", func(c *Config) { c.Signaling.URL = "" }, "signaling.url"},
		{"http scheme rejected", func(c *Config) { c.Signaling.URL = "http://x/ws" }, "ws or wss"},
		{"missing host", func(c *Config) { c.Signaling.URL = "ws:///ws" }, "missing host"},
		{"bad stun entry", func(c *Config) { c.Media.STUNServers = []string{"example.com:3478"} }, "stun_servers"},
		{"negative pool", func(c *Config) { c.Media.CandidatePool = -1 }, "candidate_pool"},
		{"empty http addr", func(c *Config) { c.HTTP.Addr = " " }, "http.addr"},
		{"empty data dir", func(c *Config) { c.Paths.DataDir = "" }, "data_dir"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errSub)
		})
	}

	t.Run("turn urls accepted", func(t *testing.T) {
		cfg := Default()
		cfg.Media.STUNServers = append(cfg.Media.STUNServers, "turn:turn.example.com:3478")
		assert.NoError(t, cfg.Validate())
	})
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentvoice.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"signaling":{"url":"wss://pbx.example.com/ws"}}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "wss://pbx.example.com/ws", cfg.Signaling.URL)
	// Unspecified sections keep their defaults.
	assert.Equal(t, Default().HTTP.Addr, cfg.HTTP.Addr)
	assert.Equal(t, Default().Media.STUNServers, cfg.Media.STUNServers)
}

func TestLoadStripsBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentvoice.json")
	body := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"http":{"addr":"127.0.0.1:9000"}}`)...)
	require.NoError(t, os.WriteFile(path, body, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentvoice.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"signaling":{"url":"ftp://nope"}}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestEnsureCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentvoice.json")

	cfg, created, err := Ensure(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, Default(), cfg)

	// Second call loads the existing file.
	cfg2, created2, err := Ensure(path)
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, cfg, cfg2)
}
