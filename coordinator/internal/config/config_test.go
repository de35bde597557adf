package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "0.0.0.0:50051", cfg.Server.Addr())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"partner is self", func(c *Config) { c.Partner.Addr = "0.0.0.0:50051" }, "partner.addr"},
		{"no step interval", func(c *Config) { c.Replace.StepInterval = 0 }, "step_interval"},
		{"negative steps", func(c *Config) { c.Replace.DelaySteps = -1 }, "step counts"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "etcd" }, "store.backend"},
		{"postgres without host", func(c *Config) { c.Store.Backend = "postgres"; c.Database.Host = "" }, "database.host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  host: 10.0.0.1
  port: 9000
partner:
  addr: 10.0.0.2:9000
replace:
  auto_replace: false
  delay_steps: 3
  step_interval: 500ms
  rpc_timeout: 2s
store:
  backend: memory
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("COORDINATOR_AUTO_REPLACE", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:9000", cfg.Server.Addr())
	assert.Equal(t, "10.0.0.2:9000", cfg.Partner.Addr)
	assert.Equal(t, 3, cfg.Replace.DelaySteps)
	assert.Equal(t, 500*time.Millisecond, cfg.Replace.StepInterval)
	assert.True(t, cfg.Replace.AutoReplace)
	assert.Equal(t, 10, cfg.Replace.PartnerSyncSteps, "unset keys keep defaults")
}
