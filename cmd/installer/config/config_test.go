package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsParse(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "10.217.3.0", cfg.Network.Address)
	assert.Equal(t, "/24", cfg.Network.Mask)
	assert.Equal(t, 443, cfg.Network.Port)
	assert.Equal(t, 180*time.Second, cfg.Readiness.ServiceTimeout.D())
	assert.Equal(t, 2*time.Second, cfg.Readiness.ServiceInterval.D())
	assert.Equal(t, 300*time.Second, cfg.Readiness.DBTimeout.D())
	assert.Equal(t, 4*time.Second, cfg.Readiness.DBInterval.D())
	assert.Equal(t, "5433", cfg.Database.Defaults["port"])
	assert.Equal(t, 229, cfg.Platform.SystemdMinVersion)
	assert.Contains(t, cfg.Platform.Distributions, "ubuntu")
	assert.Contains(t, cfg.Platform.Distributions, "debian")
	assert.True(t, cfg.Rollback.RevertIPForward)
	assert.False(t, cfg.Rollback.RemoveArtifacts)
	assert.Len(t, cfg.Units.Rules, 5)
	assert.Len(t, cfg.VPN.Rules, 4)

	n, err := cfg.Artifacts.MaxBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(20<<30), n)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("INSTALLER_CONFIG", "")
	t.Setenv("DOWNLOAD_DIR", "/tmp/dl")
	t.Setenv("VPN_PORT", "1194")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/dl", cfg.Paths.DownloadDir)
	assert.Equal(t, 1194, cfg.Network.Port)
	assert.True(t, cfg.Otel.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadIgnoresMalformedEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("VPN_PORT", "not-a-port")
	t.Setenv("OTEL_ENABLED", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 443, cfg.Network.Port)
	assert.False(t, cfg.Otel.Enabled)
}

func TestLoadOverrideFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	override := filepath.Join(dir, "override.yaml")
	require.NoError(t, os.WriteFile(override, []byte(`
network:
  address: 10.99.0.0
readiness:
  service_timeout: 30s
rollback:
  remove_artifacts: true
`), 0644))
	t.Setenv("INSTALLER_CONFIG", override)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "10.99.0.0", cfg.Network.Address)
	assert.Equal(t, 30*time.Second, cfg.Readiness.ServiceTimeout.D())
	assert.True(t, cfg.Rollback.RemoveArtifacts)
	// untouched keys keep their defaults
	assert.Equal(t, "/24", cfg.Network.Mask)
	assert.Equal(t, 443, cfg.Network.Port)
}

func TestLoadOverrideFileMissing(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("INSTALLER_CONFIG", "/nonexistent/override.yaml")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "bad port",
			mutate: func(c *Config) { c.Network.Port = 70000 },
			errMsg: "network.port",
		},
		{
			name:   "bad mask",
			mutate: func(c *Config) { c.Network.Mask = "24" },
			errMsg: "network.mask",
		},
		{
			name:   "bad size",
			mutate: func(c *Config) { c.Artifacts.MaxSize = "lots" },
			errMsg: "max_size",
		},
		{
			name:   "bad rule",
			mutate: func(c *Config) { c.Units.Rules[2].Args = nil },
			errMsg: "units.rules",
		},
		{
			name:   "no attempts",
			mutate: func(c *Config) { c.Platform.SystemdUpgradeAttempts = 0 },
			errMsg: "systemd_upgrade_attempts",
		},
		{
			name:   "bad tunnel pattern",
			mutate: func(c *Config) { c.Network.TunnelPattern = "tun[" },
			errMsg: "tunnel_pattern",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestDurationDecoding(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, 90*time.Second, d.D())

	require.NoError(t, d.UnmarshalJSON([]byte(`1000`)))
	assert.Equal(t, time.Microsecond, d.D())

	assert.Error(t, d.UnmarshalJSON([]byte(`"soon"`)))
}
