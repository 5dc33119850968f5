package platform

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/privatix/dapp-installer/cmd/installer/config"
	"github.com/privatix/dapp-installer/lib/hostexec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeOSRelease(t *testing.T, id, versionID string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "os-release")
	content := "NAME=\"Test\"\nID=" + id + "\nVERSION_ID=\"" + versionID + "\"\nPRETTY_NAME=\"Test " + versionID + "\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := config.Default()
	cfg.Platform.OSRelease = path
	return cfg
}

func TestProbe(t *testing.T) {
	tests := []struct {
		name        string
		id          string
		versionID   string
		unsupported bool
	}{
		{name: "ubuntu 16.04", id: "ubuntu", versionID: "16.04"},
		{name: "ubuntu 22.04", id: "ubuntu", versionID: "22.04"},
		{name: "ubuntu 14.04", id: "ubuntu", versionID: "14.04", unsupported: true},
		{name: "debian 8", id: "debian", versionID: "8"},
		{name: "debian 12", id: "debian", versionID: "12"},
		{name: "debian 7", id: "debian", versionID: "7", unsupported: true},
		{name: "fedora", id: "fedora", versionID: "39", unsupported: true},
		{name: "garbage version", id: "ubuntu", versionID: "rolling", unsupported: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := writeOSRelease(t, tt.id, tt.versionID)
			target, err := NewProber(cfg).Probe(context.Background())
			if tt.unsupported {
				require.ErrorIs(t, err, ErrUnsupportedPlatform)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.id, target.Name)
			assert.Equal(t, tt.versionID, target.Release.VersionID)
		})
	}
}

func TestProbeMissingFile(t *testing.T) {
	cfg := config.Default()
	cfg.Platform.OSRelease = filepath.Join(t.TempDir(), "missing")
	_, err := NewProber(cfg).Probe(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnsupportedPlatform))
}

func debianTarget(cfg *config.Config) *Target {
	return &Target{Name: "debian", Plan: cfg.Platform.Distributions["debian"]}
}

func TestUpgradeUbuntu(t *testing.T) {
	cfg := config.Default()
	runner := hostexec.NewFakeRunner()
	target := &Target{Name: "ubuntu", Plan: cfg.Platform.Distributions["ubuntu"]}

	require.NoError(t, NewUpgrader(cfg, runner).Upgrade(context.Background(), target))
	assert.Equal(t, []string{"apt-get install systemd-container -y"}, runner.Ran())
}

func TestUpgradeDebianSystemdCurrent(t *testing.T) {
	cfg := config.Default()
	runner := hostexec.NewFakeRunner().On("systemd --version", "systemd 232\n+PAM +AUDIT", nil)

	require.NoError(t, NewUpgrader(cfg, runner).Upgrade(context.Background(), debianTarget(cfg)))
	assert.Equal(t, 0, runner.Count("apt-get -t jessie-backports install systemd"))
	assert.Equal(t, 1, runner.Count("apt-get install systemd-container"))
	assert.Equal(t, 1, runner.Count("apt-get update"))
}

func TestUpgradeDebianSystemdRetry(t *testing.T) {
	cfg := config.Default()
	runner := hostexec.NewFakeRunner().
		Enqueue("systemd --version", "systemd 215", nil).
		Enqueue("systemd --version", "systemd 215", nil).
		Enqueue("systemd --version", "systemd 230", nil)

	require.NoError(t, NewUpgrader(cfg, runner).Upgrade(context.Background(), debianTarget(cfg)))
	assert.Equal(t, 2, runner.Count("apt-get -t jessie-backports install systemd"))
	assert.Equal(t, 1, runner.Count("apt-get install systemd-container"))
}

func TestUpgradeDebianSystemdExhausted(t *testing.T) {
	cfg := config.Default()
	runner := hostexec.NewFakeRunner().On("systemd --version", "systemd 215", nil)

	err := NewUpgrader(cfg, runner).Upgrade(context.Background(), debianTarget(cfg))
	require.ErrorIs(t, err, ErrSystemdUpgrade)
	assert.Equal(t, 2, runner.Count("apt-get -t jessie-backports install systemd"))
	assert.Equal(t, 0, runner.Count("apt-get install systemd-container"))
}

func TestUpgradeSystemdUnreadable(t *testing.T) {
	cfg := config.Default()
	runner := hostexec.NewFakeRunner().On("systemd --version", "", &hostexec.CommandError{Command: "systemd --version", ExitCode: 127})

	err := NewUpgrader(cfg, runner).Upgrade(context.Background(), debianTarget(cfg))
	require.ErrorIs(t, err, ErrSystemdUpgrade)
	var cerr *hostexec.CommandError
	assert.ErrorAs(t, err, &cerr)
}

func TestUpgradePrepareFailure(t *testing.T) {
	cfg := config.Default()
	boom := &hostexec.CommandError{Command: "apt-get update", ExitCode: 100}
	runner := hostexec.NewFakeRunner().On("apt-get update", "", boom)

	err := NewUpgrader(cfg, runner).Upgrade(context.Background(), debianTarget(cfg))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, runner.Count("systemd --version"))
}
