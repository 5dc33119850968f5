package platform

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-version"
	"github.com/privatix/dapp-installer/cmd/installer/config"
	"github.com/privatix/dapp-installer/lib/hostexec"
	"github.com/privatix/dapp-installer/lib/logger"
)

// Upgrader installs the packages a distribution needs.
type Upgrader struct {
	runner      hostexec.Runner
	minSystemd  *version.Version
	maxAttempts int
}

// NewUpgrader returns an Upgrader running commands through runner.
func NewUpgrader(cfg *config.Config, runner hostexec.Runner) *Upgrader {
	return &Upgrader{
		runner:      runner,
		minSystemd:  version.Must(version.NewVersion(fmt.Sprint(cfg.Platform.SystemdMinVersion))),
		maxAttempts: cfg.Platform.SystemdUpgradeAttempts,
	}
}

// Upgrade runs the target's preparation commands, upgrades systemd when the
// plan names an upgrade command, then runs the remaining package commands.
func (u *Upgrader) Upgrade(ctx context.Context, t *Target) error {
	log := logger.FromContext(ctx)

	for _, cmd := range t.Plan.Prepare {
		if _, err := u.runner.Run(ctx, cmd); err != nil {
			return err
		}
	}

	if t.Plan.SystemdUpgrade != "" {
		if err := u.upgradeSystemd(ctx, t.Plan.SystemdUpgrade); err != nil {
			return err
		}
	}

	for _, cmd := range t.Plan.Commands {
		if _, err := u.runner.Run(ctx, cmd); err != nil {
			return err
		}
	}
	log.InfoContext(ctx, "packages upgraded", "distribution", t.Name)
	return nil
}

// upgradeSystemd runs upgradeCmd until systemd reports at least the minimum
// version or the attempts run out.
func (u *Upgrader) upgradeSystemd(ctx context.Context, upgradeCmd string) error {
	log := logger.FromContext(ctx)

	current, err := u.systemdVersion(ctx)
	if err != nil {
		return err
	}
	for attempt := 1; current.LessThan(u.minSystemd); attempt++ {
		if attempt > u.maxAttempts {
			return fmt.Errorf("%w: systemd %s after %d attempts, need %s",
				ErrSystemdUpgrade, current, u.maxAttempts, u.minSystemd)
		}
		log.InfoContext(ctx, "upgrading systemd", "current", current.String(), "attempt", attempt)
		if _, err := u.runner.Run(ctx, upgradeCmd); err != nil {
			log.WarnContext(ctx, "systemd upgrade command failed", "attempt", attempt, "error", err)
		}
		if current, err = u.systemdVersion(ctx); err != nil {
			return err
		}
	}
	log.InfoContext(ctx, "systemd version ok", "version", current.String())
	return nil
}

// systemdVersion parses the first line of "systemd --version", e.g.
// "systemd 245 (245.4-4ubuntu3)".
func (u *Upgrader) systemdVersion(ctx context.Context) (*version.Version, error) {
	out, err := u.runner.Run(ctx, "systemd --version")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSystemdUpgrade, err)
	}
	fields := strings.Fields(out)
	if len(fields) < 2 || fields[0] != "systemd" {
		return nil, fmt.Errorf("%w: unexpected systemd --version output %q", ErrSystemdUpgrade, firstLine(out))
	}
	v, err := version.NewVersion(fields[1])
	if err != nil {
		return nil, fmt.Errorf("%w: parse systemd version %q: %w", ErrSystemdUpgrade, fields[1], err)
	}
	return v, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
