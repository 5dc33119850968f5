// Package services drives the two managed systemd units.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/privatix/dapp-installer/cmd/installer/config"
	"github.com/privatix/dapp-installer/lib/hostexec"
	"github.com/privatix/dapp-installer/lib/logger"
	"github.com/privatix/dapp-installer/lib/readiness"
)

// Service names one of the managed units.
type Service string

const (
	VPN    Service = "vpn"
	Common Service = "common"
)

// ErrUnknownAction is returned by Control for anything other than start,
// stop or restart.
var ErrUnknownAction = errors.New("unknown service action")

// Manager starts, stops and restarts the managed units.
type Manager interface {
	// Start brings a unit up for the first time. The common unit also
	// triggers a daemon reload so freshly installed unit files are seen.
	Start(ctx context.Context, svc Service) error
	// Restart stops a unit, waits, and starts it again.
	Restart(ctx context.Context, svc Service) error
	// Control performs an operator-requested action.
	Control(ctx context.Context, svc Service, action string) error
	// Unit returns the systemd unit name for svc.
	Unit(svc Service) string
}

type manager struct {
	runner hostexec.Runner
	clock  readiness.Clock
	units  map[Service]string
	settle time.Duration
}

// NewManager creates a systemctl-backed service manager.
func NewManager(cfg *config.Config, runner hostexec.Runner, clock readiness.Clock) Manager {
	return &manager{
		runner: runner,
		clock:  clock,
		units: map[Service]string{
			VPN:    cfg.Units.VPN,
			Common: cfg.Units.Common,
		},
		settle: cfg.Units.SettleDelay.D(),
	}
}

func (m *manager) Unit(svc Service) string {
	return m.units[svc]
}

func (m *manager) Start(ctx context.Context, svc Service) error {
	unit, err := m.unit(svc)
	if err != nil {
		return err
	}

	var steps []string
	if svc == Common {
		steps = append(steps, "systemctl daemon-reload")
	}
	steps = append(steps, "systemctl enable "+unit, "systemctl start "+unit)

	if err := m.sequence(ctx, steps); err != nil {
		return fmt.Errorf("start %s: %w", unit, err)
	}
	logger.FromContext(ctx).InfoContext(ctx, "service started", "unit", unit)
	return nil
}

func (m *manager) Restart(ctx context.Context, svc Service) error {
	unit, err := m.unit(svc)
	if err != nil {
		return err
	}
	if err := m.sequence(ctx, []string{"systemctl stop " + unit, "systemctl start " + unit}); err != nil {
		return fmt.Errorf("restart %s: %w", unit, err)
	}
	logger.FromContext(ctx).InfoContext(ctx, "service restarted", "unit", unit)
	return nil
}

func (m *manager) Control(ctx context.Context, svc Service, action string) error {
	switch action {
	case "start":
		unit, err := m.unit(svc)
		if err != nil {
			return err
		}
		_, err = m.runner.Run(ctx, "systemctl start "+unit)
		return err
	case "stop":
		unit, err := m.unit(svc)
		if err != nil {
			return err
		}
		_, err = m.runner.Run(ctx, "systemctl stop "+unit)
		return err
	case "restart":
		return m.Restart(ctx, svc)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

func (m *manager) unit(svc Service) (string, error) {
	unit, ok := m.units[svc]
	if !ok || unit == "" {
		return "", fmt.Errorf("no unit configured for service %q", svc)
	}
	return unit, nil
}

// sequence runs commands in order with a settle pause between them.
func (m *manager) sequence(ctx context.Context, commands []string) error {
	for i, cmd := range commands {
		if i > 0 && m.settle > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-m.clock.After(m.settle):
			}
		}
		if _, err := m.runner.Run(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}
