package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/privatix/dapp-installer/lib/logger"
	"github.com/privatix/dapp-installer/lib/patch"
	"github.com/privatix/dapp-installer/lib/readiness"
	"github.com/privatix/dapp-installer/lib/services"
)

// ErrServiceNotReady is returned when a service port stays closed after a
// restart.
var ErrServiceNotReady = errors.New("service not ready")

func (r *run) patchContext() (patch.Context, error) {
	current, err := r.alloc.Values()
	if err != nil {
		return patch.Context{}, err
	}
	def, err := r.Negotiator.Default().Values()
	if err != nil {
		return patch.Context{}, err
	}
	return patch.Context{
		Current:       current,
		Default:       def,
		DeleteEnabled: r.journal.IPForwardChanged,
	}, nil
}

func (r *run) patchUnits(ctx context.Context) error {
	log := logger.FromContext(ctx)
	pc, err := r.patchContext()
	if err != nil {
		return err
	}
	for _, unit := range []string{r.Config.Units.VPN, r.Config.Units.Common} {
		src := r.Paths.UnitSource(unit)
		if err := patch.RewriteFile(src, r.Config.Units.Rules, pc); err != nil {
			return fmt.Errorf("patch unit %s: %w", unit, err)
		}
		dst := r.Paths.UnitInstalled(unit)
		if err := patch.InstallFile(src, dst); err != nil {
			return fmt.Errorf("install unit %s: %w", unit, err)
		}
		log.InfoContext(ctx, "unit installed", "unit", unit, "path", dst)
	}
	return nil
}

func (r *run) patchServerConf(ctx context.Context) error {
	pc, err := r.patchContext()
	if err != nil {
		return err
	}
	path := r.Paths.ComponentFile(r.Config.VPN.Component, r.Config.VPN.ServerConf)
	if err := patch.RewriteFile(path, r.Config.VPN.Rules, pc); err != nil {
		return fmt.Errorf("patch server config: %w", err)
	}
	logger.FromContext(ctx).InfoContext(ctx, "server config patched", "path", path)
	return nil
}

func (r *run) dbLogPath() string {
	return r.Paths.ComponentFile(r.Config.Database.Component, r.Config.Database.Log)
}

// clearDBLog truncates the database log so the readiness marker can only
// come from the upcoming start.
func (r *run) clearDBLog(ctx context.Context) error {
	path := r.dbLogPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create db log dir: %w", err)
	}
	if err := os.WriteFile(path, nil, 0640); err != nil {
		return fmt.Errorf("clear db log: %w", err)
	}
	return nil
}

func (r *run) waitDBReady(ctx context.Context) error {
	path := r.dbLogPath()
	logger.FromContext(ctx).InfoContext(ctx, "waiting for database", "log", path)
	err := readiness.WaitFor(ctx, r.Clock,
		readiness.LogMarker(path, r.Config.Database.ReadyMarker),
		r.Config.Readiness.DBInterval.D(), r.Config.Readiness.DBTimeout.D())
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	return nil
}

func (r *run) seedTestData(ctx context.Context) error {
	path := r.Paths.TestData()
	if err := r.Download(ctx, r.Config.TestData.URL, path); err != nil {
		return fmt.Errorf("download test data: %w", err)
	}
	if _, err := r.Runner.Run(ctx, fmt.Sprintf(r.Config.TestData.Command, path)); err != nil {
		return fmt.Errorf("load test data: %w", err)
	}
	return r.ControlPlane.WriteAdapterTemplate(ctx)
}

func (r *run) guiInstall(ctx context.Context) error {
	script := r.Paths.GUIScript()
	if err := r.Download(ctx, r.Config.GUI.ScriptURL, script); err != nil {
		return fmt.Errorf("download gui setup: %w", err)
	}
	if _, err := r.Runner.Run(ctx, fmt.Sprintf(r.Config.GUI.ScriptRunner, script)); err != nil {
		return err
	}
	for _, cmd := range r.Config.GUI.Commands {
		if _, err := r.Runner.Run(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

// waitServicesReady checks the VPN port and then every control-plane port.
// With restart set, a port that stays closed gets its service restarted
// once before the check is repeated.
func (r *run) waitServicesReady(ctx context.Context, restart bool) error {
	if err := r.waitPort(ctx, services.VPN, "vpn", r.alloc.Port, restart); err != nil {
		return withCode(CodeVPNNotReady, err)
	}

	ports, err := r.ControlPlane.ServicePorts(ctx)
	if err != nil {
		return err
	}
	for _, sp := range ports {
		if err := r.waitPort(ctx, services.Common, sp.Name, sp.Port, restart); err != nil {
			return withCode(CodeCommonNotReady, err)
		}
	}
	return nil
}

func (r *run) waitPort(ctx context.Context, svc services.Service, name string, port int, restart bool) error {
	log := logger.FromContext(ctx)
	interval := r.Config.Readiness.ServiceInterval.D()
	deadline := r.Config.Readiness.ServiceTimeout.D()
	pred := func(ctx context.Context) bool { return r.Ports.Listening(ctx, port) }

	err := readiness.WaitFor(ctx, r.Clock, pred, interval, deadline)
	if err == nil {
		log.InfoContext(ctx, "service ready", "service", name, "port", port)
		return nil
	}
	if !errors.Is(err, readiness.ErrTimeout) || !restart {
		return fmt.Errorf("%w: %s port %d: %w", ErrServiceNotReady, name, port, err)
	}

	log.WarnContext(ctx, "service not ready, restarting", "service", name, "port", port)
	if err := r.Services.Restart(ctx, svc); err != nil {
		return fmt.Errorf("%w: restart %s: %w", ErrServiceNotReady, svc, err)
	}
	if err := readiness.WaitFor(ctx, r.Clock, pred, interval, deadline); err != nil {
		return fmt.Errorf("%w: %s port %d after restart: %w", ErrServiceNotReady, name, port, err)
	}
	log.InfoContext(ctx, "service ready after restart", "service", name, "port", port)
	return nil
}
