package providers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/privatix/dapp-installer/cmd/installer/config"
	"github.com/privatix/dapp-installer/lib/artifacts"
	"github.com/privatix/dapp-installer/lib/ctrlconf"
	"github.com/privatix/dapp-installer/lib/hostexec"
	"github.com/privatix/dapp-installer/lib/logger"
	"github.com/privatix/dapp-installer/lib/network"
	"github.com/privatix/dapp-installer/lib/otel"
	"github.com/privatix/dapp-installer/lib/paths"
	"github.com/privatix/dapp-installer/lib/platform"
	"github.com/privatix/dapp-installer/lib/prompt"
	"github.com/privatix/dapp-installer/lib/provision"
	"github.com/privatix/dapp-installer/lib/readiness"
	"github.com/privatix/dapp-installer/lib/runguard"
	"github.com/privatix/dapp-installer/lib/services"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ProvideLogger provides the logger carried by ctx
func ProvideLogger(ctx context.Context) *slog.Logger {
	return logger.FromContext(ctx)
}

// ProvidePaths provides the path helper instance
func ProvidePaths(cfg *config.Config) *paths.Paths {
	return paths.New(cfg.Paths.DownloadDir, cfg.Paths.UnitDir, cfg.Paths.StateDir)
}

// ProvideMeter provides the meter for component instruments
func ProvideMeter(tel *otel.Provider) metric.Meter {
	if tel == nil {
		return nil
	}
	return tel.Meter
}

// ProvideTracer provides the tracer for step spans
func ProvideTracer(tel *otel.Provider) trace.Tracer {
	if tel == nil {
		return nil
	}
	return tel.Tracer
}

// ProvideRunner provides the host command runner
func ProvideRunner() hostexec.Runner {
	return hostexec.NewShellRunner()
}

// ProvideClock provides the wall clock
func ProvideClock() readiness.Clock {
	return readiness.RealClock()
}

// ProvidePortProbe provides the local TCP probe
func ProvidePortProbe(cfg *config.Config) *readiness.PortProbe {
	return readiness.NewPortProbe(cfg.Network.ProbeHost, cfg.Network.ProbeTimeout.D())
}

// ProvidePrompter provides the operator prompt on stdin/stdout
func ProvidePrompter() prompt.Prompter {
	return prompt.Stdio()
}

// ProvideHTTPClient provides the client used for artifacts and documents
func ProvideHTTPClient(cfg *config.Config) *http.Client {
	return &http.Client{Timeout: cfg.Artifacts.HTTPTimeout.D()}
}

// ProvideHost provides host network introspection
func ProvideHost(cfg *config.Config, runner hostexec.Runner, probe *readiness.PortProbe) (network.Host, error) {
	return network.NewHost(runner, probe, cfg.Network.TunnelPattern)
}

// ProvideNegotiator provides the network negotiator
func ProvideNegotiator(cfg *config.Config, host network.Host, prompter prompt.Prompter, meter metric.Meter) (network.Negotiator, error) {
	return network.NewNegotiator(cfg, host, prompter, meter)
}

// ProvideIPForward provides the kernel forwarding switch
func ProvideIPForward(runner hostexec.Runner) *network.IPForward {
	return network.NewIPForward(runner)
}

// ProvideArtifactManager provides the artifact manager
func ProvideArtifactManager(p *paths.Paths, cfg *config.Config, client *http.Client) (artifacts.Manager, error) {
	return artifacts.NewManager(p, cfg, client)
}

// ProvideServiceManager provides the service controller
func ProvideServiceManager(cfg *config.Config, runner hostexec.Runner, clock readiness.Clock) services.Manager {
	return services.NewManager(cfg, runner, clock)
}

// ProvideControlPlane provides the control-plane document client
func ProvideControlPlane(cfg *config.Config, p *paths.Paths, client *http.Client) *ctrlconf.Client {
	return ctrlconf.NewClient(cfg, p, client)
}

// ProvideGuard provides the run guard
func ProvideGuard(p *paths.Paths) *runguard.Guard {
	return runguard.New(p)
}

// ProvideProber provides the platform prober
func ProvideProber(cfg *config.Config) *platform.Prober {
	return platform.NewProber(cfg)
}

// ProvideUpgrader provides the package upgrader
func ProvideUpgrader(cfg *config.Config, runner hostexec.Runner) *platform.Upgrader {
	return platform.NewUpgrader(cfg, runner)
}

// ProvideMetrics provides the provisioning instruments
func ProvideMetrics(meter metric.Meter, tracer trace.Tracer) (*provision.Metrics, error) {
	return provision.NewMetrics(meter, tracer)
}

// ProvideDownloader provides the single-file downloader used for test data
// and the GUI setup script
func ProvideDownloader(client *http.Client) provision.Downloader {
	return func(ctx context.Context, url, dest string) error {
		return artifacts.Download(ctx, client, url, dest)
	}
}

// ProvideOrchestrator provides the provisioning orchestrator
func ProvideOrchestrator(
	cfg *config.Config,
	p *paths.Paths,
	guard *runguard.Guard,
	runner hostexec.Runner,
	clock readiness.Clock,
	probe *readiness.PortProbe,
	prober *platform.Prober,
	upgrader *platform.Upgrader,
	forward *network.IPForward,
	negotiator network.Negotiator,
	artifactManager artifacts.Manager,
	serviceManager services.Manager,
	ctrl *ctrlconf.Client,
	download provision.Downloader,
	metrics *provision.Metrics,
) *provision.Orchestrator {
	return provision.New(provision.Deps{
		Config:       cfg,
		Paths:        p,
		Guard:        guard,
		Runner:       runner,
		Clock:        clock,
		Ports:        probe,
		Prober:       prober,
		Upgrader:     upgrader,
		IPForward:    forward,
		Negotiator:   negotiator,
		Artifacts:    artifactManager,
		Services:     serviceManager,
		ControlPlane: ctrl,
		Download:     download,
		Metrics:      metrics,
	})
}
