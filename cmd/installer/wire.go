//go:build wireinject

package main

import (
	"context"
	"log/slog"

	"github.com/google/wire"
	"github.com/privatix/dapp-installer/cmd/installer/config"
	"github.com/privatix/dapp-installer/lib/ctrlconf"
	"github.com/privatix/dapp-installer/lib/otel"
	"github.com/privatix/dapp-installer/lib/paths"
	"github.com/privatix/dapp-installer/lib/providers"
	"github.com/privatix/dapp-installer/lib/provision"
	"github.com/privatix/dapp-installer/lib/runguard"
	"github.com/privatix/dapp-installer/lib/services"
)

// application struct to hold initialized components
type application struct {
	Ctx          context.Context
	Logger       *slog.Logger
	Config       *config.Config
	Paths        *paths.Paths
	Guard        *runguard.Guard
	Services     services.Manager
	ControlPlane *ctrlconf.Client
	Orchestrator *provision.Orchestrator
}

// initializeApp is the injector function
func initializeApp(ctx context.Context, cfg *config.Config, tel *otel.Provider) (*application, error) {
	panic(wire.Build(
		providers.ProvideLogger,
		providers.ProvidePaths,
		providers.ProvideMeter,
		providers.ProvideTracer,
		providers.ProvideRunner,
		providers.ProvideClock,
		providers.ProvidePortProbe,
		providers.ProvidePrompter,
		providers.ProvideHTTPClient,
		providers.ProvideHost,
		providers.ProvideNegotiator,
		providers.ProvideIPForward,
		providers.ProvideArtifactManager,
		providers.ProvideServiceManager,
		providers.ProvideControlPlane,
		providers.ProvideGuard,
		providers.ProvideProber,
		providers.ProvideUpgrader,
		providers.ProvideMetrics,
		providers.ProvideDownloader,
		providers.ProvideOrchestrator,
		wire.Struct(new(application), "*"),
	))
}
