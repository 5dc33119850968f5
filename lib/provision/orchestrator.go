// Package provision runs the provisioning pipeline: every step in order,
// each gated on the previous one, with rollback and a step-specific exit
// code on failure.
package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/privatix/dapp-installer/cmd/installer/config"
	"github.com/privatix/dapp-installer/lib/artifacts"
	"github.com/privatix/dapp-installer/lib/ctrlconf"
	"github.com/privatix/dapp-installer/lib/hostexec"
	"github.com/privatix/dapp-installer/lib/logger"
	"github.com/privatix/dapp-installer/lib/network"
	"github.com/privatix/dapp-installer/lib/paths"
	"github.com/privatix/dapp-installer/lib/platform"
	"github.com/privatix/dapp-installer/lib/readiness"
	"github.com/privatix/dapp-installer/lib/runguard"
	"github.com/privatix/dapp-installer/lib/services"
)

// Prober identifies the host platform.
type Prober interface {
	Probe(ctx context.Context) (*platform.Target, error)
}

// Upgrader installs the platform's required packages.
type Upgrader interface {
	Upgrade(ctx context.Context, t *platform.Target) error
}

// IPForwarder enables and reverts kernel IP forwarding.
type IPForwarder interface {
	Ensure(ctx context.Context) (bool, error)
	Revert(ctx context.Context) error
}

// ControlPlane reads and writes the control plane's documents.
type ControlPlane interface {
	ServicePorts(ctx context.Context) ([]ctrlconf.ServicePort, error)
	BuildDeferredCommand(ctx context.Context) (string, error)
	DeferredCommandExists() bool
	ReadDeferredCommand() (string, error)
	WriteAdapterTemplate(ctx context.Context) error
	UpdatePayAddress(ctx context.Context) error
}

// PortChecker reports whether a local port accepts connections.
type PortChecker interface {
	Listening(ctx context.Context, port int) bool
}

// Downloader saves a URL to a local file.
type Downloader func(ctx context.Context, url, dest string) error

// Options selects the optional parts of a run.
type Options struct {
	// TestData seeds the database with test data instead of running the
	// deferred install.
	TestData bool
	// GUI runs the GUI component install after the services start.
	GUI bool
}

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Config       *config.Config
	Paths        *paths.Paths
	Guard        *runguard.Guard
	Runner       hostexec.Runner
	Clock        readiness.Clock
	Ports        PortChecker
	Prober       Prober
	Upgrader     Upgrader
	IPForward    IPForwarder
	Negotiator   network.Negotiator
	Artifacts    artifacts.Manager
	Services     services.Manager
	ControlPlane ControlPlane
	Download     Downloader
	Metrics      *Metrics
}

// Orchestrator runs provisioning.
type Orchestrator struct {
	Deps
	policy Policy
}

// New creates an Orchestrator.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		Deps:   deps,
		policy: PolicyFromConfig(deps.Config),
	}
}

// step is one named stage of the pipeline.
type step struct {
	name string
	code int
	run  func(ctx context.Context) error
}

// run carries the state accumulated by one provisioning run.
type run struct {
	*Orchestrator
	opts    Options
	journal Journal
	marker  *runguard.Marker
	target  *platform.Target
	alloc   *network.Allocation
	files   []string
}

// Run provisions the host. A host already marked Completed only has its
// services' readiness re-checked. Failures are returned as *StepError.
func (o *Orchestrator) Run(ctx context.Context, opts Options) error {
	log := logger.FromContext(ctx)

	lock, err := runguard.Acquire(o.Paths.Lock())
	if err != nil {
		return &StepError{Step: "init", Code: classify(CodeHostCommand, err), Err: err}
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.WarnContext(ctx, "failed to release run lock", "error", err)
		}
	}()

	marker, err := o.Guard.Load()
	if err != nil {
		return &StepError{Step: "init", Code: CodeHostCommand, Err: err}
	}

	r := &run{Orchestrator: o, opts: opts}

	if marker.State == runguard.Completed {
		log.InfoContext(ctx, "host already provisioned, checking services only", "marker", o.Guard.Path())
		alloc := marker.Allocation
		if alloc == nil {
			alloc = &network.Allocation{
				Address: o.Config.Network.Address,
				Mask:    o.Config.Network.Mask,
				Port:    o.Config.Network.Port,
			}
		}
		r.alloc = alloc
		return r.execute(ctx, []step{
			{"wait_services_ready", CodeCommonNotReady, func(ctx context.Context) error {
				return r.waitServicesReady(ctx, false)
			}},
		})
	}

	if marker.State == runguard.InProgress {
		log.WarnContext(ctx, "previous run did not complete, provisioning again")
	}
	if r.marker, err = o.Guard.Begin(); err != nil {
		return &StepError{Step: "init", Code: CodeHostCommand, Err: err}
	}
	log.InfoContext(ctx, "provisioning started", "run_id", r.marker.RunID)

	if err := r.execute(ctx, r.pipeline()); err != nil {
		return err
	}
	log.InfoContext(ctx, "provisioning completed", "run_id", r.marker.RunID)
	return nil
}

func (r *run) pipeline() []step {
	steps := []step{
		{"env_probe", CodeUnsupportedPlatform, r.envProbe},
		{"package_upgrade", CodeHostCommand, r.packageUpgrade},
		{"network_negotiate", CodeHostCommand, r.networkNegotiate},
		{"fetch", CodeDownload, r.fetch},
		{"unpack", CodeHostCommand, r.unpack},
		{"patch_units", CodeUnitFile, r.patchUnits},
		{"patch_server_conf", CodeServerConf, r.patchServerConf},
		{"cleanup_artifacts", CodeHostCommand, r.cleanupArtifacts},
		{"clear_db_log", CodeDBNotReady, r.clearDBLog},
	}
	if r.Config.ControlPlane.PublicIPURL != "" {
		steps = append(steps, step{"update_pay_address", CodeDBConfig, r.ControlPlane.UpdatePayAddress})
	}
	steps = append(steps,
		step{"start_common", CodeHostCommand, func(ctx context.Context) error {
			return r.Services.Start(ctx, services.Common)
		}},
		step{"wait_db_ready", CodeDBNotReady, r.waitDBReady},
	)
	if r.opts.TestData {
		steps = append(steps, step{"seed_test_data", CodeTestData, r.seedTestData})
	} else {
		steps = append(steps,
			step{"build_deferred_command", CodeDBConfig, r.buildDeferredCommand},
			step{"run_deferred_install", CodeHostCommand, r.runDeferredInstall},
		)
	}
	steps = append(steps, step{"start_vpn", CodeHostCommand, func(ctx context.Context) error {
		return r.Services.Start(ctx, services.VPN)
	}})
	if r.opts.GUI {
		steps = append(steps, step{"gui_install", CodeGUI, r.guiInstall})
	}
	steps = append(steps,
		step{"wait_services_ready", CodeCommonNotReady, func(ctx context.Context) error {
			return r.waitServicesReady(ctx, true)
		}},
		step{"mark_completed", CodeHostCommand, func(context.Context) error {
			return r.Guard.Complete(r.marker, r.alloc)
		}},
	)
	return steps
}

// execute runs steps in order and rolls back on the first failure.
func (r *run) execute(ctx context.Context, steps []step) error {
	log := logger.FromContext(ctx)

	for _, s := range steps {
		log.InfoContext(ctx, "step started", "step", s.name)
		stepCtx, span := r.Metrics.startStep(ctx, s.name)
		start := time.Now()
		err := s.run(stepCtx)
		r.Metrics.endStep(stepCtx, span, s.name, start, err)

		if err != nil {
			code := classify(s.code, err)
			log.ErrorContext(ctx, "step failed", "step", s.name, "code", code, "error", err)
			r.rollback(ctx, s.name, code)
			return &StepError{Step: s.name, Code: code, Err: err}
		}
	}
	return nil
}

func (r *run) rollback(ctx context.Context, stepName string, code int) {
	log := logger.FromContext(ctx)
	r.Metrics.recordRollback(ctx, stepName, code)

	if r.journal.IPForwardChanged && r.policy.RevertIPForward {
		if err := r.IPForward.Revert(ctx); err != nil {
			log.ErrorContext(ctx, "rollback: ip forwarding revert failed", "error", err)
		}
	}
	if r.policy.RemoveArtifacts && len(r.journal.Artifacts) > 0 {
		r.Artifacts.Cleanup(ctx, r.journal.Artifacts)
	}
	log.InfoContext(ctx, "rollback finished", "step", stepName, "code", code)
}

func (r *run) envProbe(ctx context.Context) error {
	target, err := r.Prober.Probe(ctx)
	if err != nil {
		return err
	}
	r.target = target
	return nil
}

func (r *run) packageUpgrade(ctx context.Context) error {
	return r.Upgrader.Upgrade(ctx, r.target)
}

func (r *run) networkNegotiate(ctx context.Context) error {
	changed, err := r.IPForward.Ensure(ctx)
	if err != nil {
		return err
	}
	r.journal.IPForwardChanged = changed

	alloc, err := r.Negotiator.Negotiate(ctx)
	if err != nil {
		return err
	}
	r.alloc = alloc
	return nil
}

func (r *run) fetch(ctx context.Context) error {
	files, err := r.Artifacts.Fetch(ctx)
	r.files = files
	r.journal.Artifacts = append(r.journal.Artifacts, files...)
	return err
}

func (r *run) unpack(ctx context.Context) error {
	return r.Artifacts.Unpack(ctx, r.files)
}

func (r *run) cleanupArtifacts(ctx context.Context) error {
	r.Artifacts.Cleanup(ctx, r.files)
	return nil
}

func (r *run) runDeferredInstall(ctx context.Context) error {
	cmd, err := r.ControlPlane.ReadDeferredCommand()
	if err != nil {
		return err
	}
	if _, err := r.Runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("deferred install: %w", err)
	}
	return nil
}

func (r *run) buildDeferredCommand(ctx context.Context) error {
	if r.ControlPlane.DeferredCommandExists() {
		return nil
	}
	_, err := r.ControlPlane.BuildDeferredCommand(ctx)
	return err
}
