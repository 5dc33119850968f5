package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/privatix/dapp-installer/cmd/installer/config"
	"github.com/privatix/dapp-installer/lib/artifacts"
	"github.com/privatix/dapp-installer/lib/ctrlconf"
	"github.com/privatix/dapp-installer/lib/hostexec"
	"github.com/privatix/dapp-installer/lib/network"
	"github.com/privatix/dapp-installer/lib/paths"
	"github.com/privatix/dapp-installer/lib/platform"
	"github.com/privatix/dapp-installer/lib/readiness"
	"github.com/privatix/dapp-installer/lib/runguard"
	"github.com/privatix/dapp-installer/lib/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	unitTemplate = "[Service]\n" +
		"ExecStartPre=/sbin/sysctl -w net.ipv4.ip_forward=1\n" +
		"ExecStartPre=/sbin/iptables -t nat -A POSTROUTING -s 10.217.3.0/24 -o eth0 -j MASQUERADE\n" +
		"ExecStop=/sbin/sysctl -w net.ipv4.ip_forward=0\n" +
		"ExecStopPost=/sbin/iptables -t nat -D POSTROUTING -s 10.217.3.0/24 -o eth0 -j MASQUERADE\n"
	serverConfTemplate = "port 443\ndev tun\nserver 10.217.3.0 255.255.255.0\n"
)

type fakeProber struct {
	err   error
	calls int
}

func (f *fakeProber) Probe(context.Context) (*platform.Target, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &platform.Target{Name: "ubuntu"}, nil
}

type fakeUpgrader struct{ err error }

func (f *fakeUpgrader) Upgrade(context.Context, *platform.Target) error { return f.err }

type fakeForward struct {
	changed bool
	err     error
	ensures int
	reverts int
}

func (f *fakeForward) Ensure(context.Context) (bool, error) {
	f.ensures++
	return f.changed, f.err
}

func (f *fakeForward) Revert(context.Context) error {
	f.reverts++
	return nil
}

type fakeNegotiator struct {
	alloc network.Allocation
	calls int
}

func (f *fakeNegotiator) Negotiate(context.Context) (*network.Allocation, error) {
	f.calls++
	a := f.alloc
	return &a, nil
}

func (f *fakeNegotiator) Default() network.Allocation {
	return network.Allocation{Address: "10.217.3.0", Mask: "/24", TunnelDevice: "tun", Port: 443}
}

// fakeArtifacts "downloads" by writing the unit and server config templates
// where the real fetch and unpack would leave them.
type fakeArtifacts struct {
	paths    *paths.Paths
	fetchErr error
	calls    int
	cleaned  [][]string
}

func (f *fakeArtifacts) Fetch(context.Context) ([]string, error) {
	f.calls++
	var files []string
	for _, unit := range []string{"systemd-nspawn@vpn.service", "systemd-nspawn@common.service"} {
		p := f.paths.UnitSource(unit)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(p, []byte(unitTemplate), 0644); err != nil {
			return nil, err
		}
		files = append(files, p)
	}
	if f.fetchErr != nil {
		return files, f.fetchErr
	}
	return files, nil
}

func (f *fakeArtifacts) Unpack(context.Context, []string) error {
	f.calls++
	conf := f.paths.ComponentFile("vpn", "/etc/openvpn/config/server.conf")
	if err := os.MkdirAll(filepath.Dir(conf), 0755); err != nil {
		return err
	}
	return os.WriteFile(conf, []byte(serverConfTemplate), 0644)
}

func (f *fakeArtifacts) Cleanup(_ context.Context, files []string) {
	f.calls++
	f.cleaned = append(f.cleaned, files)
}

type fakeServices struct {
	calls   []string
	onStart func(services.Service)
}

func (f *fakeServices) Start(_ context.Context, svc services.Service) error {
	f.calls = append(f.calls, "start "+string(svc))
	if f.onStart != nil {
		f.onStart(svc)
	}
	return nil
}

func (f *fakeServices) Restart(_ context.Context, svc services.Service) error {
	f.calls = append(f.calls, "restart "+string(svc))
	return nil
}

func (f *fakeServices) Control(_ context.Context, svc services.Service, action string) error {
	f.calls = append(f.calls, action+" "+string(svc))
	return nil
}

func (f *fakeServices) Unit(svc services.Service) string { return string(svc) }

type fakeControlPlane struct {
	paths    *paths.Paths
	ports    []ctrlconf.ServicePort
	built    int
	payCalls int
	readErr  error
}

func (f *fakeControlPlane) ServicePorts(context.Context) ([]ctrlconf.ServicePort, error) {
	return f.ports, nil
}

func (f *fakeControlPlane) BuildDeferredCommand(context.Context) (string, error) {
	f.built++
	cmd := "/opt/privatix/initializer/dappinst -connstr=\"dbname=dappctrl\""
	if err := os.MkdirAll(f.paths.StateDir(), 0755); err != nil {
		return "", err
	}
	return cmd, os.WriteFile(f.paths.DeferredCommand(), []byte(cmd), 0600)
}

func (f *fakeControlPlane) DeferredCommandExists() bool {
	_, err := os.Stat(f.paths.DeferredCommand())
	return err == nil
}

func (f *fakeControlPlane) ReadDeferredCommand() (string, error) {
	if f.readErr != nil {
		return "", f.readErr
	}
	data, err := os.ReadFile(f.paths.DeferredCommand())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ctrlconf.ErrDeferredCommand, err)
	}
	return string(data), nil
}

func (f *fakeControlPlane) WriteAdapterTemplate(context.Context) error { return nil }

func (f *fakeControlPlane) UpdatePayAddress(context.Context) error {
	f.payCalls++
	return nil
}

type fakePorts struct {
	listening map[int]bool
	checks    map[int]int
}

func (f *fakePorts) Listening(_ context.Context, port int) bool {
	if f.checks == nil {
		f.checks = map[int]int{}
	}
	f.checks[port]++
	return f.listening[port]
}

type harness struct {
	cfg       *config.Config
	paths     *paths.Paths
	guard     *runguard.Guard
	runner    *hostexec.FakeRunner
	clock     *readiness.FakeClock
	ports     *fakePorts
	prober    *fakeProber
	forward   *fakeForward
	neg       *fakeNegotiator
	artifacts *fakeArtifacts
	services  *fakeServices
	ctrl      *fakeControlPlane
	downloads []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.ControlPlane.PublicIPURL = ""
	p := paths.New(filepath.Join(dir, "container"), filepath.Join(dir, "units"), filepath.Join(dir, "state"))

	h := &harness{
		cfg:       cfg,
		paths:     p,
		guard:     runguard.New(p),
		runner:    hostexec.NewFakeRunner(),
		clock:     readiness.NewFakeClock(time.Unix(0, 0)),
		ports:     &fakePorts{listening: map[int]bool{443: true, 9000: true}},
		prober:    &fakeProber{},
		forward:   &fakeForward{changed: true},
		neg:       &fakeNegotiator{alloc: network.Allocation{Address: "10.217.4.0", Mask: "/24", Interface: "ens3", TunnelDevice: "tun1", Port: 443}},
		artifacts: &fakeArtifacts{paths: p},
		ctrl:      &fakeControlPlane{paths: p, ports: []ctrlconf.ServicePort{{Name: "PayServer", Port: 9000}}},
	}
	// the database reports ready once the common service starts
	h.services = &fakeServices{onStart: func(svc services.Service) {
		if svc != services.Common {
			return
		}
		log := p.ComponentFile("common", cfg.Database.Log)
		os.WriteFile(log, []byte("LOG:  "+cfg.Database.ReadyMarker+"\n"), 0640)
	}}
	return h
}

func (h *harness) orchestrator() *Orchestrator {
	return New(Deps{
		Config:       h.cfg,
		Paths:        h.paths,
		Guard:        h.guard,
		Runner:       h.runner,
		Clock:        h.clock,
		Ports:        h.ports,
		Prober:       h.prober,
		Upgrader:     &fakeUpgrader{},
		IPForward:    h.forward,
		Negotiator:   h.neg,
		Artifacts:    h.artifacts,
		Services:     h.services,
		ControlPlane: h.ctrl,
		Download: func(_ context.Context, url, dest string) error {
			h.downloads = append(h.downloads, url)
			return os.WriteFile(dest, []byte("-- data"), 0644)
		},
	})
}

func TestRunFullProvisioning(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.orchestrator().Run(context.Background(), Options{}))

	assert.Equal(t, []string{"start common", "start vpn"}, h.services.calls)
	assert.Equal(t, 1, h.neg.calls)
	assert.Equal(t, 1, h.ctrl.built)
	assert.Equal(t, 1, h.runner.Count("/opt/privatix/initializer/dappinst"))
	assert.Equal(t, 0, h.forward.reverts)
	assert.Equal(t, 0, h.ctrl.payCalls)

	unit, err := os.ReadFile(h.paths.UnitInstalled("systemd-nspawn@vpn.service"))
	require.NoError(t, err)
	assert.Equal(t, "[Service]\n"+
		"ExecStartPre=/sbin/sysctl -w net.ipv4.ip_forward=1\n"+
		"ExecStartPre=/sbin/iptables -t nat -A POSTROUTING -s 10.217.4.0/24 -o ens3 -j MASQUERADE\n"+
		"\n"+
		"ExecStopPost=/sbin/iptables -t nat -D POSTROUTING -s 10.217.4.0/24 -o ens3 -j MASQUERADE\n",
		string(unit))

	conf, err := os.ReadFile(h.paths.ComponentFile("vpn", "/etc/openvpn/config/server.conf"))
	require.NoError(t, err)
	assert.Equal(t, "port 443\ndev tun1\nserver 10.217.4.0 255.255.255.0\n", string(conf))

	marker, err := h.guard.Load()
	require.NoError(t, err)
	assert.Equal(t, runguard.Completed, marker.State)
	assert.Equal(t, "10.217.4.0", marker.Allocation.Address)
}

func TestRunKeepsSysctlLinesWhenForwardingWasOn(t *testing.T) {
	h := newHarness(t)
	h.forward.changed = false

	require.NoError(t, h.orchestrator().Run(context.Background(), Options{}))

	unit, err := os.ReadFile(h.paths.UnitInstalled("systemd-nspawn@common.service"))
	require.NoError(t, err)
	assert.Contains(t, string(unit), "ExecStop=/sbin/sysctl -w net.ipv4.ip_forward=0")
}

func TestRunCompletedIsIdempotent(t *testing.T) {
	h := newHarness(t)
	m, err := h.guard.Begin()
	require.NoError(t, err)
	require.NoError(t, h.guard.Complete(m, &network.Allocation{Address: "10.217.4.0", Mask: "/24", Port: 1194}))
	h.ports.listening = map[int]bool{1194: true, 9000: true}

	require.NoError(t, h.orchestrator().Run(context.Background(), Options{}))

	assert.Equal(t, 0, h.prober.calls)
	assert.Equal(t, 0, h.neg.calls)
	assert.Equal(t, 0, h.artifacts.calls)
	assert.Empty(t, h.services.calls)
	assert.Empty(t, h.runner.Ran())
	assert.Equal(t, 1, h.ports.checks[1194])
	assert.Equal(t, 1, h.ports.checks[9000])
}

func TestRunCompletedDoesNotRestart(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.MkdirAll(h.paths.StateDir(), 0755))
	require.NoError(t, os.WriteFile(h.paths.Marker(), []byte("1"), 0644))
	h.ports.listening = map[int]bool{}

	err := h.orchestrator().Run(context.Background(), Options{})
	assert.Equal(t, CodeVPNNotReady, ExitCode(err))
	assert.Empty(t, h.services.calls)
}

func TestRunUnsupportedPlatformBeforeNegotiation(t *testing.T) {
	h := newHarness(t)
	release := filepath.Join(t.TempDir(), "os-release")
	require.NoError(t, os.WriteFile(release, []byte("ID=ubuntu\nVERSION_ID=\"14.04\"\n"), 0644))
	h.cfg.Platform.OSRelease = release

	o := h.orchestrator()
	o.Prober = platform.NewProber(h.cfg)
	err := o.Run(context.Background(), Options{})

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "env_probe", se.Step)
	assert.Equal(t, CodeUnsupportedPlatform, ExitCode(err))
	assert.Equal(t, 0, h.forward.ensures)
	assert.Equal(t, 0, h.neg.calls)
	assert.Equal(t, 0, h.forward.reverts)
}

func TestRunRollbackRevertsForwardingOnce(t *testing.T) {
	tests := []struct {
		name        string
		changed     bool
		wantReverts int
	}{
		{name: "changed by this run", changed: true, wantReverts: 1},
		{name: "already enabled", changed: false, wantReverts: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.forward.changed = tt.changed
			h.artifacts.fetchErr = fmt.Errorf("%w: status 404", artifacts.ErrDownload)

			err := h.orchestrator().Run(context.Background(), Options{})
			assert.Equal(t, CodeDownload, ExitCode(err))
			assert.Equal(t, tt.wantReverts, h.forward.reverts)
			assert.Empty(t, h.services.calls, "no step after the failure runs")
			assert.Empty(t, h.artifacts.cleaned, "artifacts kept by default")
		})
	}
}

func TestRunRollbackRemovesArtifactsWhenEnabled(t *testing.T) {
	h := newHarness(t)
	h.cfg.Rollback.RemoveArtifacts = true
	h.ctrl.readErr = fmt.Errorf("%w: empty", ctrlconf.ErrDeferredCommand)

	err := h.orchestrator().Run(context.Background(), Options{})
	assert.Equal(t, CodeDeferredCommand, ExitCode(err))
	// once by the cleanup step, once by rollback
	require.Len(t, h.artifacts.cleaned, 2)
	assert.Equal(t, 1, h.forward.reverts)
}

func TestRunIPForwardUnchanged(t *testing.T) {
	h := newHarness(t)
	h.forward.changed = false
	h.forward.err = network.ErrIPForwardUnchanged

	err := h.orchestrator().Run(context.Background(), Options{})
	assert.Equal(t, CodeIPForward, ExitCode(err))
	assert.Equal(t, 0, h.neg.calls)
}

func TestRunServiceReadiness(t *testing.T) {
	tests := []struct {
		name      string
		listening map[int]bool
		wantCode  int
		restart   string
	}{
		{name: "vpn never listens", listening: map[int]bool{9000: true}, wantCode: CodeVPNNotReady, restart: "restart vpn"},
		{name: "common never listens", listening: map[int]bool{443: true}, wantCode: CodeCommonNotReady, restart: "restart common"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.ports.listening = tt.listening

			err := h.orchestrator().Run(context.Background(), Options{})
			assert.Equal(t, tt.wantCode, ExitCode(err))
			assert.Equal(t, 1, countOf(h.services.calls, tt.restart))

			marker, err := h.guard.Load()
			require.NoError(t, err)
			assert.Equal(t, runguard.InProgress, marker.State)
		})
	}
}

func TestRunDatabaseNeverReady(t *testing.T) {
	h := newHarness(t)
	h.services.onStart = nil

	err := h.orchestrator().Run(context.Background(), Options{})
	assert.Equal(t, CodeDBNotReady, ExitCode(err))
	assert.GreaterOrEqual(t, h.clock.Now().Sub(time.Unix(0, 0)), h.cfg.Readiness.DBTimeout.D())
}

func TestRunTestDataMode(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.orchestrator().Run(context.Background(), Options{TestData: true, GUI: true}))
	assert.Equal(t, 0, h.ctrl.built)
	assert.Equal(t, 1, h.runner.Count("psql -d dappctrl -h 127.0.0.1 -p 5433 -f "+h.paths.TestData()))
	assert.Equal(t, 1, h.runner.Count("sudo -E bash "+h.paths.GUIScript()))
	assert.Equal(t, 1, h.runner.Count("sudo apt-get install -y nodejs"))
	assert.Equal(t, []string{h.cfg.TestData.URL, h.cfg.GUI.ScriptURL}, h.downloads)
}

func TestRunTestDataFailure(t *testing.T) {
	h := newHarness(t)
	h.runner.On("psql", "", &hostexec.CommandError{Command: "psql", ExitCode: 2})

	err := h.orchestrator().Run(context.Background(), Options{TestData: true})
	assert.Equal(t, CodeTestData, ExitCode(err))
}

func TestRunGUIFailure(t *testing.T) {
	h := newHarness(t)
	h.runner.On("sudo apt-get install -y nodejs", "", &hostexec.CommandError{Command: "apt-get", ExitCode: 100})

	err := h.orchestrator().Run(context.Background(), Options{GUI: true})
	assert.Equal(t, CodeGUI, ExitCode(err))
}

func TestRunUpdatesPayAddressWhenConfigured(t *testing.T) {
	h := newHarness(t)
	h.cfg.ControlPlane.PublicIPURL = "http://ip.example"

	require.NoError(t, h.orchestrator().Run(context.Background(), Options{}))
	assert.Equal(t, 1, h.ctrl.payCalls)
}

func TestRunReusesExistingDeferredCommand(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.MkdirAll(h.paths.StateDir(), 0755))
	require.NoError(t, os.WriteFile(h.paths.DeferredCommand(), []byte("echo prebuilt"), 0600))

	require.NoError(t, h.orchestrator().Run(context.Background(), Options{}))
	assert.Equal(t, 0, h.ctrl.built)
	assert.Equal(t, 1, h.runner.Count("echo prebuilt"))
}

func TestRunRejectsConcurrentInvocation(t *testing.T) {
	h := newHarness(t)
	lock, err := runguard.Acquire(h.paths.Lock())
	require.NoError(t, err)
	defer lock.Release()

	err = h.orchestrator().Run(context.Background(), Options{})
	assert.Equal(t, CodeLocked, ExitCode(err))
	assert.True(t, errors.Is(err, runguard.ErrLocked))
	assert.Equal(t, 0, h.prober.calls)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, CodeHostCommand, ExitCode(errors.New("plain")))
	assert.Equal(t, 7, ExitCode(&StepError{Step: "patch_server_conf", Code: 7, Err: errors.New("x")}))
}

func countOf(calls []string, want string) int {
	n := 0
	for _, c := range calls {
		if strings.EqualFold(c, want) {
			n++
		}
	}
	return n
}
