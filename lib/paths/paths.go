// Package paths provides centralized path construction for the installer's
// host layout: the artifact download area, the per-component container roots,
// the init system's unit directory and the installer's own state directory.
//
// Layout:
//
//	{downloadDir}/
//	  vpn.tar.xz, common.tar.xz, *.service      downloaded artifacts
//	  vpn/                                      extracted vpn rootfs
//	  common/                                   extracted common rootfs
//	{unitDir}/
//	  systemd-nspawn@vpn.service                installed units
//	{stateDir}/
//	  installer.state                           run guard marker
//	  installer.lock                            run guard lock
//	  dapp_cmd                                  deferred install command
//	  test_data.sql                             downloaded test data
package paths

import (
	"path/filepath"
	"strings"
)

// Paths provides typed path construction for the installer.
type Paths struct {
	downloadDir string
	unitDir     string
	stateDir    string
}

// New creates a new Paths instance.
func New(downloadDir, unitDir, stateDir string) *Paths {
	return &Paths{
		downloadDir: downloadDir,
		unitDir:     unitDir,
		stateDir:    stateDir,
	}
}

// DownloadDir returns the directory artifacts are fetched into.
func (p *Paths) DownloadDir() string {
	return p.downloadDir
}

// UnitDir returns the init system's unit directory.
func (p *Paths) UnitDir() string {
	return p.unitDir
}

// StateDir returns the installer's own state directory.
func (p *Paths) StateDir() string {
	return p.stateDir
}

// Artifact returns the download location of an artifact file.
func (p *Paths) Artifact(name string) string {
	return filepath.Join(p.downloadDir, name)
}

// ComponentRoot returns the extracted root directory of a component.
func (p *Paths) ComponentRoot(component string) string {
	return filepath.Join(p.downloadDir, component)
}

// ComponentFile returns a path inside a component root. Absolute paths
// (as they appear inside the container, e.g. /etc/openvpn/server.conf)
// are re-rooted under the component directory.
func (p *Paths) ComponentFile(component, rel string) string {
	return filepath.Join(p.ComponentRoot(component), strings.TrimPrefix(filepath.Clean("/"+rel), "/"))
}

// UnitSource returns the working copy of a downloaded unit file.
func (p *Paths) UnitSource(unit string) string {
	return filepath.Join(p.downloadDir, unit)
}

// UnitInstalled returns where a unit file is installed for the init system.
func (p *Paths) UnitInstalled(unit string) string {
	return filepath.Join(p.unitDir, unit)
}

// Marker returns the run guard marker path.
func (p *Paths) Marker() string {
	return filepath.Join(p.stateDir, "installer.state")
}

// Lock returns the run guard lock path.
func (p *Paths) Lock() string {
	return filepath.Join(p.stateDir, "installer.lock")
}

// DeferredCommand returns the file holding the deferred install command.
func (p *Paths) DeferredCommand() string {
	return filepath.Join(p.stateDir, "dapp_cmd")
}

// TestData returns the local copy of the test data SQL.
func (p *Paths) TestData() string {
	return filepath.Join(p.stateDir, "test_data.sql")
}

// GUIScript returns the local copy of the GUI setup script.
func (p *Paths) GUIScript() string {
	return filepath.Join(p.stateDir, "gui_setup.sh")
}
