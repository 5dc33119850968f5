// Package runguard keeps a provisioning run from happening twice: a marker
// file records how far the last run got, and an exclusive lock rejects
// concurrent invocations.
package runguard

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nrednav/cuid2"
	"github.com/privatix/dapp-installer/lib/network"
	"github.com/privatix/dapp-installer/lib/paths"
)

// State is the provisioning state recorded by the marker.
type State string

const (
	Unprovisioned State = "unprovisioned"
	InProgress    State = "in_progress"
	Completed     State = "completed"
)

// Marker is the persisted run record.
type Marker struct {
	State       State               `json:"state"`
	RunID       string              `json:"run_id,omitempty"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	Allocation  *network.Allocation `json:"allocation,omitempty"`
}

// Guard reads and writes the marker.
type Guard struct {
	path string
	now  func() time.Time
}

// New returns a Guard over the marker in p's state directory.
func New(p *paths.Paths) *Guard {
	return &Guard{path: p.Marker(), now: time.Now}
}

// Path returns the marker location.
func (g *Guard) Path() string { return g.path }

// Load returns the current marker. A missing file is Unprovisioned. An
// empty file or a legacy false value is InProgress and the legacy value "1"
// is Completed.
func (g *Guard) Load() (*Marker, error) {
	data, err := os.ReadFile(g.path)
	if errors.Is(err, os.ErrNotExist) {
		return &Marker{State: Unprovisioned}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read marker: %w", err)
	}

	switch strings.TrimSpace(string(data)) {
	case "", "0", "false":
		return &Marker{State: InProgress}, nil
	case "1", "true":
		return &Marker{State: Completed}, nil
	}

	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode marker %s: %w", g.path, err)
	}
	switch m.State {
	case Unprovisioned, InProgress, Completed:
	default:
		return nil, fmt.Errorf("marker %s has unknown state %q", g.path, m.State)
	}
	return &m, nil
}

// Begin records the start of a run and returns its marker.
func (g *Guard) Begin() (*Marker, error) {
	now := g.now().UTC()
	m := &Marker{State: InProgress, RunID: cuid2.Generate(), StartedAt: &now}
	if err := g.write(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Complete records a finished run together with its allocation.
func (g *Guard) Complete(m *Marker, alloc *network.Allocation) error {
	now := g.now().UTC()
	m.State = Completed
	m.CompletedAt = &now
	m.Allocation = alloc
	return g.write(m)
}

// Reset removes the marker so the next run provisions from scratch.
func (g *Guard) Reset() error {
	if err := os.Remove(g.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove marker: %w", err)
	}
	return nil
}

func (g *Guard) write(m *Marker) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode marker: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(g.path), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := g.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	if err := os.Rename(tmp, g.path); err != nil {
		return fmt.Errorf("install marker: %w", err)
	}
	return nil
}
