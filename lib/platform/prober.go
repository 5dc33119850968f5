package platform

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-version"
	"github.com/privatix/dapp-installer/cmd/installer/config"
	"github.com/privatix/dapp-installer/lib/logger"
)

// Target is a supported distribution together with its package plan.
type Target struct {
	Name    string
	Release OSRelease
	Plan    config.Distribution
}

// Prober identifies the host distribution.
type Prober struct {
	osRelease     string
	distributions map[string]config.Distribution
}

// NewProber returns a Prober using the configured os-release path and
// distribution table.
func NewProber(cfg *config.Config) *Prober {
	return &Prober{
		osRelease:     cfg.Platform.OSRelease,
		distributions: cfg.Platform.Distributions,
	}
}

// Probe reads the host release and matches it against the distribution
// table. Unknown distributions and releases below the table's minimum are
// ErrUnsupportedPlatform.
func (p *Prober) Probe(ctx context.Context) (*Target, error) {
	log := logger.FromContext(ctx)

	rel, err := ReadOSRelease(p.osRelease)
	if err != nil {
		return nil, err
	}
	name := strings.ToLower(rel.ID)
	plan, ok := p.distributions[name]
	if !ok {
		return nil, fmt.Errorf("%w: distribution %q", ErrUnsupportedPlatform, rel.ID)
	}

	have, err := version.NewVersion(rel.VersionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s version %q: %v", ErrUnsupportedPlatform, name, rel.VersionID, err)
	}
	need, err := version.NewVersion(plan.MinVersion)
	if err != nil {
		return nil, fmt.Errorf("invalid minimum version %q for %s: %w", plan.MinVersion, name, err)
	}
	if have.LessThan(need) {
		return nil, fmt.Errorf("%w: %s %s is older than %s", ErrUnsupportedPlatform, name, rel.VersionID, plan.MinVersion)
	}

	log.InfoContext(ctx, "platform detected", "distribution", name, "version", rel.VersionID)
	return &Target{Name: name, Release: *rel, Plan: plan}, nil
}
