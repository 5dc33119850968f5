package provision

import "github.com/privatix/dapp-installer/cmd/installer/config"

// Journal records the host changes a run made that rollback may undo.
type Journal struct {
	// IPForwardChanged is set when this run enabled IP forwarding.
	IPForwardChanged bool
	// Artifacts lists downloaded files.
	Artifacts []string
}

// Policy selects what rollback undoes.
type Policy struct {
	RevertIPForward bool
	RemoveArtifacts bool
}

// PolicyFromConfig reads the rollback policy from configuration.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		RevertIPForward: cfg.Rollback.RevertIPForward,
		RemoveArtifacts: cfg.Rollback.RemoveArtifacts,
	}
}
