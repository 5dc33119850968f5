package network

import (
	"context"
	"fmt"
	"strings"

	"github.com/privatix/dapp-installer/lib/hostexec"
	"github.com/privatix/dapp-installer/lib/logger"
)

const ipForwardKey = "net.ipv4.ip_forward"

// IPForward reads and toggles the kernel's IPv4 forwarding flag.
type IPForward struct {
	runner hostexec.Runner
}

// NewIPForward returns an IPForward that shells out to sysctl.
func NewIPForward(runner hostexec.Runner) *IPForward {
	return &IPForward{runner: runner}
}

// Enabled reports whether forwarding is on.
func (f *IPForward) Enabled(ctx context.Context) (bool, error) {
	out, err := f.runner.Run(ctx, "sysctl "+ipForwardKey)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", ipForwardKey, err)
	}
	// "net.ipv4.ip_forward = 1"
	_, value, ok := strings.Cut(out, "=")
	if !ok {
		return false, fmt.Errorf("unexpected sysctl output %q", strings.TrimSpace(out))
	}
	return strings.TrimSpace(value) == "1", nil
}

// Ensure turns forwarding on if needed. It reports whether this call changed
// the flag; a flag that stays off after the write is ErrIPForwardUnchanged.
func (f *IPForward) Ensure(ctx context.Context) (bool, error) {
	log := logger.FromContext(ctx)

	on, err := f.Enabled(ctx)
	if err != nil {
		return false, err
	}
	if on {
		log.InfoContext(ctx, "ip forwarding already enabled")
		return false, nil
	}

	if _, err := f.runner.Run(ctx, "sysctl -w "+ipForwardKey+"=1"); err != nil {
		return false, fmt.Errorf("enable %s: %w", ipForwardKey, err)
	}
	on, err = f.Enabled(ctx)
	if err != nil {
		return false, err
	}
	if !on {
		return false, ErrIPForwardUnchanged
	}
	log.InfoContext(ctx, "ip forwarding enabled")
	return true, nil
}

// Revert turns forwarding off again.
func (f *IPForward) Revert(ctx context.Context) error {
	if _, err := f.runner.Run(ctx, "sysctl -w "+ipForwardKey+"=0"); err != nil {
		return fmt.Errorf("disable %s: %w", ipForwardKey, err)
	}
	logger.FromContext(ctx).InfoContext(ctx, "ip forwarding reverted")
	return nil
}
