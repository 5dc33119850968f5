package network

import (
	"context"
	"fmt"
	"net/netip"
	"slices"
	"strconv"
	"strings"

	"github.com/privatix/dapp-installer/cmd/installer/config"
	"github.com/privatix/dapp-installer/lib/logger"
	"github.com/privatix/dapp-installer/lib/prompt"
	"go.opentelemetry.io/otel/metric"
)

// Negotiator resolves the VPN's address range, egress interface, tunnel
// device and port against what the host already uses.
type Negotiator interface {
	// Negotiate returns a complete allocation, asking the operator whenever
	// a default conflicts with the host or a choice is ambiguous.
	Negotiate(ctx context.Context) (*Allocation, error)
	// Default returns the shipped allocation used to locate values in
	// unmodified configuration files.
	Default() Allocation
}

type negotiator struct {
	config   *config.Config
	host     Host
	prompter prompt.Prompter
	metrics  *Metrics
}

// NewNegotiator creates a Negotiator. meter may be nil.
func NewNegotiator(cfg *config.Config, host Host, prompter prompt.Prompter, meter metric.Meter) (Negotiator, error) {
	n := &negotiator{
		config:   cfg,
		host:     host,
		prompter: prompter,
	}
	if meter != nil {
		metrics, err := newNetworkMetrics(meter)
		if err != nil {
			return nil, fmt.Errorf("network metrics: %w", err)
		}
		n.metrics = metrics
	}
	return n, nil
}

func (n *negotiator) Default() Allocation {
	return Allocation{
		Address:      n.config.Network.Address,
		Mask:         n.config.Network.Mask,
		TunnelDevice: "tun",
		Port:         n.config.Network.Port,
	}
}

func (n *negotiator) Negotiate(ctx context.Context) (*Allocation, error) {
	log := logger.FromContext(ctx)
	alloc := &Allocation{Mask: n.config.Network.Mask}

	var err error
	if alloc.Address, err = n.address(ctx); err != nil {
		return nil, err
	}
	if alloc.Interface, err = n.iface(ctx); err != nil {
		return nil, err
	}
	if alloc.TunnelDevice, err = n.tunnel(ctx); err != nil {
		return nil, err
	}
	if alloc.Port, err = n.port(ctx); err != nil {
		return nil, err
	}

	log.InfoContext(ctx, "network negotiated",
		"subnet", alloc.Subnet(),
		"interface", alloc.Interface,
		"tunnel", alloc.TunnelDevice,
		"port", alloc.Port)
	return alloc, nil
}

// address keeps the default unless a MASQUERADE rule already covers the
// default subnet. A replacement is only checked for IPv4 syntax.
func (n *negotiator) address(ctx context.Context) (string, error) {
	def := n.config.Network.Address
	subnet := def + n.config.Network.Mask

	rules, err := n.host.NATRules(ctx)
	if err != nil {
		return "", err
	}
	conflict := slices.ContainsFunc(rules, func(line string) bool {
		return strings.Contains(line, "MASQUERADE") && strings.Contains(line, subnet)
	})
	if !conflict {
		return def, nil
	}

	n.recordConflict(ctx, "address")
	logger.FromContext(ctx).WarnContext(ctx, "default subnet already masqueraded", "subnet", subnet)
	return n.ask(fmt.Sprintf("Subnet %s is in use. Enter another network address (e.g. 10.217.4.0): ", subnet),
		func(answer string) bool {
			addr, err := netip.ParseAddr(answer)
			return err == nil && addr.Is4()
		})
}

func (n *negotiator) iface(ctx context.Context) (string, error) {
	names, err := n.host.Interfaces(ctx)
	if err != nil {
		return "", err
	}
	switch len(names) {
	case 0:
		return "", ErrNoInterfaces
	case 1:
		return names[0], nil
	}
	return n.ask(fmt.Sprintf("Choose the egress interface [%s]: ", strings.Join(names, ", ")),
		func(answer string) bool { return slices.Contains(names, answer) })
}

func (n *negotiator) tunnel(ctx context.Context) (string, error) {
	names, err := n.host.TunnelDevices(ctx)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return n.config.Network.TunnelFallback, nil
	}
	n.recordConflict(ctx, "tunnel")
	return n.ask(fmt.Sprintf("Existing tunnel devices [%s]. Choose one: ", strings.Join(names, ", ")),
		func(answer string) bool { return slices.Contains(names, answer) })
}

func (n *negotiator) port(ctx context.Context) (int, error) {
	port := n.config.Network.Port
	if !n.host.PortBound(ctx, port) {
		return port, nil
	}

	n.recordConflict(ctx, "port")
	logger.FromContext(ctx).WarnContext(ctx, "default port is in use", "port", port)
	answer, err := n.ask(fmt.Sprintf("Port %d is in use. Enter another port: ", port),
		func(answer string) bool {
			p, err := strconv.Atoi(answer)
			if err != nil || p <= 0 || p > 65535 {
				return false
			}
			return !n.host.PortBound(ctx, p)
		})
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(answer)
}

// ask repeats question until valid accepts the answer.
func (n *negotiator) ask(question string, valid func(string) bool) (string, error) {
	for {
		answer, err := n.prompter.Ask(question)
		if err != nil {
			return "", fmt.Errorf("read operator input: %w", err)
		}
		if valid(answer) {
			return answer, nil
		}
	}
}
