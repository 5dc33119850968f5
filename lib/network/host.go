package network

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strings"

	"github.com/privatix/dapp-installer/lib/hostexec"
	"github.com/privatix/dapp-installer/lib/readiness"
	"github.com/samber/lo"
	"github.com/vishvananda/netlink"
)

// Host answers the questions negotiation asks about the live system.
type Host interface {
	// NATRules returns the lines of the nat POSTROUTING chain.
	NATRules(ctx context.Context) ([]string, error)
	// Interfaces returns physical, non-loopback interface names.
	Interfaces(ctx context.Context) ([]string, error)
	// TunnelDevices returns existing tunnel device names.
	TunnelDevices(ctx context.Context) ([]string, error)
	// PortBound reports whether something listens on port.
	PortBound(ctx context.Context, port int) bool
}

type linkLister func() ([]netlink.Link, error)

type host struct {
	runner        hostexec.Runner
	probe         *readiness.PortProbe
	tunnelPattern *regexp.Regexp
	links         linkLister
}

// NewHost returns a Host that reads links over netlink, NAT rules through
// iptables and port state through probe.
func NewHost(runner hostexec.Runner, probe *readiness.PortProbe, tunnelPattern string) (Host, error) {
	re, err := regexp.Compile(tunnelPattern)
	if err != nil {
		return nil, fmt.Errorf("compile tunnel pattern: %w", err)
	}
	return &host{
		runner:        runner,
		probe:         probe,
		tunnelPattern: re,
		links:         netlink.LinkList,
	}, nil
}

func (h *host) NATRules(ctx context.Context) ([]string, error) {
	out, err := h.runner.Run(ctx, "iptables -t nat -L POSTROUTING -n")
	if err != nil {
		return nil, fmt.Errorf("list nat rules: %w", err)
	}
	return strings.Split(strings.TrimRight(out, "\n"), "\n"), nil
}

func (h *host) Interfaces(ctx context.Context) ([]string, error) {
	links, err := h.links()
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	names := lo.FilterMap(links, func(l netlink.Link, _ int) (string, bool) {
		attrs := l.Attrs()
		physical := l.Type() == "device" && attrs.Flags&net.FlagLoopback == 0
		return attrs.Name, physical
	})
	sort.Strings(names)
	return names, nil
}

func (h *host) TunnelDevices(ctx context.Context) ([]string, error) {
	links, err := h.links()
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	names := lo.FilterMap(links, func(l netlink.Link, _ int) (string, bool) {
		return l.Attrs().Name, h.tunnelPattern.MatchString(l.Attrs().Name)
	})
	sort.Strings(names)
	return names, nil
}

func (h *host) PortBound(ctx context.Context, port int) bool {
	return h.probe.Listening(ctx, port)
}
