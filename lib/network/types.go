package network

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/privatix/dapp-installer/lib/patch"
)

// Allocation is the set of host network resources chosen for the VPN.
// Address is the network address and Mask a prefix such as "/24".
type Allocation struct {
	Address      string `json:"address"`
	Mask         string `json:"mask"`
	Interface    string `json:"interface"`
	TunnelDevice string `json:"tunnel_device"`
	Port         int    `json:"port"`
}

// Subnet returns the address in CIDR form, e.g. "10.217.3.0/24".
func (a Allocation) Subnet() string {
	return a.Address + a.Mask
}

// Netmask returns the mask in dotted decimal notation.
func (a Allocation) Netmask() (string, error) {
	bits, err := strconv.Atoi(strings.TrimPrefix(a.Mask, "/"))
	if err != nil || bits < 0 || bits > 32 {
		return "", fmt.Errorf("invalid mask %q", a.Mask)
	}
	return net.IP(net.CIDRMask(bits, 32)).String(), nil
}

// Values exposes the allocation to rewrite rules.
func (a Allocation) Values() (patch.Values, error) {
	netmask, err := a.Netmask()
	if err != nil {
		return nil, err
	}
	return patch.Values{
		patch.FieldAddress:   a.Address,
		patch.FieldMask:      a.Mask,
		patch.FieldSubnet:    a.Subnet(),
		patch.FieldNetmask:   netmask,
		patch.FieldInterface: a.Interface,
		patch.FieldTunnel:    a.TunnelDevice,
		patch.FieldPort:      strconv.Itoa(a.Port),
	}, nil
}
