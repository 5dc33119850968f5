package network

import "errors"

var (
	// ErrIPForwardUnchanged is returned when enabling IPv4 forwarding did not
	// take effect.
	ErrIPForwardUnchanged = errors.New("ip forwarding could not be enabled")

	// ErrNoInterfaces is returned when the host has no usable physical
	// interface to masquerade through.
	ErrNoInterfaces = errors.New("no physical network interfaces found")
)
