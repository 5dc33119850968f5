package platform

import "errors"

var (
	// ErrUnsupportedPlatform is returned for an unknown distribution or a
	// release older than the configured minimum.
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrSystemdUpgrade is returned when systemd could not be read or brought
	// to the minimum version.
	ErrSystemdUpgrade = errors.New("systemd upgrade failed")
)
