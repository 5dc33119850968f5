package ctrlconf

import "errors"

var (
	// ErrNoDBConfig is returned when neither the defaults nor the fetched
	// document yield any database connection parameter.
	ErrNoDBConfig = errors.New("database connection config missing")

	// ErrFetch is returned when a remote document could not be retrieved or
	// decoded.
	ErrFetch = errors.New("fetch control-plane document")

	// ErrDeferredCommand is returned when the persisted deferred install
	// command cannot be read or is empty.
	ErrDeferredCommand = errors.New("deferred install command unreadable")

	// ErrPayAddress is returned when the local config has no usable pay
	// address to rewrite.
	ErrPayAddress = errors.New("pay address cannot be rewritten")
)
