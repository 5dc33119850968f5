package artifacts

import "errors"

var (
	// ErrDownload is returned when an artifact could not be fetched.
	ErrDownload = errors.New("artifact download failed")

	// ErrArchiveTooLarge is returned when extracted content exceeds the cap.
	ErrArchiveTooLarge = errors.New("archive content exceeds size limit")

	// ErrInvalidArchivePath is returned for entries that would land outside
	// the component root.
	ErrInvalidArchivePath = errors.New("invalid archive path")

	// ErrNoComponent is returned for an archive no component claims.
	ErrNoComponent = errors.New("archive does not belong to any component")
)
