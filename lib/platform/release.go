// Package platform identifies the host distribution and brings its packages
// up to what the managed services need.
package platform

import (
	"fmt"

	"github.com/joho/godotenv"
)

// OSRelease holds the fields of /etc/os-release the installer uses.
type OSRelease struct {
	ID         string
	VersionID  string
	PrettyName string
}

// ReadOSRelease parses an os-release file. The format is shell-style
// KEY=value assignments, which godotenv reads directly.
func ReadOSRelease(path string) (*OSRelease, error) {
	env, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &OSRelease{
		ID:         env["ID"],
		VersionID:  env["VERSION_ID"],
		PrettyName: env["PRETTY_NAME"],
	}, nil
}
