package provision

import (
	"errors"
	"fmt"

	"github.com/privatix/dapp-installer/lib/ctrlconf"
	"github.com/privatix/dapp-installer/lib/network"
	"github.com/privatix/dapp-installer/lib/platform"
	"github.com/privatix/dapp-installer/lib/runguard"
)

// Exit codes identify the step that failed. Operational tooling depends on
// these values.
const (
	CodeSystemd             = 1
	CodeUnsupportedPlatform = 2
	CodeIPForward           = 3
	CodeHostCommand         = 4
	CodeUnitFile            = 5
	CodeDownload            = 6
	CodeServerConf          = 7
	CodeDBConfig            = 8
	CodeDBNotReady          = 9
	CodeDeferredCommand     = 10
	CodeGUI                 = 11
	CodeTestData            = 12
	CodeVPNNotReady         = 13
	CodeCommonNotReady      = 14
	CodeLocked              = 15
)

// StepError is returned when a provisioning step fails.
type StepError struct {
	Step string
	Code int
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed (code %d): %v", e.Step, e.Code, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by the installer to a process exit code.
// Errors that did not come from a step use the generic host failure code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var se *StepError
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeHostCommand
}

// codedError pins the exit code for a failure inside a step that can fail
// in more than one documented way.
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	return &codedError{code: code, err: err}
}

// classify lets well-known causes override a step's own code.
func classify(stepCode int, err error) int {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	switch {
	case errors.Is(err, runguard.ErrLocked):
		return CodeLocked
	case errors.Is(err, platform.ErrUnsupportedPlatform):
		return CodeUnsupportedPlatform
	case errors.Is(err, platform.ErrSystemdUpgrade):
		return CodeSystemd
	case errors.Is(err, network.ErrIPForwardUnchanged):
		return CodeIPForward
	case errors.Is(err, ctrlconf.ErrDeferredCommand):
		return CodeDeferredCommand
	case errors.Is(err, ctrlconf.ErrNoDBConfig):
		return CodeDBConfig
	}
	return stepCode
}
