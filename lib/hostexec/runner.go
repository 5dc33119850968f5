// Package hostexec runs shell commands on the provisioning host.
package hostexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/privatix/dapp-installer/lib/logger"
)

// unmetDependencies is printed by apt-get on stdout, with exit status 0 on
// some releases, when a package cannot be installed.
const unmetDependencies = "The following packages have unmet dependencies:"

// Runner executes a single shell command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, command string) (string, error)
}

// CommandError reports a command that failed, exited non-zero, or wrote to
// stderr.
type CommandError struct {
	Command  string
	ExitCode int
	Output   string
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q failed", e.Command)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// ShellRunner runs commands through "sh -c".
type ShellRunner struct {
	// Shell defaults to "sh".
	Shell string
}

// NewShellRunner returns a Runner backed by /bin/sh.
func NewShellRunner() *ShellRunner {
	return &ShellRunner{Shell: "sh"}
}

// Run executes command and returns stdout and stderr interleaved. It fails
// when the process exits non-zero, when anything was written to stderr, or
// when apt reports unmet dependencies.
func (r *ShellRunner) Run(ctx context.Context, command string) (string, error) {
	log := logger.FromContext(ctx)
	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}

	var combined lockedBuffer
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Stdout = &combined
	cmd.Stderr = &teeWriter{combined: &combined, stderr: &stderr}

	log.DebugContext(ctx, "running host command", "command", command)
	runErr := cmd.Run()
	out := combined.String()

	cerr := &CommandError{Command: command, Output: out, Stderr: stderr.String(), Err: runErr}
	var exitErr *exec.ExitError
	switch {
	case errors.As(runErr, &exitErr):
		cerr.ExitCode = exitErr.ExitCode()
		return out, cerr
	case runErr != nil:
		return out, cerr
	case stderr.Len() > 0:
		return out, cerr
	case strings.Contains(out, unmetDependencies):
		cerr.Err = errors.New("unmet package dependencies")
		return out, cerr
	}
	return out, nil
}

// lockedBuffer is written from the stdout and stderr copy goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type teeWriter struct {
	combined *lockedBuffer
	stderr   *bytes.Buffer
}

func (w *teeWriter) Write(p []byte) (int, error) {
	w.combined.Write(p)
	return w.stderr.Write(p)
}
