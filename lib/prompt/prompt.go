// Package prompt reads operator answers during network negotiation.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrNoInput is returned when the input stream ends before an answer is read.
// Re-prompt loops stop on it instead of spinning on a closed stdin.
var ErrNoInput = errors.New("no operator input available")

// Prompter asks a question and returns the operator's answer with
// surrounding whitespace removed.
type Prompter interface {
	Ask(question string) (string, error)
}

// LinePrompter reads one line per answer.
type LinePrompter struct {
	mu          sync.Mutex
	in          *bufio.Reader
	out         io.Writer
	interactive bool
}

// New returns a LinePrompter reading from in and writing questions to out.
func New(in io.Reader, out io.Writer) *LinePrompter {
	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	return &LinePrompter{in: bufio.NewReader(in), out: out, interactive: interactive}
}

// Stdio returns a LinePrompter on the process's stdin and stdout.
func Stdio() *LinePrompter {
	return New(os.Stdin, os.Stdout)
}

// Interactive reports whether answers come from a terminal.
func (p *LinePrompter) Interactive() bool { return p.interactive }

func (p *LinePrompter) Ask(question string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := fmt.Fprint(p.out, question); err != nil {
		return "", fmt.Errorf("write prompt: %w", err)
	}
	line, err := p.in.ReadString('\n')
	if !p.interactive {
		// the answer is not echoed when it comes from a pipe
		fmt.Fprintln(p.out)
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			if line == "" {
				return "", ErrNoInput
			}
			return strings.TrimSpace(line), nil
		}
		return "", fmt.Errorf("read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}
