package hostexec

import (
	"context"
	"strings"
	"sync"
)

// Response is a canned result for FakeRunner.
type Response struct {
	Output string
	Err    error
}

// FakeRunner records commands and answers them from a table keyed by
// command prefix. Commands with no matching entry succeed with empty output.
type FakeRunner struct {
	mu        sync.Mutex
	Responses map[string]Response
	// Queue holds per-prefix responses consumed in order before falling back
	// to Responses.
	Queue    map[string][]Response
	Commands []string
}

// NewFakeRunner returns an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		Responses: make(map[string]Response),
		Queue:     make(map[string][]Response),
	}
}

// On registers a fixed response for commands starting with prefix.
func (f *FakeRunner) On(prefix, output string, err error) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Responses[prefix] = Response{Output: output, Err: err}
	return f
}

// Enqueue registers a one-shot response for commands starting with prefix.
func (f *FakeRunner) Enqueue(prefix, output string, err error) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Queue[prefix] = append(f.Queue[prefix], Response{Output: output, Err: err})
	return f
}

func (f *FakeRunner) Run(_ context.Context, command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Commands = append(f.Commands, command)

	if prefix, ok := longestPrefix(command, f.Queue); ok {
		q := f.Queue[prefix]
		if len(q) > 0 {
			f.Queue[prefix] = q[1:]
			return q[0].Output, q[0].Err
		}
	}
	if prefix, ok := longestPrefix(command, f.Responses); ok {
		r := f.Responses[prefix]
		return r.Output, r.Err
	}
	return "", nil
}

// Count returns how many recorded commands start with prefix.
func (f *FakeRunner) Count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Commands {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Ran returns a copy of the recorded commands.
func (f *FakeRunner) Ran() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Commands...)
}

func longestPrefix[V any](command string, m map[string]V) (string, bool) {
	best, found := "", false
	for p := range m {
		if strings.HasPrefix(command, p) && len(p) >= len(best) {
			best, found = p, true
		}
	}
	return best, found
}
