// Package executortest provides a recording CommandExecutor for tests.
package executortest

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/fgeck/pve-homelab/internal/services/executor"
)

// Recorder records every command and file write. Handler decides the
// output of each command; a nil Handler succeeds with empty output.
type Recorder struct {
	Handler      func(cmd string) ([]byte, error)
	WriteFileErr error

	mu       sync.Mutex
	commands []string
	files    map[string][]byte
}

// Execute records the command line and delegates to Handler.
func (r *Recorder) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	line := executor.Shell(name, args...)
	r.mu.Lock()
	r.commands = append(r.commands, line)
	r.mu.Unlock()
	if r.Handler != nil {
		return r.Handler(line)
	}
	return nil, nil
}

// WriteFile records the file contents.
func (r *Recorder) WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.WriteFileErr != nil {
		return r.WriteFileErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.files == nil {
		r.files = make(map[string][]byte)
	}
	r.files[path] = append([]byte(nil), data...)
	return nil
}

// Commands returns a copy of the recorded command lines.
func (r *Recorder) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

// CommandsWithPrefix returns the recorded command lines starting with prefix.
func (r *Recorder) CommandsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range r.Commands() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// File returns the last data written to path.
func (r *Recorder) File(path string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.files[path]
	return string(data), ok
}
