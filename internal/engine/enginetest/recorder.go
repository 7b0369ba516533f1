// Package enginetest provides a recording engine.Commander for tests.
package enginetest

import (
	"sync"

	"focustown/backend/internal/engine"
)

// Recorder is a Commander that keeps every command it receives.
type Recorder struct {
	mu       sync.Mutex
	commands []engine.Command
}

func (r *Recorder) Send(cmd engine.Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)
}

func (r *Recorder) Commands() []engine.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]engine.Command(nil), r.commands...)
}

// OfType returns the recorded commands with the given type, in order.
func (r *Recorder) OfType(t engine.CommandType) []engine.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []engine.Command
	for _, cmd := range r.commands {
		if cmd.Type == t {
			out = append(out, cmd)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = nil
}
