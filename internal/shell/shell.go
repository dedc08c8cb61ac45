// Package shell turns shell-style commands into backend prompts and returns
// the generated output as if a real terminal had produced it.
package shell

import (
	"context"
	"fmt"
	"sync"

	"github.com/SomethingGeneric/aihoneypot/internal/provider"
)

// promptTemplate frames the command so the model answers with terminal
// output only. The command is appended verbatim.
const promptTemplate = "Pretend to be a Bash shell on an Ubuntu Linux system. " +
	"Do not respond with anything other than what the user would see in the " +
	"terminal after running this command: %s"

// Shell pairs one backend provider with an execution lock so that at most one
// command is in flight per shell instance.
type Shell struct {
	provider provider.Provider
	mu       sync.Mutex
}

// New binds a shell to a provider.
func New(p provider.Provider) *Shell {
	return &Shell{provider: p}
}

// Execute runs one command through the backend and returns its fake output.
// Concurrent callers on the same instance serialize; the lock is held only
// for the duration of the backend call. Provider errors propagate unchanged:
// no retries, no fallback output.
func (s *Shell) Execute(ctx context.Context, command string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provider.Generate(ctx, fmt.Sprintf(promptTemplate, command))
}
