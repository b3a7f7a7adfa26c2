package hooks

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Config supplies the identity applied to events missing their own.
type Config struct {
	RunID string
	Root  string
}

// Emitter fans out events to hooks while applying run identity defaults.
type Emitter struct {
	hooks Hooks
	runID string
	root  string
}

// NewEmitter constructs an emitter from hooks and configuration.
func NewEmitter(hooks Hooks, cfg Config) *Emitter {
	return &Emitter{
		hooks: cloneHooks(hooks),
		runID: strings.TrimSpace(cfg.RunID),
		root:  strings.TrimSpace(cfg.Root),
	}
}

// Enabled reports whether emissions should be attempted.
func (e *Emitter) Enabled() bool {
	return e != nil && len(e.hooks) > 0
}

// Emit forwards the event to all hooks, filling in the run identity when the
// event carries none.
func (e *Emitter) Emit(ctx context.Context, event Event) error {
	if !e.Enabled() {
		return nil
	}
	if strings.TrimSpace(event.RunID) == "" {
		event.RunID = e.runID
	}
	if strings.TrimSpace(event.Root) == "" {
		event.Root = e.root
	}
	return e.hooks.Notify(ctx, event)
}

// NewRunID returns a fresh identifier suitable for Config.RunID.
func NewRunID() string {
	return uuid.NewString()
}

func cloneHooks(hooks Hooks) Hooks {
	if len(hooks) == 0 {
		return nil
	}
	normalized := make([]Hook, 0, len(hooks))
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		normalized = append(normalized, hook)
	}
	return Hooks(normalized)
}
