package hydra

import "time"

// ResolveEvent describes one interpolation or expression resolution.
type ResolveEvent struct {
	// Engine names what resolved the value: "interpolation" for plain
	// references, or the resolver function name ("expr", "cel", "js").
	Engine string
	// Expr is the expression text that was resolved.
	Expr string
	// Path is the config path of the node being resolved.
	Path string
	// Duration is how long the resolution took.
	Duration time.Duration
	// Err is non-nil when the resolution failed.
	Err error
}

// ResolveLogger receives an event for every resolution a Resolver performs.
// Implementations must be safe for use from the goroutine running the
// resolver and should return quickly.
type ResolveLogger interface {
	LogResolution(event ResolveEvent)
}

// ResolveLoggerFunc adapts a function to the ResolveLogger interface.
type ResolveLoggerFunc func(event ResolveEvent)

// LogResolution implements ResolveLogger.
func (f ResolveLoggerFunc) LogResolution(event ResolveEvent) {
	f(event)
}

type noopResolveLogger struct{}

func (noopResolveLogger) LogResolution(ResolveEvent) {}
