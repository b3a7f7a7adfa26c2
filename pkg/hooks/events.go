package hooks

import (
	"strings"
	"time"
)

// Pipeline phase names used in lifecycle events.
const (
	PhaseCompose     = "compose"
	PhaseOverride    = "override"
	PhaseResolve     = "resolve"
	PhaseInstantiate = "instantiate"
	PhaseRun         = "run"
)

// PhaseInput describes the common fields for pipeline lifecycle events.
type PhaseInput struct {
	RunID      string
	Root       string
	Phase      string
	Path       string
	Err        error
	Metadata   map[string]any
	Duration   time.Duration
	OccurredAt time.Time
}

// BuildPhaseStartedEvent constructs an event marking a phase's start.
func BuildPhaseStartedEvent(input PhaseInput) Event {
	return buildPipelineEvent("pipeline.phase.started", input)
}

// BuildPhaseCompletedEvent constructs an event marking a phase's success.
func BuildPhaseCompletedEvent(input PhaseInput) Event {
	return buildPipelineEvent("pipeline.phase.completed", input)
}

// BuildPhaseFailedEvent constructs an event marking a phase's failure.
func BuildPhaseFailedEvent(input PhaseInput) Event {
	return buildPipelineEvent("pipeline.phase.failed", input)
}

// BuildRunStartedEvent constructs an event marking a build's start.
func BuildRunStartedEvent(input PhaseInput) Event {
	return buildPipelineEvent("pipeline.run.started", input)
}

// BuildRunCompletedEvent constructs an event marking a build's success.
func BuildRunCompletedEvent(input PhaseInput) Event {
	return buildPipelineEvent("pipeline.run.completed", input)
}

// BuildRunFailedEvent constructs an event marking a build's failure.
func BuildRunFailedEvent(input PhaseInput) Event {
	return buildPipelineEvent("pipeline.run.failed", input)
}

func buildPipelineEvent(verb string, input PhaseInput) Event {
	metadata := cloneMap(input.Metadata)
	if input.Err != nil {
		metadata = ensureMetadata(metadata)
		metadata["error"] = input.Err.Error()
	}
	if input.Duration > 0 {
		metadata = ensureMetadata(metadata)
		metadata["duration_ms"] = input.Duration.Milliseconds()
	}

	return Event{
		Verb:       verb,
		RunID:      strings.TrimSpace(input.RunID),
		Root:       strings.TrimSpace(input.Root),
		Phase:      strings.TrimSpace(input.Phase),
		Path:       strings.TrimSpace(input.Path),
		Metadata:   metadata,
		Duration:   input.Duration,
		OccurredAt: input.OccurredAt,
	}
}

func ensureMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
