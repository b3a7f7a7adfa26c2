package hydra

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tanganke/hydra-program/pkg/hooks"
)

// Pipeline drives a full configuration build: compose the defaults list,
// apply command-line overrides, resolve interpolations, and instantiate the
// resulting tree. Each Build is independent; a Pipeline may serve concurrent
// builds as long as its loader and registry are safe for concurrent reads.
type Pipeline struct {
	loader       Loader
	registry     *Registry
	overrides    []string
	overrideOpts []OverrideOption
	resolverOpts []ResolverOption
	hooks        hooks.Hooks
	newRunID     func() string
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLoader sets the document loader used during composition.
func WithLoader(loader Loader) PipelineOption {
	return func(p *Pipeline) {
		p.loader = loader
	}
}

// WithRegistry sets the factory registry used during instantiation. A
// pipeline without a registry still builds trees that contain no targets.
func WithRegistry(registry *Registry) PipelineOption {
	return func(p *Pipeline) {
		p.registry = registry
	}
}

// WithOverrides appends override lines applied after composition, in order.
func WithOverrides(specs ...string) PipelineOption {
	return func(p *Pipeline) {
		p.overrides = append(p.overrides, specs...)
	}
}

// WithOverrideOptions forwards options to ApplyOverrides.
func WithOverrideOptions(opts ...OverrideOption) PipelineOption {
	return func(p *Pipeline) {
		p.overrideOpts = append(p.overrideOpts, opts...)
	}
}

// WithResolverOptions forwards options to the resolver constructed for each
// build, such as custom resolver functions or an environment lookup.
func WithResolverOptions(opts ...ResolverOption) PipelineOption {
	return func(p *Pipeline) {
		p.resolverOpts = append(p.resolverOpts, opts...)
	}
}

// WithBuildHooks attaches lifecycle hooks notified as each build progresses.
// Hook failures are ignored; delivery is best effort.
func WithBuildHooks(hs ...hooks.Hook) PipelineOption {
	return func(p *Pipeline) {
		for _, h := range hs {
			if h != nil {
				p.hooks = append(p.hooks, h)
			}
		}
	}
}

// NewPipeline returns a Pipeline configured by opts.
func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{newRunID: hooks.NewRunID}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// BuildResult carries the artifacts of one pipeline run.
type BuildResult struct {
	// RunID identifies this build on every hook event it emitted.
	RunID string
	// Root is the name of the root document the build composed.
	Root string
	// Tree is the composed, overridden, and fully resolved configuration.
	Tree *Node
	// Value is the instantiated root object.
	Value any
}

// Build composes the named root document, applies the configured overrides,
// resolves every interpolation, and instantiates the tree. Phases run
// strictly in that order; ctx is checked between phases and feeds hook
// notifications, but never reaches a factory.
func (p *Pipeline) Build(ctx context.Context, root string) (*BuildResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("hydra: root document name must not be empty")
	}
	if p.loader == nil {
		return nil, errors.New("hydra: pipeline has no loader")
	}

	runID := p.newRunID()
	emitter := hooks.NewEmitter(p.hooks, hooks.Config{RunID: runID, Root: root})
	runStart := time.Now()
	_ = emitter.Emit(ctx, hooks.BuildRunStartedEvent(hooks.PhaseInput{}))

	var tree *Node
	err := p.runPhase(ctx, emitter, hooks.PhaseCompose, func() error {
		composed, composeErr := NewComposer(p.loader).ComposeNamed(root)
		if composeErr != nil {
			return composeErr
		}
		tree = composed
		return nil
	})
	if err != nil {
		return nil, p.failRun(ctx, emitter, runStart, err)
	}

	err = p.runPhase(ctx, emitter, hooks.PhaseOverride, func() error {
		return ApplyOverrides(tree, p.overrides, p.overrideOpts...)
	})
	if err != nil {
		return nil, p.failRun(ctx, emitter, runStart, err)
	}

	var resolver *Resolver
	err = p.runPhase(ctx, emitter, hooks.PhaseResolve, func() error {
		resolver = NewResolver(tree, p.resolverOpts...)
		return resolver.ResolveAll()
	})
	if err != nil {
		return nil, p.failRun(ctx, emitter, runStart, err)
	}

	var value any
	err = p.runPhase(ctx, emitter, hooks.PhaseInstantiate, func() error {
		built, instErr := Instantiate(tree, p.registry, WithInstantiateResolver(resolver))
		if instErr != nil {
			return instErr
		}
		value = built
		return nil
	})
	if err != nil {
		return nil, p.failRun(ctx, emitter, runStart, err)
	}

	_ = emitter.Emit(ctx, hooks.BuildRunCompletedEvent(hooks.PhaseInput{
		Duration: time.Since(runStart),
	}))
	return &BuildResult{RunID: runID, Root: root, Tree: tree, Value: value}, nil
}

func (p *Pipeline) runPhase(ctx context.Context, emitter *hooks.Emitter, phase string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_ = emitter.Emit(ctx, hooks.BuildPhaseStartedEvent(hooks.PhaseInput{Phase: phase}))
	started := time.Now()
	err := fn()
	input := hooks.PhaseInput{Phase: phase, Duration: time.Since(started), Err: err}
	if err != nil {
		_ = emitter.Emit(ctx, hooks.BuildPhaseFailedEvent(input))
		return err
	}
	_ = emitter.Emit(ctx, hooks.BuildPhaseCompletedEvent(input))
	return nil
}

func (p *Pipeline) failRun(ctx context.Context, emitter *hooks.Emitter, started time.Time, err error) error {
	_ = emitter.Emit(ctx, hooks.BuildRunFailedEvent(hooks.PhaseInput{
		Err:      err,
		Duration: time.Since(started),
	}))
	return err
}

// Runner is implemented by instantiated roots that expose the program entry
// point a driver invokes after a successful build.
type Runner interface {
	Run() error
}

// RunExitCode invokes value's Run method and maps the outcome to a process
// exit status: 0 on success, 1 when Run returns an error, 2 when value does
// not implement Runner.
func RunExitCode(value any) int {
	runner, ok := value.(Runner)
	if !ok {
		return 2
	}
	if err := runner.Run(); err != nil {
		return 1
	}
	return 0
}
