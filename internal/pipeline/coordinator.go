package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/fspbuild/internal/logging"
	"github.com/muurk/fspbuild/internal/patch"
	"github.com/muurk/fspbuild/internal/symtab"
)

// Environment prepares the tools and variables the build needs.
type Environment interface {
	Prepare(ctx context.Context) error
}

// Builder runs the pre-build generators and the firmware build itself.
type Builder interface {
	PreBuild(ctx context.Context) error
	Build(ctx context.Context) error
}

// Artifacts gives access to the build outputs the patch stage consumes.
type Artifacts interface {
	// Image loads the built firmware device image.
	Image(ctx context.Context) (*patch.Image, error)
	// Bases returns the load address of every component, keyed by FV name.
	Bases(ctx context.Context) (map[string]uint32, error)
	// Tables loads the section and symbol tables of one component.
	Tables(ctx context.Context, component string) (*symtab.Table, error)
	// Save persists the patched image.
	Save(ctx context.Context, img *patch.Image) error
}

// Verifier checks a patched image and the files that must ship with it.
type Verifier interface {
	Verify(ctx context.Context, img *patch.Image) error
}

// Publisher copies finished artifacts to their output location.
type Publisher interface {
	Publish(ctx context.Context) error
}

// StageStatus is reported to a StageObserver.
type StageStatus int

const (
	StageStarted StageStatus = iota
	StageFinished
	StageFailed
)

// StageEvent describes a stage starting or ending.
type StageEvent struct {
	Stage Stage
	// Index is the 1-based position of Stage in the run
	Index    int
	Total    int
	Status   StageStatus
	Detail   string
	Err      error
	Duration time.Duration
}

// StageObserver receives stage events as the pipeline runs.
type StageObserver func(StageEvent)

// Collaborators are the external parties the coordinator sequences.
// Verifier is optional.
type Collaborators struct {
	Environment Environment
	Builder     Builder
	Artifacts   Artifacts
	Verifier    Verifier
	Publisher   Publisher
}

// Coordinator drives a build through its stages. Each stage runs once; the
// first failure moves the coordinator to Failed and nothing after it runs.
type Coordinator struct {
	collab   Collaborators
	plans    []*patch.Plan
	observer StageObserver
	logger   *zap.Logger

	state   State
	failed  Stage
	patched map[string]int
	image   *patch.Image
}

// NewCoordinator creates a coordinator that applies plans, in order, during
// the patch stage.
func NewCoordinator(collab Collaborators, plans []*patch.Plan, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		collab:  collab,
		plans:   plans,
		logger:  logger,
		patched: make(map[string]int),
	}
}

// Observe registers the stage observer.
func (c *Coordinator) Observe(fn StageObserver) {
	c.observer = fn
}

// State returns the current state.
func (c *Coordinator) State() State {
	return c.state
}

// FailedStage returns the stage that failed, if any.
func (c *Coordinator) FailedStage() (Stage, bool) {
	return c.failed, c.state == Failed
}

// Patched returns the number of bytes each plan wrote, keyed by plan name.
func (c *Coordinator) Patched() map[string]int {
	out := make(map[string]int, len(c.patched))
	for k, v := range c.patched {
		out[k] = v
	}
	return out
}

// Run executes every stage in order.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.state != Idle {
		return fmt.Errorf("pipeline has already run (state %s)", c.state)
	}

	stages := Stages()
	for i, stage := range stages {
		ev := StageEvent{Stage: stage, Index: i + 1, Total: len(stages)}

		ev.Status = StageStarted
		c.notify(ev)
		logging.LogStage(string(stage), "start", zap.String("state", c.state.String()))

		start := time.Now()
		detail, err := c.runStage(ctx, stage)
		ev.Duration = time.Since(start)
		ev.Detail = detail

		if err != nil {
			c.state = Failed
			c.failed = stage
			ev.Status = StageFailed
			ev.Err = err
			c.notify(ev)
			logging.LogStage(string(stage), "failed", zap.Duration("duration", ev.Duration), zap.Error(err))
			return &StageError{Stage: stage, Err: err}
		}

		c.state = stage.reached()
		ev.Status = StageFinished
		c.notify(ev)
		logging.LogStage(string(stage), "done",
			zap.Duration("duration", ev.Duration),
			zap.String("state", c.state.String()),
		)
	}
	return nil
}

func (c *Coordinator) notify(ev StageEvent) {
	if c.observer != nil {
		c.observer(ev)
	}
}

func (c *Coordinator) runStage(ctx context.Context, stage Stage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch stage {
	case StageEnvironment:
		return "", c.collab.Environment.Prepare(ctx)
	case StagePreBuild:
		return "", c.collab.Builder.PreBuild(ctx)
	case StageBuild:
		return "", c.collab.Builder.Build(ctx)
	case StagePatch:
		return c.patch(ctx)
	case StagePublish:
		return c.publish(ctx)
	}
	return "", fmt.Errorf("unknown stage %q", stage)
}

func (c *Coordinator) patch(ctx context.Context) (string, error) {
	art := c.collab.Artifacts
	img, err := art.Image(ctx)
	if err != nil {
		return "", err
	}
	bases, err := art.Bases(ctx)
	if err != nil {
		return "", err
	}

	engine := patch.NewEngine(bases, c.logger)
	total := 0
	for _, plan := range c.plans {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		table, err := art.Tables(ctx, plan.Name)
		if err != nil {
			return "", fmt.Errorf("failed to load tables for %s: %w", plan.Name, err)
		}
		if table == nil {
			return "", fmt.Errorf("no tables for %s", plan.Name)
		}
		n, err := engine.Apply(plan, table, img)
		if err != nil {
			return "", err
		}
		c.patched[plan.Name] = n
		total += n
	}

	if err := art.Save(ctx, img); err != nil {
		return "", err
	}
	c.image = img
	return fmt.Sprintf("%d plans, %d bytes", len(c.plans), total), nil
}

func (c *Coordinator) publish(ctx context.Context) (string, error) {
	if c.collab.Verifier != nil {
		if err := c.collab.Verifier.Verify(ctx, c.image); err != nil {
			return "", err
		}
	}
	if err := c.collab.Publisher.Publish(ctx); err != nil {
		return "", err
	}
	return "", nil
}
