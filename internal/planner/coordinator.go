package planner

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/planforge/planforge/internal/policy"
	"github.com/planforge/planforge/internal/runlog"
	"github.com/planforge/planforge/internal/task"
)

// Generator produces a raw text completion for a prompt. Implementations
// wrap a model provider; tests substitute a canned response.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Coordinator runs the synthesis stages in order: prompt, generate,
// extract, validate, graph, sort. It holds no per-run state; every
// invocation is independent.
type Coordinator struct {
	pol    policy.Policy
	gen    Generator
	sink   runlog.Sink
	logger *log.Logger
}

// NewCoordinator wires a pipeline over the given policy and generator.
// sink may be nil when no event log is wanted.
func NewCoordinator(pol policy.Policy, gen Generator, sink runlog.Sink, logger *log.Logger) (*Coordinator, error) {
	if err := pol.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	if gen == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[PLANNER] ", log.LstdFlags)
	}
	return &Coordinator{pol: pol, gen: gen, sink: sink, logger: logger}, nil
}

// CreatePlan synthesizes an ordered plan for the intent. The first
// failing stage aborts the run; no partial plan is ever returned.
func (c *Coordinator) CreatePlan(ctx context.Context, trace runlog.Trace, intent string) (task.Plan, error) {
	if intent == "" {
		return task.Plan{}, fmt.Errorf("intent is empty")
	}

	prompt := BuildPlannerPrompt(intent, c.pol.WhitelistTools, c.pol)
	c.stageEvent(trace, "prompt", "prompt built", nil)

	start := time.Now()
	response, err := c.gen.Generate(ctx, prompt)
	observeStage("generate", time.Since(start).Seconds(), err)
	if err != nil {
		c.stageEvent(trace, "generate", "generation failed", err)
		return task.Plan{}, fmt.Errorf("generate plan: %w", err)
	}
	c.stageEvent(trace, "generate", "generation complete", nil)

	start = time.Now()
	records, err := Extract(response)
	observeStage("extract", time.Since(start).Seconds(), err)
	if err != nil {
		c.stageEvent(trace, "extract", "extraction failed", err)
		return task.Plan{}, err
	}
	c.stageEvent(trace, "extract", "structured payload extracted", nil)

	start = time.Now()
	tasks, err := Validate(records, c.pol, time.Now().UTC())
	if err == nil {
		err = ValidateWhitelist(tasks, c.pol.WhitelistTools)
	}
	observeStage("validate", time.Since(start).Seconds(), err)
	if err != nil {
		c.stageEvent(trace, "validate", "validation failed", err)
		return task.Plan{}, err
	}
	runlog.Emit(c.sink, runlog.Event{
		Level:     runlog.LevelInfo,
		Component: "PLANNER",
		Message:   "tasks validated",
		Trace:     trace,
		Payload:   runlog.Payload{Stage: "validate", TaskCount: len(tasks)},
	})

	start = time.Now()
	ordered, err := BuildGraph(tasks).TopologicalSort()
	observeStage("graph", time.Since(start).Seconds(), err)
	if err != nil {
		c.stageEvent(trace, "graph", "ordering failed", err)
		return task.Plan{}, err
	}
	c.stageEvent(trace, "graph", "tasks ordered", nil)
	planTasks.Observe(float64(len(ordered)))

	c.logger.Printf("plan synthesized: %d tasks for intent %q", len(ordered), intent)
	return task.Plan{
		ID:        uuid.New().String(),
		IntentID:  trace.IntentID,
		Intent:    intent,
		Tasks:     ordered,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// ParallelBatches partitions a synthesized plan into dependency waves.
func (c *Coordinator) ParallelBatches(p task.Plan) ([][]task.Task, error) {
	return BuildGraph(p.Tasks).ParallelBatches()
}

func (c *Coordinator) stageEvent(trace runlog.Trace, stage, message string, err error) {
	level := runlog.LevelInfo
	payload := runlog.Payload{Stage: stage}
	if err != nil {
		level = runlog.LevelError
		payload.Err = err.Error()
	}
	runlog.Emit(c.sink, runlog.Event{
		Level:     level,
		Component: "PLANNER",
		Message:   message,
		Trace:     trace,
		Payload:   payload,
	})
}
