// Package executor walks a synthesized plan batch by batch, running
// tasks through a ToolRunner with bounded concurrency.
package executor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/planforge/planforge/internal/planner"
	"github.com/planforge/planforge/internal/runlog"
	"github.com/planforge/planforge/internal/task"
)

// Executor runs plans. Tasks within a batch run concurrently, capped by
// MaxConcurrent; a batch starts only after the previous one finished.
type Executor struct {
	runner        ToolRunner
	maxConcurrent int
	sink          runlog.Sink
	logger        *log.Logger
}

// New creates an executor over the given runner.
func New(runner ToolRunner, maxConcurrent int, sink runlog.Sink, logger *log.Logger) (*Executor, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[EXECUTOR] ", log.LstdFlags)
	}
	return &Executor{runner: runner, maxConcurrent: maxConcurrent, sink: sink, logger: logger}, nil
}

// Execute runs every task of the plan in dependency order and returns
// the plan with execution state filled in. A failed task marks its
// whole descendant chain blocked; the remaining independent tasks still
// run. A task's concurrency constraint is the number of worker slots
// its work reserves, so heavier tasks shrink the parallelism left for
// the rest of the batch. Execute returns an error only when the plan
// itself cannot be walked, not when individual tasks fail.
func (e *Executor) Execute(ctx context.Context, trace runlog.Trace, p task.Plan) (task.Plan, error) {
	batches, err := planner.BuildGraph(p.Tasks).ParallelBatches()
	if err != nil {
		return task.Plan{}, err
	}

	byID := make(map[string]*task.Task, len(p.Tasks))
	for i := range p.Tasks {
		byID[p.Tasks[i].ID] = &p.Tasks[i]
	}

	for bi, batch := range batches {
		e.logger.Printf("running batch %d/%d (%d tasks)", bi+1, len(batches), len(batch))
		sem := make(chan struct{}, e.maxConcurrent)
		var wg sync.WaitGroup
		for _, bt := range batch {
			t := byID[bt.ID]
			if t.ParentID != "" {
				parent := byID[t.ParentID]
				if parent.State != task.StateDone {
					e.markBlocked(trace, t)
					continue
				}
			}
			slots := t.Constraints.Concurrency
			if slots < 1 {
				slots = 1
			}
			if slots > e.maxConcurrent {
				slots = e.maxConcurrent
			}
			wg.Add(1)
			for i := 0; i < slots; i++ {
				sem <- struct{}{}
			}
			go func(t *task.Task, slots int) {
				defer wg.Done()
				defer func() {
					for i := 0; i < slots; i++ {
						<-sem
					}
				}()
				e.runTask(ctx, trace, t)
			}(t, slots)
		}
		wg.Wait()
		if ctx.Err() != nil {
			return p, ctx.Err()
		}
	}
	return p, nil
}

func (e *Executor) runTask(ctx context.Context, trace runlog.Trace, t *task.Task) {
	now := time.Now().UTC()
	t.State = task.StateRunning
	t.Timestamps.StartedAt = &now

	maxAttempts := t.Constraints.MaxRetries + 1
	var lastErr error
	var res Result
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		t.Metrics.Attempts = attempt
		res, lastErr = e.runner.Run(ctx, *t)
		if res.Output != "" {
			t.Logs = append(t.Logs, task.LogEntry{Time: time.Now().UTC(), Level: "info", Message: res.Output})
		}
		if lastErr == nil {
			break
		}
		t.Retries = attempt - 1
		t.Logs = append(t.Logs, task.LogEntry{Time: time.Now().UTC(), Level: "error", Message: lastErr.Error()})
		if ctx.Err() != nil {
			break
		}
	}

	done := time.Now().UTC()
	t.Timestamps.CompletedAt = &done
	t.Metrics.DurationMS = done.Sub(now).Milliseconds()
	t.Metrics.ExitCode = res.ExitCode

	if lastErr != nil {
		t.State = task.StateFailed
		runlog.Emit(e.sink, runlog.Event{
			Level:     runlog.LevelError,
			Component: "EXECUTOR",
			Message:   "task failed",
			TaskID:    t.ID,
			Trace:     trace,
			Payload:   runlog.Payload{Tool: firstTool(*t), DurationMS: t.Metrics.DurationMS, Err: lastErr.Error()},
		})
		return
	}
	t.State = task.StateDone
	runlog.Emit(e.sink, runlog.Event{
		Level:     runlog.LevelInfo,
		Component: "EXECUTOR",
		Message:   "task done",
		TaskID:    t.ID,
		Trace:     trace,
		Payload:   runlog.Payload{Tool: firstTool(*t), DurationMS: t.Metrics.DurationMS},
	})
}

func (e *Executor) markBlocked(trace runlog.Trace, t *task.Task) {
	t.State = task.StateBlocked
	runlog.Emit(e.sink, runlog.Event{
		Level:     runlog.LevelError,
		Component: "EXECUTOR",
		Message:   "task blocked by failed dependency",
		TaskID:    t.ID,
		Trace:     trace,
	})
}

func firstTool(t task.Task) string {
	if len(t.Tools) == 0 {
		return ""
	}
	return t.Tools[0]
}
