package executor

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/planforge/planforge/internal/runlog"
	"github.com/planforge/planforge/internal/task"
)

type fakeRunner struct {
	mu      sync.Mutex
	order   []string
	failIDs map[string]int // task id -> attempts that should fail
	active  int32
	peak    int32
}

func (f *fakeRunner) Run(_ context.Context, t task.Task) (Result, error) {
	cur := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		peak := atomic.LoadInt32(&f.peak)
		if cur <= peak || atomic.CompareAndSwapInt32(&f.peak, peak, cur) {
			break
		}
	}

	f.mu.Lock()
	f.order = append(f.order, t.ID)
	remaining := f.failIDs[t.ID]
	if remaining > 0 {
		f.failIDs[t.ID] = remaining - 1
	}
	f.mu.Unlock()

	if remaining > 0 {
		return Result{ExitCode: 1}, fmt.Errorf("task %s boom", t.ID)
	}
	return Result{Output: "ok", ExitCode: 0}, nil
}

func planFixture() task.Plan {
	mk := func(id, parent string) task.Task {
		return task.Task{
			ID: id, ParentID: parent, Intent: id, Tools: []string{"echo"},
			State:       task.StatePlanned,
			Constraints: task.Constraints{MaxDurationSec: 5, MaxRetries: 1, Concurrency: 1},
		}
	}
	return task.Plan{
		ID:     "p1",
		Intent: "fixture",
		Tasks:  []task.Task{mk("a", ""), mk("b", "a"), mk("c", "a")},
	}
}

func newTestExecutor(t *testing.T, r ToolRunner, concurrent int) *Executor {
	t.Helper()
	e, err := New(r, concurrent, nil, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	return e
}

func stateOf(p task.Plan, id string) task.State {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t.State
		}
	}
	return ""
}

func TestExecuteHappyPath(t *testing.T) {
	r := &fakeRunner{failIDs: map[string]int{}}
	e := newTestExecutor(t, r, 4)

	out, err := e.Execute(context.Background(), runlog.Trace{RunID: "r"}, planFixture())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if stateOf(out, id) != task.StateDone {
			t.Fatalf("task %s not done: %s", id, stateOf(out, id))
		}
	}
	if r.order[0] != "a" {
		t.Fatalf("dependency order violated: %v", r.order)
	}
	for _, tk := range out.Tasks {
		if tk.Metrics.Attempts != 1 || tk.Timestamps.CompletedAt == nil {
			t.Fatalf("metrics not recorded: %+v", tk)
		}
	}
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	// One failure, MaxRetries 1, so the second attempt succeeds.
	r := &fakeRunner{failIDs: map[string]int{"a": 1}}
	e := newTestExecutor(t, r, 1)

	out, err := e.Execute(context.Background(), runlog.Trace{RunID: "r"}, planFixture())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if stateOf(out, "a") != task.StateDone {
		t.Fatalf("task a should recover: %s", stateOf(out, "a"))
	}
	for _, tk := range out.Tasks {
		if tk.ID == "a" && tk.Metrics.Attempts != 2 {
			t.Fatalf("want 2 attempts, got %d", tk.Metrics.Attempts)
		}
	}
}

func TestExecuteFailureBlocksDescendants(t *testing.T) {
	// Fails both attempts.
	r := &fakeRunner{failIDs: map[string]int{"a": 2}}
	e := newTestExecutor(t, r, 2)

	out, err := e.Execute(context.Background(), runlog.Trace{RunID: "r"}, planFixture())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if stateOf(out, "a") != task.StateFailed {
		t.Fatalf("task a should fail: %s", stateOf(out, "a"))
	}
	if stateOf(out, "b") != task.StateBlocked || stateOf(out, "c") != task.StateBlocked {
		t.Fatalf("children not blocked: b=%s c=%s", stateOf(out, "b"), stateOf(out, "c"))
	}
}

func TestExecuteConcurrencyCap(t *testing.T) {
	mk := func(id string) task.Task {
		return task.Task{
			ID: id, Intent: id, Tools: []string{"echo"},
			State:       task.StatePlanned,
			Constraints: task.Constraints{MaxDurationSec: 5},
		}
	}
	p := task.Plan{ID: "p", Tasks: []task.Task{mk("a"), mk("b"), mk("c"), mk("d")}}

	r := &fakeRunner{failIDs: map[string]int{}}
	e := newTestExecutor(t, r, 2)
	if _, err := e.Execute(context.Background(), runlog.Trace{RunID: "r"}, p); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if peak := atomic.LoadInt32(&r.peak); peak > 2 {
		t.Fatalf("concurrency cap exceeded: %d", peak)
	}
}

func TestExecuteTaskConcurrencyReservesSlots(t *testing.T) {
	mk := func(id string) task.Task {
		return task.Task{
			ID: id, Intent: id, Tools: []string{"echo"},
			State:       task.StatePlanned,
			Constraints: task.Constraints{MaxDurationSec: 5, Concurrency: 2},
		}
	}
	// Each task reserves the whole 2-slot pool, so the batch serializes.
	p := task.Plan{ID: "p", Tasks: []task.Task{mk("a"), mk("b"), mk("c")}}

	r := &fakeRunner{failIDs: map[string]int{}}
	e := newTestExecutor(t, r, 2)
	out, err := e.Execute(context.Background(), runlog.Trace{RunID: "r"}, p)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if peak := atomic.LoadInt32(&r.peak); peak != 1 {
		t.Fatalf("tasks reserving the full pool should serialize: peak %d", peak)
	}
	for _, tk := range out.Tasks {
		if tk.State != task.StateDone {
			t.Fatalf("task %s not done: %s", tk.ID, tk.State)
		}
	}
}
