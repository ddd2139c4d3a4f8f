package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/planforge/planforge/internal/policy"
	"github.com/planforge/planforge/internal/task"
)

// Result is what a runner reports for one attempt.
type Result struct {
	Output   string
	ExitCode int
}

// ToolRunner executes one task attempt. Implementations must respect
// ctx cancellation.
type ToolRunner interface {
	Run(ctx context.Context, t task.Task) (Result, error)
}

// ShellRunner executes a task's first tool as a local process with the
// task's args and env. The tool must be on the policy whitelist; the
// sandbox settings are exported to the process environment for
// wrapper scripts to honor.
type ShellRunner struct {
	Policy  policy.Policy
	WorkDir string
}

// Run executes the task once and captures combined output.
func (r ShellRunner) Run(ctx context.Context, t task.Task) (Result, error) {
	if len(t.Tools) == 0 {
		return Result{ExitCode: -1}, fmt.Errorf("task %s has no tool", t.ID)
	}
	tool := t.Tools[0]
	if !r.Policy.Allows(tool) {
		return Result{ExitCode: -1}, fmt.Errorf("tool %q is not whitelisted", tool)
	}

	ctx, cancel := context.WithTimeout(ctx, t.Constraints.MaxDuration())
	defer cancel()

	cmd := exec.CommandContext(ctx, tool, t.Inputs.Args...)
	cmd.Dir = r.WorkDir
	env := make([]string, 0, len(t.Inputs.Env)+3)
	for k, v := range t.Inputs.Env {
		env = append(env, k+"="+v)
	}
	env = append(env,
		"PLANFORGE_SANDBOX_FS="+string(t.Constraints.Sandbox.FS),
		"PLANFORGE_SANDBOX_NET="+string(t.Constraints.Sandbox.Net),
		"PLANFORGE_CONCURRENCY="+strconv.Itoa(t.Constraints.Concurrency),
	)
	cmd.Env = env

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	out := strings.TrimRight(buf.String(), "\n")
	if err != nil {
		code := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
		return Result{Output: out, ExitCode: code}, fmt.Errorf("run %s: %w", tool, err)
	}
	return Result{Output: out, ExitCode: 0}, nil
}
