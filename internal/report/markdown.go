// Package report renders synthesized plans as human-readable markdown.
package report

import (
	"fmt"
	"strings"

	"github.com/planforge/planforge/internal/task"
)

// Markdown renders a plan and its parallel batches as a markdown
// document suitable for a run directory or an API response.
func Markdown(p task.Plan, batches [][]task.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Plan %s\n\n", p.ID)
	fmt.Fprintf(&b, "**Intent:** %s\n\n", p.Intent)
	fmt.Fprintf(&b, "Tasks: %d | Batches: %d | Created: %s\n\n",
		len(p.Tasks), len(batches), p.CreatedAt.Format("2006-01-02 15:04:05 UTC"))

	b.WriteString("## Execution order\n\n")
	b.WriteString("| # | Task | Depends on | Tools | State |\n")
	b.WriteString("|---|------|------------|-------|-------|\n")
	for i, t := range p.Tasks {
		parent := t.ParentID
		if parent == "" {
			parent = "-"
		}
		fmt.Fprintf(&b, "| %d | `%s` | %s | %s | %s |\n",
			i+1, t.ID, parent, strings.Join(t.Tools, ", "), t.State)
	}
	b.WriteString("\n")

	b.WriteString("## Parallel batches\n\n")
	for i, batch := range batches {
		ids := make([]string, 0, len(batch))
		for _, t := range batch {
			ids = append(ids, "`"+t.ID+"`")
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.Join(ids, ", "))
	}
	b.WriteString("\n")

	b.WriteString("## Tasks\n\n")
	for _, t := range p.Tasks {
		fmt.Fprintf(&b, "### %s\n\n", t.ID)
		fmt.Fprintf(&b, "%s\n\n", t.Intent)
		fmt.Fprintf(&b, "- Level: %d\n", t.Level)
		fmt.Fprintf(&b, "- Tools: %s\n", strings.Join(t.Tools, ", "))
		fmt.Fprintf(&b, "- Limits: %ds, %d retries, sandbox fs=%s net=%s\n",
			t.Constraints.MaxDurationSec, t.Constraints.MaxRetries,
			t.Constraints.Sandbox.FS, t.Constraints.Sandbox.Net)
		if t.Metrics.Attempts > 0 {
			fmt.Fprintf(&b, "- Result: %s after %d attempt(s) in %dms\n",
				t.State, t.Metrics.Attempts, t.Metrics.DurationMS)
		}
		b.WriteString("\n")
	}
	return b.String()
}
