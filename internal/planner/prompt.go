package planner

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/planforge/planforge/internal/policy"
)

var placeholderRe = regexp.MustCompile(`\{[^{}]+\}`)

// RenderTemplate replaces every literal {key} occurrence in template
// with the corresponding variable. String values are substituted as-is;
// anything else is JSON-serialized. Keys absent from variables stay in
// the output untouched. Substitution is a single pass over template, so
// placeholder-shaped text inside a variable's value is never expanded.
func RenderTemplate(template string, variables map[string]interface{}) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		value, ok := variables[m[1:len(m)-1]]
		if !ok {
			return m
		}
		switch v := value.(type) {
		case string:
			return v
		default:
			buf, err := json.Marshal(v)
			if err != nil {
				return fmt.Sprintf("%v", v)
			}
			return string(buf)
		}
	})
}

const plannerTemplate = `You are a planning agent that decomposes a task description into an executable plan for independent task runners.

TASK DESCRIPTION: {intent}

AVAILABLE TOOLS (whitelist): {whitelist}

POLICY CONSTRAINTS:
- Maximum task duration: {max_task_duration_sec} seconds
- Maximum retries per task: {max_retries}
- Filesystem mode: {default_fs_mode}
- Network access: {network}

PLANNING RULES:
1. Assign every task a unique "task_id".
2. Use only tools from the whitelist above; each task's "tools" list must be non-empty.
3. Declare a dependency by setting "parent_id" to the id of the task that must finish first. Tasks with no dependency omit "parent_id" or set it to null.
4. Respond with a single JSON array of task objects and nothing else: no prose, no markdown, no explanations.

EXAMPLES:

Input: "compile the project and run its unit tests"
Output:
{example_one}

Input: "download two datasets and merge them into one file"
Output:
{example_two}

Produce the JSON array for the task description above.`

const exampleOne = `[
  {"task_id": "build", "intent": "compile the project", "tools": ["make"], "inputs": {"args": ["build"]}},
  {"task_id": "test", "parent_id": "build", "intent": "run the unit test suite", "tools": ["make"], "inputs": {"args": ["test"]}}
]`

const exampleTwo = `[
  {"task_id": "fetch-a", "intent": "download dataset A", "tools": ["curl"], "inputs": {"args": ["-o", "a.csv", "https://example.com/a.csv"]}},
  {"task_id": "fetch-b", "intent": "download dataset B", "tools": ["curl"], "inputs": {"args": ["-o", "b.csv", "https://example.com/b.csv"]}},
  {"task_id": "merge", "parent_id": "fetch-a", "intent": "merge the downloaded datasets", "tools": ["awk"], "inputs": {"args": ["merge", "a.csv", "b.csv"]}}
]`

// BuildPlannerPrompt composes the planning prompt from the user intent,
// the active tool whitelist and the policy constraints. Pure function of
// its inputs.
func BuildPlannerPrompt(intent string, whitelist []string, pol policy.Policy) string {
	network := "deny"
	if pol.AllowNetwork {
		network = "allow"
	}
	return RenderTemplate(plannerTemplate, map[string]interface{}{
		"intent":                intent,
		"whitelist":             whitelist,
		"max_task_duration_sec": fmt.Sprintf("%d", pol.MaxTaskDurationSec),
		"max_retries":           fmt.Sprintf("%d", pol.MaxRetries),
		"default_fs_mode":       string(pol.DefaultFSMode),
		"network":               network,
		"example_one":           exampleOne,
		"example_two":           exampleTwo,
	})
}
