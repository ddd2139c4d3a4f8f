package planner

import (
	"strings"
	"time"

	"github.com/planforge/planforge/internal/policy"
	"github.com/planforge/planforge/internal/task"
)

// Validate checks every raw record extracted from a generation response
// and materializes the well-formed ones into Task values. Missing
// optional fields are defaulted from pol. The first malformed record
// aborts validation.
func Validate(records interface{}, pol policy.Policy, now time.Time) ([]task.Task, error) {
	list, err := coerceRecordList(records)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, &ValidationError{Index: -1, Field: "tasks", Reason: "is empty"}
	}

	tasks := make([]task.Task, 0, len(list))
	seen := make(map[string]bool, len(list))
	for i, raw := range list {
		record, ok := raw.(map[string]interface{})
		if !ok {
			return nil, &ValidationError{Index: i, Field: "task", Reason: "is not an object"}
		}
		t, err := validateRecord(i, record, pol, now)
		if err != nil {
			return nil, err
		}
		if seen[t.ID] {
			return nil, &ValidationError{Index: i, TaskID: t.ID, Field: "task_id", Reason: "is duplicated"}
		}
		seen[t.ID] = true
		tasks = append(tasks, t)
	}

	for i, t := range tasks {
		if t.ParentID != "" && !seen[t.ParentID] {
			return nil, &ValidationError{Index: i, TaskID: t.ID, Field: "parent_id", Reason: "references an unknown task"}
		}
		if t.ParentID == t.ID {
			return nil, &ValidationError{Index: i, TaskID: t.ID, Field: "parent_id", Reason: "references the task itself"}
		}
	}
	return tasks, nil
}

func coerceRecordList(records interface{}) ([]interface{}, error) {
	switch v := records.(type) {
	case []interface{}:
		return v, nil
	case map[string]interface{}:
		// Some generations wrap the array in an envelope object.
		if inner, ok := v["tasks"].([]interface{}); ok {
			return inner, nil
		}
		return nil, &ValidationError{Index: -1, Field: "tasks", Reason: "is missing from response object"}
	default:
		return nil, &ValidationError{Index: -1, Field: "response", Reason: "is not a task array"}
	}
}

func validateRecord(i int, record map[string]interface{}, pol policy.Policy, now time.Time) (task.Task, error) {
	id, ok := stringField(record, "task_id")
	if !ok || id == "" {
		return task.Task{}, &ValidationError{Index: i, Field: "task_id", Reason: "is missing or empty"}
	}
	intent, ok := stringField(record, "intent")
	if !ok || intent == "" {
		return task.Task{}, &ValidationError{Index: i, TaskID: id, Field: "intent", Reason: "is missing or empty"}
	}
	tools, err := stringSliceField(record, "tools")
	if err != nil || len(tools) == 0 {
		return task.Task{}, &ValidationError{Index: i, TaskID: id, Field: "tools", Reason: "must be a non-empty string array"}
	}

	t := task.Task{
		ID:     id,
		Intent: intent,
		Tools:  tools,
		Level:  3,
		Inputs: task.EmptyInputs(),
		Constraints: task.Constraints{
			MaxDurationSec: pol.MaxTaskDurationSec,
			MaxRetries:     pol.MaxRetries,
			Concurrency:    1,
			Sandbox:        pol.Sandbox(),
		},
		State:      task.StatePlanned,
		Timestamps: task.Timestamps{CreatedAt: now},
	}

	if raw, present := record["parent_id"]; present && raw != nil {
		parent, ok := raw.(string)
		if !ok {
			return task.Task{}, &ValidationError{Index: i, TaskID: id, Field: "parent_id", Reason: "must be a string"}
		}
		t.ParentID = strings.TrimSpace(parent)
	}
	if raw, present := record["level"]; present && raw != nil {
		level, ok := raw.(float64)
		if !ok || level != float64(int(level)) || level < 1 || level > 3 {
			return task.Task{}, &ValidationError{Index: i, TaskID: id, Field: "level", Reason: "must be an integer between 1 and 3"}
		}
		t.Level = int(level)
	}
	if raw, present := record["inputs"]; present && raw != nil {
		inputs, err := decodeInputs(raw)
		if err != nil {
			return task.Task{}, &ValidationError{Index: i, TaskID: id, Field: "inputs", Reason: err.Error()}
		}
		t.Inputs = inputs
	}
	if raw, present := record["constraints"]; present && raw != nil {
		if err := overlayConstraints(&t.Constraints, raw); err != nil {
			return task.Task{}, &ValidationError{Index: i, TaskID: id, Field: "constraints", Reason: err.Error()}
		}
	}
	return t, nil
}

// ValidateWhitelist rejects the batch if any task references a tool
// outside allowed. The first offending task is reported.
func ValidateWhitelist(tasks []task.Task, allowed []string) error {
	set := make(map[string]bool, len(allowed))
	for _, tool := range allowed {
		set[tool] = true
	}
	for _, t := range tasks {
		for _, tool := range t.Tools {
			if !set[tool] {
				return &WhitelistViolationError{TaskID: t.ID, Tool: tool, Allowed: allowed}
			}
		}
	}
	return nil
}

func stringField(record map[string]interface{}, key string) (string, bool) {
	raw, present := record[key]
	if !present {
		return "", false
	}
	s, ok := raw.(string)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(s), true
}

func stringSliceField(record map[string]interface{}, key string) ([]string, error) {
	raw, present := record[key]
	if !present {
		return nil, errNotStringArray
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, errNotStringArray
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil, errNotStringArray
		}
		out = append(out, strings.TrimSpace(s))
	}
	return out, nil
}

var errNotStringArray = &fieldError{"must be a non-empty string array"}

type fieldError struct{ reason string }

func (e *fieldError) Error() string { return e.reason }

func decodeInputs(raw interface{}) (task.Inputs, error) {
	record, ok := raw.(map[string]interface{})
	if !ok {
		return task.Inputs{}, &fieldError{"must be an object"}
	}
	inputs := task.EmptyInputs()
	if v, present := record["args"]; present && v != nil {
		list, ok := v.([]interface{})
		if !ok {
			return task.Inputs{}, &fieldError{"args must be a string array"}
		}
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return task.Inputs{}, &fieldError{"args must be a string array"}
			}
			inputs.Args = append(inputs.Args, s)
		}
	}
	if v, present := record["env"]; present && v != nil {
		m, ok := v.(map[string]interface{})
		if !ok {
			return task.Inputs{}, &fieldError{"env must be a string map"}
		}
		for key, item := range m {
			s, ok := item.(string)
			if !ok {
				return task.Inputs{}, &fieldError{"env must be a string map"}
			}
			inputs.Env[key] = s
		}
	}
	if v, present := record["files"]; present && v != nil {
		m, ok := v.(map[string]interface{})
		if !ok {
			return task.Inputs{}, &fieldError{"files must be a string map"}
		}
		for key, item := range m {
			s, ok := item.(string)
			if !ok {
				return task.Inputs{}, &fieldError{"files must be a string map"}
			}
			inputs.Files[key] = s
		}
	}
	return inputs, nil
}

func overlayConstraints(c *task.Constraints, raw interface{}) error {
	record, ok := raw.(map[string]interface{})
	if !ok {
		return &fieldError{"must be an object"}
	}
	if v, present := record["max_duration_sec"]; present && v != nil {
		n, ok := v.(float64)
		if !ok || n < 1 || n != float64(int(n)) {
			return &fieldError{"max_duration_sec must be a positive integer"}
		}
		c.MaxDurationSec = int(n)
	}
	if v, present := record["max_retries"]; present && v != nil {
		n, ok := v.(float64)
		if !ok || n < 0 || n != float64(int(n)) {
			return &fieldError{"max_retries must be a non-negative integer"}
		}
		c.MaxRetries = int(n)
	}
	if v, present := record["concurrency"]; present && v != nil {
		n, ok := v.(float64)
		if !ok || n < 1 || n != float64(int(n)) {
			return &fieldError{"concurrency must be a positive integer"}
		}
		c.Concurrency = int(n)
	}
	if v, present := record["sandbox"]; present && v != nil {
		sandbox, ok := v.(map[string]interface{})
		if !ok {
			return &fieldError{"sandbox must be an object"}
		}
		if fs, present := sandbox["fs"]; present && fs != nil {
			s, ok := fs.(string)
			if !ok {
				return &fieldError{"sandbox.fs must be a string"}
			}
			mode, err := task.ParseFSMode(s)
			if err != nil {
				return &fieldError{err.Error()}
			}
			c.Sandbox.FS = mode
		}
		if net, present := sandbox["net"]; present && net != nil {
			s, ok := net.(string)
			if !ok {
				return &fieldError{"sandbox.net must be a string"}
			}
			mode, err := task.ParseNetMode(s)
			if err != nil {
				return &fieldError{err.Error()}
			}
			c.Sandbox.Net = mode
		}
	}
	return nil
}
