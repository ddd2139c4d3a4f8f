package planner

import (
	"fmt"
	"strings"
)

// excerptLimit bounds how much of a generation response an
// ExtractionError may carry, so logs never reproduce full model output.
const excerptLimit = 200

// ExtractionError reports that no parseable structured value was found
// in the generation output. Excerpt is capped at excerptLimit runes.
type ExtractionError struct {
	Excerpt string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("no structured data found in generation output (excerpt: %q)", e.Excerpt)
}

// ValidationError reports a raw task record that is missing a required
// field or carries a malformed one. Index is the record's position in
// the extracted array, or -1 when the response as a whole has the wrong
// shape.
type ValidationError struct {
	Index  int
	TaskID string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	id := e.TaskID
	if id == "" {
		id = "?"
	}
	if e.Index < 0 {
		return fmt.Sprintf("invalid plan response: field %q %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid task record %d (id %s): field %q %s", e.Index, id, e.Field, e.Reason)
}

// WhitelistViolationError reports the first task that references a tool
// outside the active whitelist. A single violation invalidates the
// whole batch.
type WhitelistViolationError struct {
	TaskID  string
	Tool    string
	Allowed []string
}

func (e *WhitelistViolationError) Error() string {
	return fmt.Sprintf("task %s uses non-whitelisted tool %q (allowed: %s)",
		e.TaskID, e.Tool, strings.Join(e.Allowed, ", "))
}

// CycleDetectedError reports that topological sorting could not place
// every task. TaskIDs lists the tasks absent from the sorted result.
type CycleDetectedError struct {
	TaskIDs []string
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("dependency cycle detected; unordered tasks: %s", strings.Join(e.TaskIDs, ", "))
}

// ConsistencyError is a defensive internal failure raised when batch
// derivation cannot make progress. It should be unreachable given a
// correct topological order.
type ConsistencyError struct {
	Remaining []string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("batch derivation stalled; unschedulable tasks: %s", strings.Join(e.Remaining, ", "))
}

func truncateExcerpt(s string) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= excerptLimit {
		return s
	}
	return string(runes[:excerptLimit])
}
