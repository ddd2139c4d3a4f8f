package planner

import (
	"errors"
	"reflect"
	"testing"
)

func TestExtractDirectArray(t *testing.T) {
	v, err := Extract(`[{"task_id":"a"}]`)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	list, ok := v.([]interface{})
	if !ok || len(list) != 1 {
		t.Fatalf("unexpected value: %#v", v)
	}
}

func TestExtractFencedBlock(t *testing.T) {
	response := "Here is the plan you asked for:\n```json\n[{\"task_id\": \"a\"}]\n```\nLet me know if you need changes."
	v, err := Extract(response)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if _, ok := v.([]interface{}); !ok {
		t.Fatalf("unexpected value: %#v", v)
	}
}

func TestExtractEmbeddedArray(t *testing.T) {
	response := `The plan is [{"task_id": "a"}, {"task_id": "b", "parent_id": "a"}] as requested.`
	v, err := Extract(response)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	list, ok := v.([]interface{})
	if !ok || len(list) != 2 {
		t.Fatalf("unexpected value: %#v", v)
	}
}

func TestExtractEmbeddedObject(t *testing.T) {
	response := `Result: {"tasks": []} done.`
	v, err := Extract(response)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if _, ok := v.(map[string]interface{}); !ok {
		t.Fatalf("unexpected value: %#v", v)
	}
}

// The same payload must extract identically no matter how the model
// wrapped it.
func TestExtractIdempotentAcrossWrappings(t *testing.T) {
	payload := `[{"task_id":"a","intent":"x","tools":["echo"]}]`
	wrappings := []string{
		payload,
		"```json\n" + payload + "\n```",
		"```\n" + payload + "\n```",
		"Sure! Here it is: " + payload + " enjoy.",
	}
	var first interface{}
	for i, response := range wrappings {
		v, err := Extract(response)
		if err != nil {
			t.Fatalf("wrapping %d failed: %v", i, err)
		}
		if i == 0 {
			first = v
			continue
		}
		if !reflect.DeepEqual(first, v) {
			t.Fatalf("wrapping %d extracted %#v, want %#v", i, v, first)
		}
	}
}

func TestExtractRejectsScalars(t *testing.T) {
	if _, err := Extract(`"just a string"`); err == nil {
		t.Fatal("scalar response should not extract")
	}
	if _, err := Extract(`42`); err == nil {
		t.Fatal("numeric response should not extract")
	}
}

func TestExtractNoJSON(t *testing.T) {
	_, err := Extract("no json here at all")
	var extractErr *ExtractionError
	if !errors.As(err, &extractErr) {
		t.Fatalf("want ExtractionError, got %v", err)
	}
	if extractErr.Excerpt != "no json here at all" {
		t.Fatalf("unexpected excerpt: %q", extractErr.Excerpt)
	}
}

func TestExtractExcerptBounded(t *testing.T) {
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	_, err := Extract(string(long))
	var extractErr *ExtractionError
	if !errors.As(err, &extractErr) {
		t.Fatalf("want ExtractionError, got %v", err)
	}
	if n := len([]rune(extractErr.Excerpt)); n > 200 {
		t.Fatalf("excerpt not truncated: %d runes", n)
	}
}
