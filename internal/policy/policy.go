package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/planforge/planforge/internal/task"
)

//go:embed policy_schema.json
var policySchemaJSON string

// Policy is the subset of run configuration the plan pipeline consumes:
// task defaulting limits, sandbox defaults and the tool whitelist.
type Policy struct {
	MaxTaskDurationSec int         `json:"max_task_duration_sec"`
	DefaultFSMode      task.FSMode `json:"default_fs_mode"`
	AllowNetwork       bool        `json:"allow_network"`
	MaxRetries         int         `json:"max_retries"`
	WhitelistTools     []string    `json:"whitelist_tools"`
}

// Sandbox returns the default sandbox settings derived from the policy.
func (p Policy) Sandbox() task.Sandbox {
	net := task.NetDeny
	if p.AllowNetwork {
		net = task.NetAllow
	}
	return task.Sandbox{FS: p.DefaultFSMode, Net: net}
}

// Allows reports whether tool is on the whitelist.
func (p Policy) Allows(tool string) bool {
	for _, w := range p.WhitelistTools {
		if w == tool {
			return true
		}
	}
	return false
}

// Validate checks the policy for internally consistent values.
func (p Policy) Validate() error {
	if p.MaxTaskDurationSec <= 0 {
		return fmt.Errorf("policies.max_task_duration_sec must be > 0")
	}
	if _, err := task.ParseFSMode(string(p.DefaultFSMode)); err != nil {
		return fmt.Errorf("policies.default_fs_mode: %w", err)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("retries.max cannot be negative")
	}
	if len(p.WhitelistTools) == 0 {
		return fmt.Errorf("whitelist_tools must not be empty")
	}
	for _, t := range p.WhitelistTools {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("whitelist_tools contains an empty tool name")
		}
	}
	return nil
}

var (
	compileOnce  sync.Once
	policySchema *jsonschema.Schema
	compileErr   error
)

// Schema returns the compiled JSON Schema for policy documents.
func Schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("policy_schema.json", strings.NewReader(policySchemaJSON)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile("policy_schema.json")
		if err != nil {
			compileErr = fmt.Errorf("compile policy schema: %w", err)
			return
		}
		policySchema = schema
	})
	return policySchema, compileErr
}

// policyFile is the on-disk YAML shape.
type policyFile struct {
	Policies struct {
		MaxTaskDurationSec int    `yaml:"max_task_duration_sec"`
		DefaultFSMode      string `yaml:"default_fs_mode"`
		AllowNetwork       bool   `yaml:"allow_network"`
	} `yaml:"policies"`
	Retries struct {
		Max int `yaml:"max"`
	} `yaml:"retries"`
	WhitelistTools []string `yaml:"whitelist_tools"`
}

// LoadFile reads a YAML policy document, validates it against the
// embedded schema and returns the resulting Policy.
func LoadFile(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	return Parse(data)
}

// Parse validates and decodes a YAML policy document.
func Parse(data []byte) (Policy, error) {
	var generic interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	// Round-trip through JSON so schema validation sees JSON-typed values.
	buf, err := json.Marshal(generic)
	if err != nil {
		return Policy{}, fmt.Errorf("normalize policy: %w", err)
	}
	var doc interface{}
	if err := json.NewDecoder(bytes.NewReader(buf)).Decode(&doc); err != nil {
		return Policy{}, fmt.Errorf("normalize policy: %w", err)
	}
	schema, err := Schema()
	if err != nil {
		return Policy{}, err
	}
	if err := schema.Validate(doc); err != nil {
		return Policy{}, fmt.Errorf("policy does not match schema: %w", err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return Policy{}, fmt.Errorf("decode policy: %w", err)
	}
	pol := Policy{
		MaxTaskDurationSec: pf.Policies.MaxTaskDurationSec,
		DefaultFSMode:      task.FSMode(pf.Policies.DefaultFSMode),
		AllowNetwork:       pf.Policies.AllowNetwork,
		MaxRetries:         pf.Retries.Max,
		WhitelistTools:     pf.WhitelistTools,
	}
	if err := pol.Validate(); err != nil {
		return Policy{}, err
	}
	return pol, nil
}
