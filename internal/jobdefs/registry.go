// Package jobdefs loads the manifest of admittable report jobs. Only
// jobs declared here can be submitted; the definition carries the
// command to run, the typed argument specs, and the scheduling knobs.
package jobdefs

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ArgType names a validated argument type. Unvalidated passthrough is
// not an option: every argument a job accepts must declare one.
type ArgType string

const (
	ArgDate      ArgType = "date"
	ArgEnum      ArgType = "enum"
	ArgInt       ArgType = "int"
	ArgEmailList ArgType = "email_list"
	ArgDocID     ArgType = "doc_id"
	ArgText      ArgType = "text"
)

// ArgSpec declares one argument a job accepts.
type ArgSpec struct {
	Name     string   `yaml:"name"`
	Type     ArgType  `yaml:"type"`
	Required bool     `yaml:"required"`
	Enum     []string `yaml:"enum,omitempty"`
	Min      int      `yaml:"min,omitempty"`
	Max      int      `yaml:"max,omitempty"`
}

// Definition is one admittable job.
type Definition struct {
	Name    string    `yaml:"name"`
	Command string    `yaml:"command"`
	Args    []ArgSpec `yaml:"args,omitempty"`

	// Capability required to submit; empty means any authenticated user.
	Capability string `yaml:"capability,omitempty"`

	// Class is the serialization class; ClassLimit bounds how many jobs
	// of the class run concurrently on one host (default 1).
	Class      string `yaml:"class,omitempty"`
	ClassLimit int    `yaml:"class_limit,omitempty"`

	// Inline jobs serve their artifact from the status page and do not
	// require notification recipients.
	Inline bool `yaml:"inline,omitempty"`

	// NeedsApproval pauses the job in waiting_approval before its
	// artifact is published; an operator must approve or fail it.
	NeedsApproval bool `yaml:"needs_approval,omitempty"`

	// Host pins the job to a machine with required native dependencies.
	Host string `yaml:"host,omitempty"`

	TimeoutStr string        `yaml:"timeout,omitempty"`
	Timeout    time.Duration `yaml:"-"`
}

// Registry holds the loaded manifest.
type Registry struct {
	defs  map[string]Definition
	order []string
}

type manifest struct {
	Jobs []Definition `yaml:"jobs"`
}

// Load reads and validates a manifest file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

// Parse validates manifest bytes.
func Parse(data []byte) (*Registry, error) {
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Jobs) == 0 {
		return nil, fmt.Errorf("manifest declares no jobs")
	}

	r := &Registry{defs: make(map[string]Definition, len(m.Jobs))}
	for i, def := range m.Jobs {
		if err := validateDefinition(&def); err != nil {
			return nil, fmt.Errorf("job %d (%q): %w", i, def.Name, err)
		}
		if _, dup := r.defs[def.Name]; dup {
			return nil, fmt.Errorf("duplicate job name %q", def.Name)
		}
		r.defs[def.Name] = def
		r.order = append(r.order, def.Name)
	}
	return r, nil
}

func validateDefinition(def *Definition) error {
	if def.Name == "" {
		return fmt.Errorf("name is required")
	}
	if def.Command == "" {
		return fmt.Errorf("command is required")
	}
	if def.Class == "" {
		def.Class = "default"
	}
	if def.ClassLimit < 0 {
		return fmt.Errorf("class_limit must not be negative")
	}
	if def.ClassLimit == 0 {
		def.ClassLimit = 1
	}
	if def.TimeoutStr != "" {
		d, err := time.ParseDuration(def.TimeoutStr)
		if err != nil {
			return fmt.Errorf("invalid timeout: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("timeout must be positive")
		}
		def.Timeout = d
	}

	seen := make(map[string]bool, len(def.Args))
	for _, arg := range def.Args {
		if arg.Name == "" {
			return fmt.Errorf("argument with empty name")
		}
		if seen[arg.Name] {
			return fmt.Errorf("duplicate argument %q", arg.Name)
		}
		seen[arg.Name] = true
		switch arg.Type {
		case ArgDate, ArgEmailList, ArgDocID, ArgText:
		case ArgEnum:
			if len(arg.Enum) == 0 {
				return fmt.Errorf("argument %q: enum type requires values", arg.Name)
			}
		case ArgInt:
			if arg.Max != 0 && arg.Min > arg.Max {
				return fmt.Errorf("argument %q: min exceeds max", arg.Name)
			}
		default:
			return fmt.Errorf("argument %q: unknown type %q", arg.Name, arg.Type)
		}
	}
	return nil
}

// Get returns the definition for a job name.
func (r *Registry) Get(name string) (Definition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// Names returns the job names in manifest order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// ClassLimits aggregates the per-class concurrency bounds declared by
// the manifest. When two jobs disagree about a class the larger bound
// wins; claims enforce per-row limits anyway.
func (r *Registry) ClassLimits() map[string]int {
	limits := make(map[string]int)
	for _, name := range r.order {
		def := r.defs[name]
		if def.ClassLimit > limits[def.Class] {
			limits[def.Class] = def.ClassLimit
		}
	}
	return limits
}
