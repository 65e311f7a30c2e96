package workerdef

import (
	"strings"

	"github.com/retrosoft-labs/retrosoft/internal/supervisor"
)

// FileName is the definitions file inside the home directory.
const FileName = "workers.yaml"

// SelfPlaceholder expands to the running executable.
const SelfPlaceholder = "{{self}}"

// File is a parsed workers.yaml.
type File struct {
	Workers []Worker `yaml:"workers"`
}

// Worker is one declared worker.
type Worker struct {
	Name    string   `yaml:"name"`
	Kind    string   `yaml:"kind"`
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
	Script  string   `yaml:"script,omitempty"`
	Task    string   `yaml:"task,omitempty"`
	// Toggle is the boolean config key that enables the worker. Workers
	// without one are always enabled.
	Toggle string `yaml:"toggle,omitempty"`
}

// Expand replaces SelfPlaceholder with self.
func Expand(s, self string) string {
	return strings.ReplaceAll(s, SelfPlaceholder, self)
}

// Definition converts w into a supervisor definition. enabled reports
// whether a toggle key is on.
func (w Worker) Definition(self string, enabled func(key string) bool) supervisor.Definition {
	args := make([]string, len(w.Args))
	for i, a := range w.Args {
		args[i] = Expand(a, self)
	}
	return supervisor.Definition{
		Name:     w.Name,
		Kind:     supervisor.Kind(w.Kind),
		Command:  Expand(w.Command, self),
		Args:     args,
		Script:   Expand(w.Script, self),
		Task:     w.Task,
		Disabled: w.Toggle != "" && enabled != nil && !enabled(w.Toggle),
	}
}

// Definitions converts every worker in f.
func (f *File) Definitions(self string, enabled func(key string) bool) []supervisor.Definition {
	defs := make([]supervisor.Definition, len(f.Workers))
	for i, w := range f.Workers {
		defs[i] = w.Definition(self, enabled)
	}
	return defs
}

// ByToggle returns the names of workers controlled by each toggle key.
func (f *File) ByToggle() map[string][]string {
	out := map[string][]string{}
	for _, w := range f.Workers {
		if w.Toggle != "" {
			out[w.Toggle] = append(out[w.Toggle], w.Name)
		}
	}
	return out
}
