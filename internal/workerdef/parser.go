package workerdef

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"
)

//go:embed schema/workers.schema.json
var schemaBytes []byte

//go:embed defaults.yaml
var defaultsYAML []byte

// InvalidError lists the schema violations of a definitions document.
type InvalidError struct {
	Source string
	Issues []ValidationIssue
}

func (e *InvalidError) Error() string {
	lines := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		lines[i] = "  " + issue.String()
	}
	return fmt.Sprintf("invalid worker definitions in %s:\n%s", e.Source, strings.Join(lines, "\n"))
}

// Parse validates and decodes a definitions document. source names it in
// errors.
func Parse(data []byte, source string) (*File, error) {
	res, err := Validate(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	if !res.Valid {
		return nil, &InvalidError{Source: source, Issues: res.Issues}
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", source, err)
	}
	seen := map[string]bool{}
	for _, w := range f.Workers {
		if seen[w.Name] {
			return nil, fmt.Errorf("%s: duplicate worker %q", source, w.Name)
		}
		seen[w.Name] = true
	}
	return &f, nil
}

// Defaults returns the embedded definitions.
func Defaults() *File {
	f, err := Parse(defaultsYAML, "embedded defaults")
	if err != nil {
		panic(err)
	}
	return f
}

// DefaultsYAML returns the embedded definitions document.
func DefaultsYAML() []byte {
	return append([]byte(nil), defaultsYAML...)
}

// Load reads the definitions at path. A missing file yields the defaults;
// usingDefaults reports that case.
func Load(path string) (f *File, usingDefaults bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Defaults(), true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", path, err)
	}
	f, err = Parse(data, path)
	return f, false, err
}
