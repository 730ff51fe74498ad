// Package workflow loads and validates declarative workflow definitions:
// the artifact map, ordered stages and the milestone/baseline policies.
package workflow

import (
	"fmt"
	"os"

	"github.com/lucasnoah/stagegate/internal/finding"
	"github.com/lucasnoah/stagegate/internal/fsutil"
)

// Load reads the definition at path and validates it. The returned error is
// reserved for structural failures (unreadable file, non-mapping root); the
// caller decides how to surface it.
func Load(path string) (finding.List, *Spec, error) {
	def, err := fsutil.ReadYAMLObject(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading workflow: %w", err)
	}
	fs, spec := Validate(def, path)
	return fs, spec, nil
}

// LoadSpec loads a definition for commands that operate on it rather than
// audit it. Validation findings are returned alongside the spec.
func LoadSpec(path string) (*Spec, finding.List, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil, fmt.Errorf("workflow file not found: %s", path)
	}
	fs, spec, err := Load(path)
	if err != nil {
		return nil, nil, err
	}
	return spec, fs, nil
}
