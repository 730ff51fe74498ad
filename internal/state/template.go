package state

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/lucasnoah/stagegate/internal/fsutil"
)

// Template is the expected field set of a state record.
type Template struct {
	Path   string
	Fields []string
	Found  bool
}

// LoadTemplate reads the state template. A missing file yields an empty
// template with Found unset; any other failure is returned.
func LoadTemplate(path string) (*Template, error) {
	obj, err := fsutil.ReadJSONObject(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Template{Path: path}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state template: %w", err)
	}
	fields := obj.Keys()
	sort.Strings(fields)
	return &Template{Path: path, Fields: fields, Found: true}, nil
}

// NewTemplate builds a template from a field list.
func NewTemplate(fields ...string) *Template {
	f := append([]string(nil), fields...)
	sort.Strings(f)
	return &Template{Fields: f, Found: true}
}
