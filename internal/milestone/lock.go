// Package milestone manages content-addressed milestone locks: the lock
// record codec, the enforcement decision, the state/lock/workspace
// consistency check and the lock lifecycle engine.
package milestone

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/lucasnoah/stagegate/internal/fsutil"
	"github.com/lucasnoah/stagegate/internal/workflow"
)

// SchemaVersion is written into every new lock record.
const SchemaVersion = 1

// Source types recorded in a lock.
const (
	SourceArtifacts = "artifacts"
	SourceArchive   = "archive"
)

// ErrNoFiles is returned by ReadRecord when the lock parses but carries no
// files mapping.
var ErrNoFiles = errors.New("lock missing files mapping")

// Lock is the persisted lock record. Field order matches the on-disk layout.
type Lock struct {
	SchemaVersion int                            `yaml:"schema_version"`
	WorkflowPath  string                         `yaml:"workflow_path"`
	MilestoneID   string                         `yaml:"milestone_id"`
	CreatedAt     string                         `yaml:"created_at"`
	Source        Source                         `yaml:"source"`
	ArtifactsDir  string                         `yaml:"artifacts_dir"`
	Keys          []workflow.ArtifactKey         `yaml:"keys"`
	Files         map[workflow.ArtifactKey]Entry `yaml:"files"`
}

// Source describes where the locked copies were taken from.
type Source struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

// Entry records one locked artifact.
type Entry struct {
	Artifact   string `yaml:"artifact"`
	LockedPath string `yaml:"locked_path"`
	SHA256     string `yaml:"sha256"`
}

// Record is a lock file as read back from disk. Lock files are plain YAML
// that people edit by hand, so entries stay raw and are interpreted per key.
type Record struct {
	Path        string
	MilestoneID string
	Keys        []workflow.ArtifactKey
	Files       fsutil.Object
}

// ReadRecord loads the lock at path. It fails when the file cannot be read,
// is not a YAML mapping, or has no files mapping (ErrNoFiles).
func ReadRecord(path string) (*Record, error) {
	obj, err := fsutil.ReadYAMLObject(path)
	if err != nil {
		return nil, err
	}
	files, ok := obj.Object("files")
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoFiles, path)
	}

	rec := &Record{Path: path, Files: files}
	if id, ok := obj.NonBlank("milestone_id"); ok {
		rec.MilestoneID = id
	}
	if list, ok := fsutil.AsList(obj["keys"]); ok {
		for _, k := range fsutil.StringList(list) {
			rec.Keys = append(rec.Keys, workflow.ArtifactKey(k))
		}
	}
	return rec, nil
}

// FileKeys returns the keys of the files mapping: those listed in the
// record's keys first, in that order, then the rest sorted.
func (r *Record) FileKeys() []workflow.ArtifactKey {
	out := make([]workflow.ArtifactKey, 0, len(r.Files))
	seen := make(map[string]bool, len(r.Files))
	for _, k := range r.Keys {
		if r.Files.Has(string(k)) && !seen[string(k)] {
			out = append(out, k)
			seen[string(k)] = true
		}
	}
	rest := make([]string, 0, len(r.Files))
	for k := range r.Files {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		out = append(out, workflow.ArtifactKey(k))
	}
	return out
}

// rawEntry is a files entry with each field's validity tracked separately.
type rawEntry struct {
	Entry
	ArtifactSet bool
	PathValid   bool
	HashValid   bool
}

// entry returns the files entry for key, or false when it is absent or not
// a mapping.
func (r *Record) entry(key workflow.ArtifactKey) (rawEntry, bool) {
	obj, ok := r.Files.Object(string(key))
	if !ok {
		return rawEntry{}, false
	}
	var e rawEntry
	e.Artifact, e.ArtifactSet = obj.String("artifact")
	e.LockedPath, e.PathValid = obj.NonBlank("locked_path")
	e.SHA256, e.HashValid = obj.NonBlank("sha256")
	e.SHA256 = strings.ToLower(strings.TrimSpace(e.SHA256))
	return e, true
}

// WriteLock persists lock at path.
func WriteLock(path string, lock *Lock) error {
	if err := fsutil.WriteYAML(path, lock); err != nil {
		return fmt.Errorf("writing lock: %w", err)
	}
	return nil
}

// ReadActive returns the milestone id held by the pointer file, or "" when
// the pointer is missing or blank.
func ReadActive(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading active pointer: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteActive points the active-milestone pointer at id.
func WriteActive(path, id string) error {
	if err := fsutil.WriteAtomic(path, []byte(id+"\n")); err != nil {
		return fmt.Errorf("writing active pointer: %w", err)
	}
	return nil
}

// ValidID reports whether id can name a lock directory.
func ValidID(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}
