// Package fsutil holds the file-system primitives every store is built on:
// repo-relative path resolution, size checks, streamed content hashing,
// atomic writes and JSON/YAML object codecs.
package fsutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// hashChunkSize bounds memory use while hashing regardless of file size.
const hashChunkSize = 1 << 20

// Resolve returns p unchanged when it is absolute, otherwise p joined onto root.
func Resolve(root, p string) string {
	p = filepath.FromSlash(p)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}

// Rel returns path relative to root in slash form, or path itself when it
// does not live under root.
func Rel(path, root string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return filepath.ToSlash(rel)
}

// SamePath reports whether a and b name the same location after cleaning and
// symlink resolution (falling back to the cleaned absolute path).
func SamePath(a, b string) bool {
	return canonical(a) == canonical(b)
}

func canonical(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = filepath.Clean(p)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// NonEmpty reports whether path is a regular file with at least one byte.
func NonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}

// HashFile returns the hex sha256 digest of the file at path, reading it in
// fixed-size chunks.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.CopyBuffer(h, f, make([]byte, hashChunkSize)); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteAtomic writes data to a file atomically by writing to a temp file
// in the same directory, then renaming.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		if tmpName != "" {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmpName, path, err)
	}
	tmpName = ""
	return nil
}

// CopyFile copies src to dst atomically and carries over the source
// modification time, so staleness checks see the original production time.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			os.Remove(tmpName)
		}
	}()

	if _, err := io.CopyBuffer(tmp, in, make([]byte, hashChunkSize)); err != nil {
		tmp.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmpName, dst, err)
	}
	tmpName = ""

	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("chtimes %s: %w", dst, err)
	}
	return nil
}

// WriteJSONObject writes obj to path atomically with its top-level keys in
// order; keys missing from order follow, sorted.
func WriteJSONObject(path string, obj Object, order []string) error {
	keys := make([]string, 0, len(obj))
	seen := make(map[string]bool, len(obj))
	for _, k := range order {
		if _, ok := obj[k]; ok && !seen[k] {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range obj {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	keys = append(keys, rest...)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := encodeJSON(k, "")
		if err != nil {
			return err
		}
		value, err := encodeJSON(obj[k], "  ")
		if err != nil {
			return err
		}
		buf.WriteString("\n  ")
		buf.Write(name)
		buf.WriteString(": ")
		buf.Write(value)
	}
	if len(keys) > 0 {
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	return WriteAtomic(path, buf.Bytes())
}

func encodeJSON(v interface{}, prefix string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent(prefix, "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ReplaceDir moves the staged directory into place at dst, then runs commit.
// An existing dst is set aside first and restored when the move or commit
// fails, and removed once commit succeeds.
func ReplaceDir(staged, dst string, commit func() error) error {
	backup := ""
	if IsDir(dst) {
		backup = dst + ".old"
		if err := os.RemoveAll(backup); err != nil {
			return fmt.Errorf("remove %s: %w", backup, err)
		}
		if err := os.Rename(dst, backup); err != nil {
			return fmt.Errorf("rename %s -> %s: %w", dst, backup, err)
		}
	}
	restore := func() {
		os.RemoveAll(dst)
		if backup != "" {
			os.Rename(backup, dst)
		}
	}

	if err := os.Rename(staged, dst); err != nil {
		restore()
		return fmt.Errorf("rename %s -> %s: %w", staged, dst, err)
	}
	if err := commit(); err != nil {
		restore()
		return err
	}
	if backup != "" {
		os.RemoveAll(backup)
	}
	return nil
}

// WriteYAML writes v as YAML to path atomically.
func WriteYAML(path string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	return WriteAtomic(path, data)
}

// ReadJSONObject reads a JSON file whose root must be an object.
func ReadJSONObject(path string) (Object, error) {
	obj, _, err := ReadJSONDocument(path)
	return obj, err
}

// ReadJSONDocument reads a JSON file whose root must be an object and also
// returns its top-level keys in file order. Anything after the root value
// other than whitespace is an error.
func ReadJSONDocument(path string) (Object, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	// UseNumber keeps numeric fields byte-stable across a read-modify-write.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("unmarshal %s: unexpected data after JSON value", path)
	}
	obj, ok := AsObject(v)
	if !ok {
		return nil, nil, fmt.Errorf("JSON root must be object: %s", path)
	}
	order, err := topLevelKeys(data)
	if err != nil {
		return nil, nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return obj, order, nil
}

// topLevelKeys lists the keys of the JSON object in data in document order.
func topLevelKeys(data []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", tok)
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// ReadYAMLObject reads a YAML file whose root must be a mapping.
func ReadYAMLObject(path string) (Object, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseYAMLObject(data, path)
}

// ParseYAMLObject decodes YAML bytes whose root must be a mapping. name is
// used in error messages only.
func ParseYAMLObject(data []byte, name string) (Object, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", name, err)
	}
	obj, ok := AsObject(v)
	if !ok {
		return nil, fmt.Errorf("YAML root must be object: %s", name)
	}
	return obj, nil
}

// LatestDir returns the most recently modified directory directly under root.
// It returns "" when root is missing or holds no directories.
func LatestDir(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", root, err)
	}

	var latest string
	var latestMod time.Time
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestMod) {
			latest = filepath.Join(root, e.Name())
			latestMod = info.ModTime()
		}
	}
	return latest, nil
}
