// Package settings resolves stagegate's configuration. Precedence, highest
// first: command-line flags, STAGEGATE_* environment variables, the
// .stagegate.yaml file in the repo root, built-in defaults.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	EnvPrefix = "STAGEGATE"
	FileName  = ".stagegate.yaml"
)

// Setting keys.
const (
	KeyRepoRoot    = "repo_root"
	KeyWorkflow    = "workflow"
	KeyState       = "state"
	KeyTemplate    = "template"
	KeyArchiveDir  = "archive_dir"
	KeyDatabaseURL = "database_url"
	KeyLogLevel    = "log_level"
	KeyLogFormat   = "log_format"
)

// Defaults, relative to the repo root.
var (
	DefaultWorkflows  = []string{".bmad/workflows/workflow.yml", ".bmad/workflows/bugfix.yml"}
	DefaultState      = ".bmad/artifacts/workflow-state.json"
	DefaultTemplate   = ".bmad/templates/workflow-state.template.json"
	DefaultArchiveDir = ".bmad/archive"
)

// Settings is the resolved configuration. RepoRoot is absolute; the other
// paths may be repo-relative and are resolved against it by their users.
type Settings struct {
	RepoRoot    string
	Workflows   []string
	State       string
	Template    string
	ArchiveDir  string
	DatabaseURL string
	LogLevel    string
	LogFormat   string
	ConfigFile  string
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyWorkflow, DefaultWorkflows)
	v.SetDefault(KeyState, DefaultState)
	v.SetDefault(KeyTemplate, DefaultTemplate)
	v.SetDefault(KeyArchiveDir, DefaultArchiveDir)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load resolves the repo root, merges .stagegate.yaml from it when present,
// and returns the effective settings.
func Load(v *viper.Viper) (*Settings, error) {
	root := v.GetString(KeyRepoRoot)
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		root = wd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving repo root: %w", err)
	}

	s := &Settings{RepoRoot: root}

	cfgPath := filepath.Join(root, FileName)
	if _, err := os.Stat(cfgPath); err == nil {
		v.SetConfigFile(cfgPath)
		v.SetConfigType("yaml")
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", cfgPath, err)
		}
		s.ConfigFile = cfgPath
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", cfgPath, err)
	}

	s.Workflows = nonEmpty(v.GetStringSlice(KeyWorkflow))
	if len(s.Workflows) == 0 {
		s.Workflows = append([]string(nil), DefaultWorkflows...)
	}
	s.State = v.GetString(KeyState)
	s.Template = v.GetString(KeyTemplate)
	s.ArchiveDir = v.GetString(KeyArchiveDir)
	s.DatabaseURL = v.GetString(KeyDatabaseURL)
	s.LogLevel = v.GetString(KeyLogLevel)
	s.LogFormat = v.GetString(KeyLogFormat)
	return s, nil
}

// Path resolves a configured path against the repo root.
func (s *Settings) Path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.RepoRoot, filepath.FromSlash(p))
}

// PrimaryWorkflow is the first configured workflow, used by commands that
// operate on a single definition.
func (s *Settings) PrimaryWorkflow() string {
	return s.Workflows[0]
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
