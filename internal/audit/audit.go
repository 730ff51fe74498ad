// Package audit drives a full consistency audit: every configured workflow
// definition, then the workflow-state record against the definition it
// references, including milestone lock checks.
package audit

import (
	"github.com/rs/zerolog"

	"github.com/lucasnoah/stagegate/internal/finding"
	"github.com/lucasnoah/stagegate/internal/fsutil"
	"github.com/lucasnoah/stagegate/internal/milestone"
	"github.com/lucasnoah/stagegate/internal/state"
	"github.com/lucasnoah/stagegate/internal/workflow"
)

// Options names the inputs of an audit. Relative paths are resolved against
// RepoRoot.
type Options struct {
	RepoRoot  string
	Workflows []string
	State     string
	Template  string
}

// Result is the outcome of an audit.
type Result struct {
	Findings finding.List
	// Specs holds every definition that loaded, audited or resolved on demand.
	Specs []*workflow.Spec
	// StateSpec is the definition the state was checked against, if any.
	StateSpec *workflow.Spec
	StateSeen bool
}

// Auditor runs audits for one repository.
type Auditor struct {
	opts Options
	log  zerolog.Logger
}

// New creates an Auditor.
func New(opts Options, log zerolog.Logger) *Auditor {
	return &Auditor{opts: opts, log: log.With().Str("component", "audit").Logger()}
}

// Run performs the audit. It never fails; every problem is a finding.
func (a *Auditor) Run() *Result {
	res := &Result{}
	root := a.opts.RepoRoot

	for _, p := range a.opts.Workflows {
		path := fsutil.Resolve(root, p)
		if !fsutil.Exists(path) {
			res.Findings.Errorf("WF_FILE_MISSING", path, "workflow file does not exist")
			continue
		}
		if spec := a.loadWorkflow(path, res); spec != nil {
			res.Specs = append(res.Specs, spec)
		}
	}

	statePath := fsutil.Resolve(root, a.opts.State)
	if !fsutil.Exists(statePath) {
		res.Findings.Warnf("STATE_NOT_FOUND", statePath, "workflow-state file not found; runtime checks skipped")
		return res
	}
	res.StateSeen = true

	st, err := state.Load(statePath)
	if err != nil {
		res.Findings.Errorf("STATE_LOAD_FAILED", statePath, "failed to parse state: %v", err)
		return res
	}
	if st.WorkflowPath == "" {
		res.Findings.Errorf("STATE_WORKFLOW_PATH_MISSING", statePath, "state.workflow_path is missing")
		return res
	}

	spec := a.resolve(st.WorkflowPath, res)
	if spec == nil {
		res.Findings.Errorf("STATE_WORKFLOW_UNRESOLVED", statePath, "state.workflow_path cannot be resolved for state validation")
		return res
	}
	res.StateSpec = spec

	tmpl, err := state.LoadTemplate(fsutil.Resolve(root, a.opts.Template))
	if err != nil {
		res.Findings.Errorf("STATE_LOAD_FAILED", statePath, "failed to parse state template: %v", err)
		return res
	}

	a.log.Debug().Str("state", statePath).Str("workflow", spec.Path).Msg("checking state")
	res.Findings.Extend(state.Check(root, st, spec, tmpl))
	res.Findings.Extend(milestone.Check(root, st, spec))
	return res
}

// resolve returns the already-audited spec at the state's workflow_path, or
// loads and validates it on demand. Nil means it cannot be resolved.
func (a *Auditor) resolve(workflowPath string, res *Result) *workflow.Spec {
	path := fsutil.Resolve(a.opts.RepoRoot, workflowPath)
	for _, spec := range res.Specs {
		if fsutil.SamePath(spec.Path, path) {
			return spec
		}
	}
	if !fsutil.Exists(path) {
		return nil
	}
	spec := a.loadWorkflow(path, res)
	if spec != nil {
		res.Specs = append(res.Specs, spec)
	}
	return spec
}

func (a *Auditor) loadWorkflow(path string, res *Result) *workflow.Spec {
	fs, spec, err := workflow.Load(path)
	if err != nil {
		res.Findings.Errorf("WF_LOAD_FAILED", path, "failed to parse workflow: %v", err)
		return nil
	}
	a.log.Debug().Str("workflow", path).Int("findings", len(fs)).Msg("workflow validated")
	res.Findings.Extend(fs)
	return spec
}
