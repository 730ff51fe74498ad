// Package state decodes the runtime workflow-state record and checks it
// against a workflow spec, the state template, and the artifacts on disk.
package state

import (
	"fmt"
	"strings"
	"time"

	"github.com/lucasnoah/stagegate/internal/fsutil"
)

// Verification policies accepted in verification_policy.
var VerificationPolicies = []string{"default", "ask", "strict"}

// Verification decisions accepted in verification_decision.
var VerificationDecisions = []string{"unknown", "execute", "skip"}

// State is the decoded workflow-state record. Fields that were present but
// of the wrong type are left zero with their Valid flag unset, so the checker
// can report them without re-inspecting the raw object.
type State struct {
	Path   string
	Fields fsutil.Object

	WorkflowPath string

	CurrentStage      string
	CurrentStageValid bool

	CompletedStages []string
	CompletedValid  bool

	ArtifactsCreated      []string
	ArtifactsCreatedValid bool

	TaskIDs      []string
	TaskIDsValid bool

	VerificationPolicy   string
	VerificationDecision string

	LastUpdatedAt    time.Time
	LastUpdatedValid bool

	MilestoneID       string
	MilestoneLockPath string
	MilestoneLockedAt string
}

// Load reads and decodes the state record at path.
func Load(path string) (*State, error) {
	obj, err := fsutil.ReadJSONObject(path)
	if err != nil {
		return nil, fmt.Errorf("reading state: %w", err)
	}
	return Decode(obj, path), nil
}

// Decode converts a raw state object into a State. It never fails.
func Decode(obj fsutil.Object, path string) *State {
	st := &State{Path: path, Fields: obj}

	st.WorkflowPath, _ = obj.NonBlank("workflow_path")
	st.CurrentStage, st.CurrentStageValid = obj.String("current_stage")

	if list, ok := fsutil.AsList(obj["completed_stages"]); ok {
		st.CompletedStages = fsutil.StringList(list)
		st.CompletedValid = true
	}

	// artifacts_created and task_ids default to empty lists when absent.
	st.ArtifactsCreated, st.ArtifactsCreatedValid = optionalList(obj, "artifacts_created")
	st.TaskIDs, st.TaskIDsValid = optionalList(obj, "task_ids")

	st.VerificationPolicy, _ = obj.String("verification_policy")
	st.VerificationDecision, _ = obj.String("verification_decision")

	if raw, ok := obj.String("last_updated_at"); ok {
		st.LastUpdatedAt, st.LastUpdatedValid = ParseTimestamp(raw)
	}

	st.MilestoneID, _ = obj.NonBlank("milestone_id")
	st.MilestoneLockPath, _ = obj.NonBlank("milestone_lock_path")
	st.MilestoneLockedAt, _ = obj.String("milestone_locked_at")
	return st
}

func optionalList(obj fsutil.Object, key string) ([]string, bool) {
	v, present := obj[key]
	if !present {
		return nil, true
	}
	list, ok := fsutil.AsList(v)
	if !ok {
		return nil, false
	}
	return fsutil.StringList(list), true
}

// Completed reports whether stage id is listed in completed_stages.
func (s *State) Completed(id string) bool {
	for _, c := range s.CompletedStages {
		if c == id {
			return true
		}
	}
	return false
}

// Tracked reports whether filename is listed in artifacts_created.
func (s *State) Tracked(filename string) bool {
	for _, a := range s.ArtifactsCreated {
		if a == filename {
			return true
		}
	}
	return false
}

// timestampLayouts covers the ISO-8601 forms written by the tooling and by
// hand: with or without offset, fractional seconds, or a bare date.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 timestamp. A trailing Z is UTC; values
// without an offset are taken in local time.
func ParseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatTimestamp renders t the way the tooling writes timestamps.
func FormatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}
