package milestone

import (
	"github.com/lucasnoah/stagegate/internal/state"
	"github.com/lucasnoah/stagegate/internal/workflow"
)

// Required reports whether the run described by st must be bound to a
// milestone lock. A lock is required once scope_freeze has been completed,
// or once the run reaches the policy's enforce_from_stage, either by the
// number of completed stages or by the position of current_stage.
func Required(spec *workflow.Spec, st *state.State) bool {
	if !spec.Milestone.Enabled {
		return false
	}
	completed := len(st.CompletedStages)

	if idx, ok := spec.StageIndex(workflow.StageScopeFreeze); ok && completed > idx {
		return true
	}

	if spec.Milestone.EnforceFromStage == "" {
		return false
	}
	enforceIdx, ok := spec.StageIndex(spec.Milestone.EnforceFromStage)
	if !ok {
		return false
	}
	if completed >= enforceIdx {
		return true
	}
	if st.CurrentStageValid {
		if cur, ok := spec.StageIndex(st.CurrentStage); ok && cur >= enforceIdx {
			return true
		}
	}
	return false
}
