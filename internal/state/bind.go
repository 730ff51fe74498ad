package state

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/lucasnoah/stagegate/internal/fsutil"
)

// BindMilestone records a milestone binding in the state file at path:
// milestone_id, milestone_lock_path (as given) and milestone_locked_at.
// Every other field is preserved, as is the order of the top-level keys. A missing state file is not an error; the
// returned bool reports whether the file was updated.
func BindMilestone(path, milestoneID, lockPath string, now time.Time) (bool, error) {
	obj, order, err := fsutil.ReadJSONDocument(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading state: %w", err)
	}

	obj["milestone_id"] = milestoneID
	obj["milestone_lock_path"] = lockPath
	obj["milestone_locked_at"] = FormatTimestamp(now)

	if err := fsutil.WriteJSONObject(path, obj, order); err != nil {
		return false, fmt.Errorf("writing state: %w", err)
	}
	return true, nil
}
