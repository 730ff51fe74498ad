package state

import (
	"bytes"
	"os"
	"strings"

	"github.com/lucasnoah/stagegate/internal/finding"
	"github.com/lucasnoah/stagegate/internal/workflow"
)

// RequiredMarkers returns the substrings an artifact must contain to count as
// produced. Selectors are cumulative: a key can match more than one row.
func RequiredMarkers(key workflow.ArtifactKey, filename string) []string {
	var markers []string
	if strings.HasSuffix(string(key), "_gate_report") || strings.HasSuffix(filename, "-gate-report.md") {
		markers = append(markers, "Gate Status", "Blockers")
	}
	switch key {
	case "qa_test_plan":
		markers = append(markers, "Summary", "Smoke Set", "Regression", "Coverage by Task")
	case "qa_test_report":
		markers = append(markers, "Verification Method", "Overall Status")
	case "architecture_review_gate_report":
		markers = append(markers, "Review Scope", "Gate Status")
	case "milestone_lock_report":
		markers = append(markers, "Milestone ID", "Locked Keys", "Lock File")
	}
	return markers
}

// checkMarkers reports markers missing from the artifact at path.
func checkMarkers(path string, key workflow.ArtifactKey, filename string) finding.List {
	var fs finding.List
	required := RequiredMarkers(key, filename)
	if len(required) == 0 {
		return fs
	}

	content, err := os.ReadFile(path)
	if err != nil {
		fs.Errorf("ARTIFACT_READ_FAILED", path, "failed to read artifact content: %v", err)
		return fs
	}

	var missing []string
	seen := map[string]bool{}
	for _, m := range required {
		if seen[m] {
			continue
		}
		seen[m] = true
		if !bytes.Contains(content, []byte(m)) {
			missing = append(missing, m)
		}
	}
	if len(missing) > 0 {
		fs.Errorf("ARTIFACT_CONTENT_INCOMPLETE", path, "artifact '%s' missing required markers: %s", filename, strings.Join(missing, ", "))
	}
	return fs
}
