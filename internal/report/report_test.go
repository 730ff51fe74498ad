package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/stagegate/internal/finding"
)

func sampleFindings() finding.List {
	var fs finding.List
	fs.Errorf("STATE_STAGE_SEQUENCE_INVALID", "state.json", "completed_stages must exactly match stages before current_stage")
	fs.Warnf("STATE_FIELD_UNKNOWN", "state.json", "workflow-state has unknown field '%s'", "extra")
	fs.Infof("STATE_TEMPLATE_MISSING", "", "template not found")
	return fs
}

func TestPrinter_PlainLines(t *testing.T) {
	var buf bytes.Buffer
	code := NewPrinter(&buf, false).Findings(sampleFindings())

	want := strings.Join([]string{
		"ERROR STATE_STAGE_SEQUENCE_INVALID: completed_stages must exactly match stages before current_stage [state.json]",
		"WARN STATE_FIELD_UNKNOWN: workflow-state has unknown field 'extra' [state.json]",
		"INFO STATE_TEMPLATE_MISSING: template not found",
		"",
		"Summary: 1 error(s), 1 warning(s), 1 info",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())
	assert.Equal(t, 1, code)
}

func TestPrinter_WarningsDoNotFail(t *testing.T) {
	var fs finding.List
	fs.Warnf("X", "", "only a warning")
	var buf bytes.Buffer
	assert.Equal(t, 0, NewPrinter(&buf, false).Findings(fs))
}

func TestPrinter_Styled(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, true).Findings(sampleFindings())
	out := buf.String()
	assert.Contains(t, out, IconFail)
	assert.Contains(t, out, IconWarn)
	assert.Contains(t, out, "STATE_FIELD_UNKNOWN")
	assert.Contains(t, out, "Summary: 1 error(s)")
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleFindings()))

	var got struct {
		Findings []finding.Finding `json:"findings"`
		Summary  finding.Counts    `json:"summary"`
		ExitCode int               `json:"exit_code"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Len(t, got.Findings, 3)
	assert.Equal(t, finding.Counts{Errors: 1, Warnings: 1, Infos: 1}, got.Summary)
	assert.Equal(t, 1, got.ExitCode)

	buf.Reset()
	require.NoError(t, WriteJSON(&buf, nil))
	assert.Contains(t, buf.String(), `"findings": []`)
}

func TestDocument_Markdown(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	doc := NewDocument("Milestone Verify Report", ts)
	s := doc.Section("Summary")
	s.Addf("OK: %d", 2)
	doc.Section("Drift")

	want := "# Milestone Verify Report\n\n- Timestamp: 2024-05-01T12:00:00Z\n\n## Summary\n- OK: 2\n\n## Drift\n"
	assert.Equal(t, want, doc.Markdown())

	path := filepath.Join(t.TempDir(), "nested", "report.md")
	require.NoError(t, doc.WriteFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, string(data))
}

func TestFindingsDocument(t *testing.T) {
	doc := FindingsDocument("Workflow Audit Report", time.Now(), sampleFindings())
	md := doc.Markdown()
	assert.Contains(t, md, "- Errors: 1\n")
	assert.Contains(t, md, "## Errors\n- ERROR STATE_STAGE_SEQUENCE_INVALID")
	assert.Contains(t, md, "## Info\n- INFO STATE_TEMPLATE_MISSING: template not found\n")
}
