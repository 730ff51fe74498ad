package milestone

import (
	"sort"
	"strings"
	"time"

	"github.com/lucasnoah/stagegate/internal/fsutil"
	"github.com/lucasnoah/stagegate/internal/report"
)

// Default report locations, relative to the repo root.
const (
	DefaultCreateReport = ".bmad/artifacts/milestone-lock-report.md"
	DefaultSeedReport   = ".bmad/artifacts/milestone-seed-report.md"
	DefaultVerifyReport = ".bmad/artifacts/milestone-verify-report.md"
)

// Document renders the create report. It carries the Milestone ID, Locked
// Keys and Lock File markers expected of a milestone_lock_report artifact.
func (r *CreateResult) Document(repoRoot string, ts time.Time) *report.Document {
	doc := report.NewDocument("Milestone Create Report", ts)
	s := doc.Section("Summary")
	s.Addf("Source: %s", r.SourceDir)
	s.Addf("Milestone ID: %s", r.MilestoneID)

	if r.Failed() {
		s.Addf("Missing source: %d", len(r.MissingSource))
		s.Addf("Missing mapping: %d", len(r.MissingMapping))
		s.Addf("Result: FAILED")
		doc.Section("Problems", findingLines(r)...)
		doc.Section("Missing Source", r.MissingSource...)
		doc.Section("Missing Mapping", r.MissingMapping...)
		return doc
	}

	keys := make([]string, 0, len(r.Lock.Files))
	for k := range r.Lock.Files {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	s.Addf("Lock File: %s", fsutil.Rel(r.LockPath, repoRoot))
	s.Addf("Locked Keys: %s", strings.Join(keys, ", "))
	s.Addf("Copied: %d", len(r.Copied))
	s.Addf("Missing source: %d", len(r.MissingSource))
	s.Addf("Missing mapping: %d", len(r.MissingMapping))
	s.Addf("Set Active: %s", report.YesNo(r.SetActive))
	doc.Section("Copied Files", r.Copied...)
	doc.Section("Missing Source", r.MissingSource...)
	doc.Section("Missing Mapping", r.MissingMapping...)
	return doc
}

func findingLines(r *CreateResult) []string {
	out := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		out = append(out, f.String())
	}
	return out
}

// Document renders the seed report.
func (r *UseResult) Document(repoRoot string, ts time.Time) *report.Document {
	doc := report.NewDocument("Milestone Seed Report", ts)
	s := doc.Section("Summary")
	s.Addf("Milestone ID: %s", r.MilestoneID)
	s.Addf("Lock File: %s", fsutil.Rel(r.LockPath, repoRoot))
	s.Addf("Copied: %d", len(r.Copied))
	s.Addf("Skipped: %d", len(r.Skipped))
	s.Addf("Failed: %d", len(r.Failed))
	s.Addf("State Updated: %s", report.YesNo(r.StateBound))
	doc.Section("Copied", r.Copied...)
	doc.Section("Skipped", r.Skipped...)
	doc.Section("Failed", r.Failed...)
	return doc
}

// Document renders the verify report.
func (r *VerifyResult) Document(repoRoot string, ts time.Time) *report.Document {
	ok := r.ByStatus(KeyOK)
	drift := r.ByStatus(KeyDrift)
	missing := r.ByStatus(KeyMissing)

	doc := report.NewDocument("Milestone Verify Report", ts)
	s := doc.Section("Summary")
	s.Addf("Milestone ID: %s", r.MilestoneID)
	s.Addf("Lock File: %s", fsutil.Rel(r.LockPath, repoRoot))
	s.Addf("OK: %d", len(ok))
	s.Addf("Drift: %d", len(drift))
	s.Addf("Missing: %d", len(missing))
	s.Addf("Extra lock keys: %d", len(r.Extra))

	doc.Section("OK", keyLines(ok, repoRoot)...)
	doc.Section("Drift", keyLines(drift, repoRoot)...)
	doc.Section("Missing", keyLines(missing, repoRoot)...)
	extra := doc.Section("Extra Lock Keys")
	for _, k := range r.Extra {
		extra.Addf("%s", k)
	}
	return doc
}

func keyLines(results []KeyResult, repoRoot string) []string {
	out := make([]string, 0, len(results))
	for _, k := range results {
		line := string(k.Key)
		if k.Code != "" {
			line += ":" + k.Label()
		}
		if k.Path != "" {
			line += " " + fsutil.Rel(k.Path, repoRoot)
		}
		out = append(out, line)
	}
	return out
}
