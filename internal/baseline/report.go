package baseline

import (
	"time"

	"github.com/lucasnoah/stagegate/internal/fsutil"
	"github.com/lucasnoah/stagegate/internal/report"
)

// Document renders the report for the sync that produced r.
func (r *SyncResult) Document(repoRoot string, ts time.Time) *report.Document {
	var doc *report.Document
	switch r.Op {
	case OpSeed:
		doc = report.NewDocument("Baseline Seed Report", ts)
		s := doc.Section("Summary")
		s.Addf("Copied: %d", len(r.Copied))
		s.Addf("Skipped (already exists): %d", len(r.Skipped))
		s.Addf("Missing baseline source: %d", len(r.MissingSource))
		s.Addf("Missing workflow mapping: %d", len(r.MissingMapping))
		doc.Section("Copied", r.Copied...)
		doc.Section("Skipped", r.Skipped...)
		doc.Section("Missing Baseline Source", r.MissingSource...)
	case OpSnapshot:
		doc = report.NewDocument("Baseline Snapshot Report", ts)
		s := doc.Section("Summary")
		s.Addf("Snapshot Written: %d", len(r.Copied))
		s.Addf("Missing artifact source: %d", len(r.MissingSource))
		s.Addf("Missing workflow mapping: %d", len(r.MissingMapping))
		doc.Section("Snapshot Files", r.Copied...)
		doc.Section("Missing Artifact Source", r.MissingSource...)
	default:
		doc = report.NewDocument("Baseline Import Report", ts)
		s := doc.Section("Summary")
		s.Addf("Archive Source: %s", fsutil.Rel(r.Source, repoRoot))
		s.Addf("Imported: %d", len(r.Copied))
		s.Addf("Missing in archive: %d", len(r.MissingSource))
		s.Addf("Missing workflow mapping: %d", len(r.MissingMapping))
		doc.Section("Imported Files", r.Copied...)
		doc.Section("Missing In Archive", r.MissingSource...)
	}
	doc.Section("Missing Mapping", r.MissingMapping...)
	return doc
}
