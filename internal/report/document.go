// Package report renders findings and operation results: console lines for
// the terminal, Markdown reports written next to the artifacts, and JSON.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/lucasnoah/stagegate/internal/fsutil"
)

// Document is a Markdown report: a title, a timestamp line and a series of
// headed bullet lists.
type Document struct {
	Title     string
	Timestamp time.Time
	Sections  []*Section
}

// Section is one "## Heading" block of bullet items.
type Section struct {
	Heading string
	Items   []string
}

// NewDocument starts a report stamped with ts.
func NewDocument(title string, ts time.Time) *Document {
	return &Document{Title: title, Timestamp: ts}
}

// Section appends a new section holding items and returns it.
func (d *Document) Section(heading string, items ...string) *Section {
	s := &Section{Heading: heading, Items: append([]string(nil), items...)}
	d.Sections = append(d.Sections, s)
	return s
}

// Addf appends a formatted bullet item.
func (s *Section) Addf(format string, args ...any) {
	s.Items = append(s.Items, fmt.Sprintf(format, args...))
}

// Markdown renders the document. Empty sections keep their heading.
func (d *Document) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", d.Title)
	fmt.Fprintf(&b, "- Timestamp: %s\n", d.Timestamp.Format(time.RFC3339))
	for _, s := range d.Sections {
		fmt.Fprintf(&b, "\n## %s\n", s.Heading)
		for _, item := range s.Items {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}
	return b.String()
}

// WriteFile writes the rendered document to path, creating parent directories.
func (d *Document) WriteFile(path string) error {
	if err := fsutil.WriteAtomic(path, []byte(d.Markdown())); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// YesNo renders a flag the way report summaries spell it.
func YesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
