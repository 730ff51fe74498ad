package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/lucasnoah/stagegate/internal/finding"
)

// Terminal palette, adaptive to light and dark backgrounds.
var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}
)

var (
	PassStyle     = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle     = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle     = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle    = lipgloss.NewStyle().Foreground(ColorMuted)
	CategoryStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
)

const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconInfo = "ℹ"
)

// Printer writes findings to a terminal or pipe. Styled output adds colored
// severity icons; plain output is the stable "SEVERITY CODE: message [ref]"
// line format that scripts grep for.
type Printer struct {
	w      io.Writer
	styled bool
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer, styled bool) *Printer {
	return &Printer{w: w, styled: styled}
}

// Findings prints every finding followed by the summary line and returns the
// exit code implied by the findings.
func (p *Printer) Findings(fs finding.List) int {
	p.List(fs)
	p.Summary(fs.Count())
	return fs.ExitCode()
}

// List prints findings without the summary line.
func (p *Printer) List(fs finding.List) {
	for _, f := range fs {
		p.finding(f)
	}
}

func (p *Printer) finding(f finding.Finding) {
	if !p.styled {
		fmt.Fprintln(p.w, f.String())
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", Icon(f.Severity), severityStyle(f.Severity).Render(f.String()))
}

// Summary prints the "Summary: ..." totals line, preceded by a blank line.
func (p *Printer) Summary(c finding.Counts) {
	line := fmt.Sprintf("Summary: %d error(s), %d warning(s), %d info", c.Errors, c.Warnings, c.Infos)
	if p.styled {
		line = CategoryStyle.Render(line)
	}
	fmt.Fprintf(p.w, "\n%s\n", line)
}

// Line prints a free-form line, muted when styled.
func (p *Printer) Line(format string, args ...any) {
	s := fmt.Sprintf(format, args...)
	if p.styled {
		s = MutedStyle.Render(s)
	}
	fmt.Fprintln(p.w, s)
}

// Status prints a "[LABEL] subject" line colored by outcome.
func (p *Printer) Status(ok bool, label, subject string) {
	tag := "[" + label + "]"
	if p.styled {
		if ok {
			tag = PassStyle.Render(tag)
		} else {
			tag = FailStyle.Render(tag)
		}
	}
	fmt.Fprintf(p.w, "%s %s\n", tag, subject)
}

// Icon returns the styled icon for a severity.
func Icon(sev finding.Severity) string {
	switch sev {
	case finding.SeverityError:
		return FailStyle.Render(IconFail)
	case finding.SeverityWarn:
		return WarnStyle.Render(IconWarn)
	default:
		return MutedStyle.Render(IconInfo)
	}
}

func severityStyle(sev finding.Severity) lipgloss.Style {
	switch sev {
	case finding.SeverityError:
		return FailStyle
	case finding.SeverityWarn:
		return WarnStyle
	default:
		return MutedStyle
	}
}

// jsonReport is the machine-readable form of a finding run.
type jsonReport struct {
	Findings finding.List   `json:"findings"`
	Summary  finding.Counts `json:"summary"`
	ExitCode int            `json:"exit_code"`
}

// WriteJSON writes findings and their totals as indented JSON.
func WriteJSON(w io.Writer, fs finding.List) error {
	if fs == nil {
		fs = finding.List{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonReport{Findings: fs, Summary: fs.Count(), ExitCode: fs.ExitCode()})
}

// FindingsDocument builds a Markdown report listing findings grouped by
// severity.
func FindingsDocument(title string, ts time.Time, fs finding.List) *Document {
	doc := NewDocument(title, ts)
	c := fs.Count()
	summary := doc.Section("Summary")
	summary.Addf("Errors: %d", c.Errors)
	summary.Addf("Warnings: %d", c.Warnings)
	summary.Addf("Info: %d", c.Infos)

	for _, sev := range []finding.Severity{finding.SeverityError, finding.SeverityWarn, finding.SeverityInfo} {
		sec := doc.Section(severityHeading(sev))
		for _, f := range fs {
			if f.Severity == sev {
				sec.Items = append(sec.Items, f.String())
			}
		}
	}
	return doc
}

func severityHeading(sev finding.Severity) string {
	switch sev {
	case finding.SeverityError:
		return "Errors"
	case finding.SeverityWarn:
		return "Warnings"
	default:
		return "Info"
	}
}
