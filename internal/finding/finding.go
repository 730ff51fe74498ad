// Package finding defines the severity-tagged result unit shared by every
// validator, and the accumulator used to collect them in order.
package finding

import "fmt"

// Severity classifies a finding. Only SeverityError affects the exit status.
type Severity string

const (
	SeverityError Severity = "ERROR"
	SeverityWarn  Severity = "WARN"
	SeverityInfo  Severity = "INFO"
)

// Finding is one reported consistency violation or observation.
type Finding struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Ref      string   `json:"ref,omitempty"`
}

func (f Finding) String() string {
	if f.Ref == "" {
		return fmt.Sprintf("%s %s: %s", f.Severity, f.Code, f.Message)
	}
	return fmt.Sprintf("%s %s: %s [%s]", f.Severity, f.Code, f.Message, f.Ref)
}

// List is an ordered accumulator of findings.
type List []Finding

// Errorf appends an ERROR finding.
func (l *List) Errorf(code, ref, format string, args ...any) {
	l.add(SeverityError, code, ref, format, args...)
}

// Warnf appends a WARN finding.
func (l *List) Warnf(code, ref, format string, args ...any) {
	l.add(SeverityWarn, code, ref, format, args...)
}

// Infof appends an INFO finding.
func (l *List) Infof(code, ref, format string, args ...any) {
	l.add(SeverityInfo, code, ref, format, args...)
}

func (l *List) add(sev Severity, code, ref, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	*l = append(*l, Finding{Severity: sev, Code: code, Message: msg, Ref: ref})
}

// Extend appends all findings from other, preserving their order.
func (l *List) Extend(other []Finding) {
	*l = append(*l, other...)
}

// Counts tallies findings by severity.
type Counts struct {
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
	Infos    int `json:"infos"`
}

// Count returns the per-severity totals of l.
func (l List) Count() Counts {
	var c Counts
	for _, f := range l {
		switch f.Severity {
		case SeverityError:
			c.Errors++
		case SeverityWarn:
			c.Warnings++
		default:
			c.Infos++
		}
	}
	return c
}

// HasErrors reports whether any ERROR finding is present.
func (l List) HasErrors() bool {
	for _, f := range l {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ExitCode is 1 iff any ERROR finding is present. WARN and INFO never affect it.
func (l List) ExitCode() int {
	if l.HasErrors() {
		return 1
	}
	return 0
}

// Codes returns the finding codes in order. Handy for assertions and logging.
func (l List) Codes() []string {
	codes := make([]string, 0, len(l))
	for _, f := range l {
		codes = append(codes, f.Code)
	}
	return codes
}

// Has reports whether a finding with the given code is present.
func (l List) Has(code string) bool {
	for _, f := range l {
		if f.Code == code {
			return true
		}
	}
	return false
}

// WithCode returns the findings carrying the given code.
func (l List) WithCode(code string) List {
	var out List
	for _, f := range l {
		if f.Code == code {
			out = append(out, f)
		}
	}
	return out
}
