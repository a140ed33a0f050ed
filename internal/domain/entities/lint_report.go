package entities

// Severity classifies a lint finding
type Severity string

// Finding severities, most severe first
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Finding is a single lint diagnostic against a manifest or a staged tree
type Finding struct {
	Rule     string
	Severity Severity
	Message  string
	Path     string // offending file for staged-tree rules, empty otherwise
}

// LintReport collects the findings for one manifest
type LintReport struct {
	Package  string
	Findings []Finding
}

// Add appends a finding to the report
func (r *LintReport) Add(rule string, sev Severity, msg string) {
	r.Findings = append(r.Findings, Finding{Rule: rule, Severity: sev, Message: msg})
}

// AddPath appends a finding tied to a staged file
func (r *LintReport) AddPath(rule string, sev Severity, msg, path string) {
	r.Findings = append(r.Findings, Finding{Rule: rule, Severity: sev, Message: msg, Path: path})
}

// HasErrors reports whether any finding is an error
func (r *LintReport) HasErrors() bool {
	return r.Count(SeverityError) > 0
}

// Count returns the number of findings at the given severity
func (r *LintReport) Count(sev Severity) int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == sev {
			n++
		}
	}
	return n
}

// Merge appends every finding of other into the report
func (r *LintReport) Merge(other *LintReport) {
	if other == nil {
		return
	}
	r.Findings = append(r.Findings, other.Findings...)
}
