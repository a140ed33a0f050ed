package entities

// AuditReport is the result of a vulnerability lookup for one package
type AuditReport struct {
	Package         string
	Version         string
	Vulnerabilities []Vulnerability
	Score           float64
}

// Vulnerability is a single advisory returned by the vulnerability
// database.
type Vulnerability struct {
	ID       string
	Severity string // CRITICAL, HIGH, MEDIUM, LOW, UNKNOWN
	Summary  string
	FixedIn  string // first fixed version, when known
	Aliases  []string
}

// MaxSeverity returns the most severe level present in the report
func (r *AuditReport) MaxSeverity() string {
	rank := map[string]int{"CRITICAL": 4, "HIGH": 3, "MEDIUM": 2, "LOW": 1}
	max := ""
	best := 0
	for _, v := range r.Vulnerabilities {
		if rank[v.Severity] > best {
			best = rank[v.Severity]
			max = v.Severity
		}
	}
	return max
}

// CountBySeverity tallies findings per severity level
func (r *AuditReport) CountBySeverity() map[string]int {
	counts := make(map[string]int)
	for _, v := range r.Vulnerabilities {
		counts[v.Severity]++
	}
	return counts
}
