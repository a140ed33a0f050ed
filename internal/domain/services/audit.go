// Package services implements domain business logic and use cases.
package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ochairo/cauldron/internal/domain/entities"
	"github.com/ochairo/cauldron/internal/domain/interfaces"
	"github.com/ochairo/cauldron/internal/domain/interfaces/gateways"
)

// severityRank orders the audit vocabulary from UNKNOWN up to CRITICAL
var severityRank = map[string]int{
	"CRITICAL": 4,
	"HIGH":     3,
	"MEDIUM":   2,
	"LOW":      1,
	"UNKNOWN":  0,
}

// auditService checks packages against the advisory database
type auditService struct {
	vulns gateways.VulnerabilityGateway
	log   interfaces.Logger
}

// NewAuditService creates an advisory audit backed by the given lookup
//
//nolint:revive // unexported-return: Intentionally returns concrete type for testability
func NewAuditService(vulns gateways.VulnerabilityGateway, log interfaces.Logger) *auditService {
	if log == nil {
		log = &interfaces.NoOpLogger{}
	}
	return &auditService{vulns: vulns, log: log}
}

// Audit looks up advisories for one manifest at its pkgver. Findings
// come back most severe first.
func (s *auditService) Audit(ctx context.Context, pkg *entities.Package) (entities.AuditReport, error) {
	report := entities.AuditReport{Package: pkg.Base, Version: pkg.Version.Ver}

	findings, err := s.vulns.QueryPackage(ctx, pkg.Base, pkg.Version.Ver)
	if err != nil {
		return report, fmt.Errorf("audit of %s failed: %w", pkg.Base, err)
	}

	sort.SliceStable(findings, func(i, j int) bool {
		return severityRank[findings[i].Severity] > severityRank[findings[j].Severity]
	})
	report.Vulnerabilities = findings
	report.Score = s.CalculateSecurityScore(&report)

	if len(findings) > 0 {
		s.log.Warn("advisories found",
			interfaces.F("pkgbase", pkg.Base),
			interfaces.F("count", len(findings)),
			interfaces.F("max", report.MaxSeverity()))
	}
	return report, nil
}

// AuditAll audits every manifest and reports them in pkgbase order
func (s *auditService) AuditAll(ctx context.Context, pkgs []*entities.Package) ([]entities.AuditReport, error) {
	reports := make([]entities.AuditReport, 0, len(pkgs))
	for _, pkg := range pkgs {
		report, err := s.Audit(ctx, pkg)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Package < reports[j].Package })
	return reports, nil
}

// CalculateSecurityScore rates a report on a 0 to 10 scale, starting
// from 10 and deducting per finding by severity
func (s *auditService) CalculateSecurityScore(report *entities.AuditReport) float64 {
	score := 10.0
	for _, vuln := range report.Vulnerabilities {
		switch vuln.Severity {
		case "CRITICAL":
			score -= 3.0
		case "HIGH":
			score -= 2.0
		case "MEDIUM":
			score -= 1.0
		case "LOW":
			score -= 0.5
		default:
			score -= 0.1
		}
	}
	if score < 0 {
		return 0.0
	}
	return score
}

// FilterVulnerabilities keeps findings at or above minSeverity. An
// empty minimum keeps everything.
func (s *auditService) FilterVulnerabilities(vulns []entities.Vulnerability, minSeverity string) []entities.Vulnerability {
	minLevel := severityRank[strings.ToUpper(minSeverity)]
	filtered := make([]entities.Vulnerability, 0)
	for _, vuln := range vulns {
		if severityRank[vuln.Severity] >= minLevel {
			filtered = append(filtered, vuln)
		}
	}
	return filtered
}

// ShouldBlockBuild reports whether any finding sits at or above the
// failOn severity. An empty or unrecognized level never blocks.
func (s *auditService) ShouldBlockBuild(reports []entities.AuditReport, failOn string) bool {
	threshold, ok := severityRank[strings.ToUpper(failOn)]
	if !ok {
		return false
	}
	for _, report := range reports {
		for _, vuln := range report.Vulnerabilities {
			if severityRank[vuln.Severity] >= threshold {
				return true
			}
		}
	}
	return false
}
