package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ochairo/cauldron/internal/domain/entities"
)

type stubVulnGateway struct {
	findings map[string][]entities.Vulnerability
	err      error
}

func (s *stubVulnGateway) QueryPackage(_ context.Context, name, _ string) ([]entities.Vulnerability, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.findings[name], nil
}

func finding(id, severity string) entities.Vulnerability {
	return entities.Vulnerability{ID: id, Severity: severity, Summary: "advisory " + id}
}

func auditedPackage(base, ver string) *entities.Package {
	return &entities.Package{
		Base:    base,
		Names:   []string{base},
		Version: entities.Version{Ver: ver, Rel: "1"},
	}
}

func TestAuditService_Audit(t *testing.T) {
	gateway := &stubVulnGateway{findings: map[string][]entities.Vulnerability{
		"tool": {
			finding("GHSA-low", "LOW"),
			finding("CVE-2024-0001", "CRITICAL"),
			finding("GHSA-med", "MEDIUM"),
		},
	}}
	service := NewAuditService(gateway, nil)

	report, err := service.Audit(context.Background(), auditedPackage("tool", "1.4.0"))
	if err != nil {
		t.Fatalf("Audit() error = %v", err)
	}

	if report.Package != "tool" || report.Version != "1.4.0" {
		t.Errorf("report identity = %s/%s, want tool/1.4.0", report.Package, report.Version)
	}
	if len(report.Vulnerabilities) != 3 {
		t.Fatalf("findings = %d, want 3", len(report.Vulnerabilities))
	}
	order := []string{"CRITICAL", "MEDIUM", "LOW"}
	for i, want := range order {
		if report.Vulnerabilities[i].Severity != want {
			t.Errorf("finding %d severity = %s, want %s (most severe first)",
				i, report.Vulnerabilities[i].Severity, want)
		}
	}
	if report.Score != 5.5 {
		t.Errorf("Score = %v, want 5.5 (10 - 3 - 1 - 0.5)", report.Score)
	}
	if report.MaxSeverity() != "CRITICAL" {
		t.Errorf("MaxSeverity() = %s, want CRITICAL", report.MaxSeverity())
	}
}

func TestAuditService_Audit_Clean(t *testing.T) {
	service := NewAuditService(&stubVulnGateway{}, nil)

	report, err := service.Audit(context.Background(), auditedPackage("tool", "1.0"))
	if err != nil {
		t.Fatalf("Audit() error = %v", err)
	}
	if len(report.Vulnerabilities) != 0 {
		t.Errorf("findings = %d, want 0", len(report.Vulnerabilities))
	}
	if report.Score != 10.0 {
		t.Errorf("Score = %v, want 10.0 for clean package", report.Score)
	}
}

func TestAuditService_Audit_LookupFailure(t *testing.T) {
	gateway := &stubVulnGateway{err: errors.New("OSV API error: HTTP 503")}
	service := NewAuditService(gateway, nil)

	_, err := service.Audit(context.Background(), auditedPackage("tool", "1.0"))
	if err == nil {
		t.Fatal("Audit() should surface lookup failures")
	}
	if !strings.Contains(err.Error(), "audit of tool failed") {
		t.Errorf("error = %v, want package named", err)
	}
}

func TestAuditService_AuditAll(t *testing.T) {
	gateway := &stubVulnGateway{findings: map[string][]entities.Vulnerability{
		"zsh": {finding("CVE-1", "HIGH")},
	}}
	service := NewAuditService(gateway, nil)

	reports, err := service.AuditAll(context.Background(), []*entities.Package{
		auditedPackage("zsh", "5.9"),
		auditedPackage("attr", "2.5.1"),
	})
	if err != nil {
		t.Fatalf("AuditAll() error = %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("AuditAll() returned %d reports, want 2", len(reports))
	}
	if reports[0].Package != "attr" || reports[1].Package != "zsh" {
		t.Errorf("order = [%s %s], want pkgbase order", reports[0].Package, reports[1].Package)
	}
	if len(reports[1].Vulnerabilities) != 1 {
		t.Errorf("zsh findings = %d, want 1", len(reports[1].Vulnerabilities))
	}
}

func TestAuditService_CalculateSecurityScore(t *testing.T) {
	service := NewAuditService(&stubVulnGateway{}, nil)
	tests := []struct {
		name  string
		vulns []entities.Vulnerability
		want  float64
	}{
		{
			name: "clean",
			want: 10.0,
		},
		{
			name:  "critical and high",
			vulns: []entities.Vulnerability{finding("a", "CRITICAL"), finding("b", "HIGH")},
			want:  5.0,
		},
		{
			name:  "unknown severity barely deducts",
			vulns: []entities.Vulnerability{finding("a", "UNKNOWN")},
			want:  9.9,
		},
		{
			name: "floor at zero",
			vulns: []entities.Vulnerability{
				finding("a", "CRITICAL"), finding("b", "CRITICAL"),
				finding("c", "CRITICAL"), finding("d", "CRITICAL"),
			},
			want: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := entities.AuditReport{Vulnerabilities: tt.vulns}
			got := service.CalculateSecurityScore(&report)
			if diff := got - tt.want; diff > 0.001 || diff < -0.001 {
				t.Errorf("CalculateSecurityScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuditService_FilterVulnerabilities(t *testing.T) {
	service := NewAuditService(&stubVulnGateway{}, nil)
	vulns := []entities.Vulnerability{
		finding("a", "CRITICAL"),
		finding("b", "HIGH"),
		finding("c", "MEDIUM"),
		finding("d", "LOW"),
	}

	kept := service.FilterVulnerabilities(vulns, "high")
	if len(kept) != 2 {
		t.Fatalf("FilterVulnerabilities(high) kept %d, want 2", len(kept))
	}
	if kept[0].ID != "a" || kept[1].ID != "b" {
		t.Errorf("kept = [%s %s], want [a b]", kept[0].ID, kept[1].ID)
	}

	if got := service.FilterVulnerabilities(vulns, ""); len(got) != 4 {
		t.Errorf("empty minimum kept %d, want all 4", len(got))
	}
}

func TestAuditService_ShouldBlockBuild(t *testing.T) {
	service := NewAuditService(&stubVulnGateway{}, nil)
	reports := []entities.AuditReport{
		{Package: "clean"},
		{Package: "shaky", Vulnerabilities: []entities.Vulnerability{finding("a", "HIGH")}},
	}

	tests := []struct {
		name   string
		failOn string
		want   bool
	}{
		{name: "at threshold", failOn: "high", want: true},
		{name: "below threshold", failOn: "critical", want: false},
		{name: "low threshold catches high", failOn: "low", want: true},
		{name: "no policy", failOn: "", want: false},
		{name: "unrecognized level", failOn: "fatal", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := service.ShouldBlockBuild(reports, tt.failOn); got != tt.want {
				t.Errorf("ShouldBlockBuild(%q) = %v, want %v", tt.failOn, got, tt.want)
			}
		})
	}
}
