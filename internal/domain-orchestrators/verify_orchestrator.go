package orchestrators

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/ochairo/cauldron/internal/domain/entities"
	"github.com/ochairo/cauldron/internal/domain/interfaces"
)

// PackageInspector reads the embedded metadata of a built package
type PackageInspector interface {
	ReadPackageEntry(pkgPath string) (*entities.RepoEntry, error)
}

// DetachedVerifier checks a detached signature against its signed file
type DetachedVerifier interface {
	VerifyDetached(filePath, sigPath string) (*openpgp.Entity, error)
}

// PackageAuditor queries the vulnerability database for one package
type PackageAuditor interface {
	Audit(ctx context.Context, pkg *entities.Package) (entities.AuditReport, error)
}

// VerifyOrchestrator checks an existing package file against its
// companions: the digest in a .sha256 file, the detached .sig signature
// and the package's own embedded metadata. An auditor, when configured,
// additionally queries the vulnerability database.
type VerifyOrchestrator struct {
	inspector PackageInspector
	verifier  DetachedVerifier
	auditor   PackageAuditor
	log       interfaces.Logger
}

// NewVerifyOrchestrator creates a new verify orchestrator. auditor may be
// nil when vulnerability lookups are not wanted.
func NewVerifyOrchestrator(inspector PackageInspector, verifier DetachedVerifier, auditor PackageAuditor, log interfaces.Logger) *VerifyOrchestrator {
	if log == nil {
		log = &interfaces.NoOpLogger{}
	}
	return &VerifyOrchestrator{
		inspector: inspector,
		verifier:  verifier,
		auditor:   auditor,
		log:       log,
	}
}

// VerifyResult contains the complete verification outcome for one file
type VerifyResult struct {
	Path  string
	Entry *entities.RepoEntry

	// Signature is nil when no .sig companion exists next to the file.
	Signature *entities.SignatureCheck

	// ChecksumFile names the digest companion that was checked, empty
	// when none exists.
	ChecksumFile string

	// Audit is set when the orchestrator has an auditor configured.
	Audit *entities.AuditReport

	Failures []string
	Duration time.Duration
	OK       bool
}

// VerifyPackage runs every applicable check against the package file at
// pkgPath. The returned error is reserved for files that cannot be read
// at all; individual check failures land in the result.
func (o *VerifyOrchestrator) VerifyPackage(ctx context.Context, pkgPath string) (*VerifyResult, error) {
	startTime := time.Now()
	result := &VerifyResult{Path: pkgPath}

	entry, err := o.inspector.ReadPackageEntry(pkgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read package: %w", err)
	}
	result.Entry = entry

	o.checkFileName(result)
	o.checkDigestCompanion(result)
	o.checkSignature(result)

	if o.auditor != nil {
		o.runAudit(ctx, result)
	}

	result.OK = len(result.Failures) == 0
	result.Duration = time.Since(startTime)
	return result, nil
}

// checkFileName compares the file name against the package's embedded
// metadata. A repackaged or renamed file fails here.
func (o *VerifyOrchestrator) checkFileName(result *VerifyResult) {
	base := filepath.Base(result.Path)
	want := fmt.Sprintf("%s-%s-%s.pkg.tar.", result.Entry.Name, result.Entry.Version, result.Entry.Arch)
	if !strings.HasPrefix(base, want) {
		result.Failures = append(result.Failures,
			fmt.Sprintf("file name %s does not match embedded metadata %s %s %s",
				base, result.Entry.Name, result.Entry.Version, result.Entry.Arch))
	}
}

// checkDigestCompanion verifies the package digest against a .sha256
// companion when one sits next to the file.
func (o *VerifyOrchestrator) checkDigestCompanion(result *VerifyResult) {
	companion := result.Path + ".sha256"
	//nolint:gosec // G304: the companion sits next to the file being verified
	data, err := os.ReadFile(companion)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		result.Failures = append(result.Failures, fmt.Sprintf("failed to read %s: %v", filepath.Base(companion), err))
		return
	}
	result.ChecksumFile = companion

	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		result.Failures = append(result.Failures, fmt.Sprintf("%s is empty", filepath.Base(companion)))
		return
	}
	if !strings.EqualFold(fields[0], result.Entry.SHA256) {
		result.Failures = append(result.Failures,
			fmt.Sprintf("checksum mismatch: %s declares %s, file is %s", filepath.Base(companion), fields[0], result.Entry.SHA256))
	}
}

// checkSignature verifies the detached .sig companion when present. A
// missing signature is recorded as unchecked, not as a failure.
func (o *VerifyOrchestrator) checkSignature(result *VerifyResult) {
	sigPath := result.Path + ".sig"
	if _, err := os.Stat(sigPath); os.IsNotExist(err) {
		return
	}

	check := &entities.SignatureCheck{
		File:          filepath.Base(result.Path),
		SignatureFile: filepath.Base(sigPath),
	}
	result.Signature = check

	signer, err := o.verifier.VerifyDetached(result.Path, sigPath)
	if err != nil {
		check.Reason = err.Error()
		result.Failures = append(result.Failures, fmt.Sprintf("signature: %v", err))
		return
	}

	check.Valid = true
	check.Trusted = true
	check.Fingerprint = fmt.Sprintf("%X", signer.PrimaryKey.Fingerprint)
	check.SignerName = signerIdentity(signer)
}

// runAudit queries the vulnerability database using the package's own
// metadata. Findings are attached for the caller to judge; only a failed
// lookup counts against the verification.
func (o *VerifyOrchestrator) runAudit(ctx context.Context, result *VerifyResult) {
	version, err := entities.ParseVersion(result.Entry.Version)
	if err != nil {
		result.Failures = append(result.Failures, fmt.Sprintf("embedded version %q is malformed: %v", result.Entry.Version, err))
		return
	}

	probe := &entities.Package{
		Base:    result.Entry.Name,
		Names:   []string{result.Entry.Name},
		Version: version,
	}
	report, err := o.auditor.Audit(ctx, probe)
	if err != nil {
		result.Failures = append(result.Failures, fmt.Sprintf("vulnerability lookup failed: %v", err))
		return
	}
	result.Audit = &report
}

func signerIdentity(e *openpgp.Entity) string {
	names := make([]string, 0, len(e.Identities))
	for name := range e.Identities {
		names = append(names, name)
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return names[0]
}

// Summary generates a human-readable verification summary
func (r *VerifyResult) Summary() string {
	if !r.OK {
		return fmt.Sprintf("🚫 FAILED: %s", strings.Join(r.Failures, "; "))
	}

	summary := fmt.Sprintf("✅ PASSED: %s %s %s\n", r.Entry.Name, r.Entry.Version, r.Entry.Arch)
	summary += fmt.Sprintf("   Digest: sha256:%s\n", r.Entry.SHA256)

	switch {
	case r.Signature == nil:
		summary += "   Signature: none\n"
	default:
		summary += fmt.Sprintf("   Signature: signed by %s (%s)\n", r.Signature.SignerName, r.Signature.Fingerprint)
	}

	if r.Audit != nil {
		if len(r.Audit.Vulnerabilities) == 0 {
			summary += "   Vulnerabilities: none known\n"
		} else {
			summary += fmt.Sprintf("   Vulnerabilities: %d (max %s)\n", len(r.Audit.Vulnerabilities), r.Audit.MaxSeverity())
		}
	}

	summary += fmt.Sprintf("   Duration: %v", r.Duration.Round(time.Millisecond))
	return summary
}
