// Package orchestrators coordinates complex workflows across multiple domain services.
package orchestrators

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ochairo/cauldron/internal/domain/entities"
	"github.com/ochairo/cauldron/internal/domain/interfaces"
	"github.com/ochairo/cauldron/internal/domain/services"
)

// ManifestSource locates and loads build manifests
type ManifestSource interface {
	Locate(ctx context.Context, target string) (*entities.Package, error)
}

// ManifestLinter checks manifests before the build and staging roots after
type ManifestLinter interface {
	LintManifest(pkg *entities.Package) *entities.LintReport
	LintStaged(pkg *entities.Package, root string, buildPaths ...string) (*entities.LintReport, error)
}

// SourceFetcher brings source entries into the download cache
type SourceFetcher interface {
	FetchSources(ctx context.Context, pkg *entities.Package, startdir, srcdest string) error
	CheckoutSources(ctx context.Context, pkg *entities.Package, srcdest, srcdir string) error
}

// SourceVerifier checks cached sources against the manifest checksums
type SourceVerifier interface {
	VerifySourceFiles(ctx context.Context, pkg *entities.Package, dir string) error
}

// SignatureChecker verifies detached signature companions in the cache
type SignatureChecker interface {
	CheckSources(ctx context.Context, pkg *entities.Package, srcdest string) ([]entities.SignatureCheck, error)
}

// SourcePreparer materializes the working source tree from the cache
type SourcePreparer interface {
	PrepareSources(ctx context.Context, pkg *entities.Package, srcdest, srcdir string) error
}

// Assembler drives lifecycle hooks and writes staged members as packages
type Assembler interface {
	RunBuildHooks(ctx context.Context, pkg *entities.Package, startdir, srcdir string, runCheck bool) (string, error)
	StageMember(ctx context.Context, pkg *entities.Package, name, startdir, srcdir, pkgdir string) error
	WriteMember(ctx context.Context, view *entities.Package, pkgdir, startdir, builddir, pkgdest string) (*entities.Artifact, error)
}

// TreeInspector analyzes the binaries of a staging root
type TreeInspector interface {
	InspectTree(ctx context.Context, root string) ([]entities.ELFAnalysis, error)
}

// AttestationComposer builds and writes the SBOM and provenance sidecars
type AttestationComposer interface {
	ComposeSBOM(artifact *entities.Artifact, analyses []entities.ELFAnalysis, stamp services.BuildStamp) *entities.SBOM
	ComposeProvenance(artifact *entities.Artifact, materials []entities.Material, stamp services.BuildStamp) *entities.Provenance
	WriteSidecars(artifact *entities.Artifact, sbom *entities.SBOM, prov *entities.Provenance) (string, string, error)
}

// ArtifactSigner writes a detached signature next to a built package
type ArtifactSigner interface {
	SignPackage(ctx context.Context, artifact *entities.Artifact) (string, error)
}

// BuildDeps bundles the collaborators of the build pipeline. Signer may
// be nil when the run does not sign.
type BuildDeps struct {
	Source     ManifestSource
	Linter     ManifestLinter
	Fetcher    SourceFetcher
	Integrity  SourceVerifier
	Signatures SignatureChecker
	Preparer   SourcePreparer
	Assembler  Assembler
	Inspector  TreeInspector
	Attest     AttestationComposer
	Signer     ArtifactSigner
}

// BuildOptions holds the per-run settings of the orchestrator
type BuildOptions struct {
	// NoCheck skips check() even when the manifest declares it.
	NoCheck bool
	// NoDepsOrder builds the targets in the order given instead of
	// resolving dependencies among them.
	NoDepsOrder bool

	// Build tool identity recorded in attestation documents.
	BuildTool    string
	BuildToolVer string
	BuildUUID    string
	BuilderID    string
}

// BuildOrchestrator coordinates the complete package build workflow
type BuildOrchestrator struct {
	deps BuildDeps
	cfg  *entities.Config
	opts BuildOptions
	log  interfaces.Logger
}

// NewBuildOrchestrator creates a new build orchestrator
func NewBuildOrchestrator(deps BuildDeps, cfg *entities.Config, opts BuildOptions, log interfaces.Logger) *BuildOrchestrator {
	if cfg == nil {
		cfg = entities.DefaultConfig()
	}
	if log == nil {
		log = &interfaces.NoOpLogger{}
	}
	return &BuildOrchestrator{
		deps: deps,
		cfg:  cfg,
		opts: opts,
		log:  log,
	}
}

// BuildResult contains the result of building one manifest
type BuildResult struct {
	Package    *entities.Package
	Artifacts  []*entities.Artifact
	Signatures []string
	Checks     []entities.SignatureCheck
	Lint       *entities.LintReport

	FetchDuration time.Duration
	BuildDuration time.Duration
	TotalDuration time.Duration

	// Hardening check totals aggregated over every inspected binary.
	HardeningPassed int
	HardeningTotal  int

	Success bool
	Error   error
}

// BuildPackage executes the complete build workflow for one manifest,
// located by pkgbase, member name or directory path.
func (o *BuildOrchestrator) BuildPackage(ctx context.Context, target string) (*BuildResult, error) {
	pkg, err := o.deps.Source.Locate(ctx, target)
	if err != nil {
		result := &BuildResult{Error: fmt.Errorf("failed to load manifest: %w", err)}
		return result, result.Error
	}
	return o.build(ctx, pkg)
}

// Run builds every target in dependency order and returns one result per
// manifest. The run stops at the first failure so later packages never
// build on top of a broken dependency.
func (o *BuildOrchestrator) Run(ctx context.Context, targets []string) ([]*BuildResult, error) {
	pkgs := make([]*entities.Package, 0, len(targets))
	for _, target := range targets {
		pkg, err := o.deps.Source.Locate(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("failed to load manifest: %w", err)
		}
		pkgs = append(pkgs, pkg)
	}

	if !o.opts.NoDepsOrder {
		ordered, err := ResolveBuildOrder(pkgs)
		if err != nil {
			return nil, err
		}
		pkgs = ordered
	}

	results := make([]*BuildResult, 0, len(pkgs))
	for _, pkg := range pkgs {
		result, err := o.build(ctx, pkg)
		results = append(results, result)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func (o *BuildOrchestrator) build(ctx context.Context, pkg *entities.Package) (*BuildResult, error) {
	startTime := time.Now()
	result := &BuildResult{Package: pkg}

	// Step 1: Lint the manifest; errors stop the build before any I/O
	result.Lint = o.deps.Linter.LintManifest(pkg)
	if result.Lint.HasErrors() {
		result.Error = fmt.Errorf("manifest %s failed lint with %d errors", pkg.Base, result.Lint.Count(entities.SeverityError))
		return result, result.Error
	}

	// Step 2: Validate architecture support
	if !pkg.SupportsArch(o.cfg.CArch) {
		result.Error = fmt.Errorf("package %s does not support architecture %s", pkg.Base, o.cfg.CArch)
		return result, result.Error
	}

	startdir := pkg.Dir
	builddir := o.cfg.EffectiveBuildDir(startdir)
	if builddir != startdir {
		// A shared build directory gets one subtree per pkgbase so
		// concurrent manifests cannot trample each other.
		builddir = filepath.Join(builddir, pkg.Base)
	}
	srcdir := filepath.Join(builddir, "src")
	pkgdirBase := filepath.Join(builddir, "pkg")
	srcdest := o.cfg.EffectiveSrcDest(startdir)
	pkgdest := o.cfg.EffectivePkgDest(startdir)

	// Step 3: Fetch sources into the cache
	fetchStart := time.Now()
	if err := o.deps.Fetcher.FetchSources(ctx, pkg, startdir, srcdest); err != nil {
		result.Error = fmt.Errorf("failed to fetch sources: %w", err)
		return result, result.Error
	}
	result.FetchDuration = time.Since(fetchStart)

	// Step 4: Verify checksums and signatures against the cache
	if err := o.deps.Integrity.VerifySourceFiles(ctx, pkg, srcdest); err != nil {
		result.Error = fmt.Errorf("source verification failed: %w", err)
		return result, result.Error
	}
	checks, err := o.deps.Signatures.CheckSources(ctx, pkg, srcdest)
	if err != nil {
		result.Error = fmt.Errorf("signature verification failed: %w", err)
		return result, result.Error
	}
	result.Checks = checks
	for _, check := range checks {
		if !check.Valid || !check.Trusted {
			result.Error = fmt.Errorf("signature verification failed for %s: %s", check.File, check.Reason)
			return result, result.Error
		}
	}

	// Step 5: Materialize the working source tree
	if err := o.deps.Preparer.PrepareSources(ctx, pkg, srcdest, srcdir); err != nil {
		result.Error = fmt.Errorf("failed to prepare sources: %w", err)
		return result, result.Error
	}
	if err := o.deps.Fetcher.CheckoutSources(ctx, pkg, srcdest, srcdir); err != nil {
		result.Error = fmt.Errorf("failed to checkout sources: %w", err)
		return result, result.Error
	}

	// Step 6: Run the pre-staging hooks
	buildStart := time.Now()
	runCheck := !o.opts.NoCheck && pkg.OptionEnabled("check", o.cfg.BuildEnv.Check)
	version, err := o.deps.Assembler.RunBuildHooks(ctx, pkg, startdir, srcdir, runCheck)
	if err != nil {
		result.Error = fmt.Errorf("build failed: %w", err)
		return result, result.Error
	}
	if version != "" && version != pkg.Version.Ver {
		// pkgver() output renames the artifact; the manifest itself is
		// never rewritten.
		if !entities.IsValidPkgver(version) {
			result.Error = fmt.Errorf("pkgver() produced invalid version %q", version)
			return result, result.Error
		}
		o.log.Info("adopting pkgver() version",
			interfaces.F("pkgbase", pkg.Base),
			interfaces.F("old", pkg.Version.Ver),
			interfaces.F("new", version))
		pkg.Version.Ver = version
		pkg.Version.Rel = "1"
	}
	result.BuildDuration = time.Since(buildStart)

	// Step 7: Stage, lint and write every member
	for _, name := range pkg.Names {
		view, err := pkg.Resolve(name)
		if err != nil {
			result.Error = err
			return result, result.Error
		}

		pkgdir := filepath.Join(pkgdirBase, name)
		if err := o.deps.Assembler.StageMember(ctx, pkg, name, startdir, srcdir, pkgdir); err != nil {
			result.Error = fmt.Errorf("failed to stage %s: %w", name, err)
			return result, result.Error
		}

		staged, err := o.deps.Linter.LintStaged(view, pkgdir, srcdir, pkgdir)
		if err != nil {
			result.Error = fmt.Errorf("failed to lint staged tree for %s: %w", name, err)
			return result, result.Error
		}
		result.Lint.Merge(staged)
		if staged.HasErrors() {
			result.Error = fmt.Errorf("staged tree for %s failed lint with %d errors", name, staged.Count(entities.SeverityError))
			return result, result.Error
		}

		artifact, err := o.deps.Assembler.WriteMember(ctx, view, pkgdir, startdir, builddir, pkgdest)
		if err != nil {
			result.Error = fmt.Errorf("failed to write package %s: %w", name, err)
			return result, result.Error
		}
		result.Artifacts = append(result.Artifacts, artifact)

		analyses := o.writeAttestations(ctx, pkg, artifact, pkgdir, startTime)
		for _, analysis := range analyses {
			passed, total := analysis.Hardening.Score()
			result.HardeningPassed += passed
			result.HardeningTotal += total
			if missing := missingHardening(analysis.Hardening); missing != "" {
				result.Lint.AddPath("binary-hardening", entities.SeverityInfo, missing, analysis.Path)
			}
		}

		if o.cfg.BuildEnv.Sign && o.deps.Signer != nil {
			sigPath, err := o.deps.Signer.SignPackage(ctx, artifact)
			if err != nil {
				result.Error = fmt.Errorf("failed to sign %s: %w", artifact.FileName(), err)
				return result, result.Error
			}
			result.Signatures = append(result.Signatures, sigPath)
		}
	}

	result.Success = true
	result.TotalDuration = time.Since(startTime)
	return result, nil
}

// writeAttestations composes and writes the SBOM and provenance sidecars
// and returns the binary analyses behind them. Attestation failures are
// reported but never fail a finished build.
func (o *BuildOrchestrator) writeAttestations(ctx context.Context, pkg *entities.Package, artifact *entities.Artifact, pkgdir string, startedOn time.Time) []entities.ELFAnalysis {
	analyses, err := o.deps.Inspector.InspectTree(ctx, pkgdir)
	if err != nil {
		o.log.Warn("binary inspection failed",
			interfaces.F("package", artifact.Name),
			interfaces.F("error", err.Error()))
	}

	stamp := services.BuildStamp{
		Tool:       o.opts.BuildTool,
		ToolVer:    o.opts.BuildToolVer,
		BuildUUID:  o.opts.BuildUUID,
		BuilderID:  o.opts.BuilderID,
		StartedOn:  startedOn,
		FinishedOn: time.Now(),
	}

	sbom := o.deps.Attest.ComposeSBOM(artifact, analyses, stamp)
	prov := o.deps.Attest.ComposeProvenance(artifact, buildMaterials(pkg), stamp)
	if _, _, err := o.deps.Attest.WriteSidecars(artifact, sbom, prov); err != nil {
		o.log.Warn("failed to write attestation sidecars",
			interfaces.F("package", artifact.Name),
			interfaces.F("error", err.Error()))
	}
	return analyses
}

// missingHardening names the mitigations a binary lacks, empty when all
// checks pass.
func missingHardening(h entities.HardeningFeatures) string {
	var missing []string
	if !h.PIE {
		missing = append(missing, "not PIE")
	}
	if !h.StackCanaries {
		missing = append(missing, "no stack canaries")
	}
	if h.RELRO != "full" {
		missing = append(missing, h.RELRO+" RELRO")
	}
	if !h.NXBit {
		missing = append(missing, "executable stack")
	}
	return strings.Join(missing, ", ")
}

// buildMaterials lists the verified build inputs for provenance. Digests
// are only recorded when the manifest's effective checksum array is
// sha256, the one digest kind the document format carries.
func buildMaterials(pkg *entities.Package) []entities.Material {
	kind, sums, ok := pkg.ChecksumsFor()
	materials := make([]entities.Material, 0, len(pkg.Sources))
	for i, src := range pkg.Sources {
		material := entities.Material{URI: src.Location}
		if ok && kind == entities.ChecksumSHA256 && i < len(sums) && sums[i] != entities.SkipChecksum {
			material.Digest = entities.DigestSet{SHA256: sums[i]}
		}
		materials = append(materials, material)
	}
	return materials
}

// Summary returns a human-readable summary of the build
func (r *BuildResult) Summary() string {
	if !r.Success {
		return fmt.Sprintf("Build failed: %v", r.Error)
	}

	files := make([]string, 0, len(r.Artifacts))
	for _, a := range r.Artifacts {
		files = append(files, fmt.Sprintf("%s (%s)", a.FileName(), humanize.Bytes(uint64(a.Size))))
	}

	s := fmt.Sprintf(`Build successful!
Package: %s %s
Artifacts: %s
Fetch: %v
Build: %v
Total: %v`,
		r.Package.Base,
		r.Package.FullVersion(),
		strings.Join(files, ", "),
		r.FetchDuration.Round(time.Millisecond),
		r.BuildDuration.Round(time.Millisecond),
		r.TotalDuration.Round(time.Millisecond),
	)
	if r.HardeningTotal > 0 {
		s += fmt.Sprintf("\nHardening: %d/%d checks passed", r.HardeningPassed, r.HardeningTotal)
	}
	return s
}

// RunSummary condenses a whole run into one line per manifest plus
// totals.
func RunSummary(results []*BuildResult) string {
	var b strings.Builder
	var total time.Duration
	var size int64
	built := 0

	for _, r := range results {
		total += r.TotalDuration
		if !r.Success {
			fmt.Fprintf(&b, "FAIL %s: %v\n", r.Package.Base, r.Error)
			continue
		}
		built++
		for _, a := range r.Artifacts {
			size += a.Size
			fmt.Fprintf(&b, "OK   %s (%s)\n", a.FileName(), humanize.Bytes(uint64(a.Size)))
		}
	}

	fmt.Fprintf(&b, "%d of %d manifests built, %s written in %v",
		built, len(results), humanize.Bytes(uint64(size)), total.Round(time.Millisecond))
	return b.String()
}
