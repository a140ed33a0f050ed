package gateways

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ochairo/cauldron/internal/domain/entities"
	"github.com/ochairo/cauldron/internal/domain/interfaces"
)

// AssemblerOptions carries the run-level build settings: everything that
// stays the same across the manifests of one invocation.
type AssemblerOptions struct {
	CArch     string
	CHost     string
	MakeFlags string
	Packager  string

	Compression entities.CompressionSettings

	// BuildEnv holds the buildenv lines recorded in build metadata,
	// makepkg.conf style ("color", "!sign", ...).
	BuildEnv []string

	BuildTool    string
	BuildToolVer string
	BuildUUID    string

	// BuildDate pins the build timestamp; zero means the wall clock at
	// write time.
	BuildDate time.Time

	// SourceDateEpoch is exported to hooks when positive.
	SourceDateEpoch int64

	// HookTimeout bounds each hook run; zero uses the runner default.
	HookTimeout time.Duration

	// Env carries extra variables exported to every hook.
	Env map[string]string

	Stdout io.Writer
	Stderr io.Writer
}

// assembler turns a fetched and extracted source tree into package
// archives: it drives the manifest's lifecycle hooks and writes each
// staged member through the package writer.
type assembler struct {
	hooks  *hookRunner
	writer *pkgWriter
	opts   AssemblerOptions
	log    interfaces.Logger
}

// NewAssembler creates a new package assembler
//
//nolint:revive // unexported-return: Intentionally returns concrete type for testability
func NewAssembler(log interfaces.Logger, opts AssemblerOptions) *assembler {
	if log == nil {
		log = &interfaces.NoOpLogger{}
	}
	return &assembler{
		hooks:  NewHookRunner(log),
		writer: NewPkgWriter(log),
		opts:   opts,
		log:    log,
	}
}

func (a *assembler) hookEnv(startdir, srcdir, pkgdir, member string) HookEnv {
	return HookEnv{
		StartDir:        startdir,
		SrcDir:          srcdir,
		PkgDir:          pkgdir,
		PkgName:         member,
		CArch:           a.opts.CArch,
		CHost:           a.opts.CHost,
		MakeFlags:       a.opts.MakeFlags,
		Packager:        a.opts.Packager,
		SourceDateEpoch: a.opts.SourceDateEpoch,
		Vars:            a.opts.Env,
		Stdout:          a.opts.Stdout,
		Stderr:          a.opts.Stderr,
		Timeout:         a.opts.HookTimeout,
	}
}

// RunBuildHooks executes the pre-staging hook sequence in one shell:
// prepare, then pkgver capture, then build, then check when runCheck is
// set. The returned string is the captured pkgver output, empty when the
// manifest declares no pkgver().
func (a *assembler) RunBuildHooks(ctx context.Context, pkg *entities.Package, startdir, srcdir string, runCheck bool) (string, error) {
	declared := false
	for _, hook := range []string{entities.HookPrepare, entities.HookPkgver, entities.HookBuild, entities.HookCheck} {
		if pkg.HasFunction(hook) {
			declared = true
			break
		}
	}
	if !declared {
		return "", nil
	}

	env := a.hookEnv(startdir, srcdir, "", "")
	shell, err := a.hooks.NewShell(ctx, pkg, env)
	if err != nil {
		return "", err
	}

	if pkg.HasFunction(entities.HookPrepare) {
		if err := shell.Run(ctx, entities.HookPrepare); err != nil {
			return "", err
		}
	}

	version := ""
	if pkg.HasFunction(entities.HookPkgver) {
		version, err = a.hooks.Capture(ctx, pkg, env, entities.HookPkgver)
		if err != nil {
			return "", err
		}
	}

	if pkg.HasFunction(entities.HookBuild) {
		if err := shell.Run(ctx, entities.HookBuild); err != nil {
			return version, err
		}
	}

	if runCheck && pkg.HasFunction(entities.HookCheck) {
		if err := shell.Run(ctx, entities.HookCheck); err != nil {
			return version, err
		}
	}

	return version, nil
}

// StageMember runs the package function for one member into a fresh
// staging root at pkgdir. The member shell re-evaluates the manifest, so
// variables set by earlier hooks do not carry over; state flows through
// srcdir.
func (a *assembler) StageMember(ctx context.Context, pkg *entities.Package, name, startdir, srcdir, pkgdir string) error {
	if err := os.RemoveAll(pkgdir); err != nil {
		return fmt.Errorf("failed to clear staging root: %w", err)
	}
	if err := os.MkdirAll(pkgdir, 0750); err != nil {
		return fmt.Errorf("failed to create staging root: %w", err)
	}

	hook := pkg.PackageFunction(name)
	if !pkg.HasFunction(hook) {
		return fmt.Errorf("manifest %s declares no %s() for member %s", pkg.Base, hook, name)
	}

	shell, err := a.hooks.NewShell(ctx, pkg, a.hookEnv(startdir, srcdir, pkgdir, name))
	if err != nil {
		return err
	}
	return shell.Run(ctx, hook)
}

// WriteMember writes one staged member as a package archive into pkgdest
// and returns the built artifact. view must be the resolved single-member
// form of the manifest.
func (a *assembler) WriteMember(ctx context.Context, view *entities.Package, pkgdir, startdir, builddir, pkgdest string) (*entities.Artifact, error) {
	buildDate := a.opts.BuildDate
	if buildDate.IsZero() {
		buildDate = time.Now()
	}

	return a.writer.WritePackage(ctx, WriteRequest{
		Pkg:          view,
		PkgDir:       pkgdir,
		StartDir:     startdir,
		BuildDir:     builddir,
		PkgDest:      pkgdest,
		CArch:        a.opts.CArch,
		Packager:     a.opts.Packager,
		BuildEnv:     a.opts.BuildEnv,
		Options:      view.Options,
		BuildDate:    buildDate,
		BuildUUID:    a.opts.BuildUUID,
		BuildTool:    a.opts.BuildTool,
		BuildToolVer: a.opts.BuildToolVer,
		Compression:  a.opts.Compression,
	})
}
