package gateways

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/ochairo/cauldron/internal/domain/entities"
	"github.com/ochairo/cauldron/internal/domain/interfaces"
)

// hookRunner executes manifest lifecycle hooks with an embedded shell
// interpreter, so builds behave the same on every platform that can run
// the toolchain the hooks call.
type hookRunner struct {
	defaultTimeout time.Duration
	log            interfaces.Logger
}

// NewHookRunner creates a new hook runner
//
//nolint:revive // unexported-return: Intentionally returns concrete type for testability
func NewHookRunner(log interfaces.Logger) *hookRunner {
	if log == nil {
		log = &interfaces.NoOpLogger{}
	}
	return &hookRunner{
		defaultTimeout: 30 * time.Minute,
		log:            log,
	}
}

// HookEnv is the directory layout and variable set one build exposes to
// its hooks.
type HookEnv struct {
	StartDir string
	SrcDir   string
	PkgDir   string

	// PkgName is the member a package_<name> hook stages; empty means the
	// base package.
	PkgName string

	CArch     string
	CHost     string
	MakeFlags string
	Packager  string

	// SourceDateEpoch pins build timestamps for reproducibility; zero
	// leaves the variable unset.
	SourceDateEpoch int64

	// Vars carries extra environment from the run configuration and any
	// --env-file entries.
	Vars map[string]string

	Stdout io.Writer
	Stderr io.Writer

	Timeout time.Duration
}

// HookError reports a hook function that exited non-zero
type HookError struct {
	Hook     string
	ExitCode int
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s() failed with exit status %d", e.Hook, e.ExitCode)
}

// BuildShell is one interpreter spanning a build's hook sequence.
// Variables and functions the manifest or an earlier hook defines stay
// visible to later hooks, matching how the manifest format is evaluated
// by its reference tooling.
type BuildShell struct {
	runner *interp.Runner
	parser *syntax.Parser
	env    HookEnv
	pkg    *entities.Package
	hr     *hookRunner
}

// NewShell parses the manifest and evaluates its top level, binding the
// metadata variables and hook functions into a fresh interpreter rooted
// at srcdir.
func (hr *hookRunner) NewShell(ctx context.Context, pkg *entities.Package, env HookEnv) (*BuildShell, error) {
	shell := &BuildShell{
		parser: syntax.NewParser(),
		env:    env,
		pkg:    pkg,
		hr:     hr,
	}

	prog, err := shell.parseManifest()
	if err != nil {
		return nil, err
	}

	runner, err := interp.New(shell.runnerOptions(env.Stdout, env.Stderr)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create interpreter: %w", err)
	}
	shell.runner = runner

	if err := runner.Run(ctx, prog); err != nil {
		return nil, fmt.Errorf("failed to evaluate manifest %s: %w", pkg.Path, err)
	}
	return shell, nil
}

func (s *BuildShell) parseManifest() (*syntax.File, error) {
	//nolint:gosec // G304: the manifest path comes from the build invocation
	f, err := os.Open(s.pkg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	prog, err := s.parser.Parse(f, filepath.Base(s.pkg.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", s.pkg.Path, err)
	}
	return prog, nil
}

func (s *BuildShell) runnerOptions(stdout, stderr io.Writer) []interp.RunnerOption {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return []interp.RunnerOption{
		interp.Dir(s.env.SrcDir),
		interp.Env(expand.ListEnviron(s.environ()...)),
		interp.StdIO(nil, stdout, stderr),
		interp.Params("-e"),
	}
}

// environ builds the hook environment on top of the process environment.
// Later entries win, so the build variables override anything inherited.
func (s *BuildShell) environ() []string {
	pkg, env := s.pkg, s.env

	name := env.PkgName
	if name == "" {
		name = pkg.Names[0]
	}

	vars := os.Environ()
	vars = append(vars,
		"startdir="+env.StartDir,
		"srcdir="+env.SrcDir,
		"pkgdir="+env.PkgDir,
		"pkgbase="+pkg.Base,
		"pkgname="+name,
		"pkgver="+pkg.Version.Ver,
		"pkgrel="+pkg.Version.Rel,
		"epoch="+strconv.Itoa(pkg.Version.Epoch),
		"CARCH="+env.CArch,
		"CHOST="+env.CHost,
		"MAKEFLAGS="+env.MakeFlags,
		"PACKAGER="+env.Packager,
	)
	if env.SourceDateEpoch > 0 {
		vars = append(vars, "SOURCE_DATE_EPOCH="+strconv.FormatInt(env.SourceDateEpoch, 10))
	}

	extra := make([]string, 0, len(env.Vars))
	for k, v := range env.Vars {
		extra = append(extra, k+"="+v)
	}
	sort.Strings(extra)
	return append(vars, extra...)
}

// Run invokes one hook function by name and maps a non-zero exit to
// HookError. The interpreter runs with -e, so an unchecked failing
// command aborts the hook.
func (s *BuildShell) Run(ctx context.Context, hook string) error {
	if !s.pkg.HasFunction(hook) {
		return fmt.Errorf("manifest %s declares no %s()", s.pkg.Base, hook)
	}

	timeout := s.env.Timeout
	if timeout == 0 {
		timeout = s.hr.defaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	s.hr.log.Info("running hook",
		interfaces.F("pkgbase", s.pkg.Base),
		interfaces.F("hook", hook))

	call, err := s.callStatement(hook)
	if err != nil {
		return err
	}

	err = s.runner.Run(execCtx, call)
	if err != nil {
		if exitStatus, ok := interp.IsExitStatus(err); ok {
			if execCtx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("%s() timed out after %v", hook, timeout)
			}
			return &HookError{Hook: hook, ExitCode: int(exitStatus)}
		}
		if execCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%s() timed out after %v", hook, timeout)
		}
		return fmt.Errorf("%s() failed: %w", hook, err)
	}

	s.hr.log.Info("hook finished",
		interfaces.F("hook", hook),
		interfaces.F("duration", time.Since(start).Round(time.Millisecond).String()))
	return nil
}

// callStatement parses a bare invocation of the hook function. The name
// comes from the fixed hook vocabulary plus validated package names, so
// it is always a plain shell word.
func (s *BuildShell) callStatement(hook string) (*syntax.File, error) {
	prog, err := s.parser.Parse(strings.NewReader(hook+"\n"), hook)
	if err != nil {
		return nil, fmt.Errorf("invalid hook name %q: %w", hook, err)
	}
	return prog, nil
}

// Capture runs one hook in a throwaway interpreter with the manifest
// re-evaluated and returns its trimmed stdout. Used for pkgver(), whose
// output becomes the new package version.
func (hr *hookRunner) Capture(ctx context.Context, pkg *entities.Package, env HookEnv, hook string) (string, error) {
	if !pkg.HasFunction(hook) {
		return "", fmt.Errorf("manifest %s declares no %s()", pkg.Base, hook)
	}

	var stdout bytes.Buffer
	shell := &BuildShell{
		parser: syntax.NewParser(),
		env:    env,
		pkg:    pkg,
		hr:     hr,
	}

	prog, err := shell.parseManifest()
	if err != nil {
		return "", err
	}

	runner, err := interp.New(shell.runnerOptions(&stdout, env.Stderr)...)
	if err != nil {
		return "", fmt.Errorf("failed to create interpreter: %w", err)
	}
	shell.runner = runner

	if err := runner.Run(ctx, prog); err != nil {
		return "", fmt.Errorf("failed to evaluate manifest %s: %w", pkg.Path, err)
	}
	if err := shell.Run(ctx, hook); err != nil {
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}
