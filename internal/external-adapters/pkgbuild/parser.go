// Package pkgbuild parses and rewrites build manifests written as
// PKGBUILD shell scripts. Manifests are evaluated lexically: metadata
// assignments are expanded without running any shell code, and hook
// bodies are only recorded, never executed here.
package pkgbuild

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"

	"github.com/ochairo/cauldron/internal/domain/entities"
)

// ManifestName is the file name manifests are stored under
const ManifestName = "PKGBUILD"

// Parser parses PKGBUILD manifests into Package entities
type Parser struct {
	parser  *syntax.Parser
	printer *syntax.Printer
}

// NewParser creates a new manifest parser
func NewParser() *Parser {
	return &Parser{
		parser:  syntax.NewParser(),
		printer: syntax.NewPrinter(),
	}
}

// ParseFile parses a manifest file into a Package entity
func (p *Parser) ParseFile(path string) (*entities.Package, error) {
	//nolint:gosec // G304: path is a manifest location chosen by the caller
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	pkg, err := p.Parse(data, path)
	if err != nil {
		return nil, err
	}

	pkg.Path = path
	pkg.Dir = filepath.Dir(path)
	return pkg, nil
}

// Parse parses manifest bytes into a Package entity. The name is used in
// error positions only.
func (p *Parser) Parse(data []byte, name string) (*entities.Package, error) {
	file, err := p.parser.Parse(bytes.NewReader(data), name)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	st := newParseState()

	for _, stmt := range file.Stmts {
		switch cmd := stmt.Cmd.(type) {
		case *syntax.CallExpr:
			if len(cmd.Args) > 0 {
				st.pkg.HasStrayCode = true
				continue
			}
			for _, as := range cmd.Assigns {
				if err := st.assign(as); err != nil {
					return nil, fmt.Errorf("%s:%d: %w", name, stmt.Pos().Line(), err)
				}
			}
		case *syntax.FuncDecl:
			if err := p.recordFunction(st, cmd); err != nil {
				return nil, fmt.Errorf("%s:%d: %w", name, stmt.Pos().Line(), err)
			}
		default:
			st.pkg.HasStrayCode = true
		}
	}

	if err := st.finalize(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	st.pkg.Maintainer = scanMaintainer(data)
	sum := sha256.Sum256(data)
	st.pkg.Checksum = hex.EncodeToString(sum[:])

	return st.pkg, nil
}

// recordFunction stores the printed hook body and, for package_<name>
// functions, recovers the attribute overrides declared in it.
func (p *Parser) recordFunction(st *parseState, fn *syntax.FuncDecl) error {
	name := fn.Name.Value

	var buf bytes.Buffer
	if err := p.printer.Print(&buf, fn); err != nil {
		return fmt.Errorf("failed to render function %s: %w", name, err)
	}
	st.pkg.Functions[name] = buf.String()

	if member, ok := strings.CutPrefix(name, entities.HookPackage+"_"); ok {
		ov, err := st.extractOverride(fn)
		if err != nil {
			return fmt.Errorf("in %s: %w", name, err)
		}
		st.pkg.Overrides[member] = ov
	}
	return nil
}

type parseState struct {
	pkg    *entities.Package
	vars   map[string]string
	arrays map[string][]string
}

func newParseState() *parseState {
	return &parseState{
		pkg: &entities.Package{
			Checksums: make(map[entities.ChecksumKind][]string),
			Functions: make(map[string]string),
			Overrides: make(map[string]*entities.PackageOverride),
		},
		vars:   make(map[string]string),
		arrays: make(map[string][]string),
	}
}

// expandConfig builds the expansion environment from every variable bound
// so far; arrays contribute their first element, the way bash expands an
// unsubscripted array reference.
func (s *parseState) expandConfig() *expand.Config {
	pairs := make([]string, 0, len(s.vars)+len(s.arrays))
	for k, v := range s.vars {
		pairs = append(pairs, k+"="+v)
	}
	for k, v := range s.arrays {
		if _, shadowed := s.vars[k]; !shadowed && len(v) > 0 {
			pairs = append(pairs, k+"="+v[0])
		}
	}
	return &expand.Config{Env: expand.ListEnviron(pairs...)}
}

func (s *parseState) expandWord(w *syntax.Word) (string, error) {
	if w == nil {
		return "", nil
	}
	if err := rejectCmdSubst(w); err != nil {
		return "", err
	}
	fields, err := expand.Fields(s.expandConfig(), w)
	if err != nil {
		return "", fmt.Errorf("failed to expand value: %w", err)
	}
	return strings.Join(fields, " "), nil
}

func (s *parseState) expandArray(a *syntax.ArrayExpr) ([]string, error) {
	values := make([]string, 0, len(a.Elems))
	for _, el := range a.Elems {
		if el.Value == nil {
			continue
		}
		if err := rejectCmdSubst(el.Value); err != nil {
			return nil, err
		}
		fields, err := expand.Fields(s.expandConfig(), el.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to expand value: %w", err)
		}
		values = append(values, fields...)
	}
	return values, nil
}

// rejectCmdSubst refuses $(...) and <(...) in metadata values; hook
// bodies may use them freely, metadata must stay static.
func rejectCmdSubst(w *syntax.Word) error {
	found := false
	syntax.Walk(w, func(node syntax.Node) bool {
		switch node.(type) {
		case *syntax.CmdSubst, *syntax.ProcSubst:
			found = true
		}
		return !found
	})
	if found {
		return fmt.Errorf("command substitution is not allowed in metadata")
	}
	return nil
}

func (s *parseState) assign(as *syntax.Assign) error {
	if as.Name == nil {
		return nil
	}
	name := as.Name.Value

	if as.Append {
		return fmt.Errorf("%s: appending assignments are not supported in metadata", name)
	}

	if as.Array != nil {
		vals, err := s.expandArray(as.Array)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		s.arrays[name] = vals
		return s.setArrayField(name, vals)
	}

	val, err := s.expandWord(as.Value)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	s.vars[name] = val
	return s.setScalarField(name, val)
}

func (s *parseState) setScalarField(name, val string) error {
	switch name {
	case "pkgbase":
		s.pkg.Base = val
	case "pkgname":
		s.pkg.Names = []string{val}
	case "pkgver", "pkgrel", "epoch":
		// validated together in finalize
	case "pkgdesc":
		s.pkg.Description = val
	case "url":
		s.pkg.URL = val
	case "install":
		s.pkg.Install = val
	case "changelog":
		s.pkg.Changelog = val
	default:
		s.noteUnknown(name)
	}
	return nil
}

func (s *parseState) setArrayField(name string, vals []string) error {
	var err error
	switch name {
	case "pkgname":
		s.pkg.Names = vals
	case "arch":
		s.pkg.Arch = vals
	case "license":
		s.pkg.Licenses = vals
	case "groups":
		s.pkg.Groups = vals
	case "backup":
		s.pkg.Backup = vals
	case "options":
		s.pkg.Options = vals
	case "noextract":
		s.pkg.NoExtract = vals
	case "validpgpkeys":
		s.pkg.ValidPGPKeys = vals
	case "depends":
		s.pkg.Depends, err = entities.ParseDependencies(vals)
	case "optdepends":
		s.pkg.OptDepends, err = entities.ParseDependencies(vals)
	case "makedepends":
		s.pkg.MakeDepends, err = entities.ParseDependencies(vals)
	case "checkdepends":
		s.pkg.CheckDepends, err = entities.ParseDependencies(vals)
	case "provides":
		s.pkg.Provides, err = entities.ParseDependencies(vals)
	case "conflicts":
		s.pkg.Conflicts, err = entities.ParseDependencies(vals)
	case "replaces":
		s.pkg.Replaces, err = entities.ParseDependencies(vals)
	case "source":
		s.pkg.Sources, err = entities.ParseSources(vals)
	case "md5sums":
		s.pkg.Checksums[entities.ChecksumMD5] = vals
	case "sha256sums":
		s.pkg.Checksums[entities.ChecksumSHA256] = vals
	case "sha512sums":
		s.pkg.Checksums[entities.ChecksumSHA512] = vals
	case "b2sums":
		s.pkg.Checksums[entities.ChecksumB2] = vals
	case "pkgver", "pkgrel", "epoch", "pkgbase", "pkgdesc", "url", "install", "changelog":
		return fmt.Errorf("%s must be a single value, not an array", name)
	default:
		s.noteUnknown(name)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// noteUnknown records unrecognized fields for lint; underscore-prefixed
// names are the conventional escape hatch for custom variables.
func (s *parseState) noteUnknown(name string) {
	if strings.HasPrefix(name, "_") {
		return
	}
	s.pkg.UnknownFields = append(s.pkg.UnknownFields, name)
}

// extractOverride collects the naked assignments at the top level of a
// package_<name> body. Anything below a conditional or loop is beyond a
// lexical reading and is left to the hook runner.
func (s *parseState) extractOverride(fn *syntax.FuncDecl) (*entities.PackageOverride, error) {
	ov := &entities.PackageOverride{}
	if fn.Body == nil {
		return ov, nil
	}

	var stmts []*syntax.Stmt
	switch body := fn.Body.Cmd.(type) {
	case *syntax.Block:
		stmts = body.Stmts
	case *syntax.Subshell:
		stmts = body.Stmts
	default:
		return ov, nil
	}

	for _, stmt := range stmts {
		call, ok := stmt.Cmd.(*syntax.CallExpr)
		if !ok || len(call.Args) > 0 {
			continue
		}
		for _, as := range call.Assigns {
			if err := s.applyOverride(ov, as); err != nil {
				return nil, err
			}
		}
	}
	return ov, nil
}

func (s *parseState) applyOverride(ov *entities.PackageOverride, as *syntax.Assign) error {
	if as.Name == nil || as.Append {
		return nil
	}
	name := as.Name.Value

	if as.Array == nil {
		val, err := s.expandWord(as.Value)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		switch name {
		case "pkgdesc":
			ov.Description = &val
		case "url":
			ov.URL = &val
		case "install":
			ov.Install = &val
		case "changelog":
			ov.Changelog = &val
		}
		return nil
	}

	vals, err := s.expandArray(as.Array)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	switch name {
	case "arch":
		ov.Arch = vals
	case "license":
		ov.Licenses = vals
	case "groups":
		ov.Groups = vals
	case "backup":
		ov.Backup = vals
	case "options":
		ov.Options = vals
	case "depends":
		ov.Depends, err = parseOverrideDeps(vals)
	case "optdepends":
		ov.OptDepends, err = parseOverrideDeps(vals)
	case "provides":
		ov.Provides, err = parseOverrideDeps(vals)
	case "conflicts":
		ov.Conflicts, err = parseOverrideDeps(vals)
	case "replaces":
		ov.Replaces, err = parseOverrideDeps(vals)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// parseOverrideDeps keeps empty arrays distinguishable from absent ones
// so an override can clear an inherited list.
func parseOverrideDeps(vals []string) ([]entities.Dependency, error) {
	deps, err := entities.ParseDependencies(vals)
	if err != nil {
		return nil, err
	}
	if deps == nil {
		deps = []entities.Dependency{}
	}
	return deps, nil
}

func (s *parseState) finalize() error {
	pkg := s.pkg

	if len(pkg.Names) == 0 {
		return fmt.Errorf("manifest must set pkgname")
	}
	for _, n := range pkg.Names {
		if !entities.IsValidPkgname(n) {
			return fmt.Errorf("invalid package name %q", n)
		}
	}
	if pkg.Base == "" {
		pkg.Base = pkg.Names[0]
	}
	if !entities.IsValidPkgname(pkg.Base) {
		return fmt.Errorf("invalid package base %q", pkg.Base)
	}

	ver, ok := s.vars["pkgver"]
	if !ok || ver == "" {
		return fmt.Errorf("manifest must set pkgver")
	}
	if !entities.IsValidPkgver(ver) {
		return fmt.Errorf("invalid pkgver %q", ver)
	}

	rel, ok := s.vars["pkgrel"]
	if !ok || rel == "" {
		return fmt.Errorf("manifest must set pkgrel")
	}
	if !entities.IsValidPkgrel(rel) {
		return fmt.Errorf("invalid pkgrel %q", rel)
	}

	epoch := 0
	if raw, ok := s.vars["epoch"]; ok && raw != "" {
		var err error
		epoch, err = strconv.Atoi(raw)
		if err != nil || epoch < 0 {
			return fmt.Errorf("invalid epoch %q", raw)
		}
	}

	pkg.Version = entities.Version{Epoch: epoch, Ver: ver, Rel: rel}

	for member := range pkg.Overrides {
		known := false
		for _, n := range pkg.Names {
			if n == member {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("package_%s() does not match any pkgname entry", member)
		}
	}

	return nil
}

// scanMaintainer extracts the conventional "# Maintainer:" header
func scanMaintainer(data []byte) string {
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(trimmed, "# Maintainer:"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}
