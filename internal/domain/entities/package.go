// Package entities defines core domain models and data structures.
package entities

import (
	"fmt"
	"strings"
)

// ChecksumKind names an integrity algorithm used by a checksum array
type ChecksumKind string

// Supported checksum arrays, weakest first
const (
	ChecksumMD5    ChecksumKind = "md5"
	ChecksumSHA256 ChecksumKind = "sha256"
	ChecksumSHA512 ChecksumKind = "sha512"
	ChecksumB2     ChecksumKind = "b2"
)

// ChecksumKinds lists the supported algorithms weakest first; the last
// declared algorithm of a manifest wins for verification.
var ChecksumKinds = []ChecksumKind{ChecksumMD5, ChecksumSHA256, ChecksumSHA512, ChecksumB2}

// SkipChecksum is the placeholder accepted in checksum arrays for entries
// that are not verified by digest (VCS sources, signature files).
const SkipChecksum = "SKIP"

// Standard lifecycle hook names, in execution order
const (
	HookPrepare = "prepare"
	HookPkgver  = "pkgver"
	HookBuild   = "build"
	HookCheck   = "check"
	HookPackage = "package"
)

// Package is the parsed form of a build manifest (PKGBUILD). One manifest
// may produce several packages; Names then lists every member and
// Overrides carries the per-member attribute replacements.
type Package struct {
	Base        string
	Names       []string
	Version     Version
	Description string
	URL         string
	Arch        []string
	Licenses    []string
	Groups      []string

	Depends      []Dependency
	OptDepends   []Dependency
	MakeDepends  []Dependency
	CheckDepends []Dependency
	Provides     []Dependency
	Conflicts    []Dependency
	Replaces     []Dependency

	Backup    []string
	Options   []string
	Install   string
	Changelog string

	Sources      []Source
	NoExtract    []string
	ValidPGPKeys []string
	Checksums    map[ChecksumKind][]string

	// Functions maps hook name to its printed shell source; presence is
	// what matters to the pipeline, the body is re-evaluated in place.
	Functions map[string]string

	Overrides map[string]*PackageOverride

	// Dir and Path locate the manifest on disk; Checksum is the sha256 of
	// its raw bytes as recorded in build metadata.
	Dir      string
	Path     string
	Checksum string

	// Maintainer is the "# Maintainer:" header value, kept for lint and
	// repository listings.
	Maintainer string

	// UnknownFields and HasStrayCode feed lint: assignments the parser
	// does not understand and commands outside any function body.
	UnknownFields []string
	HasStrayCode  bool
}

// PackageOverride holds the attributes a package_<name> function replaces
// for one member of a split manifest. Nil pointers and nil slices inherit
// the base value; an empty slice clears it.
type PackageOverride struct {
	Description *string
	URL         *string
	Install     *string
	Changelog   *string

	Arch     []string
	Licenses []string
	Groups   []string
	Backup   []string
	Options  []string

	Depends    []Dependency
	OptDepends []Dependency
	Provides   []Dependency
	Conflicts  []Dependency
	Replaces   []Dependency
}

// IsSplit reports whether the manifest builds more than one package
func (p *Package) IsSplit() bool {
	return len(p.Names) > 1
}

// FullVersion renders [epoch:]pkgver-pkgrel
func (p *Package) FullVersion() string {
	return p.Version.String()
}

// HasFunction reports whether the manifest declares the named hook
func (p *Package) HasFunction(name string) bool {
	_, ok := p.Functions[name]
	return ok
}

// PackageFunction returns the hook name that stages the given member:
// package_<name> when declared, plain package otherwise.
func (p *Package) PackageFunction(name string) string {
	split := HookPackage + "_" + name
	if p.HasFunction(split) {
		return split
	}
	return HookPackage
}

// ChecksumsFor returns the strongest declared checksum array along with
// its algorithm; ok is false when the manifest declares none.
func (p *Package) ChecksumsFor() (ChecksumKind, []string, bool) {
	for i := len(ChecksumKinds) - 1; i >= 0; i-- {
		kind := ChecksumKinds[i]
		if sums, ok := p.Checksums[kind]; ok {
			return kind, sums, true
		}
	}
	return "", nil, false
}

// Resolve returns the effective single-package view of one member of the
// manifest, with its override applied over the base attributes.
func (p *Package) Resolve(name string) (*Package, error) {
	found := false
	for _, n := range p.Names {
		if n == name {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("manifest %s does not build package %q", p.Base, name)
	}

	out := *p
	out.Names = []string{name}

	o := p.Overrides[name]
	if o == nil {
		return &out, nil
	}
	if o.Description != nil {
		out.Description = *o.Description
	}
	if o.URL != nil {
		out.URL = *o.URL
	}
	if o.Install != nil {
		out.Install = *o.Install
	}
	if o.Changelog != nil {
		out.Changelog = *o.Changelog
	}
	if o.Arch != nil {
		out.Arch = o.Arch
	}
	if o.Licenses != nil {
		out.Licenses = o.Licenses
	}
	if o.Groups != nil {
		out.Groups = o.Groups
	}
	if o.Backup != nil {
		out.Backup = o.Backup
	}
	if o.Options != nil {
		out.Options = o.Options
	}
	if o.Depends != nil {
		out.Depends = o.Depends
	}
	if o.OptDepends != nil {
		out.OptDepends = o.OptDepends
	}
	if o.Provides != nil {
		out.Provides = o.Provides
	}
	if o.Conflicts != nil {
		out.Conflicts = o.Conflicts
	}
	if o.Replaces != nil {
		out.Replaces = o.Replaces
	}

	return &out, nil
}

// OptionEnabled evaluates a makepkg-style options array entry: "strip"
// enables, "!strip" disables, absence falls back to the given default.
func (p *Package) OptionEnabled(name string, def bool) bool {
	for _, o := range p.Options {
		if o == name {
			return true
		}
		if o == "!"+name {
			return false
		}
	}
	return def
}

// SupportsArch reports whether the manifest can build for the given
// machine architecture.
func (p *Package) SupportsArch(carch string) bool {
	for _, a := range p.Arch {
		if a == "any" || a == carch {
			return true
		}
	}
	return false
}

// PackageArch returns the architecture component of built package names:
// "any" for architecture-independent packages, carch otherwise.
func (p *Package) PackageArch(carch string) string {
	if len(p.Arch) == 1 && p.Arch[0] == "any" {
		return "any"
	}
	return carch
}

// AllDependencies returns depends, makedepends and checkdepends in one
// slice, for build ordering and auditing.
func (p *Package) AllDependencies() []Dependency {
	out := make([]Dependency, 0, len(p.Depends)+len(p.MakeDepends)+len(p.CheckDepends))
	out = append(out, p.Depends...)
	out = append(out, p.MakeDepends...)
	out = append(out, p.CheckDepends...)
	return out
}

// Summary renders a one-line human description used by list output
func (p *Package) Summary() string {
	name := p.Base
	if p.IsSplit() {
		name = fmt.Sprintf("%s (%s)", p.Base, strings.Join(p.Names, ", "))
	}
	return fmt.Sprintf("%s %s", name, p.FullVersion())
}
