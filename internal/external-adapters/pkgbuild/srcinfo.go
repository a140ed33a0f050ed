package pkgbuild

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ochairo/cauldron/internal/domain/entities"
)

// Srcinfo renders the machine-readable summary of a manifest: a pkgbase
// block with the shared attributes followed by one pkgname block per
// member carrying only its overrides.
func Srcinfo(pkg *entities.Package) string {
	var b strings.Builder

	emit := func(key string, values ...string) {
		for _, v := range values {
			if v == "" {
				continue
			}
			fmt.Fprintf(&b, "\t%s = %s\n", key, v)
		}
	}

	fmt.Fprintf(&b, "pkgbase = %s\n", pkg.Base)
	emit("pkgdesc", pkg.Description)
	emit("pkgver", pkg.Version.Ver)
	emit("pkgrel", pkg.Version.Rel)
	if pkg.Version.Epoch > 0 {
		emit("epoch", strconv.Itoa(pkg.Version.Epoch))
	}
	emit("url", pkg.URL)
	emit("install", pkg.Install)
	emit("changelog", pkg.Changelog)
	emit("arch", pkg.Arch...)
	emit("groups", pkg.Groups...)
	emit("license", pkg.Licenses...)
	emit("checkdepends", depStrings(pkg.CheckDepends)...)
	emit("makedepends", depStrings(pkg.MakeDepends)...)
	emit("depends", depStrings(pkg.Depends)...)
	emit("optdepends", depStrings(pkg.OptDepends)...)
	emit("provides", depStrings(pkg.Provides)...)
	emit("conflicts", depStrings(pkg.Conflicts)...)
	emit("replaces", depStrings(pkg.Replaces)...)
	emit("noextract", pkg.NoExtract...)
	emit("options", pkg.Options...)
	emit("backup", pkg.Backup...)
	emit("source", sourceStrings(pkg.Sources)...)
	emit("validpgpkeys", pkg.ValidPGPKeys...)
	for _, kind := range entities.ChecksumKinds {
		if sums, ok := pkg.Checksums[kind]; ok {
			emit(string(kind)+"sums", sums...)
		}
	}

	for _, name := range pkg.Names {
		fmt.Fprintf(&b, "\npkgname = %s\n", name)
		ov := pkg.Overrides[name]
		if ov == nil {
			continue
		}
		if ov.Description != nil {
			emit("pkgdesc", *ov.Description)
		}
		if ov.URL != nil {
			emit("url", *ov.URL)
		}
		if ov.Install != nil {
			emit("install", *ov.Install)
		}
		if ov.Changelog != nil {
			emit("changelog", *ov.Changelog)
		}
		emit("arch", ov.Arch...)
		emit("groups", ov.Groups...)
		emit("license", ov.Licenses...)
		emit("depends", depStrings(ov.Depends)...)
		emit("optdepends", depStrings(ov.OptDepends)...)
		emit("provides", depStrings(ov.Provides)...)
		emit("conflicts", depStrings(ov.Conflicts)...)
		emit("replaces", depStrings(ov.Replaces)...)
		emit("options", ov.Options...)
		emit("backup", ov.Backup...)
	}

	return b.String()
}

func depStrings(deps []entities.Dependency) []string {
	if len(deps) == 0 {
		return nil
	}
	out := make([]string, len(deps))
	for i, d := range deps {
		out[i] = d.String()
	}
	return out
}

func sourceStrings(sources []entities.Source) []string {
	if len(sources) == 0 {
		return nil
	}
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = s.Raw
	}
	return out
}
