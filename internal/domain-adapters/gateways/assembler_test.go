package gateways

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ochairo/cauldron/internal/domain/entities"
)

// assemblerDirs creates the src/ and pkg/<member> subtrees the assembler
// expects under the manifest's startdir.
func assemblerDirs(t *testing.T, pkg *entities.Package) (srcdir, pkgdir string) {
	t.Helper()
	srcdir = filepath.Join(pkg.Dir, "src")
	pkgdir = filepath.Join(pkg.Dir, "pkg", pkg.Names[0])
	for _, d := range []string{srcdir, pkgdir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", d, err)
		}
	}
	return srcdir, pkgdir
}

func TestAssembler_RunBuildHooks(t *testing.T) {
	pkg := hookManifest(t, `pkgname=tool
pkgver=1.0
pkgrel=1

prepare() {
	touch prepared
}

build() {
	touch built
}

check() {
	touch checked
}
`, "prepare", "build", "check")
	srcdir, _ := assemblerDirs(t, pkg)

	asm := NewAssembler(nil, AssemblerOptions{CArch: "x86_64"})
	version, err := asm.RunBuildHooks(context.Background(), pkg, pkg.Dir, srcdir, true)
	if err != nil {
		t.Fatalf("RunBuildHooks() error = %v", err)
	}
	if version != "" {
		t.Errorf("version = %q, want empty without pkgver()", version)
	}

	for _, marker := range []string{"prepared", "built", "checked"} {
		if _, err := os.Stat(filepath.Join(srcdir, marker)); err != nil {
			t.Errorf("hook marker %s missing: %v", marker, err)
		}
	}
}

func TestAssembler_RunBuildHooks_SkipsCheck(t *testing.T) {
	pkg := hookManifest(t, `pkgname=tool
pkgver=1.0
pkgrel=1

build() {
	touch built
}

check() {
	touch checked
}
`, "build", "check")
	srcdir, _ := assemblerDirs(t, pkg)

	asm := NewAssembler(nil, AssemblerOptions{CArch: "x86_64"})
	if _, err := asm.RunBuildHooks(context.Background(), pkg, pkg.Dir, srcdir, false); err != nil {
		t.Fatalf("RunBuildHooks() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(srcdir, "built")); err != nil {
		t.Errorf("build() did not run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(srcdir, "checked")); !os.IsNotExist(err) {
		t.Error("check() ran with runCheck disabled")
	}
}

func TestAssembler_RunBuildHooks_CapturesPkgver(t *testing.T) {
	pkg := hookManifest(t, `pkgname=tool
pkgver=1.0
pkgrel=1

pkgver() {
	echo "2.0.1"
}

build() {
	touch built
}
`, "pkgver", "build")
	srcdir, _ := assemblerDirs(t, pkg)

	asm := NewAssembler(nil, AssemblerOptions{CArch: "x86_64"})
	version, err := asm.RunBuildHooks(context.Background(), pkg, pkg.Dir, srcdir, false)
	if err != nil {
		t.Fatalf("RunBuildHooks() error = %v", err)
	}
	if version != "2.0.1" {
		t.Errorf("version = %q, want %q", version, "2.0.1")
	}
}

func TestAssembler_RunBuildHooks_NoHooks(t *testing.T) {
	pkg := hookManifest(t, `pkgname=tool
pkgver=1.0
pkgrel=1

package() {
	:
}
`, "package")
	srcdir, _ := assemblerDirs(t, pkg)

	asm := NewAssembler(nil, AssemblerOptions{CArch: "x86_64"})
	version, err := asm.RunBuildHooks(context.Background(), pkg, pkg.Dir, srcdir, true)
	if err != nil {
		t.Fatalf("RunBuildHooks() error = %v", err)
	}
	if version != "" {
		t.Errorf("version = %q, want empty", version)
	}
}

func TestAssembler_RunBuildHooks_HookFailure(t *testing.T) {
	pkg := hookManifest(t, `pkgname=tool
pkgver=1.0
pkgrel=1

build() {
	exit 3
}
`, "build")
	srcdir, _ := assemblerDirs(t, pkg)

	asm := NewAssembler(nil, AssemblerOptions{CArch: "x86_64"})
	_, err := asm.RunBuildHooks(context.Background(), pkg, pkg.Dir, srcdir, false)

	var hookErr *HookError
	if !errors.As(err, &hookErr) {
		t.Fatalf("error = %v, want *HookError", err)
	}
	if hookErr.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", hookErr.ExitCode)
	}
}

func TestAssembler_StageMember(t *testing.T) {
	pkg := hookManifest(t, `pkgname=tool
pkgver=1.0
pkgrel=1

package() {
	mkdir -p "$pkgdir/usr/bin"
	echo tool > "$pkgdir/usr/bin/tool"
}
`, "package")
	srcdir, pkgdir := assemblerDirs(t, pkg)

	// a leftover from an earlier run must not survive restaging
	stale := filepath.Join(pkgdir, "stale.txt")
	if err := os.WriteFile(stale, []byte("old"), 0600); err != nil {
		t.Fatal(err)
	}

	asm := NewAssembler(nil, AssemblerOptions{CArch: "x86_64"})
	if err := asm.StageMember(context.Background(), pkg, "tool", pkg.Dir, srcdir, pkgdir); err != nil {
		t.Fatalf("StageMember() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(pkgdir, "usr", "bin", "tool")); err != nil {
		t.Errorf("staged file missing: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale file survived restaging")
	}
}

func TestAssembler_StageMember_SplitFunction(t *testing.T) {
	pkg := hookManifest(t, `pkgname=tool
pkgver=1.0
pkgrel=1

package_tool-extra() {
	echo extra > "$pkgdir/member.txt"
}
`, "package_tool-extra")
	pkg.Names = []string{"tool", "tool-extra"}
	srcdir, _ := assemblerDirs(t, pkg)
	pkgdir := filepath.Join(pkg.Dir, "pkg", "tool-extra")

	asm := NewAssembler(nil, AssemblerOptions{CArch: "x86_64"})
	if err := asm.StageMember(context.Background(), pkg, "tool-extra", pkg.Dir, srcdir, pkgdir); err != nil {
		t.Fatalf("StageMember() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(pkgdir, "member.txt"))
	if err != nil {
		t.Fatalf("member marker missing: %v", err)
	}
	if string(got) != "extra\n" {
		t.Errorf("member.txt = %q", got)
	}
}

func TestAssembler_StageMember_MissingFunction(t *testing.T) {
	pkg := hookManifest(t, `pkgname=tool
pkgver=1.0
pkgrel=1

build() {
	:
}
`, "build")
	srcdir, pkgdir := assemblerDirs(t, pkg)

	asm := NewAssembler(nil, AssemblerOptions{CArch: "x86_64"})
	err := asm.StageMember(context.Background(), pkg, "tool", pkg.Dir, srcdir, pkgdir)
	if err == nil {
		t.Fatal("StageMember() should fail without a package function")
	}
	if !strings.Contains(err.Error(), "declares no package() for member tool") {
		t.Errorf("error = %v, want missing package function", err)
	}
}

func TestAssembler_WriteMember(t *testing.T) {
	pkg := hookManifest(t, `pkgname=tool
pkgver=1.0
pkgrel=1

package() {
	mkdir -p "$pkgdir/usr/bin"
	echo tool > "$pkgdir/usr/bin/tool"
	mkdir -p "$pkgdir/usr/share/licenses/tool"
	echo MIT > "$pkgdir/usr/share/licenses/tool/LICENSE"
}
`, "package")
	pkg.Arch = []string{"x86_64"}
	pkg.Checksum = strings.Repeat("ab", 32)
	srcdir, pkgdir := assemblerDirs(t, pkg)
	pkgdest := t.TempDir()

	asm := NewAssembler(nil, AssemblerOptions{
		CArch:       "x86_64",
		Packager:    "Ada Onyx <ada@example.com>",
		Compression: entities.CompressionSettings{Format: entities.CompressZstd},
		BuildDate:   pkgWriterBuildDate,
	})
	if err := asm.StageMember(context.Background(), pkg, "tool", pkg.Dir, srcdir, pkgdir); err != nil {
		t.Fatalf("StageMember() error = %v", err)
	}

	artifact, err := asm.WriteMember(context.Background(), pkg, pkgdir, pkg.Dir, pkg.Dir, pkgdest)
	if err != nil {
		t.Fatalf("WriteMember() error = %v", err)
	}

	if want := "tool-1.0-1-x86_64.pkg.tar.zst"; artifact.FileName() != want {
		t.Errorf("FileName() = %q, want %q", artifact.FileName(), want)
	}
	if _, err := os.Stat(artifact.Path); err != nil {
		t.Errorf("package file missing: %v", err)
	}
	if artifact.FileCount != 2 {
		t.Errorf("FileCount = %d, want 2", artifact.FileCount)
	}
}
