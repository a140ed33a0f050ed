package gateways

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	"github.com/ochairo/cauldron/internal/domain/entities"
)

var pkgWriterBuildDate = time.Unix(1700000000, 0)

// stagePkgTree lays out a small staged tree: a binary, a license file and
// a library symlink.
func stagePkgTree(t *testing.T) string {
	t.Helper()
	pkgdir := t.TempDir()

	if err := os.MkdirAll(filepath.Join(pkgdir, "usr", "bin"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(pkgdir, "usr", "share", "licenses", "tool"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(pkgdir, "usr", "lib"), 0755); err != nil {
		t.Fatal(err)
	}

	//nolint:gosec // G306: staged binaries are executable
	if err := os.WriteFile(filepath.Join(pkgdir, "usr", "bin", "tool"), []byte("#!/bin/sh\necho tool\n"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pkgdir, "usr", "share", "licenses", "tool", "LICENSE"), []byte("MIT\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("libtool.so.1", filepath.Join(pkgdir, "usr", "lib", "libtool.so")); err != nil {
		t.Fatal(err)
	}

	return pkgdir
}

func pkgWriterRequest(t *testing.T, pkgdir string) WriteRequest {
	t.Helper()
	deps, err := entities.ParseDependencies([]string{"glibc"})
	if err != nil {
		t.Fatal(err)
	}
	optDeps, err := entities.ParseDependencies([]string{"git: for VCS sources"})
	if err != nil {
		t.Fatal(err)
	}

	return WriteRequest{
		Pkg: &entities.Package{
			Base:        "tool",
			Names:       []string{"tool"},
			Version:     entities.Version{Ver: "1.0", Rel: "1"},
			Description: "A small tool",
			URL:         "https://example.com/tool",
			Arch:        []string{"x86_64"},
			Licenses:    []string{"MIT"},
			Depends:     deps,
			OptDepends:  optDeps,
			Checksum:    strings.Repeat("ab", 32),
		},
		PkgDir:       pkgdir,
		StartDir:     t.TempDir(),
		BuildDir:     "/build",
		PkgDest:      t.TempDir(),
		CArch:        "x86_64",
		Packager:     "Ada Onyx <ada@example.com>",
		BuildEnv:     []string{"!distcc", "color"},
		Options:      []string{"!strip"},
		BuildDate:    pkgWriterBuildDate,
		BuildUUID:    "0f9d2a68-7f2d-4c6e-9be2-0e6f58a35a1c",
		BuildTool:    "cauldron",
		BuildToolVer: "1.0.0",
		Compression:  entities.CompressionSettings{Format: entities.CompressGzip},
	}
}

type pkgEntry struct {
	header *tar.Header
	data   []byte
}

func readPackage(t *testing.T, path, format string) []pkgEntry {
	t.Helper()
	//nolint:gosec // G304: reading the package the test just wrote
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open package: %v", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	var r io.Reader
	switch format {
	case entities.CompressGzip:
		gr, err := gzip.NewReader(f)
		if err != nil {
			t.Fatalf("Failed to open gzip stream: %v", err)
		}
		r = gr
	case entities.CompressXZ:
		xr, err := xz.NewReader(f)
		if err != nil {
			t.Fatalf("Failed to open xz stream: %v", err)
		}
		r = xr
	case entities.CompressZstd:
		zr, err := zstd.NewReader(f)
		if err != nil {
			t.Fatalf("Failed to open zstd stream: %v", err)
		}
		defer zr.Close()
		r = zr
	case entities.CompressLZ4:
		r = lz4.NewReader(f)
	default:
		t.Fatalf("unknown format %q", format)
	}

	var entries []pkgEntry
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Failed to read archive: %v", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("Failed to read entry %s: %v", hdr.Name, err)
		}
		entries = append(entries, pkgEntry{header: hdr, data: data})
	}
	return entries
}

func findEntry(t *testing.T, entries []pkgEntry, name string) pkgEntry {
	t.Helper()
	for _, e := range entries {
		if e.header.Name == name {
			return e
		}
	}
	t.Fatalf("entry %s not found in package", name)
	return pkgEntry{}
}

func TestPkgWriter_WritePackage(t *testing.T) {
	pkgdir := stagePkgTree(t)
	req := pkgWriterRequest(t, pkgdir)

	pw := NewPkgWriter(nil)
	artifact, err := pw.WritePackage(context.Background(), req)
	if err != nil {
		t.Fatalf("WritePackage() error = %v", err)
	}

	if want := "tool-1.0-1-x86_64.pkg.tar.gz"; artifact.FileName() != want {
		t.Errorf("FileName() = %q, want %q", artifact.FileName(), want)
	}
	if artifact.Path != filepath.Join(req.PkgDest, artifact.FileName()) {
		t.Errorf("Path = %q, want it under pkgdest", artifact.Path)
	}
	if artifact.Size <= 0 {
		t.Errorf("Size = %d, want > 0", artifact.Size)
	}
	if len(artifact.SHA256) != 64 {
		t.Errorf("SHA256 length = %d, want 64", len(artifact.SHA256))
	}
	wantInstalled := int64(len("#!/bin/sh\necho tool\n") + len("MIT\n"))
	if artifact.InstalledSize != wantInstalled {
		t.Errorf("InstalledSize = %d, want %d", artifact.InstalledSize, wantInstalled)
	}
	if artifact.FileCount != 2 {
		t.Errorf("FileCount = %d, want 2", artifact.FileCount)
	}

	entries := readPackage(t, artifact.Path, entities.CompressGzip)

	// metadata dotfiles come first, payload sorted after
	wantOrder := []string{".BUILDINFO", ".MTREE", ".PKGINFO", "usr/", "usr/bin/", "usr/bin/tool"}
	for i, want := range wantOrder {
		if i >= len(entries) {
			t.Fatalf("archive has %d entries, want at least %d", len(entries), len(wantOrder))
		}
		if entries[i].header.Name != want {
			t.Errorf("entry[%d] = %q, want %q", i, entries[i].header.Name, want)
		}
	}

	for _, e := range entries {
		if e.header.Uid != 0 || e.header.Gid != 0 {
			t.Errorf("entry %s has uid/gid %d/%d, want 0/0", e.header.Name, e.header.Uid, e.header.Gid)
		}
		if e.header.Uname != "root" || e.header.Gname != "root" {
			t.Errorf("entry %s has owner %s/%s, want root/root", e.header.Name, e.header.Uname, e.header.Gname)
		}
		if e.header.ModTime.After(pkgWriterBuildDate) {
			t.Errorf("entry %s mtime %v is newer than the build date", e.header.Name, e.header.ModTime)
		}
	}

	binEntry := findEntry(t, entries, "usr/bin/tool")
	if string(binEntry.data) != "#!/bin/sh\necho tool\n" {
		t.Errorf("usr/bin/tool content = %q", binEntry.data)
	}
	if binEntry.header.Mode != 0755 {
		t.Errorf("usr/bin/tool mode = %o, want 755", binEntry.header.Mode)
	}

	linkEntry := findEntry(t, entries, "usr/lib/libtool.so")
	if linkEntry.header.Typeflag != tar.TypeSymlink || linkEntry.header.Linkname != "libtool.so.1" {
		t.Errorf("symlink entry = %v -> %q, want symlink to libtool.so.1", linkEntry.header.Typeflag, linkEntry.header.Linkname)
	}
}

func TestPkgWriter_PkgInfoContents(t *testing.T) {
	pkgdir := stagePkgTree(t)
	req := pkgWriterRequest(t, pkgdir)

	pw := NewPkgWriter(nil)
	artifact, err := pw.WritePackage(context.Background(), req)
	if err != nil {
		t.Fatalf("WritePackage() error = %v", err)
	}

	entries := readPackage(t, artifact.Path, entities.CompressGzip)
	pkginfo := string(findEntry(t, entries, ".PKGINFO").data)

	for _, want := range []string{
		"# Generated by cauldron 1.0.0\n",
		"pkgname = tool\n",
		"pkgbase = tool\n",
		"pkgver = 1.0-1\n",
		"pkgdesc = A small tool\n",
		"url = https://example.com/tool\n",
		"builddate = 1700000000\n",
		"packager = Ada Onyx <ada@example.com>\n",
		"arch = x86_64\n",
		"license = MIT\n",
		"depend = glibc\n",
		"optdepend = git: for VCS sources\n",
	} {
		if !strings.Contains(pkginfo, want) {
			t.Errorf(".PKGINFO missing %q:\n%s", want, pkginfo)
		}
	}

	buildinfo := string(findEntry(t, entries, ".BUILDINFO").data)
	for _, want := range []string{
		"format = 2\n",
		"pkgname = tool\n",
		"pkgver = 1.0-1\n",
		"pkgarch = x86_64\n",
		"pkgbuild_sha256sum = " + strings.Repeat("ab", 32) + "\n",
		"builddir = /build\n",
		"buildtool = cauldron\n",
		"buildtoolver = 1.0.0\n",
		"builduuid = 0f9d2a68-7f2d-4c6e-9be2-0e6f58a35a1c\n",
		"buildenv = !distcc\n",
		"buildenv = color\n",
		"options = !strip\n",
	} {
		if !strings.Contains(buildinfo, want) {
			t.Errorf(".BUILDINFO missing %q:\n%s", want, buildinfo)
		}
	}
}

func TestPkgWriter_Mtree(t *testing.T) {
	pkgdir := stagePkgTree(t)
	req := pkgWriterRequest(t, pkgdir)

	pw := NewPkgWriter(nil)
	artifact, err := pw.WritePackage(context.Background(), req)
	if err != nil {
		t.Fatalf("WritePackage() error = %v", err)
	}

	entries := readPackage(t, artifact.Path, entities.CompressGzip)
	mtreeGz := findEntry(t, entries, ".MTREE")

	gr, err := gzip.NewReader(bytes.NewReader(mtreeGz.data))
	if err != nil {
		t.Fatalf(".MTREE is not gzip compressed: %v", err)
	}
	raw, err := io.ReadAll(gr)
	if err != nil {
		t.Fatalf("Failed to read .MTREE: %v", err)
	}
	mtree := string(raw)

	if !strings.HasPrefix(mtree, "#mtree\n/set type=file uid=0 gid=0 mode=644\n") {
		t.Errorf(".MTREE header wrong:\n%s", mtree)
	}

	binSum := sha256.Sum256([]byte("#!/bin/sh\necho tool\n"))
	wantBin := "./usr/bin/tool time=1700000000.0 mode=755 size=20 sha256digest=" + hex.EncodeToString(binSum[:])
	if !strings.Contains(mtree, wantBin+"\n") {
		t.Errorf(".MTREE missing binary line %q:\n%s", wantBin, mtree)
	}

	if !strings.Contains(mtree, "./.PKGINFO ") {
		t.Errorf(".MTREE does not cover .PKGINFO:\n%s", mtree)
	}
	if strings.Contains(mtree, "./.MTREE") {
		t.Errorf(".MTREE lists itself:\n%s", mtree)
	}
	if !strings.Contains(mtree, "./usr/lib/libtool.so time=1700000000.0 mode=777 type=link link=libtool.so.1\n") {
		t.Errorf(".MTREE missing symlink line:\n%s", mtree)
	}
	if !strings.Contains(mtree, "./usr time=1700000000.0 mode=755 type=dir\n") {
		t.Errorf(".MTREE missing dir line:\n%s", mtree)
	}
}

func TestPkgWriter_Deterministic(t *testing.T) {
	pkgdir := stagePkgTree(t)

	first := pkgWriterRequest(t, pkgdir)
	pw := NewPkgWriter(nil)
	a1, err := pw.WritePackage(context.Background(), first)
	if err != nil {
		t.Fatalf("WritePackage() error = %v", err)
	}

	second := first
	second.PkgDest = t.TempDir()
	a2, err := pw.WritePackage(context.Background(), second)
	if err != nil {
		t.Fatalf("WritePackage() second run error = %v", err)
	}

	if a1.SHA256 != a2.SHA256 {
		t.Errorf("rebuild changed the package digest: %s != %s", a1.SHA256, a2.SHA256)
	}
	if a1.InstalledSize != a2.InstalledSize {
		t.Errorf("rebuild changed installed size: %d != %d", a1.InstalledSize, a2.InstalledSize)
	}
}

func TestPkgWriter_CompressionFormats(t *testing.T) {
	for _, format := range []string{
		entities.CompressGzip,
		entities.CompressXZ,
		entities.CompressZstd,
		entities.CompressLZ4,
	} {
		t.Run(format, func(t *testing.T) {
			pkgdir := stagePkgTree(t)
			req := pkgWriterRequest(t, pkgdir)
			req.Compression = entities.CompressionSettings{Format: format}

			pw := NewPkgWriter(nil)
			artifact, err := pw.WritePackage(context.Background(), req)
			if err != nil {
				t.Fatalf("WritePackage() error = %v", err)
			}
			if !strings.HasSuffix(artifact.Path, ".pkg.tar."+format) {
				t.Errorf("Path = %q, want suffix .pkg.tar.%s", artifact.Path, format)
			}

			entries := readPackage(t, artifact.Path, format)
			bin := findEntry(t, entries, "usr/bin/tool")
			if string(bin.data) != "#!/bin/sh\necho tool\n" {
				t.Errorf("usr/bin/tool content = %q", bin.data)
			}
		})
	}
}

func TestPkgWriter_InstallScript(t *testing.T) {
	pkgdir := stagePkgTree(t)
	req := pkgWriterRequest(t, pkgdir)
	req.Pkg.Install = "tool.install"

	script := "post_install() {\n\techo done\n}\n"
	if err := os.WriteFile(filepath.Join(req.StartDir, "tool.install"), []byte(script), 0644); err != nil {
		t.Fatal(err)
	}

	pw := NewPkgWriter(nil)
	artifact, err := pw.WritePackage(context.Background(), req)
	if err != nil {
		t.Fatalf("WritePackage() error = %v", err)
	}

	entries := readPackage(t, artifact.Path, entities.CompressGzip)
	install := findEntry(t, entries, ".INSTALL")
	if string(install.data) != script {
		t.Errorf(".INSTALL content = %q, want %q", install.data, script)
	}

	t.Run("missing install file", func(t *testing.T) {
		broken := pkgWriterRequest(t, stagePkgTree(t))
		broken.Pkg.Install = "absent.install"

		_, err := pw.WritePackage(context.Background(), broken)
		if err == nil {
			t.Fatal("WritePackage() should have failed for a missing install script")
		}
		if !strings.Contains(err.Error(), "failed to stage install script") {
			t.Errorf("error = %v, want install staging failure", err)
		}
	})
}

func TestPkgWriter_RequiresResolvedView(t *testing.T) {
	pkgdir := stagePkgTree(t)
	req := pkgWriterRequest(t, pkgdir)
	req.Pkg.Names = []string{"tool", "tool-docs"}

	pw := NewPkgWriter(nil)
	_, err := pw.WritePackage(context.Background(), req)
	if err == nil {
		t.Fatal("WritePackage() should reject a split view")
	}
	if !strings.Contains(err.Error(), "single-package view") {
		t.Errorf("error = %v, want single-package view error", err)
	}
}
