package gateways

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	"github.com/ochairo/cauldron/internal/domain/entities"
	"github.com/ochairo/cauldron/internal/domain/interfaces"
)

// Metadata files written into the staged tree root before archiving.
// Rebuilds must not count leftovers from an earlier run as payload.
var metadataFiles = map[string]bool{
	".PKGINFO":   true,
	".BUILDINFO": true,
	".MTREE":     true,
	".INSTALL":   true,
	".CHANGELOG": true,
}

// pkgWriter assembles a staged tree into an installable package archive
// with its metadata files
type pkgWriter struct {
	log interfaces.Logger
}

// NewPkgWriter creates a new package writer
//
//nolint:revive // unexported-return: Intentionally returns concrete type for testability
func NewPkgWriter(log interfaces.Logger) *pkgWriter {
	if log == nil {
		log = &interfaces.NoOpLogger{}
	}
	return &pkgWriter{log: log}
}

// WriteRequest collects everything that goes into one package file
type WriteRequest struct {
	// Pkg is the effective single-member view of the manifest
	Pkg *entities.Package

	PkgDir   string
	StartDir string
	BuildDir string
	PkgDest  string

	CArch    string
	Packager string

	// BuildEnv and Options become the buildenv/options lines of .BUILDINFO
	BuildEnv []string
	Options  []string

	// BuildDate is the reproducible timestamp; file times newer than it
	// are clamped down to it in the archive and in .MTREE.
	BuildDate time.Time

	BuildUUID    string
	BuildTool    string
	BuildToolVer string

	Compression entities.CompressionSettings
}

// WritePackage stages the metadata files into the tree and writes the
// compressed package archive into pkgdest, returning the built artifact.
func (pw *pkgWriter) WritePackage(ctx context.Context, req WriteRequest) (*entities.Artifact, error) {
	if len(req.Pkg.Names) != 1 {
		return nil, fmt.Errorf("package writer needs a resolved single-package view, got %d names", len(req.Pkg.Names))
	}
	name := req.Pkg.Names[0]

	installedSize, fileCount, err := payloadSize(req.PkgDir)
	if err != nil {
		return nil, fmt.Errorf("failed to measure staged tree: %w", err)
	}

	pkginfo := composePkgInfo(req, name, installedSize)
	//nolint:gosec // G306: package metadata is world-readable
	if err := os.WriteFile(filepath.Join(req.PkgDir, ".PKGINFO"), pkginfo, 0644); err != nil {
		return nil, fmt.Errorf("failed to write .PKGINFO: %w", err)
	}
	buildinfo := composeBuildInfo(req, name)
	//nolint:gosec // G306: package metadata is world-readable
	if err := os.WriteFile(filepath.Join(req.PkgDir, ".BUILDINFO"), buildinfo, 0644); err != nil {
		return nil, fmt.Errorf("failed to write .BUILDINFO: %w", err)
	}
	if req.Pkg.Install != "" {
		src := filepath.Join(req.StartDir, req.Pkg.Install)
		if err := copyFile(src, filepath.Join(req.PkgDir, ".INSTALL")); err != nil {
			return nil, fmt.Errorf("failed to stage install script: %w", err)
		}
	}
	if req.Pkg.Changelog != "" {
		src := filepath.Join(req.StartDir, req.Pkg.Changelog)
		if err := copyFile(src, filepath.Join(req.PkgDir, ".CHANGELOG")); err != nil {
			return nil, fmt.Errorf("failed to stage changelog: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mtree, err := composeMtree(req.PkgDir, req.BuildDate)
	if err != nil {
		return nil, fmt.Errorf("failed to compose .MTREE: %w", err)
	}
	if err := writeGzipFile(filepath.Join(req.PkgDir, ".MTREE"), mtree); err != nil {
		return nil, fmt.Errorf("failed to write .MTREE: %w", err)
	}

	arch := req.Pkg.PackageArch(req.CArch)
	fileName := entities.ArtifactFileName(name, req.Pkg.Version, arch, req.Compression.Format)
	if err := os.MkdirAll(req.PkgDest, 0750); err != nil {
		return nil, fmt.Errorf("failed to create package directory: %w", err)
	}
	pkgPath := filepath.Join(req.PkgDest, fileName)

	if err := pw.writeArchive(ctx, req, pkgPath); err != nil {
		return nil, err
	}

	sum, size, err := fileSHA256(pkgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to hash package: %w", err)
	}

	pw.log.Info("wrote package",
		interfaces.F("package", fileName),
		interfaces.F("size", size),
		interfaces.F("files", fileCount))

	return &entities.Artifact{
		Name:          name,
		Version:       req.Pkg.Version,
		Arch:          arch,
		Path:          pkgPath,
		Compression:   req.Compression.Format,
		Size:          size,
		InstalledSize: installedSize,
		SHA256:        sum,
		FileCount:     fileCount,
	}, nil
}

// payloadSize sums the staged regular files, ignoring metadata leftovers
// at the root
func payloadSize(root string) (int64, int, error) {
	var size int64
	var count int
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." || metadataFiles[rel] {
			return nil
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			size += info.Size()
			count++
		}
		return nil
	})
	return size, count, err
}

// treeEntries returns the sorted relative paths of everything under root.
// ASCII ordering puts the metadata dotfiles ahead of the payload, which
// is the layout package tools expect.
func treeEntries(root string) ([]string, error) {
	var entries []string
	err := filepath.WalkDir(root, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		entries = append(entries, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(entries)
	return entries, nil
}

func composePkgInfo(req WriteRequest, name string, installedSize int64) []byte {
	p := req.Pkg
	var b strings.Builder

	fmt.Fprintf(&b, "# Generated by %s %s\n", req.BuildTool, req.BuildToolVer)
	field := func(key, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s = %s\n", key, value)
		}
	}

	field("pkgname", name)
	field("pkgbase", p.Base)
	field("pkgver", p.FullVersion())
	field("pkgdesc", p.Description)
	field("url", p.URL)
	fmt.Fprintf(&b, "builddate = %d\n", req.BuildDate.Unix())
	field("packager", req.Packager)
	fmt.Fprintf(&b, "size = %d\n", installedSize)
	field("arch", p.PackageArch(req.CArch))
	for _, l := range p.Licenses {
		field("license", l)
	}
	for _, g := range p.Groups {
		field("group", g)
	}
	for _, d := range p.Replaces {
		field("replaces", d.String())
	}
	for _, d := range p.Conflicts {
		field("conflict", d.String())
	}
	for _, d := range p.Provides {
		field("provides", d.String())
	}
	for _, f := range p.Backup {
		field("backup", f)
	}
	for _, d := range p.Depends {
		field("depend", d.String())
	}
	for _, d := range p.OptDepends {
		field("optdepend", d.String())
	}
	for _, d := range p.MakeDepends {
		field("makedepend", d.String())
	}
	for _, d := range p.CheckDepends {
		field("checkdepend", d.String())
	}

	return []byte(b.String())
}

func composeBuildInfo(req WriteRequest, name string) []byte {
	p := req.Pkg
	var b strings.Builder

	fmt.Fprintf(&b, "format = 2\n")
	fmt.Fprintf(&b, "pkgname = %s\n", name)
	fmt.Fprintf(&b, "pkgbase = %s\n", p.Base)
	fmt.Fprintf(&b, "pkgver = %s\n", p.FullVersion())
	fmt.Fprintf(&b, "pkgarch = %s\n", p.PackageArch(req.CArch))
	fmt.Fprintf(&b, "pkgbuild_sha256sum = %s\n", p.Checksum)
	fmt.Fprintf(&b, "packager = %s\n", req.Packager)
	fmt.Fprintf(&b, "builddate = %d\n", req.BuildDate.Unix())
	fmt.Fprintf(&b, "builddir = %s\n", req.BuildDir)
	fmt.Fprintf(&b, "startdir = %s\n", req.StartDir)
	fmt.Fprintf(&b, "buildtool = %s\n", req.BuildTool)
	fmt.Fprintf(&b, "buildtoolver = %s\n", req.BuildToolVer)
	if req.BuildUUID != "" {
		fmt.Fprintf(&b, "builduuid = %s\n", req.BuildUUID)
	}
	for _, e := range req.BuildEnv {
		fmt.Fprintf(&b, "buildenv = %s\n", e)
	}
	for _, o := range req.Options {
		fmt.Fprintf(&b, "options = %s\n", o)
	}

	return []byte(b.String())
}

// composeMtree renders the archive manifest in mtree v2.0 form: one line
// per entry with mode, ownership, size, clamped time and a sha256 digest
// for regular files. The .MTREE file itself is not listed.
func composeMtree(root string, buildDate time.Time) ([]byte, error) {
	entries, err := treeEntries(root)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	b.WriteString("#mtree\n")
	b.WriteString("/set type=file uid=0 gid=0 mode=644\n")

	for _, rel := range entries {
		if rel == ".MTREE" {
			continue
		}
		full := filepath.Join(root, rel)
		fi, err := os.Lstat(full)
		if err != nil {
			return nil, err
		}

		path := "./" + mtreeEscape(filepath.ToSlash(rel))
		mtime := clampTime(fi.ModTime(), buildDate).Unix()

		switch {
		case fi.IsDir():
			fmt.Fprintf(&b, "%s time=%d.0 mode=%o type=dir\n", path, mtime, fi.Mode().Perm())
		case fi.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(full)
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(&b, "%s time=%d.0 mode=777 type=link link=%s\n", path, mtime, mtreeEscape(target))
		case fi.Mode().IsRegular():
			sum, _, err := fileSHA256(full)
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(&b, "%s time=%d.0 mode=%o size=%d sha256digest=%s\n",
				path, mtime, fi.Mode().Perm(), fi.Size(), sum)
		default:
			return nil, fmt.Errorf("unsupported file type in staged tree: %s", rel)
		}
	}

	return b.Bytes(), nil
}

// mtreeEscape octal-escapes the bytes mtree treats as syntax
func mtreeEscape(s string) string {
	if !strings.ContainsAny(s, " \t\n\\#=") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ' ' || c == '\t' || c == '\n' || c == '\\' || c == '#' || c == '=' {
			fmt.Fprintf(&b, "\\%03o", c)
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func clampTime(t, limit time.Time) time.Time {
	if t.After(limit) {
		return limit
	}
	return t
}

func writeGzipFile(path string, data []byte) error {
	//nolint:gosec // G304: path is composed inside the staged tree
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(f)
	if _, err := gw.Write(data); err != nil {
		//nolint:errcheck // Close on error path
		f.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		//nolint:errcheck // Close on error path
		f.Close()
		return err
	}
	return f.Close()
}

// writeArchive tars the staged tree in sorted order with uid/gid 0 and
// clamped times, compressed per the run configuration. The file appears
// under its final name only after a complete write.
func (pw *pkgWriter) writeArchive(ctx context.Context, req WriteRequest, outPath string) error {
	entries, err := treeEntries(req.PkgDir)
	if err != nil {
		return fmt.Errorf("failed to walk staged tree: %w", err)
	}

	tmpPath := outPath + ".part"
	//nolint:gosec // G304: tmpPath is composed for package output
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create package file: %w", err)
	}

	if err := pw.writeTar(ctx, req, entries, out); err != nil {
		//nolint:errcheck // Close on error path
		out.Close()
		//nolint:errcheck // Best effort removal of the partial file
		os.Remove(tmpPath)
		return err
	}
	if err := out.Close(); err != nil {
		//nolint:errcheck // Best effort removal of the partial file
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finish package file: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("failed to finalize package file: %w", err)
	}
	return nil
}

func (pw *pkgWriter) writeTar(ctx context.Context, req WriteRequest, entries []string, out io.Writer) error {
	cw, closeCompress, err := compressionWriter(out, req.Compression)
	if err != nil {
		return err
	}

	tw := tar.NewWriter(cw)
	for _, rel := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeTarEntry(tw, req.PkgDir, rel, req.BuildDate); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return closeCompress()
}

func writeTarEntry(tw *tar.Writer, root, rel string, buildDate time.Time) error {
	full := filepath.Join(root, rel)
	fi, err := os.Lstat(full)
	if err != nil {
		return err
	}

	hdr := &tar.Header{
		Name:    filepath.ToSlash(rel),
		Mode:    int64(fi.Mode().Perm()),
		Uid:     0,
		Gid:     0,
		Uname:   "root",
		Gname:   "root",
		ModTime: clampTime(fi.ModTime(), buildDate).Truncate(time.Second),
		Format:  tar.FormatPAX,
	}

	switch {
	case fi.IsDir():
		hdr.Typeflag = tar.TypeDir
		hdr.Name += "/"
		return tw.WriteHeader(hdr)
	case fi.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(full)
		if err != nil {
			return err
		}
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = target
		return tw.WriteHeader(hdr)
	case fi.Mode().IsRegular():
		hdr.Typeflag = tar.TypeReg
		hdr.Size = fi.Size()
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		//nolint:gosec // G304: path comes from walking the staged tree
		f, err := os.Open(full)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		//nolint:errcheck // Defer-free close on read-only file
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to archive %s: %w", rel, err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported file type in staged tree: %s", rel)
	}
}

// compressionWriter layers the configured compressor over w. The returned
// close function flushes the compressor but not w itself.
func compressionWriter(w io.Writer, c entities.CompressionSettings) (io.Writer, func() error, error) {
	switch c.Format {
	case entities.CompressGzip:
		if c.Level > 0 {
			gw, err := gzip.NewWriterLevel(w, c.Level)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to create gzip writer: %w", err)
			}
			return gw, gw.Close, nil
		}
		gw := gzip.NewWriter(w)
		return gw, gw.Close, nil
	case entities.CompressXZ:
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create xz writer: %w", err)
		}
		return xw, xw.Close, nil
	case entities.CompressZstd:
		var opts []zstd.EOption
		if c.Level > 0 {
			opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(c.Level)))
		}
		zw, err := zstd.NewWriter(w, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		return zw, zw.Close, nil
	case entities.CompressLZ4:
		lw := lz4.NewWriter(w)
		return lw, lw.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported compression format %q", c.Format)
	}
}

// fileSHA256 hashes a file and reports its size
func fileSHA256(path string) (string, int64, error) {
	//nolint:gosec // G304: hashing files the pipeline produced or staged
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
