package gateways

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ochairo/cauldron/internal/domain/entities"
	"github.com/ochairo/cauldron/internal/domain/interfaces"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Per-entry decompression cap against archive bombs.
const maxExtractFileSize = 1 << 30

// extractor unpacks source archives into the build's srcdir
type extractor struct {
	log interfaces.Logger
}

// NewExtractor creates a new archive extractor
//
//nolint:revive // unexported-return: Intentionally returns concrete type for testability
func NewExtractor(log interfaces.Logger) *extractor {
	if log == nil {
		log = &interfaces.NoOpLogger{}
	}
	return &extractor{log: log}
}

// PrepareSources populates srcdir from the download cache: archives are
// unpacked unless listed in noextract, plain files are copied in. VCS
// sources are skipped; the fetcher checks those out directly.
func (e *extractor) PrepareSources(ctx context.Context, pkg *entities.Package, srcdest, srcdir string) error {
	if err := os.MkdirAll(srcdir, 0750); err != nil {
		return fmt.Errorf("failed to create source directory: %w", err)
	}

	for _, src := range pkg.Sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		if src.IsVCS() {
			continue
		}

		name := src.Filename()
		cached := filepath.Join(srcdest, name)

		if noExtract(pkg, name) || !isArchive(name) {
			if err := copyFile(cached, filepath.Join(srcdir, name)); err != nil {
				return fmt.Errorf("source %s: %w", name, err)
			}
			continue
		}

		count, err := e.Extract(ctx, cached, srcdir)
		if err != nil {
			return fmt.Errorf("source %s: %w", name, err)
		}
		e.log.Info("extracted source",
			interfaces.F("file", name),
			interfaces.F("entries", count))
	}
	return nil
}

// Extract unpacks one archive into destDir and returns the number of
// entries written
func (e *extractor) Extract(ctx context.Context, archivePath, destDir string) (int, error) {
	if err := os.MkdirAll(destDir, 0750); err != nil {
		return 0, fmt.Errorf("failed to create destination directory: %w", err)
	}

	name := filepath.Base(archivePath)
	if strings.HasSuffix(name, ".zip") {
		return e.extractZip(ctx, archivePath, destDir)
	}
	return e.extractTar(ctx, archivePath, destDir)
}

func noExtract(pkg *entities.Package, name string) bool {
	for _, n := range pkg.NoExtract {
		if n == name {
			return true
		}
	}
	return false
}

var archiveSuffixes = []string{
	".tar.gz", ".tgz",
	".tar.bz2", ".tbz2",
	".tar.xz", ".txz",
	".tar.zst",
	".tar.lz4",
	".tar",
	".zip",
}

func isArchive(name string) bool {
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// decompress wraps f in the decoder matching the archive name. The
// returned closer releases decoder state, not the file.
func decompress(f *os.File, name string) (io.Reader, func(), error) {
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		gzr, err := gzip.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gzr, func() { _ = gzr.Close() }, nil
	case strings.HasSuffix(name, ".tar.bz2"), strings.HasSuffix(name, ".tbz2"):
		return bzip2.NewReader(f), func() {}, nil
	case strings.HasSuffix(name, ".tar.xz"), strings.HasSuffix(name, ".txz"):
		xzr, err := xz.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create xz reader: %w", err)
		}
		return xzr, func() {}, nil
	case strings.HasSuffix(name, ".tar.zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return zr, zr.Close, nil
	case strings.HasSuffix(name, ".tar.lz4"):
		return lz4.NewReader(f), func() {}, nil
	case strings.HasSuffix(name, ".tar"):
		return f, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported archive format: %s", name)
	}
}

// securePath joins name under destDir and rejects entries that would
// escape it
func securePath(destDir, name string) (string, error) {
	//nolint:gosec // G305: traversal is rejected by the containment check below
	target := filepath.Join(destDir, name)
	destClean := filepath.Clean(destDir)
	if target != destClean && !strings.HasPrefix(target, destClean+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid file path in archive: %s", name)
	}
	return target, nil
}

type deferredLink struct {
	target   string
	linkname string
	hard     bool
}

// extractTar extracts a tar archive, decompressing per the file suffix.
// Symlinks and hardlinks are created in a second pass so their targets
// exist first.
func (e *extractor) extractTar(ctx context.Context, tarPath, destDir string) (int, error) {
	//nolint:gosec // G304: archive path comes from the download cache
	file, err := os.Open(tarPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open archive: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer file.Close()

	reader, closeDecoder, err := decompress(file, filepath.Base(tarPath))
	if err != nil {
		return 0, err
	}
	defer closeDecoder()

	tr := tar.NewReader(reader)
	var links []deferredLink
	count := 0

	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("tar read error: %w", err)
		}

		target, err := securePath(destDir, header.Name)
		if err != nil {
			return count, err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0750); err != nil {
				return count, fmt.Errorf("failed to create directory: %w", err)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
				return count, fmt.Errorf("failed to create parent directory: %w", err)
			}

			//nolint:gosec // G115: tar header modes fit in a FileMode
			outFile, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return count, fmt.Errorf("failed to create file: %w", err)
			}

			if _, err := io.Copy(outFile, io.LimitReader(tr, maxExtractFileSize)); err != nil {
				_ = outFile.Close()
				return count, fmt.Errorf("failed to write file: %w", err)
			}
			if err := outFile.Close(); err != nil {
				return count, fmt.Errorf("failed to close file: %w", err)
			}

		case tar.TypeSymlink:
			links = append(links, deferredLink{target: target, linkname: header.Linkname})

		case tar.TypeLink:
			links = append(links, deferredLink{target: target, linkname: header.Linkname, hard: true})

		default:
			e.log.Warn("ignoring unsupported archive entry",
				interfaces.F("type", string(header.Typeflag)),
				interfaces.F("name", header.Name))
			continue
		}
		count++
	}

	e.applyLinks(destDir, links)
	return count, nil
}

// applyLinks creates symlinks and hardlinks after all regular entries
// exist. Dangling links warn instead of failing; some tarballs ship them.
func (e *extractor) applyLinks(destDir string, links []deferredLink) {
	for _, link := range links {
		if err := os.MkdirAll(filepath.Dir(link.target), 0750); err != nil {
			e.log.Warn("failed to create directory for link",
				interfaces.F("target", link.target),
				interfaces.F("error", err.Error()))
			continue
		}

		var err error
		if link.hard {
			source, pathErr := securePath(destDir, link.linkname)
			if pathErr != nil {
				e.log.Warn("skipping hardlink outside archive root", interfaces.F("name", link.linkname))
				continue
			}
			_ = os.Remove(link.target)
			err = os.Link(source, link.target)
		} else {
			_ = os.Remove(link.target)
			err = os.Symlink(link.linkname, link.target)
		}
		if err != nil {
			e.log.Warn("failed to create link",
				interfaces.F("target", link.target),
				interfaces.F("linkname", link.linkname),
				interfaces.F("error", err.Error()))
		}
	}
}

// extractZip extracts a zip archive
func (e *extractor) extractZip(ctx context.Context, zipPath, destDir string) (int, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open zip: %w", err)
	}
	//nolint:errcheck // Defer close on read-only archive
	defer zr.Close()

	var links []deferredLink
	count := 0

	for _, entry := range zr.File {
		if err := ctx.Err(); err != nil {
			return count, err
		}

		target, err := securePath(destDir, entry.Name)
		if err != nil {
			return count, err
		}

		mode := entry.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0750); err != nil {
				return count, fmt.Errorf("failed to create directory: %w", err)
			}

		case mode&os.ModeSymlink != 0:
			linkname, err := readZipEntry(entry)
			if err != nil {
				return count, fmt.Errorf("failed to read symlink entry: %w", err)
			}
			links = append(links, deferredLink{target: target, linkname: linkname})

		default:
			if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
				return count, fmt.Errorf("failed to create parent directory: %w", err)
			}
			if err := writeZipEntry(entry, target, mode); err != nil {
				return count, err
			}
		}
		count++
	}

	e.applyLinks(destDir, links)
	return count, nil
}

func readZipEntry(entry *zip.File) (string, error) {
	rc, err := entry.Open()
	if err != nil {
		return "", err
	}
	//nolint:errcheck // Defer close on read-only entry
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, 4096))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func writeZipEntry(entry *zip.File, target string, mode os.FileMode) error {
	rc, err := entry.Open()
	if err != nil {
		return fmt.Errorf("failed to open zip entry: %w", err)
	}
	//nolint:errcheck // Defer close on read-only entry
	defer rc.Close()

	outFile, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(outFile, io.LimitReader(rc, maxExtractFileSize)); err != nil {
		_ = outFile.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	return outFile.Close()
}

// copyFile copies a cached source into srcdir preserving its mode
func copyFile(src, dest string) error {
	//nolint:gosec // G304: both paths are build workspace locations
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source file: %w", err)
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to copy file: %w", err)
	}
	return out.Close()
}
