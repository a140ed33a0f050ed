package gateways

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ochairo/cauldron/internal/domain/entities"
	"github.com/ochairo/cauldron/internal/domain/interfaces"
)

// repoDB reads and writes pacman-style repository database archives:
// a gzip'd tar holding one <name>-<version>/desc record per package,
// plus a files member with the payload listing.
type repoDB struct {
	log interfaces.Logger
}

// NewRepoDB creates a new repository database gateway
//
//nolint:revive // unexported-return: Intentionally returns concrete type for testability
func NewRepoDB(log interfaces.Logger) *repoDB {
	if log == nil {
		log = &interfaces.NoOpLogger{}
	}
	return &repoDB{log: log}
}

// Load reads all package records from a database archive. A missing
// database loads as empty; the first add creates it.
func (r *repoDB) Load(dbPath string) ([]entities.RepoEntry, error) {
	//nolint:gosec // G304: database path comes from the repo command line
	file, err := os.Open(dbPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open repo database: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer file.Close()

	gzr, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read repo database: %w", err)
	}
	//nolint:errcheck // Defer close on read-only reader
	defer gzr.Close()

	byDir := make(map[string]*entities.RepoEntry)

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read repo database: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		dir, member := path.Split(path.Clean(header.Name))
		dir = strings.TrimSuffix(dir, "/")
		if dir == "" {
			continue
		}

		data, err := io.ReadAll(io.LimitReader(tr, maxExtractFileSize))
		if err != nil {
			return nil, fmt.Errorf("failed to read database record %s: %w", header.Name, err)
		}

		entry, ok := byDir[dir]
		if !ok {
			entry = &entities.RepoEntry{}
			byDir[dir] = entry
		}
		switch member {
		case "desc":
			parseDesc(data, entry)
		case "files":
			entry.Files = parseFileList(data)
		}
	}

	entries := make([]entities.RepoEntry, 0, len(byDir))
	for _, entry := range byDir {
		entries = append(entries, *entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Save writes the database archive, entries sorted by name. The file is
// assembled under a .part suffix and renamed into place when complete.
func (r *repoDB) Save(dbPath string, entries []entities.RepoEntry) (err error) {
	sorted := make([]entities.RepoEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	tmpPath := dbPath + ".part"
	//nolint:gosec // G304: database path comes from the repo command line
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create repo database: %w", err)
	}
	defer func() {
		if err != nil {
			_ = out.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	gzw := gzip.NewWriter(out)
	tw := tar.NewWriter(gzw)

	now := time.Now().Truncate(time.Second)
	for i := range sorted {
		if err = writeDBRecord(tw, &sorted[i], now); err != nil {
			return err
		}
	}

	if err = tw.Close(); err != nil {
		return fmt.Errorf("failed to finalize repo database: %w", err)
	}
	if err = gzw.Close(); err != nil {
		return fmt.Errorf("failed to finalize repo database: %w", err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("failed to close repo database: %w", err)
	}
	if err = os.Rename(tmpPath, dbPath); err != nil {
		return fmt.Errorf("failed to finalize repo database: %w", err)
	}

	r.log.Info("wrote repo database",
		interfaces.F("path", dbPath),
		interfaces.F("packages", len(sorted)))
	return nil
}

// ReadPackageEntry composes the database record for a built package by
// reading its .PKGINFO and payload listing.
func (r *repoDB) ReadPackageEntry(pkgPath string) (*entities.RepoEntry, error) {
	sum, size, err := fileSHA256(pkgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to hash package: %w", err)
	}

	entry := &entities.RepoEntry{
		FileName: filepath.Base(pkgPath),
		CSize:    size,
		SHA256:   sum,
	}

	//nolint:gosec // G304: package path comes from the repo command line
	file, err := os.Open(pkgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open package: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer file.Close()

	reader, closeDecoder, err := decompress(file, filepath.Base(pkgPath))
	if err != nil {
		return nil, err
	}
	defer closeDecoder()

	tr := tar.NewReader(reader)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read package: %w", err)
		}

		name := path.Clean(header.Name)
		if name == ".PKGINFO" {
			data, err := io.ReadAll(io.LimitReader(tr, maxExtractFileSize))
			if err != nil {
				return nil, fmt.Errorf("failed to read .PKGINFO: %w", err)
			}
			parsePkgInfo(data, entry)
			continue
		}
		if strings.HasPrefix(name, ".") {
			continue
		}

		// the files listing keeps the trailing slash on directories
		if header.Typeflag == tar.TypeDir {
			entry.Files = append(entry.Files, name+"/")
		} else {
			entry.Files = append(entry.Files, name)
		}
	}

	if entry.Name == "" {
		return nil, fmt.Errorf("package carries no .PKGINFO: %s", pkgPath)
	}
	return entry, nil
}

func writeDBRecord(tw *tar.Writer, e *entities.RepoEntry, mtime time.Time) error {
	dir := e.EntryDir()
	if err := tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeDir,
		Name:     dir + "/",
		Mode:     0755,
		Uname:    "root",
		Gname:    "root",
		ModTime:  mtime,
		Format:   tar.FormatPAX,
	}); err != nil {
		return fmt.Errorf("failed to write database record %s: %w", dir, err)
	}

	members := []struct {
		name string
		data []byte
	}{
		{"desc", composeDesc(e)},
	}
	if len(e.Files) > 0 {
		members = append(members, struct {
			name string
			data []byte
		}{"files", composeFileList(e.Files)})
	}

	for _, m := range members {
		header := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     dir + "/" + m.name,
			Size:     int64(len(m.data)),
			Mode:     0644,
			Uname:    "root",
			Gname:    "root",
			ModTime:  mtime,
			Format:   tar.FormatPAX,
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write database record %s: %w", header.Name, err)
		}
		if _, err := tw.Write(m.data); err != nil {
			return fmt.Errorf("failed to write database record %s: %w", header.Name, err)
		}
	}
	return nil
}

// composeDesc renders one desc record. Empty sections are omitted, the
// numeric sizes and build date are always present.
func composeDesc(e *entities.RepoEntry) []byte {
	var b strings.Builder
	section := func(tag string, values ...string) {
		var kept []string
		for _, v := range values {
			if v != "" {
				kept = append(kept, v)
			}
		}
		if len(kept) == 0 {
			return
		}
		fmt.Fprintf(&b, "%%%s%%\n", tag)
		for _, v := range kept {
			b.WriteString(v)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}

	section("FILENAME", e.FileName)
	section("NAME", e.Name)
	section("BASE", e.Base)
	section("VERSION", e.Version)
	section("DESC", e.Desc)
	section("GROUPS", e.Groups...)
	section("CSIZE", strconv.FormatInt(e.CSize, 10))
	section("ISIZE", strconv.FormatInt(e.ISize, 10))
	section("SHA256SUM", e.SHA256)
	section("URL", e.URL)
	section("LICENSE", e.Licenses...)
	section("ARCH", e.Arch)
	section("BUILDDATE", strconv.FormatInt(e.BuildDate, 10))
	section("PACKAGER", e.Packager)
	section("REPLACES", e.Replaces...)
	section("CONFLICTS", e.Conflicts...)
	section("PROVIDES", e.Provides...)
	section("DEPENDS", e.Depends...)
	section("OPTDEPENDS", e.OptDepends...)
	section("MAKEDEPENDS", e.MakeDepends...)
	section("CHECKDEPENDS", e.CheckDepends...)

	return []byte(b.String())
}

func parseDesc(data []byte, e *entities.RepoEntry) {
	var tag string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "%") && strings.HasSuffix(line, "%") {
			tag = strings.Trim(line, "%")
			continue
		}

		switch tag {
		case "FILENAME":
			e.FileName = line
		case "NAME":
			e.Name = line
		case "BASE":
			e.Base = line
		case "VERSION":
			e.Version = line
		case "DESC":
			e.Desc = line
		case "GROUPS":
			e.Groups = append(e.Groups, line)
		case "CSIZE":
			if v, err := strconv.ParseInt(line, 10, 64); err == nil {
				e.CSize = v
			}
		case "ISIZE":
			if v, err := strconv.ParseInt(line, 10, 64); err == nil {
				e.ISize = v
			}
		case "SHA256SUM":
			e.SHA256 = line
		case "URL":
			e.URL = line
		case "LICENSE":
			e.Licenses = append(e.Licenses, line)
		case "ARCH":
			e.Arch = line
		case "BUILDDATE":
			if v, err := strconv.ParseInt(line, 10, 64); err == nil {
				e.BuildDate = v
			}
		case "PACKAGER":
			e.Packager = line
		case "REPLACES":
			e.Replaces = append(e.Replaces, line)
		case "CONFLICTS":
			e.Conflicts = append(e.Conflicts, line)
		case "PROVIDES":
			e.Provides = append(e.Provides, line)
		case "DEPENDS":
			e.Depends = append(e.Depends, line)
		case "OPTDEPENDS":
			e.OptDepends = append(e.OptDepends, line)
		case "MAKEDEPENDS":
			e.MakeDepends = append(e.MakeDepends, line)
		case "CHECKDEPENDS":
			e.CheckDepends = append(e.CheckDepends, line)
		}
	}
}

func composeFileList(files []string) []byte {
	var b strings.Builder
	b.WriteString("%FILES%\n")
	for _, f := range files {
		b.WriteString(f)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func parseFileList(data []byte) []string {
	var files []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line == "%FILES%" {
			continue
		}
		files = append(files, line)
	}
	return files
}

// parsePkgInfo maps .PKGINFO fields onto a database record
func parsePkgInfo(data []byte, e *entities.RepoEntry) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, " = ")
		if !ok {
			continue
		}

		switch key {
		case "pkgname":
			e.Name = value
		case "pkgbase":
			e.Base = value
		case "pkgver":
			e.Version = value
		case "pkgdesc":
			e.Desc = value
		case "url":
			e.URL = value
		case "packager":
			e.Packager = value
		case "arch":
			e.Arch = value
		case "builddate":
			if v, err := strconv.ParseInt(value, 10, 64); err == nil {
				e.BuildDate = v
			}
		case "size":
			if v, err := strconv.ParseInt(value, 10, 64); err == nil {
				e.ISize = v
			}
		case "license":
			e.Licenses = append(e.Licenses, value)
		case "group":
			e.Groups = append(e.Groups, value)
		case "depend":
			e.Depends = append(e.Depends, value)
		case "optdepend":
			e.OptDepends = append(e.OptDepends, value)
		case "makedepend":
			e.MakeDepends = append(e.MakeDepends, value)
		case "checkdepend":
			e.CheckDepends = append(e.CheckDepends, value)
		case "provides":
			e.Provides = append(e.Provides, value)
		case "conflict":
			e.Conflicts = append(e.Conflicts, value)
		case "replaces":
			e.Replaces = append(e.Replaces, value)
		}
	}
}
