package pkgbuild

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/ochairo/cauldron/internal/domain/entities"
)

// Writer rewrites and scaffolds manifest files
type Writer struct {
	parser *syntax.Parser
}

// NewWriter creates a manifest writer
func NewWriter() *Writer {
	return &Writer{parser: syntax.NewParser()}
}

type span struct {
	start int
	end   int
	text  string
}

// UpdateChecksums rewrites the checksum arrays of the manifest at path in
// place. Arrays already present are regenerated; requested algorithms
// with no existing array are inserted after the source array.
func (w *Writer) UpdateChecksums(path string, sums map[entities.ChecksumKind][]string) error {
	//nolint:gosec // G304: path is a manifest location chosen by the caller
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	file, err := w.parser.Parse(bytes.NewReader(data), path)
	if err != nil {
		return fmt.Errorf("failed to parse manifest: %w", err)
	}

	edits := make([]span, 0, len(sums))
	seen := make(map[entities.ChecksumKind]bool)
	sourceEnd := -1

	for _, stmt := range file.Stmts {
		call, ok := stmt.Cmd.(*syntax.CallExpr)
		if !ok || len(call.Args) > 0 {
			continue
		}
		for _, as := range call.Assigns {
			if as.Name == nil {
				continue
			}
			if as.Name.Value == "source" {
				sourceEnd = int(stmt.End().Offset())
				continue
			}
			kind, ok := checksumArrayKind(as.Name.Value)
			if !ok {
				continue
			}
			newSums, wanted := sums[kind]
			if !wanted {
				continue
			}
			seen[kind] = true
			edits = append(edits, span{
				start: int(as.Pos().Offset()),
				end:   int(as.End().Offset()),
				text:  renderChecksumArray(kind, newSums),
			})
		}
	}

	// missing arrays are inserted after source=, or appended at the end
	var missing []entities.ChecksumKind
	for _, kind := range entities.ChecksumKinds {
		if _, wanted := sums[kind]; wanted && !seen[kind] {
			missing = append(missing, kind)
		}
	}
	// reversed so that equal-offset inserts keep weakest-first file order
	for i := len(missing) - 1; i >= 0; i-- {
		kind := missing[i]
		text := renderChecksumArray(kind, sums[kind])
		if sourceEnd >= 0 {
			edits = append(edits, span{start: sourceEnd, end: sourceEnd, text: "\n" + text})
		} else {
			edits = append(edits, span{start: len(data), end: len(data), text: text + "\n"})
		}
	}

	if len(edits) == 0 {
		return nil
	}

	sort.SliceStable(edits, func(i, j int) bool { return edits[i].start > edits[j].start })
	out := data
	for _, e := range edits {
		if e.start < 0 || e.end > len(out) || e.start > e.end {
			return fmt.Errorf("manifest changed during rewrite")
		}
		out = append(out[:e.start:e.start], append([]byte(e.text), out[e.end:]...)...)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat manifest: %w", err)
	}
	if err := os.WriteFile(path, out, info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func checksumArrayKind(field string) (entities.ChecksumKind, bool) {
	name, ok := strings.CutSuffix(field, "sums")
	if !ok {
		return "", false
	}
	for _, kind := range entities.ChecksumKinds {
		if string(kind) == name {
			return kind, true
		}
	}
	return "", false
}

func renderChecksumArray(kind entities.ChecksumKind, sums []string) string {
	name := string(kind) + "sums"
	if len(sums) == 0 {
		return name + "=()"
	}
	indent := strings.Repeat(" ", len(name)+2)
	var b strings.Builder
	b.WriteString(name)
	b.WriteString("=(")
	for i, s := range sums {
		if i > 0 {
			b.WriteString("\n")
			b.WriteString(indent)
		}
		b.WriteString("'")
		b.WriteString(s)
		b.WriteString("'")
	}
	b.WriteString(")")
	return b.String()
}

// StarterOptions parametrize a scaffolded manifest
type StarterOptions struct {
	Maintainer  string
	Name        string
	Version     string
	Description string
	URL         string
	License     string
	Arch        string
	SourceURL   string
}

// WriteStarter scaffolds a new manifest at path. Existing files are
// never overwritten.
func (w *Writer) WriteStarter(path string, opts StarterOptions) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	if opts.Name == "" {
		return fmt.Errorf("package name is required")
	}
	if !entities.IsValidPkgname(opts.Name) {
		return fmt.Errorf("invalid package name %q", opts.Name)
	}
	if opts.Version == "" {
		opts.Version = "0.1.0"
	}
	if opts.Arch == "" {
		opts.Arch = "x86_64"
	}
	if opts.License == "" {
		opts.License = "MIT"
	}
	if opts.SourceURL == "" {
		opts.SourceURL = fmt.Sprintf("%s/releases/download/v$pkgver/$pkgname-$pkgver.tar.gz", strings.TrimSuffix(opts.URL, "/"))
	}

	var b strings.Builder
	if opts.Maintainer != "" {
		fmt.Fprintf(&b, "# Maintainer: %s\n", opts.Maintainer)
	}
	fmt.Fprintf(&b, "pkgname=%s\n", opts.Name)
	fmt.Fprintf(&b, "pkgver=%s\n", opts.Version)
	b.WriteString("pkgrel=1\n")
	fmt.Fprintf(&b, "pkgdesc=%q\n", opts.Description)
	fmt.Fprintf(&b, "arch=('%s')\n", opts.Arch)
	fmt.Fprintf(&b, "url=%q\n", opts.URL)
	fmt.Fprintf(&b, "license=('%s')\n", opts.License)
	b.WriteString("depends=()\n")
	b.WriteString("makedepends=()\n")
	fmt.Fprintf(&b, "source=(%q)\n", opts.SourceURL)
	b.WriteString("sha256sums=('SKIP')\n")
	b.WriteString(`
build() {
	cd "$pkgname-$pkgver"
	./configure --prefix=/usr
	make
}

package() {
	cd "$pkgname-$pkgver"
	make DESTDIR="$pkgdir" install
	install -Dm644 LICENSE "$pkgdir/usr/share/licenses/$pkgname/LICENSE"
}
`)

	//nolint:gosec // G306: manifest files are world-readable
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
