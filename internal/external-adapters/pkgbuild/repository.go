package pkgbuild

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ochairo/cauldron/internal/domain/entities"
	"github.com/ochairo/cauldron/internal/domain/interfaces"
)

// Repository locates manifests in a directory tree laid out as one
// directory per package base, each holding a PKGBUILD.
type Repository struct {
	root   string
	parser *Parser
	log    interfaces.Logger
}

// NewRepository creates a manifest repository rooted at dir
func NewRepository(root string, log interfaces.Logger) *Repository {
	if log == nil {
		log = &interfaces.NoOpLogger{}
	}
	return &Repository{
		root:   root,
		parser: NewParser(),
		log:    log,
	}
}

// Get retrieves one manifest by package base name
func (r *Repository) Get(_ context.Context, base string) (*entities.Package, error) {
	path := filepath.Join(r.root, base, ManifestName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("manifest not found for %s", base)
	}
	return r.parser.ParseFile(path)
}

// List parses every manifest under the root, sorted by package base.
// Manifests that fail to parse are logged and skipped.
func (r *Repository) List(_ context.Context) ([]*entities.Package, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest directory: %w", err)
	}

	pkgs := make([]*entities.Package, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(r.root, entry.Name(), ManifestName)
		if _, err := os.Stat(path); err != nil {
			continue
		}

		pkg, err := r.parser.ParseFile(path)
		if err != nil {
			r.log.Warn("skipping unparsable manifest",
				interfaces.F("dir", entry.Name()),
				interfaces.F("error", err.Error()))
			continue
		}
		pkgs = append(pkgs, pkg)
	}

	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Base < pkgs[j].Base })
	return pkgs, nil
}

// Locate resolves a build target given on the command line: a directory
// containing a PKGBUILD, a manifest path, or a package base under the
// repository root.
func (r *Repository) Locate(ctx context.Context, target string) (*entities.Package, error) {
	if fi, err := os.Stat(target); err == nil {
		if fi.IsDir() {
			return r.parser.ParseFile(filepath.Join(target, ManifestName))
		}
		return r.parser.ParseFile(target)
	}
	return r.Get(ctx, target)
}
