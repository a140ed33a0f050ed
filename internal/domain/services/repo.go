package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ochairo/cauldron/internal/domain/entities"
)

// RepoStatus represents a pkgbase's standing against a repository database
type RepoStatus string

// Repository verification statuses
const (
	RepoReady        RepoStatus = "ready"
	RepoMissing      RepoStatus = "missing"
	RepoUnexpected   RepoStatus = "unexpected"
	RepoVersionDrift RepoStatus = "version-drift"
)

// AddOutcome describes what Add did with a record
type AddOutcome string

// Add outcomes
const (
	AddInserted     AddOutcome = "inserted"
	AddReplaced     AddOutcome = "replaced"
	AddSkippedNewer AddOutcome = "skipped-newer"
)

// RepoValidation contains the verification result for one pkgbase
type RepoValidation struct {
	Base             string
	Status           RepoStatus
	ManifestVersion  string
	DBVersion        string
	ExpectedArches   []string
	PresentArches    []string
	MissingArches    []string
	UnexpectedArches []string
	MissingNames     []string
}

// IsReady returns true if the database matches the manifest
func (rv *RepoValidation) IsReady() bool {
	return rv.Status == RepoReady
}

// Summary returns a human-readable description of the mismatch
func (rv *RepoValidation) Summary() string {
	switch rv.Status {
	case RepoReady:
		return ""
	case RepoMissing:
		if len(rv.PresentArches) == 0 {
			return fmt.Sprintf("not in database (expected architectures: %s)",
				strings.Join(rv.ExpectedArches, ", "))
		}
		var parts []string
		if len(rv.MissingNames) > 0 {
			parts = append(parts, fmt.Sprintf("missing packages: %s", strings.Join(rv.MissingNames, ", ")))
		}
		if len(rv.MissingArches) > 0 {
			parts = append(parts, fmt.Sprintf("missing architectures: %s", strings.Join(rv.MissingArches, ", ")))
		}
		return strings.Join(parts, "; ")
	case RepoUnexpected:
		return fmt.Sprintf("unexpected architectures in database: %s",
			strings.Join(rv.UnexpectedArches, ", "))
	case RepoVersionDrift:
		relation := "older"
		if entities.VerCmp(rv.DBVersion, rv.ManifestVersion) > 0 {
			relation = "newer"
		}
		return fmt.Sprintf("version drift: manifest %s, database %s (database is %s)",
			rv.ManifestVersion, rv.DBVersion, relation)
	default:
		return "unknown status"
	}
}

// RepoService holds the database bookkeeping logic: merging records in,
// dropping them, and verifying coverage against manifests.
type RepoService struct{}

// NewRepoService creates a new repo service
func NewRepoService() *RepoService {
	return &RepoService{}
}

// Add merges a record into the database contents. An existing record for
// the same package and architecture is replaced unless it carries a newer
// version than the incoming one.
func (s *RepoService) Add(entries []entities.RepoEntry, entry entities.RepoEntry) ([]entities.RepoEntry, AddOutcome) {
	for i := range entries {
		if entries[i].Name != entry.Name || entries[i].Arch != entry.Arch {
			continue
		}
		if entities.VerCmp(entries[i].Version, entry.Version) > 0 {
			return entries, AddSkippedNewer
		}
		entries[i] = entry
		return entries, AddReplaced
	}
	return append(entries, entry), AddInserted
}

// Remove drops every record matching name and reports whether any existed
func (s *RepoService) Remove(entries []entities.RepoEntry, name string) ([]entities.RepoEntry, bool) {
	kept := make([]entities.RepoEntry, 0, len(entries))
	removed := false
	for _, e := range entries {
		if e.Name == name {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	return kept, removed
}

// Verify compares the database records for a pkgbase's members against
// the manifest: every member present, at the manifest version, covering
// exactly the declared architectures.
func (s *RepoService) Verify(pkg *entities.Package, entries []entities.RepoEntry) *RepoValidation {
	validation := &RepoValidation{
		Base:            pkg.Base,
		ManifestVersion: pkg.FullVersion(),
		ExpectedArches:  pkg.Arch,
	}

	byName := make(map[string][]entities.RepoEntry)
	for _, e := range entries {
		byName[e.Name] = append(byName[e.Name], e)
	}

	presentSet := make(map[string]bool)
	for _, name := range pkg.Names {
		matched := byName[name]
		if len(matched) == 0 {
			validation.MissingNames = append(validation.MissingNames, name)
			continue
		}
		for _, e := range matched {
			if e.Arch != "" {
				presentSet[e.Arch] = true
			}
			if e.Version != validation.ManifestVersion && validation.DBVersion == "" {
				validation.DBVersion = e.Version
			}
		}
	}

	for arch := range presentSet {
		validation.PresentArches = append(validation.PresentArches, arch)
	}
	sort.Strings(validation.PresentArches)
	validation.MissingArches = subtractArches(validation.ExpectedArches, presentSet)
	validation.UnexpectedArches = unexpectedArches(validation.ExpectedArches, validation.PresentArches)

	switch {
	case len(presentSet) == 0:
		validation.Status = RepoMissing
	case validation.DBVersion != "":
		validation.Status = RepoVersionDrift
	case len(validation.UnexpectedArches) > 0:
		validation.Status = RepoUnexpected
	case len(validation.MissingNames) > 0 || len(validation.MissingArches) > 0:
		validation.Status = RepoMissing
	default:
		validation.Status = RepoReady
	}
	return validation
}

// subtractArches returns the expected architectures with no database record
func subtractArches(expected []string, present map[string]bool) []string {
	var missing []string
	for _, a := range expected {
		if !present[a] {
			missing = append(missing, a)
		}
	}
	return missing
}

// unexpectedArches returns database architectures the manifest no longer lists
func unexpectedArches(expected, present []string) []string {
	expectedSet := make(map[string]bool)
	for _, a := range expected {
		expectedSet[a] = true
	}

	var unexpected []string
	for _, a := range present {
		if !expectedSet[a] {
			unexpected = append(unexpected, a)
		}
	}
	return unexpected
}
