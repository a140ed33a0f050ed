package entities

import "fmt"

// Artifact represents one built package file on disk
type Artifact struct {
	Name          string
	Version       Version
	Arch          string
	Path          string
	Compression   string // "gz", "xz", "zst" or "lz4"
	Size          int64  // compressed file size
	InstalledSize int64  // sum of staged file sizes
	SHA256        string
	FileCount     int
}

// ArtifactFileName composes the canonical package file name:
// name-[epoch:]ver-rel-arch.pkg.tar.<ext>
func ArtifactFileName(name string, version Version, arch, compression string) string {
	return fmt.Sprintf("%s-%s-%s.pkg.tar.%s", name, version.String(), arch, compression)
}

// FileName returns the canonical file name for the artifact
func (a *Artifact) FileName() string {
	return ArtifactFileName(a.Name, a.Version, a.Arch, a.Compression)
}
