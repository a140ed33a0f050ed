package services

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ochairo/cauldron/internal/domain/entities"
	"github.com/ochairo/cauldron/internal/domain/interfaces"
)

// Statement and predicate types written into provenance documents
const (
	statementType  = "https://in-toto.io/Statement/v0.1"
	provenanceType = "https://slsa.dev/provenance/v0.2"
)

// BuildStamp identifies one build run for attestation purposes
type BuildStamp struct {
	Tool       string
	ToolVer    string
	BuildUUID  string
	BuilderID  string
	StartedOn  time.Time
	FinishedOn time.Time
}

// SecurityArtifactsService composes and writes the SBOM and provenance
// sidecar files for built packages
type SecurityArtifactsService struct {
	log interfaces.Logger
}

// NewSecurityArtifactsService creates a new security artifacts service
func NewSecurityArtifactsService(log interfaces.Logger) *SecurityArtifactsService {
	if log == nil {
		log = &interfaces.NoOpLogger{}
	}
	return &SecurityArtifactsService{log: log}
}

// ComposeSBOM builds a CycloneDX bill of materials for a package: the
// package itself as the root component plus one library component per
// distinct NEEDED entry found in its binaries.
func (s *SecurityArtifactsService) ComposeSBOM(artifact *entities.Artifact, analyses []entities.ELFAnalysis, stamp BuildStamp) *entities.SBOM {
	root := &entities.Component{
		Type:    "application",
		Name:    artifact.Name,
		Version: artifact.Version.String(),
		Hashes: []entities.Hash{
			{Algorithm: "SHA-256", Content: artifact.SHA256},
		},
	}

	seen := make(map[string]bool)
	var libs []string
	for _, a := range analyses {
		for _, lib := range a.NeededLibraries {
			if lib == "" || seen[lib] {
				continue
			}
			seen[lib] = true
			libs = append(libs, lib)
		}
	}
	sort.Strings(libs)

	components := make([]entities.Component, 0, len(libs))
	for _, lib := range libs {
		name, version := parseLibraryNameVersion(lib)
		components = append(components, entities.Component{
			Type:    "library",
			Name:    name,
			Version: version,
		})
	}

	return &entities.SBOM{
		BOMFormat:    "CycloneDX",
		SpecVersion:  "1.4",
		SerialNumber: "urn:uuid:" + stamp.BuildUUID,
		Version:      1,
		Metadata: entities.SBOMMeta{
			Timestamp: stamp.FinishedOn,
			Tools:     []entities.Tool{{Name: stamp.Tool, Version: stamp.ToolVer}},
			Component: root,
		},
		Components: components,
	}
}

// ComposeProvenance builds a SLSA-style provenance statement for a
// package from the verified build inputs.
func (s *SecurityArtifactsService) ComposeProvenance(artifact *entities.Artifact, materials []entities.Material, stamp BuildStamp) *entities.Provenance {
	return &entities.Provenance{
		Version:       statementType,
		PredicateType: provenanceType,
		Subject: entities.Subject{
			Name:   artifact.FileName(),
			Digest: entities.DigestSet{SHA256: artifact.SHA256},
		},
		Predicate: entities.BuildClaim{
			BuildType: stamp.BuilderID + "@v1",
			Builder:   entities.Builder{ID: stamp.BuilderID},
			Metadata: entities.BuildMeta{
				BuildID:    stamp.BuildUUID,
				StartedOn:  stamp.StartedOn,
				FinishedOn: stamp.FinishedOn,
			},
			Materials: materials,
		},
	}
}

// WriteSidecars writes the SBOM and provenance documents next to the
// package file, returning their paths.
func (s *SecurityArtifactsService) WriteSidecars(artifact *entities.Artifact, sbom *entities.SBOM, prov *entities.Provenance) (sbomPath, provPath string, err error) {
	sbomPath = artifact.Path + ".sbom.json"
	if err := writeJSON(sbomPath, sbom); err != nil {
		return "", "", fmt.Errorf("failed to write SBOM: %w", err)
	}

	provPath = artifact.Path + ".provenance.json"
	if err := writeJSON(provPath, prov); err != nil {
		return "", "", fmt.Errorf("failed to write provenance: %w", err)
	}

	s.log.Info("wrote security artifacts",
		interfaces.F("package", artifact.FileName()),
		interfaces.F("sbom", sbomPath),
		interfaces.F("provenance", provPath))
	return sbomPath, provPath, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0600)
}

// parseLibraryNameVersion splits a shared object name such as
// libssl.so.1.1 into its library name and trailing version.
func parseLibraryNameVersion(lib string) (name, version string) {
	base := strings.TrimPrefix(lib, "lib")
	parts := strings.Split(base, ".")

	var nameParts, versionParts []string
	inVersion := true
	for i := len(parts) - 1; i >= 0; i-- {
		part := parts[i]
		if part == "so" {
			continue
		}
		if inVersion && isNumeric(part) {
			versionParts = append([]string{part}, versionParts...)
			continue
		}
		inVersion = false
		nameParts = append([]string{part}, nameParts...)
	}

	if len(nameParts) == 0 {
		return base, strings.Join(versionParts, ".")
	}
	return strings.Join(nameParts, "."), strings.Join(versionParts, ".")
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
