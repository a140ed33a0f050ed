package entities

import "time"

// SBOM is a CycloneDX software bill of materials for one built package
type SBOM struct {
	BOMFormat    string      `json:"bomFormat"`
	SpecVersion  string      `json:"specVersion"`
	SerialNumber string      `json:"serialNumber"`
	Version      int         `json:"version"`
	Metadata     SBOMMeta    `json:"metadata"`
	Components   []Component `json:"components"`
}

// SBOMMeta describes how and when the SBOM was produced
type SBOMMeta struct {
	Timestamp time.Time  `json:"timestamp"`
	Tools     []Tool     `json:"tools"`
	Component *Component `json:"component,omitempty"`
}

// Tool identifies the producer of the SBOM
type Tool struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Component is one entry of the bill of materials: the package itself or
// a shared library its binaries link against.
type Component struct {
	Type    string `json:"type"` // "application" or "library"
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Hashes  []Hash `json:"hashes,omitempty"`
}

// Hash is a cryptographic digest of a component
type Hash struct {
	Algorithm string `json:"alg"`
	Content   string `json:"content"`
}
