package entities

import "time"

// Provenance records how a package file was produced, in the shape of a
// SLSA provenance statement: the subject digest, the builder identity and
// the verified input materials.
type Provenance struct {
	Version       string     `json:"_type"`
	PredicateType string     `json:"predicateType"`
	Subject       Subject    `json:"subject"`
	Predicate     BuildClaim `json:"predicate"`
}

// Subject identifies the produced package file
type Subject struct {
	Name   string    `json:"name"`
	Digest DigestSet `json:"digest"`
}

// DigestSet carries the cryptographic digests of the subject
type DigestSet struct {
	SHA256 string `json:"sha256"`
}

// BuildClaim contains the provenance claims for one build
type BuildClaim struct {
	BuildType string     `json:"buildType"`
	Builder   Builder    `json:"builder"`
	Metadata  BuildMeta  `json:"metadata"`
	Materials []Material `json:"materials"`
}

// Builder identifies the build tool
type Builder struct {
	ID string `json:"id"`
}

// BuildMeta carries the build session identity and timing
type BuildMeta struct {
	BuildID    string    `json:"buildInvocationId"`
	StartedOn  time.Time `json:"buildStartedOn"`
	FinishedOn time.Time `json:"buildFinishedOn"`
}

// Material is one verified input to the build: a source entry and the
// digest it was checked against.
type Material struct {
	URI    string    `json:"uri"`
	Digest DigestSet `json:"digest,omitempty"`
}
