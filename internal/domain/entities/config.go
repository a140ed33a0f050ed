package entities

import "runtime"

// Package archive compression formats.
const (
	CompressGzip = "gz"
	CompressXZ   = "xz"
	CompressZstd = "zst"
	CompressLZ4  = "lz4"
)

// CompressionSettings selects the package archive compression.
// Level 0 means the encoder default.
type CompressionSettings struct {
	Format string
	Level  int
}

// BuildEnvSettings holds the on/off toggles for a build run.
type BuildEnvSettings struct {
	Check bool
	Sign  bool
	Color bool
	// Key is the GPG key id passed to the signer when Sign is on.
	Key string
}

// Config holds the environment settings for a cauldron run, loaded from
// cauldron.yml. Empty directory fields mean "next to the manifest",
// matching makepkg's startdir behavior.
type Config struct {
	BuildDir  string
	SrcDest   string
	PkgDest   string
	Packager  string
	CArch     string
	CHost     string
	MakeFlags string

	Compression CompressionSettings
	BuildEnv    BuildEnvSettings

	// Integrity is the checksum algorithm written by checksum generation.
	Integrity  ChecksumKind
	Keyrings   []string
	Keyservers []string
	// Parallel bounds concurrent source downloads.
	Parallel int

	// LintOverrides remaps rule severities; the value "off" disables a rule.
	LintOverrides map[string]string
	// TokenEnv names the environment variable holding the forge API token.
	TokenEnv string
	// Watches overrides upstream probing per pkgbase; manifests without an
	// entry derive one from their url when it points at a known forge.
	Watches map[string]Watch
}

// DefaultConfig returns the settings used when no cauldron.yml exists.
// The values follow makepkg.conf conventions.
func DefaultConfig() *Config {
	arch := defaultCArch()
	return &Config{
		Packager:    "Unknown Packager",
		CArch:       arch,
		CHost:       arch + "-pc-linux-gnu",
		Compression: CompressionSettings{Format: CompressZstd},
		BuildEnv:    BuildEnvSettings{Check: true, Color: true},
		Integrity:   ChecksumSHA256,
		Keyservers: []string{
			"hkps://keyserver.ubuntu.com",
			"hkps://keys.openpgp.org",
		},
		Parallel: 4,
		TokenEnv: "GITHUB_TOKEN",
	}
}

func defaultCArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	case "386":
		return "i686"
	case "arm":
		return "armv7h"
	default:
		return runtime.GOARCH
	}
}

// EffectiveBuildDir returns the directory whose src/ and pkg/ subtrees host
// the build for a manifest located at startdir.
func (c *Config) EffectiveBuildDir(startdir string) string {
	if c.BuildDir != "" {
		return c.BuildDir
	}
	return startdir
}

// EffectiveSrcDest returns the download cache for a manifest at startdir.
func (c *Config) EffectiveSrcDest(startdir string) string {
	if c.SrcDest != "" {
		return c.SrcDest
	}
	return startdir
}

// EffectivePkgDest returns where finished packages land for a manifest at
// startdir.
func (c *Config) EffectivePkgDest(startdir string) string {
	if c.PkgDest != "" {
		return c.PkgDest
	}
	return startdir
}

// LintSeverity resolves the effective severity for a lint rule. The second
// return is false when the rule is disabled.
func (c *Config) LintSeverity(rule string, fallback Severity) (Severity, bool) {
	override, ok := c.LintOverrides[rule]
	if !ok {
		return fallback, true
	}
	if override == "off" {
		return fallback, false
	}
	return Severity(override), true
}
