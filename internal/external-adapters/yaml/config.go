// Package yaml loads the cauldron.yml run configuration.
package yaml

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ochairo/cauldron/internal/domain/entities"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the file cauldron looks for when no explicit
// configuration path is given.
const ConfigFileName = "cauldron.yml"

// EnvConfigPath names the environment variable that overrides the
// configuration search path.
const EnvConfigPath = "CAULDRON_CONFIG"

// yamlConfig represents the raw YAML structure
type yamlConfig struct {
	BuildDir  string `yaml:"builddir"`
	SrcDest   string `yaml:"srcdest"`
	PkgDest   string `yaml:"pkgdest"`
	Packager  string `yaml:"packager"`
	CArch     string `yaml:"carch"`
	CHost     string `yaml:"chost"`
	MakeFlags string `yaml:"makeflags"`

	Compression yamlCompression `yaml:"compression"`
	BuildEnv    yamlBuildEnv    `yaml:"buildenv"`

	Integrity  string   `yaml:"integrity"`
	Keyrings   []string `yaml:"keyrings"`
	Keyservers []string `yaml:"keyservers"`
	Parallel   *int     `yaml:"parallel"`

	Lint     map[string]string    `yaml:"lint"`
	TokenEnv string               `yaml:"token_env"`
	Watch    map[string]yamlWatch `yaml:"watch"`
}

type yamlWatch struct {
	Kind    string `yaml:"kind"`
	Repo    string `yaml:"repo"`
	URL     string `yaml:"url"`
	Pattern string `yaml:"pattern"`
	Strip   string `yaml:"strip"`
}

type yamlCompression struct {
	Format string `yaml:"format"`
	Level  *int   `yaml:"level"`
}

type yamlBuildEnv struct {
	Check *bool  `yaml:"check"`
	Sign  *bool  `yaml:"sign"`
	Color *bool  `yaml:"color"`
	Key   string `yaml:"key"`
}

// ConfigParser parses cauldron.yml files
type ConfigParser struct{}

// NewConfigParser creates a new configuration parser
func NewConfigParser() *ConfigParser {
	return &ConfigParser{}
}

// Load resolves and parses the configuration for a run.
//
// Resolution order: the explicit path when given, then $CAULDRON_CONFIG,
// then ./cauldron.yml, then $XDG_CONFIG_HOME/cauldron/cauldron.yml. When
// no file exists the makepkg.conf-style defaults are returned.
func Load(explicitPath string) (*entities.Config, error) {
	parser := NewConfigParser()
	if explicitPath != "" {
		return parser.ParseFile(explicitPath)
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return parser.ParseFile(env)
	}
	for _, candidate := range searchPaths() {
		if _, err := os.Stat(candidate); err == nil {
			return parser.ParseFile(candidate)
		}
	}
	return entities.DefaultConfig(), nil
}

func searchPaths() []string {
	paths := []string{ConfigFileName}
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		if home, err := os.UserHomeDir(); err == nil {
			configHome = filepath.Join(home, ".config")
		}
	}
	if configHome != "" {
		paths = append(paths, filepath.Join(configHome, "cauldron", ConfigFileName))
	}
	return paths
}

// ParseFile parses a cauldron.yml file into a Config entity
func (p *ConfigParser) ParseFile(filePath string) (*entities.Config, error) {
	//nolint:gosec // G304: filePath is a configuration location chosen by the caller
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filePath, err)
	}

	cfg, err := p.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	return cfg, nil
}

// Parse parses YAML bytes into a Config entity. Unknown keys are rejected
// so typos surface instead of silently falling back to defaults.
func (p *ConfigParser) Parse(data []byte) (*entities.Config, error) {
	var raw yamlConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg := entities.DefaultConfig()
	applyRaw(cfg, &raw)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyRaw(cfg *entities.Config, raw *yamlConfig) {
	if raw.BuildDir != "" {
		cfg.BuildDir = expandPath(raw.BuildDir)
	}
	if raw.SrcDest != "" {
		cfg.SrcDest = expandPath(raw.SrcDest)
	}
	if raw.PkgDest != "" {
		cfg.PkgDest = expandPath(raw.PkgDest)
	}
	if raw.Packager != "" {
		cfg.Packager = raw.Packager
	}
	if raw.CArch != "" {
		cfg.CArch = raw.CArch
	}
	if raw.CHost != "" {
		cfg.CHost = raw.CHost
	}
	if raw.MakeFlags != "" {
		cfg.MakeFlags = raw.MakeFlags
	}
	if raw.Compression.Format != "" {
		cfg.Compression.Format = raw.Compression.Format
	}
	if raw.Compression.Level != nil {
		cfg.Compression.Level = *raw.Compression.Level
	}
	if raw.BuildEnv.Check != nil {
		cfg.BuildEnv.Check = *raw.BuildEnv.Check
	}
	if raw.BuildEnv.Sign != nil {
		cfg.BuildEnv.Sign = *raw.BuildEnv.Sign
	}
	if raw.BuildEnv.Color != nil {
		cfg.BuildEnv.Color = *raw.BuildEnv.Color
	}
	if raw.BuildEnv.Key != "" {
		cfg.BuildEnv.Key = raw.BuildEnv.Key
	}
	if raw.Integrity != "" {
		cfg.Integrity = entities.ChecksumKind(raw.Integrity)
	}
	if len(raw.Keyrings) > 0 {
		cfg.Keyrings = make([]string, 0, len(raw.Keyrings))
		for _, ring := range raw.Keyrings {
			cfg.Keyrings = append(cfg.Keyrings, expandPath(ring))
		}
	}
	if len(raw.Keyservers) > 0 {
		cfg.Keyservers = raw.Keyservers
	}
	if raw.Parallel != nil {
		cfg.Parallel = *raw.Parallel
	}
	if len(raw.Lint) > 0 {
		cfg.LintOverrides = raw.Lint
	}
	if raw.TokenEnv != "" {
		cfg.TokenEnv = raw.TokenEnv
	}
	if len(raw.Watch) > 0 {
		cfg.Watches = make(map[string]entities.Watch, len(raw.Watch))
		for base, w := range raw.Watch {
			cfg.Watches[base] = entities.Watch{
				Kind:    entities.WatchKind(w.Kind),
				Repo:    w.Repo,
				URL:     w.URL,
				Pattern: w.Pattern,
				Strip:   w.Strip,
			}
		}
	}
}

// validate checks ranges and enumerations; errors name the offending key.
func validate(cfg *entities.Config) error {
	maxLevel := 9
	switch cfg.Compression.Format {
	case entities.CompressZstd:
		maxLevel = 22
	case entities.CompressGzip, entities.CompressXZ, entities.CompressLZ4:
	default:
		return fmt.Errorf("compression.format: unknown format %q (want gz, xz, zst or lz4)", cfg.Compression.Format)
	}
	if cfg.Compression.Level < 0 || cfg.Compression.Level > maxLevel {
		return fmt.Errorf("compression.level: %d out of range for %s (0 to %d)", cfg.Compression.Level, cfg.Compression.Format, maxLevel)
	}

	known := false
	for _, kind := range entities.ChecksumKinds {
		if cfg.Integrity == kind {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("integrity: unknown algorithm %q (want md5, sha256, sha512 or b2)", cfg.Integrity)
	}

	if cfg.Parallel < 1 {
		return fmt.Errorf("parallel: must be at least 1, got %d", cfg.Parallel)
	}

	for rule, severity := range cfg.LintOverrides {
		switch severity {
		case string(entities.SeverityError), string(entities.SeverityWarning), string(entities.SeverityInfo), "off":
		default:
			return fmt.Errorf("lint.%s: unknown severity %q (want error, warning, info or off)", rule, severity)
		}
	}

	for base, w := range cfg.Watches {
		switch w.Kind {
		case entities.WatchGitHubRelease, entities.WatchGitHubTag:
			if w.Repo == "" {
				return fmt.Errorf("watch.%s: %s watches need a repo (owner/name)", base, w.Kind)
			}
		case entities.WatchURLRegex:
			if w.URL == "" || w.Pattern == "" {
				return fmt.Errorf("watch.%s: url-regex watches need both url and pattern", base)
			}
		default:
			return fmt.Errorf("watch.%s: unknown kind %q (want github-release, github-tag or url-regex)", base, w.Kind)
		}
	}

	return nil
}

// expandPath expands environment variables and a leading ~ in a
// configured path.
func expandPath(path string) string {
	path = os.ExpandEnv(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
