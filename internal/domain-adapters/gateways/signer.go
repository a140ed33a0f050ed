package gateways

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/ochairo/cauldron/internal/domain/entities"
	"github.com/ochairo/cauldron/internal/domain/interfaces"
)

// pkgSigner produces detached GPG signatures for built packages by
// invoking the system gpg binary, the same way makepkg --sign does.
// Signing stays on the gpg binary rather than an in-process keyring so
// the signing key never leaves the user's agent.
type pkgSigner struct {
	key string
	log interfaces.Logger
}

// NewPkgSigner creates a package signer. key is the gpg key id to sign
// with; empty means the gpg default key.
//
//nolint:revive // unexported-return: Intentionally returns concrete type for testability
func NewPkgSigner(key string, log interfaces.Logger) *pkgSigner {
	if log == nil {
		log = &interfaces.NoOpLogger{}
	}
	return &pkgSigner{key: key, log: log}
}

// SignPackage writes a detached binary signature next to the package
// file and returns the signature path.
func (s *pkgSigner) SignPackage(ctx context.Context, artifact *entities.Artifact) (string, error) {
	if _, err := os.Stat(artifact.Path); err != nil {
		return "", fmt.Errorf("package file not found: %w", err)
	}
	if _, err := exec.LookPath("gpg"); err != nil {
		return "", fmt.Errorf("gpg not installed: %w (package signing needs the gpg binary on PATH)", err)
	}

	sigPath := artifact.Path + ".sig"
	args := []string{"--detach-sign", "--yes", "--no-armor"}
	if s.key != "" {
		args = append(args, "--local-user", s.key)
	}
	args = append(args, "--output", sigPath, artifact.Path)

	cmd := exec.CommandContext(ctx, "gpg", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("gpg signing failed: %w\nOutput: %s", err, string(output))
	}

	s.log.Info("signed package",
		interfaces.F("package", artifact.FileName()),
		interfaces.F("signature", sigPath))
	return sigPath, nil
}

// IsGPGInstalled checks if gpg is available in PATH
func IsGPGInstalled() bool {
	_, err := exec.LookPath("gpg")
	return err == nil
}
