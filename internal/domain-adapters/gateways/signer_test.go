package gateways

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ochairo/cauldron/internal/domain/entities"
)

func TestPkgSigner_MissingPackageFile(t *testing.T) {
	signer := NewPkgSigner("", nil)
	artifact := &entities.Artifact{
		Name:        "tool",
		Version:     entities.Version{Ver: "1.0", Rel: "1"},
		Arch:        "x86_64",
		Path:        filepath.Join(t.TempDir(), "tool-1.0-1-x86_64.pkg.tar.zst"),
		Compression: entities.CompressZstd,
	}

	_, err := signer.SignPackage(context.Background(), artifact)
	if err == nil {
		t.Fatal("SignPackage() expected error for missing package file")
	}
	if !strings.Contains(err.Error(), "package file not found") {
		t.Errorf("error = %v, want package file not found", err)
	}
}

func TestPkgSigner_SignPackage(t *testing.T) {
	if !IsGPGInstalled() {
		t.Skip("gpg not installed")
	}

	// isolated keyring with a throwaway signing key
	gnupgHome := t.TempDir()
	if err := os.Chmod(gnupgHome, 0700); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GNUPGHOME", gnupgHome)

	gen := exec.Command("gpg", "--batch", "--pinentry-mode", "loopback", "--passphrase", "",
		"--quick-generate-key", "Signer Test <signer@example.com>", "ed25519", "sign", "0")
	if out, err := gen.CombinedOutput(); err != nil {
		t.Skipf("could not generate test key: %v\n%s", err, out)
	}

	pkgPath := filepath.Join(t.TempDir(), "tool-1.0-1-x86_64.pkg.tar.zst")
	if err := os.WriteFile(pkgPath, []byte("package payload"), 0600); err != nil {
		t.Fatal(err)
	}
	artifact := &entities.Artifact{
		Name:        "tool",
		Version:     entities.Version{Ver: "1.0", Rel: "1"},
		Arch:        "x86_64",
		Path:        pkgPath,
		Compression: entities.CompressZstd,
	}

	signer := NewPkgSigner("", nil)
	sigPath, err := signer.SignPackage(context.Background(), artifact)
	if err != nil {
		t.Fatalf("SignPackage() error = %v", err)
	}
	if sigPath != pkgPath+".sig" {
		t.Errorf("signature path = %q, want %q", sigPath, pkgPath+".sig")
	}

	info, err := os.Stat(sigPath)
	if err != nil {
		t.Fatalf("signature file missing: %v", err)
	}
	if info.Size() == 0 {
		t.Error("signature file is empty")
	}

	verify := exec.Command("gpg", "--verify", sigPath, pkgPath)
	if out, err := verify.CombinedOutput(); err != nil {
		t.Errorf("gpg --verify rejected the signature: %v\n%s", err, out)
	}

	// signing again must overwrite, not fail
	if _, err := signer.SignPackage(context.Background(), artifact); err != nil {
		t.Errorf("re-signing failed: %v", err)
	}
}
