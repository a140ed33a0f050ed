// Package gpg verifies detached source signatures using ProtonMail's
// go-crypto, a maintained fork of golang.org/x/crypto/openpgp.
package gpg

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ochairo/cauldron/internal/domain/entities"
	"github.com/ochairo/cauldron/internal/domain/interfaces"
)

const armorHeader = "-----BEGIN PGP SIGNATURE---"

// Verifier checks detached signatures against a keyring assembled from
// configured keyring files and keyserver lookups
type Verifier struct {
	keyring    openpgp.EntityList
	keyservers []string
	httpClient *http.Client
	log        interfaces.Logger
}

// NewVerifier creates a new signature verifier. The keyserver list comes
// from the run configuration; hkps:// and hkp:// schemes are accepted.
func NewVerifier(keyservers []string, log interfaces.Logger) *Verifier {
	if log == nil {
		log = &interfaces.NoOpLogger{}
	}
	if len(keyservers) == 0 {
		keyservers = []string{
			"https://keys.openpgp.org",
			"https://keyserver.ubuntu.com",
			"https://pgp.mit.edu",
		}
	}
	normalized := make([]string, 0, len(keyservers))
	for _, ks := range keyservers {
		normalized = append(normalized, normalizeKeyserver(ks))
	}
	return &Verifier{
		keyring:    make(openpgp.EntityList, 0),
		keyservers: normalized,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}
}

func normalizeKeyserver(url string) string {
	switch {
	case strings.HasPrefix(url, "hkps://"):
		return "https://" + strings.TrimPrefix(url, "hkps://")
	case strings.HasPrefix(url, "hkp://"):
		return "http://" + strings.TrimPrefix(url, "hkp://")
	default:
		return url
	}
}

// LoadKeyringFiles imports every configured keyring file
func (v *Verifier) LoadKeyringFiles(paths []string) error {
	for _, path := range paths {
		if err := v.ImportKeyFromFile(path); err != nil {
			return fmt.Errorf("keyring %s: %w", path, err)
		}
	}
	return nil
}

// ImportKeyFromFile imports GPG keys from a local file, armored or binary
func (v *Verifier) ImportKeyFromFile(keyPath string) error {
	//nolint:gosec // G304: keyPath is a configured keyring location
	f, err := os.Open(keyPath)
	if err != nil {
		return fmt.Errorf("failed to open key file: %w", err)
	}
	//nolint:errcheck // Defer close
	defer f.Close()

	keys, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		// Try reading as binary
		if _, seekErr := f.Seek(0, 0); seekErr != nil {
			return fmt.Errorf("failed to reset file: %w", seekErr)
		}
		keys, err = openpgp.ReadKeyRing(f)
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
	}

	if len(keys) == 0 {
		return fmt.Errorf("no keys found in file")
	}

	v.keyring = append(v.keyring, keys...)
	return nil
}

// ImportKeys fetches keys for the given fingerprints from the
// keyservers, trying each server and endpoint until one succeeds
func (v *Verifier) ImportKeys(ctx context.Context, keyIDs []string) error {
	if len(keyIDs) == 0 {
		return fmt.Errorf("no key IDs provided")
	}

	for _, keyID := range keyIDs {
		if keyID == "" {
			continue
		}

		var lastErr error
		imported := false

		for _, keyserver := range v.keyservers {
			urls := []string{
				fmt.Sprintf("%s/vks/v1/by-fingerprint/%s", keyserver, strings.ToUpper(keyID)),
				fmt.Sprintf("%s/pks/lookup?op=get&search=0x%s", keyserver, keyID),
			}

			for _, url := range urls {
				keys, err := v.fetchKey(ctx, url)
				if err != nil {
					lastErr = err
					continue
				}

				// the keyserver response must actually contain the
				// requested fingerprint
				if !keyringMatches(keys, keyID) {
					lastErr = fmt.Errorf("no keys matching fingerprint %s in response", keyID)
					continue
				}

				v.keyring = append(v.keyring, keys...)
				v.log.Debug("imported key",
					interfaces.F("fingerprint", keyID),
					interfaces.F("keyserver", keyserver))
				imported = true
				break
			}

			if imported {
				break
			}
		}

		if !imported {
			return fmt.Errorf("failed to import key %s from all keyservers: %w", keyID, lastErr)
		}
	}

	return nil
}

func (v *Verifier) fetchKey(ctx context.Context, url string) (openpgp.EntityList, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	//nolint:errcheck // Defer close
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("keyserver returned status %d", resp.StatusCode)
	}

	keys, err := openpgp.ReadArmoredKeyRing(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no keys found in response")
	}
	return keys, nil
}

func keyringMatches(keys openpgp.EntityList, keyID string) bool {
	for _, entity := range keys {
		if fingerprintMatches(fmt.Sprintf("%X", entity.PrimaryKey.Fingerprint), keyID) {
			return true
		}
	}
	return false
}

// fingerprintMatches accepts the full fingerprint or the 16-hex short
// form
func fingerprintMatches(fingerprint, keyID string) bool {
	fingerprint = strings.ToUpper(fingerprint)
	keyID = strings.ToUpper(keyID)
	if fingerprint == keyID {
		return true
	}
	return len(keyID) >= 16 && strings.HasSuffix(fingerprint, keyID)
}

// VerifyDetached checks a detached signature file against a data file
// and returns the signing entity
func (v *Verifier) VerifyDetached(filePath, sigPath string) (*openpgp.Entity, error) {
	if len(v.keyring) == 0 {
		return nil, fmt.Errorf("no GPG keys imported")
	}

	//nolint:gosec // G304: sigPath lives inside the source cache
	sigFile, err := os.Open(sigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open signature file: %w", err)
	}
	//nolint:errcheck // Defer close
	defer sigFile.Close()

	//nolint:gosec // G304: filePath lives inside the source cache
	dataFile, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	//nolint:errcheck // Defer close
	defer dataFile.Close()

	// Peek at signature file to determine if it's armored
	peekBuf := make([]byte, len(armorHeader))
	n, _ := io.ReadFull(sigFile, peekBuf)
	isArmored := n == len(armorHeader) && string(peekBuf) == armorHeader

	if _, seekErr := sigFile.Seek(0, 0); seekErr != nil {
		return nil, fmt.Errorf("failed to reset signature file: %w", seekErr)
	}

	var signer *openpgp.Entity
	var verifyErr error
	if isArmored {
		signer, verifyErr = openpgp.CheckArmoredDetachedSignature(v.keyring, dataFile, sigFile, nil)
	} else {
		signer, verifyErr = openpgp.CheckDetachedSignature(v.keyring, dataFile, sigFile, nil)
	}

	if verifyErr != nil {
		return nil, fmt.Errorf("signature verification failed: %w", verifyErr)
	}
	return signer, nil
}

// CheckSources verifies every signature companion in the source array
// against its signed file in srcdest. When the manifest declares
// validpgpkeys, missing keys are imported from the keyservers and the
// signer must be listed there.
func (v *Verifier) CheckSources(ctx context.Context, pkg *entities.Package, srcdest string) ([]entities.SignatureCheck, error) {
	var sigs []entities.Source
	for _, src := range pkg.Sources {
		if src.IsSignature() {
			sigs = append(sigs, src)
		}
	}
	if len(sigs) == 0 {
		return nil, nil
	}

	if len(v.keyring) == 0 && len(pkg.ValidPGPKeys) > 0 {
		if err := v.ImportKeys(ctx, pkg.ValidPGPKeys); err != nil {
			return nil, err
		}
	}
	if len(v.keyring) == 0 {
		return nil, fmt.Errorf("sources are signed but no GPG keys are available; configure keyrings or declare validpgpkeys")
	}

	checks := make([]entities.SignatureCheck, 0, len(sigs))
	for _, src := range sigs {
		if err := ctx.Err(); err != nil {
			return checks, err
		}

		signed, _ := src.SignedFilename()
		check := entities.SignatureCheck{
			File:          signed,
			SignatureFile: src.Filename(),
		}

		signer, err := v.VerifyDetached(filepath.Join(srcdest, signed), filepath.Join(srcdest, src.Filename()))
		if err != nil {
			check.Reason = err.Error()
		} else {
			check.Valid = true
			check.Fingerprint = fmt.Sprintf("%X", signer.PrimaryKey.Fingerprint)
			check.SignerName = primaryIdentity(signer)
			check.Trusted = isTrusted(pkg.ValidPGPKeys, check.Fingerprint)
			if !check.Trusted {
				check.Reason = "signer is not listed in validpgpkeys"
			}
		}
		checks = append(checks, check)
	}
	return checks, nil
}

// isTrusted reports whether the signer is acceptable. Without a
// validpgpkeys array any key from the operator-provided keyring counts.
func isTrusted(validKeys []string, fingerprint string) bool {
	if len(validKeys) == 0 {
		return true
	}
	for _, key := range validKeys {
		if fingerprintMatches(fingerprint, key) {
			return true
		}
	}
	return false
}

func primaryIdentity(e *openpgp.Entity) string {
	names := make([]string, 0, len(e.Identities))
	for name := range e.Identities {
		names = append(names, name)
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return names[0]
}

// GetKeyringSize returns the number of keys in the keyring
func (v *Verifier) GetKeyringSize() int {
	return len(v.keyring)
}

// ClearKeyring clears all imported keys
func (v *Verifier) ClearKeyring() {
	v.keyring = make(openpgp.EntityList, 0)
}
