package gateways

import (
	"context"
	"crypto/md5"  //nolint:gosec // G501: legacy manifests declare md5sums, verify-only
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ochairo/cauldron/internal/domain/entities"
	"golang.org/x/crypto/blake2b"
)

// integrityGateway implements checksum generation and verification using
// pure Go hashes
type integrityGateway struct{}

// NewIntegrityGateway creates a new integrity gateway
//
//nolint:revive // unexported-return: Intentionally returns concrete type for testability
func NewIntegrityGateway() *integrityGateway {
	return &integrityGateway{}
}

func newHash(kind entities.ChecksumKind) (hash.Hash, error) {
	switch kind {
	case entities.ChecksumMD5:
		//nolint:gosec // G401: md5 is verify-only for legacy manifests
		return md5.New(), nil
	case entities.ChecksumSHA256:
		return sha256.New(), nil
	case entities.ChecksumSHA512:
		return sha512.New(), nil
	case entities.ChecksumB2:
		return blake2b.New512(nil)
	default:
		return nil, fmt.Errorf("unsupported checksum algorithm %q", kind)
	}
}

// Checksum computes one algorithm over a file
func (g *integrityGateway) Checksum(_ context.Context, filePath string, kind entities.ChecksumKind) (string, error) {
	h, err := newHash(kind)
	if err != nil {
		return "", err
	}

	//nolint:gosec // G304: File path is user-provided for checksum calculation
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChecksumAll computes every supported algorithm over a file in one read
func (g *integrityGateway) ChecksumAll(_ context.Context, filePath string) (map[entities.ChecksumKind]string, error) {
	hashes := make(map[entities.ChecksumKind]hash.Hash, len(entities.ChecksumKinds))
	writers := make([]io.Writer, 0, len(entities.ChecksumKinds))
	for _, kind := range entities.ChecksumKinds {
		h, err := newHash(kind)
		if err != nil {
			return nil, err
		}
		hashes[kind] = h
		writers = append(writers, h)
	}

	//nolint:gosec // G304: File path is user-provided for checksum calculation
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	if _, err := io.Copy(io.MultiWriter(writers...), f); err != nil {
		return nil, fmt.Errorf("failed to hash file: %w", err)
	}

	sums := make(map[entities.ChecksumKind]string, len(hashes))
	for kind, h := range hashes {
		sums[kind] = hex.EncodeToString(h.Sum(nil))
	}
	return sums, nil
}

// Verify compares a file against an expected checksum. The SKIP
// placeholder passes without reading the file.
func (g *integrityGateway) Verify(ctx context.Context, filePath string, kind entities.ChecksumKind, expectedSum string) error {
	if expectedSum == entities.SkipChecksum {
		return nil
	}

	actualSum, err := g.Checksum(ctx, filePath, kind)
	if err != nil {
		return err
	}
	if !strings.EqualFold(actualSum, expectedSum) {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", expectedSum, actualSum)
	}
	return nil
}

// VerifySourceFiles checks every fetched source file in dir against the
// strongest checksum array the manifest declares. Entry counts must match
// the source array.
func (g *integrityGateway) VerifySourceFiles(ctx context.Context, pkg *entities.Package, dir string) error {
	kind, sums, ok := pkg.ChecksumsFor()
	if !ok {
		return fmt.Errorf("%s declares no checksum arrays", pkg.Base)
	}
	if len(sums) != len(pkg.Sources) {
		return fmt.Errorf("%ssums has %d entries for %d sources", kind, len(sums), len(pkg.Sources))
	}

	for i, src := range pkg.Sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		if sums[i] == entities.SkipChecksum {
			continue
		}
		path := filepath.Join(dir, src.Filename())
		if err := g.Verify(ctx, path, kind, sums[i]); err != nil {
			return fmt.Errorf("source %s: %w", src.Filename(), err)
		}
	}
	return nil
}

// SourceSums computes fresh checksum arrays for every source entry, one
// array per requested algorithm. VCS sources get the SKIP placeholder.
func (g *integrityGateway) SourceSums(ctx context.Context, pkg *entities.Package, dir string, kinds []entities.ChecksumKind) (map[entities.ChecksumKind][]string, error) {
	result := make(map[entities.ChecksumKind][]string, len(kinds))
	for _, kind := range kinds {
		if _, err := newHash(kind); err != nil {
			return nil, err
		}
		result[kind] = make([]string, 0, len(pkg.Sources))
	}

	for _, src := range pkg.Sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if src.IsVCS() {
			for _, kind := range kinds {
				result[kind] = append(result[kind], entities.SkipChecksum)
			}
			continue
		}

		sums, err := g.ChecksumAll(ctx, filepath.Join(dir, src.Filename()))
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", src.Filename(), err)
		}
		for _, kind := range kinds {
			result[kind] = append(result[kind], sums[kind])
		}
	}
	return result, nil
}
