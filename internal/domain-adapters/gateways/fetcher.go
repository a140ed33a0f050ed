package gateways

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/fatih/semgroup"
	"github.com/ochairo/cauldron/internal/domain/entities"
	"github.com/ochairo/cauldron/internal/domain/interfaces"
	"github.com/schollz/progressbar/v3"
)

const downloadUserAgent = "cauldron/1.0"

// Transient failures retry this many times beyond the first attempt.
const downloadRetries = 3

// fetcher populates the source cache: HTTP downloads, VCS syncs and
// local file staging
type fetcher struct {
	httpClient *http.Client
	git        *gitFetcher
	integrity  *integrityGateway
	log        interfaces.Logger
	parallel   int
	progress   bool
}

// FetcherOptions configures source fetching
type FetcherOptions struct {
	// Parallel bounds concurrent downloads; values below 1 mean serial.
	Parallel int
	// Progress enables byte-count progress bars on stderr.
	Progress bool
	// Token authenticates against private HTTP remotes.
	Token string
}

// NewFetcher creates a new source fetcher
//
//nolint:revive // unexported-return: Intentionally returns concrete type for testability
func NewFetcher(log interfaces.Logger, opts FetcherOptions) *fetcher {
	if log == nil {
		log = &interfaces.NoOpLogger{}
	}
	if opts.Parallel < 1 {
		opts.Parallel = 1
	}
	return &fetcher{
		httpClient: &http.Client{
			Timeout: 30 * time.Minute, // Long timeout for large downloads
		},
		git:       NewGitFetcher(opts.Token, log),
		integrity: NewIntegrityGateway(),
		log:       log,
		parallel:  opts.Parallel,
		progress:  opts.Progress,
	}
}

// FetchSources brings every source entry into the cache at srcdest.
// Remote files download in parallel, VCS caches sync, and local entries
// copy in from the manifest directory at startdir. Cached files that
// already match their checksum are not downloaded again.
func (f *fetcher) FetchSources(ctx context.Context, pkg *entities.Package, startdir, srcdest string) error {
	if err := os.MkdirAll(srcdest, 0750); err != nil {
		return fmt.Errorf("failed to create source cache: %w", err)
	}

	kind, sums, _ := pkg.ChecksumsFor()
	group := semgroup.NewGroup(ctx, int64(f.parallel))
	for i, src := range pkg.Sources {
		expected := ""
		if i < len(sums) {
			expected = sums[i]
		}
		group.Go(func() error {
			return f.fetchOne(ctx, src, startdir, srcdest, kind, expected)
		})
	}
	return group.Wait()
}

// CheckoutSources materializes every VCS source into srcdir at its
// pinned ref
func (f *fetcher) CheckoutSources(ctx context.Context, pkg *entities.Package, srcdest, srcdir string) error {
	for _, src := range pkg.Sources {
		if !src.IsVCS() {
			continue
		}
		if err := f.git.Checkout(ctx, src, srcdest, srcdir); err != nil {
			return err
		}
	}
	return nil
}

func (f *fetcher) fetchOne(ctx context.Context, src entities.Source, startdir, srcdest string, kind entities.ChecksumKind, expected string) error {
	switch {
	case src.IsVCS():
		return f.git.Sync(ctx, src, srcdest)
	case src.IsRemote():
		if src.Protocol == entities.ProtocolFTP {
			return fmt.Errorf("source %s: ftp downloads are not supported, mirror it over https", src.Raw)
		}
		return f.download(ctx, src, srcdest, kind, expected)
	default:
		return f.stageLocal(src, startdir, srcdest)
	}
}

// stageLocal copies a manifest-relative file into the cache
func (f *fetcher) stageLocal(src entities.Source, startdir, srcdest string) error {
	name := src.Filename()
	dest := filepath.Join(srcdest, name)
	if _, err := os.Stat(dest); err == nil {
		return nil
	}

	from := src.Location
	if !filepath.IsAbs(from) {
		from = filepath.Join(startdir, from)
	}
	if _, err := os.Stat(from); err != nil {
		return fmt.Errorf("local source %s not found: %w", name, err)
	}
	return copyFile(from, dest)
}

func (f *fetcher) download(ctx context.Context, src entities.Source, srcdest string, kind entities.ChecksumKind, expected string) error {
	name := src.Filename()
	dest := filepath.Join(srcdest, name)

	if f.cacheHit(ctx, dest, kind, expected) {
		f.log.Info("using cached source", interfaces.F("file", name))
		return nil
	}

	tmp := dest + ".part"
	operation := func() error {
		return f.downloadOnce(ctx, src.Location, name, tmp)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), downloadRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to download %s: %w", src.Location, err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("failed to finalize download: %w", err)
	}
	return nil
}

// cacheHit reports whether dest is already present and, when a checksum
// is declared, matches it. Stale cache entries are downloaded again.
func (f *fetcher) cacheHit(ctx context.Context, dest string, kind entities.ChecksumKind, expected string) bool {
	if _, err := os.Stat(dest); err != nil {
		return false
	}
	if expected == "" || expected == entities.SkipChecksum {
		return true
	}
	return f.integrity.Verify(ctx, dest, kind, expected) == nil
}

// downloadOnce performs a single download attempt into tmp. Client-side
// and 4xx failures are permanent; 429 and 5xx responses retry.
func (f *fetcher) downloadOnce(ctx context.Context, url, name, tmp string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", downloadUserAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	//nolint:errcheck // Defer close on HTTP response body
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respErr := fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(respErr)
		}
		return respErr
	}

	//nolint:gosec // G304: destination lives inside the source cache
	out, err := os.Create(tmp)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create file: %w", err))
	}

	bar := f.progressBar(resp.ContentLength, name)
	written, err := io.Copy(io.MultiWriter(out, bar), resp.Body)
	_ = bar.Finish()
	if err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	f.log.Info("downloaded source",
		interfaces.F("file", name),
		//nolint:gosec // G115: byte counts are non-negative
		interfaces.F("size", humanize.Bytes(uint64(written))))
	return nil
}

func (f *fetcher) progressBar(length int64, desc string) *progressbar.ProgressBar {
	if !f.progress {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}
	return progressbar.DefaultBytes(length, desc)
}
