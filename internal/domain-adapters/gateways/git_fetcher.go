package gateways

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/ochairo/cauldron/internal/domain/entities"
	"github.com/ochairo/cauldron/internal/domain/interfaces"
)

// gitFetcher maintains VCS source caches and working checkouts
type gitFetcher struct {
	auth transport.AuthMethod
	log  interfaces.Logger
}

// NewGitFetcher creates a new git fetcher. A non-empty token is used as
// HTTP basic auth for private remotes.
//
//nolint:revive // unexported-return: Intentionally returns concrete type for testability
func NewGitFetcher(token string, log interfaces.Logger) *gitFetcher {
	if log == nil {
		log = &interfaces.NoOpLogger{}
	}
	g := &gitFetcher{log: log}
	if token != "" {
		g.auth = &githttp.BasicAuth{
			Username: "x-access-token",
			Password: token,
		}
	}
	return g
}

// Sync clones or refreshes the cache copy of a VCS source under srcdest
func (g *gitFetcher) Sync(ctx context.Context, src entities.Source, srcdest string) error {
	cachePath := filepath.Join(srcdest, src.Filename())

	repo, err := git.PlainOpen(cachePath)
	if err != nil {
		g.log.Info("cloning repository",
			interfaces.F("url", src.Location),
			interfaces.F("into", cachePath))
		if _, err := git.PlainCloneContext(ctx, cachePath, false, &git.CloneOptions{
			URL:  src.Location,
			Auth: g.auth,
		}); err != nil {
			return fmt.Errorf("failed to clone %s: %w", src.Location, err)
		}
		return nil
	}

	err = repo.FetchContext(ctx, &git.FetchOptions{
		Auth:  g.auth,
		Tags:  git.AllTags,
		Force: true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		// a stale cache can still satisfy pinned refs
		g.log.Warn("failed to refresh repository cache",
			interfaces.F("url", src.Location),
			interfaces.F("error", err.Error()))
	}
	return nil
}

// Checkout materializes a working tree for the source inside srcdir at
// the ref its fragment pins; the default branch HEAD without a fragment
func (g *gitFetcher) Checkout(ctx context.Context, src entities.Source, srcdest, srcdir string) error {
	cachePath := filepath.Join(srcdest, src.Filename())
	workPath := filepath.Join(srcdir, src.Filename())

	if err := os.RemoveAll(workPath); err != nil {
		return fmt.Errorf("failed to clear checkout path: %w", err)
	}
	repo, err := git.PlainCloneContext(ctx, workPath, false, &git.CloneOptions{
		URL: cachePath,
	})
	if err != nil {
		return fmt.Errorf("failed to clone from cache %s: %w", cachePath, err)
	}
	if src.Ref == nil {
		return nil
	}

	hash, err := resolveRef(repo, src.Ref)
	if err != nil {
		return fmt.Errorf("source %s: %w", src.Filename(), err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Hash: hash, Force: true}); err != nil {
		return fmt.Errorf("failed to checkout %s: %w", src.Ref.Value, err)
	}
	return nil
}

func resolveRef(repo *git.Repository, ref *entities.VCSRef) (plumbing.Hash, error) {
	switch ref.Kind {
	case "commit":
		hash, err := repo.ResolveRevision(plumbing.Revision(ref.Value))
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("commit %q not found: %w", ref.Value, err)
		}
		return *hash, nil

	case "tag":
		r, err := repo.Reference(plumbing.NewTagReferenceName(ref.Value), true)
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("tag %q not found: %w", ref.Value, err)
		}
		// annotated tags point at a tag object, not the commit
		if tagObj, err := repo.TagObject(r.Hash()); err == nil {
			return tagObj.Target, nil
		}
		return r.Hash(), nil

	case "branch":
		for _, name := range []plumbing.ReferenceName{
			plumbing.NewBranchReferenceName(ref.Value),
			plumbing.NewRemoteReferenceName("origin", ref.Value),
		} {
			if r, err := repo.Reference(name, true); err == nil {
				return r.Hash(), nil
			}
		}
		return plumbing.ZeroHash, fmt.Errorf("branch %q not found", ref.Value)

	default:
		return plumbing.ZeroHash, fmt.Errorf("unsupported ref kind %q", ref.Kind)
	}
}
