package gateways

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/ochairo/cauldron/internal/domain/entities"
)

// initUpstreamRepo creates a local repository with two commits; the tag
// v1.0 points at the first one
func initUpstreamRepo(t *testing.T, dir string) (tagged, head plumbing.Hash) {
	t.Helper()

	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("PlainInit() error = %v", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree() error = %v", err)
	}

	author := &object.Signature{Name: "Ada Onyx", Email: "ada@example.org", When: time.Now()}

	if err := os.WriteFile(filepath.Join(dir, "main.c"), []byte("int main(){return 0;}\n"), 0600); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := worktree.Add("main.c"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	tagged, err = worktree.Commit("initial release", &git.CommitOptions{Author: author})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if _, err := repo.CreateTag("v1.0", tagged, nil); err != nil {
		t.Fatalf("CreateTag() error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "extra.c"), []byte("void extra(void){}\n"), 0600); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := worktree.Add("extra.c"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	head, err = worktree.Commit("post-release work", &git.CommitOptions{Author: author})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	return tagged, head
}

func TestGitFetcher_SyncAndCheckout(t *testing.T) {
	upstream := filepath.Join(t.TempDir(), "tool.git")
	tagged, _ := initUpstreamRepo(t, upstream)

	src := entities.Source{
		Raw:      "git+file://" + upstream + "#tag=v1.0",
		Protocol: entities.ProtocolGit,
		Location: upstream,
		Ref:      &entities.VCSRef{Kind: "tag", Value: "v1.0"},
	}

	srcdest := t.TempDir()
	srcdir := t.TempDir()
	fetcher := NewGitFetcher("", nil)

	if err := fetcher.Sync(context.Background(), src, srcdest); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(srcdest, "tool", ".git")); err != nil {
		t.Fatalf("cache clone missing: %v", err)
	}

	// a second sync must reuse the cache, not re-clone
	if err := fetcher.Sync(context.Background(), src, srcdest); err != nil {
		t.Fatalf("second Sync() error = %v", err)
	}

	if err := fetcher.Checkout(context.Background(), src, srcdest, srcdir); err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}

	workPath := filepath.Join(srcdir, "tool")
	if _, err := os.Stat(filepath.Join(workPath, "main.c")); err != nil {
		t.Errorf("checked-out file missing: %v", err)
	}
	// the tag predates extra.c, so it must not be present
	if _, err := os.Stat(filepath.Join(workPath, "extra.c")); err == nil {
		t.Error("checkout should pin the tagged commit, extra.c present")
	}

	repo, err := git.PlainOpen(workPath)
	if err != nil {
		t.Fatalf("PlainOpen() error = %v", err)
	}
	headRef, err := repo.Head()
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if headRef.Hash() != tagged {
		t.Errorf("HEAD = %s, want tagged commit %s", headRef.Hash(), tagged)
	}
}

func TestGitFetcher_CheckoutCommit(t *testing.T) {
	upstream := filepath.Join(t.TempDir(), "tool.git")
	tagged, _ := initUpstreamRepo(t, upstream)

	src := entities.Source{
		Raw:      "git+file://" + upstream,
		Protocol: entities.ProtocolGit,
		Location: upstream,
		Ref:      &entities.VCSRef{Kind: "commit", Value: tagged.String()},
	}

	srcdest := t.TempDir()
	srcdir := t.TempDir()
	fetcher := NewGitFetcher("", nil)

	if err := fetcher.Sync(context.Background(), src, srcdest); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if err := fetcher.Checkout(context.Background(), src, srcdest, srcdir); err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}

	repo, err := git.PlainOpen(filepath.Join(srcdir, "tool"))
	if err != nil {
		t.Fatalf("PlainOpen() error = %v", err)
	}
	headRef, err := repo.Head()
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if headRef.Hash() != tagged {
		t.Errorf("HEAD = %s, want pinned commit %s", headRef.Hash(), tagged)
	}
}

func TestGitFetcher_CheckoutDefaultBranch(t *testing.T) {
	upstream := filepath.Join(t.TempDir(), "tool.git")
	_, head := initUpstreamRepo(t, upstream)

	src := entities.Source{
		Raw:      "git+file://" + upstream,
		Protocol: entities.ProtocolGit,
		Location: upstream,
	}

	srcdest := t.TempDir()
	srcdir := t.TempDir()
	fetcher := NewGitFetcher("", nil)

	if err := fetcher.Sync(context.Background(), src, srcdest); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if err := fetcher.Checkout(context.Background(), src, srcdest, srcdir); err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}

	repo, err := git.PlainOpen(filepath.Join(srcdir, "tool"))
	if err != nil {
		t.Fatalf("PlainOpen() error = %v", err)
	}
	headRef, err := repo.Head()
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if headRef.Hash() != head {
		t.Errorf("HEAD = %s, want branch tip %s", headRef.Hash(), head)
	}
}

func TestGitFetcher_UnknownTag(t *testing.T) {
	upstream := filepath.Join(t.TempDir(), "tool.git")
	initUpstreamRepo(t, upstream)

	src := entities.Source{
		Raw:      "git+file://" + upstream + "#tag=v9.9",
		Protocol: entities.ProtocolGit,
		Location: upstream,
		Ref:      &entities.VCSRef{Kind: "tag", Value: "v9.9"},
	}

	srcdest := t.TempDir()
	fetcher := NewGitFetcher("", nil)
	if err := fetcher.Sync(context.Background(), src, srcdest); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if err := fetcher.Checkout(context.Background(), src, srcdest, t.TempDir()); err == nil {
		t.Error("Checkout() with unknown tag should return error")
	}
}
