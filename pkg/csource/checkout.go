package csource

import (
	"errors"
	"fmt"
	"path/filepath"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Checkout pins a copy of the Emacs source tree to one revision.
type Checkout struct {
	URL    string
	Rev    string
	Dir    string
	Subdir string
}

// SrcDir is the directory holding the C sources inside the checkout.
func (c *Checkout) SrcDir() string {
	sub := c.Subdir
	if sub == "" {
		sub = "src"
	}
	return filepath.Join(c.Dir, sub)
}

// Ensure clones the repository on first use and forces the worktree onto
// the pinned revision. An already-correct checkout is left untouched.
func (c *Checkout) Ensure() error {
	repo, err := git.PlainOpen(c.Dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		fmt.Printf("cloning %s into %s\n", c.URL, c.Dir)
		repo, err = git.PlainClone(c.Dir, false, &git.CloneOptions{URL: c.URL})
	}
	if err != nil {
		return fmt.Errorf("csource: open %s: %w", c.Dir, err)
	}
	if c.Rev == "" {
		return nil
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(c.Rev))
	if err != nil {
		if ferr := repo.Fetch(&git.FetchOptions{Tags: git.AllTags}); ferr != nil && !errors.Is(ferr, git.NoErrAlreadyUpToDate) {
			return fmt.Errorf("csource: fetch %s: %w", c.URL, ferr)
		}
		hash, err = repo.ResolveRevision(plumbing.Revision(c.Rev))
		if err != nil {
			return fmt.Errorf("csource: resolve %q: %w", c.Rev, err)
		}
	}

	if head, err := repo.Head(); err == nil && head.Hash() == *hash {
		return nil
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("csource: worktree for %s: %w", c.Dir, err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
		return fmt.Errorf("csource: checkout %s: %w", c.Rev, err)
	}
	return nil
}
