package templater

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// History commits every assembled revision of a project to a git repository
// inside the project directory, so repairs can be diffed afterwards.
type History struct {
	authorName  string
	authorEmail string
	now         func() time.Time
}

// Revision is one recorded project state.
type Revision struct {
	Hash    string
	Message string
	When    time.Time
}

// NewHistory creates a History that signs commits with the given identity.
func NewHistory(authorName, authorEmail string) *History {
	return &History{authorName: authorName, authorEmail: authorEmail, now: time.Now}
}

// Record stages everything in dir and commits it. The repository is created
// on first use. It returns the new commit hash, or "" when nothing changed.
func (h *History) Record(dir, message string) (string, error) {
	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(dir, false)
	}
	if err != nil {
		return "", fmt.Errorf("failed to open repository in %s: %w", dir, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("failed to read worktree status: %w", err)
	}
	if status.IsClean() {
		return "", nil
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("failed to stage changes: %w", err)
	}
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: h.authorName, Email: h.authorEmail, When: h.now()},
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return hash.String(), nil
}

// Revisions lists the recorded revisions of the project in dir, newest
// first. A limit of zero or less returns all of them.
func Revisions(dir string, limit int) ([]Revision, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository in %s: %w", dir, err)
	}
	iter, err := repo.Log(&git.LogOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	defer iter.Close()

	var revs []Revision
	for limit <= 0 || len(revs) < limit {
		c, err := iter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		revs = append(revs, Revision{Hash: c.Hash.String(), Message: c.Message, When: c.Author.When})
	}
	return revs, nil
}
