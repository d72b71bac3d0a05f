package repohost

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/noah-isme/assessment-api/pkg/provider"
)

const localProvider = "local-git"

// Local keeps grading repositories as plain git repositories on disk. It is used in
// development and by self-hosted runners that poll the directory.
type Local struct {
	root   string
	branch string
	author object.Signature
	mu     sync.Mutex
}

// NewLocal creates a host rooted at dir.
func NewLocal(dir, branch string) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("local repository root must be provided")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve repository root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create repository root: %w", err)
	}
	if branch == "" {
		branch = "main"
	}
	return &Local{
		root:   abs,
		branch: branch,
		author: object.Signature{Name: "Grading Bot", Email: "grading@localhost"},
	}, nil
}

// EnsureRepository opens or initializes the named repository.
func (l *Local) EnsureRepository(ctx context.Context, name string) (Repository, error) {
	if err := ctx.Err(); err != nil {
		return Repository{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	dir := filepath.Join(l.root, name)
	if _, err := git.PlainOpen(dir); err != nil {
		if !errors.Is(err, git.ErrRepositoryNotExists) {
			return Repository{}, provider.Wrap(localProvider, "open repository", err)
		}
		_, err = git.PlainInitWithOptions(dir, &git.PlainInitOptions{
			InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(l.branch)},
		})
		if err != nil {
			return Repository{}, provider.Wrap(localProvider, "init repository", err)
		}
	}

	return Repository{
		URL:    "file://" + filepath.ToSlash(dir),
		Owner:  "local",
		Name:   name,
		Branch: l.branch,
	}, nil
}

// CommitFiles writes files into the worktree and commits them. A clean worktree after
// writing produces no commit.
func (l *Local) CommitFiles(ctx context.Context, repo Repository, files []File, message string) (CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return CommitResult{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	gitRepo, err := git.PlainOpen(filepath.Join(l.root, repo.Name))
	if err != nil {
		return CommitResult{}, provider.Wrap(localProvider, "open repository", err)
	}
	worktree, err := gitRepo.Worktree()
	if err != nil {
		return CommitResult{}, provider.Wrap(localProvider, "open worktree", err)
	}

	var result CommitResult
	for _, file := range files {
		if err := util.WriteFile(worktree.Filesystem, file.Path, []byte(file.Content), 0o644); err != nil {
			result.Failed = append(result.Failed, FileError{Path: file.Path, Err: err})
			continue
		}
		if _, err := worktree.Add(file.Path); err != nil {
			result.Failed = append(result.Failed, FileError{Path: file.Path, Err: err})
			continue
		}
		result.Written = append(result.Written, file.Path)
	}

	status, err := worktree.Status()
	if err != nil {
		return result, provider.Wrap(localProvider, "worktree status", err)
	}
	if status.IsClean() {
		result.Unchanged = true
		if head, err := gitRepo.Head(); err == nil {
			result.CommitSHA = head.Hash().String()
		}
		return result, nil
	}

	author := l.author
	author.When = time.Now()
	hash, err := worktree.Commit(message, &git.CommitOptions{Author: &author})
	if err != nil {
		return result, provider.Wrap(localProvider, "commit", err)
	}

	result.CommitSHA = hash.String()
	return result, nil
}
