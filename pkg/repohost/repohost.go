// Package repohost materializes file sets into version-controlled repositories.
package repohost

import (
	"fmt"
	"path"
	"strings"
)

// Repository identifies a hosted repository and the branch grading runs against.
type Repository struct {
	URL    string
	Owner  string
	Name   string
	Branch string
}

// File is a single path/content pair to commit. Paths use forward slashes and are
// relative to the repository root.
type File struct {
	Path    string
	Content string
}

// FileError describes a file that could not be written.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// CommitResult reports the outcome of a CommitFiles call.
type CommitResult struct {
	CommitSHA string
	Written   []string
	Failed    []FileError
	// Unchanged is set when the tree already matched and no commit was created.
	Unchanged bool
}

// CleanPath normalizes a file path for use inside a repository. It returns false for
// paths that are empty or escape the repository root.
func CleanPath(p string) (string, bool) {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "", false
	}
	for _, segment := range strings.Split(p, "/") {
		if segment == ".." {
			return "", false
		}
	}
	cleaned := path.Clean(p)
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", false
	}
	return cleaned, true
}
