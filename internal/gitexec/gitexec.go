// Package gitexec reads revision information for baseline keys by running
// git from a fixed location with a scrubbed environment.
package gitexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

var ErrGitNotFound = errors.New("git executable not found")

const safeSystemPath = "PATH=/usr/bin:/bin:/usr/sbin:/sbin"

var binaryCandidates = []string{"/usr/bin/git", "/bin/git", "/usr/local/bin/git"}

func ResolveBinary() (string, error) {
	for _, candidate := range binaryCandidates {
		if executable(candidate) {
			return candidate, nil
		}
	}
	return "", ErrGitNotFound
}

// Env is the process environment without variables that redirect git to
// another repository, with PATH pinned to system directories.
func Env() []string {
	env := os.Environ()
	filtered := make([]string, 0, len(env)+1)
	for _, entry := range env {
		if strings.HasPrefix(entry, "GIT_DIR=") ||
			strings.HasPrefix(entry, "GIT_WORK_TREE=") ||
			strings.HasPrefix(entry, "GIT_INDEX_FILE=") ||
			strings.HasPrefix(entry, "PATH=") {
			continue
		}
		filtered = append(filtered, entry)
	}
	return append(filtered, safeSystemPath)
}

// HeadCommit returns the commit checked out in the repository holding dir.
func HeadCommit(ctx context.Context, dir string) (string, error) {
	binary, err := ResolveBinary()
	if err != nil {
		return "", err
	}
	// #nosec G204 -- fixed binary and arguments; dir is passed via -C.
	cmd := exec.CommandContext(ctx, binary, "-C", dir, "rev-parse", "--verify", "HEAD")
	cmd.Env = Env()
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("resolve git commit: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(string(output)), nil
}

func executable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
