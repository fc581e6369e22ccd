// Package gitops shells out to git for the repository facts the pipeline
// needs: what changed, the latest commit, and the diff voters review. The
// working tree is git's own; specq never mutates it directly.
package gitops

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

// Client runs git commands in one working tree.
type Client struct {
	dir string
}

// New returns a client rooted at dir.
func New(dir string) *Client {
	return &Client{dir: dir}
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = c.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// ChangedFiles lists modified, staged, and untracked files, sorted and
// deduplicated.
func (c *Client) ChangedFiles(ctx context.Context) ([]string, error) {
	set := map[string]struct{}{}

	if out, err := c.run(ctx, "diff", "--name-only", "HEAD"); err == nil {
		for _, f := range strings.Split(out, "\n") {
			if f != "" {
				set[f] = struct{}{}
			}
		}
	}
	out, err := c.run(ctx, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		if len(set) == 0 {
			return nil, err
		}
	} else {
		for _, f := range strings.Split(out, "\n") {
			if f != "" {
				set[f] = struct{}{}
			}
		}
	}

	files := make([]string, 0, len(set))
	for f := range set {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

// LatestCommit returns the short hash of HEAD, or "" outside a repository.
func (c *Client) LatestCommit(ctx context.Context) string {
	out, err := c.run(ctx, "rev-parse", "--short", "HEAD")
	if err != nil {
		return ""
	}
	return out
}

// DiffFromBase returns the diff from the base branch to HEAD. When the base
// branch is unknown it falls back to diffing the working tree against HEAD,
// and to "" when that fails too, so voting degrades instead of aborting.
func (c *Client) DiffFromBase(ctx context.Context, baseBranch string) string {
	if out, err := c.run(ctx, "diff", baseBranch+"...HEAD"); err == nil {
		return out
	}
	out, err := c.run(ctx, "diff", "HEAD")
	if err != nil {
		return ""
	}
	return out
}
