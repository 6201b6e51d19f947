package deps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/ethereum/go-ethereum/log"
)

// Git is the version control surface the resolver needs.
type Git interface {
	// Version returns the git version string, failing if git cannot be run.
	Version(ctx context.Context) (string, error)
	// RemoteHead returns the revision the remote advertises for ref (HEAD or refs/heads/<b>).
	RemoteHead(ctx context.Context, uri, ref string) (string, error)
	// Clone clones uri into dir, checking out branch when it is not empty.
	Clone(ctx context.Context, uri, branch, dir string) error
	// Fetch fetches ref (a ref name or revision) from origin into the repository at dir.
	Fetch(ctx context.Context, dir, ref string) error
	// Checkout detaches the working tree at dir onto rev, discarding local changes.
	Checkout(ctx context.Context, dir, rev string) error
	// Head returns the revision checked out at dir.
	Head(ctx context.Context, dir string) (string, error)
}

// GitCLI drives the git executable.
type GitCLI struct {
	Binary string
	Log    log.Logger
}

var _ Git = (*GitCLI)(nil)

// NewGitCLI returns a Git backed by the git executable on PATH.
func NewGitCLI(logger log.Logger) *GitCLI {
	return &GitCLI{Binary: "git", Log: logger}
}

func (g *GitCLI) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, g.Binary, args...)
	cmd.Dir = dir
	// Never block on a credential prompt.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	g.Log.Debug("Running git", "dir", dir, "args", args)
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && msg != "" {
			return "", fmt.Errorf("git %s: %s", args[0], msg)
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return stdout.String(), nil
}

func (g *GitCLI) Version(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "", "--version")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGitUnavailable, err)
	}
	return strings.TrimSpace(out), nil
}

func (g *GitCLI) RemoteHead(ctx context.Context, uri, ref string) (string, error) {
	out, err := g.run(ctx, "", "ls-remote", uri, ref)
	if err != nil {
		return "", err
	}
	refs := parseLsRemote(out)
	hash, ok := refs[ref]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrRefNotFound, ref)
	}
	return hash, nil
}

// parseLsRemote maps ref names to revisions from `git ls-remote` output.
func parseLsRemote(out string) map[string]string {
	refs := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		refs[fields[1]] = fields[0]
	}
	return refs
}

func (g *GitCLI) Clone(ctx context.Context, uri, branch, dir string) error {
	args := []string{"clone", "--quiet"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, "--", uri, dir)
	_, err := g.run(ctx, "", args...)
	return err
}

func (g *GitCLI) Fetch(ctx context.Context, dir, ref string) error {
	_, err := g.run(ctx, dir, "fetch", "--quiet", "origin", ref)
	return err
}

func (g *GitCLI) Checkout(ctx context.Context, dir, rev string) error {
	_, err := g.run(ctx, dir, "checkout", "--quiet", "--force", "--detach", rev)
	return err
}

func (g *GitCLI) Head(ctx context.Context, dir string) (string, error) {
	out, err := g.run(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
