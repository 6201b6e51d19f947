package deps

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum-optimism/optimism/op-service/testlog"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvim-test-runner/nvim-test-runner/cache"
	"github.com/nvim-test-runner/nvim-test-runner/types"
)

// fakeGit simulates remotes in memory. Each remote has refs and a set of known revisions.
type fakeGit struct {
	mu         sync.Mutex
	refs       map[string]map[string]string // uri -> ref -> revision
	heads      map[string]string            // checkout dir -> revision
	calls      map[string]int
	versionErr error
	cloneErr   error
}

func newFakeGit() *fakeGit {
	return &fakeGit{
		refs:  make(map[string]map[string]string),
		heads: make(map[string]string),
		calls: make(map[string]int),
	}
}

func (f *fakeGit) setRef(uri, ref, rev string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refs[uri] == nil {
		f.refs[uri] = make(map[string]string)
	}
	f.refs[uri][ref] = rev
}

func (f *fakeGit) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// networkCalls counts operations that would reach the remote.
func (f *fakeGit) networkCalls() int {
	return f.count("ls-remote") + f.count("clone") + f.count("fetch")
}

func (f *fakeGit) Version(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["version"]++
	return "git version 2.45.0", f.versionErr
}

func (f *fakeGit) RemoteHead(ctx context.Context, uri, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ls-remote"]++
	refs, ok := f.refs[uri]
	if !ok {
		return "", fmt.Errorf("repository %s not found", uri)
	}
	rev, ok := refs[ref]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrRefNotFound, ref)
	}
	return rev, nil
}

func (f *fakeGit) Clone(ctx context.Context, uri, branch, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["clone"]++
	if f.cloneErr != nil {
		return f.cloneErr
	}
	refs, ok := f.refs[uri]
	if !ok {
		return fmt.Errorf("repository %s not found", uri)
	}
	ref := "HEAD"
	if branch != "" {
		ref = "refs/heads/" + branch
	}
	rev, ok := refs[ref]
	if !ok {
		return fmt.Errorf("remote branch %s not found", branch)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f.heads[dir] = rev
	return nil
}

func (f *fakeGit) Fetch(ctx context.Context, dir, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["fetch"]++
	return nil
}

func (f *fakeGit) Checkout(ctx context.Context, dir, rev string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["checkout"]++
	if _, ok := f.heads[dir]; !ok {
		return fmt.Errorf("%s is not a repository", dir)
	}
	f.heads[dir] = rev
	return nil
}

func (f *fakeGit) Head(ctx context.Context, dir string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rev, ok := f.heads[dir]
	if !ok {
		return "", fmt.Errorf("%s is not a repository", dir)
	}
	return rev, nil
}

type warningRecorder struct {
	mu       sync.Mutex
	warnings []Warning
}

func (w *warningRecorder) record(warning Warning) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.warnings = append(w.warnings, warning)
}

func (w *warningRecorder) all() []Warning {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Warning(nil), w.warnings...)
}

const remoteURI = "https://example.com/owner/plugin.nvim"

func newTestResolver(t *testing.T, git Git, skipRemote bool) (*Resolver, *cache.Store, *warningRecorder) {
	t.Helper()
	project := t.TempDir()
	store, err := cache.Open(filepath.Join(project, ".test"))
	require.NoError(t, err)

	warnings := &warningRecorder{}
	r, err := NewResolver(Config{
		ProjectDir:      project,
		Cache:           store,
		Git:             git,
		SkipRemoteCheck: skipRemote,
		OnWarning:       warnings.record,
		Log:             testlog.Logger(t, log.LevelDebug),
	})
	require.NoError(t, err)
	return r, store, warnings
}

func TestResolvePinnedIsIdempotent(t *testing.T) {
	git := newFakeGit()
	git.setRef(remoteURI, "HEAD", "1111111111111111111111111111111111111111")
	r, _, warnings := newTestResolver(t, git, false)

	spec := types.DependencySpec{URI: remoteURI, Revision: "abc123"}

	first, err := r.Resolve(context.Background(), spec)
	require.NoError(t, err)
	assert.True(t, first.WasUpdated, "first acquisition counts as an update")
	assert.Equal(t, "abc123", first.Revision)

	before := git.networkCalls()
	second, err := r.Resolve(context.Background(), spec)
	require.NoError(t, err)
	assert.False(t, second.WasUpdated)
	assert.Equal(t, first.LocalPath, second.LocalPath)
	assert.Equal(t, first.Revision, second.Revision)
	assert.Equal(t, before, git.networkCalls(), "a matching pin performs no network operation")
	assert.Empty(t, warnings.all())
}

func TestResolvePinnedChanged(t *testing.T) {
	git := newFakeGit()
	git.setRef(remoteURI, "HEAD", "1111")
	r, store, warnings := newTestResolver(t, git, false)

	spec := types.DependencySpec{URI: remoteURI, Revision: "aaaa"}
	_, err := r.Resolve(context.Background(), spec)
	require.NoError(t, err)

	// Simulate an entry left by an older pin of the same key.
	_, err = store.Update(spec, "bbbb")
	require.NoError(t, err)

	dep, err := r.Resolve(context.Background(), spec)
	require.NoError(t, err)
	assert.True(t, dep.WasUpdated)
	assert.Equal(t, "aaaa", dep.Revision)

	ws := warnings.all()
	require.Len(t, ws, 1)
	assert.Equal(t, "bbbb", ws[0].OldRevision)
	assert.Equal(t, "aaaa", ws[0].NewRevision)
}

func TestResolveBranchDetectsUpdate(t *testing.T) {
	git := newFakeGit()
	git.setRef(remoteURI, "refs/heads/main", "1111")
	r, _, warnings := newTestResolver(t, git, false)

	spec := types.DependencySpec{URI: remoteURI, Branch: "main"}

	first, err := r.Resolve(context.Background(), spec)
	require.NoError(t, err)
	assert.True(t, first.WasUpdated)
	assert.Equal(t, "1111", first.Revision)

	unchanged, err := r.Resolve(context.Background(), spec)
	require.NoError(t, err)
	assert.False(t, unchanged.WasUpdated)
	assert.Equal(t, "1111", unchanged.Revision)
	assert.Empty(t, warnings.all(), "no warning while the branch does not move")

	git.setRef(remoteURI, "refs/heads/main", "2222")
	moved, err := r.Resolve(context.Background(), spec)
	require.NoError(t, err)
	assert.True(t, moved.WasUpdated)
	assert.Equal(t, "2222", moved.Revision)
	assert.NotEqual(t, first.Revision, moved.Revision)
	assert.Equal(t, first.LocalPath, moved.LocalPath)

	ws := warnings.all()
	require.Len(t, ws, 1)
	assert.Equal(t, "1111", ws[0].OldRevision)
	assert.Equal(t, "2222", ws[0].NewRevision)
	assert.Contains(t, ws[0].Message, "moved")
}

func TestResolveDefaultBranchTracksHEAD(t *testing.T) {
	git := newFakeGit()
	git.setRef(remoteURI, "HEAD", "cafe")
	r, _, _ := newTestResolver(t, git, false)

	dep, err := r.Resolve(context.Background(), types.DependencySpec{URI: remoteURI})
	require.NoError(t, err)
	assert.Equal(t, "cafe", dep.Revision)
}

func TestResolveMissingBranch(t *testing.T) {
	git := newFakeGit()
	git.setRef(remoteURI, "HEAD", "cafe")
	r, _, _ := newTestResolver(t, git, false)

	_, err := r.Resolve(context.Background(), types.DependencySpec{URI: remoteURI, Branch: "nope"})
	require.Error(t, err)
	assert.True(t, IsDependencyError(err))
	assert.ErrorIs(t, err, ErrRefNotFound)
	assert.Equal(t, 0, git.count("clone"))
}

func TestResolveDistinctTargetsGetDistinctCheckouts(t *testing.T) {
	git := newFakeGit()
	git.setRef(remoteURI, "refs/heads/main", "1111")
	git.setRef(remoteURI, "refs/heads/dev", "2222")
	r, _, _ := newTestResolver(t, git, false)

	main, err := r.Resolve(context.Background(), types.DependencySpec{URI: remoteURI, Branch: "main"})
	require.NoError(t, err)
	dev, err := r.Resolve(context.Background(), types.DependencySpec{URI: remoteURI, Branch: "dev"})
	require.NoError(t, err)

	assert.NotEqual(t, main.LocalPath, dev.LocalPath)
	assert.Equal(t, "1111", main.Revision)
	assert.Equal(t, "2222", dev.Revision)
}

func TestResolveLocal(t *testing.T) {
	git := newFakeGit()
	r, _, _ := newTestResolver(t, git, false)

	depDir := filepath.Join(r.cfg.ProjectDir, "deps", "helper")
	require.NoError(t, os.MkdirAll(depDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(r.cfg.ProjectDir, "deps", "file.lua"), nil, 0o644))

	dep, err := r.Resolve(context.Background(), types.DependencySpec{URI: "file:deps/helper", Branch: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, depDir, dep.LocalPath)
	assert.Equal(t, types.LocalRevision, dep.Revision)
	assert.False(t, dep.WasUpdated)

	abs, err := r.Resolve(context.Background(), types.DependencySpec{URI: "file://" + depDir})
	require.NoError(t, err)
	assert.Equal(t, depDir, abs.LocalPath)

	_, err = r.Resolve(context.Background(), types.DependencySpec{URI: "file:deps/missing"})
	require.Error(t, err)
	assert.True(t, IsDependencyError(err))

	_, err = r.Resolve(context.Background(), types.DependencySpec{URI: "file:deps/file.lua"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")

	assert.Equal(t, 0, git.count("version"), "local dependencies never touch git")
}

func TestResolveInvalidIdentity(t *testing.T) {
	r, _, _ := newTestResolver(t, newFakeGit(), false)

	_, err := r.Resolve(context.Background(), types.DependencySpec{URI: "not a locator"})
	require.ErrorIs(t, err, ErrInvalidIdentity)
	assert.True(t, IsDependencyError(err))
}

func TestResolveGitUnavailable(t *testing.T) {
	git := newFakeGit()
	git.versionErr = ErrGitUnavailable
	r, _, _ := newTestResolver(t, git, false)

	_, err := r.Resolve(context.Background(), types.DependencySpec{URI: remoteURI})
	require.ErrorIs(t, err, ErrGitUnavailable)
	_, err = r.Resolve(context.Background(), types.DependencySpec{URI: remoteURI, Branch: "x"})
	require.ErrorIs(t, err, ErrGitUnavailable)
	assert.Equal(t, 1, git.count("version"), "git is probed once")
}

func TestResolveCloneFailureCleansUp(t *testing.T) {
	git := newFakeGit()
	git.setRef(remoteURI, "HEAD", "1111")
	git.cloneErr = errors.New("network unreachable")
	r, store, _ := newTestResolver(t, git, false)

	spec := types.DependencySpec{URI: remoteURI}
	require.NoError(t, os.MkdirAll(store.CheckoutDir(spec), 0o755))

	_, err := r.Resolve(context.Background(), spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network unreachable")
	assert.NoDirExists(t, store.CheckoutDir(spec))
}

func TestResolveOrphanedCheckout(t *testing.T) {
	git := newFakeGit()
	git.setRef(remoteURI, "HEAD", "1111")
	r, store, warnings := newTestResolver(t, git, false)

	spec := types.DependencySpec{URI: remoteURI}
	orphan := store.CheckoutDir(spec)
	require.NoError(t, os.MkdirAll(orphan, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(orphan, "stale.lua"), nil, 0o644))

	dep, err := r.Resolve(context.Background(), spec)
	require.NoError(t, err)
	assert.True(t, dep.WasUpdated)
	assert.NoFileExists(t, filepath.Join(orphan, "stale.lua"))

	ws := warnings.all()
	require.Len(t, ws, 1)
	assert.Contains(t, ws[0].Message, "orphaned")
}

func TestResolveMissingCheckoutReclones(t *testing.T) {
	git := newFakeGit()
	git.setRef(remoteURI, "HEAD", "1111")
	r, store, _ := newTestResolver(t, git, false)

	spec := types.DependencySpec{URI: remoteURI}
	_, err := r.Resolve(context.Background(), spec)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(store.CheckoutDir(spec)))

	dep, err := r.Resolve(context.Background(), spec)
	require.NoError(t, err)
	assert.True(t, dep.WasUpdated)
	assert.Equal(t, 2, git.count("clone"))
}

func TestResolveSkipRemoteCheck(t *testing.T) {
	git := newFakeGit()
	git.setRef(remoteURI, "refs/heads/main", "1111")
	spec := types.DependencySpec{URI: remoteURI, Branch: "main"}

	online, store, _ := newTestResolver(t, git, false)
	_, err := online.Resolve(context.Background(), spec)
	require.NoError(t, err)

	offline, err := NewResolver(Config{
		ProjectDir:      online.cfg.ProjectDir,
		Cache:           store,
		Git:             git,
		SkipRemoteCheck: true,
		Log:             testlog.Logger(t, log.LevelDebug),
	})
	require.NoError(t, err)

	git.setRef(remoteURI, "refs/heads/main", "2222")
	before := git.networkCalls()
	dep, err := offline.Resolve(context.Background(), spec)
	require.NoError(t, err)
	assert.False(t, dep.WasUpdated)
	assert.Equal(t, "1111", dep.Revision)
	assert.Equal(t, before, git.networkCalls())

	_, err = offline.Resolve(context.Background(), types.DependencySpec{URI: remoteURI, Branch: "dev"})
	require.ErrorIs(t, err, ErrNoCachedCheckout)
}

func TestResolveAllCollectsErrorsAndKeepsOrder(t *testing.T) {
	git := newFakeGit()
	git.setRef(remoteURI, "HEAD", "1111")
	git.setRef("https://example.com/owner/other.nvim", "HEAD", "2222")
	r, _, _ := newTestResolver(t, git, false)

	specs := []types.DependencySpec{
		{URI: remoteURI},
		{URI: "https://example.com/owner/other.nvim"},
	}
	resolved, err := r.ResolveAll(context.Background(), specs)
	require.NoError(t, err)
	require.Len(t, resolved, 2)
	assert.Equal(t, specs[0], resolved[0].Spec)
	assert.Equal(t, specs[1], resolved[1].Spec)

	bad := append([]types.DependencySpec{
		{URI: "file:missing/one"},
		{URI: "https://example.com/owner/unknown.nvim"},
	}, specs...)
	_, err = r.ResolveAll(context.Background(), bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file:missing/one")
	assert.Contains(t, err.Error(), "unknown.nvim")
	assert.True(t, IsDependencyError(err))
}
