package deps

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/nvim-test-runner/nvim-test-runner/cache"
	"github.com/nvim-test-runner/nvim-test-runner/metrics"
	"github.com/nvim-test-runner/nvim-test-runner/types"
)

// DefaultConcurrency bounds how many dependencies are resolved at once.
const DefaultConcurrency = 4

// Warning is raised when the resolver changes something underneath the user.
type Warning struct {
	Spec        types.DependencySpec
	Message     string
	OldRevision string
	NewRevision string
}

// Config holds the resolver configuration
type Config struct {
	ProjectDir      string
	Cache           *cache.Store
	Git             Git
	SkipRemoteCheck bool
	Concurrency     int
	OnWarning       func(Warning)
	Log             log.Logger
}

// Resolver materializes dependency specs into local directories.
type Resolver struct {
	cfg    Config
	tracer trace.Tracer

	gitOnce sync.Once
	gitErr  error
}

// NewResolver creates a new Resolver.
func NewResolver(cfg Config) (*Resolver, error) {
	if cfg.Cache == nil {
		return nil, errors.New("cache store is required")
	}
	if cfg.ProjectDir == "" {
		return nil, errors.New("project directory is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.Git == nil {
		cfg.Git = NewGitCLI(cfg.Log)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.OnWarning == nil {
		cfg.OnWarning = func(Warning) {}
	}
	return &Resolver{
		cfg:    cfg,
		tracer: otel.Tracer("dependency resolver"),
	}, nil
}

// ResolveAll resolves every spec, attempting all of them even when some fail.
// Results keep declaration order. The returned error joins every DependencyError.
func (r *Resolver) ResolveAll(ctx context.Context, specs []types.DependencySpec) ([]types.ResolvedDependency, error) {
	resolved := make([]types.ResolvedDependency, len(specs))
	errs := make([]error, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, spec := range specs {
		g.Go(func() error {
			dep, err := r.Resolve(gctx, spec)
			if err != nil {
				errs[i] = err
				return nil
			}
			resolved[i] = *dep
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return resolved, nil
}

// Resolve materializes a single spec. Every failure is a *DependencyError.
func (r *Resolver) Resolve(ctx context.Context, spec types.DependencySpec) (*types.ResolvedDependency, error) {
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("dependency %s", spec.Name()))
	defer span.End()
	span.SetAttributes(
		attribute.String("dependency.uri", spec.URI),
		attribute.String("dependency.kind", string(spec.Kind())),
		attribute.String("dependency.target", spec.Target()),
	)

	dep, outcome, err := r.resolve(ctx, spec)
	metrics.RecordDependencyResolution(string(spec.Kind()), outcome)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.cfg.Log.Error("Failed to resolve dependency", "dependency", spec, "error", err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("dependency.revision", dep.Revision),
		attribute.Bool("dependency.updated", dep.WasUpdated),
	)
	r.cfg.Log.Info("Resolved dependency",
		"dependency", spec,
		"path", dep.LocalPath,
		"revision", dep.Revision,
		"updated", dep.WasUpdated,
		"outcome", outcome)
	return dep, nil
}

// Resolution outcomes, used as metric labels.
const (
	outcomeLocal   = "local"
	outcomeCached  = "cached"
	outcomeCloned  = "cloned"
	outcomeUpdated = "updated"
	outcomeError   = "error"
)

func (r *Resolver) resolve(ctx context.Context, spec types.DependencySpec) (*types.ResolvedDependency, string, error) {
	switch spec.Kind() {
	case types.DependencyKindLocal:
		dep, err := r.resolveLocal(spec)
		if err != nil {
			return nil, outcomeError, err
		}
		return dep, outcomeLocal, nil
	case types.DependencyKindInvalid:
		return nil, outcomeError, newDependencyError(spec, "validate", ErrInvalidIdentity)
	}

	if !r.cfg.SkipRemoteCheck {
		if err := r.checkGit(ctx); err != nil {
			return nil, outcomeError, newDependencyError(spec, "git", err)
		}
	}

	unlock, err := r.cfg.Cache.Lock(ctx, spec)
	if err != nil {
		return nil, outcomeError, newDependencyError(spec, "lock", err)
	}
	defer func() {
		if err := unlock(); err != nil {
			r.cfg.Log.Warn("Failed to release cache lock", "dependency", spec, "error", err)
		}
	}()

	entry, err := r.loadEntry(spec)
	if err != nil {
		return nil, outcomeError, newDependencyError(spec, "cache", err)
	}

	if entry == nil {
		if r.cfg.SkipRemoteCheck {
			return nil, outcomeError, newDependencyError(spec, "cache", ErrNoCachedCheckout)
		}
		dep, err := r.acquire(ctx, spec)
		if err != nil {
			return nil, outcomeError, err
		}
		return dep, outcomeCloned, nil
	}

	var dep *types.ResolvedDependency
	if spec.Kind() == types.DependencyKindPinned {
		dep, err = r.refreshPinned(ctx, spec, entry)
	} else {
		dep, err = r.refreshBranch(ctx, spec, entry)
	}
	if err != nil {
		return nil, outcomeError, err
	}
	if dep.WasUpdated {
		r.cfg.OnWarning(Warning{
			Spec:        spec,
			Message:     fmt.Sprintf("dependency %s moved from %s to %s", spec, shortRevision(entry.LastRevision), shortRevision(dep.Revision)),
			OldRevision: entry.LastRevision,
			NewRevision: dep.Revision,
		})
		return dep, outcomeUpdated, nil
	}
	return dep, outcomeCached, nil
}

func (r *Resolver) resolveLocal(spec types.DependencySpec) (*types.ResolvedDependency, error) {
	path, err := spec.LocalPath(r.cfg.ProjectDir)
	if err != nil {
		return nil, newDependencyError(spec, "path", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, newDependencyError(spec, "stat", err)
	}
	if !info.IsDir() {
		return nil, newDependencyError(spec, "stat", fmt.Errorf("%s is not a directory", path))
	}
	return &types.ResolvedDependency{
		Spec:      spec,
		LocalPath: path,
		Revision:  types.LocalRevision,
	}, nil
}

func (r *Resolver) checkGit(ctx context.Context) error {
	r.gitOnce.Do(func() {
		version, err := r.cfg.Git.Version(ctx)
		if err != nil {
			r.gitErr = err
			return
		}
		r.cfg.Log.Debug("Found git", "version", version)
	})
	return r.gitErr
}

// loadEntry returns the usable cache entry for spec, clearing leftovers that
// cannot be trusted: corrupt records, records whose checkout vanished, and
// checkouts without a record (e.g. an interrupted clone).
func (r *Resolver) loadEntry(spec types.DependencySpec) (*cache.Entry, error) {
	entry, err := r.cfg.Cache.Lookup(spec)
	checkout := r.cfg.Cache.CheckoutDir(spec)
	switch {
	case errors.Is(err, cache.ErrCorruptEntry):
		r.warn(spec, fmt.Sprintf("discarding unreadable cache entry for %s", spec))
		return nil, r.cfg.Cache.Reset(spec)
	case err != nil:
		return nil, err
	case entry == nil:
		if dirExists(checkout) {
			r.warn(spec, fmt.Sprintf("removing orphaned checkout %s", checkout))
			return nil, r.cfg.Cache.Reset(spec)
		}
		return nil, nil
	case !dirExists(checkout):
		r.warn(spec, fmt.Sprintf("cached checkout %s is missing, cloning again", checkout))
		return nil, r.cfg.Cache.Reset(spec)
	}
	return entry, nil
}

// acquire clones spec into a fresh cache directory. First acquisition counts as an update.
func (r *Resolver) acquire(ctx context.Context, spec types.DependencySpec) (*types.ResolvedDependency, error) {
	dir := r.cfg.Cache.CheckoutDir(spec)
	r.cfg.Log.Info("Cloning dependency", "dependency", spec, "path", dir)

	var target string
	if spec.Kind() == types.DependencyKindBranch {
		head, err := r.cfg.Git.RemoteHead(ctx, spec.URI, spec.RemoteRef())
		if err != nil {
			return nil, newDependencyError(spec, "ls-remote", err)
		}
		target = head
	}

	if err := r.cfg.Git.Clone(ctx, spec.URI, spec.Branch, dir); err != nil {
		r.cleanup(spec)
		return nil, newDependencyError(spec, "clone", err)
	}
	if spec.Kind() == types.DependencyKindPinned {
		target = spec.Revision
	}
	if err := r.checkout(ctx, dir, target, true); err != nil {
		r.cleanup(spec)
		return nil, newDependencyError(spec, "checkout", err)
	}
	return r.record(ctx, spec, true)
}

func (r *Resolver) refreshPinned(ctx context.Context, spec types.DependencySpec, entry *cache.Entry) (*types.ResolvedDependency, error) {
	dir := r.cfg.Cache.CheckoutDir(spec)
	if revisionMatches(entry.LastRevision, spec.Revision) {
		return &types.ResolvedDependency{
			Spec:      spec,
			LocalPath: dir,
			Revision:  entry.LastRevision,
		}, nil
	}
	r.cfg.Log.Info("Pinned revision changed, checking out", "dependency", spec, "cached", entry.LastRevision)
	if err := r.checkout(ctx, dir, spec.Revision, !r.cfg.SkipRemoteCheck); err != nil {
		return nil, newDependencyError(spec, "checkout", err)
	}
	return r.record(ctx, spec, true)
}

func (r *Resolver) refreshBranch(ctx context.Context, spec types.DependencySpec, entry *cache.Entry) (*types.ResolvedDependency, error) {
	dir := r.cfg.Cache.CheckoutDir(spec)
	cached := &types.ResolvedDependency{
		Spec:      spec,
		LocalPath: dir,
		Revision:  entry.LastRevision,
	}
	if r.cfg.SkipRemoteCheck {
		r.cfg.Log.Debug("Skipping remote check", "dependency", spec, "revision", entry.LastRevision)
		return cached, nil
	}

	head, err := r.cfg.Git.RemoteHead(ctx, spec.URI, spec.RemoteRef())
	if err != nil {
		return nil, newDependencyError(spec, "ls-remote", err)
	}
	if head == entry.LastRevision {
		return cached, nil
	}

	r.cfg.Log.Info("Remote branch moved, updating", "dependency", spec, "from", entry.LastRevision, "to", head)
	if err := r.cfg.Git.Fetch(ctx, dir, spec.RemoteRef()); err != nil {
		return nil, newDependencyError(spec, "fetch", err)
	}
	if err := r.checkout(ctx, dir, head, true); err != nil {
		return nil, newDependencyError(spec, "checkout", err)
	}
	return r.record(ctx, spec, true)
}

// checkout moves dir onto rev. When rev is not known locally it is fetched
// first, if fetching is allowed. An empty rev keeps what the clone checked out.
func (r *Resolver) checkout(ctx context.Context, dir, rev string, allowFetch bool) error {
	if rev == "" {
		return nil
	}
	err := r.cfg.Git.Checkout(ctx, dir, rev)
	if err == nil || !allowFetch {
		return err
	}
	r.cfg.Log.Debug("Revision not available locally, fetching", "dir", dir, "revision", rev)
	if ferr := r.cfg.Git.Fetch(ctx, dir, rev); ferr != nil {
		return errors.Join(err, ferr)
	}
	return r.cfg.Git.Checkout(ctx, dir, rev)
}

// record reads the checked out revision back and stores it in the cache.
func (r *Resolver) record(ctx context.Context, spec types.DependencySpec, updated bool) (*types.ResolvedDependency, error) {
	dir := r.cfg.Cache.CheckoutDir(spec)
	head, err := r.cfg.Git.Head(ctx, dir)
	if err != nil {
		return nil, newDependencyError(spec, "rev-parse", err)
	}
	entry, err := r.cfg.Cache.Update(spec, head)
	if err != nil {
		return nil, newDependencyError(spec, "cache", err)
	}
	return &types.ResolvedDependency{
		Spec:       spec,
		LocalPath:  entry.LocalPath,
		Revision:   entry.LastRevision,
		WasUpdated: updated,
	}, nil
}

func (r *Resolver) cleanup(spec types.DependencySpec) {
	if err := r.cfg.Cache.Reset(spec); err != nil {
		r.cfg.Log.Warn("Failed to clean up partial checkout", "dependency", spec, "error", err)
	}
}

func (r *Resolver) warn(spec types.DependencySpec, msg string) {
	r.cfg.Log.Warn(msg, "dependency", spec)
	r.cfg.OnWarning(Warning{Spec: spec, Message: msg})
}

func revisionMatches(full, pinned string) bool {
	if full == "" || pinned == "" {
		return false
	}
	return strings.HasPrefix(strings.ToLower(full), strings.ToLower(pinned))
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
