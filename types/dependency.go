package types

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// LocalRevision is the revision reported for dependencies that live on the local filesystem.
const LocalRevision = "local"

// DependencyKind classifies how a dependency is materialized.
type DependencyKind string

const (
	DependencyKindLocal   DependencyKind = "local"
	DependencyKindPinned  DependencyKind = "pinned"
	DependencyKindBranch  DependencyKind = "branch"
	DependencyKindInvalid DependencyKind = "invalid"
)

// scpLikeRemote matches git's scp-like syntax, e.g. git@github.com:owner/repo.git
var scpLikeRemote = regexp.MustCompile(`^[A-Za-z0-9._-]+@[A-Za-z0-9.-]+:[^/].*$`)

// DependencySpec declares one external dependency needed by the tests.
type DependencySpec struct {
	URI      string `yaml:"uri" json:"uri"`
	Branch   string `yaml:"branch,omitempty" json:"branch,omitempty"`
	Revision string `yaml:"sha,omitempty" json:"sha,omitempty"`
}

// String renders the spec the way it is shown to users, e.g. https://host/repo@main
func (s DependencySpec) String() string {
	switch s.Kind() {
	case DependencyKindPinned:
		return fmt.Sprintf("%s@%s", s.URI, s.Revision)
	case DependencyKindBranch:
		return fmt.Sprintf("%s@%s", s.URI, s.BranchOrHead())
	default:
		return s.URI
	}
}

// IsLocal reports whether the identity points at the local filesystem.
func (s DependencySpec) IsLocal() bool {
	uri := strings.TrimSpace(s.URI)
	if strings.HasPrefix(uri, "file:") {
		return true
	}
	if filepath.IsAbs(uri) {
		return true
	}
	return uri == "." || uri == ".." || strings.HasPrefix(uri, "./") || strings.HasPrefix(uri, "../")
}

// IsRemote reports whether the identity is a remote repository locator.
func (s DependencySpec) IsRemote() bool {
	uri := strings.TrimSpace(s.URI)
	if uri == "" || s.IsLocal() {
		return false
	}
	if scpLikeRemote.MatchString(uri) {
		return true
	}
	u, err := url.Parse(uri)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ssh", "git", "git+ssh":
		return u.Host != "" && u.Path != "" && u.Path != "/"
	}
	return false
}

// Kind returns the active resolution mode. A pinned revision takes precedence over a branch.
func (s DependencySpec) Kind() DependencyKind {
	switch {
	case s.IsLocal():
		return DependencyKindLocal
	case !s.IsRemote():
		return DependencyKindInvalid
	case s.Revision != "":
		return DependencyKindPinned
	default:
		return DependencyKindBranch
	}
}

// BranchOrHead returns the tracked branch, or HEAD for the remote's primary branch.
func (s DependencySpec) BranchOrHead() string {
	if s.Branch == "" {
		return "HEAD"
	}
	return s.Branch
}

// RemoteRef returns the ref name advertised by the remote for the tracked branch.
func (s DependencySpec) RemoteRef() string {
	if s.Branch == "" {
		return "HEAD"
	}
	return "refs/heads/" + s.Branch
}

// Target returns the branch-or-revision half of the cache identity.
func (s DependencySpec) Target() string {
	switch s.Kind() {
	case DependencyKindPinned:
		return "rev:" + strings.ToLower(s.Revision)
	case DependencyKindBranch:
		return "branch:" + s.BranchOrHead()
	default:
		return ""
	}
}

// Key is the cache identity of the spec: the identity plus the branch-or-revision target.
// Specs that share an identity but track different targets never share a key.
func (s DependencySpec) Key() string {
	identity := strings.TrimSuffix(strings.TrimRight(strings.TrimSpace(s.URI), "/"), ".git")
	if s.Kind() == DependencyKindLocal {
		return "local#" + identity
	}
	return identity + "#" + s.Target()
}

// LocalPath resolves a local identity against the project directory.
// file:///abs is absolute, file:rel is relative to projectDir.
func (s DependencySpec) LocalPath(projectDir string) (string, error) {
	if !s.IsLocal() {
		return "", fmt.Errorf("%s is not a local dependency", s.URI)
	}
	uri := strings.TrimSpace(s.URI)
	var p string
	switch {
	case strings.HasPrefix(uri, "file://"):
		p = strings.TrimPrefix(uri, "file://")
		if !filepath.IsAbs(p) {
			return "", fmt.Errorf("file:// dependency %s must use an absolute path", s.URI)
		}
	case strings.HasPrefix(uri, "file:"):
		p = strings.TrimPrefix(uri, "file:")
	default:
		p = uri
	}
	if p == "" {
		return "", fmt.Errorf("empty path in dependency %s", s.URI)
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(projectDir, p)
	}
	return filepath.Clean(p), nil
}

// Name returns a short human readable name derived from the identity.
func (s DependencySpec) Name() string {
	uri := strings.TrimRight(strings.TrimSpace(s.URI), "/")
	if i := strings.LastIndexAny(uri, "/:"); i >= 0 {
		uri = uri[i+1:]
	}
	uri = strings.TrimSuffix(uri, ".git")
	if uri == "" || uri == "." || uri == ".." {
		return "dependency"
	}
	return uri
}

// ResolvedDependency is produced by the resolver for one run and consumed by the execution engine.
type ResolvedDependency struct {
	Spec       DependencySpec
	LocalPath  string
	Revision   string
	WasUpdated bool
}
