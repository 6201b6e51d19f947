package types

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDependencySpecKind(t *testing.T) {
	tests := []struct {
		name string
		spec DependencySpec
		want DependencyKind
	}{
		{name: "https remote defaults to branch", spec: DependencySpec{URI: "https://github.com/nvim-lua/plenary.nvim"}, want: DependencyKindBranch},
		{name: "explicit branch", spec: DependencySpec{URI: "https://github.com/nvim-lua/plenary.nvim", Branch: "master"}, want: DependencyKindBranch},
		{name: "revision wins over branch", spec: DependencySpec{URI: "https://github.com/nvim-lua/plenary.nvim", Branch: "master", Revision: "abc123"}, want: DependencyKindPinned},
		{name: "scp-like remote", spec: DependencySpec{URI: "git@github.com:nvim-lua/plenary.nvim.git"}, want: DependencyKindBranch},
		{name: "ssh url", spec: DependencySpec{URI: "ssh://git@example.com/repo.git", Revision: "deadbeef"}, want: DependencyKindPinned},
		{name: "file relative", spec: DependencySpec{URI: "file:deps/foo", Branch: "ignored"}, want: DependencyKindLocal},
		{name: "file absolute", spec: DependencySpec{URI: "file:///opt/foo", Revision: "ignored"}, want: DependencyKindLocal},
		{name: "dot relative path", spec: DependencySpec{URI: "../sibling"}, want: DependencyKindLocal},
		{name: "absolute path", spec: DependencySpec{URI: "/opt/plugins/foo"}, want: DependencyKindLocal},
		{name: "empty identity", spec: DependencySpec{}, want: DependencyKindInvalid},
		{name: "bare word", spec: DependencySpec{URI: "plenary"}, want: DependencyKindInvalid},
		{name: "url without path", spec: DependencySpec{URI: "https://github.com"}, want: DependencyKindInvalid},
		{name: "unsupported scheme", spec: DependencySpec{URI: "ftp://example.com/repo"}, want: DependencyKindInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.spec.Kind())
		})
	}
}

func TestDependencySpecTarget(t *testing.T) {
	base := DependencySpec{URI: "https://example.com/repo.git"}

	assert.Equal(t, "branch:HEAD", base.Target())

	withBranch := base
	withBranch.Branch = "dev"
	assert.Equal(t, "branch:dev", withBranch.Target())
	assert.Equal(t, "refs/heads/dev", withBranch.RemoteRef())

	pinned := withBranch
	pinned.Revision = "ABC123"
	assert.Equal(t, "rev:abc123", pinned.Target())

	local := DependencySpec{URI: "file:deps/x", Branch: "dev"}
	assert.Empty(t, local.Target())
}

func TestDependencySpecKeyUniqueness(t *testing.T) {
	uri := "https://github.com/nvim-lua/plenary.nvim"
	specs := []DependencySpec{
		{URI: uri},
		{URI: uri, Branch: "master"},
		{URI: uri, Branch: "dev"},
		{URI: uri, Revision: "abc123"},
		{URI: uri, Revision: "def456"},
		{URI: uri, Branch: "master", Revision: "0123abcd"},
	}

	seen := make(map[string]DependencySpec)
	for _, spec := range specs {
		key := spec.Key()
		prev, dup := seen[key]
		require.False(t, dup, "%s and %s share key %s", prev, spec, key)
		seen[key] = spec
	}

	// Trailing slashes and .git suffixes name the same repository.
	assert.Equal(t, DependencySpec{URI: uri + ".git", Branch: "dev"}.Key(), DependencySpec{URI: uri + "/", Branch: "dev"}.Key())
}

func TestDependencySpecLocalPath(t *testing.T) {
	project := filepath.FromSlash("/work/project")

	p, err := DependencySpec{URI: "file:deps/foo"}.LocalPath(project)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(project, "deps", "foo"), p)

	p, err = DependencySpec{URI: "file:///opt/foo"}.LocalPath(project)
	require.NoError(t, err)
	assert.Equal(t, filepath.FromSlash("/opt/foo"), p)

	p, err = DependencySpec{URI: "../sibling"}.LocalPath(project)
	require.NoError(t, err)
	assert.Equal(t, filepath.FromSlash("/work/sibling"), p)

	_, err = DependencySpec{URI: "file:"}.LocalPath(project)
	require.Error(t, err)

	_, err = DependencySpec{URI: "https://example.com/repo"}.LocalPath(project)
	require.Error(t, err)
}

func TestDependencySpecName(t *testing.T) {
	assert.Equal(t, "plenary.nvim", DependencySpec{URI: "https://github.com/nvim-lua/plenary.nvim.git"}.Name())
	assert.Equal(t, "plenary.nvim", DependencySpec{URI: "git@github.com:nvim-lua/plenary.nvim"}.Name())
	assert.Equal(t, "foo", DependencySpec{URI: "file:deps/foo/"}.Name())
	assert.Equal(t, "dependency", DependencySpec{URI: ".."}.Name())
}

func TestDependencySpecString(t *testing.T) {
	assert.Equal(t, "https://example.com/r@HEAD", DependencySpec{URI: "https://example.com/r"}.String())
	assert.Equal(t, "https://example.com/r@v1", DependencySpec{URI: "https://example.com/r", Branch: "v1"}.String())
	assert.Equal(t, "https://example.com/r@abc", DependencySpec{URI: "https://example.com/r", Revision: "abc"}.String())
	assert.Equal(t, "file:x", DependencySpec{URI: "file:x"}.String())
}
