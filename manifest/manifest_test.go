package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum-optimism/optimism/op-service/testlog"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvim-test-runner/nvim-test-runner/types"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadJSON(t *testing.T) {
	path := writeManifest(t, `{
	"testDependencies": [
		{"uri": "https://github.com/nvim-lua/plenary.nvim", "branch": "master"},
		{"uri": "https://github.com/nvim-treesitter/nvim-treesitter", "sha": "abc123"},
		{"uri": "file:deps/local"}
	],
	"testPaths": ["spec/**/*_spec.lua"]
}`)

	m, err := Load(testlog.Logger(t, log.LevelInfo), path, true)
	require.NoError(t, err)

	require.Len(t, m.TestDependencies, 3)
	assert.Equal(t, types.DependencySpec{URI: "https://github.com/nvim-lua/plenary.nvim", Branch: "master"}, m.TestDependencies[0])
	assert.Equal(t, "abc123", m.TestDependencies[1].Revision)
	assert.Equal(t, types.DependencyKindLocal, m.TestDependencies[2].Kind())
	assert.Equal(t, []string{"spec/**/*_spec.lua"}, m.Patterns())
}

func TestLoadYAML(t *testing.T) {
	path := writeManifest(t, `
testDependencies:
  - uri: git@github.com:nvim-lua/plenary.nvim.git
`)

	m, err := Load(testlog.Logger(t, log.LevelInfo), path, true)
	require.NoError(t, err)
	require.Len(t, m.TestDependencies, 1)
	assert.Equal(t, DefaultTestPaths, m.Patterns())
}

func TestLoadEmptyFileUsesDefaults(t *testing.T) {
	path := writeManifest(t, "")

	m, err := Load(testlog.Logger(t, log.LevelInfo), path, true)
	require.NoError(t, err)
	assert.Empty(t, m.TestDependencies)
	assert.Equal(t, DefaultTestPaths, m.Patterns())
}

func TestLoadMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), DefaultFileName)

	m, err := Load(testlog.Logger(t, log.LevelInfo), missing, false)
	require.NoError(t, err)
	assert.Equal(t, DefaultTestPaths, m.Patterns())

	_, err = Load(testlog.Logger(t, log.LevelInfo), missing, true)
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "unknown field",
			content: `{"testDependencies": [], "testPath": ["x"]}`,
			errMsg:  "testPath",
		},
		{
			name:    "unknown dependency field",
			content: `{"testDependencies": [{"uri": "https://example.com/a/b", "tag": "v1"}]}`,
			errMsg:  "tag",
		},
		{
			name:    "empty uri",
			content: `{"testDependencies": [{"uri": "", "branch": "main"}]}`,
			errMsg:  "uri is required",
		},
		{
			name:    "explicitly empty test paths",
			content: `{"testPaths": []}`,
			errMsg:  "testPaths must not be empty",
		},
		{
			name:    "blank test path",
			content: `{"testPaths": ["tests/**/*.lua", " "]}`,
			errMsg:  "testPaths[1]",
		},
		{
			name: "duplicate cache key",
			content: `{"testDependencies": [
				{"uri": "https://example.com/a/b", "branch": "main"},
				{"uri": "https://example.com/a/b.git", "branch": "main"}
			]}`,
			errMsg: "duplicates testDependencies[0]",
		},
		{
			name:    "tag instead of commit hash",
			content: `{"testDependencies": [{"uri": "https://example.com/a/b", "sha": "v1.0"}]}`,
			errMsg:  `testDependencies[0]: sha "v1.0" is not a commit hash`,
		},
		{
			name:    "abbreviated hash too short",
			content: `{"testDependencies": [{"uri": "https://example.com/a/b", "sha": "ab"}]}`,
			errMsg:  "is not a commit hash",
		},
		{
			name:    "malformed json",
			content: `{"testDependencies": [}`,
			errMsg:  "failed to parse manifest",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeManifest(t, tt.content)
			_, err := Load(testlog.Logger(t, log.LevelInfo), path, true)
			require.Error(t, err)
			assert.True(t, IsConfigError(err))
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestSameIdentityDifferentTargetsAllowed(t *testing.T) {
	m, err := Parse([]byte(`{"testDependencies": [
		{"uri": "https://example.com/a/b", "branch": "main"},
		{"uri": "https://example.com/a/b", "branch": "dev"},
		{"uri": "https://example.com/a/b", "sha": "abc1"}
	]}`))
	require.NoError(t, err)
	assert.Len(t, m.TestDependencies, 3)
}
