// Package discovery expands test path globs against the project root.
package discovery

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/ethereum/go-ethereum/log"

	"github.com/nvim-test-runner/nvim-test-runner/types"
)

// Discover returns the files under root matching any of patterns, deduplicated and
// sorted by path. Patterns are relative to root and support ** segments. It never
// fails: a pattern that is malformed, escapes root, or matches nothing contributes
// no files.
func Discover(logger log.Logger, root string, patterns []string) []types.TestFile {
	fsys := os.DirFS(root)
	seen := make(map[string]struct{})
	var files []types.TestFile

	for _, pattern := range patterns {
		p, ok := normalizePattern(root, pattern)
		if !ok {
			logger.Warn("Ignoring test path outside the project", "pattern", pattern, "root", root)
			continue
		}
		if !doublestar.ValidatePattern(p) {
			logger.Warn("Ignoring malformed test path", "pattern", pattern)
			continue
		}

		matches, err := doublestar.Glob(fsys, p, doublestar.WithFilesOnly())
		if err != nil {
			logger.Warn("Failed to expand test path", "pattern", pattern, "error", err)
			continue
		}
		logger.Debug("Expanded test path", "pattern", pattern, "matches", len(matches))

		for _, m := range matches {
			m = path.Clean(m)
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			files = append(files, types.TestFile{Path: m})
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

// normalizePattern turns pattern into a slash separated glob relative to root.
// Absolute patterns are accepted when they point inside root.
func normalizePattern(root, pattern string) (string, bool) {
	pattern = strings.TrimSpace(pattern)
	if filepath.IsAbs(pattern) {
		rel, err := filepath.Rel(root, pattern)
		if err != nil {
			return "", false
		}
		pattern = rel
	}
	p := filepath.ToSlash(pattern)
	p = strings.TrimPrefix(p, "./")
	p = path.Clean(p)
	if p == ".." || strings.HasPrefix(p, "../") || p == "." || p == "" {
		return "", false
	}
	return p, true
}
