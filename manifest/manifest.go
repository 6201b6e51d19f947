package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/nvim-test-runner/nvim-test-runner/types"
)

// DefaultFileName is the manifest looked up in the project directory when none is given.
const DefaultFileName = "nvim-test-runner.json"

// DefaultTestPaths is used when the manifest does not set testPaths.
var DefaultTestPaths = []string{
	"tests/**/*.lua",
	"test/**/*.lua",
	"lua/tests/**/*.lua",
	"lua/test/**/*.lua",
}

// commitHash matches a full or abbreviated commit hash. Tags and branch names
// never prefix-match the checked out revision, so they are rejected up front.
var commitHash = regexp.MustCompile(`^[0-9a-fA-F]{4,64}$`)

// Manifest is the per-project configuration. The file is JSON, but any YAML
// document with the same shape is accepted too.
type Manifest struct {
	TestDependencies []types.DependencySpec `yaml:"testDependencies" json:"testDependencies"`
	TestPaths        []string               `yaml:"testPaths" json:"testPaths"`
}

// ConfigError reports a malformed or missing manifest.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config error: %v", e.Err)
	}
	return fmt.Sprintf("config error in %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError checks if the error is or wraps a ConfigError
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return err != nil && errors.As(err, &cfgErr)
}

// Patterns returns the configured test globs, or DefaultTestPaths when none were set.
func (m *Manifest) Patterns() []string {
	if m.TestPaths == nil {
		return append([]string(nil), DefaultTestPaths...)
	}
	return append([]string(nil), m.TestPaths...)
}

// Load reads the manifest at path. When required is false a missing file yields
// the default manifest and a warning; otherwise it is a ConfigError.
func Load(logger log.Logger, path string, required bool) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			logger.Warn("No manifest found, using defaults", "path", path, "testPaths", DefaultTestPaths)
			return &Manifest{}, nil
		}
		return nil, &ConfigError{Path: path, Err: err}
	}

	m, err := Parse(data)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	logger.Debug("Loaded manifest",
		"path", path,
		"dependencies", len(m.TestDependencies),
		"testPaths", m.Patterns())
	return m, nil
}

// Parse decodes and validates a manifest document. Unknown keys are rejected.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("{")) {
		// YAML forbids tab indentation, which hand-written JSON uses freely.
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest shape. It does not touch the network or the filesystem.
func (m *Manifest) Validate() error {
	if m.TestPaths != nil && len(m.TestPaths) == 0 {
		return errors.New("testPaths must not be empty when set")
	}
	for i, p := range m.TestPaths {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("testPaths[%d] is empty", i)
		}
	}

	seen := make(map[string]int, len(m.TestDependencies))
	for i, dep := range m.TestDependencies {
		if strings.TrimSpace(dep.URI) == "" {
			return fmt.Errorf("testDependencies[%d]: uri is required", i)
		}
		if dep.Kind() == types.DependencyKindPinned && !commitHash.MatchString(dep.Revision) {
			return fmt.Errorf("testDependencies[%d]: sha %q is not a commit hash", i, dep.Revision)
		}
		key := dep.Key()
		if j, ok := seen[key]; ok {
			return fmt.Errorf("testDependencies[%d] duplicates testDependencies[%d] (%s)", i, j, dep)
		}
		seen[key] = i
	}
	return nil
}
