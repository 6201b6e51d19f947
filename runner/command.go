package runner

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/nvim-test-runner/nvim-test-runner/types"
)

// HostCommand builds the subprocess that executes exactly one test file with the
// given runtime path and then terminates. The returned command must not have
// been started.
type HostCommand interface {
	Command(ctx context.Context, file string, runtimePath []string) *exec.Cmd
}

// RuntimePath assembles the host search path: the project first, then every
// dependency in declaration order. Earlier entries shadow later ones.
func RuntimePath(projectDir string, deps []types.ResolvedDependency) []string {
	rtp := make([]string, 0, len(deps)+1)
	seen := make(map[string]struct{}, len(deps)+1)
	for _, p := range append([]string{projectDir}, localPaths(deps)...) {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		rtp = append(rtp, p)
	}
	return rtp
}

func localPaths(deps []types.ResolvedDependency) []string {
	paths := make([]string, 0, len(deps))
	for _, d := range deps {
		paths = append(paths, d.LocalPath)
	}
	return paths
}

// NeovimCommand runs a test file in a headless Neovim with no user configuration,
// no plugins, no shada and no swap files.
type NeovimCommand struct {
	Binary string
}

var _ HostCommand = NeovimCommand{}

func (n NeovimCommand) Command(ctx context.Context, file string, runtimePath []string) *exec.Cmd {
	binary := n.Binary
	if binary == "" {
		binary = DefaultHostBinary
	}
	return exec.CommandContext(ctx, binary, n.Args(file, runtimePath)...)
}

// Args returns the host arguments. The runtime path entries are prepended as one
// list so Neovim's own entries follow them. The test file is sourced under pcall:
// an error is written to stderr and the process exits non-zero.
func (n NeovimCommand) Args(file string, runtimePath []string) []string {
	quoted := make([]string, 0, len(runtimePath))
	for _, p := range runtimePath {
		quoted = append(quoted, luaQuote(p))
	}
	return []string{
		"--headless",
		"--noplugin",
		"-n",
		"-i", "NONE",
		"-u", "NONE",
		"--cmd", "set nobackup nowritebackup noswapfile",
		"--cmd", `set shada="NONE"`,
		"--cmd", fmt.Sprintf("lua vim.opt.runtimepath:prepend({%s})", strings.Join(quoted, ", ")),
		"-c", "lua " + runScript(file),
	}
}

func runScript(file string) string {
	return fmt.Sprintf(
		`local ok, err = pcall(dofile, %s) if not ok then io.stderr:write(tostring(err), "\n") io.stderr:flush() vim.cmd("cquit 1") else vim.cmd("qall!") end`,
		luaQuote(file),
	)
}

// luaQuote renders s as a double quoted Lua string literal.
func luaQuote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c == '\n':
			b.WriteString(`\n`)
		case c < 0x20 || c == 0x7f:
			fmt.Fprintf(&b, `\%03d`, c)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}
