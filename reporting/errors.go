package reporting

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const maxKeyErrorLength = 120

// luaLocation matches the "file.lua:12: " prefix Lua puts in front of raised errors.
var luaLocation = regexp.MustCompile(`^\S+\.lua:\d+: `)

// keyErrorPatterns are searched in order; the first line containing one is the key error.
var keyErrorPatterns = []string{
	"assertion failed",
	"Expected",
	"expected",
	"E5108:",
	"E5113:",
	"attempt to",
	"Error:",
	"error:",
}

// KeyErrorMessage picks the most informative line out of a failure message for one-line display.
// The full message stays in the log artifact.
func KeyErrorMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return ""
	}

	// Lua tracebacks follow the error and are never the interesting part.
	if idx := strings.Index(msg, "stack traceback:"); idx != -1 {
		msg = strings.TrimSpace(msg[:idx])
	}

	lines := strings.Split(msg, "\n")
	for _, pattern := range keyErrorPatterns {
		for _, line := range lines {
			if !strings.Contains(line, pattern) {
				continue
			}
			line = strings.TrimSpace(line)
			// Keep the location for value comparisons, it points at the failing assertion.
			if pattern == "Expected" || pattern == "expected" {
				return truncate(line)
			}
			return truncate(luaLocation.ReplaceAllString(line, ""))
		}
	}

	return truncate(luaLocation.ReplaceAllString(strings.TrimSpace(lines[0]), ""))
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxKeyErrorLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxKeyErrorLength-3]) + "..."
}
