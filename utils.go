package testrunner

import (
	"github.com/nvim-test-runner/nvim-test-runner/types"
)

// Helper function to convert bool to int
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// getResultString returns a marker and label for a test status
func getResultString(status types.TestStatus) string {
	switch status {
	case types.TestStatusPassed:
		return "✓ pass"
	case types.TestStatusTimedOut:
		return "⏱ timeout"
	default:
		return "✗ fail"
	}
}
