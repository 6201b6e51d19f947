// Package exitcodes defines the exit codes used by nvim-test-runner.
package exitcodes

// * Success (0): every discovered test file passed, or none were found
// * TestFailure (1): at least one test file failed or timed out
// * RuntimeErr (2): the tests could not run, e.g. a bad manifest or an unresolvable dependency
const (
	Success     = 0 // All tests pass
	TestFailure = 1 // Test failures
	RuntimeErr  = 2 // Configuration, dependency or I/O errors
)
