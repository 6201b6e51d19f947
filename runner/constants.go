package runner

import "time"

// Test execution constants
const (
	// DefaultTestTimeout is the default timeout for individual test files
	DefaultTestTimeout = 30 * time.Second

	// DefaultHostBinary is the host application launched for every test file
	DefaultHostBinary = "nvim"

	// MaxReasonableConcurrency is the worker count above which a warning is logged
	MaxReasonableConcurrency = 32

	// killGracePeriod bounds how long Wait blocks on pipes after the process group is killed
	killGracePeriod = 2 * time.Second
)
