package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nvim-test-runner/nvim-test-runner/types"
)

const (
	MetricsNamespace = "nvim_test_runner"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	testsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "tests_total",
		Help:      "Count of executed test files by outcome",
	}, []string{
		"status",
	})

	testDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "test_duration_seconds",
		Help:      "Wall clock duration of test file executions",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{
		"status",
	})

	dependencyResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "dependency_resolutions_total",
		Help:      "Count of dependency resolutions by kind and outcome",
	}, []string{
		"kind",
		"outcome",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runs_total",
		Help:      "Count of completed runs",
	}, []string{
		"result",
	})

	lastRunTests = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "last_run_tests",
		Help:      "Number of test files per outcome in the last run",
	}, []string{
		"status",
	})

	lastRunDuration = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "last_run_duration_seconds",
		Help:      "Wall clock duration of the last run",
	})

	lastRunSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "last_run_success",
		Help:      "1 if every test file of the last run passed, 0 otherwise",
	})
)

// Collectors returns every collector of this package, for registries other than the default one.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		errorsTotal,
		testsTotal,
		testDuration,
		dependencyResolutionsTotal,
		runsTotal,
		lastRunTests,
		lastRunDuration,
		lastRunSuccess,
	}
}

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordTestResult(status types.TestStatus, duration time.Duration) {
	if !isValidStatus(status) {
		log.Error("RecordTestResult - invalid status", "status", status)
		return
	}
	testsTotal.WithLabelValues(string(status)).Inc()
	testDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

func RecordDependencyResolution(kind string, outcome string) {
	if Debug {
		log.Debug("metric inc",
			"m", "dependency_resolutions_total",
			"kind", kind,
			"outcome", outcome)
	}
	dependencyResolutionsTotal.WithLabelValues(kind, outcome).Inc()
}

func RecordRun(
	runID string,
	passed int,
	failed int,
	timedOut int,
	duration time.Duration,
) {
	success := failed == 0 && timedOut == 0
	result := "pass"
	if !success {
		result = "fail"
	}
	if Debug {
		log.Debug("metric set",
			"m", "last_run",
			"run_id", runID,
			"result", result,
			"passed", passed,
			"failed", failed,
			"timed_out", timedOut)
	}
	runsTotal.WithLabelValues(result).Inc()
	lastRunTests.WithLabelValues(string(types.TestStatusPassed)).Set(float64(passed))
	lastRunTests.WithLabelValues(string(types.TestStatusFailed)).Set(float64(failed))
	lastRunTests.WithLabelValues(string(types.TestStatusTimedOut)).Set(float64(timedOut))
	lastRunDuration.Set(duration.Seconds())
	if success {
		lastRunSuccess.Set(1)
	} else {
		lastRunSuccess.Set(0)
	}
}

func isValidStatus(status types.TestStatus) bool {
	return slices.Contains(types.AllStatuses, status)
}
