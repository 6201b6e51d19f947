package service

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"

	"github.com/nvim-test-runner/nvim-test-runner/reporting"
)

// LastRun is the healthz view of the most recent run
type LastRun struct {
	RunID      string    `json:"runId"`
	Success    bool      `json:"success"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	TimedOut   int       `json:"timedOut"`
	Summary    string    `json:"summary"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Status is the body served on /healthz
type Status struct {
	State   string   `json:"state"` // starting, passing or failing
	LastRun *LastRun `json:"lastRun,omitempty"`
}

// HealthzServer reports liveness together with the outcome of the last run.
type HealthzServer struct {
	log        log.Logger
	lastReport func() *reporting.RunReport
}

// NewHealthzServer creates a healthz handler. lastReport returns nil until the first run completes.
func NewHealthzServer(logger log.Logger, lastReport func() *reporting.RunReport) *HealthzServer {
	if lastReport == nil {
		lastReport = func() *reporting.RunReport { return nil }
	}
	return &HealthzServer{log: logger, lastReport: lastReport}
}

// Handler returns the healthz routes, open to any origin.
func (h *HealthzServer) Handler() http.Handler {
	hdlr := http.NewServeMux()
	hdlr.HandleFunc("/healthz", h.Handle)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	return c.Handler(hdlr)
}

func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	h.log.Debug("Received health check request", "path", r.URL.Path)

	status := Status{State: "starting"}
	if report := h.lastReport(); report != nil {
		status.State = "passing"
		if !report.Success() {
			status.State = "failing"
		}
		status.LastRun = &LastRun{
			RunID:      report.RunID,
			Success:    report.Success(),
			Passed:     report.PassedCount,
			Failed:     report.FailedCount,
			TimedOut:   report.TimedOutCount,
			Summary:    report.Summary(),
			FinishedAt: report.FinishedAt,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status) //nolint:errcheck
}
