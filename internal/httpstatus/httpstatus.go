// Package httpstatus is the optional HTTP status surface for a running
// campaign (spec.md §7's status line, re-expressed as a small web
// endpoint instead of the interactive TUI, an explicit non-goal): a JSON
// snapshot of phase/coverage/counters plus a Prometheus /metrics
// endpoint, grounded on pkg/manager/http.go's route-registration idiom.
package httpstatus

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rosa-project/rosa/internal/campaignstats"
	"github.com/rosa-project/rosa/internal/rosaerr"
	"github.com/rosa-project/rosa/internal/rosalog"
	"github.com/rosa-project/rosa/pkg/finding"
)

// Server serves the status JSON and Prometheus endpoints for one campaign.
type Server struct {
	Addr   string
	Layout finding.Layout
	Stats  *campaignstats.CampaignStats

	mux *http.ServeMux
}

// New builds a Server bound to addr (host:port, e.g. ":6060"), reading its
// status from layout and its metrics from stats.
func New(addr string, layout finding.Layout, stats *campaignstats.CampaignStats) *Server {
	s := &Server{Addr: addr, Layout: layout, Stats: stats, mux: http.NewServeMux()}

	handle := func(pattern string, handler http.HandlerFunc) {
		s.mux.Handle(pattern, handlers.CompressHandler(handler))
	}
	handle("/", s.httpStatus)
	handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}).ServeHTTP)

	return s
}

// ListenAndServe blocks, serving the status surface until the process
// exits or the listener fails. Access logging uses gorilla/handlers'
// combined (Apache-style) log format, the same library the route handlers
// above use for response compression.
func (s *Server) ListenAndServe() error {
	server := &http.Server{
		Addr:    s.Addr,
		Handler: handlers.CombinedLoggingHandler(os.Stdout, s.mux),
	}
	rosalog.Logf(0, "status server listening on %s", s.Addr)
	return server.ListenAndServe()
}

// statusResponse is the JSON body served at "/".
type statusResponse struct {
	Phase           string                   `json:"phase"`
	EdgeCoverage    float64                  `json:"edge_coverage"`
	SyscallCoverage float64                  `json:"syscall_coverage"`
	Metrics         []campaignstats.Snapshot `json:"metrics"`
}

func (s *Server) httpStatus(w http.ResponseWriter, r *http.Request) {
	phase, err := s.Layout.GetPhase()
	if err != nil {
		httpError(w, rosaerr.Wrap(rosaerr.KindIO, err, "could not read campaign phase"))
		return
	}
	edgeCoverage, syscallCoverage, err := s.Layout.GetCoverage()
	if err != nil {
		httpError(w, rosaerr.Wrap(rosaerr.KindIO, err, "could not read campaign coverage"))
		return
	}

	resp := statusResponse{
		Phase:           string(phase),
		EdgeCoverage:    edgeCoverage,
		SyscallCoverage: syscallCoverage,
		Metrics:         s.Stats.Registry.Collect(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		rosalog.Logf(0, "could not encode status response: %v", err)
	}
}

func httpError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
