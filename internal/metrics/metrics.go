// Package metrics registers the Prometheus counters exposed by a debug
// session, grounded on the reference module's promauto-based recorder
// idiom rather than the client_golang query API (which needs an
// already-running external server and has no place in a self-contained
// CLI tool).
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shde/internal/logx"
)

var log = logx.NewLogger("metrics")

// PatchAttemptsTotal counts every append the Patch Tracker makes to its
// failed_patches and successful_patches ledgers, labeled by provenance
// and outcome status.
var PatchAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "shde_patch_attempts_total",
		Help: "Total patch attempts recorded by the tracker, by provenance and status.",
	},
	[]string{"provenance", "status"},
)

// OracleInvocationsTotal counts Patch Oracle Adapter calls by provider
// and whether the call yielded a diff.
var OracleInvocationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "shde_oracle_invocations_total",
		Help: "Total Patch Oracle Adapter invocations, by provider and result.",
	},
	[]string{"provider", "result"},
)

// SessionsTotal counts completed sessions by final state.
var SessionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "shde_sessions_total",
		Help: "Total debug sessions, by final state.",
	},
	[]string{"final_state"},
)

// Server optionally exposes the process's metrics on a debug listener,
// started with the CLI's --metrics-addr flag.
type Server struct {
	httpServer *http.Server
}

// StartServer begins serving /metrics on addr in the background. Call
// Stop to shut it down. A blank addr is a caller error.
func StartServer(addr string) (*Server, error) {
	if addr == "" {
		return nil, errors.New("metrics: empty listen address")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &Server{httpServer: &http.Server{Addr: addr, Handler: mux}}
	go func() {
		if err := srv.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server on %s stopped: %v", addr, err)
		}
	}()
	log.Info("metrics listening on %s", addr)
	return srv, nil
}

// Stop gracefully shuts the metrics server down.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
