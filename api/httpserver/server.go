// Package httpserver serves the operational endpoints: prometheus
// metrics and a liveness probe.
package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Health reports the ledger's committed sequence.
type Health interface {
	Committed() uint64
}

type Server struct {
	srv *http.Server
	log *logrus.Entry
}

func NewRouter(reg *prometheus.Registry, h Health) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":        "ok",
			"committed_seq": h.Committed(),
		})
	}).Methods(http.MethodGet)
	return r
}

func New(addr string, handler http.Handler, log *logrus.Entry) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log.WithField("component", "ops-http"),
	}
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.srv.Addr).Info("listening")
		errc <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "ops server exited")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
