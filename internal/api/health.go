package api

import (
	"context"
	"net/http"

	"github.com/hydrosense/aquamon/pkg/broker"
)

// Health gathers the liveness probes of the engine's dependencies.
type Health struct {
	Broker       *broker.Conn
	StoreHealthy func(ctx context.Context) bool  // reading store
	DBPing       func(ctx context.Context) error // nil when running without Postgres
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	type status struct {
		Status      string `json:"status"`
		BrokerState string `json:"broker_state"`
		StoreOK     bool   `json:"store_ok"`
		DatabaseOK  bool   `json:"database_ok"`
	}
	st := status{
		BrokerState: s.health.Broker.State().String(),
		StoreOK:     s.health.StoreHealthy == nil || s.health.StoreHealthy(r.Context()),
		DatabaseOK:  s.health.DBPing == nil || s.health.DBPing(r.Context()) == nil,
	}
	switch {
	case s.health.Broker.Connected() && st.StoreOK && st.DatabaseOK:
		st.Status = "ok"
	case s.health.Broker.Connected() || st.StoreOK || st.DatabaseOK:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ready := s.health.Broker.Connected() &&
		(s.health.DBPing == nil || s.health.DBPing(r.Context()) == nil)
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]bool{"ready": ready})
}
