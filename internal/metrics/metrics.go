package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the engine's Prometheus collectors. Everything is created
// through promauto against a caller-supplied registry so tests can use a
// fresh one.
type Metrics struct {
	MessagesTotal     *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
	ReadingsStored    prometheus.Counter
	AlertsRaised      *prometheus.CounterVec
	DevicesRegistered prometheus.Counter
	SweepOffline      prometheus.Counter
	SweepRuns         *prometheus.CounterVec
	Reconnects        prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MessagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aquamon_messages_total",
			Help: "Broker messages received, by kind.",
		}, []string{"kind"}),
		MessagesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aquamon_messages_dropped_total",
			Help: "Messages dropped before persistence, by reason.",
		}, []string{"reason"}),
		ReadingsStored: f.NewCounter(prometheus.CounterOpts{
			Name: "aquamon_readings_stored_total",
			Help: "Validated sensor readings written to the reading store.",
		}),
		AlertsRaised: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aquamon_alerts_raised_total",
			Help: "Alerts created or refreshed, by severity.",
		}, []string{"severity"}),
		DevicesRegistered: f.NewCounter(prometheus.CounterOpts{
			Name: "aquamon_devices_autoregistered_total",
			Help: "Devices auto-registered on first contact.",
		}),
		SweepOffline: f.NewCounter(prometheus.CounterOpts{
			Name: "aquamon_sweep_offline_total",
			Help: "Devices marked offline by the reconciliation sweep.",
		}),
		SweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aquamon_sweep_runs_total",
			Help: "Reconciliation sweep outcomes.",
		}, []string{"outcome"}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "aquamon_broker_reconnects_total",
			Help: "Successful broker reconnections after a connection loss.",
		}),
	}
}
