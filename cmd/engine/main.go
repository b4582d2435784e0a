package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hydrosense/aquamon/internal/api"
	"github.com/hydrosense/aquamon/internal/config"
	"github.com/hydrosense/aquamon/internal/db"
	"github.com/hydrosense/aquamon/internal/logging"
	"github.com/hydrosense/aquamon/internal/metrics"
	"github.com/hydrosense/aquamon/internal/services/alerting"
	"github.com/hydrosense/aquamon/internal/services/ingest"
	"github.com/hydrosense/aquamon/internal/services/readings"
	"github.com/hydrosense/aquamon/internal/services/registry"
	"github.com/hydrosense/aquamon/internal/services/sweep"
	"github.com/hydrosense/aquamon/pkg/broker"
)

// noSettings is the interval source used without Postgres: always
// unreadable, so the timing cache serves its default.
type noSettings struct{}

func (noSettings) CheckIntervalMinutes(context.Context) (int, error) {
	return 0, errors.New("no settings store configured")
}

func main() {
	cfg := config.Load()
	log := logging.New(cfg.Log.Level, cfg.Log.File)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	met := metrics.New(prometheus.DefaultRegisterer)

	// ---- Stores ----
	var (
		regStore   registry.Store
		alertStore alerting.Store
		settings   config.IntervalSource = noSettings{}
		dbPing     func(ctx context.Context) error
	)
	if cfg.Postgres.DSN != "" {
		database, err := db.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			log.WithError(err).Fatal("database connection failed")
		}
		defer database.Close()
		if err := database.Migrate(ctx); err != nil {
			log.WithError(err).Fatal("database migration failed")
		}
		regStore = database
		alertStore = database
		settings = database
		dbPing = database.Ping
	} else {
		log.Warn("POSTGRES_DSN not set, using in-memory device and alert stores")
		regStore = registry.NewMemoryStore()
		alertStore = alerting.NewMemoryStore()
	}

	readingStore := readings.NewStore(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket,
		log.WithField("component", "readings"))
	defer readingStore.Close()

	// ---- Components ----
	reg := registry.New(regStore, log.WithField("component", "registry"))

	thresholds := alerting.DefaultThresholds()
	if cfg.ThresholdsPath != "" {
		loaded, err := alerting.LoadThresholds(cfg.ThresholdsPath)
		if err != nil {
			log.WithError(err).Fatal("failed to load thresholds")
		}
		thresholds = loaded
	}
	evaluator := alerting.NewEvaluator(alertStore, thresholds, log.WithField("component", "alerting"))

	svc := ingest.NewService(reg, readingStore, evaluator, nil,
		log.WithField("component", "ingest"), met)
	router := ingest.NewRouter(ctx, svc, log.WithField("component", "router"), met)

	// ---- Broker ----
	conn, err := broker.Dial(ctx, broker.Config{
		Host:     cfg.Broker.Host,
		Port:     cfg.Broker.Port,
		User:     cfg.Broker.User,
		Password: cfg.Broker.Password,
		ClientID: cfg.Broker.ClientID,
	}, log.WithField("component", "broker"), router.Subscriptions())
	if err != nil {
		log.WithError(err).Fatal("broker connection failed")
	}
	conn.SetReconnectHook(met.Reconnects.Inc)
	svc.SetPublisher(conn)

	// ---- Reconciliation sweep ----
	timing := config.NewTimingCache(settings, cfg.TimingCacheTTL, log.WithField("component", "timing"))
	sweeper := sweep.New(regStore, timing, log.WithField("component", "sweep"), met)
	go sweeper.Start(ctx)

	// ---- HTTP (collaborator API + health + metrics) ----
	handler := api.NewServer(reg, readingStore, evaluator, svc, api.Health{
		Broker:       conn,
		StoreHealthy: readingStore.Healthy,
		DBPing:       dbPing,
	}, prometheus.DefaultGatherer, log.WithField("component", "api"))

	hs := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.WithField("addr", hs.Addr).Info("HTTP listening")
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server error")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")

	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	_ = hs.Shutdown(shCtx)
	conn.Disconnect()
	time.Sleep(300 * time.Millisecond)
}
