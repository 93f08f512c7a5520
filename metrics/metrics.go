package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	QueuePending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "backfill_queue_pending",
		Help: "Channels waiting in the backfill queue",
	})
	QueueRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "backfill_queue_running",
		Help: "Channels whose backfill step is executing",
	})
	BackfillIdle = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "backfill_idle",
		Help: "1 when no backfill work is outstanding",
	})
	PagesFetched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backfill_pages_total",
		Help: "History pages fetched, by phase",
	}, []string{"phase"})
	StepStops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backfill_stops_total",
		Help: "Channels leaving the backfill queue, by reason",
	}, []string{"reason"})
	MessagesIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_messages_total",
		Help: "Messages passed through the ingest path, by source",
	}, []string{"source"})
	UsagesRecorded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_usages_total",
		Help: "Emote usage rows written (including ignored duplicates)",
	})
	IngestErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_errors_total",
		Help: "Failed ingest attempts",
	})
	Reconciliations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_total",
		Help: "Message edit reconciliations, by outcome",
	}, []string{"outcome"})
)

// MustRegister registers all collectors.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		QueuePending,
		QueueRunning,
		BackfillIdle,
		PagesFetched,
		StepStops,
		MessagesIngested,
		UsagesRecorded,
		IngestErrors,
		Reconciliations,
	)
}

// StartServer serves /metrics on addr until ctx is cancelled.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}
