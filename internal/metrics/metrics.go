package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aap"

var PanelConnected = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "panel",
	Name:      "connected",
	Help:      "1 while a session to the panel is connected.",
})

var SystemReady = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "system",
	Name:      "ready",
	Help:      "Last reported system ready flag.",
})

var ZoneActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "zone",
	Name:      "active",
	Help:      "Last known zone state, 1 when open or triggered.",
}, []string{"zone"})

var LinesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "panel",
	Name:      "lines_total",
	Help:      "Lines received from the panel by decoded kind.",
}, []string{"kind"})

var SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "panel",
	Name:      "sessions_total",
	Help:      "Finished panel sessions by result.",
}, []string{"result"})

var ReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "panel",
	Name:      "reconnects_total",
	Help:      "Reconnection attempts made after a session ended.",
})

var CommandsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "panel",
	Name:      "commands_total",
	Help:      "Output commands written to the panel.",
})

var CommandErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "panel",
	Name:      "command_errors_total",
	Help:      "Output commands that could not be written.",
})

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func BoolAs(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
