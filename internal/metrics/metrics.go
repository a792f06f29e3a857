package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Hara602/installMonitor/pkg/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline counters
type Metrics struct {
	EventsEmitted    *prometheus.CounterVec
	LogWriteFailures prometheus.Counter
	AdapterRestarts  *prometheus.CounterVec
}

// New creates and registers all metrics on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "installmonitor_events_emitted_total",
			Help: "Events written by the sink, by kind and detection origin",
		}, []string{"kind", "origin"}),
		LogWriteFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "installmonitor_log_write_failures_total",
			Help: "Event lines that could not be appended to the log file",
		}),
		AdapterRestarts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "installmonitor_adapter_retries_total",
			Help: "Adapter initialisation retries",
		}, []string{"adapter"}),
	}
}

// ObserveEmitted counts one event written by the sink
func (m *Metrics) ObserveEmitted(e event.Event) {
	if m == nil {
		return
	}
	m.EventsEmitted.WithLabelValues(e.Kind.String(), e.Origin.String()).Inc()
}

// IncLogWriteFailure counts one failed append
func (m *Metrics) IncLogWriteFailure() {
	if m == nil {
		return
	}
	m.LogWriteFailures.Inc()
}

// IncAdapterRetry counts one retry of an adapter's initialisation
func (m *Metrics) IncAdapterRetry(adapter string) {
	if m == nil {
		return
	}
	m.AdapterRestarts.WithLabelValues(adapter).Inc()
}

// RegisterLedgerSize exposes the tracked-file count as a gauge
func RegisterLedgerSize(reg prometheus.Registerer, size func() int) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "installmonitor_tracked_files",
		Help: "Files currently held in the tracked-file ledger",
	}, func() float64 { return float64(size()) })
}

// Serve exposes g on addr/metrics until ctx is done
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
