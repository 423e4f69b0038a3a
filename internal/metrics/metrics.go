package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/l1jgo/worldcore/internal/core/system"
)

// Metrics holds the Prometheus collectors of the world core. It observes
// transactions and save/load passes.
type Metrics struct {
	reg    *prometheus.Registry
	gather prometheus.Gatherer

	commits  prometheus.Counter
	attempts prometheus.Histogram
	retries  prometheus.Counter
	aborts   *prometheus.CounterVec

	entities prometheus.Gauge
	accounts prometheus.Gauge

	saveDuration prometheus.Histogram
	saveErrors   prometheus.Counter
	savedEnts    prometheus.Gauge
	loadDuration prometheus.Gauge
	loadedEnts   prometheus.Counter
}

// New builds the collectors on a private registry, alongside the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg:    reg,
		gather: reg,
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "worldcore_tx_commits_total",
			Help: "Committed transactions.",
		}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "worldcore_tx_attempts",
			Help:    "Attempts needed per committed transaction.",
			Buckets: []float64{1, 2, 3, 5, 10, 50},
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "worldcore_tx_retries_total",
			Help: "Transaction bodies rerun after a conflict.",
		}),
		aborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worldcore_tx_aborts_total",
			Help: "Transactions that ended without committing, by reason.",
		}, []string{"reason"}),
		entities: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "worldcore_entities",
			Help: "Live entities in the registry.",
		}),
		accounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "worldcore_accounts",
			Help: "Known accounts.",
		}),
		saveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "worldcore_save_duration_seconds",
			Help:    "Wall time of full world saves.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		saveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "worldcore_save_errors_total",
			Help: "World saves that failed.",
		}),
		savedEnts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "worldcore_saved_entities",
			Help: "Entities written by the last successful save.",
		}),
		loadDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "worldcore_load_duration_seconds",
			Help: "Wall time of the last world load.",
		}),
		loadedEnts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "worldcore_load_entities_total",
			Help: "Entities restored from save files.",
		}),
	}
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.commits, m.attempts, m.retries, m.aborts,
		m.entities, m.accounts,
		m.saveDuration, m.saveErrors, m.savedEnts, m.loadDuration, m.loadedEnts,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Committed, Retried and Aborted observe the transaction manager.
func (m *Metrics) Committed(_ uint64, attempts int) {
	m.commits.Inc()
	m.attempts.Observe(float64(attempts))
}

func (m *Metrics) Retried(uint64) { m.retries.Inc() }

func (m *Metrics) Aborted(reason string) { m.aborts.WithLabelValues(reason).Inc() }

func (m *Metrics) ObserveSave(d time.Duration, entities int, err error) {
	if err != nil {
		m.saveErrors.Inc()
		return
	}
	m.saveDuration.Observe(d.Seconds())
	m.savedEnts.Set(float64(entities))
}

func (m *Metrics) ObserveLoad(d time.Duration, entities int) {
	m.loadDuration.Set(d.Seconds())
	m.loadedEnts.Add(float64(entities))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gather, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()
	log.Info("metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Counter reports population sizes for the gauges.
type Counter interface {
	Counts(ctx context.Context) (entities, accounts int, err error)
}

// GaugeSystem refreshes the population gauges every N ticks.
type GaugeSystem struct {
	m        *Metrics
	src      Counter
	log      *zap.Logger
	interval int
	ticks    int
}

func NewGaugeSystem(m *Metrics, src Counter, log *zap.Logger, intervalTicks int) *GaugeSystem {
	if intervalTicks < 1 {
		intervalTicks = 1
	}
	return &GaugeSystem{m: m, src: src, log: log, interval: intervalTicks}
}

func (s *GaugeSystem) Phase() system.Phase { return system.PhasePostUpdate }

func (s *GaugeSystem) Update(_ time.Duration) {
	s.ticks++
	if s.ticks < s.interval {
		return
	}
	s.ticks = 0
	ents, accs, err := s.src.Counts(context.Background())
	if err != nil {
		s.log.Warn("population gauges not refreshed", zap.Error(err))
		return
	}
	s.m.entities.Set(float64(ents))
	s.m.accounts.Set(float64(accs))
}
