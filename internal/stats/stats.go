package stats

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Metric names shared by the components that report them.
const (
	ActiveSubscribers    = "ActiveSubscribers"
	SubscribersDropped   = "SubscribersDropped"
	MessagesPublished    = "MessagesPublished"
	WebhooksReceived     = "WebhooksReceived"
	RegistrationFailures = "RegistrationFailures"
	SessionsCreated      = "SessionsCreated"
)

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
}

// StatsUpdater exposes named gauges on a private prometheus registry.
type StatsUpdater struct {
	registry *prometheus.Registry
	mu       sync.Mutex
	gauges   map[string]prometheus.Gauge
}

// NewStatsUpdater creates a stats updater and mounts its scrape endpoint on mux.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	su := &StatsUpdater{
		registry: reg,
		gauges:   make(map[string]prometheus.Gauge),
	}
	su.initializeMetrics()

	if mux != nil {
		mux.Handle("GET /metrics", su.Handler())
	}

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_milliseconds",
		Help:      "Milliseconds since the process started.",
	}, func() float64 {
		return float64(time.Since(startTime).Milliseconds())
	}))
}

func (su *StatsUpdater) Handler() http.Handler {
	return promhttp.HandlerFor(su.registry, promhttp.HandlerOpts{})
}

func (su *StatsUpdater) gauge(name string) prometheus.Gauge {
	su.mu.Lock()
	defer su.mu.Unlock()

	if g, ok := su.gauges[name]; ok {
		return g
	}

	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      metricName(name),
		Help:      name,
	})
	su.registry.MustRegister(g)
	su.gauges[name] = g
	return g
}

func (su *StatsUpdater) Incr(name string) {
	su.gauge(name).Inc()
}

func (su *StatsUpdater) Decr(name string) {
	su.gauge(name).Dec()
}

// RegisterMetric creates the named gauge up front so it is scraped as zero
// before its first update.
func (su *StatsUpdater) RegisterMetric(name string) {
	su.gauge(name)
}

// metricName converts CamelCase names into prometheus snake_case.
func metricName(name string) string {
	var sb strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				sb.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
