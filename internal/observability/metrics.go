package observability

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mud"

// Metrics holds the message-layer counters. It satisfies the recorder
// interfaces of the packet codec and the broadcast dispatcher.
type Metrics struct {
	broadcasts     *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	sendFailures   *prometheus.CounterVec
	decodeFailures *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them on reg.
//
// Precondition: reg must be non-nil and must not already hold these collectors.
// Postcondition: Returns registered Metrics or a non-nil error.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Broadcast calls that reached delivery, by receiver policy.",
		}, []string{"policy"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Payloads handed to a session send primitive without error.",
		}, []string{"policy"}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Per-recipient send failures swallowed by the dispatcher.",
		}, []string{"policy"}),
		decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Inbound lines dropped because they could not be decoded.",
		}, []string{"reason"}),
	}

	for _, c := range []prometheus.Collector{m.broadcasts, m.deliveries, m.sendFailures, m.decodeFailures} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering metric: %w", err)
		}
	}
	return m, nil
}

// Broadcast counts one broadcast for policy.
func (m *Metrics) Broadcast(policy string) { m.broadcasts.WithLabelValues(policy).Inc() }

// Delivered counts one successful send for policy.
func (m *Metrics) Delivered(policy string) { m.deliveries.WithLabelValues(policy).Inc() }

// SendFailed counts one failed send for policy.
func (m *Metrics) SendFailed(policy string) { m.sendFailures.WithLabelValues(policy).Inc() }

// DecodeFailed counts one dropped inbound line.
func (m *Metrics) DecodeFailed(reason string) { m.decodeFailures.WithLabelValues(reason).Inc() }

// RegisterSessionGauge exposes the live session count as a gauge sampled at scrape time.
//
// Precondition: count must be safe for concurrent use.
func RegisterSessionGauge(reg prometheus.Registerer, count func() int) error {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_registered",
		Help:      "Sessions currently present in the session registry.",
	}, func() float64 { return float64(count()) })
	if err := reg.Register(g); err != nil {
		return fmt.Errorf("registering session gauge: %w", err)
	}
	return nil
}

// RegisterPoolGauges exposes database pool occupancy. stats returns the
// total, idle, and acquired connection counts and is sampled at scrape time.
func RegisterPoolGauges(reg prometheus.Registerer, stats func() (total, idle, acquired int32)) error {
	gauges := map[string]func() float64{
		"db_conns_total":    func() float64 { t, _, _ := stats(); return float64(t) },
		"db_conns_idle":     func() float64 { _, i, _ := stats(); return float64(i) },
		"db_conns_acquired": func() float64 { _, _, a := stats(); return float64(a) },
	}
	for name, fn := range gauges {
		g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      "Database pool connections (" + strings.TrimPrefix(name, "db_conns_") + ").",
		}, fn)
		if err := reg.Register(g); err != nil {
			return fmt.Errorf("registering %s: %w", name, err)
		}
	}
	return nil
}

// Handler returns the HTTP handler serving metrics gathered from g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// AdminHandler serves /metrics from g and /loglevel from level.
func AdminHandler(g prometheus.Gatherer, level http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	mux.Handle("/loglevel", level)
	return mux
}
