package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	e "nuclight.org/editwatch-tg-bot/pkg/entities"
)

// Metrics bundles Prometheus collectors of the bot. Methods are safe on a nil receiver.
type Metrics struct {
	registry      *prometheus.Registry
	updatesTotal  *prometheus.CounterVec
	editsTotal    *prometheus.CounterVec
	retiresTotal  *prometheus.CounterVec
	publishTotal  *prometheus.CounterVec
	evidenceLost  prometheus.Counter
	handlerPanics prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		updatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "editwatch",
			Name:      "updates_total",
			Help:      "Telegram updates received by kind",
		}, []string{"kind"}),
		editsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "editwatch",
			Name:      "edits_total",
			Help:      "Edit events by classification decision",
		}, []string{"decision"}),
		retiresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "editwatch",
			Name:      "retirements_total",
			Help:      "Attempts to delete edited messages by result",
		}, []string{"success"}),
		publishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "editwatch",
			Name:      "publish_total",
			Help:      "Evidence deliveries by tier and text mode",
		}, []string{"tier", "mode"}),
		evidenceLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "editwatch",
			Name:      "evidence_lost_total",
			Help:      "Edits whose evidence could not be delivered by any tier",
		}),
		handlerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "editwatch",
			Name:      "handler_panics_total",
			Help:      "Recovered panics while handling updates",
		}),
	}

	registry.MustRegister(
		m.updatesTotal,
		m.editsTotal,
		m.retiresTotal,
		m.publishTotal,
		m.evidenceLost,
		m.handlerPanics,
	)

	return m
}

// Handler returns an HTTP handler exposing the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncUpdate(kind string) {
	if m == nil {
		return
	}
	m.updatesTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveDecision(d e.Decision) {
	if m == nil {
		return
	}
	m.editsTotal.WithLabelValues(d.String()).Inc()
}

func (m *Metrics) ObserveRetirement(ok bool) {
	if m == nil {
		return
	}
	m.retiresTotal.WithLabelValues(strconv.FormatBool(ok)).Inc()
}

func (m *Metrics) ObservePublish(out e.PublishOutcome) {
	if m == nil {
		return
	}
	if out.Lost() {
		m.evidenceLost.Inc()
		return
	}
	m.publishTotal.WithLabelValues(out.Tier.String(), string(out.TextMode)).Inc()
}

func (m *Metrics) IncPanics() {
	if m == nil {
		return
	}
	m.handlerPanics.Inc()
}
