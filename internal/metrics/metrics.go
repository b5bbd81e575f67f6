// Package metrics expose les compteurs Prometheus du moteur de commandes.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marketplace"

// Metrics regroupe les collecteurs. Toutes les méthodes acceptent un récepteur nil.
type Metrics struct {
	registry *prometheus.Registry

	ordersCreated      prometheus.Counter
	orderTransitions   *prometheus.CounterVec
	inventoryMutations *prometheus.CounterVec
	couponRejections   *prometheus.CounterVec
	webhookEvents      *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_created_total",
			Help: "Commandes créées.",
		}),
		orderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "order_transitions_total",
			Help: "Transitions de statut appliquées.",
		}, []string{"from", "to"}),
		inventoryMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "inventory_mutations_total",
			Help: "Mutations du ledger de stock.",
		}, []string{"op", "outcome"}),
		couponRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "coupon_rejections_total",
			Help: "Coupons refusés par motif.",
		}, []string{"reason"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "webhook_events_total",
			Help: "Événements passerelle reçus.",
		}, []string{"gateway", "type", "outcome"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "Durée des requêtes HTTP.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ordersCreated, m.orderTransitions, m.inventoryMutations,
		m.couponRejections, m.webhookEvents, m.httpDuration,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) OrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

func (m *Metrics) OrderTransition(from, to string) {
	if m == nil {
		return
	}
	m.orderTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) InventoryMutation(op, outcome string) {
	if m == nil {
		return
	}
	m.inventoryMutations.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) CouponRejected(reason string) {
	if m == nil {
		return
	}
	m.couponRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) WebhookEvent(gateway, eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(gateway, eventType, outcome).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
