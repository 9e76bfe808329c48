// Package metrics exposes prometheus collectors for the monitor.
// Every method is safe to call on a nil *Collector.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "solmon"

// Collector owns a private registry so several instances can coexist in tests.
type Collector struct {
	registry *prometheus.Registry

	balance         *prometheus.GaugeVec
	ingestState     prometheus.Gauge
	events          *prometheus.CounterVec
	reconnects      prometheus.Counter
	historyFailures *prometheus.CounterVec
	rpcRequests     *prometheus.CounterVec
	liveClients     prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.balance = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "wallet_balance_sol",
		Help:      "Wallet balance in SOL by kind (sol, wsol, total)",
	}, []string{"address", "name", "kind"})
	c.ingestState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ingest_state",
		Help:      "Ingestion state: 0 disconnected, 1 connecting, 2 subscribed, 3 streaming",
	})
	c.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_events_total",
		Help:      "Inbound balance events by source and result",
	}, []string{"source", "result"})
	c.reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_reconnects_total",
		Help:      "Hard restarts of the ingestion stream",
	})
	c.historyFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "history_failures_total",
		Help:      "Failed history log operations",
	}, []string{"op"})
	c.rpcRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rpc_requests_total",
		Help:      "Number of RPC requests by method and status",
	}, []string{"method", "status"})
	c.liveClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_clients",
		Help:      "Connected live update clients",
	})

	c.registry.MustRegister(
		c.balance, c.ingestState, c.events, c.reconnects,
		c.historyFailures, c.rpcRequests, c.liveClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Handler serves the registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveBalance records the current balances of one wallet.
func (c *Collector) ObserveBalance(address, name string, sol, wsol, total decimal.Decimal) {
	if c == nil {
		return
	}
	c.balance.WithLabelValues(address, name, "sol").Set(sol.InexactFloat64())
	c.balance.WithLabelValues(address, name, "wsol").Set(wsol.InexactFloat64())
	c.balance.WithLabelValues(address, name, "total").Set(total.InexactFloat64())
}

// ForgetWallet drops the gauges of a removed wallet.
func (c *Collector) ForgetWallet(address string) {
	if c == nil {
		return
	}
	c.balance.DeletePartialMatch(prometheus.Labels{"address": address})
}

// SetIngestState records the ingestion state machine position.
func (c *Collector) SetIngestState(state int) {
	if c == nil {
		return
	}
	c.ingestState.Set(float64(state))
}

// Event counts an inbound event outcome.
func (c *Collector) Event(source, result string) {
	if c == nil {
		return
	}
	c.events.WithLabelValues(source, result).Inc()
}

// Reconnect counts a hard restart.
func (c *Collector) Reconnect() {
	if c == nil {
		return
	}
	c.reconnects.Inc()
}

// HistoryFailure counts a failed history operation.
func (c *Collector) HistoryFailure(op string) {
	if c == nil {
		return
	}
	c.historyFailures.WithLabelValues(op).Inc()
}

// RPCRequest counts an RPC call.
func (c *Collector) RPCRequest(method string, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.rpcRequests.WithLabelValues(method, status).Inc()
}

// ClientConnected increments the live client gauge.
func (c *Collector) ClientConnected() {
	if c == nil {
		return
	}
	c.liveClients.Inc()
}

// ClientDisconnected decrements the live client gauge.
func (c *Collector) ClientDisconnected() {
	if c == nil {
		return
	}
	c.liveClients.Dec()
}
