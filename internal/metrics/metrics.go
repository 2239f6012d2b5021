// Package metrics defines the routing core's narrow Recorder collaborator
// interface and a Prometheus-backed default implementation. The core
// itself never imports Prometheus directly outside this package.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder is everything the routing core emits observability through.
// Tests substitute a no-op implementation; production wires Prometheus.
type Recorder interface {
	RoutingTableRecalculation(seconds float64)
	EdgeUpdate(accepted bool)
	EdgeActive(delta int)
	EdgeTotal(n int)
	PeerReachable(n int)
	MessageDropped(reason string)
	PeerBanned(reason string)
	Tier1ConnectAttempt(ok bool)
}

// Prometheus implements Recorder with the routing core's registered
// metric family.
type Prometheus struct {
	routingTableRecalc prometheus.Histogram
	edgeUpdates        *prometheus.CounterVec
	edgeActive         prometheus.Gauge
	edgeTotal          prometheus.Gauge
	peerReachable      prometheus.Gauge
	messagesDropped    *prometheus.CounterVec
	peersBanned        *prometheus.CounterVec
	tier1Connects      *prometheus.CounterVec
}

// NewPrometheus creates and registers the routing core's metric family on
// reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		routingTableRecalc: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "netcore",
			Name:      "routing_table_recalculation_seconds",
			Help:      "Duration of each routing graph update.",
			Buckets:   prometheus.DefBuckets,
		}),
		edgeUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netcore",
			Name:      "edge_updates_total",
			Help:      "Incoming edges processed, labeled by acceptance.",
		}, []string{"accepted"}),
		edgeActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "netcore",
			Name:      "edge_active",
			Help:      "Active edges currently in the graph.",
		}),
		edgeTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "netcore",
			Name:      "edge_total",
			Help:      "Total edges (active and removed) currently stored.",
		}),
		peerReachable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "netcore",
			Name:      "peer_reachable",
			Help:      "Peers currently reachable in the routing graph.",
		}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netcore",
			Name:      "messages_dropped_total",
			Help:      "Messages dropped, labeled by reason.",
		}, []string{"reason"}),
		peersBanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netcore",
			Name:      "peers_banned_total",
			Help:      "Peers banned, labeled by reason.",
		}, []string{"reason"}),
		tier1Connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netcore",
			Name:      "tier1_connect_attempts_total",
			Help:      "TIER1 proxy connect attempts, labeled by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		p.routingTableRecalc, p.edgeUpdates, p.edgeActive, p.edgeTotal,
		p.peerReachable, p.messagesDropped, p.peersBanned, p.tier1Connects,
	)
	return p
}

func (p *Prometheus) RoutingTableRecalculation(seconds float64) { p.routingTableRecalc.Observe(seconds) }

func (p *Prometheus) EdgeUpdate(accepted bool) {
	label := "false"
	if accepted {
		label = "true"
	}
	p.edgeUpdates.WithLabelValues(label).Inc()
}

func (p *Prometheus) EdgeActive(delta int) { p.edgeActive.Set(float64(delta)) }
func (p *Prometheus) EdgeTotal(n int)      { p.edgeTotal.Set(float64(n)) }
func (p *Prometheus) PeerReachable(n int)  { p.peerReachable.Set(float64(n)) }

func (p *Prometheus) MessageDropped(reason string) { p.messagesDropped.WithLabelValues(reason).Inc() }
func (p *Prometheus) PeerBanned(reason string)      { p.peersBanned.WithLabelValues(reason).Inc() }

func (p *Prometheus) Tier1ConnectAttempt(ok bool) {
	label := "failure"
	if ok {
		label = "success"
	}
	p.tier1Connects.WithLabelValues(label).Inc()
}

// Noop discards every observation; used by tests and callers that do not
// want a Prometheus registry.
type Noop struct{}

func (Noop) RoutingTableRecalculation(float64)  {}
func (Noop) EdgeUpdate(bool)                    {}
func (Noop) EdgeActive(int)                     {}
func (Noop) EdgeTotal(int)                      {}
func (Noop) PeerReachable(int)                  {}
func (Noop) MessageDropped(string)              {}
func (Noop) PeerBanned(string)                  {}
func (Noop) Tier1ConnectAttempt(bool)           {}
