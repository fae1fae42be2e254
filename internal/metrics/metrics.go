// Package metrics exposes Prometheus collectors for the bridge pool, bridge
// links, the mix router and the spatial mixer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voicebridge"

type Metrics struct {
	BridgesConnected prometheus.Gauge
	Calls            prometheus.Gauge
	BridgeOffline    prometheus.Counter
	BridgeCommands   *prometheus.CounterVec
	WatchdogFired    prometheus.Counter
	MixCommands      *prometheus.CounterVec
	MixCoalesced     prometheus.Counter
	Relays           prometheus.Gauge
	RelayTeardowns   prometheus.Counter
	RangeTransitions *prometheus.CounterVec
	RecoveredCalls   prometheus.Counter
}

// New registers all collectors on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		BridgesConnected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "bridges_connected",
			Help:      "Number of bridge links currently in the pool.",
		}),
		Calls: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "calls",
			Help:      "Number of calls with a bridge assignment, relay legs included.",
		}),
		BridgeOffline: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "bridge_offline_total",
			Help:      "Bridges removed from the pool after a failure.",
		}),
		BridgeCommands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "commands_total",
			Help:      "Request/response commands sent to bridges by result.",
		}, []string{"result"}),
		WatchdogFired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "watchdog_fired_total",
			Help:      "Requests aborted because the bridge did not answer in time.",
		}),
		MixCommands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "mix_commands_total",
			Help:      "Private mix commands written to bridges by path.",
		}, []string{"path"}),
		MixCoalesced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "mix_coalesced_total",
			Help:      "Mix updates replaced by a newer value before flush.",
		}),
		Relays: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "relays",
			Help:      "Cross-bridge relay pairs currently registered.",
		}),
		RelayTeardowns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "relay_teardowns_total",
			Help:      "Relay pairs ended by the reaper.",
		}),
		RangeTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "spatial",
			Name:      "range_events_total",
			Help:      "Listener/speaker pairs entering or leaving range.",
		}, []string{"kind"}),
		RecoveredCalls: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "recovered_calls_total",
			Help:      "Calls handled by the recovery loop after a bridge went offline.",
		}),
	}
}

// NewNop returns collectors registered on a throwaway registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
