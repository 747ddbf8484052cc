package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// The quantities the JSON-RPC stats surface (server/admin) reports are
// exported a second way here, as Prometheus collectors, per spec §6.4's
// "both a JSON-RPC stats surface and a /metrics endpoint".
var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "waypoint",
		Name:      "active_connections",
		Help:      "Number of proxy connections currently being served.",
	})

	CacheResult = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "waypoint",
		Name:      "cache_result_total",
		Help:      "Transactions by the cache FSM state they ended in.",
	}, []string{"result"})

	BlindTunnels = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "waypoint",
		Name:      "blind_tunnels_total",
		Help:      "Connections that degraded to a raw byte pipe.",
	})

	ChecksumMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "waypoint",
		Name:      "checksum_mismatches_total",
		Help:      "Cached objects discarded after failing the origin compare.",
	})

	ServerTalksFirst = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "waypoint",
		Name:      "server_talks_first_total",
		Help:      "Origin bytes observed before any request headers were sent.",
	})
)
